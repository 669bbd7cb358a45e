// Package testharness provides golden-file snapshot assertions for text
// and JSON output — the fixed-output comparisons cmd/agentcore's
// rollout-listing tests lean on instead of hand-written expected strings.
package testharness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// UpdateGolden rewrites golden files instead of comparing against them
// when true. Set via the UPDATE_GOLDEN=1 environment variable, checked at
// package init and again by InitGoldenFlag for tests that flip it back
// and forth mid-run.
var UpdateGolden = os.Getenv("UPDATE_GOLDEN") == "1"

// Golden compares a test's actual output against a fixture file under
// testdata/golden/, one file per (test name, optional sub-name) pair.
type Golden struct {
	t    *testing.T
	dir  string
	name string
}

// NewGolden returns a Golden rooted at testdata/golden, named after t.
func NewGolden(t *testing.T) *Golden {
	t.Helper()
	return NewGoldenAt(t, filepath.Join("testdata", "golden"))
}

// NewGoldenAt returns a Golden rooted at an arbitrary directory, for
// suites that keep fixtures alongside a specific subpackage's testdata
// rather than the default location.
func NewGoldenAt(t *testing.T, dir string) *Golden {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("testharness: create golden dir %s: %v", dir, err)
	}
	return &Golden{t: t, dir: dir, name: sanitizeTestName(t.Name())}
}

// Assert compares actual against the test's golden file.
func (g *Golden) Assert(actual string) {
	g.t.Helper()
	g.assertNamed("", actual)
}

// AssertNamed compares actual against a golden file suffixed with name,
// for tests that make more than one golden assertion.
func (g *Golden) AssertNamed(name, actual string) {
	g.t.Helper()
	g.assertNamed(name, actual)
}

// AssertJSON pretty-prints actual as JSON and compares it against the
// test's golden file.
func (g *Golden) AssertJSON(actual any) {
	g.t.Helper()
	g.assertJSONNamed("", actual)
}

// AssertJSONNamed is AssertJSON with a named golden file.
func (g *Golden) AssertJSONNamed(name string, actual any) {
	g.t.Helper()
	g.assertJSONNamed(name, actual)
}

func (g *Golden) assertNamed(name, actual string) {
	g.t.Helper()
	path := g.goldenPath(name)

	if UpdateGolden {
		if err := os.WriteFile(path, []byte(actual), 0o644); err != nil {
			g.t.Fatalf("testharness: update golden file %s: %v", path, err)
		}
		g.t.Logf("updated golden file: %s", path)
		return
	}

	expected, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			g.t.Fatalf("golden file %s does not exist; rerun with UPDATE_GOLDEN=1 to create it.\n\nactual output:\n%s", path, actual)
		}
		g.t.Fatalf("testharness: read golden file %s: %v", path, err)
	}

	if string(expected) != actual {
		g.t.Errorf("golden mismatch in %s\n%s", path, diff(string(expected), actual))
	}
}

func (g *Golden) assertJSONNamed(name string, actual any) {
	g.t.Helper()
	pretty, err := json.MarshalIndent(actual, "", "  ")
	if err != nil {
		g.t.Fatalf("testharness: marshal golden JSON: %v", err)
	}
	g.assertNamed(name+".json", string(pretty))
}

func (g *Golden) goldenPath(name string) string {
	if name == "" {
		return filepath.Join(g.dir, g.name+".golden")
	}
	return filepath.Join(g.dir, g.name+"_"+name+".golden")
}

// sanitizeTestName maps a (possibly subtest-qualified) test name to a
// filesystem-safe fixture name: t.Name() for a subtest contains "/" and
// the input itself may carry spaces or colons from a table-test case
// name.
func sanitizeTestName(name string) string {
	replacer := strings.NewReplacer("/", "_", " ", "_", ":", "_")
	return replacer.Replace(name)
}

// diff renders expected and actual as a unified-looking line diff:
// matching lines pass through unmarked, mismatched lines are shown as a
// "-"/"+" pair. Returns "" when the two are identical.
func diff(expected, actual string) string {
	if expected == actual {
		return ""
	}

	expLines := strings.Split(expected, "\n")
	actLines := strings.Split(actual, "\n")

	n := len(expLines)
	if len(actLines) > n {
		n = len(actLines)
	}

	var b strings.Builder
	for i := 0; i < n; i++ {
		var exp, act string
		var hasExp, hasAct bool
		if i < len(expLines) {
			exp, hasExp = expLines[i], true
		}
		if i < len(actLines) {
			act, hasAct = actLines[i], true
		}
		switch {
		case exp == act:
			continue
		case hasExp && hasAct:
			fmt.Fprintf(&b, "  line %d:\n- %s\n+ %s\n", i+1, exp, act)
		case hasExp:
			fmt.Fprintf(&b, "  line %d:\n- %s\n+ <missing>\n", i+1, exp)
		default:
			fmt.Fprintf(&b, "  line %d:\n- <missing>\n+ %s\n", i+1, act)
		}
	}
	return b.String()
}

// InitGoldenFlag re-reads UPDATE_GOLDEN into UpdateGolden. Tests that
// toggle the env var mid-run (rather than relying on the package-init
// read) call this to pick up the change without a process restart.
func InitGoldenFlag() {
	UpdateGolden = os.Getenv("UPDATE_GOLDEN") == "1"
}
