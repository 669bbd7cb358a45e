// Package exec validates command specs before internal/sandbox ever spawns
// them: executable names/paths and individual arguments, rejecting anything
// that smells like shell injection or option injection. internal/mcp reuses
// these checks for stdio server commands, so the rules live here rather than
// duplicated per caller.
package exec

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ShellMetachars matches characters that would let a value break out of
	// an argv slot if it ever passed through a shell.
	ShellMetachars = regexp.MustCompile(`[;&|` + "`" + `$<>]`)

	// ControlChars matches newlines and carriage returns.
	ControlChars = regexp.MustCompile(`[\r\n]`)

	// QuoteChars matches quote characters, which have no legitimate reason
	// to appear in an executable name or path.
	QuoteChars = regexp.MustCompile(`["']`)

	// BareNamePattern matches a safe bare executable name with no path
	// separators.
	BareNamePattern = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)

	// WindowsDriveLetter matches a Windows drive-letter path prefix (C:\).
	WindowsDriveLetter = regexp.MustCompile(`^[A-Za-z]:[\\/]`)
)

var (
	ErrEmptyValue           = errors.New("executable value is empty")
	ErrNullByte             = errors.New("executable value contains a null byte")
	ErrControlChar          = errors.New("executable value contains control characters")
	ErrShellMetachar        = errors.New("executable value contains shell metacharacters")
	ErrQuoteChar            = errors.New("executable value contains quote characters")
	ErrOptionInjection      = errors.New("executable value starts with a dash (option injection)")
	ErrInvalidBareNameChars = errors.New("executable value has characters invalid for a bare name")
)

// IsLikelyPath reports whether value looks like a filesystem path (starts
// with . ~ / \, or a Windows drive letter) rather than a bare executable
// name.
func IsLikelyPath(value string) bool {
	if value == "" {
		return false
	}
	if strings.HasPrefix(value, ".") || strings.HasPrefix(value, "~") {
		return true
	}
	if strings.Contains(value, "/") || strings.Contains(value, "\\") {
		return true
	}
	return WindowsDriveLetter.MatchString(value)
}

// classifyExecutableValue runs the shared validation rules for an executable
// name or path and returns the first violation found, or nil if value (after
// trimming) is safe. Both IsSafeExecutableValue and SanitizeExecutableValue
// are built on this so the rule set can't drift between the two.
func classifyExecutableValue(trimmed string) error {
	if trimmed == "" {
		return ErrEmptyValue
	}
	if strings.Contains(trimmed, "\x00") {
		return ErrNullByte
	}
	if ControlChars.MatchString(trimmed) {
		return ErrControlChar
	}
	if ShellMetachars.MatchString(trimmed) {
		return ErrShellMetachar
	}
	if QuoteChars.MatchString(trimmed) {
		return ErrQuoteChar
	}
	if IsLikelyPath(trimmed) {
		return nil
	}
	if strings.HasPrefix(trimmed, "-") {
		return ErrOptionInjection
	}
	if !BareNamePattern.MatchString(trimmed) {
		return ErrInvalidBareNameChars
	}
	return nil
}

// IsSafeExecutableValue reports whether value is safe to use as an
// executable name or path: no null bytes, control characters, shell
// metacharacters, or quotes; paths (values starting with . ~ / \ or a drive
// letter) are allowed once those checks pass, bare names must additionally
// match BareNamePattern and not start with a dash.
func IsSafeExecutableValue(value string) bool {
	trimmed := strings.TrimSpace(value)
	return classifyExecutableValue(trimmed) == nil
}

// SanitizeExecutableValue validates value the same way IsSafeExecutableValue
// does and, if safe, returns it trimmed. Otherwise it returns the specific
// error describing what about value was unsafe.
func SanitizeExecutableValue(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if err := classifyExecutableValue(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
