package config

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestDumpRoundTripsAsYAML(t *testing.T) {
	cfg := Default()
	cfg.Model = "gpt-5-codex"
	cfg.Tracing.Endpoint = "localhost:4317"

	out, err := Dump(cfg)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}

	var decoded Config
	if err := yaml.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("Dump output is not valid YAML: %v", err)
	}
	if decoded.Model != cfg.Model {
		t.Fatalf("model = %q, want %q", decoded.Model, cfg.Model)
	}
	if decoded.Tracing.Endpoint != cfg.Tracing.Endpoint {
		t.Fatalf("tracing.endpoint = %q, want %q", decoded.Tracing.Endpoint, cfg.Tracing.Endpoint)
	}
}

func TestDumpOmitsEmptyMaps(t *testing.T) {
	out, err := Dump(Default())
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if strings.Contains(out, "mcpServers") {
		t.Errorf("expected empty mcpServers map to be omitted, got:\n%s", out)
	}
}
