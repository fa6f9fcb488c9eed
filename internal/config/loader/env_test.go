package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnvLoader_Load(t *testing.T) {
	t.Setenv("ASSETPIPE_PORT", "4000")
	t.Setenv("ASSETPIPE_LOG_LEVEL", "debug")
	t.Setenv("ASSETPIPE_STYLES_INDENT_WIDTH", "2")
	t.Setenv("OTHER_VAR", "ignored")

	config, err := NewEnvLoader("ASSETPIPE_").Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if val, ok := getByPath(config, "server.port"); !ok || val != int64(4000) {
		t.Errorf("server.port = %v (%T), want 4000", val, val)
	}
	if val, ok := getByPath(config, "logging.level"); !ok || val != "debug" {
		t.Errorf("logging.level = %v, want debug", val)
	}
	if val, ok := getByPath(config, "styles.indent_width"); !ok || val != int64(2) {
		t.Errorf("styles.indent_width = %v, want 2", val)
	}
	if _, ok := config["other"]; ok {
		t.Error("unprefixed variables should be ignored")
	}
}

func TestEnvLoader_envToPath(t *testing.T) {
	loader := NewEnvLoader("ASSETPIPE_")

	tests := []struct {
		env      string
		expected string
	}{
		{"ASSETPIPE_STYLES_INDENT_WIDTH", "styles.indent_width"},
		{"ASSETPIPE_SERVER_PORT", "server.port"},
		{"ASSETPIPE_SIMPLE", "simple"},
	}

	for _, tt := range tests {
		if got := loader.envToPath(tt.env); got != tt.expected {
			t.Errorf("envToPath(%q) = %q, want %q", tt.env, got, tt.expected)
		}
	}
}

func TestEnvLoader_parseValue(t *testing.T) {
	loader := NewEnvLoader("ASSETPIPE_")

	tests := []struct {
		input    string
		expected any
	}{
		{"", ""},
		{"true", true},
		{"on", true},
		{"No", false},
		{"1", int64(1)},
		{"0", int64(0)},
		{"3.5", 3.5},
		{"expanded", "expanded"},
	}

	for _, tt := range tests {
		if got := loader.parseValue(tt.input); got != tt.expected {
			t.Errorf("parseValue(%q) = %v (%T), want %v (%T)", tt.input, got, got, tt.expected, tt.expected)
		}
	}

	list, ok := loader.parseValue(`["chrome58","safari11"]`).([]any)
	if !ok || len(list) != 2 {
		t.Errorf("parseValue(JSON array) = %v", list)
	}
}

func TestDotEnvLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "ASSETPIPE_PORT=5000\nASSETPIPE_SCRIPTS_TARGET=es2017\nUNRELATED=1\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := NewDotEnvLoader(path, "ASSETPIPE_").Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if val, ok := getByPath(config, "server.port"); !ok || val != int64(5000) {
		t.Errorf("server.port = %v, want 5000", val)
	}
	if val, ok := getByPath(config, "scripts.target"); !ok || val != "es2017" {
		t.Errorf("scripts.target = %v, want es2017", val)
	}
	if _, ok := os.LookupEnv("ASSETPIPE_SCRIPTS_TARGET"); ok {
		t.Error(".env values must not be exported to the process environment")
	}
}

func TestDotEnvLoader_Missing(t *testing.T) {
	config, err := NewDotEnvLoader(filepath.Join(t.TempDir(), ".env"), "ASSETPIPE_").Load()
	if err != nil {
		t.Fatalf("expected nil error for missing file, got %v", err)
	}
	if config != nil {
		t.Errorf("expected nil config, got %v", config)
	}
}

// getByPath reads a value from a nested map using a dot-separated path.
func getByPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	current := data

	for i, part := range parts {
		val, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return val, true
		}
		next, ok := val.(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}
