package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseEnvVars(t *testing.T) {
	input := `
# database
export DB_HOST=localhost
DB_PASS="s3cret"
DB_USER='app'
BROKEN LINE
`
	env, err := ParseEnvVars(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseEnvVars() error: %v", err)
	}
	want := map[string]string{"DB_HOST": "localhost", "DB_PASS": "s3cret", "DB_USER": "app"}
	if len(env) != len(want) {
		t.Fatalf("got %d entries, want %d: %v", len(env), len(want), env)
	}
	for k, v := range want {
		if env[k] != v {
			t.Errorf("%s = %q, want %q", k, env[k], v)
		}
	}
}

func TestLoadEnvFile_Missing(t *testing.T) {
	env, err := LoadEnvFile(filepath.Join(t.TempDir(), ".env"))
	if err != nil {
		t.Fatalf("LoadEnvFile() error: %v", err)
	}
	if len(env) != 0 {
		t.Errorf("expected empty map, got %v", env)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("A=1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	env, err := LoadEnvFile(path)
	if err != nil {
		t.Fatalf("LoadEnvFile() error: %v", err)
	}
	if env["A"] != "1" {
		t.Errorf("A = %q, want 1", env["A"])
	}
}

func TestMergeEnv(t *testing.T) {
	got := MergeEnv([]string{"PATH=/bin"}, map[string]string{"B": "2", "A": "1"}, map[string]string{"A": "3"})
	want := []string{"PATH=/bin", "A=1", "B=2", "A=3"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("MergeEnv() = %v, want %v", got, want)
	}
}
