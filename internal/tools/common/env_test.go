package common

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFileMissingIsNoop(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestLoadEnvFileLoadsAndPreservesExisting(t *testing.T) {
	t.Setenv("REDIS_ADDR", "from-env:6379")
	file := filepath.Join(t.TempDir(), "test.env")
	content := "# comment\nREDIS_ADDR=from-file:6379\nGEO_DB_PATH=./testdata/geo.mmdb\nHTTP_PORT=\"8081\"\nINVALID_LINE\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	if err := LoadEnvFile(file); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("REDIS_ADDR"); got != "from-env:6379" {
		t.Fatalf("expected existing var to be preserved, got %q", got)
	}
	if got := os.Getenv("GEO_DB_PATH"); got != "./testdata/geo.mmdb" {
		t.Fatalf("unexpected GEO_DB_PATH=%q", got)
	}
	if got := os.Getenv("HTTP_PORT"); got != "8081" {
		t.Fatalf("unexpected HTTP_PORT=%q", got)
	}
}

func TestLoadEnvFileOpenError(t *testing.T) {
	dir := t.TempDir()
	if err := LoadEnvFile(dir); err == nil {
		t.Fatal("expected error when path is a directory")
	}
}
