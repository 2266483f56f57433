package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFiles_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFiles(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFiles missing file error: %v", err)
	}
}

func TestLoadFiles_LoadsValuesAndPreservesExisting(t *testing.T) {
	tempDir := t.TempDir()
	envPath := filepath.Join(tempDir, ".env")
	localPath := filepath.Join(tempDir, ".env.local")
	content := "" +
		"# comment\n" +
		"VILLAGE_TEST_FROM_FILE=loaded\n" +
		"VILLAGE_TEST_QUOTED=\"hello world\"\n" +
		"export VILLAGE_TEST_EXPORTED=ok\n" +
		"VILLAGE_TEST_EXISTING=from_file\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	if err := os.WriteFile(localPath, []byte("VILLAGE_TEST_FROM_FILE=shadowed\nVILLAGE_TEST_LOCAL=yes\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("VILLAGE_TEST_EXISTING", "already_set")
	for _, key := range []string{"VILLAGE_TEST_FROM_FILE", "VILLAGE_TEST_QUOTED", "VILLAGE_TEST_EXPORTED", "VILLAGE_TEST_LOCAL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	if err := LoadFiles(envPath, localPath); err != nil {
		t.Fatalf("LoadFiles error: %v", err)
	}

	want := map[string]string{
		"VILLAGE_TEST_FROM_FILE": "loaded",
		"VILLAGE_TEST_QUOTED":    "hello world",
		"VILLAGE_TEST_EXPORTED":  "ok",
		"VILLAGE_TEST_EXISTING":  "already_set",
		"VILLAGE_TEST_LOCAL":     "yes",
	}
	for key, val := range want {
		if got := os.Getenv(key); got != val {
			t.Fatalf("%s=%q, want %q", key, got, val)
		}
	}
}
