package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"textrelay/internal/config"
)

func writeStateConfig(t *testing.T, dir string) (string, *config.Config) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.Dir = filepath.Join(dir, "state")
	cfgPath := filepath.Join(dir, "config.json")
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	return cfgPath, cfg
}

func TestBackupRestore_FileDriver(t *testing.T) {
	dir := t.TempDir()
	cfgPath, cfg := writeStateConfig(t, dir)

	old := configPath
	defer func() { configPath = old }()
	configPath = cfgPath

	os.WriteFile(cfg.Storage.TranscriptPath(), []byte("user: hi\n"), 0o644)
	os.WriteFile(cfg.Storage.DefaultModelPath(), []byte("llama2:latest"), 0o644)

	archive := filepath.Join(dir, "out.tar.gz")
	backup := backupCmd()
	backup.SetArgs([]string{"-o", archive})
	backup.SetOut(&strings.Builder{})
	if err := backup.Execute(); err != nil {
		t.Fatalf("backup: %v", err)
	}

	// Restore refuses to overwrite without --force.
	restore := restoreCmd()
	restore.SetArgs([]string{archive})
	restore.SetOut(&strings.Builder{})
	restore.SetErr(&strings.Builder{})
	if err := restore.Execute(); err == nil {
		t.Fatal("expected restore to abort while state exists")
	}

	os.Remove(cfg.Storage.TranscriptPath())
	os.Remove(cfg.Storage.DefaultModelPath())

	restore = restoreCmd()
	restore.SetArgs([]string{archive, "--force"})
	restore.SetOut(&strings.Builder{})
	if err := restore.Execute(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	data, err := os.ReadFile(cfg.Storage.DefaultModelPath())
	if err != nil || string(data) != "llama2:latest" {
		t.Fatalf("default model not restored: %q, %v", data, err)
	}
	data, err = os.ReadFile(cfg.Storage.TranscriptPath())
	if err != nil || string(data) != "user: hi\n" {
		t.Fatalf("transcript not restored: %q, %v", data, err)
	}
}

func TestExtractTarGz_RejectsUnknownEntries(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "notes.txt")
	os.WriteFile(src, []byte("x"), 0o644)

	archive := filepath.Join(dir, "bad.tar.gz")
	if err := createTarGz(archive, []archiveEntry{{name: "../../etc/passwd", path: src}}); err != nil {
		t.Fatal(err)
	}
	if _, err := extractTarGz(archive, map[string]string{"transcript": filepath.Join(dir, "t")}); err == nil {
		t.Fatal("expected error for entry outside the known state files")
	}
}

func TestStateFiles_SQLiteDriver(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.DBPath = "/var/lib/textrelay/relay.db"

	files := stateFiles(cfg, "/etc/textrelay/config.yaml")
	if files["config.yaml"] != "/etc/textrelay/config.yaml" {
		t.Fatalf("config entry missing: %v", files)
	}
	if files["textrelay.db"] != "/var/lib/textrelay/relay.db" || files["textrelay.db-wal"] == "" {
		t.Fatalf("db entries missing: %v", files)
	}
	if _, ok := files["transcript"]; ok {
		t.Fatal("transcript file listed for sqlite driver")
	}
}
