package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"textrelay/internal/config"
)

func TestSetupLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "relay.log")
	closeLog, err := setupLogger(config.GeneralConfig{LogLevel: "debug", LogFile: path})
	if err != nil {
		t.Fatalf("setupLogger: %v", err)
	}
	logger.Debug("hello from test")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Fatalf("expected debug line in log file, got %q", data)
	}
}

func TestCheckWritableDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "store")
	if err := checkWritableDir(dir); err != nil {
		t.Fatalf("expected writable dir: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("probe file left behind: %v", entries)
	}
}

func TestCheckDatabase(t *testing.T) {
	if err := checkDatabase(filepath.Join(t.TempDir(), "relay.db")); err != nil {
		t.Fatalf("checkDatabase: %v", err)
	}
}

func TestConfigPath_FlagOverrides(t *testing.T) {
	old := configPath
	defer func() { configPath = old }()

	configPath = "/tmp/custom.yaml"
	if got := resolveConfigPath(); got != "/tmp/custom.yaml" {
		t.Fatalf("expected flag path, got %q", got)
	}
	configPath = ""
	if got := resolveConfigPath(); got != config.DefaultConfigPath() {
		t.Fatalf("expected default path, got %q", got)
	}
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := config.Defaults()
	cfg.Hosted.APIKey = "sk-1234567890abcdef"
	if err := config.Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	old := configPath
	defer func() { configPath = old }()
	configPath = path
	t.Setenv("OPENAI_API_KEY", "")

	cmd := configCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"show"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out.String(), "sk-1234567890abcdef") {
		t.Fatal("api key printed in clear text")
	}
	if !strings.Contains(out.String(), "sk-1****cdef") {
		t.Fatalf("expected masked key, got %s", out.String())
	}
}
