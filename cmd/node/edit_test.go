package node

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"floorreg/pkg/config"
)

func TestEnsureConfig_WritesLoadableTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.toml")

	created, err := ensureConfig(path)
	if err != nil {
		t.Fatalf("ensure config: %v", err)
	}
	if !created {
		t.Fatal("expected config to be created")
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	if cfg.Node.Port != 65432 {
		t.Errorf("Port: got %d, want 65432", cfg.Node.Port)
	}
	if cfg.Node.JournalPath != "/var/lib/floorreg/commands.db" {
		t.Errorf("JournalPath: got %s", cfg.Node.JournalPath)
	}
	if cfg.MQTT.Broker != "" {
		t.Errorf("template should leave MQTT disabled, got %s", cfg.MQTT.Broker)
	}
}

func TestEnsureConfig_KeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[node]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	created, err := ensureConfig(path)
	if err != nil {
		t.Fatalf("ensure config: %v", err)
	}
	if created {
		t.Error("existing config should not be overwritten")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "[node]\n" {
		t.Errorf("config changed: %q", data)
	}
}

func TestFindEditor(t *testing.T) {
	missing := func(string) (string, error) { return "", errors.New("not found") }

	if got, err := findEditor("emacs", missing); err != nil || got != "emacs" {
		t.Errorf("$EDITOR: got %q (%v)", got, err)
	}

	onlyNano := func(name string) (string, error) {
		if name == "nano" {
			return "/usr/bin/nano", nil
		}
		return "", errors.New("not found")
	}
	if got, err := findEditor("", onlyNano); err != nil || got != "nano" {
		t.Errorf("fallback: got %q (%v)", got, err)
	}

	if _, err := findEditor("", missing); err == nil {
		t.Error("expected error when no editor is available")
	}
}
