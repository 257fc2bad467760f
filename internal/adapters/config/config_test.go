package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := []byte("" +
		"broker = \"mqtt://deck.local:1883\"\n" +
		"identity = \"laptop\"\n" +
		"\n" +
		"[defaults]\n" +
		"player = \"kitchen\"\n" +
		"\n" +
		"[aliases]\n" +
		"k = \"tunedeck:player:kitchen\"\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Broker != "mqtt://deck.local:1883" || cfg.Identity != "laptop" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Defaults.Player != "kitchen" || cfg.Aliases["k"] != "tunedeck:player:kitchen" {
		t.Fatalf("unexpected defaults or aliases %+v", cfg)
	}
}

func TestLoadFileMissing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Aliases == nil {
		t.Fatalf("expected empty alias map")
	}
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("brokr = \"x\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestPathHonoursXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	path, err := Path()
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if path != "/tmp/xdg/tunedeck/config.toml" {
		t.Fatalf("unexpected path %s", path)
	}
}
