package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tunedeckd.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, ""+
		"[server]\n"+
		"broker = \"mqtt://localhost\"\n"+
		"identity = \"tunedeckd-test\"\n"+
		"\n"+
		"[catalog]\n"+
		"base_url = \"https://music.example/app/api\"\n"+
		"fanout_limit = 4\n"+
		"\n"+
		"[modules.player]\n"+
		"enabled = true\n"+
		"node_id = \"tunedeck:player:kitchen\"\n"+
		"sink = \"null\"\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Broker != "mqtt://localhost" {
		t.Fatalf("expected broker")
	}
	if !cfg.Modules.Player.Enabled || cfg.Modules.Player.Sink != "null" {
		t.Fatalf("expected player enabled with null sink: %+v", cfg.Modules.Player)
	}
	if cfg.Catalog.FanoutLimit != 4 {
		t.Fatalf("expected fanout 4, got %d", cfg.Catalog.FanoutLimit)
	}
	if cfg.Modules.Player.SearchDebounceMS != DefaultSearchDebounceMS {
		t.Fatalf("expected default debounce, got %d", cfg.Modules.Player.SearchDebounceMS)
	}
	if cfg.Modules.Player.Volume != DefaultVolume {
		t.Fatalf("expected default volume, got %v", cfg.Modules.Player.Volume)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "[server]\nbrokr = \"mqtt://localhost\"\n")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "brokr") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadConfigDirectory(t *testing.T) {
	if _, err := LoadConfig(t.TempDir()); err == nil {
		t.Fatalf("expected directory error")
	}
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected path error")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg := Config{
			Server:  ServerConfig{Broker: "mqtt://localhost"},
			Catalog: CatalogConfig{BaseURL: "https://music.example/api"},
			Modules: ModulesConfig{Player: PlayerConfig{Enabled: true, Volume: 0.5}},
		}
		cfg.ApplyDefaults()
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"nothing enabled", func(c *Config) { c.Modules.Player.Enabled = false }, "no modules"},
		{"no broker", func(c *Config) { c.Server.Broker = "" }, "server.broker"},
		{"embedded broker", func(c *Config) {
			c.Server.Broker = ""
			c.Modules.EmbeddedMQTT.Enabled = true
		}, ""},
		{"no catalog", func(c *Config) { c.Catalog.BaseURL = " " }, "catalog.base_url"},
		{"bad node id", func(c *Config) { c.Modules.Player.NodeID = "kitchen" }, "node_id"},
		{"bad search mode", func(c *Config) { c.Modules.Player.SearchMode = "fuzzy" }, "search_mode"},
		{"bad volume", func(c *Config) { c.Modules.Player.Volume = 1.5 }, "volume"},
		{"bad fanout", func(c *Config) { c.Catalog.FanoutLimit = -1 }, "fanout_limit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestApplyDefaultsNodeID(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if !strings.HasPrefix(cfg.Modules.Player.NodeID, "tunedeck:player:") {
		t.Fatalf("unexpected node id %q", cfg.Modules.Player.NodeID)
	}
	if cfg.Server.Identity != DefaultIdentity {
		t.Fatalf("expected default identity")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("default config path: %v", err)
	}
	if path != filepath.Join("/tmp/xdg", "tunedeck", "tunedeckd.toml") {
		t.Fatalf("unexpected path %q", path)
	}
}
