package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for tunedeckd.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Catalog CatalogConfig `toml:"catalog"`
	Modules ModulesConfig `toml:"modules"`
}

// ServerConfig defines shared server settings.
type ServerConfig struct {
	Broker    string     `toml:"broker"`
	Identity  string     `toml:"identity"`
	TopicBase string     `toml:"topic_base"`
	LogLevel  string     `toml:"log_level"`
	LogFormat string     `toml:"log_format"`
	LogOutput string     `toml:"log_output"`
	LogSource bool       `toml:"log_source"`
	LogUTC    bool       `toml:"log_utc"`
	TLS       TLSConfig  `toml:"tls"`
	Auth      AuthConfig `toml:"auth"`
}

// TLSConfig holds TLS paths for MQTT.
type TLSConfig struct {
	CA   string `toml:"ca"`
	Cert string `toml:"cert"`
	Key  string `toml:"key"`
}

// AuthConfig holds MQTT auth credentials.
type AuthConfig struct {
	User string `toml:"user"`
	Pass string `toml:"pass"`
}

// CatalogConfig points at the remote music catalog and the local cache.
type CatalogConfig struct {
	BaseURL      string `toml:"base_url"`
	StaticURL    string `toml:"static_url"`
	TimeoutMS    int64  `toml:"timeout_ms"`
	FanoutLimit  int    `toml:"fanout_limit"`
	CacheDir     string `toml:"cache_dir"`
	CacheVersion string `toml:"cache_version"`
}

// ModulesConfig holds module configurations.
type ModulesConfig struct {
	Player       PlayerConfig       `toml:"player"`
	EmbeddedMQTT EmbeddedMQTTConfig `toml:"embedded_mqtt"`
}

// PlayerConfig configures the player node.
type PlayerConfig struct {
	Enabled          bool    `toml:"enabled"`
	NodeID           string  `toml:"node_id"`
	Name             string  `toml:"name"`
	Sink             string  `toml:"sink"`
	Pipeline         string  `toml:"pipeline"`
	Device           string  `toml:"device"`
	TrackLengthMS    int64   `toml:"track_length_ms"`
	SearchMode       string  `toml:"search_mode"`
	SearchDebounceMS int64   `toml:"search_debounce_ms"`
	RefreshDelayMS   int64   `toml:"refresh_delay_ms"`
	CommandTimeoutMS int64   `toml:"command_timeout_ms"`
	Volume           float64 `toml:"volume"`
	DefaultCover     string  `toml:"default_cover"`
}

// EmbeddedMQTTConfig configures the embedded MQTT broker.
type EmbeddedMQTTConfig struct {
	Enabled        bool   `toml:"enabled"`
	Listen         string `toml:"listen"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TLSCA          string `toml:"tls_ca"`
	TLSCert        string `toml:"tls_cert"`
	TLSKey         string `toml:"tls_key"`
}

// Defaults used when the config leaves a value unset.
const (
	DefaultIdentity         = "tunedeckd"
	DefaultCacheVersion     = "1"
	DefaultSearchDebounceMS = 500
	DefaultRefreshDelayMS   = 5000
	DefaultVolume           = 0.8
)

// LoadConfig loads a config file from path and fills defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return Config{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Server.Identity == "" {
		c.Server.Identity = DefaultIdentity
	}
	if c.Catalog.CacheVersion == "" {
		c.Catalog.CacheVersion = DefaultCacheVersion
	}
	p := &c.Modules.Player
	if p.NodeID == "" {
		p.NodeID = "tunedeck:player:" + hostname()
	}
	if p.Name == "" {
		p.Name = hostname()
	}
	if p.SearchMode == "" {
		p.SearchMode = "local"
	}
	if p.SearchDebounceMS == 0 {
		p.SearchDebounceMS = DefaultSearchDebounceMS
	}
	if p.RefreshDelayMS == 0 {
		p.RefreshDelayMS = DefaultRefreshDelayMS
	}
	// Starting muted is not supported; zero means unset.
	if p.Volume == 0 {
		p.Volume = DefaultVolume
	}
}

// Validate reports configuration that cannot start a daemon.
func (c Config) Validate() error {
	if !c.Modules.Player.Enabled && !c.Modules.EmbeddedMQTT.Enabled {
		return errors.New("no modules enabled")
	}
	if c.Server.Broker == "" && !c.Modules.EmbeddedMQTT.Enabled {
		return errors.New("server.broker required")
	}
	p := c.Modules.Player
	if !p.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Catalog.BaseURL) == "" {
		return errors.New("catalog.base_url required")
	}
	if !strings.HasPrefix(p.NodeID, "tunedeck:") {
		return fmt.Errorf("modules.player.node_id %q must start with tunedeck:", p.NodeID)
	}
	switch p.SearchMode {
	case "local", "remote":
	default:
		return fmt.Errorf("modules.player.search_mode %q must be local or remote", p.SearchMode)
	}
	if p.Volume < 0 || p.Volume > 1 {
		return fmt.Errorf("modules.player.volume %.2f out of range 0..1", p.Volume)
	}
	if c.Catalog.FanoutLimit < 0 {
		return errors.New("catalog.fanout_limit must not be negative")
	}
	return nil
}

// DefaultConfigPath returns the default config location.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "tunedeck", "tunedeckd.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "tunedeck", "tunedeckd.toml"), nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "local"
	}
	if idx := strings.IndexByte(name, '.'); idx > 0 {
		name = name[:idx]
	}
	return strings.ToLower(name)
}
