package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/tunedeck/internal/adapters/cachestore"
	"github.com/mikey-austin/tunedeck/internal/adapters/catalog"
	"github.com/mikey-austin/tunedeck/internal/adapters/clock"
	"github.com/mikey-austin/tunedeck/internal/adapters/mqttserver"
	"github.com/mikey-austin/tunedeck/internal/adapters/sink"
	"github.com/mikey-austin/tunedeck/internal/daemon"
	embeddedmqtt "github.com/mikey-austin/tunedeck/internal/modules/embedded_mqtt"
	"github.com/mikey-austin/tunedeck/internal/modules/player"
	"github.com/mikey-austin/tunedeck/internal/session"
	"github.com/mikey-austin/tunedeck/pkg/deck"
)

type overrides struct {
	broker    string
	identity  string
	topicBase string
	logLevel  string
	logFormat string
	logOutput string
	logSource bool
	logUTC    bool
	sink      string
	debugMQTT bool
}

func main() {
	var (
		configPath  string
		ov          overrides
		printConfig bool
		dryRun      bool
		moduleOnly  string
	)

	defaultConfig, err := daemon.DefaultConfigPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.StringVar(&configPath, "config", defaultConfig, "config file path")
	flag.StringVar(&ov.broker, "broker", "", "MQTT broker URL override")
	flag.StringVar(&ov.identity, "identity", "", "server identity override")
	flag.StringVar(&ov.topicBase, "topic-base", "", "topic base override")
	flag.StringVar(&ov.logLevel, "log-level", "", "log level override")
	flag.StringVar(&ov.logFormat, "log-format", "", "log format override (console|json)")
	flag.StringVar(&ov.logOutput, "log-output", "", "log output override (stdout|stderr|path)")
	flag.BoolVar(&ov.logSource, "log-source", false, "include source file in logs")
	flag.BoolVar(&ov.logUTC, "log-utc", false, "use UTC timestamps in logs")
	flag.StringVar(&ov.sink, "sink", "", "audio sink override (beep|gstreamer|null)")
	flag.BoolVar(&ov.debugMQTT, "debug-mqtt", false, "log every MQTT message")
	flag.StringVar(&moduleOnly, "module", "", "limit to a single module")
	flag.BoolVar(&printConfig, "print-config", false, "print resolved config and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	flag.Parse()

	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyOverrides(&cfg, ov)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	if printConfig {
		printResolvedConfig(cfg)
		return
	}
	if dryRun {
		return
	}

	logger, err := daemon.NewLogger(daemon.LogConfig{
		Level:     cfg.Server.LogLevel,
		Format:    cfg.Server.LogFormat,
		Output:    cfg.Server.LogOutput,
		AddSource: cfg.Server.LogSource,
		UTC:       cfg.Server.LogUTC,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, cfg, logger, moduleOnly, ov.debugMQTT); err != nil {
		logger.Error("tunedeckd failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, cfg daemon.Config, logger *zap.Logger, moduleOnly string, debugMQTT bool) error {
	// The broker has to accept connections before the player dials it.
	skipEmbedded := false
	if moduleOnly != "embedded_mqtt" && cfg.Modules.EmbeddedMQTT.Enabled && cfg.Server.Broker == embeddedConfig(cfg).URL() {
		if err := startEmbeddedBroker(ctx, cfg, logger, cancel); err != nil {
			return fmt.Errorf("embedded mqtt: %w", err)
		}
		skipEmbedded = true
	}

	logger.Info("tunedeckd starting",
		zap.String("broker", cfg.Server.Broker),
		zap.String("identity", cfg.Server.Identity),
		zap.String("topic_base", cfg.Server.TopicBase),
		zap.String("catalog", cfg.Catalog.BaseURL),
		zap.Strings("modules", enabledModules(cfg)),
	)

	var client *mqttserver.Client
	if wantsModule(moduleOnly, "player") && cfg.Modules.Player.Enabled {
		var err error
		client, err = mqttserver.NewClient(mqttserver.Options{
			BrokerURL:   cfg.Server.Broker,
			ClientID:    fmt.Sprintf("%s-%d", cfg.Server.Identity, time.Now().UnixNano()),
			Username:    cfg.Server.Auth.User,
			Password:    cfg.Server.Auth.Pass,
			TLSCA:       cfg.Server.TLS.CA,
			TLSCert:     cfg.Server.TLS.Cert,
			TLSKey:      cfg.Server.TLS.Key,
			Timeout:     2 * time.Second,
			Logger:      logger.Named("mqtt"),
			Debug:       debugMQTT,
			WillTopic:   deck.TopicPresence(cfg.Server.TopicBase, cfg.Modules.Player.NodeID),
			WillPayload: []byte{},
		})
		if err != nil {
			return fmt.Errorf("mqtt connection: %w", err)
		}
		defer client.Close()
	}

	modules, err := buildModules(cfg, client, logger, moduleOnly, skipEmbedded)
	if err != nil {
		return fmt.Errorf("build modules: %w", err)
	}

	supervisor := daemon.Supervisor{Logger: logger}
	return supervisor.Run(ctx, modules)
}

func applyOverrides(cfg *daemon.Config, ov overrides) {
	if ov.broker != "" {
		cfg.Server.Broker = ov.broker
	}
	if ov.identity != "" {
		cfg.Server.Identity = ov.identity
	}
	if ov.topicBase != "" {
		cfg.Server.TopicBase = ov.topicBase
	}
	if ov.logLevel != "" {
		cfg.Server.LogLevel = ov.logLevel
	}
	if ov.logFormat != "" {
		cfg.Server.LogFormat = ov.logFormat
	}
	if ov.logOutput != "" {
		cfg.Server.LogOutput = ov.logOutput
	}
	if ov.logSource {
		cfg.Server.LogSource = true
	}
	if ov.logUTC {
		cfg.Server.LogUTC = true
	}
	if ov.sink != "" {
		cfg.Modules.Player.Sink = ov.sink
	}
	if cfg.Server.TopicBase == "" {
		cfg.Server.TopicBase = deck.BaseTopic
	}
	if cfg.Server.Broker == "" && cfg.Modules.EmbeddedMQTT.Enabled {
		cfg.Server.Broker = embeddedConfig(*cfg).URL()
	}
}

func wantsModule(moduleOnly string, name string) bool {
	return moduleOnly == "" || moduleOnly == name
}

func buildModules(cfg daemon.Config, client *mqttserver.Client, logger *zap.Logger, moduleOnly string, skipEmbedded bool) ([]daemon.ModuleRunner, error) {
	modules := []daemon.ModuleRunner{}
	if cfg.Modules.EmbeddedMQTT.Enabled && !skipEmbedded && wantsModule(moduleOnly, "embedded_mqtt") {
		mod, err := embeddedmqtt.NewModule(logger.Named("embedded_mqtt"), embeddedConfig(cfg))
		if err != nil {
			return nil, err
		}
		modules = append(modules, daemon.ModuleRunner{Name: "embedded_mqtt", Run: mod.Run})
	}

	if cfg.Modules.Player.Enabled && wantsModule(moduleOnly, "player") {
		if client == nil {
			return nil, errors.New("player requires an mqtt client")
		}
		sess, err := buildSession(cfg, logger.Named("session"))
		if err != nil {
			return nil, err
		}
		mod, err := player.NewModule(logger.Named("player"), client, sess, playerConfig(cfg))
		if err != nil {
			return nil, err
		}
		sess.AddBridge(mod)
		modules = append(modules,
			daemon.ModuleRunner{Name: "session", Run: sess.Run},
			daemon.ModuleRunner{Name: "player", Run: mod.Run},
		)
	}

	if len(modules) == 0 {
		return nil, errors.New("no modules enabled")
	}
	return modules, nil
}

func buildSession(cfg daemon.Config, logger *zap.Logger) (*session.Session, error) {
	p := cfg.Modules.Player
	cat, err := catalog.New(logger.Named("catalog"), catalog.Config{
		BaseURL:     cfg.Catalog.BaseURL,
		StaticURL:   cfg.Catalog.StaticURL,
		Timeout:     millis(cfg.Catalog.TimeoutMS),
		FanoutLimit: cfg.Catalog.FanoutLimit,
	}, &http.Client{})
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	cache, err := cachestore.New(cfg.Catalog.CacheDir, cfg.Catalog.CacheVersion, clock.Clock{}, logger.Named("cache"))
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	out, err := sink.Open(logger.Named("sink"), sink.Config{
		Kind:        p.Sink,
		Pipeline:    p.Pipeline,
		Device:      p.Device,
		TrackLength: millis(p.TrackLengthMS),
	})
	if err != nil {
		return nil, fmt.Errorf("sink: %w", err)
	}
	return session.New(logger, cat, cache, out, sessionConfig(cfg))
}

func sessionConfig(cfg daemon.Config) session.Config {
	p := cfg.Modules.Player
	return session.Config{
		SearchMode:     p.SearchMode,
		SearchDebounce: millis(p.SearchDebounceMS),
		RefreshDelay:   millis(p.RefreshDelayMS),
		FetchTimeout:   millis(cfg.Catalog.TimeoutMS),
		DefaultCover:   p.DefaultCover,
		Volume:         p.Volume,
		Clock:          clock.Clock{},
	}
}

func playerConfig(cfg daemon.Config) player.Config {
	p := cfg.Modules.Player
	return player.Config{
		NodeID:         p.NodeID,
		TopicBase:      cfg.Server.TopicBase,
		Name:           p.Name,
		SearchMode:     p.SearchMode,
		CommandTimeout: millis(p.CommandTimeoutMS),
		Clock:          clock.Clock{},
	}
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func enabledModules(cfg daemon.Config) []string {
	out := []string{}
	if cfg.Modules.EmbeddedMQTT.Enabled {
		out = append(out, "embedded_mqtt")
	}
	if cfg.Modules.Player.Enabled {
		out = append(out, "player")
	}
	return out
}

func printResolvedConfig(cfg daemon.Config) {
	fmt.Fprintf(os.Stdout,
		"broker=%s identity=%s topic_base=%s log_level=%s log_format=%s log_output=%s catalog=%s node_id=%s sink=%s search_mode=%s\n",
		cfg.Server.Broker,
		cfg.Server.Identity,
		cfg.Server.TopicBase,
		cfg.Server.LogLevel,
		cfg.Server.LogFormat,
		cfg.Server.LogOutput,
		cfg.Catalog.BaseURL,
		cfg.Modules.Player.NodeID,
		cfg.Modules.Player.Sink,
		cfg.Modules.Player.SearchMode,
	)
}

func embeddedConfig(cfg daemon.Config) embeddedmqtt.Config {
	e := cfg.Modules.EmbeddedMQTT
	return embeddedmqtt.Config{
		Listen:         e.Listen,
		AllowAnonymous: e.AllowAnonymous,
		Username:       e.Username,
		Password:       e.Password,
		TLSCA:          e.TLSCA,
		TLSCert:        e.TLSCert,
		TLSKey:         e.TLSKey,
		TopicBase:      cfg.Server.TopicBase,
	}
}

func startEmbeddedBroker(ctx context.Context, cfg daemon.Config, logger *zap.Logger, cancel context.CancelFunc) error {
	ecfg := embeddedConfig(cfg)
	mod, err := embeddedmqtt.NewModule(logger.Named("embedded_mqtt"), ecfg)
	if err != nil {
		return err
	}
	go func() {
		if err := mod.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("embedded mqtt exited", zap.Error(err))
			cancel()
		}
	}()

	listen := ecfg.Listen
	if listen == "" {
		listen = embeddedmqtt.DefaultListen
	}
	return embeddedmqtt.WaitReady(ctx, listen, 3*time.Second)
}
