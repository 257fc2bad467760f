package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mikey-austin/tunedeck/internal/adapters/clock"
	"github.com/mikey-austin/tunedeck/internal/adapters/config"
	"github.com/mikey-austin/tunedeck/internal/adapters/idgen"
	"github.com/mikey-austin/tunedeck/internal/adapters/mqtt"
	"github.com/mikey-austin/tunedeck/internal/adapters/output"
	"github.com/mikey-austin/tunedeck/internal/core"
	"github.com/mikey-austin/tunedeck/pkg/deck"
)

type app struct {
	service core.Service
	printer output.Printer
	client  *mqtt.Client
	player  string
	json    bool
	timeout time.Duration
}

type globalFlags struct {
	broker    string
	topicBase string
	identity  string
	player    string
	timeout   time.Duration
	jsonOut   bool
	noColor   bool
	tlsCA     string
	tlsCert   string
	tlsKey    string
	user      string
	pass      string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root, closeApp := rootCommand()
	err := root.ExecuteContext(ctx)
	closeApp()
	if err != nil {
		cancel()
		os.Exit(core.ExitCode(err))
	}
}

// rootCommand builds the command tree. The returned func releases the
// broker connection opened by whichever command ran.
func rootCommand() (*cobra.Command, func()) {
	var (
		flags   globalFlags
		current *app
	)

	root := &cobra.Command{
		Use:          "tunedeck",
		Short:        "Control tunedeck players",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.broker, "broker", "b", "", "MQTT broker URL")
	pf.StringVar(&flags.topicBase, "topic-base", deck.BaseTopic, "MQTT topic base")
	pf.StringVarP(&flags.identity, "identity", "i", "", "controller identity")
	pf.StringVarP(&flags.player, "player", "p", "", "player name, alias or node id")
	pf.DurationVarP(&flags.timeout, "timeout", "t", 0, "command timeout")
	pf.BoolVarP(&flags.jsonOut, "json", "j", false, "output json")
	pf.BoolVar(&flags.noColor, "no-color", false, "disable color")
	pf.StringVar(&flags.tlsCA, "tls-ca", "", "TLS CA path")
	pf.StringVar(&flags.tlsCert, "tls-cert", "", "TLS cert path")
	pf.StringVar(&flags.tlsKey, "tls-key", "", "TLS key path")
	pf.StringVar(&flags.user, "user", "", "MQTT username")
	pf.StringVar(&flags.pass, "pass", "", "MQTT password")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		a, err := newApp(flags)
		if err != nil {
			return err
		}
		current = a
		cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
		return nil
	}

	root.AddCommand(nodesCommand())
	root.AddCommand(statusCommand())
	root.AddCommand(playlistsCommand())
	root.AddCommand(lsCommand())
	root.AddCommand(loadCommand())
	root.AddCommand(shuffleCommand())
	root.AddCommand(unshuffleCommand())
	root.AddCommand(allCommand())
	root.AddCommand(searchCommand())
	root.AddCommand(refreshCommand())
	root.AddCommand(selectCommand())
	root.AddCommand(playCommand())
	root.AddCommand(pauseCommand())
	root.AddCommand(toggleCommand())
	root.AddCommand(nextCommand())
	root.AddCommand(prevCommand())
	root.AddCommand(seekCommand())
	root.AddCommand(volumeCommand())

	return root, func() {
		if current != nil && current.client != nil {
			current.client.Close()
		}
	}
}

func newApp(flags globalFlags) (*app, error) {
	if flags.noColor {
		pterm.DisableStyling()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, core.WrapError(core.ExitUsage, "config", err)
	}
	identity := defaultIdentity(flags.identity, cfg.Identity)
	broker := firstNonEmpty(flags.broker, cfg.Broker)
	topicBase := flags.topicBase
	if topicBase == deck.BaseTopic && cfg.TopicBase != "" {
		topicBase = cfg.TopicBase
	}
	if broker == "" {
		return nil, &core.CLIError{Code: core.ExitUsage, Msg: "broker is required (set --broker or config)"}
	}
	timeout := flags.timeout
	if timeout == 0 && cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	if cfg.Aliases == nil {
		cfg.Aliases = map[string]string{}
	}

	client, err := mqtt.NewClient(mqtt.Options{
		BrokerURL: broker,
		ClientID:  fmt.Sprintf("tunedeck-%d", time.Now().UnixNano()),
		Username:  firstNonEmpty(flags.user, cfg.Auth.User),
		Password:  firstNonEmpty(flags.pass, cfg.Auth.Pass),
		TLSCA:     firstNonEmpty(flags.tlsCA, cfg.TLS.CA),
		TLSCert:   firstNonEmpty(flags.tlsCert, cfg.TLS.Cert),
		TLSKey:    firstNonEmpty(flags.tlsKey, cfg.TLS.Key),
		TopicBase: topicBase,
		Timeout:   timeout,
	})
	if err != nil {
		return nil, err
	}

	coreCfg := core.Config{
		Broker:    broker,
		Identity:  identity,
		TopicBase: topicBase,
		Aliases:   cfg.Aliases,
		Defaults:  core.Defaults{Player: cfg.Defaults.Player},
	}

	var printer output.Printer = output.HumanPrinter{}
	if flags.jsonOut {
		printer = output.JSONPrinter{}
	}

	return &app{
		service: core.Service{
			Broker:   client,
			Resolver: core.Resolver{Presence: client, Config: coreCfg},
			Clock:    clock.Clock{},
			IDGen:    idgen.Generator{},
			Config:   coreCfg,
		},
		printer: printer,
		client:  client,
		player:  flags.player,
		json:    flags.jsonOut,
		timeout: timeout,
	}, nil
}

type appKey struct{}

func fromContext(cmd *cobra.Command) *app {
	ctx := cmd.Context()
	if ctx == nil {
		return nil
	}
	val, _ := ctx.Value(appKey{}).(*app)
	return val
}

// withTimeout bounds a single request. Resolving the player and the
// command itself share the budget.
func (a *app) withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 2*a.timeout)
}

func defaultIdentity(flagVal string, cfgVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if cfgVal != "" {
		return cfgVal
	}
	usr, _ := user.Current()
	host, _ := os.Hostname()
	if usr != nil && host != "" {
		return fmt.Sprintf("%s@%s", usr.Username, host)
	}
	if host != "" {
		return host
	}
	return "tunedeck-unknown"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
