package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/betterkit/betterkit/internal/bus"
	"github.com/betterkit/betterkit/internal/jobs"
	"github.com/betterkit/betterkit/internal/launcher"
	"github.com/betterkit/betterkit/internal/log"
	"github.com/betterkit/betterkit/internal/metrics"
	"github.com/betterkit/betterkit/internal/model"
	"github.com/betterkit/betterkit/internal/service"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var (
	configPath string // actual config file used (if loaded)
	config     model.Config
	verbosity  int
)

func init() {
	// root flags
	rootCmd.PersistentFlags().String("config", "", "Config file to load - defaults are used when empty (env BETTERKIT_CONFIG)")
	rootCmd.PersistentFlags().CountP("verbose", "v", "verbose logging: -v debug, -vv trace (env BETTERKIT_VERBOSE)")
	rootCmd.PersistentFlags().BoolP("user", "u", false, "use the session bus, for testing as an unprivileged user (env BETTERKIT_USER)")
	for _, name := range []string{"config", "verbose", "user"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("betterkit")
	viper.AutomaticEnv()

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initBetterkit

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("betterkit failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "betterkit",
	Short:        "Betterkit daemon: runs argument vectors as transient units on request over D-Bus",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         doDaemon,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "config prints the effective configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer func() {
			_ = enc.Close()
		}()
		return enc.Encode(config)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a betterkit",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("betterkit: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:    %s\n", configPath)
		}
		fmt.Printf("betterkit: %s\n", info.Main.Version)
		fmt.Printf("go:        %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:    %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:      %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:     %s\n", s.Value)
			}
		}
	},
}

func doDaemon(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("betterkit",
		slog.String("cmd", "daemon"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	launch := launcher.New(launcher.Config{
		Path:       config.Launcher.Path,
		Args:       config.Launcher.Args,
		User:       config.Bus.Kind == bus.KindSession,
		UnitPrefix: config.Launcher.UnitPrefix,
		Env:        config.Launcher.Env,
	})
	if verbosity >= 2 {
		launch = launch.WithStderrFunc(func(ctx context.Context, line string) {
			slog.Log(ctx, log.LevelTrace, "job stderr", "line", line)
		})
	}

	m := metrics.New()
	svc := service.New(jobs.NewTable(), launch).WithMetrics(m)
	server := bus.NewServer(bus.Config{
		Kind:    config.Bus.Kind,
		Address: config.Bus.Address,
		Name:    config.Bus.Name,
	}, svc)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Do(ctx)
	})
	if config.Metrics.Address != "" {
		g.Go(func() error {
			return m.Serve(ctx, config.Metrics.Address)
		})
	}

	slog.InfoContext(ctx, "starting main loop")
	return g.Wait()
}

func initBetterkit(cmd *cobra.Command, _ []string) error {
	configPath = viper.GetString("config")

	if configPath == "" {
		config = model.DefaultConfig()
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		cfg, err := model.LoadConfig(f)
		if err != nil {
			for _, d := range model.ErrDetails(err) {
				slog.Error("invalid config", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
		config = *cfg
	}

	// flags and environment have a precedence over config file
	if viper.GetBool("user") {
		config.Bus.Kind = bus.KindSession
	}
	verbosity = max(config.Log.Verbose, viper.GetInt("verbose"))

	// initialize logging
	slog.SetDefault(log.New(os.Stderr, verbosity))

	slog.Debug("betterkit init", "configPath", configPath)
	slog.Debug("betterkit init", "config", config)
	return nil
}
