// Command ringsock captures two-channel audio into a lock-free ring buffer and
// serves it over TCP, websocket and HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/ringsock/internal/app"
	"github.com/MrWong99/ringsock/internal/config"
	"github.com/MrWong99/ringsock/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile     string
	watchConfig time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "ringsock",
	Short:         "Real-time stereo capture server",
	Long:          `ringsock captures dual-mono audio into a lock-free ring buffer and serves it to detector clients, live stream consumers and Prometheus.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture server (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ringsock %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the YAML configuration file (defaults apply when empty)")
	serveCmd.Flags().DurationVar(&watchConfig, "watch", 5*time.Second, "config file poll interval for hot reload (0 disables)")
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ringsock: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		if cfg, err = config.Load(cfgFile); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("config file %q not found; run without --config to use defaults", cfgFile)
			}
			return err
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("ringsock starting",
		"version", version,
		"config", cfgFile,
		"host", cfg.Audio.Host,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	prov, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		AudioHost:      string(cfg.Audio.Host),
		SampleRate:     cfg.Audio.SampleRate,
		Traces:         observe.TraceExport(cfg.Telemetry.Traces),
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := prov.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Host registry ─────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinHosts(reg)

	application, err := app.New(ctx, cfg,
		app.WithRegistry(reg),
		app.WithMeterProvider(prov.MeterProvider),
	)
	if err != nil {
		return err
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if cfgFile != "" && watchConfig > 0 {
		w := config.NewWatcher(cfgFile, cfg,
			config.WithInterval(watchConfig),
			config.OnReload(func(d config.ConfigDiff) {
				if d.LogLevelChanged {
					level.Set(d.NewLogLevel.SlogLevel())
					slog.Info("log level updated", "level", d.NewLogLevel)
				}
				application.Reload(d)
			}),
		)
		wctx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		go w.Run(wctx)
	}

	printStartupSummary(application, cfg)
	slog.Info("server ready; press Ctrl+C to shut down")

	err = application.Run(ctx)
	switch {
	case errors.Is(err, app.ErrSessionEnded):
		slog.Info("audio session ended")
	case err != nil && !errors.Is(err, context.Canceled):
		return err
	}
	slog.Info("goodbye")
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(a *app.App, cfg *config.Config) {
	st := a.Stats()
	httpAddr := a.HTTPAddr()
	if httpAddr == "" {
		httpAddr = "(disabled)"
	}
	recorder := "(disabled)"
	if cfg.Recorder.Enabled {
		recorder = cfg.Recorder.Dir
	}
	fmt.Println("╔═══════════════════════════════════════════╗")
	fmt.Println("║          ringsock startup summary         ║")
	fmt.Println("╠═══════════════════════════════════════════╣")
	printRow("Host", st.Host)
	printRow("Format", fmt.Sprintf("%d Hz / %d frames", st.SampleRate, st.MaxQuantum))
	printRow("Ring", fmt.Sprintf("%d frames", st.Ring.Capacity))
	printRow("History", fmt.Sprintf("%d s (%d blocks)", st.History.Seconds, st.History.Capacity))
	printRow("Encoding", st.Encoding)
	printRow("Command addr", a.CommandAddr())
	printRow("Stream addr", a.StreamAddr())
	printRow("HTTP addr", httpAddr)
	printRow("Recorder", recorder)
	printRow("Traces", cfg.Telemetry.Traces)
	fmt.Println("╚═══════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 25 {
		value = value[:22] + "..."
	}
	fmt.Printf("║  %-13s : %-25s ║\n", label, value)
}
