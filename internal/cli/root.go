package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/blockmon/internal/control"
	"github.com/vietddude/blockmon/internal/core/config"
	"github.com/vietddude/blockmon/internal/infra/telemetry"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgPath        string
	isDebug        bool
	listenAddr     string
	rpcURL         string
	wsURL          string
	blockFrequency uint64
	tracing        bool
)

var rootCmd = &cobra.Command{
	Use:   "blockmon",
	Short: "Blockchain node head-of-chain health monitor",
	Long: `blockmon follows a node's latest block over HTTP polling or a WebSocket
newHeads subscription and reports over HTTP whether the node is still
producing fresh blocks.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runWatcher,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("blockmon exited with error", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (YAML); built-in defaults when empty")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")

	rootCmd.Flags().StringVar(&listenAddr, "listen", config.DefaultListen, "HTTP listen address")
	rootCmd.Flags().StringVar(&rpcURL, "rpc-url", config.DefaultRPCURL, "node JSON-RPC HTTP endpoint")
	rootCmd.Flags().StringVar(&wsURL, "ws-url", "", "node WebSocket endpoint; enables push mode")
	rootCmd.Flags().Uint64Var(&blockFrequency, "block-frequency", config.DefaultBlockFrequency, "expected seconds between blocks")
	rootCmd.Flags().BoolVar(&tracing, "tracing", false, "enable OpenTelemetry tracing")
}

func runWatcher(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := loadConfig(cmd)
	if err != nil {
		stylelog.InitDefault()
		return err
	}

	stylelog.InitDefault(&tint.Options{
		Level:      logLevel(cfg.Logging.Level, isDebug),
		TimeFormat: time.RFC3339,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
			ServiceName:    "blockmon",
			ServiceVersion: Version,
			Environment:    cfg.Tracing.Environment,
			Endpoint:       cfg.Tracing.Endpoint,
			SampleRate:     cfg.Tracing.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Warn("Failed to flush traces", "error", err)
			}
		}()
	}

	app, err := control.NewWatcher(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to initialize watcher: %w", err)
	}

	if err := app.Run(ctx); err != nil {
		return err
	}

	slog.Info("Watcher stopped gracefully")
	return nil
}

// loadConfig reads the YAML file, applies explicitly set flags on top and validates.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Server.Listen = listenAddr
	}
	if flags.Changed("rpc-url") {
		cfg.RPC.HTTPURL = rpcURL
	}
	if flags.Changed("ws-url") {
		cfg.RPC.WSURL = wsURL
	}
	if flags.Changed("block-frequency") {
		cfg.Monitor.BlockFrequency = blockFrequency
	}
	if flags.Changed("tracing") {
		cfg.Tracing.Enabled = tracing
	}
	if isDebug {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func logLevel(level string, debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
