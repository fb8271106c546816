package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"textrelay/internal/agent"
	"textrelay/internal/bus"
	"textrelay/internal/channel"
	"textrelay/internal/config"

	"github.com/spf13/cobra"
)

// shutdownTimeout bounds how long accepted messages may keep running after
// a shutdown signal.
const shutdownTimeout = 10 * time.Second

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "textrelay",
		Short: "textrelay: SMS/iMessage relay for local and hosted language models",
		Long:  "textrelay receives Sendblue webhooks and answers with a local Ollama model or a hosted OpenAI model.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.textrelay/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(simulateCmd())
	root.AddCommand(modelsCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file (or defaults when absent) and rebuilds
// the package logger from general.logLevel and general.logFile.
func loadConfig() (*config.Config, func(), error) {
	cfgPath := resolveConfigPath()
	cfg, found, err := config.LoadOrDefaults(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	closeLog, err := setupLogger(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		logger.Warn("config not found, using defaults", "path", cfgPath)
	}
	return cfg, closeLog, nil
}

func setupLogger(gc config.GeneralConfig) (func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(gc.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if gc.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(gc.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(gc.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	return closeFn, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file and create storage directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			for _, dir := range []string{cfg.Storage.Dir, cfg.Media.Dir} {
				if err := os.MkdirAll(config.ExpandPath(dir), 0o755); err != nil {
					return err
				}
			}
			logger.Info("initialized", "config", cfgPath, "storage", cfg.Storage.Dir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and message relay",
		Long:  "Listens for Sendblue webhooks and relays each message to the selected model. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.local.Healthy(ctx); err != nil {
		logger.Warn("local backend unhealthy at startup", "api_base", cfg.Local.APIBase, "err", err)
	}

	model, err := agent.EnsureDefaultModel(ctx, a.bootstrapConfig())
	if err != nil {
		return fmt.Errorf("default model: %w", err)
	}
	logger.Info("default model ready", "model", model, "hosted_enabled", cfg.HostedEnabled())

	messageBus := bus.New(cfg.General.QueueSize, logger)

	relay, err := a.newRelay(a.sendblue(), messageBus)
	if err != nil {
		return err
	}

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relay.Run(ctx)
	}()

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Endpoint
	}
	webhook := channel.NewWebhook(channel.WebhookConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		MessagePath:  cfg.Server.MessagePath,
		CallbackPath: cfg.Server.CallbackPath,
		MetricsPath:  metricsPath,
		Bus:          messageBus,
		Logger:       logger,
	})

	logger.Info("relay started. Press Ctrl+C to stop.")
	serveErr := webhook.Start(ctx)
	if serveErr != nil {
		stop()
	}

	logger.Info("shutting down relay...")
	messageBus.Close()

	select {
	case <-relayDone:
		logger.Info("relay stopped cleanly")
	case <-time.After(shutdownTimeout + time.Second):
		logger.Warn("shutdown timed out, in-flight messages abandoned", "timeout", shutdownTimeout)
	}
	return serveErr
}

func simulateCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Chat with the relay from the terminal",
		Long:  "Reads messages from stdin and handles them exactly as inbound texts from --from. Replies are printed instead of sent.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := agent.EnsureDefaultModel(ctx, a.bootstrapConfig()); err != nil {
				return fmt.Errorf("default model: %w", err)
			}

			console := channel.NewConsole(channel.ConsoleConfig{
				In:     cmd.InOrStdin(),
				Out:    cmd.OutOrStdout(),
				From:   from,
				Logger: logger,
			})
			relay, err := a.newRelay(console, nil)
			if err != nil {
				return err
			}
			return console.Run(ctx, relay.Handle)
		},
	}
	cmd.Flags().StringVar(&from, "from", "+15550000000", "sender number to simulate")
	return cmd
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models from every backend, marking the default",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			models, err := a.registry.ListAll(ctx)
			if err != nil {
				return fmt.Errorf("list models: %w", err)
			}
			current, err := a.stores.Defaults.Get(ctx)
			if err != nil {
				logger.Warn("read default model", "err", err)
			}
			for _, m := range models {
				if m == current {
					m += " *"
				}
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
		Long:  "Show the effective configuration after defaults and environment overrides. Credentials are masked.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. local.bootstrapModel)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.LoadOrDefaults(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), val)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.LoadOrDefaults(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), config.Sanitize(cfg))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
