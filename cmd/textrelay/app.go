package main

import (
	"fmt"
	"log/slog"
	"time"

	"textrelay/internal/agent"
	"textrelay/internal/channel"
	"textrelay/internal/config"
	"textrelay/internal/domain"
	"textrelay/internal/memory"
	"textrelay/internal/provider"
)

// app holds the wired collaborators shared by serve, simulate and models.
type app struct {
	cfg      *config.Config
	stores   *memory.Stores
	local    *provider.Ollama
	hosted   *provider.OpenAI
	registry *provider.Registry
	logger   *slog.Logger
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	stores, err := memory.Open(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	local := provider.NewOllama(provider.OllamaConfig{
		APIBase:        cfg.Local.APIBase,
		Timeout:        seconds(cfg.Local.TimeoutSeconds),
		InstallTimeout: seconds(cfg.Local.InstallTimeoutSeconds),
		Logger:         logger,
	})
	hosted := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:  cfg.Hosted.APIKey,
		APIBase: cfg.Hosted.APIBase,
		Models:  cfg.Hosted.Models,
		Timeout: seconds(cfg.Hosted.TimeoutSeconds),
		Logger:  logger,
	})

	return &app{
		cfg:      cfg,
		stores:   stores,
		local:    local,
		hosted:   hosted,
		registry: provider.NewRegistry(provider.RegistryConfig{Local: local, Hosted: hosted, Logger: logger}),
		logger:   logger,
	}, nil
}

func (a *app) Close() error {
	return a.stores.Close()
}

func (a *app) bootstrapConfig() agent.BootstrapConfig {
	return agent.BootstrapConfig{
		Registry:       a.registry,
		Defaults:       a.stores.Defaults,
		Local:          a.local,
		Logger:         a.logger,
		HostedEnabled:  a.cfg.HostedEnabled(),
		HostedModel:    a.cfg.Hosted.DefaultModel,
		BootstrapModel: a.cfg.Local.BootstrapModel,
	}
}

// newRelay builds the dispatcher around replier. messageBus may be nil for
// synchronous use.
func (a *app) newRelay(replier domain.Replier, messageBus domain.MessageBus) (*agent.Relay, error) {
	styles := agent.DefaultStyles()
	if a.cfg.Relay.StylesFile != "" {
		loaded, err := agent.LoadStyles(a.cfg.Relay.StylesFile)
		if err != nil {
			return nil, err
		}
		styles = loaded
	}

	var media domain.MediaStore
	if a.cfg.Media.Enabled {
		media = channel.NewMediaDownloader(channel.MediaConfig{
			Dir:      a.cfg.Media.Dir,
			MaxBytes: a.cfg.Media.MaxBytes,
			Logger:   a.logger,
		})
	}

	return agent.NewRelay(agent.RelayConfig{
		Registry:     a.registry,
		Defaults:     a.stores.Defaults,
		Transcript:   a.stores.Transcript,
		Local:        a.local,
		Hosted:       a.hosted,
		Prompt:       agent.NewPromptBuilder(a.cfg.Local.PromptSuffix, a.logger),
		Styles:       styles,
		Replier:      replier,
		Media:        media,
		Bus:          messageBus,
		Limiter:      agent.NewRateLimiter(0, float64(a.cfg.Local.RateLimitPerMin)),
		Apology:      a.cfg.Relay.Apology,
		Logger:       a.logger,
		Concurrency:  a.cfg.General.MaxConcurrentMessages,
		DrainTimeout: shutdownTimeout,
	}), nil
}

func (a *app) sendblue() *channel.SendblueClient {
	return channel.NewSendblueClient(channel.SendblueConfig{
		APIBase:     a.cfg.Delivery.APIBase,
		APIKey:      a.cfg.Delivery.APIKey,
		APISecret:   a.cfg.Delivery.APISecret,
		CallbackURL: a.cfg.Delivery.CallbackURL,
		Timeout:     seconds(a.cfg.Delivery.TimeoutSeconds),
		Logger:      a.logger,
	})
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
