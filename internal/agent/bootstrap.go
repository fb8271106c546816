package agent

import (
	"context"
	"fmt"
	"log/slog"

	"textrelay/internal/domain"
)

// BootstrapConfig describes how to obtain a usable default model at start-up.
type BootstrapConfig struct {
	Registry ModelRegistry
	Defaults domain.DefaultModelStore
	Local    domain.LocalBackend
	Logger   *slog.Logger

	// HostedEnabled selects HostedModel instead of installing BootstrapModel.
	HostedEnabled  bool
	HostedModel    string
	BootstrapModel string
}

// EnsureDefaultModel returns the persisted default model, bootstrapping one
// when none is stored, and checks that the registry knows it. Any error
// means the relay has no usable default and must not start.
func EnsureDefaultModel(ctx context.Context, cfg BootstrapConfig) (string, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	model, err := cfg.Defaults.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("read default model: %w", err)
	}

	if model == "" {
		if cfg.HostedEnabled {
			model = cfg.HostedModel
			logger.Info("no default model, using hosted model", "model", model)
		} else {
			model = cfg.BootstrapModel
			logger.Info("no default model, installing bootstrap model", "model", model)
			if err := cfg.Local.Pull(ctx, model); err != nil {
				return "", fmt.Errorf("bootstrap: %w", err)
			}
		}
		if err := cfg.Defaults.Set(ctx, model); err != nil {
			return "", fmt.Errorf("bootstrap: %w", err)
		}
	}

	known, err := cfg.Registry.IsKnown(ctx, model)
	if err != nil {
		return "", fmt.Errorf("validate default model: %w", err)
	}
	if !known {
		models, _ := cfg.Registry.ListAll(ctx)
		logger.Error("default model not available", "model", model, "available", models)
		return "", fmt.Errorf("%w: default model %q", domain.ErrModelNotFound, model)
	}

	logger.Info("using model", "model", model)
	return model, nil
}
