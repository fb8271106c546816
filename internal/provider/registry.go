package provider

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"textrelay/internal/domain"
)

// Registry enumerates models across the local and hosted backends and
// decides which backend serves a model. Local models are queried live on
// every call; hosted models come from the static allow-list and are only
// visible when a hosted credential is configured.
type Registry struct {
	local  domain.LocalBackend
	hosted domain.HostedBackend
	logger *slog.Logger
}

type RegistryConfig struct {
	Local  domain.LocalBackend
	Hosted domain.HostedBackend // may be nil
	Logger *slog.Logger
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{local: cfg.Local, hosted: cfg.Hosted, logger: cfg.Logger}
}

// ListLocal queries the local backend. Failures propagate as
// ErrBackendUnavailable; an unreachable server never looks like an empty list.
func (r *Registry) ListLocal(ctx context.Context) ([]string, error) {
	return r.local.ListModels(ctx)
}

// ListHosted returns the hosted allow-list whether or not a credential is set.
func (r *Registry) ListHosted() []string {
	if r.hosted == nil {
		return nil
	}
	return r.hosted.Models()
}

// HostedEnabled reports whether hosted models take part in listing and dispatch.
func (r *Registry) HostedEnabled() bool {
	return r.hosted != nil && r.hosted.Configured()
}

// ListAll returns local models first, then hosted models when enabled.
func (r *Registry) ListAll(ctx context.Context) ([]string, error) {
	local, hosted, err := r.lists(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Concat(local, hosted), nil
}

// ResolvePrefix returns the first model in ListAll order whose name starts
// with input. This is first-match, not best-match: "/default llama" always
// picks whichever llama tag the local server lists first.
func (r *Registry) ResolvePrefix(ctx context.Context, input string) (string, error) {
	models, err := r.ListAll(ctx)
	if err != nil {
		return "", err
	}
	for _, m := range models {
		if strings.HasPrefix(m, input) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", domain.ErrModelNotFound, input)
}

// IsKnown reports whether model appears in ListAll.
func (r *Registry) IsKnown(ctx context.Context, model string) (bool, error) {
	models, err := r.ListAll(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(models, model), nil
}

// Classify returns the backend that serves model. A model listed by both
// backends yields ErrAmbiguousModel rather than a silent pick.
func (r *Registry) Classify(ctx context.Context, model string) (domain.BackendKind, error) {
	local, hosted, err := r.lists(ctx)
	if err != nil {
		return "", err
	}

	inLocal := slices.Contains(local, model)
	inHosted := slices.Contains(hosted, model)
	switch {
	case inLocal && inHosted:
		r.logger.Error("model listed by both backends", "model", model)
		return "", fmt.Errorf("%w: %q", domain.ErrAmbiguousModel, model)
	case inLocal:
		return domain.BackendLocal, nil
	case inHosted:
		return domain.BackendHosted, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrModelNotFound, model)
	}
}

func (r *Registry) lists(ctx context.Context) (local, hosted []string, err error) {
	local, err = r.ListLocal(ctx)
	if err != nil {
		return nil, nil, err
	}
	if r.HostedEnabled() {
		hosted = r.hosted.Models()
	}
	return local, hosted, nil
}
