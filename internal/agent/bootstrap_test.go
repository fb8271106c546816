package agent

import (
	"context"
	"errors"
	"testing"

	"textrelay/internal/domain"
	"textrelay/internal/provider"
)

func bootstrapConfig(local *fakeLocal, hosted *fakeHosted, defaults *fakeDefaults) BootstrapConfig {
	return BootstrapConfig{
		Registry:       provider.NewRegistry(provider.RegistryConfig{Local: local, Hosted: hosted, Logger: testLogger()}),
		Defaults:       defaults,
		Local:          local,
		Logger:         testLogger(),
		HostedEnabled:  hosted.configured,
		HostedModel:    "gpt-3.5-turbo",
		BootstrapModel: "llama2:latest",
	}
}

func TestEnsureDefaultModel_Persisted(t *testing.T) {
	local := &fakeLocal{models: []string{"mistral:7b"}}
	defaults := &fakeDefaults{model: "mistral:7b"}

	model, err := EnsureDefaultModel(context.Background(), bootstrapConfig(local, &fakeHosted{}, defaults))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "mistral:7b" || len(local.pulled) != 0 || defaults.sets != 0 {
		t.Fatalf("expected persisted model untouched, got %q pulls=%v sets=%d", model, local.pulled, defaults.sets)
	}
}

func TestEnsureDefaultModel_InstallsBootstrapModel(t *testing.T) {
	local := &fakeLocal{}
	defaults := &fakeDefaults{}

	model, err := EnsureDefaultModel(context.Background(), bootstrapConfig(local, &fakeHosted{}, defaults))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "llama2:latest" || defaults.model != "llama2:latest" {
		t.Fatalf("expected llama2:latest persisted, got %q / %q", model, defaults.model)
	}
	if len(local.pulled) != 1 || local.pulled[0] != "llama2:latest" {
		t.Fatalf("expected bootstrap pull, got %v", local.pulled)
	}
}

func TestEnsureDefaultModel_HostedSkipsInstall(t *testing.T) {
	local := &fakeLocal{}
	hosted := &fakeHosted{configured: true, models: []string{"gpt-3.5-turbo", "dall-e-2"}}
	defaults := &fakeDefaults{}

	model, err := EnsureDefaultModel(context.Background(), bootstrapConfig(local, hosted, defaults))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "gpt-3.5-turbo" || len(local.pulled) != 0 {
		t.Fatalf("expected hosted default without install, got %q pulls=%v", model, local.pulled)
	}
}

func TestEnsureDefaultModel_InstallFailureIsFatal(t *testing.T) {
	local := &fakeLocal{pullErr: domain.ErrInstallFailed}
	defaults := &fakeDefaults{}

	_, err := EnsureDefaultModel(context.Background(), bootstrapConfig(local, &fakeHosted{}, defaults))
	if !errors.Is(err, domain.ErrInstallFailed) {
		t.Fatalf("expected ErrInstallFailed, got %v", err)
	}
	if defaults.sets != 0 {
		t.Fatal("nothing should be persisted after a failed install")
	}
}

func TestEnsureDefaultModel_UnknownPersistedModel(t *testing.T) {
	local := &fakeLocal{models: []string{"llama2:latest"}}
	defaults := &fakeDefaults{model: "gone:1b"}

	_, err := EnsureDefaultModel(context.Background(), bootstrapConfig(local, &fakeHosted{}, defaults))
	if !errors.Is(err, domain.ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
}

func TestEnsureDefaultModel_PersistFailure(t *testing.T) {
	local := &fakeLocal{}
	defaults := &fakeDefaults{setErr: domain.ErrPersistence}

	_, err := EnsureDefaultModel(context.Background(), bootstrapConfig(local, &fakeHosted{}, defaults))
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}
