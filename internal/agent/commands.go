package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"textrelay/internal/domain"
	"textrelay/internal/metrics"
)

// commandNames is the order /help lists them in.
var commandNames = []string{"help", "list", "install", "default"}

// ChatCommand represents a parsed slash-command.
type ChatCommand struct {
	Name string   // command name without "/", lowercased
	Args []string // arguments after the command, lowercased
	Raw  string   // original full text
}

// ParseCommand checks if a message starts with "/" and parses it into a ChatCommand.
// Returns nil if the message is not a command.
func ParseCommand(text string) *ChatCommand {
	if !strings.HasPrefix(text, "/") {
		return nil
	}

	parts := strings.Fields(strings.ToLower(text))
	if len(parts) == 0 {
		return nil
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return &ChatCommand{
		Name: strings.Trim(parts[0], "/"),
		Args: args,
		Raw:  text,
	}
}

// Arg returns the first argument or "".
func (c *ChatCommand) Arg() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// CommandInterpreter runs slash-commands against the registry, the default
// model store and the local backend. It never touches the transcript and
// never asks a backend for a completion.
type CommandInterpreter struct {
	registry ModelRegistry
	defaults domain.DefaultModelStore
	local    domain.LocalBackend
	replier  domain.Replier
	logger   *slog.Logger
}

type CommandConfig struct {
	Registry ModelRegistry
	Defaults domain.DefaultModelStore
	Local    domain.LocalBackend
	Replier  domain.Replier
	Logger   *slog.Logger
}

func NewCommandInterpreter(cfg CommandConfig) *CommandInterpreter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CommandInterpreter{
		registry: cfg.Registry,
		defaults: cfg.Defaults,
		local:    cfg.Local,
		replier:  cfg.Replier,
		logger:   cfg.Logger,
	}
}

// Execute handles one command message. Failures become replies; nothing
// here stops the process.
func (ci *CommandInterpreter) Execute(ctx context.Context, cmd *ChatCommand, msg domain.InboundMessage) {
	logger := ci.logger.With("request_id", msg.RequestID, "command", cmd.Name)
	logger.Info("running command", "args", len(cmd.Args))

	switch cmd.Name {
	case "help":
		ci.reply(ctx, logger, msg, helpText())
	case "list":
		ci.list(ctx, logger, msg)
	case "install":
		ci.install(ctx, logger, msg, cmd.Arg())
	case "default":
		ci.setDefault(ctx, logger, msg, cmd.Arg())
	default:
		ci.reply(ctx, logger, msg, "Command "+cmd.Raw+" not available.")
	}
}

func helpText() string {
	return "Available commands:\n/" + strings.Join(commandNames, "\n/")
}

func (ci *CommandInterpreter) list(ctx context.Context, logger *slog.Logger, msg domain.InboundMessage) {
	models, err := ci.registry.ListAll(ctx)
	if err != nil {
		logger.Error("list models failed", "err", err)
		ci.reply(ctx, logger, msg, unavailableText)
		return
	}

	current, err := ci.defaults.Get(ctx)
	if err != nil {
		logger.Warn("read default model failed", "err", err)
	}
	ci.reply(ctx, logger, msg, "Available models:\n"+strings.Join(annotateDefault(models, current), "\n"))
}

// annotateDefault marks the entry equal to current with a trailing "*".
func annotateDefault(models []string, current string) []string {
	out := make([]string, len(models))
	for i, m := range models {
		out[i] = m
		if current != "" && m == current {
			out[i] = m + "*"
		}
	}
	return out
}

func (ci *CommandInterpreter) install(ctx context.Context, logger *slog.Logger, msg domain.InboundMessage, name string) {
	if name == "" {
		ci.reply(ctx, logger, msg, "Usage: /install <model>")
		return
	}

	ci.reply(ctx, logger, msg, "Installing "+name)
	if err := ci.local.Pull(ctx, name); err != nil {
		metrics.Installs.WithLabelValues(metrics.OutcomeError).Inc()
		logger.Error("install failed", "model", name, "err", err)
		ci.reply(ctx, logger, msg, "Could not install "+name+". Check the model name and try again.")
		return
	}

	metrics.Installs.WithLabelValues(metrics.OutcomeOK).Inc()
	ci.reply(ctx, logger, msg, "Installed "+name+" Use it with /default")
}

// setDefault persists the first model matching name. Success is silent.
func (ci *CommandInterpreter) setDefault(ctx context.Context, logger *slog.Logger, msg domain.InboundMessage, name string) {
	if name == "" {
		ci.reply(ctx, logger, msg, "Usage: /default <model>")
		return
	}

	model, err := ci.registry.ResolvePrefix(ctx, name)
	if errors.Is(err, domain.ErrModelNotFound) {
		models, err := ci.registry.ListAll(ctx)
		if err != nil {
			logger.Error("list models failed", "err", err)
			ci.reply(ctx, logger, msg, unavailableText)
			return
		}
		ci.reply(ctx, logger, msg, notFoundText(name, models))
		return
	}
	if err != nil {
		logger.Error("resolve default model failed", "input", name, "err", err)
		ci.reply(ctx, logger, msg, unavailableText)
		return
	}

	if err := ci.defaults.Set(ctx, model); err != nil {
		logger.Error("persist default model failed", "model", model, "err", err)
		return
	}
	logger.Info("default model changed", "model", model, "input", name)
}

func (ci *CommandInterpreter) reply(ctx context.Context, logger *slog.Logger, msg domain.InboundMessage, content string) {
	deliver(ctx, ci.replier, logger, domain.OutboundMessage{Number: msg.FromNumber, Content: content})
}
