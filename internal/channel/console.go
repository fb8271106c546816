package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"textrelay/internal/domain"
)

// Console feeds lines from a terminal to the relay as if they came from
// one sender, and prints replies instead of sending them. It implements
// domain.Replier for the simulate command.
type Console struct {
	in     io.Reader
	out    io.Writer
	from   string
	logger *slog.Logger
	mu     sync.Mutex
}

type ConsoleConfig struct {
	In     io.Reader
	Out    io.Writer
	From   string
	Logger *slog.Logger
}

func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.From == "" {
		cfg.From = "+10000000000"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Console{in: cfg.In, out: cfg.Out, from: cfg.From, logger: cfg.Logger}
}

// Run reads lines until EOF, /quit or ctx is cancelled, handing each to
// handle synchronously.
func (c *Console) Run(ctx context.Context, handle func(context.Context, domain.InboundMessage)) error {
	c.printf("textrelay simulator. Messages are sent as %s. Type /quit to exit.\nYou> ", c.from)

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimRight(scanner.Text(), "\r")
		switch strings.TrimSpace(line) {
		case "":
			c.printf("You> ")
			continue
		case "/quit", "/exit", "/q":
			c.logger.Info("user requested quit")
			return nil
		}

		handle(ctx, domain.InboundMessage{
			RequestID:  uuid.NewString(),
			Content:    line,
			FromNumber: c.from,
			Number:     c.from,
			ReceivedAt: time.Now(),
		})
		c.printf("You> ")
	}
}

func (c *Console) Send(ctx context.Context, msg domain.OutboundMessage) error {
	header := "--- reply to " + msg.Number
	if msg.SendStyle != "" {
		header += " [" + msg.SendStyle + "]"
	}
	c.printf("%s ---\n%s\n----------------\n", header, msg.Content)
	return nil
}

func (c *Console) SendTypingIndicator(ctx context.Context, number string) error {
	c.printf("...\n")
	return nil
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}
