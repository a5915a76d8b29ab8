// Package dispatch delivers finished responses to their channel: it keeps
// the platform's typing indicator alive while a response is being prepared
// and retries transient send failures with linear backoff.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"botc/pkg/botc/platform"
)

// Sender is the subset of the platform the dispatcher needs.
type Sender interface {
	Send(ctx context.Context, channelID string, out *platform.Outgoing) error
	Typing(ctx context.Context, channelID string) error
}

// Config holds dispatcher tuning.
type Config struct {
	// TypingInterval is the keep-alive period. It must be shorter than the
	// platform's own indicator timeout (Discord: 10 seconds).
	TypingInterval time.Duration

	// MaxAttempts bounds send attempts, the first try included.
	MaxAttempts int

	// RetryDelay is the linear backoff unit: attempt n waits n × RetryDelay.
	RetryDelay time.Duration
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		TypingInterval: 9 * time.Second,
		MaxAttempts:    3,
		RetryDelay:     time.Second,
	}
}

// Dispatcher sends responses with typing keep-alive and bounded retry.
type Dispatcher struct {
	sender Sender
	cfg    Config
	logger *slog.Logger
}

// New creates a dispatcher.
func New(sender Sender, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = 9 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender: sender,
		cfg:    cfg,
		logger: logger.With("component", "dispatch"),
	}
}

// StartTyping signals the typing indicator immediately and re-signals on
// every interval until the returned stop function is called. Stop is
// idempotent and blocks until the keep-alive goroutine has exited, so no
// signal can fire after it returns. Callers must always invoke stop,
// typically via defer, so the keep-alive ends on every exit path.
func (d *Dispatcher) StartTyping(ctx context.Context, channelID string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		d.signalTyping(ctx, channelID)
		ticker := time.NewTicker(d.cfg.TypingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.signalTyping(ctx, channelID)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (d *Dispatcher) signalTyping(ctx context.Context, channelID string) {
	if err := d.sender.Typing(ctx, channelID); err != nil && ctx.Err() == nil {
		d.logger.Debug("typing signal failed", "channel", channelID, "error", err)
	}
}

// Send delivers the outgoing content, retrying transient failures with
// linear backoff. Exhausting the attempt budget is reported as an error,
// never raised as anything the caller has to recover from.
func (d *Dispatcher) Send(ctx context.Context, channelID string, out *platform.Outgoing) error {
	var lastErr error
	for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
		if delay := time.Duration(attempt) * d.cfg.RetryDelay; delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := d.sender.Send(ctx, channelID, out); err != nil {
			lastErr = err
			d.logger.Warn("send failed", "channel", channelID, "attempt", attempt+1, "error", err)
			continue
		}
		return nil
	}
	return fmt.Errorf("dispatch: send to channel %s failed after %d attempts: %w", channelID, d.cfg.MaxAttempts, lastErr)
}
