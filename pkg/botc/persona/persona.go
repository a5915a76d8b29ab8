// Package persona synthesizes short behavioral summaries of users from
// their cross-channel guild history. Summaries are cached per
// "{guild}:{user}" with their own TTL so a busy user does not trigger a
// summary completion on every reply.
package persona

import (
	"context"
	"fmt"
	"log/slog"

	"botc/pkg/botc/cache"
	"botc/pkg/botc/llm"
	"botc/pkg/botc/message"
)

// Completer issues chat completions.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// Enricher annotates a message batch before it is summarized.
type Enricher interface {
	Enrich(ctx context.Context, msgs []*message.Message)
}

// Synthesizer produces or retrieves cached personas.
type Synthesizer struct {
	cache     *cache.Cache
	enricher  Enricher
	completer Completer
	logger    *slog.Logger
}

// New creates a synthesizer over the persona cache.
func New(c *cache.Cache, enricher Enricher, completer Completer, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		cache:     c,
		enricher:  enricher,
		completer: completer,
		logger:    logger.With("component", "persona"),
	}
}

// Persona returns the behavioral summary for a user in a guild. A cache hit
// returns immediately with no provider call. On a miss the full history is
// enriched and summarized, and the result is cached. An empty history is a
// caller bug and fails fast.
func (s *Synthesizer) Persona(ctx context.Context, guildID, userID string, fullHistory []*message.Message) (string, error) {
	key := guildID + ":" + userID
	if persona, ok := s.cache.Get(key); ok {
		return persona, nil
	}

	if len(fullHistory) == 0 {
		return "", fmt.Errorf("persona: empty history for %s", key)
	}

	s.enricher.Enrich(ctx, fullHistory)

	name := fullHistory[0].PromptName()
	payload := llm.Payload(
		"Summarize the following messages to build a persona for the user "+name+".",
		fullHistory,
	)

	persona, err := s.completer.Complete(ctx, payload)
	if err != nil {
		// Provider rejection degrades to an empty persona; the reply is
		// simply not personalized.
		s.logger.Warn("persona completion failed", "key", key, "error", err)
		return "", nil
	}

	s.cache.Put(key, persona)
	return persona, nil
}
