// Package decision implements the two-stage reply gate. Stage A classifies
// by message attributes alone and never calls the model; Stage B asks the
// model for a structured yes/no and treats the response as untrusted text.
package decision

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"botc/pkg/botc/llm"
	"botc/pkg/botc/message"
)

// Completer issues chat completions.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// Decision is the structured reply decision the model is asked to emit.
type Decision struct {
	RespondToUser      string `json:"respondToUser"`
	Reason             string `json:"reason"`
	ConversationTarget string `json:"conversationTarget"`
	BotIsAddressed     string `json:"botcIsAddressed"`
}

// Outcome is the tagged result of parsing the model's response. Exactly one
// of Parsed and Raw is meaningful: a successful parse carries the decision,
// a failed parse carries the raw text for the degraded substring check.
type Outcome struct {
	Parsed *Decision
	Raw    string
}

// WillRespond reduces the outcome to the single boolean the orchestrator
// observes. The Unparsed branch is a best-effort salvage, not a success.
func (o Outcome) WillRespond() bool {
	if o.Parsed != nil {
		return strings.ToLower(o.Parsed.RespondToUser) == "yes"
	}
	return strings.Contains(strings.ToLower(o.Raw), `"yes"`)
}

// ParseOutcome parses the model response as a Decision, degrading to the
// raw-text outcome when the provider returned malformed structured text.
func ParseOutcome(response string) Outcome {
	var d Decision
	if err := json.Unmarshal([]byte(response), &d); err != nil {
		return Outcome{Raw: response}
	}
	return Outcome{Parsed: &d}
}

// Engine decides whether the bot replies to a channel history.
type Engine struct {
	completer   Completer
	prompt      string
	autoRespond bool
	logger      *slog.Logger
}

// New creates an engine. prompt is the Stage B decision instruction;
// autoRespond gates whether Stage B runs at all.
func New(completer Completer, prompt string, autoRespond bool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		completer:   completer,
		prompt:      prompt,
		autoRespond: autoRespond,
		logger:      logger.With("component", "decision"),
	}
}

// ShouldReply runs both stages over the channel history, newest message
// last. Stage A short-circuits without a model call.
func (e *Engine) ShouldReply(ctx context.Context, history []*message.Message) bool {
	if len(history) == 0 {
		return false
	}
	last := history[len(history)-1]

	// Stage A: deterministic attribute classification. Direct address wins
	// over the bot-author decline, so a bot-authored DM, @-mention, or
	// voice message still gets a reply; only the bot's own messages are an
	// unconditional no.
	if last.FromSelf {
		return false
	}
	if last.DirectMessage || last.MentionsBot || last.HasVoice() {
		return true
	}
	if last.FromBot {
		return false
	}
	if !e.autoRespond {
		return false
	}

	// Stage B: model classification over the history.
	response, err := e.completer.Complete(ctx, llm.Payload(e.prompt, history))
	if err != nil {
		// No usable output; treat as "no reply" rather than failing the event.
		e.logger.Warn("reply decision completion failed", "error", err)
		return false
	}

	outcome := ParseOutcome(response)
	if outcome.Parsed == nil {
		e.logger.Error("reply decision was not valid JSON, using substring fallback", "response", response)
	} else {
		e.logger.Debug("reply decision",
			"respond", outcome.Parsed.RespondToUser,
			"reason", outcome.Parsed.Reason,
			"target", outcome.Parsed.ConversationTarget,
		)
	}
	return outcome.WillRespond()
}
