// Package bot wires the pipeline together: it consumes incoming platform
// messages, enriches channel history, runs the reply decision, prepares a
// text, image, or voice response, and hands it to the dispatcher.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"botc/pkg/botc/config"
	"botc/pkg/botc/llm"
	"botc/pkg/botc/message"
	"botc/pkg/botc/platform"
)

// preparationFailureReply is sent in place of a response when preparation
// fails after the bot has already committed to replying.
const preparationFailureReply = "There was an error preparing the response."

// Completer issues chat completions.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// ImageGenerator renders an image for a prompt, optionally conditioned on
// reference images.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, refURLs []string) ([]byte, error)
}

// Enricher annotates a message batch with image descriptions and voice
// transcriptions.
type Enricher interface {
	Enrich(ctx context.Context, msgs []*message.Message)
}

// ReplyDecider decides whether the bot replies to a channel history.
type ReplyDecider interface {
	ShouldReply(ctx context.Context, history []*message.Message) bool
}

// PersonaSource produces a behavioral summary for a guild user.
type PersonaSource interface {
	Persona(ctx context.Context, guildID, userID string, fullHistory []*message.Message) (string, error)
}

// Deliverer sends prepared responses with typing keep-alive.
type Deliverer interface {
	StartTyping(ctx context.Context, channelID string) (stop func())
	Send(ctx context.Context, channelID string, out *platform.Outgoing) error
}

// Grounder answers queries with up-to-date information.
type Grounder interface {
	GroundedAnswer(ctx context.Context, query string) (string, error)
}

// Speaker converts text to audio.
type Speaker interface {
	Synthesize(ctx context.Context, text string) ([]byte, string, error)
}

// Deps collects the orchestrator's collaborators. Grounder and Speaker are
// optional; leaving them nil disables the corresponding branch regardless
// of the feature gates.
type Deps struct {
	Platform  platform.Platform
	Incoming  <-chan *message.Message
	Enricher  Enricher
	Decider   ReplyDecider
	Personas  PersonaSource
	Deliverer Deliverer
	Completer Completer
	Images    ImageGenerator
	Grounder  Grounder
	Speaker   Speaker
}

// Bot is the response orchestrator.
type Bot struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger
}

// New creates a bot over its collaborators.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "bot"),
	}
}

// Run consumes incoming messages until ctx is canceled. Each message is
// handled on its own goroutine so one slow preparation never blocks the
// event stream. When prefetch is enabled the enrichment caches are warmed
// at startup and on the configured schedule.
func (b *Bot) Run(ctx context.Context) error {
	if b.cfg.Prefetch.Enabled {
		go b.prefetch(ctx)

		scheduler := cron.New()
		if _, err := scheduler.AddFunc(b.cfg.Prefetch.Schedule, func() { b.prefetch(ctx) }); err != nil {
			return fmt.Errorf("bot: invalid prefetch schedule %q: %w", b.cfg.Prefetch.Schedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	b.logger.Info("ready")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-b.deps.Incoming:
			if !ok {
				return nil
			}
			go b.HandleMessage(ctx, msg)
		}
	}
}

// HandleMessage runs the pipeline for one incoming message.
func (b *Bot) HandleMessage(ctx context.Context, msg *message.Message) {
	if msg.FromSelf {
		return
	}
	logger := b.logger.With("channel", msg.ChannelID, "msg_id", msg.ID)

	history, err := b.deps.Platform.ChannelHistory(ctx, msg.ChannelID)
	if err != nil {
		logger.Error("channel history fetch failed", "error", err)
		return
	}
	if len(history) == 0 {
		history = []*message.Message{msg}
	}

	b.deps.Enricher.Enrich(ctx, history)

	if !b.deps.Decider.ShouldReply(ctx, history) {
		logger.Debug("not replying")
		return
	}

	stop := b.deps.Deliverer.StartTyping(ctx, msg.ChannelID)
	defer stop()

	out, err := b.prepare(ctx, msg, history)
	if err != nil {
		logger.Error("response preparation failed", "error", err)
		out = &platform.Outgoing{Content: preparationFailureReply}
	}

	if err := b.deps.Deliverer.Send(ctx, msg.ChannelID, out); err != nil {
		logger.Error("response delivery failed", "error", err)
	}
}

// prepare builds the outgoing response for the history's latest message:
// a generated image when the sender asks for one, a synthesized voice clip
// when replying to a voice message with voice replies enabled, and a text
// completion otherwise.
func (b *Bot) prepare(ctx context.Context, msg *message.Message, history []*message.Message) (*platform.Outgoing, error) {
	if b.wantsImage(ctx, history) {
		return b.prepareImage(ctx, msg)
	}

	text, err := b.prepareText(ctx, msg, history)
	if err != nil {
		return nil, err
	}

	if b.cfg.Features.VoiceResponse && b.deps.Speaker != nil && msg.HasVoice() {
		audio, mimeType, err := b.deps.Speaker.Synthesize(ctx, text)
		if err != nil {
			// A failed synthesis still has a usable text response.
			b.logger.Warn("voice synthesis failed, replying with text", "error", err)
			return &platform.Outgoing{Content: text}, nil
		}
		return &platform.Outgoing{
			Files: []platform.File{{
				Name:        uuid.NewString() + ".mp3",
				ContentType: mimeType,
				Data:        audio,
			}},
		}, nil
	}

	return &platform.Outgoing{Content: text}, nil
}

// prepareText produces the personalized, optionally grounded completion.
func (b *Bot) prepareText(ctx context.Context, msg *message.Message, history []*message.Message) (string, error) {
	system := b.cfg.OpenAI.SystemPrompt

	if persona := b.persona(ctx, msg); persona != "" {
		system += "\n\n<Sender Persona>\n" + persona + "\n</Sender Persona>"
	}
	if grounding := b.grounding(ctx, msg, history); grounding != "" {
		system += "\n\n<Grounding Context>\n" + grounding + "\n</Grounding Context>"
	}

	response, err := b.deps.Completer.Complete(ctx, llm.Payload(system, history))
	if err != nil {
		return "", fmt.Errorf("bot: completion: %w", err)
	}
	return response, nil
}

// persona resolves the sender's persona. Direct messages carry no guild
// history, so they are never personalized. Failures degrade to an
// unpersonalized reply.
func (b *Bot) persona(ctx context.Context, msg *message.Message) string {
	if msg.DirectMessage || msg.GuildID == "" || b.deps.Personas == nil {
		return ""
	}

	fullHistory, err := b.deps.Platform.GuildHistory(ctx, msg.GuildID, msg.AuthorID)
	if err != nil {
		b.logger.Warn("guild history fetch failed", "guild", msg.GuildID, "error", err)
		return ""
	}
	if len(fullHistory) == 0 {
		return ""
	}

	persona, err := b.deps.Personas.Persona(ctx, msg.GuildID, msg.AuthorID, fullHistory)
	if err != nil {
		b.logger.Warn("persona synthesis failed", "guild", msg.GuildID, "user", msg.AuthorID, "error", err)
		return ""
	}
	return persona
}

// groundDecision is the structured output of the grounding gate.
type groundDecision struct {
	WillGround bool   `json:"willGround"`
	Reason     string `json:"reason"`
}

// grounding asks the model whether the latest message needs up-to-date
// information and fetches a grounded answer when it does. Every failure
// along the way degrades to an ungrounded reply.
func (b *Bot) grounding(ctx context.Context, msg *message.Message, history []*message.Message) string {
	if !b.cfg.Features.Grounding || b.deps.Grounder == nil {
		return ""
	}

	response, err := b.deps.Completer.Complete(ctx, llm.Payload(b.cfg.OpenAI.GroundDecisionPrompt, history))
	if err != nil {
		b.logger.Warn("grounding decision failed", "error", err)
		return ""
	}

	var decision groundDecision
	if err := json.Unmarshal([]byte(response), &decision); err != nil {
		// Salvage only the quoted token, so prose containing the bare word
		// "true" does not trigger grounding.
		decision.WillGround = strings.Contains(strings.ToLower(response), `"true"`)
	}
	if !decision.WillGround {
		return ""
	}

	answer, err := b.deps.Grounder.GroundedAnswer(ctx, msg.Content)
	if err != nil {
		b.logger.Warn("grounded answer failed", "error", err)
		return ""
	}
	return answer
}

// wantsImage runs the image-generation gate over the history.
func (b *Bot) wantsImage(ctx context.Context, history []*message.Message) bool {
	if b.deps.Images == nil {
		return false
	}

	response, err := b.deps.Completer.Complete(ctx, llm.Payload(b.cfg.OpenAI.ImageDecisionPrompt, history))
	if err != nil {
		b.logger.Warn("image decision failed", "error", err)
		return false
	}
	return strings.Contains(strings.ToLower(response), "yes")
}

// prepareImage generates an image from the latest message, using its
// attachments as edit references.
func (b *Bot) prepareImage(ctx context.Context, msg *message.Message) (*platform.Outgoing, error) {
	var refs []string
	for _, img := range msg.Images {
		refs = append(refs, img.URL)
	}

	image, err := b.deps.Images.GenerateImage(ctx, msg.Content, refs)
	if err != nil {
		return nil, fmt.Errorf("bot: image generation: %w", err)
	}

	return &platform.Outgoing{
		Files: []platform.File{{
			Name:        uuid.NewString() + ".png",
			ContentType: "image/png",
			Data:        image,
		}},
	}, nil
}

// prefetch warms the enrichment caches from every guild's recent history
// so the first reply after startup does not pay for a batch of cold
// provider calls.
func (b *Bot) prefetch(ctx context.Context) {
	history, err := b.deps.Platform.AllGuildsHistory(ctx)
	if err != nil {
		b.logger.Warn("prefetch history fetch failed", "error", err)
		return
	}
	b.deps.Enricher.Enrich(ctx, history)
	b.logger.Debug("prefetch complete", "messages", len(history))
}
