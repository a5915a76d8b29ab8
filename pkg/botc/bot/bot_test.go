package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"botc/pkg/botc/config"
	"botc/pkg/botc/llm"
	"botc/pkg/botc/message"
	"botc/pkg/botc/platform"
)

type fakePlatform struct {
	channelHistory []*message.Message
	guildHistory   []*message.Message
	historyErr     error

	historyCalls int32
}

func (f *fakePlatform) ChannelHistory(ctx context.Context, channelID string) ([]*message.Message, error) {
	atomic.AddInt32(&f.historyCalls, 1)
	return f.channelHistory, f.historyErr
}

func (f *fakePlatform) GuildHistory(ctx context.Context, guildID, authorID string) ([]*message.Message, error) {
	return f.guildHistory, nil
}

func (f *fakePlatform) AllGuildsHistory(ctx context.Context) ([]*message.Message, error) {
	return f.guildHistory, nil
}

func (f *fakePlatform) Send(ctx context.Context, channelID string, out *platform.Outgoing) error {
	return nil
}

func (f *fakePlatform) Typing(ctx context.Context, channelID string) error {
	return nil
}

type fakeDeliverer struct {
	mu      sync.Mutex
	sent    []*platform.Outgoing
	typing  int32
	stopped int32
	sendErr error
}

func (f *fakeDeliverer) StartTyping(ctx context.Context, channelID string) func() {
	atomic.AddInt32(&f.typing, 1)
	return func() { atomic.AddInt32(&f.stopped, 1) }
}

func (f *fakeDeliverer) Send(ctx context.Context, channelID string, out *platform.Outgoing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, out)
	return f.sendErr
}

func (f *fakeDeliverer) lastSent() *platform.Outgoing {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

// scriptedCompleter pops responses in call order and records the system
// prompt of every payload it sees.
type scriptedCompleter struct {
	mu        sync.Mutex
	responses []string
	systems   []string
	err       error
}

func (f *scriptedCompleter) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(messages) > 0 {
		if s, ok := messages[0].Content.(string); ok {
			f.systems = append(f.systems, s)
		}
	}
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	response := f.responses[0]
	f.responses = f.responses[1:]
	return response, nil
}

func (f *scriptedCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.systems)
}

type fakeEnricher struct{ calls int32 }

func (f *fakeEnricher) Enrich(ctx context.Context, msgs []*message.Message) {
	atomic.AddInt32(&f.calls, 1)
}

type fakeDecider struct{ reply bool }

func (f *fakeDecider) ShouldReply(ctx context.Context, history []*message.Message) bool {
	return f.reply
}

type fakePersonas struct{ persona string }

func (f *fakePersonas) Persona(ctx context.Context, guildID, userID string, fullHistory []*message.Message) (string, error) {
	return f.persona, nil
}

type fakeImages struct{ image []byte }

func (f *fakeImages) GenerateImage(ctx context.Context, prompt string, refURLs []string) ([]byte, error) {
	return f.image, nil
}

type fakeGrounder struct {
	answer string
	calls  int32
}

func (f *fakeGrounder) GroundedAnswer(ctx context.Context, query string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.answer, nil
}

type fakeSpeaker struct {
	audio []byte
	err   error
}

func (f *fakeSpeaker) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.audio, "audio/mpeg", nil
}

func dmMessage(content string) *message.Message {
	return &message.Message{
		ID:            "msg-1",
		ChannelID:     "dm-1",
		AuthorID:      "user-1",
		AuthorName:    "alice",
		Content:       content,
		Timestamp:     time.Now(),
		DirectMessage: true,
	}
}

func guildMessage(content string) *message.Message {
	return &message.Message{
		ID:         "msg-1",
		ChannelID:  "chan-1",
		GuildID:    "guild-1",
		AuthorID:   "user-1",
		AuthorName: "alice",
		Content:    content,
		Timestamp:  time.Now(),
	}
}

func TestHandleMessageDMReply(t *testing.T) {
	t.Parallel()

	msg := dmMessage("hello")
	p := &fakePlatform{channelHistory: []*message.Message{msg}}
	deliverer := &fakeDeliverer{}
	completer := &scriptedCompleter{responses: []string{"hi there"}}
	enricher := &fakeEnricher{}

	b := New(config.DefaultConfig(), Deps{
		Platform:  p,
		Enricher:  enricher,
		Decider:   &fakeDecider{reply: true},
		Deliverer: deliverer,
		Completer: completer,
	}, nil)

	b.HandleMessage(context.Background(), msg)

	sent := deliverer.lastSent()
	if sent == nil {
		t.Fatal("expected a response to be sent")
	}
	if sent.Content != "hi there" {
		t.Errorf("sent %q, want %q", sent.Content, "hi there")
	}
	if got := atomic.LoadInt32(&enricher.calls); got != 1 {
		t.Errorf("enricher called %d times, want 1", got)
	}
	if atomic.LoadInt32(&deliverer.typing) != 1 || atomic.LoadInt32(&deliverer.stopped) != 1 {
		t.Error("typing keep-alive was not started and stopped exactly once")
	}
	// DMs carry no guild history, so the completion is the only model call.
	if completer.calls() != 1 {
		t.Errorf("completer called %d times, want 1", completer.calls())
	}
}

func TestHandleMessageDeclines(t *testing.T) {
	t.Parallel()

	msg := dmMessage("hello")
	p := &fakePlatform{channelHistory: []*message.Message{msg}}
	deliverer := &fakeDeliverer{}
	completer := &scriptedCompleter{responses: []string{"hi there"}}

	b := New(config.DefaultConfig(), Deps{
		Platform:  p,
		Enricher:  &fakeEnricher{},
		Decider:   &fakeDecider{reply: false},
		Deliverer: deliverer,
		Completer: completer,
	}, nil)

	b.HandleMessage(context.Background(), msg)

	if deliverer.lastSent() != nil {
		t.Error("declined message should not produce a send")
	}
	if completer.calls() != 0 {
		t.Errorf("completer called %d times, want 0", completer.calls())
	}
	if atomic.LoadInt32(&deliverer.typing) != 0 {
		t.Error("typing should not start before the reply decision")
	}
}

func TestHandleMessageIgnoresOwn(t *testing.T) {
	t.Parallel()

	msg := dmMessage("hello")
	msg.FromSelf = true
	p := &fakePlatform{channelHistory: []*message.Message{msg}}

	b := New(config.DefaultConfig(), Deps{
		Platform:  p,
		Enricher:  &fakeEnricher{},
		Decider:   &fakeDecider{reply: true},
		Deliverer: &fakeDeliverer{},
		Completer: &scriptedCompleter{},
	}, nil)

	b.HandleMessage(context.Background(), msg)

	if atomic.LoadInt32(&p.historyCalls) != 0 {
		t.Error("own messages should be dropped before any history fetch")
	}
}

func TestPreparationFailureSendsFixedText(t *testing.T) {
	t.Parallel()

	msg := dmMessage("hello")
	p := &fakePlatform{channelHistory: []*message.Message{msg}}
	deliverer := &fakeDeliverer{}
	completer := &scriptedCompleter{err: errors.New("provider down")}

	b := New(config.DefaultConfig(), Deps{
		Platform:  p,
		Enricher:  &fakeEnricher{},
		Decider:   &fakeDecider{reply: true},
		Deliverer: deliverer,
		Completer: completer,
	}, nil)

	b.HandleMessage(context.Background(), msg)

	sent := deliverer.lastSent()
	if sent == nil {
		t.Fatal("expected the failure notice to be sent")
	}
	if sent.Content != preparationFailureReply {
		t.Errorf("sent %q, want %q", sent.Content, preparationFailureReply)
	}
	if atomic.LoadInt32(&deliverer.stopped) != 1 {
		t.Error("typing keep-alive must stop on the failure path")
	}
}

func TestGuildReplyCarriesPersona(t *testing.T) {
	t.Parallel()

	msg := guildMessage("hello")
	p := &fakePlatform{
		channelHistory: []*message.Message{msg},
		guildHistory:   []*message.Message{msg},
	}
	deliverer := &fakeDeliverer{}
	completer := &scriptedCompleter{responses: []string{"hi there"}}

	b := New(config.DefaultConfig(), Deps{
		Platform:  p,
		Enricher:  &fakeEnricher{},
		Decider:   &fakeDecider{reply: true},
		Personas:  &fakePersonas{persona: "alice enjoys hiking"},
		Deliverer: deliverer,
		Completer: completer,
	}, nil)

	b.HandleMessage(context.Background(), msg)

	if deliverer.lastSent() == nil {
		t.Fatal("expected a response to be sent")
	}
	system := completer.systems[len(completer.systems)-1]
	if !strings.Contains(system, "<Sender Persona>") || !strings.Contains(system, "alice enjoys hiking") {
		t.Errorf("system prompt missing persona block: %q", system)
	}
}

func TestGroundingAugmentsSystemPrompt(t *testing.T) {
	t.Parallel()

	msg := dmMessage("what is the weather in oslo")
	p := &fakePlatform{channelHistory: []*message.Message{msg}}
	deliverer := &fakeDeliverer{}
	// First call is the grounding gate, second the completion.
	completer := &scriptedCompleter{responses: []string{`{"willGround": true, "reason": "weather"}`, "sunny"}}
	grounder := &fakeGrounder{answer: "Oslo is 18C and clear."}

	cfg := config.DefaultConfig()
	cfg.Features.Grounding = true

	b := New(cfg, Deps{
		Platform:  p,
		Enricher:  &fakeEnricher{},
		Decider:   &fakeDecider{reply: true},
		Deliverer: deliverer,
		Completer: completer,
		Grounder:  grounder,
	}, nil)

	b.HandleMessage(context.Background(), msg)

	if atomic.LoadInt32(&grounder.calls) != 1 {
		t.Fatalf("grounder called %d times, want 1", grounder.calls)
	}
	system := completer.systems[len(completer.systems)-1]
	if !strings.Contains(system, "<Grounding Context>") || !strings.Contains(system, "Oslo is 18C") {
		t.Errorf("system prompt missing grounding block: %q", system)
	}
	if got := deliverer.lastSent().Content; got != "sunny" {
		t.Errorf("sent %q, want %q", got, "sunny")
	}
}

func TestGroundingGateDeclines(t *testing.T) {
	t.Parallel()

	msg := dmMessage("tell me a joke")
	p := &fakePlatform{channelHistory: []*message.Message{msg}}
	completer := &scriptedCompleter{responses: []string{`{"willGround": false, "reason": "social"}`, "why did the gopher..."}}
	grounder := &fakeGrounder{answer: "unused"}

	cfg := config.DefaultConfig()
	cfg.Features.Grounding = true

	b := New(cfg, Deps{
		Platform:  p,
		Enricher:  &fakeEnricher{},
		Decider:   &fakeDecider{reply: true},
		Deliverer: &fakeDeliverer{},
		Completer: completer,
		Grounder:  grounder,
	}, nil)

	b.HandleMessage(context.Background(), msg)

	if atomic.LoadInt32(&grounder.calls) != 0 {
		t.Errorf("grounder called %d times, want 0", grounder.calls)
	}
}

func TestGroundingFallbackNeedsQuotedToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		gateAnswer string
		wantCalls  int32
	}{
		{"prose with bare true", "that is not true, no lookup needed", 0},
		{"truncated JSON with quoted true", `{"willGround": "true", "reason`, 1},
		{"prose without true", "no grounding required here", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := dmMessage("what happened today")
			p := &fakePlatform{channelHistory: []*message.Message{msg}}
			completer := &scriptedCompleter{responses: []string{tt.gateAnswer, "here you go"}}
			grounder := &fakeGrounder{answer: "context"}

			cfg := config.DefaultConfig()
			cfg.Features.Grounding = true

			b := New(cfg, Deps{
				Platform:  p,
				Enricher:  &fakeEnricher{},
				Decider:   &fakeDecider{reply: true},
				Deliverer: &fakeDeliverer{},
				Completer: completer,
				Grounder:  grounder,
			}, nil)

			b.HandleMessage(context.Background(), msg)

			if got := atomic.LoadInt32(&grounder.calls); got != tt.wantCalls {
				t.Errorf("grounder called %d times, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestImageRequestSendsGeneratedFile(t *testing.T) {
	t.Parallel()

	msg := dmMessage("draw me a lighthouse")
	p := &fakePlatform{channelHistory: []*message.Message{msg}}
	deliverer := &fakeDeliverer{}
	// The image gate answers yes; no further completion runs.
	completer := &scriptedCompleter{responses: []string{"yes"}}

	b := New(config.DefaultConfig(), Deps{
		Platform:  p,
		Enricher:  &fakeEnricher{},
		Decider:   &fakeDecider{reply: true},
		Deliverer: deliverer,
		Completer: completer,
		Images:    &fakeImages{image: []byte("png-bytes")},
	}, nil)

	b.HandleMessage(context.Background(), msg)

	sent := deliverer.lastSent()
	if sent == nil {
		t.Fatal("expected a response to be sent")
	}
	if len(sent.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(sent.Files))
	}
	file := sent.Files[0]
	if !strings.HasSuffix(file.Name, ".png") || file.ContentType != "image/png" {
		t.Errorf("unexpected file %q (%s)", file.Name, file.ContentType)
	}
	if completer.calls() != 1 {
		t.Errorf("completer called %d times, want 1 (gate only)", completer.calls())
	}
}

func TestVoiceMessageGetsVoiceReply(t *testing.T) {
	t.Parallel()

	msg := dmMessage("")
	msg.Voice = &message.VoiceAttachment{URL: "https://cdn.example/clip.ogg", ContentType: "audio/ogg"}
	p := &fakePlatform{channelHistory: []*message.Message{msg}}
	deliverer := &fakeDeliverer{}
	completer := &scriptedCompleter{responses: []string{"sounds great"}}

	cfg := config.DefaultConfig()
	cfg.Features.VoiceResponse = true

	b := New(cfg, Deps{
		Platform:  p,
		Enricher:  &fakeEnricher{},
		Decider:   &fakeDecider{reply: true},
		Deliverer: deliverer,
		Completer: completer,
		Speaker:   &fakeSpeaker{audio: []byte("mp3-bytes")},
	}, nil)

	b.HandleMessage(context.Background(), msg)

	sent := deliverer.lastSent()
	if sent == nil {
		t.Fatal("expected a response to be sent")
	}
	if len(sent.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(sent.Files))
	}
	if file := sent.Files[0]; !strings.HasSuffix(file.Name, ".mp3") || file.ContentType != "audio/mpeg" {
		t.Errorf("unexpected file %q (%s)", file.Name, file.ContentType)
	}
}

func TestVoiceSynthesisFailureFallsBackToText(t *testing.T) {
	t.Parallel()

	msg := dmMessage("")
	msg.Voice = &message.VoiceAttachment{URL: "https://cdn.example/clip.ogg", ContentType: "audio/ogg"}
	p := &fakePlatform{channelHistory: []*message.Message{msg}}
	deliverer := &fakeDeliverer{}
	completer := &scriptedCompleter{responses: []string{"sounds great"}}

	cfg := config.DefaultConfig()
	cfg.Features.VoiceResponse = true

	b := New(cfg, Deps{
		Platform:  p,
		Enricher:  &fakeEnricher{},
		Decider:   &fakeDecider{reply: true},
		Deliverer: deliverer,
		Completer: completer,
		Speaker:   &fakeSpeaker{err: errors.New("quota exceeded")},
	}, nil)

	b.HandleMessage(context.Background(), msg)

	sent := deliverer.lastSent()
	if sent == nil {
		t.Fatal("expected a response to be sent")
	}
	if sent.Content != "sounds great" || len(sent.Files) != 0 {
		t.Errorf("expected text fallback, got content=%q files=%d", sent.Content, len(sent.Files))
	}
}
