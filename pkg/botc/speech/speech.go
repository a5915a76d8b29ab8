// Package speech provides text-to-speech synthesis for voice replies via
// the ElevenLabs API.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Synthesizer converts text to audio.
type Synthesizer interface {
	// Synthesize returns encoded audio bytes and their MIME type.
	Synthesize(ctx context.Context, text string) ([]byte, string, error)
}

// Config holds ElevenLabs settings.
type Config struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string
	Timeout time.Duration
}

// ElevenLabs synthesizes speech through the ElevenLabs API; responses are
// MP3 encoded.
type ElevenLabs struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an ElevenLabs synthesizer.
func New(cfg Config, logger *slog.Logger) *ElevenLabs {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ElevenLabs{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "speech"),
	}
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize converts text to MP3 audio.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	if e.cfg.APIKey == "" {
		return nil, "", fmt.Errorf("speech: API key not configured")
	}
	if e.cfg.VoiceID == "" {
		return nil, "", fmt.Errorf("speech: voice ID not configured")
	}

	body, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: e.cfg.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.5,
		},
	})
	if err != nil {
		return nil, "", fmt.Errorf("speech: marshaling request: %w", err)
	}

	url := e.cfg.BaseURL + "/text-to-speech/" + e.cfg.VoiceID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("speech: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", e.cfg.APIKey)

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("speech: API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("speech: API returned %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("speech: reading audio: %w", err)
	}

	e.logger.Debug("speech synthesized",
		"chars", len(text),
		"bytes", len(audio),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return audio, "audio/mpeg", nil
}

var _ Synthesizer = (*ElevenLabs)(nil)
