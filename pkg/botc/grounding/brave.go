// Package grounding wraps the Brave grounded-answer API, used to augment
// responses with up-to-date information when the grounding feature gate is
// enabled. The API speaks the chat-completions wire format.
package grounding

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

// Config holds Brave API settings.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client answers grounding queries.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Brave client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.search.brave.com/res/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "grounding"),
	}
}

type groundingRequest struct {
	Model    string             `json:"model"`
	Messages []groundingMessage `json:"messages"`
	Stream   bool               `json:"stream"`
	Country  string             `json:"country"`
	Language string             `json:"language"`
	Research bool               `json:"enable_research"`
}

type groundingMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groundingResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GroundedAnswer submits a query and returns the grounded response text.
func (c *Client) GroundedAnswer(ctx context.Context, query string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("grounding: API key not configured")
	}

	body, err := json.Marshal(groundingRequest{
		Model:    "brave",
		Messages: []groundingMessage{{Role: "user", Content: query}},
		Country:  "us",
		Language: "en",
	})
	if err != nil {
		return "", fmt.Errorf("grounding: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("grounding: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("grounding: API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("grounding: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Brave API error", "status", resp.StatusCode)
		return "", fmt.Errorf("grounding: API returned %d", resp.StatusCode)
	}

	var groundResp groundingResponse
	if err := json.Unmarshal(respBody, &groundResp); err != nil {
		return "", fmt.Errorf("grounding: parsing response: %w", err)
	}
	if groundResp.Error != nil {
		return "", fmt.Errorf("grounding: API error: %s", groundResp.Error.Message)
	}
	if len(groundResp.Choices) == 0 {
		return "", fmt.Errorf("grounding: empty response")
	}
	return strings.TrimSpace(groundResp.Choices[0].Message.Content), nil
}
