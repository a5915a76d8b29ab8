// Package llm implements the language-model provider client over the
// OpenAI-compatible HTTP API: chat completions, image description via
// vision content parts, voice transcription, and image generation.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Config holds provider settings for the client.
type Config struct {
	BaseURL             string
	APIKey              string
	Model               string
	VisionModel         string
	TranscriptionModel  string
	ImageModel          string
	DescribeImagePrompt string
	Timeout             time.Duration
}

// Client talks to the language-model provider.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a provider client from config.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "llm"),
	}
}

// ---------- Wire Types (OpenAI-compatible) ----------

// Message is a chat-completion message. Content is a string for plain
// messages or a slice of content parts for vision requests.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
	Name    string `json:"name,omitempty"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ---------- Completions ----------

// Complete sends a chat completion request and returns the response text.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("llm: API key not configured")
	}

	body, err := json.Marshal(chatRequest{Model: c.cfg.Model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("llm: marshaling request: %w", err)
	}

	start := time.Now()
	respBody, err := c.post(ctx, "/chat/completions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("llm: parsing response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("llm: API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("llm: no response from model")
	}

	content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	c.logger.Debug("chat completion done",
		"model", c.cfg.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens,
	)
	return content, nil
}

// DescribeImage asks the vision model for a description of the image at
// imageURL. The image fetch and any resizing happen on the provider side.
func (c *Client) DescribeImage(ctx context.Context, imgURL string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("llm: API key not configured")
	}

	model := c.cfg.VisionModel
	if model == "" {
		model = c.cfg.Model
	}
	prompt := c.cfg.DescribeImagePrompt

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []Message{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: imgURL}},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshaling vision request: %w", err)
	}

	respBody, err := c.post(ctx, "/chat/completions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("llm: parsing vision response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("llm: API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("llm: no response from vision model")
	}
	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// ---------- Transcription ----------

// TranscribeAudio fetches the voice clip at clipURL and transcribes it.
func (c *Client) TranscribeAudio(ctx context.Context, clipURL string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("llm: API key not configured")
	}

	audio, err := c.fetch(ctx, clipURL)
	if err != nil {
		return "", fmt.Errorf("llm: fetching voice clip: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "audio.ogg")
	if err != nil {
		return "", fmt.Errorf("llm: building transcription form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("llm: building transcription form: %w", err)
	}
	model := c.cfg.TranscriptionModel
	if model == "" {
		model = "whisper-1"
	}
	if err := w.WriteField("model", model); err != nil {
		return "", fmt.Errorf("llm: building transcription form: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("llm: building transcription form: %w", err)
	}

	respBody, err := c.post(ctx, "/audio/transcriptions", w.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}

	var transcription struct {
		Text  string `json:"text"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &transcription); err != nil {
		return "", fmt.Errorf("llm: parsing transcription: %w", err)
	}
	if transcription.Error != nil {
		return "", fmt.Errorf("llm: API error: %s", transcription.Error.Message)
	}
	return strings.TrimSpace(transcription.Text), nil
}

// ---------- Image Generation ----------

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateImage creates an image from prompt. When reference image URLs are
// present (the triggering message or its reply target carried images) the
// references are fetched and the edits endpoint is used instead.
func (c *Client) GenerateImage(ctx context.Context, prompt string, refURLs []string) ([]byte, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: API key not configured")
	}

	model := c.cfg.ImageModel
	if model == "" {
		model = "gpt-image-1"
	}

	var respBody []byte
	var err error
	if len(refURLs) == 0 {
		var body []byte
		body, err = json.Marshal(imageRequest{Model: model, Prompt: prompt, ResponseFormat: "b64_json"})
		if err != nil {
			return nil, fmt.Errorf("llm: marshaling image request: %w", err)
		}
		respBody, err = c.post(ctx, "/images/generations", "application/json", bytes.NewReader(body))
	} else {
		respBody, err = c.editImage(ctx, model, prompt, refURLs)
	}
	if err != nil {
		return nil, err
	}

	var imgResp imageResponse
	if err := json.Unmarshal(respBody, &imgResp); err != nil {
		return nil, fmt.Errorf("llm: parsing image response: %w", err)
	}
	if imgResp.Error != nil {
		return nil, fmt.Errorf("llm: API error: %s", imgResp.Error.Message)
	}
	if len(imgResp.Data) == 0 {
		return nil, fmt.Errorf("llm: no image in response")
	}

	img, err := base64.StdEncoding.DecodeString(imgResp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("llm: decoding image: %w", err)
	}
	return img, nil
}

// editImage sends the edits request with each reference image attached.
func (c *Client) editImage(ctx context.Context, model, prompt string, refURLs []string) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for i, ref := range refURLs {
		img, err := c.fetch(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("llm: fetching reference image: %w", err)
		}
		part, err := w.CreateFormFile("image[]", fmt.Sprintf("reference-%d.png", i))
		if err != nil {
			return nil, fmt.Errorf("llm: building image form: %w", err)
		}
		if _, err := part.Write(img); err != nil {
			return nil, fmt.Errorf("llm: building image form: %w", err)
		}
	}
	if err := w.WriteField("model", model); err != nil {
		return nil, fmt.Errorf("llm: building image form: %w", err)
	}
	if err := w.WriteField("prompt", prompt); err != nil {
		return nil, fmt.Errorf("llm: building image form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("llm: building image form: %w", err)
	}
	return c.post(ctx, "/images/edits", w.FormDataContentType(), &buf)
}

// ---------- HTTP plumbing ----------

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("llm: creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("API error", "path", path, "status", resp.StatusCode, "body", truncate(string(respBody), 500))
		return nil, fmt.Errorf("llm: API returned %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}
	return respBody, nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
