package nlq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vantedge/ads-kpi/internal/config"
)

// Summarizer produces a free-text answer from a system/user prompt pair.
// Implementations are injectable; a nil Summarizer simply omits the
// answer, it never blocks the metrics path.
type Summarizer interface {
	Summarize(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// SummarizerError wraps a failed summarization call so the handler can
// report it without conflating it with metric computation failures.
type SummarizerError struct {
	Err error
}

func (e *SummarizerError) Error() string { return "summarizer: " + e.Err.Error() }
func (e *SummarizerError) Unwrap() error { return e.Err }

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	httpc       *http.Client
}

// NewOpenAIClient builds a summarizer from configuration. Returns nil when
// no API key is configured.
func NewOpenAIClient(cfg config.SummarizerConfig) *OpenAIClient {
	if cfg.APIKey == "" {
		return nil
	}
	return &OpenAIClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		httpc:       &http.Client{Timeout: 60 * time.Second},
	}
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

// Temperature returns the configured sampling temperature.
func (c *OpenAIClient) Temperature() float64 { return c.temperature }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAIClient) Summarize(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", &SummarizerError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &SummarizerError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", &SummarizerError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &SummarizerError{Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(b))}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &SummarizerError{Err: err}
	}
	if out.Error != nil {
		return "", &SummarizerError{Err: fmt.Errorf("%s", out.Error.Message)}
	}
	if len(out.Choices) == 0 {
		return "", &SummarizerError{Err: fmt.Errorf("no choices in response")}
	}
	return out.Choices[0].Message.Content, nil
}
