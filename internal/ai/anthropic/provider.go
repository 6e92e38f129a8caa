// Package anthropic implements the provider interface against the
// Anthropic messages API.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/inferq/internal/config"
	"github.com/kiranshivaraju/inferq/pkg/models"
)

const apiVersion = "2023-06-01"

// defaultMaxTokens covers requests that carry no explicit bound;
// the messages API rejects payloads without max_tokens.
const defaultMaxTokens = 4096

type Provider struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

func NewProvider(cfg config.AnthropicConfig, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Provider{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

func (p *Provider) Name() string { return models.ProviderAnthropic }

func (p *Provider) StreamsByDefault() bool { return true }

type messagesPayload struct {
	Model       string               `json:"model"`
	System      string               `json:"system,omitempty"`
	Messages    []models.ChatMessage `json:"messages"`
	Temperature *float64             `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens"`
	Stream      bool                 `json:"stream,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	body, err := p.do(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read anthropic body: %w", err)
	}

	var decoded messagesResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}

	var builder strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			builder.WriteString(block.Text)
		}
	}
	if builder.Len() == 0 {
		return "", fmt.Errorf("anthropic response without text content")
	}
	return builder.String(), nil
}

func (p *Provider) Stream(ctx context.Context, req models.CompletionRequest, fn func(chunk string) error) error {
	body, err := p.do(ctx, req, true)
	if err != nil {
		return err
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("decode anthropic stream event: %w", err)
		}
		if event.Type != "content_block_delta" || event.Delta.Type != "text_delta" {
			continue
		}
		if event.Delta.Text != "" {
			if err := fn(event.Delta.Text); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("anthropic stream interrupted: %w", err)
	}
	return nil
}

func (p *Provider) do(ctx context.Context, req models.CompletionRequest, stream bool) (io.ReadCloser, error) {
	// The messages API takes system text as a top-level field, not a
	// conversation turn.
	system := ""
	turns := make([]models.ChatMessage, 0, len(req.Messages))
	for _, message := range req.Messages {
		if message.Role == models.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += message.Content
			continue
		}
		turns = append(turns, message)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	payload := messagesPayload{
		Model:       req.Model,
		System:      system,
		Messages:    turns,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
		Stream:      stream,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic payload: %w", err)
	}

	reqCtx := ctx
	var cancel context.CancelFunc = func() {}
	if !stream {
		reqCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}

	httpRequest, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		p.baseURL+"/messages",
		bytes.NewReader(encoded),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}
	httpRequest.Header.Set("x-api-key", req.APIKey)
	httpRequest.Header.Set("anthropic-version", apiVersion)
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, err := p.httpClient.Do(httpRequest)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("anthropic timeout: %w", err)
		}
		return nil, fmt.Errorf("anthropic transport error: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		raw, _ := io.ReadAll(httpResponse.Body)
		httpResponse.Body.Close()
		cancel()
		message := strings.TrimSpace(string(raw))
		if len(message) > 700 {
			message = message[:700]
		}
		return nil, fmt.Errorf("anthropic status %d: %s", httpResponse.StatusCode, message)
	}

	return &cancelOnClose{ReadCloser: httpResponse.Body, cancel: cancel}, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}

var _ models.Provider = (*Provider)(nil)
