// Package openai implements the provider interface against the OpenAI
// chat completions API.
package openai

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

type Provider struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

func NewProvider(cfg config.OpenAIConfig, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Provider{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

func (p *Provider) Name() string { return models.ProviderOpenAI }

// StreamsByDefault is true: chat completions hold the connection open
// for the full generation, and long outputs routinely outlive
// intermediate proxy timeouts when buffered.
func (p *Provider) StreamsByDefault() bool { return true }

type chatPayload struct {
	Model       string               `json:"model"`
	Messages    []models.ChatMessage `json:"messages"`
	Temperature *float64             `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	body, err := p.do(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read openai body: %w", err)
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("openai response without choices")
	}
	return decoded.Choices[0].Message.Content, nil
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
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("decode openai stream chunk: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if err := fn(delta); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("openai stream interrupted: %w", err)
	}
	return nil
}

func (p *Provider) do(ctx context.Context, req models.CompletionRequest, stream bool) (io.ReadCloser, error) {
	payload := chatPayload{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal openai payload: %w", err)
	}

	reqCtx := ctx
	var cancel context.CancelFunc = func() {}
	if !stream {
		reqCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}

	httpRequest, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		p.baseURL+"/chat/completions",
		bytes.NewReader(encoded),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create openai request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+req.APIKey)
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, err := p.httpClient.Do(httpRequest)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("openai timeout: %w", err)
		}
		return nil, fmt.Errorf("openai transport error: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		raw, _ := io.ReadAll(httpResponse.Body)
		httpResponse.Body.Close()
		cancel()
		message := strings.TrimSpace(string(raw))
		if len(message) > 700 {
			message = message[:700]
		}
		return nil, fmt.Errorf("openai status %d: %s", httpResponse.StatusCode, message)
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
