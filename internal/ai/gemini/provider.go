// Package gemini implements the provider interface against the Google
// Gemini generateContent API.
package gemini

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

func NewProvider(cfg config.GeminiConfig, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Provider{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

func (p *Provider) Name() string { return models.ProviderGemini }

// StreamsByDefault is false: generateContent returns complete responses
// quickly for the model sizes in use, and the SSE variant has no
// advantage for short outputs.
func (p *Provider) StreamsByDefault() bool { return false }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type generatePayload struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	body, err := p.do(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read gemini body: %w", err)
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	text := candidateText(decoded)
	if text == "" {
		return "", fmt.Errorf("gemini response without text output")
	}
	return text, nil
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

		var chunk generateResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("decode gemini stream chunk: %w", err)
		}
		if text := candidateText(chunk); text != "" {
			if err := fn(text); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("gemini stream interrupted: %w", err)
	}
	return nil
}

func (p *Provider) do(ctx context.Context, req models.CompletionRequest, stream bool) (io.ReadCloser, error) {
	payload := generatePayload{
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	for _, message := range req.Messages {
		switch message.Role {
		case models.RoleSystem:
			if payload.SystemInstruction == nil {
				payload.SystemInstruction = &content{}
			}
			payload.SystemInstruction.Parts = append(payload.SystemInstruction.Parts, part{Text: message.Content})
		case models.RoleAssistant:
			payload.Contents = append(payload.Contents, content{Role: "model", Parts: []part{{Text: message.Content}}})
		default:
			payload.Contents = append(payload.Contents, content{Role: "user", Parts: []part{{Text: message.Content}}})
		}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini payload: %w", err)
	}

	method := ":generateContent"
	if stream {
		method = ":streamGenerateContent?alt=sse"
	}
	url := fmt.Sprintf("%s/models/%s%s", p.baseURL, req.Model, method)

	reqCtx := ctx
	var cancel context.CancelFunc = func() {}
	if !stream {
		reqCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}

	httpRequest, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create gemini request: %w", err)
	}
	httpRequest.Header.Set("x-goog-api-key", req.APIKey)
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, err := p.httpClient.Do(httpRequest)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("gemini timeout: %w", err)
		}
		return nil, fmt.Errorf("gemini transport error: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		raw, _ := io.ReadAll(httpResponse.Body)
		httpResponse.Body.Close()
		cancel()
		message := strings.TrimSpace(string(raw))
		if len(message) > 700 {
			message = message[:700]
		}
		return nil, fmt.Errorf("gemini status %d: %s", httpResponse.StatusCode, message)
	}

	return &cancelOnClose{ReadCloser: httpResponse.Body, cancel: cancel}, nil
}

func candidateText(response generateResponse) string {
	if len(response.Candidates) == 0 {
		return ""
	}
	var builder strings.Builder
	for _, fragment := range response.Candidates[0].Content.Parts {
		builder.WriteString(fragment.Text)
	}
	return builder.String()
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
