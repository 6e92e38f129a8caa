package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/inferq/pkg/models"
)

// jobOptions are the per-request fields a client may embed in the job
// input alongside the prompt content. Temperature and max_tokens
// override project and model defaults for this job only.
type jobOptions struct {
	Prompt       string   `json:"prompt"`
	Question     string   `json:"question"`
	Content      string   `json:"content"`
	Context      string   `json:"context"`
	SystemPrompt string   `json:"system_prompt"`
	Temperature  *float64 `json:"temperature"`
	MaxTokens    *int     `json:"max_tokens"`
}

const (
	analysisSystemPrompt = "You are an expert reviewer. Analyze the question below for clarity, correctness, and difficulty, and respond with a structured assessment."
	reviewSystemPrompt   = "You are an expert code and content reviewer. Review the material below and respond with concrete, actionable feedback."
)

func parseJobOptions(input json.RawMessage) (jobOptions, error) {
	var opts jobOptions
	if err := json.Unmarshal(input, &opts); err != nil {
		return jobOptions{}, fmt.Errorf("parse job input: %w", err)
	}
	return opts, nil
}

// buildMessages assembles the conversation for a job. Each kind has a
// default system prompt that an explicit system_prompt in the input
// replaces; the user turn comes from the kind's primary field, falling
// back to the raw input so nothing submitted is silently dropped.
func buildMessages(kind string, opts jobOptions, input json.RawMessage) ([]models.ChatMessage, error) {
	system := strings.TrimSpace(opts.SystemPrompt)
	var user string

	switch kind {
	case models.JobKindAnalysis:
		if system == "" {
			system = analysisSystemPrompt
		}
		user = strings.TrimSpace(opts.Question)
		if user != "" && strings.TrimSpace(opts.Context) != "" {
			user = user + "\n\nContext:\n" + strings.TrimSpace(opts.Context)
		}
	case models.JobKindReview:
		if system == "" {
			system = reviewSystemPrompt
		}
		user = strings.TrimSpace(opts.Content)
	default:
		user = strings.TrimSpace(opts.Prompt)
	}

	if user == "" {
		user = string(input)
	}
	if strings.TrimSpace(user) == "" {
		return nil, fmt.Errorf("job input has no usable prompt content")
	}

	messages := make([]models.ChatMessage, 0, 2)
	if system != "" {
		messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: system})
	}
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: user})
	return messages, nil
}
