package assist

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Fallback is returned whenever the completion call fails. Generator
// failures never surface to the end user as errors.
const Fallback = "I couldn't process that."

// ResponderConfig tunes the completion call. Zero values pick the
// defaults below.
type ResponderConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	OwnerName   string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

const (
	defaultBaseURL     = "https://api.together.xyz/v1"
	defaultModel       = "lgai/exaone-3-5-32b-instruct"
	defaultMaxTokens   = 200
	defaultTemperature = 0.7
	defaultTimeout     = 30 * time.Second
)

// Responder generates replies through an OpenAI-compatible completion
// endpoint. It satisfies Generator.
type Responder struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	system      string
	directive   string
}

func NewResponder(cfg ResponderConfig) *Responder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.OwnerName == "" {
		cfg.OwnerName = "the owner"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL

	return &Responder{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		system:      fmt.Sprintf("You are a helpful assistant helping %s while they are offline.", cfg.OwnerName),
		directive:   fmt.Sprintf("Reply on behalf of %s in a brief and professional manner.", cfg.OwnerName),
	}
}

// Generate builds the completion request (system instruction, history,
// final directive) and returns the generated text. Any failure degrades
// to the fixed fallback string.
func (r *Responder) Generate(ctx context.Context, turns []Turn) string {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: r.system,
	})
	for _, t := range turns {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    t.Role,
			Content: t.Content,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: r.directive,
	})

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.CreateChatCompletion(cctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    msgs,
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	})
	if err != nil {
		log.Printf("[Responder] action=complete model=%s error=%v", r.model, err)
		return Fallback
	}
	if len(resp.Choices) == 0 {
		log.Printf("[Responder] action=complete model=%s error=no_choices", r.model)
		return Fallback
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		log.Printf("[Responder] action=complete model=%s error=empty_content", r.model)
		return Fallback
	}
	return out
}

var _ Generator = (*Responder)(nil)
