package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/nexuscore/internal/config"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 1024
)

// AnthropicConfig configures the Anthropic messages client.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// AnthropicClient implements Client with the messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient creates a messages client. SDK retries are disabled;
// Retrying owns the retry policy.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...), model: cfg.Model}, nil
}

func (c *AnthropicClient) Model() string { return c.model }

// Infer sends the prompt as one non-streaming message request. System-role
// messages are folded into the system prompt.
func (c *AnthropicClient) Infer(ctx context.Context, prompt *Prompt) (*models.InferenceOutput, error) {
	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	system, messages := toAnthropicMessages(prompt)
	if len(messages) == 0 {
		return nil, &InferenceError{Reason: ReasonInvalidRequest, Provider: config.ProviderAnthropic, Model: c.model,
			Cause: errors.New("prompt has no messages")}
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, NewInferenceError(config.ProviderAnthropic, c.model, err)
	}
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, &InferenceError{Reason: ReasonEmpty, Provider: config.ProviderAnthropic, Model: c.model,
			Cause: errors.New("no text content returned")}
	}
	model := string(msg.Model)
	if model == "" {
		model = c.model
	}
	return &models.InferenceOutput{
		Content:          text.String(),
		Model:            model,
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}, nil
}

func toAnthropicMessages(prompt *Prompt) (string, []anthropic.MessageParam) {
	system := []string{}
	if s := strings.TrimSpace(prompt.System); s != "" {
		system = append(system, s)
	}
	out := make([]anthropic.MessageParam, 0, len(prompt.Messages))
	for _, m := range prompt.Messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case models.RoleSystem:
			system = append(system, m.Content)
		case models.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(block))
		default:
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return strings.Join(system, "\n\n"), out
}
