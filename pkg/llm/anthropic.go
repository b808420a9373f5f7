package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/waypost-ai/waypost-engine/pkg/logging"
	"github.com/waypost-ai/waypost-engine/pkg/retry"
)

// AnthropicClient provides access to the Anthropic Messages API behind the
// same LLMClient interface as the OpenAI-compatible client.
type AnthropicClient struct {
	client   *anthropic.Client
	endpoint string
	model    string
	logger   *zap.Logger
}

const anthropicMaxTokens = 4096

// NewAnthropicClient creates a client for the Anthropic Messages API.
// An empty Endpoint uses the default Anthropic API base URL.
func NewAnthropicClient(cfg *Config, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	var opts []anthropic.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.Endpoint))
	}

	return &AnthropicClient{
		client:   anthropic.NewClient(cfg.APIKey, opts...),
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		logger:   logger.Named("llm"),
	}, nil
}

// GenerateResponse generates a chat completion response.
func (c *AnthropicClient) GenerateResponse(
	ctx context.Context,
	prompt string,
	systemMessage string,
	temperature float64,
) (string, error) {
	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Float64("temperature", temperature))

	start := time.Now()
	temp := float32(temperature)

	// Same retry posture as the OpenAI client: transient failures back off,
	// permanent ones surface immediately.
	var content string
	err := retry.DoIfRetryable(ctx, nil, func() error {
		resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
			Model:       anthropic.Model(c.model),
			System:      systemMessage,
			MaxTokens:   anthropicMaxTokens,
			Temperature: &temp,
			Messages: []anthropic.Message{
				anthropic.NewUserTextMessage(prompt),
			},
		})
		if err != nil {
			return ClassifyError(err)
		}
		if len(resp.Content) == 0 {
			return NewError(ErrorTypeParse, "no content blocks in response", false, nil)
		}

		content = resp.Content[0].GetText()
		c.logger.Info("LLM request completed",
			zap.Int("prompt_tokens", resp.Usage.InputTokens),
			zap.Int("completion_tokens", resp.Usage.OutputTokens),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("response_preview", logging.TruncateString(content, 120)))
		return nil
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", logging.SanitizeError(err)))
		return "", err
	}

	return content, nil
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

// GetEndpoint returns the configured endpoint.
func (c *AnthropicClient) GetEndpoint() string {
	return c.endpoint
}
