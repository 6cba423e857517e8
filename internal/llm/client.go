package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/config"
	"github.com/recaplabs/recap/internal/metrics"
	"github.com/recaplabs/recap/internal/tracing"
)

// Completer is the completion capability the pipeline stages depend on.
// Purpose tags the call site for metrics ("brief", "report", ...).
type Completer interface {
	Complete(ctx context.Context, purpose, systemPrompt, userPrompt string) (string, error)
}

// Client calls the OpenAI chat completions API. Every call gets at most one
// retry; failures beyond that are the caller's to handle.
type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

// NewClient builds a completion client from configuration. The API key falls
// back to OPENAI_API_KEY.
func NewClient(cfg config.OpenAIConfig, logger *zap.Logger) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not provided in config or OPENAI_API_KEY environment variable")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		// Retries are handled here so they show up in metrics.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openai.NewClient(opts...)

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		api:         &client,
		model:       cfg.CompletionModel,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

// Complete runs one chat completion. A failed attempt is retried once unless
// the context is already done.
func (c *Client) Complete(ctx context.Context, purpose, systemPrompt, userPrompt string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.purpose", purpose),
		attribute.String("llm.model", c.model),
	)

	start := time.Now()
	text, tokens, err := c.complete(ctx, systemPrompt, userPrompt)
	if err != nil && ctx.Err() == nil {
		metrics.LLMRetries.WithLabelValues(purpose).Inc()
		c.logger.Warn("Completion failed, retrying once",
			zap.String("purpose", purpose),
			zap.Error(err),
		)
		text, tokens, err = c.complete(ctx, systemPrompt, userPrompt)
	}

	duration := time.Since(start)
	if err != nil {
		metrics.RecordLLMCall(purpose, "error", duration.Seconds(), 0)
		span.RecordError(err)
		return "", fmt.Errorf("completion %s: %w", purpose, err)
	}

	metrics.RecordLLMCall(purpose, "success", duration.Seconds(), tokens)
	c.logger.Debug("Completion finished",
		zap.String("purpose", purpose),
		zap.Duration("duration", duration),
		zap.Int("tokens", tokens),
		zap.Int("response_chars", len(text)),
	)
	return text, nil
}

// Healthy verifies the API is reachable. Listing models costs no tokens.
func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.api.Models.List(ctx)
	return err
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, int, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(userPrompt))

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(c.model),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", 0, err
	}
	if len(resp.Choices) == 0 {
		return "", 0, fmt.Errorf("completion returned no choices")
	}

	return resp.Choices[0].Message.Content, int(resp.Usage.TotalTokens), nil
}
