package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// ErrEmptyResponse is returned when a reply carries no text blocks.
var ErrEmptyResponse = errors.New("llm: empty response")

// AnthropicConfig configures an AnthropicGenerator.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
	// Timeout bounds each call. Zero leaves the caller's context in charge.
	Timeout time.Duration
}

// AnthropicGenerator generates text with the Anthropic Messages API. The system
// prompt is replaced whenever the mission phase changes.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	timeout   time.Duration
	logger    *zap.Logger

	mu     sync.RWMutex
	system string
}

// NewAnthropic creates a generator. Extra options are passed to the client.
//
// Precondition: cfg.APIKey and cfg.Model must be non-empty; cfg.MaxTokens must be positive.
func NewAnthropic(cfg AnthropicConfig, logger *zap.Logger, opts ...option.RequestOption) (*AnthropicGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm.NewAnthropic: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm.NewAnthropic: model is required")
	}
	if cfg.MaxTokens < 1 {
		return nil, fmt.Errorf("llm.NewAnthropic: max tokens must be >= 1, got %d", cfg.MaxTokens)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	return &AnthropicGenerator{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		logger:    logger,
	}, nil
}

// SetSystemPrompt replaces the system prompt sent with every request.
func (g *AnthropicGenerator) SetSystemPrompt(prompt string) {
	g.mu.Lock()
	g.system = prompt
	g.mu.Unlock()
}

// Generate sends prompt as a single user message and returns the concatenated text blocks.
func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	g.mu.RLock()
	system := g.system
	g.mu.RUnlock()

	params := anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	g.logger.Debug("anthropic reply", zap.String("model", string(g.model)), zap.String("stop_reason", string(msg.StopReason)))
	return b.String(), nil
}
