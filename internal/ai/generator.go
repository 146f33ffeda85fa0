package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"adventure-bot/internal/interfaces"
	"adventure-bot/internal/metrics"
	"adventure-bot/internal/models"

	"github.com/pkoukk/tiktoken-go"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrGenerationFailed is returned when the model could not be reached or answered empty.
// It classifies as models.KindGenerator, which callers may retry.
var ErrGenerationFailed = fmt.Errorf("content generation failed: %w", models.ErrGeneratorUnavailable)

const (
	defaultModel       = "gpt-4o-mini"
	defaultTemperature = 0.8
	fallbackEncoding   = "cl100k_base"
)

// Config configures the OpenAI-compatible endpoint.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float32

	// SkipTokenEstimate disables tiktoken, which fetches its BPE ranks on first use.
	SkipTokenEstimate bool
}

var _ interfaces.ContentGenerator = (*Generator)(nil)

// Generator produces turns with an OpenAI-compatible chat completion endpoint in JSON mode.
type Generator struct {
	client      *openaigo.Client
	model       string
	temperature float32
	estimate    bool
	logger      *zap.Logger
	metrics     *metrics.Collectors

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewGenerator returns a Generator for cfg.
func NewGenerator(cfg Config, logger *zap.Logger, m *metrics.Collectors) *Generator {
	clientCfg := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Generator{
		client:      openaigo.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		estimate:    !cfg.SkipTokenEstimate,
		logger:      logger.Named("Generator"),
		metrics:     m,
	}
}

func (g *Generator) GenerateTurn(ctx context.Context, turn models.TurnContext) (*models.TurnResult, error) {
	payload, err := json.Marshal(turn)
	if err != nil {
		return nil, fmt.Errorf("failed to encode turn context: %w", err)
	}
	userInput := string(payload)
	logFields := []zap.Field{zap.String("model", g.model), zap.Bool("opening", turn.Opening)}

	if tokens, ok := g.estimateTokens(systemPrompt, userInput); ok {
		g.metrics.GeneratorTokens.WithLabelValues(g.model).Observe(float64(tokens))
		logFields = append(logFields, zap.Int("prompt_tokens_estimate", tokens))
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model: g.model,
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openaigo.ChatMessageRoleUser, Content: userInput},
		},
		Temperature: g.temperature,
		ResponseFormat: &openaigo.ChatCompletionResponseFormat{
			Type: openaigo.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	duration := time.Since(start)
	logFields = append(logFields, zap.Duration("duration", duration))

	if err != nil {
		g.metrics.GeneratorRequests.WithLabelValues(g.model, "error").Inc()
		g.logger.Error("Chat completion failed", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		g.metrics.GeneratorRequests.WithLabelValues(g.model, "error_empty_response").Inc()
		g.logger.Warn("Chat completion returned no content", logFields...)
		return nil, fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}
	if resp.Usage.TotalTokens > 0 {
		logFields = append(logFields,
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)
	}

	result, err := ParseTurnResult(resp.Choices[0].Message.Content)
	if err != nil {
		g.metrics.GeneratorRequests.WithLabelValues(g.model, "malformed").Inc()
		g.logger.Warn("Chat completion returned malformed turn", append(logFields, zap.Error(err))...)
		return nil, err
	}
	g.metrics.GeneratorRequests.WithLabelValues(g.model, "success").Inc()
	g.logger.Debug("Turn generated", logFields...)
	return result, nil
}

// ParseTurnResult decodes a model answer. Markdown code fences around the object are
// tolerated; field validation is left to the caller, which knows the party roster.
func ParseTurnResult(content string) (*models.TurnResult, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}
	var result models.TurnResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedContent, err)
	}
	return &result, nil
}

func (g *Generator) estimateTokens(parts ...string) (int, bool) {
	if !g.estimate {
		return 0, false
	}
	g.encOnce.Do(func() {
		enc, err := tiktoken.EncodingForModel(g.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding(fallbackEncoding)
		}
		if err != nil {
			g.logger.Warn("Token estimation disabled", zap.Error(err))
			return
		}
		g.enc = enc
	})
	if g.enc == nil {
		return 0, false
	}
	n := 0
	for _, p := range parts {
		n += len(g.enc.Encode(p, nil, nil))
	}
	return n, true
}
