package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "sapling-graph/backend/pkg/errors"
	"sapling-graph/backend/pkg/logger"
)

const defaultMaxRetries = 3

// LLMAdapter talks to an OpenAI-compatible chat completion endpoint
type LLMAdapter struct {
	client      *openai.Client
	model       string
	mu          sync.RWMutex // Protects model field for concurrent access
	logger      *zap.Logger
	maxRetries  int
	backoff     time.Duration
	temperature float32
}

// SetModel updates the model used by this adapter
func (a *LLMAdapter) SetModel(model string) {
	if model != "" {
		a.mu.Lock()
		a.model = model
		a.mu.Unlock()
		a.logger.Debug("LLM adapter model updated", zap.String("model", model))
	}
}

// GetModel returns the current model
func (a *LLMAdapter) GetModel() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

// NewLLMAdapter creates a new LLM adapter. baseURL is the server root;
// the /v1 API prefix is appended here.
func NewLLMAdapter(baseURL, apiKey, modelID string) *LLMAdapter {
	// Self-hosted gateways accept any key
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"

	return &LLMAdapter{
		client:      openai.NewClientWithConfig(config),
		model:       modelID,
		logger:      logger.Get(),
		maxRetries:  defaultMaxRetries,
		backoff:     time.Second,
		temperature: 0.3,
	}
}

// Generate sends one system and one user message and returns the reply text
func (a *LLMAdapter) Generate(ctx context.Context, systemPrompt, userMsg string) (string, error) {
	start := time.Now()
	currentModel := a.GetModel()
	req := openai.ChatCompletionRequest{
		Model: currentModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMsg},
		},
		Temperature: a.temperature,
	}

	// Retry with linear backoff. Rejected requests and a cancelled context
	// stop immediately.
	var resp openai.ChatCompletionResponse
	var err error
	attempts := 0
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * a.backoff
			a.logger.Warn("Retrying LLM request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait),
			)
			select {
			case <-ctx.Done():
				return "", contextError(ctx, start, apperrors.NewAIUnavailable(currentModel, attempts, ctx.Err()))
			case <-time.After(wait):
			}
		}

		attempts++
		resp, err = a.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}
		err = classifyCompletionError(currentModel, attempts, err)

		a.logger.Error("LLM request failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.String("model", currentModel),
			zap.Bool("retryable", apperrors.IsRetryable(err)),
		)
		if !apperrors.IsRetryable(err) || ctx.Err() != nil {
			break
		}
	}

	if err != nil {
		return "", contextError(ctx, start, err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.NewAIResponseInvalid("no choices in LLM response", nil)
	}

	content := resp.Choices[0].Message.Content
	a.logger.Debug("LLM response generated",
		zap.String("model", currentModel),
		zap.Int("attempts", attempts),
		zap.Int("content_length", len(content)),
	)
	return content, nil
}

// contextError reports a request that ran out of time as a context
// timeout. Other failures are returned unchanged.
func contextError(ctx context.Context, start time.Time, err error) error {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err
	}
	timeout := time.Since(start)
	if deadline, ok := ctx.Deadline(); ok {
		timeout = deadline.Sub(start)
	}
	return apperrors.WrapContextTimeout("llm completion", timeout, err)
}

// classifyCompletionError separates refusals from transient failures.
// Timeouts, throttling and server errors are worth another attempt; any
// other 4xx is not.
func classifyCompletionError(model string, attempts int, err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return apperrors.NewAIRejected(model, status, err)
	}
	return apperrors.NewAIUnavailable(model, attempts, err)
}
