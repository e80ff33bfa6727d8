// Package inference calls a chat-completion model.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

var (
	// ErrTimeout is returned when the call does not finish within the configured timeout
	ErrTimeout = errors.New("inference timed out")

	// ErrUnavailable covers network failures, rate limits and server errors
	ErrUnavailable = errors.New("inference service unavailable")

	// ErrRejected is returned when the service refuses the request as invalid
	ErrRejected = errors.New("inference request rejected")

	// ErrEmptyResponse is returned when the service answers with no choices
	ErrEmptyResponse = errors.New("inference returned no choices")
)

// Role of a chat message
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one entry of the prompt
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion request
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
}

// Response is the answer plus the usage the service reported
type Response struct {
	Answer           string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
}

// Config holds inference client configuration
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// OpenAIClient implements completions on the OpenAI chat API
type OpenAIClient struct {
	client  openai.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAIClient creates a client. Retries are left to the job queue.
func NewOpenAIClient(cfg *Config, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("inference api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Complete sends req and waits for the answer, bounded by the client timeout
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		default:
			return nil, fmt.Errorf("%w: unsupported role %q", ErrRejected, m.Role)
		}
	}

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	})
	if err != nil {
		classified := classify(ctx, err)
		c.logger.Warn("Inference call failed",
			slog.String("model", req.Model),
			slog.Duration("latency", time.Since(start)),
			slog.String("error", classified.Error()),
		)
		return nil, classified
	}

	if len(completion.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	c.logger.Debug("Inference call completed",
		slog.String("model", completion.Model),
		slog.Duration("latency", time.Since(start)),
		slog.Int64("prompt_tokens", completion.Usage.PromptTokens),
		slog.Int64("completion_tokens", completion.Usage.CompletionTokens),
	)

	model := completion.Model
	if model == "" {
		model = req.Model
	}

	return &Response{
		Answer:           completion.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
	}, nil
}

// classify maps client errors onto timeout, unavailable or rejected
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == http.StatusRequestTimeout,
			code == http.StatusConflict,
			code == http.StatusTooManyRequests,
			code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: status %d: %v", ErrUnavailable, code, err)
		case code >= http.StatusBadRequest:
			return fmt.Errorf("%w: status %d: %v", ErrRejected, code, err)
		}
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
