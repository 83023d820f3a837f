package models

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/docqa/log"
)

// RetryConfig configures retry behavior for model calls
type RetryConfig struct {
	MaxRetries      int // Attempts after the first one
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors func(error) bool // Determines if an error should trigger retry
}

// DefaultRetryConfig returns two retries starting at 500ms.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:    2,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		RetryableErrors: IsTransient,
	}
}

var statusPattern = regexp.MustCompile(`(?:^|status code:? )(\d{3})\b`)

// IsTransient reports whether a failed model call is worth repeating: rate limits,
// server errors and network failures. Other HTTP statuses, such as a rejected api
// key, fail at once. Errors carrying no status are treated as transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return transientStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return transientStatus(code)
	}
	return true
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// Deterministic wraps a chat model so that every call runs at temperature 0 and
// failed calls are retried.
type Deterministic struct {
	llm    llms.Model
	config *RetryConfig
}

var _ llms.Model = (*Deterministic)(nil)

// NewDeterministic wraps llm. A nil config uses DefaultRetryConfig.
func NewDeterministic(llm llms.Model, config *RetryConfig) *Deterministic {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &Deterministic{llm: llm, config: config}
}

// Unwrap returns the wrapped model.
func (d *Deterministic) Unwrap() llms.Model { return d.llm }

// GenerateContent implements llms.Model.
func (d *Deterministic) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := append(append([]llms.CallOption{}, options...), llms.WithTemperature(0))

	var lastErr error
	delay := d.config.InitialDelay

	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		resp, err := d.llm.GenerateContent(ctx, messages, opts...)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if d.config.RetryableErrors != nil && !d.config.RetryableErrors(err) {
			return nil, err
		}

		if attempt < d.config.MaxRetries {
			log.Warn("model call failed (attempt %d/%d): %v", attempt+1, d.config.MaxRetries+1, err)
			select {
			case <-time.After(delay):
				delay = min(time.Duration(float64(delay)*d.config.BackoffFactor), d.config.MaxDelay)
			case <-ctx.Done():
				return nil, fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("model call failed after %d attempts: %w", d.config.MaxRetries+1, lastErr)
}

// Call implements llms.Model.
func (d *Deterministic) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, d, prompt, options...)
}
