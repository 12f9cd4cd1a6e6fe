package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/ablatext/ablatext/internal/config"
	"github.com/ablatext/ablatext/pkg/models"
)

const (
	// DefaultBaseRetryDelay is the base delay for exponential backoff
	DefaultBaseRetryDelay = 2 * time.Second
	// rateLimitBackoffBase is the multiplier base for 429 backoff (3^n)
	rateLimitBackoffBase = 3
	// wordsPerToken is a coarse words-to-tokens expansion used to derive
	// max_tokens from the word count band
	wordsPerToken = 2
)

// ServiceError is an error returned by an external generation or scoring
// service. Retryable errors are transient: they are retried locally and
// never consume a job attempt.
type ServiceError struct {
	Service    string
	Message    string
	StatusCode int
	Retryable  bool
}

func (e *ServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Service, e.Message)
}

// IsTransient reports whether err is a retryable service error
func IsTransient(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Retryable
}

// RetryableStatus reports whether an HTTP status warrants a retry
func RetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

// Client sends chat completion requests to OpenAI-compatible endpoints.
// One client is shared by the generator and the evaluator; rate limits are
// tracked per endpoint.
type Client struct {
	httpClient      *http.Client
	rateLimiterPool *RateLimiterPool
	logger          *slog.Logger
	maxRetries      int
	baseRetryDelay  time.Duration
}

// NewClient creates an API client. maxRetries bounds transient retries per
// call; those retries happen below the quality gate and never consume a
// generation attempt.
func NewClient(maxRetries int, logger *slog.Logger) *Client {
	return &Client{
		httpClient:      &http.Client{},
		rateLimiterPool: NewRateLimiterPool(),
		logger:          logger,
		maxRetries:      maxRetries,
		baseRetryDelay:  DefaultBaseRetryDelay,
	}
}

// ChatCompletion sends a chat completion request, applying the learned
// generation parameters and retrying transient failures with backoff.
func (c *Client) ChatCompletion(
	ctx context.Context,
	modelCfg config.ModelConfig,
	apiKey string,
	messages []Message,
	params models.Params,
) (*ChatCompletionResponse, error) {
	serviceID := fmt.Sprintf("%s:%s", modelCfg.BaseURL, modelCfg.ModelName)

	maxTokens := params.WordCountMax * wordsPerToken
	if maxTokens == 0 || maxTokens > modelCfg.MaxOutputTokens {
		maxTokens = modelCfg.MaxOutputTokens
	}

	req := ChatCompletionRequest{
		Model:            modelCfg.ModelName,
		Messages:         messages,
		Temperature:      params.Temperature,
		TopP:             params.TopP,
		FrequencyPenalty: params.FrequencyPenalty,
		PresencePenalty:  params.PresencePenalty,
		MaxTokens:        maxTokens,
		N:                1,
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseRetryDelay
			var se *ServiceError
			if errors.As(lastErr, &se) && se.StatusCode == http.StatusTooManyRequests {
				backoff = time.Duration(math.Pow(rateLimitBackoffBase, float64(attempt))) * c.baseRetryDelay
			}

			c.logger.Warn("Retrying API request",
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"backoff", backoff,
				"model", modelCfg.ModelName)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.rateLimiterPool.Wait(ctx, serviceID, modelCfg.RateLimitPerMinute); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		resp, err := c.doRequest(ctx, modelCfg, apiKey, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doRequest(
	ctx context.Context,
	modelCfg config.ModelConfig,
	apiKey string,
	req ChatCompletionRequest,
) (*ChatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(modelCfg.BaseURL, "/") + "/chat/completions"

	// Each in-flight call is bounded by the model's timeout; a timeout
	// counts as a transient failure, not job abandonment.
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(modelCfg.TimeoutSeconds)*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	} else {
		c.logger.Warn("API request without key", "endpoint", endpoint)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ServiceError{
			Service:   "generation",
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
		}
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		retryable := RetryableStatus(httpResp.StatusCode)

		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, &ServiceError{
				Service:    "generation",
				Message:    errResp.Error.Message,
				StatusCode: httpResp.StatusCode,
				Retryable:  retryable,
			}
		}

		return nil, &ServiceError{
			Service:    "generation",
			Message:    fmt.Sprintf("request failed with status %d: %s", httpResp.StatusCode, string(respBody)),
			StatusCode: httpResp.StatusCode,
			Retryable:  retryable,
		}
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned in response")
	}

	return &resp, nil
}
