// Package detector wraps the AI-detection scoring service: given a text,
// it returns a 0-100 human-likeness score plus short feedback phrases
// naming detected weaknesses.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ablatext/ablatext/internal/api"
	"github.com/ablatext/ablatext/internal/config"
	"github.com/ablatext/ablatext/pkg/models"
)

// ErrInputTooShort means the text is below the service's documented
// minimum input length. Scores on shorter inputs are unreliable, which is
// the whole reason short items get batched upstream; hitting this error
// indicates a caller bug, so it is not retryable.
var ErrInputTooShort = errors.New("detector: input below minimum length")

type detectRequest struct {
	Text string `json:"text"`
}

type detectResponse struct {
	HumanScore float64  `json:"human_score"`
	Feedback   []string `json:"feedback"`
}

// Client calls the detection service
type Client struct {
	cfg        config.DetectorConfig
	apiKey     string
	threshold  float64
	httpClient *http.Client
	limiters   *api.RateLimiterPool
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
}

// New creates a detection client. threshold is the minimum human score
// that passes the gate.
func New(cfg config.DetectorConfig, apiKey string, threshold float64, maxRetries int, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		apiKey:     apiKey,
		threshold:  threshold,
		httpClient: &http.Client{},
		limiters:   api.NewRateLimiterPool(),
		logger:     logger.With("component", "detector"),
		maxRetries: maxRetries,
		retryDelay: api.DefaultBaseRetryDelay,
	}
}

// MinInputLength returns the service's documented minimum input length in
// characters
func (c *Client) MinInputLength() int {
	return c.cfg.MinInputLength
}

// Detect scores text for human-likeness, retrying transient service
// failures with backoff.
func (c *Client) Detect(ctx context.Context, text string) (*models.DetectionResult, error) {
	if len(text) < c.cfg.MinInputLength {
		return nil, fmt.Errorf("%w: %d chars, need %d", ErrInputTooShort, len(text), c.cfg.MinInputLength)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.retryDelay * time.Duration(1<<(attempt-1))
			c.logger.Warn("Retrying detection request",
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.limiters.Wait(ctx, c.cfg.BaseURL, c.cfg.RateLimitPerMinute); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		result, err := c.doDetect(ctx, text)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !api.IsTransient(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doDetect(ctx context.Context, text string) (*models.DetectionResult, error) {
	body, err := json.Marshal(detectRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/v1/detect"

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &api.ServiceError{
			Service:   "detection",
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
		return nil, &api.ServiceError{
			Service:    "detection",
			Message:    fmt.Sprintf("request failed with status %d: %s", httpResp.StatusCode, string(respBody)),
			StatusCode: httpResp.StatusCode,
			Retryable:  api.RetryableStatus(httpResp.StatusCode),
		}
	}

	var resp detectResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse detection response: %w", err)
	}
	if resp.HumanScore < 0 || resp.HumanScore > 100 {
		return nil, fmt.Errorf("detection score %.1f out of range", resp.HumanScore)
	}

	result := &models.DetectionResult{
		HumanScore:      resp.HumanScore,
		Passed:          resp.HumanScore >= c.threshold,
		FeedbackPhrases: resp.Feedback,
	}

	c.logger.Debug("Detection scored",
		"human_score", result.HumanScore,
		"passed", result.Passed,
		"feedback_count", len(result.FeedbackPhrases))

	return result, nil
}
