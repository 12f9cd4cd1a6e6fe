package api

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterPool manages per-service rate limiters. The generation model,
// evaluator model, and detection service each get their own limiter keyed
// by endpoint identity.
type RateLimiterPool struct {
	limiters map[string]*rate.Limiter
	rates    map[string]int
	mu       sync.Mutex
}

// NewRateLimiterPool creates an empty rate limiter pool
func NewRateLimiterPool() *RateLimiterPool {
	return &RateLimiterPool{
		limiters: make(map[string]*rate.Limiter),
		rates:    make(map[string]int),
	}
}

// getOrCreate returns an existing rate limiter or creates a new one. A
// limiter created with one rate keeps that rate; later callers asking for
// a different rate get the existing limiter and a warning.
func (p *RateLimiterPool) getOrCreate(serviceID string, requestsPerMinute int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, exists := p.limiters[serviceID]; exists {
		if existing, ok := p.rates[serviceID]; ok && existing != requestsPerMinute {
			slog.Warn("Rate limiter already exists with different rate, keeping existing",
				"service_id", serviceID,
				"existing_rpm", existing,
				"requested_rpm", requestsPerMinute)
		}
		return limiter
	}

	rps := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute / 5
	if burst < 2 {
		burst = 2
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	p.limiters[serviceID] = limiter
	p.rates[serviceID] = requestsPerMinute

	slog.Debug("Created rate limiter",
		"service_id", serviceID,
		"rpm", requestsPerMinute,
		"burst", burst)

	return limiter
}

// Wait blocks until the service's rate limiter allows the next request
func (p *RateLimiterPool) Wait(ctx context.Context, serviceID string, requestsPerMinute int) error {
	return p.getOrCreate(serviceID, requestsPerMinute).Wait(ctx)
}
