// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// DefaultRequestsPerMinute bounds how many answer requests one
	// principal may issue. Generation is the expensive stage, so the
	// limit is deliberately low.
	DefaultRequestsPerMinute = 30

	// DefaultBurst allows short spikes above the sustained rate.
	DefaultBurst = 10

	// limiterIdleTTL is how long an idle principal's bucket is kept
	// before the cleanup pass drops it.
	limiterIdleTTL = 10 * time.Minute
)

// RateLimiter tracks one token bucket per principal. Buckets for idle
// principals are evicted so the map does not grow without bound.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*principalLimiter
	limit    rate.Limit
	burst    int
	lastSwep time.Time
}

type principalLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter allowing requestsPerMinute sustained
// requests with the given burst per principal. Non-positive arguments
// fall back to the defaults.
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &RateLimiter{
		limiters: make(map[string]*principalLimiter),
		limit:    rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
		lastSwep: time.Now(),
	}
}

// Allow reports whether the principal may proceed right now.
func (r *RateLimiter) Allow(principalID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.lastSwep) > limiterIdleTTL {
		r.sweep(now)
	}

	entry, ok := r.limiters[principalID]
	if !ok {
		entry = &principalLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[principalID] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

// sweep drops buckets idle longer than limiterIdleTTL. Caller holds mu.
func (r *RateLimiter) sweep(now time.Time) {
	for id, entry := range r.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(r.limiters, id)
		}
	}
	r.lastSwep = now
}

// RateLimitMiddleware rejects requests over the per-principal budget with
// 429. It must run after AuthMiddleware; unauthenticated requests share
// one anonymous bucket.
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := "anonymous"
		if principal := GetPrincipal(c); principal != nil {
			id = principal.ID
		}
		if !limiter.Allow(id) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
