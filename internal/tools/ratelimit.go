// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedSearcher wraps a Searcher with a token bucket so a model stuck
// in a loop cannot hammer the search service.
type RateLimitedSearcher struct {
	next    Searcher
	limiter *rate.Limiter
}

// NewRateLimitedSearcher allows perMinute searches per minute with a burst
// of one. perMinute <= 0 disables limiting and returns next unchanged.
func NewRateLimitedSearcher(next Searcher, perMinute int) Searcher {
	if perMinute <= 0 || next == nil {
		return next
	}
	return &RateLimitedSearcher{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

// Name implements Searcher.
func (r *RateLimitedSearcher) Name() string { return r.next.Name() }

// Search waits for a token, then delegates. A wait that would outlast the
// context deadline fails immediately as unavailable.
func (r *RateLimitedSearcher) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, unavailable("rate limit exceeded")
	}
	return r.next.Search(ctx, query, maxResults)
}
