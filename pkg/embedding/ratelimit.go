package embedding

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited 在每次调用前等待令牌，限制 embedding API 的请求速率。
type RateLimited struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimited 包装 inner。rps <= 0 时不限速。
func NewRateLimited(inner Client, rps float64, burst int) *RateLimited {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit: %w", err)
	}
	return r.inner.CreateEmbedding(ctx, text)
}

func (r *RateLimited) Model() string { return r.inner.Model() }
