package service

import (
	"context"

	"github.com/PhuccNguyen/hhsvhbvn/internal/domain"
)

// CheckinSubmitter defines the check-in operations served over HTTP
type CheckinSubmitter interface {
	// Submit validates and records a check-in, returning *errors.AppError on rejection
	Submit(ctx context.Context, req domain.CheckinRequest, clientIP string) (*domain.Submission, error)

	// HealthCheck checks the store and collects per-round stats
	HealthCheck(ctx context.Context) (domain.ConnectionResult, []domain.SheetStats)
}

// RateLimiter defines the per-client quota check
type RateLimiter interface {
	// Check consumes one token for key
	Check(ctx context.Context, key string) (RateLimitResult, error)
}

var (
	_ CheckinSubmitter = (*CheckinService)(nil)
	_ RateLimiter      = (*Limiter)(nil)
)
