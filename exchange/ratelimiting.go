package exchange

import (
	"context"
	"go-exchange-rate-gateway/domain"
	"go-exchange-rate-gateway/metrics"
	"go-exchange-rate-gateway/ratelimit"
)

// rateLimitingService admits each gateway call against the caller's token bucket
type rateLimitingService struct {
	next    Service
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
}

// NewRateLimitingService returns a Service that rejects callers without tokens
// with a *domain.ThrottledError. The caller is taken from the context, see WithClientID.
// RefreshRate and ClearCache are internal or administrative and are not limited.
func NewRateLimitingService(limiter *ratelimit.Limiter, m *metrics.Metrics, s Service) Service {
	return &rateLimitingService{
		next:    s,
		limiter: limiter,
		metrics: m,
	}
}

func (s *rateLimitingService) admit(ctx context.Context) error {
	result := s.limiter.Take(ClientIDFromContext(ctx))
	recordAdmission(ctx, result)
	if !result.Allowed {
		s.metrics.AdmissionsTotal.WithLabelValues("denied").Inc()
		return &domain.ThrottledError{RetryAfter: result.RetryAfter}
	}
	s.metrics.AdmissionsTotal.WithLabelValues("allowed").Inc()
	return nil
}

func (s *rateLimitingService) GetRate(ctx context.Context, from domain.Currency, to domain.Currency) (domain.Rate, error) {
	if err := s.admit(ctx); err != nil {
		return 0, err
	}
	return s.next.GetRate(ctx, from, to)
}

func (s *rateLimitingService) GetAllRates(ctx context.Context, from domain.Currency) (domain.Rates, error) {
	if err := s.admit(ctx); err != nil {
		return nil, err
	}
	return s.next.GetAllRates(ctx, from)
}

func (s *rateLimitingService) Convert(ctx context.Context, from domain.Currency, to domain.Currency, amount domain.Amount) (domain.Amount, error) {
	if err := s.admit(ctx); err != nil {
		return 0, err
	}
	return s.next.Convert(ctx, from, to, amount)
}

// ConvertMultiple costs a single token regardless of the number of targets.
func (s *rateLimitingService) ConvertMultiple(ctx context.Context, from domain.Currency, targets []domain.Currency, amount domain.Amount) (map[domain.Currency]domain.Amount, error) {
	if err := s.admit(ctx); err != nil {
		return nil, err
	}
	return s.next.ConvertMultiple(ctx, from, targets, amount)
}

func (s *rateLimitingService) RefreshRate(ctx context.Context, from domain.Currency, to domain.Currency) (domain.Rate, error) {
	return s.next.RefreshRate(ctx, from, to)
}

func (s *rateLimitingService) ClearCache(ctx context.Context, name string) error {
	return s.next.ClearCache(ctx, name)
}
