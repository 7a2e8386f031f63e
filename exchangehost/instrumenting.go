package exchangehost

import (
	"context"
	"go-exchange-rate-gateway/domain"
	"go-exchange-rate-gateway/metrics"
	"time"
)

// instrumentingService decorates an exchangehost.Service with call counters and latency
type instrumentingService struct {
	next    Service
	metrics *metrics.Metrics
}

// NewInstrumentingService returns a new instrumenting Service
func NewInstrumentingService(m *metrics.Metrics, s Service) Service {
	return &instrumentingService{
		next:    s,
		metrics: m,
	}
}

func (s *instrumentingService) FetchQuotes(ctx context.Context, base domain.Currency, targets []domain.Currency) (quotes domain.Quotes, err error) {
	defer s.observe("fetch_quotes", time.Now(), &err)
	return s.next.FetchQuotes(ctx, base, targets)
}

func (s *instrumentingService) FetchConversion(ctx context.Context, from domain.Currency, to domain.Currency, amount domain.Amount) (result domain.Amount, err error) {
	defer s.observe("fetch_conversion", time.Now(), &err)
	return s.next.FetchConversion(ctx, from, to, amount)
}

func (s *instrumentingService) observe(op string, begin time.Time, err *error) {
	s.metrics.UpstreamCallsTotal.WithLabelValues(op, metrics.Outcome(*err)).Inc()
	s.metrics.UpstreamDuration.WithLabelValues(op).Observe(time.Since(begin).Seconds())
}
