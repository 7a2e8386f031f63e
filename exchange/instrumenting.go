package exchange

import (
	"context"
	"go-exchange-rate-gateway/domain"
	"go-exchange-rate-gateway/metrics"
	"time"
)

type instrumentingService struct {
	next    Service
	metrics *metrics.Metrics
}

// NewInstrumentingService counts and times every gateway operation.
func NewInstrumentingService(m *metrics.Metrics, s Service) Service {
	return &instrumentingService{
		next:    s,
		metrics: m,
	}
}

func (s *instrumentingService) observe(method string, begin time.Time, err *error) {
	s.metrics.RequestsTotal.WithLabelValues(method, metrics.Outcome(*err)).Inc()
	s.metrics.RequestDuration.WithLabelValues(method).Observe(time.Since(begin).Seconds())
}

func (s *instrumentingService) GetRate(ctx context.Context, from domain.Currency, to domain.Currency) (rate domain.Rate, err error) {
	defer s.observe("get_rate", time.Now(), &err)
	return s.next.GetRate(ctx, from, to)
}

func (s *instrumentingService) GetAllRates(ctx context.Context, from domain.Currency) (rates domain.Rates, err error) {
	defer s.observe("get_all_rates", time.Now(), &err)
	return s.next.GetAllRates(ctx, from)
}

func (s *instrumentingService) Convert(ctx context.Context, from domain.Currency, to domain.Currency, amount domain.Amount) (result domain.Amount, err error) {
	defer s.observe("convert", time.Now(), &err)
	return s.next.Convert(ctx, from, to, amount)
}

func (s *instrumentingService) ConvertMultiple(ctx context.Context, from domain.Currency, targets []domain.Currency, amount domain.Amount) (results map[domain.Currency]domain.Amount, err error) {
	defer s.observe("convert_multiple", time.Now(), &err)
	return s.next.ConvertMultiple(ctx, from, targets, amount)
}

func (s *instrumentingService) RefreshRate(ctx context.Context, from domain.Currency, to domain.Currency) (rate domain.Rate, err error) {
	defer s.observe("refresh_rate", time.Now(), &err)
	return s.next.RefreshRate(ctx, from, to)
}

func (s *instrumentingService) ClearCache(ctx context.Context, name string) (err error) {
	defer s.observe("clear_cache", time.Now(), &err)
	return s.next.ClearCache(ctx, name)
}
