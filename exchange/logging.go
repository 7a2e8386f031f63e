package exchange

import (
	"context"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go-exchange-rate-gateway/domain"
	"time"
)

// loggingService decorates an exchange.Service with logging
type loggingService struct {
	logger log.Logger
	next   Service
}

// NewLoggingService returns a new instance of a logging Service
func NewLoggingService(logger log.Logger, s Service) Service {
	return &loggingService{
		next:   s,
		logger: logger,
	}
}

// leveled logs provider and internal failures as warnings, everything else at info.
func (s *loggingService) leveled(err error) log.Logger {
	if err != nil && !IsClientError(err) {
		return level.Warn(s.logger)
	}
	return level.Info(s.logger)
}

func (s *loggingService) GetRate(ctx context.Context, from domain.Currency, to domain.Currency) (rate domain.Rate, err error) {
	defer func(begin time.Time) {
		s.leveled(err).Log(
			"method", "get_rate",
			"client", ClientIDFromContext(ctx),
			"from", from,
			"to", to,
			"rate", rate,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return s.next.GetRate(ctx, from, to)
}

func (s *loggingService) GetAllRates(ctx context.Context, from domain.Currency) (rates domain.Rates, err error) {
	defer func(begin time.Time) {
		s.leveled(err).Log(
			"method", "get_all_rates",
			"client", ClientIDFromContext(ctx),
			"from", from,
			"rates", len(rates),
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return s.next.GetAllRates(ctx, from)
}

func (s *loggingService) Convert(ctx context.Context, from domain.Currency, to domain.Currency, amount domain.Amount) (result domain.Amount, err error) {
	defer func(begin time.Time) {
		s.leveled(err).Log(
			"method", "convert",
			"client", ClientIDFromContext(ctx),
			"from", from,
			"to", to,
			"amount", amount,
			"converted_amount", result,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return s.next.Convert(ctx, from, to, amount)
}

func (s *loggingService) ConvertMultiple(ctx context.Context, from domain.Currency, targets []domain.Currency, amount domain.Amount) (results map[domain.Currency]domain.Amount, err error) {
	defer func(begin time.Time) {
		s.leveled(err).Log(
			"method", "convert_multiple",
			"client", ClientIDFromContext(ctx),
			"from", from,
			"targets", len(targets),
			"amount", amount,
			"converted", len(results),
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return s.next.ConvertMultiple(ctx, from, targets, amount)
}

func (s *loggingService) RefreshRate(ctx context.Context, from domain.Currency, to domain.Currency) (rate domain.Rate, err error) {
	defer func(begin time.Time) {
		s.leveled(err).Log(
			"method", "refresh_rate",
			"from", from,
			"to", to,
			"rate", rate,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return s.next.RefreshRate(ctx, from, to)
}

func (s *loggingService) ClearCache(ctx context.Context, name string) (err error) {
	defer func(begin time.Time) {
		s.leveled(err).Log(
			"method", "clear_cache",
			"name", name,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return s.next.ClearCache(ctx, name)
}
