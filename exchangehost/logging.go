package exchangehost

import (
	"context"
	"github.com/go-kit/log"
	"go-exchange-rate-gateway/domain"
	"time"
)

// loggingService decorates an exchangehost.Service with logging
type loggingService struct {
	next   Service
	logger log.Logger
}

// NewLoggingService return a new logging service
func NewLoggingService(logger log.Logger, s Service) Service {
	return &loggingService{
		next:   s,
		logger: logger,
	}
}

func (s *loggingService) FetchQuotes(ctx context.Context, base domain.Currency, targets []domain.Currency) (quotes domain.Quotes, err error) {
	defer func(begin time.Time) {
		s.logger.Log(
			"method", "fetch_quotes",
			"base", base,
			"targets", len(targets),
			"quotes", len(quotes.Quotes),
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return s.next.FetchQuotes(ctx, base, targets)
}

func (s *loggingService) FetchConversion(ctx context.Context, from domain.Currency, to domain.Currency, amount domain.Amount) (result domain.Amount, err error) {
	defer func(begin time.Time) {
		s.logger.Log(
			"method", "fetch_conversion",
			"from", from,
			"to", to,
			"amount", amount,
			"result", result,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return s.next.FetchConversion(ctx, from, to, amount)
}
