package exchange

import (
	"context"
	"errors"
	"fmt"
	"go-exchange-rate-gateway/cache"
	"go-exchange-rate-gateway/domain"
	"go-exchange-rate-gateway/exchangehost"
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultUpstreamTimeout bounds a single upstream call made on a cache miss.
const DefaultUpstreamTimeout = 10 * time.Second

// Service the exchange rate gateway
type Service interface {
	// GetRate returns the rate for one currency pair.
	GetRate(ctx context.Context, from domain.Currency, to domain.Currency) (domain.Rate, error)

	// GetAllRates returns every rate the provider quotes for from.
	GetAllRates(ctx context.Context, from domain.Currency) (domain.Rates, error)

	// Convert converts amount using a provider side conversion.
	Convert(ctx context.Context, from domain.Currency, to domain.Currency, amount domain.Amount) (domain.Amount, error)

	// ConvertMultiple converts amount into every target, in order. The first
	// failing target aborts the batch and is reported in a *domain.BatchError.
	ConvertMultiple(ctx context.Context, from domain.Currency, targets []domain.Currency, amount domain.Amount) (map[domain.Currency]domain.Amount, error)

	// RefreshRate fetches a pair from upstream and replaces the cached rate.
	RefreshRate(ctx context.Context, from domain.Currency, to domain.Currency) (domain.Rate, error)

	// ClearCache drops every entry of the named cache.
	ClearCache(ctx context.Context, name string) error
}

// service gateway in front of the quote provider
type service struct {
	// upstream quote provider
	upstream exchangehost.Service

	// cache for rates, quote sets and conversions
	cache *cache.Cache

	// caches that can be cleared by name
	caches *cache.Registry

	// timeout bounds each upstream call
	timeout time.Duration
}

// NewService constructs a valid Service. The response cache is registered
// with caches so that it can be cleared by name; a nil registry gets a new one.
func NewService(upstream exchangehost.Service, c *cache.Cache, caches *cache.Registry, timeout time.Duration) Service {
	if caches == nil {
		caches = cache.NewRegistry()
	}
	caches.Register(c)
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	return &service{
		upstream: upstream,
		cache:    c,
		caches:   caches,
		timeout:  timeout,
	}
}

func rateKey(from domain.Currency, to domain.Currency) string {
	return "rate:" + string(from) + ":" + string(to)
}

func allRatesKey(from domain.Currency) string {
	return "rate:" + string(from) + ":*"
}

// convertKey normalises the amount so that 100, 100.0 and 1e2 share an entry.
func convertKey(from domain.Currency, to domain.Currency, amount domain.Amount) string {
	return "convert:" + string(from) + ":" + string(to) + ":" + decimal.NewFromFloat(float64(amount)).String()
}

func (s *service) GetRate(ctx context.Context, from domain.Currency, to domain.Currency) (domain.Rate, error) {
	from, to, err := validatePair(from, to)
	if err != nil {
		return 0, err
	}
	v, err := s.cache.GetOrCompute(ctx, rateKey(from, to), 0, s.fetchRate(from, to))
	if err != nil {
		return 0, fmt.Errorf("rate [%v:%v]: %w", from, to, err)
	}
	return v.(domain.Rate), nil
}

func (s *service) RefreshRate(ctx context.Context, from domain.Currency, to domain.Currency) (domain.Rate, error) {
	from, to, err := validatePair(from, to)
	if err != nil {
		return 0, err
	}
	v, err := s.cache.Refresh(ctx, rateKey(from, to), 0, s.fetchRate(from, to))
	if err != nil {
		return 0, fmt.Errorf("refresh [%v:%v]: %w", from, to, err)
	}
	return v.(domain.Rate), nil
}

func (s *service) fetchRate(from domain.Currency, to domain.Currency) cache.ComputeFunc {
	return func(ctx context.Context) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		quotes, err := s.upstream.FetchQuotes(ctx, from, []domain.Currency{to})
		if err != nil {
			return nil, domain.NewUpstreamError("fetch quotes", err)
		}
		rate, ok := quotes.Rate(to)
		if !ok {
			return nil, domain.NewUpstreamError("fetch quotes", fmt.Errorf("no quote for [%v%v]", quotes.Source, to))
		}
		return rate, nil
	}
}

func (s *service) GetAllRates(ctx context.Context, from domain.Currency) (domain.Rates, error) {
	from, err := domain.ParseCurrency(string(from))
	if err != nil {
		return nil, err
	}
	v, err := s.cache.GetOrCompute(ctx, allRatesKey(from), 0, func(ctx context.Context) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		quotes, err := s.upstream.FetchQuotes(ctx, from, nil)
		if err != nil {
			return nil, domain.NewUpstreamError("fetch quotes", err)
		}
		return quotes.Rates(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("rates [%v]: %w", from, err)
	}
	// the cached map is shared between callers
	return maps.Clone(v.(domain.Rates)), nil
}

func (s *service) Convert(ctx context.Context, from domain.Currency, to domain.Currency, amount domain.Amount) (domain.Amount, error) {
	from, to, err := validatePair(from, to)
	if err != nil {
		return 0, err
	}
	if err := amount.Validate(); err != nil {
		return 0, err
	}
	result, err := s.convert(ctx, from, to, amount)
	if err != nil {
		return 0, fmt.Errorf("convert [%v:%v]: %w", from, to, err)
	}
	return result, nil
}

// convert expects validated arguments.
func (s *service) convert(ctx context.Context, from domain.Currency, to domain.Currency, amount domain.Amount) (domain.Amount, error) {
	v, err := s.cache.GetOrCompute(ctx, convertKey(from, to, amount), 0, func(ctx context.Context) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		result, err := s.upstream.FetchConversion(ctx, from, to, amount)
		if err != nil {
			return nil, domain.NewUpstreamError("fetch conversion", err)
		}
		return result, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(domain.Amount), nil
}

func (s *service) ConvertMultiple(ctx context.Context, from domain.Currency, targets []domain.Currency, amount domain.Amount) (map[domain.Currency]domain.Amount, error) {
	from, err := domain.ParseCurrency(string(from))
	if err != nil {
		return nil, err
	}
	if err := amount.Validate(); err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no target currencies", domain.ErrInvalidRequest)
	}

	normalised := make([]domain.Currency, len(targets))
	for i, target := range targets {
		to, err := domain.ParseCurrency(string(target))
		if err != nil {
			return nil, &domain.BatchError{Target: target, Err: err}
		}
		normalised[i] = to
	}

	results := make(map[domain.Currency]domain.Amount, len(normalised))
	for _, to := range normalised {
		if _, done := results[to]; done {
			continue
		}
		result, err := s.convert(ctx, from, to, amount)
		if err != nil {
			return nil, &domain.BatchError{Target: to, Err: err}
		}
		results[to] = result
	}
	return results, nil
}

func (s *service) ClearCache(_ context.Context, name string) error {
	return s.caches.Clear(name)
}

func validatePair(from domain.Currency, to domain.Currency) (domain.Currency, domain.Currency, error) {
	f, err := domain.ParseCurrency(string(from))
	if err != nil {
		return "", "", err
	}
	t, err := domain.ParseCurrency(string(to))
	if err != nil {
		return "", "", err
	}
	return f, t, nil
}

// IsClientError reports whether err was caused by the caller rather than the provider.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidRequest) || errors.Is(err, domain.ErrRateLimitExceeded) || errors.Is(err, cache.ErrUnknownCache)
}
