package exchange

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go-exchange-rate-gateway/cache"
	"go-exchange-rate-gateway/domain"
	"go-exchange-rate-gateway/metrics"
	"go-exchange-rate-gateway/ratelimit"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mock upstream serving canned quotes. Conversions multiply by the quoted rate.
type mock struct {
	quotes map[domain.Currency]map[string]domain.Rate

	// release, when set, holds every call until it is closed
	release chan struct{}

	// hang makes every call wait for its context to finish
	hang bool

	quoteCalls      atomic.Int32
	conversionCalls atomic.Int32
}

func newMock() *mock {
	return &mock{
		quotes: map[domain.Currency]map[string]domain.Rate{
			"USD": {"USDEUR": 0.5, "USDGBP": 0.25},
			"GBP": {"GBPUSD": 4.0, "GBPEUR": 2.0},
		},
	}
}

func (m *mock) wait(ctx context.Context) error {
	if m.release != nil {
		<-m.release
	}
	if m.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (m *mock) FetchQuotes(ctx context.Context, base domain.Currency, targets []domain.Currency) (domain.Quotes, error) {
	m.quoteCalls.Add(1)
	if err := m.wait(ctx); err != nil {
		return domain.Quotes{}, err
	}
	all, ok := m.quotes[base]
	if !ok {
		return domain.Quotes{}, fmt.Errorf("unsupported source [%v]", base)
	}
	quotes := domain.Quotes{Source: base, Quotes: map[string]domain.Rate{}}
	if len(targets) == 0 {
		for k, v := range all {
			quotes.Quotes[k] = v
		}
		return quotes, nil
	}
	for _, t := range targets {
		if rate, ok := all[string(base)+string(t)]; ok {
			quotes.Quotes[string(base)+string(t)] = rate
		}
	}
	return quotes, nil
}

func (m *mock) FetchConversion(ctx context.Context, from domain.Currency, to domain.Currency, amount domain.Amount) (domain.Amount, error) {
	m.conversionCalls.Add(1)
	if err := m.wait(ctx); err != nil {
		return 0, err
	}
	rate, ok := m.quotes[from][string(from)+string(to)]
	if !ok {
		return 0, fmt.Errorf("invalid currency [%v]", to)
	}
	return amount * domain.Amount(rate), nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, upstream *mock) (*service, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	c, err := cache.New("exchangeRateCache", 100, 60*time.Second, cache.WithClock(clk.Now))
	require.NoError(t, err)
	return NewService(upstream, c, nil, time.Second).(*service), clk
}

func TestService_GetRate(t *testing.T) {
	upstream := newMock()
	service, _ := newTestService(t, upstream)

	type args struct {
		from domain.Currency
		to   domain.Currency
	}
	tests := []struct {
		name    string
		args    args
		want    domain.Rate
		wantErr error
	}{
		{"usd -> eur", args{"USD", "EUR"}, 0.5, nil},
		{"lower case is normalised", args{"usd", "gbp"}, 0.25, nil},
		{"gbp -> usd", args{"GBP", "USD"}, 4.0, nil},
		{"pair missing from response", args{"GBP", "JPY"}, 0, &domain.UpstreamError{}},
		{"unsupported source", args{"ABC", "EUR"}, 0, &domain.UpstreamError{}},
		{"malformed code", args{"US", "EUR"}, 0, domain.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := service.GetRate(context.Background(), tt.args.from, tt.args.to)
			switch want := tt.wantErr.(type) {
			case nil:
				assert.Nil(t, err)
			case *domain.UpstreamError:
				assert.True(t, errors.As(err, &want), "got %v", err)
			default:
				assert.True(t, errors.Is(err, want), "got %v", err)
			}
			if got != tt.want {
				t.Errorf("GetRate() got = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_GetRateSingleFlight(t *testing.T) {
	upstream := newMock()
	upstream.release = make(chan struct{})
	service, _ := newTestService(t, upstream)

	const n = 50
	results := make([]domain.Rate, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rate, err := service.GetRate(context.Background(), "USD", "EUR")
			assert.Nil(t, err)
			results[i] = rate
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	close(upstream.release)
	wg.Wait()

	assert.Equal(t, int32(1), upstream.quoteCalls.Load())
	for _, rate := range results {
		assert.Equal(t, domain.Rate(0.5), rate)
	}
}

func TestService_GetRateTTL(t *testing.T) {
	tests := []struct {
		name      string
		after     time.Duration
		wantCalls int32
	}{
		{"cached at 59s", 59 * time.Second, 1},
		{"fetched again at 61s", 61 * time.Second, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := newMock()
			service, clk := newTestService(t, upstream)

			_, err := service.GetRate(context.Background(), "USD", "EUR")
			require.NoError(t, err)
			clk.Advance(tt.after)
			_, err = service.GetRate(context.Background(), "USD", "EUR")
			require.NoError(t, err)

			assert.Equal(t, tt.wantCalls, upstream.quoteCalls.Load())
		})
	}
}

func TestService_GetAllRates(t *testing.T) {
	upstream := newMock()
	service, _ := newTestService(t, upstream)

	rates, err := service.GetAllRates(context.Background(), "USD")
	assert.Nil(t, err)
	want := domain.Rates{"EUR": 0.5, "GBP": 0.25}
	if !reflect.DeepEqual(rates, want) {
		t.Errorf("GetAllRates() got = %v, want %v", rates, want)
	}

	// callers own their copy
	rates["EUR"] = 99
	again, err := service.GetAllRates(context.Background(), "USD")
	assert.Nil(t, err)
	assert.Equal(t, domain.Rate(0.5), again["EUR"])
	assert.Equal(t, int32(1), upstream.quoteCalls.Load())

	// the single pair entry is independent of the full quote set
	_, err = service.GetRate(context.Background(), "USD", "EUR")
	assert.Nil(t, err)
	assert.Equal(t, int32(2), upstream.quoteCalls.Load())
}

func TestService_Convert(t *testing.T) {
	upstream := newMock()
	service, _ := newTestService(t, upstream)
	ctx := context.Background()

	result, err := service.Convert(ctx, "USD", "EUR", 100)
	assert.Nil(t, err)
	assert.Equal(t, domain.Amount(50), result)

	// same amount is served from the cache, a different one is not
	_, _ = service.Convert(ctx, "USD", "EUR", 100.0)
	assert.Equal(t, int32(1), upstream.conversionCalls.Load())
	result, err = service.Convert(ctx, "USD", "EUR", 10)
	assert.Nil(t, err)
	assert.Equal(t, domain.Amount(5), result)
	assert.Equal(t, int32(2), upstream.conversionCalls.Load())
}

func TestService_InvalidRequestsNeverReachUpstream(t *testing.T) {
	upstream := newMock()
	service, _ := newTestService(t, upstream)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"rate bad from", func() error { _, err := service.GetRate(ctx, "1SD", "EUR"); return err }},
		{"rate bad to", func() error { _, err := service.GetRate(ctx, "USD", "EURO"); return err }},
		{"all rates bad from", func() error { _, err := service.GetAllRates(ctx, ""); return err }},
		{"convert zero", func() error { _, err := service.Convert(ctx, "USD", "EUR", 0); return err }},
		{"convert negative", func() error { _, err := service.Convert(ctx, "USD", "EUR", -5); return err }},
		{"multiple no targets", func() error { _, err := service.ConvertMultiple(ctx, "USD", nil, 10); return err }},
		{"multiple bad target", func() error {
			_, err := service.ConvertMultiple(ctx, "USD", []domain.Currency{"EUR", "E1"}, 10)
			return err
		}},
		{"multiple bad amount", func() error {
			_, err := service.ConvertMultiple(ctx, "USD", []domain.Currency{"EUR"}, -1)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			assert.True(t, errors.Is(err, domain.ErrInvalidRequest), "got %v", err)
		})
	}

	assert.Equal(t, int32(0), upstream.quoteCalls.Load())
	assert.Equal(t, int32(0), upstream.conversionCalls.Load())
	assert.Equal(t, 0, service.cache.Len())
}

func TestService_ConvertMultiple(t *testing.T) {
	upstream := newMock()
	service, _ := newTestService(t, upstream)

	got, err := service.ConvertMultiple(context.Background(), "USD", []domain.Currency{"EUR", "gbp", "EUR"}, 100)

	assert.Nil(t, err)
	want := map[domain.Currency]domain.Amount{"EUR": 50, "GBP": 25}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ConvertMultiple() got = %v, want %v", got, want)
	}
	assert.Equal(t, int32(2), upstream.conversionCalls.Load())
}

func TestService_ConvertMultipleFailsFast(t *testing.T) {
	upstream := newMock()
	service, _ := newTestService(t, upstream)

	got, err := service.ConvertMultiple(context.Background(), "USD", []domain.Currency{"EUR", "XXX", "GBP"}, 100)

	assert.Nil(t, got)
	var batchErr *domain.BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, domain.Currency("XXX"), batchErr.Target)
	var upstreamErr *domain.UpstreamError
	assert.True(t, errors.As(err, &upstreamErr))

	// GBP is never attempted
	assert.Equal(t, int32(2), upstream.conversionCalls.Load())
}

func TestService_UpstreamTimeout(t *testing.T) {
	upstream := newMock()
	upstream.hang = true
	clk := &clock{now: time.Now()}
	c, err := cache.New("exchangeRateCache", 100, time.Minute, cache.WithClock(clk.Now))
	require.NoError(t, err)
	service := NewService(upstream, c, nil, 10*time.Millisecond)

	_, err = service.GetRate(context.Background(), "USD", "EUR")

	var upstreamErr *domain.UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.True(t, upstreamErr.Timeout())

	// timeouts are not cached
	_, _ = service.GetRate(context.Background(), "USD", "EUR")
	assert.Equal(t, int32(2), upstream.quoteCalls.Load())
	assert.Equal(t, 0, c.Len())
}

func TestService_RefreshRate(t *testing.T) {
	upstream := newMock()
	service, _ := newTestService(t, upstream)
	ctx := context.Background()

	_, err := service.GetRate(ctx, "USD", "EUR")
	require.NoError(t, err)

	upstream.quotes["USD"]["USDEUR"] = 0.6
	rate, err := service.RefreshRate(ctx, "USD", "EUR")
	assert.Nil(t, err)
	assert.Equal(t, domain.Rate(0.6), rate)

	rate, err = service.GetRate(ctx, "USD", "EUR")
	assert.Nil(t, err)
	assert.Equal(t, domain.Rate(0.6), rate)
	assert.Equal(t, int32(2), upstream.quoteCalls.Load())
}

func TestService_ClearCache(t *testing.T) {
	upstream := newMock()
	service, _ := newTestService(t, upstream)
	ctx := context.Background()

	_, _ = service.GetRate(ctx, "USD", "EUR")
	assert.Nil(t, service.ClearCache(ctx, "exchangeRateCache"))
	_, _ = service.GetRate(ctx, "USD", "EUR")
	assert.Equal(t, int32(2), upstream.quoteCalls.Load())

	err := service.ClearCache(ctx, "nope")
	assert.True(t, errors.Is(err, cache.ErrUnknownCache))
}

func TestRateLimitingService(t *testing.T) {
	upstream := newMock()
	inner, _ := newTestService(t, upstream)
	m := metrics.New(prometheus.NewRegistry())
	limiter := ratelimit.New(2, time.Minute)
	service := NewRateLimitingService(limiter, m, inner)

	a := WithClientID(context.Background(), "a")
	b := WithClientID(context.Background(), "b")

	_, err := service.GetRate(a, "USD", "EUR")
	assert.Nil(t, err)
	_, err = service.ConvertMultiple(a, "USD", []domain.Currency{"EUR", "GBP"}, 1)
	assert.Nil(t, err)

	var admission ratelimit.Result
	_, err = service.Convert(WithAdmission(a, &admission), "USD", "EUR", 1)
	assert.True(t, errors.Is(err, domain.ErrRateLimitExceeded))
	var throttled *domain.ThrottledError
	require.True(t, errors.As(err, &throttled))
	assert.True(t, throttled.RetryAfter > 0)
	assert.False(t, admission.Allowed)
	assert.Equal(t, int64(2), admission.Limit)

	// other clients keep their own bucket
	_, err = service.GetAllRates(b, "USD")
	assert.Nil(t, err)

	// internal refreshes and administration are not limited
	_, err = service.RefreshRate(a, "USD", "EUR")
	assert.Nil(t, err)
	assert.Nil(t, service.ClearCache(a, "exchangeRateCache"))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.AdmissionsTotal.WithLabelValues("allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdmissionsTotal.WithLabelValues("denied")))
}

func TestClientIDFromContext(t *testing.T) {
	assert.Equal(t, AnonymousClient, ClientIDFromContext(context.Background()))
	assert.Equal(t, AnonymousClient, ClientIDFromContext(WithClientID(context.Background(), "")))
	assert.Equal(t, "10.0.0.1", ClientIDFromContext(WithClientID(context.Background(), "10.0.0.1")))
}

func TestLoggingAndInstrumentingService(t *testing.T) {
	upstream := newMock()
	inner, _ := newTestService(t, upstream)
	m := metrics.New(prometheus.NewRegistry())

	var buf bytes.Buffer
	service := NewLoggingService(log.NewLogfmtLogger(&buf), NewInstrumentingService(m, inner))

	_, err := service.GetRate(WithClientID(context.Background(), "a"), "USD", "EUR")
	assert.Nil(t, err)
	_, err = service.GetRate(context.Background(), "USD", "JPY")
	assert.NotNil(t, err)

	out := buf.String()
	assert.Contains(t, out, "level=info method=get_rate client=a from=USD to=EUR rate=0.5")
	assert.Contains(t, out, "level=warn method=get_rate client=anonymous from=USD to=JPY")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("get_rate", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("get_rate", "error")))
}
