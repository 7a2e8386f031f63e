package refresh

import (
	"context"
	"errors"
	"go-exchange-rate-gateway/domain"
	"go-exchange-rate-gateway/metrics"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mock struct {
	lock    sync.Mutex
	rates   map[domain.Pair]domain.Rate
	calls   int
	saved   []domain.Snapshot
	sent    []domain.Snapshot
	saveErr error
}

func (m *mock) RefreshRate(_ context.Context, from domain.Currency, to domain.Currency) (domain.Rate, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.calls++
	rate, ok := m.rates[domain.Pair{From: from, To: to}]
	if !ok {
		return 0, &domain.UpstreamError{Op: "fetch quotes", Err: errors.New("no quote")}
	}
	return rate, nil
}

func (m *mock) Save(_ context.Context, snapshot domain.Snapshot) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, snapshot)
	return nil
}

func (m *mock) Publish(_ context.Context, snapshot domain.Snapshot) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.sent = append(m.sent, snapshot)
	return nil
}

func (m *mock) Calls() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.calls
}

var (
	usdEur = domain.Pair{From: "USD", To: "EUR"}
	usdGbp = domain.Pair{From: "USD", To: "GBP"}
	usdXxx = domain.Pair{From: "USD", To: "XXX"}
)

func TestRefresher_RefreshAll(t *testing.T) {
	m := &mock{rates: map[domain.Pair]domain.Rate{usdEur: 0.92, usdGbp: 0.79}}
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := prometheus.NewRegistry()
	gauges := metrics.New(reg)
	r := New(m, []domain.Pair{usdEur, usdXxx, usdGbp}, time.Minute,
		WithRecorder(m),
		WithPublisher(m),
		WithMetrics(gauges),
		WithClock(func() time.Time { return at }),
	)

	err := r.RefreshAll(context.Background())

	var upstreamErr *domain.UpstreamError
	assert.True(t, errors.As(err, &upstreamErr), "failures are reported")
	assert.Equal(t, 3, m.Calls(), "a failing pair does not stop the others")
	want := []domain.Snapshot{
		{Pair: usdEur, Rate: 0.92, FetchedAt: at},
		{Pair: usdGbp, Rate: 0.79, FetchedAt: at},
	}
	assert.Equal(t, want, m.saved)
	assert.Equal(t, want, m.sent)
	assert.Equal(t, 2.0, testutil.ToFloat64(gauges.RefreshesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(gauges.RefreshesTotal.WithLabelValues("error")))
}

func TestRefresher_RecorderFailureIsNotARefreshFailure(t *testing.T) {
	m := &mock{rates: map[domain.Pair]domain.Rate{usdEur: 0.92}, saveErr: errors.New("db down")}
	r := New(m, []domain.Pair{usdEur}, time.Minute, WithRecorder(m), WithPublisher(m))

	err := r.RefreshAll(context.Background())

	assert.Nil(t, err)
	assert.Len(t, m.sent, 1)
}

func TestRefresher_StartStop(t *testing.T) {
	m := &mock{rates: map[domain.Pair]domain.Rate{usdEur: 0.92}}
	r := New(m, []domain.Pair{usdEur}, 5*time.Millisecond)

	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyStarted)

	assert.Eventually(t, func() bool { return m.Calls() >= 3 }, time.Second, time.Millisecond)

	r.Stop()
	calls := m.Calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, m.Calls(), "no refreshes after Stop")

	// stopping twice is harmless and the refresher can be started again
	r.Stop()
	require.NoError(t, r.Start(context.Background()))
	r.Stop()
}

func TestRefresher_StopsWithContext(t *testing.T) {
	m := &mock{rates: map[domain.Pair]domain.Rate{usdEur: 0.92}}
	r := New(m, []domain.Pair{usdEur}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	assert.Eventually(t, func() bool { return m.Calls() == 1 }, time.Second, time.Millisecond, "warm up runs immediately")

	cancel()
	r.Stop()
}
