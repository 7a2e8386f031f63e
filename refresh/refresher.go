package refresh

import (
	"context"
	"errors"
	"go-exchange-rate-gateway/domain"
	"go-exchange-rate-gateway/metrics"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// ErrAlreadyStarted Start was called on a running Refresher
var ErrAlreadyStarted = errors.New("refresher already started")

// RateRefresher replaces the cached rate of a pair with a fresh upstream quote
type RateRefresher interface {
	RefreshRate(ctx context.Context, from domain.Currency, to domain.Currency) (domain.Rate, error)
}

// Recorder keeps refreshed rates, e.g. history.Repository
type Recorder interface {
	Save(ctx context.Context, snapshot domain.Snapshot) error
}

// Publisher announces refreshed rates, e.g. events.Publisher
type Publisher interface {
	Publish(ctx context.Context, snapshot domain.Snapshot) error
}

// Refresher periodically refreshes popular currency pairs in the background.
// Its failures are logged and counted, never returned to request handlers.
type Refresher struct {
	rates    RateRefresher
	pairs    []domain.Pair
	interval time.Duration

	recorder  Recorder
	publisher Publisher
	metrics   *metrics.Metrics
	logger    log.Logger
	now       func() time.Time

	// lock guards cancel
	lock   sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Refresher)

// WithRecorder stores every refreshed rate.
func WithRecorder(recorder Recorder) Option {
	return func(r *Refresher) {
		r.recorder = recorder
	}
}

// WithPublisher publishes every refreshed rate.
func WithPublisher(publisher Publisher) Option {
	return func(r *Refresher) {
		r.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Refresher) {
		r.metrics = m
	}
}

func WithLogger(logger log.Logger) Option {
	return func(r *Refresher) {
		r.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Refresher) {
		r.now = now
	}
}

// New returns a Refresher for pairs. It does nothing until started.
func New(rates RateRefresher, pairs []domain.Pair, interval time.Duration, opts ...Option) *Refresher {
	r := &Refresher{
		rates:    rates,
		pairs:    pairs,
		interval: interval,
		logger:   log.NewNopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start refreshes every pair immediately and then once per interval, until
// Stop is called or ctx is done.
func (r *Refresher) Start(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.run(ctx)

	level.Info(r.logger).Log("msg", "refresher started", "pairs", len(r.pairs), "interval", r.interval)
	return nil
}

// Stop cancels the refresh loop and waits for an in-progress pass to finish.
// It is safe to call Stop more than once.
func (r *Refresher) Stop() {
	r.lock.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.lock.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
	level.Info(r.logger).Log("msg", "refresher stopped")
}

func (r *Refresher) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	_ = r.RefreshAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.RefreshAll(ctx)
		}
	}
}

// RefreshAll refreshes each pair once. A failing pair does not stop the others;
// all failures are returned joined.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, pair := range r.pairs {
		if ctx.Err() != nil {
			break
		}
		if err := r.refresh(ctx, pair); err != nil {
			// Don't return, just log and hope this is a transient error
			level.Warn(r.logger).Log("msg", "periodic refresh failed", "pair", pair, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Refresher) refresh(ctx context.Context, pair domain.Pair) (err error) {
	if r.metrics != nil {
		defer func() {
			r.metrics.RefreshesTotal.WithLabelValues(metrics.Outcome(err)).Inc()
		}()
	}

	rate, err := r.rates.RefreshRate(ctx, pair.From, pair.To)
	if err != nil {
		return err
	}
	level.Debug(r.logger).Log("msg", "periodic refresh", "pair", pair, "rate", rate)

	snapshot := domain.Snapshot{Pair: pair, Rate: rate, FetchedAt: r.now()}
	if r.recorder != nil {
		if err := r.recorder.Save(ctx, snapshot); err != nil {
			level.Error(r.logger).Log("msg", "recording rate failed", "pair", pair, "err", err)
		}
	}
	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, snapshot); err != nil {
			level.Error(r.logger).Log("msg", "publishing rate failed", "pair", pair, "err", err)
		}
	}
	return nil
}
