package main

import (
	"context"
	"errors"
	"go-exchange-rate-gateway/cache"
	"go-exchange-rate-gateway/config"
	"go-exchange-rate-gateway/events"
	"go-exchange-rate-gateway/exchange"
	"go-exchange-rate-gateway/exchangehost"
	"go-exchange-rate-gateway/health"
	"go-exchange-rate-gateway/history"
	"go-exchange-rate-gateway/http"
	"go-exchange-rate-gateway/metrics"
	"go-exchange-rate-gateway/ratelimit"
	"go-exchange-rate-gateway/refresh"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	nhttp "net/http"
)

func newLogger(cfg config.Log) log.Logger {
	w := log.NewSyncWriter(os.Stderr)
	var logger log.Logger
	if cfg.Format == "json" {
		logger = log.NewJSONLogger(w)
	} else {
		logger = log.NewLogfmtLogger(w)
	}
	logger = level.NewFilter(logger, level.Allow(level.ParseDefault(cfg.Level, level.InfoValue())))
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

func main() {
	// a missing .env file is fine, the environment and config file still apply
	_ = godotenv.Load()
	cfg := config.MustLoad()

	logger := newLogger(cfg.Log)
	level.Info(logger).Log("msg", "starting exchange rate gateway", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	upstream := exchangehost.NewService(cfg.Upstream.URL, cfg.Upstream.AccessKey, cfg.Upstream.Timeout)
	upstream = exchangehost.NewLoggingService(level.Debug(log.With(logger, "component", "exchangehost")), upstream)
	upstream = exchangehost.NewInstrumentingService(m, upstream)

	responseCache, err := cache.New(cfg.Cache.Name, cfg.Cache.MaxEntries, cfg.Cache.TTL,
		cache.WithLogger(log.With(logger, "component", "cache")))
	if err != nil {
		level.Error(logger).Log("msg", "creating cache", "err", err)
		os.Exit(1)
	}
	m.ObserveCache(responseCache)

	limiter := ratelimit.New(cfg.RateLimiter.Capacity, cfg.RateLimiter.RefillInterval,
		ratelimit.WithLogger(log.With(logger, "component", "ratelimit")))
	if cfg.RateLimiter.SweepInterval > 0 {
		go limiter.RunSweeper(ctx, cfg.RateLimiter.SweepInterval, cfg.RateLimiter.IdleAfterOrDefault())
	}

	gateway := exchange.NewService(upstream, responseCache, cache.NewRegistry(), cfg.Upstream.Timeout)
	gateway = exchange.NewInstrumentingService(m, gateway)
	gateway = exchange.NewLoggingService(log.With(logger, "component", "exchange"), gateway)
	gateway = exchange.NewRateLimitingService(limiter, m, gateway)

	var repository history.Repository
	if cfg.History.DSN != "" {
		db, err := history.Open(cfg.History.DSN)
		if err != nil {
			level.Error(logger).Log("msg", "opening history store", "err", err)
			os.Exit(1)
		}
		if err := history.RunMigrations(db, cfg.History.MigrationsPath); err != nil {
			level.Error(logger).Log("msg", "migrating history store", "err", err)
			os.Exit(1)
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		repository = history.NewRepository(db)
	}

	var publisher events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer publisher.Close()
	}

	if cfg.Refresh.Enabled {
		pairs, _ := cfg.Refresh.ParsePairs()
		refresher := refresh.New(gateway, pairs, cfg.Refresh.Interval,
			refresh.WithRecorder(repository),
			refresh.WithPublisher(publisher),
			refresh.WithMetrics(m),
			refresh.WithLogger(log.With(logger, "component", "refresh")),
		)
		if err := refresher.Start(ctx); err != nil {
			level.Error(logger).Log("msg", "starting refresher", "err", err)
			os.Exit(1)
		}
		defer refresher.Stop()
	}

	handler := http.NewServer(gateway,
		http.WithHistory(repository),
		http.WithMetrics(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		http.WithClientIDHeader(cfg.HTTP.ClientIDHeader),
		http.WithLogger(log.With(logger, "component", "http")),
	)
	httpServer := &nhttp.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errc := make(chan error, 2)
	go func() {
		level.Info(logger).Log("msg", "http listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, nhttp.ErrServerClosed) {
			errc <- err
		}
	}()

	var healthServer *health.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			level.Error(logger).Log("msg", "grpc listen", "err", err)
			os.Exit(1)
		}
		healthServer = health.NewServer(log.With(logger, "component", "health"))
		go func() {
			if err := healthServer.Serve(lis); err != nil {
				errc <- err
			}
		}()
		healthServer.SetServing(true)
	}

	select {
	case <-ctx.Done():
		level.Info(logger).Log("msg", "shutting down")
	case err := <-errc:
		level.Error(logger).Log("msg", "server failed", "err", err)
	}

	if healthServer != nil {
		healthServer.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		level.Error(logger).Log("msg", "http shutdown", "err", err)
	}
	stop()
}
