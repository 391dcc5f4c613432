// Command possim replays a register transaction described in a JSON scenario:
// it loads reference data, prices the cart, settles it and prints the
// settlement together with the payload the backend would receive. With
// -submit the payload is sent under the register lock.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pos-settlement/internal/backend"
	"github.com/noah-isme/pos-settlement/internal/catalog"
	"github.com/noah-isme/pos-settlement/internal/checkout"
	"github.com/noah-isme/pos-settlement/internal/common"
	"github.com/noah-isme/pos-settlement/internal/config"
	"github.com/noah-isme/pos-settlement/internal/events"
	"github.com/noah-isme/pos-settlement/internal/lock"
	"github.com/noah-isme/pos-settlement/internal/obs"
	"github.com/noah-isme/pos-settlement/internal/pricing"
	"github.com/noah-isme/pos-settlement/internal/resilience"
)

func main() {
	var (
		scenarioPath = flag.String("scenario", "", "scenario JSON file, - reads stdin")
		submit       = flag.Bool("submit", false, "submit the transaction instead of only printing the payload")
		offline      = flag.Bool("offline", false, "serve reference data from the embedded fixture instead of BACKEND_URL")
		dumpMetrics  = flag.Bool("metrics", false, "print collected metrics to stderr on exit")
	)
	flag.Parse()

	if *scenarioPath == "" {
		log.Fatal("-scenario is required")
	}
	sc, err := readScenario(*scenarioPath)
	if err != nil {
		log.Fatalf("read scenario: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	var (
		r       runner
		cleanup func()
	)
	if *offline {
		r, cleanup, err = buildOffline(reg)
	} else {
		r, cleanup, err = buildOnline(ctx, reg)
	}
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	r.submit = *submit

	res, err := r.run(ctx, sc)
	if *dumpMetrics {
		writeMetrics(os.Stderr, reg, r.logger)
	}
	if err != nil {
		r.logger.Error().Err(err).Str("code", common.CodeOf(err)).Msg("scenario_failed")
		cleanup()
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		r.logger.Error().Err(err).Msg("write result")
	}
	cleanup()
}

func readScenario(path string) (scenario, error) {
	if path == "-" {
		return parseScenario(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return scenario{}, err
	}
	defer f.Close()
	return parseScenario(f)
}

func buildOnline(ctx context.Context, reg prometheus.Registerer) (runner, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return runner{}, nil, err
	}
	logger := obs.NewLoggerTo(os.Stderr, cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, cfg.LatencyBuckets, reg)
	resilience.MustRegisterMetrics(cfg.MetricsNamespace, reg)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.EnableTracing {
		shutdown, err := obs.InitTracer(ctx, cfg.Tracing())
		if err != nil {
			logger.Error().Err(err).Msg("init tracer")
		} else {
			closers = append(closers, func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			})
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			cleanup()
			return runner{}, nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOpts)
		if err := redisotel.InstrumentTracing(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis tracing")
		}
		closers = append(closers, func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cleanup()
			return runner{}, nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	hc := resilience.HTTPClient{
		Client:      backend.NewHTTPClient(cfg.BackendTimeout),
		Breaker:     resilience.NewBreaker(cfg.Breaker(), logger),
		MaxAttempts: cfg.BackendMaxAttempts,
		Jitter:      0.2,
		Timeout:     cfg.BackendTimeout,
	}
	client, err := backend.New(cfg.BackendURL, hc, logger)
	if err != nil {
		cleanup()
		return runner{}, nil, err
	}
	return wire(client, cfg.Settings(), redisClient, cfg.RefDataCacheTTL, logger), cleanup, nil
}

func buildOffline(reg prometheus.Registerer) (runner, func(), error) {
	logger := obs.NewLoggerTo(os.Stderr, "console", "info").With().Str("env", "offline").Logger()
	obs.MustRegisterDomainMetrics("pos", nil, reg)
	resilience.MustRegisterMetrics("pos", reg)

	f, err := loadFixture(offlineFixture)
	if err != nil {
		return runner{}, nil, err
	}
	hc := resilience.HTTPClient{Client: &http.Client{Transport: &offlineBackend{f: f}}}
	client, err := backend.New(offlineBaseURL, hc, logger)
	if err != nil {
		return runner{}, nil, err
	}
	settings := checkout.Settings{RegisterID: "offline", WarehouseID: f.WarehouseID}
	return wire(client, settings, nil, 0, logger), func() {}, nil
}

// wire assembles the session dependencies around a backend client. Without
// Redis the reference data is not cached and the register lock is process local.
func wire(client *backend.Client, settings checkout.Settings, redisClient *redis.Client, cacheTTL time.Duration, logger zerolog.Logger) runner {
	source := catalog.CachedSource{
		Source:      client,
		Cache:       catalog.NewCache(redisClient, cacheTTL),
		Logger:      logger,
		WarehouseID: settings.WarehouseID,
	}
	var guard lock.Guard = lock.NewLocal()
	if redisClient != nil {
		guard = lock.Locker{R: redisClient}
	}
	bus := &events.Bus{
		Store:     &events.Journal{},
		Notifiers: []events.Notifier{events.LogNotifier{Logger: obs.Component(logger, "events")}},
	}
	return runner{
		settings: settings,
		loader:   checkout.Loader{Source: source, WarehouseID: settings.WarehouseID, Logger: logger},
		orders:   client,
		sales:    client,
		returns:  client,
		logger:   logger,
		opts: []checkout.Option{
			checkout.WithLogger(logger),
			checkout.WithEvents(bus),
			checkout.WithGuard(guard),
			checkout.WithIdempotency(common.Idem{R: redisClient}),
			checkout.WithPriceSaver(cachedSaver{saver: client, source: source}),
		},
	}
}

// cachedSaver saves an override and drops the customer's cached special
// prices so the next load sees it.
type cachedSaver struct {
	saver  checkout.PriceSaver
	source catalog.CachedSource
}

func (c cachedSaver) SaveSpecialPrice(ctx context.Context, sp pricing.SpecialPrice) error {
	if err := c.saver.SaveSpecialPrice(ctx, sp); err != nil {
		return err
	}
	if err := c.source.ForgetSpecialPrices(ctx, sp.CustomerID); err != nil {
		logger := obs.LoggerFor(ctx, c.source.Logger)
		logger.Warn().Err(err).Str("customer_id", sp.CustomerID).Msg("refdata_cache_invalidate_failed")
	}
	return nil
}

func writeMetrics(w io.Writer, g prometheus.Gatherer, logger zerolog.Logger) {
	families, err := g.Gather()
	if err != nil {
		logger.Error().Err(err).Msg("gather metrics")
		return
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			logger.Error().Err(err).Msg("write metrics")
			return
		}
	}
}
