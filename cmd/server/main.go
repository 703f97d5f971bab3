package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"hcert/internal/audit"
	certhandler "hcert/internal/certificate/handler"
	certmetrics "hcert/internal/certificate/metrics"
	certservice "hcert/internal/certificate/service"
	jwttoken "hcert/internal/jwt_token"
	"hcert/internal/platform/config"
	"hcert/internal/platform/httpserver"
	"hcert/internal/platform/logger"
	"hcert/internal/platform/metrics"
	"hcert/internal/platform/postgres"
	"hcert/internal/platform/redis"
	"hcert/internal/ratelimit/limiter"
	ratemetrics "hcert/internal/ratelimit/metrics"
	ratelimit "hcert/internal/ratelimit/middleware"
	keyhandler "hcert/internal/trustkeys/handler"
	"hcert/internal/trustkeys/importer"
	keymetrics "hcert/internal/trustkeys/metrics"
	keyservice "hcert/internal/trustkeys/service"
	keystore "hcert/internal/trustkeys/store"
	"hcert/pkg/platform/httputil"
	"hcert/pkg/platform/middleware/admin"
	"hcert/pkg/platform/middleware/metadata"
	"hcert/pkg/platform/middleware/request"
	"hcert/pkg/platform/middleware/requesttime"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	log := logger.New(cfg.IsDev())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		stop()
		os.Exit(1)
	}
}

type readinessCheck func(ctx context.Context) error

type infra struct {
	db      *sql.DB
	redis   *redis.Client
	kafka   *audit.KafkaSink
	closers []func()
	ready   map[string]readinessCheck
}

func (i *infra) close() {
	for j := len(i.closers) - 1; j >= 0; j-- {
		i.closers[j]()
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	inf := &infra{ready: map[string]readinessCheck{}}
	defer inf.close()

	keys, err := buildKeyService(ctx, cfg, log, inf)
	if err != nil {
		return err
	}
	publisher, err := buildAuditPublisher(ctx, cfg, log, inf)
	if err != nil {
		return err
	}
	certs, err := certservice.New(keys,
		certservice.WithLogger(log),
		certservice.WithMetrics(certmetrics.New()),
		certservice.WithAuditPublisher(publisher),
		certservice.WithBatchLimits(cfg.Server.BatchLimit, cfg.Server.BatchConcurrency),
	)
	if err != nil {
		return err
	}

	tokens := jwttoken.NewJWTService(cfg.Server.AdminJWTKey, cfg.Server.AdminJWTIssuer, cfg.Server.AdminJWTAudience)
	limits := buildRateLimiter(cfg, log, inf)
	httpMetrics := metrics.New(nil)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(log))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(log))
	r.Use(httpMetrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readyHandler(inf.ready, log))
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(limits.RateLimit)
		certhandler.New(certs, log).Register(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(tokens, log))
		keyhandler.New(keys, log).Register(r)
	})

	srv := httpserver.New(cfg.Server.Addr, r)
	return httpserver.Run(ctx, srv, log)
}

func buildKeyService(ctx context.Context, cfg config.Config, log *slog.Logger, inf *infra) (*keyservice.Service, error) {
	var backend keystore.Backend
	switch cfg.Keys.Backend {
	case config.KeyBackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		inf.db = db
		inf.closers = append(inf.closers, func() { _ = db.Close() })
		inf.ready["postgres"] = db.PingContext

		pg := keystore.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate key store: %w", err)
		}
		backend = pg
	default:
		backend = keystore.NewInMemoryStore()
	}

	var store keyservice.KeyStore = backend
	if cfg.Redis.URL != "" {
		client, err := connectRedis(ctx, cfg, inf)
		if err != nil {
			return nil, err
		}
		store = keystore.NewCachedStore(backend, client.Client, cfg.Keys.CacheTTL)
		log.Info("trusted key cache enabled", "ttl", cfg.Keys.CacheTTL)
	}

	keys, err := keyservice.New(store,
		keyservice.WithLogger(log),
		keyservice.WithMetrics(keymetrics.New()),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Keys.SeedFile != "" {
		format, err := importer.ParseFormat(cfg.Keys.SeedFormat)
		if err != nil {
			return nil, err
		}
		list, err := importer.LoadFile(cfg.Keys.SeedFile, format)
		if err != nil {
			return nil, err
		}
		for _, sk := range list.Skipped {
			log.Warn("trust list key skipped", "kid", sk.KeyID, "reason", sk.Reason)
		}
		n, err := keys.Import(ctx, string(format), list.Keys)
		if err != nil {
			return nil, fmt.Errorf("seed trusted keys: %w", err)
		}
		log.Info("trusted keys seeded",
			"file", cfg.Keys.SeedFile,
			"format", format,
			"count", n,
			"skipped", len(list.Skipped),
		)
	}
	log.Info("trusted key store ready", "backend", cfg.Keys.Backend)
	return keys, nil
}

func connectRedis(ctx context.Context, cfg config.Config, inf *infra) (*redis.Client, error) {
	if inf.redis != nil {
		return inf.redis, nil
	}
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	inf.redis = client
	inf.closers = append(inf.closers, func() { _ = client.Close() })
	inf.ready["redis"] = client.Health
	return client, nil
}

func buildAuditPublisher(ctx context.Context, cfg config.Config, log *slog.Logger, inf *infra) (*audit.Publisher, error) {
	var sink audit.Sink
	switch cfg.Kafka.Sink {
	case config.AuditSinkKafka:
		k, err := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		inf.kafka = k
		inf.closers = append(inf.closers, k.Close)
		if err := k.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.Replication); err != nil {
			return nil, fmt.Errorf("ensure audit topic: %w", err)
		}
		inf.ready["kafka"] = k.Ping
		sink = k
	default:
		sink = audit.NewMemorySink(cfg.Kafka.MemoryCapacity)
	}

	publisher := audit.NewPublisher(sink,
		audit.WithLogger(log),
		audit.WithAsyncBuffer(cfg.Kafka.AsyncBuffer),
	)
	// drain before the sink closes
	inf.closers = append(inf.closers, publisher.Close)
	log.Info("audit publisher ready", "sink", cfg.Kafka.Sink, "memory_capacity", cfg.Kafka.MemoryCapacity)
	return publisher, nil
}

// buildRateLimiter uses a shared Redis window when Redis is configured and the
// in-process token bucket otherwise. The token bucket also serves as the fallback when
// Redis fails.
func buildRateLimiter(cfg config.Config, log *slog.Logger, inf *infra) *ratelimit.Middleware {
	rl := cfg.RateLimit
	local := limiter.NewMapLimiter(rl.RPS, rl.Burst, rl.IdleTTL)
	opts := []ratelimit.Option{
		ratelimit.WithDisabled(rl.Disabled),
		ratelimit.WithMetrics(ratemetrics.New()),
	}
	if inf.redis == nil {
		return ratelimit.New(local, log, opts...)
	}

	perWindow := int(rl.RPS * rl.Window.Seconds())
	if perWindow < rl.Burst {
		perWindow = rl.Burst
	}
	shared := limiter.NewRedisLimiter(inf.redis.Client, perWindow, rl.Window)
	opts = append(opts, ratelimit.WithFallback(local))
	return ratelimit.New(shared, log, opts...)
}

func readyHandler(checks map[string]readinessCheck, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{}
		var failed error
		for name, check := range checks {
			if err := check(ctx); err != nil {
				log.WarnContext(ctx, "readiness check failed", "dependency", name, "error", err)
				status[name] = "unavailable"
				failed = errors.Join(failed, err)
				continue
			}
			status[name] = "ok"
		}
		code := http.StatusOK
		if failed != nil {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, status)
	}
}
