// Command mock-api serves a self-contained UNITE event-request API for local
// development and end-to-end tests of the client packages.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/segmentio/kafka-go"

	"github.com/Pkv562/UNITE/pkg/auth"
	"github.com/Pkv562/UNITE/pkg/hardening"
	"github.com/Pkv562/UNITE/pkg/httpx"
	"github.com/Pkv562/UNITE/pkg/metrics"
	"github.com/Pkv562/UNITE/pkg/ratelimit"
	"github.com/Pkv562/UNITE/pkg/statebus"
	"github.com/Pkv562/UNITE/pkg/store"
	"github.com/Pkv562/UNITE/pkg/stream"
	"github.com/Pkv562/UNITE/pkg/telemetry"
)

const serviceName = "mock-api"

// Testable variables for main()
var (
	initTelemetryFn = telemetry.Init
	listenFn        = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, logger, initTelemetryFn, listenFn); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

type serverConfig struct {
	Environment  string
	JWTSecret    string
	JWTIssuer    string
	CORSOrigins  string
	WSOrigins    []string
	WriteLimit   int
	Seed         bool
	DevTokens    bool
	KafkaBrokers []string
	KafkaTopic   string
	RedisAddr    string
	RedisTLS     bool
}

func configFromEnv() serverConfig {
	return serverConfig{
		Environment:  env("MOCK_API_ENV", "development"),
		JWTSecret:    env("MOCK_API_JWT_SECRET", ""),
		JWTIssuer:    env("MOCK_API_JWT_ISSUER", "unite-mock"),
		CORSOrigins:  env("MOCK_API_CORS_ORIGINS", "http://localhost:3000"),
		WSOrigins:    statebus.ParseBrokers(env("MOCK_API_WS_ORIGINS", "")),
		WriteLimit:   envInt("MOCK_API_WRITE_LIMIT", 120),
		Seed:         env("MOCK_API_SEED", "true") != "false",
		DevTokens:    env("MOCK_API_DEV_TOKENS", "true") != "false",
		KafkaBrokers: statebus.ParseBrokers(env("MOCK_API_KAFKA_BROKERS", "")),
		KafkaTopic:   env("MOCK_API_KAFKA_TOPIC", statebus.DefaultKafkaTopic),
		RedisAddr:    env("MOCK_API_REDIS_ADDR", ""),
		RedisTLS:     env("MOCK_API_REDIS_TLS", "false") == "true",
	}
}

func (c serverConfig) validate() error {
	return hardening.ValidateProduction(hardening.Options{
		Service:      serviceName,
		Environment:  c.Environment,
		Strict:       env("MOCK_API_STRICT", ""),
		RedisAddr:    c.RedisAddr,
		RedisTLS:     c.RedisTLS,
		CORSOrigins:  c.CORSOrigins,
		DevEndpoints: c.DevTokens,
		Required:     []hardening.Requirement{{Name: "MOCK_API_JWT_SECRET", Value: c.JWTSecret}},
	})
}

func run(
	ctx context.Context,
	logger *slog.Logger,
	initTelemetry func(context.Context, telemetry.Config, *slog.Logger) (func(context.Context) error, error),
	listen func(*http.Server) error,
) error {
	if logger == nil {
		logger = slog.Default()
	}
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}
	shutdown, err := initTelemetry(ctx, telemetry.ConfigFromEnv(serviceName, os.LookupEnv), logger)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	cfg := configFromEnv()
	if err := cfg.validate(); err != nil {
		return err
	}
	srv := newServer(cfg, logger)
	if cfg.RedisAddr != "" {
		rdb, err := store.NewRedis(ctx, store.RedisConfig{Addr: cfg.RedisAddr, TLS: cfg.RedisTLS})
		if err != nil {
			logger.Warn("redis unavailable, rate limiting in memory", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer rdb.Close()
			rl := ratelimit.NewRedis(rdb, time.Minute)
			rl.Logger = logger
			srv.limiter = rl
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		w := &kafka.Writer{
			Addr:         kafka.TCP(cfg.KafkaBrokers...),
			Topic:        cfg.KafkaTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		}
		defer w.Close()
		srv.publisher = w
	}

	addr := env("ADDR", ":3000")
	logger.Info("mock-api listening", "addr", addr, "auth", srv.auth.Enabled(), "kafka", len(cfg.KafkaBrokers) > 0)
	server := &http.Server{
		Addr:              addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	return listen(server)
}

// publisher is the subset of *kafka.Writer the server mirrors frames to.
type publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type server struct {
	store     *requestStore
	hub       *stream.Hub
	auth      *auth.Verifier
	metrics   *metrics.Registry
	limiter   ratelimit.Limiter
	publisher publisher
	logger    *slog.Logger
	cfg       serverConfig
	now       func() time.Time
}

func newServer(cfg serverConfig, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{
		store:   newRequestStore(nil),
		hub:     stream.NewHub(),
		auth:    auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		metrics: metrics.NewRegistry(),
		limiter: ratelimit.NewInMemory(time.Minute),
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
	if cfg.Seed {
		seed(s.store)
	}
	return s
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.HTTPMiddleware(serviceName))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(httpx.CORSMiddleware(httpx.ParseOrigins(s.cfg.CORSOrigins)))
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": serviceName, "subscribers": s.hub.Subscribers()})
	})
	r.Handle("/metrics", s.metrics.PrometheusHandler())
	r.Get("/metrics.json", s.metrics.Handler())
	if s.cfg.DevTokens {
		r.Post("/api/dev/token", s.issueToken)
	}

	limited := ratelimit.Middleware(s.limiter, s.cfg.WriteLimit, func(r *http.Request) string {
		if p, ok := auth.PrincipalFromContext(r.Context()); ok {
			return p.UserID
		}
		return ""
	})
	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Get("/ws/events", s.streamEvents)
		for _, base := range []string{"/api/v1", "/api/v2"} {
			r.Route(base, func(r chi.Router) {
				r.Route("/event-requests", func(r chi.Router) {
					r.Get("/", s.listRequests)
					r.With(limited).Post("/", s.createRequest)
					r.Get("/{id}", s.getRequest)
					r.With(limited).Put("/{id}", s.updateRequest)
					r.With(limited).Delete("/{id}", s.deleteRequest)
					r.Get("/{id}/reviewers", s.listReviewers)
					r.Get("/{id}/actions", s.availableActions)
					r.With(limited).Post("/{id}/actions", s.executeAction)
				})
				r.Get("/jurisdictions", s.listJurisdictions)
				r.Post("/jurisdictions/validate", s.validateJurisdiction)
			})
		}
	})
	return r
}

// observe records latency per route pattern so ids do not explode the
// endpoint set.
func (s *server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		pattern := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			pattern = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.Observe(r.Method+" "+pattern, status, time.Since(start))
	})
}

func env(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
