package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"mcpgate/pkg/audit"
	"mcpgate/pkg/auth"
	"mcpgate/pkg/blob"
	"mcpgate/pkg/catalog"
	"mcpgate/pkg/egress"
	"mcpgate/pkg/events"
	"mcpgate/pkg/httpx"
	"mcpgate/pkg/ratelimit"
	"mcpgate/pkg/schema"
	"mcpgate/pkg/telemetry"
)

type config struct {
	Issuer          string
	Audience        string
	JWKSURL         string
	RedisAddr       string
	CatalogURL      string
	DatabaseURL     string
	StaticEgress    []string
	OTLPEndpoint    string
	KafkaBrokers    []string
	KafkaTopic      string
	Addr            string
	CORSOrigins     string
	RateLimit       int
	RateWindow      time.Duration
	UpstreamTimeout time.Duration
	MaxBodyBytes    int64
}

// loadConfig reads the environment; every missing required option is
// named in one startup-fatal error.
func loadConfig() (config, error) {
	var missing []string
	require := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}
	cfg := config{
		Issuer:          require("OIDC_ISSUER"),
		Audience:        require("OIDC_AUDIENCE"),
		JWKSURL:         require("JWKS_URL"),
		RedisAddr:       require("REDIS_ADDR"),
		CatalogURL:      require("CATALOG_URL"),
		DatabaseURL:     require("DATABASE_URL"),
		StaticEgress:    splitList(os.Getenv("EGRESS_ALLOWLIST")),
		OTLPEndpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		KafkaBrokers:    splitList(os.Getenv("EVENTS_KAFKA_BROKERS")),
		KafkaTopic:      env("EVENTS_KAFKA_TOPIC", "gateway-events"),
		Addr:            env("ADDR", ":8080"),
		CORSOrigins:     env("CORS_ALLOWED_ORIGINS", ""),
		RateLimit:       envInt("RATE_LIMIT_PER_MINUTE", ratelimit.DefaultLimit),
		RateWindow:      time.Second * time.Duration(envInt("RATE_LIMIT_WINDOW_SEC", 60)),
		UpstreamTimeout: time.Millisecond * time.Duration(envInt("UPSTREAM_TIMEOUT_MS", 3000)),
		MaxBodyBytes:    int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
	}
	if len(missing) > 0 {
		return config{}, fmt.Errorf("missing required environment: %s", strings.Join(missing, ", "))
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = ratelimit.DefaultWindow
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return cfg, nil
}

// Testable variables for main()
var (
	logFatalf = log.Fatalf
	listenFn  = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	if err := runGateway(listenFn); err != nil {
		logFatalf("gateway: %v", err)
	}
}

func runGateway(listen func(*http.Server) error) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Init(ctx, "mcp-gateway", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("audit store: %w", err)
	}
	defer pool.Close()
	store := blob.NewPostgres(pool)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("audit store migrate: %w", err)
	}

	var limiter ratelimit.Limiter
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("redis unavailable, falling back to in-memory rate limits: %v", err)
		_ = redisClient.Close()
		limiter = ratelimit.NewInMemory(cfg.RateWindow)
	} else {
		defer func() { _ = redisClient.Close() }()
		limiter = ratelimit.NewRedis(redisClient, cfg.RateWindow)
	}

	httpClient := telemetry.InstrumentClient(&http.Client{Timeout: cfg.UpstreamTimeout})
	catalogClient := catalog.New(cfg.CatalogURL, httpClient)

	var emitter events.Emitter = events.LogEmitter{}
	if len(cfg.KafkaBrokers) > 0 {
		emitter = events.MultiEmitter{events.LogEmitter{}, events.NewKafkaEmitter(cfg.KafkaBrokers, cfg.KafkaTopic)}
	}

	s := &Server{
		Verifier: &auth.Verifier{
			Issuer:   cfg.Issuer,
			Audience: cfg.Audience,
			Keys:     auth.NewJWKSCache(cfg.JWKSURL, httpClient, 5*time.Minute),
		},
		Catalog:      catalogClient,
		Schemas:      schema.NewCache(catalogClient),
		Limiter:      limiter,
		RateLimit:    cfg.RateLimit,
		RateWindow:   cfg.RateWindow,
		GlobalEgress: egress.NewGlobalCache(catalogClient.EgressHosts, time.Minute),
		StaticEgress: cfg.StaticEgress,
		Audit:        audit.NewWriter(store),
		Events:       events.NewBuffer(events.DefaultCapacity),
		Hub:          events.NewHub(),
		Emitter:      emitter,
		HTTPClient:   httpClient,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}

	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(cfg.CORSOrigins))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(telemetry.HTTPMiddleware("mcp-gateway"))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "gateway"})
	})
	r.Post("/mcp/{toolId}/call", s.handleToolCall)
	r.Get("/admin/events", s.handleAdminEvents)
	r.Get("/admin/events/stream", s.streamAdminEvents)

	log.Printf("gateway listening on %s", cfg.Addr)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
