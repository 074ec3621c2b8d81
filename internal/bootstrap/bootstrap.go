// Package bootstrap wires the ambient stack every cmd/* process shares:
// load config, build the base logger, the metrics registry, the tracer
// provider, the Postgres connection, and the two Redis clients (cache
// and queue transport, which may point at the same instance). Each
// cmd/*/main.go calls New once and builds its own stage-specific workers
// from the returned handles.
package bootstrap

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/korrelate/triangulate/internal/config"
	"github.com/korrelate/triangulate/internal/logging"
	"github.com/korrelate/triangulate/internal/store"
	"github.com/korrelate/triangulate/internal/telemetry/metrics"
	"github.com/korrelate/triangulate/internal/telemetry/tracing"
)

// Stack bundles every cmd/* process's ambient dependencies.
type Stack struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Tracer   *sdktrace.TracerProvider
	DB       *sql.DB
	CacheRDB *redis.Client
	QueueRDB *redis.Client
}

// New loads configPath and builds every ambient dependency a cmd/* binary
// needs before constructing its own domain-specific workers. service
// names the zap/otel/prometheus identity of the calling process (e.g.
// "scout", "analysis-worker").
func New(service, configPath string) (*Stack, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(service, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	db, err := store.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}

	return &Stack{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics.New("triangulate"),
		Tracer:   tracing.NewProvider(service),
		DB:       db,
		CacheRDB: redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr, Password: cfg.Cache.Password, DB: cfg.Cache.DB}),
		QueueRDB: redis.NewClient(&redis.Options{Addr: cfg.Queue.Addr}),
	}, nil
}

// Close releases every connection New opened. cmd/* processes call this
// via defer right after a successful New.
func (s *Stack) Close() {
	_ = s.DB.Close()
	_ = s.CacheRDB.Close()
	_ = s.QueueRDB.Close()
	_ = s.Tracer.Shutdown(context.Background())
	_ = s.Logger.Sync()
}
