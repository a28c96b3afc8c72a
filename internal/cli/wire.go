package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parlance-data/parlance/pkg/catalog"
	"github.com/parlance-data/parlance/pkg/engine"
	"github.com/parlance-data/parlance/pkg/llm"
	"github.com/parlance-data/parlance/pkg/orchestrator"
	"github.com/parlance-data/parlance/pkg/reasoning"
	"github.com/parlance-data/parlance/pkg/session"
)

const (
	defaultModel       = "claude-sonnet-4-0"
	defaultSessionsDir = ".parlance/sessions"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *options) loadCatalog() (*catalog.Catalog, error) {
	path := *o.catalogPath
	if path == "" {
		path = os.Getenv("PARLANCE_CATALOG")
	}
	if path == "" {
		return nil, fmt.Errorf("no catalog configured: pass --catalog or set PARLANCE_CATALOG")
	}
	return catalog.Load(path)
}

func (o *options) openStore(ctx context.Context, log *slog.Logger) (session.Store, func(), error) {
	if dsn := os.Getenv("PARLANCE_POSTGRES_DSN"); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store, err := session.NewPGStore(ctx, pool, log, clockwork.NewRealClock())
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	}

	dir := os.Getenv("PARLANCE_SESSIONS_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, err
		}
		dir = filepath.Join(home, defaultSessionsDir)
	}
	store, err := session.NewFileStore(dir, log, clockwork.NewRealClock())
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

// buildOrchestrator wires the full workflow stack from flags and environment.
// The returned cleanup must be called when the command finishes.
func (o *options) buildOrchestrator(ctx context.Context, generateOnly bool) (*orchestrator.Orchestrator, func(), error) {
	log := o.logger()

	cat, err := o.loadCatalog()
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := o.openStore(ctx, log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := closeStore

	var maxTokens int64
	if raw := os.Getenv("ANTHROPIC_MAX_TOKENS"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			maxTokens = parsed
		}
	}
	client := llm.NewAnthropicClient(
		anthropic.Model(envOr("ANTHROPIC_MODEL", defaultModel)),
		maxTokens,
		log,
	)

	var eng engine.Engine
	if !generateOnly {
		ch, err := engine.NewClickHouse(ctx, engine.ClickHouseConfig{
			Addr:     envOr("CLICKHOUSE_ADDR", "localhost:9000"),
			Database: envOr("CLICKHOUSE_DATABASE", "default"),
			Username: envOr("CLICKHOUSE_USERNAME", "default"),
			Password: os.Getenv("CLICKHOUSE_PASSWORD"),
			Logger:   log,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		eng = ch
		prev := cleanup
		cleanup = func() {
			_ = ch.Close()
			prev()
		}
	}

	reasoner := reasoning.New(reasoning.Config{
		Logger:                   log,
		Catalog:                  cat,
		LLM:                      client,
		WarnSimilarRelationNames: os.Getenv("PARLANCE_WARN_SIMILAR_RELATIONS") == "true",
	})
	prev := cleanup
	cleanup = func() {
		reasoner.Close()
		prev()
	}

	o.serveMetrics(log)

	orch, err := orchestrator.New(orchestrator.Config{
		Logger:       log,
		Store:        store,
		Catalog:      cat,
		LLM:          client,
		Engine:       eng,
		Reasoner:     reasoner,
		GenerateOnly: generateOnly,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return orch, cleanup, nil
}

// serveMetrics exposes the Prometheus registry when an address is configured.
func (o *options) serveMetrics(log *slog.Logger) {
	addr := os.Getenv("PARLANCE_METRICS_ADDR")
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Info("metrics listener started", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics listener failed", "error", err)
		}
	}()
}
