// Command copilot launches the shopping-copilot orchestration core as a
// standalone HTTP service: selector registry, popup patterns, a chromedp-
// driven Page Interactor, the optional Postgres history archive, the
// optional Anthropic LLM adapter, and the control-plane API over HTTP.
//
// It never places an order: session.approve only ever advances the run
// state machine and archives the already-generated review pack.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopping-copilot/core/internal/config"
	"github.com/shopping-copilot/core/internal/httpserver"
	"github.com/shopping-copilot/core/internal/interactor"
	"github.com/shopping-copilot/core/internal/interactor/chromedpadapter"
	"github.com/shopping-copilot/core/internal/llm"
	"github.com/shopping-copilot/core/internal/llm/anthropic"
	"github.com/shopping-copilot/core/internal/popup"
	"github.com/shopping-copilot/core/internal/registry"
	"github.com/shopping-copilot/core/internal/runner"
	"github.com/shopping-copilot/core/internal/store/ephemeralstore"
	"github.com/shopping-copilot/core/internal/store/historyarchive"
	"github.com/shopping-copilot/core/internal/store/ordercache"
	"github.com/shopping-copilot/core/internal/store/prefstore"
	"github.com/shopping-copilot/core/internal/store/sessionstore"
	"github.com/shopping-copilot/core/internal/telemetry"
	"github.com/shopping-copilot/core/pkg/api"
)

const (
	copilotLoggerPrefix = "copilot "

	httpShutdownTimeout      = 5 * time.Second
	historyPoolShutdownTime  = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	readHeaderTimeout        = 5 * time.Second
	defaultHTTPAddr          = ":8085"
)

func main() {
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newCopilotLogger()
	cfg := config.FromEnv()
	logger.Printf("configuration initialised: env=%s", cfg.Environment)

	reg, err := loadRegistry(cfg, logger)
	if err != nil {
		logger.Fatalf("load selector registry: %v", err)
	}

	patterns, err := popup.LoadPatternsFile(cfg.Stores.PopupPatternsFile)
	if err != nil {
		logger.Fatalf("load popup patterns: %v", err)
	}
	logger.Printf("popup patterns loaded: %d", len(patterns))

	sessions, err := sessionstore.New(cfg.Stores.SessionsDir)
	if err != nil {
		logger.Fatalf("open session store: %v", err)
	}
	prefs, err := prefstore.New(cfg.Stores.PreferencesDir)
	if err != nil {
		logger.Fatalf("open preference store: %v", err)
	}
	orders := ordercache.New()
	defer orders.Close()

	history, historyPool := initHistoryArchive(ctx, cfg, logger)

	browserCtx, browserCancel := newBrowserContext(ctx)
	defer browserCancel()
	port := chromedpadapter.New(browserCtx)

	ephemeral := ephemeralstore.New()
	llmPort := initLLM(ctx, logger, ephemeral)

	telemetryProvider, err := initTelemetry(ctx, logger, cfg.Environment)
	if err != nil {
		logger.Fatalf("init telemetry: %v", err)
	}
	runMetrics, err := telemetry.NewRunMetrics(telemetryProvider)
	if err != nil {
		logger.Fatalf("register run metrics: %v", err)
	}
	httpMetrics, err := telemetry.NewHTTPMetrics(telemetryProvider)
	if err != nil {
		logger.Fatalf("register http metrics: %v", err)
	}

	run := runner.New(port, reg, convertPatterns(patterns), cfg.Timeouts, llmPort,
		storeBrandIDsFromEnv(), strings.TrimSpace(os.Getenv("COPILOT_SEARCH_URL_TEMPLATE")), orders, prefs)

	apiHandler := api.New(sessions, history, run, nil)
	apiHandler.SetMetrics(runMetrics)

	addr := strings.TrimSpace(os.Getenv("COPILOT_HTTP_ADDR"))
	if addr == "" {
		addr = defaultHTTPAddr
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           httpserver.NewHandler(apiHandler, httpMetrics),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serverErrs := make(chan error, 1)
	go func() {
		logger.Printf("control server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrs <- err
			return
		}
		serverErrs <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Print("shutdown signal received")
	case err := <-serverErrs:
		if err != nil {
			logger.Printf("control server: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:      server,
		historyPool: historyPool,
		telemetry:   telemetryProvider,
	})
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newCopilotLogger() *log.Logger {
	return log.New(os.Stdout, copilotLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func loadRegistry(cfg config.Settings, logger *log.Logger) (*registry.Registry, error) {
	reg, err := registry.LoadFile(cfg.Stores.SelectorRegistry)
	if err != nil {
		return nil, err
	}
	logger.Printf("selector registry loaded from %s", cfg.Stores.SelectorRegistry)
	return reg, nil
}

func initHistoryArchive(ctx context.Context, cfg config.Settings, logger *log.Logger) (*historyarchive.Store, *pgxpool.Pool) {
	if !cfg.HistoryArchive.Enabled {
		logger.Print("history archive disabled; session.history will report an error")
		return nil, nil
	}

	migrateCtx, migrateCancel := context.WithTimeout(ctx, cfg.HistoryArchive.ConnectTimeout)
	defer migrateCancel()
	if err := historyarchive.ApplyMigrations(migrateCtx, cfg.HistoryArchive.DSN, logger); err != nil {
		logger.Fatalf("apply history archive migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, cfg.HistoryArchive.DSN)
	if err != nil {
		logger.Fatalf("connect history archive: %v", err)
	}
	logger.Print("history archive connected")
	return historyarchive.New(pool), pool
}

// newBrowserContext allocates a headless chromedp browser tab for the
// Page Interactor's lifetime. The browser is derived from parent, so it is
// torn down either when parent is cancelled or when the returned cancel
// function is called during graceful shutdown.
func newBrowserContext(parent context.Context) (context.Context, context.CancelFunc) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, chromedp.DefaultExecAllocatorOptions[:]...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	return browserCtx, func() {
		browserCancel()
		allocCancel()
	}
}

func initLLM(ctx context.Context, logger *log.Logger, ephemeral *ephemeralstore.Store) llm.Port {
	adapter := anthropic.New()
	key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if key == "" {
		logger.Print("no ANTHROPIC_API_KEY set; substitution refinement falls back to heuristics only")
		return adapter
	}
	ephemeral.SetAPIKey(key)
	if err := adapter.SetAPIKey(ctx, key); err != nil {
		logger.Printf("llm: set api key failed, continuing heuristic-only: %v", err)
	}
	return adapter
}

func initTelemetry(ctx context.Context, logger *log.Logger, env config.Environment) (*telemetry.Provider, error) {
	cfg := telemetry.DefaultConfig()
	cfg.Environment = string(env)

	provider, err := telemetry.NewProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if cfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s", cfg.OTLPEndpoint)
	} else {
		logger.Print("telemetry disabled")
	}
	return provider, nil
}

// convertPatterns adapts the popup package's YAML-loadable Pattern shape to
// the Interactor port's PopupPattern shape. The two packages deliberately
// don't share a type: popup stays ignorant of the Interactor boundary.
func convertPatterns(in []popup.Pattern) []interactor.PopupPattern {
	out := make([]interactor.PopupPattern, 0, len(in))
	for _, p := range in {
		out = append(out, interactor.PopupPattern{
			Name:               p.Name,
			Selector:           p.Selector,
			TextMatch:          p.TextMatch,
			ExactMatch:         p.ExactMatch,
			Priority:           p.Priority,
			SkipIfReorderModal: p.SkipIfReorderModal,
		})
	}
	return out
}

// storeBrandIDsFromEnv parses a comma-separated COPILOT_STORE_BRAND_IDS list
// into the set Runner needs for store-brand substitution scoring.
func storeBrandIDsFromEnv() map[string]bool {
	raw := strings.TrimSpace(os.Getenv("COPILOT_STORE_BRAND_IDS"))
	if raw == "" {
		return nil
	}
	ids := make(map[string]bool)
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			ids[id] = true
		}
	}
	return ids
}

type gracefulShutdownConfig struct {
	server      *http.Server
	historyPool *pgxpool.Pool
	telemetry   *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	step := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
			return
		}
		logger.Printf("shutdown: %s completed", name)
	}

	if cfg.server != nil {
		step("stopping control server", httpShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	if cfg.historyPool != nil {
		step("closing history archive pool", historyPoolShutdownTime, func(context.Context) error {
			cfg.historyPool.Close()
			return nil
		})
	}

	if cfg.telemetry != nil {
		step("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}
