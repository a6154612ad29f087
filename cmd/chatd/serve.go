package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"chatd/internal/catalog"
	"chatd/internal/config"
	"chatd/internal/httpapi"
	"chatd/internal/llm"
	"chatd/internal/manager"
	"chatd/pkg/types"
)

const shutdownTimeout = 10 * time.Second

// managerConfig maps process configuration onto the serving core.
func managerConfig(cfg config.Config, engine llm.Engine, log *zerolog.Logger) manager.ManagerConfig {
	params := llm.DefaultParams()
	if cfg.MaxTokens > 0 {
		params.MaxTokens = cfg.MaxTokens
	}
	params.Temperature = cfg.Temperature
	params.TopK = cfg.TopK
	params.TopP = cfg.TopP
	params.RepeatPenalty = cfg.RepeatPenalty
	params.Seed = cfg.Seed
	return manager.ManagerConfig{
		Engine:         engine,
		Logger:         log,
		BudgetMB:       cfg.MemoryBudgetMB,
		MarginMB:       cfg.MemoryMarginMB,
		MaxIdleModels:  cfg.MaxIdleModels,
		Architectures:  cfg.Architectures,
		Workers:        cfg.Workers,
		MaxQueueDepth:  cfg.MaxQueueDepth,
		MaxWait:        cfg.MaxWait.Duration,
		MaxDuration:    cfg.MaxDuration.Duration,
		SessionTTL:     cfg.SessionTTL.Duration,
		Params:         params,
		MaxTokensLimit: cfg.MaxTokensLimit,
	}
}

// adminService adds model listing and drain state to the manager for the admin listener.
type adminService struct {
	*manager.Manager
	modelsDir string
	draining  atomic.Bool
}

func (a *adminService) Ready() bool { return !a.draining.Load() && a.Manager.Ready() }

func (a *adminService) ListModels() ([]types.Model, error) { return catalog.LoadDir(a.modelsDir) }

// serve runs the chat listener (and the admin listener when configured)
// until ctx is canceled, then drains in-flight requests.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger, engine llm.Engine) error {
	httpapi.SetLogger(log)
	httpapi.SetAccessLogLevel(accessLogLevel(cfg.LogLevel))
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(len(cfg.CORSOrigins) > 0, cfg.CORSOrigins, nil, nil)

	mgr := manager.NewWithConfig(managerConfig(cfg, engine, &log))
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Error().Err(err).Msg("manager close")
		}
	}()
	if rep := mgr.SanityCheck(); !rep.EngineBuilt {
		log.Warn().Str("error", rep.Error).Msg("inference engine unavailable; chat requests will fail until rebuilt with -tags llama")
	}
	for _, p := range cfg.Preload {
		if err := mgr.Preload(ctx, p); err != nil {
			log.Error().Err(err).Str("path", p).Msg("preload failed")
		}
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.Port, err)
	}
	if cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConns)
	}
	chat := &http.Server{Handler: httpapi.NewMux(mgr), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 2)
	go func() { errCh <- chat.Serve(ln) }()
	log.Info().Str("addr", ln.Addr().String()).Str("models_dir", cfg.ModelsDir).Int("workers", mgr.Status().Workers).Msg("chatd listening")

	admin := &adminService{Manager: mgr, modelsDir: cfg.ModelsDir}
	var adminSrv *http.Server
	if cfg.AdminAddr != "" {
		aln, err := net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			_ = chat.Close()
			return fmt.Errorf("listen on admin address %s: %w", cfg.AdminAddr, err)
		}
		adminSrv = &http.Server{Handler: httpapi.NewAdminMux(admin), ReadHeaderTimeout: 10 * time.Second}
		go func() { errCh <- adminSrv.Serve(aln) }()
		log.Info().Str("addr", aln.Addr().String()).Msg("admin listening")
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
			log.Error().Err(err).Msg("server error")
		}
	}

	admin.draining.Store(true)
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := chat.Shutdown(shCtx); err != nil {
		// Requests still running past the deadline are aborted.
		log.Warn().Err(err).Msg("graceful shutdown incomplete; canceling in-flight requests")
		cancelBase()
		_ = chat.Close()
	}
	if adminSrv != nil {
		if err := adminSrv.Shutdown(shCtx); err != nil {
			_ = adminSrv.Close()
		}
	}
	return serveErr
}
