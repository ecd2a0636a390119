package app

import (
	"context"
	"fmt"

	"github.com/antoniostano/mnemo/internal/config"
	"github.com/antoniostano/mnemo/internal/extract"
	"github.com/antoniostano/mnemo/internal/httpapi"
	"github.com/antoniostano/mnemo/internal/memory"
	"github.com/antoniostano/mnemo/internal/observability"
	"github.com/antoniostano/mnemo/internal/session"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Store
	Manager  *memory.Manager
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	profiles, err := memory.NewProfileStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("profile store init failed: %w", err)
	}

	gateway, err := extract.NewGateway(extract.Config{
		Mode:               cfg.ExtractMode,
		HTTPURL:            cfg.ExtractHTTPURL,
		RatePerSec:         cfg.ExtractRatePerSec,
		Burst:              cfg.ExtractBurst,
		BreakerMaxFailures: uint32(cfg.BreakerMaxFailures),
		BreakerCooldown:    cfg.BreakerCooldown,
		RequestTimeout:     cfg.ExtractTimeout,
	})
	if err != nil {
		_ = profiles.Close()
		return nil, fmt.Errorf("extraction gateway init failed: %w", err)
	}

	sessions := session.NewStore(session.Thresholds{
		SummarizeAfter:   cfg.SummarizeAfterTurns,
		ResummarizeEvery: cfg.ResummarizeEveryTurns,
	}, cfg.SessionInactivityTimeout)
	sessions.SetEvictHook(func(_ session.Snapshot) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	manager := memory.NewManager(sessions, gateway, profiles, metrics, memory.Config{
		HistoryWindow:  cfg.HistoryWindow,
		RecentContext:  cfg.RecentContextLimit,
		ExtractTimeout: cfg.ExtractTimeout,
		RedactPII:      cfg.RedactPII,
	})

	api := httpapi.New(cfg, manager, metrics)

	cleanup := func() error {
		return profiles.Close()
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Manager:  manager,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}
