// Package core assembles the orchestration components around one pair of
// storage files. Tests build isolated cores against temporary paths; there is
// no process-global state beyond the logger.
package core

import (
	"context"
	"fmt"
	"os"

	"github.com/hivecore/hivecore/pkg/auth"
	"github.com/hivecore/hivecore/pkg/bus"
	"github.com/hivecore/hivecore/pkg/calllog"
	"github.com/hivecore/hivecore/pkg/config"
	"github.com/hivecore/hivecore/pkg/logger"
	"github.com/hivecore/hivecore/pkg/observability"
	"github.com/hivecore/hivecore/pkg/providers"
	"github.com/hivecore/hivecore/pkg/registry"
	"github.com/hivecore/hivecore/pkg/router"
	"github.com/hivecore/hivecore/pkg/swarm"
)

// Core owns every component and the two sqlite files backing them.
type Core struct {
	Config     *config.Config
	CallLog    *calllog.Store
	Swarm      *swarm.Store
	Bus        *bus.Bus
	Auth       *auth.Store
	Router     *router.Router
	Decomposer *swarm.Decomposer
	Executor   *swarm.Executor

	stopTracing func(context.Context) error
}

// Open wires all components. The caller must Close the returned core.
func Open(ctx context.Context, cfg *config.Config) (*Core, error) {
	if err := os.MkdirAll(cfg.DataDirPath(), 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	for model, p := range cfg.Pricing {
		if !registry.SetPricing(model, registry.Pricing{
			InputPerMillion:  p.InputPerMillion,
			OutputPerMillion: p.OutputPerMillion,
		}) {
			logger.WarnCF("core", "pricing override for unknown model ignored", map[string]any{
				"model": model,
			})
		}
	}

	callLog, err := calllog.Open(cfg.CallLogPath())
	if err != nil {
		return nil, err
	}

	swarmStore, err := swarm.Open(cfg.SwarmPath())
	if err != nil {
		callLog.Close()
		return nil, err
	}

	msgBus, err := bus.New(swarmStore.DB())
	if err != nil {
		callLog.Close()
		swarmStore.Close()
		return nil, err
	}

	authStore := auth.NewStore(cfg.AuthFilePath())
	limiter := providers.NewLimiter(cfg.RateLimits.MaxRequestsPerMinute)

	anthropicAdapter := providers.NewAnthropic(authStore.AnthropicToken, limiter)
	openaiAdapter := providers.NewOpenAI(authStore.CodexToken, limiter)
	smoke := providers.NewSmokeGate(cfg.SkipSmokeTest, authStore.Generation, callLog)

	rtr := router.New(callLog, anthropicAdapter, openaiAdapter, smoke, router.Defaults{
		MinSuccessRate:         cfg.Router.MinSuccessRate,
		BalancedMinSuccessRate: cfg.Router.BalancedMinSuccessRate,
		MinSampleSize:          cfg.Router.MinSampleSize,
		StatsHoursBack:         cfg.Router.StatsHoursBack,
	})

	stopTracing, err := observability.Init(ctx, cfg.Observability)
	if err != nil {
		logger.WarnCF("core", "tracing setup failed, continuing without it", map[string]any{
			"error": err.Error(),
		})
		stopTracing = func(context.Context) error { return nil }
	}

	c := &Core{
		Config:      cfg,
		CallLog:     callLog,
		Swarm:       swarmStore,
		Bus:         msgBus,
		Auth:        authStore,
		Router:      rtr,
		Decomposer:  swarm.NewDecomposer(rtr, swarmStore),
		Executor:    swarm.NewExecutor(swarmStore, rtr, cfg.Executor),
		stopTracing: stopTracing,
	}
	logger.InfoCF("core", "core initialized", map[string]any{
		"data_dir": cfg.DataDirPath(),
	})
	return c, nil
}

// Close flushes the call-log writer and releases both database handles.
func (c *Core) Close(ctx context.Context) error {
	var firstErr error
	if err := c.stopTracing(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.CallLog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.Swarm.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
