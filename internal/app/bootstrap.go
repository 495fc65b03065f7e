// Package app wires configuration, logging, persistence, metrics and
// strategy state into a ready-to-run process.
package app

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/audit"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/engine"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/execution"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/infra"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/metrics"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/storage"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/strategy"
)

// Bootstrap owns the startup sequence and the process-wide singletons
// it produces.
type Bootstrap struct {
	Config  *infra.Config
	Store   *storage.Store
	Audit   *audit.Logger
	Metrics *metrics.Metrics
	Params  *strategy.Holder

	dataDir string
	unlock  func()
}

// NewBootstrap creates an empty Bootstrap; call Initialize before use.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads config, installs the logger, prepares the workspace
// and opens the persistence layers. On success the process holds the
// single-instance lock until Shutdown.
func (b *Bootstrap) Initialize() error {
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err
	}
	b.Config = cfg

	slog.SetDefault(infra.NewLogger(cfg))
	infra.PrintBanner(cfg)
	slog.Info("🚀 Bootstrapping TITAN bot", "mode", cfg.Trading.Mode)

	// Data isolation per mode: SIM, MASS and LIVE never share a DB.
	mode := strings.ToLower(cfg.Trading.Mode)
	workDir := infra.GetWorkspaceDir()
	b.dataDir = filepath.Join(workDir, "data", mode)
	logDir := filepath.Join(workDir, "logs", mode)

	if err := infra.EnsureDir(b.dataDir); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := infra.EnsureDir(logDir); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return err
	}
	b.unlock = unlock

	b.Metrics = metrics.NewMetrics()

	dbPath := filepath.Join(b.dataDir, "titan.db")
	store, err := storage.NewStore(dbPath, b.Metrics)
	if err != nil {
		b.release()
		return err
	}
	b.Store = store
	slog.Info("✅ Store ready (WAL mode)", "path", dbPath)

	auditPath := filepath.Join(logDir, "audit.jsonl.gz")
	auditLog, err := audit.NewLogger(auditPath)
	if err != nil {
		store.Close()
		b.release()
		return err
	}
	b.Audit = auditLog
	slog.Info("✅ Audit trail ready", "path", auditPath)

	b.Params = strategy.NewHolder(b.seedParams())
	return nil
}

// seedParams maps the static config onto the live strategy parameters.
func (b *Bootstrap) seedParams() strategy.Params {
	p := strategy.Defaults()
	if execution.Mode(b.Config.Trading.Mode) == execution.ModeLive {
		p.TradeSizeUSD = b.Config.Trading.SizeUSDLive
	} else {
		p.TradeSizeUSD = b.Config.Trading.SizeUSDSim
	}
	if syms := b.Config.Engine.Symbols; len(syms) > 0 {
		p.Universe = slices.Clone(syms)
	}
	return p
}

// Advisor builds the configured heuristic advisor.
func (b *Bootstrap) Advisor() *engine.HeuristicAdvisor {
	return engine.NewHeuristicAdvisor(
		b.Config.Engine.MinScore,
		b.Config.Trading.OpportunityThreshold*100,
		b.Config.Trading.MaxActionsPerCycle,
	)
}

// Snapshots returns the session snapshot manager rooted in the mode's
// data directory.
func (b *Bootstrap) Snapshots() *storage.SnapshotManager {
	return storage.NewSnapshotManager(filepath.Join(b.dataDir, "sessions"))
}

// Shutdown flushes and closes everything Initialize opened, then
// releases the instance lock.
func (b *Bootstrap) Shutdown() {
	if b.Audit != nil {
		if err := b.Audit.Close(); err != nil {
			slog.Warn("Audit close failed", "err", err)
		}
	}
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			slog.Warn("Store close failed", "err", err)
		}
	}
	b.release()
	slog.Info("👋 Shutdown complete")
}

func (b *Bootstrap) release() {
	if b.unlock != nil {
		b.unlock()
		b.unlock = nil
	}
}
