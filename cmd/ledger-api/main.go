package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yourorg/compliance-ledger/internal/config"
	"github.com/yourorg/compliance-ledger/internal/domain"
	"github.com/yourorg/compliance-ledger/internal/export"
	"github.com/yourorg/compliance-ledger/internal/finding"
	"github.com/yourorg/compliance-ledger/internal/gateway"
	"github.com/yourorg/compliance-ledger/internal/hold"
	"github.com/yourorg/compliance-ledger/internal/ledger"
	"github.com/yourorg/compliance-ledger/internal/notify"
	"github.com/yourorg/compliance-ledger/internal/report"
	"github.com/yourorg/compliance-ledger/internal/risk"
	"github.com/yourorg/compliance-ledger/internal/store/sqlitestore"
	"github.com/yourorg/compliance-ledger/internal/tenant"
)

type stores struct {
	events    ledger.EventStore
	orgs      tenant.OrgStore
	holds     hold.Store
	findings  finding.Store
	artifacts report.ArtifactStore
	close     func() error
}

func openStores(ctx context.Context, kind string) (stores, error) {
	if kind == "sqlite" {
		db, err := sqlitestore.Open(ctx, sqlitestore.LoadConfig())
		if err != nil {
			return stores{}, err
		}
		return stores{
			events:    db.Events(),
			orgs:      db.Orgs(),
			holds:     db.Holds(),
			findings:  db.Findings(),
			artifacts: db.Artifacts(),
			close:     db.Close,
		}, nil
	}
	return stores{
		events:    ledger.NewMemoryStore(),
		orgs:      tenant.NewMemoryStore(),
		holds:     hold.NewMemoryStore(),
		findings:  finding.NewMemoryStore(),
		artifacts: report.NewMemoryArtifactStore(),
		close:     func() error { return nil },
	}, nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("ledger-api stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.close()

	var notices notify.Publisher = notify.NewLogPublisher(logger)
	if kcfg := notify.LoadKafkaConfig(); len(kcfg.Brokers) > 0 {
		kp := notify.NewKafkaPublisher(kcfg, logger)
		defer kp.Close()
		notices = kp
	}

	rcfg := report.LoadConfig()
	var blobs report.Storage = report.NewInMemoryStorage()
	if rcfg.MongoURI != "" {
		ms, err := report.OpenMongoStorage(ctx, rcfg)
		if err != nil {
			return err
		}
		defer ms.Close(context.Background())
		blobs = ms
	} else if cfg.Production() {
		logger.Warn("report content kept in memory; set MONGO_URI to persist it")
	}
	renderer, err := report.NewRenderer(rcfg)
	if err != nil {
		return err
	}

	l := ledger.New(st.events, notices, logger)
	registry := tenant.NewRegistry(st.orgs, l, tenant.LoadConfig(), logger)
	holds := hold.NewManager(st.holds, l, hold.LoadConfig(), logger)
	findings := finding.NewWorkflow(st.findings, l, holds, logger)
	scheduler := report.NewScheduler(report.Deps{
		Store:    st.artifacts,
		Blobs:    blobs,
		Renderer: renderer,
		Source:   report.LiveSource{Orgs: registry, Findings: findings, Holds: holds, Chain: l},
		Ledger:   l,
		Guard:    holds,
		Notices:  notices,
		Logger:   logger,
	}, rcfg)

	if _, err := l.Record(ctx, domain.SystemTenantID, domain.SystemActorID, ledger.SystemBoot{Version: cfg.Version, Instance: cfg.Instance}); err != nil {
		return err
	}
	if _, err := scheduler.Recover(ctx); err != nil {
		return err
	}

	dir := gateway.NewDirectory()
	if cfg.SeedPath != "" {
		if err := loadSeed(ctx, cfg.SeedPath, dir, registry); err != nil {
			return err
		}
		if cfg.WatchSeed {
			reload := func() {
				if err := loadSeed(ctx, cfg.SeedPath, dir, registry); err != nil {
					logger.Error("seed reload failed; keeping previous directory", "path", cfg.SeedPath, "error", err)
					return
				}
				logger.Info("seed reloaded", "path", cfg.SeedPath, "actors", dir.Len())
			}
			if err := config.WatchFile(ctx, cfg.SeedPath, 500*time.Millisecond, logger, reload); err != nil {
				return err
			}
		}
	} else {
		logger.Warn("SEED_FILE not set; no actor can log in")
	}

	gw := gateway.New(gateway.Deps{
		Ledger:    l,
		Registry:  registry,
		Holds:     holds,
		Findings:  findings,
		Reports:   scheduler,
		Exports:   export.NewBuilder(l, findings, holds, logger),
		Risk:      risk.New(risk.LoadConfig(), logger),
		Directory: dir,
		Logger:    logger,
	}, gateway.LoadConfig())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gateway.NewHandler(gw, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("ledger api listening", "addr", cfg.Addr, "env", cfg.Env, "store", cfg.Store, "version", cfg.Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := scheduler.Close(shutdownCtx); err != nil {
		logger.Warn("report workers interrupted", "error", err)
	}
	return nil
}

func loadSeed(ctx context.Context, path string, dir *gateway.Directory, registry *tenant.Registry) error {
	seed, err := config.LoadSeed(path)
	if err != nil {
		return err
	}
	return gateway.ApplySeed(ctx, seed, dir, registry)
}
