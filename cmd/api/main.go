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

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"virtual-office/internal/agents"
	"virtual-office/internal/auth"
	"virtual-office/internal/comments"
	"virtual-office/internal/config"
	"virtual-office/internal/engagement"
	"virtual-office/internal/httpapi"
	"virtual-office/internal/leads"
	"virtual-office/internal/notify"
	"virtual-office/internal/refresh"
	"virtual-office/internal/reminders"
	"virtual-office/internal/reporting"
	"virtual-office/internal/store"
	"virtual-office/pkg/logger"
	"virtual-office/pkg/metrics"
	"virtual-office/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Store.Migrate {
		if err := store.Migrate(rootCtx, db); err != nil {
			log.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st := store.NewResilient(store.NewPostgres(db), store.Timeouts{
		Read:  cfg.Store.ReadTimeout,
		Write: cfg.Store.WriteTimeout,
	}, log)

	leadRepo := leads.NewRepository(st)
	leadSvc := leads.NewService(leadRepo)
	reports := reporting.NewService(leadRepo)
	stats := reporting.NewCachedStats(reports, rdb, cfg.Refresh.StatsCacheTTL, log, m)
	commentSvc := comments.NewService(comments.NewStoreRepo(st))
	manager := reminders.NewManager(leadRepo, commentSvc, reminders.Options{
		Rules: engagement.Rules{
			EnrolledPhaseID: cfg.Engagement.EnrolledPhaseID,
			DroppedPhaseID:  cfg.Engagement.DroppedPhaseID,
			OverdueAfter:    cfg.Engagement.OverdueAfter,
		},
		MaxAhead:    cfg.Engagement.MaxScheduleAhead,
		Log:         log.With("component", "reminders"),
		Metrics:     m,
		Invalidator: stats,
	})

	sessions := refresh.NewRegistry(refresh.Deps{
		Sweeper: manager,
		Stats:   stats,
		Leads:   leadSvc,
		Lease:   refresh.NewRedisLease(rdb, refresh.DefaultLeaseKey, 2*cfg.Refresh.Interval, log),
		Log:     log,
		Metrics: m,

		Reconciler:     manager,
		ReconcileLease: refresh.NewRedisLease(rdb, refresh.ReconcileLeaseKey, 2*cfg.Refresh.ReconcileInterval, log),
	}, refresh.Options{
		Interval:       cfg.Refresh.Interval,
		IdleTTL:        cfg.Refresh.SessionIdleTTL,
		PageSize:       cfg.Refresh.PageSize,
		ReconcileEvery: cfg.Refresh.ReconcileInterval,
	})
	if err := sessions.Start(); err != nil {
		log.Error("refresh scheduler init failed", "err", err)
		os.Exit(1)
	}

	h := httpapi.Handlers{
		Auth:           authManager,
		Agents:         agents.NewService(st, leadSvc, cfg.Engagement.ReadyToBookPhaseIDs),
		Leads:          leadSvc,
		Reminders:      manager,
		Comments:       commentSvc,
		Reports:        reports,
		Stats:          stats,
		Sessions:       sessions,
		Summary:        notify.NewSummaryClient(cfg.Webhooks.SummaryURL, cfg.Webhooks.Timeout, log),
		CallbackSecret: cfg.Auth.CallbackSecret,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(m.Middleware())

	registerRoutes(r, h, authManager, m, health{db: db, rdb: rdb})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := sessions.Stop(shutdownCtx); err != nil {
		log.Error("refresh scheduler shutdown failed", "err", err)
	}
	log.Info("shutdown complete")
}
