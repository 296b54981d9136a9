package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-console/internal/audit"
	"agent-console/internal/auth"
	"agent-console/internal/backend"
	"agent-console/internal/calendar"
	"agent-console/internal/config"
	"agent-console/internal/console"
	"agent-console/internal/httpapi"
	"agent-console/internal/hub"
	"agent-console/internal/notify"
	"agent-console/internal/reporting"
	"agent-console/internal/scheduler"
	"agent-console/internal/telephony"
	"agent-console/internal/worktime"
	"agent-console/pkg/logger"
	"agent-console/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadEnvFile(os.Getenv("ENV_FILE")); err != nil {
		slog.Error("env file load failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, logger.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	var db *sql.DB
	if cfg.HasPostgres() {
		db, err = utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	var rdb *redis.Client
	if cfg.HasRedis() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	loc := cfg.App.Location
	cal, err := loadCalendar(rootCtx, cfg, db)
	if err != nil {
		log.Error("holiday calendar load failed", "err", err)
		os.Exit(1)
	}
	log.Info("holiday calendar loaded", "holidays", cal.Holidays(), "timezone", loc.String())

	workStore, closeStore, err := openWorkStore(cfg, rdb)
	if err != nil {
		log.Error("worktime store init failed", "store", cfg.Worktime.Store, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	crm := backend.New(cfg.Backend.URL, cfg.Backend.Token)

	// Probe order: bridge, peer audio, bookkeeping fallback.
	bridge := telephony.NewBridge(crm, log)
	transports := []telephony.Transport{bridge}
	if cfg.Telephony.SignalingURL != "" {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+cfg.Backend.Token)
		peer := telephony.NewPeerAudio(crm, telephony.NewWSSignaler(cfg.Telephony.SignalingURL, header), telephony.PeerOptions{
			STUNURLs: cfg.Telephony.STUNURLs,
			Logger:   log,
		})
		defer peer.Close()
		transports = append(transports, peer)
	}
	transports = append(transports, telephony.NewFallback(crm))
	selector := telephony.NewSelector(transports...)
	log.Info("call transports", "order", selector.Names())

	var (
		auditRepo   audit.Repository     = audit.NewMemoryRepo()
		outcomeRepo reporting.Repository = reporting.NewMemoryRepo()
	)
	if db != nil {
		auditRepo = audit.NewPostgresRepo(db)
		outcomeRepo = reporting.NewPostgresRepo(db)
	}
	auditSvc := audit.NewService(auditRepo)
	stats := reporting.NewService(outcomeRepo, loc)
	sched := scheduler.New(cal, scheduler.WithLocation(loc))

	events := hub.New(log)
	go events.Run(rootCtx)

	factory := func(ctx context.Context, agentID string) (*console.Controller, error) {
		ctrl := console.New(agentID, console.Deps{
			Backend:    crm,
			Transports: selector,
			Scheduler:  sched,
			WorkStore:  workStore,
			Notifier:   notify.New(agentID, events),
			Audit:      auditSvc,
			Stats:      stats,
			Logger:     log,
		}, console.Options{
			AutoAdvanceDelay:     cfg.Console.AutoAdvanceDelay,
			CallbackPollInterval: cfg.Console.CallbackPollInterval,
			WorkAutosave:         cfg.Worktime.AutosaveInterval,
			Location:             loc,
		})
		if err := ctrl.Init(ctx); err != nil {
			ctrl.Dispose(context.WithoutCancel(ctx))
			return nil, err
		}
		return ctrl, nil
	}
	var lease console.Lease
	if rdb != nil {
		lease = console.RedisLease{RDB: rdb}
	}
	consoles := console.NewRegistry(factory, console.RegistryOptions{Lease: lease, Logger: log})

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		handlers: httpapi.Handlers{
			Auth:     authManager,
			Consoles: consoles,
			Hub:      events,
			Stats:    stats,
			DevLogin: cfg.App.Env == "local" || cfg.App.Env == "dev",
		},
		authMW: auth.RequireAccessToken(authManager),
		status: telephony.StatusHandler{Bridge: bridge, Token: cfg.Telephony.StatusToken},
		db:     db,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("console listening", "addr", srv.Addr, "env", cfg.App.Env)
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
	// Persists every agent's work time and hangs up live calls.
	consoles.CloseAll(shutdownCtx)
}

// loadCalendar reads holidays for last year through next year. A holiday
// file wins over the database table.
func loadCalendar(ctx context.Context, cfg config.Config, db *sql.DB) (*calendar.Calendar, error) {
	var src calendar.HolidaySource = calendar.StaticSource(nil)
	switch {
	case cfg.Holidays.File != "":
		src = calendar.FileSource{Path: cfg.Holidays.File, Loc: cfg.App.Location}
	case db != nil:
		src = calendar.SQLSource{DB: db, Loc: cfg.App.Location}
	}
	year := time.Now().In(cfg.App.Location).Year()
	return calendar.Load(ctx, src, year-1, year+1)
}

func openWorkStore(cfg config.Config, rdb *redis.Client) (worktime.Store, func(), error) {
	switch cfg.Worktime.Store {
	case config.WorktimeStoreRedis:
		return worktime.NewRedisStore(rdb, ""), func() {}, nil
	case config.WorktimeStoreMemory:
		return worktime.NewMemoryStore(), func() {}, nil
	default:
		s, err := worktime.OpenBoltStore(cfg.Worktime.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
}
