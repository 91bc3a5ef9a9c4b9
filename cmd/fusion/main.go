package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/pulsegrid/fusion/internal/api"
	"github.com/pulsegrid/fusion/internal/arming"
	"github.com/pulsegrid/fusion/internal/automation"
	"github.com/pulsegrid/fusion/internal/config"
	"github.com/pulsegrid/fusion/internal/credentials"
	"github.com/pulsegrid/fusion/internal/crypto"
	"github.com/pulsegrid/fusion/internal/data"
	"github.com/pulsegrid/fusion/internal/gateway"
	"github.com/pulsegrid/fusion/internal/logging"
	"github.com/pulsegrid/fusion/internal/media"
	"github.com/pulsegrid/fusion/internal/notify"
	"github.com/pulsegrid/fusion/internal/pipeline"
	"github.com/pulsegrid/fusion/internal/sessions"

	_ "github.com/pulsegrid/fusion/internal/drivers/mqtthub"
	_ "github.com/pulsegrid/fusion/internal/drivers/videovms"
)

var version = "dev"

func main() {
	logger := logging.NewWithService("fusion")
	config.LoadEnv(logger)

	// Tunables file, hot-reloaded. Endpoints and secrets are env-only.
	cfgPath := config.GetEnv("FUSION_CONFIG", "config/default.yaml")
	cfgStore, err := config.NewStore(cfgPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("config load failed")
	}
	cfg := cfgStore.Current()

	// Database
	dsn := config.RequireEnv(logger, "DATABASE_URL")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.WithError(err).Fatal("db open failed")
	}
	db.SetMaxOpenConns(config.GetEnvInt("DB_MAX_OPEN_CONNS", 25))
	db.SetMaxIdleConns(config.GetEnvInt("DB_MAX_IDLE_CONNS", 25))
	db.SetConnMaxIdleTime(15 * time.Minute)
	if err := db.Ping(); err != nil {
		logger.WithError(err).Fatal("db ping failed")
	}
	defer db.Close()

	// Credential sealing keys. Absent keys mean plaintext storage for
	// local development; present-but-broken keys are a hard error.
	var keyring *crypto.Keyring
	if os.Getenv("MASTER_KEYS") != "" {
		keyring = crypto.NewKeyring()
		if err := keyring.LoadFromEnv(); err != nil {
			logger.WithError(err).Fatal("master keyring load failed")
		}
	} else {
		logger.Warn("MASTER_KEYS not set, connector credentials stored unsealed")
	}

	// Thumbnail URL signing. A broken signing setup disables links but
	// must not take the service down with it: verification fails closed.
	signer := media.NewSigner(cfg.Media.TokenTTL())
	if err := signer.LoadFromEnv(); err != nil {
		logger.WithError(err).Warn("media token keys not loaded, thumbnail links disabled")
	}

	// Optional infrastructure
	var rdb *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable, device state cache disabled")
			rdb = nil
		}
	}

	var nc *nats.Conn
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		nc, err = nats.Connect(natsURL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			logger.WithError(err).Warn("nats unreachable, event publishing disabled")
			nc = nil
		}
	}

	// Core wiring
	factory := &gateway.Factory{DB: db}
	creds := credentials.NewStore(data.ConnectorModel{DB: db}, keyring, logger)
	pusher := notify.NewSender(os.Getenv("PUSHOVER_API_TOKEN"), logger)

	armingSvc := arming.NewService(func(orgID uuid.UUID) arming.Store { return factory.For(orgID) }, logger)

	engine := automation.NewEngine(
		func(orgID uuid.UUID) automation.Gateway { return factory.For(orgID) },
		creds, armingSvc, pusher,
		automation.Config{
			MaxConcurrentPerOrg: cfg.Automation.MaxConcurrentPerOrg,
			CacheTTL:            cfg.Automation.CacheTTL(),
			HTTPTimeout:         cfg.Automation.HTTPTimeout(),
			CommandTimeout:      cfg.Automation.CommandTimeout(),
			ScheduleGrace:       cfg.Automation.ScheduleGrace(),
		}, logger)

	hub := pipeline.NewHub(logger)
	pipe := pipeline.New(
		func(orgID uuid.UUID) pipeline.OrgData { return factory.For(orgID) },
		hub,
		pipeline.Config{
			QueueSize:    cfg.Pipeline.QueueSize,
			DedupMaxKeys: cfg.Pipeline.DedupMaxKeys,
			DedupWindow:  cfg.Pipeline.DedupWindow(),
		}, logger).
		WithEngine(engine).
		WithArmer(armingSvc)
	if rdb != nil {
		pipe = pipe.WithStateCache(pipeline.NewStateCache(rdb, cfg.Pipeline.StateTTL()))
	}
	if nc != nil {
		pipe = pipe.WithPublisher(pipeline.NewPublisher(nc, cfg.Pipeline.NatsSubject, cfg.Pipeline.PublishRetryMax))
	}

	sessMgr := sessions.NewManager(data.ConnectorModel{DB: db}, creds, pipe, sessions.Config{
		ConnectTimeout:  cfg.Sessions.ConnectTimeout(),
		BackoffBase:     cfg.Sessions.BackoffBase(),
		BackoffMax:      cfg.Sessions.BackoffMax(),
		ShutdownTimeout: cfg.Sessions.ShutdownTimeout(),
	}, logger)

	// Tunable changes only land on a fresh dial.
	cfgStore.OnReload(func(config.File) { sessMgr.ReconnectAll() })
	cfgStore.StartWatcher()

	armingDaemon := arming.NewDaemon(armingSvc, data.AreaModel{DB: db}, cfg.Arming.TickInterval(), logger)
	armingDaemon.Start()

	schedDaemon := automation.NewScheduleDaemon(engine, data.AutomationModel{DB: db}, cfg.Automation.TickInterval(), logger)
	schedDaemon.Start()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	if err := sessMgr.InitializeAll(rootCtx); err != nil {
		logger.WithError(err).Warn("connector startup incomplete")
	}

	// HTTP surface
	handlers := api.Handlers{
		Health:      &api.HealthHandler{DB: db, Sessions: sessMgr, Version: version},
		Connectors:  &api.ConnectorHandler{Gateways: factory, Sessions: sessMgr, Creds: creds},
		Devices:     &api.DeviceHandler{Gateways: factory},
		Events:      api.NewEventHandler(factory, hub, signer, creds, logger),
		Automations: &api.AutomationHandler{Gateways: factory, Engine: engine},
		Arming:      api.NewArmingHandler(factory, armingSvc),
	}
	if rdb != nil {
		handlers.Devices.States = pipeline.NewStateCache(rdb, cfg.Pipeline.StateTTL())
	}

	srv := &http.Server{
		Addr:              config.GetEnv("HTTP_ADDR", ":8080"),
		Handler:           api.NewRouter(handlers, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{"addr": srv.Addr, "version": version}).Info("fusion listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("http server failed")
		}
	}()

	// Shutdown: stop taking requests, then unwind producers before
	// consumers so nothing submits into a closed pipeline.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.WithError(err).Warn("http shutdown incomplete")
	}

	rootCancel()
	sessMgr.Shutdown()
	armingDaemon.Stop()
	schedDaemon.Stop()
	pipe.Shutdown()
	cfgStore.Stop()

	if nc != nil {
		nc.Drain()
	}
	if rdb != nil {
		rdb.Close()
	}
	logger.Info("fusion stopped")
}
