package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/config"
	"gatehouse.dev/internal/httpapi"
	"gatehouse.dev/internal/kv"
	"gatehouse.dev/internal/mail"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/ratelimit"
	"gatehouse.dev/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracing(ctx, obs.TracingConfig{
		ServiceName: "gatehouse",
		Version:     version,
		Exporter:    cfg.Trace.Exporter,
		SampleRatio: cfg.Trace.SampleRatio,
	})
	if err != nil {
		log.WithError(err).Fatal("init tracing")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.WithError(err).Warn("flush traces")
		}
	}()

	store, err := pg.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer store.Close()

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		rdb, err = kv.Open(ctx, cfg.Redis.URL)
		if err != nil {
			log.WithError(err).Fatal("connect redis")
		}
		defer rdb.Close()
	}

	var publisher mail.Publisher
	switch cfg.Mail.Transport {
	case "nats":
		nc, err := mail.ConnectNATS(cfg.Mail.NATSURL, log.WithField("component", "nats"))
		if err != nil {
			log.WithError(err).Fatal("connect nats")
		}
		defer func() { _ = nc.Drain() }()
		publisher = mail.NewNATSPublisher(nc, cfg.Mail.Subject)
	case "redis":
		publisher = mail.NewRedisQueue(rdb, cfg.Mail.Queue)
	default:
		publisher = mail.NewLogPublisher(log.WithField("component", "mail"))
	}
	dispatcher := mail.NewDispatcher(publisher, cfg.Mail.Buffer)

	hasher, err := auth.NewHasher(cfg.Token.BcryptCost)
	if err != nil {
		log.WithError(err).Fatal("password hasher")
	}
	signer, err := auth.NewTokenSigner(auth.TokenConfig{
		Secret: []byte(cfg.Token.Secret),
		Issuer: cfg.Token.Issuer,
		TTL:    cfg.Token.TTL,
	})
	if err != nil {
		log.WithError(err).Fatal("token signer")
	}
	svc, err := auth.NewService(store, store, hasher, signer,
		auth.WithMailer(dispatcher),
		auth.WithLinks(auth.LinkBuilder{Scheme: cfg.Public.Scheme, Host: cfg.Public.Host, Port: cfg.Public.Port}),
		auth.WithStoreTimeout(cfg.Store.Timeout),
	)
	if err != nil {
		log.WithError(err).Fatal("auth service")
	}

	probe := httpapi.ReadyProbe{Checks: []httpapi.Check{{Name: "postgres", Fn: store.Ping}}}
	var limiter *ratelimit.Limiter
	if rdb != nil {
		probe.Checks = append(probe.Checks, httpapi.Check{Name: "redis", Fn: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		limiter, err = ratelimit.New(rdb, "gatehouse:rl", cfg.Limits.LoginLimit, cfg.Limits.LoginWindow)
		if err != nil {
			log.WithError(err).Fatal("rate limiter")
		}
	} else {
		log.Warn("redis not configured, login throttling disabled")
	}

	api := httpapi.New(svc, signer, probe, httpapi.Config{
		Version:      version,
		RedirectURL:  cfg.Public.RedirectURL,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		RateBurst:    cfg.Limits.RateBurst,
		RatePerSec:   cfg.Limits.RatePerSecond,
		Limiter:      limiter,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// The dispatcher outlives the server so requests accepted during shutdown
	// still get their email handed off.
	mailCtx, stopMail := context.WithCancel(context.Background())
	defer stopMail()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(mailCtx)
	})
	g.Go(func() error {
		log.WithField("addr", srv.Addr).WithField("version", version).Info("starting gatehouse")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		stopMail()
		return err
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server stopped with error")
		return
	}
	log.Info("stopped")
}
