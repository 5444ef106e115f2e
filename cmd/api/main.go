package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"etiasassist.app/internal/admin"
	"etiasassist.app/internal/analytics"
	"etiasassist.app/internal/application"
	"etiasassist.app/internal/auth"
	"etiasassist.app/internal/config"
	"etiasassist.app/internal/eligibility"
	"etiasassist.app/internal/httpapi"
	"etiasassist.app/internal/migrate"
	"etiasassist.app/internal/notify"
	"etiasassist.app/internal/obs"
	"etiasassist.app/internal/payment"
	"etiasassist.app/internal/payment/stripeprov"
	"etiasassist.app/internal/store/memory"
	"etiasassist.app/internal/store/pg"
	"etiasassist.app/internal/stream"
	"etiasassist.app/ops/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is what both store implementations provide.
type backend interface {
	auth.UserStore
	application.Store
	payment.Store
	eligibility.Store
	analytics.Store
	notify.Store
	admin.Source
	Ping(ctx context.Context) error
}

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logger()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer closeStore()

	api, sender, err := wire(ctx, cfg, store, logger)
	if err != nil {
		logger.Fatal("wire services", zap.Error(err))
	}
	if c, ok := sender.(interface{ Close() error }); ok {
		defer func() { _ = c.Close() }()
	}

	health := httpapi.NewHealthServer(httpapi.ReadyProbe{Store: store})
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			errCh <- err
			return
		}
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()
	go health.Watch(ctx, 10*time.Second)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	logger.Info("stopped")
}

// openStore connects to Postgres when a DSN is configured and falls back to
// the in-memory store for local development.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (backend, func(), error) {
	if cfg.PGDSN == "" {
		logger.Warn("ETIAS_PG_DSN not set, using in-memory store")
		return memory.New(), func() {}, nil
	}
	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	if cfg.AutoMigrate {
		if err := migrate.NewManager(store.DB(), migrations.SQL(), nil).Up(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		logger.Info("migrations applied")
	}
	return store, func() { _ = store.Close() }, nil
}

func wire(ctx context.Context, cfg config.Config, store backend, logger *zap.Logger) (*httpapi.API, notify.Sender, error) {
	tracker := analytics.NewRecorder(store)

	tokens, err := auth.NewTokens(cfg.AuthSecret, cfg.SessionTTL)
	if err != nil {
		return nil, nil, err
	}
	users := auth.NewDirectory(store)
	if cfg.SuperAdminEmail != "" {
		seeded, err := users.SeedSuperAdmin(ctx, cfg.SuperAdminEmail, cfg.SuperAdminPassword, "")
		if err != nil {
			return nil, nil, err
		}
		logger.Info("super admin ready", zap.String("user_id", seeded.ID))
	}

	var sender notify.Sender = notify.LogSender{}
	if len(cfg.KafkaBrokers) > 0 {
		ks, err := notify.NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		sender = ks
		logger.Info("notifications via kafka",
			zap.String("brokers", strings.Join(cfg.KafkaBrokers, ",")),
			zap.String("topic", cfg.KafkaTopic),
		)
	}
	dispatcher, err := notify.NewDispatcher(store, sender, notify.WithDirectory(notify.DirectoryFunc(
		func(ctx context.Context, userID string) (notify.Recipient, error) {
			u, err := users.Get(ctx, userID)
			if err != nil {
				return notify.Recipient{}, err
			}
			return notify.Recipient{Email: u.Email, Name: u.Name}, nil
		},
	)))
	if err != nil {
		return nil, nil, err
	}

	hub := stream.New()
	watchedApps := stream.WatchApplications(store, hub)

	apps, err := application.NewService(watchedApps,
		application.WithTracker(tracker),
		application.WithNotifier(dispatcher),
	)
	if err != nil {
		return nil, nil, err
	}

	var provider payment.Provider = payment.Unconfigured{}
	if cfg.StripeEnabled() {
		if provider, err = stripeprov.New(cfg.StripeSecretKey, cfg.StripeWebhookSecret); err != nil {
			return nil, nil, err
		}
	} else {
		logger.Warn("stripe credentials not set, checkout disabled")
	}
	payments, err := payment.NewReconciler(stream.WatchPayments(store, hub), watchedApps, provider,
		payment.WithNotifier(dispatcher),
		payment.WithAlerter(dispatcher),
		payment.WithTracker(tracker),
		payment.WithFee(cfg.ServiceFeeCents, cfg.ServiceFeeCurrency),
		payment.WithBaseURL(cfg.PublicBaseURL),
	)
	if err != nil {
		return nil, nil, err
	}

	adm, err := admin.NewService(store, admin.WithCurrency(cfg.ServiceFeeCurrency))
	if err != nil {
		return nil, nil, err
	}

	api, err := httpapi.New(httpapi.ReadyProbe{Store: store}, httpapi.Deps{
		Tokens:       tokens,
		Users:        users,
		Eligibility:  eligibility.NewChecker(store, tracker),
		Applications: apps,
		Payments:     payments,
		Admin:        adm,
		Tracker:      tracker,
	},
		httpapi.WithVersion(version),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithAllowedOrigins(cfg.PublicBaseURL),
		httpapi.WithSecureCookies(strings.HasPrefix(cfg.PublicBaseURL, "https://")),
		httpapi.WithStatusStream(hub, 15*time.Second),
	)
	if err != nil {
		return nil, nil, err
	}
	return api, sender, nil
}
