package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/signal-auth/internal/cache"
	"github.com/pribylovaa/signal-auth/internal/config"
	authhttp "github.com/pribylovaa/signal-auth/internal/http"
	"github.com/pribylovaa/signal-auth/internal/metrics"
	"github.com/pribylovaa/signal-auth/internal/notify"
	"github.com/pribylovaa/signal-auth/internal/service"
	"github.com/pribylovaa/signal-auth/internal/storage/postgres"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting application", "env", cfg.Env)

	// Корневой контекст по сигналам.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("service_failed", slog.String("err", err.Error()))
		rootCancel()
		os.Exit(1)
	}

	log.Info("service_stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// Миграции и подключение к БД c таймаутом.
	dbCtx, dbCancel := context.WithTimeout(ctx, 30*time.Second)
	defer dbCancel()

	if cfg.DB.RunMigrations {
		if err := postgres.Migrate(dbCtx, cfg.DB.DatabaseURL); err != nil {
			return err
		}
		log.Info("postgres_migrated")
	}

	str, err := postgres.New(dbCtx, cfg.DB.DatabaseURL)
	if err != nil {
		return err
	}
	defer str.Close()
	log.Info("postgres_connected")

	srvc, err := service.New(str, cfg.Auth)
	if err != nil {
		return err
	}

	// Ограничитель попыток входа — только при заданном Redis.
	var limiter *cache.LoginLimiter
	if cfg.Redis.RedisURL != "" {
		limiter, err = cache.NewLoginLimiter(cfg.Redis.RedisURL, cfg.Redis.Prefix, cfg.Auth.LoginMaxAttempts, cfg.Auth.LoginLockout)
		if err != nil {
			return err
		}
		defer limiter.Close()

		srvc.SetLimiter(limiter)
		log.Info("login_limiter_enabled", slog.Int("max_attempts", cfg.Auth.LoginMaxAttempts))
	}

	// Доставка уведомлений: Kafka или лог.
	if len(cfg.Kafka.Brokers) > 0 {
		producer := notify.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if cerr := producer.Close(); cerr != nil {
				log.Warn("kafka_close_failed", slog.String("err", cerr.Error()))
			}
		}()

		srvc.SetNotifier(producer)
		log.Info("notifier_kafka", slog.String("topic", cfg.Kafka.Topic))
	} else {
		srvc.SetNotifier(notify.NewLog(cfg.Env == envLocal))
		log.Warn("notifier_log_only")
	}
	log.Info("service_initialized")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	apiHandler := authhttp.NewRouter(srvc, authhttp.Options{
		Logger:      log,
		Timeout:     cfg.Timeouts.Service,
		BasePath:    cfg.HTTP.BasePath,
		Metrics:     m,
		Validator:   srvc.Issuer(),
		Resolver:    srvc,
		PublicPaths: cfg.Auth.PublicPaths,
	})

	var ready int32 // 0 — not ready; 1 — ready

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&ready) != 1 {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}

		pingCtx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := str.Ping(pingCtx); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", apiHandler)

	// Фоновая очистка просроченных refresh- и одноразовых токенов.
	startJanitor(ctx, srvc, m, log, cfg.Janitor.Period)

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", httpAddr)
	if err != nil {
		log.Error("http_listen_failed", slog.String("addr", httpAddr), slog.String("err", err.Error()))
		return err
	}
	log.Info("http_listen_start", slog.String("addr", httpAddr))

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	atomic.StoreInt32(&ready, 1)
	log.Info("service_ready")

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown_requested")
	case serveErr = <-serveErrCh:
		if serveErr != nil {
			log.Error("http_serve_failed", slog.String("err", serveErr.Error()))
		}
	}

	atomic.StoreInt32(&ready, 0)

	// Graceful stop с таймаутом.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_incomplete", slog.String("err", err.Error()))
	} else {
		log.Info("http_stopped")
	}

	return serveErr
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}

// purger — источник фоновой очистки (service.Service).
type purger interface {
	PurgeExpired(ctx context.Context) (refresh, verification int64, err error)
}

// startJanitor периодически удаляет просроченные refresh-токены
// и токены подтверждения/сброса.
func startJanitor(ctx context.Context, p purger, m *metrics.Metrics, log *slog.Logger, period time.Duration) {
	if period <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				purgeOnce(ctx, p, m, log)
			}
		}
	}()
}

func purgeOnce(ctx context.Context, p purger, m *metrics.Metrics, log *slog.Logger) {
	refresh, verification, err := p.PurgeExpired(ctx)
	m.Purged("refresh", refresh)
	m.Purged("verification", verification)

	if err != nil {
		log.Error("token_janitor_failed", slog.String("err", err.Error()))
		return
	}

	if refresh+verification > 0 {
		log.Info("token_janitor_purged",
			slog.Int64("refresh", refresh),
			slog.Int64("verification", verification),
		)
	}
}
