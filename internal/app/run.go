package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/weathergram/weathergram/internal/dispatch"
	"github.com/weathergram/weathergram/internal/ingress"
	"github.com/weathergram/weathergram/internal/pgexec"
	"github.com/weathergram/weathergram/internal/reportapi"
	"github.com/weathergram/weathergram/internal/state"
	"github.com/weathergram/weathergram/internal/telegram"
	"github.com/weathergram/weathergram/internal/weather"
)

func run(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	dotenvPath := fs.String("dotenv", "", "load environment variables from file (dev only)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(strings.TrimSpace(*dotenvPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 2
	}

	logger, logCloser, err := newLogger(cfg.LogLevel, cfg.LogOutput, cfg.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 2
	}
	if logCloser != nil {
		defer func() { _ = logCloser.Close() }()
	}
	slog.SetDefault(logger)

	appMetrics := newRuntimeMetrics()

	if cfg.TracingEndpoint != "" {
		shutdownTracing, err := initTracing(context.Background(), cfg.TracingEndpoint, cfg.TracingInsecure, func(err error) {
			appMetrics.incTracingExportErrors()
			logger.Error("tracing_export_failed", slog.Any("err", err))
		})
		if err != nil {
			appMetrics.incTracingInitFailures()
			logger.Error("tracing_init_failed", slog.Any("err", err))
			return 1
		}
		appMetrics.setTracingEnabled(true)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
		logger.Info("tracing_enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	executor, backend, err := openExecutor(cfg)
	if err != nil {
		logger.Error("open_store_failed", slog.Any("err", err))
		return 1
	}
	defer func() { _ = executor.Close() }()
	executor.Logger = logger
	executor.ObserveFailure = appMetrics.observeDBFailure
	logger.Info("store_backend_selected", slog.String("backend", backend))

	store := state.NewStore(executor, executor.Dialect())
	if err := store.Init(ctx); err != nil {
		logger.Error("init_schema_failed", slog.Any("err", err))
		return 1
	}

	provider := weather.NewClient(cfg.WeatherAPIKey, logger)
	provider.ObserveError = appMetrics.observeProviderError
	if err := provider.VerifyKey(ctx); err != nil {
		logger.Error("weather_key_rejected", slog.Any("err", err))
		return 1
	}

	bot, err := telegram.NewBotClient(cfg.BotToken, logger)
	if err != nil {
		logger.Error("telegram_auth_failed", slog.Any("err", err))
		return 1
	}
	logger.Info("telegram_authorized", slog.String("username", bot.Username()))

	if url := cfg.WebhookURL(); url != "" {
		if err := bot.RegisterWebhook(url, cfg.WebhookSecret); err != nil {
			logger.Error("register_webhook_failed", slog.Any("err", err))
			return 1
		}
		logger.Info("webhook_registered", slog.String("url", url))
	} else {
		// No public domain configured. Clear any stale registration so
		// Telegram does not keep delivering to a dead endpoint.
		if err := bot.DropWebhook(); err != nil {
			logger.Warn("drop_webhook_failed", slog.Any("err", err))
		}
		logger.Warn("webhook_not_registered", slog.String("reason", "APP_DOMAIN not set"))
	}

	dispatcher := dispatch.New(store, provider, bot, logger)
	dispatcher.Hooks = dispatch.Hooks{
		UnknownCommand: appMetrics.incUnknownCommands,
		UserError:      appMetrics.incUserErrors,
		RuntimeError:   appMetrics.incRuntimeErrors,
	}

	webhook := ingress.NewServer(cfg.WebhookSecret, dispatcher.HandleMessage, logger)
	webhook.ObserveResult = appMetrics.observeUpdateResult
	webhook.ObserveReject = appMetrics.observeUpdateReject

	reports := reportapi.NewServer(store, reportapi.NewBasicAuth(cfg.ReportUser, cfg.ReportPassword), logger)

	scheduler, err := startPruneReaper(ctx, cfg, store, appMetrics, logger)
	if err != nil {
		logger.Error("start_reaper_failed", slog.Any("err", err))
		return 1
	}
	defer func() { _ = scheduler.Shutdown() }()

	mux := http.NewServeMux()
	mux.Handle(cfg.WebhookPath, wrapTracingHandler(cfg.TracingEndpoint != "", "webhook", webhook))
	reports.Register(mux)
	mux.Handle("/metrics", newMetricsHandler(version, time.Now(), appMetrics))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withAccessLog(logger, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	logger.Info("listening", slog.String("addr", cfg.ListenAddr))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		logger.Error("http_server_error", slog.Any("err", err))
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown_incomplete", slog.Any("err", err))
	}
	logger.Info("stopped")
	return 0
}

func openExecutor(cfg Config) (*pgexec.Executor, string, error) {
	if cfg.PostgresDSN != "" {
		ex, err := pgexec.OpenPostgres(cfg.PostgresDSN, pgexec.DefaultPoolConfig())
		return ex, pgexec.DialectPostgres, err
	}
	ex, err := pgexec.OpenSQLite(cfg.SQLitePath)
	return ex, pgexec.DialectSQLite, err
}

// startPruneReaper removes stale users_online rows on a fixed interval so
// the table tracks currently active chats instead of growing forever.
func startPruneReaper(ctx context.Context, cfg Config, store *state.Store, m *runtimeMetrics, logger *slog.Logger) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.PruneInterval),
		gocron.NewTask(func() {
			cutoff := time.Now().Add(-cfg.OnlineRetention).Unix()
			pruned, err := store.PruneOnline(ctx, cutoff)
			m.observePrune(pruned, err)
			if err != nil {
				logger.Error("prune_online_failed", slog.Any("err", err))
				return
			}
			if pruned > 0 {
				logger.Debug("pruned_online_rows", slog.Int64("rows", pruned))
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	scheduler.Start()
	return scheduler, nil
}
