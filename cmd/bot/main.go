package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mymmrac/telego"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron"
	"golang.org/x/sync/errgroup"

	"gmailfarm-bot/internal/bot"
	"gmailfarm-bot/internal/config"
	"gmailfarm-bot/internal/credentials"
	"gmailfarm-bot/internal/database"
	"gmailfarm-bot/internal/ledger"
	"gmailfarm-bot/internal/notify"
	"gmailfarm-bot/internal/payment"
	"gmailfarm-bot/internal/resale"
	"gmailfarm-bot/internal/session"
	"gmailfarm-bot/internal/settings"
	"gmailfarm-bot/internal/support"
	"gmailfarm-bot/internal/task"
	"gmailfarm-bot/internal/utils"
	"gmailfarm-bot/internal/verify"
	"gmailfarm-bot/internal/withdraw"
	"gmailfarm-bot/internal/worker"
)

func main() {
	cfg := config.LoadConfig()
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("service stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		log.Printf("Unknown LOG_LEVEL %q, using info", level)
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.BotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is not set")
	}

	db, err := database.Connect(cfg, logger)
	if err != nil {
		return err
	}
	st := settings.NewStore(db)
	if err := st.Seed(ctx); err != nil {
		return err
	}
	rdb, err := database.ConnectRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rdb.Close()

	tgBot, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		return err
	}
	notifier := notify.NewTelegram(tgBot, cfg.AdminIDs, cfg.LogChannelID, rdb, logger)

	store := ledger.NewStore(db, st, credentials.NewIssuer(), logger)
	checker := newChecker(cfg, logger)
	sessions := session.NewStore(rdb, session.DefaultTTL)
	resales := resale.NewService(store, checker, notifier, logger)
	withdrawals := withdraw.NewService(store, notifier, logger)

	b := bot.NewBot(tgBot, bot.Services{
		Ledger:      store,
		Tasks:       task.NewService(store, checker, notifier, logger),
		Resale:      resales,
		Intake:      resale.NewIntake(resales, sessions),
		Withdrawals: withdrawals,
		Support:     support.NewService(store, notifier, logger),
		Sessions:    sessions,
		Notifier:    notifier,
	}, cfg, logger)

	dispatcher := worker.NewDispatcher(store, withdrawals, newGateway(cfg, logger), notifier, logger)
	scheduler := cron.New()
	if err := dispatcher.Schedule(ctx, scheduler, cfg.AutoPayInterval); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	var servers []*http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
	}
	if cfg.PaymentWebhook != "" {
		allow, err := utils.ParseAllowList(cfg.AllowedPaymentIPs)
		if err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/payment/webhook", payment.NewWebhookHandler(withdrawals, allow, notifier, logger))
		servers = append(servers, &http.Server{Addr: cfg.PaymentWebhook, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Run(gctx)
	})
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("http server listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("service started",
		slog.String("db_driver", cfg.DBDriver),
		slog.String("verify_mode", cfg.VerifyMode),
		slog.String("payment_mode", cfg.PaymentMode),
	)
	return g.Wait()
}

func newChecker(cfg *config.Config, logger *slog.Logger) verify.Checker {
	if cfg.VerifyMode == "simulate" {
		logger.Warn("login checks are simulated, every check succeeds")
		return verify.StaticChecker{Outcome: verify.Success}
	}
	return verify.NewIMAPChecker(cfg.IMAPAddr, cfg.VerifyTimeout, logger)
}

func newGateway(cfg *config.Config, logger *slog.Logger) payment.Gateway {
	if cfg.PaymentMode == "http" {
		return payment.NewClient(cfg.PaymentAPIURL, cfg.PaymentShopID, cfg.PaymentSecretKey)
	}
	logger.Warn("payouts are simulated", slog.Float64("success_rate", cfg.SimSuccessRate))
	return payment.NewSimulator(cfg.SimSuccessRate, 2*time.Second)
}
