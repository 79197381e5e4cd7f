package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Anieshwar-Saravanan/TeenConnect/internal/auth"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/config"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/data"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/db"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/email"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/engine"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/hub"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/moderation"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/ratelimit"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/trust"

	"go.uber.org/zap"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(log); err != nil {
		log.Fatal("broker exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	database, err := db.New(ctx, cfg.MongoURI)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		if err := database.Close(shutCtx); err != nil {
			log.Warn("mongo disconnect failed", zap.Error(err))
		}
	}()

	idxCtx, idxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = database.CreateIndexes(idxCtx)
	idxCancel()
	if err != nil {
		return err
	}
	log.Info("connected to mongodb")

	users := data.NewUsersStore(database.Users())
	issues := data.NewIssuesStore(database.Issues())
	msgs := data.NewMessagesStore(database.Messages())
	blocks := data.NewBlocksStore(database.BlockedMentors())
	violations := data.NewViolationsStore(database.PIIViolations())

	ledger := trust.NewLedger(blocks, users, cfg.BlockThreshold, log)
	scorer := moderation.NewScorer(cfg.OpenAIKey, cfg.ToxicityThreshold, log)
	if !scorer.Enabled() {
		log.Warn("toxicity scoring disabled, no api key configured")
	}

	connHub := hub.New(log)
	core := engine.New(users, issues, msgs, violations, ledger, scorer, connHub, log)

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	authLimiter := ratelimit.NewLimiterStore(cfg.AuthRateRPM, cfg.AuthRateRPM, 10*time.Minute)
	msgLimiter := ratelimit.NewLimiterStore(cfg.MessageRateRPM, cfg.MessageRateRPM, 10*time.Minute)
	defer authLimiter.Stop()
	defer msgLimiter.Stop()

	srv := &Server{
		cfg:         cfg,
		log:         log,
		hub:         connHub,
		engine:      core,
		users:       users,
		issues:      issues,
		msgs:        msgs,
		trust:       ledger,
		jwt:         auth.NewJWTManager(cfg.JWTSecret, cfg.JWTDuration),
		otp:         auth.NewOTPStore(cfg.OTPTTL),
		mail:        mail,
		authLimiter: authLimiter,
		msgLimiter:  msgLimiter,
	}
	srv.registerHandlers()

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("broker listening", zap.String("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	return httpSrv.Shutdown(shutCtx)
}
