package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/powerstream/coinledger/internal/api"
	"github.com/powerstream/coinledger/internal/audit"
	"github.com/powerstream/coinledger/internal/config"
	"github.com/powerstream/coinledger/internal/domain"
	"github.com/powerstream/coinledger/internal/ledger"
	"github.com/powerstream/coinledger/internal/service"
	"github.com/powerstream/coinledger/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	var logger *zap.Logger
	if cfg.Env == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx := context.Background()
	st, err := store.NewPostgres(ctx, cfg.DBSource)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer st.Close()

	led := ledger.New(st, logger)
	svc := service.New(st, led, logger, service.NewSimulatedProcessor(logger), service.Config{
		FaucetAmount:  cfg.FaucetAmount,
		MinWithdrawal: cfg.MinWithdrawal,
		RetryAttempts: cfg.RetryAttempts,
	})

	svc.Subscribe(service.ObserverFunc(func(block *domain.LedgerBlock) {
		logger.Info("block committed",
			zap.Int64("block_number", block.BlockNumber),
			zap.String("kind", string(block.Payload.Type)),
			zap.Int64("amount", block.Payload.Amount))
	}))

	auditor := audit.New(st, led, logger)
	if err := auditor.Start(cfg.AuditSchedule); err != nil {
		logger.Fatal("audit scheduler failed", zap.Error(err))
	}
	defer auditor.Stop()

	handler := api.NewHandler(svc, led, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
