package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/lenteraid/transparency-api/internal/repository"
	"github.com/lenteraid/transparency-api/internal/service"
	"github.com/lenteraid/transparency-api/pkg/config"
	"github.com/lenteraid/transparency-api/pkg/database"
	"github.com/lenteraid/transparency-api/pkg/export"
	"github.com/lenteraid/transparency-api/pkg/jobs"
	"github.com/lenteraid/transparency-api/pkg/logger"
	"github.com/lenteraid/transparency-api/pkg/storage"
)

// report-worker consumes report generation jobs from RabbitMQ. It shares the
// database and report storage with the API process and is only needed when
// the queue driver is set to rabbitmq.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init report storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)

	reportRepo := repository.NewReportJobRepository(db)
	donationRepo := repository.NewDonationRepository(db)
	expenseRepo := repository.NewExpenseRepository(db)
	programRepo := repository.NewProgramRepository(db)

	exportService := service.NewExportService(
		donationRepo, expenseRepo, programRepo,
		store, signer,
		service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Reports.ResultTTL},
		logr,
		export.NewCSVExporter(), export.NewPDFExporter(),
	)

	worker := service.NewReportWorker(reportRepo, exportService, cfg.Reports.WorkerRetries, logr)

	consumer, err := jobs.NewAMQPConsumer(jobs.AMQPConfig{
		URL:        cfg.Reports.AMQPURL,
		Exchange:   cfg.Reports.AMQPExchange,
		RoutingKey: cfg.Reports.AMQPRoutingKey,
		Queue:      cfg.Reports.AMQPQueue,
	}, worker.Handle, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to rabbitmq", "error", err)
	}
	defer consumer.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logr.Sugar().Infow("report worker starting", "queue", cfg.Reports.AMQPQueue)
	if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
		logr.Sugar().Fatalw("consumer stopped", "error", err)
	}
	logr.Sugar().Infow("report worker stopped")
}
