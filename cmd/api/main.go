package main

import (
	"context"

	"procurehub/config"
	"procurehub/internal/api"
	"procurehub/internal/mailer"
	"procurehub/internal/oracle"
	"procurehub/internal/repository"
	"procurehub/internal/service"
	"procurehub/pkg/db"
	"procurehub/pkg/logger"
	"procurehub/pkg/mq"
	"procurehub/pkg/otel"
	"procurehub/pkg/outbox"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger := logger.NewLogger()
	defer logger.Sync()

	logger.Info("Starting procurehub API...")

	// OpenTelemetry
	shutdownOtel, err := otel.Init(otel.Config{
		ServiceName:    "procurehub-api",
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.Otel.Endpoint,
		Enabled:        cfg.Otel.Enabled,
	}, logger)
	if err != nil {
		logger.Fatal("OpenTelemetry initialization failed", zap.Error(err))
	}
	defer shutdownOtel()

	// DB
	dbConn, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB connection failed", zap.Error(err))
	}
	defer dbConn.Close()

	// MQ publisher, drains the outbox
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		logger.Fatal("failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Outbox dispatcher
	outboxRepo := outbox.NewRepository(dbConn)
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, logger)
	go dispatcher.Start(context.Background())

	// Repositories
	requestRepo := repository.NewRequestRepository(dbConn)
	responderRepo := repository.NewResponderRepository(dbConn)
	proposalRepo := repository.NewProposalRepository(dbConn)
	emailRepo := repository.NewInboundEmailRepository(dbConn)

	// Oracle client
	oracleClient := oracle.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.APIKey, cfg.Oracle.AttemptTimeout, logger)

	// Services
	outboundMailer := mailer.NewLogMailer(cfg.Mailer, logger)
	requestService := service.NewRequestService(requestRepo, responderRepo, oracleClient, outboundMailer, logger)
	proposalService := service.NewProposalService(proposalRepo, requestRepo, oracleClient, logger)
	comparisonService := service.NewComparisonService(requestRepo, responderRepo, proposalRepo, oracleClient, logger)
	ingestService := service.NewIngestService(dbConn, emailRepo, logger)

	// Handlers
	requestHandler := api.NewRequestHandler(requestService)
	comparisonHandler := api.NewComparisonHandler(comparisonService, logger)
	proposalHandler := api.NewProposalHandler(proposalRepo, proposalService)
	responderHandler := api.NewResponderHandler(responderRepo)
	inboundHandler := api.NewInboundHandler(ingestService)

	// Router
	router := api.NewRouter(requestHandler, comparisonHandler, proposalHandler, responderHandler, inboundHandler)

	if err := router.Run(cfg.Server.Port); err != nil {
		logger.Fatal("server start failed", zap.Error(err))
	}
}
