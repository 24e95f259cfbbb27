package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"procurehub/config"
	mqcontracts "procurehub/contracts/mq"
	"procurehub/internal/correlate"
	"procurehub/internal/mqhandler"
	"procurehub/internal/oracle"
	"procurehub/internal/repository"
	"procurehub/internal/service"
	"procurehub/pkg/db"
	"procurehub/pkg/logger"
	"procurehub/pkg/mq"
	"procurehub/pkg/otel"
	"procurehub/pkg/redis"
	"procurehub/pkg/util"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger := logger.NewLogger()
	defer logger.Sync()

	logger.Info("Starting procurehub worker...")

	// OpenTelemetry
	shutdownOtel, err := otel.Init(otel.Config{
		ServiceName:    "procurehub-worker",
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.Otel.Endpoint,
		Enabled:        cfg.Otel.Enabled,
	}, logger)
	if err != nil {
		logger.Fatal("OpenTelemetry initialization failed", zap.Error(err))
	}
	defer shutdownOtel()

	// Redis
	rdb := redis.NewClient(cfg.Redis)
	defer rdb.Close()

	deduper := util.NewDeduper(rdb, time.Hour, logger)
	retryCounter := util.NewRetryCounter(rdb, time.Hour)

	// DB
	dbConn, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB connection failed", zap.Error(err))
	}
	defer dbConn.Close()

	logger.Info("DB ready")

	// DLQ publisher for poison messages
	dlqPublisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		logger.Fatal("failed to init DLQ publisher", zap.Error(err))
	}
	defer dlqPublisher.Close()
	if err := dlqPublisher.SetupDLQ(mqcontracts.RoutingKeyProposalInbound); err != nil {
		logger.Fatal("failed to set up DLQ", zap.Error(err))
	}

	// Repositories
	requestRepo := repository.NewRequestRepository(dbConn)
	responderRepo := repository.NewResponderRepository(dbConn)
	proposalRepo := repository.NewProposalRepository(dbConn)
	emailRepo := repository.NewInboundEmailRepository(dbConn)

	// Oracle client
	oracleClient := oracle.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.APIKey, cfg.Oracle.AttemptTimeout, logger)

	// Pipeline
	engine := correlate.NewEngine(responderRepo, requestRepo, logger)
	proposalService := service.NewProposalService(proposalRepo, requestRepo, oracleClient, logger)
	pipeline := service.NewPipeline(engine, proposalService, requestRepo, logger)

	inboundHandler := mqhandler.NewProposalInboundHandler(
		emailRepo,
		pipeline,
		retryCounter,
		deduper,
		dlqPublisher,
		logger,
	)

	// -------------------------
	// Proposal Inbound Consumer
	// -------------------------
	logger.Info("Init consumer: proposal.inbound.q")
	consumer, err := mq.NewConsumer(
		cfg.MQ.URL,
		"proposal.inbound.q",
		mqcontracts.RoutingKeyProposalInbound,
		logger,
	)
	if err != nil {
		logger.Fatal("Inbound consumer init failed", zap.Error(err))
	}
	consumer.SetHandler(inboundHandler.Handle)

	go func() {
		if err := consumer.StartConsuming(); err != nil {
			logger.Fatal("Inbound consumer crashed", zap.Error(err))
		}
	}()

	logger.Info("Worker running")

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker gracefully...")

	consumer.Close()
	dbConn.Close()
	rdb.Close()

	logger.Info("Worker shutdown complete")
}
