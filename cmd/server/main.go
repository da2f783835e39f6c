package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/amillerrr/vod-pipeline/internal/api"
	"github.com/amillerrr/vod-pipeline/internal/config"
	"github.com/amillerrr/vod-pipeline/internal/health"
	"github.com/amillerrr/vod-pipeline/internal/job"
	"github.com/amillerrr/vod-pipeline/internal/logger"
	"github.com/amillerrr/vod-pipeline/internal/notify"
	"github.com/amillerrr/vod-pipeline/internal/observability"
	"github.com/amillerrr/vod-pipeline/internal/probe"
	"github.com/amillerrr/vod-pipeline/internal/session"
	"github.com/amillerrr/vod-pipeline/internal/storage"
	"github.com/amillerrr/vod-pipeline/internal/transcoder"
)

const (
	ShutdownTimeout       = 30 * time.Second
	TracerShutdownTimeout = 5 * time.Second
	AWSConfigTimeout      = 10 * time.Second
)

func main() {
	// Initialize logger
	log := logger.New()
	slog.SetDefault(log)

	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Upload.SpoolDir, 0755); err != nil {
		log.Error("Failed to create spool directory", "dir", cfg.Upload.SpoolDir, "error", err)
		os.Exit(1)
	}

	// Initialize tracer
	shutdownTracer, err := observability.InitTracer(context.Background(), "vod-pipeline",
		cfg.Observability.OTLPEndpoint, cfg.Environment)
	if err != nil {
		log.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), TracerShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	// Initialize AWS clients
	awsCtx, awsCancel := context.WithTimeout(context.Background(), AWSConfigTimeout)
	defer awsCancel()

	awsCfg, err := storage.NewAWSConfig(awsCtx, cfg.AWS.Region)
	if err != nil {
		log.Error("Failed to load AWS config", "error", err)
		os.Exit(1)
	}
	s3Client := s3.NewFromConfig(awsCfg)
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)

	// Intake and pipeline components
	store := session.NewStore(cfg.Upload.SpoolDir, cfg.Upload.ChunkSizeBytes, log)
	sweeper := session.NewSweeper(store, cfg.Upload.SessionMaxAge, cfg.Upload.SweepInterval, log)
	tracker := job.NewTracker(cfg.Pipeline.JobRetention)
	engine := transcoder.NewEngine(cfg.Pipeline.MaxConcurrentEncodes, cfg.Pipeline.EncodeTimeout, log)
	prober := probe.NewProber(log)
	uploader := storage.NewUploader(s3Client, cfg.AWS.Bucket, cfg.Pipeline.MaxConcurrentUploads, log)
	publisher := storage.NewPublisher(dynamoClient, cfg.AWS.DynamoDBTable, cfg.AWS.CDNDomain)
	notifier := notify.NewNotifier(sqsClient, cfg.AWS.SQSQueueURL, log)

	pipelineCtx, stopPipeline := context.WithCancel(context.Background())
	defer stopPipeline()

	orch := job.NewOrchestrator(pipelineCtx, tracker,
		prober, engine, uploader, publisher, notifier, cfg.Upload.SpoolDir, log)

	go sweeper.Run(pipelineCtx)

	// Initialize health checker
	healthConfig := health.DefaultConfig("vod-pipeline", log)
	healthConfig.S3Client = s3Client
	healthConfig.S3Bucket = cfg.AWS.Bucket
	healthConfig.DynamoDBClient = dynamoClient
	healthConfig.DynamoDBTable = cfg.AWS.DynamoDBTable
	healthConfig.SQSClient = sqsClient
	healthConfig.SQSQueueURL = cfg.AWS.SQSQueueURL
	healthConfig.SpoolDir = cfg.Upload.SpoolDir
	healthChecker := health.NewChecker(healthConfig)

	handlers := api.NewHandlers(&api.HandlersConfig{
		Config:  cfg,
		Logger:  log,
		Store:   store,
		Tracker: tracker,
		Orch:    orch,
		Sweeper: sweeper,
		Limiter: api.NewIntakeLimiter(cfg.Pipeline.MaxConcurrentUploads),
		Videos:  publisher,
	})

	server := api.NewServer(&api.ServerConfig{
		Config:        cfg,
		Logger:        log,
		Handlers:      handlers,
		HealthChecker: healthChecker,
	})

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	// Graceful shutdown: stop intake first, then drain in-flight jobs.
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	orch.Wait()

	log.Info("Server shutdown complete")
}
