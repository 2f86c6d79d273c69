// Package main is the entry point for the ingestion and embedding pipeline:
// the sync coordinator's HTTP API, the connector scheduler, and the batch
// orchestrator all run in this one process.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ingestkit/ragpipe/internal/batchstore"
	"github.com/ingestkit/ragpipe/internal/cache"
	"github.com/ingestkit/ragpipe/internal/chunker"
	"github.com/ingestkit/ragpipe/internal/config"
	"github.com/ingestkit/ragpipe/internal/connectors/demo"
	"github.com/ingestkit/ragpipe/internal/contentstore"
	"github.com/ingestkit/ragpipe/internal/coordinator"
	"github.com/ingestkit/ragpipe/internal/documentstore"
	"github.com/ingestkit/ragpipe/internal/embeddingstore"
	"github.com/ingestkit/ragpipe/internal/metrics"
	"github.com/ingestkit/ragpipe/internal/model"
	"github.com/ingestkit/ragpipe/internal/objectstore"
	"github.com/ingestkit/ragpipe/internal/observability"
	"github.com/ingestkit/ragpipe/internal/orchestrator"
	"github.com/ingestkit/ragpipe/internal/provider"
	"github.com/ingestkit/ragpipe/internal/queue"
	"github.com/ingestkit/ragpipe/internal/resilience"
	"github.com/ingestkit/ragpipe/internal/security"
	"github.com/ingestkit/ragpipe/internal/syncstore"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ragpipe\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n", version, buildTime, gitCommit)
		os.Exit(0)
	}

	logger := observability.NewLogger("ragpipe")
	logger.Info("starting ragpipe", map[string]interface{}{"version": version, "git_commit": gitCommit})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	db, err := connectDatabase(ctx, cfg.Database, logger)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Address,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.Database,
		DialTimeout: cfg.Redis.DialTimeout,
		PoolSize:    cfg.Redis.PoolSize,
	})
	defer redisClient.Close()

	masterKey, err := decodeMasterKey(cfg.Security.MasterKeyBase64, logger)
	if err != nil {
		log.Fatalf("decode master key: %v", err)
	}

	m := metrics.New()

	objects, err := buildObjectStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("build object store: %v", err)
	}
	var bucketObjects objectstore.ObjectStore
	if cfg.Storage.Backend == "object_store" {
		bucketObjects = objects
	}

	notifier, err := buildQueueNotifier(ctx, cfg.QueueNotify)
	if err != nil {
		log.Fatalf("build queue notifier: %v", err)
	}

	syncs := syncstore.New(db)
	documents := documentstore.New(db)
	content := contentstore.New(db, bucketObjects, model.StorageBackend(contentBackend(cfg.Storage.Backend)), cfg.Storage.BucketName)
	q := queue.New(db, notifier, logger)
	batches := batchstore.New(db)
	embeddings := embeddingstore.New(db)
	credentials := security.NewCredentialManager(db, masterKey)
	syncLock := cache.NewSyncLock(redisClient, cfg.Coordinator.CallbackTokenTTL, logger)

	embeddingProvider := buildProvider(cfg.Embedding)
	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(), logger)

	registry := coordinator.NewRegistry()
	for sourceID, source := range cfg.Sources {
		if source.SourceType != "demo" {
			continue
		}
		baseURL, _ := source.Settings["base_url"].(string)
		registry.Register("demo", demo.New(baseURL))
		logger.Info("registered demo connector", map[string]interface{}{"source_id": sourceID})
	}

	coord := coordinator.New(
		cfg.Sources, registry, credentials, syncLock, syncs,
		q, documents, content, m, cfg.Coordinator.CheckpointInterval, logger,
	)
	scheduler := coordinator.NewScheduler(coord, cfg.Coordinator.FullSyncCron, logger)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("start full-sync scheduler: %v", err)
	}

	orch := orchestrator.New(
		cfg.Batch, q, documents, content, embeddings, batches,
		bucketObjects, cfg.Storage.BucketName, embeddingProvider, breaker,
		chunker.ParagraphBoundaryScorer{}, m, logger,
	)
	go orch.Run(ctx)

	httpServer := startAPIServer(cfg, coord, logger)
	metricsServer := startMetricsServer(cfg)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", map[string]interface{}{"signal": sig.String()})
	case <-ctx.Done():
	}

	logger.Info("starting graceful shutdown", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer shutdownCancel()

	scheduler.Stop()
	cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown API server failed", map[string]interface{}{"error": err.Error()})
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown metrics server failed", map[string]interface{}{"error": err.Error()})
	}
}

func connectDatabase(ctx context.Context, cfg config.DatabaseConfig, logger observability.Logger) (*sqlx.DB, error) {
	const maxRetries = 10
	const baseDelay = time.Second

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.URL)
		if err == nil {
			db.SetMaxOpenConns(cfg.MaxConns)
			db.SetMaxIdleConns(cfg.MaxIdleConns)
			return db, nil
		}
		lastErr = err
		logger.Warn("database connection attempt failed, retrying", map[string]interface{}{"attempt": i + 1, "error": err.Error()})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(baseDelay * time.Duration(i+1)):
		}
	}
	return nil, fmt.Errorf("database unreachable after %d attempts: %w", maxRetries, lastErr)
}

func decodeMasterKey(b64 string, logger observability.Logger) ([]byte, error) {
	if b64 == "" {
		logger.Warn("RAG_MASTER_KEY not set, using an insecure default", nil)
		b64 = "K5UjoD45dEV/PehMDwar9ORfItM39KtUg5dT+HymK2A="
	}
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func buildObjectStore(ctx context.Context, cfg config.StorageConfig) (*objectstore.S3Store, error) {
	if cfg.Backend != "object_store" {
		return nil, nil
	}
	return objectstore.NewS3Store(ctx, objectstore.Config{Region: cfg.Region, BaseEndpoint: cfg.Endpoint})
}

// buildQueueNotifier wires the best-effort SQS fan-out when a queue URL is
// configured; queue.New treats a nil Notifier as a no-op.
func buildQueueNotifier(ctx context.Context, cfg config.QueueNotifyConfig) (queue.Notifier, error) {
	if cfg.QueueURL == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config for sqs: %w", err)
	}
	return queue.NewSQSNotifier(sqs.NewFromConfig(awsCfg), cfg.QueueURL), nil
}

func contentBackend(storageBackend string) string {
	if storageBackend == "object_store" {
		return string(model.StorageBackendObjectStore)
	}
	return string(model.StorageBackendRelational)
}

func buildProvider(cfg config.EmbeddingConfig) provider.Provider {
	switch cfg.Provider {
	case "remote_batch":
		return provider.NewRemoteBatch(provider.RemoteBatchConfig{
			Endpoint: cfg.Endpoint, APIKey: cfg.APIKey, Model: cfg.Model,
		})
	default:
		return provider.NewOpenAICompatible(provider.OpenAICompatibleConfig{
			Endpoint: cfg.Endpoint, APIKey: cfg.APIKey, Model: cfg.Model, Dimensions: cfg.Dimensions,
		})
	}
}

func startAPIServer(cfg *config.Config, coord *coordinator.Coordinator, logger observability.Logger) *http.Server {
	router := mux.NewRouter()
	handler := coordinator.NewHandler(coord, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Service.Port), Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server error", map[string]interface{}{"error": err.Error()})
		}
	}()
	return srv
}

func startMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Service.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
