package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"catalog-rag/internal/ai"
	"catalog-rag/internal/app"
	"catalog-rag/internal/cache"
	"catalog-rag/internal/config"
	"catalog-rag/internal/metrics"
	mysqlClient "catalog-rag/internal/platform/mysql"
	rabbitmqClient "catalog-rag/internal/platform/rabbitmq"
	redisClient "catalog-rag/internal/platform/redis"
	"catalog-rag/internal/repository"
	"catalog-rag/internal/retrieval"
	"catalog-rag/internal/worker"
)

// Options selects the optional parts of the graph. The HTTP server wants all
// of them; cachectl only needs the stores.
type Options struct {
	// Messaging connects to RabbitMQ for document events and the
	// invalidation consumer. A failed connection is logged and skipped.
	Messaging bool
	// Background starts the invalidation worker and the cache janitor.
	Background bool
}

type App struct {
	Config   *config.Config
	Log      *logrus.Logger
	MySQL    *gorm.DB
	MQConn   *amqp.Connection
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Cache     *cache.Store
	Documents *repository.DocumentRepository
	Chunks    *repository.ChunkRepository
	Retriever *retrieval.Retriever

	QA              *app.QAService
	DocumentService *app.DocumentService

	InvalidationWorker *worker.InvalidationWorker
	Janitor            *worker.CacheJanitor

	StartedAt time.Time
}

// New wires the application. Anything opened before a failure is closed
// again before returning.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Log: log, StartedAt: time.Now()}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	var err error

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	a.MySQL, err = mysqlClient.New(ctx, cfg.MySQLDSN(), mysqlClient.DefaultPoolOptions(), log)
	if err != nil {
		return nil, err
	}

	a.Documents = repository.NewDocumentRepository(a.MySQL)
	if err = a.Documents.Migrate(ctx); err != nil {
		return nil, err
	}
	a.Chunks, err = repository.NewChunkRepository(a.MySQL, cfg.Cache.VectorCacheSize)
	if err != nil {
		return nil, err
	}

	a.Cache = cache.New(a.MySQL, newFastTier(ctx, cfg, log), cacheOptions(cfg.Cache), log, a.Metrics)
	if err = a.Cache.Open(ctx); err != nil {
		return nil, err
	}

	llm := ai.NewOpenAICompatibleClient(clientOptions(cfg.LLM))
	embedder := ai.NewCachingEmbedder(
		ai.NewEmbeddingClient(llm, ai.EmbeddingConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.EmbeddingModel,
		}),
		a.Cache,
		log,
	)
	generator := ai.NewChatGenerator(llm, ai.ChatConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	}, cfg.LLM.MaxContextRunes)

	a.Retriever = retrieval.New(a.Chunks, embedder, retrievalConfig(cfg.Retrieval), log, a.Metrics)
	a.QA = app.NewQAService(a.Cache, embedder, a.Retriever, generator, log)

	var publisher app.EventPublisher
	if opts.Messaging {
		a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			log.WithError(err).Warn("rabbitmq unavailable, document events and invalidation consumer disabled")
		} else {
			publisher = rabbitmqClient.NewEventPublisher(a.MQConn, cfg.RabbitMQ.DocumentEventsQueue)
		}
	}
	a.DocumentService = app.NewDocumentService(a.Documents, a.Cache, publisher, log)

	if opts.Background {
		if err = a.startBackground(ctx); err != nil {
			return nil, err
		}
	}
	ok = true
	return a, nil
}

func (a *App) startBackground(ctx context.Context) error {
	if a.MQConn != nil {
		a.InvalidationWorker = worker.NewInvalidationWorker(a.MQConn, a.Cache, a.Config.RabbitMQ.InvalidationQueue, a.Log)
		if err := a.InvalidationWorker.Start(ctx); err != nil {
			return fmt.Errorf("start invalidation worker failed: %w", err)
		}
	}
	if a.Config.Janitor.Enabled {
		janitor, err := worker.NewCacheJanitor(a.Cache, a.Config.Janitor.Cron,
			time.Duration(a.Config.Janitor.TimeoutSeconds)*time.Second, a.Log)
		if err != nil {
			return err
		}
		a.Janitor = janitor
		if err := a.Janitor.Start(); err != nil {
			return fmt.Errorf("start cache janitor failed: %w", err)
		}
	}
	return nil
}

// newFastTier returns nil when the fast tier is disabled or Redis cannot be
// reached; the durable tier alone is still correct.
func newFastTier(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) cache.FastTier {
	switch cfg.Cache.FastTier {
	case config.FastTierRedis:
		client, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, running without fast tier")
			return nil
		}
		return cache.NewRedisTier(client)
	case config.FastTierMemory:
		return cache.NewMemoryTier(time.Minute)
	default:
		return nil
	}
}

func cacheOptions(c config.CacheConfig) cache.Options {
	return cache.Options{
		QueryTTL:          c.QueryTTL(),
		EmbeddingTTL:      c.EmbeddingTTL(),
		MaxEntries:        c.MaxEntries,
		EvictionFraction:  c.EvictionFraction,
		SemanticThreshold: c.SemanticThreshold,
		SemanticScanLimit: c.SemanticScanLimit,
		KeyPrefix:         c.KeyPrefix,
		PromotionTimeout:  time.Duration(c.PromotionTimeoutMS) * time.Millisecond,
	}
}

func retrievalConfig(c config.RetrievalConfig) retrieval.Config {
	rc := retrieval.DefaultConfig()
	rc.SubQueryTimeout = time.Duration(c.SubQueryTimeoutMS) * time.Millisecond
	rc.ScanTimeout = time.Duration(c.ScanTimeoutMS) * time.Millisecond
	rc.MaxConcurrency = c.MaxConcurrency
	rc.KeywordBoostFloor = c.KeywordBoostFloor
	rc.MasterDocCeiling = c.MasterDocCeiling
	rc.CountHardCap = c.CountHardCap
	rc.TOCChunksPerDocument = c.TOCChunksPerDocument
	rc.DiversityPerDocument = c.DiversityPerDocument
	return rc
}

func clientOptions(c config.LLMConfig) ai.ClientOptions {
	opts := ai.DefaultClientOptions()
	opts.Timeout = time.Duration(c.TimeoutSeconds) * time.Second
	opts.RequestsPerSecond = c.RequestsPerSecond
	opts.Burst = c.Burst
	if c.MaxRetries > 0 {
		opts.Retry.MaxAttempts = c.MaxRetries
	}
	return opts
}

// Close stops consumers before the stores they write to.
func (a *App) Close() error {
	var errs []error
	if a.InvalidationWorker != nil {
		a.InvalidationWorker.Close()
	}
	if a.Janitor != nil {
		if err := a.Janitor.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rabbitmq failed: %w", err))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache failed: %w", err))
		}
	}
	if a.MySQL != nil {
		if sqlDB, err := a.MySQL.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close mysql failed: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}
