package admin

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/clipfinder/internal/catalog"
	"github.com/cloo-solutions/clipfinder/internal/chunker"
	"github.com/cloo-solutions/clipfinder/internal/config"
	"github.com/cloo-solutions/clipfinder/internal/database"
	"github.com/cloo-solutions/clipfinder/internal/guidance"
	"github.com/cloo-solutions/clipfinder/internal/ingest"
	"github.com/cloo-solutions/clipfinder/internal/openai"
	"github.com/cloo-solutions/clipfinder/internal/ranking"
	"github.com/cloo-solutions/clipfinder/internal/repository"
	"github.com/cloo-solutions/clipfinder/internal/service"
	"github.com/cloo-solutions/clipfinder/internal/storage"
	"github.com/cloo-solutions/clipfinder/internal/vectorcache"
)

const mirrorRestoreTimeout = 30 * time.Second

// EngineOptions toggles the optional backends an invocation needs.
type EngineOptions struct {
	// Migrate applies database migrations before the pool is used.
	Migrate bool
	// MigrationsSource is a golang-migrate source URL.
	MigrationsSource string
}

// Engine is the fully wired search stack shared by serve and the one-shot commands.
// Optional parts stay nil when their backend is not configured.
type Engine struct {
	Config   *config.Config
	Catalog  *catalog.Store
	Pipeline *ingest.Pipeline
	Vectors  *vectorcache.Cache
	Search   *service.SearchService

	Pool           *pgxpool.Pool
	EmbeddingCache *repository.EmbeddingCacheRepository
	SearchLogs     *repository.SearchLogRepository
	Mirror         *storage.IndexMirror
}

// NewEngine builds the stack from cfg. The caller must Close it.
func NewEngine(ctx context.Context, cfg *config.Config, opts EngineOptions) (*Engine, error) {
	e := &Engine{Config: cfg}

	if cfg.HasDatabase() {
		if opts.Migrate {
			source := opts.MigrationsSource
			if source == "" {
				source = "file://migrations"
			}
			if err := database.Migrate(cfg.DatabaseURL, source); err != nil {
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		pool, err := database.NewPool(ctx, database.Config{
			URL:             cfg.DatabaseURL,
			MaxConns:        cfg.DatabaseMaxConns,
			MaxConnIdleTime: 5 * time.Minute,
			ConnectTimeout:  cfg.DatabaseConnectTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Println("connected to database")
		e.Pool = pool
		e.EmbeddingCache = repository.NewEmbeddingCacheRepository(pool)
		e.SearchLogs = repository.NewSearchLogRepository(pool)
	}

	index := catalog.NewIndexFile(cfg.IndexPath)
	var mirror catalog.Mirror
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		e.Mirror = storage.NewIndexMirror(s3Client, "", cfg.S3Snapshots)
		mirror = e.Mirror
		restoreIndex(ctx, index, e.Mirror)
	}

	e.Catalog = catalog.NewStore(catalog.Options{
		MediaDir:      cfg.MediaDir,
		PublicBaseURL: cfg.PublicBaseURL,
		Index:         index,
		Prober:        catalog.NewFFprobe(cfg.FFprobePath),
		Mirror:        mirror,
	})

	var (
		vectors  ranking.VectorSource
		ingestor service.Ingestor
		guide    guidance.Guide = guidance.TemplateGuide{}
	)
	if cfg.HasOpenAI() {
		client := openai.NewClientWithConfig(openai.Config{
			APIKey:             cfg.OpenAIAPIKey,
			BaseURL:            cfg.OpenAIBaseURL,
			EmbeddingModel:     cfg.EmbeddingModel,
			TranscriptionModel: cfg.TranscriptionModel,
			ChatModel:          cfg.GuidanceModel,
			MaxRetries:         cfg.UpstreamMaxRetries,
		})

		var store vectorcache.Store
		if e.EmbeddingCache != nil {
			store = e.EmbeddingCache
		}
		e.Vectors = vectorcache.New(client, store, vectorcache.Config{
			Model:       cfg.EmbeddingModel,
			BatchSize:   cfg.EmbedBatchSize,
			Concurrency: cfg.EmbedConcurrency,
		})
		vectors = e.Vectors

		e.Pipeline = ingest.NewPipeline(e.Catalog, ingest.NewFFmpeg(cfg.FFmpegPath), client, ingest.Config{
			ChunkSeconds:   float64(cfg.IngestChunkSeconds),
			BitrateKbps:    cfg.IngestBitrateKbps,
			MinBitrateKbps: cfg.IngestMinBitrateKbps,
			MaxChunkBytes:  int64(cfg.IngestMaxChunkBytes),
		})
		ingestor = e.Pipeline

		if !cfg.DisableLLMGuidance {
			guide = guidance.Fallback{Primary: guidance.NewChatGuide(client), Secondary: guidance.TemplateGuide{}}
		}
	} else {
		log.Println("OPENAI_API_KEY not set: lexical ranking only, transcription disabled")
	}

	ranker := ranking.NewRanker(vectors, rankingWeights(cfg), chunker.DefaultConfig())
	e.Search = service.NewSearchService(e.Catalog, ranker, ingestor, nil, guide, service.Options{
		Staleness:       cfg.Staleness,
		AutoIngestLimit: cfg.AutoIngestLimit,
		ForceIngestWait: cfg.ForceIngestWait,
	})

	return e, nil
}

// SearchLogRepository returns the log repository as an interface value, nil when
// no database is configured.
func (e *Engine) SearchLogRepository() service.SearchLogRepository {
	if e.SearchLogs == nil {
		return nil
	}
	return e.SearchLogs
}

// Close releases the database pool.
func (e *Engine) Close() {
	if e.Pool != nil {
		e.Pool.Close()
	}
}

func rankingWeights(cfg *config.Config) ranking.Weights {
	w := ranking.DefaultWeights()
	w.VideoSemantic = cfg.WeightVideoSemantic
	w.VideoLexical = cfg.WeightVideoLexical
	w.ChunkSemantic = cfg.WeightChunkSemantic
	w.ChunkLexical = cfg.WeightChunkLexical
	w.BlendVideo = cfg.WeightBlendVideo
	w.BlendChunk = cfg.WeightBlendChunk
	return w
}

// restoreIndex seeds a missing local index from the mirror.
func restoreIndex(ctx context.Context, index *catalog.IndexFile, mirror *storage.IndexMirror) {
	rctx, cancel := context.WithTimeout(ctx, mirrorRestoreTimeout)
	defer cancel()

	data, err := mirror.FetchIndex(rctx)
	if err != nil {
		log.Printf("catalog: index mirror fetch failed: %v", err)
		return
	}
	if data == nil {
		return
	}
	seeded, err := index.Seed(rctx, data)
	if err != nil {
		log.Printf("catalog: index restore failed: %v", err)
		return
	}
	if seeded {
		log.Printf("catalog: restored index from mirror into %s", index.Path)
	}
}
