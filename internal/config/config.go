package config

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	MediaDir      string        `envconfig:"MEDIA_DIR" required:"true"`
	IndexPath     string        `envconfig:"INDEX_PATH"`
	PublicBaseURL string        `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`
	Staleness     time.Duration `envconfig:"STALENESS" default:"30s"`
	RefreshCron   string        `envconfig:"REFRESH_CRON"`
	FFprobePath   string        `envconfig:"FFPROBE_PATH" default:"ffprobe"`
	FFmpegPath    string        `envconfig:"FFMPEG_PATH" default:"ffmpeg"`

	OpenAIAPIKey       string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL      string `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel     string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	TranscriptionModel string `envconfig:"TRANSCRIPTION_MODEL" default:"whisper-1"`
	GuidanceModel      string `envconfig:"GUIDANCE_MODEL" default:"gpt-4o-mini"`
	EmbedBatchSize     int    `envconfig:"EMBED_BATCH_SIZE" default:"64"`
	EmbedConcurrency   int    `envconfig:"EMBED_CONCURRENCY" default:"4"`
	UpstreamMaxRetries uint64 `envconfig:"UPSTREAM_MAX_RETRIES" default:"3"`
	DisableLLMGuidance bool   `envconfig:"DISABLE_LLM_GUIDANCE" default:"false"`

	IngestChunkSeconds   int           `envconfig:"INGEST_CHUNK_SECONDS" default:"540"`
	IngestBitrateKbps    int           `envconfig:"INGEST_BITRATE_KBPS" default:"64"`
	IngestMinBitrateKbps int           `envconfig:"INGEST_MIN_BITRATE_KBPS" default:"24"`
	IngestMaxChunkBytes  int           `envconfig:"INGEST_MAX_CHUNK_BYTES" default:"25165824"`
	AutoIngestLimit      int           `envconfig:"AUTO_INGEST_LIMIT" default:"2"`
	IngestPollInterval   time.Duration `envconfig:"INGEST_POLL_INTERVAL" default:"0s"`
	ForceIngestWait      time.Duration `envconfig:"FORCE_INGEST_WAIT" default:"2m"`

	WeightVideoSemantic float64 `envconfig:"WEIGHT_VIDEO_SEMANTIC" default:"0.76"`
	WeightVideoLexical  float64 `envconfig:"WEIGHT_VIDEO_LEXICAL" default:"0.20"`
	WeightChunkSemantic float64 `envconfig:"WEIGHT_CHUNK_SEMANTIC" default:"0.8"`
	WeightChunkLexical  float64 `envconfig:"WEIGHT_CHUNK_LEXICAL" default:"0.2"`
	WeightBlendVideo    float64 `envconfig:"WEIGHT_BLEND_VIDEO" default:"0.3"`
	WeightBlendChunk    float64 `envconfig:"WEIGHT_BLEND_CHUNK" default:"0.7"`

	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"40"`

	// Optional Postgres-backed embedding cache shared across restarts
	DatabaseURL            string        `envconfig:"DATABASE_URL"`
	DatabaseMaxConns       int32         `envconfig:"DATABASE_MAX_CONNS" default:"8"`
	DatabaseConnectTimeout time.Duration `envconfig:"DATABASE_CONNECT_TIMEOUT" default:"30s"`
	SearchLogRetention     time.Duration `envconfig:"SEARCH_LOG_RETENTION" default:"2160h"`

	// Optional S3 mirror of the catalog index
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"clipfinder-index"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Snapshots int    `envconfig:"S3_SNAPSHOT_RETENTION" default:"20"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

var errEmptyMediaDir = errors.New("required key CLIPFINDER_MEDIA_DIR is empty")

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("CLIPFINDER", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if strings.TrimSpace(cfg.MediaDir) == "" {
		return nil, fmt.Errorf("failed to process config: %w", errEmptyMediaDir)
	}

	if cfg.IndexPath == "" {
		cfg.IndexPath = filepath.Join(cfg.MediaDir, ".clipfinder", "index.json")
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}
