package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/cloo-solutions/clipfinder/internal/domain"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for query, video and chunk vectors
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultTranscriptionModel is the speech-to-text model used for ingestion
	DefaultTranscriptionModel = openai.Whisper1
	// DefaultChatModel writes search guidance
	DefaultChatModel = openai.GPT4oMini
	// DefaultMaxRetries bounds call-site retries for transient upstream failures
	DefaultMaxRetries = 3
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrEmbeddingCount is returned when the provider returns a different number of vectors than requested
	ErrEmbeddingCount = errors.New("embedding response does not match request")
	// ErrNoAPIKey is returned when OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
)

// API is the subset of the OpenAI HTTP API clipfinder calls
type API interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	CreateTranscription(ctx context.Context, audio []byte, filename string) (openai.AudioResponse, error)
	CreateChatCompletion(ctx context.Context, system, user string) (string, error)
}

// Client wraps the OpenAI API with retries and an embedding circuit breaker
type Client struct {
	api        API
	breaker    *gobreaker.CircuitBreaker
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

type OpenAIAdapter struct {
	client             *openai.Client
	embeddingModel     openai.EmbeddingModel
	transcriptionModel string
	chatModel          string
}

func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	adapter := &OpenAIAdapter{
		client:             openai.NewClientWithConfig(clientCfg),
		embeddingModel:     openai.EmbeddingModel(cfg.EmbeddingModel),
		transcriptionModel: cfg.TranscriptionModel,
		chatModel:          cfg.ChatModel,
	}
	if adapter.embeddingModel == "" {
		adapter.embeddingModel = DefaultEmbeddingModel
	}
	if adapter.transcriptionModel == "" {
		adapter.transcriptionModel = DefaultTranscriptionModel
	}
	if adapter.chatModel == "" {
		adapter.chatModel = DefaultChatModel
	}
	return adapter
}

// CreateEmbeddings calls the OpenAI API to embed a batch of texts, preserving input order
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: a.embeddingModel,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, ErrEmbeddingCount
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, ErrEmbeddingCount
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// CreateTranscription sends one audio chunk to Whisper with segment timestamps
func (a *OpenAIAdapter) CreateTranscription(ctx context.Context, audio []byte, filename string) (openai.AudioResponse, error) {
	return a.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:                  a.transcriptionModel,
		FilePath:               filename,
		Reader:                 bytes.NewReader(audio),
		Format:                 openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{openai.TranscriptionTimestampGranularitySegment},
	})
}

// CreateChatCompletion asks the chat model for a JSON object reply
func (a *OpenAIAdapter) CreateChatCompletion(ctx context.Context, system, user string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

type Config struct {
	APIKey             string
	BaseURL            string
	EmbeddingModel     string
	TranscriptionModel string
	ChatModel          string
	MaxRetries         uint64
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	return newClient(NewOpenAIAdapter(cfg), maxRetries, defaultBackOff)
}

// NewClientFromEnv creates a new OpenAI client using OPENAI_API_KEY environment variable
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

func newClient(api API, maxRetries uint64, newBackOff func() backoff.BackOff) *Client {
	return &Client{
		api:        api,
		breaker:    newEmbeddingBreaker(),
		maxRetries: maxRetries,
		newBackOff: newBackOff,
	}
}

func newEmbeddingBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openai-embeddings",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("openai: circuit breaker %s: %s -> %s", name, from, to)
		},
	})
}

// Embed generates one vector per text. Blank texts are not sent and get a nil
// vector in their slot. Calls go through the circuit breaker, so a failing
// provider is skipped quickly and search degrades to lexical ranking.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors := make([][]float32, len(texts))
	var (
		inputs []string
		slots  []int
	)
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		inputs = append(inputs, t)
		slots = append(slots, i)
	}
	if len(inputs) == 0 {
		return vectors, nil
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var embedded [][]float32
		err := c.retry(ctx, func() error {
			var err error
			embedded, err = c.api.CreateEmbeddings(ctx, inputs)
			return err
		})
		return embedded, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.ErrEmbeddingUnavailable.WithCause(err)
		}
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	embedded := result.([][]float32)
	if len(embedded) != len(inputs) {
		return nil, ErrEmbeddingCount
	}
	for i, slot := range slots {
		vectors[slot] = embedded[i]
	}
	return vectors, nil
}
