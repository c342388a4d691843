package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/raphaelgruber/mmrag/internal/models"
)

// LLM and embedding providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Storage backends.
const (
	BackendSurreal = "surreal"
	BackendSQLite  = "sqlite"
	BackendQdrant  = "qdrant"
	BackendMemory  = "memory"
)

// EmbeddingDimension is the fixed vector size of the chunk index.
const EmbeddingDimension = 1536

// DefaultQueueName receives jobs whose type could not be detected at upload time.
const DefaultQueueName = "ingest-jobs"

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Chat model
	LLMProvider string
	LLMModel    string

	// Embeddings
	EmbedProvider  string
	EmbedModel     string
	EmbedDimension int

	// Provider credentials
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	AnthropicAPIKey      string
	OllamaHost           string
	AzureEndpoint        string
	AzureAPIKey          string
	AzureAPIVersion      string
	AzureDeployment      string
	AzureEmbedDeployment string
	AWSRegion            string
	BedrockModel         string

	// Transcription (Whisper-compatible endpoint)
	WhisperURL    string
	WhisperAPIKey string
	WhisperModel  string

	// Storage
	VectorBackend    string
	StoreBackend     string
	QueueBackend     string
	SQLitePath       string
	QdrantHost       string
	QdrantPort       int // gRPC
	QdrantUseTLS     bool
	QdrantAPIKey     string
	QdrantCollection string

	// Queues, keyed by modality
	QueueNames map[models.Modality]string

	// Processing
	MaxConcurrent  int
	Timeouts       map[models.Modality]time.Duration
	TempDir        string
	FFmpegPath     string
	SceneThreshold float64
	MaxUploadBytes int64

	// Server
	ServerPort string
	// ShutdownTimeout bounds graceful shutdown, including in-flight jobs.
	ShutdownTimeout time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	dataDir := defaultDataDir()

	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "mmrag"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "mmrag"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LLMProvider: getEnv("MMRAG_LLM_PROVIDER", ProviderOpenAI),
		LLMModel:    getEnv("MMRAG_LLM_MODEL", "gpt-4o-mini"),

		EmbedProvider:  getEnv("MMRAG_EMBED_PROVIDER", ProviderOpenAI),
		EmbedModel:     getEnv("MMRAG_EMBED_MODEL", "text-embedding-ada-002"),
		EmbedDimension: getEnvInt("MMRAG_EMBED_DIMENSION", EmbeddingDimension),

		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:        getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey:      getEnv("ANTHROPIC_API_KEY", ""),
		OllamaHost:           getEnv("OLLAMA_HOST", "http://localhost:11434"),
		AzureEndpoint:        getEnv("AZURE_OPENAI_ENDPOINT", ""),
		AzureAPIKey:          getEnv("AZURE_OPENAI_API_KEY", ""),
		AzureAPIVersion:      getEnv("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		AzureDeployment:      getEnv("AZURE_OPENAI_DEPLOYMENT", "gpt-4"),
		AzureEmbedDeployment: getEnv("AZURE_OPENAI_EMBEDDING_DEPLOYMENT", "text-embedding-ada-002"),
		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		BedrockModel:         getEnv("MMRAG_BEDROCK_MODEL", "anthropic.claude-3-haiku-20240307-v1:0"),

		WhisperURL:    getEnv("MMRAG_WHISPER_URL", ""),
		WhisperAPIKey: getEnv("MMRAG_WHISPER_API_KEY", os.Getenv("OPENAI_API_KEY")),
		WhisperModel:  getEnv("MMRAG_WHISPER_MODEL", "whisper-1"),

		VectorBackend:    getEnv("MMRAG_VECTOR_BACKEND", BackendSurreal),
		StoreBackend:     getEnv("MMRAG_STORE_BACKEND", BackendSurreal),
		QueueBackend:     getEnv("MMRAG_QUEUE_BACKEND", getEnv("MMRAG_STORE_BACKEND", BackendSurreal)),
		SQLitePath:       getEnv("MMRAG_SQLITE_PATH", filepath.Join(dataDir, "mmrag.db")),
		QdrantHost:       getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:       getEnvInt("QDRANT_PORT", 6334),
		QdrantUseTLS:     getEnv("QDRANT_USE_TLS", "false") == "true",
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "rag-chunks"),

		QueueNames: map[models.Modality]string{
			models.ModalityVideo:    getEnv("MMRAG_QUEUE_VIDEO", "video-jobs"),
			models.ModalityAudio:    getEnv("MMRAG_QUEUE_AUDIO", "audio-jobs"),
			models.ModalityDocument: getEnv("MMRAG_QUEUE_DOCUMENT", "document-jobs"),
			models.ModalityImage:    getEnv("MMRAG_QUEUE_IMAGE", "image-jobs"),
		},

		MaxConcurrent: getEnvInt("MMRAG_MAX_CONCURRENT", 3),
		Timeouts: map[models.Modality]time.Duration{
			models.ModalityVideo:    getEnvDuration("MMRAG_TIMEOUT_VIDEO", models.DefaultTimeouts[models.ModalityVideo]),
			models.ModalityAudio:    getEnvDuration("MMRAG_TIMEOUT_AUDIO", models.DefaultTimeouts[models.ModalityAudio]),
			models.ModalityDocument: getEnvDuration("MMRAG_TIMEOUT_DOCUMENT", models.DefaultTimeouts[models.ModalityDocument]),
			models.ModalityImage:    getEnvDuration("MMRAG_TIMEOUT_IMAGE", models.DefaultTimeouts[models.ModalityImage]),
		},
		TempDir:        getEnv("MMRAG_TEMP_DIR", "/tmp/processing"),
		FFmpegPath:     getEnv("MMRAG_FFMPEG", "ffmpeg"),
		SceneThreshold: getEnvFloat("MMRAG_SCENE_THRESHOLD", 0.4),
		MaxUploadBytes: int64(getEnvInt("MMRAG_MAX_UPLOAD_MB", 500)) << 20,

		ServerPort:      getEnv("MMRAG_SERVER_PORT", "8484"),
		ShutdownTimeout: getEnvDuration("MMRAG_SHUTDOWN_TIMEOUT", 30*time.Second),

		LogFile:  getEnv("MMRAG_LOG_FILE", filepath.Join(dataDir, "mmrag.log")),
		LogLevel: parseLogLevel(getEnv("MMRAG_LOG_LEVEL", "INFO")),
	}
}

// LoadDotEnv reads KEY=VALUE pairs from the given files (".env" when none)
// into the process environment. Existing variables are not overridden and
// missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a component.
func (c Config) Validate() error {
	var errs []error
	if c.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("MMRAG_MAX_CONCURRENT must be >= 1, got %d", c.MaxConcurrent))
	}
	if c.EmbedDimension != EmbeddingDimension {
		errs = append(errs, fmt.Errorf("MMRAG_EMBED_DIMENSION must be %d, got %d", EmbeddingDimension, c.EmbedDimension))
	}
	switch c.VectorBackend {
	case BackendSurreal, BackendQdrant, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown vector backend %q", c.VectorBackend))
	}
	switch c.StoreBackend {
	case BackendSurreal, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.StoreBackend))
	}
	switch c.QueueBackend {
	case BackendSurreal, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown queue backend %q", c.QueueBackend))
	}
	return errors.Join(errs...)
}

// QueueFor returns the queue a job of the given file type is published to.
func (c Config) QueueFor(ft models.FileType) string {
	if m, ok := ft.Modality(); ok {
		if name, ok := c.QueueNames[m]; ok {
			return name
		}
	}
	return DefaultQueueName
}

// AllQueues returns every queue a worker consumes, default queue last.
func (c Config) AllQueues() []string {
	names := make([]string, 0, len(models.AllModalities)+1)
	for _, m := range models.AllModalities {
		if name, ok := c.QueueNames[m]; ok {
			names = append(names, name)
		}
	}
	return append(names, DefaultQueueName)
}

// UsesSurreal reports whether any backend needs a SurrealDB connection.
func (c Config) UsesSurreal() bool {
	return c.VectorBackend == BackendSurreal || c.StoreBackend == BackendSurreal || c.QueueBackend == BackendSurreal
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(home, ".mmrag")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return v
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultVal
	}
	return v
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || v <= 0 {
		return defaultVal
	}
	return v
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
