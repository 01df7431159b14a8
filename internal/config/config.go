package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/wgomg/pulsegen/internal/utils"
)

type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

type AppConfig struct {
	Env                Environment
	LogLevel           string
	LogFormat          string
	ServerPort         string
	RawBodyLog         bool
	HttpTimeoutSeconds int
	CORSOrigins        []string
}

// BackendConfig is one entry of the ranked model list.
type BackendConfig struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	Model string `yaml:"model"`
}

type LlmConfig struct {
	URL                string
	Token              string
	Models             []string
	ModelsFile         string
	Temperature        float64
	MaxTokens          int
	CallTimeoutSeconds int
	Backends           []BackendConfig
}

type PythonConfig struct {
	ConfigDir              string
	ProcessShutdownTimeout int
	ProcessKillTimeout     int
}

type SemanticConfig struct {
	Backend     string
	Model       string
	URL         string
	Token       string
	TimeoutMs   int
	WorkerCount int
	Cache       string
	RedisAddr   string
	RedisPrefix string
	Python      PythonConfig
}

type TaxonomyConfig struct {
	File                string
	SimilarityThreshold float64
}

type PipelineConfig struct {
	ChunkSize          int
	MinContentChars    int
	ExtractConcurrency int
}

type FeedbackConfig struct {
	URL   string
	Token string
	Dir   string
}

type Config struct {
	App      AppConfig
	Llm      LlmConfig
	Semantic SemanticConfig
	Taxonomy TaxonomyConfig
	Pipeline PipelineConfig
	Feedback FeedbackConfig
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	appEnv := getEnv("APP_ENV", "development")
	env := parseEnvironment(appEnv)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	defaultPythonDir := filepath.Join(homeDir, ".config", "pulsegen")

	cfg := &Config{
		App: AppConfig{
			Env:                env,
			LogLevel:           getLogLevel(env),
			LogFormat:          getLogFormat(env),
			ServerPort:         getEnv("APP_SERVER_PORT", "8000"),
			RawBodyLog:         getEnvBool("APP_RAW_BODY_LOG", false),
			HttpTimeoutSeconds: getEnvInt("APP_HTTP_TIMEOUT_SECONDS", 30),
			CORSOrigins:        getEnvList("APP_CORS_ORIGINS", []string{"*"}),
		},
		Llm: LlmConfig{
			URL:                getEnv("LLM_URL", "https://api.groq.com/openai/v1/chat/completions"),
			Token:              getEnv("LLM_TOKEN", os.Getenv("GROQ_API_KEY")),
			Models:             getEnvList("LLM_MODELS", []string{"llama-3.1-70b-versatile"}),
			ModelsFile:         getEnv("LLM_MODELS_FILE", ""),
			Temperature:        getEnvFloat("LLM_TEMPERATURE", 0.0),
			MaxTokens:          getEnvInt("LLM_MAX_TOKENS", 1024),
			CallTimeoutSeconds: getEnvInt("LLM_CALL_TIMEOUT_SECONDS", 60),
		},
		Semantic: SemanticConfig{
			Backend:     strings.ToLower(getEnv("SEMANTIC_BACKEND", "python")),
			Model:       getEnv("SEMANTIC_MODEL_NAME", "all-MiniLM-L6-v2"),
			URL:         getEnv("SEMANTIC_URL", ""),
			Token:       getEnv("SEMANTIC_TOKEN", ""),
			TimeoutMs:   getEnvInt("SEMANTIC_TIMEOUT_MS", 10000),
			WorkerCount: getEnvInt("SEMANTIC_WORKER_COUNT", calculateDefaultWorkerCount()),
			Cache:       strings.ToLower(getEnv("SEMANTIC_CACHE", "memory")),
			RedisAddr:   getEnv("REDIS_ADDR", ""),
			RedisPrefix: getEnv("REDIS_PREFIX", "pulsegen:emb:"),
			Python: PythonConfig{
				ConfigDir:              getEnv("SEMANTIC_PYTHON_CONFIG_DIR", defaultPythonDir),
				ProcessShutdownTimeout: getEnvInt("SEMANTIC_PYTHON_PROCESS_SHUTDOWN_TIMEOUT", 5),
				ProcessKillTimeout:     getEnvInt("SEMANTIC_PYTHON_PROCESS_KILL_TIMEOUT", 2),
			},
		},
		Taxonomy: TaxonomyConfig{
			File:                getEnv("TAXONOMY_FILE", "taxonomy.json"),
			SimilarityThreshold: getEnvFloat("TAXONOMY_SIMILARITY_THRESHOLD", 0.78),
		},
		Pipeline: PipelineConfig{
			ChunkSize:          getEnvInt("PIPELINE_CHUNK_SIZE", 20),
			MinContentChars:    getEnvInt("PIPELINE_MIN_CONTENT_CHARS", 4),
			ExtractConcurrency: getEnvInt("PIPELINE_EXTRACT_CONCURRENCY", 1),
		},
		Feedback: FeedbackConfig{
			URL:   getEnv("FEEDBACK_URL", ""),
			Token: getEnv("FEEDBACK_TOKEN", ""),
			Dir:   getEnv("FEEDBACK_DIR", ""),
		},
	}

	backends, err := loadBackends(&cfg.Llm)
	if err != nil {
		return cfg, err
	}
	cfg.Llm.Backends = backends

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Llm.Backends) == 0 {
		return fmt.Errorf("at least one LLM backend is required (LLM_MODELS or LLM_MODELS_FILE)")
	}
	for _, b := range c.Llm.Backends {
		if b.URL == "" || b.Token == "" {
			return fmt.Errorf("LLM backend %q: url and token are required", b.Name)
		}
	}
	if c.Feedback.URL == "" && c.Feedback.Dir == "" {
		return fmt.Errorf("FEEDBACK_URL or FEEDBACK_DIR is required")
	}
	switch c.Semantic.Backend {
	case "python":
	case "http":
		if c.Semantic.URL == "" {
			return fmt.Errorf("SEMANTIC_URL is required for the http embedding backend")
		}
	default:
		return fmt.Errorf("unsupported SEMANTIC_BACKEND %q", c.Semantic.Backend)
	}
	if c.Semantic.Cache == "redis" && c.Semantic.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required when SEMANTIC_CACHE=redis")
	}
	if c.Taxonomy.SimilarityThreshold < -1 || c.Taxonomy.SimilarityThreshold > 1 {
		return fmt.Errorf("TAXONOMY_SIMILARITY_THRESHOLD must be within [-1, 1]")
	}
	if c.Pipeline.ChunkSize < 1 {
		return fmt.Errorf("PIPELINE_CHUNK_SIZE must be positive")
	}
	return nil
}

func parseEnvironment(envStr string) Environment {
	env := Environment(strings.ToLower(envStr))

	switch env {
	case Development, Production:
		return env
	default:
		return Development
	}
}

func calculateDefaultWorkerCount() int {
	// all-MiniLM-L6-v2 is ~90MB per worker; two workers cover a sequential pipeline
	return min(max(runtime.NumCPU()/2, 1), 2)
}

func getLogLevel(env Environment) string {
	if env == Production {
		return getEnv("APP_LOG_LEVEL", "info")
	}

	return getEnv("APP_LOG_LEVEL", "debug")
}

func getLogFormat(env Environment) string {
	if env == Production {
		return getEnv("APP_LOG_FORMAT", "json")
	}

	return getEnv("APP_LOG_FORMAT", "console")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value == "true" {
		return true
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	out := utils.SplitList(value)
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
