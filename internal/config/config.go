package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Keys     APIKeys
	Ai       AIConfig
	Agent    AgentConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	AuditLogFilePath   string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	EventBus           string // "nats" or "memory"
}

type DatabaseConfig struct {
	Connection string
}

type APIKeys struct {
	GoogleGemini string
	JWTSecret    string
}

type AIConfig struct {
	OllamaBaseURL  string
	EmbeddingModel string
	LLMProvider    string // "ollama" or "gemini"
	LLMModel       string
}

// AgentConfig bounds the retrieval loop and the per-session arena.
type AgentConfig struct {
	MaxIterations     int
	TurnTimeout       time.Duration
	CallTimeout       time.Duration
	MaxArchivedChains int
	SessionTTL        time.Duration
	HistoryWindow     int
	DefaultPageSize   int
	AvailableApps     []string
	SearchBackend     string // "pgvector" or "memory"
	ToolsFile         string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			AuditLogFilePath:   getEnv("AUDIT_LOG_FILE_PATH", "logs/turns.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			EventBus:           getEnv("EVENT_BUS", "nats"),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Keys: APIKeys{
			GoogleGemini: getEnv("GOOGLE_GEMINI_API_KEY", ""),
			JWTSecret:    getEnv("JWT_SECRET", ""),
		},
		Ai: AIConfig{
			OllamaBaseURL:  getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			EmbeddingModel: getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			LLMProvider:    getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:       getEnv("LLM_MODEL", "llama3"),
		},
		Agent: AgentConfig{
			MaxIterations:     getEnvAsInt("AGENT_MAX_ITERATIONS", 5),
			TurnTimeout:       getEnvAsDuration("AGENT_TURN_TIMEOUT", 60*time.Second),
			CallTimeout:       getEnvAsDuration("AGENT_CALL_TIMEOUT", 15*time.Second),
			MaxArchivedChains: getEnvAsInt("AGENT_MAX_ARCHIVED_CHAINS", 8),
			SessionTTL:        getEnvAsDuration("AGENT_SESSION_TTL", time.Hour),
			HistoryWindow:     getEnvAsInt("AGENT_HISTORY_WINDOW", 10),
			DefaultPageSize:   getEnvAsInt("AGENT_DEFAULT_PAGE_SIZE", 10),
			AvailableApps:     getEnvAsList("AGENT_AVAILABLE_APPS", []string{"mail", "calendar", "filestore", "directory", "chat"}),
			SearchBackend:     getEnv("SEARCH_BACKEND", "pgvector"),
			ToolsFile:         getEnv("AGENT_TOOLS_FILE", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	strValue := strings.TrimSpace(getEnv(key, ""))
	if strValue == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(strValue, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
