package config

import (
	"os"
	"strconv"

	"github.com/mkatche/chatflow/internal/ai"
)

type Config struct {
	Mode     string
	HTTPAddr string

	// Storage. DB_DRIVER selects mysql or sqlite; DB_DSN is the matching DSN.
	DBDriver string
	DBDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RabbitURL   string
	RabbitQueue string

	// Optional bearer auth for the HTTP API. Empty disables it.
	JWTSecret string

	// Encrypted provider credentials at rest.
	CredentialsFile string
	SecretKeyFile   string
}

func Load() Config {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = "chatflow.db"
	}

	driver := os.Getenv("DB_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	rabbitQueue := os.Getenv("RABBIT_QUEUE")
	if rabbitQueue == "" {
		rabbitQueue = "chat_history_sync"
	}

	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	credFile := os.Getenv("CREDENTIALS_FILE")
	if credFile == "" {
		credFile = "credentials.json"
	}
	keyFile := os.Getenv("SECRET_KEY_FILE")
	if keyFile == "" {
		keyFile = "credentials.key"
	}

	return Config{
		Mode:     os.Getenv("MODE"),
		HTTPAddr: httpAddr,

		DBDriver: driver,
		DBDSN:    dsn,

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: rabbitQueue,

		JWTSecret: os.Getenv("JWT_SECRET"),

		CredentialsFile: credFile,
		SecretKeyFile:   keyFile,
	}
}

// Source hands out provider settings for a single channel open. Snapshot is
// called again on every open so a credential or model change takes effect on
// the next turn without restarting the session.
type Source interface {
	Snapshot() ai.Settings
}

// EnvSource reads provider settings from the environment on every Snapshot,
// falling back to an encrypted credentials file for key material.
type EnvSource struct {
	creds *Credentials
}

// NewEnvSource builds a source backed by env vars. creds may be nil when no
// credentials file is in use.
func NewEnvSource(creds *Credentials) *EnvSource {
	return &EnvSource{creds: creds}
}

func (s *EnvSource) Snapshot() ai.Settings {
	set := ai.Settings{
		Provider: ai.ProviderID(getenv("AI_PROVIDER", string(ai.ProviderOpenAI))),
		OpenAI: ai.OpenAISettings{
			BaseURL:     getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      os.Getenv("OPENAI_API_KEY"),
			Model:       getenv("OPENAI_MODEL", "gpt-3.5-turbo"),
			Temperature: getenvFloat("OPENAI_TEMPERATURE", 0.6),
		},
		Spark: ai.SparkSettings{
			URL:         getenv("SPARK_WS_URL", "wss://spark-api.xf-yun.com/v2.1/chat"),
			AppID:       os.Getenv("SPARK_APP_ID"),
			APIKey:      os.Getenv("SPARK_API_KEY"),
			APISecret:   os.Getenv("SPARK_API_SECRET"),
			Temperature: getenvFloat("SPARK_TEMPERATURE", 0.5),
		},
	}
	if s.creds != nil {
		if set.OpenAI.APIKey == "" {
			set.OpenAI.APIKey = s.creds.OpenAIAPIKey
		}
		if set.Spark.AppID == "" {
			set.Spark.AppID = s.creds.SparkAppID
		}
		if set.Spark.APIKey == "" {
			set.Spark.APIKey = s.creds.SparkAPIKey
		}
		if set.Spark.APISecret == "" {
			set.Spark.APISecret = s.creds.SparkAPISecret
		}
	}
	return set
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvFloat(key string, def float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return def
}
