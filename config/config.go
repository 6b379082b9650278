package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the monitoring daemon.
// Values come from environment variables with the defaults below;
// godotenv is loaded by main before this is read.
type Config struct {
	// Database
	DatabaseURL string

	// Dispatcher
	WorkerPoolSize   int
	CriticalDeadline time.Duration // per work unit, critical class
	DefaultDeadline  time.Duration // per work unit, other classes
	MaxRetries       int
	RetryBase        time.Duration
	RetryCap         time.Duration

	// Tick intervals per frequency class
	CriticalInterval time.Duration
	HighInterval     time.Duration
	MediumInterval   time.Duration
	DailyInterval    time.Duration

	// Alerting
	SuppressionWindow time.Duration
	NotifyRetryCap    int

	// Transports
	TelegramBotToken string
	TelegramChatID   string
	SlackWebhookURL  string

	// Upstream data sources
	RPCURLs     map[string]string // chain -> JSON-RPC endpoint
	SubgraphURL string            // DEX pool subgraph gateway
	QuoteAPIURL string            // off-chain historical price source
	QuoteAPIKey string
	ExplorerURL string // block explorer API for holder distributions
	ExplorerKey string

	LogLevel string
}

// Load reads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		WorkerPoolSize:   getEnvInt("WORKER_POOL_SIZE", 16),
		CriticalDeadline: getEnvDuration("CRITICAL_UNIT_DEADLINE_SEC", 30),
		DefaultDeadline:  getEnvDuration("DEFAULT_UNIT_DEADLINE_SEC", 60),
		MaxRetries:       getEnvInt("FETCH_MAX_RETRIES", 2),
		RetryBase:        time.Duration(getEnvInt("FETCH_RETRY_BASE_MS", 1000)) * time.Millisecond,
		RetryCap:         time.Duration(getEnvInt("FETCH_RETRY_CAP_MS", 8000)) * time.Millisecond,

		CriticalInterval: getEnvDuration("CRITICAL_INTERVAL_SEC", 300),
		HighInterval:     getEnvDuration("HIGH_INTERVAL_SEC", 1800),
		MediumInterval:   getEnvDuration("MEDIUM_INTERVAL_SEC", 21600),
		DailyInterval:    getEnvDuration("DAILY_INTERVAL_SEC", 86400),

		SuppressionWindow: time.Duration(getEnvInt("SUPPRESSION_WINDOW_MIN", 15)) * time.Minute,
		NotifyRetryCap:    getEnvInt("NOTIFY_RETRY_CAP", 5),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		SlackWebhookURL:  os.Getenv("SLACK_WEBHOOK_URL"),

		SubgraphURL: os.Getenv("SUBGRAPH_GATEWAY_URL"),
		QuoteAPIURL: getEnv("QUOTE_API_URL", "https://api.coingecko.com/api/v3"),
		QuoteAPIKey: os.Getenv("QUOTE_API_KEY"),
		ExplorerURL: getEnv("EXPLORER_API_URL", "https://api.etherscan.io/v2/api"),
		ExplorerKey: os.Getenv("EXPLORER_API_KEY"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	cfg.RPCURLs = loadRPCURLs()
	return cfg
}

// UnitDeadline returns the per-work-unit deadline for a frequency class name.
func (c *Config) UnitDeadline(class string) time.Duration {
	if class == "critical" {
		return c.CriticalDeadline
	}
	return c.DefaultDeadline
}

func loadRPCURLs() map[string]string {
	urls := make(map[string]string)
	for _, chain := range []string{"ethereum", "base", "arbitrum", "optimism", "polygon", "solana"} {
		if url := os.Getenv(envKeyForChain(chain)); url != "" {
			urls[chain] = url
		}
	}
	return urls
}

func envKeyForChain(chain string) string {
	switch chain {
	case "ethereum":
		return "ETHEREUM_RPC_URL"
	case "base":
		return "BASE_RPC_URL"
	case "arbitrum":
		return "ARBITRUM_RPC_URL"
	case "optimism":
		return "OPTIMISM_RPC_URL"
	case "polygon":
		return "POLYGON_RPC_URL"
	case "solana":
		return "SOLANA_RPC_URL"
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallbackSec int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackSec)) * time.Second
}
