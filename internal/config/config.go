package config

import (
	"os"
	"strconv"
	"time"

	"family-custody/internal/models"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	LogLevel  string
	Port      string
	HTTP      HTTPConfig
	Kafka     KafkaConfig
	Database  DatabaseConfig
	Privy     PrivyConfig
	Chains    map[models.ChainName]ChainConfig
	SignerKey string // hex-encoded private key used for all chain writes
	Reconcile ReconcileConfig
}

// HTTPConfig holds HTTP server and client configuration
type HTTPConfig struct {
	Timeout time.Duration
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	BrokerAddress string
	Topic         string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// PrivyConfig holds wallet-provider API configuration
type PrivyConfig struct {
	AppID         string
	AppSecret     string
	BaseURL       string
	WebhookSecret string
	RateLimit     float64
}

// ChainConfig holds configuration for each blockchain
type ChainConfig struct {
	RpcEndpoint     string
	Contract        string
	ExplorerBaseURL string
}

// ReconcileConfig controls the verification reconciliation loop
type ReconcileConfig struct {
	LookbackBlocks uint64
	CheckInterval  time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Not fatal when absent, env vars might be set externally.
	_ = godotenv.Load()

	config := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnv("PORT", "3001"),
		HTTP: HTTPConfig{
			Timeout: time.Duration(getEnvAsInt("HTTP_TIMEOUT", 30)) * time.Second,
		},
		Kafka: KafkaConfig{
			BrokerAddress: getEnv("KAFKA_BROKER_ADDRESS", "localhost:9092"),
			Topic:         getEnv("KAFKA_TOPIC", "family-notifications"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "family_custody"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Privy: PrivyConfig{
			AppID:         getEnv("PRIVY_APP_ID", ""),
			AppSecret:     getEnv("PRIVY_APP_SECRET", ""),
			BaseURL:       getEnv("PRIVY_API_URL", "https://api.privy.io/v1"),
			WebhookSecret: getEnv("PRIVY_WEBHOOK_SECRET", ""),
			RateLimit:     getEnvAsFloat("PRIVY_RATE_LIMIT", 4),
		},
		SignerKey: getEnv("SIGNER_PRIVATE_KEY", ""),
		Reconcile: ReconcileConfig{
			LookbackBlocks: getEnvAsUint("VERIFICATION_LOOKBACK_BLOCKS", 5000),
			CheckInterval:  time.Duration(getEnvAsInt("CHECK_INTERVAL", 3600)) * time.Second,
		},
		Chains: make(map[models.ChainName]ChainConfig),
	}

	// Load chain configurations
	config.Chains[models.Base] = ChainConfig{
		RpcEndpoint:     getEnv("BASE_RPC_URL", "https://sepolia.base.org"),
		Contract:        getEnv("BASE_WALLET_REGISTRY", ""),
		ExplorerBaseURL: "https://sepolia.basescan.org/tx/",
	}

	config.Chains[models.Celo] = ChainConfig{
		RpcEndpoint:     getEnv("CELO_RPC_URL", "https://celo-sepolia-rpc.publicnode.com"),
		Contract:        getEnv("SCHOLAR_FI_VAULT", ""),
		ExplorerBaseURL: "https://celo-sepolia.blockscout.com/tx/",
	}

	config.Chains[models.Sapphire] = ChainConfig{
		RpcEndpoint:     getEnv("SAPPHIRE_TESTNET_RPC", "https://testnet.sapphire.oasis.io"),
		Contract:        getEnv("CHILD_DATA_STORE", ""),
		ExplorerBaseURL: "https://explorer.oasis.io/testnet/sapphire/tx/",
	}

	return config, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsUint gets an environment variable as uint64 or returns a default
// value. Negative or malformed values fall back to the default instead of
// wrapping.
func getEnvAsUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if uintValue, err := strconv.ParseUint(value, 10, 64); err == nil {
			return uintValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as float64 or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
