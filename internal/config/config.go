package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_cart/settlement-service/internal/repository"
	"github.com/joho/godotenv"
)

const (
	StorageMongo  = "mongo"
	StorageMemory = "memory"

	PaymentModeDemo  = "demo"
	PaymentModeAsync = "async"
)

type Config struct {
	HTTPPort string
	GRPCPort string
	LogLevel string

	// Storage selects the cart store. Orders go to Postgres whenever DB_HOST
	// is set and stay in memory otherwise.
	Storage     string
	MongoURI    string
	MongoDBName string
	Postgres    *repository.Credentials

	RedisAddr     string
	RedisPassword string

	CatalogDBPath  string
	CatalogTimeout time.Duration

	PaymentMode    string
	GatewayTimeout time.Duration
	Bank           BankConfig

	KafkaBrokers []string
	KafkaTopic   string

	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	CallbackTimeout time.Duration
}

type BankConfig struct {
	Name          string
	AccountName   string
	AccountNumber string
	ReceiptEmail  string
}

// Load reads the configuration from the environment, after loading a .env
// file from the working directory when one exists. Variables already set in
// the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		GRPCPort:      getEnv("GRPC_PORT", "50058"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Storage:       strings.ToLower(getEnv("STORAGE", StorageMongo)),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:   getEnv("MONGO_DB_NAME", "cartdb"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		CatalogDBPath: getEnv("CATALOG_DB_PATH", "catalog.db"),
		PaymentMode:   strings.ToLower(getEnv("PAYMENT_MODE", PaymentModeDemo)),
		KafkaBrokers:  listEnv("KAFKA_BROKERS"),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "order-settlement"),
		Bank: BankConfig{
			Name:          getEnv("BANK_NAME", "Equity Bank"),
			AccountName:   getEnv("BANK_ACCOUNT_NAME", "E-commerce Web App Inc."),
			AccountNumber: getEnv("BANK_ACCOUNT_NUMBER", "123-456-789012"),
			ReceiptEmail:  getEnv("BANK_RECEIPT_EMAIL", "payments@example.com"),
		},
	}

	switch cfg.Storage {
	case StorageMongo, StorageMemory:
	default:
		return nil, fmt.Errorf("STORAGE must be %q or %q, got %q", StorageMongo, StorageMemory, cfg.Storage)
	}
	switch cfg.PaymentMode {
	case PaymentModeDemo, PaymentModeAsync:
	default:
		return nil, fmt.Errorf("PAYMENT_MODE must be %q or %q, got %q", PaymentModeDemo, PaymentModeAsync, cfg.PaymentMode)
	}

	var err error
	if cfg.CatalogTimeout, err = durationEnv("CATALOG_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.GatewayTimeout, err = durationEnv("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = durationEnv("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = durationEnv("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.CallbackTimeout, err = durationEnv("CALLBACK_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if host := getEnv("DB_HOST", ""); host != "" {
		port, err := intEnv("DB_PORT", 5432)
		if err != nil {
			return nil, err
		}
		cfg.Postgres = &repository.Credentials{
			Host:     host,
			Port:     port,
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "orders"),
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func durationEnv(name string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("%s must be > 0", name)
	}
	return val, nil
}

func intEnv(name string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func listEnv(name string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
