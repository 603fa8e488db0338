// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Identity bootstrap
	AdminKey string    // Admin API key, persisted on first boot if set
	ModSeeds []ModSeed // Moderator accounts upserted on every boot

	// Payment settings
	PaymentWallet    string // EVM address receiving on-chain payments
	BTCWallet        string // Bitcoin address receiving BTC payments
	LightningAddress string // Lightning address shown in payment info
	MempoolAPIURL    string // Block explorer API base for BTC verification

	// Optional EVM RPC overrides (network name -> RPC URL)
	RPCOverrides map[string]string

	// Anti-bot
	ChallengeRequired bool // Require a solved challenge for agent registration

	// Observability
	OTLPEndpoint string
}

// ModSeed is one moderator account seeded from the environment.
type ModSeed struct {
	Name string
	Key  string
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultPaymentWallet    = "0x92344eC25C7598D307B71a787D02B94c871a52ea"
	DefaultBTCWallet        = "bc1q39909zump058dnngjldelunf0plyzlqml2qm29"
	DefaultLightningAddress = "metatronscribe@coinos.io"
	DefaultMempoolAPIURL    = "https://mempool.space/api"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		AdminKey:          os.Getenv("ADMIN_KEY"),
		ModSeeds:          parseModSeeds(os.Getenv("MOD_KEYS")),
		PaymentWallet:     getEnv("PAYMENT_WALLET", DefaultPaymentWallet),
		BTCWallet:         getEnv("BTC_WALLET", DefaultBTCWallet),
		LightningAddress:  getEnv("LIGHTNING_ADDRESS", DefaultLightningAddress),
		MempoolAPIURL:     getEnv("MEMPOOL_API_URL", DefaultMempoolAPIURL),
		RPCOverrides:      parseRPCOverrides(os.Getenv("EVM_RPC_URLS")),
		ChallengeRequired: os.Getenv("CHALLENGE_REQUIRED") == "true",
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.PaymentWallet == "" {
		return fmt.Errorf("PAYMENT_WALLET is required")
	}
	if len(c.PaymentWallet) != 42 || !strings.HasPrefix(c.PaymentWallet, "0x") {
		return fmt.Errorf("PAYMENT_WALLET must be a 0x-prefixed EVM address")
	}
	if c.BTCWallet == "" {
		return fmt.Errorf("BTC_WALLET is required")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// parseModSeeds parses "name:key,name2:key2" into moderator seeds.
// Malformed entries are skipped.
func parseModSeeds(raw string) []ModSeed {
	if raw == "" {
		return nil
	}
	var seeds []ModSeed
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if name == "" || key == "" {
			continue
		}
		seeds = append(seeds, ModSeed{Name: name, Key: key})
	}
	return seeds
}

// parseRPCOverrides parses "network=url,network2=url2".
func parseRPCOverrides(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		network := strings.TrimSpace(parts[0])
		rpc := strings.TrimSpace(parts[1])
		if network == "" || rpc == "" {
			continue
		}
		out[network] = rpc
	}
	return out
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
