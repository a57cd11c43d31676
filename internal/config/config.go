package config

import (
	"errors"
	"fmt"
	"strings"

	libconfig "creditgrid/libs/config"
)

// MemoryDSN selects the in-process store instead of postgres; meant for dev
// and test setups.
const MemoryDSN = "memory"

// Config defines the billing core configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"CREDITGRID_HTTP_PORT" default:"8090"`
	} `yaml:"http"`
	Database struct {
		DSN string `yaml:"dsn" env:"CREDITGRID_POSTGRES_DSN"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"CREDITGRID_REDIS_ADDR"`
		Password string `yaml:"password" env:"CREDITGRID_REDIS_PASSWORD"`
	} `yaml:"redis"`
	Broker struct {
		URL string `yaml:"url" env:"CREDITGRID_BROKER_URL"`
	} `yaml:"broker"`
	Identity struct {
		Secret string `yaml:"secret" env:"CREDITGRID_IDENTITY_SECRET"`
	} `yaml:"identity"`
	Billing struct {
		VATPercent           int    `yaml:"vat_percent" env:"CREDITGRID_VAT_PERCENT" default:"21"`
		TaxAccount           int64  `yaml:"tax_account" env:"CREDITGRID_TAX_ACCOUNT" default:"1"`
		HeartbeatToken       string `yaml:"heartbeat_token" env:"CREDITGRID_HEARTBEAT_TOKEN" default:"cron"`
		CreditQuota          string `yaml:"credit_quota" env:"CREDITGRID_CREDIT_QUOTA" default:"credits"`
		RefundQuota          string `yaml:"refund_quota" env:"CREDITGRID_REFUND_QUOTA" default:"credits"`
		SharePrice           int64  `yaml:"share_price" env:"CREDITGRID_SHARE_PRICE" default:"0"`
		SizePricePerKB       int64  `yaml:"size_price_per_kb" env:"CREDITGRID_SIZE_PRICE_PER_KB" default:"0"`
		TransactionTTL       int64  `yaml:"transaction_ttl_seconds" env:"CREDITGRID_TRANSACTION_TTL" default:"86400"`
		SweepIntervalSeconds int64  `yaml:"sweep_interval_seconds" env:"CREDITGRID_SWEEP_INTERVAL" default:"300"`
		CacheTTLSeconds      int64  `yaml:"cache_ttl_seconds" env:"CREDITGRID_CACHE_TTL" default:"60"`
	} `yaml:"billing"`
}

// Load configuration from file/env.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, errors.New("config: database dsn required")
	}
	if strings.TrimSpace(cfg.Identity.Secret) == "" {
		return nil, errors.New("config: identity secret required")
	}
	if cfg.Billing.TaxAccount == 0 {
		return nil, errors.New("config: tax account required")
	}
	return cfg, nil
}

// HTTPAddress returns :port style string.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8090"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// UseMemoryStore reports whether the in-process store was selected.
func (c *Config) UseMemoryStore() bool {
	return strings.TrimSpace(c.Database.DSN) == MemoryDSN
}
