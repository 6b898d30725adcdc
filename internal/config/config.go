package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	DBSource      string
	Port          string
	Env           string
	FaucetAmount  int64
	MinWithdrawal int64
	RetryAttempts int
	AuditSchedule string
}

// Load reads configuration from a .env file when present and from the
// environment, environment winning. DB_SOURCE is the only required key.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	// Missing .env is fine; the environment alone can carry everything.
	_ = viper.ReadInConfig()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("COIN_FAUCET_AMOUNT", 10)
	viper.SetDefault("MIN_WITHDRAWAL_AMOUNT", 100)
	viper.SetDefault("TX_RETRY_ATTEMPTS", 3)
	viper.SetDefault("AUDIT_SCHEDULE", "@hourly")

	cfg := &Config{
		DBSource:      viper.GetString("DB_SOURCE"),
		Port:          viper.GetString("SERVER_PORT"),
		Env:           viper.GetString("ENVIRONMENT"),
		FaucetAmount:  viper.GetInt64("COIN_FAUCET_AMOUNT"),
		MinWithdrawal: viper.GetInt64("MIN_WITHDRAWAL_AMOUNT"),
		RetryAttempts: viper.GetInt("TX_RETRY_ATTEMPTS"),
		AuditSchedule: viper.GetString("AUDIT_SCHEDULE"),
	}
	if cfg.DBSource == "" {
		return nil, fmt.Errorf("DB_SOURCE is required")
	}
	if cfg.FaucetAmount <= 0 {
		return nil, fmt.Errorf("COIN_FAUCET_AMOUNT must be positive, got %d", cfg.FaucetAmount)
	}
	if cfg.MinWithdrawal <= 0 {
		return nil, fmt.Errorf("MIN_WITHDRAWAL_AMOUNT must be positive, got %d", cfg.MinWithdrawal)
	}
	return cfg, nil
}
