package config

import (
	"time"

	"github.com/spf13/viper"
)

// SettlementConfig tunes the concurrency core: lease lengths, how long a
// caller may block waiting for exclusivity or an in-flight replay, and how
// long cached idempotent results live.
type SettlementConfig struct {
	LockTTL        time.Duration
	LockMaxWait    time.Duration
	IdempotencyTTL time.Duration
	ReplayWait     time.Duration
}

// LoadSettlementConfig returns settlement configuration with defaults.
func LoadSettlementConfig() *SettlementConfig {
	viper.SetDefault("settlement.lock_ttl", 10*time.Second)
	viper.SetDefault("settlement.lock_max_wait", 5*time.Second)
	viper.SetDefault("settlement.idempotency_ttl", 24*time.Hour)
	viper.SetDefault("settlement.replay_wait", 10*time.Second)

	return &SettlementConfig{
		LockTTL:        viper.GetDuration("settlement.lock_ttl"),
		LockMaxWait:    viper.GetDuration("settlement.lock_max_wait"),
		IdempotencyTTL: viper.GetDuration("settlement.idempotency_ttl"),
		ReplayWait:     viper.GetDuration("settlement.replay_wait"),
	}
}
