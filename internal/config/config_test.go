package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	c := &Config{
		StorageDriver:           StorageMemory,
		DBMaxConns:              25,
		DBMinConns:              5,
		BotMaxInflight:          64,
		BotUpdateTimeoutSeconds: 60,
		NotifyQueueSize:         256,
		NotifyTimeout:           5 * time.Second,
		StakeDailyRateRaw:       "0.01",
		StakeLockPeriodsRaw:     "30, 60,90",
		StakeRelockGrace:        48 * time.Hour,
		CommissionRatesRaw:      "0.10,0.05,0.02",
		CommissionMaxAttempts:   10,
		SweepBatchSize:          200,
		SweepMaxPerRun:          10000,
	}
	if err := c.parseRaw(); err != nil {
		t.Fatalf("parseRaw: %v", err)
	}
	return c
}

func TestParseRaw(t *testing.T) {
	c := validConfig(t)
	if c.StakeDailyRate.String() != "0.01" {
		t.Fatalf("daily rate = %s", c.StakeDailyRate)
	}
	if len(c.StakeLockPeriods) != 3 || c.StakeLockPeriods[1] != 60 {
		t.Fatalf("lock periods = %v", c.StakeLockPeriods)
	}
	if len(c.CommissionRates) != 3 || c.CommissionRates[2].String() != "0.02" {
		t.Fatalf("rates = %v", c.CommissionRates)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}
}

func TestParseRawRejectsGarbage(t *testing.T) {
	c := &Config{StakeDailyRateRaw: "0.01", StakeLockPeriodsRaw: "30,abc", CommissionRatesRaw: "0.1"}
	if err := c.parseRaw(); err == nil || !strings.Contains(err.Error(), "STAKE_LOCK_PERIODS") {
		t.Fatalf("expected lock periods error, got %v", err)
	}
	c = &Config{StakeDailyRateRaw: "one percent", StakeLockPeriodsRaw: "30", CommissionRatesRaw: "0.1"}
	if err := c.parseRaw(); err == nil {
		t.Fatalf("expected daily rate error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"postgres without password", func(c *Config) { c.StorageDriver = StoragePostgres }},
		{"unknown driver", func(c *Config) { c.StorageDriver = "sqlite" }},
		{"zero rate", func(c *Config) { c.StakeDailyRate = c.StakeDailyRate.Sub(c.StakeDailyRate) }},
		{"negative lock period", func(c *Config) { c.StakeLockPeriods = []int{30, -1} }},
		{"four commission levels", func(c *Config) { c.CommissionRates = append(c.CommissionRates, c.CommissionRates[0]) }},
		{"rate above one", func(c *Config) {
			c.CommissionRatesRaw = "1.5"
			_ = c.parseRaw()
		}},
		{"batch larger than run", func(c *Config) { c.SweepMaxPerRun = 10 }},
		{"no attempts", func(c *Config) { c.CommissionMaxAttempts = 0 }},
	}
	for _, tc := range tests {
		c := validConfig(t)
		tc.mutate(c)
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestDatabaseDSN(t *testing.T) {
	c := &Config{DBUser: "u", DBPassword: "p", DBHost: "db", DBPort: 5432, DBName: "staking", DBSSLMode: "disable"}
	want := "postgres://u:p@db:5432/staking?sslmode=disable"
	if got := c.DatabaseDSN(); got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}
