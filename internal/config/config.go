// Package config загружает конфигурацию сервиса из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры,
// перед этим подхватывается .env (если он есть) через godotenv.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Драйверы хранилища.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Database ---
	// В Docker дефолт "postgres" (имя сервиса в docker-compose), для локалки DB_HOST=localhost.
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"postgres"`
	DBHost        string `envconfig:"DB_HOST" default:"postgres"`
	DBPort        int    `envconfig:"DB_PORT" default:"5432"`
	DBUser        string `envconfig:"DB_USER" default:"staking"`
	DBPassword    string `envconfig:"DB_PASSWORD"`
	DBName        string `envconfig:"DB_NAME" default:"staking"`
	DBSSLMode     string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns    int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns    int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	// Календарные дни начислений считаются в этом поясе
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- HTTP ---
	HTTPAddr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	HTTPShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
	// Общий секрет с API-шлюзом; шлюз подставляет X-User-ID
	GatewayToken string `envconfig:"GATEWAY_TOKEN" required:"true"`

	// --- Admin ---
	// argon2id-хэш ключа администратора (scripts/generate_hash.go)
	AdminKeyHash string `envconfig:"ADMIN_KEY_HASH" required:"true"`

	// --- Telegram ---
	// Пустой токен = уведомления только в лог
	TelegramBotToken        string `envconfig:"TELEGRAM_BOT_TOKEN"`
	BotMaxInflight          int    `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	BotUpdateTimeoutSeconds int    `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Notifications ---
	NotifyQueueSize int           `envconfig:"NOTIFY_QUEUE_SIZE" default:"256"`
	NotifyTimeout   time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"5s"`

	// --- Staking ---
	StakeDailyRateRaw   string          `envconfig:"STAKE_DAILY_RATE" default:"0.01"`
	StakeDailyRate      decimal.Decimal `envconfig:"-"`
	StakeLockPeriodsRaw string          `envconfig:"STAKE_LOCK_PERIODS" default:"30,60,90,180,365,730,1095,1460,1825"`
	StakeLockPeriods    []int           `envconfig:"-"`
	StakeRelockGrace    time.Duration   `envconfig:"STAKE_RELOCK_GRACE" default:"48h"`

	// --- Commissions ---
	CommissionRatesRaw    string            `envconfig:"COMMISSION_RATES" default:"0.10,0.05,0.02"`
	CommissionRates       []decimal.Decimal `envconfig:"-"`
	CommissionMaxAttempts int               `envconfig:"COMMISSION_MAX_ATTEMPTS" default:"10"`

	// --- Sweeps ---
	SweepBatchSize   int    `envconfig:"SWEEP_BATCH_SIZE" default:"200"`
	SweepMaxPerRun   int    `envconfig:"SWEEP_MAX_PER_RUN" default:"10000"`
	SchedulerEnabled bool   `envconfig:"SCHEDULER_ENABLED" default:"true"`
	CronAccrual      string `envconfig:"CRON_ACCRUAL" default:"5 0 * * *"`
	CronUnlock       string `envconfig:"CRON_UNLOCK" default:"*/10 * * * *"`
	CronRelock       string `envconfig:"CRON_RELOCK" default:"*/10 * * * *"`
	CronCommissions  string `envconfig:"CRON_COMMISSIONS" default:"* * * * *"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// Validate проверяет согласованность значений после разбора.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StoragePostgres:
		if c.DBPassword == "" {
			return errors.New("DB_PASSWORD обязателен для STORAGE_DRIVER=postgres")
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return errors.New("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("неизвестный STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.BotMaxInflight <= 0 {
		return errors.New("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return errors.New("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
	}
	if c.NotifyQueueSize <= 0 || c.NotifyTimeout <= 0 {
		return errors.New("NOTIFY_QUEUE_SIZE и NOTIFY_TIMEOUT должны быть > 0")
	}
	if !c.StakeDailyRate.IsPositive() {
		return errors.New("STAKE_DAILY_RATE должен быть > 0")
	}
	if len(c.StakeLockPeriods) == 0 {
		return errors.New("STAKE_LOCK_PERIODS пуст")
	}
	for _, p := range c.StakeLockPeriods {
		if p <= 0 {
			return fmt.Errorf("STAKE_LOCK_PERIODS: срок %d должен быть > 0", p)
		}
	}
	if c.StakeRelockGrace < 0 {
		return errors.New("STAKE_RELOCK_GRACE не может быть отрицательным")
	}
	if len(c.CommissionRates) == 0 || len(c.CommissionRates) > 3 {
		return errors.New("COMMISSION_RATES: от одного до трёх уровней")
	}
	for _, r := range c.CommissionRates {
		if r.IsNegative() || r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("COMMISSION_RATES: ставка %s вне [0, 1)", r)
		}
	}
	if c.CommissionMaxAttempts <= 0 {
		return errors.New("COMMISSION_MAX_ATTEMPTS должен быть > 0")
	}
	if c.SweepBatchSize <= 0 || c.SweepMaxPerRun < c.SweepBatchSize {
		return errors.New("некорректные SWEEP_BATCH_SIZE/SWEEP_MAX_PER_RUN")
	}
	return nil
}

// Load подхватывает .env, читает переменные окружения и заполняет Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("не удалось прочитать .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}
	if err := cfg.parseRaw(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// parseRaw разбирает строковые списки и ставки, которые envconfig не умеет.
func (c *Config) parseRaw() error {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.StakeDailyRateRaw))
	if err != nil {
		return fmt.Errorf("STAKE_DAILY_RATE parse: %w", err)
	}
	c.StakeDailyRate = rate

	periods, err := parseIntCSV(c.StakeLockPeriodsRaw)
	if err != nil {
		return fmt.Errorf("STAKE_LOCK_PERIODS parse: %w", err)
	}
	c.StakeLockPeriods = periods

	rates, err := parseDecimalCSV(c.CommissionRatesRaw)
	if err != nil {
		return fmt.Errorf("COMMISSION_RATES parse: %w", err)
	}
	c.CommissionRates = rates
	return nil
}

func parseIntCSV(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad int %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseDecimalCSV(s string) ([]decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]decimal.Decimal, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := decimal.NewFromString(p)
		if err != nil {
			return nil, fmt.Errorf("bad decimal %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
