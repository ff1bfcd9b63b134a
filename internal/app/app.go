// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: выбирает хранилище, создаёт сервисы, раннер
// проходов, планировщик, HTTP API и (если задан токен) Telegram-бота.
package app

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/staking/internal/api"
	"serotonyl.ru/staking/internal/bot"
	"serotonyl.ru/staking/internal/common"
	"serotonyl.ru/staking/internal/config"
	"serotonyl.ru/staking/internal/db/memory"
	"serotonyl.ru/staking/internal/db/postgres"
	"serotonyl.ru/staking/internal/features/accounts"
	"serotonyl.ru/staking/internal/features/accrual"
	"serotonyl.ru/staking/internal/features/admin"
	"serotonyl.ru/staking/internal/features/lifecycle"
	"serotonyl.ru/staking/internal/features/referrals"
	"serotonyl.ru/staking/internal/features/stakes"
	"serotonyl.ru/staking/internal/jobs"
	"serotonyl.ru/staking/internal/middleware"
	"serotonyl.ru/staking/internal/notify"
)

// App содержит все компоненты приложения.
type App struct {
	Config   *config.Config
	Location *time.Location

	Accounts  *accounts.Service
	Stakes    *stakes.Service
	Referrals *referrals.Service
	Runner    *jobs.Runner
	Scheduler *jobs.Scheduler
	Notifier  *notify.Dispatcher
	HTTP      *api.Server
	Bot       *bot.Bot // nil без TELEGRAM_BOT_TOKEN

	pool        *pgxpool.Pool
	rateLimiter *middleware.RateLimiter
}

// stores — реализации хранилищ выбранного драйвера.
type stores struct {
	accounts  accounts.Store
	stakes    stakes.Store
	referrals referrals.Store
	attempts  admin.AttemptStore
	health    api.Pinger
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Location: common.LoadLocation(cfg.AppTimezone)}
	clock := common.SystemClock{}

	// === 1. Хранилище ===
	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	// === 2. Уведомления ===
	var sender notify.Sender = notify.LogSender{}
	var botAPI *tgbotapi.BotAPI
	if cfg.TelegramBotToken != "" {
		botAPI, err = bot.NewAPI(cfg.TelegramBotToken, cfg.AppEnv == "development")
		if err != nil {
			a.closeStores()
			return nil, err
		}
		sender = bot.NewSender(botAPI)
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN не задан, уведомления пишутся в лог")
	}
	// получатель определяется сервисом аккаунтов, который создаётся ниже
	var accountService *accounts.Service
	recipients := notify.RecipientsFunc(func(ctx context.Context, userID int64) (int64, error) {
		return accountService.ChatID(ctx, userID)
	})
	a.Notifier = notify.NewDispatcher(sender, recipients, cfg.NotifyQueueSize, cfg.NotifyTimeout)

	// === 3. Сервисы ===
	a.Referrals = referrals.NewService(st.referrals, cfg.CommissionRates, cfg.CommissionMaxAttempts, a.Notifier, clock)
	accountService = accounts.NewService(st.accounts, a.Referrals, a.Referrals, clock)
	a.Accounts = accountService

	policy := stakes.Policy{
		DailyRate:   cfg.StakeDailyRate,
		LockPeriods: cfg.StakeLockPeriods,
		RelockGrace: cfg.StakeRelockGrace,
	}
	a.Stakes = stakes.NewService(st.stakes, policy, a.Referrals, clock, a.Location)

	// === 4. Проходы ===
	engine := accrual.NewEngine(st.stakes, accrual.Config{
		DailyRate: cfg.StakeDailyRate,
		Location:  a.Location,
		BatchSize: cfg.SweepBatchSize,
		MaxPerRun: cfg.SweepMaxPerRun,
	})
	lifecycleService := lifecycle.NewService(st.stakes, engine, a.Notifier, lifecycle.Config{
		RelockGrace: cfg.StakeRelockGrace,
		Location:    a.Location,
		BatchSize:   cfg.SweepBatchSize,
		MaxPerRun:   cfg.SweepMaxPerRun,
	})
	a.Runner = jobs.NewRunner(engine, lifecycleService, a.Referrals, clock, cfg.SweepBatchSize)
	a.Scheduler = jobs.NewScheduler(a.Runner, jobs.Schedule{
		Accrual:     cfg.CronAccrual,
		Unlock:      cfg.CronUnlock,
		Relock:      cfg.CronRelock,
		Commissions: cfg.CronCommissions,
	}, a.Location)

	// === 5. HTTP API и бот ===
	a.rateLimiter = middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	a.HTTP = api.New(api.Options{
		GatewayToken: cfg.GatewayToken,
		RateLimiter:  a.rateLimiter,
	}, api.Services{
		Accounts:  a.Accounts,
		Stakes:    a.Stakes,
		Referrals: a.Referrals,
		Runner:    a.Runner,
		Admin:     admin.NewHandler(admin.NewService(st.attempts, cfg.AdminKeyHash, clock)),
		Health:    st.health,
	})
	if botAPI != nil {
		a.Bot = bot.New(botAPI, bot.Options{
			MaxInflight:   cfg.BotMaxInflight,
			UpdateTimeout: cfg.BotUpdateTimeoutSeconds,
			RateLimiter:   a.rateLimiter,
		}, a.Accounts, a.Stakes, a.Referrals)
	}

	a.Notifier.Start()
	return a, nil
}

func (a *App) openStores(ctx context.Context) (*stores, error) {
	switch a.Config.StorageDriver {
	case config.StorageMemory:
		log.Warn("STORAGE_DRIVER=memory: данные не переживут перезапуск")
		m := memory.New(nil)
		return &stores{accounts: m, stakes: m, referrals: m, attempts: m, health: m}, nil

	default:
		pool, err := postgres.NewPool(ctx, a.Config)
		if err != nil {
			return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
		}
		if err := postgres.RunMigrations(ctx, pool, migrations); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ошибка миграций: %w", err)
		}
		a.pool = pool
		return &stores{
			accounts:  accounts.NewRepository(pool),
			stakes:    stakes.NewRepository(pool),
			referrals: referrals.NewRepository(pool),
			attempts:  admin.NewRepository(pool),
			health:    pool,
		}, nil
	}
}

func (a *App) closeStores() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// Close дожидается отправки уведомлений и освобождает ресурсы.
func (a *App) Close(ctx context.Context) {
	if err := a.Notifier.Close(ctx); err != nil {
		log.WithError(err).Warn("Очередь уведомлений закрыта не полностью")
	}
	a.rateLimiter.Close()
	a.closeStores()
}
