// Package main — разовый запуск проходов из внешнего cron или вручную:
//
//	sweep accrue | unlock | relock | commissions | all
//
// Использует ту же конфигурацию и хранилище, что и сервер. Работает только
// с STORAGE_DRIVER=postgres: у отдельного процесса память пуста.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"serotonyl.ru/staking/internal/app"
	"serotonyl.ru/staking/internal/config"
	"serotonyl.ru/staking/internal/jobs"
)

const longHelp = `Разовый запуск проходов начисления, разблокировки, релока и комиссий.

Требует STORAGE_DRIVER=postgres: хранилище memory живёт внутри процесса сервера,
и отдельный запуск увидел бы пустую базу.`

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)

	var timeout time.Duration
	root := &cobra.Command{
		Use:          "sweep",
		Short:        "Разовый запуск проходов начисления, разблокировки, релока и комиссий",
		Long:         longHelp,
		SilenceUsage: true,
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "ограничение времени прохода")

	short := map[string]string{
		jobs.SweepAccrue:      "Начислить прибыль за пропущенные дни",
		jobs.SweepUnlock:      "Разблокировать созревшие стейки",
		jobs.SweepRelock:      "Продлить стейки с истёкшим окном вывода",
		jobs.SweepCommissions: "Разнести необработанные события комиссий",
		jobs.SweepAll:         "Все проходы по очереди",
	}
	for _, name := range append(append([]string{}, jobs.Names...), jobs.SweepAll) {
		root.AddCommand(newSweepCmd(name, short[name], &timeout))
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var errMemoryStorage = errors.New("sweep работает только с STORAGE_DRIVER=postgres: хранилище memory пусто в отдельном процессе")

// checkStorage отклоняет хранилище, которое не разделяется с сервером.
func checkStorage(cfg *config.Config) error {
	if cfg.StorageDriver == config.StorageMemory {
		return errMemoryStorage
	}
	return nil
}

func newSweepCmd(name, short string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := checkStorage(cfg); err != nil {
				return err
			}
			if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
				log.SetLevel(level)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, *timeout)
			defer cancel()

			application, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), cfg.NotifyTimeout*2)
				defer cancel()
				application.Close(closeCtx)
			}()

			reports, err := application.Runner.Run(ctx, name)
			for _, r := range reports {
				fmt.Fprintln(cmd.OutOrStdout(), r.String())
			}
			return err
		},
	}
}
