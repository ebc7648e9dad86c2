package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"xdigest/internal/store"
	"xdigest/pkg/logger"
	"xdigest/pkg/ratelimit"
	"xdigest/pkg/ui"
)

var quotaDays int

var quotaCmd = &cobra.Command{
	Use:   "quota <user>",
	Short: "Show a user's remaining runs and recent usage",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuota,
}

func init() {
	rootCmd.AddCommand(quotaCmd)

	quotaCmd.Flags().IntVar(&quotaDays, "days", 7, "days of history to show (store backend only)")
	quotaCmd.Flags().String("store-driver", "", "store driver (sqlite, postgres)")
	quotaCmd.Flags().String("store-dsn", "", "store data source name")
}

func runQuota(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.GetLogger()
	ctx := context.Background()
	userID := args[0]

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, log)
	if err != nil {
		return err
	}
	defer st.Close()

	var requestLog ratelimit.RequestLog = st
	if cfg.Quota.Backend == "redis" {
		client, err := ratelimit.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer client.Close()
		requestLog = ratelimit.NewRedisRequestLog(client)
	}

	gate := ratelimit.NewGate(requestLog, cfg.Quota.DailyLimit)
	adm, err := gate.Admit(ctx, userID)
	if err != nil {
		return err
	}

	ui.PrintInfo("User", userID)
	ui.PrintInfo("Used today", fmt.Sprint(adm.Used))
	ui.PrintInfo("Remaining today", remainingText(adm.Remaining()))

	if cfg.Quota.Backend == "redis" || quotaDays <= 0 {
		return nil
	}

	days, err := st.RequestsByDay(ctx, userID, quotaDays)
	if err != nil {
		return err
	}
	ui.PrintHighlight("Requests per day (UTC)")
	for _, d := range days {
		ui.PrintInfo(d.Day.Format("2006-01-02"), fmt.Sprint(d.Count))
	}
	return nil
}
