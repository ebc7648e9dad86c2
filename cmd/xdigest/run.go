package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"xdigest/pkg/logger"
	"xdigest/pkg/scraper"
	"xdigest/pkg/sink"
	"xdigest/pkg/ui"
)

var (
	runUserID        string
	runRecipient     string
	runMaxFollowings int
	runMaxPosts      int
	runConcurrency   int
)

var runCmd = &cobra.Command{
	Use:   "run <handle>",
	Short: "Build today's digest for the accounts a handle follows",
	Long: `Build a digest of today's posts (UTC) from every account the handle follows.

The run counts against the user's daily quota. The follow set is read from the
store when it is already known and scraped through Apify otherwise. Accounts
whose posts cannot be fetched are skipped.`,
	Example: `  # Digest for the accounts @jack follows
  xdigest run jack --user 42

  # Deliver the digest to a Telegram chat
  xdigest run jack --user 42 --sink telegram --recipient 123456789`,
	Args: cobra.ExactArgs(1),
	RunE: runDigest,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runUserID, "user", "u", "cli", "user the request is counted against")
	runCmd.Flags().StringVar(&runRecipient, "recipient", "", "chat or user id that receives the digest through the sink")
	runCmd.Flags().IntVar(&runMaxFollowings, "max-followings", 0, "maximum accounts scraped for an unknown handle")
	runCmd.Flags().IntVar(&runMaxPosts, "max-posts", 0, "maximum posts fetched per account")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "number of accounts fetched in parallel")
	runCmd.Flags().String("sink", "", "delivery sink (log, discord, telegram)")
	runCmd.Flags().String("store-driver", "", "store driver (sqlite, postgres)")
	runCmd.Flags().String("store-dsn", "", "store data source name")
	runCmd.Flags().String("digest-dir", "", "directory digests are written to")
}

func runDigest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, err := managerTokens()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, tokens, log)
	if err != nil {
		return err
	}
	defer a.Close()

	handle := args[0]
	ui.PrintInfo("Handle", handle)

	res, err := a.orchestrator.Run(ctx, scraper.RunRequest{
		UserID:             runUserID,
		Handle:             handle,
		MaxFollowings:      runMaxFollowings,
		MaxPostsPerAccount: runMaxPosts,
		Concurrency:        runConcurrency,
		Recipient:          runRecipient,
	})
	if res == nil {
		return err
	}

	printResult(handle, res)
	return err
}

func printResult(handle string, res *scraper.RunResult) {
	msg := sink.DocumentCaption
	if res.Outcome != scraper.OutcomeSuccess {
		msg = sink.Notice{Outcome: string(res.Outcome), Handle: handle}.Message()
	}
	ui.PrintOutcome(string(res.Outcome), msg)

	if res.Outcome == scraper.OutcomeQuotaExceeded {
		return
	}
	ui.PrintInfo("Source", string(res.Source))
	ui.PrintInfo("Accounts", fmt.Sprint(res.Accounts))
	ui.PrintInfo("Posts today", fmt.Sprint(res.Posts))
	if res.Degraded > 0 {
		ui.PrintWarning("Accounts skipped", res.Degraded)
	}
	if res.Artifact != "" {
		ui.PrintSuccess("Digest written to " + res.Artifact)
	}
	ui.PrintInfo("Remaining today", remainingText(res.Admission.Remaining()))
}

func remainingText(n int) string {
	if n < 0 {
		return "unlimited"
	}
	return fmt.Sprint(n)
}
