package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"xdigest/internal/api"
	"xdigest/pkg/digest"
	"xdigest/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the digest HTTP API",
	Long: `Serve the HTTP API:

  POST /v1/digests             run a digest for {user_id, handle}
  GET  /v1/digests/:name       download a digest file
  GET  /v1/users/:id/quota     remaining runs today
  GET  /health                 store connectivity
  GET  /metrics                Prometheus metrics

Digests older than digest.max_age are removed every hour.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
	serveCmd.Flags().String("sink", "", "delivery sink (log, discord, telegram)")
	serveCmd.Flags().String("store-driver", "", "store driver (sqlite, postgres)")
	serveCmd.Flags().String("store-dsn", "", "store data source name")
	serveCmd.Flags().String("digest-dir", "", "directory digests are written to")
}

func runServe(cmd *cobra.Command, args []string) error {
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

	if cfg.Digest.MaxAge > 0 {
		go cleanupLoop(ctx, a.writer, cfg.Digest.MaxAge, time.Hour, log)
	}

	router := api.NewRouter(&api.Handler{
		Runner:    a.orchestrator,
		Quota:     a.gate,
		Artifacts: a.writer,
		DB:        a.store,
		Logger:    log,
	})
	return api.Serve(ctx, cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, router, log)
}

// cleanupLoop removes stale digests once at start and then every interval until ctx is done
func cleanupLoop(ctx context.Context, w *digest.Writer, maxAge, interval time.Duration, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		removed, err := w.Cleanup(maxAge, time.Now())
		if err != nil {
			log.WithError(err).Warn("Digest cleanup failed")
		} else if removed > 0 {
			log.WithField("removed", removed).Info("Stale digests removed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
