package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"xdigest/pkg/config"
	"xdigest/pkg/logger"
	"xdigest/pkg/ui"
)

var (
	version   = "0.1.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	configFile string
	logLevel   string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "xdigest",
	Short: "Daily digest of posts from the accounts an X handle follows",
	Long: `xdigest resolves the accounts an X (Twitter) handle follows, fetches their
posts through Apify, keeps the ones published today (UTC) and writes them into
a single text digest.

Follow sets are cached in a relational store, each user may request a limited
number of digests per UTC day, and finished digests can be delivered to
Discord or Telegram.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetNoColor(noColor)
	},
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.xdigest.yaml or ~/.config/xdigest/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.SetVersionTemplate(`xdigest {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// collectFlags returns the flags set on the command line, keyed the way
// config.MergeCommandLineFlags expects
func collectFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	if logLevel != "" {
		flags["log-level"] = logLevel
	}

	for _, name := range []string{"store-driver", "store-dsn", "digest-dir", "sink", "addr"} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			flags[name] = f.Value.String()
		}
	}
	for _, name := range []string{"max-followings", "max-posts", "concurrency"} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			if v, err := cmd.Flags().GetInt(name); err == nil {
				flags[name] = v
			}
		}
	}
	return flags
}

// loadConfig loads and validates configuration, then initializes the global logger
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, collectFlags(cmd))
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
