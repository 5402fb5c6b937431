package main

import (
	"fmt"
	"os"
	"time"

	"GraderUsageETL/internal/config"
	"GraderUsageETL/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cli holds what PersistentPreRunE prepares for the subcommands.
type cli struct {
	configPath string
	logLevel   string

	cfg      *config.Config
	log      *zap.Logger
	logFile  string
	closeLog func()
	now      func() time.Time
}

func newRootCmd() *cobra.Command {
	c := &cli{now: time.Now}

	root := &cobra.Command{
		Use:   "etl",
		Short: "Grader usage ETL",
		Long: `Extracts grader attempts from the grader API, validates them, loads them
into PostgreSQL and reports run statistics to Google Sheets, e-mail and
message brokers.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			if c.logLevel != "" {
				cfg.Logging.Level = c.logLevel
			}
			c.cfg = cfg

			log, closeLog, err := logger.New(logger.Options{Dir: cfg.Logging.Dir, Level: cfg.Logging.Level, Now: c.now})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			c.log = log
			c.closeLog = closeLog
			c.logFile = logger.LogFilePath(cfg.Logging.Dir, c.now())
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.closeLog != nil {
				c.closeLog()
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "config/etl.yaml", "path to the YAML configuration")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "file log level (debug, info, warn, error)")

	root.AddCommand(
		c.runCmd(),
		c.statsCmd(),
		c.checkCmd(),
		c.cleanLogsCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
