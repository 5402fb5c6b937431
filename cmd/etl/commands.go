package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"GraderUsageETL/internal/app"
	"GraderUsageETL/internal/logger"
	"GraderUsageETL/internal/models"
	"GraderUsageETL/internal/storage"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const dashLine = "=================================================="

func (c *cli) runCmd() *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ETL job once",
		Long: `Extracts the window [start, end), validates and loads the attempts, exports
the statistics and sends notifications. Without --start/--end (or
START_DATE/END_DATE) the window continues from the last successful run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.Validate(); err != nil {
				return err
			}
			if start == "" {
				start = c.cfg.API.StartDate
			}
			if end == "" {
				end = c.cfg.API.EndDate
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c.log.Info(dashLine)
			c.cleanLogs(c.cfg.Logging.RetentionDays)

			a, err := app.New(ctx, c.cfg, c.log, c.logFile)
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := a.ResolveWindow(ctx, start, end)
			if err != nil {
				return err
			}

			run, err := a.Pipeline.Run(ctx, w)
			c.log.Info(dashLine)
			if err != nil {
				return err
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "window start, e.g. \"2023-04-01 12:00:00.000000\" (UTC)")
	cmd.Flags().StringVar(&end, "end", "", "window end (UTC)")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print aggregates of the attempts table",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.NewPostgresStore(c.cfg.DatabaseURL(), c.cfg.Database.Table, c.log)
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := store.TableStats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printTableStats(cmd.OutOrStdout(), store.Table(), st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (c *cli) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Test the database and run journal connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out := cmd.OutOrStdout()

			store, err := storage.NewPostgresStore(c.cfg.DatabaseURL(), c.cfg.Database.Table, c.log)
			if err != nil {
				return err
			}
			defer store.Close()

			version, err := store.Version(ctx)
			if err != nil {
				c.log.Error("database connection failed", zap.Error(err))
				return err
			}
			c.log.Info("database connection OK", zap.String("version", version))
			fmt.Fprintf(out, "PostgreSQL: %s\n", version)

			state, err := storage.NewStateStore(ctx, c.cfg.State.Path, c.log)
			if err != nil {
				return err
			}
			defer state.Close()

			last, err := state.LastSuccessful(ctx)
			if err != nil {
				return err
			}
			if last == nil {
				fmt.Fprintf(out, "Run journal: %s (no successful runs)\n", c.cfg.State.Path)
			} else {
				fmt.Fprintf(out, "Run journal: %s (last successful window ends %s)\n",
					c.cfg.State.Path, last.Window.End.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func (c *cli) cleanLogsCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "clean-logs",
		Short: "Delete daily log files older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("days") {
				days = c.cfg.Logging.RetentionDays
			}
			removed := c.cleanLogs(days)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d log file(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 3, "keep this many days of logs")
	return cmd
}

func (c *cli) cleanLogs(days int) int {
	removed, err := logger.CleanOldLogs(c.cfg.Logging.Dir, days, c.now())
	for _, path := range removed {
		c.log.Info("old log file deleted", zap.String("file", path))
	}
	if err != nil {
		c.log.Error("failed to clean old logs", zap.Error(err))
	}
	return len(removed)
}

func printRun(w io.Writer, run models.Run) {
	fmt.Fprintf(w, "run %s %s\n", run.ID, run.Status)
	fmt.Fprintf(w, "  window:    %s to %s\n",
		run.Window.Start.Format("2006-01-02 15:04:05"), run.Window.End.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  extracted: %s\n", humanize.Comma(int64(run.Extracted)))
	fmt.Fprintf(w, "  valid:     %s\n", humanize.Comma(int64(run.Valid)))
	fmt.Fprintf(w, "  inserted:  %s\n", humanize.Comma(run.Inserted))
	fmt.Fprintf(w, "  duration:  %s\n", run.Duration().Round(time.Millisecond))
}

func printTableStats(w io.Writer, table string, st models.TableStats) {
	fmt.Fprintf(w, "table %s\n", table)
	fmt.Fprintf(w, "  total records:      %s\n", humanize.Comma(st.TotalRecords))
	fmt.Fprintf(w, "  unique users:       %s\n", humanize.Comma(st.UniqueUsers))
	fmt.Fprintf(w, "  submit attempts:    %s\n", humanize.Comma(st.SubmitAttempts))
	fmt.Fprintf(w, "  run attempts:       %s\n", humanize.Comma(st.RunAttempts))
	fmt.Fprintf(w, "  correct attempts:   %s\n", humanize.Comma(st.CorrectAttempts))
	fmt.Fprintf(w, "  incorrect attempts: %s\n", humanize.Comma(st.IncorrectAttempts))
	if st.EarliestAttempt != nil && st.LatestAttempt != nil {
		fmt.Fprintf(w, "  range:              %s to %s\n",
			st.EarliestAttempt.Format("2006-01-02 15:04:05"),
			st.LatestAttempt.Format("2006-01-02 15:04:05"))
	}
}
