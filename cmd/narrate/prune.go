package main

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/app"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/jobs"
)

var pruneDays int

var pruneCmd = &cobra.Command{
	Use:   "prune-events",
	Short: "Delete narration job events past the retention window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := app.LoadConfig()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return errors.New("prune-events needs DATABASE_URL; events are only kept in postgres")
		}
		days := cfg.EventRetentionDays
		if pruneDays > 0 {
			days = pruneDays
		}

		logger := log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
		a, err := app.New(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("init app: %w", err)
		}
		defer a.Close()

		job := jobs.NewEventRetentionJob(a.EventLog(), nil, nil, logger, time.Duration(days)*24*time.Hour, 0)
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d events\n", job.RunOnce(cmd.Context()))
		return nil
	},
}

func init() {
	pruneCmd.Flags().IntVar(&pruneDays, "days", 0, "retention in days, defaults to EVENT_RETENTION_DAYS")
	rootCmd.AddCommand(pruneCmd)
}
