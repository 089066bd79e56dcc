package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/liamcoop/courseaudit/auditrun"
)

func newSweepCmd(c *cli) *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired audit runs and their tours",
		Long: `Run one retention pass: audit runs older than the retention window are
deleted together with their results and guided tours. The default window is
AUDIT_RETENTION_DAYS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("retention") {
				retention = c.cfg.Retention
			}
			if retention <= 0 {
				return fmt.Errorf("retention must be positive, got %s", retention)
			}

			env, err := c.environment(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			deleted := auditrun.NewSweeper(env.Runs, env.Tours, retention, 0).Sweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d audit runs older than %s\n", deleted, retention)
			return nil
		},
	}

	cmd.Flags().DurationVar(&retention, "retention", 0, "Retention window, e.g. 720h (defaults to AUDIT_RETENTION_DAYS)")
	return cmd
}
