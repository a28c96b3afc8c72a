package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/parlance-data/parlance/pkg/metrics"
	"github.com/parlance-data/parlance/pkg/session"
)

func newSessionsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and maintain stored sessions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newSessionsListCmd(opts), newSessionsSweepCmd(opts))
	return cmd
}

func newSessionsListCmd(opts *options) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := opts.logger()
			store, closeStore, err := opts.openStore(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer closeStore()

			summaries, err := store.List(cmd.Context(), session.Status(status), limit)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			for _, s := range summaries {
				fmt.Printf("%s  %-20s  %s  %s\n",
					s.ID, s.Status, s.LastUpdated.Format(time.RFC3339), s.Request)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, completed, failed, interrupted, awaiting_correction)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of sessions to show (0 = all)")
	return cmd
}

func newSessionsSweepCmd(opts *options) *cobra.Command {
	var completedAge, failedAge time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete terminal sessions older than the retention ages.",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := opts.logger()
			store, closeStore, err := opts.openStore(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer closeStore()

			removed, err := store.Sweep(cmd.Context(), session.RetentionPolicy{
				CompletedAge: completedAge,
				FailedAge:    failedAge,
			})
			if err != nil {
				return err
			}
			metrics.SessionsSwept.Add(float64(removed))
			fmt.Printf("removed %d session(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&completedAge, "completed-age", 7*24*time.Hour, "delete completed sessions older than this")
	cmd.Flags().DurationVar(&failedAge, "failed-age", 30*24*time.Hour, "delete failed sessions older than this")
	return cmd
}
