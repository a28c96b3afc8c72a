package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parlance-data/parlance/pkg/orchestrator"
)

func newSubmitCmd(opts *options) *cobra.Command {
	var generateOnly, asJSON bool

	cmd := &cobra.Command{
		Use:   "submit <request>",
		Short: "Process a natural-language request end to end.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, cleanup, err := opts.buildOrchestrator(cmd.Context(), generateOnly)
			if err != nil {
				return err
			}
			defer cleanup()

			outcome := orch.Submit(cmd.Context(), strings.Join(args, " "))
			return printOutcome(outcome, asJSON)
		},
	}

	cmd.Flags().BoolVar(&generateOnly, "generate-only", false, "stop after generating the statement, without validating or executing it")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	return cmd
}

func newResumeCmd(opts *options) *cobra.Command {
	var generateOnly, asJSON bool

	cmd := &cobra.Command{
		Use:   "resume <session-id> <correction>",
		Short: "Resume a paused session with a user correction.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, cleanup, err := opts.buildOrchestrator(cmd.Context(), generateOnly)
			if err != nil {
				return err
			}
			defer cleanup()

			outcome := orch.Resume(cmd.Context(), args[0], strings.Join(args[1:], " "))
			return printOutcome(outcome, asJSON)
		},
	}

	cmd.Flags().BoolVar(&generateOnly, "generate-only", false, "stop after generating the statement, without validating or executing it")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	return cmd
}

func printOutcome(outcome orchestrator.Outcome, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	}

	if outcome.Success {
		fmt.Println("Statement:")
		fmt.Println(outcome.Statement)
		if outcome.Result != nil {
			fmt.Printf("\nRows: %d (bytes scanned: %d)\n", outcome.Result.RowCount, outcome.Result.BytesScanned)
			fmt.Println("Columns: " + strings.Join(outcome.Result.Columns, " | "))
			for _, row := range outcome.Result.Rows {
				values := make([]string, len(outcome.Result.Columns))
				for i, col := range outcome.Result.Columns {
					values[i] = fmt.Sprintf("%v", row[col])
				}
				fmt.Println(strings.Join(values, " | "))
			}
		}
		fmt.Printf("\nSession: %s\n", outcome.SessionID)
		return nil
	}

	fmt.Printf("Request did not complete (%s): %s\n", outcome.ErrorKind, outcome.Message)
	if len(outcome.Options) > 0 {
		fmt.Println("\nOptions:")
		for i, opt := range outcome.Options {
			fmt.Printf("  %d. %s\n", i+1, opt.String())
		}
		fmt.Printf("\nResume with: parlance resume %s <correction>\n", outcome.SessionID)
	}
	if outcome.FailureSummary != nil && len(outcome.FailureSummary.Recommendations) > 0 {
		fmt.Println("\nRecommendations:")
		for _, rec := range outcome.FailureSummary.Recommendations {
			fmt.Println("  - " + rec)
		}
	}
	if outcome.SessionID != "" {
		fmt.Printf("\nSession: %s\n", outcome.SessionID)
	}
	return fmt.Errorf("%s", outcome.ErrorKind)
}
