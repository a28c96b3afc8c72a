// Package cli implements the parlance command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

type ExitCode int

const (
	exitCodeSuccess ExitCode = 0
	exitCodeError   ExitCode = 1
)

// Run executes the command tree and returns the process exit code.
func Run() ExitCode {
	rootCmd := &cobra.Command{
		Use:   "parlance",
		Short: "Natural-language query workflows over the data catalog.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var verbose bool
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "set debug logging level")

	var catalogPath string
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "path to the catalog YAML file or directory (default $PARLANCE_CATALOG)")

	opts := &options{
		verbose:     &verbose,
		catalogPath: &catalogPath,
	}

	rootCmd.AddCommand(
		newSubmitCmd(opts),
		newResumeCmd(opts),
		newSessionsCmd(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeError
	}
	return exitCodeSuccess
}

// options carries persistent flag bindings into subcommands.
type options struct {
	verbose     *bool
	catalogPath *string
}

func (o *options) logger() *slog.Logger {
	level := slog.LevelInfo
	if *o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}
