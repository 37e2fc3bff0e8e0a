package main

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// appKeyType is the key for storing the app in the command context.
type appKeyType struct{}

type rootOptions struct {
	configPath string
	statusAddr string

	// built is set once PersistentPreRunE has constructed the app.
	built *app
}

// execute runs the CLI with args and releases everything the command built,
// whether or not it succeeded.
func execute(ctx context.Context, args []string, out io.Writer) error {
	opts := &rootOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	err := cmd.ExecuteContext(ctx)
	if opts.built != nil {
		err = errors.CombineErrors(err, opts.built.close())
	}
	return err
}

// newRootCmd creates and configures the root command.
func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipelinectl",
		Short: "Drive remote crawl, embed and index pipelines.",
		Long: `pipelinectl starts crawl -> embed -> index pipelines on a RAG backend and
streams their step-level progress. Identical concurrent requests share one
run, and every connection is cleaned up on success, failure, timeout or
interrupt.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the app after flags are parsed and before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return errors.Wrap(err, "initialize application")
			}
			opts.built = a
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, a))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.statusAddr, "status-addr", "", "serve the status API on this address while running")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newClientIDCmd())
	return cmd
}

func appFrom(cmd *cobra.Command) *app {
	a, _ := cmd.Context().Value(appKeyType{}).(*app)
	return a
}
