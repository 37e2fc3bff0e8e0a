package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/rag-pipeline-client/internal/orchestrator"
	"github.com/JakeFAU/rag-pipeline-client/internal/pipeline"
)

type runFlags struct {
	maxDepth int
	timeout  time.Duration
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.maxDepth, "max-depth", 0, "maximum crawl depth, clamped to 50..1000 (default from config)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "per-connection timeout (default from config)")
}

func (f *runFlags) depth(a *app) int {
	if f.maxDepth == 0 {
		return pipeline.ClampDepth(a.cfg.Pipeline.DefaultMaxDepth)
	}
	return pipeline.ClampDepth(f.maxDepth)
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <url>",
		Short: "Run the public pipeline for a URL.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			return watch(cmd, a, func(ctx context.Context, onStep pipeline.StepFunc) (pipeline.Result, error) {
				return a.orch.RunPipeline(ctx, pipelineRequest(args[0], flags, a), onStep)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

// watch runs fn, printing each step state, and abandons every run when the
// command context ends.
func watch(
	cmd *cobra.Command,
	a *app,
	fn func(ctx context.Context, onStep pipeline.StepFunc) (pipeline.Result, error),
) error {
	ctx := cmd.Context()
	stop := context.AfterFunc(ctx, func() {
		a.logger.Info("interrupted, closing pipeline connections")
		a.orch.CloseAll()
	})
	defer stop()

	out := cmd.OutOrStdout()
	result, err := fn(ctx, func(evt pipeline.ProgressEvent) {
		printState(out, evt)
	})
	if err != nil {
		return errors.Wrapf(err, "pipeline %s", pipeline.KindOf(err))
	}
	fmt.Fprintf(out, "completed steps: %v\n", result.Steps())
	return nil
}

func printState(out io.Writer, evt pipeline.ProgressEvent) {
	fmt.Fprintln(out, pipeline.DescribeState(evt).String())
}

func pipelineRequest(target string, f *runFlags, a *app) orchestrator.PipelineRequest {
	return orchestrator.PipelineRequest{
		Target:   target,
		MaxDepth: f.depth(a),
		Timeout:  f.timeout,
	}
}
