package main

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/rag-pipeline-client/internal/orchestrator"
	"github.com/JakeFAU/rag-pipeline-client/internal/pipeline"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin pipeline runs and data folder management.",
	}
	cmd.AddCommand(newAdminRunCmd())
	cmd.AddCommand(newAdminConfigCmd())
	cmd.AddCommand(newAdminFoldersCmd())
	return cmd
}

func newAdminRunCmd() *cobra.Command {
	flags := &runFlags{}
	var folder string
	cmd := &cobra.Command{
		Use:   "run <url>",
		Short: "Run the admin pipeline for a URL into a data folder.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			dataFolder, err := resolveFolder(cmd.Context(), a, folder)
			if err != nil {
				return err
			}
			req := orchestrator.AdminPipelineRequest{
				Target:     args[0],
				MaxDepth:   flags.depth(a),
				DataFolder: dataFolder,
				Timeout:    flags.timeout,
			}
			return watch(cmd, a, func(ctx context.Context, onStep pipeline.StepFunc) (pipeline.Result, error) {
				return a.orch.RunAdminPipeline(ctx, req, onStep)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&folder, "folder", "", "data folder to index into (default from the backend's admin config)")
	return cmd
}

// resolveFolder falls back to the backend's default folder when none is given.
func resolveFolder(ctx context.Context, a *app, folder string) (string, error) {
	if folder != "" {
		return folder, nil
	}
	cfg, err := a.admin.Config(ctx)
	if err != nil {
		return "", errors.Wrap(err, "fetch default data folder")
	}
	if cfg.DefaultFolder == "" {
		return "", errors.New("no --folder given and the backend has no default folder")
	}
	return cfg.DefaultFolder, nil
}

func newAdminConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the backend's admin configuration.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			cfg, err := a.admin.Config(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "default_folder: %s\n", cfg.DefaultFolder)
			fmt.Fprintf(out, "memory_stream: %s\n", a.admin.MemoryWebSocketURL())
			return nil
		},
	}
}

func newAdminFoldersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folders",
		Short: "List or delete data folders.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List data folders.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			folders, err := appFrom(cmd).admin.ListFolders(cmd.Context())
			if err != nil {
				return err
			}
			for _, f := range folders {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <folder>...",
		Short: "Delete data folders.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := appFrom(cmd).admin.DeleteFolders(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	})
	return cmd
}
