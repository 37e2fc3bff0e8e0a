package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newClientIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "client-id",
		Short: "Print the client identifier sent with every run.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), appFrom(cmd).orch.ClientID())
			return nil
		},
	}
}
