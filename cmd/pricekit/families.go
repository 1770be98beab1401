package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rushteam/pricekit/core"
)

func newFamiliesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "families",
		Short: "List the selectable model families",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range core.Families() {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", f, f.ArtifactName()); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
