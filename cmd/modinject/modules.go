package main

import (
	"fmt"

	"github.com/maxdollinger/modinject/internal/modules"
	"github.com/spf13/cobra"
)

func newModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the available modules",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range modules.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}
