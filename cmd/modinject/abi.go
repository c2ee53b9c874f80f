package main

import (
	"fmt"

	"github.com/maxdollinger/modinject/pkg/utils"
	"github.com/spf13/cobra"
)

func newABICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abi",
		Short: "Print the Android ABI of this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			abi, err := utils.HostAndroidABI()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), abi)
			return nil
		},
	}
}
