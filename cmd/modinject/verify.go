package main

import (
	"fmt"

	"github.com/maxdollinger/modinject/pkg/sigverify"
	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "verify <zip> <sig>",
		Short: "Verify the SSH signature of a module archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sigverify.NewVerifier().Verify(cmd.Context(), args[0], args[1], key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: signature ok\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", sigverify.DefaultTrustedKey, "trusted SSH public key")

	return cmd
}
