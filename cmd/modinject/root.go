package main

import (
	"github.com/maxdollinger/modinject/internal/logging"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:          "modinject",
		Short:        "Inject modules into Android boot ramdisks and partition images",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := logging.Setup(cmd.ErrOrStderr(), logLevel)
			return err
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newInjectCmd(),
		newModulesCmd(),
		newVerifyCmd(),
		newABICmd(),
		newFetchCmd(),
	)
	return root
}
