package main

import (
	"fmt"

	"github.com/maxdollinger/modinject/pkg/oci"
	"github.com/spf13/cobra"
)

func newFetchCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "fetch <ref>",
		Short: "Download a module archive and its signature from an OCI registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := oci.NewRegistrySource(args[0])
			if err != nil {
				return err
			}

			artifact, err := source.Fetch(cmd.Context(), outDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "zip: %s\n", artifact.Zip)
			if artifact.Sig != "" {
				fmt.Fprintf(out, "sig: %s\n", artifact.Sig)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory to write the files to")

	return cmd
}
