package main

import (
	"fmt"

	"github.com/maxdollinger/modinject/internal/config"
	"github.com/maxdollinger/modinject/internal/db"
	"github.com/maxdollinger/modinject/internal/injector"
	"github.com/maxdollinger/modinject/internal/logging"
	"github.com/maxdollinger/modinject/internal/modules"
	"github.com/maxdollinger/modinject/pkg/lock"
	"github.com/maxdollinger/modinject/pkg/module"
	"github.com/maxdollinger/modinject/pkg/sigverify"
	"github.com/spf13/cobra"
)

func newInjectCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Inject the configured modules into the configured images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if _, err := logging.Setup(cmd.ErrOrStderr(), cfg.LogLevel); err != nil {
				return err
			}

			images, err := cfg.ImagePaths()
			if err != nil {
				return err
			}

			mods := make([]module.Module, 0, len(cfg.Modules))
			for _, mc := range cfg.Modules {
				m, err := modules.New(mc.Name, mc.Zip, mc.Sig)
				if err != nil {
					return err
				}
				mods = append(mods, m)
			}

			journal, err := db.Open(ctx, cfg.Journal)
			if err != nil {
				return err
			}
			defer journal.Close()

			inj := injector.New(
				lock.NewFileLocker(cfg.LockDir),
				sigverify.NewVerifier(),
				injector.ImageOpener{},
				journal,
			)

			result, err := inj.Run(ctx, injector.Plan{
				Modules:            mods,
				Images:             images,
				Sepolicies:         cfg.Sepolicies,
				CompatibleSepolicy: cfg.CompatibleSepolicy,
				SkipVerify:         cfg.SkipVerify,
				TrustedKey:         cfg.TrustedKey,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s\n", result.RunID)
			for _, name := range result.Modules {
				fmt.Fprintf(out, "injected %s\n", name)
			}
			for _, p := range result.CIL.Patched {
				fmt.Fprintf(out, "patched %s cil policy\n", p)
			}
			for _, name := range result.SepolicyPatched {
				fmt.Fprintf(out, "patched sepolicy for %s\n", name)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to the YAML run configuration")
	flags.Bool("compatible-sepolicy", false, "mirror policy changes onto vendor and odm")
	flags.Bool("skip-verify", false, "do not verify module signatures")
	flags.String("work-dir", "", "directory for locks and the journal")
	flags.String("journal", "", "path of the sqlite run journal")
	flags.String("trusted-key", "", "SSH public key module archives must be signed with")

	return cmd
}
