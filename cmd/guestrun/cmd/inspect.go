package cmd

import (
	"fmt"
	"os"

	"github.com/pumpkinos/guestcore"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <app.prc>",
	Short: "Show the resources of an application and load it without running",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := baseConfig()
		if err != nil {
			return err
		}
		prc, err := guestcore.OpenPRC(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		id := prc.Identity()
		fmt.Fprintf(out, "name:        %s\n", prc.Name)
		fmt.Fprintf(out, "type:        %s\n", guestcore.FourCC(prc.Type))
		fmt.Fprintf(out, "creator:     %s\n", guestcore.FourCC(prc.Creator))
		fmt.Fprintf(out, "version:     %d\n", prc.Version)
		fmt.Fprintf(out, "fingerprint: %s\n", id.FingerprintHex())
		fmt.Fprintf(out, "resources:\n")
		for _, r := range prc.Resources {
			fmt.Fprintf(out, "  %s %5d  offset 0x%06X size %d\n", r.Type, r.ID, r.Offset, r.Size)
		}

		s, err := guestcore.NewEmulatorState(guestcore.StateOptions{
			Config: cfg,
			Logger: guestcore.NewLogger(os.Stderr, cfg.LogLevel),
		})
		if err != nil {
			return err
		}
		defer s.Close()
		s.App = id

		report, err := s.Load(prc)
		if err != nil {
			return fmt.Errorf("load: %w", err)
		}
		l := report.Layout
		fmt.Fprintf(out, "layout:\n")
		fmt.Fprintf(out, "  code   0x%08X size %d\n", uint32(l.CodeStart), l.CodeSize)
		fmt.Fprintf(out, "  data   0x%08X below %d above %d (A5 0x%08X)\n", uint32(l.DataStart), l.DataSize, l.AboveSize, uint32(l.A5()))
		fmt.Fprintf(out, "  stack  0x%08X size %d\n", uint32(l.StackStart), l.StackSize)
		fmt.Fprintf(out, "relocation:\n")
		for _, c := range report.Chains {
			fmt.Fprintf(out, "  %s\n", c)
		}
		return nil
	},
}
