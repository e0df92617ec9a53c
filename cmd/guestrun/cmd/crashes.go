package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/pumpkinos/guestcore"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(crashesCmd)
}

var crashesCmd = &cobra.Command{
	Use:   "crashes [creator]",
	Short: "List recorded crashes and compatibility verdicts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCrashDB()
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("--crash-db is required")
		}
		defer store.Close()

		var creator uint32
		if len(args) == 1 {
			if creator, err = guestcore.ParseFourCC(args[0]); err != nil {
				return err
			}
		}
		out := cmd.OutOrStdout()
		if creator != 0 {
			rec, ok, err := store.Compat(creator)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(out, "%s: %s (code %d) since %s\n", guestcore.FourCC(creator), rec.Status, rec.Code, rec.Updated.Format(time.RFC3339))
			}
		}

		recs, err := store.Crashes(creator)
		if err != nil {
			return err
		}
		for _, r := range recs {
			fmt.Fprintf(out, "%s  %s %-24s code %d  %s\n", r.Time.Format(time.RFC3339), guestcore.FourCC(r.Creator), r.App, r.Code, r.Message)
		}
		if len(recs) == 0 {
			fmt.Fprintln(out, "no crashes recorded")
		}
		return nil
	},
}
