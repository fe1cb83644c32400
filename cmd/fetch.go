package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zeynepaki/tgv-prototype/internal/app"
)

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [sources...]",
		Short: "Downloads raw artifacts for the configured items",
		Long: `Fetches every item configured for the named sources (abo, mdz, anno, bsb; all when
none are given). Items already recorded as complete in the fetch ledger are skipped. The command
exits non-zero when any item failed; the items that succeeded are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			kinds, err := app.ParseKinds(args)
			if err != nil {
				return err
			}
			report, err := a.Fetch(cmd.Context(), kinds)
			fmt.Fprintf(cmd.OutOrStdout(), "attempted=%d skipped=%d succeeded=%d failed=%d\n",
				report.Attempted, report.Skipped, report.Succeeded, report.Failed)
			return err
		},
	}
}
