package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load [file]",
		Short: "Replaces the search collection with the records of an NDJSON file",
		Long: `Deletes and recreates the configured collection, then imports the file in batches.
The file defaults to convert.output. With sink.wait_for_healthy the command first waits for the
sink to report healthy, giving up after sink.health_timeout_seconds.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			path := a.Config().Convert.Output
			if len(args) == 1 {
				path = args[0]
			}
			ld, err := a.Loader()
			if err != nil {
				return err
			}
			res, err := ld.LoadFile(cmd.Context(), path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "documents=%d batches=%d\n", res.Documents, res.Batches)
			return nil
		},
	}
}
