package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zeynepaki/tgv-prototype/internal/segment"
)

func newSplitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "split <file> <dir>",
		Short: "Splits a combined ANNO text file into one file per page",
		Args:  cobra.ExactArgs(2),
		// Needs neither configuration nor services.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := segment.SplitPages(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pages=%d\n", n)
			return nil
		},
	}
}
