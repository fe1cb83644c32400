package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zeynepaki/tgv-prototype/internal/archive"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Lists the identifiers an archive publishes for a title",
	}
	cmd.AddCommand(newListANNOCmd(), newListBSBCmd())
	return cmd
}

func newListANNOCmd() *cobra.Command {
	var from, to int64
	cmd := &cobra.Command{
		Use:   "anno <title>",
		Short: "Prints the issue dates (YYYYMMDD) ANNO holds for a title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			datums, err := a.Registry().ANNO().List(cmd.Context(), args[0], from, to)
			if err != nil {
				return err
			}
			for _, d := range datums {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "first datum to include (YYYYMMDD, 0 for open)")
	cmd.Flags().Int64Var(&to, "to", 0, "last datum to include (YYYYMMDD, 0 for open)")
	return cmd
}

func newListBSBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bsb <title>",
		Short: "Prints the digipress item ids of a newspaper title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			enum, ok := a.Registry().Enumerator(archive.KindBSB)
			if !ok {
				return fmt.Errorf("bsb enumeration is not available")
			}
			ids, err := enum.Enumerate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}
