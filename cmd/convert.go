package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zeynepaki/tgv-prototype/internal/convert"
)

func newConvertCmd() *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Normalizes downloaded artifacts into one NDJSON file",
		Long: `Walks the data directory, turns every text artifact into a normalized record, and writes
the records to the output file. Chunks that fail are dropped and reported. When an output backend
or notifier is configured the file is uploaded and a run summary is published. The command exits
non-zero when the dropped share exceeds convert.max_drop_ratio.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			path := outputPath
			if path == "" {
				path = a.Config().Convert.Output
			}

			report, convErr := a.Convert(cmd.Context(), path)
			degraded := errors.Is(convErr, convert.ErrDegradedOutput)
			if convErr != nil && !degraded {
				return convErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run=%s files=%d records=%d dropped=%d output=%s\n",
				report.RunID, report.Files, report.Records, report.DroppedRecords, path)

			shipper, err := a.Shipper(cmd.Context())
			if err != nil {
				return err
			}
			if shipper.Enabled() {
				if _, err := shipper.Ship(cmd.Context(), path, report, degraded); err != nil {
					return err
				}
			}
			return convErr
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default convert.output)")
	return cmd
}
