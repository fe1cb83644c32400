package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zeynepaki/tgv-prototype/internal/app"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [sources...]",
		Short: "Fetches, converts, ships, and loads in one go",
		Long: `Runs the whole pipeline. Sink settings are checked before any archive is contacted.
When metrics.addr is set, /healthz, /readyz, /metrics and /v1/status are served while the run
is in progress.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			kinds, err := app.ParseKinds(args)
			if err != nil {
				return err
			}
			a.ServeStatus(cmd.Context())
			return a.Run(cmd.Context(), kinds)
		},
	}
}
