package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newSyncCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued mutations once, assuming the network is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(root, appOptions{assumeOnline: true})
			if err != nil {
				return err
			}
			defer a.Close()

			report := a.engine.Drain(cmd.Context())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			return drainError(report)
		},
	}
}
