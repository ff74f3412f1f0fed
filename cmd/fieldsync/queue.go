package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/agentworkforce/fieldsync/internal/mutationqueue"
	"github.com/spf13/cobra"
)

func newQueueCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or clear pending mutations",
	}
	cmd.AddCommand(newQueueListCommand(root))
	cmd.AddCommand(newQueueClearCommand(root))
	return cmd
}

func newQueueListCommand(root *RootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending mutations in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(root, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.engine.Pending(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				redacted := make([]mutationqueue.QueuedMutation, 0, len(items))
				for _, item := range items {
					redacted = append(redacted, item.Redacted())
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(redacted)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMETHOD\tURL\tQUEUED AT\tBYTES")
			for _, item := range items {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", item.ID, item.Method, item.URL, item.Timestamp.Format(time.RFC3339), len(item.Body))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON with credentials redacted")
	return cmd
}

func newQueueClearCommand(root *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every pending mutation",
		Long: `Drop every pending mutation.

A mutation the server keeps rejecting blocks every mutation queued after it.
Clearing the queue is the only way past it; the dropped mutations are lost.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(root, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			pending := a.engine.State().Pending
			if !yes {
				return fmt.Errorf("refusing to drop %d pending mutations without --yes", pending)
			}
			if err := a.engine.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped %d pending mutations\n", pending)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm dropping the queue")
	return cmd
}
