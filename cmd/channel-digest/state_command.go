package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/state"
)

func newStateCommand(ctx *commandContext) *cobra.Command {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset the last run time of digests",
	}

	stateCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the stored cutoff of every digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, _, err := state.Open(cmd.Context(), cfg.State)
			if err != nil {
				return err
			}
			defer store.Close()

			stored, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			now := time.Now()
			seen := make(map[string]bool, len(stored))
			var rows [][]string
			for _, d := range cfg.Digests {
				seen[d.ID] = true
				last, ok := stored[d.ID]
				lastText := "never"
				if ok {
					lastText = last.UTC().Format(time.RFC3339)
				}
				rows = append(rows, []string{d.ID, d.Name, d.Cadence.String(), lastText, yesNo(digest.Due(d.Cadence, last, ok, now))})
			}

			// Entries left behind by digests no longer in the config.
			var orphans []string
			for id := range stored {
				if !seen[id] {
					orphans = append(orphans, id)
				}
			}
			sort.Strings(orphans)
			for _, id := range orphans {
				rows = append(rows, []string{id, "(not configured)", "-", stored[id].UTC().Format(time.RFC3339), "-"})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Name", "Cadence", "Last run (UTC)", "Due"},
				rows,
				nil,
			))
			return nil
		},
	})

	stateCmd.AddCommand(&cobra.Command{
		Use:   "reset <digest-id>...",
		Short: "Forget the last run so the next run uses the cadence lookback",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, _, err := state.Open(cmd.Context(), cfg.State)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, id := range args {
				if err := store.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", id)
			}
			return nil
		},
	})

	return stateCmd
}
