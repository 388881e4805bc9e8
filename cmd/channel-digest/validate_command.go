package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and list the digests it defines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			rows := make([][]string, 0, len(cfg.Digests))
			for _, d := range cfg.Digests {
				rows = append(rows, []string{
					d.ID,
					d.Name,
					d.Cadence.String(),
					strconv.Itoa(len(d.Channels)),
					strings.Join(d.Recipients, ", "),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Name", "Cadence", "Channels", "Recipients"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "State: %s  Publishers: %s  Schedule: %s\n",
				cfg.State.Backend, strings.Join(cfg.Publisher.Types, ", "), cfg.Schedule)

			if len(cfg.Rejected) > 0 {
				for _, err := range cfg.Rejected {
					fmt.Fprintf(out, "Rejected: %v\n", err)
				}
				return fmt.Errorf("%d digest(s) rejected", len(cfg.Rejected))
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
