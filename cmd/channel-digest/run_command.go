package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/config"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/runner"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runner.Options

	cmd := &cobra.Command{
		Use:   "run [digest-id...]",
		Short: "Run due digests once and exit",
		Long: "Run every configured digest that is due, or only the named ones. " +
			"Use --force to ignore the cadence and --dry-run to print instead of delivering.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger(cmd)
			logRejected(logger, cfg)

			digests, err := selectDigests(cfg, args)
			if err != nil {
				return err
			}
			if len(digests) == 0 {
				return errors.New("no valid digests configured")
			}

			a, err := buildApp(cmd.Context(), cfg, logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			reports := a.runner.RunAll(cmd.Context(), digests, opts)
			fmt.Fprintln(cmd.OutOrStdout(), renderReports(reports))
			return reportsError(reports)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "Run even if the digest is not due")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Print digests to stdout without delivering or saving state")
	return cmd
}

func selectDigests(cfg *config.Config, ids []string) ([]digest.Config, error) {
	if len(ids) == 0 {
		return cfg.Digests, nil
	}
	out := make([]digest.Config, 0, len(ids))
	for _, id := range ids {
		d, ok := cfg.Find(id)
		if !ok {
			return nil, fmt.Errorf("unknown digest %q", id)
		}
		out = append(out, d)
	}
	return out, nil
}

func renderReports(reports []*runner.Report) string {
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		window := "-"
		if !r.Window.End.IsZero() {
			window = r.Window.Start.Format("2006-01-02 15:04") + " → " + r.Window.End.Format("2006-01-02 15:04")
		}
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		rows = append(rows, []string{
			r.DigestID,
			string(r.Outcome),
			window,
			strconv.Itoa(r.Uploads),
			strconv.Itoa(len(r.ChannelFailures)),
			strconv.Itoa(len(r.AnalysisFailures)),
			yesNo(r.SynthesisFailure == nil && r.Record != nil && r.Record.Narrative != nil),
			r.Duration().Round(time.Millisecond).String(),
			errText,
		})
	}
	return renderTable(
		[]string{"Digest", "Outcome", "Window (UTC)", "Uploads", "Channel errors", "Fallbacks", "Themes", "Duration", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignRight, alignLeft},
	)
}

func reportsError(reports []*runner.Report) error {
	var failed []string
	for _, r := range reports {
		if r.Failed() {
			failed = append(failed, r.DigestID)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d digests failed: %v", len(failed), len(reports), failed)
	}
	return nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
