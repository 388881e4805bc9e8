package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/config"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/metrics"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/runner"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run due digests on the configured cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger(cmd)
			logRejected(logger, cfg)
			return serve(cmd.Context(), cfg, logger, cmd)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger, cmd *cobra.Command) error {
	metrics.MustRegister(prometheus.DefaultRegisterer)

	a, err := buildApp(ctx, cfg, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Metrics.Addr != "" {
		metrics.StartServer(ctx, logger, cfg.Metrics.Addr)
	}

	if web := a.publisher.Web(); web != nil {
		if err := web.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := web.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("web server shutdown")
			}
		}()
	}

	runDue := func(trigger string) {
		logger.Info().Str("trigger", trigger).Int("digests", len(cfg.Digests)).Msg("checking digests")
		for _, rep := range a.runner.RunAll(ctx, cfg.Digests, runner.Options{}) {
			if rep.Failed() {
				logger.Error().Err(rep.Err).Str("digest", rep.DigestID).Msg("digest run failed")
			}
		}
	}

	if cfg.RunOnStart {
		runDue("startup")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.Schedule, func() { runDue("cron") }); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", cfg.Schedule, err)
	}
	c.Start()
	logger.Info().Str("schedule", cfg.Schedule).Msg("scheduler started")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	// Wait for a run in progress; deliveries already started are not interrupted.
	<-c.Stop().Done()
	logger.Info().Msg("shutdown complete")
	return nil
}
