package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/config"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/fetcher"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/publisher"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/runner"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/state"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/summarizer"
)

// app holds the wired pipeline for one process.
type app struct {
	cfg       *config.Config
	store     state.Store
	publisher *publisher.Multi
	runner    *runner.Runner
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, out io.Writer) (*app, error) {
	store, locker, err := state.Open(ctx, cfg.State)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}

	source, err := fetcher.New(ctx, cfg.Source, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create source: %w", err)
	}

	llm, err := summarizer.New(cfg.Summarizer)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create summarizer: %w", err)
	}

	pubs, err := publisher.New(cfg.Publisher, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create publishers: %w", err)
	}

	r := runner.New(runner.Deps{
		Store:       store,
		Locker:      locker,
		Collector:   fetcher.NewCollector(source, cfg.Concurrency.Channels, logger),
		Analyzer:    summarizer.NewAnalyzer(llm, cfg.Concurrency.Analysis, logger),
		Synthesizer: summarizer.NewSynthesizer(llm, cfg.Summarizer.MaxTokens, logger),
		Publisher:   pubs,
		DryRun:      publisher.NewStdoutPublisher(out),
		SendEmpty:   cfg.Publisher.SendEmpty,
		Concurrency: cfg.Concurrency.Digests,
		Logger:      logger,
	})

	return &app{cfg: cfg, store: store, publisher: pubs, runner: r}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func logRejected(logger zerolog.Logger, cfg *config.Config) {
	for _, err := range cfg.Rejected {
		logger.Warn().Err(err).Msg("digest skipped")
	}
}
