package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/config"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
)

// Source lists the recent uploads of one channel. since is a hint: sources may
// skip enriching older uploads, but callers still filter by window.
type Source interface {
	Fetch(ctx context.Context, ref string, since time.Time) ([]digest.Upload, error)
}

// New creates a source based on the configuration
func New(ctx context.Context, cfg config.SourceConfig, logger zerolog.Logger) (Source, error) {
	switch cfg.Type {
	case "youtube":
		return NewYouTubeSource(ctx, YouTubeConfig{
			APIKey:        cfg.APIKey,
			MaxUploads:    cfg.MaxUploads,
			MaxComments:   cfg.MaxComments,
			IncludeShorts: cfg.IncludeShorts,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSourceType, cfg.Type)
	}
}

// ErrUnsupportedSourceType is returned when an unsupported source type is specified
var ErrUnsupportedSourceType = fmt.Errorf("unsupported source type")

// Failure records a channel that could not be fetched.
type Failure struct {
	Channel string
	Err     error
}

// Collection is the outcome of collecting a digest's channels.
type Collection struct {
	Uploads  []digest.Upload
	Failures []Failure
	Channels int
}

// AllFailed reports whether no channel could be fetched.
func (c Collection) AllFailed() bool {
	return c.Channels > 0 && len(c.Failures) == c.Channels
}

// Errors returns the channel failures as plain errors.
func (c Collection) Errors() []error {
	errs := make([]error, len(c.Failures))
	for i, f := range c.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Collector fetches every channel of a digest concurrently.
type Collector struct {
	source      Source
	concurrency int
	logger      zerolog.Logger
}

func NewCollector(source Source, concurrency int, logger zerolog.Logger) *Collector {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Collector{
		source:      source,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "collector").Logger(),
	}
}

// Collect fetches channels and returns the uploads inside w, de-duplicated by
// upload ID and in canonical order. A failing channel is recorded and skipped.
func (c *Collector) Collect(ctx context.Context, channels []string, w digest.Window) Collection {
	results := make([][]digest.Upload, len(channels))
	errs := make([]error, len(channels))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	var mu sync.Mutex
	for i, ref := range channels {
		g.Go(func() error {
			uploads, err := c.source.Fetch(ctx, ref, w.Start)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[i] = fmt.Errorf("%w: channel %s: %w", digest.ErrSourceFetch, ref, err)
				return nil
			}
			results[i] = uploads
			return nil
		})
	}
	_ = g.Wait()

	out := Collection{Channels: len(channels)}
	seen := make(map[string]bool)
	for i, ref := range channels {
		if errs[i] != nil {
			c.logger.Warn().Err(errs[i]).Str("channel", ref).Msg("channel fetch failed, skipping")
			out.Failures = append(out.Failures, Failure{Channel: ref, Err: errs[i]})
			continue
		}
		kept := 0
		for _, u := range results[i] {
			if !w.Contains(u.PublishedAt) || seen[u.ID] {
				continue
			}
			seen[u.ID] = true
			out.Uploads = append(out.Uploads, u)
			kept++
		}
		c.logger.Debug().Str("channel", ref).Int("fetched", len(results[i])).Int("kept", kept).Msg("channel collected")
	}

	digest.SortUploads(out.Uploads)
	return out
}
