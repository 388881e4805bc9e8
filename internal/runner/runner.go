// Package runner drives one digest through window computation, collection,
// analysis, synthesis, assembly, delivery and state commit.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/fetcher"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/metrics"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/publisher"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/state"
)

// Phase is a step of the run state machine.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseWindowComputed Phase = "window_computed"
	PhaseCollected      Phase = "collected"
	PhaseAnalyzed       Phase = "analyzed"
	PhaseSynthesized    Phase = "synthesized"
	PhaseAssembled      Phase = "assembled"
	PhaseDelivered      Phase = "delivered"
	PhaseStateCommitted Phase = "state_committed"
	PhaseFailed         Phase = "failed"
)

// Outcome summarizes how a run ended.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeEmpty     Outcome = "empty"
	OutcomeNotDue    Outcome = "not_due"
	OutcomeDryRun    Outcome = "dry_run"
	OutcomeFailed    Outcome = "failed"
)

// Collector gathers the uploads of a digest's channels inside a window.
type Collector interface {
	Collect(ctx context.Context, channels []string, w digest.Window) fetcher.Collection
}

// Analyzer extracts per-upload signals. Entries come back in input order.
type Analyzer interface {
	AnalyzeAll(ctx context.Context, uploads []digest.Upload) ([]digest.Entry, []error)
}

// Synthesizer writes the cross-upload narrative.
type Synthesizer interface {
	Synthesize(ctx context.Context, digestName string, entries []digest.Entry) (*digest.Narrative, error)
}

// Options alter a single run.
type Options struct {
	// Force runs the digest even when its cadence says it is not due.
	Force bool
	// DryRun renders to the dry-run publisher and never commits state.
	DryRun bool
}

// Report is the record of one run.
type Report struct {
	RunID    string
	DigestID string
	Name     string
	Phase    Phase
	Outcome  Outcome

	Window           digest.Window
	PreviousCutoff   time.Time
	Cutoff           time.Time
	Uploads          int
	ChannelFailures  []fetcher.Failure
	AnalysisFailures []error
	SynthesisFailure error
	Record           *digest.Record

	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// Failed reports whether the run ended in error.
func (r *Report) Failed() bool {
	return r.Outcome == OutcomeFailed
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Deps wires the runner to its collaborators.
type Deps struct {
	Store       state.Store
	Locker      state.Locker
	Collector   Collector
	Analyzer    Analyzer
	Synthesizer Synthesizer
	Publisher   publisher.Publisher
	// DryRun receives records of dry runs. Defaults to a stdout publisher.
	DryRun publisher.Publisher
	// SendEmpty delivers records without uploads instead of ending the run.
	SendEmpty bool
	// Concurrency bounds RunAll.
	Concurrency int
	Now         func() time.Time
	Logger      zerolog.Logger
}

// Runner orchestrates digest runs.
type Runner struct {
	deps   Deps
	logger zerolog.Logger
}

func New(deps Deps) *Runner {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.DryRun == nil {
		deps.DryRun = publisher.NewStdoutPublisher(nil)
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = 1
	}
	return &Runner{
		deps:   deps,
		logger: deps.Logger.With().Str("component", "runner").Logger(),
	}
}

// RunAll runs digests concurrently and returns their reports in input order.
// One digest's failure never affects another.
func (r *Runner) RunAll(ctx context.Context, digests []digest.Config, opts Options) []*Report {
	reports := make([]*Report, len(digests))
	var g errgroup.Group
	g.SetLimit(r.deps.Concurrency)
	for i, d := range digests {
		g.Go(func() error {
			reports[i] = r.Run(ctx, d, opts)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// Run executes one digest. It always returns a report; Report.Err holds the
// fatal error if the run failed.
func (r *Runner) Run(ctx context.Context, cfg digest.Config, opts Options) *Report {
	rep := &Report{
		RunID:     uuid.NewString(),
		DigestID:  cfg.ID,
		Name:      cfg.Name,
		Phase:     PhaseIdle,
		StartedAt: r.deps.Now().UTC(),
	}
	log := r.logger.With().Str("digest", cfg.ID).Str("run_id", rep.RunID).Logger()
	defer func() {
		rep.FinishedAt = r.deps.Now().UTC()
		metrics.DigestRunsTotal.WithLabelValues(cfg.ID, string(rep.Outcome)).Inc()
		metrics.DigestRunSeconds.WithLabelValues(cfg.ID).Observe(rep.Duration().Seconds())
		ev := log.Info()
		if rep.Failed() {
			ev = log.Error().Err(rep.Err)
		}
		ev.Str("outcome", string(rep.Outcome)).Str("phase", string(rep.Phase)).
			Int("uploads", rep.Uploads).Dur("duration", rep.Duration()).Msg("run finished")
	}()

	unlock, err := r.deps.Locker.TryLock(ctx, cfg.ID)
	if err != nil {
		return fail(rep, err)
	}
	defer func() {
		if err := unlock(); err != nil {
			log.Warn().Err(err).Msg("release lock")
		}
	}()

	prev, hasPrev, err := r.deps.Store.Get(ctx, cfg.ID)
	if err != nil {
		return fail(rep, wrap(digest.ErrStateStore, "read state", err))
	}
	rep.PreviousCutoff = prev

	now := r.deps.Now()
	if !opts.Force && !opts.DryRun && !digest.Due(cfg.Cadence, prev, hasPrev, now) {
		rep.Outcome = OutcomeNotDue
		log.Debug().Time("last_run", prev).Str("cadence", cfg.Cadence.String()).Msg("not due, skipping")
		return rep
	}

	w := digest.ComputeWindow(cfg.Cadence, prev, hasPrev, now)
	rep.Window = w
	advance(rep, PhaseWindowComputed, log.Debug().Time("start", w.Start).Time("end", w.End))

	coll := r.deps.Collector.Collect(ctx, cfg.Channels, w)
	rep.ChannelFailures = coll.Failures
	if n := len(coll.Failures); n > 0 {
		metrics.ChannelFetchErrors.WithLabelValues(cfg.ID).Add(float64(n))
	}
	if coll.AllFailed() {
		return fail(rep, fmt.Errorf("%w: %w", digest.ErrAllSourcesFailed, errors.Join(coll.Errors()...)))
	}
	rep.Uploads = len(coll.Uploads)
	advance(rep, PhaseCollected, log.Debug().Int("uploads", rep.Uploads).Int("channel_failures", len(coll.Failures)))

	entries, analysisErrs := r.deps.Analyzer.AnalyzeAll(ctx, coll.Uploads)
	rep.AnalysisFailures = analysisErrs
	advance(rep, PhaseAnalyzed, log.Debug().Int("analysis_failures", len(analysisErrs)))

	narrative, err := r.deps.Synthesizer.Synthesize(ctx, cfg.Name, entries)
	rep.SynthesisFailure = err
	advance(rep, PhaseSynthesized, log.Debug().Bool("narrative", narrative != nil))

	record := digest.Assemble(cfg, w, entries, narrative, r.deps.Now())
	rep.Record = record
	metrics.DigestUploads.WithLabelValues(cfg.ID).Set(float64(len(record.Entries)))
	advance(rep, PhaseAssembled, log.Debug())

	if record.Empty() && !r.deps.SendEmpty && !opts.DryRun {
		rep.Outcome = OutcomeEmpty
		log.Info().Msg("no new uploads, nothing to deliver")
		return rep
	}

	if err := ctx.Err(); err != nil {
		return fail(rep, err)
	}

	pub := r.deps.Publisher
	if opts.DryRun {
		pub = r.deps.DryRun
	}
	// Once delivery starts it runs to completion.
	deliverCtx := context.WithoutCancel(ctx)
	if err := pub.Publish(deliverCtx, record, cfg.Recipients); err != nil {
		return fail(rep, wrap(digest.ErrDelivery, "deliver", err))
	}
	advance(rep, PhaseDelivered, log.Info().Int("recipients", len(cfg.Recipients)))

	if opts.DryRun {
		rep.Outcome = OutcomeDryRun
		return rep
	}

	cutoff := digest.NextCutoff(prev, hasPrev, w)
	if err := r.deps.Store.Set(deliverCtx, cfg.ID, cutoff); err != nil {
		return fail(rep, wrap(digest.ErrStateStore, "commit state", err))
	}
	rep.Cutoff = cutoff
	rep.Outcome = OutcomeDelivered
	advance(rep, PhaseStateCommitted, log.Debug().Time("cutoff", cutoff))
	return rep
}

func advance(rep *Report, p Phase, ev *zerolog.Event) {
	rep.Phase = p
	ev.Str("phase", string(p)).Msg("phase")
}

func fail(rep *Report, err error) *Report {
	rep.Phase = PhaseFailed
	rep.Outcome = OutcomeFailed
	rep.Err = err
	return rep
}

// wrap attaches class unless err already carries it.
func wrap(class error, op string, err error) error {
	if errors.Is(err, class) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", class, op, err)
}
