package summarizer

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/retry"
)

// Throttled wraps a Completer with a shared request rate limit and retries
// rate-limit and server errors with backoff.
type Throttled struct {
	next    Completer
	limiter *rate.Limiter
	retry   retry.Config
}

// NewThrottled limits next to rps requests per second. rps <= 0 disables the limit.
func NewThrottled(next Completer, rps float64, cfg retry.Config) *Throttled {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		retry:   cfg,
	}
}

func (t *Throttled) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var text string
	err := retry.WithBackoff(ctx, t.retry, func(ctx context.Context) error {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		text, err = t.next.Complete(ctx, prompt, maxTokens)
		return err
	})
	if err != nil {
		return "", err
	}
	return text, nil
}
