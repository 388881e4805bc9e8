package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/metrics"
)

// Synthesizer writes the cross-upload narrative of a digest.
type Synthesizer struct {
	llm       Completer
	maxTokens int
	logger    zerolog.Logger
}

func NewSynthesizer(llm Completer, maxTokens int, logger zerolog.Logger) *Synthesizer {
	return &Synthesizer{
		llm:       llm,
		maxTokens: maxTokens,
		logger:    logger.With().Str("component", "synthesizer").Logger(),
	}
}

// Synthesize returns nil without calling the model when there are no entries.
// On failure the narrative is nil and err wraps digest.ErrAnalysis.
func (s *Synthesizer) Synthesize(ctx context.Context, digestName string, entries []digest.Entry) (*digest.Narrative, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	text, err := s.llm.Complete(ctx, buildThemesPrompt(digestName, entries), s.maxTokens)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty narrative")
	}
	if err != nil {
		metrics.AnalysisFallbacks.WithLabelValues("synthesis").Inc()
		s.logger.Warn().Err(err).Str("digest", digestName).Msg("theme synthesis failed, omitting narrative")
		return nil, fmt.Errorf("%w: synthesis: %w", digest.ErrAnalysis, err)
	}
	return &digest.Narrative{Text: strings.TrimSpace(text)}, nil
}

func buildThemesPrompt(digestName string, entries []digest.Entry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze these YouTube videos from the %q digest and write a brief paragraph (2-3 sentences) identifying overarching themes, trends, or notable patterns across the channels in this period.\n\nVideos:\n", digestName)

	for i, e := range entries {
		u, a := e.Upload, e.Analysis
		fmt.Fprintf(&sb, "\n--- Video %d ---\n", i+1)
		fmt.Fprintf(&sb, "Video: %s\n", u.Title)
		fmt.Fprintf(&sb, "Channel: %s\n", u.Channel)
		fmt.Fprintf(&sb, "Views: %s\n", FormatCount(u.Views))
		fmt.Fprintf(&sb, "Likes: %s\n", FormatCount(u.Likes))
		if len(a.Participants) > 0 {
			fmt.Fprintf(&sb, "Guests: %s\n", strings.Join(a.Participants, ", "))
		}
		if len(a.Topics) > 0 {
			fmt.Fprintf(&sb, "Topics: %s\n", strings.Join(a.Topics, ", "))
		}
		fmt.Fprintf(&sb, "Audience sentiment: %s\n", a.Sentiment)
	}

	sb.WriteString("\nWrite a concise, insightful paragraph about the themes. Be specific about topics discussed and note where audience sentiment clusters. Respond with the paragraph only.")
	return sb.String()
}

// FormatCount renders n with thousands separators.
func FormatCount(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
