package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/metrics"
)

const (
	analysisMaxTokens   = 200
	descriptionMaxRunes = 1500
	promptMaxComments   = 10
)

// Analyzer extracts participants, topics and audience sentiment per upload.
type Analyzer struct {
	llm         Completer
	concurrency int
	logger      zerolog.Logger
}

func NewAnalyzer(llm Completer, concurrency int, logger zerolog.Logger) *Analyzer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Analyzer{
		llm:         llm,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "analyzer").Logger(),
	}
}

// analysisJSON is the expected JSON structure from the LLM.
type analysisJSON struct {
	Guests    []string `json:"guests"`
	Topics    []string `json:"topics"`
	Sentiment string   `json:"sentiment"`
}

// Analyze always returns a usable Analysis. On failure it is the unknown
// analysis and err wraps digest.ErrAnalysis.
func (a *Analyzer) Analyze(ctx context.Context, u digest.Upload) (digest.Analysis, error) {
	text, err := a.llm.Complete(ctx, buildAnalysisPrompt(u), analysisMaxTokens)
	if err != nil {
		return a.degrade(u, err)
	}
	analysis, err := parseAnalysis(u.ID, text)
	if err != nil {
		return a.degrade(u, err)
	}
	return analysis, nil
}

func (a *Analyzer) degrade(u digest.Upload, cause error) (digest.Analysis, error) {
	metrics.AnalysisFallbacks.WithLabelValues("upload").Inc()
	a.logger.Warn().Err(cause).Str("upload", u.ID).Str("title", u.Title).Msg("analysis failed, using unknown")
	return digest.UnknownAnalysis(u.ID), fmt.Errorf("%w: upload %s: %w", digest.ErrAnalysis, u.ID, cause)
}

// AnalyzeAll analyzes uploads concurrently. Entries come back in the order of
// uploads regardless of completion order; errors list the degraded uploads.
func (a *Analyzer) AnalyzeAll(ctx context.Context, uploads []digest.Upload) ([]digest.Entry, []error) {
	var (
		mu      sync.Mutex
		results = make(map[string]digest.Analysis, len(uploads))
		failed  = make(map[string]error)
	)

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for _, u := range uploads {
		g.Go(func() error {
			analysis, err := a.Analyze(ctx, u)
			mu.Lock()
			defer mu.Unlock()
			results[u.ID] = analysis
			if err != nil {
				failed[u.ID] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	entries := make([]digest.Entry, 0, len(uploads))
	var errs []error
	for _, u := range uploads {
		analysis, ok := results[u.ID]
		if !ok {
			analysis = digest.UnknownAnalysis(u.ID)
		}
		entries = append(entries, digest.Entry{Upload: u, Analysis: analysis})
		if err := failed[u.ID]; err != nil {
			errs = append(errs, err)
		}
	}
	return entries, errs
}

func buildAnalysisPrompt(u digest.Upload) string {
	comments := u.Comments
	if len(comments) > promptMaxComments {
		comments = comments[:promptMaxComments]
	}

	var sb strings.Builder
	sb.WriteString("Analyze this YouTube podcast/video and extract information.\n\n")
	fmt.Fprintf(&sb, "Title: %s\n", u.Title)
	fmt.Fprintf(&sb, "Channel: %s\n", u.Channel)
	fmt.Fprintf(&sb, "Description: %s\n", clipRunes(u.Description, descriptionMaxRunes))
	fmt.Fprintf(&sb, "Sample comments: %s\n\n", strings.Join(comments, "; "))
	sb.WriteString(`Extract:
1. GUESTS: Look for guest names in the title (often after "with" or before "|") and in the description. For podcasts, the title often contains the guest name. Return full names.
2. TOPICS: What are the 2-3 main topics or themes discussed? Be specific.
3. SENTIMENT: Based on the comments, is the overall reaction positive, negative, or mixed?

Respond ONLY with valid JSON in this exact format, no markdown fences or additional text:
{"guests": ["Full Name 1", "Full Name 2"], "topics": ["specific topic 1", "specific topic 2"], "sentiment": "positive"}

If no guests, use an empty array: "guests": []`)
	return sb.String()
}

// parseAnalysis reads the model reply, tolerating markdown fences and prose
// around the JSON object.
func parseAnalysis(uploadID, body string) (digest.Analysis, error) {
	obj, err := extractJSONObject(body)
	if err != nil {
		return digest.Analysis{}, err
	}

	var aj analysisJSON
	if err := json.Unmarshal([]byte(obj), &aj); err != nil {
		return digest.Analysis{}, fmt.Errorf("failed to parse LLM JSON: %w", err)
	}

	return digest.Analysis{
		UploadID:     uploadID,
		Participants: dedupe(aj.Guests),
		Topics:       nonEmpty(aj.Topics),
		Sentiment:    digest.ParseSentiment(aj.Sentiment),
	}, nil
}

func extractJSONObject(body string) (string, error) {
	body = strings.TrimSpace(body)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return "", errors.New("no JSON object in LLM response")
	}
	return body[start : end+1], nil
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
