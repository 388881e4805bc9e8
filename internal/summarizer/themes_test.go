package summarizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
)

func sampleEntries() []digest.Entry {
	return []digest.Entry{
		{
			Upload: digest.Upload{ID: "1", Title: "Why Nations Fail", Channel: "Econ Talks", Views: 1234567, Likes: 890},
			Analysis: digest.Analysis{
				UploadID:     "1",
				Participants: []string{"Daron Acemoglu"},
				Topics:       []string{"institutions"},
				Sentiment:    digest.SentimentPositive,
			},
		},
		{
			Upload:   digest.Upload{ID: "2", Title: "AI and Jobs", Channel: "Tech Weekly"},
			Analysis: digest.UnknownAnalysis("2"),
		},
	}
}

func TestSynthesizeEmptySkipsCall(t *testing.T) {
	called := false
	s := NewSynthesizer(CompleterFunc(func(ctx context.Context, prompt string, _ int) (string, error) {
		called = true
		return "x", nil
	}), 500, zerolog.Nop())

	n, err := s.Synthesize(context.Background(), "Econ", nil)
	if n != nil || err != nil {
		t.Errorf("Expected nil narrative and error, got %v, %v", n, err)
	}
	if called {
		t.Error("Expected no model call for empty input")
	}
}

func TestSynthesizeSuccess(t *testing.T) {
	var prompt string
	s := NewSynthesizer(CompleterFunc(func(ctx context.Context, p string, maxTokens int) (string, error) {
		prompt = p
		if maxTokens != 500 {
			t.Errorf("Expected max tokens 500, got %d", maxTokens)
		}
		return "  Institutions dominated the week.  ", nil
	}), 500, zerolog.Nop())

	n, err := s.Synthesize(context.Background(), "Econ Weekly", sampleEntries())
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if n == nil || n.Text != "Institutions dominated the week." {
		t.Fatalf("Unexpected narrative %+v", n)
	}
	for _, want := range []string{`"Econ Weekly"`, "Views: 1,234,567", "Guests: Daron Acemoglu", "Topics: institutions", "Audience sentiment: unknown"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Expected prompt to contain %q", want)
		}
	}
}

func TestSynthesizeFailureOmitsNarrative(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"error", "", errors.New("timeout")},
		{"blank", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSynthesizer(CompleterFunc(func(ctx context.Context, p string, _ int) (string, error) {
				return tt.reply, tt.err
			}), 500, zerolog.Nop())
			n, err := s.Synthesize(context.Background(), "Econ", sampleEntries())
			if n != nil {
				t.Errorf("Expected nil narrative, got %+v", n)
			}
			if !errors.Is(err, digest.ErrAnalysis) {
				t.Errorf("Expected ErrAnalysis, got %v", err)
			}
		})
	}
}

func TestFormatCount(t *testing.T) {
	tests := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		1234567:  "1,234,567",
		-4500:    "-4,500",
		12000000: "12,000,000",
	}
	for in, want := range tests {
		if got := FormatCount(in); got != want {
			t.Errorf("FormatCount(%d) = %q, want %q", in, got, want)
		}
	}
}
