package digest

import (
	"testing"
	"time"
)

func TestParseCadence(t *testing.T) {
	tests := []struct {
		in      string
		want    Cadence
		wantErr bool
	}{
		{"daily", CadenceDaily, false},
		{"Weekly", CadenceWeekly, false},
		{"biweekly", CadenceTwiceWeekly, false},
		{"twice_weekly", CadenceTwiceWeekly, false},
		{" daily ", CadenceDaily, false},
		{"monthly", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCadence(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseCadence(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCadence(%q) returned error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseCadence(%q) = %v, expected %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCadenceLookbackTable(t *testing.T) {
	if CadenceDaily.Lookback() != 24*time.Hour {
		t.Errorf("daily lookback = %v", CadenceDaily.Lookback())
	}
	if CadenceTwiceWeekly.Lookback() != 72*time.Hour {
		t.Errorf("twice weekly lookback = %v", CadenceTwiceWeekly.Lookback())
	}
	if CadenceWeekly.Lookback() != 168*time.Hour {
		t.Errorf("weekly lookback = %v", CadenceWeekly.Lookback())
	}
	if Cadence(0).Valid() {
		t.Error("zero cadence should not be valid")
	}
}

func TestComputeWindowFirstRunUsesLookback(t *testing.T) {
	now := time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)
	w := ComputeWindow(CadenceWeekly, time.Time{}, false, now)

	if !w.End.Equal(now) {
		t.Errorf("End = %v, expected %v", w.End, now)
	}
	if want := now.Add(-7 * 24 * time.Hour); !w.Start.Equal(want) {
		t.Errorf("Start = %v, expected %v", w.Start, want)
	}
}

func TestComputeWindowUsesPreviousCutoff(t *testing.T) {
	prev := time.Date(2025, 1, 27, 8, 0, 0, 0, time.UTC)
	now := time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)
	w := ComputeWindow(CadenceDaily, prev, true, now)

	if !w.Start.Equal(prev) {
		t.Errorf("Start = %v, expected previous cutoff %v", w.Start, prev)
	}
}

func TestComputeWindowClampsFutureCutoff(t *testing.T) {
	now := time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)
	prev := now.Add(time.Hour)
	w := ComputeWindow(CadenceDaily, prev, true, now)

	if w.Start.After(now) {
		t.Fatalf("Start %v exceeds now %v", w.Start, now)
	}
	if next := NextCutoff(prev, true, w); !next.Equal(prev) {
		t.Errorf("NextCutoff = %v, expected cutoff to stay at %v", next, prev)
	}
}

func TestWindowMonotonicAcrossRuns(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var (
		prev    time.Time
		hasPrev bool
	)
	for i := 0; i < 10; i++ {
		now := start.Add(time.Duration(i) * 13 * time.Hour)
		w := ComputeWindow(CadenceDaily, prev, hasPrev, now)
		if hasPrev && w.Start.Before(prev) {
			t.Fatalf("run %d: start %v before previous cutoff %v", i, w.Start, prev)
		}
		next := NextCutoff(prev, hasPrev, w)
		if hasPrev && next.Before(prev) {
			t.Fatalf("run %d: cutoff moved backwards", i)
		}
		prev, hasPrev = next, true
	}
}

func TestWindowContainsIsHalfOpen(t *testing.T) {
	w := Window{
		Start: time.Date(2025, 1, 27, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC),
	}
	if w.Contains(w.Start) {
		t.Error("window should exclude its start")
	}
	if !w.Contains(w.End) {
		t.Error("window should include its end")
	}
	if !w.Contains(w.Start.Add(time.Second)) {
		t.Error("window should include times after start")
	}
	if w.Contains(w.End.Add(time.Second)) {
		t.Error("window should exclude times after end")
	}
}

func TestDue(t *testing.T) {
	now := time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)
	if !Due(CadenceWeekly, time.Time{}, false, now) {
		t.Error("first run should always be due")
	}
	if Due(CadenceWeekly, now.Add(-3*24*time.Hour), true, now) {
		t.Error("weekly digest run 3 days ago should not be due")
	}
	if !Due(CadenceDaily, now.Add(-24*time.Hour).Add(5*time.Second), true, now) {
		t.Error("daily digest run just under a day ago should be due")
	}
	if !Due(CadenceTwiceWeekly, now.Add(-72*time.Hour), true, now) {
		t.Error("twice weekly digest run 3 days ago should be due")
	}
}

func TestParseSentiment(t *testing.T) {
	tests := map[string]Sentiment{
		"positive": SentimentPositive,
		"Negative": SentimentNegative,
		" mixed ":  SentimentMixed,
		"neutral":  SentimentUnknown,
		"":         SentimentUnknown,
	}
	for in, want := range tests {
		if got := ParseSentiment(in); got != want {
			t.Errorf("ParseSentiment(%q) = %q, expected %q", in, got, want)
		}
	}
}

func TestUnknownAnalysisIsDegraded(t *testing.T) {
	a := UnknownAnalysis("vid1")
	if !a.Degraded() {
		t.Error("expected unknown analysis to be degraded")
	}
	if a.Participants == nil || a.Topics == nil {
		t.Error("degraded analysis should carry empty, non-nil slices")
	}
	a.Topics = []string{"economics"}
	if a.Degraded() {
		t.Error("analysis with topics should not be degraded")
	}
}

func TestAssembleOrdersNewestFirst(t *testing.T) {
	base := time.Date(2025, 1, 28, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Upload: Upload{ID: "b", PublishedAt: base}},
		{Upload: Upload{ID: "c", PublishedAt: base.Add(48 * time.Hour)}},
		{Upload: Upload{ID: "a", PublishedAt: base}},
	}
	cfg := Config{ID: "econ", Name: "Economics"}
	w := Window{Start: base.Add(-time.Hour), End: base.Add(72 * time.Hour)}

	rec := Assemble(cfg, w, entries, &Narrative{Text: "themes"}, base)

	got := []string{rec.Entries[0].Upload.ID, rec.Entries[1].Upload.ID, rec.Entries[2].Upload.ID}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, expected %v", got, want)
		}
	}
	if entries[0].Upload.ID != "b" {
		t.Error("Assemble must not reorder the caller's slice")
	}
	if rec.Narrative == nil || rec.Narrative.Text != "themes" {
		t.Errorf("unexpected narrative: %+v", rec.Narrative)
	}
	if rec.DigestID != "econ" || rec.Name != "Economics" {
		t.Errorf("unexpected identity: %s/%s", rec.DigestID, rec.Name)
	}
}

func TestAssembleEmptyHasNoNarrative(t *testing.T) {
	rec := Assemble(Config{ID: "x"}, Window{}, nil, &Narrative{Text: ""}, time.Now())
	if !rec.Empty() {
		t.Fatal("expected empty record")
	}
	if rec.Narrative != nil {
		t.Error("empty record must have an absent narrative")
	}
	if rec.Entries == nil {
		t.Error("entries should be an empty slice, not nil")
	}
}
