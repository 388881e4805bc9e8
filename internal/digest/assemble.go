package digest

import (
	"sort"
	"time"
)

// SortUploads orders uploads canonically: newest first, ties broken by ID.
func SortUploads(uploads []Upload) {
	sort.SliceStable(uploads, func(i, j int) bool {
		return uploadBefore(uploads[i], uploads[j])
	})
}

func uploadBefore(a, b Upload) bool {
	if !a.PublishedAt.Equal(b.PublishedAt) {
		return a.PublishedAt.After(b.PublishedAt)
	}
	return a.ID < b.ID
}

// Assemble combines the pieces of a run into a Record. It makes no external
// calls and its output depends only on its inputs.
func Assemble(cfg Config, w Window, entries []Entry, narrative *Narrative, generatedAt time.Time) *Record {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return uploadBefore(out[i].Upload, out[j].Upload)
	})

	if len(out) == 0 {
		narrative = nil
	}
	if narrative != nil {
		n := *narrative
		narrative = &n
	}

	return &Record{
		DigestID:    cfg.ID,
		Name:        cfg.Name,
		Cadence:     cfg.Cadence,
		Window:      w,
		Entries:     out,
		Narrative:   narrative,
		GeneratedAt: generatedAt.UTC(),
	}
}
