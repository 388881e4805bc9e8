// Package digest holds the domain model of a channel digest run: configuration,
// uploads, their analyses, the inclusion window and the assembled record.
package digest

import (
	"strings"
	"time"
)

// Config is one validated digest definition. It is immutable for the duration of a run.
type Config struct {
	ID         string
	Name       string
	Recipients []string
	Channels   []string
	Cadence    Cadence
}

// Upload is one piece of content published by a tracked channel.
type Upload struct {
	ID           string        `json:"id"`
	ChannelID    string        `json:"channel_id"`
	Channel      string        `json:"channel"`
	Title        string        `json:"title"`
	URL          string        `json:"url"`
	Description  string        `json:"description"`
	PublishedAt  time.Time     `json:"published_at"`
	Views        int64         `json:"views"`
	Likes        int64         `json:"likes"`
	CommentCount int64         `json:"comment_count"`
	Duration     time.Duration `json:"duration"`
	Comments     []string      `json:"comments,omitempty"`
}

// Sentiment classifies the audience reaction to an upload.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentMixed    Sentiment = "mixed"
	SentimentUnknown  Sentiment = "unknown"
)

// ParseSentiment maps free text onto the enum. Anything unrecognized is unknown.
func ParseSentiment(s string) Sentiment {
	switch Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	case SentimentMixed:
		return SentimentMixed
	default:
		return SentimentUnknown
	}
}

// Analysis holds the AI-derived signals for one upload.
type Analysis struct {
	UploadID     string    `json:"upload_id"`
	Participants []string  `json:"participants"`
	Topics       []string  `json:"topics"`
	Sentiment    Sentiment `json:"sentiment"`
}

// UnknownAnalysis is the degraded result used when extraction could not complete.
func UnknownAnalysis(uploadID string) Analysis {
	return Analysis{
		UploadID:     uploadID,
		Participants: []string{},
		Topics:       []string{},
		Sentiment:    SentimentUnknown,
	}
}

// Degraded reports whether the analysis carries no usable signal.
func (a Analysis) Degraded() bool {
	return a.Sentiment == SentimentUnknown && len(a.Participants) == 0 && len(a.Topics) == 0
}

// Narrative is the cross-upload theme text of one run. A nil *Narrative means absent.
type Narrative struct {
	Text string `json:"text"`
}

// Entry pairs an upload with its analysis.
type Entry struct {
	Upload   Upload   `json:"upload"`
	Analysis Analysis `json:"analysis"`
}

// Record is the deliverable digest handed to publishers.
type Record struct {
	DigestID    string     `json:"digest_id"`
	Name        string     `json:"name"`
	Cadence     Cadence    `json:"cadence"`
	Window      Window     `json:"window"`
	Entries     []Entry    `json:"entries"`
	Narrative   *Narrative `json:"narrative,omitempty"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// Empty reports whether the record has no uploads.
func (r *Record) Empty() bool {
	return len(r.Entries) == 0
}
