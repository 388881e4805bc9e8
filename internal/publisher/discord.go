package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/metrics"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/retry"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/summarizer"
)

const discordColor = 0xFF0033

type discordEmbedFooter struct {
	Text string `json:"text"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	URL         string              `json:"url,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

type discordWebhookPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordPublisher publishes digests to a Discord channel via webhook.
// Recipients are ignored; the webhook decides who sees the message.
type DiscordPublisher struct {
	webhookURL  string
	client      *http.Client
	retryConfig retry.Config
	batchDelay  time.Duration
}

func NewDiscordPublisher(webhookURL string) *DiscordPublisher {
	return &DiscordPublisher{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 30 * time.Second},
		retryConfig: retry.Config{
			MaxRetries: 3,
			BaseDelay:  1 * time.Second,
		},
		batchDelay: 500 * time.Millisecond,
	}
}

// Publish sends the digest to Discord as a series of rich embeds.
func (d *DiscordPublisher) Publish(ctx context.Context, record *digest.Record, _ []string) error {
	batches := batchEmbeds(buildEmbeds(record))

	for i, batch := range batches {
		err := retry.WithBackoff(ctx, d.retryConfig, func(ctx context.Context) error {
			start := time.Now()
			err := d.sendWebhook(ctx, batch)
			metrics.ObserveNetworkRequest("discord", "webhook", start, err)
			return err
		})
		if err != nil {
			return fmt.Errorf("discord: failed to send batch %d: %w", i+1, err)
		}

		// Delay between batches to avoid rate limits.
		if i < len(batches)-1 && d.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.batchDelay):
			}
		}
	}
	return nil
}

// buildEmbeds creates the overview embed and one embed per upload.
func buildEmbeds(record *digest.Record) []discordEmbed {
	embeds := make([]discordEmbed, 0, len(record.Entries)+1)

	overview := discordEmbed{
		Title:     truncate(record.Name, 256),
		Color:     discordColor,
		Footer:    &discordEmbedFooter{Text: fmt.Sprintf("%s | %d uploads", DateRange(record.Window), len(record.Entries))},
		Timestamp: generatedAt(record).Format(time.RFC3339),
	}
	if record.Narrative != nil {
		overview.Description = truncate(record.Narrative.Text, 4096)
	} else if record.Empty() {
		overview.Description = "No new uploads in this period."
	}
	embeds = append(embeds, overview)

	for i, e := range record.Entries {
		em := discordEmbed{
			Title:       truncate(fmt.Sprintf("%d. %s", i+1, e.Upload.Title), 256),
			URL:         e.Upload.URL,
			Description: truncate(fmt.Sprintf("%s - %s views", e.Upload.Channel, summarizer.FormatCount(e.Upload.Views)), 4096),
			Color:       discordColor,
		}
		if e.Analysis.Degraded() {
			embeds = append(embeds, em)
			continue
		}
		if len(e.Analysis.Participants) > 0 {
			em.Fields = append(em.Fields, discordEmbedField{
				Name:   "Guest",
				Value:  truncate(strings.Join(e.Analysis.Participants, ", "), 1024),
				Inline: true,
			})
		}
		if len(e.Analysis.Topics) > 0 {
			em.Fields = append(em.Fields, discordEmbedField{
				Name:  "Topics",
				Value: truncate(formatBullets(e.Analysis.Topics), 1024),
			})
		}
		if s := e.Analysis.Sentiment; s != "" && s != digest.SentimentUnknown {
			em.Footer = &discordEmbedFooter{Text: strings.TrimSpace(fmt.Sprintf("Sentiment: %s %s", s, sentimentEmoji(s)))}
		}
		embeds = append(embeds, em)
	}

	return embeds
}

// batchEmbeds splits embeds into batches respecting Discord limits:
// max 10 embeds per message, max 6000 total characters per message.
func batchEmbeds(embeds []discordEmbed) [][]discordEmbed {
	var batches [][]discordEmbed
	var current []discordEmbed
	currentChars := 0

	for _, e := range embeds {
		ec := embedCharCount(e)

		if len(current) > 0 && (len(current) >= 10 || currentChars+ec > 6000) {
			batches = append(batches, current)
			current = nil
			currentChars = 0
		}

		current = append(current, e)
		currentChars += ec
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}

// sendWebhook posts a batch of embeds to the Discord webhook.
func (d *DiscordPublisher) sendWebhook(ctx context.Context, embeds []discordEmbed) error {
	body, err := json.Marshal(discordWebhookPayload{Embeds: embeds})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &retry.StatusError{Service: "discord", Code: resp.StatusCode}
	}
	return nil
}

// truncate shortens s to max bytes, preferring a sentence boundary.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	cut := strings.ToValidUTF8(s[:max-3], "")
	if idx := strings.LastIndexAny(cut, ".!?"); idx > max/2 {
		return cut[:idx+1]
	}
	return cut + "…"
}

// formatBullets formats values as a bulleted list.
func formatBullets(values []string) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("• ")
		b.WriteString(v)
	}
	return b.String()
}

// embedCharCount returns the total character count of an embed for batching purposes.
func embedCharCount(e discordEmbed) int {
	n := len(e.Title) + len(e.Description)
	for _, f := range e.Fields {
		n += len(f.Name) + len(f.Value)
	}
	if e.Footer != nil {
		n += len(e.Footer.Text)
	}
	return n
}
