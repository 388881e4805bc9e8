package publisher

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/summarizer"
)

// Subject is the email subject line of a record.
func Subject(r *digest.Record) string {
	return fmt.Sprintf("%s - %s to %s", r.Name,
		r.Window.Start.UTC().Format("January 02"),
		r.Window.End.UTC().Format("January 02, 2006"))
}

// DateRange formats the window for headings.
func DateRange(w digest.Window) string {
	return fmt.Sprintf("%s - %s", w.Start.UTC().Format("Jan 02"), w.End.UTC().Format("Jan 02, 2006"))
}

func sentimentEmoji(s digest.Sentiment) string {
	switch s {
	case digest.SentimentPositive:
		return "\U0001F44D"
	case digest.SentimentNegative:
		return "\U0001F44E"
	case digest.SentimentMixed:
		return "\U0001F914"
	}
	return ""
}

// UnsubscribeLink fills the {digest} and {email} placeholders of tmpl with
// query-escaped values. An empty template yields an empty link.
func UnsubscribeLink(tmpl, digestID, recipient string) string {
	if tmpl == "" {
		return ""
	}
	return strings.NewReplacer(
		"{digest}", url.QueryEscape(digestID),
		"{email}", url.QueryEscape(recipient),
	).Replace(tmpl)
}

type entryView struct {
	Index     int
	Title     string
	URL       string
	Channel   string
	Views     string
	Guests    string
	Topics    string
	Sentiment string
	Emoji     string
}

type recordView struct {
	ID          string
	Name        string
	Cadence     string
	Range       string
	Themes      string
	Entries     []entryView
	Generated   string
	Unsubscribe string
}

func newRecordView(r *digest.Record, unsubscribe string) recordView {
	v := recordView{
		ID:          r.DigestID,
		Name:        r.Name,
		Cadence:     r.Cadence.String(),
		Range:       DateRange(r.Window),
		Generated:   r.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
		Unsubscribe: unsubscribe,
		Entries:     make([]entryView, 0, len(r.Entries)),
	}
	if r.Narrative != nil {
		v.Themes = r.Narrative.Text
	}
	for i, e := range r.Entries {
		ev := entryView{
			Index:   i + 1,
			Title:   e.Upload.Title,
			URL:     e.Upload.URL,
			Channel: e.Upload.Channel,
			Views:   summarizer.FormatCount(e.Upload.Views),
		}
		if !e.Analysis.Degraded() {
			ev.Guests = strings.Join(e.Analysis.Participants, ", ")
			ev.Topics = strings.Join(e.Analysis.Topics, ", ")
			if s := e.Analysis.Sentiment; s != "" && s != digest.SentimentUnknown {
				ev.Sentiment = string(s)
				ev.Emoji = sentimentEmoji(s)
			}
		}
		v.Entries = append(v.Entries, ev)
	}
	return v
}

const htmlBody = `<div style="max-width: 640px; margin: 0 auto; padding: 20px; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; color: #333;">
<h1 style="font-size: 22px; margin: 0 0 4px 0;">{{.Name}}</h1>
<p style="margin: 0 0 20px 0; color: #666;">{{.Range}}</p>
{{- if .Themes}}
<div style="background: #f5f5f5; border-radius: 8px; padding: 16px; margin-bottom: 24px;">
<h2 style="font-size: 14px; text-transform: uppercase; letter-spacing: 1px; color: #666; margin: 0 0 8px 0;">{{if eq .Cadence "weekly"}}This Week's Themes{{else if eq .Cadence "daily"}}Today's Themes{{else}}Recent Themes{{end}}</h2>
<p style="margin: 0; line-height: 1.5;">{{.Themes}}</p>
</div>
{{- end}}
<h2 style="font-size: 14px; text-transform: uppercase; letter-spacing: 1px; color: #666; margin-bottom: 16px;">New Uploads ({{len .Entries}})</h2>
{{- range .Entries}}
<div style="border-bottom: 1px solid #eee; padding: 12px 0;">
<p style="margin: 0 0 4px 0; font-size: 16px;"><a href="{{.URL}}" style="color: #065fd4; text-decoration: none;">{{.Title}}</a></p>
<p style="margin: 0 0 6px 0; font-size: 13px; color: #666;">{{.Channel}} - {{.Views}} views</p>
{{- if .Guests}}
<p style="margin: 0 0 4px 0; font-size: 14px;"><strong>Guest:</strong> {{.Guests}}</p>
{{- end}}
{{- if .Topics}}
<p style="margin: 0 0 4px 0; font-size: 14px;"><strong>Topics:</strong> {{.Topics}}</p>
{{- end}}
{{- if .Sentiment}}
<p style="margin: 0; font-size: 14px; color: #666;"><strong>Sentiment:</strong> {{.Sentiment}} {{.Emoji}}</p>
{{- end}}
</div>
{{- else}}
<p style="color: #666;">No new uploads in this period.</p>
{{- end}}
<p style="margin-top: 24px; font-size: 12px; color: #999;">
Generated {{.Generated}}
{{- if .Unsubscribe}}<br>
<a href="{{.Unsubscribe}}" style="color: #999;">Unsubscribe</a>
{{- end}}
</p>
</div>`

var emailTemplate = htmltemplate.Must(htmltemplate.New("email").Parse(
	`<!DOCTYPE html><html><head><meta charset="utf-8"></head><body>` + htmlBody + `</body></html>`))

var pageTemplate = htmltemplate.Must(htmltemplate.New("page").Parse(
	`<!DOCTYPE html><html><head><meta charset="utf-8"><title>{{.Name}}</title></head><body>` + htmlBody + `
<p style="text-align: center;"><a href="/">All digests</a></p></body></html>`))

var indexTemplate = htmltemplate.Must(htmltemplate.New("index").Parse(`<!DOCTYPE html><html><head><meta charset="utf-8"><title>Channel Digests</title></head>
<body style="max-width: 640px; margin: 0 auto; padding: 20px; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;">
<h1>Channel Digests</h1>
{{- if .}}
<ul>
{{- range .}}
<li><a href="/digests/{{.ID}}">{{.Name}}</a> ({{.Range}}, {{len .Entries}} uploads)</li>
{{- end}}
</ul>
{{- else}}
<p>No digest available yet. Check back later.</p>
{{- end}}
</body></html>`))

var textTemplate = texttemplate.Must(texttemplate.New("text").Parse(`{{.Name}}
{{.Range}}
{{- if .Themes}}

{{if eq .Cadence "weekly"}}THIS WEEK'S THEMES{{else if eq .Cadence "daily"}}TODAY'S THEMES{{else}}RECENT THEMES{{end}}
{{.Themes}}
{{- end}}

NEW UPLOADS ({{len .Entries}})
{{- range .Entries}}

{{.Index}}. {{.Title}}
   {{.Channel}} - {{.Views}} views
   {{.URL}}
{{- if .Guests}}
   Guest: {{.Guests}}
{{- end}}
{{- if .Topics}}
   Topics: {{.Topics}}
{{- end}}
{{- if .Sentiment}}
   Sentiment: {{.Sentiment}} {{.Emoji}}
{{- end}}
{{- else}}

No new uploads in this period.
{{- end}}

Generated {{.Generated}}
{{- if .Unsubscribe}}
Unsubscribe: {{.Unsubscribe}}
{{- end}}
`))

// RenderHTML renders the email body of a record.
func RenderHTML(r *digest.Record, unsubscribe string) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, newRecordView(r, unsubscribe)); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

// RenderText renders the plain text body of a record.
func RenderText(r *digest.Record, unsubscribe string) (string, error) {
	var buf bytes.Buffer
	if err := textTemplate.Execute(&buf, newRecordView(r, unsubscribe)); err != nil {
		return "", fmt.Errorf("render text: %w", err)
	}
	return buf.String(), nil
}

func generatedAt(r *digest.Record) time.Time {
	if r.GeneratedAt.IsZero() {
		return time.Now().UTC()
	}
	return r.GeneratedAt
}
