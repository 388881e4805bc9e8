package publisher

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
)

// StdoutPublisher prints the digest as plain text.
type StdoutPublisher struct {
	out io.Writer
}

// NewStdoutPublisher writes to w, or os.Stdout when w is nil.
func NewStdoutPublisher(w io.Writer) *StdoutPublisher {
	return &StdoutPublisher{out: w}
}

func (p *StdoutPublisher) Publish(_ context.Context, record *digest.Record, recipients []string) error {
	out := p.out
	if out == nil {
		out = os.Stdout
	}

	body, err := RenderText(record, "")
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(strings.Repeat("=", 72))
	b.WriteByte('\n')
	fmt.Fprintf(&b, "Subject: %s\n", Subject(record))
	if len(recipients) > 0 {
		fmt.Fprintf(&b, "To: %s\n", strings.Join(recipients, ", "))
	}
	b.WriteString(strings.Repeat("=", 72))
	b.WriteString("\n\n")
	b.WriteString(body)
	b.WriteString(strings.Repeat("=", 72))
	b.WriteByte('\n')

	if _, err := io.WriteString(out, b.String()); err != nil {
		return fmt.Errorf("stdout: %w", err)
	}
	return nil
}
