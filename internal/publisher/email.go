package publisher

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/config"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/metrics"
)

type sendFunc func(ctx context.Context, from string, to []string, msg []byte) error

// EmailPublisher sends the digest as a multipart email via SMTP, one message
// per recipient so each gets its own unsubscribe link.
type EmailPublisher struct {
	cfg    config.EmailConfig
	send   sendFunc
	logger zerolog.Logger
}

func NewEmailPublisher(cfg config.EmailConfig, logger zerolog.Logger) *EmailPublisher {
	p := &EmailPublisher{cfg: cfg, logger: logger}
	p.send = p.sendSMTP
	return p
}

// Publish succeeds when at least one recipient was reached.
func (p *EmailPublisher) Publish(ctx context.Context, record *digest.Record, recipients []string) error {
	if len(recipients) == 0 {
		return errors.New("email: no recipients")
	}
	from, err := mail.ParseAddress(p.cfg.From)
	if err != nil {
		return fmt.Errorf("email: invalid from address %q: %w", p.cfg.From, err)
	}

	var errs []error
	sent := 0
	for _, rcpt := range recipients {
		msg, err := p.buildMessage(record, from, rcpt)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rcpt, err))
			continue
		}

		start := time.Now()
		err = p.send(ctx, from.Address, []string{rcpt}, msg)
		metrics.ObserveNetworkRequest("smtp", "send", start, err)
		if err != nil {
			p.logger.Warn().Err(err).Str("digest", record.DigestID).Str("recipient", rcpt).Msg("email: send failed")
			errs = append(errs, fmt.Errorf("%s: %w", rcpt, err))
			continue
		}
		sent++
		p.logger.Info().Str("digest", record.DigestID).Str("recipient", rcpt).Msg("email: sent")
	}

	if sent == 0 {
		return fmt.Errorf("email: failed to send: %w", errors.Join(errs...))
	}
	return nil
}

func (p *EmailPublisher) buildMessage(record *digest.Record, from *mail.Address, rcpt string) ([]byte, error) {
	unsubscribe := UnsubscribeLink(p.cfg.UnsubscribeURL, record.DigestID, rcpt)
	text, err := RenderText(record, unsubscribe)
	if err != nil {
		return nil, err
	}
	html, err := RenderHTML(record, unsubscribe)
	if err != nil {
		return nil, err
	}

	var h mail.Header
	h.SetDate(generatedAt(record))
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{{Address: rcpt}})
	h.SetSubject(Subject(record))
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	if unsubscribe != "" {
		h.Set("List-Unsubscribe", "<"+unsubscribe+">")
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline: %w", err)
	}
	for _, part := range []struct{ contentType, body string }{
		{"text/plain", text},
		{"text/html", html},
	} {
		var ph mail.InlineHeader
		ph.SetContentType(part.contentType, map[string]string{"charset": "utf-8"})
		ph.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := iw.CreatePart(ph)
		if err != nil {
			return nil, fmt.Errorf("create %s part: %w", part.contentType, err)
		}
		if _, err := io.WriteString(w, part.body); err != nil {
			return nil, fmt.Errorf("write %s part: %w", part.contentType, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("close %s part: %w", part.contentType, err)
		}
	}
	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("close inline: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *EmailPublisher) sendSMTP(ctx context.Context, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(p.cfg.SMTPHost, strconv.Itoa(p.cfg.SMTPPort))
	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.SMTPHost)
	}

	if !p.cfg.ImplicitTLS {
		// SendMail upgrades with STARTTLS when the server offers it.
		return smtp.SendMail(addr, auth, from, to, msg)
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 30 * time.Second},
		Config:    &tls.Config{ServerName: p.cfg.SMTPHost},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	c, err := smtp.NewClient(conn, p.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end of data: %w", err)
	}
	return c.Quit()
}
