package publisher

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/config"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
)

// Publisher delivers a digest record to some output destination.
type Publisher interface {
	Publish(ctx context.Context, record *digest.Record, recipients []string) error
}

// ErrUnsupportedPublisherType is returned for an unknown publisher type.
var ErrUnsupportedPublisherType = errors.New("unsupported publisher type")

// Multi fans a record out to several publishers. Recipient publishers hand
// the digest to its readers and decide the outcome: Publish fails when none of
// them succeeded. Mirrors (web, discord) are best effort and their errors are
// only logged. Without any recipient publisher, the mirrors decide instead.
type Multi struct {
	recipients []named
	mirrors    []named
	web        *WebPublisher
	logger     zerolog.Logger
}

type named struct {
	name string
	pub  Publisher
}

// New builds the publishers named in cfg.Types. Email is the recipient
// publisher when configured; stdout takes that role only without email.
func New(cfg config.PublisherConfig, logger zerolog.Logger) (*Multi, error) {
	m := &Multi{logger: logger.With().Str("component", "publisher").Logger()}
	hasEmail := slices.Contains(cfg.Types, "email")
	for _, typ := range cfg.Types {
		switch typ {
		case "stdout":
			if hasEmail {
				m.AddMirror(typ, NewStdoutPublisher(nil))
			} else {
				m.Add(typ, NewStdoutPublisher(nil))
			}
		case "email":
			m.Add(typ, NewEmailPublisher(cfg.Email, m.logger))
		case "web":
			m.web = NewWebPublisher(cfg.Web.Addr, m.logger)
			m.AddMirror(typ, m.web)
		case "discord":
			m.AddMirror(typ, NewDiscordPublisher(cfg.Discord.WebhookURL))
		default:
			return nil, fmt.Errorf("%w: %w: %q", digest.ErrConfiguration, ErrUnsupportedPublisherType, typ)
		}
	}
	return m, nil
}

// NewMulti wraps existing recipient publishers, named by position.
func NewMulti(logger zerolog.Logger, pubs ...Publisher) *Multi {
	m := &Multi{logger: logger}
	for i, p := range pubs {
		m.Add(fmt.Sprintf("publisher-%d", i+1), p)
	}
	return m
}

// Add appends a recipient publisher.
func (m *Multi) Add(name string, p Publisher) {
	m.recipients = append(m.recipients, named{name: name, pub: p})
}

// AddMirror appends a best-effort publisher.
func (m *Multi) AddMirror(name string, p Publisher) {
	m.mirrors = append(m.mirrors, named{name: name, pub: p})
}

// Web returns the web publisher when one is configured.
func (m *Multi) Web() *WebPublisher {
	return m.web
}

// Len reports the number of publishers.
func (m *Multi) Len() int {
	return len(m.recipients) + len(m.mirrors)
}

// Publish delivers to every publisher and reports an ErrDelivery when no
// recipient publisher succeeded.
func (m *Multi) Publish(ctx context.Context, record *digest.Record, recipients []string) error {
	if m.Len() == 0 {
		return fmt.Errorf("%w: no publishers configured", digest.ErrDelivery)
	}

	primary, mirrors := m.recipients, m.mirrors
	if len(primary) == 0 {
		primary, mirrors = m.mirrors, nil
	}

	var errs []error
	for _, p := range primary {
		if err := m.publishOne(ctx, p, record, recipients); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
		}
	}
	if len(errs) == len(primary) {
		return fmt.Errorf("%w: all publishers failed: %w", digest.ErrDelivery, errors.Join(errs...))
	}
	if len(errs) > 0 {
		m.logger.Warn().Int("failed", len(errs)).Int("total", len(primary)).Str("digest", record.DigestID).
			Msg("delivered with publisher failures")
	}

	for _, p := range mirrors {
		_ = m.publishOne(ctx, p, record, recipients)
	}
	return nil
}

func (m *Multi) publishOne(ctx context.Context, p named, record *digest.Record, recipients []string) error {
	if err := p.pub.Publish(ctx, record, recipients); err != nil {
		m.logger.Warn().Err(err).Str("publisher", p.name).Str("digest", record.DigestID).Msg("publish failed")
		return err
	}
	m.logger.Debug().Str("publisher", p.name).Str("digest", record.DigestID).Msg("published")
	return nil
}
