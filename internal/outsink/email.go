package outsink

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"

	"github.com/rakunlabs/loom/internal/wfexternal"
)

// EmailConfig mirrors the teacher's SMTP NodeConfig (nodes/email.go)
// fields that matter for a fixed notification sink rather than a
// per-node templated message.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Subject  string
	NoTLS    bool
	Insecure bool
}

// EmailSink sends every output message as a plain-text email.
type EmailSink struct {
	cfg EmailConfig
}

func NewEmailSink(cfg EmailConfig) *EmailSink {
	return &EmailSink{cfg: cfg}
}

var _ Sink = (*EmailSink)(nil)

func (s *EmailSink) Send(_ context.Context, msg wfexternal.OutputMessage) error {
	body, err := renderText(msg.Value)
	if err != nil {
		return fmt.Errorf("outsink/email: %w", err)
	}

	m := gomail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return fmt.Errorf("outsink/email: from: %w", err)
	}
	if err := m.To(s.cfg.To...); err != nil {
		return fmt.Errorf("outsink/email: to: %w", err)
	}
	subject := s.cfg.Subject
	if subject == "" {
		subject = fmt.Sprintf("loom output: %s", msg.Label)
	}
	m.Subject(subject)
	m.SetBodyString(gomail.TypeTextPlain, body)

	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithUsername(s.cfg.Username),
		gomail.WithPassword(s.cfg.Password),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
	}
	if s.cfg.NoTLS {
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	}
	if s.cfg.Insecure {
		opts = append(opts, gomail.WithTLSConfig(nil))
	}

	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("outsink/email: client: %w", err)
	}
	if err := client.DialAndSend(m); err != nil {
		return fmt.Errorf("outsink/email: send: %w", err)
	}
	return nil
}
