package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/bakkerme/dealwatch/internal/outputs/email"
	mail "github.com/wneessen/go-mail"
)

// TLSMode determines how the SMTP client negotiates TLS.
type TLSMode string

const (
	// TLSModeAuto picks implicit TLS on port 465 and STARTTLS elsewhere.
	TLSModeAuto     TLSMode = "auto"
	TLSModeDisabled TLSMode = "disabled"
	TLSModeStartTLS TLSMode = "starttls"
	TLSModeImplicit TLSMode = "implicit"
)

type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	TLSMode            string
	InsecureSkipVerify bool
}

type Sender struct {
	cfg  Config
	mode TLSMode
}

// NewSender validates cfg and resolves the TLS mode up front so a bad mode
// fails at startup rather than on the first alert.
func NewSender(cfg Config) (*Sender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("smtp port must be positive")
	}
	mode, err := ParseTLSMode(cfg.TLSMode)
	if err != nil {
		return nil, err
	}
	if mode == TLSModeAuto {
		mode = TLSModeStartTLS
		if cfg.Port == 465 {
			mode = TLSModeImplicit
		}
	}
	return &Sender{cfg: cfg, mode: mode}, nil
}

// Mode returns the resolved TLS mode.
func (s *Sender) Mode() TLSMode {
	return s.mode
}

func (s *Sender) Send(ctx context.Context, message email.Message) error {
	msg, err := s.buildMessage(message)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send email to %s: %w", message.To, err)
	}
	return nil
}

func (s *Sender) buildMessage(message email.Message) (*mail.Msg, error) {
	from := message.From
	if from == "" {
		from = s.cfg.Username
	}
	if from == "" {
		return nil, fmt.Errorf("email from address is required")
	}

	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", from, err)
	}
	if err := msg.EnvelopeFrom(from); err != nil {
		return nil, fmt.Errorf("invalid envelope from address %q: %w", from, err)
	}
	if err := msg.ToFromString(message.To); err != nil {
		return nil, fmt.Errorf("invalid to address(es) %q: %w", message.To, err)
	}
	msg.Subject(message.Subject)
	msg.SetDate()

	switch {
	case message.Text != "" && message.HTML != "":
		msg.SetBodyString(mail.TypeTextPlain, message.Text)
		msg.AddAlternativeString(mail.TypeTextHTML, message.HTML)
	case message.HTML != "":
		msg.SetBodyString(mail.TypeTextHTML, message.HTML)
	default:
		msg.SetBodyString(mail.TypeTextPlain, message.Text)
	}
	return msg, nil
}

func (s *Sender) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSConfig(&tls.Config{
			ServerName:         s.cfg.Host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: s.cfg.InsecureSkipVerify,
		}),
	}
	switch s.mode {
	case TLSModeDisabled:
		opts = append(opts, mail.WithTLSPortPolicy(mail.NoTLS))
	case TLSModeImplicit:
		opts = append(opts, mail.WithSSL())
	default:
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		)
	}
	return opts
}

// ParseTLSMode normalizes a configured TLS mode. Empty means auto.
func ParseTLSMode(raw string) (TLSMode, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "", "auto":
		return TLSModeAuto, nil
	case "disabled", "off", "none":
		return TLSModeDisabled, nil
	case "starttls", "start_tls":
		return TLSModeStartTLS, nil
	case "implicit", "ssl", "smtps":
		return TLSModeImplicit, nil
	default:
		return "", fmt.Errorf("invalid smtp tls mode %q (expected auto, disabled, starttls or implicit)", raw)
	}
}
