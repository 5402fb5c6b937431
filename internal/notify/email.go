package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

const implicitTLSPort = 465

// EmailConfig holds the SMTP account used to send reports.
type EmailConfig struct {
	From     string
	Password string
	Server   string
	Port     int
	To       []string
	Timeout  time.Duration
}

// EmailNotifier sends reports over SMTP. Port 465 uses implicit TLS; other
// ports upgrade with STARTTLS when the server offers it.
type EmailNotifier struct {
	cfg       EmailConfig
	tlsConfig *tls.Config
	log       *zap.Logger
}

// ParseRecipients splits a comma separated address list.
func ParseRecipients(s string) []string {
	var out []string
	for _, addr := range strings.Split(s, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func NewEmailNotifier(cfg EmailConfig, log *zap.Logger) *EmailNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Port == 0 {
		cfg.Port = implicitTLSPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	log.Info("email notifier initialized", zap.String("from", cfg.From))
	return &EmailNotifier{
		cfg:       cfg,
		tlsConfig: &tls.Config{ServerName: cfg.Server, MinVersion: tls.VersionTLS12},
		log:       log,
	}
}

func (n *EmailNotifier) Notify(ctx context.Context, r Report) error {
	if len(n.cfg.To) == 0 {
		return fmt.Errorf("Notify(): no recipients")
	}
	subject := Subject(r)
	n.log.Info("sending email", zap.Strings("to", n.cfg.To), zap.String("subject", subject))

	msg, err := buildMessage(n.cfg.From, n.cfg.To, subject, Body(r), time.Now())
	if err != nil {
		return fmt.Errorf("Notify(): %w", err)
	}
	if err := n.send(ctx, msg); err != nil {
		n.log.Error("email sending failed", zap.Error(err))
		return fmt.Errorf("Notify(): %w", err)
	}
	n.log.Info("email sent", zap.Strings("to", n.cfg.To))
	return nil
}

// clientOptions maps the account settings onto go-mail. Port 465 dials TLS
// directly; other ports use STARTTLS only when the server offers it.
func (n *EmailNotifier) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithTimeout(n.cfg.Timeout),
		mail.WithTLSConfig(n.tlsConfig),
	}
	if n.cfg.Port == implicitTLSPort {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if n.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.From),
			mail.WithPassword(n.cfg.Password))
	}
	return append(opts, mail.WithPort(n.cfg.Port))
}

func (n *EmailNotifier) send(ctx context.Context, msg *mail.Msg) error {
	addr := net.JoinHostPort(n.cfg.Server, strconv.Itoa(n.cfg.Port))
	client, err := mail.NewClient(n.cfg.Server, n.clientOptions()...)
	if err != nil {
		return fmt.Errorf("send(): %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send(): %s: %w", addr, err)
	}
	return nil
}

func buildMessage(from string, to []string, subject, body string, now time.Time) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("buildMessage(): sender %q: %w", from, err)
	}
	if err := m.To(to...); err != nil {
		return nil, fmt.Errorf("buildMessage(): recipients %s: %w", strings.Join(to, ", "), err)
	}
	m.Subject(subject)
	m.SetDateWithValue(now)
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}
