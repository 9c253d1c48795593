package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Retry configuration for a single dispatch.
const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// ErrNoRecipients is returned when an SMTP notifier has nobody to mail.
var ErrNoRecipients = errors.New("no alert recipients configured")

// SMTPConfig holds mail relay settings.
type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	To       []string      `mapstructure:"to"`
	CC       string        `mapstructure:"cc"`
	TLS      string        `mapstructure:"tls"` // mandatory, opportunistic, none or ssl
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a relay host is configured.
func (c SMTPConfig) Enabled() bool { return c.Host != "" }

// SMTPNotifier sends alerts through an SMTP relay using go-mail. Transient
// failures are retried with backoff inside a single Send.
type SMTPNotifier struct {
	cfg    SMTPConfig
	logger *zap.Logger

	// deliver is replaced in tests.
	deliver func(ctx context.Context, msg *mail.Msg) error

	attempts uint
	delay    time.Duration
	maxDelay time.Duration
}

// NewSMTPNotifier validates cfg and creates an SMTPNotifier.
func NewSMTPNotifier(cfg SMTPConfig, logger *zap.Logger) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp sender is required")
	}
	if len(cfg.To) == 0 && cfg.CC == "" {
		return nil, ErrNoRecipients
	}
	if cfg.Port == 0 {
		cfg.Port = mail.DefaultPortTLS
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	n := &SMTPNotifier{
		cfg:      cfg,
		logger:   logger,
		attempts: maxRetries,
		delay:    initialBackoff,
		maxDelay: maxBackoff,
	}
	n.deliver = n.dialAndSend
	return n, nil
}

// Send builds the mail and delivers it, retrying transient failures.
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	m, err := n.build(msg)
	if err != nil {
		return err
	}

	attempt := 0
	err = retry.Do(func() error {
		attempt++
		if sendErr := n.deliver(ctx, m); sendErr != nil {
			n.logger.Debug("smtp delivery attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(sendErr),
			)
			return sendErr
		}
		return nil
	},
		retry.Attempts(n.attempts),
		retry.Delay(n.delay),
		retry.MaxDelay(n.maxDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("send alert %q: %w", msg.Subject, err)
	}
	return nil
}

func (n *SMTPNotifier) build(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(n.cfg.From); err != nil {
		return nil, fmt.Errorf("alert sender: %w", err)
	}
	if len(n.cfg.To) > 0 {
		if err := m.To(n.cfg.To...); err != nil {
			return nil, fmt.Errorf("alert recipients: %w", err)
		}
	}
	if n.cfg.CC != "" {
		if err := m.Cc(n.cfg.CC); err != nil {
			return nil, fmt.Errorf("alert cc: %w", err)
		}
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, msg.Body())
	return m, nil
}

func (n *SMTPNotifier) dialAndSend(ctx context.Context, m *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(n.cfg.Port),
		mail.WithTimeout(n.cfg.Timeout),
	}
	switch strings.ToLower(n.cfg.TLS) {
	case "mandatory":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	case "ssl":
		opts = append(opts, mail.WithSSL())
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if n.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.Username),
			mail.WithPassword(n.cfg.Password),
		)
	}

	client, err := mail.NewClient(n.cfg.Host, opts...)
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("smtp client: %w", err))
	}
	return client.DialAndSendWithContext(ctx, m)
}
