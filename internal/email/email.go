// Package email sends lead notification emails over SMTP.
package email

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// DefaultSMTPPort is the submission port used when none is configured.
const DefaultSMTPPort = 587

// SettingsReader provides access to operator-configured settings.
type SettingsReader interface {
	GetSetting(key string) (string, error)
}

// mailClient defines the minimal SMTP send interface, so tests can
// substitute a mock transport.
type mailClient interface {
	DialAndSendWithContext(ctx context.Context, msgs ...*mail.Msg) error
}

// Opts holds configuration options for the email sender.
type Opts struct {
	Host     string
	Port     int
	Username string
	Password string
	// From is the sender address.
	From string
	// DefaultRecipient receives notifications when no recipient setting is stored.
	DefaultRecipient string
}

// Option defines a functional option for email sender configuration.
type Option func(*Opts)

// WithSMTPHost sets the SMTP server hostname.
func WithSMTPHost(host string) Option {
	return func(o *Opts) { o.Host = host }
}

// WithSMTPPort sets the SMTP server port.
func WithSMTPPort(port int) Option {
	return func(o *Opts) { o.Port = port }
}

// WithCredentials sets the SMTP username and password.
func WithCredentials(username, password string) Option {
	return func(o *Opts) {
		o.Username = username
		o.Password = password
	}
}

// WithFrom sets the sender address.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithDefaultRecipient sets the fallback notification recipient.
func WithDefaultRecipient(to string) Option {
	return func(o *Opts) { o.DefaultRecipient = to }
}

// Sender delivers lead notification emails. Settings gate delivery at send
// time: the master switch can disable all sends, and the recipient setting
// overrides the configured fallback.
type Sender struct {
	client           mailClient
	settings         SettingsReader
	from             string
	defaultRecipient string
}

// NewSender creates an SMTP-backed notification sender.
func NewSender(settings SettingsReader, opts ...Option) (*Sender, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host not set")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("sender address not set")
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultSMTPPort
	}

	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	slog.Debug("Email.NewSender: sender configured", "host", cfg.Host, "port", port, "from", cfg.From)

	return &Sender{
		client:           client,
		settings:         settings,
		from:             cfg.From,
		defaultRecipient: cfg.DefaultRecipient,
	}, nil
}

var bodyTemplate = template.Must(template.New("lead").Parse(`<html>
<body>
<h2>New Lead Collected</h2>
<table border="0" cellpadding="4">
<tr><td><b>Name</b></td><td>{{.Name}}</td></tr>
<tr><td><b>Email</b></td><td>{{.Email}}</td></tr>
<tr><td><b>Income</b></td><td>{{.Income}}</td></tr>
</table>
<p>Session {{.ID}} started {{.CreatedAt.Format "2006-01-02 15:04:05 MST"}}{{if .CompletedAt}}, completed {{.CompletedAt.Format "2006-01-02 15:04:05 MST"}}{{end}}.</p>
<p>{{len .Turns}} conversation entries recorded.</p>
</body>
</html>`))

// SendSessionData emails the collected session fields to the configured
// recipient. Delivery is skipped without error when the master
// notification switch is off.
func (s *Sender) SendSessionData(ctx context.Context, sess models.Session) error {
	enabled, err := s.settings.GetSetting(models.SettingEmailNotificationsEnabled)
	if err != nil {
		return fmt.Errorf("failed to read notification setting: %w", err)
	}
	if enabled == "false" {
		slog.Info("Email.SendSessionData: notifications disabled, skipping send", "sessionID", sess.ID)
		return nil
	}

	recipient, err := s.settings.GetSetting(models.SettingRecipientEmail)
	if err != nil {
		return fmt.Errorf("failed to read recipient setting: %w", err)
	}
	if recipient == "" {
		recipient = s.defaultRecipient
	}
	if recipient == "" {
		return fmt.Errorf("no notification recipient configured: %w", models.ErrInvalidRecipient)
	}

	var body strings.Builder
	if err := bodyTemplate.Execute(&body, sess); err != nil {
		return fmt.Errorf("failed to render notification body: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(recipient); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(fmt.Sprintf("New lead collected: %s", sess.Name))
	msg.SetBodyString(mail.TypeTextHTML, body.String())

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		slog.Error("Email.SendSessionData: send failed", "error", err, "sessionID", sess.ID, "to", recipient)
		return fmt.Errorf("failed to send notification email: %w", err)
	}
	slog.Info("Email.SendSessionData: notification sent", "sessionID", sess.ID, "to", recipient)
	return nil
}
