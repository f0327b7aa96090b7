package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

const defaultSMTPTimeout = 10 * time.Second

// ErrSMTPDisabled signals that SMTP delivery is disabled via configuration.
var ErrSMTPDisabled = errors.New("smtp: delivery disabled")

// Message is one outbound email. An empty From falls back to the configured sender.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Mailer delivers a single message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// BatchMailer delivers many messages over one connection. The returned slice holds one error per
// message, in input order.
type BatchMailer interface {
	Mailer
	SendBatch(ctx context.Context, msgs []Message) []error
}

// SMTPSettings capture the runtime configuration required by the SMTP mailer.
type SMTPSettings struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
	Timeout  time.Duration
}

func (s SMTPSettings) address() string {
	return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
}

func (s SMTPSettings) validate() error {
	if !s.Enabled {
		return nil
	}
	if strings.TrimSpace(s.Host) == "" {
		return errors.New("smtp: host is required when enabled")
	}
	if s.Port == 0 {
		return errors.New("smtp: port is required when enabled")
	}
	return nil
}

type smtpClient interface {
	Mail(string) error
	Rcpt(string) error
	Data() (io.WriteCloser, error)
	Reset() error
	Quit() error
	Close() error
	StartTLS(*tls.Config) error
	Auth(smtp.Auth) error
	Extension(string) (bool, string)
}

type (
	dialFunc func(ctx context.Context, cfg SMTPSettings) (net.Conn, smtpClient, error)
	authFunc func(client smtpClient, cfg SMTPSettings) error
)

// SMTPMailer sends mail through a single SMTP relay.
type SMTPMailer struct {
	cfg  SMTPSettings
	dial dialFunc
	auth authFunc
}

var _ BatchMailer = (*SMTPMailer)(nil)

// NewSMTPMailer validates cfg and returns a mailer for it. A disabled configuration is accepted and
// every send returns ErrSMTPDisabled.
func NewSMTPMailer(cfg SMTPSettings) (*SMTPMailer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	return &SMTPMailer{cfg: cfg, dial: dialSMTP, auth: plainAuth}, nil
}

// Send delivers msg on its own connection.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	return m.SendBatch(ctx, []Message{msg})[0]
}

// SendBatch opens one session, authenticates once and runs a MAIL/RCPT/DATA exchange per message.
// A rejected message is reset and the session moves on to the next one.
func (m *SMTPMailer) SendBatch(ctx context.Context, msgs []Message) []error {
	if ctx == nil {
		ctx = context.Background()
	}
	errs := make([]error, len(msgs))
	if len(msgs) == 0 {
		return errs
	}
	if !m.cfg.Enabled {
		for i := range errs {
			errs[i] = ErrSMTPDisabled
		}
		return errs
	}

	envelopes := make([]envelope, len(msgs))
	pending := 0
	for i, msg := range msgs {
		envelopes[i], errs[i] = m.envelopeFor(msg)
		if errs[i] == nil {
			pending++
		}
	}
	if pending == 0 {
		return errs
	}

	sess, err := m.open(ctx)
	if err != nil {
		fillPending(errs, err)
		return errs
	}
	defer sess.close()

	for i := range envelopes {
		if errs[i] != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		if err := sess.deliver(envelopes[i]); err != nil {
			errs[i] = err
			if rerr := sess.client.Reset(); rerr != nil {
				fillPending(errs[i+1:], fmt.Errorf("smtp: session lost after %s: %w", envelopes[i].to[0], rerr))
				return errs
			}
		}
	}
	return errs
}

// fillPending sets err on every slot that has no outcome yet.
func fillPending(errs []error, err error) {
	for i := range errs {
		if errs[i] == nil {
			errs[i] = err
		}
	}
}

type envelope struct {
	from string
	to   []string
	data string
}

func (m *SMTPMailer) envelopeFor(msg Message) (envelope, error) {
	recipients := uniqueAddresses(msg.To)
	if len(recipients) == 0 {
		return envelope{}, errors.New("smtp: at least one recipient is required")
	}

	from := strings.TrimSpace(msg.From)
	if from == "" {
		from = m.cfg.From
	}
	if from == "" {
		return envelope{}, errors.New("smtp: sender address is required")
	}
	if _, err := mail.ParseAddress(from); err != nil {
		return envelope{}, fmt.Errorf("smtp: invalid from address: %w", err)
	}
	for _, rcpt := range recipients {
		if _, err := mail.ParseAddress(rcpt); err != nil {
			return envelope{}, fmt.Errorf("smtp: invalid recipient address %q: %w", rcpt, err)
		}
	}

	return envelope{
		from: from,
		to:   recipients,
		data: formatMessage(from, recipients, msg.Subject, msg.Body),
	}, nil
}

type session struct {
	conn   net.Conn
	client smtpClient
}

func (m *SMTPMailer) open(ctx context.Context) (*session, error) {
	conn, client, err := m.dial(ctx, m.cfg)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok && conn != nil {
		_ = conn.SetDeadline(deadline)
	}
	if err := m.auth(client, m.cfg); err != nil {
		_ = client.Close()
		if conn != nil {
			_ = conn.Close()
		}
		return nil, err
	}
	return &session{conn: conn, client: client}, nil
}

func (s *session) deliver(env envelope) error {
	if err := s.client.Mail(env.from); err != nil {
		return fmt.Errorf("smtp: mail from: %w", err)
	}
	for _, rcpt := range env.to {
		if err := s.client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp: rcpt to %s: %w", rcpt, err)
		}
	}

	wc, err := s.client.Data()
	if err != nil {
		return fmt.Errorf("smtp: data command: %w", err)
	}
	if _, err := io.WriteString(wc, env.data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("smtp: write body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp: close data writer: %w", err)
	}
	return nil
}

func (s *session) close() {
	_ = s.client.Quit()
	_ = s.client.Close()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func dialSMTP(ctx context.Context, cfg SMTPSettings) (net.Conn, smtpClient, error) {
	address := cfg.address()
	dialer := &net.Dialer{Timeout: cfg.Timeout}

	var (
		conn net.Conn
		err  error
	)
	if cfg.UseTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: cfg.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("smtp: dial %s: %w", address, err)
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("smtp: new client: %w", err)
	}

	if !cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
				_ = client.Close()
				_ = conn.Close()
				return nil, nil, fmt.Errorf("smtp: start tls: %w", err)
			}
		}
	}
	return conn, client, nil
}

func plainAuth(client smtpClient, cfg SMTPSettings) error {
	if strings.TrimSpace(cfg.Username) == "" {
		return nil
	}
	if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
		return fmt.Errorf("smtp: auth: %w", err)
	}
	return nil
}

func uniqueAddresses(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	var result []string
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, exists := seen[addr]; exists {
			continue
		}
		seen[addr] = struct{}{}
		result = append(result, addr)
	}
	return result
}

func formatMessage(from string, to []string, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", escapeHeader(subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

func escapeHeader(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}
