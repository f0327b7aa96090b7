package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClient records the SMTP exchange and rejects configured recipients at RCPT.
type fakeClient struct {
	rejectRcpt map[string]error
	resetErr   error

	from     []string
	rcpt     []string
	bodies   []string
	resets   int
	quit     bool
	closed   bool
	authed   bool
	inFlight *bytes.Buffer
}

func (c *fakeClient) Mail(from string) error {
	c.from = append(c.from, from)
	return nil
}

func (c *fakeClient) Rcpt(to string) error {
	if err := c.rejectRcpt[to]; err != nil {
		return err
	}
	c.rcpt = append(c.rcpt, to)
	return nil
}

func (c *fakeClient) Data() (io.WriteCloser, error) {
	c.inFlight = &bytes.Buffer{}
	return dataWriter{c}, nil
}

func (c *fakeClient) Reset() error {
	c.resets++
	return c.resetErr
}

func (c *fakeClient) Quit() error                     { c.quit = true; return nil }
func (c *fakeClient) Close() error                    { c.closed = true; return nil }
func (c *fakeClient) StartTLS(*tls.Config) error      { return nil }
func (c *fakeClient) Auth(smtp.Auth) error            { c.authed = true; return nil }
func (c *fakeClient) Extension(string) (bool, string) { return false, "" }

type dataWriter struct{ c *fakeClient }

func (w dataWriter) Write(p []byte) (int, error) { return w.c.inFlight.Write(p) }

func (w dataWriter) Close() error {
	w.c.bodies = append(w.c.bodies, w.c.inFlight.String())
	return nil
}

func newTestMailer(t *testing.T, client *fakeClient, dials *int) *SMTPMailer {
	t.Helper()
	m, err := NewSMTPMailer(SMTPSettings{
		Enabled:  true,
		Host:     "smtp.example.com",
		Port:     587,
		Username: "relay",
		Password: "secret",
		From:     "invites@teamshot.app",
	})
	require.NoError(t, err)
	m.dial = func(context.Context, SMTPSettings) (net.Conn, smtpClient, error) {
		*dials++
		return nil, client, nil
	}
	return m
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.ErrorContains(t, err, "host is required")

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com"})
	require.ErrorContains(t, err, "port is required")

	m, err := NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 465, UseTLS: true})
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, m.cfg.Timeout)
	require.Equal(t, "smtp.example.com:465", m.cfg.address())
}

func TestSMTPMailerDisabled(t *testing.T) {
	m, err := NewSMTPMailer(SMTPSettings{})
	require.NoError(t, err)

	err = m.Send(context.Background(), Message{To: []string{"bo@example.com"}})
	require.ErrorIs(t, err, ErrSMTPDisabled)

	errs := m.SendBatch(context.Background(), []Message{{To: []string{"a@example.com"}}, {To: []string{"b@example.com"}}})
	require.Len(t, errs, 2)
	for _, err := range errs {
		require.ErrorIs(t, err, ErrSMTPDisabled)
	}
}

func TestSMTPMailerSendValidatesAddresses(t *testing.T) {
	client := &fakeClient{}
	dials := 0
	m := newTestMailer(t, client, &dials)
	ctx := context.Background()

	require.ErrorContains(t, m.Send(ctx, Message{To: []string{"  ", "\t"}}), "at least one recipient")
	require.ErrorContains(t, m.Send(ctx, Message{From: "invalid-from", To: []string{"bo@example.com"}}), "invalid from address")
	require.ErrorContains(t, m.Send(ctx, Message{To: []string{"bo@example.com", "bad-address"}}), "invalid recipient address")
	require.Zero(t, dials)
}

func TestSMTPMailerSendDeliversOneMessage(t *testing.T) {
	client := &fakeClient{}
	dials := 0
	m := newTestMailer(t, client, &dials)

	err := m.Send(context.Background(), Message{
		To:      []string{"bo@example.com", " bo@example.com "},
		Subject: "Join Studio",
		Body:    "Accept the invitation",
	})
	require.NoError(t, err)
	require.Equal(t, 1, dials)
	require.True(t, client.authed)
	require.Equal(t, []string{"invites@teamshot.app"}, client.from)
	require.Equal(t, []string{"bo@example.com"}, client.rcpt)
	require.Len(t, client.bodies, 1)
	require.Contains(t, client.bodies[0], "Subject: Join Studio\r\n")
	require.True(t, client.quit)
	require.True(t, client.closed)
}

func TestSMTPMailerSendBatchUsesOneSession(t *testing.T) {
	rejected := errors.New("550 mailbox unavailable")
	client := &fakeClient{rejectRcpt: map[string]error{"gone@example.com": rejected}}
	dials := 0
	m := newTestMailer(t, client, &dials)

	errs := m.SendBatch(context.Background(), []Message{
		{To: []string{"a@example.com"}, Subject: "one"},
		{To: []string{"gone@example.com"}, Subject: "two"},
		{To: []string{"not-an-address"}, Subject: "three"},
		{To: []string{"c@example.com"}, Subject: "four"},
	})

	require.Len(t, errs, 4)
	require.NoError(t, errs[0])
	require.ErrorIs(t, errs[1], rejected)
	require.ErrorContains(t, errs[2], "invalid recipient address")
	require.NoError(t, errs[3])

	require.Equal(t, 1, dials)
	require.Equal(t, 1, client.resets)
	require.Equal(t, []string{"a@example.com", "c@example.com"}, client.rcpt)
	require.Len(t, client.bodies, 2)
	require.Contains(t, client.bodies[1], "Subject: four")
}

func TestSMTPMailerSendBatchStopsWhenSessionIsLost(t *testing.T) {
	dropped := errors.New("421 closing connection")
	client := &fakeClient{
		rejectRcpt: map[string]error{"a@example.com": errors.New("452 too many recipients")},
		resetErr:   dropped,
	}
	dials := 0
	m := newTestMailer(t, client, &dials)

	errs := m.SendBatch(context.Background(), []Message{
		{To: []string{"a@example.com"}},
		{To: []string{"b@example.com"}},
	})
	require.Error(t, errs[0])
	require.ErrorIs(t, errs[1], dropped)
	require.Empty(t, client.bodies)
}

func TestSMTPMailerSendBatchDialFailure(t *testing.T) {
	m, err := NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 25, From: "invites@teamshot.app"})
	require.NoError(t, err)
	unreachable := errors.New("smtp: dial smtp.example.com:25: connection refused")
	m.dial = func(context.Context, SMTPSettings) (net.Conn, smtpClient, error) {
		return nil, nil, unreachable
	}

	errs := m.SendBatch(context.Background(), []Message{
		{To: []string{"a@example.com"}},
		{To: []string{"bad"}},
	})
	require.ErrorIs(t, errs[0], unreachable)
	require.ErrorContains(t, errs[1], "invalid recipient address")
}

func TestSMTPMailerSendBatchHonoursCancellation(t *testing.T) {
	client := &fakeClient{}
	dials := 0
	m := newTestMailer(t, client, &dials)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	errs := m.SendBatch(ctx, []Message{{To: []string{"a@example.com"}}})
	require.ErrorIs(t, errs[0], context.Canceled)
	require.Empty(t, client.bodies)
}

func TestFormatMessage(t *testing.T) {
	content := formatMessage("from@example.com", []string{"to@example.com", "cc@example.com"}, "Subject\r\nBreak", "Body")
	require.True(t, strings.HasPrefix(content, "From: from@example.com\r\n"))
	require.Contains(t, content, "To: to@example.com, cc@example.com\r\n")
	require.Contains(t, content, "Subject: Subject  Break\r\n")
	require.True(t, strings.HasSuffix(content, "\r\n\r\nBody"))
}

func TestUniqueAddresses(t *testing.T) {
	result := uniqueAddresses([]string{"alice@example.com", "bob@example.com", " alice@example.com ", "", "bob@example.com"})
	require.Equal(t, []string{"alice@example.com", "bob@example.com"}, result)
}
