package mail

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureMailer struct {
	mu     sync.Mutex
	sent   []Message
	failTo map[string]error
}

func (m *captureMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failTo[msg.To[0]]; err != nil {
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestSendInvitationRendersMessage(t *testing.T) {
	capture := &captureMailer{}
	sender, err := NewInvitationSender(capture)
	require.NoError(t, err)

	expires := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	err = sender.SendInvitation(context.Background(), Invitation{
		To:          "bo@example.com",
		TeamName:    "Studio",
		InviterName: "Ana",
		Role:        "member",
		URL:         "https://app.example.com/invite/abc",
		ExpiresAt:   expires,
	})
	require.NoError(t, err)
	require.Len(t, capture.sent, 1)

	msg := capture.sent[0]
	require.Equal(t, []string{"bo@example.com"}, msg.To)
	require.Equal(t, "You have been invited to join Studio", msg.Subject)
	require.True(t, strings.HasPrefix(msg.Body, "Ana invited you to join Studio as member."))
	require.Contains(t, msg.Body, "https://app.example.com/invite/abc")
	require.Contains(t, msg.Body, "May 1, 2025")
}

func TestSendInvitationsReportsPerRecipient(t *testing.T) {
	boom := errors.New("mailbox unavailable")
	capture := &captureMailer{failTo: map[string]error{"b@example.com": boom}}
	sender, err := NewInvitationSender(capture)
	require.NoError(t, err)

	results := sender.SendInvitations(context.Background(), []Invitation{
		{To: "a@example.com", TeamName: "Studio"},
		{To: "b@example.com", TeamName: "Studio"},
		{To: "c@example.com", TeamName: "Studio"},
	})

	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.ErrorIs(t, results[1].Err, boom)
	require.NoError(t, results[2].Err)
	require.Equal(t, "b@example.com", results[1].To)
	require.Len(t, capture.sent, 2)
}

func TestSendInvitationsStopsOnCancelledContext(t *testing.T) {
	capture := &captureMailer{}
	sender, err := NewInvitationSender(capture)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := sender.SendInvitations(ctx, []Invitation{{To: "a@example.com"}})
	require.ErrorIs(t, results[0].Err, context.Canceled)
	require.Empty(t, capture.sent)
}

func TestNewInvitationSenderRequiresMailer(t *testing.T) {
	_, err := NewInvitationSender(nil)
	require.Error(t, err)
}

type sessionMailer struct {
	captureMailer
	batches int
}

func (m *sessionMailer) SendBatch(ctx context.Context, msgs []Message) []error {
	m.batches++
	errs := make([]error, len(msgs))
	for i, msg := range msgs {
		errs[i] = m.Send(ctx, msg)
	}
	return errs
}

func TestSendInvitationsUsesBatchSession(t *testing.T) {
	boom := errors.New("550 mailbox unavailable")
	batch := &sessionMailer{captureMailer: captureMailer{failTo: map[string]error{"b@example.com": boom}}}
	sender, err := NewInvitationSender(batch)
	require.NoError(t, err)

	results := sender.SendInvitations(context.Background(), []Invitation{
		{To: "a@example.com", TeamName: "Studio"},
		{To: "b@example.com", TeamName: "Studio"},
	})

	require.Equal(t, 1, batch.batches)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.ErrorIs(t, results[1].Err, boom)
	require.Equal(t, "b@example.com", results[1].To)
	require.Len(t, batch.sent, 1)
	require.Equal(t, "You have been invited to join Studio", batch.sent[0].Subject)
}
