package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/teamshot/pkg/logger"
)

// Invitation describes a team invitation email.
type Invitation struct {
	To          string
	TeamName    string
	InviterName string
	Role        string
	URL         string
	ExpiresAt   time.Time
}

// DeliveryResult reports the outcome of a single invitation in a batch.
type DeliveryResult struct {
	To  string
	Err error
}

// InvitationSender renders invitation emails and hands them to a Mailer.
type InvitationSender struct {
	mailer Mailer
	log    *zap.Logger
}

// NewInvitationSender constructs an InvitationSender backed by mailer.
func NewInvitationSender(mailer Mailer) (*InvitationSender, error) {
	if mailer == nil {
		return nil, errors.New("invitation sender: mailer is required")
	}
	return &InvitationSender{mailer: mailer, log: logger.WithModule("mail")}, nil
}

// SendInvitation delivers a single invitation email.
func (s *InvitationSender) SendInvitation(ctx context.Context, inv Invitation) error {
	return s.mailer.Send(ctx, invitationMessage(inv))
}

// SendInvitations reports one result per recipient, in input order. A mailer that implements
// BatchMailer gets the whole batch in one session; otherwise each invitation is sent on its own.
// A failed delivery never stops the remaining ones.
func (s *InvitationSender) SendInvitations(ctx context.Context, invs []Invitation) []DeliveryResult {
	results := make([]DeliveryResult, len(invs))
	if len(invs) == 0 {
		return results
	}

	if batch, ok := s.mailer.(BatchMailer); ok {
		msgs := make([]Message, len(invs))
		for i, inv := range invs {
			msgs[i] = invitationMessage(inv)
		}
		errs := batch.SendBatch(ctx, msgs)
		for i, inv := range invs {
			results[i] = DeliveryResult{To: inv.To, Err: errs[i]}
		}
	} else {
		for i, inv := range invs {
			results[i].To = inv.To
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				continue
			}
			results[i].Err = s.SendInvitation(ctx, inv)
		}
	}

	var failed error
	for _, r := range results {
		if r.Err != nil {
			failed = multierr.Append(failed, fmt.Errorf("%s: %w", r.To, r.Err))
		}
	}
	if failed != nil {
		s.log.Warn("invitation batch had delivery failures",
			zap.Int("total", len(results)),
			zap.Int("failed", len(multierr.Errors(failed))),
			zap.Error(failed),
		)
	}
	return results
}

func invitationMessage(inv Invitation) Message {
	return Message{
		To:      []string{inv.To},
		Subject: invitationSubject(inv),
		Body:    invitationBody(inv),
	}
}

func invitationSubject(inv Invitation) string {
	team := strings.TrimSpace(inv.TeamName)
	if team == "" {
		return "You have been invited to join a team"
	}
	return fmt.Sprintf("You have been invited to join %s", team)
}

func invitationBody(inv Invitation) string {
	var b strings.Builder
	inviter := strings.TrimSpace(inv.InviterName)
	if inviter == "" {
		inviter = "A teammate"
	}
	fmt.Fprintf(&b, "%s invited you to join %s", inviter, inv.TeamName)
	if inv.Role != "" {
		fmt.Fprintf(&b, " as %s", inv.Role)
	}
	b.WriteString(".\r\n\r\n")
	fmt.Fprintf(&b, "Accept the invitation: %s\r\n", inv.URL)
	if !inv.ExpiresAt.IsZero() {
		fmt.Fprintf(&b, "\r\nThis invitation expires on %s.\r\n", inv.ExpiresAt.UTC().Format("January 2, 2006 15:04 MST"))
	}
	b.WriteString("\r\nIf you were not expecting this invitation you can ignore this email.\r\n")
	return b.String()
}
