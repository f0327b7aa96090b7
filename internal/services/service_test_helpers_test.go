package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/teamshot/internal/database/testutil"
	"github.com/charlesng35/teamshot/internal/models"
	"github.com/charlesng35/teamshot/pkg/mail"
)

// testClock is a settable clock shared by the services under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingMailer captures invitation emails and fails for configured recipients.
type recordingMailer struct {
	mu     sync.Mutex
	sent   []mail.Invitation
	failTo map[string]error
}

func (m *recordingMailer) SendInvitation(_ context.Context, inv mail.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failTo[inv.To]; err != nil {
		return err
	}
	m.sent = append(m.sent, inv)
	return nil
}

func (m *recordingMailer) SendInvitations(ctx context.Context, invs []mail.Invitation) []mail.DeliveryResult {
	out := make([]mail.DeliveryResult, len(invs))
	for i, inv := range invs {
		out[i] = mail.DeliveryResult{To: inv.To, Err: m.SendInvitation(ctx, inv)}
	}
	return out
}

func (m *recordingMailer) Sent() []mail.Invitation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Invitation(nil), m.sent...)
}

var errMailboxDown = errors.New("smtp: 451 mailbox unavailable")

type fixture struct {
	db          *gorm.DB
	clock       *testClock
	mailer      *recordingMailer
	audit       *AuditService
	users       *UserService
	teams       *TeamService
	invitations *InvitationService
	credits     *CreditService
}

func newFixture(t *testing.T, creditOpts ...CreditOption) *fixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()
	mailer := &recordingMailer{failTo: map[string]error{}}

	audit, err := NewAuditService(db)
	require.NoError(t, err)
	users, err := NewUserService(db, audit)
	require.NoError(t, err)
	users.now = clock.Now
	teams, err := NewTeamService(db, audit, WithTeamClock(clock.Now))
	require.NoError(t, err)
	invitations, err := NewInvitationService(db, mailer, audit,
		WithInvitationClock(clock.Now),
		WithInvitationBaseURL("https://app.example.com/"),
	)
	require.NoError(t, err)
	credits, err := NewCreditService(db, audit, append([]CreditOption{WithCreditClock(clock.Now)}, creditOpts...)...)
	require.NoError(t, err)

	return &fixture{
		db:          db,
		clock:       clock,
		mailer:      mailer,
		audit:       audit,
		users:       users,
		teams:       teams,
		invitations: invitations,
		credits:     credits,
	}
}

func (f *fixture) user(t *testing.T, name, email string) *models.User {
	t.Helper()
	u, err := f.users.SignUp(context.Background(), SignUpInput{Name: name, Email: email, Password: "Sup3r$ecret"})
	require.NoError(t, err)
	return u
}

func (f *fixture) team(t *testing.T, owner *models.User, name string) *models.Team {
	t.Helper()
	team, err := f.teams.Create(context.Background(), owner.ID, CreateTeamInput{Name: name})
	require.NoError(t, err)
	return team
}

// join adds user to team through an accepted invitation, returning the membership.
func (f *fixture) join(t *testing.T, team *models.Team, inviter, user *models.User, role models.TeamRole) *models.Membership {
	t.Helper()
	ctx := context.Background()
	res, err := f.invitations.Create(ctx, inviter.ID, team.ID, user.Email, role)
	require.NoError(t, err)
	accepted, err := f.invitations.Accept(ctx, user.ID, res.Token())
	require.NoError(t, err)
	return accepted.Membership
}
