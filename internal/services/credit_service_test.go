package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/teamshot/internal/models"
	apperrors "github.com/charlesng35/teamshot/pkg/errors"
)

type creditTeam struct {
	owner, admin, member *models.User
	team                 *models.Team
}

func newCreditTeam(t *testing.T, f *fixture) creditTeam {
	t.Helper()
	ct := creditTeam{
		owner:  f.user(t, "Ana", "ana@example.com"),
		admin:  f.user(t, "Bo", "bo@example.com"),
		member: f.user(t, "Cy", "cy@example.com"),
	}
	ct.team = f.team(t, ct.owner, "Studio")
	f.join(t, ct.team, ct.owner, ct.admin, models.TeamRoleAdmin)
	f.join(t, ct.team, ct.owner, ct.member, models.TeamRoleMember)
	return ct
}

func TestCreditServiceGrantIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ct := newCreditTeam(t, f)

	first, err := f.credits.GrantCredits(ctx, ct.team.ID, 100, "pi_123")
	require.NoError(t, err)
	require.False(t, first.Duplicate)
	require.Equal(t, int64(100), first.Pool.TotalCredits)
	require.Equal(t, models.PaymentSucceeded, first.Payment.Status)

	again, err := f.credits.GrantCredits(ctx, ct.team.ID, 100, " pi_123 ")
	require.NoError(t, err)
	require.True(t, again.Duplicate)
	require.Equal(t, first.Payment.ID, again.Payment.ID)
	require.Equal(t, int64(100), again.Pool.TotalCredits)

	var payments int64
	require.NoError(t, f.db.Model(&models.Payment{}).Count(&payments).Error)
	require.Equal(t, int64(1), payments)

	_, err = f.credits.GrantCredits(ctx, ct.team.ID, 50, "pi_456")
	require.NoError(t, err)
	overview, err := f.credits.Overview(ctx, ct.team.ID)
	require.NoError(t, err)
	require.Equal(t, int64(150), overview.Total)
	require.Equal(t, int64(150), overview.Unallocated)
}

func TestCreditServiceConfirmPaymentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ct := newCreditTeam(t, f)

	_, err := f.credits.GrantCredits(ctx, ct.team.ID, 0, "pi_zero")
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.credits.GrantCredits(ctx, ct.team.ID, 10, "")
	require.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = f.credits.GrantCredits(ctx, "missing-team", 10, "pi_missing")
	require.ErrorIs(t, err, ErrTeamNotFound)

	_, err = f.credits.ConfirmPayment(ctx, PaymentConfirmation{
		ExternalTransactionID: "pi_eur",
		TeamID:                ct.team.ID,
		UserID:                ct.owner.ID,
		Credits:               20,
		AmountCharged:         1900,
		Currency:              "EUR",
	})
	require.NoError(t, err)

	var payment models.Payment
	require.NoError(t, f.db.First(&payment, "external_transaction_id = ?", "pi_eur").Error)
	require.Equal(t, "eur", payment.Currency)
	require.Equal(t, paymentSourceCheckout, payment.Source)
	require.NotNil(t, payment.UserID)
	require.Equal(t, ct.owner.ID, *payment.UserID)
}

func TestCreditServiceGrantManualOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ct := newCreditTeam(t, f)

	_, err := f.credits.GrantManual(ctx, ct.admin.ID, ct.team.ID, 25)
	require.ErrorIs(t, err, ErrTeamForbidden)

	res, err := f.credits.GrantManual(ctx, ct.owner.ID, ct.team.ID, 25)
	require.NoError(t, err)
	require.Equal(t, paymentSourceManual, res.Payment.Source)
	require.Equal(t, int64(25), res.Pool.TotalCredits)

	res, err = f.credits.GrantManual(ctx, ct.owner.ID, ct.team.ID, 25)
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.Equal(t, int64(50), res.Pool.TotalCredits)
}

func TestCreditServiceAllocateToMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ct := newCreditTeam(t, f)
	outsider := f.user(t, "Dee", "dee@example.com")

	balance, err := f.credits.AllocateToMember(ctx, ct.admin.ID, ct.team.ID, ct.member.ID, 10)
	require.NoError(t, err)
	require.Equal(t, MemberBalance{TeamID: ct.team.ID, UserID: ct.member.ID, Allocated: 10, Available: 10}, *balance)

	balance, err = f.credits.AllocateToMember(ctx, ct.owner.ID, ct.team.ID, ct.member.ID, 5)
	require.NoError(t, err)
	require.Equal(t, int64(15), balance.Allocated)

	_, err = f.credits.AllocateToMember(ctx, ct.member.ID, ct.team.ID, ct.member.ID, 5)
	require.ErrorIs(t, err, ErrTeamForbidden)

	_, err = f.credits.AllocateToMember(ctx, ct.owner.ID, ct.team.ID, outsider.ID, 5)
	require.ErrorIs(t, err, ErrMemberNotFound)

	_, err = f.credits.AllocateToMember(ctx, ct.owner.ID, ct.team.ID, ct.member.ID, -1)
	require.ErrorIs(t, err, ErrInvalidAmount)

	// without the pool limit allocations may run ahead of purchases
	overview, err := f.credits.Overview(ctx, ct.team.ID)
	require.NoError(t, err)
	require.Equal(t, int64(15), overview.Allocated)
	require.Equal(t, int64(-15), overview.Unallocated)
	require.Len(t, overview.Members, 1)
	require.Equal(t, "Cy", overview.Members[0].Name)
}

func TestCreditServicePoolLimit(t *testing.T) {
	f := newFixture(t, WithPoolLimit(true))
	ctx := context.Background()
	ct := newCreditTeam(t, f)

	_, err := f.credits.GrantCredits(ctx, ct.team.ID, 10, "pi_pool")
	require.NoError(t, err)

	_, err = f.credits.AllocateToMember(ctx, ct.owner.ID, ct.team.ID, ct.member.ID, 8)
	require.NoError(t, err)

	_, err = f.credits.AllocateToMember(ctx, ct.owner.ID, ct.team.ID, ct.admin.ID, 3)
	require.ErrorIs(t, err, ErrPoolExceeded)
	require.Equal(t, apperrors.KindInsufficientCredits, apperrors.KindOf(err))

	balance, err := f.credits.MemberBalance(ctx, ct.team.ID, ct.admin.ID)
	require.NoError(t, err)
	require.Zero(t, balance.Allocated)

	_, err = f.credits.AllocateToMember(ctx, ct.owner.ID, ct.team.ID, ct.admin.ID, 2)
	require.NoError(t, err)

	overview, err := f.credits.Overview(ctx, ct.team.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), overview.Allocated)
	require.Zero(t, overview.Unallocated)
}

func TestCreditServiceDeduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ct := newCreditTeam(t, f)

	_, err := f.credits.GrantCredits(ctx, ct.team.ID, 20, "pi_deduct")
	require.NoError(t, err)

	_, err = f.credits.Deduct(ctx, ct.team.ID, ct.member.ID, 1)
	require.ErrorIs(t, err, ErrNoAllocation)

	_, err = f.credits.AllocateToMember(ctx, ct.owner.ID, ct.team.ID, ct.member.ID, 5)
	require.NoError(t, err)

	balance, err := f.credits.Deduct(ctx, ct.team.ID, ct.member.ID, 3)
	require.NoError(t, err)
	require.Equal(t, int64(5), balance.Allocated)
	require.Equal(t, int64(3), balance.Used)
	require.Equal(t, int64(2), balance.Available)

	_, err = f.credits.Deduct(ctx, ct.team.ID, ct.member.ID, 3)
	require.ErrorIs(t, err, ErrInsufficientCredits)
	require.Equal(t, 402, apperrors.FromError(err).StatusCode)

	_, err = f.credits.Deduct(ctx, ct.team.ID, ct.member.ID, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)

	overview, err := f.credits.Overview(ctx, ct.team.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), overview.Used)
	require.Equal(t, int64(17), overview.Available)
	require.Equal(t, int64(2), overview.Members[0].Available)
}

func TestCreditServiceConcurrentDeductNeverOverdraws(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ct := newCreditTeam(t, f)

	_, err := f.credits.AllocateToMember(ctx, ct.owner.ID, ct.team.ID, ct.member.ID, 1)
	require.NoError(t, err)

	const workers = 4
	var (
		wg   sync.WaitGroup
		errs = make(chan error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.credits.Deduct(ctx, ct.team.ID, ct.member.ID, 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, short int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientCredits):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, workers-1, short)

	balance, err := f.credits.MemberBalance(ctx, ct.team.ID, ct.member.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), balance.Used)
	require.Zero(t, balance.Available)
}

func TestCreditServiceReassign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ct := newCreditTeam(t, f)

	_, err := f.credits.AllocateToMember(ctx, ct.owner.ID, ct.team.ID, ct.member.ID, 10)
	require.NoError(t, err)
	_, err = f.credits.Deduct(ctx, ct.team.ID, ct.member.ID, 4)
	require.NoError(t, err)

	_, err = f.credits.Reassign(ctx, ct.admin.ID, ct.team.ID, ct.member.ID, ct.admin.ID, 7)
	require.ErrorIs(t, err, ErrInsufficientCredits)

	res, err := f.credits.Reassign(ctx, ct.admin.ID, ct.team.ID, ct.member.ID, ct.admin.ID, 6)
	require.NoError(t, err)
	require.Equal(t, int64(4), res.From.Allocated)
	require.Zero(t, res.From.Available)
	require.Equal(t, int64(6), res.To.Allocated)
	require.Equal(t, int64(6), res.To.Available)

	_, err = f.credits.Reassign(ctx, ct.owner.ID, ct.team.ID, ct.owner.ID, ct.member.ID, 1)
	require.ErrorIs(t, err, ErrInsufficientCredits)

	_, err = f.credits.Reassign(ctx, ct.owner.ID, ct.team.ID, ct.admin.ID, ct.admin.ID, 1)
	require.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = f.credits.Reassign(ctx, ct.member.ID, ct.team.ID, ct.admin.ID, ct.member.ID, 1)
	require.ErrorIs(t, err, ErrTeamForbidden)

	outsider := f.user(t, "Dee", "dee@example.com")
	_, err = f.credits.Reassign(ctx, ct.owner.ID, ct.team.ID, ct.admin.ID, outsider.ID, 1)
	require.ErrorIs(t, err, ErrMemberNotFound)

	// the failed transfer left the source untouched
	balance, err := f.credits.MemberBalance(ctx, ct.team.ID, ct.admin.ID)
	require.NoError(t, err)
	require.Equal(t, int64(6), balance.Available)
}

func TestCreditServiceAutoDistribute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ct := newCreditTeam(t, f)

	balances, err := f.credits.AutoDistribute(ctx, ct.owner.ID, ct.team.ID)
	require.NoError(t, err)
	require.Empty(t, balances)

	_, err = f.credits.GrantCredits(ctx, ct.team.ID, 100, "pi_auto")
	require.NoError(t, err)

	balances, err = f.credits.AutoDistribute(ctx, ct.admin.ID, ct.team.ID)
	require.NoError(t, err)
	require.Len(t, balances, 3)
	for _, b := range balances {
		require.Equal(t, int64(33), b.Allocated)
	}

	_, err = f.credits.AutoDistribute(ctx, ct.member.ID, ct.team.ID)
	require.ErrorIs(t, err, ErrTeamForbidden)
}

func TestCreditServiceAutoDistributeWithPoolLimit(t *testing.T) {
	f := newFixture(t, WithPoolLimit(true))
	ctx := context.Background()
	ct := newCreditTeam(t, f)

	_, err := f.credits.GrantCredits(ctx, ct.team.ID, 100, "pi_auto_limit")
	require.NoError(t, err)
	_, err = f.credits.AllocateToMember(ctx, ct.owner.ID, ct.team.ID, ct.member.ID, 40)
	require.NoError(t, err)

	balances, err := f.credits.AutoDistribute(ctx, ct.owner.ID, ct.team.ID)
	require.NoError(t, err)
	require.Len(t, balances, 3)

	got := map[string]int64{}
	for _, b := range balances {
		got[b.UserID] = b.Allocated
	}
	require.Equal(t, int64(20), got[ct.owner.ID])
	require.Equal(t, int64(20), got[ct.admin.ID])
	require.Equal(t, int64(60), got[ct.member.ID])

	overview, err := f.credits.Overview(ctx, ct.team.ID)
	require.NoError(t, err)
	require.Equal(t, int64(100), overview.Allocated)
}

func TestCreditServiceRemovedMemberKeepsBalanceButCannotReceive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ct := newCreditTeam(t, f)

	_, err := f.credits.AllocateToMember(ctx, ct.owner.ID, ct.team.ID, ct.member.ID, 10)
	require.NoError(t, err)

	members, err := f.teams.ListMembers(ctx, ct.team.ID)
	require.NoError(t, err)
	var membershipID string
	for _, m := range members {
		if m.UserID == ct.member.ID {
			membershipID = m.ID
		}
	}
	require.NotEmpty(t, membershipID)
	require.NoError(t, f.teams.RemoveMember(ctx, ct.owner.ID, ct.team.ID, membershipID))

	_, err = f.credits.AllocateToMember(ctx, ct.owner.ID, ct.team.ID, ct.member.ID, 1)
	require.ErrorIs(t, err, ErrMemberNotFound)

	res, err := f.credits.Reassign(ctx, ct.owner.ID, ct.team.ID, ct.member.ID, ct.admin.ID, 10)
	require.NoError(t, err)
	require.Equal(t, int64(10), res.To.Allocated)
}

func TestCreditServiceOverviewRequiresPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ct := newCreditTeam(t, f)

	require.NoError(t, f.db.Delete(&models.TeamCredit{}, "team_id = ?", ct.team.ID).Error)

	_, err := f.credits.Overview(ctx, ct.team.ID)
	require.ErrorIs(t, err, ErrCreditsNotInitialized)

	pool, err := f.credits.EnsureTeamCredits(ctx, ct.team.ID)
	require.NoError(t, err)
	require.Zero(t, pool.TotalCredits)

	overview, err := f.credits.Overview(ctx, ct.team.ID)
	require.NoError(t, err)
	require.Empty(t, overview.Members)
}

func TestCreditServiceMarkPaymentFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ct := newCreditTeam(t, f)

	failed, err := f.credits.MarkPaymentFailed(ctx, PaymentFailure{
		ExternalTransactionID: "pi_declined",
		TeamID:                ct.team.ID,
		UserID:                ct.owner.ID,
		Reason:                "card_declined",
	})
	require.NoError(t, err)
	require.Equal(t, models.PaymentFailed, failed.Status)
	require.Zero(t, failed.CreditsGranted)

	overview, err := f.credits.Overview(ctx, ct.team.ID)
	require.NoError(t, err)
	require.Zero(t, overview.Total)

	logs, _, err := f.audit.List(ctx, AuditListOptions{Filters: AuditFilters{TeamID: ct.team.ID, Action: "credits.payment_failed"}})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, auditResultFailure, logs[0].Result)

	retried, err := f.credits.GrantCredits(ctx, ct.team.ID, 40, "pi_declined")
	require.NoError(t, err)
	require.False(t, retried.Duplicate)
	require.Equal(t, models.PaymentSucceeded, retried.Payment.Status)
	require.Equal(t, int64(40), retried.Pool.TotalCredits)

	again, err := f.credits.GrantCredits(ctx, ct.team.ID, 40, "pi_declined")
	require.NoError(t, err)
	require.True(t, again.Duplicate)
	require.Equal(t, int64(40), again.Pool.TotalCredits)
}

func TestCreditServiceMarkPaymentFailedKeepsSucceeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ct := newCreditTeam(t, f)

	_, err := f.credits.GrantCredits(ctx, ct.team.ID, 25, "pi_ok")
	require.NoError(t, err)

	payment, err := f.credits.MarkPaymentFailed(ctx, PaymentFailure{ExternalTransactionID: "pi_ok", TeamID: ct.team.ID})
	require.NoError(t, err)
	require.Equal(t, models.PaymentSucceeded, payment.Status)
	require.Equal(t, int64(25), payment.CreditsGranted)

	logs, _, err := f.audit.List(ctx, AuditListOptions{Filters: AuditFilters{TeamID: ct.team.ID, Action: "credits.payment_failed"}})
	require.NoError(t, err)
	require.Empty(t, logs)

	_, err = f.credits.MarkPaymentFailed(ctx, PaymentFailure{TeamID: ct.team.ID})
	require.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestCreditServiceConcurrentAllocationsRespectPoolLimit(t *testing.T) {
	f := newFixture(t, WithPoolLimit(true))
	ctx := context.Background()
	ct := newCreditTeam(t, f)

	_, err := f.credits.GrantCredits(ctx, ct.team.ID, 10, "pi_race")
	require.NoError(t, err)

	targets := []string{ct.admin.ID, ct.member.ID, ct.owner.ID, ct.admin.ID, ct.member.ID, ct.owner.ID}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		granted  int64
		exceeded int
	)
	for _, userID := range targets {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := f.credits.AllocateToMember(ctx, ct.owner.ID, ct.team.ID, userID, 3)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				granted += 3
				return
			}
			if errors.Is(err, ErrPoolExceeded) {
				exceeded++
			}
		}(userID)
	}
	wg.Wait()

	require.Equal(t, int64(9), granted)
	require.Equal(t, 3, exceeded)

	overview, err := f.credits.Overview(ctx, ct.team.ID)
	require.NoError(t, err)
	require.LessOrEqual(t, overview.Allocated, overview.Total)
}
