package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/teamshot/internal/models"
	"github.com/charlesng35/teamshot/internal/policy"
	apperrors "github.com/charlesng35/teamshot/pkg/errors"
	"github.com/charlesng35/teamshot/pkg/logger"
	"github.com/charlesng35/teamshot/pkg/metrics"
	"github.com/charlesng35/teamshot/pkg/validator"
)

const (
	paymentSourceCheckout = "checkout"
	paymentSourceManual   = "manual"
	paymentSourceGrant    = "grant"
)

// PaymentConfirmation is a completed purchase reported by the payment provider.
type PaymentConfirmation struct {
	ExternalTransactionID string `json:"external_transaction_id" validate:"required,max=255"`
	TeamID                string `json:"team_id" validate:"required"`
	UserID                string `json:"user_id"`
	Credits               int64  `json:"credits" validate:"gt=0"`
	AmountCharged         int64  `json:"amount_charged" validate:"gte=0"`
	Currency              string `json:"currency" validate:"omitempty,len=3"`
	Source                string `json:"-"`
}

// GrantResult reports the pool after a grant. Duplicate is set when the transaction id had
// already been applied and nothing changed.
type GrantResult struct {
	Payment   *models.Payment   `json:"payment"`
	Pool      models.TeamCredit `json:"pool"`
	Duplicate bool              `json:"duplicate"`
}

// MemberBalance is a member's allocation within a team. Members without an allocation have zeros.
type MemberBalance struct {
	TeamID    string `json:"team_id"`
	UserID    string `json:"user_id"`
	Allocated int64  `json:"allocated"`
	Used      int64  `json:"used"`
	Available int64  `json:"available"`
}

// MemberCreditSummary is one row of the team overview.
type MemberCreditSummary struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Allocated int64  `json:"allocated"`
	Used      int64  `json:"used"`
	Available int64  `json:"available"`
}

// TeamOverview summarises a team's pool and every member allocation.
type TeamOverview struct {
	TeamID      string                `json:"team_id"`
	Total       int64                 `json:"total"`
	Used        int64                 `json:"used"`
	Available   int64                 `json:"available"`
	Allocated   int64                 `json:"allocated"`
	Unallocated int64                 `json:"unallocated"`
	Members     []MemberCreditSummary `json:"members"`
}

// ReassignResult holds both balances after a reassignment.
type ReassignResult struct {
	From MemberBalance `json:"from"`
	To   MemberBalance `json:"to"`
}

// CreditOption customises CreditService behaviour.
type CreditOption func(*CreditService)

// WithCreditClock injects a custom clock primarily for testing.
func WithCreditClock(clock func() time.Time) CreditOption {
	return func(s *CreditService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithPoolLimit makes allocations fail once the sum of member allocations would exceed the pool.
func WithPoolLimit(enforce bool) CreditOption {
	return func(s *CreditService) {
		s.enforcePool = enforce
	}
}

// CreditService maintains the team credit pools and member allocations.
// Every balance change is a single conditional UPDATE so concurrent requests cannot overdraw.
type CreditService struct {
	db          *gorm.DB
	audit       *AuditService
	enforcePool bool
	now         func() time.Time
	log         *zap.Logger
}

// NewCreditService constructs a CreditService.
func NewCreditService(db *gorm.DB, audit *AuditService, opts ...CreditOption) (*CreditService, error) {
	if db == nil {
		return nil, errors.New("credit service: db is required")
	}
	svc := &CreditService{
		db:    db,
		audit: audit,
		now:   time.Now,
		log:   logger.WithModule("credits"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// EnsureTeamCredits creates the team's pool with zero balances if it does not exist yet.
func (s *CreditService) EnsureTeamCredits(ctx context.Context, teamID string) (*models.TeamCredit, error) {
	ctx = ensureContext(ctx)

	var pool *models.TeamCredit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadTeam(tx, teamID); err != nil {
			return err
		}
		var err error
		pool, err = ensurePool(tx, teamID)
		return err
	})
	if err != nil {
		return nil, wrapCreditError("ensure pool", err)
	}
	return pool, nil
}

// ConfirmPayment applies a completed purchase to the team pool exactly once per external transaction id.
func (s *CreditService) ConfirmPayment(ctx context.Context, input PaymentConfirmation) (*GrantResult, error) {
	ctx = ensureContext(ctx)

	input.ExternalTransactionID = strings.TrimSpace(input.ExternalTransactionID)
	input.TeamID = strings.TrimSpace(input.TeamID)
	input.Currency = strings.ToLower(strings.TrimSpace(input.Currency))
	if input.Credits <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}
	if input.Source == "" {
		input.Source = paymentSourceCheckout
	}

	now := s.now()
	result := &GrantResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadTeam(tx, input.TeamID); err != nil {
			return err
		}

		payment := &models.Payment{
			TeamID:                input.TeamID,
			ExternalTransactionID: input.ExternalTransactionID,
			CreditsGranted:        input.Credits,
			AmountCharged:         input.AmountCharged,
			Currency:              input.Currency,
			Source:                input.Source,
			Status:                models.PaymentSucceeded,
			CompletedAt:           &now,
		}
		if id := strings.TrimSpace(input.UserID); id != "" {
			payment.UserID = &id
		}

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_transaction_id"}},
			DoNothing: true,
		}).Create(payment)
		if res.Error != nil {
			return fmt.Errorf("record payment: %w", res.Error)
		}

		if res.RowsAffected == 0 {
			// A pending or failed attempt for the same transaction may still succeed; the
			// status guard lets exactly one confirmation claim the grant.
			promoted := tx.Model(&models.Payment{}).
				Where("external_transaction_id = ? AND team_id = ? AND status <> ?",
					input.ExternalTransactionID, input.TeamID, models.PaymentSucceeded).
				Updates(map[string]any{
					"status":          models.PaymentSucceeded,
					"credits_granted": input.Credits,
					"amount_charged":  input.AmountCharged,
					"currency":        input.Currency,
					"source":          input.Source,
					"completed_at":    now,
					"updated_at":      now,
				})
			if promoted.Error != nil {
				return fmt.Errorf("promote payment: %w", promoted.Error)
			}

			var existing models.Payment
			if err := tx.First(&existing, "external_transaction_id = ?", input.ExternalTransactionID).Error; err != nil {
				return fmt.Errorf("load existing payment: %w", err)
			}
			if promoted.RowsAffected == 0 {
				pool, err := ensurePool(tx, existing.TeamID)
				if err != nil {
					return err
				}
				result.Payment = &existing
				result.Pool = *pool
				result.Duplicate = true
				return nil
			}
			payment = &existing
		}

		if _, err := ensurePool(tx, input.TeamID); err != nil {
			return err
		}
		if err := tx.Model(&models.TeamCredit{}).
			Where("team_id = ?", input.TeamID).
			Updates(map[string]any{
				"total_credits": gorm.Expr("total_credits + ?", input.Credits),
				"updated_at":    now,
			}).Error; err != nil {
			return fmt.Errorf("grant credits: %w", err)
		}

		pool, err := loadPool(tx, input.TeamID)
		if err != nil {
			return err
		}
		result.Payment = payment
		result.Pool = *pool
		return nil
	})
	metrics.ObserveCreditOperation("grant", err)
	if err != nil {
		return nil, wrapCreditError("confirm payment", err)
	}

	if result.Duplicate {
		s.log.Info("duplicate payment confirmation ignored",
			zap.String("external_transaction_id", input.ExternalTransactionID),
			zap.String("team_id", input.TeamID),
		)
		return result, nil
	}

	actor := ""
	if result.Payment.UserID != nil {
		actor = *result.Payment.UserID
	}
	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  actor,
		TeamID:   input.TeamID,
		Action:   "credits.grant",
		Resource: result.Payment.ID,
		Result:   auditResultSuccess,
		Metadata: map[string]any{
			"credits":                 input.Credits,
			"external_transaction_id": input.ExternalTransactionID,
			"source":                  input.Source,
		},
	})
	return result, nil
}

// PaymentFailure is a declined or abandoned purchase reported by the payment provider.
type PaymentFailure struct {
	ExternalTransactionID string `json:"external_transaction_id" validate:"required,max=255"`
	TeamID                string `json:"team_id" validate:"required"`
	UserID                string `json:"user_id"`
	AmountCharged         int64  `json:"amount_charged" validate:"gte=0"`
	Currency              string `json:"currency" validate:"omitempty,len=3"`
	Reason                string `json:"reason" validate:"max=255"`
}

// MarkPaymentFailed records a failed payment without touching the pool. A payment that already
// succeeded keeps its status.
func (s *CreditService) MarkPaymentFailed(ctx context.Context, input PaymentFailure) (*models.Payment, error) {
	ctx = ensureContext(ctx)

	input.ExternalTransactionID = strings.TrimSpace(input.ExternalTransactionID)
	input.TeamID = strings.TrimSpace(input.TeamID)
	input.Currency = strings.ToLower(strings.TrimSpace(input.Currency))
	input.Reason = strings.TrimSpace(input.Reason)
	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	now := s.now()
	var (
		payment models.Payment
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadTeam(tx, input.TeamID); err != nil {
			return err
		}

		record := &models.Payment{
			TeamID:                input.TeamID,
			ExternalTransactionID: input.ExternalTransactionID,
			AmountCharged:         input.AmountCharged,
			Currency:              input.Currency,
			Source:                paymentSourceCheckout,
			Status:                models.PaymentFailed,
		}
		if id := strings.TrimSpace(input.UserID); id != "" {
			record.UserID = &id
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_transaction_id"}},
			DoNothing: true,
		}).Create(record)
		if res.Error != nil {
			return fmt.Errorf("record failed payment: %w", res.Error)
		}
		changed = res.RowsAffected > 0
		if !changed {
			upd := tx.Model(&models.Payment{}).
				Where("external_transaction_id = ? AND status = ?", input.ExternalTransactionID, models.PaymentPending).
				Updates(map[string]any{"status": models.PaymentFailed, "updated_at": now})
			if upd.Error != nil {
				return fmt.Errorf("mark payment failed: %w", upd.Error)
			}
			changed = upd.RowsAffected > 0
		}
		return tx.First(&payment, "external_transaction_id = ?", input.ExternalTransactionID).Error
	})
	metrics.ObserveCreditOperation("payment_failed", err)
	if err != nil {
		return nil, wrapCreditError("mark payment failed", err)
	}

	if changed {
		actor := ""
		if payment.UserID != nil {
			actor = *payment.UserID
		}
		recordAudit(s.audit, ctx, AuditEntry{
			ActorID:  actor,
			TeamID:   payment.TeamID,
			Action:   "credits.payment_failed",
			Resource: payment.ID,
			Result:   auditResultFailure,
			Metadata: map[string]any{
				"external_transaction_id": input.ExternalTransactionID,
				"reason":                  input.Reason,
			},
		})
	}
	return &payment, nil
}

// GrantCredits adds purchased credits to the pool, idempotent per external transaction id.
func (s *CreditService) GrantCredits(ctx context.Context, teamID string, amount int64, externalTransactionID string) (*GrantResult, error) {
	return s.ConfirmPayment(ctx, PaymentConfirmation{
		ExternalTransactionID: externalTransactionID,
		TeamID:                teamID,
		Credits:               amount,
		Source:                paymentSourceGrant,
	})
}

// GrantManual lets the team owner add credits without a payment provider.
func (s *CreditService) GrantManual(ctx context.Context, actorID, teamID string, amount int64) (*GrantResult, error) {
	ctx = ensureContext(ctx)

	if _, err := authorizeTeam(s.db.WithContext(ctx), teamID, actorID, policy.ActionGrantCredits); err != nil {
		return nil, err
	}
	return s.ConfirmPayment(ctx, PaymentConfirmation{
		ExternalTransactionID: "manual_" + uuid.NewString(),
		TeamID:                teamID,
		UserID:                actorID,
		Credits:               amount,
		Source:                paymentSourceManual,
	})
}

// AllocateToMember adds amount to the member's allocation, creating it on first use.
func (s *CreditService) AllocateToMember(ctx context.Context, actorID, teamID, userID string, amount int64) (*MemberBalance, error) {
	ctx = ensureContext(ctx)

	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tc, err := authorizeTeam(s.db.WithContext(ctx), teamID, actorID, policy.ActionManageCredits)
	if err != nil {
		return nil, err
	}

	var balance *MemberBalance
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireMember(tx, tc.Team, userID); err != nil {
			return err
		}
		if _, err := ensurePool(tx, tc.Team.ID); err != nil {
			return err
		}
		if err := s.allocate(tx, tc.Team.ID, userID, amount); err != nil {
			return err
		}
		balance, err = loadBalance(tx, tc.Team.ID, userID)
		return err
	})
	metrics.ObserveCreditOperation("allocate", err)
	if err != nil {
		return nil, wrapCreditError("allocate", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  actorID,
		TeamID:   tc.Team.ID,
		Action:   "credits.allocate",
		Resource: userID,
		Result:   auditResultSuccess,
		Metadata: map[string]any{"amount": amount},
	})
	return balance, nil
}

// AutoDistribute splits the pool evenly across active members, adding floor(pool / members) to each.
// With the pool limit enabled only the unallocated remainder is split.
func (s *CreditService) AutoDistribute(ctx context.Context, actorID, teamID string) ([]MemberBalance, error) {
	ctx = ensureContext(ctx)

	tc, err := authorizeTeam(s.db.WithContext(ctx), teamID, actorID, policy.ActionManageCredits)
	if err != nil {
		return nil, err
	}

	var (
		balances []MemberBalance
		perHead  int64
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pool, err := ensurePool(tx, tc.Team.ID)
		if err != nil {
			return err
		}

		var userIDs []string
		if err := models.ActiveMemberships(tx.Model(&models.Membership{})).
			Where("team_id = ?", tc.Team.ID).
			Order("joined_at ASC").
			Pluck("user_id", &userIDs).Error; err != nil {
			return fmt.Errorf("list members: %w", err)
		}
		if len(userIDs) == 0 {
			return nil
		}

		base := pool.TotalCredits
		if s.enforcePool {
			allocated, err := sumAllocated(tx, tc.Team.ID)
			if err != nil {
				return err
			}
			base -= allocated
		}
		perHead = base / int64(len(userIDs))
		if perHead <= 0 {
			return nil
		}

		balances = make([]MemberBalance, 0, len(userIDs))
		for _, userID := range userIDs {
			if err := s.allocate(tx, tc.Team.ID, userID, perHead); err != nil {
				return err
			}
			balance, err := loadBalance(tx, tc.Team.ID, userID)
			if err != nil {
				return err
			}
			balances = append(balances, *balance)
		}
		return nil
	})
	metrics.ObserveCreditOperation("auto_distribute", err)
	if err != nil {
		return nil, wrapCreditError("auto distribute", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  actorID,
		TeamID:   tc.Team.ID,
		Action:   "credits.auto_distribute",
		Resource: tc.Team.ID,
		Result:   auditResultSuccess,
		Metadata: map[string]any{"per_member": perHead, "members": len(balances)},
	})
	if balances == nil {
		balances = []MemberBalance{}
	}
	return balances, nil
}

// Reassign moves unspent allocation from one member to another atomically.
func (s *CreditService) Reassign(ctx context.Context, actorID, teamID, fromUserID, toUserID string, amount int64) (*ReassignResult, error) {
	ctx = ensureContext(ctx)

	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	fromUserID = strings.TrimSpace(fromUserID)
	toUserID = strings.TrimSpace(toUserID)
	if fromUserID == "" || toUserID == "" || fromUserID == toUserID {
		return nil, apperrors.NewBadRequest("credits must move between two different members")
	}

	tc, err := authorizeTeam(s.db.WithContext(ctx), teamID, actorID, policy.ActionManageCredits)
	if err != nil {
		return nil, err
	}

	result := &ReassignResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireMember(tx, tc.Team, toUserID); err != nil {
			return err
		}

		res := tx.Model(&models.MemberCredit{}).
			Where("team_id = ? AND user_id = ? AND allocated_credits - used_credits >= ?", tc.Team.ID, fromUserID, amount).
			Updates(map[string]any{
				"allocated_credits": gorm.Expr("allocated_credits - ?", amount),
				"updated_at":        s.now(),
			})
		if res.Error != nil {
			return fmt.Errorf("debit allocation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientCredits
		}

		if err := s.allocate(tx, tc.Team.ID, toUserID, amount); err != nil {
			return err
		}

		from, err := loadBalance(tx, tc.Team.ID, fromUserID)
		if err != nil {
			return err
		}
		to, err := loadBalance(tx, tc.Team.ID, toUserID)
		if err != nil {
			return err
		}
		result.From, result.To = *from, *to
		return nil
	})
	metrics.ObserveCreditOperation("reassign", err)
	if err != nil {
		return nil, wrapCreditError("reassign", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  actorID,
		TeamID:   tc.Team.ID,
		Action:   "credits.reassign",
		Resource: fromUserID,
		Result:   auditResultSuccess,
		Metadata: map[string]any{"to": toUserID, "amount": amount},
	})
	return result, nil
}

// Deduct spends amount from the member's allocation and the team pool. It fails with
// ErrNoAllocation when the member has never been allocated credits and ErrInsufficientCredits
// when the allocation cannot cover the amount.
func (s *CreditService) Deduct(ctx context.Context, teamID, userID string, amount int64) (*MemberBalance, error) {
	ctx = ensureContext(ctx)

	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var balance *MemberBalance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadTeam(tx, teamID); err != nil {
			return err
		}

		now := s.now()
		res := tx.Model(&models.MemberCredit{}).
			Where("team_id = ? AND user_id = ? AND allocated_credits - used_credits >= ?", teamID, userID, amount).
			Updates(map[string]any{
				"used_credits": gorm.Expr("used_credits + ?", amount),
				"updated_at":   now,
			})
		if res.Error != nil {
			return fmt.Errorf("debit member: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var rows int64
			if err := tx.Model(&models.MemberCredit{}).
				Where("team_id = ? AND user_id = ?", teamID, userID).
				Count(&rows).Error; err != nil {
				return fmt.Errorf("check allocation: %w", err)
			}
			if rows == 0 {
				return ErrNoAllocation
			}
			return ErrInsufficientCredits
		}

		if _, err := ensurePool(tx, teamID); err != nil {
			return err
		}
		if err := tx.Model(&models.TeamCredit{}).
			Where("team_id = ?", teamID).
			Updates(map[string]any{
				"used_credits": gorm.Expr("used_credits + ?", amount),
				"updated_at":   now,
			}).Error; err != nil {
			return fmt.Errorf("debit pool: %w", err)
		}

		var err error
		balance, err = loadBalance(tx, teamID, userID)
		return err
	})
	metrics.ObserveCreditOperation("deduct", err)
	if err != nil {
		return nil, wrapCreditError("deduct", err)
	}
	metrics.CreditsDeducted.Add(float64(amount))
	return balance, nil
}

// MemberBalance returns the member's allocation, zero when none exists.
func (s *CreditService) MemberBalance(ctx context.Context, teamID, userID string) (*MemberBalance, error) {
	ctx = ensureContext(ctx)

	balance, err := loadBalance(s.db.WithContext(ctx), teamID, userID)
	if err != nil {
		return nil, wrapCreditError("member balance", err)
	}
	return balance, nil
}

// Overview returns the pool and the allocation of every member who has one.
func (s *CreditService) Overview(ctx context.Context, teamID string) (*TeamOverview, error) {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)

	pool, err := loadPool(db, teamID)
	if err != nil {
		return nil, wrapCreditError("overview", err)
	}

	var rows []models.MemberCredit
	if err := db.Preload("User").
		Where("team_id = ?", teamID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("credit service: overview members: %w", err)
	}

	overview := &TeamOverview{
		TeamID:    teamID,
		Total:     pool.TotalCredits,
		Used:      pool.UsedCredits,
		Available: pool.Available(),
		Members:   make([]MemberCreditSummary, 0, len(rows)),
	}
	for _, row := range rows {
		overview.Allocated += row.AllocatedCredits
		overview.Members = append(overview.Members, MemberCreditSummary{
			UserID:    row.UserID,
			Name:      row.User.DisplayName(),
			Allocated: row.AllocatedCredits,
			Used:      row.UsedCredits,
			Available: row.Available(),
		})
	}
	overview.Unallocated = overview.Total - overview.Allocated
	return overview, nil
}

// allocate increments the allocation with a single guarded UPDATE. The pool-limit guard uses a
// derived table so MySQL accepts a subquery on the table being updated, and runs under a row
// lock on the pool. SQLite has no FOR UPDATE; its single writer gives the same ordering.
func (s *CreditService) allocate(tx *gorm.DB, teamID, userID string, amount int64) error {
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "team_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&models.MemberCredit{TeamID: teamID, UserID: userID}).Error; err != nil {
		return fmt.Errorf("ensure allocation: %w", err)
	}

	query := tx.Model(&models.MemberCredit{}).Where("team_id = ? AND user_id = ?", teamID, userID)
	if s.enforcePool {
		// Allocations to different members touch different rows, so the SUM guard alone can be
		// passed twice under READ COMMITTED. Serialise on the pool row first.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("team_id").
			First(&models.TeamCredit{}, "team_id = ?", teamID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCreditsNotInitialized
			}
			return fmt.Errorf("lock pool: %w", err)
		}
		query = query.Where(
			"(SELECT total FROM (SELECT COALESCE(SUM(allocated_credits), 0) AS total FROM member_credits WHERE team_id = ?) AS allocated) + ? <= (SELECT total_credits FROM team_credits WHERE team_id = ?)",
			teamID, amount, teamID,
		)
	}

	res := query.Updates(map[string]any{
		"allocated_credits": gorm.Expr("allocated_credits + ?", amount),
		"updated_at":        s.now(),
	})
	if res.Error != nil {
		return fmt.Errorf("allocate: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPoolExceeded
	}
	return nil
}

func requireMember(tx *gorm.DB, team *models.Team, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMemberNotFound
	}
	membership, err := loadActiveMembership(tx, team.ID, userID)
	if err != nil {
		return err
	}
	if membership == nil && userID != team.OwnerID {
		return ErrMemberNotFound
	}
	return nil
}

func ensurePool(tx *gorm.DB, teamID string) (*models.TeamCredit, error) {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.TeamCredit{TeamID: teamID}).Error; err != nil {
		return nil, fmt.Errorf("ensure pool: %w", err)
	}
	return loadPool(tx, teamID)
}

func loadPool(db *gorm.DB, teamID string) (*models.TeamCredit, error) {
	var pool models.TeamCredit
	err := db.First(&pool, "team_id = ?", teamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCreditsNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	return &pool, nil
}

func loadBalance(db *gorm.DB, teamID, userID string) (*MemberBalance, error) {
	balance := &MemberBalance{TeamID: teamID, UserID: userID}

	var row models.MemberCredit
	err := db.Where("team_id = ? AND user_id = ?", teamID, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return balance, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}

	balance.Allocated = row.AllocatedCredits
	balance.Used = row.UsedCredits
	balance.Available = row.Available()
	return balance, nil
}

func sumAllocated(tx *gorm.DB, teamID string) (int64, error) {
	var total int64
	if err := tx.Model(&models.MemberCredit{}).
		Where("team_id = ?", teamID).
		Select("COALESCE(SUM(allocated_credits), 0)").
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("sum allocations: %w", err)
	}
	return total, nil
}

func wrapCreditError(step string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return fmt.Errorf("credit service: %s: %w", step, err)
}
