package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/teamshot/internal/models"
	"github.com/charlesng35/teamshot/internal/policy"
	"github.com/charlesng35/teamshot/pkg/crypto"
	apperrors "github.com/charlesng35/teamshot/pkg/errors"
	"github.com/charlesng35/teamshot/pkg/logger"
	"github.com/charlesng35/teamshot/pkg/mail"
	"github.com/charlesng35/teamshot/pkg/metrics"
)

const (
	defaultInvitationExpiry = 7 * 24 * time.Hour
	defaultRemovalCooldown  = 24 * time.Hour
	defaultBatchLimit       = 50
	defaultLinkDomain       = "placeholder.local"
)

// InvitationMailer delivers invitation emails.
type InvitationMailer interface {
	SendInvitation(ctx context.Context, inv mail.Invitation) error
	SendInvitations(ctx context.Context, invs []mail.Invitation) []mail.DeliveryResult
}

// BatchStatus is the per-email outcome of a batch invitation.
type BatchStatus string

const (
	BatchSent           BatchStatus = "sent"
	BatchCreated        BatchStatus = "created"
	BatchAlreadyMember  BatchStatus = "already_member"
	BatchAlreadyInvited BatchStatus = "already_invited"
	BatchEmailFailed    BatchStatus = "email_failed"
	BatchError          BatchStatus = "error"
)

// InvitationResult is returned when an invitation is created.
type InvitationResult struct {
	Invitation *models.Invitation `json:"invitation"`
	URL        string             `json:"invitation_url"`
	EmailSent  bool               `json:"email_sent"`
	token      string
}

// Token returns the raw invitation token. It is never stored.
func (r *InvitationResult) Token() string {
	return r.token
}

// BatchInvitationResult reports what happened to a single address in a batch.
type BatchInvitationResult struct {
	Email        string      `json:"email"`
	Status       BatchStatus `json:"status"`
	Success      bool        `json:"success"`
	Message      string      `json:"message,omitempty"`
	InvitationID string      `json:"invitation_id,omitempty"`
	URL          string      `json:"invitation_url,omitempty"`
}

// BatchSummary aggregates batch outcomes.
type BatchSummary struct {
	Total          int `json:"total"`
	Successful     int `json:"successful"`
	Failed         int `json:"failed"`
	AlreadyMembers int `json:"already_members"`
	AlreadyInvited int `json:"already_invited"`
	EmailFailed    int `json:"email_failed"`
	Invalid        int `json:"invalid"`
}

// BatchResult is the outcome of CreateBatch, one result per submitted address in input order.
type BatchResult struct {
	Results []BatchInvitationResult `json:"results"`
	Summary BatchSummary            `json:"summary"`
}

// InvitationDetails is the public view of an invitation shown to its recipient.
type InvitationDetails struct {
	ID          string                  `json:"id"`
	TeamID      string                  `json:"team_id"`
	TeamName    string                  `json:"team_name"`
	TeamSlug    string                  `json:"team_slug"`
	Email       string                  `json:"email,omitempty"`
	Role        models.TeamRole         `json:"role"`
	InviterName string                  `json:"inviter_name"`
	Status      models.InvitationStatus `json:"status"`
	IsLink      bool                    `json:"is_link"`
	ExpiresAt   time.Time               `json:"expires_at"`
}

// AcceptResult is returned when an invitation is accepted.
type AcceptResult struct {
	Team       *models.Team       `json:"team"`
	Membership *models.Membership `json:"membership"`
}

// InvitationView is an invitation as listed to team managers.
type InvitationView struct {
	models.Invitation
	Status      models.InvitationStatus `json:"status"`
	Active      bool                    `json:"active"`
	InviterName string                  `json:"inviter_name"`
}

// TeamInvitations is one owned team with its live invitations.
type TeamInvitations struct {
	TeamID      string           `json:"team_id"`
	Name        string           `json:"name"`
	Slug        string           `json:"slug"`
	Invitations []InvitationView `json:"invitations"`
}

// ListInvitationsOptions controls invitation listing.
type ListInvitationsOptions struct {
	IncludeInactive bool
}

// InvitationOption customises InvitationService behaviour.
type InvitationOption func(*InvitationService)

// WithInvitationBaseURL configures the base URL used to build invitation links.
func WithInvitationBaseURL(url string) InvitationOption {
	return func(s *InvitationService) {
		s.baseURL = strings.TrimRight(strings.TrimSpace(url), "/")
	}
}

// WithInvitationExpiry overrides the invitation lifetime.
func WithInvitationExpiry(d time.Duration) InvitationOption {
	return func(s *InvitationService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithRemovalCooldown overrides how long a removed member must wait before being re-invited.
func WithRemovalCooldown(d time.Duration) InvitationOption {
	return func(s *InvitationService) {
		if d >= 0 {
			s.cooldown = d
		}
	}
}

// WithInvitationTokens replaces the token generator.
func WithInvitationTokens(gen TokenGenerator) InvitationOption {
	return func(s *InvitationService) {
		if gen != nil {
			s.tokens = gen
		}
	}
}

// WithLinkDomain sets the domain used for the placeholder addresses of shareable links.
func WithLinkDomain(domain string) InvitationOption {
	return func(s *InvitationService) {
		if domain = strings.TrimSpace(domain); domain != "" {
			s.linkDomain = domain
		}
	}
}

// WithBatchLimit caps the number of addresses accepted by CreateBatch.
func WithBatchLimit(limit int) InvitationOption {
	return func(s *InvitationService) {
		if limit > 0 {
			s.batchLimit = limit
		}
	}
}

// WithInvitationClock injects a custom clock primarily for testing.
func WithInvitationClock(clock func() time.Time) InvitationOption {
	return func(s *InvitationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// InvitationService manages the invitation lifecycle: creation, delivery, acceptance and revocation.
type InvitationService struct {
	db         *gorm.DB
	mailer     InvitationMailer
	audit      *AuditService
	tokens     TokenGenerator
	baseURL    string
	linkDomain string
	expiry     time.Duration
	cooldown   time.Duration
	batchLimit int
	now        func() time.Time
	log        *zap.Logger
}

// NewInvitationService constructs an InvitationService. A nil mailer behaves like disabled SMTP:
// invitations are created and their links returned, but nothing is sent.
func NewInvitationService(db *gorm.DB, mailer InvitationMailer, audit *AuditService, opts ...InvitationOption) (*InvitationService, error) {
	if db == nil {
		return nil, errors.New("invitation service: db is required")
	}

	svc := &InvitationService{
		db:         db,
		mailer:     mailer,
		audit:      audit,
		tokens:     NewTokenGenerator(defaultInvitationTokenLength),
		linkDomain: defaultLinkDomain,
		expiry:     defaultInvitationExpiry,
		cooldown:   defaultRemovalCooldown,
		batchLimit: defaultBatchLimit,
		now:        time.Now,
		log:        logger.WithModule("invitations"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create invites a single address. The email is sent before the transaction commits, so if it cannot
// be delivered nothing is stored and ErrEmailDelivery is returned.
func (s *InvitationService) Create(ctx context.Context, actorID, teamID, email string, role models.TeamRole) (*InvitationResult, error) {
	ctx = ensureContext(ctx)

	email = normaliseEmail(email)
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}
	role, err := assignableRole(role)
	if err != nil {
		return nil, err
	}

	tc, err := authorizeTeam(s.db.WithContext(ctx), teamID, actorID, policy.ActionManageInvitations)
	if err != nil {
		return nil, err
	}

	var sendErr error
	result, err := s.persist(ctx, tc, email, role, false, func(tx *gorm.DB, created *InvitationResult) error {
		sendErr = s.send(ctx, tx, tc.Team, created)
		if sendErr == nil || errors.Is(sendErr, mail.ErrSMTPDisabled) {
			return nil
		}
		return ErrEmailDelivery.WithInternal(sendErr)
	})
	if errors.Is(err, ErrEmailDelivery) {
		s.observe(string(BatchEmailFailed))
		recordAudit(s.audit, ctx, AuditEntry{
			ActorID:  actorID,
			TeamID:   tc.Team.ID,
			Action:   "invitation.create",
			Resource: email,
			Result:   auditResultFailure,
			Metadata: map[string]any{"reason": "email_failed"},
		})
		return nil, err
	}
	if err != nil {
		s.observe(outcomeForError(err))
		return nil, err
	}

	if sendErr == nil {
		result.EmailSent = true
	} else {
		s.log.Warn("smtp disabled, invitation created without email",
			zap.String("team_id", tc.Team.ID),
			zap.String("invitation_id", result.Invitation.ID),
		)
	}

	s.observe(string(statusForDelivery(sendErr)))
	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  actorID,
		TeamID:   tc.Team.ID,
		Action:   "invitation.create",
		Resource: result.Invitation.ID,
		Result:   auditResultSuccess,
		Metadata: map[string]any{"email": email, "role": role, "email_sent": result.EmailSent},
	})

	return result, nil
}

// CreateBatch invites many addresses. Each address is validated and persisted on its own, so a bad
// or duplicate address never aborts the rest. Delivery failures are reported per address and the
// invitations are kept so they can be resent.
func (s *InvitationService) CreateBatch(ctx context.Context, actorID, teamID string, emails []string, role models.TeamRole) (*BatchResult, error) {
	ctx = ensureContext(ctx)

	if len(emails) == 0 {
		return nil, apperrors.NewBadRequest("at least one email is required")
	}
	if len(emails) > s.batchLimit {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("at most %d emails can be invited at once", s.batchLimit))
	}
	role, err := assignableRole(role)
	if err != nil {
		return nil, err
	}

	tc, err := authorizeTeam(s.db.WithContext(ctx), teamID, actorID, policy.ActionManageInvitations)
	if err != nil {
		return nil, err
	}

	results := make([]BatchInvitationResult, len(emails))
	for i, raw := range emails {
		email := normaliseEmail(raw)
		results[i] = BatchInvitationResult{Email: email}
		if !validEmail(email) {
			results[i].Email = strings.TrimSpace(raw)
			results[i].Status = BatchError
			results[i].Message = ErrInvalidEmail.Message
		}
	}

	var (
		pending []*InvitationResult
		indexes []int
	)
	for i := range results {
		if results[i].Status != "" {
			continue
		}
		created, err := s.persist(ctx, tc, results[i].Email, role, false, nil)
		if err != nil {
			results[i].Status, results[i].Message = batchStatusForError(err)
			if results[i].Status == BatchError && apperrors.KindOf(err) == apperrors.KindInternal {
				s.log.Error("batch invitation failed",
					zap.String("team_id", tc.Team.ID),
					zap.String("email", results[i].Email),
					zap.Error(err),
				)
			}
			continue
		}
		results[i].InvitationID = created.Invitation.ID
		results[i].URL = created.URL
		pending = append(pending, created)
		indexes = append(indexes, i)
	}

	for j, delivery := range s.sendBatch(ctx, tc.Team, pending) {
		i := indexes[j]
		results[i].Status = statusForDelivery(delivery.Err)
		if results[i].Status == BatchEmailFailed {
			results[i].Message = ErrEmailDelivery.Message
			s.log.Warn("batch invitation email failed",
				zap.String("invitation_id", results[i].InvitationID),
				zap.Error(delivery.Err),
			)
		}
	}

	batch := &BatchResult{Results: results}
	for i := range results {
		r := &results[i]
		r.Success = r.Status == BatchSent || r.Status == BatchCreated
		s.observe(string(r.Status))

		batch.Summary.Total++
		if r.Success {
			batch.Summary.Successful++
		} else {
			batch.Summary.Failed++
		}
		switch r.Status {
		case BatchAlreadyMember:
			batch.Summary.AlreadyMembers++
		case BatchAlreadyInvited:
			batch.Summary.AlreadyInvited++
		case BatchEmailFailed:
			batch.Summary.EmailFailed++
		case BatchError:
			if r.Message == ErrInvalidEmail.Message {
				batch.Summary.Invalid++
			}
		}
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  actorID,
		TeamID:   tc.Team.ID,
		Action:   "invitation.batch",
		Resource: tc.Team.ID,
		Result:   auditResultSuccess,
		Metadata: map[string]any{
			"total":      batch.Summary.Total,
			"successful": batch.Summary.Successful,
			"failed":     batch.Summary.Failed,
		},
	})

	return batch, nil
}

// GenerateLink creates a shareable, single-use member invitation that is not bound to an address.
func (s *InvitationService) GenerateLink(ctx context.Context, actorID, teamID string) (*InvitationResult, error) {
	ctx = ensureContext(ctx)

	tc, err := authorizeTeam(s.db.WithContext(ctx), teamID, actorID, policy.ActionManageInvitations)
	if err != nil {
		return nil, err
	}

	result, err := s.persist(ctx, tc, "", models.TeamRoleMember, true, nil)
	if err != nil {
		return nil, err
	}

	s.observe("link")
	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  actorID,
		TeamID:   tc.Team.ID,
		Action:   "invitation.link",
		Resource: result.Invitation.ID,
		Result:   auditResultSuccess,
	})
	return result, nil
}

// GetByToken returns the invitation a token refers to. Overdue pending invitations are marked
// expired as a side effect.
func (s *InvitationService) GetByToken(ctx context.Context, token string) (*InvitationDetails, error) {
	ctx = ensureContext(ctx)

	inv, err := s.resolve(s.db.WithContext(ctx), token)
	if err != nil {
		return nil, err
	}

	details := &InvitationDetails{
		ID:        inv.ID,
		TeamID:    inv.TeamID,
		Role:      inv.Role,
		Status:    inv.Status,
		IsLink:    inv.IsLink,
		ExpiresAt: inv.ExpiresAt,
	}
	if !inv.IsLink {
		details.Email = inv.Email
	}
	if inv.Team != nil {
		details.TeamName = inv.Team.Name
		details.TeamSlug = inv.Team.Slug
	}
	details.InviterName = inv.Inviter.DisplayName()
	return details, nil
}

// Accept turns a pending invitation into an active membership for the actor. Claiming the
// invitation and creating the membership happen in one transaction, so a token can be used once.
func (s *InvitationService) Accept(ctx context.Context, actorID, token string) (*AcceptResult, error) {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)

	inv, err := s.resolve(db, token)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := db.First(&user, "id = ?", strings.TrimSpace(actorID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("invitation service: load user: %w", err)
	}

	if !inv.IsLink && normaliseEmail(user.Email) != normaliseEmail(inv.Email) {
		return nil, ErrEmailMismatch
	}

	now := s.now()
	membership := &models.Membership{
		TeamID:   inv.TeamID,
		UserID:   user.ID,
		Role:     inv.Role,
		JoinedAt: now,
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		active, err := loadActiveMembership(tx, inv.TeamID, user.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return ErrAlreadyMember
		}

		claim := tx.Model(&models.Invitation{}).
			Where("id = ? AND status = ? AND expires_at >= ?", inv.ID, models.InvitationPending, now).
			Updates(map[string]any{
				"status":      models.InvitationAccepted,
				"accepted_at": now,
				"accepted_by": user.ID,
			})
		if claim.Error != nil {
			return fmt.Errorf("claim invitation: %w", claim.Error)
		}
		if claim.RowsAffected == 0 {
			return ErrAlreadyAccepted
		}

		if err := tx.Where("team_id = ? AND user_id = ? AND removed_at IS NOT NULL", inv.TeamID, user.ID).
			Delete(&models.Membership{}).Error; err != nil {
			return fmt.Errorf("purge removed membership: %w", err)
		}

		if err := tx.Create(membership).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrAlreadyMember
			}
			return fmt.Errorf("create membership: %w", err)
		}
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("invitation service: accept: %w", err)
	}

	s.observe("accepted")
	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  user.ID,
		TeamID:   inv.TeamID,
		Action:   "invitation.accept",
		Resource: inv.ID,
		Result:   auditResultSuccess,
		Metadata: map[string]any{"role": inv.Role, "link": inv.IsLink},
	})

	return &AcceptResult{Team: inv.Team, Membership: membership}, nil
}

// Revoke deletes a pending invitation so its token stops working.
func (s *InvitationService) Revoke(ctx context.Context, actorID, teamID, invitationID string) error {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)

	tc, err := authorizeTeam(db, teamID, actorID, policy.ActionManageInvitations)
	if err != nil {
		return err
	}

	var inv models.Invitation
	err = db.First(&inv, "id = ? AND team_id = ?", strings.TrimSpace(invitationID), tc.Team.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInvitationNotFound
	}
	if err != nil {
		return fmt.Errorf("invitation service: load invitation: %w", err)
	}

	now := s.now()
	if inv.EffectiveStatus(now) != models.InvitationPending {
		return ErrInvitationNotPending
	}

	res := db.Where("id = ? AND status = ? AND expires_at >= ?", inv.ID, models.InvitationPending, now).
		Delete(&models.Invitation{})
	if res.Error != nil {
		return fmt.Errorf("invitation service: revoke: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvitationNotPending
	}

	s.observe("revoked")
	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  actorID,
		TeamID:   tc.Team.ID,
		Action:   "invitation.revoke",
		Resource: inv.ID,
		Result:   auditResultSuccess,
		Metadata: map[string]any{"email": inv.Email},
	})
	return nil
}

// List returns the team's invitations, newest first. By default only live invitations are returned:
// pending ones and accepted ones whose membership is still active.
func (s *InvitationService) List(ctx context.Context, actorID, teamID string, opts ListInvitationsOptions) ([]InvitationView, error) {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)

	tc, err := authorizeTeam(db, teamID, actorID, policy.ActionManageInvitations)
	if err != nil {
		return nil, err
	}
	return s.views(db, []string{tc.Team.ID}, opts)
}

// ListForOwner groups the invitations of every team the user owns, in team creation order. Expired
// invitations stay listed; accepted ones drop out once the member has been removed. Teams without
// invitations are included with an empty list.
func (s *InvitationService) ListForOwner(ctx context.Context, userID string) ([]TeamInvitations, error) {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.ErrUnauthorized
	}

	var teams []models.Team
	if err := db.Where("owner_id = ?", userID).Order("created_at ASC").Find(&teams).Error; err != nil {
		return nil, fmt.Errorf("invitation service: list owned teams: %w", err)
	}
	if len(teams) == 0 {
		return []TeamInvitations{}, nil
	}

	ids := make([]string, len(teams))
	for i, t := range teams {
		ids[i] = t.ID
	}
	views, err := s.views(db, ids, ListInvitationsOptions{IncludeInactive: true})
	if err != nil {
		return nil, err
	}

	byTeam := make(map[string][]InvitationView, len(teams))
	for _, v := range views {
		if v.Status == models.InvitationAccepted && !v.Active {
			continue
		}
		byTeam[v.TeamID] = append(byTeam[v.TeamID], v)
	}
	out := make([]TeamInvitations, len(teams))
	for i, t := range teams {
		out[i] = TeamInvitations{TeamID: t.ID, Name: t.Name, Slug: t.Slug, Invitations: byTeam[t.ID]}
		if out[i].Invitations == nil {
			out[i].Invitations = []InvitationView{}
		}
	}
	return out, nil
}

// views loads the invitations of teamIDs newest first and marks an accepted invitation active only
// while the member it admitted is still on that team.
func (s *InvitationService) views(db *gorm.DB, teamIDs []string, opts ListInvitationsOptions) ([]InvitationView, error) {
	var invitations []models.Invitation
	if err := db.Preload("Inviter").
		Where("team_id IN ?", teamIDs).
		Order("created_at DESC").
		Find(&invitations).Error; err != nil {
		return nil, fmt.Errorf("invitation service: list invitations: %w", err)
	}

	var members []models.Membership
	if err := models.ActiveMemberships(db).Preload("User").
		Where("team_id IN ?", teamIDs).
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("invitation service: list members: %w", err)
	}
	activeUsers := make(map[string]struct{}, len(members))
	activeEmails := make(map[string]struct{}, len(members))
	for _, m := range members {
		activeUsers[m.TeamID+"/"+m.UserID] = struct{}{}
		if m.User != nil {
			activeEmails[m.TeamID+"/"+normaliseEmail(m.User.Email)] = struct{}{}
		}
	}

	now := s.now()
	views := make([]InvitationView, 0, len(invitations))
	for _, inv := range invitations {
		view := InvitationView{
			Invitation:  inv,
			Status:      inv.EffectiveStatus(now),
			InviterName: inv.Inviter.DisplayName(),
		}
		view.Invitation.Inviter = nil
		switch view.Status {
		case models.InvitationPending:
			view.Active = true
		case models.InvitationAccepted:
			if inv.AcceptedBy != nil {
				_, view.Active = activeUsers[inv.TeamID+"/"+*inv.AcceptedBy]
			} else {
				_, view.Active = activeEmails[inv.TeamID+"/"+normaliseEmail(inv.Email)]
			}
		}
		if view.Active || opts.IncludeInactive {
			views = append(views, view)
		}
	}
	return views, nil
}

// ExpireOverdue marks every pending invitation past its expiry as expired.
func (s *InvitationService) ExpireOverdue(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	res := s.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("status = ? AND expires_at < ?", models.InvitationPending, s.now()).
		Update("status", models.InvitationExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("invitation service: expire overdue: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		metrics.Invitations.WithLabelValues("expired").Add(float64(res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// persist runs the invitee checks and stores a new pending invitation in one transaction. A non-nil
// deliver runs last inside that transaction and rolls everything back when it fails.
func (s *InvitationService) persist(ctx context.Context, tc policy.TeamContext, email string, role models.TeamRole, isLink bool, deliver func(*gorm.DB, *InvitationResult) error) (*InvitationResult, error) {
	token, err := s.tokens.Generate()
	if err != nil {
		return nil, fmt.Errorf("invitation service: %w", err)
	}
	hash := crypto.HashToken(token)
	if isLink {
		email = fmt.Sprintf("link-invite-%s@%s", hash[:24], s.linkDomain)
	}

	now := s.now()
	inv := &models.Invitation{
		BaseModel: models.BaseModel{CreatedAt: now, UpdatedAt: now},
		TeamID:    tc.Team.ID,
		Email:     email,
		Role:      role,
		TokenHash: hash,
		Status:    models.InvitationPending,
		IsLink:    isLink,
		InvitedBy: tc.ActorID,
		ExpiresAt: now.Add(s.expiry),
	}
	result := &InvitationResult{Invitation: inv, URL: s.invitationURL(token), token: token}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !isLink {
			if err := s.checkInvitee(tx, tc.Team.ID, email, now); err != nil {
				return err
			}
		}
		if err := tx.Create(inv).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrDuplicatePending
			}
			return fmt.Errorf("create invitation: %w", err)
		}
		if deliver != nil {
			return deliver(tx, result)
		}
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("invitation service: %w", err)
	}

	return result, nil
}

// checkInvitee enforces the membership, cooldown and duplicate rules for an address.
func (s *InvitationService) checkInvitee(tx *gorm.DB, teamID, email string, now time.Time) error {
	user, err := findUserByEmail(tx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
	case err != nil:
		return err
	default:
		active, err := loadActiveMembership(tx, teamID, user.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return ErrAlreadyMember
		}

		var removed models.Membership
		err = tx.Where("team_id = ? AND user_id = ? AND removed_at IS NOT NULL", teamID, user.ID).
			Order("removed_at DESC").
			First(&removed).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return fmt.Errorf("load removed membership: %w", err)
		case removed.RemovedWithin(s.cooldown, now):
			return ErrRecentlyRemoved
		default:
			if err := tx.Where("team_id = ? AND user_id = ? AND removed_at IS NOT NULL", teamID, user.ID).
				Delete(&models.Membership{}).Error; err != nil {
				return fmt.Errorf("purge removed membership: %w", err)
			}
		}
	}

	if err := tx.Model(&models.Invitation{}).
		Where("team_id = ? AND email = ? AND status = ? AND expires_at < ?", teamID, email, models.InvitationPending, now).
		Update("status", models.InvitationExpired).Error; err != nil {
		return fmt.Errorf("expire stale invitations: %w", err)
	}

	var pending int64
	if err := tx.Model(&models.Invitation{}).
		Where("team_id = ? AND email = ? AND status = ?", teamID, email, models.InvitationPending).
		Count(&pending).Error; err != nil {
		return fmt.Errorf("count pending invitations: %w", err)
	}
	if pending > 0 {
		return ErrDuplicatePending
	}
	return nil
}

// resolve loads an invitation by raw token and rejects it unless it is still pending.
func (s *InvitationService) resolve(db *gorm.DB, token string) (*models.Invitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvitationNotFound
	}

	var inv models.Invitation
	err := db.Preload("Team").Preload("Inviter").
		Where("token_hash = ?", crypto.HashToken(token)).
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invitation service: load invitation: %w", err)
	}

	now := s.now()
	if now.After(inv.ExpiresAt) {
		if inv.Status == models.InvitationPending {
			if err := db.Model(&models.Invitation{}).
				Where("id = ? AND status = ?", inv.ID, models.InvitationPending).
				Update("status", models.InvitationExpired).Error; err != nil {
				s.log.Warn("failed to mark invitation expired", zap.String("invitation_id", inv.ID), zap.Error(err))
			}
		}
		return nil, ErrInvitationExpired
	}

	switch inv.Status {
	case models.InvitationAccepted:
		return nil, ErrAlreadyAccepted
	case models.InvitationExpired:
		return nil, ErrInvitationExpired
	}
	return &inv, nil
}

func (s *InvitationService) send(ctx context.Context, db *gorm.DB, team *models.Team, result *InvitationResult) error {
	if s.mailer == nil {
		return mail.ErrSMTPDisabled
	}
	return s.mailer.SendInvitation(ctx, s.emailFor(db, team, result))
}

func (s *InvitationService) sendBatch(ctx context.Context, team *models.Team, results []*InvitationResult) []mail.DeliveryResult {
	if len(results) == 0 {
		return nil
	}
	if s.mailer == nil {
		out := make([]mail.DeliveryResult, len(results))
		for i, r := range results {
			out[i] = mail.DeliveryResult{To: r.Invitation.Email, Err: mail.ErrSMTPDisabled}
		}
		return out
	}

	messages := make([]mail.Invitation, len(results))
	for i, r := range results {
		messages[i] = s.emailFor(s.db.WithContext(ctx), team, r)
	}
	return s.mailer.SendInvitations(ctx, messages)
}

func (s *InvitationService) emailFor(db *gorm.DB, team *models.Team, result *InvitationResult) mail.Invitation {
	var inviter models.User
	if err := db.Select("id", "name", "email").
		First(&inviter, "id = ?", result.Invitation.InvitedBy).Error; err != nil {
		s.log.Debug("inviter lookup failed", zap.String("user_id", result.Invitation.InvitedBy), zap.Error(err))
	}
	return mail.Invitation{
		To:          result.Invitation.Email,
		TeamName:    team.Name,
		InviterName: inviter.DisplayName(),
		Role:        string(result.Invitation.Role),
		URL:         result.URL,
		ExpiresAt:   result.Invitation.ExpiresAt,
	}
}

func (s *InvitationService) invitationURL(token string) string {
	if s.baseURL == "" {
		return "/invite/" + token
	}
	return s.baseURL + "/invite/" + token
}

func (s *InvitationService) observe(outcome string) {
	metrics.Invitations.WithLabelValues(outcome).Inc()
}

func assignableRole(role models.TeamRole) (models.TeamRole, error) {
	if role == "" {
		return models.TeamRoleMember, nil
	}
	if !role.Assignable() {
		return "", ErrInvalidRole
	}
	return role, nil
}

func statusForDelivery(err error) BatchStatus {
	switch {
	case err == nil:
		return BatchSent
	case errors.Is(err, mail.ErrSMTPDisabled):
		return BatchCreated
	default:
		return BatchEmailFailed
	}
}

func batchStatusForError(err error) (BatchStatus, string) {
	switch {
	case errors.Is(err, ErrAlreadyMember):
		return BatchAlreadyMember, ErrAlreadyMember.Message
	case errors.Is(err, ErrDuplicatePending):
		return BatchAlreadyInvited, ErrDuplicatePending.Message
	default:
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return BatchError, appErr.Message
		}
		return BatchError, "Invitation could not be created"
	}
}

func outcomeForError(err error) string {
	status, _ := batchStatusForError(err)
	return string(status)
}
