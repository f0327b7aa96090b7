package services

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/charlesng35/teamshot/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.Define(apperrors.KindNotFound, "USER_NOT_FOUND", "User not found")
	// ErrEmailTaken indicates another account already uses the email address.
	ErrEmailTaken = apperrors.Define(apperrors.KindConflict, "EMAIL_TAKEN", "An account with this email already exists")

	// ErrTeamNotFound indicates the requested team does not exist.
	ErrTeamNotFound = apperrors.Define(apperrors.KindNotFound, "TEAM_NOT_FOUND", "Team not found")
	// ErrSlugTaken indicates another team already uses the slug.
	ErrSlugTaken = apperrors.Define(apperrors.KindConflict, "SLUG_TAKEN", "Team slug is already in use")
	// ErrTeamForbidden indicates the actor lacks the role required for the operation.
	ErrTeamForbidden = apperrors.Define(apperrors.KindForbidden, "TEAM_FORBIDDEN", "You do not have permission to perform this action")
	// ErrMemberNotFound indicates no active membership matches the request.
	ErrMemberNotFound = apperrors.Define(apperrors.KindNotFound, "MEMBER_NOT_FOUND", "Member not found")
	// ErrInvalidTarget indicates the operation cannot be applied to the team owner.
	ErrInvalidTarget = apperrors.Define(apperrors.KindValidation, "INVALID_TARGET", "The team owner's membership cannot be changed")
	// ErrInvalidRole indicates a role outside the assignable set.
	ErrInvalidRole = apperrors.Define(apperrors.KindValidation, "INVALID_ROLE", "Role must be admin or member")

	// ErrInvitationNotFound indicates no invitation matches the token or id.
	ErrInvitationNotFound = apperrors.Define(apperrors.KindNotFound, "INVITATION_NOT_FOUND", "Invitation not found")
	// ErrInvitationExpired indicates the invitation is past its expiry.
	ErrInvitationExpired = apperrors.Define(apperrors.KindExpired, "INVITATION_EXPIRED", "Invitation has expired")
	// ErrAlreadyAccepted indicates the invitation has already been used.
	ErrAlreadyAccepted = apperrors.Define(apperrors.KindInvalidState, "ALREADY_ACCEPTED", "Invitation has already been accepted")
	// ErrInvitationNotPending indicates the invitation can no longer be revoked.
	ErrInvitationNotPending = apperrors.Define(apperrors.KindInvalidState, "INVITATION_NOT_PENDING", "Only pending invitations can be revoked")
	// ErrEmailMismatch indicates the accepting account does not own the invited address.
	ErrEmailMismatch = apperrors.Define(apperrors.KindForbidden, "EMAIL_MISMATCH", "This invitation was sent to a different email address")
	// ErrAlreadyMember indicates the invitee already holds an active membership.
	ErrAlreadyMember = apperrors.Define(apperrors.KindConflict, "ALREADY_MEMBER", "User is already a member of this team")
	// ErrDuplicatePending indicates a live invitation already exists for the email.
	ErrDuplicatePending = apperrors.Define(apperrors.KindConflict, "DUPLICATE_PENDING", "An invitation has already been sent to this email")
	// ErrRecentlyRemoved indicates the invitee was removed within the cooldown window.
	ErrRecentlyRemoved = apperrors.Define(apperrors.KindConflict, "RECENTLY_REMOVED", "This user was recently removed from the team and cannot be re-invited yet")
	// ErrInvalidEmail indicates a malformed email address.
	ErrInvalidEmail = apperrors.Define(apperrors.KindValidation, "INVALID_EMAIL", "Email address is invalid")
	// ErrEmailDelivery indicates the email collaborator failed; the invitation was not kept.
	ErrEmailDelivery = apperrors.Define(apperrors.KindExternalService, "EMAIL_DELIVERY_FAILED", "Invitation email could not be delivered")

	// ErrInsufficientCredits indicates the balance cannot cover the request.
	ErrInsufficientCredits = apperrors.Define(apperrors.KindInsufficientCredits, "INSUFFICIENT_CREDITS", "Insufficient credits")
	// ErrNoAllocation indicates the member has never been allocated credits.
	ErrNoAllocation = apperrors.Define(apperrors.KindInsufficientCredits, "NO_ALLOCATION", "No credits have been allocated to this member")
	// ErrCreditsNotInitialized indicates the team credit pool has not been created yet.
	ErrCreditsNotInitialized = apperrors.Define(apperrors.KindNotFound, "CREDITS_NOT_INITIALIZED", "Team credits have not been initialized")
	// ErrPoolExceeded indicates an allocation would exceed the purchased pool.
	ErrPoolExceeded = apperrors.Define(apperrors.KindInsufficientCredits, "POOL_EXCEEDED", "Allocation exceeds the team's available credits")
	// ErrInvalidAmount indicates a non-positive credit amount.
	ErrInvalidAmount = apperrors.Define(apperrors.KindValidation, "INVALID_AMOUNT", "Amount must be a positive number of credits")
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate")
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
