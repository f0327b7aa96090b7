package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/teamshot/internal/services"
	apperrors "github.com/charlesng35/teamshot/pkg/errors"
	"github.com/charlesng35/teamshot/pkg/response"
)

var errManualGrantsDisabled = apperrors.ErrForbidden.WithMessage("Manual credit grants are disabled")

// CreditHandler exposes the team credit pool and member allocations.
type CreditHandler struct {
	svc          *services.CreditService
	manualGrants bool
}

// NewCreditHandler constructs a CreditHandler. manualGrants enables the owner-only manual grant route.
func NewCreditHandler(svc *services.CreditService, manualGrants bool) *CreditHandler {
	return &CreditHandler{svc: svc, manualGrants: manualGrants}
}

type allocateRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Amount int64  `json:"amount" validate:"gt=0"`
}

type reassignRequest struct {
	FromUserID string `json:"from_user_id" validate:"required"`
	ToUserID   string `json:"to_user_id" validate:"required"`
	Amount     int64  `json:"amount" validate:"gt=0"`
}

type amountRequest struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}

// GET /api/teams/:slug/credits
func (h *CreditHandler) Overview(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	ctx := requestContext(c)
	overview, err := h.svc.Overview(ctx, tc.Team.ID)
	if errors.Is(err, services.ErrCreditsNotInitialized) {
		if _, err = h.svc.EnsureTeamCredits(ctx, tc.Team.ID); err == nil {
			overview, err = h.svc.Overview(ctx, tc.Team.ID)
		}
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, overview)
}

// GET /api/teams/:slug/credits/me
func (h *CreditHandler) Me(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	balance, err := h.svc.MemberBalance(requestContext(c), tc.Team.ID, tc.ActorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, balance)
}

// POST /api/teams/:slug/credits/allocate
func (h *CreditHandler) Allocate(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	var req allocateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	balance, err := h.svc.AllocateToMember(requestContext(c), tc.ActorID, tc.Team.ID, req.UserID, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, balance)
}

// POST /api/teams/:slug/credits/auto-distribute
func (h *CreditHandler) AutoDistribute(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	balances, err := h.svc.AutoDistribute(requestContext(c), tc.ActorID, tc.Team.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, balances)
}

// POST /api/teams/:slug/credits/reassign
func (h *CreditHandler) Reassign(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	var req reassignRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.svc.Reassign(requestContext(c), tc.ActorID, tc.Team.ID, req.FromUserID, req.ToUserID, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/teams/:slug/credits/deduct
func (h *CreditHandler) Deduct(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	var req amountRequest
	if !bindAndValidate(c, &req) {
		return
	}

	balance, err := h.svc.Deduct(requestContext(c), tc.Team.ID, tc.ActorID, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, balance)
}

// POST /api/teams/:slug/credits/manual
func (h *CreditHandler) ManualGrant(c *gin.Context) {
	if !h.manualGrants {
		response.Error(c, errManualGrantsDisabled)
		return
	}
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	var req amountRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.svc.GrantManual(requestContext(c), tc.ActorID, tc.Team.ID, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, result)
}
