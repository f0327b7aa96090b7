package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/teamshot/internal/models"
	"github.com/charlesng35/teamshot/internal/services"
	"github.com/charlesng35/teamshot/pkg/response"
)

// InvitationHandler exposes team invitation management and the public accept flow.
type InvitationHandler struct {
	svc *services.InvitationService
}

// NewInvitationHandler constructs an InvitationHandler.
func NewInvitationHandler(svc *services.InvitationService) *InvitationHandler {
	return &InvitationHandler{svc: svc}
}

type createInvitationRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
	Role  string `json:"role" validate:"omitempty,oneof=admin member"`
}

type batchInvitationRequest struct {
	Emails []string `json:"emails" validate:"required,min=1"`
	Role   string   `json:"role" validate:"omitempty,oneof=admin member"`
}

type invitationResponse struct {
	*services.InvitationResult
	Token string `json:"token"`
}

func newInvitationResponse(result *services.InvitationResult) invitationResponse {
	return invitationResponse{InvitationResult: result, Token: result.Token()}
}

// GET /api/teams/:slug/invitations
func (h *InvitationHandler) List(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	invitations, err := h.svc.List(requestContext(c), tc.ActorID, tc.Team.ID, services.ListInvitationsOptions{
		IncludeInactive: parseBoolQuery(c, "include_inactive"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, invitations)
}

// GET /api/invitations
func (h *InvitationHandler) ListOwned(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	teams, err := h.svc.ListForOwner(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"teams": teams})
}

// POST /api/teams/:slug/invitations
func (h *InvitationHandler) Create(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	var req createInvitationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.svc.Create(requestContext(c), tc.ActorID, tc.Team.ID, req.Email, parseRole(req.Role))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, newInvitationResponse(result))
}

// POST /api/teams/:slug/invitations/batch
func (h *InvitationHandler) CreateBatch(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	var req batchInvitationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.svc.CreateBatch(requestContext(c), tc.ActorID, tc.Team.ID, req.Emails, parseRole(req.Role))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/teams/:slug/invitations/link
func (h *InvitationHandler) GenerateLink(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	result, err := h.svc.GenerateLink(requestContext(c), tc.ActorID, tc.Team.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, newInvitationResponse(result))
}

// DELETE /api/teams/:slug/invitations/:invitationId
func (h *InvitationHandler) Revoke(c *gin.Context) {
	tc, ok := teamScope(c)
	if !ok {
		return
	}

	if err := h.svc.Revoke(requestContext(c), tc.ActorID, tc.Team.ID, c.Param("invitationId")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// GET /api/invitations/:token
func (h *InvitationHandler) Get(c *gin.Context) {
	details, err := h.svc.GetByToken(requestContext(c), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, details)
}

// POST /api/invitations/:token/accept
func (h *InvitationHandler) Accept(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	result, err := h.svc.Accept(requestContext(c), userID, c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// parseRole maps an already validated role string; empty means member.
func parseRole(value string) models.TeamRole {
	if strings.TrimSpace(value) == "" {
		return models.TeamRoleMember
	}
	return models.TeamRole(strings.ToLower(value))
}
