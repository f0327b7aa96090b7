package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/teamshot/internal/auth"
	"github.com/charlesng35/teamshot/internal/models"
	"github.com/charlesng35/teamshot/internal/services"
	apperrors "github.com/charlesng35/teamshot/pkg/errors"
	"github.com/charlesng35/teamshot/pkg/response"
)

// AuthHandler manages account registration, login and the current-user view.
type AuthHandler struct {
	users *services.UserService
	teams *services.TeamService
	jwt   *iauth.JWTService
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(users *services.UserService, teams *services.TeamService, jwt *iauth.JWTService) *AuthHandler {
	return &AuthHandler{users: users, teams: teams, jwt: jwt}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type authResponse struct {
	*iauth.IssuedToken
	User *models.User `json:"user"`
}

type meResponse struct {
	User        *models.User              `json:"user"`
	Teams       []services.TeamMembership `json:"teams"`
	DefaultTeam *services.TeamMembership  `json:"default_team,omitempty"`
}

// POST /api/auth/signup
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req services.SignUpInput
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.SignUp(requestContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.respondWithToken(c, http.StatusCreated, user)
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Authenticate(requestContext(c), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.respondWithToken(c, http.StatusOK, user)
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	ctx := requestContext(c)

	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			response.Error(c, apperrors.ErrUnauthorized)
			return
		}
		response.Error(c, err)
		return
	}

	teams, err := h.teams.ListForUser(ctx, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := meResponse{User: user, Teams: teams}
	if len(teams) > 0 {
		payload.DefaultTeam, err = h.teams.DefaultTeam(ctx, userID)
		if err != nil {
			response.Error(c, err)
			return
		}
	}

	response.Success(c, http.StatusOK, payload)
}

func (h *AuthHandler) respondWithToken(c *gin.Context, status int, user *models.User) {
	token, err := h.jwt.GenerateAccessToken(iauth.AccessTokenInput{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	})
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, status, authResponse{IssuedToken: token, User: user})
}
