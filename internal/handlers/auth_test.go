package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/teamshot/internal/handlers/testutil"
)

func TestAuthHandler_SignUpLoginMe(t *testing.T) {
	env := testutil.NewEnv(t)

	signup := env.SignUp("Ana Owner", "Ana@Example.com")
	require.Equal(t, "ana@example.com", signup.User.Email)
	require.False(t, signup.ExpiresAt.IsZero())

	login := env.Login("ANA@example.com", testutil.DefaultPassword)
	require.Equal(t, signup.User.ID, login.User.ID)

	claims, err := env.JWT.ValidateAccessToken(login.AccessToken)
	require.NoError(t, err)
	require.Equal(t, signup.User.ID, claims.UserID)

	team := env.CreateTeam(login.AccessToken, "Ana Crew")

	me := env.Request(http.MethodGet, "/api/auth/me", nil, login.AccessToken)
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())

	var payload struct {
		User        testutil.UserPayload `json:"user"`
		Teams       []map[string]any     `json:"teams"`
		DefaultTeam struct {
			Team testutil.TeamPayload `json:"team"`
			Role string               `json:"role"`
		} `json:"default_team"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, me).Data, &payload)
	require.Equal(t, signup.User.ID, payload.User.ID)
	require.Len(t, payload.Teams, 1)
	require.Equal(t, team.ID, payload.DefaultTeam.Team.ID)
	require.Equal(t, "owner", payload.DefaultTeam.Role)
}

func TestAuthHandler_MeRequiresToken(t *testing.T) {
	env := testutil.NewEnv(t)

	resp := env.Request(http.MethodGet, "/api/auth/me", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = env.Request(http.MethodGet, "/api/auth/me", nil, "not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthHandler_SignUpValidation(t *testing.T) {
	env := testutil.NewEnv(t)

	weak := map[string]string{"name": "Weak", "email": "weak@example.com", "password": "password"}
	resp := env.Request(http.MethodPost, "/api/auth/signup", weak, "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "BAD_REQUEST", testutil.ErrorCode(t, resp))

	env.SignUp("Taken", "taken@example.com")
	dup := map[string]string{"name": "Again", "email": "TAKEN@example.com", "password": testutil.DefaultPassword}
	resp = env.Request(http.MethodPost, "/api/auth/signup", dup, "")
	require.Equal(t, http.StatusConflict, resp.Code)
	require.Equal(t, "EMAIL_TAKEN", testutil.ErrorCode(t, resp))
}

func TestAuthHandler_LoginRejectsBadCredentials(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SignUp("Bo", "bo@example.com")

	resp := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "bo@example.com",
		"password": "Wrong-Passw0rd!",
	}, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.Equal(t, "INVALID_CREDENTIALS", testutil.ErrorCode(t, resp))

	resp = env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "nobody@example.com",
		"password": testutil.DefaultPassword,
	}, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.Equal(t, "INVALID_CREDENTIALS", testutil.ErrorCode(t, resp))

	resp = env.Request(http.MethodPost, "/api/auth/login", map[string]string{"email": " "}, "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
}
