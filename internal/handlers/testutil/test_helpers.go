package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/teamshot/internal/api"
	"github.com/charlesng35/teamshot/internal/app"
	iauth "github.com/charlesng35/teamshot/internal/auth"
	sharedtestutil "github.com/charlesng35/teamshot/internal/database/testutil"
	"github.com/charlesng35/teamshot/internal/monitoring"
	"github.com/charlesng35/teamshot/internal/monitoring/checks"
	"github.com/charlesng35/teamshot/pkg/mail"
	"github.com/charlesng35/teamshot/pkg/response"
)

// DefaultPassword satisfies the password strength rules.
const DefaultPassword = "Sup3r-Secret!"

// WebhookSecret signs payment webhooks in handler tests.
const WebhookSecret = "test-webhook-secret"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Config   *app.Config
	Services *api.Services
	Mailer   *RecordingMailer
}

// Option customises the environment configuration before the router is built.
type Option func(*app.Config)

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Server: app.ServerConfig{BaseURL: "https://app.example.com"},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "test-suite-super-secret-key-32-bytes!!",
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
		},
		Invitations: app.InvitationConfig{
			Expiry:          7 * 24 * time.Hour,
			RemovalCooldown: 24 * time.Hour,
		},
		Payments: app.PaymentConfig{
			WebhookSecret:       WebhookSecret,
			ManualGrantsEnabled: true,
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	mailer := &RecordingMailer{}
	sender, err := mail.NewInvitationSender(mailer)
	require.NoError(t, err)

	svc, err := api.NewServices(db, cfg, sender)
	require.NoError(t, err)

	health := monitoring.NewHealthManager()
	health.RegisterReadiness(checks.Database(db, time.Second))

	router, err := api.NewRouter(svc, jwtSvc, cfg, health)
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Config:   cfg,
		Services: svc,
		Mailer:   mailer,
	}
}

// RecordingMailer captures outbound messages instead of sending them.
type RecordingMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	Err      error
}

// Send records msg, or fails with Err when set.
func (m *RecordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (m *RecordingMailer) Messages() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.messages...)
}

// UserPayload captures the subset of user fields returned from auth endpoints.
type UserPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AuthResult bundles the JSON response from the signup and login endpoints.
type AuthResult struct {
	AccessToken string      `json:"access_token"`
	ExpiresAt   time.Time   `json:"expires_at"`
	User        UserPayload `json:"user"`
}

// SignUp registers an account through the API and returns the issued token.
func (e *Env) SignUp(name, email string) AuthResult {
	e.T.Helper()

	payload := map[string]string{
		"name":     name,
		"email":    email,
		"password": DefaultPassword,
	}
	w := e.Request(http.MethodPost, "/api/auth/signup", payload, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var result AuthResult
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &result)
	require.NotEmpty(e.T, result.AccessToken)
	return result
}

// Login authenticates with email and password and returns the issued token.
func (e *Env) Login(email, password string) AuthResult {
	e.T.Helper()

	payload := map[string]string{"email": email, "password": password}
	w := e.Request(http.MethodPost, "/api/auth/login", payload, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	var result AuthResult
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &result)
	require.NotEmpty(e.T, result.AccessToken)
	return result
}

// TeamPayload captures the team fields returned by the team endpoints.
type TeamPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	OwnerID string `json:"owner_id"`
	Role    string `json:"role"`
}

// CreateTeam creates a team owned by the token holder.
func (e *Env) CreateTeam(token, name string) TeamPayload {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/teams", map[string]string{"name": name}, token)
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var team TeamPayload
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &team)
	return team
}

// InvitationPayload captures the invitation create response.
type InvitationPayload struct {
	Invitation struct {
		ID     string `json:"id"`
		Email  string `json:"email"`
		Role   string `json:"role"`
		Status string `json:"status"`
	} `json:"invitation"`
	URL       string `json:"invitation_url"`
	EmailSent bool   `json:"email_sent"`
	Token     string `json:"token"`
}

// Invite invites email into the team and returns the created invitation.
func (e *Env) Invite(token, slug, email, role string) InvitationPayload {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/teams/"+slug+"/invitations", map[string]string{"email": email, "role": role}, token)
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var inv InvitationPayload
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &inv)
	require.NotEmpty(e.T, inv.Token)
	return inv
}

// Join signs up name/email, invites them into slug with role and accepts, returning the new member's auth.
func (e *Env) Join(ownerToken, slug, name, email, role string) AuthResult {
	e.T.Helper()

	member := e.SignUp(name, email)
	inv := e.Invite(ownerToken, slug, email, role)
	w := e.Request(http.MethodPost, "/api/invitations/"+inv.Token+"/accept", nil, member.AccessToken)
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())
	return member
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// ErrorCode returns the error code of a failed response.
func ErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	resp := DecodeResponse(t, w)
	require.False(t, resp.Success, w.Body.String())
	require.NotNil(t, resp.Error, w.Body.String())
	return resp.Error.Code
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		require.NoError(e.T, err)
	}
	return e.RequestRaw(method, path, data, token, nil)
}

// RequestRaw sends body verbatim with the extra headers.
func (e *Env) RequestRaw(method, path string, body []byte, token string, headers map[string]string) *httptest.ResponseRecorder {
	e.T.Helper()

	req, err := http.NewRequest(method, path, bytes.NewReader(body))
	require.NoError(e.T, err)

	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// TokenFromURL extracts the invitation token from an invitation URL.
func TokenFromURL(url string) string {
	idx := strings.LastIndex(url, "/invite/")
	if idx < 0 {
		return ""
	}
	return url[idx+len("/invite/"):]
}
