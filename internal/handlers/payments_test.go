package handlers_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/teamshot/internal/app"
	"github.com/charlesng35/teamshot/internal/handlers"
	"github.com/charlesng35/teamshot/internal/handlers/testutil"
	"github.com/charlesng35/teamshot/pkg/crypto"
)

const webhookPath = "/api/payments/webhook"

type grantPayload struct {
	Duplicate bool `json:"duplicate"`
	Pool      struct {
		TotalCredits int64 `json:"total_credits"`
	} `json:"pool"`
	Payment struct {
		ExternalTransactionID string `json:"external_transaction_id"`
	} `json:"payment"`
}

func webhookBody(t *testing.T, teamID, txID string, credits int64) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"external_transaction_id": txID,
		"team_id":                 teamID,
		"credits":                 credits,
		"amount_charged":          credits * 10,
		"currency":                "USD",
	})
	require.NoError(t, err)
	return body
}

func signed(body []byte) map[string]string {
	return map[string]string{handlers.SignatureHeader: crypto.Sign([]byte(testutil.WebhookSecret), body)}
}

func TestPaymentWebhook_GrantsOncePerTransaction(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := env.SignUp("Ana", "ana@example.com")
	team := env.CreateTeam(owner.AccessToken, "Paying Team")

	body := webhookBody(t, team.ID, "txn_001", 250)

	w := env.RequestRaw(http.MethodPost, webhookPath, body, "", signed(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first grantPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &first)
	require.False(t, first.Duplicate)
	require.Equal(t, int64(250), first.Pool.TotalCredits)
	require.Equal(t, "txn_001", first.Payment.ExternalTransactionID)

	w = env.RequestRaw(http.MethodPost, webhookPath, body, "", signed(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var replay grantPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &replay)
	require.True(t, replay.Duplicate)
	require.Equal(t, int64(250), replay.Pool.TotalCredits)

	w = env.Request(http.MethodGet, "/api/teams/"+team.Slug+"/credits", nil, owner.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	var overview struct {
		Total int64 `json:"total"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &overview)
	require.Equal(t, int64(250), overview.Total)
}

func TestPaymentWebhook_RejectsBadRequests(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := env.SignUp("Ana", "ana@example.com")
	team := env.CreateTeam(owner.AccessToken, "Paying Team")

	body := webhookBody(t, team.ID, "txn_002", 50)

	w := env.RequestRaw(http.MethodPost, webhookPath, body, "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.RequestRaw(http.MethodPost, webhookPath, body, "", map[string]string{
		handlers.SignatureHeader: crypto.Sign([]byte("wrong-secret"), body),
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	tampered := webhookBody(t, team.ID, "txn_002", 5000)
	w = env.RequestRaw(http.MethodPost, webhookPath, tampered, "", signed(body))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	unknown := webhookBody(t, "00000000-0000-0000-0000-000000000000", "txn_003", 50)
	w = env.RequestRaw(http.MethodPost, webhookPath, unknown, "", signed(unknown))
	require.Equal(t, http.StatusNotFound, w.Code)

	zero := webhookBody(t, team.ID, "txn_004", 0)
	w = env.RequestRaw(http.MethodPost, webhookPath, zero, "", signed(zero))
	require.Equal(t, http.StatusBadRequest, w.Code)

	garbage := []byte("{not json")
	w = env.RequestRaw(http.MethodPost, webhookPath, garbage, "", signed(garbage))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentWebhook_DisabledWithoutSecret(t *testing.T) {
	env := testutil.NewEnv(t, func(cfg *app.Config) {
		cfg.Payments.WebhookSecret = ""
	})
	owner := env.SignUp("Ana", "ana@example.com")
	team := env.CreateTeam(owner.AccessToken, "Paying Team")

	body := webhookBody(t, team.ID, "txn_005", 10)
	w := env.RequestRaw(http.MethodPost, webhookPath, body, "", signed(body))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "WEBHOOK_DISABLED", testutil.ErrorCode(t, w))
}

func TestPaymentWebhook_FailureEventGrantsNothing(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := env.SignUp("Ana", "ana@example.com")
	team := env.CreateTeam(owner.AccessToken, "Paying Team")

	failed, err := json.Marshal(map[string]any{
		"event":                   handlers.EventPaymentFailed,
		"external_transaction_id": "txn_declined",
		"team_id":                 team.ID,
		"reason":                  "card_declined",
	})
	require.NoError(t, err)

	w := env.RequestRaw(http.MethodPost, webhookPath, failed, "", signed(failed))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var payload struct {
		Payment struct {
			Status         string `json:"status"`
			CreditsGranted int64  `json:"credits_granted"`
		} `json:"payment"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &payload)
	require.Equal(t, "failed", payload.Payment.Status)
	require.Zero(t, payload.Payment.CreditsGranted)

	w = env.Request(http.MethodGet, "/api/teams/"+team.Slug+"/credits", nil, owner.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	var overview struct {
		Total int64 `json:"total"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &overview)
	require.Zero(t, overview.Total)

	succeeded, err := json.Marshal(map[string]any{
		"event":                   handlers.EventPaymentSucceeded,
		"external_transaction_id": "txn_declined",
		"team_id":                 team.ID,
		"credits":                 30,
	})
	require.NoError(t, err)
	w = env.RequestRaw(http.MethodPost, webhookPath, succeeded, "", signed(succeeded))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var grant grantPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &grant)
	require.False(t, grant.Duplicate)
	require.Equal(t, int64(30), grant.Pool.TotalCredits)

	other := []byte(`{"event":"payment.refunded","team_id":"` + team.ID + `"}`)
	w = env.RequestRaw(http.MethodPost, webhookPath, other, "", signed(other))
	require.Equal(t, http.StatusOK, w.Code)
}
