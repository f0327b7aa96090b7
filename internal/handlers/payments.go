package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/teamshot/internal/services"
	"github.com/charlesng35/teamshot/pkg/crypto"
	"github.com/charlesng35/teamshot/pkg/errors"
	"github.com/charlesng35/teamshot/pkg/logger"
	"github.com/charlesng35/teamshot/pkg/response"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Signature"

const maxWebhookBody = 64 << 10

// Webhook event types. A body without an event is treated as a success.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

type webhookEnvelope struct {
	Event string `json:"event"`
}

var (
	errWebhookDisabled  = errors.New("WEBHOOK_DISABLED", "Payment webhook is not configured", http.StatusServiceUnavailable)
	errInvalidSignature = errors.ErrUnauthorized.WithMessage("Invalid webhook signature")
)

// PaymentHandler receives payment confirmations from the payment provider.
type PaymentHandler struct {
	credits *services.CreditService
	secret  []byte
	log     *zap.Logger
}

// NewPaymentHandler constructs a PaymentHandler. An empty secret disables the webhook.
func NewPaymentHandler(credits *services.CreditService, secret string) *PaymentHandler {
	return &PaymentHandler{
		credits: credits,
		secret:  []byte(secret),
		log:     logger.WithModule("payments"),
	}
}

// POST /api/payments/webhook
func (h *PaymentHandler) Webhook(c *gin.Context) {
	if len(h.secret) == 0 {
		response.Error(c, errWebhookDisabled)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.Error(c, errors.NewBadRequest("unable to read request body"))
		return
	}
	if !crypto.VerifySignature(h.secret, body, c.GetHeader(SignatureHeader)) {
		h.log.Warn("rejected webhook with invalid signature", zap.String("client_ip", c.ClientIP()))
		response.Error(c, errInvalidSignature)
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		response.Error(c, errors.NewBadRequest("invalid JSON payload"))
		return
	}

	switch envelope.Event {
	case "", EventPaymentSucceeded:
		h.confirm(c, body)
	case EventPaymentFailed:
		h.fail(c, body)
	default:
		h.log.Debug("ignoring webhook event", zap.String("event", envelope.Event))
		response.Success(c, http.StatusOK, gin.H{"event": envelope.Event, "ignored": true})
	}
}

func (h *PaymentHandler) confirm(c *gin.Context, body []byte) {
	var confirmation services.PaymentConfirmation
	if err := json.Unmarshal(body, &confirmation); err != nil {
		response.Error(c, errors.NewBadRequest("invalid JSON payload"))
		return
	}

	result, err := h.credits.ConfirmPayment(requestContext(c), confirmation)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.log.Info("payment confirmed",
		zap.String("external_transaction_id", confirmation.ExternalTransactionID),
		zap.String("team_id", confirmation.TeamID),
		zap.Bool("duplicate", result.Duplicate),
	)
	response.Success(c, http.StatusOK, result)
}

func (h *PaymentHandler) fail(c *gin.Context, body []byte) {
	var failure services.PaymentFailure
	if err := json.Unmarshal(body, &failure); err != nil {
		response.Error(c, errors.NewBadRequest("invalid JSON payload"))
		return
	}

	payment, err := h.credits.MarkPaymentFailed(requestContext(c), failure)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.log.Warn("payment failed",
		zap.String("external_transaction_id", failure.ExternalTransactionID),
		zap.String("team_id", failure.TeamID),
		zap.String("status", string(payment.Status)),
	)
	response.Success(c, http.StatusOK, gin.H{"payment": payment})
}
