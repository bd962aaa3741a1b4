package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	bursarapi "bursar/pkg/api/bursar"
	"bursar/pkg/logging"
	"bursar/pkg/middleware"

	"bursar/internal/checkout"
	"bursar/internal/flow"
	"bursar/internal/notifications"
)

var (
	db           *sql.DB
	logger       logging.Logger
	orchestrator *flow.Orchestrator
	listener     *notifications.Listener
)

// Init initializes the handlers with their collaborators.
func Init(database *sql.DB, log logging.Logger, orch *flow.Orchestrator, lst *notifications.Listener) {
	db = database
	logger = log
	orchestrator = orch
	listener = lst
}

// StartCheckout begins a checkout for the authenticated user. Free entries
// and wallet-balance debits settle inline; provider checkouts answer with a
// redirect URL.
func StartCheckout(c middleware.Context) {
	userID := c.GetString("user_id")
	walletID := c.GetString("wallet_id")
	email := c.GetString("email")

	var req bursarapi.StartCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
		return
	}

	targetWallet := req.TargetWalletID
	if targetWallet == "" {
		targetWallet = walletID
	}
	if targetWallet == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Target wallet required"})
		return
	}

	result, err := orchestrator.Begin(c.Request.Context(), flow.BeginParams{
		UserID:              userID,
		Email:               email,
		ClientTransactionID: req.ClientTransactionID,
		Build: checkout.BuildParams{
			AmountCents:      req.AmountCents,
			AmountEditable:   req.AmountEditable,
			TargetWalletID:   targetWallet,
			Method:           checkout.PaymentMethod(req.Method),
			Redemption:       domainRedemption(req.Redemption),
			Resource:         domainResource(req.Resource),
			PresetPaymentRef: req.PresetPaymentRef,
		},
	})
	if err != nil {
		// A retryable inline failure still reports the id so the caller
		// can resubmit under the same idempotency key.
		clientTransactionID := req.ClientTransactionID
		if result != nil {
			clientTransactionID = result.ClientTransactionID
		}
		writeCheckoutError(c, clientTransactionID, err)
		return
	}

	if checkoutsStarted != nil {
		checkoutsStarted.WithLabelValues(string(result.Intent.Channel)).Inc()
	}

	resp := bursarapi.StartCheckoutResponse{
		ClientTransactionID: result.ClientTransactionID,
		Intent:              apiIntent(result.Intent),
		RedirectURL:         result.RedirectURL,
	}
	if result.Settlement != nil {
		resp.Settled = true
		resp.WalletBalanceAfter = result.Settlement.WalletBalanceAfterCents
		if checkoutsSettled != nil {
			checkoutsSettled.WithLabelValues(string(result.Intent.Channel)).Inc()
		}
	}
	c.JSON(http.StatusOK, resp)
}

// CheckoutReturn resumes a checkout after the provider redirect comes back.
func CheckoutReturn(c middleware.Context) {
	clientTransactionID := c.Query("clientTxId")
	handle := c.Query("handle")
	if clientTransactionID == "" || handle == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "clientTxId and handle are required"})
		return
	}

	resume(c, flow.ResumeParams{
		UserID:                    c.GetString("user_id"),
		Email:                     c.GetString("email"),
		WalletID:                  c.GetString("wallet_id"),
		ClientTransactionID:       clientTransactionID,
		ProviderTransactionHandle: handle,
	}, orchestrator.Resume)
}

// RetryCheckout re-attempts confirmation and settlement for a checkout that
// failed on a transport error, reusing the original client transaction id.
func RetryCheckout(c middleware.Context) {
	clientTransactionID := c.Param("client_transaction_id")
	handle := c.Query("handle")
	if clientTransactionID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Client transaction ID required"})
		return
	}

	resume(c, flow.ResumeParams{
		UserID:                    c.GetString("user_id"),
		Email:                     c.GetString("email"),
		WalletID:                  c.GetString("wallet_id"),
		ClientTransactionID:       clientTransactionID,
		ProviderTransactionHandle: handle,
	}, orchestrator.Retry)
}

func resume(c middleware.Context, params flow.ResumeParams, run func(ctx context.Context, p flow.ResumeParams) (*flow.ResumeResult, error)) {
	result, err := run(c.Request.Context(), params)
	if err != nil {
		writeCheckoutError(c, params.ClientTransactionID, err)
		return
	}

	if checkoutsSettled != nil {
		checkoutsSettled.WithLabelValues(string(result.Intent.Channel)).Inc()
	}

	c.JSON(http.StatusOK, bursarapi.CheckoutReturnResponse{
		ClientTransactionID:   params.ClientTransactionID,
		Settled:               result.Settlement.Success,
		WalletBalanceAfter:    result.Settlement.WalletBalanceAfterCents,
		KeepUIVisible:         result.Settlement.KeepUIVisible,
		ResumedWithoutContext: result.ResumedWithoutContext,
	})
}

// CheckoutStatus reports whether a checkout still has pending state and can
// therefore be retried with full context.
func CheckoutStatus(c middleware.Context) {
	clientTransactionID := c.Param("client_transaction_id")
	if clientTransactionID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Client transaction ID required"})
		return
	}

	var createdAt time.Time
	err := db.QueryRowContext(c.Request.Context(), `
		SELECT created_at FROM bursar.pending_transactions
		WHERE client_transaction_id = $1`, clientTransactionID).Scan(&createdAt)
	switch {
	case err == sql.ErrNoRows:
		c.JSON(http.StatusOK, bursarapi.CheckoutStatusResponse{Pending: false})
	case err != nil:
		logger.WithFields(logging.Fields{"error": err.Error()}).Error("Failed to query pending transaction")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Database error"})
	default:
		c.JSON(http.StatusOK, bursarapi.CheckoutStatusResponse{Pending: true, CreatedAt: &createdAt})
	}
}

// PreviewRedemption resolves toggle-apply semantics for a redemption
// without touching any state.
func PreviewRedemption(c middleware.Context) {
	var req bursarapi.PreviewRedemptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
		return
	}

	applied := checkout.ToggleRedemption(domainRedemption(req.Current), *domainRedemption(&req.Selected))
	res := checkout.Resolve(req.AmountCents, applied)

	c.JSON(http.StatusOK, bursarapi.PreviewRedemptionResponse{
		Applied:              apiRedemption(applied),
		OriginalAmountCents:  req.AmountCents,
		EffectiveAmountCents: res.EffectiveAmountCents,
		IsFreeEntry:          res.IsFreeEntry,
	})
}

// HandlePushNotification is the service-authenticated ingress for push
// events. The response carries the enriched event back to the transport.
func HandlePushNotification(c middleware.Context) {
	var req bursarapi.PushNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
		return
	}

	payload := domainPushPayload(req.Payload)

	var event notifications.Event
	switch req.Type {
	case "balance_updated":
		event = listener.OnBalanceUpdated(payload)
	case "transaction_received":
		event = listener.OnTransactionReceived(payload)
	default:
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Unknown notification type"})
		return
	}

	if pushEventsTotal != nil {
		pushEventsTotal.WithLabelValues(req.Type, strconv.FormatBool(event.Matched)).Inc()
	}

	c.JSON(http.StatusOK, bursarapi.PushNotificationResponse{Event: apiPushEvent(event)})
}

// writeCheckoutError maps the checkout error taxonomy onto HTTP responses.
// Retryable responses carry the client transaction id to repeat with.
func writeCheckoutError(c middleware.Context, clientTransactionID string, err error) {
	log := middleware.GetContextLogger(c, logger)

	var rejected *checkout.ProviderRejected
	var settlementRejected *checkout.SettlementRejected

	switch {
	case errors.Is(err, checkout.ErrInvalidAmount):
		countFailure("invalid_amount")
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})

	case errors.As(err, &rejected):
		countFailure("provider_rejected")
		log.WithFields(logging.Fields{"provider_transaction_id": rejected.ProviderTransactionID}).Info("Provider rejected transaction")
		c.JSON(http.StatusPaymentRequired, bursarapi.ErrorResponse{Error: "The payment was declined by the provider"})

	case errors.As(err, &settlementRejected):
		countFailure("settlement_rejected")
		status := settlementRejected.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		c.JSON(status, bursarapi.ErrorResponse{Error: settlementRejected.Error()})

	case checkout.IsRetryable(err):
		countFailure("transport")
		log.WithFields(logging.Fields{"error": err.Error()}).Warn("Checkout failed with retryable error")
		c.JSON(http.StatusBadGateway, bursarapi.ErrorResponse{
			Error:               "The payment could not be completed, please retry",
			Retryable:           true,
			ClientTransactionID: clientTransactionID,
		})

	default:
		countFailure("internal")
		log.WithFields(logging.Fields{"error": err.Error()}).Error("Checkout failed")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Internal error"})
	}
}

func countFailure(class string) {
	if checkoutFailures != nil {
		checkoutFailures.WithLabelValues(class).Inc()
	}
}
