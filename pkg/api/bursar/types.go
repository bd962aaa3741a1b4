// Package bursar defines the wire types of the checkout API. The package is
// self-contained so other services can import it without pulling in the
// service internals; handlers map these shapes onto the domain types.
package bursar

import "time"

// ErrorResponse is the generic error envelope. Retryable tells the caller
// whether repeating the request with the same client transaction id can
// succeed; when set, ClientTransactionID carries the id to repeat with.
type ErrorResponse struct {
	Error               string `json:"error"`
	Retryable           bool   `json:"retryable,omitempty"`
	ClientTransactionID string `json:"client_transaction_id,omitempty"`
}

// Redemption is a coupon applied to a checkout. Kind is one of "discount",
// "bonus" or "resource".
type Redemption struct {
	ID             string  `json:"id"`
	Code           string  `json:"code"`
	Kind           string  `json:"kind"`
	PercentOrValue float64 `json:"percent_or_value"`
}

// ResourceRef identifies a catalog resource being purchased.
type ResourceRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Intent is the computed payment intent as reported to callers. Amounts are
// minor units (cents).
type Intent struct {
	OriginalAmountCents  int64        `json:"original_amount_cents"`
	EffectiveAmountCents int64        `json:"effective_amount_cents"`
	AppliedRedemption    *Redemption  `json:"applied_redemption,omitempty"`
	IsFreeEntry          bool         `json:"is_free_entry"`
	TargetWalletID       string       `json:"target_wallet_id"`
	Channel              string       `json:"channel"`
	Resource             *ResourceRef `json:"resource,omitempty"`
	PresetPaymentRef     string       `json:"preset_payment_ref,omitempty"`
	WalletUnitsUsed      int64        `json:"wallet_units_used,omitempty"`
}

// StartCheckoutRequest begins a checkout for the authenticated user.
// ClientTransactionID is normally empty; a caller resubmitting a checkout
// that failed with a retryable error passes the id from the error response
// so the ledger can dedupe the settlement.
type StartCheckoutRequest struct {
	AmountCents         int64        `json:"amount_cents"`
	AmountEditable      bool         `json:"amount_editable"`
	Method              string       `json:"method"`
	TargetWalletID      string       `json:"target_wallet_id,omitempty"`
	Redemption          *Redemption  `json:"redemption,omitempty"`
	Resource            *ResourceRef `json:"resource,omitempty"`
	PresetPaymentRef    string       `json:"preset_payment_ref,omitempty"`
	ClientTransactionID string       `json:"client_transaction_id,omitempty"`
}

// StartCheckoutResponse carries either a provider redirect or an immediate
// settlement outcome, never both.
type StartCheckoutResponse struct {
	ClientTransactionID string `json:"client_transaction_id"`
	Intent              Intent `json:"intent"`
	RedirectURL         string `json:"redirect_url,omitempty"`
	Settled             bool   `json:"settled"`
	WalletBalanceAfter  int64  `json:"wallet_balance_after_cents,omitempty"`
}

// CheckoutReturnResponse reports the outcome of a resumed checkout.
type CheckoutReturnResponse struct {
	ClientTransactionID   string `json:"client_transaction_id"`
	Settled               bool   `json:"settled"`
	WalletBalanceAfter    int64  `json:"wallet_balance_after_cents"`
	KeepUIVisible         bool   `json:"keep_ui_visible"`
	ResumedWithoutContext bool   `json:"resumed_without_context,omitempty"`
}

// CheckoutStatusResponse reports whether pending state still exists for a
// client transaction id.
type CheckoutStatusResponse struct {
	Pending   bool       `json:"pending"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// PreviewRedemptionRequest toggles a redemption against an amount without
// any side effects.
type PreviewRedemptionRequest struct {
	AmountCents int64       `json:"amount_cents"`
	Current     *Redemption `json:"current,omitempty"`
	Selected    Redemption  `json:"selected"`
}

// PreviewRedemptionResponse is the resolved pricing after the toggle.
type PreviewRedemptionResponse struct {
	Applied              *Redemption `json:"applied,omitempty"`
	OriginalAmountCents  int64       `json:"original_amount_cents"`
	EffectiveAmountCents int64       `json:"effective_amount_cents"`
	IsFreeEntry          bool        `json:"is_free_entry"`
}

// PushPayload is the raw push event as delivered by the transport.
type PushPayload struct {
	AmountCents      int64  `json:"amount"`
	Message          string `json:"message,omitempty"`
	Success          *bool  `json:"success,omitempty"`
	WalletID         string `json:"walletId,omitempty"`
	CounterpartyName string `json:"counterpartyName,omitempty"`
}

// PushEvent is a push payload enriched with the business context of a
// recent settlement, when one matched.
type PushEvent struct {
	PushPayload
	ReceivedAt       time.Time `json:"receivedAt"`
	Matched          bool      `json:"matched"`
	Kind             string    `json:"kind,omitempty"`
	ResourceName     string    `json:"resourceName,omitempty"`
	ResourceQuantity int       `json:"resourceQuantity,omitempty"`
	RedemptionCode   string    `json:"redemptionCode,omitempty"`
	WalletUnitsUsed  int64     `json:"walletUnitsUsed,omitempty"`
}

// PushNotificationRequest is the ingress payload from the push transport.
type PushNotificationRequest struct {
	Type    string      `json:"type"`
	Payload PushPayload `json:"payload"`
}

// PushNotificationResponse echoes the enriched event.
type PushNotificationResponse struct {
	Event PushEvent `json:"event"`
}
