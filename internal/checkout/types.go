package checkout

// RedemptionKind classifies an applied coupon.
type RedemptionKind string

const (
	RedemptionDiscount RedemptionKind = "discount"
	RedemptionBonus    RedemptionKind = "bonus"
	RedemptionResource RedemptionKind = "resource"
)

// Redemption is a coupon/discount/bonus applied to a checkout intent,
// identified and toggle-applied by id.
type Redemption struct {
	ID             string         `json:"id"`
	Code           string         `json:"code"`
	Kind           RedemptionKind `json:"kind"`
	PercentOrValue float64        `json:"percent_or_value"`
}

// PaymentChannel is the execution path chosen for an intent.
type PaymentChannel string

const (
	// ChannelNone means no money moves through a provider: free entry.
	ChannelNone PaymentChannel = "none"
	// ChannelProvider hands off to the redirect-based external provider.
	ChannelProvider PaymentChannel = "provider"
	// ChannelWalletBalance debits the wallet's own unit balance.
	ChannelWalletBalance PaymentChannel = "wallet_balance"
)

// ResourceRef identifies a catalog resource being purchased.
type ResourceRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// PaymentIntent is the computed description of what is to be charged, to
// whom, before any network call occurs. Amounts are minor units (cents).
// Intents are immutable once built.
type PaymentIntent struct {
	OriginalAmountCents  int64          `json:"original_amount_cents"`
	EffectiveAmountCents int64          `json:"effective_amount_cents"`
	AppliedRedemption    *Redemption    `json:"applied_redemption,omitempty"`
	IsFreeEntry          bool           `json:"is_free_entry"`
	TargetWalletID       string         `json:"target_wallet_id"`
	Channel              PaymentChannel `json:"channel"`
	Resource             *ResourceRef   `json:"resource,omitempty"`
	PresetPaymentRef     string         `json:"preset_payment_ref,omitempty"`
	// WalletUnitsUsed is only set for ChannelWalletBalance.
	WalletUnitsUsed int64 `json:"wallet_units_used,omitempty"`
}

// User-editable amounts must be a positive integer within these bounds.
const (
	MinEditableAmountCents int64 = 1
	MaxEditableAmountCents int64 = 99_999_999
)
