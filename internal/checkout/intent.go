package checkout

import (
	"context"
	"fmt"
)

// PaymentMethod is the user's selected way to fund the checkout.
type PaymentMethod string

const (
	MethodProvider      PaymentMethod = "provider"
	MethodWalletBalance PaymentMethod = "wallet_balance"
)

// RateSource supplies the wallet unit price used to convert a cash amount
// into wallet units. Implementations may cache.
type RateSource interface {
	UnitPriceCents(ctx context.Context, walletID string) (int64, error)
}

// BuildParams are the inputs to intent construction.
type BuildParams struct {
	// AmountCents is the base amount. It may be fixed by the calling
	// context or entered by the user (AmountEditable).
	AmountCents    int64
	AmountEditable bool
	TargetWalletID string
	Method         PaymentMethod
	Redemption     *Redemption
	Resource       *ResourceRef
	// PresetPaymentRef marks a preconfigured payment whose zero amount
	// means free entry rather than "missing amount".
	PresetPaymentRef string
}

// Builder assembles immutable PaymentIntents. Building has no side effects;
// the only read it performs is the wallet unit rate for balance debits.
type Builder struct {
	rates RateSource
}

func NewBuilder(rates RateSource) *Builder {
	return &Builder{rates: rates}
}

// Build validates the params, applies the redemption and decides the
// execution path for the checkout.
func (b *Builder) Build(ctx context.Context, p BuildParams) (PaymentIntent, error) {
	if p.AmountEditable {
		if p.AmountCents < MinEditableAmountCents || p.AmountCents > MaxEditableAmountCents {
			return PaymentIntent{}, ErrInvalidAmount
		}
	} else if p.AmountCents < 0 {
		return PaymentIntent{}, ErrInvalidAmount
	}

	res := Resolve(p.AmountCents, p.Redemption)

	// A zero fixed amount tied to a preset payment reference is a free
	// entry, not a missing amount.
	freeEntry := res.IsFreeEntry || (p.AmountCents == 0 && !p.AmountEditable)

	intent := PaymentIntent{
		OriginalAmountCents:  p.AmountCents,
		EffectiveAmountCents: res.EffectiveAmountCents,
		AppliedRedemption:    p.Redemption,
		IsFreeEntry:          freeEntry,
		TargetWalletID:       p.TargetWalletID,
		Resource:             p.Resource,
		PresetPaymentRef:     p.PresetPaymentRef,
	}

	switch {
	case freeEntry:
		intent.Channel = ChannelNone
		intent.EffectiveAmountCents = 0
	case p.Method == MethodProvider:
		intent.Channel = ChannelProvider
	case p.Method == MethodWalletBalance:
		rate, err := b.rates.UnitPriceCents(ctx, p.TargetWalletID)
		if err != nil {
			return PaymentIntent{}, fmt.Errorf("failed to load wallet unit rate: %w", err)
		}
		if rate <= 0 {
			return PaymentIntent{}, fmt.Errorf("invalid wallet unit rate %d", rate)
		}
		intent.Channel = ChannelWalletBalance
		// Ceiling division so rounding never short-changes the wallet.
		intent.WalletUnitsUsed = (res.EffectiveAmountCents + rate - 1) / rate
	default:
		return PaymentIntent{}, fmt.Errorf("unsupported payment method: %s", p.Method)
	}

	return intent, nil
}
