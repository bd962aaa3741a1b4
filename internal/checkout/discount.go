package checkout

import "math"

// Resolution is the outcome of applying a redemption to a base amount.
type Resolution struct {
	EffectiveAmountCents int64
	IsFreeEntry          bool
}

// Resolve computes the effective charge for a base amount with an optional
// redemption applied. Pure and deterministic: no I/O, no clock.
//
// Only discount-kind redemptions change the amount. A discount of 100% or
// more forces the effective amount to zero and marks the intent free entry.
func Resolve(originalAmountCents int64, redemption *Redemption) Resolution {
	if redemption == nil || redemption.Kind != RedemptionDiscount {
		return Resolution{EffectiveAmountCents: originalAmountCents}
	}

	percent := redemption.PercentOrValue
	if percent >= 100 {
		return Resolution{EffectiveAmountCents: 0, IsFreeEntry: true}
	}
	if percent <= 0 {
		return Resolution{EffectiveAmountCents: originalAmountCents}
	}

	effective := int64(math.Round(float64(originalAmountCents) * (1 - percent/100)))
	if effective < 0 {
		effective = 0
	}
	return Resolution{EffectiveAmountCents: effective}
}

// ToggleRedemption applies a redemption on top of whatever is currently
// applied. Selecting the same redemption id again deselects it, reverting
// to the original amount. Repeated toggling is idempotent pair-wise.
func ToggleRedemption(current *Redemption, selected Redemption) *Redemption {
	if current != nil && current.ID == selected.ID {
		return nil
	}
	next := selected
	return &next
}
