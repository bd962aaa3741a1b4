package checkout

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type fixedRate int64

func (r fixedRate) UnitPriceCents(_ context.Context, _ string) (int64, error) {
	if r <= 0 {
		return 0, fmt.Errorf("rate unavailable")
	}
	return int64(r), nil
}

func TestBuildRejectsOutOfRangeEditableAmounts(t *testing.T) {
	b := NewBuilder(fixedRate(5))

	for _, amount := range []int64{0, -1, MaxEditableAmountCents + 1} {
		_, err := b.Build(context.Background(), BuildParams{
			AmountCents:    amount,
			AmountEditable: true,
			TargetWalletID: "w1",
			Method:         MethodProvider,
		})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestBuildAcceptsBoundaryAmounts(t *testing.T) {
	b := NewBuilder(fixedRate(5))

	for _, amount := range []int64{MinEditableAmountCents, MaxEditableAmountCents} {
		intent, err := b.Build(context.Background(), BuildParams{
			AmountCents:    amount,
			AmountEditable: true,
			TargetWalletID: "w1",
			Method:         MethodProvider,
		})
		if err != nil {
			t.Fatalf("amount %d: unexpected error %v", amount, err)
		}
		if intent.Channel != ChannelProvider {
			t.Fatalf("amount %d: expected provider channel, got %s", amount, intent.Channel)
		}
	}
}

func TestBuildZeroFixedAmountWithPresetRefIsFreeEntry(t *testing.T) {
	b := NewBuilder(fixedRate(5))

	intent, err := b.Build(context.Background(), BuildParams{
		AmountCents:      0,
		AmountEditable:   false,
		TargetWalletID:   "w1",
		Method:           MethodProvider,
		PresetPaymentRef: "preset-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !intent.IsFreeEntry {
		t.Fatal("expected free entry")
	}
	if intent.Channel != ChannelNone {
		t.Fatalf("expected channel none, got %s", intent.Channel)
	}
	if intent.EffectiveAmountCents != 0 {
		t.Fatalf("expected zero effective amount, got %d", intent.EffectiveAmountCents)
	}
}

func TestBuildFullDiscountForcesChannelNone(t *testing.T) {
	b := NewBuilder(fixedRate(5))

	intent, err := b.Build(context.Background(), BuildParams{
		AmountCents:    5000,
		TargetWalletID: "w1",
		Method:         MethodProvider,
		Redemption:     &Redemption{ID: "r1", Kind: RedemptionDiscount, PercentOrValue: 100},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !intent.IsFreeEntry || intent.Channel != ChannelNone || intent.EffectiveAmountCents != 0 {
		t.Fatalf("expected free entry over channel none, got %+v", intent)
	}
}

func TestBuildWalletBalanceCeilingDivision(t *testing.T) {
	b := NewBuilder(fixedRate(5)) // one unit costs 5 cents

	tests := []struct {
		amountCents   int64
		expectedUnits int64
	}{
		{100, 20}, // exact multiple
		{101, 21}, // rounds up, never short-changes the wallet
		{104, 21},
		{105, 21},
		{1, 1},
	}

	for _, tt := range tests {
		intent, err := b.Build(context.Background(), BuildParams{
			AmountCents:    tt.amountCents,
			AmountEditable: true,
			TargetWalletID: "w1",
			Method:         MethodWalletBalance,
		})
		if err != nil {
			t.Fatalf("amount %d: unexpected error %v", tt.amountCents, err)
		}
		if intent.Channel != ChannelWalletBalance {
			t.Fatalf("amount %d: expected wallet balance channel", tt.amountCents)
		}
		if intent.WalletUnitsUsed != tt.expectedUnits {
			t.Fatalf("amount %d: expected %d units, got %d", tt.amountCents, tt.expectedUnits, intent.WalletUnitsUsed)
		}
	}
}

func TestBuildWalletBalanceAppliesDiscountBeforeConversion(t *testing.T) {
	b := NewBuilder(fixedRate(5))

	intent, err := b.Build(context.Background(), BuildParams{
		AmountCents:    5000,
		AmountEditable: true,
		TargetWalletID: "w1",
		Method:         MethodWalletBalance,
		Redemption:     &Redemption{ID: "r1", Kind: RedemptionDiscount, PercentOrValue: 20},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.EffectiveAmountCents != 4000 {
		t.Fatalf("expected 4000 effective cents, got %d", intent.EffectiveAmountCents)
	}
	if intent.WalletUnitsUsed != 800 {
		t.Fatalf("expected 800 units, got %d", intent.WalletUnitsUsed)
	}
}

func TestBuildWalletBalanceRateFailure(t *testing.T) {
	b := NewBuilder(fixedRate(0))

	_, err := b.Build(context.Background(), BuildParams{
		AmountCents:    100,
		AmountEditable: true,
		TargetWalletID: "w1",
		Method:         MethodWalletBalance,
	})
	if err == nil {
		t.Fatal("expected error when rate source fails")
	}
}

func TestBuildHasNoSideEffectsOnInputs(t *testing.T) {
	b := NewBuilder(fixedRate(5))
	redemption := &Redemption{ID: "r1", Kind: RedemptionDiscount, PercentOrValue: 20}

	first, err := b.Build(context.Background(), BuildParams{
		AmountCents:    5000,
		AmountEditable: true,
		TargetWalletID: "w1",
		Method:         MethodProvider,
		Redemption:     redemption,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := b.Build(context.Background(), BuildParams{
		AmountCents:    5000,
		AmountEditable: true,
		TargetWalletID: "w1",
		Method:         MethodProvider,
		Redemption:     redemption,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.EffectiveAmountCents != second.EffectiveAmountCents {
		t.Fatal("building twice from the same inputs must be deterministic")
	}
}
