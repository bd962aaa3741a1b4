package handlers

import (
	bursarapi "bursar/pkg/api/bursar"

	"bursar/internal/checkout"
	"bursar/internal/notifications"
)

func domainRedemption(r *bursarapi.Redemption) *checkout.Redemption {
	if r == nil {
		return nil
	}
	return &checkout.Redemption{
		ID:             r.ID,
		Code:           r.Code,
		Kind:           checkout.RedemptionKind(r.Kind),
		PercentOrValue: r.PercentOrValue,
	}
}

func apiRedemption(r *checkout.Redemption) *bursarapi.Redemption {
	if r == nil {
		return nil
	}
	return &bursarapi.Redemption{
		ID:             r.ID,
		Code:           r.Code,
		Kind:           string(r.Kind),
		PercentOrValue: r.PercentOrValue,
	}
}

func domainResource(r *bursarapi.ResourceRef) *checkout.ResourceRef {
	if r == nil {
		return nil
	}
	return &checkout.ResourceRef{ID: r.ID, Name: r.Name, Quantity: r.Quantity}
}

func apiResource(r *checkout.ResourceRef) *bursarapi.ResourceRef {
	if r == nil {
		return nil
	}
	return &bursarapi.ResourceRef{ID: r.ID, Name: r.Name, Quantity: r.Quantity}
}

func apiIntent(intent checkout.PaymentIntent) bursarapi.Intent {
	return bursarapi.Intent{
		OriginalAmountCents:  intent.OriginalAmountCents,
		EffectiveAmountCents: intent.EffectiveAmountCents,
		AppliedRedemption:    apiRedemption(intent.AppliedRedemption),
		IsFreeEntry:          intent.IsFreeEntry,
		TargetWalletID:       intent.TargetWalletID,
		Channel:              string(intent.Channel),
		Resource:             apiResource(intent.Resource),
		PresetPaymentRef:     intent.PresetPaymentRef,
		WalletUnitsUsed:      intent.WalletUnitsUsed,
	}
}

func domainPushPayload(p bursarapi.PushPayload) notifications.Payload {
	return notifications.Payload{
		AmountCents:      p.AmountCents,
		Message:          p.Message,
		Success:          p.Success,
		WalletID:         p.WalletID,
		CounterpartyName: p.CounterpartyName,
	}
}

func apiPushEvent(e notifications.Event) bursarapi.PushEvent {
	return bursarapi.PushEvent{
		PushPayload: bursarapi.PushPayload{
			AmountCents:      e.AmountCents,
			Message:          e.Message,
			Success:          e.Success,
			WalletID:         e.WalletID,
			CounterpartyName: e.CounterpartyName,
		},
		ReceivedAt:       e.ReceivedAt,
		Matched:          e.Matched,
		Kind:             string(e.Kind),
		ResourceName:     e.ResourceName,
		ResourceQuantity: e.ResourceQuantity,
		RedemptionCode:   e.RedemptionCode,
		WalletUnitsUsed:  e.WalletUnitsUsed,
	}
}
