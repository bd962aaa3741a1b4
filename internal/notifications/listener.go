// Package notifications consumes server-pushed wallet events. The push
// payload carries little more than an amount, so events are enriched from
// the correlation cache of recently settled transactions before they are
// handed on.
package notifications

import (
	"time"

	"bursar/internal/correlation"
	"bursar/pkg/logging"
)

// Payload is the raw push event as delivered by the transport.
type Payload struct {
	AmountCents      int64  `json:"amount"`
	Message          string `json:"message,omitempty"`
	Success          *bool  `json:"success,omitempty"`
	WalletID         string `json:"walletId,omitempty"`
	CounterpartyName string `json:"counterpartyName,omitempty"`
}

// Event is a push payload enriched with whatever business context the
// correlation cache still remembers. Matched is false when no recent
// settlement was close enough in amount and time.
type Event struct {
	Payload
	ReceivedAt       time.Time        `json:"receivedAt"`
	Matched          bool             `json:"matched"`
	Kind             correlation.Kind `json:"kind,omitempty"`
	ResourceName     string           `json:"resourceName,omitempty"`
	ResourceQuantity int              `json:"resourceQuantity,omitempty"`
	RedemptionCode   string           `json:"redemptionCode,omitempty"`
	WalletUnitsUsed  int64            `json:"walletUnitsUsed,omitempty"`
}

// Listener enriches push events. Safe for concurrent use.
type Listener struct {
	recent *correlation.Cache
	logger logging.Logger
	now    func() time.Time
}

func NewListener(recent *correlation.Cache, logger logging.Logger) *Listener {
	return &Listener{recent: recent, logger: logger, now: time.Now}
}

// OnBalanceUpdated handles a "balance changed" push.
func (l *Listener) OnBalanceUpdated(p Payload) Event {
	return l.enrich("balance_updated", p)
}

// OnTransactionReceived handles an incoming transfer push. The sender's
// name from the payload wins over anything cached.
func (l *Listener) OnTransactionReceived(p Payload) Event {
	return l.enrich("transaction_received", p)
}

func (l *Listener) enrich(eventType string, p Payload) Event {
	event := Event{Payload: p, ReceivedAt: l.now()}

	match := l.recent.FindNear(p.AmountCents, correlation.DefaultMatchWindow)
	if match != nil {
		event.Matched = true
		event.Kind = match.Kind
		event.ResourceName = match.ResourceName
		event.ResourceQuantity = match.ResourceQuantity
		event.RedemptionCode = match.RedemptionCode
		event.WalletUnitsUsed = match.WalletUnitsUsed
		if event.CounterpartyName == "" {
			event.CounterpartyName = match.CounterpartyName
		}
	}

	l.logger.WithFields(logging.Fields{
		"event_type":   eventType,
		"amount_cents": p.AmountCents,
		"matched":      event.Matched,
	}).Info("Push notification processed")

	return event
}
