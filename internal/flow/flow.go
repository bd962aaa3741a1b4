// Package flow sequences a checkout end to end: intent construction, the
// provider redirect round-trip, confirmation, and ledger settlement. The
// client transaction id is fixed once per checkout, before any settlement
// attempt, and every downstream call (including retries) reuses it. Callers
// may supply their own id to resubmit a failed checkout under the original
// idempotency key.
package flow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"bursar/internal/checkout"
	"bursar/internal/correlation"
	"bursar/internal/pending"
	"bursar/internal/provider"
	"bursar/internal/settlement"
	"bursar/pkg/logging"
)

// ProviderClient confirms provider transactions after the redirect returns.
type ProviderClient interface {
	Confirm(ctx context.Context, providerTransactionHandle, clientTransactionID string) (*provider.ConfirmationResult, error)
}

// Settler finalizes intents against the wallet ledger.
type Settler interface {
	Settle(ctx context.Context, intent checkout.PaymentIntent, clientTransactionID string, confirmation *provider.ConfirmationResult) (*settlement.Result, error)
	PersistInstrument(ctx context.Context, userID, email string, confirmation *provider.ConfirmationResult) error
}

// Receipts delivers post-settlement receipts. Optional; failures are logged
// and never affect the payment outcome.
type Receipts interface {
	SendReceipt(ctx context.Context, email string, intent checkout.PaymentIntent, result *settlement.Result) error
}

// Orchestrator drives checkouts. Construct with NewOrchestrator.
type Orchestrator struct {
	intents         *checkout.Builder
	pending         pending.Store
	provider        ProviderClient
	settler         Settler
	recent          *correlation.Cache
	receipts        Receipts
	logger          logging.Logger
	providerBaseURL string
	newID           func() string
}

// Config wires the orchestrator's collaborators. Receipts may be nil.
type Config struct {
	Intents         *checkout.Builder
	Pending         pending.Store
	Provider        ProviderClient
	Settler         Settler
	Recent          *correlation.Cache
	Receipts        Receipts
	Logger          logging.Logger
	ProviderBaseURL string
	// NewID overrides client transaction id generation, for tests.
	NewID func() string
}

func NewOrchestrator(cfg Config) *Orchestrator {
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Orchestrator{
		intents:         cfg.Intents,
		pending:         cfg.Pending,
		provider:        cfg.Provider,
		settler:         cfg.Settler,
		recent:          cfg.Recent,
		receipts:        cfg.Receipts,
		logger:          cfg.Logger,
		providerBaseURL: cfg.ProviderBaseURL,
		newID:           newID,
	}
}

// BeginParams starts a checkout. ClientTransactionID is normally empty and
// minted here; a caller resubmitting a checkout whose settlement failed in
// transport passes the original id so the ledger can dedupe.
type BeginParams struct {
	UserID              string
	Email               string
	ClientTransactionID string
	Build               checkout.BuildParams
}

// BeginResult is the outcome of Begin. Exactly one of RedirectURL or
// Settlement is set: a redirect means the checkout continues at the
// provider, a settlement means it already finished locally.
type BeginResult struct {
	Intent              checkout.PaymentIntent
	ClientTransactionID string
	RedirectURL         string
	Settlement          *settlement.Result
}

// Begin builds the intent and either settles it immediately (free entries
// and wallet-balance debits) or persists pending state and hands the user to
// the provider.
//
// When an inline settlement fails with a retryable error, Begin persists the
// intent snapshot and returns the error together with a BeginResult carrying
// the client transaction id. Retrying through Retry, or resubmitting with
// that id, settles under the original idempotency key.
func (o *Orchestrator) Begin(ctx context.Context, p BeginParams) (*BeginResult, error) {
	intent, err := o.intents.Build(ctx, p.Build)
	if err != nil {
		return nil, err
	}

	clientTransactionID := p.ClientTransactionID
	if clientTransactionID == "" {
		clientTransactionID = o.newID()
	}

	switch intent.Channel {
	case checkout.ChannelNone, checkout.ChannelWalletBalance:
		result, err := o.settler.Settle(ctx, intent, clientTransactionID, nil)
		if err != nil {
			if checkout.IsRetryable(err) {
				if saveErr := o.pending.Save(ctx, pendingSnapshot(intent, clientTransactionID)); saveErr != nil {
					o.logger.WithFields(logging.Fields{"error": saveErr.Error()}).Error("Failed to persist pending transaction for retry")
				}
				return &BeginResult{Intent: intent, ClientTransactionID: clientTransactionID}, err
			}
			return nil, err
		}
		if p.ClientTransactionID != "" {
			// A resubmission may carry pending state from the failed attempt.
			if clearErr := o.pending.Clear(ctx, clientTransactionID); clearErr != nil {
				o.logger.WithFields(logging.Fields{"error": clearErr.Error()}).Error("Failed to clear pending transaction after settlement")
			}
		}
		o.recordLocalSettlement(intent)
		o.sendReceipt(ctx, p.Email, intent, result)
		return &BeginResult{
			Intent:              intent,
			ClientTransactionID: clientTransactionID,
			Settlement:          result,
		}, nil

	case checkout.ChannelProvider:
		// The save must be durable before the user leaves for the
		// provider; a failed save aborts the checkout.
		if err := o.pending.Save(ctx, pendingSnapshot(intent, clientTransactionID)); err != nil {
			return nil, fmt.Errorf("failed to persist pending transaction: %w", err)
		}

		return &BeginResult{
			Intent:              intent,
			ClientTransactionID: clientTransactionID,
			RedirectURL:         o.redirectURL(intent, clientTransactionID),
		}, nil

	default:
		return nil, fmt.Errorf("unsupported payment channel: %s", intent.Channel)
	}
}

func pendingSnapshot(intent checkout.PaymentIntent, clientTransactionID string) pending.Transaction {
	tx := pending.Transaction{
		ClientTransactionID: clientTransactionID,
		TargetWalletID:      intent.TargetWalletID,
		PresetPaymentRef:    intent.PresetPaymentRef,
		Channel:             string(intent.Channel),
		AmountCents:         intent.EffectiveAmountCents,
		IsFreeEntry:         intent.IsFreeEntry,
		WalletUnitsUsed:     intent.WalletUnitsUsed,
		CreatedAt:           time.Now(),
	}
	if r := intent.Resource; r != nil {
		tx.Resource = &pending.ResourceSnapshot{ID: r.ID, Name: r.Name, Quantity: r.Quantity}
	}
	if r := intent.AppliedRedemption; r != nil {
		tx.Redemption = &pending.RedemptionSnapshot{
			ID:                   r.ID,
			Code:                 r.Code,
			Value:                r.PercentOrValue,
			OriginalAmountCents:  intent.OriginalAmountCents,
			EffectiveAmountCents: intent.EffectiveAmountCents,
			IsFreeEntry:          intent.IsFreeEntry,
		}
	}
	return tx
}

func intentFromSnapshot(tx *pending.Transaction) checkout.PaymentIntent {
	channel := checkout.PaymentChannel(tx.Channel)
	if channel == "" {
		channel = checkout.ChannelProvider
	}
	intent := checkout.PaymentIntent{
		Channel:              channel,
		TargetWalletID:       tx.TargetWalletID,
		PresetPaymentRef:     tx.PresetPaymentRef,
		OriginalAmountCents:  tx.AmountCents,
		EffectiveAmountCents: tx.AmountCents,
		IsFreeEntry:          tx.IsFreeEntry,
		WalletUnitsUsed:      tx.WalletUnitsUsed,
	}
	if r := tx.Resource; r != nil {
		intent.Resource = &checkout.ResourceRef{ID: r.ID, Name: r.Name, Quantity: r.Quantity}
	}
	if s := tx.Redemption; s != nil {
		intent.AppliedRedemption = &checkout.Redemption{
			ID:             s.ID,
			Code:           s.Code,
			Kind:           checkout.RedemptionDiscount,
			PercentOrValue: s.Value,
		}
		intent.OriginalAmountCents = s.OriginalAmountCents
		intent.EffectiveAmountCents = s.EffectiveAmountCents
		intent.IsFreeEntry = s.IsFreeEntry
	}
	return intent
}

func (o *Orchestrator) redirectURL(intent checkout.PaymentIntent, clientTransactionID string) string {
	q := url.Values{}
	q.Set("clientTxId", clientTransactionID)
	q.Set("amount", strconv.FormatInt(intent.EffectiveAmountCents, 10))
	if intent.PresetPaymentRef != "" {
		q.Set("ref", intent.PresetPaymentRef)
	}
	return o.providerBaseURL + "/checkout?" + q.Encode()
}

// ResumeParams resumes a checkout after the provider redirect returns.
type ResumeParams struct {
	UserID                    string
	Email                     string
	WalletID                  string
	ClientTransactionID       string
	ProviderTransactionHandle string
}

// ResumeResult is the outcome of a completed resume.
type ResumeResult struct {
	Intent                checkout.PaymentIntent
	Confirmation          *provider.ConfirmationResult
	Settlement            *settlement.Result
	ResumedWithoutContext bool
}

// Resume loads the pending transaction, confirms with the provider and
// settles. When no pending state exists the checkout is treated as a bare
// wallet top-up: the money still lands, only the redemption and resource
// context are lost.
//
// Pending state is cleared only on terminal outcomes: a successful
// settlement or a provider rejection. Transport failures and timeouts leave
// it in place so a retry with the same client transaction id has full
// context.
func (o *Orchestrator) Resume(ctx context.Context, p ResumeParams) (*ResumeResult, error) {
	log := o.logger.WithFields(logging.Fields{
		"client_transaction_id": p.ClientTransactionID,
		"user_id":               p.UserID,
	})

	intent := checkout.PaymentIntent{
		Channel:        checkout.ChannelProvider,
		TargetWalletID: p.WalletID,
	}
	resumedWithoutContext := false

	tx, err := o.pending.Load(ctx, p.ClientTransactionID)
	switch {
	case errors.Is(err, pending.ErrNotFound):
		resumedWithoutContext = true
		log.Warn("No pending transaction found, resuming as bare wallet top-up")
	case err != nil:
		return nil, fmt.Errorf("failed to load pending transaction: %w", err)
	default:
		if ch := checkout.PaymentChannel(tx.Channel); ch == checkout.ChannelNone || ch == checkout.ChannelWalletBalance {
			// Inline settlements persisted after a transport failure
			// never saw the provider; re-settle them directly.
			return o.resumeInline(ctx, p, tx)
		}
		intent = intentFromSnapshot(tx)
		intent.Channel = checkout.ChannelProvider
	}

	confirmation, err := o.provider.Confirm(ctx, p.ProviderTransactionHandle, p.ClientTransactionID)
	if err != nil {
		var rejected *checkout.ProviderRejected
		if errors.As(err, &rejected) {
			// Terminal: the provider said no. Nothing to retry.
			if clearErr := o.pending.Clear(ctx, p.ClientTransactionID); clearErr != nil {
				log.WithFields(logging.Fields{"error": clearErr.Error()}).Error("Failed to clear pending transaction after rejection")
			}
		}
		return nil, err
	}

	if !resumedWithoutContext && intent.EffectiveAmountCents != 0 && confirmation.AmountCents != intent.EffectiveAmountCents {
		log.WithFields(logging.Fields{
			"intent_amount_cents":    intent.EffectiveAmountCents,
			"confirmed_amount_cents": confirmation.AmountCents,
		}).Warn("Provider confirmed a different amount than the intent, settling the confirmed amount")
	}

	result, err := o.settler.Settle(ctx, intent, p.ClientTransactionID, confirmation)
	if err != nil {
		// Transport failures keep pending state for a retry; ledger
		// rejections are swept later rather than cleared here.
		return nil, err
	}

	if err := o.settler.PersistInstrument(ctx, p.UserID, p.Email, confirmation); err != nil {
		log.WithFields(logging.Fields{"error": err.Error()}).Warn("Payment succeeded but instrument persistence failed")
	}

	o.recordProviderSettlement(intent, confirmation)
	o.sendReceipt(ctx, p.Email, intent, result)

	if err := o.pending.Clear(ctx, p.ClientTransactionID); err != nil {
		log.WithFields(logging.Fields{"error": err.Error()}).Error("Failed to clear pending transaction after settlement")
	}

	return &ResumeResult{
		Intent:                intent,
		Confirmation:          confirmation,
		Settlement:            result,
		ResumedWithoutContext: resumedWithoutContext,
	}, nil
}

func (o *Orchestrator) resumeInline(ctx context.Context, p ResumeParams, tx *pending.Transaction) (*ResumeResult, error) {
	log := o.logger.WithFields(logging.Fields{
		"client_transaction_id": p.ClientTransactionID,
		"user_id":               p.UserID,
	})

	intent := intentFromSnapshot(tx)
	result, err := o.settler.Settle(ctx, intent, p.ClientTransactionID, nil)
	if err != nil {
		return nil, err
	}

	o.recordLocalSettlement(intent)
	o.sendReceipt(ctx, p.Email, intent, result)

	if err := o.pending.Clear(ctx, p.ClientTransactionID); err != nil {
		log.WithFields(logging.Fields{"error": err.Error()}).Error("Failed to clear pending transaction after settlement")
	}

	return &ResumeResult{Intent: intent, Settlement: result}, nil
}

// Retry re-runs a resume with the SAME client transaction id. Ledger
// idempotency makes a duplicate settle a no-op, so a retry can never double
// charge. Inline settlements whose first attempt failed in transport take
// the same path; their snapshot routes them past the provider.
func (o *Orchestrator) Retry(ctx context.Context, p ResumeParams) (*ResumeResult, error) {
	o.logger.WithFields(logging.Fields{
		"client_transaction_id": p.ClientTransactionID,
	}).Info("Retrying checkout settlement")
	return o.Resume(ctx, p)
}

func (o *Orchestrator) recordLocalSettlement(intent checkout.PaymentIntent) {
	if o.recent == nil {
		return
	}

	rec := correlation.Record{
		AmountCents:     intent.EffectiveAmountCents,
		Kind:            correlation.KindFreeEntry,
		WalletUnitsUsed: intent.WalletUnitsUsed,
	}
	switch {
	case intent.Channel == checkout.ChannelWalletBalance && intent.AppliedRedemption != nil:
		rec.Kind = correlation.KindRedemptionApplied
	case intent.Channel == checkout.ChannelWalletBalance:
		// No provider involved; the wallet funded it.
		rec.Kind = correlation.KindWalletTopup
	}
	if intent.Resource != nil {
		rec.ResourceName = intent.Resource.Name
		rec.ResourceQuantity = intent.Resource.Quantity
	}
	if intent.AppliedRedemption != nil {
		rec.RedemptionCode = intent.AppliedRedemption.Code
	}
	o.recent.Record(rec)
}

func (o *Orchestrator) recordProviderSettlement(intent checkout.PaymentIntent, confirmation *provider.ConfirmationResult) {
	if o.recent == nil {
		return
	}

	rec := correlation.Record{
		AmountCents: confirmation.AmountCents,
		Kind:        correlation.KindWalletTopup,
	}
	if intent.Resource != nil {
		rec.Kind = correlation.KindProviderPayment
		rec.ResourceName = intent.Resource.Name
		rec.ResourceQuantity = intent.Resource.Quantity
	}
	if intent.AppliedRedemption != nil {
		rec.RedemptionCode = intent.AppliedRedemption.Code
	}
	o.recent.Record(rec)
}

func (o *Orchestrator) sendReceipt(ctx context.Context, email string, intent checkout.PaymentIntent, result *settlement.Result) {
	if o.receipts == nil || email == "" {
		return
	}
	if err := o.receipts.SendReceipt(ctx, email, intent, result); err != nil {
		o.logger.WithFields(logging.Fields{"error": err.Error()}).Warn("Failed to send receipt email")
	}
}
