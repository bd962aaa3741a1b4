// Package provider implements the confirm handshake with the redirect-based
// external payment provider. The provider owns the truth about what was
// actually charged; its canonical amount wins over the intent's amount.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"

	"bursar/internal/checkout"
	"bursar/pkg/logging"
)

// State of an in-flight provider transaction.
type State string

const (
	StateInitiated  State = "initiated"
	StateReturned   State = "returned"
	StateConfirming State = "confirming"
	StateApproved   State = "approved"
	StateRejected   State = "rejected"
	StateTimedOut   State = "timed_out"
)

const statusApproved = "Approved"

// ConfirmationResult is the immutable outcome of the confirm handshake.
type ConfirmationResult struct {
	ProviderTransactionID string
	ClientTransactionID   string
	Approved              bool
	Status                string
	// AmountCents is the provider's canonical amount in minor units,
	// authoritative for settlement even when it disagrees with the intent.
	AmountCents   int64
	ReferenceCode string

	// Optional tokenized instrument details.
	InstrumentToken      string
	InstrumentHolderName string
	InstrumentBrand      string
	InstrumentType       string
	InstrumentLastDigits string
	PhoneNumber          string
	Document             string
}

// Config for the confirm client. BearerToken is the provider-issued token,
// not the application's own session token.
type Config struct {
	BaseURL     string
	BearerToken string
	Timeout     time.Duration
	Logger      logging.Logger
}

// Client talks to the provider's confirm endpoint.
type Client struct {
	http   *resty.Client
	logger logging.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.BearerToken).
		SetHeader("Content-Type", "application/json")

	return &Client{http: client, logger: cfg.Logger}
}

type confirmRequest struct {
	ID         string `json:"id"`
	ClientTxID string `json:"clientTxId"`
}

type confirmResponse struct {
	TransactionStatus string `json:"transactionStatus"`
	Amount            int64  `json:"amount"`
	Reference         string `json:"reference"`
	TransactionID     string `json:"transactionId"`
	CardToken         string `json:"cardToken"`
	CardHolder        string `json:"cardHolder"`
	CardBrand         string `json:"cardBrand"`
	CardType          string `json:"cardType"`
	LastDigits        string `json:"lastDigits"`
	PhoneNumber       string `json:"phoneNumber"`
	Document          string `json:"document"`
}

// Confirm submits the opaque provider transaction handle for confirmation.
// A transport failure or timeout returns a retryable error and implies no
// state change on the provider side; the caller must not settle.
func (c *Client) Confirm(ctx context.Context, providerTransactionHandle, clientTransactionID string) (*ConfirmationResult, error) {
	var result confirmResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(confirmRequest{ID: providerTransactionHandle, ClientTxID: clientTransactionID}).
		SetResult(&result).
		Post("/confirm")

	if err != nil {
		if isTimeout(err) {
			c.logger.WithFields(logging.Fields{
				"provider_transaction_id": providerTransactionHandle,
				"client_transaction_id":   clientTransactionID,
			}).Warn("Provider confirmation timed out")
			return nil, &checkout.ConfirmationTimedOut{ProviderTransactionID: providerTransactionHandle}
		}
		return nil, &checkout.ProviderTransportError{Err: err}
	}

	if resp.StatusCode() >= 400 {
		return nil, &checkout.ProviderTransportError{
			Err: fmt.Errorf("provider confirm returned status %d: %s", resp.StatusCode(), resp.String()),
		}
	}

	c.logger.WithFields(logging.Fields{
		"provider_transaction_id": result.TransactionID,
		"client_transaction_id":   clientTransactionID,
		"status":                  result.TransactionStatus,
		"amount_cents":            result.Amount,
	}).Info("Provider confirmation received")

	if result.TransactionStatus != statusApproved {
		return nil, &checkout.ProviderRejected{
			ProviderTransactionID: result.TransactionID,
			Status:                result.TransactionStatus,
		}
	}

	return &ConfirmationResult{
		ProviderTransactionID: result.TransactionID,
		ClientTransactionID:   clientTransactionID,
		Approved:              true,
		Status:                result.TransactionStatus,
		AmountCents:           result.Amount,
		ReferenceCode:         result.Reference,
		InstrumentToken:       result.CardToken,
		InstrumentHolderName:  result.CardHolder,
		InstrumentBrand:       result.CardBrand,
		InstrumentType:        result.CardType,
		InstrumentLastDigits:  result.LastDigits,
		PhoneNumber:           result.PhoneNumber,
		Document:              result.Document,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
