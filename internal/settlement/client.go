// Package settlement finalizes checkouts against the backend wallet ledger.
// Every call is keyed by the client transaction id generated before the
// provider redirect; the backend treats a repeated key as a no-op returning
// the prior result, which is what makes retries safe.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"bursar/internal/checkout"
	"bursar/internal/provider"
	"bursar/pkg/clients"
	"bursar/pkg/crypto"
	"bursar/pkg/logging"
)

// Result is the ledger's authoritative answer to a settlement.
type Result struct {
	WalletBalanceAfterCents int64 `json:"walletBalanceAfter"`
	Success                 bool  `json:"success"`
	KeepUIVisible           bool  `json:"keepUiVisible"`
}

// Config for the ledger client. ServiceToken is the application session
// token, not the provider token.
type Config struct {
	BaseURL              string
	SessionToken         string
	Timeout              time.Duration
	Logger               logging.Logger
	Encryptor            *crypto.FieldEncryptor
	RetryConfig          *clients.RetryConfig
	CircuitBreakerConfig *clients.CircuitBreakerConfig
}

// Client is the wallet ledger API client.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	sessionToken string
	logger       logging.Logger
	encryptor    *crypto.FieldEncryptor
	retryConfig  clients.RetryConfig
}

func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	retryConfig := clients.DefaultRetryConfig()
	if config.RetryConfig != nil {
		retryConfig = *config.RetryConfig
	}
	if config.CircuitBreakerConfig != nil {
		retryConfig.CircuitBreaker = clients.NewCircuitBreaker(*config.CircuitBreakerConfig)
	}

	return &Client{
		baseURL:      config.BaseURL,
		httpClient:   &http.Client{Timeout: config.Timeout, Transport: clients.DefaultTransport()},
		sessionToken: config.SessionToken,
		logger:       config.Logger,
		encryptor:    config.Encryptor,
		retryConfig:  retryConfig,
	}
}

// purchaseRequest covers free entries, resource redemptions, and
// wallet-balance debits.
type purchaseRequest struct {
	ToWalletID                string                `json:"toWalletId"`
	AmountInWalletUnits       int64                 `json:"amountInWalletUnits"`
	AmountPaymentRef          string                `json:"amountPaymentRef,omitempty"`
	Resource                  *checkout.ResourceRef `json:"resourceRef,omitempty"`
	AppliedRedemptionID       string                `json:"appliedRedemptionId,omitempty"`
	RedemptionDiscountPercent float64               `json:"redemptionDiscountPercent,omitempty"`
	OriginalAmountCents       int64                 `json:"originalAmount,omitempty"`
	DiscountedAmountCents     int64                 `json:"discountedAmount,omitempty"`
	TransactionType           string                `json:"transactionType"`
	RedemptionCode            string                `json:"redemptionCode,omitempty"`
	CounterpartyName          string                `json:"counterpartyName,omitempty"`
	WalletUnitsUsed           int64                 `json:"walletUnitsUsed"`
	ClientTransactionID       string                `json:"clientTransactionId"`
}

// rechargeRequest covers provider-funded settlements.
type rechargeRequest struct {
	AmountUSD             float64 `json:"amountUsd"`
	ReferenceCode         string  `json:"referenceCode"`
	ProviderTransactionID string  `json:"providerTransactionId"`
	ClientTransactionID   string  `json:"clientTransactionId"`
	AmountPaymentRef      string  `json:"amountPaymentRef,omitempty"`
}

// Settle finalizes the intent against the ledger. confirmation is nil for
// the free-entry and wallet-balance paths; when present, its canonical
// amount is what gets settled.
func (c *Client) Settle(ctx context.Context, intent checkout.PaymentIntent, clientTransactionID string, confirmation *provider.ConfirmationResult) (*Result, error) {
	switch {
	case confirmation != nil:
		return c.settleProviderFunded(ctx, intent, clientTransactionID, confirmation)
	default:
		return c.settlePurchase(ctx, intent, clientTransactionID)
	}
}

func (c *Client) settlePurchase(ctx context.Context, intent checkout.PaymentIntent, clientTransactionID string) (*Result, error) {
	req := purchaseRequest{
		ToWalletID:          intent.TargetWalletID,
		AmountPaymentRef:    intent.PresetPaymentRef,
		Resource:            intent.Resource,
		WalletUnitsUsed:     intent.WalletUnitsUsed,
		AmountInWalletUnits: intent.WalletUnitsUsed,
		ClientTransactionID: clientTransactionID,
	}

	if intent.IsFreeEntry {
		req.TransactionType = "free_entry"
	} else {
		req.TransactionType = "wallet_debit"
	}

	if r := intent.AppliedRedemption; r != nil {
		req.AppliedRedemptionID = r.ID
		req.RedemptionCode = r.Code
		req.RedemptionDiscountPercent = r.PercentOrValue
		req.OriginalAmountCents = intent.OriginalAmountCents
		req.DiscountedAmountCents = intent.EffectiveAmountCents
	}

	return c.post(ctx, "/wallet/purchase", clientTransactionID, req)
}

func (c *Client) settleProviderFunded(ctx context.Context, intent checkout.PaymentIntent, clientTransactionID string, confirmation *provider.ConfirmationResult) (*Result, error) {
	req := rechargeRequest{
		AmountUSD:             float64(confirmation.AmountCents) / 100,
		ReferenceCode:         confirmation.ReferenceCode,
		ProviderTransactionID: confirmation.ProviderTransactionID,
		ClientTransactionID:   clientTransactionID,
		AmountPaymentRef:      intent.PresetPaymentRef,
	}

	path := "/wallet/recharge"
	if intent.Resource != nil {
		path = "/wallet/purchase-recharge/" + url.PathEscape(intent.TargetWalletID)
	}

	return c.post(ctx, path, clientTransactionID, req)
}

func (c *Client) post(ctx context.Context, path, clientTransactionID string, payload interface{}) (*Result, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settlement request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.sessionToken)
	httpReq.Header.Set("Idempotency-Key", clientTransactionID)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, httpReq, c.retryConfig)
	if err != nil {
		return nil, &checkout.SettlementTransportError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 500 {
		// Still failing after retries: transient, retry later with the
		// same client transaction id.
		return nil, &checkout.SettlementTransportError{
			Err: fmt.Errorf("ledger returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	if resp.StatusCode >= 400 {
		rejection := &checkout.SettlementRejected{StatusCode: resp.StatusCode}
		var errBody struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(body, &errBody) == nil {
			if errBody.Message != "" {
				rejection.Message = errBody.Message
			} else if errBody.Error != "" {
				rejection.Message = errBody.Error
			}
		}
		return nil, rejection
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode settlement response: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"client_transaction_id": clientTransactionID,
		"path":                  path,
		"balance_after_cents":   result.WalletBalanceAfterCents,
	}).Info("Settlement completed")

	return &result, nil
}

// instrumentRequest persists a tokenized payment instrument. The holder
// name is encrypted before it leaves the process.
type instrumentRequest struct {
	UserID              string `json:"userId"`
	Email               string `json:"email,omitempty"`
	PhoneNumber         string `json:"phoneNumber,omitempty"`
	DocumentID          string `json:"documentId,omitempty"`
	EncryptedHolderName string `json:"encryptedHolderName,omitempty"`
	Brand               string `json:"brand,omitempty"`
	Type                string `json:"type,omitempty"`
	LastDigits          string `json:"lastDigits,omitempty"`
	Token               string `json:"token"`
}

// PersistInstrument stores the tokenized instrument returned by an approved
// confirmation. Failures here are non-fatal to the payment: the settlement
// has already happened.
func (c *Client) PersistInstrument(ctx context.Context, userID, email string, confirmation *provider.ConfirmationResult) error {
	if confirmation == nil || confirmation.InstrumentToken == "" {
		return nil
	}

	req := instrumentRequest{
		UserID:      userID,
		Email:       email,
		PhoneNumber: confirmation.PhoneNumber,
		DocumentID:  confirmation.Document,
		Brand:       confirmation.InstrumentBrand,
		Type:        confirmation.InstrumentType,
		LastDigits:  confirmation.InstrumentLastDigits,
		Token:       confirmation.InstrumentToken,
	}

	if confirmation.InstrumentHolderName != "" && c.encryptor != nil {
		encrypted, err := c.encryptor.Encrypt(confirmation.InstrumentHolderName)
		if err != nil {
			return &checkout.InstrumentPersistError{Err: err}
		}
		req.EncryptedHolderName = encrypted
	}

	jsonBody, err := json.Marshal(req)
	if err != nil {
		return &checkout.InstrumentPersistError{Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/payment-instruments", bytes.NewBuffer(jsonBody))
	if err != nil {
		return &checkout.InstrumentPersistError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.sessionToken)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, httpReq, c.retryConfig)
	if err != nil {
		return &checkout.InstrumentPersistError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return &checkout.InstrumentPersistError{
			Err: fmt.Errorf("ledger returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	return nil
}
