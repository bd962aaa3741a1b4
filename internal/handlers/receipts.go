package handlers

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"bursar/internal/checkout"
	"bursar/internal/settlement"
	"bursar/pkg/config"
	"bursar/pkg/email"
	"bursar/pkg/logging"
)

// ReceiptMailer sends post-settlement receipt emails.
type ReceiptMailer struct {
	sender     *email.Sender
	configured bool
	logger     logging.Logger
}

// receiptData feeds the receipt template.
type receiptData struct {
	AmountDollars     float64
	OriginalDollars   float64
	RedemptionCode    string
	ResourceName      string
	ResourceQuantity  int
	FreeEntry         bool
	BalanceAfterCents int64
	BalanceAfterHuman float64
}

// NewReceiptMailer reads SMTP settings from the environment. When they are
// absent the mailer stays disabled and SendReceipt becomes a no-op.
func NewReceiptMailer(log logging.Logger) *ReceiptMailer {
	cfg := email.Config{
		Host:     config.GetEnv("SMTP_HOST", ""),
		Port:     config.GetEnv("SMTP_PORT", "587"),
		User:     config.GetEnv("SMTP_USER", ""),
		Password: config.GetEnv("SMTP_PASSWORD", ""),
		From:     config.GetEnv("FROM_EMAIL", ""),
		FromName: config.GetEnv("FROM_NAME", "Bursar"),
	}

	return &ReceiptMailer{
		sender:     email.NewSender(cfg),
		configured: cfg.Host != "" && cfg.From != "",
		logger:     log,
	}
}

var receiptTemplate = template.Must(template.New("receipt").Parse(`
<html><body>
<h2>Payment receipt</h2>
{{if .FreeEntry}}
<p>Your free entry was registered.</p>
{{else}}
<p>We received your payment of ${{printf "%.2f" .AmountDollars}}.</p>
{{if .RedemptionCode}}<p>Coupon <b>{{.RedemptionCode}}</b> applied (original amount ${{printf "%.2f" .OriginalDollars}}).</p>{{end}}
{{end}}
{{if .ResourceName}}<p>Purchase: {{.ResourceQuantity}} x {{.ResourceName}}</p>{{end}}
<p>Wallet balance: ${{printf "%.2f" .BalanceAfterHuman}}</p>
</body></html>
`))

// SendReceipt renders and sends the receipt. Never fails the payment: the
// caller only logs errors.
func (rm *ReceiptMailer) SendReceipt(ctx context.Context, to string, intent checkout.PaymentIntent, result *settlement.Result) error {
	if !rm.configured {
		rm.logger.Debug("Receipt mailer not configured, skipping receipt")
		return nil
	}

	data := receiptData{
		AmountDollars:     float64(intent.EffectiveAmountCents) / 100,
		OriginalDollars:   float64(intent.OriginalAmountCents) / 100,
		FreeEntry:         intent.IsFreeEntry,
		BalanceAfterCents: result.WalletBalanceAfterCents,
		BalanceAfterHuman: float64(result.WalletBalanceAfterCents) / 100,
	}
	if intent.AppliedRedemption != nil {
		data.RedemptionCode = intent.AppliedRedemption.Code
	}
	if intent.Resource != nil {
		data.ResourceName = intent.Resource.Name
		data.ResourceQuantity = intent.Resource.Quantity
	}

	var body bytes.Buffer
	if err := receiptTemplate.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to render receipt template: %w", err)
	}

	return rm.sender.SendMail(ctx, to, "Your payment receipt", body.String())
}
