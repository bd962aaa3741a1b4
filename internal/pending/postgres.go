package pending

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists pending transactions in the bursar.pending_transactions
// table. Schema:
//
//	CREATE TABLE bursar.pending_transactions (
//	    client_transaction_id TEXT PRIMARY KEY,
//	    target_wallet_id      TEXT NOT NULL,
//	    preset_payment_ref    TEXT NOT NULL DEFAULT '',
//	    channel               TEXT NOT NULL DEFAULT 'provider',
//	    amount_cents          BIGINT NOT NULL DEFAULT 0,
//	    is_free_entry         BOOLEAN NOT NULL DEFAULT FALSE,
//	    wallet_units_used     BIGINT NOT NULL DEFAULT 0,
//	    resource_snapshot     JSONB,
//	    redemption_snapshot   JSONB,
//	    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Save upserts the pending transaction. A retried checkout attempt with the
// same client transaction id simply refreshes its snapshot.
func (s *PostgresStore) Save(ctx context.Context, tx Transaction) error {
	var redemptionSnapshot []byte
	if tx.Redemption != nil {
		var err error
		redemptionSnapshot, err = json.Marshal(tx.Redemption)
		if err != nil {
			return fmt.Errorf("failed to marshal redemption snapshot: %w", err)
		}
	}
	var resourceSnapshot []byte
	if tx.Resource != nil {
		var err error
		resourceSnapshot, err = json.Marshal(tx.Resource)
		if err != nil {
			return fmt.Errorf("failed to marshal resource snapshot: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bursar.pending_transactions (
			client_transaction_id, target_wallet_id, preset_payment_ref, channel,
			amount_cents, is_free_entry, wallet_units_used, resource_snapshot, redemption_snapshot, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (client_transaction_id) DO UPDATE SET
			target_wallet_id = EXCLUDED.target_wallet_id,
			preset_payment_ref = EXCLUDED.preset_payment_ref,
			channel = EXCLUDED.channel,
			amount_cents = EXCLUDED.amount_cents,
			is_free_entry = EXCLUDED.is_free_entry,
			wallet_units_used = EXCLUDED.wallet_units_used,
			resource_snapshot = EXCLUDED.resource_snapshot,
			redemption_snapshot = EXCLUDED.redemption_snapshot,
			created_at = NOW()
	`, tx.ClientTransactionID, tx.TargetWalletID, tx.PresetPaymentRef, tx.Channel,
		tx.AmountCents, tx.IsFreeEntry, tx.WalletUnitsUsed, resourceSnapshot, redemptionSnapshot)
	if err != nil {
		return fmt.Errorf("failed to save pending transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, clientTransactionID string) (*Transaction, error) {
	var (
		tx                 Transaction
		resourceSnapshot   []byte
		redemptionSnapshot []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT client_transaction_id, target_wallet_id, preset_payment_ref, channel,
			amount_cents, is_free_entry, wallet_units_used, resource_snapshot, redemption_snapshot, created_at
		FROM bursar.pending_transactions
		WHERE client_transaction_id = $1
	`, clientTransactionID).Scan(&tx.ClientTransactionID, &tx.TargetWalletID, &tx.PresetPaymentRef, &tx.Channel,
		&tx.AmountCents, &tx.IsFreeEntry, &tx.WalletUnitsUsed, &resourceSnapshot, &redemptionSnapshot, &tx.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending transaction: %w", err)
	}

	if len(resourceSnapshot) > 0 {
		var r ResourceSnapshot
		if err := json.Unmarshal(resourceSnapshot, &r); err != nil {
			return nil, fmt.Errorf("failed to decode resource snapshot: %w", err)
		}
		tx.Resource = &r
	}
	if len(redemptionSnapshot) > 0 {
		var r RedemptionSnapshot
		if err := json.Unmarshal(redemptionSnapshot, &r); err != nil {
			return nil, fmt.Errorf("failed to decode redemption snapshot: %w", err)
		}
		tx.Redemption = &r
	}

	return &tx, nil
}

func (s *PostgresStore) Clear(ctx context.Context, clientTransactionID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM bursar.pending_transactions WHERE client_transaction_id = $1
	`, clientTransactionID)
	if err != nil {
		return fmt.Errorf("failed to clear pending transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM bursar.pending_transactions WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep pending transactions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
