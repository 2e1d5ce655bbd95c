// Copyright 2025 Nanomoni Authors
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nanomoni/channels/pkg/proofcore"
	"github.com/nanomoni/channels/pkg/store"
)

// Repository implements store.Store over a postgres Client.
type Repository struct {
	client *Client
}

// NewRepository wraps client as a store.Store.
func NewRepository(client *Client) *Repository {
	return &Repository{client: client}
}

var _ store.Store = (*Repository)(nil)

func (r *Repository) PutAccount(ctx context.Context, acc store.AccountRecord) error {
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO accounts (public_key_hex, balance, registered_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (public_key_hex) DO UPDATE SET balance = EXCLUDED.balance
	`, acc.PublicKeyHex, acc.Balance, acc.RegisteredAt)
	if err != nil {
		return fmt.Errorf("postgres: put account: %w", err)
	}
	return nil
}

func (r *Repository) GetAccount(ctx context.Context, publicKeyHex string) (store.AccountRecord, error) {
	var acc store.AccountRecord
	acc.PublicKeyHex = publicKeyHex
	row := r.client.QueryRowContext(ctx,
		`SELECT balance, registered_at FROM accounts WHERE public_key_hex = $1`, publicKeyHex)
	if err := row.Scan(&acc.Balance, &acc.RegisteredAt); err != nil {
		if err == sql.ErrNoRows {
			return store.AccountRecord{}, store.ErrNotFound
		}
		return store.AccountRecord{}, fmt.Errorf("postgres: get account: %w", err)
	}
	return acc, nil
}

func (r *Repository) PutChannel(ctx context.Context, ch store.ChannelRecord) error {
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO channels (id, client_public_key, vendor_public_key, amount, unit_value,
			scheme, commitment_root, max_index, opened_at, settled, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			settled = EXCLUDED.settled,
			settled_at = EXCLUDED.settled_at
	`, ch.ID, ch.ClientPublicKey, ch.VendorPublicKey, ch.Amount, ch.UnitValue,
		byte(ch.Scheme), ch.CommitmentRoot, ch.MaxIndex, ch.OpenedAt, ch.Settled, ch.SettledAt)
	if err != nil {
		return fmt.Errorf("postgres: put channel: %w", err)
	}
	return nil
}

func (r *Repository) GetChannel(ctx context.Context, channelID string) (store.ChannelRecord, error) {
	var ch store.ChannelRecord
	ch.ID = channelID
	var scheme byte
	row := r.client.QueryRowContext(ctx, `
		SELECT client_public_key, vendor_public_key, amount, unit_value, scheme,
			commitment_root, max_index, opened_at, settled, settled_at
		FROM channels WHERE id = $1
	`, channelID)
	if err := row.Scan(&ch.ClientPublicKey, &ch.VendorPublicKey, &ch.Amount, &ch.UnitValue,
		&scheme, &ch.CommitmentRoot, &ch.MaxIndex, &ch.OpenedAt, &ch.Settled, &ch.SettledAt); err != nil {
		if err == sql.ErrNoRows {
			return store.ChannelRecord{}, store.ErrNotFound
		}
		return store.ChannelRecord{}, fmt.Errorf("postgres: get channel: %w", err)
	}
	ch.Scheme = proofcore.Scheme(scheme)
	return ch, nil
}

func (r *Repository) MarkChannelSettled(ctx context.Context, channelID string, settledAt time.Time) error {
	res, err := r.client.ExecContext(ctx,
		`UPDATE channels SET settled = TRUE, settled_at = $2 WHERE id = $1`, channelID, settledAt)
	if err != nil {
		return fmt.Errorf("postgres: mark channel settled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: mark channel settled: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) PutPaymentState(ctx context.Context, state store.PaymentStateRecord) error {
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO payment_states (channel_id, index, cumulative_owed, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (channel_id) DO UPDATE SET
			index = EXCLUDED.index,
			cumulative_owed = EXCLUDED.cumulative_owed,
			updated_at = EXCLUDED.updated_at
		WHERE payment_states.index < EXCLUDED.index
	`, state.ChannelID, state.Index, state.CumulativeOwed, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: put payment state: %w", err)
	}
	return nil
}

func (r *Repository) GetPaymentState(ctx context.Context, channelID string) (store.PaymentStateRecord, error) {
	var state store.PaymentStateRecord
	state.ChannelID = channelID
	row := r.client.QueryRowContext(ctx,
		`SELECT index, cumulative_owed, updated_at FROM payment_states WHERE channel_id = $1`, channelID)
	if err := row.Scan(&state.Index, &state.CumulativeOwed, &state.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return store.PaymentStateRecord{}, store.ErrNotFound
		}
		return store.PaymentStateRecord{}, fmt.Errorf("postgres: get payment state: %w", err)
	}
	return state, nil
}

func (r *Repository) Close() error {
	return r.client.Close()
}
