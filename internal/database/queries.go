package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"atomicswap/internal/hashlock"
	"atomicswap/internal/models"
)

const swapColumns = `
	id, from_asset, to_asset, hashlock, secret, status, cross_chain_recipient,
	fee_amount, fee_denom, fee_chain_id, fee_recipient, fee_tx_hash,
	error_kind, error_message, retry_count, created_at, updated_at`

const legColumns = `
	swap_id, role, chain_id, escrow_id, initiator, participant, cross_chain_recipient,
	asset, amount, hashlock, timelock_expiry, state,
	create_tx_hash, claim_tx_hash, refund_tx_hash, pending_tx_hash, pending_action`

// ==================== Swap Queries ====================

// UpsertSwap upserts the swap and both escrow legs in one transaction
func (db *DB) UpsertSwap(ctx context.Context, swap *models.Swap) error {
	swapQuery := `
		INSERT INTO swaps (` + swapColumns + `)
		VALUES (
			:id, :from_asset, :to_asset, :hashlock, :secret, :status, :cross_chain_recipient,
			:fee_amount, :fee_denom, :fee_chain_id, :fee_recipient, :fee_tx_hash,
			:error_kind, :error_message, :retry_count, :created_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			secret = EXCLUDED.secret,
			status = EXCLUDED.status,
			fee_tx_hash = EXCLUDED.fee_tx_hash,
			error_kind = EXCLUDED.error_kind,
			error_message = EXCLUDED.error_message,
			retry_count = EXCLUDED.retry_count,
			updated_at = EXCLUDED.updated_at
	`
	legQuery := `
		INSERT INTO escrow_legs (` + legColumns + `)
		VALUES (
			:swap_id, :role, :chain_id, :escrow_id, :initiator, :participant, :cross_chain_recipient,
			:asset, :amount, :hashlock, :timelock_expiry, :state,
			:create_tx_hash, :claim_tx_hash, :refund_tx_hash, :pending_tx_hash, :pending_action
		)
		ON CONFLICT (swap_id, role) DO UPDATE SET
			escrow_id = EXCLUDED.escrow_id,
			timelock_expiry = EXCLUDED.timelock_expiry,
			state = EXCLUDED.state,
			create_tx_hash = EXCLUDED.create_tx_hash,
			claim_tx_hash = EXCLUDED.claim_tx_hash,
			refund_tx_hash = EXCLUDED.refund_tx_hash,
			pending_tx_hash = EXCLUDED.pending_tx_hash,
			pending_action = EXCLUDED.pending_action
	`

	return db.InTransaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, swapQuery, swap); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "swaps_hashlock_key" {
				return ErrHashlockExists
			}
			return fmt.Errorf("failed to save swap: %w", err)
		}
		for _, leg := range []*models.EscrowRef{&swap.Source, &swap.Destination} {
			leg.SwapID = swap.ID
			if _, err := tx.NamedExecContext(ctx, legQuery, leg); err != nil {
				return fmt.Errorf("failed to save %s leg: %w", leg.Role, err)
			}
		}
		return nil
	})
}

// GetSwap retrieves a swap with its legs
func (db *DB) GetSwap(ctx context.Context, id string) (*models.Swap, error) {
	var swap models.Swap
	query := `SELECT ` + swapColumns + ` FROM swaps WHERE id = $1`
	err := db.GetContext(ctx, &swap, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	swaps := []models.Swap{swap}
	if err := db.attachLegs(ctx, swaps); err != nil {
		return nil, err
	}
	return &swaps[0], nil
}

// ListSwaps retrieves swaps newest first, optionally filtered by status
func (db *DB) ListSwaps(ctx context.Context, filter ListFilter) ([]models.Swap, error) {
	var (
		swaps []models.Swap
		err   error
	)
	limit := normalizeLimit(filter.Limit)

	if filter.Status != "" {
		query := `
			SELECT ` + swapColumns + `
			FROM swaps
			WHERE status = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		`
		err = db.SelectContext(ctx, &swaps, query, filter.Status, limit, filter.Offset)
	} else {
		query := `
			SELECT ` + swapColumns + `
			FROM swaps
			ORDER BY created_at DESC
			LIMIT $1 OFFSET $2
		`
		err = db.SelectContext(ctx, &swaps, query, limit, filter.Offset)
	}
	if err != nil {
		return nil, err
	}

	if err := db.attachLegs(ctx, swaps); err != nil {
		return nil, err
	}
	return swaps, nil
}

// ListSwapsByStatus retrieves all swaps in any of the given statuses, oldest first
func (db *DB) ListSwapsByStatus(ctx context.Context, statuses ...models.SwapStatus) ([]models.Swap, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	var swaps []models.Swap
	query := `
		SELECT ` + swapColumns + `
		FROM swaps
		WHERE status = ANY($1)
		ORDER BY created_at ASC
	`
	if err := db.SelectContext(ctx, &swaps, query, pq.Array(names)); err != nil {
		return nil, err
	}

	if err := db.attachLegs(ctx, swaps); err != nil {
		return nil, err
	}
	return swaps, nil
}

func (db *DB) attachLegs(ctx context.Context, swaps []models.Swap) error {
	if len(swaps) == 0 {
		return nil
	}

	ids := make([]string, len(swaps))
	index := make(map[string]int, len(swaps))
	for i := range swaps {
		ids[i] = swaps[i].ID
		index[swaps[i].ID] = i
	}

	var legs []models.EscrowRef
	query := `SELECT ` + legColumns + ` FROM escrow_legs WHERE swap_id = ANY($1)`
	if err := db.SelectContext(ctx, &legs, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to load escrow legs: %w", err)
	}

	for _, leg := range legs {
		i, ok := index[leg.SwapID]
		if !ok {
			continue
		}
		*swaps[i].Leg(leg.Role) = leg
	}
	return nil
}

// ==================== Event Queries ====================

// AppendEvent records an audit log entry and fills its id and timestamp
func (db *DB) AppendEvent(ctx context.Context, event *models.SwapEvent) error {
	query := `
		INSERT INTO swap_events (swap_id, event_type, from_status, to_status, leg, tx_hash, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	return db.QueryRowContext(
		ctx, query,
		event.SwapID,
		event.Type,
		event.FromStatus,
		event.ToStatus,
		event.Leg,
		event.TxHash,
		event.Detail,
	).Scan(&event.ID, &event.CreatedAt)
}

// ListEvents retrieves the audit log of a swap in insertion order
func (db *DB) ListEvents(ctx context.Context, swapID string) ([]models.SwapEvent, error) {
	var events []models.SwapEvent
	query := `
		SELECT id, swap_id, event_type, from_status, to_status, leg, tx_hash, detail, created_at
		FROM swap_events
		WHERE swap_id = $1
		ORDER BY id ASC
	`
	err := db.SelectContext(ctx, &events, query, swapID)
	return events, err
}

// ==================== Secret Queries ====================

// SaveSecret stores the secret for a swap; an existing secret is kept
func (db *DB) SaveSecret(ctx context.Context, swapID string, secret hashlock.Secret) error {
	query := `
		INSERT INTO swap_secrets (swap_id, secret)
		VALUES ($1, $2)
		ON CONFLICT (swap_id) DO NOTHING
	`
	_, err := db.ExecContext(ctx, query, swapID, secret.Hex())
	return err
}

// LoadSecret retrieves the stored secret for a swap
func (db *DB) LoadSecret(ctx context.Context, swapID string) (*hashlock.Secret, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT secret FROM swap_secrets WHERE swap_id = $1`, swapID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	secret, err := hashlock.ParseSecret(raw)
	if err != nil {
		return nil, fmt.Errorf("stored secret for %s is corrupt: %w", swapID, err)
	}
	return &secret, nil
}

var _ Store = (*DB)(nil)
