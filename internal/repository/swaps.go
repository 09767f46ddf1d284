package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/billix-app/swaprules/internal/domain"
)

const swapColumns = `id, type, status, initiator_id, counterparty_id, bill_a_id, bill_b_id,
	initiator_fee_cents, counterparty_fee_cents, spread_fee_cents,
	initiator_fee_status, counterparty_fee_status,
	accept_deadline, fee_deadline, proof_due_at,
	created_at, updated_at, accepted_at, locked_at, completed_at, closed_at,
	policy_notes, version`

func scanSwap(s scanner) (*domain.Swap, error) {
	var sw domain.Swap
	var acceptDeadline, feeDeadline, proofDue sql.NullTime
	var acceptedAt, lockedAt, completedAt, closedAt sql.NullTime
	var notes string

	err := s.Scan(
		&sw.ID, &sw.Type, &sw.Status, &sw.InitiatorID, &sw.CounterpartyID, &sw.BillAID, &sw.BillBID,
		&sw.InitiatorFeeCents, &sw.CounterpartyFeeCents, &sw.SpreadFeeCents,
		&sw.InitiatorFeeStatus, &sw.CounterpartyFeeStatus,
		&acceptDeadline, &feeDeadline, &proofDue,
		&sw.CreatedAt, &sw.UpdatedAt, &acceptedAt, &lockedAt, &completedAt, &closedAt,
		&notes, &sw.Version,
	)
	if err != nil {
		return nil, err
	}

	sw.AcceptDeadline = timePtr(acceptDeadline)
	sw.FeeDeadline = timePtr(feeDeadline)
	sw.ProofDueAt = timePtr(proofDue)
	sw.AcceptedAt = timePtr(acceptedAt)
	sw.LockedAt = timePtr(lockedAt)
	sw.CompletedAt = timePtr(completedAt)
	sw.ClosedAt = timePtr(closedAt)
	sw.CreatedAt = sw.CreatedAt.UTC()
	sw.UpdatedAt = sw.UpdatedAt.UTC()
	sw.PolicyNotes = decodeList(notes)
	return &sw, nil
}

// GetSwap retrieves a swap by ID.
func (r *SQLRepository) GetSwap(ctx context.Context, swapID string) (*domain.Swap, error) {
	query := `SELECT ` + swapColumns + ` FROM swaps WHERE id = ?`

	sw, err := scanSwap(r.db.QueryRowContext(ctx, r.rebind(query), swapID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sw, err
}

// ListSwapsByStatus returns swaps in any of the given statuses, oldest first.
func (r *SQLRepository) ListSwapsByStatus(ctx context.Context, statuses []domain.SwapStatus, limit int) ([]*domain.Swap, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 500
	}

	args := make([]any, 0, len(statuses)+1)
	for _, s := range statuses {
		args = append(args, s)
	}
	args = append(args, limit)

	query := `SELECT ` + swapColumns + ` FROM swaps WHERE status IN (` + placeholders(len(statuses)) + `) ORDER BY updated_at, id LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swaps []*domain.Swap
	for rows.Next() {
		sw, err := scanSwap(rows)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, sw)
	}
	return swaps, rows.Err()
}

// CountActiveSwaps counts the non-terminal swaps a user is party to.
func (r *SQLRepository) CountActiveSwaps(ctx context.Context, userID string) (int, error) {
	return r.countSwaps(ctx, userID, domain.SwapStatus.IsActive)
}

// CountCommittedSwaps counts the accepted, unclosed swaps a user is party to.
func (r *SQLRepository) CountCommittedSwaps(ctx context.Context, userID string) (int, error) {
	return r.countSwaps(ctx, userID, domain.SwapStatus.IsCommitted)
}

func (r *SQLRepository) countSwaps(ctx context.Context, userID string, match func(domain.SwapStatus) bool) (int, error) {
	var statuses []any
	for _, s := range domain.AllSwapStatuses() {
		if match(s) {
			statuses = append(statuses, s)
		}
	}

	query := `
		SELECT COUNT(*) FROM swaps
		WHERE (initiator_id = ? OR counterparty_id = ?)
		  AND status IN (` + placeholders(len(statuses)) + `)
	`

	args := append([]any{userID, userID}, statuses...)
	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&n)
	return n, err
}

func swapArgs(sw *domain.Swap) []any {
	return []any{
		sw.Type, sw.Status, sw.InitiatorID, sw.CounterpartyID, sw.BillAID, sw.BillBID,
		sw.InitiatorFeeCents, sw.CounterpartyFeeCents, sw.SpreadFeeCents,
		sw.InitiatorFeeStatus, sw.CounterpartyFeeStatus,
		nullTime(sw.AcceptDeadline), nullTime(sw.FeeDeadline), nullTime(sw.ProofDueAt),
		utc(sw.CreatedAt), utc(sw.UpdatedAt),
		nullTime(sw.AcceptedAt), nullTime(sw.LockedAt), nullTime(sw.CompletedAt), nullTime(sw.ClosedAt),
		encodeList(sw.PolicyNotes),
	}
}

func (r *SQLRepository) insertSwap(ctx context.Context, q queryer, sw *domain.Swap) error {
	query := `INSERT INTO swaps (` + swapColumns + `) VALUES (?, ` + placeholders(22) + `)`
	args := append([]any{sw.ID}, swapArgs(sw)...)
	args = append(args, 1)
	_, err := q.ExecContext(ctx, r.rebind(query), args...)
	return err
}

func (r *SQLRepository) updateSwap(ctx context.Context, q queryer, sw *domain.Swap) error {
	query := `
		UPDATE swaps SET
			type = ?, status = ?, initiator_id = ?, counterparty_id = ?, bill_a_id = ?, bill_b_id = ?,
			initiator_fee_cents = ?, counterparty_fee_cents = ?, spread_fee_cents = ?,
			initiator_fee_status = ?, counterparty_fee_status = ?,
			accept_deadline = ?, fee_deadline = ?, proof_due_at = ?,
			created_at = ?, updated_at = ?,
			accepted_at = ?, locked_at = ?, completed_at = ?, closed_at = ?,
			policy_notes = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	args := append(swapArgs(sw), sw.ID, sw.Version)
	res, err := q.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return err
	}
	return checkAffected(res, "swap "+sw.ID)
}

const dealColumns = `id, swap_id, version, proposer_id, payment_order, initiator_amount_cents,
	counterparty_amount_cents, proof_window_hours, proof_type, fallback, status,
	created_at, expires_at, decided_at`

// ListDeals returns every deal version of a swap, oldest first.
func (r *SQLRepository) ListDeals(ctx context.Context, swapID string) ([]*domain.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE swap_id = ? ORDER BY version`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), swapID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []*domain.Deal
	for rows.Next() {
		var d domain.Deal
		var decided sql.NullTime
		if err := rows.Scan(
			&d.ID, &d.SwapID, &d.Version, &d.ProposerID, &d.Terms.PaymentOrder, &d.Terms.InitiatorAmountCents,
			&d.Terms.CounterpartyAmountCents, &d.Terms.ProofWindowHours, &d.Terms.ProofType, &d.Terms.Fallback, &d.Status,
			&d.CreatedAt, &d.ExpiresAt, &decided,
		); err != nil {
			return nil, err
		}
		d.CreatedAt = d.CreatedAt.UTC()
		d.ExpiresAt = d.ExpiresAt.UTC()
		d.DecidedAt = timePtr(decided)
		deals = append(deals, &d)
	}
	return deals, rows.Err()
}

func (r *SQLRepository) upsertDeal(ctx context.Context, q queryer, d *domain.Deal) error {
	query := `
		INSERT INTO deals (` + dealColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			decided_at = excluded.decided_at
	`
	_, err := q.ExecContext(ctx, r.rebind(query),
		d.ID, d.SwapID, d.Version, d.ProposerID, d.Terms.PaymentOrder, d.Terms.InitiatorAmountCents,
		d.Terms.CounterpartyAmountCents, d.Terms.ProofWindowHours, d.Terms.ProofType, d.Terms.Fallback, d.Status,
		utc(d.CreatedAt), utc(d.ExpiresAt), nullTime(d.DecidedAt),
	)
	return err
}
