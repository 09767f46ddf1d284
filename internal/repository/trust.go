package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/billix-app/swaprules/internal/domain"
)

const profileColumns = `user_id, points, tier, completed_swaps, failed_swaps, disputed_swaps,
	disputes_lost, no_shows, id_verified, phone_verified, updated_at, version`

// GetTrustProfile retrieves a user's trust profile.
func (r *SQLRepository) GetTrustProfile(ctx context.Context, userID string) (*domain.TrustProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM trust_profiles WHERE user_id = ?`

	var p domain.TrustProfile
	var idVerified, phoneVerified int
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(
		&p.UserID, &p.Points, &p.Tier, &p.CompletedSwaps, &p.FailedSwaps, &p.DisputedSwaps,
		&p.DisputesLost, &p.NoShows, &idVerified, &phoneVerified, &p.UpdatedAt, &p.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.IDVerified = idVerified == 1
	p.PhoneVerified = phoneVerified == 1
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// writeProfile inserts a profile that was never stored (Version 0) or
// updates a stored one conditionally on its version.
func (r *SQLRepository) writeProfile(ctx context.Context, q queryer, p *domain.TrustProfile) error {
	if p.Version == 0 {
		query := `
			INSERT INTO trust_profiles (` + profileColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(user_id) DO NOTHING
		`
		res, err := q.ExecContext(ctx, r.rebind(query),
			p.UserID, p.Points, p.Tier, p.CompletedSwaps, p.FailedSwaps, p.DisputedSwaps,
			p.DisputesLost, p.NoShows, boolInt(p.IDVerified), boolInt(p.PhoneVerified), utc(p.UpdatedAt),
		)
		if err != nil {
			return err
		}
		return checkAffected(res, "trust profile "+p.UserID)
	}

	query := `
		UPDATE trust_profiles SET
			points = ?, tier = ?, completed_swaps = ?, failed_swaps = ?, disputed_swaps = ?,
			disputes_lost = ?, no_shows = ?, id_verified = ?, phone_verified = ?, updated_at = ?,
			version = version + 1
		WHERE user_id = ? AND version = ?
	`
	res, err := q.ExecContext(ctx, r.rebind(query),
		p.Points, p.Tier, p.CompletedSwaps, p.FailedSwaps, p.DisputedSwaps,
		p.DisputesLost, p.NoShows, boolInt(p.IDVerified), boolInt(p.PhoneVerified), utc(p.UpdatedAt),
		p.UserID, p.Version,
	)
	if err != nil {
		return err
	}
	return checkAffected(res, "trust profile "+p.UserID)
}

// ListLedgerEntries returns a user's points history, oldest first.
func (r *SQLRepository) ListLedgerEntries(ctx context.Context, userID string) ([]*domain.LedgerEntry, error) {
	query := `
		SELECT id, user_id, delta, reason, swap_id, note, created_at
		FROM ledger_entries
		WHERE user_id = ?
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.SwapID, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (r *SQLRepository) insertLedgerEntry(ctx context.Context, q queryer, e *domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (id, user_id, delta, reason, swap_id, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, r.rebind(query), e.ID, e.UserID, e.Delta, e.Reason, e.SwapID, e.Note, utc(e.CreatedAt))
	return err
}
