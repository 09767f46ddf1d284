package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/billix-app/swaprules/internal/domain"
)

const billColumns = `id, owner_id, amount_cents, due_date, provider, category, status, created_at, updated_at, version`

func scanBill(s scanner) (*domain.Bill, error) {
	var b domain.Bill
	err := s.Scan(
		&b.ID, &b.OwnerID, &b.AmountCents, &b.DueDate, &b.Provider,
		&b.Category, &b.Status, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.DueDate = b.DueDate.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

// GetBill retrieves a bill by ID.
func (r *SQLRepository) GetBill(ctx context.Context, billID string) (*domain.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE id = ?`

	b, err := scanBill(r.db.QueryRowContext(ctx, r.rebind(query), billID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

// ListMatchableBills returns active bills of other users, soonest due first.
func (r *SQLRepository) ListMatchableBills(ctx context.Context, excludeOwnerID string, limit int) ([]*domain.Bill, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + billColumns + `
		FROM bills
		WHERE status = ? AND owner_id <> ?
		ORDER BY due_date, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), domain.BillActive, excludeOwnerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bills []*domain.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

func (r *SQLRepository) insertBill(ctx context.Context, q queryer, b *domain.Bill) error {
	query := `INSERT INTO bills (` + billColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.ExecContext(ctx, r.rebind(query),
		b.ID, b.OwnerID, b.AmountCents, utc(b.DueDate), b.Provider,
		b.Category, b.Status, utc(b.CreatedAt), utc(b.UpdatedAt), 1,
	)
	return err
}

func (r *SQLRepository) updateBill(ctx context.Context, q queryer, b *domain.Bill) error {
	query := `
		UPDATE bills
		SET amount_cents = ?, due_date = ?, provider = ?, category = ?, status = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	res, err := q.ExecContext(ctx, r.rebind(query),
		b.AmountCents, utc(b.DueDate), b.Provider, b.Category, b.Status,
		utc(b.UpdatedAt), b.ID, b.Version,
	)
	if err != nil {
		return err
	}
	return checkAffected(res, "bill "+b.ID)
}
