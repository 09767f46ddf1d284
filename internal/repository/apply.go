package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/billix-app/swaprules/internal/domain"
)

var _ domain.Repository = (*SQLRepository)(nil)

// Apply commits a change set in a single transaction. Versioned updates are
// compare-and-swap: if any stored version moved since the read, nothing is
// written and the error wraps domain.ErrConflict. On success the in-memory
// versions are bumped to match the stored rows.
func (r *SQLRepository) Apply(ctx context.Context, cs *domain.ChangeSet) error {
	if cs == nil || cs.Empty() {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.applyTx(ctx, tx, cs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit change set: %w", err)
	}

	bumpVersions(cs)
	return nil
}

func (r *SQLRepository) applyTx(ctx context.Context, tx *sql.Tx, cs *domain.ChangeSet) error {
	for _, b := range cs.NewBills {
		if err := r.insertBill(ctx, tx, b); err != nil {
			return fmt.Errorf("insert bill %s: %w", b.ID, err)
		}
	}
	for _, b := range cs.Bills {
		if err := r.updateBill(ctx, tx, b); err != nil {
			return err
		}
	}

	if cs.NewSwap != nil {
		if err := r.insertSwap(ctx, tx, cs.NewSwap); err != nil {
			return fmt.Errorf("insert swap %s: %w", cs.NewSwap.ID, err)
		}
	}
	if cs.Swap != nil {
		if err := r.updateSwap(ctx, tx, cs.Swap); err != nil {
			return err
		}
	}

	for _, d := range cs.Deals {
		if err := r.upsertDeal(ctx, tx, d); err != nil {
			return fmt.Errorf("write deal %s: %w", d.ID, err)
		}
	}
	for _, p := range cs.Proofs {
		if err := r.upsertProof(ctx, tx, p); err != nil {
			return fmt.Errorf("write proof %s: %w", p.ID, err)
		}
	}
	for _, d := range cs.Disputes {
		if err := r.upsertDispute(ctx, tx, d); err != nil {
			return fmt.Errorf("write dispute %s: %w", d.ID, err)
		}
	}
	for _, e := range cs.Extensions {
		if err := r.upsertExtension(ctx, tx, e); err != nil {
			return fmt.Errorf("write extension %s: %w", e.ID, err)
		}
	}

	for _, p := range cs.Profiles {
		if err := r.writeProfile(ctx, tx, p); err != nil {
			return err
		}
	}
	for _, e := range cs.Ledger {
		if err := r.insertLedgerEntry(ctx, tx, e); err != nil {
			return fmt.Errorf("append ledger entry %s: %w", e.ID, err)
		}
	}
	return nil
}

func bumpVersions(cs *domain.ChangeSet) {
	for _, b := range cs.NewBills {
		b.Version = 1
	}
	for _, b := range cs.Bills {
		b.Version++
	}
	if cs.NewSwap != nil {
		cs.NewSwap.Version = 1
	}
	if cs.Swap != nil {
		cs.Swap.Version++
	}
	for _, p := range cs.Profiles {
		p.Version++
	}
}
