package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/billix-app/swaprules/internal/domain"
)

const proofColumns = `id, swap_id, submitter_id, type, file_ref, notes, status, rejection_reason,
	reviewer_id, resubmission_count, original_proof_id, submitted_at, review_deadline, reviewed_at`

func scanProof(s scanner) (*domain.Proof, error) {
	var p domain.Proof
	var reviewed sql.NullTime
	err := s.Scan(
		&p.ID, &p.SwapID, &p.SubmitterID, &p.Type, &p.FileRef, &p.Notes, &p.Status, &p.RejectionReason,
		&p.ReviewerID, &p.ResubmissionCount, &p.OriginalProofID, &p.SubmittedAt, &p.ReviewDeadline, &reviewed,
	)
	if err != nil {
		return nil, err
	}
	p.SubmittedAt = p.SubmittedAt.UTC()
	p.ReviewDeadline = p.ReviewDeadline.UTC()
	p.ReviewedAt = timePtr(reviewed)
	return &p, nil
}

func (r *SQLRepository) queryProofs(ctx context.Context, query string, args ...any) ([]*domain.Proof, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var proofs []*domain.Proof
	for rows.Next() {
		p, err := scanProof(rows)
		if err != nil {
			return nil, err
		}
		proofs = append(proofs, p)
	}
	return proofs, rows.Err()
}

// GetProof retrieves a proof by ID.
func (r *SQLRepository) GetProof(ctx context.Context, proofID string) (*domain.Proof, error) {
	query := `SELECT ` + proofColumns + ` FROM proofs WHERE id = ?`

	p, err := scanProof(r.db.QueryRowContext(ctx, r.rebind(query), proofID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListProofs returns every proof filed for a swap in submission order.
func (r *SQLRepository) ListProofs(ctx context.Context, swapID string) ([]*domain.Proof, error) {
	return r.queryProofs(ctx, `SELECT `+proofColumns+` FROM proofs WHERE swap_id = ? ORDER BY submitted_at, id`, swapID)
}

// ListPendingProofs returns proofs still awaiting review that were submitted
// at or before the given instant.
func (r *SQLRepository) ListPendingProofs(ctx context.Context, submittedBefore time.Time) ([]*domain.Proof, error) {
	return r.queryProofs(ctx,
		`SELECT `+proofColumns+` FROM proofs WHERE status = ? AND submitted_at <= ? ORDER BY submitted_at, id`,
		domain.ProofPendingReview, utc(submittedBefore),
	)
}

func (r *SQLRepository) upsertProof(ctx context.Context, q queryer, p *domain.Proof) error {
	query := `
		INSERT INTO proofs (` + proofColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			rejection_reason = excluded.rejection_reason,
			reviewer_id = excluded.reviewer_id,
			resubmission_count = excluded.resubmission_count,
			reviewed_at = excluded.reviewed_at
	`
	_, err := q.ExecContext(ctx, r.rebind(query),
		p.ID, p.SwapID, p.SubmitterID, p.Type, p.FileRef, p.Notes, p.Status, p.RejectionReason,
		p.ReviewerID, p.ResubmissionCount, p.OriginalProofID, utc(p.SubmittedAt), utc(p.ReviewDeadline), nullTime(p.ReviewedAt),
	)
	return err
}

const disputeColumns = `id, swap_id, reporter_id, reported_id, reason, description, evidence, status,
	resolution, at_fault_user_id, resolver_id, filed_at, resolved_at`

func scanDispute(s scanner) (*domain.Dispute, error) {
	var d domain.Dispute
	var evidence string
	var resolved sql.NullTime
	err := s.Scan(
		&d.ID, &d.SwapID, &d.ReporterID, &d.ReportedID, &d.Reason, &d.Description, &evidence, &d.Status,
		&d.Resolution, &d.AtFaultUserID, &d.ResolverID, &d.FiledAt, &resolved,
	)
	if err != nil {
		return nil, err
	}
	d.Evidence = decodeList(evidence)
	d.FiledAt = d.FiledAt.UTC()
	d.ResolvedAt = timePtr(resolved)
	return &d, nil
}

// GetDispute retrieves a dispute by ID.
func (r *SQLRepository) GetDispute(ctx context.Context, disputeID string) (*domain.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = ?`

	d, err := scanDispute(r.db.QueryRowContext(ctx, r.rebind(query), disputeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// ListDisputes returns the disputes filed on a swap.
func (r *SQLRepository) ListDisputes(ctx context.Context, swapID string) ([]*domain.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE swap_id = ? ORDER BY filed_at, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), swapID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disputes []*domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

func (r *SQLRepository) upsertDispute(ctx context.Context, q queryer, d *domain.Dispute) error {
	query := `
		INSERT INTO disputes (` + disputeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			resolution = excluded.resolution,
			at_fault_user_id = excluded.at_fault_user_id,
			resolver_id = excluded.resolver_id,
			resolved_at = excluded.resolved_at
	`
	_, err := q.ExecContext(ctx, r.rebind(query),
		d.ID, d.SwapID, d.ReporterID, d.ReportedID, d.Reason, d.Description, encodeList(d.Evidence), d.Status,
		d.Resolution, d.AtFaultUserID, d.ResolverID, utc(d.FiledAt), nullTime(d.ResolvedAt),
	)
	return err
}

const extensionColumns = `id, swap_id, requester_id, reason, requested_deadline, partial_payment_cents,
	status, created_at, decided_at, decider_id`

func scanExtension(s scanner) (*domain.ExtensionRequest, error) {
	var e domain.ExtensionRequest
	var partial sql.NullInt64
	var decided sql.NullTime
	err := s.Scan(
		&e.ID, &e.SwapID, &e.RequesterID, &e.Reason, &e.RequestedDeadline, &partial,
		&e.Status, &e.CreatedAt, &decided, &e.DeciderID,
	)
	if err != nil {
		return nil, err
	}
	if partial.Valid {
		v := partial.Int64
		e.PartialPaymentCents = &v
	}
	e.RequestedDeadline = e.RequestedDeadline.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.DecidedAt = timePtr(decided)
	return &e, nil
}

// GetExtension retrieves an extension request by ID.
func (r *SQLRepository) GetExtension(ctx context.Context, extensionID string) (*domain.ExtensionRequest, error) {
	query := `SELECT ` + extensionColumns + ` FROM extension_requests WHERE id = ?`

	e, err := scanExtension(r.db.QueryRowContext(ctx, r.rebind(query), extensionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// ListExtensions returns the extension requests of a swap.
func (r *SQLRepository) ListExtensions(ctx context.Context, swapID string) ([]*domain.ExtensionRequest, error) {
	query := `SELECT ` + extensionColumns + ` FROM extension_requests WHERE swap_id = ? ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), swapID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ExtensionRequest
	for rows.Next() {
		e, err := scanExtension(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLRepository) upsertExtension(ctx context.Context, q queryer, e *domain.ExtensionRequest) error {
	var partial sql.NullInt64
	if e.PartialPaymentCents != nil {
		partial = sql.NullInt64{Int64: *e.PartialPaymentCents, Valid: true}
	}

	query := `
		INSERT INTO extension_requests (` + extensionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			decided_at = excluded.decided_at,
			decider_id = excluded.decider_id
	`
	_, err := q.ExecContext(ctx, r.rebind(query),
		e.ID, e.SwapID, e.RequesterID, e.Reason, utc(e.RequestedDeadline), partial,
		e.Status, utc(e.CreatedAt), nullTime(e.DecidedAt), e.DeciderID,
	)
	return err
}
