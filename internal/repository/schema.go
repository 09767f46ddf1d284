package repository

// Schema definitions for the swap rules database.
// Compatible with both SQLite and PostgreSQL.

const schemaBills = `
CREATE TABLE IF NOT EXISTS bills (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    amount_cents BIGINT NOT NULL,
    due_date TIMESTAMP NOT NULL,
    provider TEXT NOT NULL,
    category TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    version BIGINT NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_bills_owner ON bills(owner_id);
CREATE INDEX IF NOT EXISTS idx_bills_status_due ON bills(status, due_date);
`

const schemaSwaps = `
CREATE TABLE IF NOT EXISTS swaps (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    initiator_id TEXT NOT NULL,
    counterparty_id TEXT NOT NULL DEFAULT '',
    bill_a_id TEXT NOT NULL,
    bill_b_id TEXT NOT NULL DEFAULT '',
    initiator_fee_cents BIGINT NOT NULL DEFAULT 0,
    counterparty_fee_cents BIGINT NOT NULL DEFAULT 0,
    spread_fee_cents BIGINT NOT NULL DEFAULT 0,
    initiator_fee_status TEXT NOT NULL DEFAULT '',
    counterparty_fee_status TEXT NOT NULL DEFAULT '',
    accept_deadline TIMESTAMP,
    fee_deadline TIMESTAMP,
    proof_due_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    accepted_at TIMESTAMP,
    locked_at TIMESTAMP,
    completed_at TIMESTAMP,
    closed_at TIMESTAMP,
    policy_notes TEXT NOT NULL DEFAULT '[]',
    version BIGINT NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_swaps_status ON swaps(status);
CREATE INDEX IF NOT EXISTS idx_swaps_initiator ON swaps(initiator_id, status);
CREATE INDEX IF NOT EXISTS idx_swaps_counterparty ON swaps(counterparty_id, status);
`

const schemaDeals = `
CREATE TABLE IF NOT EXISTS deals (
    id TEXT PRIMARY KEY,
    swap_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    proposer_id TEXT NOT NULL,
    payment_order TEXT NOT NULL,
    initiator_amount_cents BIGINT NOT NULL,
    counterparty_amount_cents BIGINT NOT NULL,
    proof_window_hours INTEGER NOT NULL,
    proof_type TEXT NOT NULL,
    fallback TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    decided_at TIMESTAMP,
    UNIQUE (swap_id, version)
);
`

const schemaProofs = `
CREATE TABLE IF NOT EXISTS proofs (
    id TEXT PRIMARY KEY,
    swap_id TEXT NOT NULL,
    submitter_id TEXT NOT NULL,
    type TEXT NOT NULL,
    file_ref TEXT NOT NULL,
    notes TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    rejection_reason TEXT NOT NULL DEFAULT '',
    reviewer_id TEXT NOT NULL DEFAULT '',
    resubmission_count INTEGER NOT NULL DEFAULT 0,
    original_proof_id TEXT NOT NULL DEFAULT '',
    submitted_at TIMESTAMP NOT NULL,
    review_deadline TIMESTAMP NOT NULL,
    reviewed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_proofs_swap ON proofs(swap_id);
CREATE INDEX IF NOT EXISTS idx_proofs_pending ON proofs(status, submitted_at);
`

const schemaDisputes = `
CREATE TABLE IF NOT EXISTS disputes (
    id TEXT PRIMARY KEY,
    swap_id TEXT NOT NULL,
    reporter_id TEXT NOT NULL,
    reported_id TEXT NOT NULL,
    reason TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    evidence TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL,
    resolution TEXT NOT NULL DEFAULT '',
    at_fault_user_id TEXT NOT NULL DEFAULT '',
    resolver_id TEXT NOT NULL DEFAULT '',
    filed_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_disputes_swap ON disputes(swap_id);
`

const schemaExtensions = `
CREATE TABLE IF NOT EXISTS extension_requests (
    id TEXT PRIMARY KEY,
    swap_id TEXT NOT NULL,
    requester_id TEXT NOT NULL,
    reason TEXT NOT NULL,
    requested_deadline TIMESTAMP NOT NULL,
    partial_payment_cents BIGINT,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    decided_at TIMESTAMP,
    decider_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_extensions_swap ON extension_requests(swap_id);
`

const schemaTrustProfiles = `
CREATE TABLE IF NOT EXISTS trust_profiles (
    user_id TEXT PRIMARY KEY,
    points BIGINT NOT NULL DEFAULT 0,
    tier TEXT NOT NULL,
    completed_swaps INTEGER NOT NULL DEFAULT 0,
    failed_swaps INTEGER NOT NULL DEFAULT 0,
    disputed_swaps INTEGER NOT NULL DEFAULT 0,
    disputes_lost INTEGER NOT NULL DEFAULT 0,
    no_shows INTEGER NOT NULL DEFAULT 0,
    id_verified INTEGER NOT NULL DEFAULT 0,
    phone_verified INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL,
    version BIGINT NOT NULL DEFAULT 1
);
`

// schemaLedger is append-only; nothing in the repository updates or deletes
// ledger rows.
const schemaLedger = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    delta BIGINT NOT NULL,
    reason TEXT NOT NULL,
    swap_id TEXT NOT NULL DEFAULT '',
    note TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_user ON ledger_entries(user_id, created_at);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaBills,
		schemaSwaps,
		schemaDeals,
		schemaProofs,
		schemaDisputes,
		schemaExtensions,
		schemaTrustProfiles,
		schemaLedger,
		schemaRuleConfigs,
	}
}
