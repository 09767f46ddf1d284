// Package lifecycle holds the swap state machines.
//
// Two independent models exist. StateMachine governs the current ten-state
// swap lifecycle. LegacyMachine governs the older five-state BillSwapTransaction
// flow; it shares no states or transitions with StateMachine.
package lifecycle

import (
	"sort"
	"time"

	"github.com/billix-app/swaprules/internal/domain"
)

// transitions is the legal edge table of the swap lifecycle.
// Terminal states have no outgoing edges.
var transitions = map[domain.SwapStatus]map[domain.SwapStatus]bool{
	domain.SwapOffered: {
		domain.SwapAcceptedPendingFee: true,
		domain.SwapCountered:          true,
		domain.SwapCancelled:          true,
		domain.SwapExpired:            true,
	},
	domain.SwapCountered: {
		domain.SwapAcceptedPendingFee: true,
		domain.SwapCountered:          true,
		domain.SwapCancelled:          true,
		domain.SwapExpired:            true,
	},
	domain.SwapAcceptedPendingFee: {
		domain.SwapLocked:    true,
		domain.SwapCancelled: true,
		domain.SwapExpired:   true,
	},
	domain.SwapLocked: {
		domain.SwapAwaitingProof: true,
	},
	domain.SwapAwaitingProof: {
		domain.SwapCompleted: true,
		domain.SwapFailed:    true,
		domain.SwapDisputed:  true,
	},
	domain.SwapDisputed: {
		domain.SwapCompleted: true,
		domain.SwapFailed:    true,
	},
	domain.SwapCompleted: {},
	domain.SwapFailed:    {},
	domain.SwapCancelled: {},
	domain.SwapExpired:   {},
}

// StateMachine validates and applies swap transitions.
type StateMachine struct{}

// New returns the swap state machine.
func New() *StateMachine {
	return &StateMachine{}
}

// CanTransition reports whether from → to is a legal edge.
func (m *StateMachine) CanTransition(from, to domain.SwapStatus) bool {
	return transitions[from][to]
}

// Targets returns the legal next states of from, sorted.
func (m *StateMachine) Targets(from domain.SwapStatus) []domain.SwapStatus {
	out := make([]domain.SwapStatus, 0, len(transitions[from]))
	for to := range transitions[from] {
		out = append(out, to)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Transition moves swap to the target status and stamps phase timestamps.
// On an illegal request the swap is left untouched and a
// *domain.TransitionError is returned.
func (m *StateMachine) Transition(swap *domain.Swap, to domain.SwapStatus, now time.Time) error {
	if !m.CanTransition(swap.Status, to) {
		return &domain.TransitionError{From: string(swap.Status), To: string(to)}
	}

	swap.Status = to
	swap.UpdatedAt = now

	switch to {
	case domain.SwapAcceptedPendingFee:
		swap.AcceptedAt = stamp(now)
	case domain.SwapLocked:
		swap.LockedAt = stamp(now)
	case domain.SwapCompleted:
		swap.CompletedAt = stamp(now)
	}
	if to.IsTerminal() {
		swap.ClosedAt = stamp(now)
	}
	return nil
}

func stamp(t time.Time) *time.Time {
	return &t
}

// legacyTransitions is the edge table of the BillSwapTransaction flow.
var legacyTransitions = map[domain.LegacySwapStatus]map[domain.LegacySwapStatus]bool{
	domain.LegacyPending: {
		domain.LegacyActive:  true,
		domain.LegacyExpired: true,
	},
	domain.LegacyActive: {
		domain.LegacyCompleted: true,
		domain.LegacyDispute:   true,
		domain.LegacyExpired:   true,
	},
	domain.LegacyDispute: {
		domain.LegacyCompleted: true,
	},
	domain.LegacyCompleted: {},
	domain.LegacyExpired:   {},
}

// LegacyMachine validates transitions of the five-state BillSwapTransaction model.
type LegacyMachine struct{}

// NewLegacy returns the legacy state machine.
func NewLegacy() *LegacyMachine {
	return &LegacyMachine{}
}

// CanTransition reports whether from → to is a legal legacy edge.
func (m *LegacyMachine) CanTransition(from, to domain.LegacySwapStatus) bool {
	return legacyTransitions[from][to]
}

// Validate returns a *domain.TransitionError if from → to is illegal.
func (m *LegacyMachine) Validate(from, to domain.LegacySwapStatus) error {
	if !m.CanTransition(from, to) {
		return &domain.TransitionError{From: string(from), To: string(to)}
	}
	return nil
}

// Edge is one row of an exported transition table.
type Edge struct {
	From     string   `json:"from"`
	To       []string `json:"to"`
	Terminal bool     `json:"terminal"`
}

// Table describes both state models for clients and tooling.
type Table struct {
	Swap   []Edge `json:"swap"`
	Legacy []Edge `json:"legacy"`
}

// Describe exports both transition tables in a stable order.
func Describe() Table {
	var t Table
	m := New()
	for _, s := range domain.AllSwapStatuses() {
		targets := m.Targets(s)
		to := make([]string, len(targets))
		for i, target := range targets {
			to[i] = string(target)
		}
		t.Swap = append(t.Swap, Edge{From: string(s), To: to, Terminal: len(to) == 0})
	}

	legacyOrder := []domain.LegacySwapStatus{
		domain.LegacyPending, domain.LegacyActive, domain.LegacyDispute,
		domain.LegacyCompleted, domain.LegacyExpired,
	}
	for _, s := range legacyOrder {
		to := make([]string, 0, len(legacyTransitions[s]))
		for target := range legacyTransitions[s] {
			to = append(to, string(target))
		}
		sort.Strings(to)
		t.Legacy = append(t.Legacy, Edge{From: string(s), To: to, Terminal: len(to) == 0})
	}
	return t
}
