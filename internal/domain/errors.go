package domain

import (
	"errors"
	"fmt"
)

// Error is a user-facing failure with a stable code.
// Sentinels below are compared with errors.Is; wrap them with fmt.Errorf
// ("%w") to add detail.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// ─── Sentinel Errors ────────────────────────────────────────────────────────

var (
	// State errors
	ErrInvalidTransition = newError("INVALID_TRANSITION", "invalid state transition")
	ErrDealExpired       = newError("DEAL_EXPIRED", "the offer has expired")
	ErrNotYourTurn       = newError("NOT_YOUR_TURN", "waiting on the other party to respond")
	ErrConflict          = newError("CONFLICT", "the record changed since it was read")

	// Eligibility errors
	ErrTierCapExceeded     = newError("TIER_CAP_EXCEEDED", "bill amount is outside your tier's limits")
	ErrMaxActiveSwaps      = newError("MAX_ACTIVE_SWAPS", "maximum concurrent swaps reached for your tier")
	ErrBillUnavailable     = newError("BILL_UNAVAILABLE", "bill is not available for swapping")
	ErrCannotSwapOwnBill   = newError("CANNOT_SWAP_OWN_BILL", "cannot swap with your own bill")
	ErrInsufficientPoints  = newError("INSUFFICIENT_POINTS", "not enough points")
	ErrOneSidedIneligible  = newError("ONE_SIDED_NOT_ELIGIBLE", "your tier cannot request one-sided assists")
	ErrPolicyRejected      = newError("POLICY_REJECTED", "swap rejected by policy")
	ErrRateLimited         = newError("RATE_LIMITED", "too many swap proposals, try again later")
	ErrFeeAlreadySettled   = newError("FEE_ALREADY_SETTLED", "fee already settled")

	// Proof errors
	ErrMaxResubmissionsReached = newError("MAX_RESUBMISSIONS_REACHED", "proof has already been resubmitted")
	ErrNotAuthorizedToReview   = newError("NOT_AUTHORIZED_TO_REVIEW", "not authorized to review this proof")
	ErrProofNotFound           = newError("PROOF_NOT_FOUND", "proof not found")
	ErrProofNotRejected        = newError("PROOF_NOT_REJECTED", "only rejected proofs can be resubmitted")
	ErrProofAlreadyReviewed    = newError("PROOF_ALREADY_REVIEWED", "proof has already been reviewed")
	ErrProofNotRequired        = newError("PROOF_NOT_REQUIRED", "this party does not owe proof for the swap")

	// Dispute errors
	ErrDisputeWindowExpired = newError("DISPUTE_WINDOW_EXPIRED", "dispute filing window has expired")
	ErrAlreadyDisputed      = newError("ALREADY_DISPUTED", "swap already has an active dispute")
	ErrCannotDisputeOwnSwap = newError("CANNOT_DISPUTE_OWN_SWAP", "cannot file a dispute against yourself")
	ErrDisputeNotFound      = newError("DISPUTE_NOT_FOUND", "dispute not found")
	ErrDisputeClosed        = newError("DISPUTE_CLOSED", "dispute is already closed")

	// Extension errors
	ErrExtensionNotFound = newError("EXTENSION_NOT_FOUND", "extension request not found")
	ErrExtensionPending  = newError("EXTENSION_PENDING", "an extension request is already pending")
	ErrExtensionInvalid  = newError("EXTENSION_INVALID", "requested deadline is not a valid extension")

	// Auth and lookup errors
	ErrNotAuthenticated = newError("NOT_AUTHENTICATED", "not authenticated")
	ErrForbidden        = newError("FORBIDDEN", "not allowed")
	ErrNotSwapParty     = newError("NOT_SWAP_PARTY", "user is not a party to this swap")
	ErrSwapNotFound     = newError("SWAP_NOT_FOUND", "swap not found")
	ErrBillNotFound     = newError("BILL_NOT_FOUND", "bill not found")
	ErrInvalidInput     = newError("INVALID_INPUT", "invalid input")
)

// TransitionError reports a rejected state change with the attempted pair.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Is matches ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Code returns the stable error code for err, or "" for unclassified errors.
func Code(err error) string {
	var te *TransitionError
	if errors.As(err, &te) {
		return ErrInvalidTransition.Code
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Invalid wraps ErrInvalidInput with a field-level message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
