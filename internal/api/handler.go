package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/billix-app/swaprules/internal/domain"
	"github.com/billix-app/swaprules/internal/engine"
	"github.com/billix-app/swaprules/internal/lifecycle"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *engine.Service
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler. repo, cache and bus are only pinged
// by the health check and may be nil.
func NewHandler(svc *engine.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		svc:     svc,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		version: version,
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var statusByCode = map[string]int{
	domain.ErrInvalidInput.Code:     http.StatusBadRequest,
	domain.ErrNotAuthenticated.Code: http.StatusUnauthorized,

	domain.ErrForbidden.Code:             http.StatusForbidden,
	domain.ErrNotSwapParty.Code:          http.StatusForbidden,
	domain.ErrNotAuthorizedToReview.Code: http.StatusForbidden,

	domain.ErrSwapNotFound.Code:      http.StatusNotFound,
	domain.ErrBillNotFound.Code:      http.StatusNotFound,
	domain.ErrProofNotFound.Code:     http.StatusNotFound,
	domain.ErrDisputeNotFound.Code:   http.StatusNotFound,
	domain.ErrExtensionNotFound.Code: http.StatusNotFound,

	domain.ErrInvalidTransition.Code:    http.StatusConflict,
	domain.ErrNotYourTurn.Code:          http.StatusConflict,
	domain.ErrConflict.Code:             http.StatusConflict,
	domain.ErrBillUnavailable.Code:      http.StatusConflict,
	domain.ErrFeeAlreadySettled.Code:    http.StatusConflict,
	domain.ErrProofAlreadyReviewed.Code: http.StatusConflict,
	domain.ErrProofNotRejected.Code:     http.StatusConflict,
	domain.ErrAlreadyDisputed.Code:      http.StatusConflict,
	domain.ErrDisputeClosed.Code:        http.StatusConflict,
	domain.ErrExtensionPending.Code:     http.StatusConflict,

	domain.ErrDealExpired.Code:          http.StatusGone,
	domain.ErrDisputeWindowExpired.Code: http.StatusGone,

	domain.ErrTierCapExceeded.Code:         http.StatusUnprocessableEntity,
	domain.ErrMaxActiveSwaps.Code:          http.StatusUnprocessableEntity,
	domain.ErrCannotSwapOwnBill.Code:       http.StatusUnprocessableEntity,
	domain.ErrInsufficientPoints.Code:      http.StatusUnprocessableEntity,
	domain.ErrOneSidedIneligible.Code:      http.StatusUnprocessableEntity,
	domain.ErrPolicyRejected.Code:          http.StatusUnprocessableEntity,
	domain.ErrMaxResubmissionsReached.Code: http.StatusUnprocessableEntity,
	domain.ErrProofNotRequired.Code:        http.StatusUnprocessableEntity,
	domain.ErrCannotDisputeOwnSwap.Code:    http.StatusUnprocessableEntity,
	domain.ErrExtensionInvalid.Code:        http.StatusUnprocessableEntity,

	domain.ErrRateLimited.Code: http.StatusTooManyRequests,
}

// writeError renders err as {"error","code"}. Unclassified errors are logged
// and hidden behind a 500.
func writeError(w http.ResponseWriter, err error) {
	code := domain.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", Code: "INTERNAL"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, domain.Invalid("invalid JSON request body"))
		return false
	}
	return true
}

func respond(w http.ResponseWriter, status int, v any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, v)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	ctx := r.Context()

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			slog.Warn("repository ping failed", "error", err)
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			slog.Warn("cache ping failed", "error", err)
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			slog.Warn("event bus ping failed", "error", err)
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	rulesLoaded := 0
	if eng := h.svc.Rules(); eng != nil {
		rulesLoaded = eng.RulesCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":       true,
		"rulesLoaded": rulesLoaded,
	})
}

// Lifecycle returns the swap state machine.
func (h *Handler) Lifecycle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, lifecycle.Describe())
}

// ─── Bills ──────────────────────────────────────────────────────────────────

func (h *Handler) CreateBill(w http.ResponseWriter, r *http.Request) {
	var in engine.BillInput
	if !decode(w, r, &in) {
		return
	}
	b, err := h.svc.CreateBill(r.Context(), GetActor(r.Context()), in)
	respond(w, http.StatusCreated, b, err)
}

func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetBill(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	respond(w, http.StatusOK, b, err)
}

func (h *Handler) RemoveBill(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.RemoveBill(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	respond(w, http.StatusOK, b, err)
}

// Matches ranks candidate bills. ?limit= caps the result.
func (h *Handler) Matches(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, domain.Invalid("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	res, err := h.svc.Matches(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), limit)
	respond(w, http.StatusOK, map[string]any{"matches": res, "count": len(res)}, err)
}

func (h *Handler) QuoteFees(w http.ResponseWriter, r *http.Request) {
	var in engine.FeeQuote
	if !decode(w, r, &in) {
		return
	}
	f, err := h.svc.QuoteFees(in)
	respond(w, http.StatusOK, f, err)
}

// ─── Swaps ──────────────────────────────────────────────────────────────────

func (h *Handler) ProposeSwap(w http.ResponseWriter, r *http.Request) {
	var in engine.Proposal
	if !decode(w, r, &in) {
		return
	}
	sw, err := h.svc.ProposeSwap(r.Context(), GetActor(r.Context()), in)
	respond(w, http.StatusCreated, sw, err)
}

func (h *Handler) GetSwap(w http.ResponseWriter, r *http.Request) {
	sw, err := h.svc.GetSwap(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	respond(w, http.StatusOK, sw, err)
}

func (h *Handler) RespondToSwap(w http.ResponseWriter, r *http.Request) {
	var in engine.Response
	if !decode(w, r, &in) {
		return
	}
	sw, err := h.svc.RespondToSwap(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), in)
	respond(w, http.StatusOK, sw, err)
}

func (h *Handler) CancelSwap(w http.ResponseWriter, r *http.Request) {
	sw, err := h.svc.CancelSwap(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	respond(w, http.StatusOK, sw, err)
}

// PayFeeRequest is the request body for POST /swaps/{id}/fees.
type PayFeeRequest struct {
	Method domain.FeePaymentMethod `json:"method"`
}

func (h *Handler) PayFee(w http.ResponseWriter, r *http.Request) {
	var in PayFeeRequest
	if !decode(w, r, &in) {
		return
	}
	sw, err := h.svc.PayFee(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), in.Method)
	respond(w, http.StatusOK, sw, err)
}

func (h *Handler) ListDeals(w http.ResponseWriter, r *http.Request) {
	deals, err := h.svc.ListDeals(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	respond(w, http.StatusOK, map[string]any{"deals": deals, "count": len(deals)}, err)
}

// ─── Proofs ─────────────────────────────────────────────────────────────────

func (h *Handler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	var in engine.ProofInput
	if !decode(w, r, &in) {
		return
	}
	p, err := h.svc.SubmitProof(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), in)
	respond(w, http.StatusCreated, p, err)
}

func (h *Handler) ListProofs(w http.ResponseWriter, r *http.Request) {
	proofs, err := h.svc.ListProofs(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	respond(w, http.StatusOK, map[string]any{"proofs": proofs, "count": len(proofs)}, err)
}

func (h *Handler) ReviewProof(w http.ResponseWriter, r *http.Request) {
	var in engine.ProofReview
	if !decode(w, r, &in) {
		return
	}
	p, err := h.svc.ReviewProof(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), in)
	respond(w, http.StatusOK, p, err)
}

func (h *Handler) ResubmitProof(w http.ResponseWriter, r *http.Request) {
	var in engine.ProofInput
	if !decode(w, r, &in) {
		return
	}
	p, err := h.svc.ResubmitProof(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), in)
	respond(w, http.StatusCreated, p, err)
}

// ─── Disputes and extensions ────────────────────────────────────────────────

func (h *Handler) FileDispute(w http.ResponseWriter, r *http.Request) {
	var in engine.DisputeInput
	if !decode(w, r, &in) {
		return
	}
	d, err := h.svc.FileDispute(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), in)
	respond(w, http.StatusCreated, d, err)
}

func (h *Handler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	ds, err := h.svc.ListDisputes(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	respond(w, http.StatusOK, map[string]any{"disputes": ds, "count": len(ds)}, err)
}

func (h *Handler) InvestigateDispute(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.InvestigateDispute(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	respond(w, http.StatusOK, d, err)
}

func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var in engine.Resolution
	if !decode(w, r, &in) {
		return
	}
	d, err := h.svc.ResolveDispute(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), in)
	respond(w, http.StatusOK, d, err)
}

func (h *Handler) RequestExtension(w http.ResponseWriter, r *http.Request) {
	var in engine.ExtensionInput
	if !decode(w, r, &in) {
		return
	}
	ext, err := h.svc.RequestExtension(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), in)
	respond(w, http.StatusCreated, ext, err)
}

func (h *Handler) ListExtensions(w http.ResponseWriter, r *http.Request) {
	exts, err := h.svc.ListExtensions(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	respond(w, http.StatusOK, map[string]any{"extensions": exts, "count": len(exts)}, err)
}

// DecideExtensionRequest is the request body for POST /extensions/{id}/decide.
type DecideExtensionRequest struct {
	Approve *bool `json:"approve"`
}

func (h *Handler) DecideExtension(w http.ResponseWriter, r *http.Request) {
	var in DecideExtensionRequest
	if !decode(w, r, &in) {
		return
	}
	if in.Approve == nil {
		writeError(w, domain.Invalid("approve is required"))
		return
	}
	ext, err := h.svc.DecideExtension(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), *in.Approve)
	respond(w, http.StatusOK, ext, err)
}

// ─── Users ──────────────────────────────────────────────────────────────────

func (h *Handler) Trust(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Trust(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	respond(w, http.StatusOK, view, err)
}

func (h *Handler) Points(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Points(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"))
	respond(w, http.StatusOK, view, err)
}

func (h *Handler) GrantPoints(w http.ResponseWriter, r *http.Request) {
	var in engine.Grant
	if !decode(w, r, &in) {
		return
	}
	e, err := h.svc.GrantPoints(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), in)
	respond(w, http.StatusCreated, e, err)
}

// VerifyRequest is the request body for POST /users/{id}/verify.
type VerifyRequest struct {
	Verified bool `json:"verified"`
}

func (h *Handler) SetIDVerified(w http.ResponseWriter, r *http.Request) {
	in := VerifyRequest{Verified: true}
	if !decode(w, r, &in) {
		return
	}
	p, err := h.svc.SetIDVerified(r.Context(), GetActor(r.Context()), chi.URLParam(r, "id"), in.Verified)
	respond(w, http.StatusOK, p, err)
}

// ─── Rules ──────────────────────────────────────────────────────────────────

// ListRules returns the stored rules and how many are loaded.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	stored, err := h.svc.ListRules(r.Context(), GetActor(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	loaded := 0
	if eng := h.svc.Rules(); eng != nil {
		loaded = eng.RulesCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  stored,
		"count":  len(stored),
		"loaded": loaded,
	})
}

// SaveRule validates, stores and hot-loads a rule.
func (h *Handler) SaveRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.RuleConfig
	if !decode(w, r, &rule) {
		return
	}
	if err := h.svc.SaveRule(r.Context(), GetActor(r.Context()), &rule); err != nil {
		writeError(w, err)
		return
	}
	slog.Info("rule saved", "id", rule.ID, "version", rule.Version)
	writeJSON(w, http.StatusCreated, map[string]any{"rule": rule})
}

// ReloadRules reloads all stored rules into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ReloadRules(r.Context(), GetActor(r.Context()))
	respond(w, http.StatusOK, map[string]any{"message": "rules reloaded", "count": n}, err)
}
