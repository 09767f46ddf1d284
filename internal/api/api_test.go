package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/billix-app/swaprules/internal/bus"
	"github.com/billix-app/swaprules/internal/cache"
	"github.com/billix-app/swaprules/internal/domain"
	"github.com/billix-app/swaprules/internal/engine"
	"github.com/billix-app/swaprules/internal/repository"
	"github.com/billix-app/swaprules/internal/rules"
)

var testNow = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

// createTestServer wires a server over a temp SQLite database.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "swaprules-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	clock := &domain.FixedClock{T: testNow}
	c := cache.NewLRUCache(100).WithClock(clock)
	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	eng, err := rules.NewEngine(2)
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	svc, err := engine.New(engine.Deps{
		Repo:   repo,
		Cache:  c,
		Bus:    b,
		Rules:  eng,
		Policy: domain.DefaultPolicy(),
		Clock:  clock,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	return NewServer(cfg, svc, repo, c, b, "test-v1")
}

type caller struct {
	userID string
	admin  bool
}

var (
	anon  = caller{}
	alice = caller{userID: "alice"}
	bob   = caller{userID: "bob"}
	carol = caller{userID: "carol"}
	ops   = caller{userID: "ops", admin: true}
)

func do(t *testing.T, srv *Server, who caller, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		if err := json.NewEncoder(&buf).Encode(v); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who.userID != "" {
		req.Header.Set(UserIDHeader, who.userID)
	}
	if who.admin {
		req.Header.Set(RoleHeader, "admin")
	}

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rr, status)
	body := decodeBody[errorBody](t, rr)
	if body.Code != code {
		t.Errorf("expected code %s, got %s (%s)", code, body.Code, body.Error)
	}
}

func createBill(t *testing.T, srv *Server, who caller, cents int64) *domain.Bill {
	t.Helper()
	rr := do(t, srv, who, http.MethodPost, "/bills", engine.BillInput{
		AmountCents: cents,
		DueDate:     testNow.AddDate(0, 0, 5),
		Provider:    "Metro Water",
		Category:    domain.CategoryWater,
	})
	expectStatus(t, rr, http.StatusCreated)
	return decodeBody[*domain.Bill](t, rr)
}

func TestOpenEndpoints(t *testing.T) {
	srv := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		rr := do(t, srv, anon, http.MethodGet, "/health", nil)
		expectStatus(t, rr, http.StatusOK)
		body := decodeBody[map[string]string](t, rr)
		if body["status"] != "healthy" || body["version"] != "test-v1" {
			t.Errorf("unexpected health %v", body)
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := do(t, srv, anon, http.MethodGet, "/ready", nil)
		expectStatus(t, rr, http.StatusOK)
	})

	t.Run("Lifecycle", func(t *testing.T) {
		rr := do(t, srv, anon, http.MethodGet, "/lifecycle", nil)
		expectStatus(t, rr, http.StatusOK)
		if !strings.Contains(rr.Body.String(), "ACCEPTED_PENDING_FEE") {
			t.Errorf("expected lifecycle table, got %s", rr.Body.String())
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		do(t, srv, anon, http.MethodGet, "/health", nil)
		rr := do(t, srv, anon, http.MethodGet, "/metrics", nil)
		expectStatus(t, rr, http.StatusOK)
		if !strings.Contains(rr.Body.String(), "billix_http_requests_total") {
			t.Error("expected http request counter in metrics output")
		}
	})

	t.Run("TraceHeaders", func(t *testing.T) {
		rr := do(t, srv, anon, http.MethodGet, "/health", nil)
		if rr.Header().Get(RequestIDHeader) == "" || rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected request and trace id headers")
		}
	})
}

func TestAuthMiddleware(t *testing.T) {
	srv := createTestServer(t)

	rr := do(t, srv, anon, http.MethodPost, "/bills", engine.BillInput{AmountCents: 100})
	expectError(t, rr, http.StatusUnauthorized, "NOT_AUTHENTICATED")

	rr = do(t, srv, alice, http.MethodPost, "/users/bob/points", engine.Grant{Delta: 10})
	expectError(t, rr, http.StatusForbidden, "FORBIDDEN")

	rr = do(t, srv, ops, http.MethodPost, "/users/bob/points", engine.Grant{Delta: 10})
	expectStatus(t, rr, http.StatusCreated)
}

func TestSwapFlow(t *testing.T) {
	srv := createTestServer(t)

	a := createBill(t, srv, alice, 5000)
	b := createBill(t, srv, bob, 4000)

	rr := do(t, srv, alice, http.MethodPost, "/swaps", engine.Proposal{BillAID: a.ID, BillBID: b.ID})
	expectStatus(t, rr, http.StatusCreated)
	sw := decodeBody[*domain.Swap](t, rr)
	if sw.Status != domain.SwapOffered || sw.CounterpartyID != "bob" {
		t.Fatalf("unexpected swap %+v", sw)
	}
	path := "/swaps/" + sw.ID

	rr = do(t, srv, alice, http.MethodPost, path+"/respond", engine.Response{Action: domain.RespondAccept})
	expectError(t, rr, http.StatusConflict, "NOT_YOUR_TURN")

	rr = do(t, srv, carol, http.MethodGet, path, nil)
	expectError(t, rr, http.StatusForbidden, "NOT_SWAP_PARTY")

	rr = do(t, srv, bob, http.MethodPost, path+"/respond", engine.Response{Action: domain.RespondAccept})
	expectStatus(t, rr, http.StatusOK)
	if got := decodeBody[*domain.Swap](t, rr); got.Status != domain.SwapAcceptedPendingFee {
		t.Fatalf("expected ACCEPTED_PENDING_FEE, got %s", got.Status)
	}

	rr = do(t, srv, alice, http.MethodPost, path+"/fees", PayFeeRequest{Method: domain.FeeMethodCard})
	expectStatus(t, rr, http.StatusOK)
	rr = do(t, srv, alice, http.MethodPost, path+"/fees", PayFeeRequest{Method: domain.FeeMethodCard})
	expectError(t, rr, http.StatusConflict, "FEE_ALREADY_SETTLED")
	rr = do(t, srv, bob, http.MethodPost, path+"/fees", PayFeeRequest{Method: domain.FeeMethodCard})
	expectStatus(t, rr, http.StatusOK)
	if got := decodeBody[*domain.Swap](t, rr); got.Status != domain.SwapLocked {
		t.Fatalf("expected LOCKED, got %s", got.Status)
	}

	var proofs []*domain.Proof
	for _, who := range []caller{alice, bob} {
		rr = do(t, srv, who, http.MethodPost, path+"/proofs", engine.ProofInput{
			Type:    domain.ProofScreenshot,
			FileRef: "proofs/" + who.userID + ".png",
		})
		expectStatus(t, rr, http.StatusCreated)
		proofs = append(proofs, decodeBody[*domain.Proof](t, rr))
	}

	rr = do(t, srv, alice, http.MethodPost, "/proofs/"+proofs[0].ID+"/review", engine.ProofReview{Accepted: true})
	expectError(t, rr, http.StatusForbidden, "NOT_AUTHORIZED_TO_REVIEW")

	rr = do(t, srv, bob, http.MethodPost, "/proofs/"+proofs[0].ID+"/review", engine.ProofReview{Accepted: true})
	expectStatus(t, rr, http.StatusOK)
	rr = do(t, srv, alice, http.MethodPost, "/proofs/"+proofs[1].ID+"/review", engine.ProofReview{Accepted: true})
	expectStatus(t, rr, http.StatusOK)

	rr = do(t, srv, alice, http.MethodGet, path, nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decodeBody[*domain.Swap](t, rr); got.Status != domain.SwapCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}

	rr = do(t, srv, bob, http.MethodGet, path+"/deals", nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decodeBody[map[string]any](t, rr); got["count"] != float64(1) {
		t.Errorf("expected one deal, got %v", got["count"])
	}

	rr = do(t, srv, alice, http.MethodGet, "/users/alice/points", nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decodeBody[engine.PointsView](t, rr); got.Balance != 25 {
		t.Errorf("expected completion points, got %d", got.Balance)
	}

	rr = do(t, srv, bob, http.MethodGet, "/users/alice/trust", nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decodeBody[engine.TrustView](t, rr); got.Profile != nil || got.Snapshot.CompletedSwaps != 1 {
		t.Errorf("unexpected trust view %+v", got)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := createTestServer(t)
	a := createBill(t, srv, alice, 5000)

	tests := []struct {
		name   string
		who    caller
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"MissingSwap", alice, http.MethodGet, "/swaps/nope", nil, http.StatusNotFound, "SWAP_NOT_FOUND"},
		{"MissingProof", alice, http.MethodPost, "/proofs/nope/review", engine.ProofReview{Accepted: true}, http.StatusNotFound, "PROOF_NOT_FOUND"},
		{"BadJSON", alice, http.MethodPost, "/bills", "{", http.StatusBadRequest, "INVALID_INPUT"},
		{"BadLimit", alice, http.MethodGet, "/bills/" + a.ID + "/matches?limit=x", nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"OwnBill", alice, http.MethodPost, "/swaps", engine.Proposal{BillAID: a.ID, BillBID: a.ID}, http.StatusUnprocessableEntity, "CANNOT_SWAP_OWN_BILL"},
		{"EmptyQuote", alice, http.MethodPost, "/fees/quote", engine.FeeQuote{BillACents: 0}, http.StatusBadRequest, "INVALID_INPUT"},
		{"DecideWithoutApprove", bob, http.MethodPost, "/extensions/x/decide", map[string]any{}, http.StatusBadRequest, "INVALID_INPUT"},
		{"PointsPrivate", bob, http.MethodGet, "/users/alice/points", nil, http.StatusForbidden, "FORBIDDEN"},
		{"RulesAdminOnly", alice, http.MethodGet, "/rules", nil, http.StatusForbidden, "FORBIDDEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, tt.who, tt.method, tt.path, tt.body)
			expectError(t, rr, tt.status, tt.code)
		})
	}

	t.Run("Unclassified", func(t *testing.T) {
		rr := httptest.NewRecorder()
		writeError(rr, errors.New("connection reset"))
		expectError(t, rr, http.StatusInternalServerError, "INTERNAL")
		if strings.Contains(rr.Body.String(), "connection reset") {
			t.Error("internal errors must not leak")
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	srv := createTestServer(t)

	rule := domain.RuleConfig{
		ID:         "big-bill",
		Name:       "Big bill",
		Version:    "1",
		Expression: `amount_cents > 4000`,
		Bands: []domain.RuleBand{
			{UpperLimit: ptr(1.0), SubRuleRef: domain.RuleOutcomePass},
			{LowerLimit: ptr(1.0), SubRuleRef: domain.RuleOutcomeReview, Reason: "big bill"},
		},
		Weight:  1,
		Enabled: true,
	}

	rr := do(t, srv, ops, http.MethodPost, "/rules", rule)
	expectStatus(t, rr, http.StatusCreated)

	broken := rule
	broken.Expression = "amount_cents >"
	rr = do(t, srv, ops, http.MethodPost, "/rules", broken)
	expectError(t, rr, http.StatusBadRequest, "INVALID_INPUT")

	rr = do(t, srv, ops, http.MethodGet, "/rules", nil)
	expectStatus(t, rr, http.StatusOK)
	body := decodeBody[map[string]any](t, rr)
	if body["count"] != float64(1) || body["loaded"] != float64(1) {
		t.Errorf("unexpected rules listing %v", body)
	}

	rr = do(t, srv, ops, http.MethodPost, "/rules/reload", nil)
	expectStatus(t, rr, http.StatusOK)

	a := createBill(t, srv, alice, 5000)
	b := createBill(t, srv, bob, 4000)
	rr = do(t, srv, alice, http.MethodPost, "/swaps", engine.Proposal{BillAID: a.ID, BillBID: b.ID})
	expectStatus(t, rr, http.StatusCreated)
	if sw := decodeBody[*domain.Swap](t, rr); len(sw.PolicyNotes) != 1 {
		t.Errorf("expected policy note, got %v", sw.PolicyNotes)
	}
}

func ptr(v float64) *float64 { return &v }
