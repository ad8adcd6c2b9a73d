package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/tardis-create/revenueforge-sub000/internal/audit"
	"github.com/tardis-create/revenueforge-sub000/internal/auth"
	"github.com/tardis-create/revenueforge-sub000/internal/catalog"
)

var hardeningHeaders = []string{
	"Strict-Transport-Security",
	"X-Content-Type-Options",
	"X-Frame-Options",
	"Content-Security-Policy",
	"Referrer-Policy",
	"Permissions-Policy",
	"Cross-Origin-Opener-Policy",
	"Cross-Origin-Resource-Policy",
}

func TestChainOrder(t *testing.T) {
	var trace []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				trace = append(trace, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trace = append(trace, "handler")
	}), mark("outer"), mark("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []string{"outer", "inner", "handler"}
	if len(trace) != len(want) {
		t.Fatalf("unexpected trace: %v", trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("unexpected trace: %v", trace)
		}
	}
}

func TestRecoverConvertsPanics(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), Recover, SecurityHeaders)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/products", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json; charset=utf-8" {
		t.Fatalf("expected JSON error body, got %q", rec.Header().Get("Content-Type"))
	}
}

func TestRecoverPassesDeliberateStatuses(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusForbidden, "forbidden", "insufficient role for this action")
	}), Recover)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

// Every pipeline outcome carries the same hardening header set with the
// same values, so a response's security posture leaks nothing about
// which stage produced it.
func TestSecurityHeadersIdenticalAcrossOutcomes(t *testing.T) {
	api := newTestAPI(t)

	responses := map[string]*http.Response{
		"success":            api.get("/v1/products", nil, nil),
		"forbidden":          api.do(http.MethodDelete, "/v1/products/p1", nil, bearer(api.tokenFor(auth.RoleDealer))),
		"not found":          api.get("/v1/nope", nil, nil),
		"method not allowed": api.do(http.MethodPut, "/v1/products", nil, nil),
	}

	var reference http.Header
	for outcome, resp := range responses {
		resp.Body.Close()
		for _, name := range hardeningHeaders {
			if resp.Header.Get(name) == "" {
				t.Fatalf("%s response missing %s", outcome, name)
			}
		}
		if reference == nil {
			reference = resp.Header
			continue
		}
		for _, name := range hardeningHeaders {
			if got, want := resp.Header.Get(name), reference.Get(name); got != want {
				t.Fatalf("%s response %s = %q, want %q", outcome, name, got, want)
			}
		}
	}
}

func TestAnonymousReadAllowed(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/products", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	for _, name := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"} {
		if resp.Header.Get(name) == "" {
			t.Fatalf("missing %s header", name)
		}
	}
	if resp.Header.Get("X-RateLimit-Limit") != "300" {
		t.Fatalf("expected catalog tier limit, got %s", resp.Header.Get("X-RateLimit-Limit"))
	}
}

func TestAnonymousWriteUnauthorized(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodPost, "/v1/products", map[string]any{
		"sku": "X-1", "name": "Thing", "price_cents": 100,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestInvalidTokenTreatedAsAnonymous(t *testing.T) {
	api := newTestAPI(t)
	garbage := bearer("not.a.token")

	resp := api.get("/v1/products", nil, garbage)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read with bad token: expected 200, got %d", resp.StatusCode)
	}

	resp = api.do(http.MethodPost, "/v1/products", map[string]any{
		"sku": "X-1", "name": "Thing", "price_cents": 100,
	}, garbage)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("write with bad token: expected 401, got %d", resp.StatusCode)
	}
}

// A dealer attempting an admin-only action gets 403, and the denial
// lands in the audit trail with the dealer as actor.
func TestDeniedActionIsAudited(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodDelete, "/v1/products/prod-1", nil, bearer(api.tokenFor(auth.RoleDealer)))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	api.recorder.Flush()
	entries, total, err := api.auditStore.Query(context.Background(), audit.Filter{}.Normalize())
	if err != nil {
		t.Fatalf("query audit store: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 audit entry, got %d", total)
	}
	entry := entries[0]
	if entry.Action != audit.ActionDelete || entry.ActorID != "user-dealer" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Details["status"] != strconv.Itoa(http.StatusForbidden) {
		t.Fatalf("expected denial status in details, got %v", entry.Details)
	}
	if entry.ResourceID != "prod-1" {
		t.Fatalf("expected resource id from path, got %q", entry.ResourceID)
	}
}

// The auth tier allows five requests per window; the sixth gets a 429
// with retry guidance and never reaches the audit stage.
func TestAuthTierExhaustion(t *testing.T) {
	api := newTestAPI(t)
	creds := map[string]any{"email": "dealer@revenueforge.io", "password": "wrong"}

	for i := 0; i < 5; i++ {
		resp := api.do(http.MethodPost, "/v1/auth/token", creds, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("request %d: expected 401, got %d", i+1, resp.StatusCode)
		}
	}

	resp := api.do(http.MethodPost, "/v1/auth/token", creds, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	body := decode[map[string]any](t, resp)
	if body["error"] != "rate_limit_exceeded" {
		t.Fatalf("unexpected body: %v", body)
	}
	if _, ok := body["retry_after"].(float64); !ok {
		t.Fatalf("expected retry_after field, got %v", body)
	}

	api.recorder.Flush()
	_, total, err := api.auditStore.Query(context.Background(), audit.Filter{Action: audit.ActionLogin}.Normalize())
	if err != nil {
		t.Fatalf("query audit store: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected 5 audited attempts, got %d", total)
	}
}

func TestAdminDeleteAudited(t *testing.T) {
	api := newTestAPI(t)

	product := catalog.Product{SKU: "CRANE-7", Name: "Gantry Crane", PriceCents: 5400000}
	if err := api.products.Create(context.Background(), &product); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	resp := api.do(http.MethodDelete, "/v1/products/"+product.ID, nil, bearer(api.tokenFor(auth.RoleAdmin)))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	api.recorder.Flush()
	entries, total, err := api.auditStore.Query(context.Background(), audit.Filter{Action: audit.ActionDelete}.Normalize())
	if err != nil {
		t.Fatalf("query audit store: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected exactly one delete entry, got %d", total)
	}
	entry := entries[0]
	if entry.ActorID != "user-admin" || entry.ResourceID != product.ID {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Details["status"] != strconv.Itoa(http.StatusNoContent) {
		t.Fatalf("expected 204 in details, got %v", entry.Details)
	}
}

type brokenAuditStore struct{}

func (brokenAuditStore) Append(context.Context, *audit.Entry) error {
	return errors.New("audit store offline")
}

func (brokenAuditStore) Query(context.Context, audit.Filter) ([]audit.Entry, int, error) {
	return nil, 0, errors.New("audit store offline")
}

func TestAuditFailureDoesNotChangeResponse(t *testing.T) {
	recorder := audit.NewRecorder(brokenAuditStore{}, nil)
	api := newTestAPI(t, func(cfg *Config) {
		cfg.Recorder = recorder
	})

	resp := api.do(http.MethodPost, "/v1/products", map[string]any{
		"sku": "MOTOR-3", "name": "Servo Motor", "price_cents": 89900,
	}, bearer(api.tokenFor(auth.RoleDealer)))
	defer resp.Body.Close()
	recorder.Flush()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 despite audit failure, got %d", resp.StatusCode)
	}
}

func TestRateLimitRemainingDecrements(t *testing.T) {
	api := newTestAPI(t)

	first := api.get("/v1/products", nil, nil)
	first.Body.Close()
	second := api.get("/v1/products", nil, nil)
	second.Body.Close()

	r1, err := strconv.Atoi(first.Header.Get("X-RateLimit-Remaining"))
	if err != nil {
		t.Fatalf("bad remaining header: %v", err)
	}
	r2, err := strconv.Atoi(second.Header.Get("X-RateLimit-Remaining"))
	if err != nil {
		t.Fatalf("bad remaining header: %v", err)
	}
	if r2 != r1-1 {
		t.Fatalf("remaining did not decrement: %d then %d", r1, r2)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc.def.ghi", "abc.def.ghi", true},
		{"Bearer   padded  ", "padded", true},
		{"Basic dXNlcjpwdw==", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("header %q: got %q, %v", tc.header, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("header %q: expected error", tc.header)
		}
	}
}

func TestClientIPPrecedence(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:54321"
	if got := clientIP(r); got != "10.0.0.1" {
		t.Fatalf("remote addr: got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2")
	if got := clientIP(r); got != "203.0.113.9" {
		t.Fatalf("forwarded: got %q", got)
	}

	r.Header.Set("Cf-Connecting-Ip", "198.51.100.4")
	if got := clientIP(r); got != "198.51.100.4" {
		t.Fatalf("cf header: got %q", got)
	}
}
