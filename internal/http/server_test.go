package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"welth/internal/auth"
	"welth/internal/core"
	"welth/internal/log"
	"welth/internal/middleware/ratelimit"
	"welth/internal/receipt"
	"welth/internal/services"
	"welth/internal/storage"
)

const (
	testSubject   = "user_test"
	testJWTSecret = "jwt-test-secret"
)

var testWebhookSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("webhook-test-key"))

type mockScanner struct {
	scan func(ctx context.Context, image []byte, mimeType string) (receipt.Result, error)
}

func (m *mockScanner) Scan(ctx context.Context, image []byte, mimeType string) (receipt.Result, error) {
	return m.scan(ctx, image, mimeType)
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(ctx context.Context) error { return m.err }

type testEnv struct {
	srv      *Server
	repo     *storage.Repository
	verifier *auth.WebhookVerifier
	token    string
}

type envOption func(*Options)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "welth.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	verifier, err := auth.NewWebhookVerifier(testWebhookSecret)
	if err != nil {
		t.Fatalf("NewWebhookVerifier() error = %v", err)
	}
	authn := auth.NewAuthenticator(testJWTSecret)
	token, err := authn.Issue(testSubject, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	scanner := &mockScanner{scan: func(ctx context.Context, image []byte, mimeType string) (receipt.Result, error) {
		return receipt.Result{
			Amount:      core.Cents(1250),
			Description: "Lunch",
			Category:    "food",
			Date:        "2024-03-14",
			Merchant:    "Cafe",
		}, nil
	}}

	o := Options{
		Ledger:   services.NewLedgerService(repo, nil, scanner),
		Identity: services.NewIdentityService(repo),
		Webhooks: verifier,
		Auth:     authn,
		DB:       repo,
		Limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 1000}),
		Logger:   log.New(log.Config{Output: io.Discard}),
	}
	for _, opt := range opts {
		opt(&o)
	}

	srv := NewServer(":0", o)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, repo: repo, verifier: verifier, token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+e.token)
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, want, rec.Body.String())
	}
}

// createAccount registers the test user and opens an account.
func (e *testEnv) createAccount(t *testing.T, name string, balance string) core.Account {
	t.Helper()
	expectStatus(t, e.do(t, http.MethodGet, "/api/accounts", nil), http.StatusOK)
	rec := e.do(t, http.MethodPost, "/api/accounts",
		`{"name":"`+name+`","type":"CURRENT","balance":`+balance+`}`)
	expectStatus(t, rec, http.StatusCreated)
	return decode[core.Account](t, rec)
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		env.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		expectStatus(t, rec, http.StatusOK)
	}

	down := newTestEnv(t, func(o *Options) { o.DB = mockPinger{err: errors.New("db down")} })
	rec := httptest.NewRecorder()
	down.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	expectStatus(t, rec, http.StatusServiceUnavailable)
}

func TestAPIRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/accounts", nil))
	expectStatus(t, rec, http.StatusUnauthorized)
	if rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Error("missing WWW-Authenticate header")
	}
}

func TestResponsesCarrySecurityHeadersAndRequestID(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/accounts", nil)

	expectStatus(t, rec, http.StatusOK)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
	if !strings.HasPrefix(rec.Header().Get("X-Request-ID"), "req_") {
		t.Errorf("X-Request-ID = %q", rec.Header().Get("X-Request-ID"))
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("first account list = %s, want []", got)
	}
}

func TestAccountAndTransactionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	acc := env.createAccount(t, "Main", "100")
	if !acc.IsDefault || acc.Balance.Cents != 10000 {
		t.Fatalf("unexpected account %+v", acc)
	}

	rec := env.do(t, http.MethodPost, "/api/transactions", map[string]any{
		"type":        "EXPENSE",
		"amount":      "12.50",
		"description": "Lunch",
		"category":    "food",
		"date":        "2024-03-14",
		"accountId":   acc.ID,
	})
	expectStatus(t, rec, http.StatusCreated)
	tx := decode[core.Transaction](t, rec)

	rec = env.do(t, http.MethodGet, "/api/accounts/"+acc.ID, nil)
	expectStatus(t, rec, http.StatusOK)
	detail := decode[services.AccountDetail](t, rec)
	if detail.Account.Balance.Cents != 8750 || detail.Count != 1 {
		t.Fatalf("after create: balance %d, count %d", detail.Account.Balance.Cents, detail.Count)
	}

	rec = env.do(t, http.MethodPut, "/api/transactions/"+tx.ID, map[string]any{
		"type":      "EXPENSE",
		"amount":    20,
		"category":  "food",
		"date":      "2024-03-14T09:30:00Z",
		"accountId": acc.ID,
	})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[core.Transaction](t, rec); got.Amount.Cents != 2000 {
		t.Fatalf("updated amount = %d", got.Amount.Cents)
	}

	rec = env.do(t, http.MethodGet, "/api/transactions/"+tx.ID, nil)
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodGet, "/api/transactions?accountId="+acc.ID, nil)
	expectStatus(t, rec, http.StatusOK)
	if txs := decode[[]core.Transaction](t, rec); len(txs) != 1 {
		t.Fatalf("listed %d transactions", len(txs))
	}

	rec = env.do(t, http.MethodGet, "/api/accounts", nil)
	if accounts := decode[[]core.Account](t, rec); len(accounts) != 1 || accounts[0].Balance.Cents != 8000 {
		t.Fatalf("accounts after update = %+v", accounts)
	}

	rec = env.do(t, http.MethodPost, "/api/transactions/delete", map[string]any{"ids": []string{tx.ID}})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[map[string]int](t, rec); got["deletedCount"] != 1 || len(got) != 1 {
		t.Fatalf("bulk delete response = %v, want only deletedCount", got)
	}

	rec = env.do(t, http.MethodGet, "/api/accounts/"+acc.ID, nil)
	if detail := decode[services.AccountDetail](t, rec); detail.Account.Balance.Cents != 10000 {
		t.Fatalf("balance after delete = %d", detail.Account.Balance.Cents)
	}
}

func TestSetDefaultAccount(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "Main", "0")
	savings := env.createAccount(t, "Savings", "0")

	rec := env.do(t, http.MethodPut, "/api/accounts/"+savings.ID+"/default", nil)
	expectStatus(t, rec, http.StatusOK)
	if !decode[core.Account](t, rec).IsDefault {
		t.Fatal("account not marked default")
	}

	rec = env.do(t, http.MethodPut, "/api/accounts/missing/default", nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestTransactionRequestErrors(t *testing.T) {
	env := newTestEnv(t)
	acc := env.createAccount(t, "Main", "0")

	valid := func(mut func(m map[string]any)) map[string]any {
		m := map[string]any{
			"type":      "EXPENSE",
			"amount":    10,
			"category":  "food",
			"date":      "2024-03-14",
			"accountId": acc.ID,
		}
		mut(m)
		return m
	}

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantField  string
	}{
		{"malformed json", `{"type":`, http.StatusBadRequest, ""},
		{"empty body", "", http.StatusBadRequest, ""},
		{"unknown field", valid(func(m map[string]any) { m["color"] = "red" }), http.StatusBadRequest, ""},
		{"trailing data", `{"type":"EXPENSE"} {}`, http.StatusBadRequest, ""},
		{"missing category", valid(func(m map[string]any) { delete(m, "category") }), http.StatusBadRequest, "category"},
		{"bad type", valid(func(m map[string]any) { m["type"] = "TRANSFER" }), http.StatusBadRequest, "type"},
		{"bad interval", valid(func(m map[string]any) { m["recurringInterval"] = "HOURLY" }), http.StatusBadRequest, "recurringInterval"},
		{"bad date", valid(func(m map[string]any) { m["date"] = "14/03/2024" }), http.StatusBadRequest, "date"},
		{"bad amount", valid(func(m map[string]any) { m["amount"] = "ten" }), http.StatusBadRequest, ""},
		{"negative amount", valid(func(m map[string]any) { m["amount"] = -5 }), http.StatusUnprocessableEntity, ""},
		{"recurring without interval", valid(func(m map[string]any) { m["isRecurring"] = true }), http.StatusUnprocessableEntity, ""},
		{"unknown account", valid(func(m map[string]any) { m["accountId"] = "nope" }), http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/transactions", tt.body)
			expectStatus(t, rec, tt.wantStatus)

			body := decode[ErrorBody](t, rec)
			if body.Error == "" {
				t.Error("error message missing")
			}
			if tt.wantField == "" {
				return
			}
			found := false
			for _, d := range body.Details {
				if d.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("details %+v do not name %q", body.Details, tt.wantField)
			}
		})
	}
}

func TestNotFoundMapping(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "Main", "0")

	tests := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/api/transactions/missing", nil},
		{http.MethodGet, "/api/accounts/missing", nil},
		{http.MethodPost, "/api/transactions/delete", map[string]any{"ids": []string{}}},
		{http.MethodPost, "/api/transactions/delete", map[string]any{"ids": []string{"missing"}}},
	}
	for _, tt := range tests {
		rec := env.do(t, tt.method, tt.path, tt.body)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want 404", tt.method, tt.path, rec.Code)
		}
	}
}

func TestBudgetAndDashboard(t *testing.T) {
	env := newTestEnv(t)
	acc := env.createAccount(t, "Main", "1000")

	rec := env.do(t, http.MethodGet, "/api/budget", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[budgetResponse](t, rec); got.Budget != nil {
		t.Fatalf("expected no budget, got %+v", got.Budget)
	}

	rec = env.do(t, http.MethodPut, "/api/budget", map[string]any{"amount": 200})
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodPut, "/api/budget", map[string]any{"amount": -1})
	expectStatus(t, rec, http.StatusUnprocessableEntity)

	rec = env.do(t, http.MethodPost, "/api/transactions", map[string]any{
		"type":      "EXPENSE",
		"amount":    50,
		"category":  "groceries",
		"date":      time.Now().UTC().Format(time.DateOnly),
		"accountId": acc.ID,
	})
	expectStatus(t, rec, http.StatusCreated)

	rec = env.do(t, http.MethodGet, "/api/budget", nil)
	budget := decode[budgetResponse](t, rec)
	if budget.Budget == nil || budget.CurrentExpenses.Cents != 5000 || budget.PercentUsed != 25 {
		t.Fatalf("unexpected budget %+v", budget)
	}

	rec = env.do(t, http.MethodGet, "/api/dashboard", nil)
	expectStatus(t, rec, http.StatusOK)
	d := decode[services.Dashboard](t, rec)
	if len(d.Accounts) != 1 || len(d.Transactions) != 1 {
		t.Fatalf("dashboard has %d accounts, %d transactions", len(d.Accounts), len(d.Transactions))
	}
	if len(d.ExpensesByCategory) != 1 || d.ExpensesByCategory[0].Name != "groceries" {
		t.Fatalf("expenses by category = %+v", d.ExpensesByCategory)
	}
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = part.Write(data)
	} else {
		_ = mw.WriteField("note", "no file")
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestScanReceipt(t *testing.T) {
	var gotMime string
	env := newTestEnv(t, func(o *Options) {
		repo := o.DB.(*storage.Repository)
		o.Ledger = services.NewLedgerService(repo, nil, &mockScanner{
			scan: func(ctx context.Context, image []byte, mimeType string) (receipt.Result, error) {
				gotMime = mimeType
				if len(image) == 0 {
					return receipt.Result{}, core.Invalidf("scan receipt", "empty image")
				}
				return receipt.Result{Amount: core.Cents(1250), Category: "food", Merchant: "Cafe", Date: "2024-03-14"}, nil
			},
		})
	})

	send := func(body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/receipts/scan", body)
		req.Header.Set("Authorization", "Bearer "+env.token)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		env.srv.Handler.ServeHTTP(rec, req)
		return rec
	}

	body, ct := multipartBody(t, "file", "r.jpg", "image/jpeg", []byte("\xff\xd8\xff fake jpeg"))
	rec := send(body, ct)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[receipt.Result](t, rec); got.Amount.Cents != 1250 || got.Merchant != "Cafe" {
		t.Fatalf("unexpected result %+v", got)
	}
	if gotMime != "image/jpeg" {
		t.Errorf("mime = %q", gotMime)
	}

	body, ct = multipartBody(t, "file", "r.png", "application/octet-stream", []byte("\x89PNG\r\n\x1a\n0000"))
	expectStatus(t, send(body, ct), http.StatusOK)
	if gotMime != "image/png" {
		t.Errorf("sniffed mime = %q", gotMime)
	}

	body, ct = multipartBody(t, "", "", "", nil)
	expectStatus(t, send(body, ct), http.StatusBadRequest)

	body, ct = multipartBody(t, "file", "r.jpg", "image/jpeg", nil)
	expectStatus(t, send(body, ct), http.StatusUnprocessableEntity)

	expectStatus(t, send(bytes.NewBufferString(`{}`), "application/json"), http.StatusBadRequest)
}

func TestScanReceiptErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"model failure", core.Extraction("scan receipt", "receipt scanning failed", errors.New("upstream")), http.StatusBadGateway},
		{"not configured", core.Misconfigured("scan receipt", "receipt scanning is not configured"), http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(o *Options) {
				o.Ledger = services.NewLedgerService(o.DB.(*storage.Repository), nil, &mockScanner{
					scan: func(context.Context, []byte, string) (receipt.Result, error) { return receipt.Result{}, tt.err },
				})
			})
			body, ct := multipartBody(t, "file", "r.jpg", "image/jpeg", []byte("jpeg"))
			req := httptest.NewRequest(http.MethodPost, "/api/receipts/scan", body)
			req.Header.Set("Authorization", "Bearer "+env.token)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			env.srv.Handler.ServeHTTP(rec, req)

			expectStatus(t, rec, tt.want)
			if tt.want == http.StatusInternalServerError && strings.Contains(rec.Body.String(), "boom") {
				t.Error("internal error cause leaked to client")
			}
		})
	}
}

func (e *testEnv) webhook(t *testing.T, payload string, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/clerk", strings.NewReader(payload))
	if sign {
		now := time.Now()
		req.Header.Set("svix-id", "msg_1")
		req.Header.Set("svix-timestamp", strconv.FormatInt(now.Unix(), 10))
		req.Header.Set("svix-signature", e.verifier.Sign("msg_1", now, []byte(payload)))
	}
	rec := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestClerkWebhook(t *testing.T) {
	env := newTestEnv(t)
	created := `{"type":"user.created","data":{"id":"user_hook","first_name":"Ada","last_name":"Lovelace","email_addresses":[{"email_address":"ada@example.com"}]}}`

	expectStatus(t, env.webhook(t, created, true), http.StatusOK)
	u, err := env.repo.UserByClerkID(context.Background(), "user_hook")
	if err != nil {
		t.Fatalf("user not stored: %v", err)
	}
	if u.Email != "ada@example.com" || u.Name != "Ada Lovelace" {
		t.Errorf("unexpected user %+v", u)
	}

	expectStatus(t, env.webhook(t, created, false), http.StatusBadRequest)
	expectStatus(t, env.webhook(t, `{not json`, true), http.StatusBadRequest)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/clerk", strings.NewReader(created))
	req.Header.Set("svix-id", "msg_1")
	req.Header.Set("svix-timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("svix-signature", "v1,"+base64.StdEncoding.EncodeToString([]byte("forged")))
	rec := httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusBadRequest)

	deleted := `{"type":"user.deleted","data":{"id":"user_hook"}}`
	expectStatus(t, env.webhook(t, deleted, true), http.StatusOK)
	if _, err := env.repo.UserByClerkID(context.Background(), "user_hook"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("user still present: %v", err)
	}
}

func TestClerkWebhookWithoutVerifier(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Webhooks = nil })
	expectStatus(t, env.webhook(t, `{"type":"user.created","data":{"id":"x"}}`, true), http.StatusInternalServerError)
}

func TestWritesAreRateLimited(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 2})
	})

	for i := 0; i < 2; i++ {
		expectStatus(t, env.do(t, http.MethodPut, "/api/budget", map[string]any{"amount": 10}), http.StatusNotFound)
	}
	rec := env.do(t, http.MethodPut, "/api/budget", map[string]any{"amount": 10})
	expectStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	expectStatus(t, env.do(t, http.MethodGet, "/api/accounts", nil), http.StatusOK)
}
