package auth

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"welth/internal/core"
)

func TestAuthenticator_Middleware(t *testing.T) {
	a := NewAuthenticator("test-secret")
	valid, err := a.Issue("user_123", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	expired, _ := a.Issue("user_123", -time.Minute)
	foreign, _ := NewAuthenticator("other-secret").Issue("user_123", time.Hour)
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("test-secret"))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantSub    string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, "user_123"},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, "user_123"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, ""},
		{"no token", "Bearer ", http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"wrong key", "Bearer " + foreign, http.StatusUnauthorized, ""},
		{"no subject", "Bearer " + noSubject, http.StatusUnauthorized, ""},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotSub string
			h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotSub = Subject(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if gotSub != tt.wantSub {
				t.Errorf("subject = %q, want %q", gotSub, tt.wantSub)
			}
		})
	}
}

func TestAuthenticator_RejectsOtherAlgorithms(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user_1"},
	}).SignedString([]byte("s"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewAuthenticator("s").Parse(tok); err == nil {
		t.Fatal("Parse() should reject HS512 tokens")
	}
}

func TestSubject_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := Subject(req.Context()); got != "" {
		t.Errorf("Subject() = %q, want empty", got)
	}
}

func newTestVerifier(t *testing.T, now time.Time) *WebhookVerifier {
	t.Helper()
	v, err := NewWebhookVerifier("whsec_" + base64.StdEncoding.EncodeToString([]byte("super-secret-key")))
	if err != nil {
		t.Fatalf("NewWebhookVerifier() error = %v", err)
	}
	v.now = func() time.Time { return now }
	return v
}

func TestWebhookVerifier_Verify(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := newTestVerifier(t, now)
	body := []byte(`{"type":"user.created","data":{"id":"user_1"}}`)
	good := v.Sign("msg_1", now, body)
	other, err := NewWebhookVerifier("whsec_" + base64.StdEncoding.EncodeToString([]byte("another-key")))
	if err != nil {
		t.Fatalf("NewWebhookVerifier() error = %v", err)
	}
	foreign := other.Sign("msg_1", now, body)

	headers := func(id, ts, sig string) http.Header {
		h := http.Header{}
		if id != "" {
			h.Set("svix-id", id)
		}
		if ts != "" {
			h.Set("svix-timestamp", ts)
		}
		if sig != "" {
			h.Set("svix-signature", sig)
		}
		return h
	}
	ts := strconv.FormatInt(now.Unix(), 10)

	tests := []struct {
		name string
		h    http.Header
		body []byte
		want error
	}{
		{"valid", headers("msg_1", ts, good), body, nil},
		{"one of several signatures", headers("msg_1", ts, "v1,Zm9v v2,abc "+good), body, nil},
		{"missing id", headers("", ts, good), body, ErrMissingHeaders},
		{"missing signature", headers("msg_1", ts, ""), body, ErrMissingHeaders},
		{"tampered body", headers("msg_1", ts, good), []byte(`{"type":"user.deleted"}`), ErrInvalidSignature},
		{"other id", headers("msg_2", ts, good), body, ErrInvalidSignature},
		{"other secret", headers("msg_1", ts, foreign), body, ErrInvalidSignature},
		{"unsupported version only", headers("msg_1", ts, "v2,"+strings.TrimPrefix(good, "v1,")), body, ErrInvalidSignature},
		{"bad timestamp", headers("msg_1", "yesterday", good), body, ErrInvalidTimestamp},
		{"too old", headers("msg_1", strconv.FormatInt(now.Add(-6*time.Minute).Unix(), 10), good), body, ErrInvalidTimestamp},
		{"too new", headers("msg_1", strconv.FormatInt(now.Add(6*time.Minute).Unix(), 10), good), body, ErrInvalidTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.h, tt.body)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewWebhookVerifier_Config(t *testing.T) {
	if _, err := NewWebhookVerifier(""); !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("empty secret error = %v, want configuration", err)
	}
	if _, err := NewWebhookVerifier("whsec_%%%"); !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("bad secret error = %v, want configuration", err)
	}
}
