package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"welth/internal/core"
	ports "welth/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

type recordedCall struct {
	method string
	path   string
	query  string
	body   map[string]any
}

// fakeSheets serves the subset of the Sheets v4 API the client uses.
type fakeSheets struct {
	mu     sync.Mutex
	calls  []recordedCall
	header []any
	status int
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: body})
	status := f.status
	header := f.header
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"code":500,"message":"backend error"}}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, ":append"):
		_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-1","updates":{"updatedRange":"'Ledger'!A5:H5","updatedRows":1}}`))
	case r.Method == http.MethodGet:
		values := [][]any{}
		if header != nil {
			values = append(values, header)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"range": "'Ledger'!A1:H1", "values": values})
	default:
		_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-1","updatedRows":1}`))
	}
}

func newTestClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return NewWithService(svc, "sheet-1", "")
}

func TestAppendLedgerRow(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)

	ref, err := c.AppendLedgerRow(context.Background(), ports.LedgerRow{
		Date:          time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
		Type:          core.Expense,
		Amount:        core.Cents(1250),
		Category:      "food",
		Description:   "Lunch",
		AccountID:     "acc-1",
		Event:         "transaction.created",
		TransactionID: "tx-1",
	})
	if err != nil {
		t.Fatalf("AppendLedgerRow() error = %v", err)
	}
	if ref != "'Ledger'!A5:H5" {
		t.Errorf("ref = %q", ref)
	}

	if len(fake.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(fake.calls))
	}
	call := fake.calls[0]
	if call.method != http.MethodPost || !strings.Contains(call.path, "/v4/spreadsheets/sheet-1/values/") {
		t.Errorf("unexpected call %s %s", call.method, call.path)
	}
	if !strings.Contains(call.query, "valueInputOption=USER_ENTERED") || !strings.Contains(call.query, "insertDataOption=INSERT_ROWS") {
		t.Errorf("unexpected query %q", call.query)
	}

	values, _ := call.body["values"].([]any)
	if len(values) != 1 {
		t.Fatalf("unexpected body %v", call.body)
	}
	row, _ := values[0].([]any)
	want := []any{"2024-03-14", "EXPENSE", "12.50", "food", "Lunch", "acc-1", "transaction.created", "tx-1"}
	if len(row) != len(want) {
		t.Fatalf("row = %v", row)
	}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("cell %d = %v, want %v", i, row[i], want[i])
		}
	}
}

func TestAppendLedgerRow_APIError(t *testing.T) {
	c := newTestClient(t, &fakeSheets{status: http.StatusInternalServerError})
	if _, err := c.AppendLedgerRow(context.Background(), ports.LedgerRow{Event: "transaction.created"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestAppendLedgerRow_NoService(t *testing.T) {
	c := &Client{spreadsheetID: "sheet-1", sheetName: DefaultSheetName}
	if _, err := c.AppendLedgerRow(context.Background(), ports.LedgerRow{}); err == nil {
		t.Fatal("expected error without service")
	}
}

func TestEnsureHeader(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)
	if err := c.EnsureHeader(context.Background()); err != nil {
		t.Fatalf("EnsureHeader() error = %v", err)
	}
	if len(fake.calls) != 2 || fake.calls[1].method != http.MethodPut {
		t.Fatalf("expected read then write, got %+v", fake.calls)
	}

	fake = &fakeSheets{header: []any{"Date"}}
	c = newTestClient(t, fake)
	if err := c.EnsureHeader(context.Background()); err != nil {
		t.Fatalf("EnsureHeader() error = %v", err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("existing header should not be rewritten, got %d calls", len(fake.calls))
	}
}

func TestQuotedSheetName(t *testing.T) {
	c := NewWithService(nil, "id", "Bob's ledger")
	if got := c.quoted(); got != "'Bob''s ledger'" {
		t.Errorf("quoted() = %q", got)
	}
	if got := NewWithService(nil, "id", "  ").sheetName; got != DefaultSheetName {
		t.Errorf("default sheet name = %q", got)
	}
}

func TestNewClient_Config(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	if _, err := NewClient(context.Background(), Config{}); err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("missing id: err = %v", err)
	}

	_, err := NewClient(context.Background(), Config{SpreadsheetID: "id"})
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Errorf("missing credentials: err = %v", err)
	}

	_, err = NewClient(context.Background(), Config{SpreadsheetID: "id", CredentialsFile: filepath.Join(t.TempDir(), "absent.json")})
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Errorf("absent file: err = %v", err)
	}
}

func TestLoadCredentialsPrefersInline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sa.json")
	if err := os.WriteFile(path, []byte(`{"from":"file"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := loadCredentials(Config{CredentialsJSON: `{"from":"env"}`, CredentialsFile: path})
	if err != nil || string(got) != `{"from":"env"}` {
		t.Errorf("inline: %s, %v", got, err)
	}
	got, err = loadCredentials(Config{CredentialsFile: path})
	if err != nil || string(got) != `{"from":"file"}` {
		t.Errorf("file: %s, %v", got, err)
	}
}
