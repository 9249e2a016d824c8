package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"welth/internal/core"
)

// Defaults applied to fields the model left out.
const (
	DefaultDescription = "Receipt scan"
	DefaultCategory    = "other-expense"
	DefaultMerchant    = "Unknown"
	dateLayout         = "2006-01-02"
)

var (
	fencedJSON = regexp.MustCompile("```json\\s*(\\{[\\s\\S]*?\\})\\s*```")
	bareJSON   = regexp.MustCompile(`\{[\s\S]*\}`)
)

// Result is a best-effort expense candidate read off a receipt. Callers
// confirm or edit it before saving a transaction.
type Result struct {
	Amount      core.Money `json:"amount"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Date        string     `json:"date"`
	Merchant    string     `json:"merchant"`
	ReceiptURL  string     `json:"receiptUrl,omitempty"`
}

type rawReply struct {
	Amount      json.RawMessage `json:"amount"`
	Description json.RawMessage `json:"description"`
	Category    json.RawMessage `json:"category"`
	Date        json.RawMessage `json:"date"`
	Merchant    json.RawMessage `json:"merchant"`
}

// ParseReply pulls the JSON object out of a model reply. A fenced json
// block wins; otherwise the span from the first '{' to the last '}' is used.
// Only a missing or malformed object is an error, every field has a default.
// A missing date becomes today's UTC date.
func ParseReply(text string, now time.Time) (Result, error) {
	var span string
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		span = m[1]
	} else if m := bareJSON.FindString(text); m != "" {
		span = m
	} else {
		return Result{}, core.Extraction("parse receipt", "no JSON found in response", nil)
	}

	var raw rawReply
	dec := json.NewDecoder(strings.NewReader(span))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Result{}, core.Extraction("parse receipt", "failed to parse receipt data", err)
	}
	if dec.More() {
		return Result{}, core.Extraction("parse receipt", "failed to parse receipt data", errors.New("trailing data after JSON object"))
	}

	res := Result{
		Amount:      parseAmount(raw.Amount),
		Description: textField(raw.Description),
		Category:    textField(raw.Category),
		Date:        textField(raw.Date),
		Merchant:    textField(raw.Merchant),
	}
	if res.Description == "" {
		res.Description = DefaultDescription
	}
	if res.Category == "" {
		res.Category = DefaultCategory
	}
	if res.Date == "" {
		res.Date = now.UTC().Format(dateLayout)
	}
	if res.Merchant == "" {
		res.Merchant = DefaultMerchant
	}
	return res, nil
}

// parseAmount accepts a JSON number or a numeric string and falls back to
// zero for anything else, including amounts that do not fit in cents.
func parseAmount(raw json.RawMessage) core.Money {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return core.Money{}
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return core.Money{}
		}
		s = strings.NewReplacer(",", ".", " ", "").Replace(strings.TrimSpace(s))
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return core.Money{}
	}
	m, err := core.SignedMoneyFromDecimal(d)
	if err != nil {
		return core.Money{}
	}
	return m
}

// textField returns a trimmed JSON string. Any other JSON value reads as
// empty so the field default applies.
func textField(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
