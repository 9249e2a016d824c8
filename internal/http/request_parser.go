// This file decodes and validates request bodies. Shape problems (bad JSON,
// unknown fields, missing or malformed fields) are answered with 400 and a
// per-field list; domain rules are left to the service, which reports 422.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"welth/internal/core"
)

const maxJSONBody = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ValidateRequest runs struct tag validation on obj.
func ValidateRequest(obj any) []ValidationError {
	err := validate.Struct(obj)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{Message: err.Error(), Type: "invalid"}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Message: errorMessage(fe),
			Type:    fe.Tag(),
		})
	}
	return out
}

func errorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "oneof":
		return "Must be one of: " + fe.Param()
	case "min":
		return "Value is too short"
	case "max":
		return "Value is too long"
	case "datetime":
		return "Must be a date in YYYY-MM-DD format"
	default:
		return "Invalid value"
	}
}

// DecodeJSON reads a JSON body into dst and validates it. It returns nil
// on success, otherwise the reply to send.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) *JSONResponseBuilder {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return BadRequestError(decodeMessage(err))
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return BadRequestError("Request body must contain a single JSON object")
	}
	if details := ValidateRequest(dst); len(details) > 0 {
		return ValidationFailed(details)
	}
	return nil
}

func decodeMessage(err error) string {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		tooLarge  *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return "Request body is empty"
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return "Malformed JSON"
	case errors.As(err, &typeErr):
		return fmt.Sprintf("Field %q has the wrong type", typeErr.Field)
	case errors.As(err, &tooLarge):
		return "Request body too large"
	case errors.Is(err, core.ErrInvalidAmount):
		return "Invalid amount"
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		return "Unknown field " + strings.TrimPrefix(err.Error(), "json: unknown field ")
	default:
		return "Invalid request body"
	}
}

// CreateAccountRequest is the body of POST /api/accounts.
type CreateAccountRequest struct {
	Name      string     `json:"name" validate:"required,max=100"`
	Type      string     `json:"type" validate:"required,oneof=CURRENT SAVINGS INVESTMENT CREDIT"`
	Balance   core.Money `json:"balance"`
	IsDefault bool       `json:"isDefault"`
}

// TransactionRequest is the body of POST /api/transactions and
// PUT /api/transactions/{id}.
type TransactionRequest struct {
	Type              string     `json:"type" validate:"required,oneof=INCOME EXPENSE"`
	Amount            core.Money `json:"amount"`
	Description       string     `json:"description" validate:"max=500"`
	Category          string     `json:"category" validate:"required,max=100"`
	Date              string     `json:"date" validate:"required"`
	AccountID         string     `json:"accountId" validate:"required"`
	ReceiptURL        string     `json:"receiptUrl" validate:"omitempty,max=2048"`
	IsRecurring       bool       `json:"isRecurring"`
	RecurringInterval string     `json:"recurringInterval" validate:"omitempty,oneof=DAILY WEEKLY MONTHLY YEARLY"`
}

// DeleteTransactionsRequest is the body of POST /api/transactions/delete.
type DeleteTransactionsRequest struct {
	IDs []string `json:"ids" validate:"max=500,dive,required"`
}

// BudgetRequest is the body of PUT /api/budget.
type BudgetRequest struct {
	Amount core.Money `json:"amount"`
}
