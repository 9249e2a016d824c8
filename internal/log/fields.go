package log

import "log/slog"

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldSubsystem     = "subsystem"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldUserID        = "user_id"
	FieldAccountID     = "account_id"
	FieldTransactionID = "transaction_id"
	FieldTxType        = "transaction_type"
	FieldAmountCents   = "amount_cents"
	FieldCategory      = "category"
	FieldEventType     = "event_type"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentReceipt   = "receipt"
	ComponentRecurring = "recurring"
	ComponentAuth      = "auth"
	ComponentSecurity  = "security"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpAppend   = "append"
	OpScan     = "scan"
	OpWebhook  = "webhook"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// Fields collects attributes in insertion order.
type Fields []slog.Attr

// NewFields creates an empty field set.
func NewFields() Fields {
	return make(Fields, 0, 8)
}

func (f Fields) add(key string, v any) Fields {
	return append(f, slog.Any(key, v))
}

func (f Fields) WithComponent(component string) Fields {
	return f.add(FieldComponent, component)
}

func (f Fields) WithRequestID(requestID string) Fields {
	if requestID == "" {
		return f
	}
	return f.add(FieldRequestID, requestID)
}

func (f Fields) WithClientIP(ip string) Fields {
	return f.add(FieldClientIP, ip)
}

// WithError is a no-op for a nil err.
func (f Fields) WithError(err error) Fields {
	if err == nil {
		return f
	}
	return f.add(FieldError, err.Error())
}

func (f Fields) WithOperation(op string) Fields {
	return f.add(FieldOperation, op)
}

// WithTransaction adds the identifying fields of a ledger entry.
func (f Fields) WithTransaction(id, accountID, txType string, amountCents int64, category string) Fields {
	return f.
		add(FieldTransactionID, id).
		add(FieldAccountID, accountID).
		add(FieldTxType, txType).
		add(FieldAmountCents, amountCents).
		add(FieldCategory, category)
}

func (f Fields) WithHTTPRequest(method, path, query, userAgent string) Fields {
	f = f.add(FieldMethod, method).add(FieldPath, path)
	if query != "" {
		f = f.add(FieldQuery, query)
	}
	if userAgent != "" {
		f = f.add(FieldUserAgent, userAgent)
	}
	return f
}

func (f Fields) WithHTTPResponse(statusCode int, durationMs int64) Fields {
	return f.
		add(FieldStatusCode, statusCode).
		add(FieldDuration, durationMs).
		add(FieldSuccess, statusCode < 400)
}

// Args converts the fields to slog key/value arguments.
func (f Fields) Args() []any {
	out := make([]any, len(f))
	for i, a := range f {
		out[i] = a
	}
	return out
}
