package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	svix "github.com/svix/svix-webhooks/go"

	"welth/internal/core"
)

// WebhookTolerance is how far a webhook timestamp may drift from now.
const WebhookTolerance = 5 * time.Minute

var (
	ErrMissingHeaders   = errors.New("missing svix headers")
	ErrInvalidTimestamp = errors.New("invalid or expired webhook timestamp")
	ErrInvalidSignature = errors.New("no matching webhook signature")
)

// WebhookVerifier checks Svix-signed webhook deliveries.
type WebhookVerifier struct {
	wh  *svix.Webhook
	now func() time.Time
}

// NewWebhookVerifier decodes a whsec_ secret. An empty secret is a
// configuration error.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	const op = "create webhook verifier"
	if strings.TrimSpace(secret) == "" {
		return nil, core.Misconfigured(op, "CLERK_WEBHOOK_SECRET is not set")
	}
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, &core.Error{Kind: core.ErrConfiguration, Op: op, Msg: "webhook secret is not valid base64", Err: err}
	}
	return &WebhookVerifier{wh: wh, now: time.Now}, nil
}

// Verify checks the svix-id, svix-timestamp and svix-signature headers
// against body. The timestamp window uses the verifier clock; svix checks
// the signatures.
func (v *WebhookVerifier) Verify(h http.Header, body []byte) error {
	id := h.Get("svix-id")
	ts := h.Get("svix-timestamp")
	sigs := h.Get("svix-signature")
	if id == "" || ts == "" || sigs == "" {
		return ErrMissingHeaders
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	drift := v.now().Sub(time.Unix(sec, 0))
	if drift > WebhookTolerance || drift < -WebhookTolerance {
		return ErrInvalidTimestamp
	}

	if err := v.wh.VerifyIgnoringTimestamp(body, h); err != nil {
		return errors.Join(ErrInvalidSignature, err)
	}
	return nil
}

// Sign returns the v1 signature header value for a delivery.
func (v *WebhookVerifier) Sign(id string, ts time.Time, body []byte) string {
	sig, err := v.wh.Sign(id, ts, body)
	if err != nil {
		return ""
	}
	return sig
}
