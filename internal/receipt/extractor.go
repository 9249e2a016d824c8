package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"welth/internal/core"
	"welth/internal/log"
)

const (
	// MaxImageSize bounds the bytes sent to the model.
	MaxImageSize   = 5 << 20
	DefaultModel   = "gemini-2.5-flash"
	DefaultTimeout = 30 * time.Second
)

const prompt = `Analyze this receipt image and extract the following information in JSON format:
{
  "amount": number (total amount spent),
  "description": string (brief description of the purchase),
  "category": string (one of: food, transportation, entertainment, shopping, healthcare, utilities, other-expense),
  "date": string (date in YYYY-MM-DD format if visible, otherwise use today's date),
  "merchant": string (store/merchant name if visible)
}

If any information is not clearly visible, make reasonable assumptions based on the receipt content.
Return only the JSON object, no additional text or markdown formatting.`

// Model answers a prompt about an inline image with free text.
type Model interface {
	Generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// Archiver stores the raw image and returns a URI for it.
type Archiver interface {
	Archive(ctx context.Context, image []byte, mimeType string) (string, error)
}

// GeminiModel calls the Gemini API.
type GeminiModel struct {
	client *genai.Client
	name   string
}

func NewGeminiModel(ctx context.Context, apiKey, model string) (*GeminiModel, error) {
	if apiKey == "" {
		return nil, core.Misconfigured("create gemini client", "GEMINI_API_KEY is not set")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiModel{client: client, name: model}, nil
}

func (g *GeminiModel) Generate(ctx context.Context, text string, image []byte, mimeType string) (string, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: text},
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.name, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	out := resp.Text()
	if out == "" {
		return "", fmt.Errorf("empty response from model %s", g.name)
	}
	return out, nil
}

// Extractor turns a receipt image into a Result. The model is called once
// per scan under the configured timeout.
type Extractor struct {
	model    Model
	archiver Archiver
	timeout  time.Duration
	now      func() time.Time
}

// NewExtractor builds an Extractor. A nil archiver skips archiving and a
// non-positive timeout falls back to DefaultTimeout.
func NewExtractor(model Model, archiver Archiver, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Extractor{model: model, archiver: archiver, timeout: timeout, now: time.Now}
}

func (e *Extractor) Scan(ctx context.Context, image []byte, mimeType string) (Result, error) {
	if e == nil || e.model == nil {
		return Result{}, core.Misconfigured("scan receipt", "receipt scanning is not configured")
	}
	if err := checkImage(image, mimeType); err != nil {
		return Result{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	text, err := e.model.Generate(callCtx, prompt, image, mimeType)
	if err != nil {
		slog.ErrorContext(ctx, "Receipt model call failed",
			log.FieldError, err,
			"mime_type", mimeType,
			"duration", time.Since(start))
		return Result{}, core.Extraction("scan receipt", "receipt scanning failed", err)
	}

	res, err := ParseReply(text, e.now().UTC())
	if err != nil {
		slog.ErrorContext(ctx, "Failed to parse receipt reply", log.FieldError, err, "reply", text)
		return Result{}, err
	}

	if e.archiver != nil {
		uri, err := e.archiver.Archive(ctx, image, mimeType)
		if err != nil {
			slog.WarnContext(ctx, "Failed to archive receipt image", log.FieldError, err)
		} else {
			res.ReceiptURL = uri
		}
	}

	slog.InfoContext(ctx, "Receipt scanned",
		log.FieldComponent, log.ComponentReceipt,
		log.FieldOperation, log.OpScan,
		"amount", res.Amount.String(),
		log.FieldCategory, res.Category,
		"duration", time.Since(start))
	return res, nil
}

func checkImage(image []byte, mimeType string) error {
	if len(image) == 0 {
		return core.Invalidf("scan receipt", "receipt image is empty")
	}
	if len(image) > MaxImageSize {
		return core.Invalidf("scan receipt", "receipt image exceeds 5 MiB")
	}
	if !strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		return core.Invalidf("scan receipt", "receipt must be an image")
	}
	return nil
}
