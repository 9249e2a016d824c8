package backend

import (
	"context"
	"fmt"
	"log/slog"

	"welth/internal/log"
	"welth/internal/sheets"
	gsheet "welth/internal/sheets/google"
	"welth/internal/sheets/memory"
)

// headerWriter is implemented by writers that keep a header row.
type headerWriter interface {
	EnsureHeader(ctx context.Context) error
}

// Result is a ready mirror writer.
type Result struct {
	Writer sheets.LedgerWriter
	Type   Type
}

// Factory builds mirror writers.
type Factory struct {
	logger    *slog.Logger
	// newSheets is swapped in tests.
	newSheets func(ctx context.Context, cfg gsheet.Config) (sheets.LedgerWriter, error)
}

func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		logger: logger,
		newSheets: func(ctx context.Context, cfg gsheet.Config) (sheets.LedgerWriter, error) {
			return gsheet.NewClient(ctx, cfg)
		},
	}
}

// NewLedgerWriter builds the writer for config. A sheets writer gets its
// header row written first; failing that is logged, not fatal.
func (f *Factory) NewLedgerWriter(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SheetsBackend:
		w, err := f.newSheets(ctx, gsheet.Config{
			SpreadsheetID:   config.GoogleSpreadsheetID,
			SheetName:       config.GoogleSheetName,
			CredentialsJSON: config.GoogleServiceAccountJSON,
			CredentialsFile: config.GoogleServiceAccountFile,
		})
		if err != nil {
			return nil, fmt.Errorf("create sheets writer: %w", err)
		}
		if hw, ok := w.(headerWriter); ok {
			if err := hw.EnsureHeader(ctx); err != nil {
				f.logger.WarnContext(ctx, "Failed to write ledger sheet header", log.FieldError, err)
			}
		}
		f.logger.InfoContext(ctx, "Initialized Google Sheets mirror",
			"spreadsheet_id", config.GoogleSpreadsheetID,
			"sheet", config.GoogleSheetName)
		return &Result{Writer: w, Type: SheetsBackend}, nil

	case MemoryBackend:
		f.logger.InfoContext(ctx, "Initialized in-memory mirror; rows are kept only for the life of the process")
		return &Result{Writer: memory.New(), Type: MemoryBackend}, nil

	default:
		return nil, fmt.Errorf("unsupported mirror backend: %s", config.Type)
	}
}
