package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"welth/internal/auth"
	"welth/internal/core"
	"welth/internal/log"
	"welth/internal/receipt"
)

const (
	maxWebhookBody = 1 << 20
	// multipart framing on top of the largest accepted image
	maxUploadBody = receipt.MaxImageSize + 1<<20
)

// Accounts

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := s.ledger.GetUserAccounts(r.Context(), auth.Subject(r.Context()))
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if resp := DecodeJSON(w, r, &req); resp != nil {
		resp.Write(w)
		return
	}

	account, err := s.ledger.CreateAccount(r.Context(), auth.Subject(r.Context()), req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	detail, err := s.ledger.GetAccountWithTransactions(r.Context(), auth.Subject(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleSetDefaultAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.ledger.SetDefaultAccount(r.Context(), auth.Subject(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// Transactions

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("accountId"))
	txs, err := s.ledger.ListTransactions(r.Context(), auth.Subject(r.Context()), accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if resp := DecodeJSON(w, r, &req); resp != nil {
		resp.Write(w)
		return
	}
	in, details := req.input()
	if details != nil {
		ValidationFailed(details).Write(w)
		return
	}

	tx, err := s.ledger.CreateTransaction(r.Context(), auth.Subject(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.events.LogTransaction(r.Context(), log.OpCreate, tx.ID, tx.AccountID, string(tx.Type), tx.Amount.Cents, tx.Category)
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.ledger.GetTransaction(r.Context(), auth.Subject(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if resp := DecodeJSON(w, r, &req); resp != nil {
		resp.Write(w)
		return
	}
	in, details := req.input()
	if details != nil {
		ValidationFailed(details).Write(w)
		return
	}

	tx, err := s.ledger.UpdateTransaction(r.Context(), auth.Subject(r.Context()), r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.events.LogTransaction(r.Context(), log.OpUpdate, tx.ID, tx.AccountID, string(tx.Type), tx.Amount.Cents, tx.Category)
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleDeleteTransactions(w http.ResponseWriter, r *http.Request) {
	var req DeleteTransactionsRequest
	if resp := DecodeJSON(w, r, &req); resp != nil {
		resp.Write(w)
		return
	}

	n, err := s.ledger.DeleteTransactions(r.Context(), auth.Subject(r.Context()), req.IDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deletedCount": n})
}

// Dashboard and budget

type budgetResponse struct {
	Budget          *core.Budget `json:"budget"`
	CurrentExpenses core.Money   `json:"currentExpenses"`
	PercentUsed     float64      `json:"percentUsed"`
}

func newBudgetResponse(p core.BudgetProgress) budgetResponse {
	return budgetResponse{
		Budget:          p.Budget,
		CurrentExpenses: p.CurrentExpenses,
		PercentUsed:     p.PercentUsed(),
	}
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.ledger.GetDashboardData(r.Context(), auth.Subject(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	p, err := s.ledger.GetCurrentBudget(r.Context(), auth.Subject(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBudgetResponse(p))
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	var req BudgetRequest
	if resp := DecodeJSON(w, r, &req); resp != nil {
		resp.Write(w)
		return
	}

	b, err := s.ledger.UpdateBudget(r.Context(), auth.Subject(r.Context()), req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Receipts

func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(receipt.MaxImageSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ErrorResponse(http.StatusRequestEntityTooLarge, "Upload too large").Write(w)
			return
		}
		BadRequestError("Expected a multipart form").Write(w)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		ValidationFailed([]ValidationError{{Field: "file", Message: "This field is required", Type: "required"}}).Write(w)
		return
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, receipt.MaxImageSize+1))
	if err != nil {
		BadRequestError("Failed to read upload").Write(w)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(image)
	}

	result, err := s.ledger.ScanReceipt(r.Context(), auth.Subject(r.Context()), image, mimeType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Webhooks

func (s *Server) handleClerkWebhook(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContext(r.Context()).WithComponent(log.ComponentAuth)
	if s.webhooks == nil || s.identity == nil {
		logger.ErrorContext(r.Context(), "Webhook received but not configured")
		InternalServerError("webhook not configured").Write(w)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		BadRequestError("Failed to read body").Write(w)
		return
	}

	if err := s.webhooks.Verify(r.Header, body); err != nil {
		logger.WarnContext(r.Context(), "Webhook verification failed", log.FieldError, err)
		BadRequestError(err.Error()).Write(w)
		return
	}

	if err := s.identity.HandleEvent(r.Context(), body); err != nil {
		if errors.Is(err, core.ErrValidation) {
			BadRequestError(core.Message(err)).Write(w)
			return
		}
		logger.ErrorContext(r.Context(), "Webhook processing failed", log.FieldOperation, log.OpWebhook, log.FieldError, err)
		InternalServerError("failed to process event").Write(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
