package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/valekseev/satledger/internal/ledger"
)

// LedgerServiceInterface defines the ledger operations the handler needs
type LedgerServiceInterface interface {
	CreateTransaction(ctx context.Context, tx *ledger.Transaction) error
	CreateTransactionGroup(ctx context.Context, txs []*ledger.Transaction) error
	UpdateTransaction(ctx context.Context, tx *ledger.Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error
	GetTransaction(ctx context.Context, id int64) (*ledger.Transaction, error)
	ListTransactions(ctx context.Context, filters ledger.TransactionFilters) ([]*ledger.Transaction, error)
	ListEntriesByTransaction(ctx context.Context, txID int64) ([]*ledger.LedgerEntry, error)
	LockThrough(ctx context.Context, cutoff time.Time) (int64, error)
	RecalculateAll(ctx context.Context) error
}

// TransactionHandler handles transaction-related HTTP requests
type TransactionHandler struct {
	ledgerService LedgerServiceInterface
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(ledgerService LedgerServiceInterface) *TransactionHandler {
	return &TransactionHandler{ledgerService: ledgerService}
}

// TransactionRequest is the caller-owned half of a transaction. All monetary
// fields are decimal strings; floats never appear on the wire.
type TransactionRequest struct {
	Type          string `json:"type"`
	Timestamp     string `json:"timestamp"` // RFC3339
	FromAccountID int64  `json:"from_account_id"`
	ToAccountID   int64  `json:"to_account_id"`
	Amount        string `json:"amount"`
	FeeAmount     string `json:"fee_amount,omitempty"`
	FeeCurrency   string `json:"fee_currency,omitempty"`
	CostBasisUSD  string `json:"cost_basis_usd,omitempty"`
	ProceedsUSD   string `json:"proceeds_usd,omitempty"`
	Purpose       string `json:"purpose,omitempty"`
	Source        string `json:"source,omitempty"`
}

// TransactionResponse is one transaction, computed fields included
type TransactionResponse struct {
	ID              int64   `json:"id"`
	Type            string  `json:"type"`
	TypeLabel       string  `json:"type_label"`
	Timestamp       string  `json:"timestamp"`
	FromAccountID   int64   `json:"from_account_id"`
	ToAccountID     int64   `json:"to_account_id"`
	Amount          string  `json:"amount"`
	FeeAmount       string  `json:"fee_amount"`
	FeeCurrency     string  `json:"fee_currency,omitempty"`
	CostBasisUSD    string  `json:"cost_basis_usd"`
	ProceedsUSD     string  `json:"proceeds_usd"`
	RealizedGainUSD *string `json:"realized_gain_usd,omitempty"`
	HoldingPeriod   *string `json:"holding_period,omitempty"`
	Purpose         string  `json:"purpose,omitempty"`
	Source          string  `json:"source,omitempty"`
	IsLocked        bool    `json:"is_locked"`
	GroupID         *string `json:"group_id,omitempty"`
}

// TransactionListResponse is a paginated transaction list
type TransactionListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Page         int                   `json:"page"`
	PageSize     int                   `json:"page_size"`
}

// EntryResponse is one signed ledger posting
type EntryResponse struct {
	ID            int64  `json:"id"`
	TransactionID int64  `json:"transaction_id"`
	AccountID     int64  `json:"account_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	EntryType     string `json:"entry_type"`
}

// CreateTransaction handles POST /transactions
func (h *TransactionHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tx, err := parseTransactionRequest(&req)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.ledgerService.CreateTransaction(r.Context(), tx); err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, toTransactionResponse(tx), http.StatusCreated)
}

// CreateTransactionGroup handles POST /transactions/group
func (h *TransactionHandler) CreateTransactionGroup(w http.ResponseWriter, r *http.Request) {
	var reqs []TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	txs := make([]*ledger.Transaction, 0, len(reqs))
	for i := range reqs {
		tx, err := parseTransactionRequest(&reqs[i])
		if err != nil {
			respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
		txs = append(txs, tx)
	}

	if err := h.ledgerService.CreateTransactionGroup(r.Context(), txs); err != nil {
		respondLedgerError(w, err)
		return
	}

	out := make([]TransactionResponse, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionResponse(tx)
	}
	respondJSON(w, out, http.StatusCreated)
}

// GetTransactions handles GET /transactions
func (h *TransactionHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, _ := strconv.Atoi(query.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(query.Get("page_size"))
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	filters := ledger.TransactionFilters{
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	}

	if s := query.Get("type"); s != "" {
		txType := ledger.TransactionType(s)
		if !txType.IsValid() {
			respondError(w, "invalid transaction type", http.StatusBadRequest)
			return
		}
		filters.Type = &txType
	}

	if s := query.Get("start_date"); s != "" {
		from, err := time.Parse(time.RFC3339, s)
		if err != nil {
			respondError(w, "invalid start_date format (use RFC3339)", http.StatusBadRequest)
			return
		}
		filters.FromDate = &from
	}

	if s := query.Get("end_date"); s != "" {
		to, err := time.Parse(time.RFC3339, s)
		if err != nil {
			respondError(w, "invalid end_date format (use RFC3339)", http.StatusBadRequest)
			return
		}
		filters.ToDate = &to
	}

	txs, err := h.ledgerService.ListTransactions(r.Context(), filters)
	if err != nil {
		respondError(w, "failed to fetch transactions", http.StatusInternalServerError)
		return
	}

	out := make([]TransactionResponse, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionResponse(tx)
	}
	respondJSON(w, TransactionListResponse{Transactions: out, Page: page, PageSize: pageSize}, http.StatusOK)
}

// GetTransaction handles GET /transactions/{id}
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, "invalid transaction ID", http.StatusBadRequest)
		return
	}

	tx, err := h.ledgerService.GetTransaction(r.Context(), id)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, toTransactionResponse(tx), http.StatusOK)
}

// GetTransactionEntries handles GET /transactions/{id}/entries
func (h *TransactionHandler) GetTransactionEntries(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, "invalid transaction ID", http.StatusBadRequest)
		return
	}

	if _, err := h.ledgerService.GetTransaction(r.Context(), id); err != nil {
		respondLedgerError(w, err)
		return
	}

	entries, err := h.ledgerService.ListEntriesByTransaction(r.Context(), id)
	if err != nil {
		respondError(w, "failed to fetch entries", http.StatusInternalServerError)
		return
	}

	out := make([]EntryResponse, len(entries))
	for i, e := range entries {
		out[i] = EntryResponse{
			ID:            e.ID,
			TransactionID: e.TransactionID,
			AccountID:     int64(e.AccountID),
			Amount:        e.Amount.String(),
			Currency:      string(e.Currency),
			EntryType:     string(e.EntryType),
		}
	}
	respondJSON(w, out, http.StatusOK)
}

// UpdateTransaction handles PUT /transactions/{id}
func (h *TransactionHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, "invalid transaction ID", http.StatusBadRequest)
		return
	}

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tx, err := parseTransactionRequest(&req)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	tx.ID = id

	if err := h.ledgerService.UpdateTransaction(r.Context(), tx); err != nil {
		respondLedgerError(w, err)
		return
	}

	updated, err := h.ledgerService.GetTransaction(r.Context(), id)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, toTransactionResponse(updated), http.StatusOK)
}

// DeleteTransaction handles DELETE /transactions/{id}
func (h *TransactionHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, "invalid transaction ID", http.StatusBadRequest)
		return
	}

	if err := h.ledgerService.DeleteTransaction(r.Context(), id); err != nil {
		respondLedgerError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LockRequest carries the period-lock cutoff
type LockRequest struct {
	Through string `json:"through"` // RFC3339
}

// LockTransactions handles POST /transactions/lock
func (h *TransactionHandler) LockTransactions(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cutoff, err := time.Parse(time.RFC3339, req.Through)
	if err != nil {
		respondError(w, "invalid through format (use RFC3339)", http.StatusBadRequest)
		return
	}

	n, err := h.ledgerService.LockThrough(r.Context(), cutoff)
	if err != nil {
		respondError(w, "failed to lock transactions", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]int64{"locked": n}, http.StatusOK)
}

// Recalculate handles POST /recalculate
func (h *TransactionHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	if err := h.ledgerService.RecalculateAll(r.Context()); err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "recalculated"}, http.StatusOK)
}

// parseTransactionRequest converts a request DTO to a domain transaction
func parseTransactionRequest(req *TransactionRequest) (*ledger.Transaction, error) {
	txType := ledger.TransactionType(req.Type)
	if !txType.IsValid() {
		return nil, errors.New("invalid transaction type")
	}

	timestamp, err := time.Parse(time.RFC3339, req.Timestamp)
	if err != nil {
		return nil, errors.New("invalid timestamp format (use RFC3339)")
	}

	tx := &ledger.Transaction{
		Type:          txType,
		Timestamp:     timestamp,
		FromAccountID: ledger.AccountID(req.FromAccountID),
		ToAccountID:   ledger.AccountID(req.ToAccountID),
		FeeCurrency:   ledger.Currency(req.FeeCurrency),
		Purpose:       req.Purpose,
		Source:        req.Source,
	}

	if tx.Amount, err = parseDecimal(req.Amount, "amount"); err != nil {
		return nil, err
	}
	if tx.FeeAmount, err = parseOptionalDecimal(req.FeeAmount, "fee_amount"); err != nil {
		return nil, err
	}
	if tx.CostBasisUSD, err = parseOptionalDecimal(req.CostBasisUSD, "cost_basis_usd"); err != nil {
		return nil, err
	}
	if tx.ProceedsUSD, err = parseOptionalDecimal(req.ProceedsUSD, "proceeds_usd"); err != nil {
		return nil, err
	}

	return tx, nil
}

func parseDecimal(s, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.New("invalid " + field)
	}
	return d, nil
}

func parseOptionalDecimal(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return parseDecimal(s, field)
}

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// respondLedgerError maps domain errors to HTTP status codes
func respondLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrTransactionNotFound):
		respondError(w, "transaction not found", http.StatusNotFound)
	case errors.Is(err, ledger.ErrTransactionLocked):
		respondError(w, "transaction is locked", http.StatusConflict)
	case errors.Is(err, ledger.ErrInsufficientBTC):
		respondError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		var replayErr *ledger.ReplayError
		if errors.As(err, &replayErr) {
			respondError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		// Validation sentinels are all bad requests.
		for _, sentinel := range ledger.ValidationErrors() {
			if errors.Is(err, sentinel) {
				respondError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		respondError(w, "internal server error", http.StatusInternalServerError)
	}
}

// toTransactionResponse converts a domain transaction to its response DTO
func toTransactionResponse(tx *ledger.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:            tx.ID,
		Type:          string(tx.Type),
		TypeLabel:     tx.Type.Label(),
		Timestamp:     tx.Timestamp.Format(time.RFC3339),
		FromAccountID: int64(tx.FromAccountID),
		ToAccountID:   int64(tx.ToAccountID),
		Amount:        tx.Amount.String(),
		FeeAmount:     tx.FeeAmount.String(),
		FeeCurrency:   string(tx.FeeCurrency),
		CostBasisUSD:  tx.CostBasisUSD.String(),
		ProceedsUSD:   tx.ProceedsUSD.String(),
		Purpose:       tx.Purpose,
		Source:        tx.Source,
		IsLocked:      tx.IsLocked,
	}
	if tx.RealizedGainUSD != nil {
		s := tx.RealizedGainUSD.String()
		resp.RealizedGainUSD = &s
	}
	if tx.HoldingPeriod != nil {
		s := string(*tx.HoldingPeriod)
		resp.HoldingPeriod = &s
	}
	if tx.GroupID != nil {
		s := tx.GroupID.String()
		resp.GroupID = &s
	}
	return resp
}
