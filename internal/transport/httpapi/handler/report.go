package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/valekseev/satledger/internal/ledger"
	"github.com/valekseev/satledger/internal/report"
)

// ReportServiceInterface defines the report operations the handler needs
type ReportServiceInterface interface {
	Balances(ctx context.Context) (*report.BalanceReport, error)
	Gains(ctx context.Context, year int) (*report.GainsReport, error)
	Disposals(ctx context.Context, filters ledger.DisposalFilters) ([]*ledger.LotDisposal, error)
	OpenLots(ctx context.Context, asOf time.Time) (*report.OpenLotsReport, error)
}

// ReportHandler handles reporting HTTP requests
type ReportHandler struct {
	reportService ReportServiceInterface
}

// NewReportHandler creates a new report handler
func NewReportHandler(reportService ReportServiceInterface) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

// GetBalances handles GET /reports/balances
func (h *ReportHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reportService.Balances(r.Context())
	if err != nil {
		respondError(w, "failed to build balance report", http.StatusInternalServerError)
		return
	}
	respondJSON(w, rep, http.StatusOK)
}

// GetGains handles GET /reports/gains?year=2024
func (h *ReportHandler) GetGains(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil || year < 2009 {
		respondError(w, "invalid year", http.StatusBadRequest)
		return
	}

	rep, err := h.reportService.Gains(r.Context(), year)
	if err != nil {
		respondError(w, "failed to build gains report", http.StatusInternalServerError)
		return
	}
	respondJSON(w, rep, http.StatusOK)
}

// DisposalResponse is one disposal fragment
type DisposalResponse struct {
	ID               int64  `json:"id"`
	LotID            int64  `json:"lot_id"`
	TransactionID    int64  `json:"transaction_id"`
	DisposedBTC      string `json:"disposed_btc"`
	DisposalBasisUSD string `json:"disposal_basis_usd"`
	ProceedsUSD      string `json:"proceeds_usd"`
	RealizedGainUSD  string `json:"realized_gain_usd"`
	HoldingPeriod    string `json:"holding_period"`
}

// GetDisposals handles GET /reports/disposals
func (h *ReportHandler) GetDisposals(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filters ledger.DisposalFilters

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

	if s := query.Get("period"); s != "" {
		period := ledger.HoldingPeriod(s)
		if period != ledger.HoldingShort && period != ledger.HoldingLong {
			respondError(w, "invalid period (use SHORT or LONG)", http.StatusBadRequest)
			return
		}
		filters.Period = &period
	}

	disposals, err := h.reportService.Disposals(r.Context(), filters)
	if err != nil {
		respondError(w, "failed to fetch disposals", http.StatusInternalServerError)
		return
	}

	out := make([]DisposalResponse, len(disposals))
	for i, d := range disposals {
		out[i] = DisposalResponse{
			ID:               d.ID,
			LotID:            d.LotID,
			TransactionID:    d.TransactionID,
			DisposedBTC:      d.DisposedBTC.String(),
			DisposalBasisUSD: d.DisposalBasisUSD.String(),
			ProceedsUSD:      d.ProceedsUSD.String(),
			RealizedGainUSD:  d.RealizedGainUSD.String(),
			HoldingPeriod:    string(d.HoldingPeriod),
		}
	}
	respondJSON(w, out, http.StatusOK)
}

// GetOpenLots handles GET /reports/lots?as_of=2024-06-01T00:00:00Z
// Without as_of the report reflects the present.
func (h *ReportHandler) GetOpenLots(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now().UTC()
	if s := r.URL.Query().Get("as_of"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			respondError(w, "invalid as_of format (use RFC3339)", http.StatusBadRequest)
			return
		}
		asOf = parsed
	}

	rep, err := h.reportService.OpenLots(r.Context(), asOf)
	if err != nil {
		respondError(w, "failed to build open-lots report", http.StatusInternalServerError)
		return
	}
	respondJSON(w, rep, http.StatusOK)
}
