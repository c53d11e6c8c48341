package handler

import (
	"net/http"

	"github.com/valekseev/satledger/internal/ledger"
)

// AccountResponse is one row of the fixed chart of accounts
type AccountResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// GetAccounts handles GET /accounts. The chart is fixed, so this never
// touches storage.
func GetAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := ledger.Accounts()
	out := make([]AccountResponse, len(accounts))
	for i, a := range accounts {
		out[i] = AccountResponse{
			ID:       int64(a.ID),
			Name:     a.Name,
			Currency: string(a.Currency),
		}
	}
	respondJSON(w, out, http.StatusOK)
}
