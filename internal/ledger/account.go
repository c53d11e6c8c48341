package ledger

// Currency identifies one of the two currencies the ledger tracks
type Currency string

const (
	USD Currency = "USD"
	BTC Currency = "BTC"
)

// IsValid returns true for a known currency
func (c Currency) IsValid() bool {
	return c == USD || c == BTC
}

// AccountID identifies an account in the fixed chart of accounts
type AccountID int64

// The chart of accounts is fixed: every transaction moves value between
// these accounts and no others. External is the single counterparty for
// everything outside the tracked system; the fee accounts absorb the cost
// side of every fee posting.
const (
	AccountBank        AccountID = 1
	AccountExchangeUSD AccountID = 2
	AccountExchangeBTC AccountID = 3
	AccountColdStorage AccountID = 4
	AccountUSDFees     AccountID = 5
	AccountBTCFees     AccountID = 6
	AccountExternal    AccountID = 99
)

// Account is one row of the chart of accounts
type Account struct {
	ID       AccountID `json:"id"`
	Name     string    `json:"name"`
	Currency Currency  `json:"currency"`
}

// IsExternal reports whether the account is the outside-world counterparty
func (a Account) IsExternal() bool {
	return a.ID == AccountExternal
}

// IsFeeAccount reports whether the account absorbs fee postings
func (a Account) IsFeeAccount() bool {
	return a.ID == AccountUSDFees || a.ID == AccountBTCFees
}

// IsUserHeld reports whether the account holds the user's own funds. Fee
// accounts and External are bookkeeping counterparties, not holdings.
func (a Account) IsUserHeld() bool {
	return !a.IsExternal() && !a.IsFeeAccount()
}

// IsBTC reports whether the account is denominated in bitcoin
func (a Account) IsBTC() bool {
	return a.Currency == BTC
}

var chartOfAccounts = []Account{
	{ID: AccountBank, Name: "Bank", Currency: USD},
	{ID: AccountExchangeUSD, Name: "Exchange USD", Currency: USD},
	{ID: AccountExchangeBTC, Name: "Exchange BTC", Currency: BTC},
	{ID: AccountColdStorage, Name: "Cold Storage", Currency: BTC},
	{ID: AccountUSDFees, Name: "USD Fees", Currency: USD},
	{ID: AccountBTCFees, Name: "BTC Fees", Currency: BTC},
	{ID: AccountExternal, Name: "External", Currency: USD},
}

// Accounts returns the full chart of accounts
func Accounts() []Account {
	out := make([]Account, len(chartOfAccounts))
	copy(out, chartOfAccounts)
	return out
}

// AccountByID looks up an account in the chart
func AccountByID(id AccountID) (Account, bool) {
	for _, a := range chartOfAccounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

// FeeAccount returns the fee account for a currency
func FeeAccount(c Currency) AccountID {
	if c == BTC {
		return AccountBTCFees
	}
	return AccountUSDFees
}
