package report

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/valekseev/satledger/internal/ledger"
	"github.com/valekseev/satledger/pkg/logger"
)

// LedgerReader is the read surface the report service consumes. The ledger
// service satisfies it.
type LedgerReader interface {
	ListTransactions(ctx context.Context, filters ledger.TransactionFilters) ([]*ledger.Transaction, error)
	ListDisposals(ctx context.Context, filters ledger.DisposalFilters) ([]*ledger.LotDisposal, error)
	ListLots(ctx context.Context, openOnly bool) ([]*ledger.BitcoinLot, error)
	Balances(ctx context.Context) ([]ledger.AccountBalance, error)
	Options() ledger.ReplayOptions
}

// Cache stores rendered reports between mutations. A nil cache disables
// caching entirely.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, report any) error
}

// Service renders read-only reports over committed ledger state
type Service struct {
	reader LedgerReader
	cache  Cache
	log    *logger.Logger
}

// NewService creates a new report service. cache may be nil.
func NewService(reader LedgerReader, cache Cache, log *logger.Logger) *Service {
	return &Service{
		reader: reader,
		cache:  cache,
		log:    log.WithField("component", "report"),
	}
}

// BalanceRow is one account's position
type BalanceRow struct {
	AccountID ledger.AccountID `json:"account_id"`
	Name      string           `json:"name"`
	Currency  ledger.Currency  `json:"currency"`
	Balance   decimal.Decimal  `json:"balance"`
}

// BalanceReport lists every account's balance per currency
type BalanceReport struct {
	Balances    []BalanceRow `json:"balances"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Balances renders the per-account balance report
func (s *Service) Balances(ctx context.Context) (*BalanceReport, error) {
	const key = "balances"
	var cached BalanceReport
	if s.lookup(ctx, key, &cached) {
		return &cached, nil
	}

	balances, err := s.reader.Balances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}

	rep := &BalanceReport{GeneratedAt: time.Now().UTC()}
	for _, b := range balances {
		row := BalanceRow{AccountID: b.AccountID, Currency: b.Currency, Balance: b.Balance}
		if acc, ok := ledger.AccountByID(b.AccountID); ok {
			row.Name = acc.Name
		}
		rep.Balances = append(rep.Balances, row)
	}

	s.store(ctx, key, rep)
	return rep, nil
}

// GainsSummary accumulates one holding period's side of a gains report
type GainsSummary struct {
	ProceedsUSD decimal.Decimal `json:"proceeds_usd"`
	BasisUSD    decimal.Decimal `json:"basis_usd"`
	GainUSD     decimal.Decimal `json:"gain_usd"`
	Disposals   int             `json:"disposals"`
}

// GainsReport is the realized-gains summary for one tax year, split by
// holding period the way a Form 8949 wants it.
type GainsReport struct {
	Year        int             `json:"year"`
	ShortTerm   GainsSummary    `json:"short_term"`
	LongTerm    GainsSummary    `json:"long_term"`
	TotalGain   decimal.Decimal `json:"total_gain_usd"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Gains renders the realized-gains report for a calendar year
func (s *Service) Gains(ctx context.Context, year int) (*GainsReport, error) {
	key := fmt.Sprintf("gains:%d", year)
	var cached GainsReport
	if s.lookup(ctx, key, &cached) {
		return &cached, nil
	}

	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)
	disposals, err := s.reader.ListDisposals(ctx, ledger.DisposalFilters{FromDate: &from, ToDate: &to})
	if err != nil {
		return nil, fmt.Errorf("failed to load disposals: %w", err)
	}

	rep := &GainsReport{Year: year, GeneratedAt: time.Now().UTC()}
	for _, d := range disposals {
		sum := &rep.ShortTerm
		if d.HoldingPeriod == ledger.HoldingLong {
			sum = &rep.LongTerm
		}
		sum.ProceedsUSD = sum.ProceedsUSD.Add(d.ProceedsUSD)
		sum.BasisUSD = sum.BasisUSD.Add(d.DisposalBasisUSD)
		sum.GainUSD = sum.GainUSD.Add(d.RealizedGainUSD)
		sum.Disposals++
	}
	rep.TotalGain = rep.ShortTerm.GainUSD.Add(rep.LongTerm.GainUSD)

	s.store(ctx, key, rep)
	return rep, nil
}

// Disposals lists raw disposal fragments for inspection. Not cached: the
// filter space is open-ended and the query is already a single indexed read.
func (s *Service) Disposals(ctx context.Context, filters ledger.DisposalFilters) ([]*ledger.LotDisposal, error) {
	return s.reader.ListDisposals(ctx, filters)
}

// OpenLotsReport is the set of lots still open at a point in time
type OpenLotsReport struct {
	AsOf         time.Time            `json:"as_of"`
	Lots         []*ledger.BitcoinLot `json:"lots"`
	RemainingBTC decimal.Decimal      `json:"remaining_btc"`
	BasisUSD     decimal.Decimal      `json:"basis_usd"`
	GeneratedAt  time.Time            `json:"generated_at"`
}

// OpenLots reports the lots open as of the given instant by replaying the
// history up to it in memory. Committed derived state is untouched, so the
// report is safe to run concurrently with reads.
func (s *Service) OpenLots(ctx context.Context, asOf time.Time) (*OpenLotsReport, error) {
	key := fmt.Sprintf("openlots:%d", asOf.UTC().Unix())
	var cached OpenLotsReport
	if s.lookup(ctx, key, &cached) {
		return &cached, nil
	}

	txs, err := s.reader.ListTransactions(ctx, ledger.TransactionFilters{})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	res, err := ledger.ReplayThrough(txs, asOf, s.reader.Options())
	if err != nil {
		return nil, err
	}

	rep := &OpenLotsReport{AsOf: asOf, GeneratedAt: time.Now().UTC()}
	for _, lot := range res.Lots {
		if !lot.Open() {
			continue
		}
		rep.Lots = append(rep.Lots, lot)
		rep.RemainingBTC = rep.RemainingBTC.Add(lot.RemainingBTC)
		// Remaining basis is proportional to the unconsumed quantity.
		if lot.TotalBTC.IsPositive() {
			rep.BasisUSD = rep.BasisUSD.Add(lot.CostBasisUSD.Mul(lot.RemainingBTC).Div(lot.TotalBTC))
		}
	}

	s.store(ctx, key, rep)
	return rep, nil
}

// lookup reads a cached report; cache errors degrade to a miss.
func (s *Service) lookup(ctx context.Context, key string, dest any) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.log.Warn("report cache read failed", "key", key, "error", err)
		return false
	}
	return hit
}

// store writes a rendered report; cache errors are logged, never surfaced.
func (s *Service) store(ctx context.Context, key string, report any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, report); err != nil {
		s.log.Warn("report cache write failed", "key", key, "error", err)
	}
}
