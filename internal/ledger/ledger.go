// Package ledger is the transaction service: every write is normalized
// and validated here before it reaches the hosted store, and the month
// summary and calendar aggregations live here rather than in SQL so the
// degraded no-store mode produces the same shapes from empty data.
package ledger

import (
	"context"
	"fmt"
	"time"

	"coupleledger/internal/core"
	"coupleledger/internal/log"
	"coupleledger/internal/store"
)

// Settings is the slice of the device store the service reads for
// payer translation and the budget.
type Settings interface {
	DeviceRole(ctx context.Context) (core.Payer, error)
	Aliases(ctx context.Context) (me, you string, err error)
	MonthlyBudget(ctx context.Context) (int64, error)
}

type Service struct {
	store    store.Store
	settings Settings
	logger   *log.Logger
	// listLimit caps every list query.
	listLimit int
}

func New(st store.Store, settings Settings, logger *log.Logger, listLimit int) *Service {
	if logger == nil {
		logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentLedger)
	}
	if listLimit <= 0 {
		listLimit = 10000
	}
	return &Service{store: st, settings: settings, logger: logger, listLimit: listLimit}
}

// Add persists one transaction and returns it with the store-assigned id.
func (s *Service) Add(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	t = t.Normalized()
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	saved, err := s.store.Insert(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "Transaction added",
		log.FieldOperation, log.OpCreate,
		log.FieldTxID, saved.ID,
		log.FieldTxDate, saved.TxDate,
		log.FieldAmount, saved.Amount,
		log.FieldCategory, saved.Category)

	return saved, nil
}

func (s *Service) Get(ctx context.Context, id int64) (core.Transaction, error) {
	return s.store.Get(ctx, id)
}

// Update replaces the stored transaction under id after the same
// normalization and validation as Add.
func (s *Service) Update(ctx context.Context, id int64, t core.Transaction) (core.Transaction, error) {
	t = t.Normalized()
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	if err := s.store.Update(ctx, id, t); err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction %d: %w", id, err)
	}

	s.logger.InfoContext(ctx, "Transaction updated",
		log.FieldOperation, log.OpUpdate,
		log.FieldTxID, id)

	return s.store.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}
	s.logger.InfoContext(ctx, "Transaction deleted",
		log.FieldOperation, log.OpDelete,
		log.FieldTxID, id)
	return nil
}

// DeleteSet removes a batch of transactions by id.
func (s *Service) DeleteSet(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.store.DeleteSet(ctx, ids); err != nil {
		return fmt.Errorf("delete %d transactions: %w", len(ids), err)
	}
	s.logger.InfoContext(ctx, "Transactions deleted",
		log.FieldOperation, log.OpDelete,
		log.FieldCount, len(ids))
	return nil
}

func (s *Service) ListMonth(ctx context.Context, m core.Month) ([]core.Transaction, error) {
	return s.store.ListMonth(ctx, m, s.listLimit)
}

func (s *Service) List(ctx context.Context) ([]core.Transaction, error) {
	return s.store.List(ctx, s.listLimit)
}

// Summary aggregates one month of spending. Payer totals are relative to
// the device viewpoint, the way the couple reads them.
type Summary struct {
	Month      string           `json:"month"`
	Total      int64            `json:"total"`
	Count      int              `json:"count"`
	ByCategory map[string]int64 `json:"byCategory"`
	// ByPayer keys are the display labels for me/you plus the shared
	// label.
	ByPayer    map[string]int64 `json:"byPayer"`
	Budget     int64            `json:"budget"`
	Remaining  int64            `json:"remaining"`
	OverBudget bool             `json:"overBudget"`
}

// MonthSummary computes the month's totals against the configured budget.
func (s *Service) MonthSummary(ctx context.Context, m core.Month) (Summary, error) {
	txs, err := s.store.ListMonth(ctx, m, s.listLimit)
	if err != nil {
		return Summary{}, fmt.Errorf("list month %s: %w", m, err)
	}

	role, err := s.settings.DeviceRole(ctx)
	if err != nil {
		return Summary{}, err
	}
	meAlias, youAlias, err := s.settings.Aliases(ctx)
	if err != nil {
		return Summary{}, err
	}
	budget, err := s.settings.MonthlyBudget(ctx)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{
		Month:      m.String(),
		Count:      len(txs),
		ByCategory: make(map[string]int64),
		ByPayer: map[string]int64{
			meAlias:          0,
			youAlias:         0,
			core.SharedLabel: 0,
		},
		Budget: budget,
	}
	for _, t := range txs {
		sum.Total += t.Amount
		sum.ByCategory[t.Category] += t.Amount
		sum.ByPayer[core.Label(t.Payer, role, meAlias, youAlias)] += t.Amount
	}
	sum.Remaining = budget - sum.Total
	sum.OverBudget = sum.Total > budget
	return sum, nil
}

// CalendarDay is one day's spending in the calendar view.
type CalendarDay struct {
	Date  string `json:"date"`
	Total int64  `json:"total"`
	Count int    `json:"count"`
}

// Calendar returns one entry per day of the month, empty days included,
// in calendar order.
func (s *Service) Calendar(ctx context.Context, m core.Month) ([]CalendarDay, error) {
	txs, err := s.store.ListMonth(ctx, m, s.listLimit)
	if err != nil {
		return nil, fmt.Errorf("list month %s: %w", m, err)
	}

	byDate := make(map[string]*CalendarDay, m.Days())
	days := make([]CalendarDay, m.Days())
	start := time.Date(m.Year, m.Mon, 1, 0, 0, 0, 0, time.UTC)
	for i := range days {
		date := core.Today(start.AddDate(0, 0, i))
		days[i] = CalendarDay{Date: date}
		byDate[date] = &days[i]
	}

	for _, t := range txs {
		d, ok := byDate[t.TxDate]
		if !ok {
			continue
		}
		d.Total += t.Amount
		d.Count++
	}
	return days, nil
}

// PayerLabeler returns a render function bound to the device's current
// role and aliases, for callers that format payers outside a summary.
func (s *Service) PayerLabeler(ctx context.Context) (func(core.Payer) string, error) {
	role, err := s.settings.DeviceRole(ctx)
	if err != nil {
		return nil, err
	}
	meAlias, youAlias, err := s.settings.Aliases(ctx)
	if err != nil {
		return nil, err
	}
	return func(p core.Payer) string {
		return core.Label(p, role, meAlias, youAlias)
	}, nil
}
