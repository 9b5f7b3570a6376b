// Package migration moves the pre-hosted-store ledger rows from the
// device database into the hosted store. It runs once at startup, as a
// whole or not at all: the legacy table is only cleared after every row
// landed, so a failed run leaves the data where it was and the next start
// tries again.
package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coupleledger/internal/core"
	"coupleledger/internal/device"
	"coupleledger/internal/log"
)

// LegacySource is the slice of the device store the migration reads from.
type LegacySource interface {
	LegacyTransactions(ctx context.Context) ([]device.LegacyTransaction, error)
	ClearLegacyTransactions(ctx context.Context) error
	DeviceRole(ctx context.Context) (core.Payer, error)
}

// Destination is the hosted-store surface the migration writes to.
type Destination interface {
	InsertBatch(ctx context.Context, ts []core.Transaction) error
	Available() bool
}

type Runner struct {
	source LegacySource
	dest   Destination
	logger *log.Logger
	now    func() time.Time
}

func NewRunner(source LegacySource, dest Destination, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentMigration)
	}
	return &Runner{source: source, dest: dest, logger: logger, now: time.Now}
}

// Run migrates every pending legacy row. It returns the number of rows
// moved; zero with a nil error means there was nothing to do or the
// hosted store is not configured yet.
func (r *Runner) Run(ctx context.Context) (int, error) {
	if !r.dest.Available() {
		r.logger.InfoContext(ctx, "Hosted store not configured, keeping legacy rows",
			log.FieldOperation, log.OpMigrate)
		return 0, nil
	}

	rows, err := r.source.LegacyTransactions(ctx)
	if err != nil {
		return 0, fmt.Errorf("read legacy transactions: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	role, err := r.source.DeviceRole(ctx)
	if err != nil {
		return 0, fmt.Errorf("read device role: %w", err)
	}

	txs := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		t, err := Convert(row, role, r.now())
		if err != nil {
			// One bad row aborts the whole run. Dropping it silently
			// would lose money data; the row stays local until fixed.
			r.logger.ErrorContext(ctx, "Legacy row failed validation",
				log.FieldOperation, log.OpMigrate,
				log.FieldTxID, row.ID,
				log.FieldError, err)
			return 0, fmt.Errorf("convert legacy row %s: %w", row.ID, err)
		}
		txs = append(txs, t)
	}

	if err := r.dest.InsertBatch(ctx, txs); err != nil {
		r.logger.ErrorContext(ctx, "Migration batch insert failed",
			log.FieldOperation, log.OpMigrate,
			log.FieldCount, len(txs),
			log.FieldError, err)
		return 0, fmt.Errorf("insert migrated transactions: %w", err)
	}

	if err := r.source.ClearLegacyTransactions(ctx); err != nil {
		// The rows are hosted now but still present locally; the next run
		// would duplicate them, so surface this loudly.
		return len(txs), fmt.Errorf("clear legacy transactions after migration: %w", err)
	}

	r.logger.InfoContext(ctx, "Legacy ledger migrated",
		log.FieldOperation, log.OpMigrate,
		log.FieldCount, len(txs))

	return len(txs), nil
}

// Convert maps one legacy row into a validated transaction. The old
// client wrote "me"/"you" before roles existed: "me" was always the
// role-1 device and "you" its partner. Only unrecognized payer values
// fall back to this device's role.
func Convert(row device.LegacyTransaction, deviceRole core.Payer, now time.Time) (core.Transaction, error) {
	var items []core.Item
	if row.Items != "" {
		if err := json.Unmarshal([]byte(row.Items), &items); err != nil {
			items = nil
		}
	}

	t := core.Transaction{
		TxDate:    row.TxDate,
		Amount:    row.Amount,
		Category:  row.Category,
		Payer:     core.DecodePayer(row.Payer, deviceRole),
		Merchant:  row.Merchant,
		Memo:      row.Memo,
		Items:     items,
		CreatedAt: row.CreatedAt,
	}
	if !core.ValidDate(t.TxDate) {
		t.TxDate = core.Today(now)
	}
	t = t.Normalized()
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}
