package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"coupleledger/internal/core"
)

// transactionRow is the GORM mapping of the hosted transactions table.
type transactionRow struct {
	ID        int64     `gorm:"primaryKey"`
	TxDate    string    `gorm:"column:tx_date;size:10;index:idx_transactions_tx_date"`
	Amount    int64     `gorm:"not null"`
	Category  string    `gorm:"size:100"`
	Payer     string    `gorm:"size:16"`
	Merchant  string    `gorm:"size:100"`
	Memo      string    `gorm:"size:500"`
	Items     itemsJSON `gorm:"type:jsonb"`
	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_transactions_created_at"`
}

func (transactionRow) TableName() string { return "transactions" }

// itemsJSON stores receipt line items as a jsonb column.
type itemsJSON []core.Item

func (j itemsJSON) Value() (driver.Value, error) {
	if j == nil {
		j = itemsJSON{}
	}
	return json.Marshal(j)
}

func (j *itemsJSON) Scan(value interface{}) error {
	if value == nil {
		*j = itemsJSON{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported items column type %T", value)
	}
	if len(data) == 0 {
		*j = itemsJSON{}
		return nil
	}
	return json.Unmarshal(data, j)
}

// HostedStore is the Supabase-hosted Postgres transaction store.
type HostedStore struct {
	db *gorm.DB
}

// Open dials the hosted Postgres database and keeps the table shape
// current. Supabase refuses plain connections, so sslmode=require is
// appended when the DSN does not choose one.
func Open(dsn string) (*HostedStore, error) {
	if !strings.Contains(dsn, "sslmode") {
		if strings.Contains(dsn, "?") {
			dsn += "&sslmode=require"
		} else {
			dsn += "?sslmode=require"
		}
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open hosted store: %w", err)
	}

	if err := db.AutoMigrate(&transactionRow{}); err != nil {
		return nil, fmt.Errorf("migrate transactions table: %w", err)
	}

	return &HostedStore{db: db}, nil
}

func (s *HostedStore) Available() bool { return true }

// Insert implements TransactionWriter.
func (s *HostedStore) Insert(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	row := toRow(t)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved to hosted store",
		"id", row.ID,
		"tx_date", row.TxDate,
		"amount", row.Amount,
		"category", row.Category,
		"payer", row.Payer)

	return toDomain(row), nil
}

// InsertBatch implements TransactionWriter. GORM issues the batch as a
// single statement inside a transaction, so the rows land all-or-nothing.
func (s *HostedStore) InsertBatch(ctx context.Context, ts []core.Transaction) error {
	if len(ts) == 0 {
		return nil
	}
	rows := make([]transactionRow, len(ts))
	for i, t := range ts {
		rows[i] = toRow(t)
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("batch insert %d transactions: %w", len(rows), err)
	}
	slog.InfoContext(ctx, "Transaction batch saved to hosted store", "count", len(rows))
	return nil
}

// ListMonth implements TransactionReader.
func (s *HostedStore) ListMonth(ctx context.Context, m core.Month, limit int) ([]core.Transaction, error) {
	first, last := m.DateRange()
	return s.list(ctx, s.db.WithContext(ctx).Where("tx_date BETWEEN ? AND ?", first, last), limit)
}

// List implements TransactionReader.
func (s *HostedStore) List(ctx context.Context, limit int) ([]core.Transaction, error) {
	return s.list(ctx, s.db.WithContext(ctx), limit)
}

func (s *HostedStore) list(ctx context.Context, q *gorm.DB, limit int) ([]core.Transaction, error) {
	var rows []transactionRow
	err := q.Order("tx_date DESC").Order("created_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]core.Transaction, len(rows))
	for i, r := range rows {
		out[i] = toDomain(r)
	}
	return out, nil
}

// Get implements TransactionReader.
func (s *HostedStore) Get(ctx context.Context, id int64) (core.Transaction, error) {
	var row transactionRow
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.Transaction{}, ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return toDomain(row), nil
}

// Update implements TransactionUpdater. All client-editable columns are
// written, including zero values, so clearing a memo sticks.
func (s *HostedStore) Update(ctx context.Context, id int64, t core.Transaction) error {
	row := toRow(t)
	res := s.db.WithContext(ctx).
		Model(&transactionRow{ID: id}).
		Select("tx_date", "amount", "category", "payer", "merchant", "memo", "items").
		Updates(row)
	if res.Error != nil {
		return fmt.Errorf("update transaction %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete implements TransactionDeleter.
func (s *HostedStore) Delete(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&transactionRow{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete transaction %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSet implements TransactionDeleter.
func (s *HostedStore) DeleteSet(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Delete(&transactionRow{}, ids).Error; err != nil {
		return fmt.Errorf("delete %d transactions: %w", len(ids), err)
	}
	return nil
}

func toRow(t core.Transaction) transactionRow {
	return transactionRow{
		ID:        t.ID,
		TxDate:    t.TxDate,
		Amount:    t.Amount,
		Category:  t.Category,
		Payer:     t.Payer.String(),
		Merchant:  t.Merchant,
		Memo:      t.Memo,
		Items:     itemsJSON(t.Items),
		CreatedAt: t.CreatedAt,
	}
}

func toDomain(r transactionRow) core.Transaction {
	return core.Transaction{
		ID:     r.ID,
		TxDate: r.TxDate,
		Amount: r.Amount,
		// Rows written before the role migration may still carry the
		// me/you vocabulary; decode snaps them onto roles.
		Payer:     core.DecodePayer(r.Payer, core.RoleOne),
		Category:  core.NormalizeCategory(r.Category),
		Merchant:  r.Merchant,
		Memo:      r.Memo,
		Items:     []core.Item(r.Items),
		CreatedAt: r.CreatedAt,
	}
}
