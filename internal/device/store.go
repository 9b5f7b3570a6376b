// Package device holds the per-device persisted state: the role setting and
// display aliases, the monthly budget, the report cache, and the legacy
// transaction table that predates the hosted store. It is the explicit
// replacement for what the web client kept in ambient localStorage keys.
package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"coupleledger/internal/core"
)

// Settings keys. One row per key in the settings table.
const (
	KeyDeviceRole    = "device_role"
	KeyMeAlias       = "alias_me"
	KeyYouAlias      = "alias_you"
	KeyMonthlyBudget = "monthly_budget"
)

var ErrNoReport = errors.New("no cached report for month")

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open device database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Setting returns the raw value for key, or "" when unset.
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting upserts one settings row.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}

// DeviceRole reads the persisted role setting, defaulting to role 1.
func (s *Store) DeviceRole(ctx context.Context) (core.Payer, error) {
	v, err := s.Setting(ctx, KeyDeviceRole)
	if err != nil {
		return core.RoleOne, err
	}
	return core.DecodeRole(v), nil
}

func (s *Store) SetDeviceRole(ctx context.Context, role core.Payer) error {
	if role != core.RoleOne && role != core.RoleTwo {
		return fmt.Errorf("device role must be role 1 or role 2")
	}
	return s.SetSetting(ctx, KeyDeviceRole, role.String())
}

// Aliases returns the configured display names for me/you, with defaults
// applied.
func (s *Store) Aliases(ctx context.Context) (me, you string, err error) {
	me, err = s.Setting(ctx, KeyMeAlias)
	if err != nil {
		return "", "", err
	}
	you, err = s.Setting(ctx, KeyYouAlias)
	if err != nil {
		return "", "", err
	}
	if me == "" {
		me = core.DefaultMeAlias
	}
	if you == "" {
		you = core.DefaultYouAlias
	}
	return me, you, nil
}

// MonthlyBudget returns the shared monthly budget in whole KRW.
func (s *Store) MonthlyBudget(ctx context.Context) (int64, error) {
	v, err := s.Setting(ctx, KeyMonthlyBudget)
	if err != nil {
		return 0, err
	}
	if v == "" {
		return core.DefaultMonthlyBudget, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return core.DefaultMonthlyBudget, nil
	}
	return n, nil
}

func (s *Store) SetMonthlyBudget(ctx context.Context, budget int64) error {
	if budget <= 0 {
		return fmt.Errorf("budget must be positive")
	}
	return s.SetSetting(ctx, KeyMonthlyBudget, strconv.FormatInt(budget, 10))
}

// ReportEntry is one cached monthly report.
type ReportEntry struct {
	Month         core.Month
	SchemaVersion int
	Payload       []byte
	Archived      bool
	GeneratedAt   time.Time
	ArchivedAt    sql.NullTime
}

// ReportEntry loads the cache row for a month. The second return is false
// when no row exists.
func (s *Store) ReportEntry(ctx context.Context, m core.Month) (ReportEntry, bool, error) {
	var (
		e        ReportEntry
		payload  string
		archived int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT schema_version, payload, archived, generated_at, archived_at
		FROM report_cache WHERE month = ?`, m.String()).
		Scan(&e.SchemaVersion, &payload, &archived, &e.GeneratedAt, &e.ArchivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ReportEntry{}, false, nil
	}
	if err != nil {
		return ReportEntry{}, false, fmt.Errorf("read report cache %s: %w", m, err)
	}
	e.Month = m
	e.Payload = []byte(payload)
	e.Archived = archived != 0
	return e, true, nil
}

// SaveReport upserts the report payload for a month under the given schema
// version. Writing a report clears the archived flag: a fresh payload has
// not been exported yet.
func (s *Store) SaveReport(ctx context.Context, m core.Month, payload []byte, schemaVersion int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO report_cache (month, schema_version, payload, archived, generated_at, archived_at)
		VALUES (?, ?, ?, 0, CURRENT_TIMESTAMP, NULL)
		ON CONFLICT(month) DO UPDATE SET
			schema_version = excluded.schema_version,
			payload = excluded.payload,
			archived = 0,
			generated_at = CURRENT_TIMESTAMP,
			archived_at = NULL`,
		m.String(), schemaVersion, string(payload))
	if err != nil {
		return fmt.Errorf("save report %s: %w", m, err)
	}
	slog.InfoContext(ctx, "Report cached", "month", m.String(), "schema_version", schemaVersion)
	return nil
}

// MarkArchived flags a cached report as exported. It is an error to
// archive a month that has no cached report.
func (s *Store) MarkArchived(ctx context.Context, m core.Month) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE report_cache SET archived = 1, archived_at = CURRENT_TIMESTAMP
		WHERE month = ?`, m.String())
	if err != nil {
		return fmt.Errorf("archive report %s: %w", m, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive report %s: %w", m, err)
	}
	if n == 0 {
		return ErrNoReport
	}
	slog.InfoContext(ctx, "Report archived", "month", m.String())
	return nil
}

// LegacyTransaction is one row of the pre-hosted-store local ledger. Items
// is kept as the raw JSON the old client wrote.
type LegacyTransaction struct {
	ID        string
	TxDate    string
	Amount    int64
	Category  string
	Payer     string
	Merchant  string
	Memo      string
	Items     string
	CreatedAt time.Time
}

// LegacyTransactions returns every row awaiting migration, oldest first.
func (s *Store) LegacyTransactions(ctx context.Context) ([]LegacyTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tx_date, amount, category, payer, merchant, memo, items, created_at
		FROM legacy_transactions ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list legacy transactions: %w", err)
	}
	defer rows.Close()

	var out []LegacyTransaction
	for rows.Next() {
		var t LegacyTransaction
		if err := rows.Scan(&t.ID, &t.TxDate, &t.Amount, &t.Category, &t.Payer,
			&t.Merchant, &t.Memo, &t.Items, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan legacy transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AddLegacyTransaction inserts a legacy row. Only the old client wrote
// these in production; the method exists for seeding and tests.
func (s *Store) AddLegacyTransaction(ctx context.Context, t LegacyTransaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Items == "" {
		t.Items = "[]"
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO legacy_transactions (id, tx_date, amount, category, payer, merchant, memo, items, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TxDate, t.Amount, t.Category, t.Payer, t.Merchant, t.Memo, t.Items, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert legacy transaction: %w", err)
	}
	return nil
}

// ClearLegacyTransactions drops every legacy row. Called only after a
// successful migration into the hosted store.
func (s *Store) ClearLegacyTransactions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM legacy_transactions`)
	if err != nil {
		return fmt.Errorf("clear legacy transactions: %w", err)
	}
	return nil
}
