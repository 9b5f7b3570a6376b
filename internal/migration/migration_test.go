package migration

import (
	"context"
	"errors"
	"testing"
	"time"

	"coupleledger/internal/core"
	"coupleledger/internal/device"
)

var testNow = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

type fakeSource struct {
	rows    []device.LegacyTransaction
	role    core.Payer
	cleared bool
}

func (f *fakeSource) LegacyTransactions(context.Context) ([]device.LegacyTransaction, error) {
	return f.rows, nil
}

func (f *fakeSource) ClearLegacyTransactions(context.Context) error {
	f.cleared = true
	f.rows = nil
	return nil
}

func (f *fakeSource) DeviceRole(context.Context) (core.Payer, error) {
	if f.role == 0 {
		return core.RoleOne, nil
	}
	return f.role, nil
}

type fakeDest struct {
	available bool
	inserted  []core.Transaction
	err       error
}

func (f *fakeDest) InsertBatch(_ context.Context, ts []core.Transaction) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, ts...)
	return nil
}

func (f *fakeDest) Available() bool { return f.available }

func legacyRows() []device.LegacyTransaction {
	return []device.LegacyTransaction{
		{
			ID: "a", TxDate: "2023-11-02", Amount: 15000, Category: "식비",
			Payer: "me", Merchant: "분식집", Items: `[{"name":"김밥","price":4500}]`,
			CreatedAt: time.Date(2023, 11, 2, 12, 0, 0, 0, time.UTC),
		},
		{
			ID: "b", TxDate: "2023-11-05", Amount: 32000, Category: "카페",
			Payer: "together", CreatedAt: time.Date(2023, 11, 5, 12, 0, 0, 0, time.UTC),
		},
	}
}

func newRunner(src *fakeSource, dst *fakeDest) *Runner {
	r := NewRunner(src, dst, nil)
	r.now = func() time.Time { return testNow }
	return r
}

func TestRunSkipsWhenStoreUnavailable(t *testing.T) {
	src := &fakeSource{rows: legacyRows()}
	dst := &fakeDest{available: false}

	n, err := newRunner(src, dst).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 0 || src.cleared || len(dst.inserted) != 0 {
		t.Fatalf("unavailable store must leave everything alone: n=%d cleared=%v", n, src.cleared)
	}
}

func TestRunMigratesAndClears(t *testing.T) {
	src := &fakeSource{rows: legacyRows(), role: core.RoleTwo}
	dst := &fakeDest{available: true}

	n, err := newRunner(src, dst).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 2 || len(dst.inserted) != 2 {
		t.Fatalf("migrated %d rows, inserted %d", n, len(dst.inserted))
	}
	if !src.cleared {
		t.Fatal("legacy rows must be cleared after a successful run")
	}

	// Legacy "me" always meant the role-1 device, whatever role this
	// device has.
	if dst.inserted[0].Payer != core.RoleOne {
		t.Fatalf("payer = %v", dst.inserted[0].Payer)
	}
	if dst.inserted[1].Payer != core.Together {
		t.Fatalf("payer = %v", dst.inserted[1].Payer)
	}
	if len(dst.inserted[0].Items) != 1 || dst.inserted[0].Items[0].Name != "김밥" {
		t.Fatalf("items = %+v", dst.inserted[0].Items)
	}
	if dst.inserted[1].Merchant != core.DefaultMerchant {
		t.Fatalf("merchant = %q", dst.inserted[1].Merchant)
	}

	// A second run is a no-op.
	n, err = newRunner(src, dst).Run(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second run: n=%d err=%v", n, err)
	}
}

func TestRunEmptyTable(t *testing.T) {
	src := &fakeSource{}
	dst := &fakeDest{available: true}

	n, err := newRunner(src, dst).Run(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if src.cleared {
		t.Fatal("nothing to clear")
	}
}

func TestRunAbortsOnInvalidRow(t *testing.T) {
	rows := legacyRows()
	rows[1].Amount = 0
	src := &fakeSource{rows: rows}
	dst := &fakeDest{available: true}

	if _, err := newRunner(src, dst).Run(context.Background()); err == nil {
		t.Fatal("invalid row must abort the run")
	}
	if src.cleared {
		t.Fatal("failed run must not clear legacy rows")
	}
	if len(dst.inserted) != 0 {
		t.Fatal("failed run must not insert anything")
	}
}

func TestRunKeepsRowsOnInsertFailure(t *testing.T) {
	src := &fakeSource{rows: legacyRows()}
	dst := &fakeDest{available: true, err: errors.New("network down")}

	if _, err := newRunner(src, dst).Run(context.Background()); err == nil {
		t.Fatal("insert failure must surface")
	}
	if src.cleared {
		t.Fatal("failed run must not clear legacy rows")
	}
}

func TestConvertLegacyPayerAliases(t *testing.T) {
	cases := []struct {
		payer string
		role  core.Payer
		want  core.Payer
	}{
		{"me", core.RoleOne, core.RoleOne},
		{"me", core.RoleTwo, core.RoleOne},
		{"you", core.RoleOne, core.RoleTwo},
		{"you", core.RoleTwo, core.RoleTwo},
		{"together", core.RoleTwo, core.Together},
		{"2", core.RoleOne, core.RoleTwo},
	}
	for _, tc := range cases {
		row := device.LegacyTransaction{
			ID: "x", TxDate: "2023-11-02", Amount: 1000, Category: "식비", Payer: tc.payer,
		}
		got, err := Convert(row, tc.role, testNow)
		if err != nil {
			t.Fatalf("convert %q: %v", tc.payer, err)
		}
		if got.Payer != tc.want {
			t.Fatalf("payer %q on role %v = %v, want %v", tc.payer, tc.role, got.Payer, tc.want)
		}
	}
}

func TestConvertFallbacks(t *testing.T) {
	row := device.LegacyTransaction{
		ID: "x", TxDate: "not-a-date", Amount: 9900,
		Category: "groceries", Payer: "partner", Items: "{broken",
	}

	got, err := Convert(row, core.RoleTwo, testNow)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got.TxDate != "2024-06-10" {
		t.Fatalf("tx_date = %q", got.TxDate)
	}
	if got.Category != core.CatEtc {
		t.Fatalf("category = %q", got.Category)
	}
	if got.Payer != core.RoleTwo {
		t.Fatalf("unknown payer must fall back to the device role, got %v", got.Payer)
	}
	if got.Items == nil || len(got.Items) != 0 {
		t.Fatalf("broken items JSON must become an empty list, got %+v", got.Items)
	}
}
