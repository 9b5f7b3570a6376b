package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"coupleledger/internal/core"
)

func TestRowConversionRoundTrip(t *testing.T) {
	tx := core.Transaction{
		ID:        7,
		TxDate:    "2024-05-01",
		Amount:    12000,
		Category:  core.CatCafe,
		Payer:     core.Together,
		Merchant:  "스타벅스",
		Memo:      "아아 두 잔",
		Items:     []core.Item{{Name: "아메리카노", Price: 6000}, {Name: "라떼", Price: 6000}},
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	got := toDomain(toRow(tx))
	if got.ID != tx.ID || got.TxDate != tx.TxDate || got.Amount != tx.Amount ||
		got.Category != tx.Category || got.Payer != tx.Payer ||
		got.Merchant != tx.Merchant || got.Memo != tx.Memo {
		t.Fatalf("round trip changed fields: %+v", got)
	}
	if len(got.Items) != 2 || got.Items[0] != tx.Items[0] {
		t.Fatalf("items lost: %+v", got.Items)
	}
}

func TestToDomainLegacyPayer(t *testing.T) {
	r := transactionRow{TxDate: "2023-01-01", Amount: 100, Category: "식비", Payer: "you"}
	if got := toDomain(r).Payer; got != core.RoleTwo {
		t.Fatalf("legacy you should decode to role 2, got %v", got)
	}
	r.Payer = "garbage"
	if got := toDomain(r).Payer; got != core.RoleOne {
		t.Fatalf("garbage payer should fall back to role 1, got %v", got)
	}
	r.Category = "unknown"
	if got := toDomain(r).Category; got != core.CatEtc {
		t.Fatalf("unknown category should normalize, got %q", got)
	}
}

func TestItemsJSONScan(t *testing.T) {
	var j itemsJSON
	if err := j.Scan([]byte(`[{"name":"김밥","price":4500}]`)); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	if len(j) != 1 || j[0].Name != "김밥" || j[0].Price != 4500 {
		t.Fatalf("scanned: %+v", j)
	}

	if err := j.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if len(j) != 0 {
		t.Fatalf("nil should scan to empty, got %+v", j)
	}

	v, err := itemsJSON(nil).Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if string(v.([]byte)) != "[]" {
		t.Fatalf("nil items must serialize as [], got %s", v)
	}
}

func TestDisconnectedStore(t *testing.T) {
	ctx := context.Background()
	d := NewDisconnected()

	if d.Available() {
		t.Fatal("disconnected store must not report available")
	}

	// Reads degrade to empty, not errors.
	if got, err := d.List(ctx, 10); err != nil || len(got) != 0 {
		t.Fatalf("List = %v, %v", got, err)
	}
	m := core.Month{Year: 2024, Mon: time.May}
	if got, err := d.ListMonth(ctx, m, 10); err != nil || len(got) != 0 {
		t.Fatalf("ListMonth = %v, %v", got, err)
	}

	// Writes surface the unavailability.
	if _, err := d.Insert(ctx, core.Transaction{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Insert err = %v", err)
	}
	if err := d.InsertBatch(ctx, []core.Transaction{{}}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("InsertBatch err = %v", err)
	}
	if err := d.Update(ctx, 1, core.Transaction{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Update err = %v", err)
	}
	if err := d.Delete(ctx, 1); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Delete err = %v", err)
	}
}
