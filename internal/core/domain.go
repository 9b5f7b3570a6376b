package core

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Category labels as stored in the transactions table. 기타 is the
// catch-all every unknown value normalizes to.
const (
	CatFood      = "식비"
	CatCafe      = "카페"
	CatTransport = "교통"
	CatShopping  = "쇼핑"
	CatMedical   = "의료"
	CatHousing   = "주거"
	CatCulture   = "문화생활"
	CatEtc       = "기타"
)

// Categories lists every valid category label, catch-all last.
var Categories = []string{
	CatFood, CatCafe, CatTransport, CatShopping,
	CatMedical, CatHousing, CatCulture, CatEtc,
}

const (
	// MaxAmount bounds a single transaction in whole KRW.
	MaxAmount = 100_000_000

	MaxMerchantLen = 100
	MaxMemoLen     = 500

	// DefaultMerchant is the placeholder for receipts with no readable
	// merchant name.
	DefaultMerchant = "미상"

	DefaultMonthlyBudget = 1_500_000
)

var (
	ErrInvalidDate     = errors.New("invalid transaction date")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidCategory = errors.New("category outside the fixed set")
	ErrInvalidPayer    = errors.New("invalid payer")
)

var txDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

type (
	// Item is a single receipt line item. Prices are whole KRW.
	Item struct {
		Name  string `json:"name"`
		Price int64  `json:"price"`
	}

	// Transaction is one ledger entry as persisted in the hosted store.
	// ID and CreatedAt are assigned by the store on insert.
	Transaction struct {
		ID        int64     `json:"id,omitempty"`
		TxDate    string    `json:"tx_date"`
		Amount    int64     `json:"amount"`
		Category  string    `json:"category"`
		Payer     Payer     `json:"payer"`
		Merchant  string    `json:"merchant"`
		Memo      string    `json:"memo"`
		Items     []Item    `json:"items"`
		CreatedAt time.Time `json:"created_at,omitempty"`
	}
)

// NormalizeCategory maps any string onto the fixed category set.
// Unknown or empty values become the catch-all rather than an error.
func NormalizeCategory(s string) string {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if s == c {
			return c
		}
	}
	return CatEtc
}

// ValidDate reports whether s is a real calendar date in the literal
// YYYY-MM-DD form the store expects.
func ValidDate(s string) bool {
	if !txDatePattern.MatchString(s) {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// Normalized returns a copy with the per-field defaults applied: category
// snapped to the enumeration, merchant defaulted and truncated, memo
// truncated, items never nil. Validation still has to pass afterwards.
func (t Transaction) Normalized() Transaction {
	t.Category = NormalizeCategory(t.Category)
	t.Merchant = strings.TrimSpace(t.Merchant)
	if t.Merchant == "" {
		t.Merchant = DefaultMerchant
	}
	t.Merchant = truncate(t.Merchant, MaxMerchantLen)
	t.Memo = truncate(strings.TrimSpace(t.Memo), MaxMemoLen)
	if t.Items == nil {
		t.Items = []Item{}
	}
	if t.Payer == 0 {
		t.Payer = RoleOne
	}
	return t
}

// Validate enforces the persisted-transaction invariants. The client never
// relies on the store to reject bad rows.
func (t Transaction) Validate() error {
	if !ValidDate(t.TxDate) {
		return ErrInvalidDate
	}
	if t.Amount <= 0 || t.Amount > MaxAmount {
		return ErrInvalidAmount
	}
	if NormalizeCategory(t.Category) != t.Category {
		return ErrInvalidCategory
	}
	if !t.Payer.Valid() {
		return ErrInvalidPayer
	}
	return nil
}

// truncate cuts s to at most n runes. Merchant and memo text is Korean,
// so byte slicing would split characters.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Today formats now as a tx_date string in local time.
func Today(now time.Time) string {
	return now.Format("2006-01-02")
}
