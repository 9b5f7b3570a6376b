package core

import (
	"errors"
	"fmt"
	"time"
)

// Month identifies one calendar month, the key for report cache entries
// and month-scoped queries. The wire form is "YYYY-MM".
type Month struct {
	Year int
	Mon  time.Month
}

var ErrInvalidMonth = errors.New("invalid month")

// ParseMonth parses the literal YYYY-MM form.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, ErrInvalidMonth
	}
	return Month{Year: t.Year(), Mon: t.Month()}, nil
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Mon: t.Month()}
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Mon))
}

func (m Month) IsZero() bool {
	return m.Year == 0
}

// Next returns the following calendar month.
func (m Month) Next() Month {
	t := time.Date(m.Year, m.Mon, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return MonthOf(t)
}

// Prev returns the preceding calendar month.
func (m Month) Prev() Month {
	t := time.Date(m.Year, m.Mon, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return MonthOf(t)
}

// Closed reports whether the month has ended relative to now. Reports may
// only be generated for closed months.
func (m Month) Closed(now time.Time) bool {
	cur := MonthOf(now)
	if m.Year != cur.Year {
		return m.Year < cur.Year
	}
	return m.Mon < cur.Mon
}

// UnlockDate is the first day of the following month, when report
// generation for this month opens up.
func (m Month) UnlockDate() time.Time {
	n := m.Next()
	return time.Date(n.Year, n.Mon, 1, 0, 0, 0, 0, time.UTC)
}

// DateRange returns the inclusive first and last tx_date strings of the
// month, for store range filters.
func (m Month) DateRange() (first, last string) {
	start := time.Date(m.Year, m.Mon, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return start.Format("2006-01-02"), end.Format("2006-01-02")
}

// Days returns the number of days in the month.
func (m Month) Days() int {
	start := time.Date(m.Year, m.Mon, 1, 0, 0, 0, 0, time.UTC)
	return start.AddDate(0, 1, -1).Day()
}

// Contains reports whether a tx_date string falls inside the month.
func (m Month) Contains(txDate string) bool {
	return len(txDate) >= 7 && txDate[:7] == m.String()
}
