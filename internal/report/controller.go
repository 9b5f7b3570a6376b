// Package report drives the monthly report lifecycle. A month moves
// through four phases: locked while it is still running, generatable once
// it has closed, cached after a successful generation, and archived once
// the couple has exported it. The cached payload lives in the device
// store so a generated report survives restarts and never costs a second
// model call.
package report

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coupleledger/internal/core"
	"coupleledger/internal/device"
	"coupleledger/internal/log"
	"coupleledger/internal/store"
)

// SchemaVersion is the version of the cached payload format. Bumping it
// invalidates every cached report: stale entries are treated as absent
// and their months become generatable again.
const SchemaVersion = 2

var (
	// ErrMonthOpen means the month has not closed yet and cannot be
	// generated.
	ErrMonthOpen = errors.New("month is still open")

	// ErrAlreadyGenerated means a current-version report is cached and
	// regeneration was refused.
	ErrAlreadyGenerated = errors.New("report already generated")

	// ErrArchived means the report was exported and is now read-only.
	ErrArchived = errors.New("report is archived")

	// ErrGenerationInFlight means another generation for the same month
	// is running.
	ErrGenerationInFlight = errors.New("generation already in flight")

	// ErrNotCached means no usable report exists for the month.
	ErrNotCached = errors.New("no cached report")

	// ErrNoTransactions means the month has nothing to report on.
	ErrNoTransactions = errors.New("no transactions in month")
)

// Phase is where a month currently sits in the report lifecycle.
type Phase int

const (
	Locked Phase = iota + 1
	Generatable
	CachedUnarchived
	CachedArchived
)

func (p Phase) String() string {
	switch p {
	case Locked:
		return "locked"
	case Generatable:
		return "generatable"
	case CachedUnarchived:
		return "cached"
	case CachedArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the phase as its lowercase name.
func (p Phase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// State is the externally visible status of one month.
type State struct {
	Month       core.Month `json:"-"`
	Phase       Phase      `json:"phase"`
	Payload     []byte     `json:"-"`
	GeneratedAt time.Time  `json:"generatedAt,omitzero"`
	ArchivedAt  time.Time  `json:"archivedAt,omitzero"`
	// UnlockDate is set only while the month is locked.
	UnlockDate string `json:"unlockDate,omitempty"`
}

// CacheStore is the slice of the device store the controller needs.
type CacheStore interface {
	ReportEntry(ctx context.Context, m core.Month) (device.ReportEntry, bool, error)
	SaveReport(ctx context.Context, m core.Month, payload []byte, schemaVersion int) error
	MarkArchived(ctx context.Context, m core.Month) error
}

// Summarizer turns a closed month of transactions into the report
// payload that gets cached.
type Summarizer interface {
	Summarize(ctx context.Context, m core.Month, txs []core.Transaction) ([]byte, error)
}

// Controller owns the per-month report state machine.
type Controller struct {
	cache      CacheStore
	txs        store.TransactionReader
	summarizer Summarizer
	logger     *log.Logger

	// allowCurrentMonth unlocks the running month, for development.
	allowCurrentMonth bool
	listLimit         int
	now               func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
}

type Options struct {
	AllowCurrentMonth bool
	ListLimit         int
	Now               func() time.Time
}

func NewController(cache CacheStore, txs store.TransactionReader, summarizer Summarizer, logger *log.Logger, opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ListLimit <= 0 {
		opts.ListLimit = 10000
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentReport)
	}
	return &Controller{
		cache:             cache,
		txs:               txs,
		summarizer:        summarizer,
		logger:            logger,
		allowCurrentMonth: opts.AllowCurrentMonth,
		listLimit:         opts.ListLimit,
		now:               opts.Now,
		inFlight:          make(map[string]bool),
	}
}

// State classifies a month. A cached entry written under an older schema
// version counts as absent, which reopens the month for generation.
func (c *Controller) State(ctx context.Context, m core.Month) (State, error) {
	st := State{Month: m}

	if !m.Closed(c.now()) && !c.allowCurrentMonth {
		st.Phase = Locked
		st.UnlockDate = core.Today(m.UnlockDate())
		return st, nil
	}

	e, ok, err := c.cache.ReportEntry(ctx, m)
	if err != nil {
		return State{}, fmt.Errorf("load report cache: %w", err)
	}
	if !ok || e.SchemaVersion != SchemaVersion {
		st.Phase = Generatable
		return st, nil
	}

	st.Payload = e.Payload
	st.GeneratedAt = e.GeneratedAt
	if e.Archived {
		st.Phase = CachedArchived
		if e.ArchivedAt.Valid {
			st.ArchivedAt = e.ArchivedAt.Time
		}
	} else {
		st.Phase = CachedUnarchived
	}
	return st, nil
}

// Generate produces and caches the report for a generatable month. It
// refuses locked months, months already holding a current-version report,
// and months generating on another request. A failed generation leaves
// the persisted state untouched.
func (c *Controller) Generate(ctx context.Context, m core.Month) (State, error) {
	st, err := c.State(ctx, m)
	if err != nil {
		return State{}, err
	}
	switch st.Phase {
	case Locked:
		return st, ErrMonthOpen
	case CachedArchived:
		return st, ErrArchived
	case CachedUnarchived:
		return st, ErrAlreadyGenerated
	}

	if !c.begin(m) {
		return st, ErrGenerationInFlight
	}
	defer c.end(m)

	txs, err := c.txs.ListMonth(ctx, m, c.listLimit)
	if err != nil {
		return State{}, fmt.Errorf("list month transactions: %w", err)
	}
	if len(txs) == 0 {
		return st, ErrNoTransactions
	}

	payload, err := c.summarizer.Summarize(ctx, m, txs)
	if err != nil {
		c.logger.ErrorContext(ctx, "Report generation failed",
			log.FieldOperation, log.OpGenerate,
			log.FieldMonth, m.String(),
			log.FieldError, err)
		return State{}, fmt.Errorf("summarize month %s: %w", m, err)
	}

	if err := c.cache.SaveReport(ctx, m, payload, SchemaVersion); err != nil {
		return State{}, err
	}

	c.logger.InfoContext(ctx, "Report generated",
		log.FieldOperation, log.OpGenerate,
		log.FieldMonth, m.String(),
		log.FieldCount, len(txs))

	return c.State(ctx, m)
}

// Archive flags the cached report as exported. Archiving an already
// archived month is a no-op; archiving a month without a current-version
// report is refused.
func (c *Controller) Archive(ctx context.Context, m core.Month) (State, error) {
	st, err := c.State(ctx, m)
	if err != nil {
		return State{}, err
	}
	switch st.Phase {
	case CachedArchived:
		return st, nil
	case Locked, Generatable:
		return st, ErrNotCached
	}

	if err := c.cache.MarkArchived(ctx, m); err != nil {
		if errors.Is(err, device.ErrNoReport) {
			return st, ErrNotCached
		}
		return State{}, err
	}

	c.logger.InfoContext(ctx, "Report archived",
		log.FieldOperation, log.OpArchive,
		log.FieldMonth, m.String())

	return c.State(ctx, m)
}

// Cached returns the stored payload for a month, archived or not.
func (c *Controller) Cached(ctx context.Context, m core.Month) ([]byte, error) {
	st, err := c.State(ctx, m)
	if err != nil {
		return nil, err
	}
	if st.Phase != CachedUnarchived && st.Phase != CachedArchived {
		return nil, ErrNotCached
	}
	return st.Payload, nil
}

func (c *Controller) begin(m core.Month) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := m.String()
	if c.inFlight[key] {
		return false
	}
	c.inFlight[key] = true
	return true
}

func (c *Controller) end(m core.Month) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, m.String())
}
