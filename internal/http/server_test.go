package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coupleledger/internal/ai"
	"coupleledger/internal/core"
	"coupleledger/internal/ledger"
	"coupleledger/internal/report"
	"coupleledger/internal/store"
)

type fakeLedger struct {
	txs    []core.Transaction
	nextID int64
	role   core.Payer
}

func (f *fakeLedger) Add(_ context.Context, t core.Transaction) (core.Transaction, error) {
	t = t.Normalized()
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	f.nextID++
	t.ID = f.nextID
	f.txs = append(f.txs, t)
	return t, nil
}

func (f *fakeLedger) Get(_ context.Context, id int64) (core.Transaction, error) {
	for _, t := range f.txs {
		if t.ID == id {
			return t, nil
		}
	}
	return core.Transaction{}, store.ErrNotFound
}

func (f *fakeLedger) Update(_ context.Context, id int64, t core.Transaction) (core.Transaction, error) {
	for i := range f.txs {
		if f.txs[i].ID == id {
			t = t.Normalized()
			if err := t.Validate(); err != nil {
				return core.Transaction{}, err
			}
			t.ID = id
			f.txs[i] = t
			return t, nil
		}
	}
	return core.Transaction{}, store.ErrNotFound
}

func (f *fakeLedger) Delete(_ context.Context, id int64) error {
	for i := range f.txs {
		if f.txs[i].ID == id {
			f.txs = append(f.txs[:i], f.txs[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeLedger) DeleteSet(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if err := f.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeLedger) ListMonth(_ context.Context, m core.Month) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, t := range f.txs {
		if m.Contains(t.TxDate) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeLedger) List(context.Context) ([]core.Transaction, error) {
	return f.txs, nil
}

func (f *fakeLedger) MonthSummary(ctx context.Context, m core.Month) (ledger.Summary, error) {
	txs, _ := f.ListMonth(ctx, m)
	sum := ledger.Summary{
		Month:      m.String(),
		Count:      len(txs),
		ByCategory: map[string]int64{},
		ByPayer:    map[string]int64{},
		Budget:     core.DefaultMonthlyBudget,
	}
	for _, t := range txs {
		sum.Total += t.Amount
		sum.ByCategory[t.Category] += t.Amount
	}
	sum.Remaining = sum.Budget - sum.Total
	return sum, nil
}

func (f *fakeLedger) Calendar(ctx context.Context, m core.Month) ([]ledger.CalendarDay, error) {
	days := make([]ledger.CalendarDay, m.Days())
	start := time.Date(m.Year, m.Mon, 1, 0, 0, 0, 0, time.UTC)
	for i := range days {
		days[i].Date = core.Today(start.AddDate(0, 0, i))
	}
	return days, nil
}

func (f *fakeLedger) PayerLabeler(context.Context) (func(core.Payer) string, error) {
	role := f.role
	if role == 0 {
		role = core.RoleOne
	}
	return func(p core.Payer) string {
		return core.Label(p, role, "", "")
	}, nil
}

type fakeReports struct {
	states map[string]report.State
	err    error
}

func (f *fakeReports) state(m core.Month) report.State {
	if st, ok := f.states[m.String()]; ok {
		return st
	}
	return report.State{Month: m, Phase: report.Generatable}
}

func (f *fakeReports) State(_ context.Context, m core.Month) (report.State, error) {
	return f.state(m), nil
}

func (f *fakeReports) Generate(_ context.Context, m core.Month) (report.State, error) {
	if f.err != nil {
		return f.state(m), f.err
	}
	st := report.State{Month: m, Phase: report.CachedUnarchived, Payload: []byte(`{"subtitle":"s"}`)}
	if f.states == nil {
		f.states = map[string]report.State{}
	}
	f.states[m.String()] = st
	return st, nil
}

func (f *fakeReports) Archive(_ context.Context, m core.Month) (report.State, error) {
	if f.err != nil {
		return f.state(m), f.err
	}
	st := f.state(m)
	st.Phase = report.CachedArchived
	return st, nil
}

type fakeScanner struct {
	draft ai.ReceiptDraft
	err   error
}

func (f *fakeScanner) ParseReceipt(context.Context, []byte, string) (ai.ReceiptDraft, error) {
	return f.draft, f.err
}

type fakeSettings struct {
	role   core.Payer
	me     string
	you    string
	budget int64
}

func (f *fakeSettings) DeviceRole(context.Context) (core.Payer, error) {
	if f.role == 0 {
		return core.RoleOne, nil
	}
	return f.role, nil
}

func (f *fakeSettings) SetDeviceRole(_ context.Context, role core.Payer) error {
	if role != core.RoleOne && role != core.RoleTwo {
		return core.ErrInvalidPayer
	}
	f.role = role
	return nil
}

func (f *fakeSettings) Aliases(context.Context) (string, string, error) {
	me, you := f.me, f.you
	if me == "" {
		me = core.DefaultMeAlias
	}
	if you == "" {
		you = core.DefaultYouAlias
	}
	return me, you, nil
}

func (f *fakeSettings) SetSetting(_ context.Context, key, value string) error {
	switch key {
	case "alias_me":
		f.me = value
	case "alias_you":
		f.you = value
	}
	return nil
}

func (f *fakeSettings) MonthlyBudget(context.Context) (int64, error) {
	if f.budget == 0 {
		return core.DefaultMonthlyBudget, nil
	}
	return f.budget, nil
}

func (f *fakeSettings) SetMonthlyBudget(_ context.Context, budget int64) error {
	if budget <= 0 {
		return core.ErrInvalidAmount
	}
	f.budget = budget
	return nil
}

type testServer struct {
	*Server
	ledger   *fakeLedger
	reports  *fakeReports
	scanner  *fakeScanner
	settings *fakeSettings
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	fl := &fakeLedger{}
	fr := &fakeReports{}
	fc := &fakeScanner{}
	fs := &fakeSettings{}
	s := NewServer(Options{
		Addr:       ":0",
		Env:        Env{SupabaseURL: "https://example.supabase.co", SupabaseAnonKey: "anon-key"},
		StoreReady: true,
	}, fl, fr, fc, fs)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return &testServer{Server: s, ledger: fl, reports: fr, scanner: fc, settings: fs}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestEnvEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/env", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	env := decode[Env](t, rec)
	if env.SupabaseURL != "https://example.supabase.co" || env.SupabaseAnonKey != "anon-key" {
		t.Fatalf("env = %+v", env)
	}
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)
	if rec := ts.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rec.Code)
	}
}

func TestCreateTransactionResolvesPayer(t *testing.T) {
	ts := newTestServer(t)
	ts.settings.role = core.RoleOne

	rec := ts.do(t, http.MethodPost, "/api/transactions", map[string]any{
		"tx_date":  "2024-05-03",
		"amount":   12000,
		"category": "식비",
		"payer":    "you",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	got := decode[struct {
		ID         int64  `json:"id"`
		Payer      string `json:"payer"`
		PayerLabel string `json:"payer_label"`
		Merchant   string `json:"merchant"`
	}](t, rec)
	if got.ID == 0 {
		t.Fatal("id missing")
	}
	// Role-1 device, "you" resolves to the partner role.
	if got.Payer != "2" {
		t.Fatalf("payer = %q", got.Payer)
	}
	if got.PayerLabel != core.DefaultYouAlias {
		t.Fatalf("payer_label = %q", got.PayerLabel)
	}
	if got.Merchant != core.DefaultMerchant {
		t.Fatalf("merchant = %q", got.Merchant)
	}
}

func TestCreateTransactionRejectsInvalid(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/transactions", map[string]any{
		"tx_date": "2024-05-03", "amount": 0, "category": "식비", "payer": "me",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/transactions", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body status = %d", rec.Code)
	}
}

func TestTransactionCRUD(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/transactions", map[string]any{
		"tx_date": "2024-05-03", "amount": 9000, "category": "카페", "payer": "me",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("post = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/transactions/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPut, "/api/transactions/1", map[string]any{
		"tx_date": "2024-05-04", "amount": 4500, "category": "카페", "payer": "together",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put = %d body = %s", rec.Code, rec.Body.String())
	}
	updated := decode[map[string]any](t, rec)
	if updated["payer"] != "together" || updated["amount"].(float64) != 4500 {
		t.Fatalf("updated = %+v", updated)
	}

	rec = ts.do(t, http.MethodDelete, "/api/transactions/1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/transactions/1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d", rec.Code)
	}
}

func TestListTransactionsByMonth(t *testing.T) {
	ts := newTestServer(t)
	for _, d := range []string{"2024-05-01", "2024-05-20", "2024-06-01"} {
		rec := ts.do(t, http.MethodPost, "/api/transactions", map[string]any{
			"tx_date": d, "amount": 1000, "category": "식비", "payer": "me",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed %s: %d", d, rec.Code)
		}
	}

	rec := ts.do(t, http.MethodGet, "/api/transactions?month=2024-05", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[map[string][]map[string]any](t, rec)
	if len(got["transactions"]) != 2 {
		t.Fatalf("month list = %d rows", len(got["transactions"]))
	}

	rec = ts.do(t, http.MethodGet, "/api/transactions?month=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad month status = %d", rec.Code)
	}
}

func TestDeleteTransactionSet(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		ts.do(t, http.MethodPost, "/api/transactions", map[string]any{
			"tx_date": "2024-05-01", "amount": 1000, "category": "식비", "payer": "me",
		})
	}

	rec := ts.do(t, http.MethodDelete, "/api/transactions", map[string]any{"ids": []int64{1, 2}})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(ts.ledger.txs) != 1 {
		t.Fatalf("left %d rows", len(ts.ledger.txs))
	}

	rec = ts.do(t, http.MethodDelete, "/api/transactions", map[string]any{"ids": []int64{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty ids status = %d", rec.Code)
	}
}

func TestReportEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/reports/2024-05", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state = %d", rec.Code)
	}
	st := decode[map[string]any](t, rec)
	if st["phase"] != "generatable" {
		t.Fatalf("phase = %v", st["phase"])
	}

	rec = ts.do(t, http.MethodPost, "/api/reports/2024-05/generate", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate = %d", rec.Code)
	}
	gen := decode[map[string]any](t, rec)
	if gen["phase"] != "cached" || gen["report"] == nil {
		t.Fatalf("generate body = %+v", gen)
	}

	rec = ts.do(t, http.MethodPost, "/api/reports/2024-05/archive", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("archive = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/reports/not-a-month", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad month = %d", rec.Code)
	}
}

func TestReportErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		err  error
		want int
	}{
		{report.ErrMonthOpen, http.StatusConflict},
		{report.ErrAlreadyGenerated, http.StatusConflict},
		{report.ErrArchived, http.StatusConflict},
		{report.ErrGenerationInFlight, http.StatusConflict},
		{report.ErrNoTransactions, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		ts.reports.err = tc.err
		rec := ts.do(t, http.MethodPost, "/api/reports/2024-05/generate", nil)
		if rec.Code != tc.want {
			t.Fatalf("%v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}

	ts.reports.err = report.ErrNotCached
	rec := ts.do(t, http.MethodPost, "/api/reports/2024-05/archive", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("archive without cache = %d", rec.Code)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/settings", nil)
	got := decode[settingsView](t, rec)
	if got.DeviceRole != "1" || got.MeAlias != core.DefaultMeAlias {
		t.Fatalf("defaults = %+v", got)
	}

	rec = ts.do(t, http.MethodPut, "/api/settings", map[string]any{
		"deviceRole": "2", "meAlias": "자기", "monthlyBudget": 2000000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put = %d body = %s", rec.Code, rec.Body.String())
	}
	got = decode[settingsView](t, rec)
	if got.DeviceRole != "2" || got.MeAlias != "자기" || got.MonthlyBudget != 2000000 {
		t.Fatalf("updated = %+v", got)
	}

	rec = ts.do(t, http.MethodPut, "/api/settings", map[string]any{"monthlyBudget": -5})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("negative budget = %d", rec.Code)
	}
}

func TestSummaryAndCalendar(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/transactions", map[string]any{
		"tx_date": "2024-05-03", "amount": 12000, "category": "식비", "payer": "me",
	})

	rec := ts.do(t, http.MethodGet, "/api/summary?month=2024-05", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary = %d", rec.Code)
	}
	sum := decode[ledger.Summary](t, rec)
	if sum.Total != 12000 || sum.Month != "2024-05" {
		t.Fatalf("summary = %+v", sum)
	}

	rec = ts.do(t, http.MethodGet, "/api/calendar?month=2024-05", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("calendar = %d", rec.Code)
	}
	cal := decode[struct {
		Month string               `json:"month"`
		Days  []ledger.CalendarDay `json:"days"`
	}](t, rec)
	if cal.Month != "2024-05" || len(cal.Days) != 31 {
		t.Fatalf("calendar = %+v", cal.Month)
	}
}

func TestScanReceipt(t *testing.T) {
	ts := newTestServer(t)
	ts.scanner.draft = ai.ReceiptDraft{
		TxDate:   "2024-05-03",
		Merchant: "김밥천국",
		Amount:   15500,
		Category: core.CatFood,
		Payer:    core.Shared,
		Items:    []core.Item{},
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "receipt.jpg")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write([]byte{0xff, 0xd8, 0xff})
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/receipts/scan", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	got := decode[map[string]any](t, rec)
	if got["payer"] != "together" || got["merchant"] != "김밥천국" {
		t.Fatalf("draft = %+v", got)
	}
}

func TestScanReceiptWithoutScanner(t *testing.T) {
	fl := &fakeLedger{}
	s := NewServer(Options{Addr: ":0"}, fl, &fakeReports{}, nil, &fakeSettings{})
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	req := httptest.NewRequest(http.MethodPost, "/api/receipts/scan", strings.NewReader(""))
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestScanReceiptRawBody(t *testing.T) {
	ts := newTestServer(t)
	ts.scanner.draft = ai.ReceiptDraft{TxDate: "2024-05-03", Merchant: "편의점", Amount: 3000, Category: core.CatFood, Payer: core.Me}

	req := httptest.NewRequest(http.MethodPost, "/api/receipts/scan", bytes.NewReader([]byte{0x89, 0x50}))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}
