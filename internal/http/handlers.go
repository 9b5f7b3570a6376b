package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coupleledger/internal/ai"
	"coupleledger/internal/core"
	"coupleledger/internal/device"
	"coupleledger/internal/report"
	"coupleledger/internal/store"
)

// maxReceiptBytes bounds the uploaded receipt image.
const maxReceiptBytes = 10 << 20

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Encode response failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondStoreError maps service errors onto API statuses.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "transaction not found")
	case errors.Is(err, store.ErrStoreUnavailable):
		respondError(w, http.StatusServiceUnavailable, "hosted store not configured")
	case errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidCategory),
		errors.Is(err, core.ErrInvalidPayer):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// monthParam reads a month from the query string, defaulting to the
// current month when absent.
func monthParam(r *http.Request) (core.Month, error) {
	v := strings.TrimSpace(r.URL.Query().Get("month"))
	if v == "" {
		return core.MonthOf(time.Now()), nil
	}
	return core.ParseMonth(v)
}

func monthPath(r *http.Request) (core.Month, error) {
	return core.ParseMonth(r.PathValue("month"))
}

func idPath(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// resolvePayer maps API payer input onto the stored identity. Absolute
// values pass through; the relative vocabulary resolves against the
// device role, which is also the fallback for anything unrecognized.
func resolvePayer(s string, deviceRole core.Payer) core.Payer {
	switch s {
	case "1", "2", "together":
		return core.DecodePayer(s, deviceRole)
	}
	return core.ToAbsolute(core.DecodeRelative(s), deviceRole)
}

// txRequest is the transaction write payload.
type txRequest struct {
	TxDate   string      `json:"tx_date"`
	Amount   int64       `json:"amount"`
	Category string      `json:"category"`
	Payer    string      `json:"payer"`
	Merchant string      `json:"merchant"`
	Memo     string      `json:"memo"`
	Items    []core.Item `json:"items"`
}

func (s *Server) requestTransaction(r *http.Request) (core.Transaction, error) {
	var req txRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return core.Transaction{}, err
	}
	role, err := s.settings.DeviceRole(r.Context())
	if err != nil {
		return core.Transaction{}, err
	}
	return core.Transaction{
		TxDate:   req.TxDate,
		Amount:   req.Amount,
		Category: req.Category,
		Payer:    resolvePayer(req.Payer, role),
		Merchant: req.Merchant,
		Memo:     req.Memo,
		Items:    req.Items,
	}, nil
}

// txView is a transaction plus its device-relative display label.
type txView struct {
	core.Transaction
	PayerLabel string `json:"payer_label"`
}

func (s *Server) transactionViews(r *http.Request, txs []core.Transaction) ([]txView, error) {
	label, err := s.ledger.PayerLabeler(r.Context())
	if err != nil {
		return nil, err
	}
	views := make([]txView, len(txs))
	for i, t := range txs {
		views[i] = txView{Transaction: t, PayerLabel: label(t.Payer)}
	}
	return views, nil
}

func (s *Server) handleEnv(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.env)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	var (
		txs []core.Transaction
		err error
	)
	if v := strings.TrimSpace(r.URL.Query().Get("month")); v != "" {
		m, perr := core.ParseMonth(v)
		if perr != nil {
			respondError(w, http.StatusBadRequest, "invalid month")
			return
		}
		txs, err = s.ledger.ListMonth(r.Context(), m)
	} else {
		txs, err = s.ledger.List(r.Context())
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "List transactions failed", "error", err)
		respondStoreError(w, err)
		return
	}

	views, err := s.transactionViews(r, txs)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"transactions": views})
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := s.requestTransaction(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	saved, err := s.ledger.Add(r.Context(), t)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	views, err := s.transactionViews(r, []core.Transaction{saved})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, views[0])
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := idPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	t, err := s.ledger.Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	views, err := s.transactionViews(r, []core.Transaction{t})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, views[0])
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := idPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	t, err := s.requestTransaction(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := s.ledger.Update(r.Context(), id, t)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	views, err := s.transactionViews(r, []core.Transaction{updated})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, views[0])
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := idPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}
	if err := s.ledger.Delete(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteTransactionSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		respondError(w, http.StatusBadRequest, "ids must not be empty")
		return
	}
	if err := s.ledger.DeleteSet(r.Context(), req.IDs); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		respondError(w, http.StatusServiceUnavailable, "receipt scanning not configured")
		return
	}

	image, mimeType, err := receiptImage(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing receipt image")
		return
	}

	draft, err := s.scanner.ParseReceipt(r.Context(), image, mimeType)
	if err != nil {
		if errors.Is(err, ai.ErrNoAPIKey) {
			respondError(w, http.StatusServiceUnavailable, "receipt scanning not configured")
			return
		}
		slog.ErrorContext(r.Context(), "Receipt scan failed", "error", err)
		respondError(w, http.StatusBadGateway, "receipt scan failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"tx_date":  draft.TxDate,
		"merchant": draft.Merchant,
		"amount":   draft.Amount,
		"category": draft.Category,
		"payer":    draft.Payer.String(),
		"memo":     draft.Memo,
		"items":    draft.Items,
	})
}

// receiptImage pulls the image bytes from a multipart form, or the raw
// body when the client posts the image directly.
func receiptImage(r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxReceiptBytes)

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "image/") {
		data, err := io.ReadAll(r.Body)
		if err != nil || len(data) == 0 {
			return nil, "", errors.New("empty image body")
		}
		return data, ct, nil
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		return nil, "", errors.New("empty image file")
	}
	return data, header.Header.Get("Content-Type"), nil
}

// reportView is the wire form of a report state.
type reportView struct {
	Month string `json:"month"`
	report.State
	Report json.RawMessage `json:"report,omitempty"`
}

func reportResponse(m core.Month, st report.State) reportView {
	return reportView{Month: m.String(), State: st, Report: st.Payload}
}

func respondReportError(w http.ResponseWriter, m core.Month, st report.State, err error) {
	switch {
	case errors.Is(err, report.ErrMonthOpen):
		respondJSON(w, http.StatusConflict, map[string]any{
			"error": "month is still open", "unlockDate": st.UnlockDate,
		})
	case errors.Is(err, report.ErrAlreadyGenerated), errors.Is(err, report.ErrArchived):
		respondJSON(w, http.StatusConflict, reportResponse(m, st))
	case errors.Is(err, report.ErrGenerationInFlight):
		respondError(w, http.StatusConflict, "generation already in flight")
	case errors.Is(err, report.ErrNotCached):
		respondError(w, http.StatusNotFound, "no cached report")
	case errors.Is(err, report.ErrNoTransactions):
		respondError(w, http.StatusUnprocessableEntity, "no transactions in month")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleReportState(w http.ResponseWriter, r *http.Request) {
	m, err := monthPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid month")
		return
	}
	st, err := s.reports.State(r.Context(), m)
	if err != nil {
		slog.ErrorContext(r.Context(), "Report state failed", "error", err, "month", m.String())
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, reportResponse(m, st))
}

func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	m, err := monthPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid month")
		return
	}
	st, err := s.reports.Generate(r.Context(), m)
	if err != nil {
		respondReportError(w, m, st, err)
		return
	}
	respondJSON(w, http.StatusCreated, reportResponse(m, st))
}

func (s *Server) handleArchiveReport(w http.ResponseWriter, r *http.Request) {
	m, err := monthPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid month")
		return
	}
	st, err := s.reports.Archive(r.Context(), m)
	if err != nil {
		respondReportError(w, m, st, err)
		return
	}
	respondJSON(w, http.StatusOK, reportResponse(m, st))
}

// settingsView is the wire form of the device settings.
type settingsView struct {
	DeviceRole    string `json:"deviceRole"`
	MeAlias       string `json:"meAlias"`
	YouAlias      string `json:"youAlias"`
	MonthlyBudget int64  `json:"monthlyBudget"`
}

func (s *Server) settingsResponse(r *http.Request) (settingsView, error) {
	role, err := s.settings.DeviceRole(r.Context())
	if err != nil {
		return settingsView{}, err
	}
	me, you, err := s.settings.Aliases(r.Context())
	if err != nil {
		return settingsView{}, err
	}
	budget, err := s.settings.MonthlyBudget(r.Context())
	if err != nil {
		return settingsView{}, err
	}
	return settingsView{
		DeviceRole:    role.String(),
		MeAlias:       me,
		YouAlias:      you,
		MonthlyBudget: budget,
	}, nil
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	view, err := s.settingsResponse(r)
	if err != nil {
		slog.ErrorContext(r.Context(), "Read settings failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceRole    *string `json:"deviceRole"`
		MeAlias       *string `json:"meAlias"`
		YouAlias      *string `json:"youAlias"`
		MonthlyBudget *int64  `json:"monthlyBudget"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	if req.DeviceRole != nil {
		role := core.DecodePayer(*req.DeviceRole, 0)
		if err := s.settings.SetDeviceRole(ctx, role); err != nil {
			respondError(w, http.StatusUnprocessableEntity, "device role must be 1 or 2")
			return
		}
	}
	if req.MeAlias != nil {
		if err := s.settings.SetSetting(ctx, device.KeyMeAlias, strings.TrimSpace(*req.MeAlias)); err != nil {
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	if req.YouAlias != nil {
		if err := s.settings.SetSetting(ctx, device.KeyYouAlias, strings.TrimSpace(*req.YouAlias)); err != nil {
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	if req.MonthlyBudget != nil {
		if err := s.settings.SetMonthlyBudget(ctx, *req.MonthlyBudget); err != nil {
			respondError(w, http.StatusUnprocessableEntity, "budget must be positive")
			return
		}
	}

	view, err := s.settingsResponse(r)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	m, err := monthParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid month")
		return
	}
	sum, err := s.ledger.MonthSummary(r.Context(), m)
	if err != nil {
		slog.ErrorContext(r.Context(), "Month summary failed", "error", err, "month", m.String())
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sum)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	m, err := monthParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid month")
		return
	}
	days, err := s.ledger.Calendar(r.Context(), m)
	if err != nil {
		slog.ErrorContext(r.Context(), "Calendar failed", "error", err, "month", m.String())
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"month": m.String(), "days": days})
}
