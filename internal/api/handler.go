package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/export"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/settlement"
	"github.com/mtlprog/fundcore/internal/store"
	"github.com/mtlprog/fundcore/internal/txjson"
	"github.com/mtlprog/fundcore/internal/worker"
)

const maxBodyBytes = 1 << 20

// Handler provides HTTP endpoints for the fund API.
type Handler struct {
	fund    *settlement.Service
	reports *export.Service
	now     func() time.Time
}

// NewHandler creates a new API handler. reports may be nil, in which case
// the workbook download is not served.
func NewHandler(fund *settlement.Service, reports *export.Service) *Handler {
	return &Handler{fund: fund, reports: reports, now: time.Now}
}

// cellResponse is a protocol cell together with its decoded state.
type cellResponse struct {
	Cell  txjson.Output `json:"cell"`
	State any           `json:"state"`
}

// supplyResponse adds the derived period status to the supply cell.
type supplyResponse struct {
	cellResponse
	Status worker.PeriodStatus `json:"status"`
}

// SubmitTransition handles POST /api/v1/transitions.
func (h *Handler) SubmitTransition(w http.ResponseWriter, r *http.Request) {
	tx, ok := decodeTx(w, r)
	if !ok {
		return
	}
	res, err := h.fund.Submit(r.Context(), tx)
	if err != nil {
		writeRejection(w, tx.ID, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ValidateTransition handles POST /api/v1/transitions/validate.
func (h *Handler) ValidateTransition(w http.ResponseWriter, r *http.Request) {
	tx, ok := decodeTx(w, r)
	if !ok {
		return
	}
	report, err := h.fund.Validate(r.Context(), tx)
	if err != nil {
		writeRejection(w, tx.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListTransitions handles GET /api/v1/transitions.
func (h *Handler) ListTransitions(w http.ResponseWriter, r *http.Request) {
	const maxLimit = 500
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = min(n, maxLimit)
		}
	}

	transitions, err := h.fund.Transitions(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list transitions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if transitions == nil {
		transitions = []store.Transition{}
	}
	writeJSON(w, http.StatusOK, transitions)
}

// GetSupply handles GET /api/v1/supply.
func (h *Handler) GetSupply(w http.ResponseWriter, r *http.Request) {
	sup, cell, err := h.fund.Supply(r.Context())
	if err != nil {
		writeLookupError(w, "supply", err)
		return
	}
	status, err := worker.CheckPeriod(sup, h.fund.Params().ManagementFee, h.now())
	if err != nil {
		slog.Error("failed to compute period status", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp, ok := newCellResponse(w, cell, sup)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, supplyResponse{cellResponse: resp, Status: status})
}

// GetPrice handles GET /api/v1/price.
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	feed, cell, err := h.fund.Feed(r.Context())
	if err != nil {
		writeLookupError(w, "price", err)
		return
	}
	writeCell(w, cell, feed)
}

// GetPortfolio handles GET /api/v1/portfolio.
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, cell, err := h.fund.Portfolio(r.Context())
	if err != nil {
		writeLookupError(w, "portfolio", err)
		return
	}
	writeCell(w, cell, p)
}

// ListGroups handles GET /api/v1/groups.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.fund.Groups(r.Context())
	if err != nil {
		writeLookupError(w, "asset groups", err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// GetGroup handles GET /api/v1/groups/{id}.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	g, cell, err := h.fund.Group(r.Context(), id)
	if err != nil {
		writeLookupError(w, "asset group", err)
		return
	}
	writeCell(w, cell, g)
}

// GetReimbursement handles GET /api/v1/reimbursements/{period}.
func (h *Handler) GetReimbursement(w http.ResponseWriter, r *http.Request) {
	period, err := strconv.ParseInt(chi.URLParam(r, "period"), 10, 64)
	if err != nil || period < 0 {
		writeError(w, http.StatusBadRequest, "invalid period id")
		return
	}
	re, cell, err := h.fund.Reimbursement(r.Context(), period)
	if err != nil {
		writeLookupError(w, "reimbursement", err)
		return
	}
	writeCell(w, cell, re)
}

// GetSchedule handles GET /api/v1/schedule?alpha=1.5.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	alpha, err := decimal.NewFromString(r.URL.Query().Get("alpha"))
	if err != nil || !alpha.IsPositive() {
		writeError(w, http.StatusBadRequest, "alpha must be a positive decimal")
		return
	}
	writeJSON(w, http.StatusOK, h.fund.Params().SuccessFee.Quote(alpha))
}

// GetWorkbook handles GET /api/v1/export.xlsx.
func (h *Handler) GetWorkbook(w http.ResponseWriter, r *http.Request) {
	sheets, err := h.reports.Build(r.Context())
	if err != nil {
		slog.Error("failed to build report", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="fund-report.xlsx"`)
	if err := export.WriteTo(w, sheets); err != nil {
		slog.Warn("failed to stream report", "error", err)
	}
}

func decodeTx(w http.ResponseWriter, r *http.Request) (txjson.Tx, bool) {
	var tx txjson.Tx
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "invalid transition: "+err.Error())
		return txjson.Tx{}, false
	}
	return tx, true
}

// rejectionStatus maps a validation failure to an HTTP status.
func rejectionStatus(err error) int {
	switch {
	case errors.Is(err, settlement.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrStale), errors.Is(err, store.ErrNotFound):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrIndex),
		errors.Is(err, domain.ErrMismatch),
		errors.Is(err, domain.ErrExpired),
		errors.Is(err, domain.ErrInsufficientValue),
		errors.Is(err, domain.ErrScheduleInvalid),
		errors.Is(err, domain.ErrArithmetic):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeRejection(w http.ResponseWriter, txID string, err error) {
	status := rejectionStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("failed to process transition", "tx", txID, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func writeLookupError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	slog.Error("failed to read cell", "cell", what, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func newCellResponse(w http.ResponseWriter, cell ledger.Output, state any) (cellResponse, bool) {
	wire, err := txjson.EncodeOutput(cell)
	if err != nil {
		slog.Error("failed to encode cell", "ref", cell.Ref, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return cellResponse{}, false
	}
	return cellResponse{Cell: wire, State: state}, true
}

func writeCell(w http.ResponseWriter, cell ledger.Output, state any) {
	if resp, ok := newCellResponse(w, cell, state); ok {
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to write HTTP response body", "error", err)
		return
	}
	_, _ = w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
