package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/internal/stock/service"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// TransactionHandler handles ledger endpoints
type TransactionHandler struct {
	service *service.StockService
	logger  *logger.Logger
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(svc *service.StockService, log *logger.Logger) *TransactionHandler {
	return &TransactionHandler{
		service: svc,
		logger:  log,
	}
}

// List searches ledger entries, newest first
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	q := r.URL.Query()

	filter := repository.TransactionFilter{
		MedicineID:  q.Get("medicine_id"),
		LotID:       q.Get("lot_id"),
		Department:  q.Get("department"),
		PerformedBy: q.Get("performed_by"),
	}

	if t := q.Get("type"); t != "" {
		txType := repository.TransactionType(t)
		if !txType.Valid() {
			httputil.Error(w, errors.BadRequest("unknown transaction type"))
			return
		}
		filter.Type = txType
	}
	if rs := q.Get("reason"); rs != "" {
		reason := repository.TransactionReason(rs)
		if !reason.Valid() {
			httputil.Error(w, errors.BadRequest("unknown transaction reason"))
			return
		}
		filter.Reason = reason
	}

	var err error
	if filter.From, err = parseDate(q.Get("from")); err != nil {
		httputil.Error(w, errors.BadRequest("invalid from date"))
		return
	}
	if filter.To, err = parseDate(q.Get("to")); err != nil {
		httputil.Error(w, errors.BadRequest("invalid to date"))
		return
	}

	entries, total, err := h.service.SearchTransactions(r.Context(), filter, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, entries, paginationMeta(page, perPage, total))
}

// Get gets a ledger entry by ID
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entry)
}

// Recent lists the most recent ledger entries
func (h *TransactionHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	entries, err := h.service.RecentTransactions(r.Context(), limit)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entries)
}

// Reverse appends a compensating entry undoing a ledger entry
func (h *TransactionHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.Error(w, err)
		return
	}

	reversal, err := h.service.Reverse(r.Context(), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, reversal)
}

// parseDate accepts a plain date or an RFC 3339 timestamp. An empty
// value parses to the zero time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
