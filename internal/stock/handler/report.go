package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/pharmstock/pharmstock-backend/internal/stock/service"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// ReportHandler handles audit and reporting endpoints
type ReportHandler struct {
	service *service.StockService
	logger  *logger.Logger
}

// NewReportHandler creates a new report handler
func NewReportHandler(svc *service.StockService, log *logger.Logger) *ReportHandler {
	return &ReportHandler{
		service: svc,
		logger:  log,
	}
}

// TransactionSummary reports ledger activity by type and reason over a
// date range
func (h *ReportHandler) TransactionSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	summary, err := h.service.TransactionSummary(r.Context(), from, to)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, summary)
}

// DailyStatistics reports per-day entry counts and quantities
func (h *ReportHandler) DailyStatistics(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	stats, err := h.service.DailyStatistics(r.Context(), from, to)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, stats)
}

// DepartmentActivity reports outbound activity per department
func (h *ReportHandler) DepartmentActivity(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	report, err := h.service.DepartmentActivity(r.Context(), from, to)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

// StockStatus buckets every active medicine by stock level
func (h *ReportHandler) StockStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.StockStatusSummary(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

// LowStock lists medicines below their configured minimum
func (h *ReportHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	medicines, err := h.service.LowStockMedicines(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, medicines)
}

// Expiring lists lots expiring within a number of days (default 30)
func (h *ReportHandler) Expiring(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))

	lots, err := h.service.ExpiringLots(r.Context(), days)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// Expired lists lots past their expiry date still holding stock
func (h *ReportHandler) Expired(w http.ResponseWriter, r *http.Request) {
	lots, err := h.service.ExpiredLots(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

func dateRange(r *http.Request) (from, to time.Time, err error) {
	if from, err = parseDate(r.URL.Query().Get("from")); err != nil {
		return from, to, errors.BadRequest("invalid from date")
	}
	if to, err = parseDate(r.URL.Query().Get("to")); err != nil {
		return from, to, errors.BadRequest("invalid to date")
	}
	return from, to, nil
}
