package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/internal/stock/service"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// LotHandler handles stock lot endpoints
type LotHandler struct {
	service *service.StockService
	logger  *logger.Logger
}

// NewLotHandler creates a new lot handler
func NewLotHandler(svc *service.StockService, log *logger.Logger) *LotHandler {
	return &LotHandler{
		service: svc,
		logger:  log,
	}
}

// List lists stock lots
func (h *LotHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	q := r.URL.Query()

	status := repository.LotStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		httputil.Error(w, errors.BadRequest("unknown lot status"))
		return
	}

	filter := repository.LotFilter{
		MedicineID: q.Get("medicine_id"),
		LotNumber:  q.Get("lot_number"),
		Location:   q.Get("location"),
		Status:     status,
	}

	var err error
	if filter.ExpiresAfter, err = parseDate(q.Get("expires_after")); err != nil {
		httputil.Error(w, errors.BadRequest("invalid expires_after date"))
		return
	}
	if filter.ExpiresBefore, err = parseDate(q.Get("expires_before")); err != nil {
		httputil.Error(w, errors.BadRequest("invalid expires_before date"))
		return
	}

	lots, total, err := h.service.ListLots(r.Context(), filter, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, lots, paginationMeta(page, perPage, total))
}

// Get gets a lot by ID
func (h *LotHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	lot, err := h.service.GetLot(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// Create receives a new lot into stock
func (h *LotHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateLotRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	lot, err := h.service.CreateLot(r.Context(), &req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, lot)
}

// Adjust corrects a lot's quantity to a counted value
func (h *LotHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NewQuantity *int                         `json:"new_quantity"`
		Reason      repository.TransactionReason `json:"reason,omitempty"`
		Remarks     *string                      `json:"remarks,omitempty"`
	}
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.Error(w, err)
		return
	}
	if body.NewQuantity == nil {
		httputil.Error(w, errors.Validation(map[string]string{"new_quantity": "new_quantity is required"}))
		return
	}

	lot, err := h.service.AdjustLot(r.Context(), &service.AdjustLotRequest{
		LotID:       chi.URLParam(r, "id"),
		NewQuantity: *body.NewQuantity,
		Reason:      body.Reason,
		Remarks:     body.Remarks,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// Dispose writes off stock from a lot
func (h *LotHandler) Dispose(w http.ResponseWriter, r *http.Request) {
	var req service.DisposeLotRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	req.LotID = chi.URLParam(r, "id")

	lot, err := h.service.DisposeLot(r.Context(), &req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// Return adds returned stock back to a lot
func (h *LotHandler) Return(w http.ResponseWriter, r *http.Request) {
	var req service.ReceiveReturnRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	req.LotID = chi.URLParam(r, "id")

	lot, err := h.service.ReceiveReturn(r.Context(), &req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// Transfer moves a lot to a different storage location
func (h *LotHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req service.TransferLotRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	req.LotID = chi.URLParam(r, "id")

	lot, err := h.service.TransferLot(r.Context(), &req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// History lists a lot's ledger entries in chronological order
func (h *LotHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entries, err := h.service.LotHistory(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entries)
}

// ListByMedicine lists a medicine's lots in first-expiry-first order
func (h *LotHandler) ListByMedicine(w http.ResponseWriter, r *http.Request) {
	medicineID := chi.URLParam(r, "id")

	lots, err := h.service.ListLotsByMedicine(r.Context(), medicineID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// Availability returns a medicine's total usable quantity
func (h *LotHandler) Availability(w http.ResponseWriter, r *http.Request) {
	medicineID := chi.URLParam(r, "id")

	total, err := h.service.TotalAvailableQuantity(r.Context(), medicineID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"medicine_id":        medicineID,
		"available_quantity": total,
	})
}

// Allocate issues stock of a medicine in first-expiry-first-out order
func (h *LotHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req service.AllocateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	req.MedicineID = chi.URLParam(r, "id")

	result, err := h.service.AllocateOutbound(r.Context(), &req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, result)
}

func pagination(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage
}

func paginationMeta(page, perPage int, total int64) *httputil.Meta {
	totalPages := int(total) / perPage
	if int(total)%perPage > 0 {
		totalPages++
	}
	return &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	}
}
