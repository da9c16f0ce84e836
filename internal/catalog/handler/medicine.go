package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pharmstock/pharmstock-backend/internal/catalog/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// MedicineHandler handles medicine catalog endpoints
type MedicineHandler struct {
	repo   *repository.MedicineRepository
	logger *logger.Logger
}

// NewMedicineHandler creates a new medicine handler
func NewMedicineHandler(repo *repository.MedicineRepository, log *logger.Logger) *MedicineHandler {
	return &MedicineHandler{
		repo:   repo,
		logger: log,
	}
}

// List lists medicines
func (h *MedicineHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	activeOnly := q.Get("include_inactive") != "true"

	medicines, total, err := h.repo.List(r.Context(), page, perPage, q.Get("category"), q.Get("keyword"), activeOnly)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	totalPages := int(total) / perPage
	if int(total)%perPage > 0 {
		totalPages++
	}

	httputil.JSONWithMeta(w, http.StatusOK, medicines, &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	})
}

// Get gets a medicine by ID
func (h *MedicineHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	med, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, med)
}

// GetByCode gets a medicine by its catalog code
func (h *MedicineHandler) GetByCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	med, err := h.repo.GetByCode(r.Context(), code)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, med)
}

// Create creates a new medicine
func (h *MedicineHandler) Create(w http.ResponseWriter, r *http.Request) {
	var med repository.Medicine
	if err := httputil.DecodeJSON(r, &med); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := httputil.Validate(&med); err != nil {
		httputil.Error(w, err)
		return
	}

	med.IsActive = true
	if err := h.repo.Create(r.Context(), &med); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, med)
}

// Update updates a medicine
func (h *MedicineHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var med repository.Medicine
	if err := httputil.DecodeJSON(r, &med); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := httputil.Validate(&med); err != nil {
		httputil.Error(w, err)
		return
	}

	med.ID = id
	if err := h.repo.Update(r.Context(), &med); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, med)
}

// Deactivate retires a medicine from the catalog. Medicines are never
// hard deleted; ledger entries keep referencing them.
func (h *MedicineHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.repo.Deactivate(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}
