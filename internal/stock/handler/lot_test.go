package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmstock/pharmstock-backend/internal/stock/handler"
	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/internal/stock/service"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// stubLotStore records the filter the handler builds from query
// parameters. The embedded interface panics on any other call, which
// keeps the stub honest about what the list path touches.
type stubLotStore struct {
	service.Store
	filter  repository.LotFilter
	page    int
	perPage int
}

func (s *stubLotStore) ListLots(ctx context.Context, filter repository.LotFilter, page, perPage int) ([]*repository.Lot, int64, error) {
	s.filter = filter
	s.page = page
	s.perPage = perPage
	return []*repository.Lot{}, 0, nil
}

func newLotListRouter(store *stubLotStore) *chi.Mux {
	log := logger.New("test", "test")
	svc := service.NewStockService(store, nil, nil, nil, log)
	h := handler.NewLotHandler(svc, log)

	r := chi.NewRouter()
	r.Get("/api/v1/lots", h.List)
	return r
}

func TestListLotsParsesFilters(t *testing.T) {
	store := &stubLotStore{}
	r := newLotListRouter(store)

	req := httptest.NewRequest("GET",
		"/api/v1/lots?medicine_id=med-1&lot_number=LOT-001&status=AVAILABLE&expires_after=2026-09-01&expires_before=2026-12-31T00:00:00Z", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, "unexpected status code. Body: %s", rr.Body.String())

	assert.Equal(t, "med-1", store.filter.MedicineID)
	assert.Equal(t, "LOT-001", store.filter.LotNumber)
	assert.Equal(t, repository.LotStatusAvailable, store.filter.Status)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), store.filter.ExpiresAfter)
	assert.Equal(t, time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), store.filter.ExpiresBefore)
}

func TestListLotsRejectsMalformedDates(t *testing.T) {
	for _, query := range []string{
		"expires_after=next-week",
		"expires_before=31.12.2026",
	} {
		store := &stubLotStore{}
		r := newLotListRouter(store)

		req := httptest.NewRequest("GET", "/api/v1/lots?"+query, nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected 400 for %q. Body: %s", query, rr.Body.String())

		var resp httputil.Response
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "BAD_REQUEST", resp.Error.Code)
	}
}

func TestListLotsRejectsUnknownStatus(t *testing.T) {
	store := &stubLotStore{}
	r := newLotListRouter(store)

	req := httptest.NewRequest("GET", "/api/v1/lots?status=MISPLACED", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code, "expected 400 for unknown status. Body: %s", rr.Body.String())
}
