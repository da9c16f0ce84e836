package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmstock/pharmstock-backend/internal/catalog/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/testutil"
)

func testMedicine() *repository.Medicine {
	return &repository.Medicine{
		Code:             "MED-0001",
		Name:             "Amoxicillin 500mg",
		Manufacturer:     "Acme Pharma",
		Unit:             "capsule",
		MinStockQuantity: 50,
		IsActive:         true,
	}
}

func TestMedicineCreate(t *testing.T) {
	t.Run("sets timestamps from the database", func(t *testing.T) {
		mockDB := testutil.NewMockDB(t)
		defer mockDB.Close()

		now := time.Now()
		mockDB.ExpectQuery("INSERT INTO medicines").
			WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))

		repo := repository.NewMedicineRepository(mockDB.DB)
		med := testMedicine()
		require.NoError(t, repo.Create(context.Background(), med))
		assert.NotEmpty(t, med.ID)
		assert.WithinDuration(t, now, med.CreatedAt, time.Second)

		mockDB.ExpectationsWereMet(t)
	})

	t.Run("maps duplicate code to conflict", func(t *testing.T) {
		mockDB := testutil.NewMockDB(t)
		defer mockDB.Close()

		mockDB.ExpectQuery("INSERT INTO medicines").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "medicines_medicine_code_unique"})

		repo := repository.NewMedicineRepository(mockDB.DB)
		err := repo.Create(context.Background(), testMedicine())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrConflict))
	})
}

func TestMedicineGetByIDNotFound(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("SELECT").WillReturnRows(testutil.MockRows(
		"id", "code", "name", "name_en", "description", "manufacturer", "unit",
		"category", "storage_condition", "min_stock_quantity", "reorder_level",
		"is_prescription_required", "is_active", "created_at", "updated_at",
	))

	repo := repository.NewMedicineRepository(mockDB.DB)
	_, err := repo.GetByID(context.Background(), "2c9e1a5f-0b3d-4e6a-8c7b-9d0e1f2a3b4c")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	mockDB.ExpectationsWereMet(t)
}
