package repository

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// Medicine represents a medicine in the catalog
type Medicine struct {
	ID                     string    `db:"id" json:"id"`
	Code                   string    `db:"code" json:"code" validate:"required,max=50"`
	Name                   string    `db:"name" json:"name" validate:"required,max=255"`
	NameEn                 *string   `db:"name_en" json:"name_en,omitempty"`
	Description            *string   `db:"description" json:"description,omitempty"`
	Manufacturer           string    `db:"manufacturer" json:"manufacturer" validate:"required,max=255"`
	Unit                   string    `db:"unit" json:"unit" validate:"required,max=50"`
	Category               *string   `db:"category" json:"category,omitempty"`
	StorageCondition       *string   `db:"storage_condition" json:"storage_condition,omitempty"`
	MinStockQuantity       int       `db:"min_stock_quantity" json:"min_stock_quantity" validate:"gte=0"`
	ReorderLevel           *int      `db:"reorder_level" json:"reorder_level,omitempty"`
	IsPrescriptionRequired bool      `db:"is_prescription_required" json:"is_prescription_required"`
	IsActive               bool      `db:"is_active" json:"is_active"`
	CreatedAt              time.Time `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time `db:"updated_at" json:"updated_at"`
}

const medicineColumns = `
	id, code, name, name_en, description, manufacturer, unit, category,
	storage_condition, min_stock_quantity, reorder_level,
	is_prescription_required, is_active, created_at, updated_at
`

// MedicineRepository handles medicine persistence
type MedicineRepository struct {
	db *database.DB
}

// NewMedicineRepository creates a new medicine repository
func NewMedicineRepository(db *database.DB) *MedicineRepository {
	return &MedicineRepository{db: db}
}

// Create creates a new medicine
func (r *MedicineRepository) Create(ctx context.Context, med *Medicine) error {
	if med.ID == "" {
		med.ID = uuid.New().String()
	}

	query := `
		INSERT INTO medicines (
			id, code, name, name_en, description, manufacturer, unit, category,
			storage_condition, min_stock_quantity, reorder_level,
			is_prescription_required, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		med.ID, med.Code, med.Name, med.NameEn, med.Description, med.Manufacturer,
		med.Unit, med.Category, med.StorageCondition, med.MinStockQuantity,
		med.ReorderLevel, med.IsPrescriptionRequired, med.IsActive,
	).Scan(&med.CreatedAt, &med.UpdatedAt)

	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	return nil
}

// GetByID gets a medicine by ID
func (r *MedicineRepository) GetByID(ctx context.Context, id string) (*Medicine, error) {
	var med Medicine

	query := `SELECT ` + medicineColumns + ` FROM medicines WHERE id = $1`
	err := r.db.GetContext(ctx, &med, query, id)

	if err == sql.ErrNoRows {
		return nil, errors.NotFound("medicine")
	}
	if err != nil {
		return nil, err
	}

	return &med, nil
}

// GetByCode gets a medicine by its unique code
func (r *MedicineRepository) GetByCode(ctx context.Context, code string) (*Medicine, error) {
	var med Medicine

	query := `SELECT ` + medicineColumns + ` FROM medicines WHERE code = $1`
	err := r.db.GetContext(ctx, &med, query, code)

	if err == sql.ErrNoRows {
		return nil, errors.NotFound("medicine")
	}
	if err != nil {
		return nil, err
	}

	return &med, nil
}

// List lists medicines with pagination and optional filters
func (r *MedicineRepository) List(ctx context.Context, page, perPage int, category, keyword string, activeOnly bool) ([]*Medicine, int64, error) {
	var total int64
	var meds []*Medicine

	where := ` WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if activeOnly {
		where += ` AND is_active = TRUE`
	}

	if category != "" {
		where += ` AND category = $` + strconv.Itoa(idx)
		args = append(args, category)
		idx++
	}

	if keyword != "" {
		where += ` AND (name ILIKE $` + strconv.Itoa(idx) + ` OR name_en ILIKE $` + strconv.Itoa(idx) + ` OR code ILIKE $` + strconv.Itoa(idx) + `)`
		args = append(args, "%"+keyword+"%")
		idx++
	}

	countQuery := `SELECT COUNT(*) FROM medicines` + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	query := `SELECT ` + medicineColumns + ` FROM medicines` + where +
		` ORDER BY name LIMIT $` + strconv.Itoa(idx) + ` OFFSET $` + strconv.Itoa(idx+1)
	args = append(args, perPage, offset)

	if err := r.db.SelectContext(ctx, &meds, query, args...); err != nil {
		return nil, 0, err
	}

	return meds, total, nil
}

// Update updates a medicine
func (r *MedicineRepository) Update(ctx context.Context, med *Medicine) error {
	query := `
		UPDATE medicines SET
			code = $2, name = $3, name_en = $4, description = $5, manufacturer = $6,
			unit = $7, category = $8, storage_condition = $9, min_stock_quantity = $10,
			reorder_level = $11, is_prescription_required = $12, is_active = $13,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		med.ID, med.Code, med.Name, med.NameEn, med.Description, med.Manufacturer,
		med.Unit, med.Category, med.StorageCondition, med.MinStockQuantity,
		med.ReorderLevel, med.IsPrescriptionRequired, med.IsActive,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("medicine")
	}

	return nil
}

// Deactivate marks a medicine inactive. Medicines are never hard-deleted
// because the transaction ledger references them.
func (r *MedicineRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE medicines SET is_active = FALSE, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("medicine")
	}

	return nil
}

// GetAllActive gets all active medicines
func (r *MedicineRepository) GetAllActive(ctx context.Context) ([]*Medicine, error) {
	var meds []*Medicine

	query := `SELECT ` + medicineColumns + ` FROM medicines WHERE is_active = TRUE ORDER BY name`
	if err := r.db.SelectContext(ctx, &meds, query); err != nil {
		return nil, err
	}

	return meds, nil
}
