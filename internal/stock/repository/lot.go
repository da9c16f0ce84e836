package repository

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// LotStatus is the stored lifecycle state of a stock lot. Expiry is a
// derived property (compare ExpiryDate against the current date); the
// stored EXPIRED status is only set by explicit disposal or adjustment
// to zero.
type LotStatus string

const (
	LotStatusAvailable  LotStatus = "AVAILABLE"
	LotStatusReserved   LotStatus = "RESERVED"
	LotStatusExpired    LotStatus = "EXPIRED"
	LotStatusDamaged    LotStatus = "DAMAGED"
	LotStatusQuarantine LotStatus = "QUARANTINE"
)

// Valid reports whether the status is one of the known states
func (s LotStatus) Valid() bool {
	switch s {
	case LotStatusAvailable, LotStatusReserved, LotStatusExpired, LotStatusDamaged, LotStatusQuarantine:
		return true
	}
	return false
}

// Lot represents a received batch of a medicine with its own expiry date
type Lot struct {
	ID                 string     `db:"id" json:"id"`
	MedicineID         string     `db:"medicine_id" json:"medicine_id" validate:"required,uuid"`
	LotNumber          string     `db:"lot_number" json:"lot_number" validate:"required,max=100"`
	Quantity           int        `db:"quantity" json:"quantity" validate:"gte=0"`
	ExpiryDate         time.Time  `db:"expiry_date" json:"expiry_date" validate:"required"`
	ManufactureDate    *time.Time `db:"manufacture_date" json:"manufacture_date,omitempty"`
	ReceivedDate       time.Time  `db:"received_date" json:"received_date"`
	Supplier           *string    `db:"supplier" json:"supplier,omitempty"`
	PurchasePriceCents *int       `db:"purchase_price_cents" json:"purchase_price_cents,omitempty"`
	Location           *string    `db:"location" json:"location,omitempty"`
	Status             LotStatus  `db:"status" json:"status"`
	Remarks            *string    `db:"remarks" json:"remarks,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the lot's expiry date has passed as of the
// given date. This is independent of the stored status.
func (l *Lot) IsExpired(asOf time.Time) bool {
	return l.ExpiryDate.Before(truncateToDay(asOf))
}

// DaysUntilExpiry returns the number of whole days until the lot expires.
// Negative values mean the lot is already expired.
func (l *Lot) DaysUntilExpiry(asOf time.Time) int {
	return int(l.ExpiryDate.Sub(truncateToDay(asOf)).Hours() / 24)
}

// Allocatable reports whether the lot can satisfy outbound demand:
// stored status AVAILABLE, not past expiry, and holding stock.
func (l *Lot) Allocatable(asOf time.Time) bool {
	return l.Status == LotStatusAvailable && !l.IsExpired(asOf) && l.Quantity > 0
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

const lotColumns = `
	id, medicine_id, lot_number, quantity, expiry_date, manufacture_date,
	received_date, supplier, purchase_price_cents, location, status, remarks,
	created_at, updated_at
`

// StockRepository handles stock lot persistence
type StockRepository struct {
	db *database.DB
}

// NewStockRepository creates a new stock repository
func NewStockRepository(db *database.DB) *StockRepository {
	return &StockRepository{db: db}
}

// GetLot gets a lot by ID
func (r *StockRepository) GetLot(ctx context.Context, id string) (*Lot, error) {
	var lot Lot

	query := `SELECT ` + lotColumns + ` FROM stock_lots WHERE id = $1`
	err := r.db.GetContext(ctx, &lot, query, id)

	if err == sql.ErrNoRows {
		return nil, errors.NotFound("stock lot")
	}
	if err != nil {
		return nil, err
	}

	return &lot, nil
}

// GetLotByNumber gets a lot by its unique lot number
func (r *StockRepository) GetLotByNumber(ctx context.Context, lotNumber string) (*Lot, error) {
	var lot Lot

	query := `SELECT ` + lotColumns + ` FROM stock_lots WHERE lot_number = $1`
	err := r.db.GetContext(ctx, &lot, query, lotNumber)

	if err == sql.ErrNoRows {
		return nil, errors.NotFound("stock lot")
	}
	if err != nil {
		return nil, err
	}

	return &lot, nil
}

// ListLotsByMedicine lists all lots of a medicine, soonest expiry first
func (r *StockRepository) ListLotsByMedicine(ctx context.Context, medicineID string) ([]*Lot, error) {
	var lots []*Lot

	query := `
		SELECT ` + lotColumns + `
		FROM stock_lots
		WHERE medicine_id = $1
		ORDER BY expiry_date ASC, id ASC
	`
	if err := r.db.SelectContext(ctx, &lots, query, medicineID); err != nil {
		return nil, err
	}

	return lots, nil
}

// LotFilter narrows lot listings. Zero values mean "no restriction".
type LotFilter struct {
	MedicineID    string
	LotNumber     string
	Location      string
	Status        LotStatus
	ExpiresAfter  time.Time
	ExpiresBefore time.Time
}

// ListLots lists lots matching the filter, soonest expiry first, with pagination
func (r *StockRepository) ListLots(ctx context.Context, filter LotFilter, page, perPage int) ([]*Lot, int64, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	idx := 1

	add := func(clause string, value interface{}) {
		where += ` AND ` + clause + ` $` + strconv.Itoa(idx)
		args = append(args, value)
		idx++
	}

	if filter.MedicineID != "" {
		add(`medicine_id =`, filter.MedicineID)
	}
	if filter.LotNumber != "" {
		add(`lot_number =`, filter.LotNumber)
	}
	if filter.Location != "" {
		add(`location =`, filter.Location)
	}
	if filter.Status != "" {
		add(`status =`, string(filter.Status))
	}
	if !filter.ExpiresAfter.IsZero() {
		add(`expiry_date >=`, truncateToDay(filter.ExpiresAfter))
	}
	if !filter.ExpiresBefore.IsZero() {
		add(`expiry_date <=`, truncateToDay(filter.ExpiresBefore))
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM stock_lots` + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	query := `SELECT ` + lotColumns + ` FROM stock_lots` + where +
		` ORDER BY expiry_date ASC, id ASC` +
		` LIMIT $` + strconv.Itoa(idx) + ` OFFSET $` + strconv.Itoa(idx+1)
	args = append(args, perPage, offset)

	var lots []*Lot
	if err := r.db.SelectContext(ctx, &lots, query, args...); err != nil {
		return nil, 0, err
	}

	return lots, total, nil
}

// TotalAvailableQuantity sums the usable stock of a medicine: lots in
// AVAILABLE status whose expiry date has not passed.
func (r *StockRepository) TotalAvailableQuantity(ctx context.Context, medicineID string, asOf time.Time) (int, error) {
	var total int

	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM stock_lots
		WHERE medicine_id = $1 AND status = 'AVAILABLE' AND expiry_date >= $2
	`
	if err := r.db.GetContext(ctx, &total, query, medicineID, truncateToDay(asOf)); err != nil {
		return 0, err
	}

	return total, nil
}

// ListExpiringLots lists non-empty available lots expiring within the window.
// Already-expired lots are excluded; see ListExpiredLots.
func (r *StockRepository) ListExpiringLots(ctx context.Context, asOf time.Time, withinDays int) ([]*Lot, error) {
	var lots []*Lot

	from := truncateToDay(asOf)
	until := from.AddDate(0, 0, withinDays)

	query := `
		SELECT ` + lotColumns + `
		FROM stock_lots
		WHERE status = 'AVAILABLE' AND quantity > 0
		  AND expiry_date >= $1 AND expiry_date <= $2
		ORDER BY expiry_date ASC, id ASC
	`
	if err := r.db.SelectContext(ctx, &lots, query, from, until); err != nil {
		return nil, err
	}

	return lots, nil
}

// ListExpiredLots lists lots whose expiry date has passed but still hold
// stock. These are candidates for disposal.
func (r *StockRepository) ListExpiredLots(ctx context.Context, asOf time.Time) ([]*Lot, error) {
	var lots []*Lot

	query := `
		SELECT ` + lotColumns + `
		FROM stock_lots
		WHERE expiry_date < $1 AND quantity > 0 AND status <> 'EXPIRED'
		ORDER BY expiry_date ASC, id ASC
	`
	if err := r.db.SelectContext(ctx, &lots, query, truncateToDay(asOf)); err != nil {
		return nil, err
	}

	return lots, nil
}

// TxStock exposes stock operations bound to an open transaction. The
// ForUpdate reads take row locks held until the transaction commits or
// rolls back, which serializes concurrent withdrawals against the same
// lots.
type TxStock interface {
	InsertLot(ctx context.Context, lot *Lot) error
	LotNumberExists(ctx context.Context, lotNumber string) (bool, error)
	GetLotForUpdate(ctx context.Context, id string) (*Lot, error)
	ListAvailableLotsForUpdate(ctx context.Context, medicineID string, asOf time.Time) ([]*Lot, error)
	UpdateLotQuantity(ctx context.Context, id string, quantity int) error
	UpdateLotStatus(ctx context.Context, id string, status LotStatus) error
	UpdateLotLocation(ctx context.Context, id string, location string) error
	InsertTransaction(ctx context.Context, txn *StockTransaction) error
	GetTransactionForUpdate(ctx context.Context, id string) (*StockTransaction, error)
	HasReversal(ctx context.Context, transactionID string) (bool, error)
}

// WithTx runs fn inside a database transaction with a transaction-scoped
// stock store
func (r *StockRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxStock) error) error {
	return r.db.Transaction(ctx, func(sqlTx *sqlx.Tx) error {
		return fn(ctx, &txStock{tx: sqlTx})
	})
}

type txStock struct {
	tx *sqlx.Tx
}

// InsertLot inserts a new lot
func (s *txStock) InsertLot(ctx context.Context, lot *Lot) error {
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	if lot.Status == "" {
		lot.Status = LotStatusAvailable
	}

	query := `
		INSERT INTO stock_lots (
			id, medicine_id, lot_number, quantity, expiry_date, manufacture_date,
			received_date, supplier, purchase_price_cents, location, status, remarks
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	err := s.tx.QueryRowxContext(ctx, query,
		lot.ID, lot.MedicineID, lot.LotNumber, lot.Quantity, lot.ExpiryDate,
		lot.ManufactureDate, lot.ReceivedDate, lot.Supplier, lot.PurchasePriceCents,
		lot.Location, lot.Status, lot.Remarks,
	).Scan(&lot.CreatedAt, &lot.UpdatedAt)

	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			if errors.Is(appErr, errors.ErrConflict) {
				return errors.DuplicateLot(lot.LotNumber)
			}
			return appErr
		}
		return err
	}

	return nil
}

// LotNumberExists checks whether a lot number is already in use
func (s *txStock) LotNumberExists(ctx context.Context, lotNumber string) (bool, error) {
	var exists bool

	query := `SELECT EXISTS(SELECT 1 FROM stock_lots WHERE lot_number = $1)`
	if err := s.tx.GetContext(ctx, &exists, query, lotNumber); err != nil {
		return false, err
	}

	return exists, nil
}

// GetLotForUpdate reads a lot and locks its row until the transaction ends
func (s *txStock) GetLotForUpdate(ctx context.Context, id string) (*Lot, error) {
	var lot Lot

	query := `SELECT ` + lotColumns + ` FROM stock_lots WHERE id = $1 FOR UPDATE`
	err := s.tx.GetContext(ctx, &lot, query, id)

	if err == sql.ErrNoRows {
		return nil, errors.NotFound("stock lot")
	}
	if err != nil {
		return nil, err
	}

	return &lot, nil
}

// ListAvailableLotsForUpdate reads and locks all allocatable lots of a
// medicine in first-expired-first-out order. Ties on expiry date break by
// lot ID so concurrent allocators lock rows in the same order.
func (s *txStock) ListAvailableLotsForUpdate(ctx context.Context, medicineID string, asOf time.Time) ([]*Lot, error) {
	var lots []*Lot

	query := `
		SELECT ` + lotColumns + `
		FROM stock_lots
		WHERE medicine_id = $1 AND status = 'AVAILABLE'
		  AND expiry_date >= $2 AND quantity > 0
		ORDER BY expiry_date ASC, id ASC
		FOR UPDATE
	`
	if err := s.tx.SelectContext(ctx, &lots, query, medicineID, truncateToDay(asOf)); err != nil {
		return nil, err
	}

	return lots, nil
}

// UpdateLotQuantity sets a lot's quantity
func (s *txStock) UpdateLotQuantity(ctx context.Context, id string, quantity int) error {
	query := `UPDATE stock_lots SET quantity = $2, updated_at = NOW() WHERE id = $1`
	result, err := s.tx.ExecContext(ctx, query, id, quantity)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("stock lot")
	}

	return nil
}

// UpdateLotStatus sets a lot's stored status
func (s *txStock) UpdateLotStatus(ctx context.Context, id string, status LotStatus) error {
	query := `UPDATE stock_lots SET status = $2, updated_at = NOW() WHERE id = $1`
	result, err := s.tx.ExecContext(ctx, query, id, string(status))
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("stock lot")
	}

	return nil
}

// UpdateLotLocation sets a lot's storage location
func (s *txStock) UpdateLotLocation(ctx context.Context, id string, location string) error {
	query := `UPDATE stock_lots SET location = $2, updated_at = NOW() WHERE id = $1`
	result, err := s.tx.ExecContext(ctx, query, id, location)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("stock lot")
	}

	return nil
}

// InsertTransaction appends a ledger entry within the transaction.
// The entry is validated before it is written; the ledger only ever
// receives consistent snapshots.
func (s *txStock) InsertTransaction(ctx context.Context, txn *StockTransaction) error {
	if err := txn.Validate(); err != nil {
		return err
	}
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	if txn.TransactionDate.IsZero() {
		txn.TransactionDate = time.Now().UTC()
	}

	query := `
		INSERT INTO stock_transactions (
			id, medicine_id, lot_id, transaction_type, quantity,
			before_quantity, after_quantity, transaction_date, reference_number,
			department, requester_name, approver_name, reason, remarks,
			reversal_of, performed_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at
	`

	err := s.tx.QueryRowxContext(ctx, query,
		txn.ID, txn.MedicineID, txn.LotID, txn.Type, txn.Quantity,
		txn.BeforeQuantity, txn.AfterQuantity, txn.TransactionDate,
		txn.ReferenceNumber, txn.Department, txn.RequesterName, txn.ApproverName,
		txn.Reason, txn.Remarks, txn.ReversalOf, txn.PerformedBy,
	).Scan(&txn.CreatedAt)

	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	return nil
}

// GetTransactionForUpdate reads a ledger entry and locks its row
func (s *txStock) GetTransactionForUpdate(ctx context.Context, id string) (*StockTransaction, error) {
	var txn StockTransaction

	query := `SELECT ` + transactionColumns + ` FROM stock_transactions WHERE id = $1 FOR UPDATE`
	err := s.tx.GetContext(ctx, &txn, query, id)

	if err == sql.ErrNoRows {
		return nil, errors.NotFound("transaction")
	}
	if err != nil {
		return nil, err
	}

	return &txn, nil
}

// HasReversal reports whether a compensating entry already references the
// given transaction
func (s *txStock) HasReversal(ctx context.Context, transactionID string) (bool, error) {
	var exists bool

	query := `SELECT EXISTS(SELECT 1 FROM stock_transactions WHERE reversal_of = $1)`
	if err := s.tx.GetContext(ctx, &exists, query, transactionID); err != nil {
		return false, err
	}

	return exists, nil
}

// MedicineStockLevel is one medicine's usable stock against its minimum
type MedicineStockLevel struct {
	MedicineID       string `db:"medicine_id" json:"medicine_id"`
	MedicineCode     string `db:"medicine_code" json:"medicine_code"`
	MedicineName     string `db:"medicine_name" json:"medicine_name"`
	MinStockQuantity int    `db:"min_stock_quantity" json:"min_stock_quantity"`
	TotalQuantity    int    `db:"total_quantity" json:"total_quantity"`
}

// MedicineStockLevels returns the usable quantity of every active
// medicine. Only AVAILABLE lots with a future expiry date count; a
// medicine with no such lots reports zero.
func (r *StockRepository) MedicineStockLevels(ctx context.Context, asOf time.Time) ([]*MedicineStockLevel, error) {
	var rows []*MedicineStockLevel

	query := `
		SELECT m.id AS medicine_id,
		       m.code AS medicine_code,
		       m.name AS medicine_name,
		       m.min_stock_quantity,
		       COALESCE(SUM(l.quantity) FILTER (
		           WHERE l.status = 'AVAILABLE' AND l.expiry_date >= $1
		       ), 0) AS total_quantity
		FROM medicines m
		LEFT JOIN stock_lots l ON l.medicine_id = m.id
		WHERE m.is_active = TRUE
		GROUP BY m.id, m.code, m.name, m.min_stock_quantity
		ORDER BY m.name
	`
	if err := r.db.SelectContext(ctx, &rows, query, truncateToDay(asOf)); err != nil {
		return nil, err
	}

	return rows, nil
}
