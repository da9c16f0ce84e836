package repository

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// TransactionType classifies a ledger entry by its effect on lot quantity
type TransactionType string

const (
	TransactionInbound    TransactionType = "INBOUND"
	TransactionOutbound   TransactionType = "OUTBOUND"
	TransactionAdjustment TransactionType = "ADJUSTMENT"
	TransactionReturn     TransactionType = "RETURN"
	TransactionDisposal   TransactionType = "DISPOSAL"
	TransactionTransfer   TransactionType = "TRANSFER"
)

// Valid reports whether the type is one of the known transaction types
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionInbound, TransactionOutbound, TransactionAdjustment,
		TransactionReturn, TransactionDisposal, TransactionTransfer:
		return true
	}
	return false
}

// TransactionReason records why a stock movement happened
type TransactionReason string

const (
	ReasonPurchase       TransactionReason = "PURCHASE"
	ReasonSales          TransactionReason = "SALES"
	ReasonPrescription   TransactionReason = "PRESCRIPTION"
	ReasonInventoryCheck TransactionReason = "INVENTORY_CHECK"
	ReasonExpired        TransactionReason = "EXPIRED"
	ReasonDamaged        TransactionReason = "DAMAGED"
	ReasonLost           TransactionReason = "LOST"
	ReasonSample         TransactionReason = "SAMPLE"
	ReasonDonation       TransactionReason = "DONATION"
	ReasonOther          TransactionReason = "OTHER"
)

// Valid reports whether the reason is one of the known reasons
func (r TransactionReason) Valid() bool {
	switch r {
	case ReasonPurchase, ReasonSales, ReasonPrescription, ReasonInventoryCheck,
		ReasonExpired, ReasonDamaged, ReasonLost, ReasonSample, ReasonDonation, ReasonOther:
		return true
	}
	return false
}

// StockTransaction is an append-only ledger entry. Every quantity change
// records the lot quantity before and after the movement, so the ledger
// replays to the current state and audits stand on their own.
type StockTransaction struct {
	ID              string            `db:"id" json:"id"`
	MedicineID      string            `db:"medicine_id" json:"medicine_id"`
	LotID           *string           `db:"lot_id" json:"lot_id,omitempty"`
	Type            TransactionType   `db:"transaction_type" json:"transaction_type"`
	Quantity        int               `db:"quantity" json:"quantity"`
	BeforeQuantity  int               `db:"before_quantity" json:"before_quantity"`
	AfterQuantity   int               `db:"after_quantity" json:"after_quantity"`
	TransactionDate time.Time         `db:"transaction_date" json:"transaction_date"`
	ReferenceNumber *string           `db:"reference_number" json:"reference_number,omitempty"`
	Department      *string           `db:"department" json:"department,omitempty"`
	RequesterName   *string           `db:"requester_name" json:"requester_name,omitempty"`
	ApproverName    *string           `db:"approver_name" json:"approver_name,omitempty"`
	Reason          TransactionReason `db:"reason" json:"reason"`
	Remarks         *string           `db:"remarks" json:"remarks,omitempty"`
	ReversalOf      *string           `db:"reversal_of" json:"reversal_of,omitempty"`
	PerformedBy     *string           `db:"performed_by" json:"performed_by,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
}

// Validate enforces the ledger arithmetic before an entry is written:
//
//	INBOUND, RETURN:    after = before + quantity
//	OUTBOUND, DISPOSAL: after = before - quantity
//	ADJUSTMENT:         |after - before| = quantity
//	TRANSFER:           after = before (location moves, quantity does not)
//
// Quantity must be positive and the after snapshot can never be negative.
func (t *StockTransaction) Validate() error {
	if !t.Type.Valid() {
		return errors.Validation(map[string]string{
			"transaction_type": "must be one of: INBOUND, OUTBOUND, ADJUSTMENT, RETURN, DISPOSAL, TRANSFER",
		})
	}
	if !t.Reason.Valid() {
		return errors.Validation(map[string]string{
			"reason": "must be a known transaction reason",
		})
	}
	if t.Quantity <= 0 {
		return errors.Validation(map[string]string{
			"quantity": "must be greater than zero",
		})
	}
	if t.BeforeQuantity < 0 || t.AfterQuantity < 0 {
		return errors.Validation(map[string]string{
			"quantity": "quantity snapshots cannot be negative",
		})
	}

	switch t.Type {
	case TransactionInbound, TransactionReturn:
		if t.AfterQuantity != t.BeforeQuantity+t.Quantity {
			return errors.Validation(map[string]string{
				"after_quantity": "must equal before_quantity + quantity for inbound movements",
			})
		}
	case TransactionOutbound, TransactionDisposal:
		if t.AfterQuantity != t.BeforeQuantity-t.Quantity {
			return errors.Validation(map[string]string{
				"after_quantity": "must equal before_quantity - quantity for outbound movements",
			})
		}
	case TransactionAdjustment:
		diff := t.AfterQuantity - t.BeforeQuantity
		if diff < 0 {
			diff = -diff
		}
		if diff != t.Quantity {
			return errors.Validation(map[string]string{
				"quantity": "must equal the absolute change for adjustments",
			})
		}
	case TransactionTransfer:
		if t.AfterQuantity != t.BeforeQuantity {
			return errors.Validation(map[string]string{
				"after_quantity": "transfers do not change quantity",
			})
		}
	}

	return nil
}

const transactionColumns = `
	id, medicine_id, lot_id, transaction_type, quantity, before_quantity,
	after_quantity, transaction_date, reference_number, department,
	requester_name, approver_name, reason, remarks, reversal_of,
	performed_by, created_at
`

// TransactionFilter narrows ledger searches. Zero values are ignored.
type TransactionFilter struct {
	MedicineID  string
	LotID       string
	Type        TransactionType
	Reason      TransactionReason
	Department  string
	PerformedBy string
	From        time.Time
	To          time.Time
}

// TransactionRepository reads the append-only transaction ledger.
// All writes go through TxStock.InsertTransaction so every entry is
// validated and created inside the same transaction as the lot change.
type TransactionRepository struct {
	db *database.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *database.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// GetByID gets a ledger entry by ID
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*StockTransaction, error) {
	var txn StockTransaction

	query := `SELECT ` + transactionColumns + ` FROM stock_transactions WHERE id = $1`
	err := r.db.GetContext(ctx, &txn, query, id)

	if err == sql.ErrNoRows {
		return nil, errors.NotFound("transaction")
	}
	if err != nil {
		return nil, err
	}

	return &txn, nil
}

// Search lists ledger entries matching the filter, newest first
func (r *TransactionRepository) Search(ctx context.Context, filter TransactionFilter, page, perPage int) ([]*StockTransaction, int64, error) {
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
	if filter.LotID != "" {
		add(`lot_id =`, filter.LotID)
	}
	if filter.Type != "" {
		add(`transaction_type =`, string(filter.Type))
	}
	if filter.Reason != "" {
		add(`reason =`, string(filter.Reason))
	}
	if filter.Department != "" {
		add(`department =`, filter.Department)
	}
	if filter.PerformedBy != "" {
		add(`performed_by =`, filter.PerformedBy)
	}
	if !filter.From.IsZero() {
		add(`transaction_date >=`, filter.From)
	}
	if !filter.To.IsZero() {
		add(`transaction_date <=`, filter.To)
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM stock_transactions` + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	query := `SELECT ` + transactionColumns + ` FROM stock_transactions` + where +
		` ORDER BY transaction_date DESC, created_at DESC` +
		` LIMIT $` + strconv.Itoa(idx) + ` OFFSET $` + strconv.Itoa(idx+1)
	args = append(args, perPage, offset)

	var txns []*StockTransaction
	if err := r.db.SelectContext(ctx, &txns, query, args...); err != nil {
		return nil, 0, err
	}

	return txns, total, nil
}

// ListByLot lists the full movement history of one lot, oldest first.
// A lot's history replays to its current quantity.
func (r *TransactionRepository) ListByLot(ctx context.Context, lotID string) ([]*StockTransaction, error) {
	var txns []*StockTransaction

	query := `
		SELECT ` + transactionColumns + `
		FROM stock_transactions
		WHERE lot_id = $1
		ORDER BY transaction_date ASC, created_at ASC
	`
	if err := r.db.SelectContext(ctx, &txns, query, lotID); err != nil {
		return nil, err
	}

	return txns, nil
}

// Recent lists the most recent ledger entries across all medicines
func (r *TransactionRepository) Recent(ctx context.Context, limit int) ([]*StockTransaction, error) {
	var txns []*StockTransaction

	query := `
		SELECT ` + transactionColumns + `
		FROM stock_transactions
		ORDER BY transaction_date DESC, created_at DESC
		LIMIT $1
	`
	if err := r.db.SelectContext(ctx, &txns, query, limit); err != nil {
		return nil, err
	}

	return txns, nil
}

// TypeSummary aggregates ledger entries of one transaction type
type TypeSummary struct {
	Type          TransactionType `db:"transaction_type" json:"transaction_type"`
	Count         int             `db:"count" json:"count"`
	TotalQuantity int             `db:"total_quantity" json:"total_quantity"`
}

// SummarizeByType aggregates entry counts and quantities per type over a
// date range
func (r *TransactionRepository) SummarizeByType(ctx context.Context, from, to time.Time) ([]*TypeSummary, error) {
	var rows []*TypeSummary

	query := `
		SELECT transaction_type, COUNT(*) AS count, COALESCE(SUM(quantity), 0) AS total_quantity
		FROM stock_transactions
		WHERE transaction_date >= $1 AND transaction_date <= $2
		GROUP BY transaction_type
		ORDER BY transaction_type
	`
	if err := r.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, err
	}

	return rows, nil
}

// DailyStat aggregates one day's movements of one type
type DailyStat struct {
	Day           time.Time       `db:"day" json:"day"`
	Type          TransactionType `db:"transaction_type" json:"transaction_type"`
	Count         int             `db:"count" json:"count"`
	TotalQuantity int             `db:"total_quantity" json:"total_quantity"`
}

// DailyStatistics aggregates movements per day and type over a date range
func (r *TransactionRepository) DailyStatistics(ctx context.Context, from, to time.Time) ([]*DailyStat, error) {
	var rows []*DailyStat

	query := `
		SELECT DATE_TRUNC('day', transaction_date) AS day,
		       transaction_type,
		       COUNT(*) AS count,
		       COALESCE(SUM(quantity), 0) AS total_quantity
		FROM stock_transactions
		WHERE transaction_date >= $1 AND transaction_date <= $2
		GROUP BY day, transaction_type
		ORDER BY day, transaction_type
	`
	if err := r.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, err
	}

	return rows, nil
}

// DepartmentStat aggregates outbound activity of one department
type DepartmentStat struct {
	Department    string `db:"department" json:"department"`
	Count         int    `db:"count" json:"count"`
	TotalQuantity int    `db:"total_quantity" json:"total_quantity"`
}

// DepartmentActivity aggregates outbound withdrawals per department over
// a date range. Entries without a department are grouped under "unknown".
func (r *TransactionRepository) DepartmentActivity(ctx context.Context, from, to time.Time) ([]*DepartmentStat, error) {
	var rows []*DepartmentStat

	query := `
		SELECT COALESCE(department, 'unknown') AS department,
		       COUNT(*) AS count,
		       COALESCE(SUM(quantity), 0) AS total_quantity
		FROM stock_transactions
		WHERE transaction_type = 'OUTBOUND'
		  AND transaction_date >= $1 AND transaction_date <= $2
		GROUP BY COALESCE(department, 'unknown')
		ORDER BY total_quantity DESC
	`
	if err := r.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, err
	}

	return rows, nil
}

// ReasonSummary aggregates ledger entries of one reason
type ReasonSummary struct {
	Reason        TransactionReason `db:"reason" json:"reason"`
	Count         int               `db:"count" json:"count"`
	TotalQuantity int               `db:"total_quantity" json:"total_quantity"`
}

// SummarizeByReason aggregates entry counts and quantities per reason
// over a date range
func (r *TransactionRepository) SummarizeByReason(ctx context.Context, from, to time.Time) ([]*ReasonSummary, error) {
	var rows []*ReasonSummary

	query := `
		SELECT reason, COUNT(*) AS count, COALESCE(SUM(quantity), 0) AS total_quantity
		FROM stock_transactions
		WHERE transaction_date >= $1 AND transaction_date <= $2
		GROUP BY reason
		ORDER BY reason
	`
	if err := r.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, err
	}

	return rows, nil
}

// NetQuantityChange sums the signed quantity change over a date range.
// Summing after - before per entry captures every movement type exactly,
// including adjustments in either direction.
func (r *TransactionRepository) NetQuantityChange(ctx context.Context, from, to time.Time) (int, error) {
	var net int

	query := `
		SELECT COALESCE(SUM(after_quantity - before_quantity), 0)
		FROM stock_transactions
		WHERE transaction_date >= $1 AND transaction_date <= $2
	`
	if err := r.db.GetContext(ctx, &net, query, from, to); err != nil {
		return 0, err
	}

	return net, nil
}

// MedicineMovement aggregates one medicine's movements of one type
type MedicineMovement struct {
	MedicineID    string `db:"medicine_id" json:"medicine_id"`
	MedicineName  string `db:"medicine_name" json:"medicine_name"`
	Count         int    `db:"count" json:"count"`
	TotalQuantity int    `db:"total_quantity" json:"total_quantity"`
}

// TopMedicines lists the medicines with the largest moved quantity of the
// given type over a date range
func (r *TransactionRepository) TopMedicines(ctx context.Context, from, to time.Time, txType TransactionType, limit int) ([]*MedicineMovement, error) {
	var rows []*MedicineMovement

	query := `
		SELECT t.medicine_id,
		       m.name AS medicine_name,
		       COUNT(*) AS count,
		       COALESCE(SUM(t.quantity), 0) AS total_quantity
		FROM stock_transactions t
		JOIN medicines m ON m.id = t.medicine_id
		WHERE t.transaction_type = $1
		  AND t.transaction_date >= $2 AND t.transaction_date <= $3
		GROUP BY t.medicine_id, m.name
		ORDER BY total_quantity DESC
		LIMIT $4
	`
	if err := r.db.SelectContext(ctx, &rows, query, string(txType), from, to, limit); err != nil {
		return nil, err
	}

	return rows, nil
}

// RequesterStat aggregates outbound requests of one requester
type RequesterStat struct {
	RequesterName string `db:"requester_name" json:"requester_name"`
	Count         int    `db:"count" json:"count"`
	TotalQuantity int    `db:"total_quantity" json:"total_quantity"`
}

// TopRequesters lists the most frequent outbound requesters over a date
// range
func (r *TransactionRepository) TopRequesters(ctx context.Context, from, to time.Time, limit int) ([]*RequesterStat, error) {
	var rows []*RequesterStat

	query := `
		SELECT requester_name,
		       COUNT(*) AS count,
		       COALESCE(SUM(quantity), 0) AS total_quantity
		FROM stock_transactions
		WHERE transaction_type = 'OUTBOUND' AND requester_name IS NOT NULL
		  AND transaction_date >= $1 AND transaction_date <= $2
		GROUP BY requester_name
		ORDER BY count DESC, total_quantity DESC
		LIMIT $3
	`
	if err := r.db.SelectContext(ctx, &rows, query, from, to, limit); err != nil {
		return nil, err
	}

	return rows, nil
}
