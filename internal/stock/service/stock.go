// Package service implements stock operations on top of the lot and
// ledger repositories. Every mutation runs inside a single database
// transaction, locks the affected lot rows, and appends a ledger entry
// carrying before and after quantity snapshots. The ledger is append
// only; mistakes are undone by compensating entries, never by editing
// history.
package service

import (
	"context"
	"fmt"
	"time"

	catalogrepo "github.com/pharmstock/pharmstock-backend/internal/catalog/repository"
	"github.com/pharmstock/pharmstock-backend/internal/stock/events"
	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/actor"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// Store is the lot persistence interface the service depends on
type Store interface {
	GetLot(ctx context.Context, id string) (*repository.Lot, error)
	GetLotByNumber(ctx context.Context, lotNumber string) (*repository.Lot, error)
	ListLotsByMedicine(ctx context.Context, medicineID string) ([]*repository.Lot, error)
	ListLots(ctx context.Context, filter repository.LotFilter, page, perPage int) ([]*repository.Lot, int64, error)
	TotalAvailableQuantity(ctx context.Context, medicineID string, asOf time.Time) (int, error)
	ListExpiringLots(ctx context.Context, asOf time.Time, withinDays int) ([]*repository.Lot, error)
	ListExpiredLots(ctx context.Context, asOf time.Time) ([]*repository.Lot, error)
	MedicineStockLevels(ctx context.Context, asOf time.Time) ([]*repository.MedicineStockLevel, error)
	WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.TxStock) error) error
}

// Ledger is the transaction history interface the service depends on
type Ledger interface {
	GetByID(ctx context.Context, id string) (*repository.StockTransaction, error)
	Search(ctx context.Context, filter repository.TransactionFilter, page, perPage int) ([]*repository.StockTransaction, int64, error)
	ListByLot(ctx context.Context, lotID string) ([]*repository.StockTransaction, error)
	Recent(ctx context.Context, limit int) ([]*repository.StockTransaction, error)
	SummarizeByType(ctx context.Context, from, to time.Time) ([]*repository.TypeSummary, error)
	SummarizeByReason(ctx context.Context, from, to time.Time) ([]*repository.ReasonSummary, error)
	NetQuantityChange(ctx context.Context, from, to time.Time) (int, error)
	TopMedicines(ctx context.Context, from, to time.Time, txType repository.TransactionType, limit int) ([]*repository.MedicineMovement, error)
	TopRequesters(ctx context.Context, from, to time.Time, limit int) ([]*repository.RequesterStat, error)
	DailyStatistics(ctx context.Context, from, to time.Time) ([]*repository.DailyStat, error)
	DepartmentActivity(ctx context.Context, from, to time.Time) ([]*repository.DepartmentStat, error)
}

// Catalog looks up medicines for stock operations
type Catalog interface {
	GetByID(ctx context.Context, id string) (*catalogrepo.Medicine, error)
}

// StockService orchestrates stock mutations and queries
type StockService struct {
	store     Store
	ledger    Ledger
	catalog   Catalog
	publisher *events.StockEventPublisher
	log       *logger.Logger
}

// NewStockService creates a new stock service. The publisher may be nil
// when messaging is disabled.
func NewStockService(store Store, ledger Ledger, catalog Catalog, publisher *events.StockEventPublisher, log *logger.Logger) *StockService {
	return &StockService{
		store:     store,
		ledger:    ledger,
		catalog:   catalog,
		publisher: publisher,
		log:       log.WithComponent("stock-service"),
	}
}

// CreateLotRequest is the payload for receiving a new lot into stock
type CreateLotRequest struct {
	MedicineID         string     `json:"medicine_id" validate:"required,uuid"`
	LotNumber          string     `json:"lot_number" validate:"required,max=100"`
	Quantity           int        `json:"quantity" validate:"required,gt=0"`
	ExpiryDate         time.Time  `json:"expiry_date" validate:"required"`
	ManufactureDate    *time.Time `json:"manufacture_date,omitempty"`
	ReceivedDate       *time.Time `json:"received_date,omitempty"`
	Supplier           *string    `json:"supplier,omitempty" validate:"omitempty,max=255"`
	PurchasePriceCents *int       `json:"purchase_price_cents,omitempty" validate:"omitempty,gte=0"`
	Location           *string    `json:"location,omitempty" validate:"omitempty,max=255"`
	ReferenceNumber    *string    `json:"reference_number,omitempty" validate:"omitempty,max=100"`
	Remarks            *string    `json:"remarks,omitempty"`
}

// CreateLot receives a new lot into stock. The lot and its INBOUND
// ledger entry are written atomically; the entry records the quantity
// going from zero to the received amount.
func (s *StockService) CreateLot(ctx context.Context, req *CreateLotRequest) (*repository.Lot, error) {
	if err := httputil.Validate(req); err != nil {
		return nil, err
	}

	med, err := s.catalog.GetByID(ctx, req.MedicineID)
	if err != nil {
		return nil, err
	}
	if !med.IsActive {
		return nil, errors.BadRequest("cannot receive stock for an inactive medicine")
	}

	receivedDate := time.Now()
	if req.ReceivedDate != nil {
		receivedDate = *req.ReceivedDate
	}

	lot := &repository.Lot{
		MedicineID:         req.MedicineID,
		LotNumber:          req.LotNumber,
		Quantity:           req.Quantity,
		ExpiryDate:         req.ExpiryDate,
		ManufactureDate:    req.ManufactureDate,
		ReceivedDate:       receivedDate,
		Supplier:           req.Supplier,
		PurchasePriceCents: req.PurchasePriceCents,
		Location:           req.Location,
		Status:             repository.LotStatusAvailable,
		Remarks:            req.Remarks,
	}

	var txn *repository.StockTransaction

	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.TxStock) error {
		exists, err := tx.LotNumberExists(ctx, req.LotNumber)
		if err != nil {
			return err
		}
		if exists {
			return errors.DuplicateLot(req.LotNumber)
		}

		if err := tx.InsertLot(ctx, lot); err != nil {
			return err
		}

		txn = &repository.StockTransaction{
			MedicineID:      lot.MedicineID,
			LotID:           &lot.ID,
			Type:            repository.TransactionInbound,
			Quantity:        lot.Quantity,
			BeforeQuantity:  0,
			AfterQuantity:   lot.Quantity,
			ReferenceNumber: req.ReferenceNumber,
			Reason:          repository.ReasonPurchase,
			Remarks:         req.Remarks,
			PerformedBy:     performedBy(ctx),
		}
		return tx.InsertTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("lot_id", lot.ID).
		Str("medicine_id", lot.MedicineID).
		Int("quantity", lot.Quantity).
		Msg("stock lot received")

	s.publisher.PublishStockReceived(ctx, lot, txn)

	return lot, nil
}

// AdjustLotRequest sets a lot to a counted quantity
type AdjustLotRequest struct {
	LotID       string                       `json:"lot_id" validate:"required,uuid"`
	NewQuantity int                          `json:"new_quantity" validate:"gte=0"`
	Reason      repository.TransactionReason `json:"reason,omitempty"`
	Remarks     *string                      `json:"remarks,omitempty"`
}

// AdjustLot corrects a lot's quantity to a counted value, typically
// after a physical inventory check. The ledger entry records the
// absolute difference; an adjustment that changes nothing is rejected.
// Adjusting to zero retires the lot.
func (s *StockService) AdjustLot(ctx context.Context, req *AdjustLotRequest) (*repository.Lot, error) {
	if err := httputil.Validate(req); err != nil {
		return nil, err
	}

	reason := req.Reason
	if reason == "" {
		reason = repository.ReasonInventoryCheck
	}
	if !reason.Valid() {
		return nil, errors.Validation(map[string]string{"reason": "unknown transaction reason"})
	}

	var (
		lot *repository.Lot
		txn *repository.StockTransaction
	)

	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.TxStock) error {
		var err error
		lot, err = tx.GetLotForUpdate(ctx, req.LotID)
		if err != nil {
			return err
		}

		diff := req.NewQuantity - lot.Quantity
		if diff == 0 {
			return errors.BadRequest("adjustment would not change the lot quantity")
		}

		if err := tx.UpdateLotQuantity(ctx, lot.ID, req.NewQuantity); err != nil {
			return err
		}
		if req.NewQuantity == 0 && lot.Status == repository.LotStatusAvailable {
			if err := tx.UpdateLotStatus(ctx, lot.ID, repository.LotStatusExpired); err != nil {
				return err
			}
			lot.Status = repository.LotStatusExpired
		}

		txn = &repository.StockTransaction{
			MedicineID:     lot.MedicineID,
			LotID:          &lot.ID,
			Type:           repository.TransactionAdjustment,
			Quantity:       abs(diff),
			BeforeQuantity: lot.Quantity,
			AfterQuantity:  req.NewQuantity,
			Reason:         reason,
			Remarks:        req.Remarks,
			PerformedBy:    performedBy(ctx),
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		lot.Quantity = req.NewQuantity
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("lot_id", lot.ID).
		Int("before", txn.BeforeQuantity).
		Int("after", txn.AfterQuantity).
		Msg("stock lot adjusted")

	s.publisher.PublishStockAdjusted(ctx, lot, txn)

	return lot, nil
}

// ReceiveReturnRequest puts previously issued stock back into a lot
type ReceiveReturnRequest struct {
	LotID           string                       `json:"lot_id" validate:"required,uuid"`
	Quantity        int                          `json:"quantity" validate:"required,gt=0"`
	Department      *string                      `json:"department,omitempty" validate:"omitempty,max=100"`
	RequesterName   *string                      `json:"requester_name,omitempty" validate:"omitempty,max=255"`
	ReferenceNumber *string                      `json:"reference_number,omitempty" validate:"omitempty,max=100"`
	Reason          repository.TransactionReason `json:"reason,omitempty"`
	Remarks         *string                      `json:"remarks,omitempty"`
}

// ReceiveReturn adds returned stock back to the lot it was issued from.
// Returns to retired lots or lots past their expiry date are rejected;
// expired stock goes through disposal instead.
func (s *StockService) ReceiveReturn(ctx context.Context, req *ReceiveReturnRequest) (*repository.Lot, error) {
	if err := httputil.Validate(req); err != nil {
		return nil, err
	}

	reason := req.Reason
	if reason == "" {
		reason = repository.ReasonOther
	}
	if !reason.Valid() {
		return nil, errors.Validation(map[string]string{"reason": "unknown transaction reason"})
	}

	var (
		lot *repository.Lot
		txn *repository.StockTransaction
	)

	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.TxStock) error {
		var err error
		lot, err = tx.GetLotForUpdate(ctx, req.LotID)
		if err != nil {
			return err
		}

		if lot.Status != repository.LotStatusAvailable {
			return errors.Conflict(fmt.Sprintf("cannot return stock to a %s lot", lot.Status))
		}
		if lot.IsExpired(time.Now()) {
			return errors.BadRequest("cannot return stock to a lot past its expiry date")
		}

		after := lot.Quantity + req.Quantity
		if err := tx.UpdateLotQuantity(ctx, lot.ID, after); err != nil {
			return err
		}

		txn = &repository.StockTransaction{
			MedicineID:      lot.MedicineID,
			LotID:           &lot.ID,
			Type:            repository.TransactionReturn,
			Quantity:        req.Quantity,
			BeforeQuantity:  lot.Quantity,
			AfterQuantity:   after,
			ReferenceNumber: req.ReferenceNumber,
			Department:      req.Department,
			RequesterName:   req.RequesterName,
			Reason:          reason,
			Remarks:         req.Remarks,
			PerformedBy:     performedBy(ctx),
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		lot.Quantity = after
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("lot_id", lot.ID).
		Int("quantity", req.Quantity).
		Msg("stock return received")

	s.publisher.PublishStockReturned(ctx, lot, txn)

	return lot, nil
}

// DisposeLotRequest removes stock from a lot permanently
type DisposeLotRequest struct {
	LotID    string                       `json:"lot_id" validate:"required,uuid"`
	Quantity int                          `json:"quantity" validate:"required,gt=0"`
	Reason   repository.TransactionReason `json:"reason,omitempty"`
	Remarks  *string                      `json:"remarks,omitempty"`
}

// DisposeLot writes off stock from a lot. Disposing more than the lot
// holds fails; the quantity is never clamped. Disposing the last unit
// retires the lot, with the terminal status following the reason.
func (s *StockService) DisposeLot(ctx context.Context, req *DisposeLotRequest) (*repository.Lot, error) {
	if err := httputil.Validate(req); err != nil {
		return nil, err
	}

	reason := req.Reason
	if reason == "" {
		reason = repository.ReasonExpired
	}
	if !reason.Valid() {
		return nil, errors.Validation(map[string]string{"reason": "unknown transaction reason"})
	}

	var (
		lot *repository.Lot
		txn *repository.StockTransaction
	)

	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.TxStock) error {
		var err error
		lot, err = tx.GetLotForUpdate(ctx, req.LotID)
		if err != nil {
			return err
		}

		if req.Quantity > lot.Quantity {
			return errors.InsufficientStock(req.Quantity, lot.Quantity)
		}

		after := lot.Quantity - req.Quantity
		if err := tx.UpdateLotQuantity(ctx, lot.ID, after); err != nil {
			return err
		}
		if after == 0 {
			status := repository.LotStatusExpired
			if reason == repository.ReasonDamaged {
				status = repository.LotStatusDamaged
			}
			if err := tx.UpdateLotStatus(ctx, lot.ID, status); err != nil {
				return err
			}
			lot.Status = status
		}

		txn = &repository.StockTransaction{
			MedicineID:     lot.MedicineID,
			LotID:          &lot.ID,
			Type:           repository.TransactionDisposal,
			Quantity:       req.Quantity,
			BeforeQuantity: lot.Quantity,
			AfterQuantity:  after,
			Reason:         reason,
			Remarks:        req.Remarks,
			PerformedBy:    performedBy(ctx),
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		lot.Quantity = after
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("lot_id", lot.ID).
		Int("quantity", req.Quantity).
		Str("reason", string(reason)).
		Msg("stock disposed")

	s.publisher.PublishStockDisposed(ctx, lot, txn)

	return lot, nil
}

// TransferLotRequest moves a lot to a different storage location
type TransferLotRequest struct {
	LotID      string  `json:"lot_id" validate:"required,uuid"`
	ToLocation string  `json:"to_location" validate:"required,max=255"`
	Department *string `json:"department,omitempty" validate:"omitempty,max=100"`
	Remarks    *string `json:"remarks,omitempty"`
}

// TransferLot moves a lot between storage locations. The quantity does
// not change; the ledger entry records equal before and after snapshots
// so the move is still auditable.
func (s *StockService) TransferLot(ctx context.Context, req *TransferLotRequest) (*repository.Lot, error) {
	if err := httputil.Validate(req); err != nil {
		return nil, err
	}

	var (
		lot          *repository.Lot
		txn          *repository.StockTransaction
		fromLocation string
	)

	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.TxStock) error {
		var err error
		lot, err = tx.GetLotForUpdate(ctx, req.LotID)
		if err != nil {
			return err
		}

		if lot.Quantity == 0 {
			return errors.BadRequest("cannot transfer an empty lot")
		}
		if lot.Location != nil && *lot.Location == req.ToLocation {
			return errors.BadRequest("lot is already at this location")
		}
		if lot.Location != nil {
			fromLocation = *lot.Location
		}

		if err := tx.UpdateLotLocation(ctx, lot.ID, req.ToLocation); err != nil {
			return err
		}

		txn = &repository.StockTransaction{
			MedicineID:     lot.MedicineID,
			LotID:          &lot.ID,
			Type:           repository.TransactionTransfer,
			Quantity:       lot.Quantity,
			BeforeQuantity: lot.Quantity,
			AfterQuantity:  lot.Quantity,
			Department:     req.Department,
			Reason:         repository.ReasonOther,
			Remarks:        req.Remarks,
			PerformedBy:    performedBy(ctx),
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		loc := req.ToLocation
		lot.Location = &loc
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("lot_id", lot.ID).
		Str("from", fromLocation).
		Str("to", req.ToLocation).
		Msg("stock lot transferred")

	s.publisher.PublishStockTransferred(ctx, lot, fromLocation, txn)

	return lot, nil
}

// GetLot returns a lot by ID
func (s *StockService) GetLot(ctx context.Context, id string) (*repository.Lot, error) {
	return s.store.GetLot(ctx, id)
}

// GetLotByNumber returns a lot by its lot number
func (s *StockService) GetLotByNumber(ctx context.Context, lotNumber string) (*repository.Lot, error) {
	return s.store.GetLotByNumber(ctx, lotNumber)
}

// ListLots returns a page of lots, optionally filtered by status
func (s *StockService) ListLots(ctx context.Context, filter repository.LotFilter, page, perPage int) ([]*repository.Lot, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, errors.BadRequest("invalid lot status")
	}
	return s.store.ListLots(ctx, filter, page, perPage)
}

// ListLotsByMedicine returns a medicine's lots in first-expiry-first
// order
func (s *StockService) ListLotsByMedicine(ctx context.Context, medicineID string) ([]*repository.Lot, error) {
	return s.store.ListLotsByMedicine(ctx, medicineID)
}

// LotHistory returns a lot's ledger entries in chronological order.
// Replaying the entries from the first INBOUND reproduces the lot's
// current quantity.
func (s *StockService) LotHistory(ctx context.Context, lotID string) ([]*repository.StockTransaction, error) {
	if _, err := s.store.GetLot(ctx, lotID); err != nil {
		return nil, err
	}
	return s.ledger.ListByLot(ctx, lotID)
}

// GetTransaction returns a ledger entry by ID
func (s *StockService) GetTransaction(ctx context.Context, id string) (*repository.StockTransaction, error) {
	return s.ledger.GetByID(ctx, id)
}

// SearchTransactions returns a filtered page of ledger entries, newest
// first
func (s *StockService) SearchTransactions(ctx context.Context, filter repository.TransactionFilter, page, perPage int) ([]*repository.StockTransaction, int64, error) {
	return s.ledger.Search(ctx, filter, page, perPage)
}

// RecentTransactions returns the most recent ledger entries
func (s *StockService) RecentTransactions(ctx context.Context, limit int) ([]*repository.StockTransaction, error) {
	return s.ledger.Recent(ctx, limit)
}

func performedBy(ctx context.Context) *string {
	if id := actor.IDFromContext(ctx); id != "" {
		return &id
	}
	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
