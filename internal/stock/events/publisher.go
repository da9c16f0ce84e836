package events

import (
	"context"

	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// StockEventPublisher publishes stock domain events. All methods are
// nil-safe so services can run without a broker in tests and local
// development.
type StockEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewStockEventPublisher creates a new stock event publisher
func NewStockEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, "inventory-service", log)
	if err != nil {
		return nil, err
	}

	return &StockEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// PublishStockReceived publishes a stock received event
func (p *StockEventPublisher) PublishStockReceived(ctx context.Context, lot *repository.Lot, txn *repository.StockTransaction) {
	if p == nil {
		return
	}

	supplier := ""
	if lot.Supplier != nil {
		supplier = *lot.Supplier
	}

	data := messaging.StockReceivedEvent{
		LotID:         lot.ID,
		MedicineID:    lot.MedicineID,
		LotNumber:     lot.LotNumber,
		Quantity:      lot.Quantity,
		ExpiryDate:    lot.ExpiryDate,
		Supplier:      supplier,
		TransactionID: txn.ID,
		PerformedBy:   deref(txn.PerformedBy),
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockReceived, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to publish stock received event")
	}
}

// PublishStockAllocated publishes a stock allocated event covering every
// lot the withdrawal touched
func (p *StockEventPublisher) PublishStockAllocated(ctx context.Context, medicineID string, quantity int, allocations []messaging.LotAllocation, txnIDs []string, department, performedBy string) {
	if p == nil {
		return
	}

	data := messaging.StockAllocatedEvent{
		MedicineID:     medicineID,
		Quantity:       quantity,
		Allocations:    allocations,
		Department:     department,
		TransactionIDs: txnIDs,
		PerformedBy:    performedBy,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockAllocated, data); err != nil {
		p.logger.Error().Err(err).Str("medicine_id", medicineID).Msg("failed to publish stock allocated event")
	}
}

// PublishStockAdjusted publishes a stock adjusted event
func (p *StockEventPublisher) PublishStockAdjusted(ctx context.Context, lot *repository.Lot, txn *repository.StockTransaction) {
	if p == nil {
		return
	}

	data := messaging.StockAdjustedEvent{
		LotID:         lot.ID,
		MedicineID:    lot.MedicineID,
		LotNumber:     lot.LotNumber,
		BeforeQty:     txn.BeforeQuantity,
		AfterQty:      txn.AfterQuantity,
		Reason:        string(txn.Reason),
		TransactionID: txn.ID,
		PerformedBy:   deref(txn.PerformedBy),
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockAdjusted, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to publish stock adjusted event")
	}
}

// PublishStockDisposed publishes a stock disposed event
func (p *StockEventPublisher) PublishStockDisposed(ctx context.Context, lot *repository.Lot, txn *repository.StockTransaction) {
	if p == nil {
		return
	}

	data := messaging.StockDisposedEvent{
		LotID:         lot.ID,
		MedicineID:    lot.MedicineID,
		LotNumber:     lot.LotNumber,
		Quantity:      txn.Quantity,
		Reason:        string(txn.Reason),
		TransactionID: txn.ID,
		PerformedBy:   deref(txn.PerformedBy),
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockDisposed, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to publish stock disposed event")
	}
}

// PublishStockReturned publishes a stock returned event
func (p *StockEventPublisher) PublishStockReturned(ctx context.Context, lot *repository.Lot, txn *repository.StockTransaction) {
	if p == nil {
		return
	}

	data := messaging.StockReturnedEvent{
		LotID:         lot.ID,
		MedicineID:    lot.MedicineID,
		LotNumber:     lot.LotNumber,
		Quantity:      txn.Quantity,
		TransactionID: txn.ID,
		PerformedBy:   deref(txn.PerformedBy),
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockReturned, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to publish stock returned event")
	}
}

// PublishStockTransferred publishes a stock transferred event
func (p *StockEventPublisher) PublishStockTransferred(ctx context.Context, lot *repository.Lot, fromLocation string, txn *repository.StockTransaction) {
	if p == nil {
		return
	}

	data := messaging.StockTransferredEvent{
		LotID:         lot.ID,
		MedicineID:    lot.MedicineID,
		FromLocation:  fromLocation,
		ToLocation:    deref(lot.Location),
		TransactionID: txn.ID,
		PerformedBy:   deref(txn.PerformedBy),
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockTransferred, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to publish stock transferred event")
	}
}

// PublishTransactionReversed publishes a transaction reversed event
func (p *StockEventPublisher) PublishTransactionReversed(ctx context.Context, original, reversal *repository.StockTransaction) {
	if p == nil {
		return
	}

	data := messaging.TransactionReversedEvent{
		OriginalTransactionID: original.ID,
		ReversalTransactionID: reversal.ID,
		LotID:                 deref(original.LotID),
		MedicineID:            original.MedicineID,
		RestoredQty:           reversal.AfterQuantity,
		Reason:                deref(reversal.Remarks),
		PerformedBy:           deref(reversal.PerformedBy),
	}

	if err := p.publisher.Publish(ctx, messaging.EventTransactionReversed, data); err != nil {
		p.logger.Error().Err(err).Str("transaction_id", original.ID).Msg("failed to publish transaction reversed event")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
