package service

import (
	"context"
	"time"

	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// Reverse undoes a ledger entry by appending a compensating ADJUSTMENT
// entry that restores the lot to the quantity it would hold had the
// original entry never happened. The original entry is untouched; the
// compensating entry links back to it through reversal_of and carries a
// REV-<original id> reference. Each entry can be reversed at most once,
// and compensating entries themselves cannot be reversed. TRANSFER
// entries carry no quantity effect and are not reversible.
func (s *StockService) Reverse(ctx context.Context, transactionID, reason string) (*repository.StockTransaction, error) {
	if reason == "" {
		return nil, errors.Validation(map[string]string{"reason": "reason is required"})
	}

	var (
		original *repository.StockTransaction
		reversal *repository.StockTransaction
	)

	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.TxStock) error {
		var err error
		original, err = tx.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}

		if original.ReversalOf != nil {
			return errors.BadRequest("compensating entries cannot be reversed")
		}
		if original.Type == repository.TransactionTransfer {
			return errors.BadRequest("transfer entries have no quantity effect to reverse")
		}
		if original.LotID == nil {
			return errors.BadRequest("entry is not tied to a lot and cannot be reversed")
		}

		reversed, err := tx.HasReversal(ctx, original.ID)
		if err != nil {
			return err
		}
		if reversed {
			return errors.Conflict("entry has already been reversed")
		}

		lot, err := tx.GetLotForUpdate(ctx, *original.LotID)
		if err != nil {
			return err
		}

		var target int
		switch original.Type {
		case repository.TransactionInbound, repository.TransactionReturn:
			target = lot.Quantity - original.Quantity
			if target < 0 {
				return errors.InsufficientStock(original.Quantity, lot.Quantity)
			}
		case repository.TransactionOutbound, repository.TransactionDisposal:
			target = lot.Quantity + original.Quantity
		case repository.TransactionAdjustment:
			// An adjustment set the quantity outright, so its reversal
			// restores the recorded before snapshot rather than applying
			// an inverse delta.
			target = original.BeforeQuantity
		default:
			return errors.BadRequest("entry type cannot be reversed")
		}

		diff := target - lot.Quantity
		if diff == 0 {
			return errors.BadRequest("reversal would not change the lot quantity")
		}

		if err := tx.UpdateLotQuantity(ctx, lot.ID, target); err != nil {
			return err
		}
		if target == 0 && lot.Status == repository.LotStatusAvailable {
			if err := tx.UpdateLotStatus(ctx, lot.ID, repository.LotStatusExpired); err != nil {
				return err
			}
		}
		if target > 0 && lot.Status != repository.LotStatusAvailable && !lot.IsExpired(time.Now()) {
			// Reversing a disposal that retired the lot brings the lot
			// back into circulation, unless its expiry date has passed.
			if err := tx.UpdateLotStatus(ctx, lot.ID, repository.LotStatusAvailable); err != nil {
				return err
			}
		}

		ref := "REV-" + original.ID
		reversal = &repository.StockTransaction{
			MedicineID:      original.MedicineID,
			LotID:           original.LotID,
			Type:            repository.TransactionAdjustment,
			Quantity:        abs(diff),
			BeforeQuantity:  lot.Quantity,
			AfterQuantity:   target,
			ReferenceNumber: &ref,
			Department:      original.Department,
			Reason:          repository.ReasonOther,
			Remarks:         &reason,
			ReversalOf:      &original.ID,
			PerformedBy:     performedBy(ctx),
		}
		return tx.InsertTransaction(ctx, reversal)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("original_id", original.ID).
		Str("reversal_id", reversal.ID).
		Msg("ledger entry reversed")

	s.publisher.PublishTransactionReversed(ctx, original, reversal)

	return reversal, nil
}
