package service

import (
	"context"
	"time"

	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/actor"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// AllocateRequest issues stock of a medicine to a department
type AllocateRequest struct {
	MedicineID      string                       `json:"medicine_id" validate:"required,uuid"`
	Quantity        int                          `json:"quantity" validate:"required,gt=0"`
	Department      *string                      `json:"department,omitempty" validate:"omitempty,max=100"`
	RequesterName   *string                      `json:"requester_name,omitempty" validate:"omitempty,max=255"`
	ApproverName    *string                      `json:"approver_name,omitempty" validate:"omitempty,max=255"`
	ReferenceNumber *string                      `json:"reference_number,omitempty" validate:"omitempty,max=100"`
	Reason          repository.TransactionReason `json:"reason,omitempty"`
	Remarks         *string                      `json:"remarks,omitempty"`
}

// AllocationLine is one lot's contribution to an allocation
type AllocationLine struct {
	Lot         *repository.Lot              `json:"lot"`
	Quantity    int                          `json:"quantity"`
	Transaction *repository.StockTransaction `json:"transaction"`
}

// AllocationResult describes a completed outbound allocation
type AllocationResult struct {
	MedicineID string            `json:"medicine_id"`
	Quantity   int               `json:"quantity"`
	Lines      []*AllocationLine `json:"lines"`
}

// AllocateOutbound issues stock of a medicine, drawing from usable lots
// in first-expiry-first-out order. Lots sharing an expiry date drain in
// insertion order. The allocation is all or nothing: if usable stock
// cannot cover the request, nothing is deducted and the error reports
// what was available. One OUTBOUND ledger entry is written per lot
// touched, so partial draws of a lot remain visible in its history.
func (s *StockService) AllocateOutbound(ctx context.Context, req *AllocateRequest) (*AllocationResult, error) {
	if err := httputil.Validate(req); err != nil {
		return nil, err
	}

	reason := req.Reason
	if reason == "" {
		reason = repository.ReasonPrescription
	}
	if !reason.Valid() {
		return nil, errors.Validation(map[string]string{"reason": "unknown transaction reason"})
	}

	if _, err := s.catalog.GetByID(ctx, req.MedicineID); err != nil {
		return nil, err
	}

	result := &AllocationResult{
		MedicineID: req.MedicineID,
		Quantity:   req.Quantity,
	}
	var eventAllocations []messaging.LotAllocation
	var txnIDs []string

	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.TxStock) error {
		lots, err := tx.ListAvailableLotsForUpdate(ctx, req.MedicineID, time.Now())
		if err != nil {
			return err
		}

		available := 0
		for _, lot := range lots {
			available += lot.Quantity
		}
		if available < req.Quantity {
			return errors.InsufficientStock(req.Quantity, available)
		}

		remaining := req.Quantity
		for _, lot := range lots {
			if remaining == 0 {
				break
			}

			take := lot.Quantity
			if take > remaining {
				take = remaining
			}
			after := lot.Quantity - take

			if err := tx.UpdateLotQuantity(ctx, lot.ID, after); err != nil {
				return err
			}

			txn := &repository.StockTransaction{
				MedicineID:      lot.MedicineID,
				LotID:           &lot.ID,
				Type:            repository.TransactionOutbound,
				Quantity:        take,
				BeforeQuantity:  lot.Quantity,
				AfterQuantity:   after,
				ReferenceNumber: req.ReferenceNumber,
				Department:      req.Department,
				RequesterName:   req.RequesterName,
				ApproverName:    req.ApproverName,
				Reason:          reason,
				Remarks:         req.Remarks,
				PerformedBy:     performedBy(ctx),
			}
			if err := tx.InsertTransaction(ctx, txn); err != nil {
				return err
			}

			lot.Quantity = after
			result.Lines = append(result.Lines, &AllocationLine{
				Lot:         lot,
				Quantity:    take,
				Transaction: txn,
			})
			eventAllocations = append(eventAllocations, messaging.LotAllocation{
				LotID:     lot.ID,
				LotNumber: lot.LotNumber,
				Quantity:  take,
				Remaining: after,
			})
			txnIDs = append(txnIDs, txn.ID)
			remaining -= take
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("medicine_id", req.MedicineID).
		Int("quantity", req.Quantity).
		Int("lots", len(result.Lines)).
		Msg("stock allocated")

	s.publisher.PublishStockAllocated(ctx, req.MedicineID, req.Quantity, eventAllocations, txnIDs,
		strDeref(req.Department), actor.IDFromContext(ctx))

	return result, nil
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
