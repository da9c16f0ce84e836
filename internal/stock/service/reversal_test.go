package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/internal/stock/service"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

func TestReverse(t *testing.T) {
	ctx := context.Background()

	t.Run("reverses an outbound entry and restores the lot", func(t *testing.T) {
		b := newFakeBackend()
		med := testMedicine(b)
		lot := b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-RV", Quantity: 100, ExpiryDate: futureDate(120),
		})
		svc := newTestService(b)

		result, err := svc.AllocateOutbound(ctx, &service.AllocateRequest{
			MedicineID: med.ID,
			Quantity:   30,
		})
		require.NoError(t, err)
		original := result.Lines[0].Transaction
		require.Equal(t, 70, b.lotQuantity(lot.ID))

		reversal, err := svc.Reverse(ctx, original.ID, "issued to the wrong ward")
		require.NoError(t, err)

		assert.Equal(t, 100, b.lotQuantity(lot.ID))
		assert.Equal(t, repository.TransactionAdjustment, reversal.Type)
		assert.Equal(t, 30, reversal.Quantity)
		assert.Equal(t, 70, reversal.BeforeQuantity)
		assert.Equal(t, 100, reversal.AfterQuantity)
		require.NotNil(t, reversal.ReversalOf)
		assert.Equal(t, original.ID, *reversal.ReversalOf)
		require.NotNil(t, reversal.ReferenceNumber)
		assert.Equal(t, "REV-"+original.ID, *reversal.ReferenceNumber)
		require.NotNil(t, reversal.Remarks)
		assert.Equal(t, "issued to the wrong ward", *reversal.Remarks)

		// The original entry is untouched.
		fetched, err := svc.GetTransaction(ctx, original.ID)
		require.NoError(t, err)
		assert.Equal(t, original.Quantity, fetched.Quantity)
		assert.Nil(t, fetched.ReversalOf)
	})

	t.Run("reverses an inbound entry by removing the received stock", func(t *testing.T) {
		b := newFakeBackend()
		med := testMedicine(b)
		svc := newTestService(b)

		lot, err := svc.CreateLot(ctx, &service.CreateLotRequest{
			MedicineID: med.ID,
			LotNumber:  "LOT-IN",
			Quantity:   40,
			ExpiryDate: futureDate(365),
		})
		require.NoError(t, err)
		original := b.txns[0]

		_, err = svc.Reverse(ctx, original.ID, "receipt entered twice")
		require.NoError(t, err)
		assert.Equal(t, 0, b.lotQuantity(lot.ID))
	})

	t.Run("fails when restoring an inbound would go negative", func(t *testing.T) {
		b := newFakeBackend()
		med := testMedicine(b)
		svc := newTestService(b)

		lot, err := svc.CreateLot(ctx, &service.CreateLotRequest{
			MedicineID: med.ID,
			LotNumber:  "LOT-NEG",
			Quantity:   40,
			ExpiryDate: futureDate(365),
		})
		require.NoError(t, err)
		inbound := b.txns[0]

		// Most of the received stock has already been issued.
		_, err = svc.AllocateOutbound(ctx, &service.AllocateRequest{
			MedicineID: med.ID,
			Quantity:   35,
		})
		require.NoError(t, err)

		_, err = svc.Reverse(ctx, inbound.ID, "receipt entered twice")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
		assert.Equal(t, 5, b.lotQuantity(lot.ID))
	})

	t.Run("reverses an adjustment back to its before snapshot", func(t *testing.T) {
		b := newFakeBackend()
		med := testMedicine(b)
		lot := b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-ADJ", Quantity: 100, ExpiryDate: futureDate(120),
		})
		svc := newTestService(b)

		_, err := svc.AdjustLot(ctx, &service.AdjustLotRequest{LotID: lot.ID, NewQuantity: 80})
		require.NoError(t, err)
		adjustment := b.txns[0]

		_, err = svc.Reverse(ctx, adjustment.ID, "count was wrong")
		require.NoError(t, err)
		assert.Equal(t, 100, b.lotQuantity(lot.ID))
	})

	t.Run("adjustment reversal restores the before snapshot despite later mutations", func(t *testing.T) {
		b := newFakeBackend()
		med := testMedicine(b)
		lot := b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-ADJ2", Quantity: 100, ExpiryDate: futureDate(120),
		})
		svc := newTestService(b)

		_, err := svc.AdjustLot(ctx, &service.AdjustLotRequest{LotID: lot.ID, NewQuantity: 80})
		require.NoError(t, err)
		adjustment := b.txns[0]

		// A return lands between the adjustment and its reversal.
		_, err = svc.ReceiveReturn(ctx, &service.ReceiveReturnRequest{LotID: lot.ID, Quantity: 30})
		require.NoError(t, err)
		require.Equal(t, 110, b.lotQuantity(lot.ID))

		// The reversal sets the lot back to the adjustment's before
		// snapshot, not back by the adjustment's delta.
		reversal, err := svc.Reverse(ctx, adjustment.ID, "count was wrong")
		require.NoError(t, err)
		assert.Equal(t, 100, b.lotQuantity(lot.ID))
		assert.Equal(t, 110, reversal.BeforeQuantity)
		assert.Equal(t, 100, reversal.AfterQuantity)
		assert.Equal(t, 10, reversal.Quantity)
	})

	t.Run("adjustment reversal is a no-op when the lot is already at the before snapshot", func(t *testing.T) {
		b := newFakeBackend()
		med := testMedicine(b)
		lot := b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-ADJ3", Quantity: 100, ExpiryDate: futureDate(120),
		})
		svc := newTestService(b)

		_, err := svc.AdjustLot(ctx, &service.AdjustLotRequest{LotID: lot.ID, NewQuantity: 80})
		require.NoError(t, err)
		adjustment := b.txns[0]

		_, err = svc.ReceiveReturn(ctx, &service.ReceiveReturnRequest{LotID: lot.ID, Quantity: 20})
		require.NoError(t, err)
		require.Equal(t, 100, b.lotQuantity(lot.ID))

		_, err = svc.Reverse(ctx, adjustment.ID, "count was wrong")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
		assert.Equal(t, 100, b.lotQuantity(lot.ID))
	})

	t.Run("reversing a disposal brings a retired lot back", func(t *testing.T) {
		b := newFakeBackend()
		med := testMedicine(b)
		lot := b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-DSP", Quantity: 25, ExpiryDate: futureDate(120),
		})
		svc := newTestService(b)

		_, err := svc.DisposeLot(ctx, &service.DisposeLotRequest{LotID: lot.ID, Quantity: 25})
		require.NoError(t, err)
		disposal := b.txns[0]

		got, err := svc.GetLot(ctx, lot.ID)
		require.NoError(t, err)
		require.Equal(t, repository.LotStatusExpired, got.Status)

		_, err = svc.Reverse(ctx, disposal.ID, "disposed by mistake")
		require.NoError(t, err)

		got, err = svc.GetLot(ctx, lot.ID)
		require.NoError(t, err)
		assert.Equal(t, 25, got.Quantity)
		assert.Equal(t, repository.LotStatusAvailable, got.Status)
	})

	t.Run("rejects a second reversal of the same entry", func(t *testing.T) {
		b := newFakeBackend()
		med := testMedicine(b)
		lot := b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-2X", Quantity: 100, ExpiryDate: futureDate(120),
		})
		svc := newTestService(b)

		result, err := svc.AllocateOutbound(ctx, &service.AllocateRequest{
			MedicineID: med.ID,
			Quantity:   10,
		})
		require.NoError(t, err)
		original := result.Lines[0].Transaction

		_, err = svc.Reverse(ctx, original.ID, "first reversal")
		require.NoError(t, err)

		_, err = svc.Reverse(ctx, original.ID, "second reversal")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrConflict))
		assert.Equal(t, 100, b.lotQuantity(lot.ID))
	})

	t.Run("rejects reversing a compensating entry", func(t *testing.T) {
		b := newFakeBackend()
		med := testMedicine(b)
		b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-CMP", Quantity: 100, ExpiryDate: futureDate(120),
		})
		svc := newTestService(b)

		result, err := svc.AllocateOutbound(ctx, &service.AllocateRequest{
			MedicineID: med.ID,
			Quantity:   10,
		})
		require.NoError(t, err)

		reversal, err := svc.Reverse(ctx, result.Lines[0].Transaction.ID, "undo")
		require.NoError(t, err)

		_, err = svc.Reverse(ctx, reversal.ID, "undo the undo")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
	})

	t.Run("rejects reversing a transfer", func(t *testing.T) {
		b := newFakeBackend()
		med := testMedicine(b)
		lot := b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-TRF", Quantity: 10, ExpiryDate: futureDate(120),
		})
		svc := newTestService(b)

		_, err := svc.TransferLot(ctx, &service.TransferLotRequest{
			LotID:      lot.ID,
			ToLocation: "cold-storage",
		})
		require.NoError(t, err)

		_, err = svc.Reverse(ctx, b.txns[0].ID, "sent to the wrong room")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
	})

	t.Run("requires a reason", func(t *testing.T) {
		b := newFakeBackend()
		svc := newTestService(b)

		_, err := svc.Reverse(ctx, "some-id", "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})

	t.Run("unknown entry", func(t *testing.T) {
		b := newFakeBackend()
		svc := newTestService(b)

		_, err := svc.Reverse(ctx, "11111111-2222-3333-4444-555555555555", "whatever")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}
