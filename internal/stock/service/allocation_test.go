package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/internal/stock/service"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

func TestAllocateOutbound(t *testing.T) {
	ctx := context.Background()

	t.Run("drains lots in expiry order", func(t *testing.T) {
		b := newFakeBackend()
		med := testMedicine(b)
		later := b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-LATER", Quantity: 100, ExpiryDate: futureDate(200),
		})
		sooner := b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-SOONER", Quantity: 30, ExpiryDate: futureDate(20),
		})
		svc := newTestService(b)

		result, err := svc.AllocateOutbound(ctx, &service.AllocateRequest{
			MedicineID: med.ID,
			Quantity:   50,
		})
		require.NoError(t, err)
		require.Len(t, result.Lines, 2)

		// The soonest expiry drains first even though it was added last.
		assert.Equal(t, sooner.ID, result.Lines[0].Lot.ID)
		assert.Equal(t, 30, result.Lines[0].Quantity)
		assert.Equal(t, later.ID, result.Lines[1].Lot.ID)
		assert.Equal(t, 20, result.Lines[1].Quantity)

		assert.Equal(t, 0, b.lotQuantity(sooner.ID))
		assert.Equal(t, 80, b.lotQuantity(later.ID))

		// Without an explicit reason, outbound entries default to
		// prescription issue.
		for _, entry := range b.txns {
			assert.Equal(t, repository.ReasonPrescription, entry.Reason)
		}
	})

	t.Run("breaks expiry ties by insertion order", func(t *testing.T) {
		b := newFakeBackend()
		med := testMedicine(b)
		expiry := futureDate(90)
		first := b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-FIRST", Quantity: 10, ExpiryDate: expiry,
		})
		second := b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-SECOND", Quantity: 10, ExpiryDate: expiry,
		})
		svc := newTestService(b)

		result, err := svc.AllocateOutbound(ctx, &service.AllocateRequest{
			MedicineID: med.ID,
			Quantity:   15,
		})
		require.NoError(t, err)
		require.Len(t, result.Lines, 2)
		assert.Equal(t, first.ID, result.Lines[0].Lot.ID)
		assert.Equal(t, second.ID, result.Lines[1].Lot.ID)
		assert.Equal(t, 5, b.lotQuantity(second.ID))
	})

	t.Run("writes one outbound entry per lot touched", func(t *testing.T) {
		b := newFakeBackend()
		med := testMedicine(b)
		b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-1", Quantity: 5, ExpiryDate: futureDate(10),
		})
		b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-2", Quantity: 5, ExpiryDate: futureDate(20),
		})
		b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-3", Quantity: 5, ExpiryDate: futureDate(30),
		})
		svc := newTestService(b)

		dept := "icu"
		_, err := svc.AllocateOutbound(ctx, &service.AllocateRequest{
			MedicineID: med.ID,
			Quantity:   12,
			Department: &dept,
			Reason:     repository.ReasonPrescription,
		})
		require.NoError(t, err)

		require.Len(t, b.txns, 3)
		for _, entry := range b.txns {
			assert.Equal(t, repository.TransactionOutbound, entry.Type)
			assert.Equal(t, repository.ReasonPrescription, entry.Reason)
			require.NotNil(t, entry.Department)
			assert.Equal(t, "icu", *entry.Department)
			assert.Equal(t, entry.BeforeQuantity-entry.Quantity, entry.AfterQuantity)
		}
		assert.Equal(t, 5, b.txns[0].Quantity)
		assert.Equal(t, 5, b.txns[1].Quantity)
		assert.Equal(t, 2, b.txns[2].Quantity)
	})

	t.Run("skips expired and retired lots", func(t *testing.T) {
		b := newFakeBackend()
		med := testMedicine(b)
		b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-EXPIRED", Quantity: 100, ExpiryDate: futureDate(-1),
		})
		b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-DAMAGED", Quantity: 100, ExpiryDate: futureDate(50),
			Status: repository.LotStatusDamaged,
		})
		usable := b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-OK", Quantity: 40, ExpiryDate: futureDate(50),
		})
		svc := newTestService(b)

		result, err := svc.AllocateOutbound(ctx, &service.AllocateRequest{
			MedicineID: med.ID,
			Quantity:   40,
		})
		require.NoError(t, err)
		require.Len(t, result.Lines, 1)
		assert.Equal(t, usable.ID, result.Lines[0].Lot.ID)
	})

	t.Run("is all or nothing when stock cannot cover the request", func(t *testing.T) {
		b := newFakeBackend()
		med := testMedicine(b)
		a := b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-A", Quantity: 10, ExpiryDate: futureDate(10),
		})
		c := b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-B", Quantity: 10, ExpiryDate: futureDate(20),
		})
		svc := newTestService(b)

		_, err := svc.AllocateOutbound(ctx, &service.AllocateRequest{
			MedicineID: med.ID,
			Quantity:   21,
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

		var appErr *errors.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, "21", appErr.Details["requested"])
		assert.Equal(t, "20", appErr.Details["available"])

		assert.Equal(t, 10, b.lotQuantity(a.ID))
		assert.Equal(t, 10, b.lotQuantity(c.ID))
		assert.Empty(t, b.txns)
	})

	t.Run("expired stock does not count toward availability", func(t *testing.T) {
		b := newFakeBackend()
		med := testMedicine(b)
		b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-OLD", Quantity: 100, ExpiryDate: futureDate(-5),
		})
		b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-NEW", Quantity: 10, ExpiryDate: futureDate(60),
		})
		svc := newTestService(b)

		_, err := svc.AllocateOutbound(ctx, &service.AllocateRequest{
			MedicineID: med.ID,
			Quantity:   11,
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
	})

	t.Run("concurrent allocations never oversell", func(t *testing.T) {
		b := newFakeBackend()
		med := testMedicine(b)
		lot := b.addLot(&repository.Lot{
			MedicineID: med.ID, LotNumber: "LOT-HOT", Quantity: 10, ExpiryDate: futureDate(30),
		})
		svc := newTestService(b)

		const workers = 8
		var wg sync.WaitGroup
		results := make([]error, workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = svc.AllocateOutbound(context.Background(), &service.AllocateRequest{
					MedicineID: med.ID,
					Quantity:   7,
				})
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range results {
			if err == nil {
				succeeded++
			} else {
				assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
			}
		}

		// Only one request fits; losers see the post-win availability.
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 3, b.lotQuantity(lot.ID))
		assert.Len(t, b.txns, 1)
	})
}
