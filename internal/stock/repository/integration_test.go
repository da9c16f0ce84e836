package repository_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalogrepo "github.com/pharmstock/pharmstock-backend/internal/catalog/repository"
	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	var err error
	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		log.Fatalf("failed to start test database: %v", err)
	}

	code := m.Run()
	testutil.TerminateContainer(ctx)
	os.Exit(code)
}

func requireSuite(t *testing.T) {
	t.Helper()
	if suite == nil {
		t.Skip("set INTEGRATION_TESTS=1 to run against PostgreSQL")
	}
}

func seedMedicine(t *testing.T, ctx context.Context) *catalogrepo.Medicine {
	t.Helper()

	medRepo := catalogrepo.NewMedicineRepository(suite.DB)
	fixture := suite.Fixtures.Medicine()
	med := &catalogrepo.Medicine{
		ID:               fixture.ID,
		Code:             fixture.Code,
		Name:             fixture.Name,
		Manufacturer:     fixture.Manufacturer,
		Unit:             fixture.Unit,
		MinStockQuantity: fixture.MinStockQuantity,
		IsActive:         true,
	}
	require.NoError(t, medRepo.Create(ctx, med))
	return med
}

func seedLot(t *testing.T, ctx context.Context, repo *repository.StockRepository, medicineID string, quantity int, expiry time.Time) *repository.Lot {
	t.Helper()

	lot := &repository.Lot{
		MedicineID:   medicineID,
		LotNumber:    fmt.Sprintf("LOT-%d", time.Now().UnixNano()),
		Quantity:     quantity,
		ExpiryDate:   expiry,
		ReceivedDate: time.Now(),
	}
	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx repository.TxStock) error {
		return tx.InsertLot(ctx, lot)
	}))
	return lot
}

func TestIntegrationDuplicateLotNumber(t *testing.T) {
	requireSuite(t)
	ctx := context.Background()
	suite.Reset(t, ctx)

	repo := repository.NewStockRepository(suite.DB)
	med := seedMedicine(t, ctx)
	lot := seedLot(t, ctx, repo, med.ID, 10, time.Now().AddDate(1, 0, 0))

	err := repo.WithTx(ctx, func(ctx context.Context, tx repository.TxStock) error {
		return tx.InsertLot(ctx, &repository.Lot{
			MedicineID:   med.ID,
			LotNumber:    lot.LotNumber,
			Quantity:     5,
			ExpiryDate:   time.Now().AddDate(1, 0, 0),
			ReceivedDate: time.Now(),
		})
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateLot))
}

func TestIntegrationFEFOOrdering(t *testing.T) {
	requireSuite(t)
	ctx := context.Background()
	suite.Reset(t, ctx)

	repo := repository.NewStockRepository(suite.DB)
	med := seedMedicine(t, ctx)

	later := seedLot(t, ctx, repo, med.ID, 10, time.Now().AddDate(0, 6, 0))
	sooner := seedLot(t, ctx, repo, med.ID, 10, time.Now().AddDate(0, 1, 0))
	expired := seedLot(t, ctx, repo, med.ID, 10, time.Now().AddDate(0, 0, -1))

	err := repo.WithTx(ctx, func(ctx context.Context, tx repository.TxStock) error {
		lots, err := tx.ListAvailableLotsForUpdate(ctx, med.ID, time.Now())
		if err != nil {
			return err
		}
		require.Len(t, lots, 2)
		assert.Equal(t, sooner.ID, lots[0].ID)
		assert.Equal(t, later.ID, lots[1].ID)
		for _, lot := range lots {
			assert.NotEqual(t, expired.ID, lot.ID)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestIntegrationQuantityCheckConstraint(t *testing.T) {
	requireSuite(t)
	ctx := context.Background()
	suite.Reset(t, ctx)

	repo := repository.NewStockRepository(suite.DB)
	med := seedMedicine(t, ctx)
	lot := seedLot(t, ctx, repo, med.ID, 10, time.Now().AddDate(1, 0, 0))

	err := repo.WithTx(ctx, func(ctx context.Context, tx repository.TxStock) error {
		return tx.UpdateLotQuantity(ctx, lot.ID, -1)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	// The failed transaction rolled back cleanly.
	got, err := repo.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Quantity)
}

func TestIntegrationTransactionRollback(t *testing.T) {
	requireSuite(t)
	ctx := context.Background()
	suite.Reset(t, ctx)

	repo := repository.NewStockRepository(suite.DB)
	med := seedMedicine(t, ctx)
	lot := seedLot(t, ctx, repo, med.ID, 100, time.Now().AddDate(1, 0, 0))

	boom := fmt.Errorf("boom")
	err := repo.WithTx(ctx, func(ctx context.Context, tx repository.TxStock) error {
		if err := tx.UpdateLotQuantity(ctx, lot.ID, 1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Quantity)
}

func TestIntegrationSingleReversalPerEntry(t *testing.T) {
	requireSuite(t)
	ctx := context.Background()
	suite.Reset(t, ctx)

	repo := repository.NewStockRepository(suite.DB)
	med := seedMedicine(t, ctx)
	lot := seedLot(t, ctx, repo, med.ID, 100, time.Now().AddDate(1, 0, 0))

	outbound := &repository.StockTransaction{
		MedicineID:     med.ID,
		LotID:          &lot.ID,
		Type:           repository.TransactionOutbound,
		Quantity:       20,
		BeforeQuantity: 100,
		AfterQuantity:  80,
		Reason:         repository.ReasonSales,
	}
	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx repository.TxStock) error {
		return tx.InsertTransaction(ctx, outbound)
	}))

	reversal := func() *repository.StockTransaction {
		return &repository.StockTransaction{
			MedicineID:     med.ID,
			LotID:          &lot.ID,
			Type:           repository.TransactionAdjustment,
			Quantity:       20,
			BeforeQuantity: 80,
			AfterQuantity:  100,
			Reason:         repository.ReasonOther,
			ReversalOf:     &outbound.ID,
		}
	}

	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx repository.TxStock) error {
		return tx.InsertTransaction(ctx, reversal())
	}))

	// The partial unique index rejects a second compensating entry even
	// if the application-level guard is bypassed.
	err := repo.WithTx(ctx, func(ctx context.Context, tx repository.TxStock) error {
		return tx.InsertTransaction(ctx, reversal())
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}
