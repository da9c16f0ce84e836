package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	catalogrepo "github.com/pharmstock/pharmstock-backend/internal/catalog/repository"
	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// fakeBackend is an in-memory stand-in for the stock store, the ledger,
// and the medicine catalog. WithTx serializes callers with a mutex the
// way row locks do, and rolls state back when the callback fails, so
// service tests exercise the same all-or-nothing behavior the database
// provides.
type fakeBackend struct {
	mu        sync.Mutex
	medicines map[string]*catalogrepo.Medicine
	lots      map[string]*repository.Lot
	lotSeq    map[string]int
	seq       int
	txns      []*repository.StockTransaction
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		medicines: make(map[string]*catalogrepo.Medicine),
		lots:      make(map[string]*repository.Lot),
		lotSeq:    make(map[string]int),
	}
}

func (f *fakeBackend) addMedicine(med *catalogrepo.Medicine) *catalogrepo.Medicine {
	if med.ID == "" {
		med.ID = uuid.New().String()
	}
	f.medicines[med.ID] = med
	return med
}

func (f *fakeBackend) addLot(lot *repository.Lot) *repository.Lot {
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	if lot.Status == "" {
		lot.Status = repository.LotStatusAvailable
	}
	f.seq++
	f.lotSeq[lot.ID] = f.seq
	f.lots[lot.ID] = lot
	return lot
}

func (f *fakeBackend) lotQuantity(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lots[id].Quantity
}

func copyLot(lot *repository.Lot) *repository.Lot {
	c := *lot
	return &c
}

func copyTxn(txn *repository.StockTransaction) *repository.StockTransaction {
	c := *txn
	return &c
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Catalog

func (f *fakeBackend) GetByID(ctx context.Context, id string) (*catalogrepo.Medicine, error) {
	if med, ok := f.medicines[id]; ok {
		return med, nil
	}
	return nil, errors.NotFound("medicine")
}

// Store

func (f *fakeBackend) GetLot(ctx context.Context, id string) (*repository.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lot, ok := f.lots[id]; ok {
		return copyLot(lot), nil
	}
	return nil, errors.NotFound("stock lot")
}

func (f *fakeBackend) GetLotByNumber(ctx context.Context, lotNumber string) (*repository.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, lot := range f.lots {
		if lot.LotNumber == lotNumber {
			return copyLot(lot), nil
		}
	}
	return nil, errors.NotFound("stock lot")
}

func (f *fakeBackend) ListLotsByMedicine(ctx context.Context, medicineID string) ([]*repository.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var lots []*repository.Lot
	for _, lot := range f.lots {
		if lot.MedicineID == medicineID {
			lots = append(lots, copyLot(lot))
		}
	}
	f.sortFEFO(lots)
	return lots, nil
}

func (f *fakeBackend) ListLots(ctx context.Context, filter repository.LotFilter, page, perPage int) ([]*repository.Lot, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var lots []*repository.Lot
	for _, lot := range f.lots {
		if filter.MedicineID != "" && lot.MedicineID != filter.MedicineID {
			continue
		}
		if filter.LotNumber != "" && lot.LotNumber != filter.LotNumber {
			continue
		}
		if filter.Status != "" && lot.Status != filter.Status {
			continue
		}
		lots = append(lots, copyLot(lot))
	}
	return lots, int64(len(lots)), nil
}

func (f *fakeBackend) TotalAvailableQuantity(ctx context.Context, medicineID string, asOf time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, lot := range f.lots {
		if lot.MedicineID == medicineID && lot.Allocatable(asOf) {
			total += lot.Quantity
		}
	}
	return total, nil
}

func (f *fakeBackend) ListExpiringLots(ctx context.Context, asOf time.Time, withinDays int) ([]*repository.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := truncateDay(asOf).AddDate(0, 0, withinDays)
	var lots []*repository.Lot
	for _, lot := range f.lots {
		if lot.Quantity > 0 && !lot.ExpiryDate.Before(truncateDay(asOf)) && !lot.ExpiryDate.After(cutoff) {
			lots = append(lots, copyLot(lot))
		}
	}
	f.sortFEFO(lots)
	return lots, nil
}

func (f *fakeBackend) ListExpiredLots(ctx context.Context, asOf time.Time) ([]*repository.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var lots []*repository.Lot
	for _, lot := range f.lots {
		if lot.Quantity > 0 && lot.IsExpired(asOf) && lot.Status != repository.LotStatusExpired {
			lots = append(lots, copyLot(lot))
		}
	}
	f.sortFEFO(lots)
	return lots, nil
}

func (f *fakeBackend) MedicineStockLevels(ctx context.Context, asOf time.Time) ([]*repository.MedicineStockLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var levels []*repository.MedicineStockLevel
	for _, med := range f.medicines {
		if !med.IsActive {
			continue
		}
		total := 0
		for _, lot := range f.lots {
			if lot.MedicineID == med.ID && lot.Status == repository.LotStatusAvailable && !lot.IsExpired(asOf) {
				total += lot.Quantity
			}
		}
		levels = append(levels, &repository.MedicineStockLevel{
			MedicineID:       med.ID,
			MedicineCode:     med.Code,
			MedicineName:     med.Name,
			MinStockQuantity: med.MinStockQuantity,
			TotalQuantity:    total,
		})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].MedicineName < levels[j].MedicineName })
	return levels, nil
}

func (f *fakeBackend) sortFEFO(lots []*repository.Lot) {
	sort.Slice(lots, func(i, j int) bool {
		if !lots[i].ExpiryDate.Equal(lots[j].ExpiryDate) {
			return lots[i].ExpiryDate.Before(lots[j].ExpiryDate)
		}
		return f.lotSeq[lots[i].ID] < f.lotSeq[lots[j].ID]
	})
}

func (f *fakeBackend) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.TxStock) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	savedLots := make(map[string]*repository.Lot, len(f.lots))
	for id, lot := range f.lots {
		savedLots[id] = copyLot(lot)
	}
	savedTxns := len(f.txns)
	savedSeq := f.seq

	if err := fn(ctx, &fakeTx{b: f}); err != nil {
		f.lots = savedLots
		f.txns = f.txns[:savedTxns]
		f.seq = savedSeq
		return err
	}
	return nil
}

// fakeTx applies changes directly to the backend; WithTx holds the lock
// and undoes everything when the callback errors.
type fakeTx struct {
	b *fakeBackend
}

func (t *fakeTx) InsertLot(ctx context.Context, lot *repository.Lot) error {
	for _, existing := range t.b.lots {
		if existing.LotNumber == lot.LotNumber {
			return errors.DuplicateLot(lot.LotNumber)
		}
	}
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	if lot.Status == "" {
		lot.Status = repository.LotStatusAvailable
	}
	lot.CreatedAt = time.Now()
	lot.UpdatedAt = lot.CreatedAt
	t.b.seq++
	t.b.lotSeq[lot.ID] = t.b.seq
	t.b.lots[lot.ID] = copyLot(lot)
	return nil
}

func (t *fakeTx) LotNumberExists(ctx context.Context, lotNumber string) (bool, error) {
	for _, lot := range t.b.lots {
		if lot.LotNumber == lotNumber {
			return true, nil
		}
	}
	return false, nil
}

func (t *fakeTx) GetLotForUpdate(ctx context.Context, id string) (*repository.Lot, error) {
	if lot, ok := t.b.lots[id]; ok {
		return copyLot(lot), nil
	}
	return nil, errors.NotFound("stock lot")
}

func (t *fakeTx) ListAvailableLotsForUpdate(ctx context.Context, medicineID string, asOf time.Time) ([]*repository.Lot, error) {
	var lots []*repository.Lot
	for _, lot := range t.b.lots {
		if lot.MedicineID == medicineID && lot.Allocatable(asOf) {
			lots = append(lots, copyLot(lot))
		}
	}
	t.b.sortFEFO(lots)
	return lots, nil
}

func (t *fakeTx) UpdateLotQuantity(ctx context.Context, id string, quantity int) error {
	lot, ok := t.b.lots[id]
	if !ok {
		return errors.NotFound("stock lot")
	}
	if quantity < 0 {
		return errors.Conflict("lot quantity cannot go below zero")
	}
	lot.Quantity = quantity
	lot.UpdatedAt = time.Now()
	return nil
}

func (t *fakeTx) UpdateLotStatus(ctx context.Context, id string, status repository.LotStatus) error {
	lot, ok := t.b.lots[id]
	if !ok {
		return errors.NotFound("stock lot")
	}
	lot.Status = status
	return nil
}

func (t *fakeTx) UpdateLotLocation(ctx context.Context, id string, location string) error {
	lot, ok := t.b.lots[id]
	if !ok {
		return errors.NotFound("stock lot")
	}
	lot.Location = &location
	return nil
}

func (t *fakeTx) InsertTransaction(ctx context.Context, txn *repository.StockTransaction) error {
	if err := txn.Validate(); err != nil {
		return err
	}
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	if txn.TransactionDate.IsZero() {
		txn.TransactionDate = time.Now()
	}
	txn.CreatedAt = time.Now()
	t.b.txns = append(t.b.txns, copyTxn(txn))
	return nil
}

func (t *fakeTx) GetTransactionForUpdate(ctx context.Context, id string) (*repository.StockTransaction, error) {
	for _, txn := range t.b.txns {
		if txn.ID == id {
			return copyTxn(txn), nil
		}
	}
	return nil, errors.NotFound("transaction")
}

func (t *fakeTx) HasReversal(ctx context.Context, transactionID string) (bool, error) {
	for _, txn := range t.b.txns {
		if txn.ReversalOf != nil && *txn.ReversalOf == transactionID {
			return true, nil
		}
	}
	return false, nil
}

// Ledger

// fakeLedger reads the same ledger the fake transactions append to
type fakeLedger struct {
	b *fakeBackend
}

func (l *fakeLedger) getTxByID(id string) *repository.StockTransaction {
	l.b.mu.Lock()
	defer l.b.mu.Unlock()
	for _, txn := range l.b.txns {
		if txn.ID == id {
			return copyTxn(txn)
		}
	}
	return nil
}

func (l *fakeLedger) GetByID(ctx context.Context, id string) (*repository.StockTransaction, error) {
	if txn := l.getTxByID(id); txn != nil {
		return txn, nil
	}
	return nil, errors.NotFound("transaction")
}

func (l *fakeLedger) Search(ctx context.Context, filter repository.TransactionFilter, page, perPage int) ([]*repository.StockTransaction, int64, error) {
	l.b.mu.Lock()
	defer l.b.mu.Unlock()
	var out []*repository.StockTransaction
	for _, txn := range l.b.txns {
		if filter.MedicineID != "" && txn.MedicineID != filter.MedicineID {
			continue
		}
		if filter.Type != "" && txn.Type != filter.Type {
			continue
		}
		out = append(out, copyTxn(txn))
	}
	return out, int64(len(out)), nil
}

func (l *fakeLedger) ListByLot(ctx context.Context, lotID string) ([]*repository.StockTransaction, error) {
	l.b.mu.Lock()
	defer l.b.mu.Unlock()
	var out []*repository.StockTransaction
	for _, txn := range l.b.txns {
		if txn.LotID != nil && *txn.LotID == lotID {
			out = append(out, copyTxn(txn))
		}
	}
	return out, nil
}

func (l *fakeLedger) Recent(ctx context.Context, limit int) ([]*repository.StockTransaction, error) {
	l.b.mu.Lock()
	defer l.b.mu.Unlock()
	var out []*repository.StockTransaction
	for i := len(l.b.txns) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, copyTxn(l.b.txns[i]))
	}
	return out, nil
}

func (l *fakeLedger) SummarizeByType(ctx context.Context, from, to time.Time) ([]*repository.TypeSummary, error) {
	l.b.mu.Lock()
	defer l.b.mu.Unlock()
	byType := make(map[repository.TransactionType]*repository.TypeSummary)
	for _, txn := range l.b.txns {
		s, ok := byType[txn.Type]
		if !ok {
			s = &repository.TypeSummary{Type: txn.Type}
			byType[txn.Type] = s
		}
		s.Count++
		s.TotalQuantity += txn.Quantity
	}
	var out []*repository.TypeSummary
	for _, s := range byType {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

func (l *fakeLedger) SummarizeByReason(ctx context.Context, from, to time.Time) ([]*repository.ReasonSummary, error) {
	l.b.mu.Lock()
	defer l.b.mu.Unlock()
	byReason := make(map[repository.TransactionReason]*repository.ReasonSummary)
	for _, txn := range l.b.txns {
		s, ok := byReason[txn.Reason]
		if !ok {
			s = &repository.ReasonSummary{Reason: txn.Reason}
			byReason[txn.Reason] = s
		}
		s.Count++
		s.TotalQuantity += txn.Quantity
	}
	var out []*repository.ReasonSummary
	for _, s := range byReason {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reason < out[j].Reason })
	return out, nil
}

func (l *fakeLedger) NetQuantityChange(ctx context.Context, from, to time.Time) (int, error) {
	l.b.mu.Lock()
	defer l.b.mu.Unlock()
	net := 0
	for _, txn := range l.b.txns {
		net += txn.AfterQuantity - txn.BeforeQuantity
	}
	return net, nil
}

func (l *fakeLedger) TopMedicines(ctx context.Context, from, to time.Time, txType repository.TransactionType, limit int) ([]*repository.MedicineMovement, error) {
	l.b.mu.Lock()
	defer l.b.mu.Unlock()
	byMed := make(map[string]*repository.MedicineMovement)
	for _, txn := range l.b.txns {
		if txn.Type != txType {
			continue
		}
		m, ok := byMed[txn.MedicineID]
		if !ok {
			m = &repository.MedicineMovement{MedicineID: txn.MedicineID}
			byMed[txn.MedicineID] = m
		}
		m.Count++
		m.TotalQuantity += txn.Quantity
	}
	var out []*repository.MedicineMovement
	for _, m := range byMed {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalQuantity > out[j].TotalQuantity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *fakeLedger) TopRequesters(ctx context.Context, from, to time.Time, limit int) ([]*repository.RequesterStat, error) {
	return nil, nil
}

func (l *fakeLedger) DailyStatistics(ctx context.Context, from, to time.Time) ([]*repository.DailyStat, error) {
	return nil, nil
}

func (l *fakeLedger) DepartmentActivity(ctx context.Context, from, to time.Time) ([]*repository.DepartmentStat, error) {
	return nil, nil
}
