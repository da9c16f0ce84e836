package service

import (
	"context"
	"time"

	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
)

// StockStatus buckets a medicine's usable quantity against its
// configured minimum
type StockStatus string

const (
	StockStatusOutOfStock StockStatus = "OUT_OF_STOCK"
	StockStatusCritical   StockStatus = "CRITICAL"
	StockStatusLow        StockStatus = "LOW"
	StockStatusSufficient StockStatus = "SUFFICIENT"
)

// classifyStock buckets quantity against the minimum: zero is out of
// stock, below half the minimum is critical, below the minimum is low.
func classifyStock(quantity, minimum int) StockStatus {
	switch {
	case quantity == 0:
		return StockStatusOutOfStock
	case quantity*2 < minimum:
		return StockStatusCritical
	case quantity < minimum:
		return StockStatusLow
	default:
		return StockStatusSufficient
	}
}

// TransactionSummary aggregates ledger activity over a date range
type TransactionSummary struct {
	From      time.Time                      `json:"from"`
	To        time.Time                      `json:"to"`
	ByType    []*repository.TypeSummary      `json:"by_type"`
	ByReason  []*repository.ReasonSummary    `json:"by_reason"`
	NetChange int                            `json:"net_change"`
	TopMovers []*repository.MedicineMovement `json:"top_movers"`
}

// DepartmentActivityReport shows which departments draw stock and who
// requests it
type DepartmentActivityReport struct {
	From          time.Time                    `json:"from"`
	To            time.Time                    `json:"to"`
	Departments   []*repository.DepartmentStat `json:"departments"`
	TopRequesters []*repository.RequesterStat  `json:"top_requesters"`
}

// MedicineStockStatus is one medicine's stock level with its bucket
type MedicineStockStatus struct {
	*repository.MedicineStockLevel
	Status StockStatus `json:"status"`
}

// StockStatusReport buckets every active medicine by stock level
type StockStatusReport struct {
	Counts    map[StockStatus]int    `json:"counts"`
	Medicines []*MedicineStockStatus `json:"medicines"`
}

const topMoversLimit = 5

// defaultRange fills an open date range: an empty range covers the last
// 30 days, an open end runs to now.
func defaultRange(from, to time.Time) (time.Time, time.Time) {
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	return from, to
}

// TransactionSummary reports counts and quantities by type and reason,
// the net quantity change, and the medicines with the most outbound
// movement over the range.
func (s *StockService) TransactionSummary(ctx context.Context, from, to time.Time) (*TransactionSummary, error) {
	from, to = defaultRange(from, to)

	byType, err := s.ledger.SummarizeByType(ctx, from, to)
	if err != nil {
		return nil, err
	}
	byReason, err := s.ledger.SummarizeByReason(ctx, from, to)
	if err != nil {
		return nil, err
	}
	net, err := s.ledger.NetQuantityChange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	topMovers, err := s.ledger.TopMedicines(ctx, from, to, repository.TransactionOutbound, topMoversLimit)
	if err != nil {
		return nil, err
	}

	return &TransactionSummary{
		From:      from,
		To:        to,
		ByType:    byType,
		ByReason:  byReason,
		NetChange: net,
		TopMovers: topMovers,
	}, nil
}

// DailyStatistics reports per-day, per-type entry counts and quantities
// over the range
func (s *StockService) DailyStatistics(ctx context.Context, from, to time.Time) ([]*repository.DailyStat, error) {
	from, to = defaultRange(from, to)
	return s.ledger.DailyStatistics(ctx, from, to)
}

// DepartmentActivity reports outbound activity per department together
// with the most frequent requesters over the range
func (s *StockService) DepartmentActivity(ctx context.Context, from, to time.Time) (*DepartmentActivityReport, error) {
	from, to = defaultRange(from, to)

	departments, err := s.ledger.DepartmentActivity(ctx, from, to)
	if err != nil {
		return nil, err
	}
	requesters, err := s.ledger.TopRequesters(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}

	return &DepartmentActivityReport{
		From:          from,
		To:            to,
		Departments:   departments,
		TopRequesters: requesters,
	}, nil
}

// StockStatusSummary buckets every active medicine by its usable
// quantity. Only AVAILABLE lots with a future expiry date count toward
// a medicine's quantity, so stock that exists but cannot be issued does
// not mask a shortage.
func (s *StockService) StockStatusSummary(ctx context.Context) (*StockStatusReport, error) {
	levels, err := s.store.MedicineStockLevels(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	report := &StockStatusReport{
		Counts: map[StockStatus]int{
			StockStatusOutOfStock: 0,
			StockStatusCritical:   0,
			StockStatusLow:        0,
			StockStatusSufficient: 0,
		},
	}
	for _, level := range levels {
		status := classifyStock(level.TotalQuantity, level.MinStockQuantity)
		report.Counts[status]++
		report.Medicines = append(report.Medicines, &MedicineStockStatus{
			MedicineStockLevel: level,
			Status:             status,
		})
	}

	return report, nil
}

// LowStockMedicines lists active medicines whose usable quantity sits
// below their configured minimum
func (s *StockService) LowStockMedicines(ctx context.Context) ([]*MedicineStockStatus, error) {
	levels, err := s.store.MedicineStockLevels(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	var low []*MedicineStockStatus
	for _, level := range levels {
		status := classifyStock(level.TotalQuantity, level.MinStockQuantity)
		if status == StockStatusSufficient {
			continue
		}
		low = append(low, &MedicineStockStatus{
			MedicineStockLevel: level,
			Status:             status,
		})
	}

	return low, nil
}

// ExpiringLots lists lots whose expiry date falls within the given
// number of days. Expiry is judged by date, not by stored status.
func (s *StockService) ExpiringLots(ctx context.Context, withinDays int) ([]*repository.Lot, error) {
	if withinDays <= 0 {
		withinDays = 30
	}
	return s.store.ListExpiringLots(ctx, time.Now(), withinDays)
}

// ExpiredLots lists lots already past their expiry date that still hold
// stock and have not been retired
func (s *StockService) ExpiredLots(ctx context.Context) ([]*repository.Lot, error) {
	return s.store.ListExpiredLots(ctx, time.Now())
}

// TotalAvailableQuantity returns the usable quantity of one medicine
func (s *StockService) TotalAvailableQuantity(ctx context.Context, medicineID string) (int, error) {
	if _, err := s.catalog.GetByID(ctx, medicineID); err != nil {
		return 0, err
	}
	return s.store.TotalAvailableQuantity(ctx, medicineID, time.Now())
}
