package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MedicineFixture represents test medicine data
type MedicineFixture struct {
	ID                     string
	Code                   string
	Name                   string
	Manufacturer           string
	Unit                   string
	Category               string
	MinStockQuantity       int
	IsPrescriptionRequired bool
	IsActive               bool
	CreatedAt              time.Time
}

// LotFixture represents test stock lot data
type LotFixture struct {
	ID           string
	MedicineID   string
	LotNumber    string
	Quantity     int
	ExpiryDate   time.Time
	ReceivedDate time.Time
	Supplier     string
	Location     string
	Status       string
	CreatedAt    time.Time
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Medicine creates a medicine fixture with defaults
func (f *FixtureFactory) Medicine(opts ...func(*MedicineFixture)) MedicineFixture {
	seq := f.nextSeq()

	med := MedicineFixture{
		ID:               uuid.New().String(),
		Code:             fmt.Sprintf("MED-%04d", seq),
		Name:             fmt.Sprintf("Test Medicine %d", seq),
		Manufacturer:     "Test Pharma Co.",
		Unit:             "tablet",
		Category:         "analgesic",
		MinStockQuantity: 50,
		IsActive:         true,
		CreatedAt:        time.Now(),
	}

	for _, opt := range opts {
		opt(&med)
	}

	return med
}

// WithCode sets the medicine code
func WithCode(code string) func(*MedicineFixture) {
	return func(m *MedicineFixture) {
		m.Code = code
	}
}

// WithMinStock sets the minimum stock quantity
func WithMinStock(qty int) func(*MedicineFixture) {
	return func(m *MedicineFixture) {
		m.MinStockQuantity = qty
	}
}

// Lot creates a stock lot fixture with defaults. The lot expires one year
// from now and is fully available.
func (f *FixtureFactory) Lot(medicineID string, opts ...func(*LotFixture)) LotFixture {
	seq := f.nextSeq()

	lot := LotFixture{
		ID:           uuid.New().String(),
		MedicineID:   medicineID,
		LotNumber:    fmt.Sprintf("LOT-%06d", seq),
		Quantity:     100,
		ExpiryDate:   time.Now().AddDate(1, 0, 0),
		ReceivedDate: time.Now(),
		Supplier:     "Test Supplier GmbH",
		Location:     "A-01",
		Status:       "AVAILABLE",
		CreatedAt:    time.Now(),
	}

	for _, opt := range opts {
		opt(&lot)
	}

	return lot
}

// WithQuantity sets the lot quantity
func WithQuantity(qty int) func(*LotFixture) {
	return func(l *LotFixture) {
		l.Quantity = qty
	}
}

// WithExpiry sets the lot expiry date
func WithExpiry(expiry time.Time) func(*LotFixture) {
	return func(l *LotFixture) {
		l.ExpiryDate = expiry
	}
}

// WithLotNumber sets the lot number
func WithLotNumber(lotNumber string) func(*LotFixture) {
	return func(l *LotFixture) {
		l.LotNumber = lotNumber
	}
}

// WithStatus sets the lot status
func WithStatus(status string) func(*LotFixture) {
	return func(l *LotFixture) {
		l.Status = status
	}
}
