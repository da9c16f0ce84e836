package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	// Stock events
	EventStockReceived       = "stock.received"
	EventStockAllocated      = "stock.allocated"
	EventStockAdjusted       = "stock.adjusted"
	EventStockDisposed       = "stock.disposed"
	EventStockTransferred    = "stock.transferred"
	EventStockReturned       = "stock.returned"
	EventTransactionReversed = "stock.transaction.reversed"

	// User events (consumed from the identity service)
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

// Exchange names
const (
	ExchangeStockEvents = "stock.events"
	ExchangeUserEvents  = "user.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Stock Events

// StockReceivedEvent is published when a new lot is received into inventory
type StockReceivedEvent struct {
	LotID         string    `json:"lot_id"`
	MedicineID    string    `json:"medicine_id"`
	LotNumber     string    `json:"lot_number"`
	Quantity      int       `json:"quantity"`
	ExpiryDate    time.Time `json:"expiry_date"`
	Supplier      string    `json:"supplier,omitempty"`
	TransactionID string    `json:"transaction_id"`
	PerformedBy   string    `json:"performed_by,omitempty"`
}

// LotAllocation describes the share of a withdrawal taken from one lot
type LotAllocation struct {
	LotID     string `json:"lot_id"`
	LotNumber string `json:"lot_number"`
	Quantity  int    `json:"quantity"`
	Remaining int    `json:"remaining"`
}

// StockAllocatedEvent is published when an outbound withdrawal completes
type StockAllocatedEvent struct {
	MedicineID     string          `json:"medicine_id"`
	Quantity       int             `json:"quantity"`
	Allocations    []LotAllocation `json:"allocations"`
	Department     string          `json:"department,omitempty"`
	TransactionIDs []string        `json:"transaction_ids"`
	PerformedBy    string          `json:"performed_by,omitempty"`
}

// StockAdjustedEvent is published when a lot quantity is corrected
type StockAdjustedEvent struct {
	LotID         string `json:"lot_id"`
	MedicineID    string `json:"medicine_id"`
	LotNumber     string `json:"lot_number"`
	BeforeQty     int    `json:"before_qty"`
	AfterQty      int    `json:"after_qty"`
	Reason        string `json:"reason"`
	TransactionID string `json:"transaction_id"`
	PerformedBy   string `json:"performed_by,omitempty"`
}

// StockDisposedEvent is published when stock is removed for disposal
type StockDisposedEvent struct {
	LotID         string `json:"lot_id"`
	MedicineID    string `json:"medicine_id"`
	LotNumber     string `json:"lot_number"`
	Quantity      int    `json:"quantity"`
	Reason        string `json:"reason"`
	TransactionID string `json:"transaction_id"`
	PerformedBy   string `json:"performed_by,omitempty"`
}

// StockTransferredEvent is published when a lot changes storage location
type StockTransferredEvent struct {
	LotID         string `json:"lot_id"`
	MedicineID    string `json:"medicine_id"`
	FromLocation  string `json:"from_location,omitempty"`
	ToLocation    string `json:"to_location"`
	TransactionID string `json:"transaction_id"`
	PerformedBy   string `json:"performed_by,omitempty"`
}

// StockReturnedEvent is published when dispensed stock is returned to a lot
type StockReturnedEvent struct {
	LotID         string `json:"lot_id"`
	MedicineID    string `json:"medicine_id"`
	LotNumber     string `json:"lot_number"`
	Quantity      int    `json:"quantity"`
	TransactionID string `json:"transaction_id"`
	PerformedBy   string `json:"performed_by,omitempty"`
}

// TransactionReversedEvent is published when a ledger entry is compensated
type TransactionReversedEvent struct {
	OriginalTransactionID string `json:"original_transaction_id"`
	ReversalTransactionID string `json:"reversal_transaction_id"`
	LotID                 string `json:"lot_id"`
	MedicineID            string `json:"medicine_id"`
	RestoredQty           int    `json:"restored_qty"`
	Reason                string `json:"reason"`
	PerformedBy           string `json:"performed_by,omitempty"`
}

// LotExpiringEvent is published when a lot is within the expiry warning window
type LotExpiringEvent struct {
	LotID        string    `json:"lot_id"`
	MedicineID   string    `json:"medicine_id"`
	MedicineName string    `json:"medicine_name"`
	LotNumber    string    `json:"lot_number"`
	ExpiryDate   time.Time `json:"expiry_date"`
	DaysUntil    int       `json:"days_until"`
	Quantity     int       `json:"quantity"`
}

// User Events

// UserCreatedEvent is consumed when a user is created in the identity service
type UserCreatedEvent struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	RoleName  string `json:"role_name"`
}

// FullName returns the user's full name
func (e *UserCreatedEvent) FullName() string {
	return e.FirstName + " " + e.LastName
}

// UserUpdatedEvent is consumed when a user is updated
type UserUpdatedEvent struct {
	UserID string         `json:"user_id"`
	Fields map[string]any `json:"fields"` // Changed fields
}

// UserDeletedEvent is consumed when a user is deleted
type UserDeletedEvent struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().Nanosecond()%10000)
}
