package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus values are stored verbatim in the archive and live tables.
type OrderStatus string

const (
	OrderStatusActive    OrderStatus = "Активен"
	OrderStatusCancelled OrderStatus = "Отменен"
)

// NewOrder is what the conversation hands to the order store on confirmation.
type NewOrder struct {
	UserID       int64
	VenueID      string
	Address      string
	Amount       int // kg
	DeliveryDate Date
	CreatedAt    time.Time
}

// Order is one archive row. Address and UnitPrice are snapshots taken at creation.
type Order struct {
	ID           string
	UserID       int64
	VenueID      string
	Address      string
	Amount       int
	DeliveryDate Date
	CreatedAt    time.Time
	Status       OrderStatus
	UnitPrice    decimal.Decimal
	Subtotal     decimal.Decimal
	Surcharge    decimal.Decimal
	Total        decimal.Decimal
}

// ActiveOrder is a listing entry. Index is derived on every listing and is only
// meaningful until the user's active set changes.
type ActiveOrder struct {
	Index        int
	OrderID      string
	Amount       int
	DeliveryDate Date
	UnitPrice    decimal.Decimal
	Total        decimal.Decimal
}

// OrderRef points at an entry of a previously shown listing. OrderID is optional;
// when set, a cancellation is refused if the index now resolves to another order.
type OrderRef struct {
	Index   int
	OrderID string
}

// OrderStats aggregates archive rows for the operator /stats command.
type OrderStats struct {
	Total    int
	ByStatus map[OrderStatus]int
	ByDate   map[Date]map[OrderStatus]int
	Amount   map[Date]int // active kg per delivery date
}
