package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_shop/internal/apperr"
)

var (
	ErrEmptyCart          = apperr.New(apperr.ErrValidation, "cart is empty")
	ErrInvalidQuantity    = apperr.New(apperr.ErrValidation, "quantity must be positive")
	ErrInvalidRecurrence  = apperr.New(apperr.ErrValidation, "recurring orders need a positive duration and a duration type")
	ErrMissingLocation    = apperr.New(apperr.ErrValidation, "delivery location is required")
	ErrOrderNotFound      = apperr.New(apperr.ErrNotFound, "order not found")
	ErrShipmentNotFound   = apperr.New(apperr.ErrNotFound, "shipment not found")
	ErrInvalidTransition  = apperr.New(apperr.ErrConflict, "invalid shipment status transition")
	ErrDuplicateReference = apperr.New(apperr.ErrConflict, "duplicate shipment reference")
)

type Type string

const (
	TypeOneTime   Type = "onetime"
	TypeRecurring Type = "recurring"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// DurationType is the unit of a recurring order's interval.
type DurationType string

const (
	DurationDay   DurationType = "day"
	DurationWeek  DurationType = "week"
	DurationMonth DurationType = "month"
)

// Next returns the date n units after from.
func (d DurationType) Next(from time.Time, n int) (time.Time, bool) {
	switch d {
	case DurationDay:
		return from.AddDate(0, 0, n), true
	case DurationWeek:
		return from.AddDate(0, 0, 7*n), true
	case DurationMonth:
		return from.AddDate(0, n, 0), true
	}
	return time.Time{}, false
}

type ShipmentStatus string

const (
	ShipmentPending    ShipmentStatus = "pending"
	ShipmentProcessing ShipmentStatus = "processing"
	ShipmentInTransit  ShipmentStatus = "in_transit"
	ShipmentDelivered  ShipmentStatus = "delivered"
	ShipmentCanceled   ShipmentStatus = "canceled"
)

var shipmentTransitions = map[ShipmentStatus][]ShipmentStatus{
	ShipmentPending:    {ShipmentProcessing, ShipmentCanceled},
	ShipmentProcessing: {ShipmentInTransit, ShipmentCanceled},
	ShipmentInTransit:  {ShipmentDelivered},
}

// CanTransition reports whether a shipment may move from s to next.
func (s ShipmentStatus) CanTransition(next ShipmentStatus) bool {
	for _, allowed := range shipmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is final.
func (s ShipmentStatus) Terminal() bool {
	_, ok := shipmentTransitions[s]
	return !ok
}

// ParseShipmentStatus validates a status string.
func ParseShipmentStatus(v string) (ShipmentStatus, bool) {
	switch s := ShipmentStatus(v); s {
	case ShipmentPending, ShipmentProcessing, ShipmentInTransit, ShipmentDelivered, ShipmentCanceled:
		return s, true
	}
	return "", false
}

type Order struct {
	ID               string
	UserID           string
	Type             Type
	Status           Status
	Duration         int
	DurationType     DurationType
	NextShipmentDate *time.Time
	Items            []Item
	Shipment         Shipment
	CreatedAt        time.Time
}

type Item struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Total is the line amount.
func (i Item) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Shipment struct {
	ID                   string
	OrderID              string
	LocationID           string
	Amount               decimal.Decimal
	Discount             decimal.Decimal
	DiscountValueType    string
	CouponCode           string
	DeliveryFee          decimal.Decimal
	Tax                  decimal.Decimal
	AmountToPay          decimal.Decimal
	AmountPaid           decimal.Decimal
	Paid                 bool
	PaymentReference     string
	Status               ShipmentStatus
	Reference            string
	ExpectedDeliveryDate time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AmountToPay is amount - discount + deliveryFee + tax, never below zero.
func AmountToPay(amount, discount, deliveryFee, tax decimal.Decimal) decimal.Decimal {
	total := amount.Sub(discount).Add(deliveryFee).Add(tax).Round(2)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// FormatReference renders a shipment reference from its sequence number.
func FormatReference(at time.Time, seq int64) string {
	return fmt.Sprintf("SHP-%d-%06d", at.Year(), seq)
}
