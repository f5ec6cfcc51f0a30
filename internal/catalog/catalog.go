// Package catalog is the read-only pricing port used at checkout. Product
// prices and location bands are owned elsewhere; this package only reads them.
package catalog

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_shop/internal/apperr"
)

var (
	ErrProductNotFound    = apperr.New(apperr.ErrNotFound, "product not found")
	ErrProductUnavailable = apperr.New(apperr.ErrValidation, "product is not available")
	ErrLocationNotFound   = apperr.New(apperr.ErrNotFound, "delivery location not found")
)

var hundred = decimal.NewFromInt(100)

// Product is the priced view of a catalog entry.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Available bool            `json:"available"`
}

// Band is the fee tier assigned to a delivery location. Rates are percentages
// of the order subtotal.
type Band struct {
	ID           string          `json:"id"`
	DeliveryFee  decimal.Decimal `json:"delivery_fee"`
	MarkupRate   decimal.Decimal `json:"markup_rate"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	DeliveryDays int             `json:"delivery_days"`
}

// Charges are the location-dependent amounts added to a shipment.
type Charges struct {
	DeliveryFee  decimal.Decimal
	Tax          decimal.Decimal
	DeliveryDays int
}

// Pricing is consumed by checkout.
type Pricing interface {
	UnitPrice(ctx context.Context, productID string) (decimal.Decimal, error)
	ShipmentCharges(ctx context.Context, locationID string, subtotal decimal.Decimal) (Charges, error)
}

// Source reads raw catalog records.
type Source interface {
	Product(ctx context.Context, productID string) (Product, error)
	Band(ctx context.Context, locationID string) (Band, error)
}

// Catalog computes prices and charges from a Source.
type Catalog struct {
	source Source
}

func New(source Source) *Catalog {
	return &Catalog{source: source}
}

// UnitPrice returns the current price of an available product.
func (c *Catalog) UnitPrice(ctx context.Context, productID string) (decimal.Decimal, error) {
	p, err := c.source.Product(ctx, productID)
	if err != nil {
		return decimal.Zero, apperr.Wrap("get product", err)
	}
	if !p.Available {
		return decimal.Zero, ErrProductUnavailable
	}
	return p.Price.Round(2), nil
}

// ShipmentCharges prices delivery to a location: the band's flat fee plus its
// markup on the subtotal, and tax on the subtotal.
func (c *Catalog) ShipmentCharges(ctx context.Context, locationID string, subtotal decimal.Decimal) (Charges, error) {
	b, err := c.source.Band(ctx, locationID)
	if err != nil {
		return Charges{}, apperr.Wrap("get location band", err)
	}
	markup := subtotal.Mul(b.MarkupRate).Div(hundred)
	return Charges{
		DeliveryFee:  b.DeliveryFee.Add(markup).Round(2),
		Tax:          subtotal.Mul(b.TaxRate).Div(hundred).Round(2),
		DeliveryDays: b.DeliveryDays,
	}, nil
}

// Static is an in-memory Source for tests and development.
type Static struct {
	mu       sync.RWMutex
	products map[string]Product
	bands    map[string]Band
}

func NewStatic() *Static {
	return &Static{products: make(map[string]Product), bands: make(map[string]Band)}
}

// PutProduct stores a product.
func (s *Static) PutProduct(p Product) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return s
}

// PutLocation assigns band b to locationID.
func (s *Static) PutLocation(locationID string, b Band) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bands[locationID] = b
	return s
}

func (s *Static) Product(_ context.Context, productID string) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (s *Static) Band(_ context.Context, locationID string) (Band, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bands[locationID]
	if !ok {
		return Band{}, ErrLocationNotFound
	}
	return b, nil
}
