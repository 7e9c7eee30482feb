package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// DefaultMarginPercent is applied to imported products that carry no
// explicit margin.
const DefaultMarginPercent = 20

// Status describes product availability as shown in the storefront.
type Status string

const (
	StatusInStock    Status = "in_stock"
	StatusOutOfStock Status = "out_of_stock"
	StatusComingSoon Status = "coming_soon"
)

// Product is the stored catalog record. Prices always carry the margin
// applied on top of the marketplace price; the raw marketplace price is
// never persisted.
type Product struct {
	ID               string
	SKU              string
	Name             string
	Description      string
	Composition      string
	Price            decimal.Decimal
	OriginalPrice    decimal.NullDecimal
	Images           []string
	Status           Status
	Specifications   map[string]string
	IsImported       bool
	SourceURL        string
	MarginPercent    int
	LastPriceCheckAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Update is a partial update of a stored product. Nil fields are left
// untouched. OriginalPrice uses NullDecimal so it can be explicitly
// cleared when a marketplace drops its discount.
type Update struct {
	Name             *string
	Description      *string
	Composition      *string
	Price            *decimal.Decimal
	OriginalPrice    *decimal.NullDecimal
	Images           []string
	Status           *Status
	Specifications   map[string]string
	MarginPercent    *int
	LastPriceCheckAt *time.Time
}

// Store is the product persistence contract consumed by the reconciliation
// service and the admin API. Implementations must provide atomic per-record
// updates; no additional locking is layered on top.
type Store interface {
	ListAll(ctx context.Context) ([]Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	UpdateByID(ctx context.Context, id string, upd Update) (*Product, error)
	Create(ctx context.Context, p *Product) error
}

// Stale reports whether the product's cached price is due for a re-check.
// A product that has never been checked is always stale.
func (p *Product) Stale(now time.Time, threshold time.Duration) bool {
	if !p.IsImported || p.SourceURL == "" {
		return false
	}
	if p.LastPriceCheckAt == nil {
		return true
	}
	return now.Sub(*p.LastPriceCheckAt) >= threshold
}
