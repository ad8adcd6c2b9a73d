// Package catalog holds the product resource served by the API. The
// handlers exist primarily to exercise the composed middleware stack;
// the store interface keeps them testable against an in-memory fake.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("catalog: not found")
	ErrInvalidInput = errors.New("catalog: invalid input")
)

// Product is one catalog item.
type Product struct {
	ID         string    `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	Category   string    `json:"category,omitempty"`
	PriceCents int64     `json:"price_cents"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store persists products.
type Store interface {
	Create(ctx context.Context, p *Product) error
	List(ctx context.Context, category string, limit int) ([]Product, error)
	Delete(ctx context.Context, id string) error
}

// Validate checks required fields before a create.
func (p *Product) Validate() error {
	if strings.TrimSpace(p.SKU) == "" {
		return fmt.Errorf("%w: sku is required", ErrInvalidInput)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if p.PriceCents < 0 {
		return fmt.Errorf("%w: price_cents must not be negative", ErrInvalidInput)
	}
	return nil
}
