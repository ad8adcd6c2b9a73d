package catalog

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/tardis-create/revenueforge-sub000/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store over a products table:
//
//	products(id text primary key, sku text unique, name text,
//	         category text, price_cents bigint,
//	         created_at timestamptz, updated_at timestamptz)
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, p *Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		insert into products(id, sku, name, category, price_cents, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, p.ID, p.SKU, p.Name, p.Category, p.PriceCents, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *PGStore) List(ctx context.Context, category string, limit int) ([]Product, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		select id, sku, name, coalesce(category,''), price_cents, created_at, updated_at
		from products
	`
	args := []any{}
	if category != "" {
		query += ` where category = $1`
		args = append(args, category)
	}
	query += ` order by created_at desc limit ` + placeholder(len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from products where id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
