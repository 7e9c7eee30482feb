package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/surpriset/marketsync/internal/domain/product"
)

const productColumns = `id, sku, name, description, composition, price, original_price,
	COALESCE(images, '[]'::jsonb), status, COALESCE(specifications, '{}'::jsonb),
	is_imported, COALESCE(source_url, ''), margin_percent, last_price_check_at,
	created_at, updated_at`

const (
	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY created_at DESC, id`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	insertProductSQL = `INSERT INTO products
		(id, sku, name, description, composition, price, original_price, images, status,
		 specifications, is_imported, source_url, margin_percent, last_price_check_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14)`
)

var _ product.Store = (*ProductRepository)(nil)

// ProductRepository implements product.Store backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// ListAll returns the whole catalog, newest first.
func (r *ProductRepository) ListAll(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Create persists a new product record.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	var originalPrice any
	if p.OriginalPrice.Valid {
		originalPrice = p.OriginalPrice.Decimal
	}
	_, err := r.pool.Exec(ctx, insertProductSQL,
		p.ID, p.SKU, p.Name, p.Description, p.Composition, p.Price, originalPrice,
		p.Images, string(p.Status), p.Specifications, p.IsImported, p.SourceURL,
		p.MarginPercent, p.LastPriceCheckAt,
	)
	if err != nil {
		return errors.Wrapf(err, "create product %q", p.ID)
	}
	return nil
}

// UpdateByID applies a partial update atomically and returns the updated
// record. It returns product.ErrNotFound when the id is unknown.
func (r *ProductRepository) UpdateByID(ctx context.Context, id string, upd product.Update) (*product.Product, error) {
	sets := []string{"updated_at = now()"}
	args := []any{id}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.Composition != nil {
		add("composition", *upd.Composition)
	}
	if upd.Price != nil {
		add("price", *upd.Price)
	}
	if upd.OriginalPrice != nil {
		if upd.OriginalPrice.Valid {
			add("original_price", upd.OriginalPrice.Decimal)
		} else {
			add("original_price", nil)
		}
	}
	if upd.Images != nil {
		add("images", upd.Images)
	}
	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.Specifications != nil {
		add("specifications", upd.Specifications)
	}
	if upd.MarginPercent != nil {
		add("margin_percent", *upd.MarginPercent)
	}
	if upd.LastPriceCheckAt != nil {
		add("last_price_check_at", *upd.LastPriceCheckAt)
	}

	query := "UPDATE products SET " + strings.Join(sets, ", ") +
		" WHERE id = $1 RETURNING " + productColumns

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "update product %q", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "update product %q", id)
	}
	return &p, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p              product.Product
		status         string
		lastPriceCheck *time.Time
	)
	err := row.Scan(
		&p.ID, &p.SKU, &p.Name, &p.Description, &p.Composition,
		&p.Price, &p.OriginalPrice, &p.Images, &status, &p.Specifications,
		&p.IsImported, &p.SourceURL, &p.MarginPercent, &lastPriceCheck,
		&p.CreatedAt, &p.UpdatedAt,
	)
	p.Status = product.Status(status)
	p.LastPriceCheckAt = lastPriceCheck
	return p, err
}
