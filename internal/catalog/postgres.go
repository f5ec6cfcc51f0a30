package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource reads products and location bands from PostgreSQL.
type PostgresSource struct {
	db *pgxpool.Pool
}

func NewPostgresSource(db *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Product(ctx context.Context, productID string) (Product, error) {
	var p Product
	err := s.db.QueryRow(ctx, `SELECT id::text, name, price, available FROM products WHERE id::text = $1`, productID).
		Scan(&p.ID, &p.Name, &p.Price, &p.Available)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (s *PostgresSource) Band(ctx context.Context, locationID string) (Band, error) {
	var b Band
	err := s.db.QueryRow(ctx, `SELECT b.id::text, b.delivery_fee, b.markup_rate, b.tax_rate, b.delivery_days
        FROM locations l JOIN bands b ON b.id = l.band_id WHERE l.id::text = $1`, locationID).
		Scan(&b.ID, &b.DeliveryFee, &b.MarkupRate, &b.TaxRate, &b.DeliveryDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return Band{}, ErrLocationNotFound
	}
	return b, err
}
