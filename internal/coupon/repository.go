package coupon

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository looks coupons up by code.
type Repository interface {
	GetByCode(ctx context.Context, code string) (Coupon, error)
}

// PostgresRepository reads coupons from PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByCode fetches a coupon; codes are matched case-insensitively.
func (r *PostgresRepository) GetByCode(ctx context.Context, code string) (Coupon, error) {
	var (
		c          Coupon
		valueType  string
		start, end time.Time
	)
	err := r.db.QueryRow(ctx, `SELECT code, value, value_type, start_date, end_date, active
        FROM coupons WHERE upper(code) = upper($1)`, code).
		Scan(&c.Code, &c.Value, &valueType, &start, &end, &c.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Coupon{}, ErrCouponNotFound
		}
		return Coupon{}, err
	}
	c.ValueType = ValueType(valueType)
	c.StartDate = start.UTC()
	c.EndDate = end.UTC()
	return c, nil
}

// MemoryRepository holds coupons in memory for tests and development.
type MemoryRepository struct {
	mu      sync.RWMutex
	coupons map[string]Coupon
}

func NewMemoryRepository(coupons ...Coupon) *MemoryRepository {
	r := &MemoryRepository{coupons: make(map[string]Coupon)}
	for _, c := range coupons {
		r.Put(c)
	}
	return r
}

// Put stores or replaces a coupon.
func (r *MemoryRepository) Put(c Coupon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coupons[strings.ToUpper(c.Code)] = c
}

func (r *MemoryRepository) GetByCode(_ context.Context, code string) (Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.coupons[strings.ToUpper(code)]
	if !ok {
		return Coupon{}, ErrCouponNotFound
	}
	return c, nil
}
