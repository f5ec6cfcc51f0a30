package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/congo_shop/internal/uow"
)

// Repository persists orders, their items and shipments. All writes happen
// inside the caller's unit of work.
type Repository interface {
	CreateOrder(ctx context.Context, tx uow.Tx, o Order) error
	CreateItem(ctx context.Context, tx uow.Tx, item Item) error
	CreateShipment(ctx context.Context, tx uow.Tx, s Shipment) error
	NextShipmentSequence(ctx context.Context, tx uow.Tx) (int64, error)
	GetOrder(ctx context.Context, tx uow.Tx, orderID string) (Order, error)
	LockShipmentByReference(ctx context.Context, tx uow.Tx, reference string) (Shipment, error)
	UpdateShipmentStatus(ctx context.Context, tx uow.Tx, shipmentID string, status ShipmentStatus) error
	UpdateOrderStatus(ctx context.Context, tx uow.Tx, orderID string, status Status) error
}

// PostgresRepository stores orders in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed order repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateOrder(ctx context.Context, tx uow.Tx, o Order) error {
	ptx, err := uow.AsPgx(tx)
	if err != nil {
		return err
	}
	_, err = ptx.Exec(ctx, `INSERT INTO orders (id, user_id, type, status, duration, duration_type, next_shipment_date, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.UserID, string(o.Type), string(o.Status), o.Duration, string(o.DurationType), o.NextShipmentDate, o.CreatedAt)
	return err
}

func (r *PostgresRepository) CreateItem(ctx context.Context, tx uow.Tx, item Item) error {
	ptx, err := uow.AsPgx(tx)
	if err != nil {
		return err
	}
	_, err = ptx.Exec(ctx, `INSERT INTO order_items (id, order_id, product_id, quantity, unit_price)
        VALUES ($1, $2, $3, $4, $5)`, item.ID, item.OrderID, item.ProductID, item.Quantity, item.UnitPrice)
	return err
}

func (r *PostgresRepository) CreateShipment(ctx context.Context, tx uow.Tx, s Shipment) error {
	ptx, err := uow.AsPgx(tx)
	if err != nil {
		return err
	}
	_, err = ptx.Exec(ctx, `INSERT INTO shipments (id, order_id, location_id, amount, discount, discount_value_type,
        coupon_code, delivery_fee, tax, amount_to_pay, amount_paid, paid, payment_reference, status, reference,
        expected_delivery_date, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)`,
		s.ID, s.OrderID, s.LocationID, s.Amount, s.Discount, s.DiscountValueType, s.CouponCode, s.DeliveryFee,
		s.Tax, s.AmountToPay, s.AmountPaid, s.Paid, s.PaymentReference, string(s.Status), s.Reference,
		s.ExpectedDeliveryDate, s.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateReference
	}
	return err
}

// NextShipmentSequence draws from shipment_reference_seq. Sequence values are
// never reused, even when the drawing transaction rolls back.
func (r *PostgresRepository) NextShipmentSequence(ctx context.Context, tx uow.Tx) (int64, error) {
	ptx, err := uow.AsPgx(tx)
	if err != nil {
		return 0, err
	}
	var seq int64
	err = ptx.QueryRow(ctx, `SELECT nextval('shipment_reference_seq')`).Scan(&seq)
	return seq, err
}

func (r *PostgresRepository) GetOrder(ctx context.Context, tx uow.Tx, orderID string) (Order, error) {
	ptx, err := uow.AsPgx(tx)
	if err != nil {
		return Order{}, err
	}
	if _, err := uuid.Parse(orderID); err != nil {
		return Order{}, ErrOrderNotFound
	}
	var (
		o                    Order
		kind, status, durTyp string
	)
	err = ptx.QueryRow(ctx, `SELECT id::text, user_id::text, type, status, duration, duration_type, next_shipment_date, created_at
        FROM orders WHERE id = $1`, orderID).
		Scan(&o.ID, &o.UserID, &kind, &status, &o.Duration, &durTyp, &o.NextShipmentDate, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.Type, o.Status, o.DurationType = Type(kind), Status(status), DurationType(durTyp)
	return o, nil
}

func (r *PostgresRepository) LockShipmentByReference(ctx context.Context, tx uow.Tx, reference string) (Shipment, error) {
	ptx, err := uow.AsPgx(tx)
	if err != nil {
		return Shipment{}, err
	}
	var (
		s      Shipment
		status string
	)
	err = ptx.QueryRow(ctx, `SELECT id::text, order_id::text, location_id, amount, discount, discount_value_type,
        coupon_code, delivery_fee, tax, amount_to_pay, amount_paid, paid, payment_reference, status, reference,
        expected_delivery_date, created_at, updated_at
        FROM shipments WHERE reference = $1 FOR UPDATE`, reference).
		Scan(&s.ID, &s.OrderID, &s.LocationID, &s.Amount, &s.Discount, &s.DiscountValueType, &s.CouponCode,
			&s.DeliveryFee, &s.Tax, &s.AmountToPay, &s.AmountPaid, &s.Paid, &s.PaymentReference, &status,
			&s.Reference, &s.ExpectedDeliveryDate, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Shipment{}, ErrShipmentNotFound
	}
	if err != nil {
		return Shipment{}, err
	}
	s.Status = ShipmentStatus(status)
	return s, nil
}

func (r *PostgresRepository) UpdateShipmentStatus(ctx context.Context, tx uow.Tx, shipmentID string, status ShipmentStatus) error {
	ptx, err := uow.AsPgx(tx)
	if err != nil {
		return err
	}
	cmd, err := ptx.Exec(ctx, `UPDATE shipments SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), shipmentID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrShipmentNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, tx uow.Tx, orderID string, status Status) error {
	ptx, err := uow.AsPgx(tx)
	if err != nil {
		return err
	}
	cmd, err := ptx.Exec(ctx, `UPDATE orders SET status = $1 WHERE id = $2`, string(status), orderID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}
