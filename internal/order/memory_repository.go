package order

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/congo-pay/congo_shop/internal/uow"
)

// MemoryRepository keeps orders in memory. Writes are staged on the unit of
// work and become visible on commit.
type MemoryRepository struct {
	mu        sync.RWMutex
	orders    map[string]Order
	items     map[string][]Item
	shipments map[string]Shipment
	byRef     map[string]string
	seq       atomic.Int64
	locks     *uow.KeyLocks
}

type orderStage struct {
	hooked    bool
	orders    map[string]Order
	items     []Item
	shipments map[string]Shipment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:    make(map[string]Order),
		items:     make(map[string][]Item),
		shipments: make(map[string]Shipment),
		byRef:     make(map[string]string),
		locks:     uow.NewKeyLocks(),
	}
}

func (r *MemoryRepository) stage(tx uow.Tx) (*uow.MemoryTx, *orderStage, error) {
	mem, err := uow.AsMemory(tx)
	if err != nil {
		return nil, nil, err
	}
	st := mem.State(r, func() any {
		return &orderStage{orders: make(map[string]Order), shipments: make(map[string]Shipment)}
	}).(*orderStage)
	if !st.hooked {
		st.hooked = true
		mem.OnCommit(func() { r.apply(st) })
	}
	return mem, st, nil
}

func (r *MemoryRepository) apply(st *orderStage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, o := range st.orders {
		r.orders[id] = o
	}
	for _, item := range st.items {
		r.items[item.OrderID] = append(r.items[item.OrderID], item)
	}
	for id, s := range st.shipments {
		r.shipments[id] = s
		r.byRef[s.Reference] = id
	}
}

func (r *MemoryRepository) CreateOrder(_ context.Context, tx uow.Tx, o Order) error {
	_, st, err := r.stage(tx)
	if err != nil {
		return err
	}
	o.Items, o.Shipment = nil, Shipment{}
	st.orders[o.ID] = o
	return nil
}

func (r *MemoryRepository) CreateItem(_ context.Context, tx uow.Tx, item Item) error {
	_, st, err := r.stage(tx)
	if err != nil {
		return err
	}
	st.items = append(st.items, item)
	return nil
}

func (r *MemoryRepository) CreateShipment(_ context.Context, tx uow.Tx, s Shipment) error {
	_, st, err := r.stage(tx)
	if err != nil {
		return err
	}
	r.mu.RLock()
	_, taken := r.byRef[s.Reference]
	r.mu.RUnlock()
	if taken {
		return ErrDuplicateReference
	}
	for _, staged := range st.shipments {
		if staged.Reference == s.Reference {
			return ErrDuplicateReference
		}
	}
	st.shipments[s.ID] = s
	return nil
}

func (r *MemoryRepository) NextShipmentSequence(_ context.Context, _ uow.Tx) (int64, error) {
	return r.seq.Add(1), nil
}

func (r *MemoryRepository) GetOrder(_ context.Context, tx uow.Tx, orderID string) (Order, error) {
	_, st, err := r.stage(tx)
	if err != nil {
		return Order{}, err
	}
	if o, ok := st.orders[orderID]; ok {
		return o, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (r *MemoryRepository) LockShipmentByReference(ctx context.Context, tx uow.Tx, reference string) (Shipment, error) {
	mem, st, err := r.stage(tx)
	if err != nil {
		return Shipment{}, err
	}
	for _, s := range st.shipments {
		if s.Reference == reference {
			return s, nil
		}
	}

	r.mu.RLock()
	id, ok := r.byRef[reference]
	r.mu.RUnlock()
	if !ok {
		return Shipment{}, ErrShipmentNotFound
	}
	if err := r.locks.Acquire(ctx, mem, id); err != nil {
		return Shipment{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.shipments[id], nil
}

func (r *MemoryRepository) UpdateShipmentStatus(_ context.Context, tx uow.Tx, shipmentID string, status ShipmentStatus) error {
	_, st, err := r.stage(tx)
	if err != nil {
		return err
	}
	s, ok := st.shipments[shipmentID]
	if !ok {
		r.mu.RLock()
		s, ok = r.shipments[shipmentID]
		r.mu.RUnlock()
		if !ok {
			return ErrShipmentNotFound
		}
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	st.shipments[shipmentID] = s
	return nil
}

func (r *MemoryRepository) UpdateOrderStatus(ctx context.Context, tx uow.Tx, orderID string, status Status) error {
	o, err := r.GetOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}
	_, st, err := r.stage(tx)
	if err != nil {
		return err
	}
	o.Status = status
	st.orders[orderID] = o
	return nil
}

// Counts reports committed orders, items and shipments.
func (r *MemoryRepository) Counts() (orders, items, shipments int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, list := range r.items {
		items += len(list)
	}
	return len(r.orders), items, len(r.shipments)
}

// Shipment returns a committed shipment by reference.
func (r *MemoryRepository) Shipment(reference string) (Shipment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byRef[reference]
	if !ok {
		return Shipment{}, false
	}
	return r.shipments[id], true
}

// Order returns a committed order with its items.
func (r *MemoryRepository) Order(orderID string) (Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[orderID]
	if !ok {
		return Order{}, false
	}
	o.Items = append([]Item(nil), r.items[orderID]...)
	return o, true
}
