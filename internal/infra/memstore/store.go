// Package memstore はDBなしで動かすためのTransactionManager実装。
// Txは直列に実行し、fnが成功したときだけ作業コピーを反映する。
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"
)

type state struct {
	seq           int64
	products      map[int64]model.Product
	addresses     map[int64]model.Address
	carts         map[int64]model.Cart
	cartItems     map[int64]model.CartItem
	orders        map[int64]model.Order
	orderItems    map[int64]model.OrderItem
	checkouts     map[string]model.CheckoutAttempt
	paymentEvents map[string]model.PaymentEvent
	refunds       map[int64]model.Refund
	outbox        map[int64]model.OutboxEvent
}

func newState() *state {
	return &state{
		products:      map[int64]model.Product{},
		addresses:     map[int64]model.Address{},
		carts:         map[int64]model.Cart{},
		cartItems:     map[int64]model.CartItem{},
		orders:        map[int64]model.Order{},
		orderItems:    map[int64]model.OrderItem{},
		checkouts:     map[string]model.CheckoutAttempt{},
		paymentEvents: map[string]model.PaymentEvent{},
		refunds:       map[int64]model.Refund{},
		outbox:        map[int64]model.OutboxEvent{},
	}
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	copyMap(c.products, s.products)
	copyMap(c.addresses, s.addresses)
	copyMap(c.carts, s.carts)
	copyMap(c.cartItems, s.cartItems)
	copyMap(c.orders, s.orders)
	copyMap(c.orderItems, s.orderItems)
	copyMap(c.paymentEvents, s.paymentEvents)
	copyMap(c.refunds, s.refunds)
	copyMap(c.outbox, s.outbox)
	for k, v := range s.checkouts {
		v.Lines = append([]model.CheckoutLine(nil), v.Lines...)
		c.checkouts[k] = v
	}
	return c
}

func copyMap[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time

	faultMu sync.Mutex
	faults  map[string]error
}

func New() *Store {
	return &Store{
		st:     newState(),
		now:    time.Now,
		faults: map[string]error{},
	}
}

// 時刻を差し替える（テスト用）
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// opの実行時にerrを返すようにする。errがnilなら解除。
// opは "orders.create" "order_items.create" "inventory.decrease" など
func (s *Store) FailOn(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *Store) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if err, ok := s.faults[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&txRepos{st: work, store: s}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type txRepos struct {
	st    *state
	store *Store
}

func (r *txRepos) Orders() repo.OrderRepository               { return orderRepo{r} }
func (r *txRepos) OrderItems() repo.OrderItemRepository       { return orderItemRepo{r} }
func (r *txRepos) Carts() repo.CartRepository                 { return cartRepo{r} }
func (r *txRepos) CartItems() repo.CartItemRepository         { return cartItemRepo{r} }
func (r *txRepos) Inventory() repo.InventoryRepository        { return inventoryRepo{r} }
func (r *txRepos) Products() repo.ProductRepository           { return productRepo{r} }
func (r *txRepos) Addresses() repo.AddressRepository          { return addressRepo{r} }
func (r *txRepos) Checkouts() repo.CheckoutRepository         { return checkoutRepo{r} }
func (r *txRepos) PaymentEvents() repo.PaymentEventRepository { return paymentEventRepo{r} }
func (r *txRepos) Refunds() repo.RefundRepository             { return refundRepo{r} }
func (r *txRepos) Outbox() repo.OutboxRepository              { return outboxRepo{r} }
func (r *txRepos) fault(op string) error                      { return r.store.fault(op) }
func (r *txRepos) now() time.Time                             { return r.store.now() }

// ---- 以下はテスト・デモ用のシードと参照 ----

func (s *Store) SeedProduct(p model.Product) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.st.nextID()
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.st.products[p.ID] = p
	return p
}

func (s *Store) SeedAddress(a model.Address) model.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.st.nextID()
	}
	now := s.now()
	a.CreatedAt, a.UpdatedAt = now, now
	s.st.addresses[a.ID] = a
	return a
}

// ACTIVEカートに明細を入れる
func (s *Store) SeedCartItem(userID, productID, qty int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &txRepos{st: s.st, store: s}
	cart, _ := cartRepo{tx}.GetOrCreateActiveByUserID(context.Background(), userID)
	_ = cartItemRepo{tx}.UpsertByCartAndProduct(context.Background(), cart.ID, productID, qty)
}

func (s *Store) SetPrice(productID, price int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.st.products[productID]
	p.Price = price
	s.st.products[productID] = p
}

func (s *Store) Product(id int64) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.products[id]
}

func (s *Store) Checkout(id string) model.CheckoutAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.checkouts[id]
}

func (s *Store) AllOrders() []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.st.orders, func(o model.Order) int64 { return o.ID })
}

func (s *Store) AllOrderItems() []model.OrderItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.st.orderItems, func(i model.OrderItem) int64 { return i.ID })
}

func (s *Store) AllRefunds() []model.Refund {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.st.refunds, func(r model.Refund) int64 { return r.ID })
}

func (s *Store) AllOutbox() []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.st.outbox, func(e model.OutboxEvent) int64 { return e.ID })
}

func (s *Store) PaymentEvent(id string) (model.PaymentEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.st.paymentEvents[id]
	return ev, ok
}

// ユーザーのACTIVEカートの明細
func (s *Store) CartItemsOf(userID int64) []model.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CartItem
	for _, c := range s.st.carts {
		if c.UserID != userID || !c.IsOpen() {
			continue
		}
		for _, it := range s.st.cartItems {
			if it.CartID == c.ID {
				out = append(out, it)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedValues[K comparable, V any](m map[K]V, id func(V) int64) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return id(out[i]) < id(out[j]) })
	return out
}
