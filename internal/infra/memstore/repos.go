package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"
)

type productRepo struct{ tx *txRepos }

func (r productRepo) ListActive(ctx context.Context, q repo.ProductListQuery) ([]model.Product, int64, error) {
	if err := r.tx.fault("products.list"); err != nil {
		return nil, 0, err
	}
	kw := strings.ToLower(strings.TrimSpace(q.Q))
	var hit []model.Product
	for _, p := range r.tx.st.products {
		if !p.IsActive || p.DeletedAt.Valid {
			continue
		}
		if kw != "" && !strings.Contains(strings.ToLower(p.Name), kw) {
			continue
		}
		if q.MinPrice != nil && p.Price < *q.MinPrice {
			continue
		}
		if q.MaxPrice != nil && p.Price > *q.MaxPrice {
			continue
		}
		hit = append(hit, p)
	}

	sort.Slice(hit, func(i, j int) bool {
		a, b := hit[i], hit[j]
		switch q.Sort {
		case "price_asc":
			if a.Price != b.Price {
				return a.Price < b.Price
			}
			return a.ID < b.ID
		case "price_desc":
			if a.Price != b.Price {
				return a.Price > b.Price
			}
			return a.ID > b.ID
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return paginate(hit, q.Page, q.Limit), int64(len(hit)), nil
}

func (r productRepo) FindByID(ctx context.Context, id int64) (model.Product, error) {
	p, ok := r.tx.st.products[id]
	if !ok || p.DeletedAt.Valid {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (r productRepo) FindByIDs(ctx context.Context, ids []int64) ([]model.Product, error) {
	if err := r.tx.fault("products.find"); err != nil {
		return nil, err
	}
	out := make([]model.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.tx.st.products[id]; ok && !p.DeletedAt.Valid {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r productRepo) LockByIDs(ctx context.Context, ids []int64) ([]model.Product, error) {
	out, err := r.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type inventoryRepo struct{ tx *txRepos }

func (r inventoryRepo) Decrease(ctx context.Context, productID int64, qty int64) (int64, bool, error) {
	if err := r.tx.fault("inventory.decrease"); err != nil {
		return 0, false, err
	}
	p, ok := r.tx.st.products[productID]
	if !ok || p.Stock < qty {
		return 0, false, nil
	}
	p.Stock -= qty
	p.UpdatedAt = r.tx.now()
	r.tx.st.products[productID] = p
	return p.Stock, true, nil
}

type addressRepo struct{ tx *txRepos }

func (r addressRepo) FindByID(ctx context.Context, addressID int64) (model.Address, error) {
	a, ok := r.tx.st.addresses[addressID]
	if !ok {
		return model.Address{}, repo.ErrNotFound
	}
	return a, nil
}

func (r addressRepo) ListByUserID(ctx context.Context, userID int64) ([]model.Address, error) {
	out := []model.Address{}
	for _, a := range r.tx.st.addresses {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r addressRepo) Create(ctx context.Context, a model.Address) (model.Address, error) {
	if err := r.tx.fault("addresses.create"); err != nil {
		return model.Address{}, err
	}
	a.IsDefault = true
	for _, x := range r.tx.st.addresses {
		if x.UserID == a.UserID {
			a.IsDefault = false
			break
		}
	}
	a.ID = r.tx.st.nextID()
	a.CreatedAt, a.UpdatedAt = r.tx.now(), r.tx.now()
	r.tx.st.addresses[a.ID] = a
	return a, nil
}

type cartRepo struct{ tx *txRepos }

func (r cartRepo) GetOrCreateActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	if c, err := r.FindActiveByUserID(ctx, userID); err == nil {
		return c, nil
	}
	now := r.tx.now()
	c := model.Cart{
		ID:        r.tx.st.nextID(),
		UserID:    userID,
		Status:    model.CartStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.tx.st.carts[c.ID] = c
	return c, nil
}

func (r cartRepo) FindActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	var found model.Cart
	for _, c := range r.tx.st.carts {
		if c.UserID == userID && c.IsOpen() && c.ID > found.ID {
			found = c
		}
	}
	if found.ID == 0 {
		return model.Cart{}, repo.ErrNotFound
	}
	return found, nil
}

func (r cartRepo) LockByID(ctx context.Context, cartID int64) (model.Cart, error) {
	c, ok := r.tx.st.carts[cartID]
	if !ok {
		return model.Cart{}, repo.ErrNotFound
	}
	return c, nil
}

func (r cartRepo) MarkCheckedOut(ctx context.Context, cartID int64, checkoutID string) error {
	if err := r.tx.fault("carts.checkout"); err != nil {
		return err
	}
	c, ok := r.tx.st.carts[cartID]
	if !ok || !c.IsOpen() {
		return repo.ErrNotFound
	}
	c.Status = model.CartStatusCheckedOut
	c.CheckoutID = &checkoutID
	c.UpdatedAt = r.tx.now()
	r.tx.st.carts[cartID] = c
	return nil
}

type cartItemRepo struct{ tx *txRepos }

func (r cartItemRepo) ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	out := []model.CartItem{}
	for _, it := range r.tx.st.cartItems {
		if it.CartID == cartID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r cartItemRepo) UpsertByCartAndProduct(ctx context.Context, cartID int64, productID int64, addQty int64) error {
	now := r.tx.now()
	for id, it := range r.tx.st.cartItems {
		if it.CartID == cartID && it.ProductID == productID {
			it.Quantity += addQty
			it.UpdatedAt = now
			r.tx.st.cartItems[id] = it
			return nil
		}
	}
	it := model.CartItem{
		ID:        r.tx.st.nextID(),
		CartID:    cartID,
		ProductID: productID,
		Quantity:  addQty,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.tx.st.cartItems[it.ID] = it
	return nil
}

func (r cartItemRepo) UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error {
	it, ok := r.tx.st.cartItems[cartItemID]
	if !ok {
		return repo.ErrNotFound
	}
	it.Quantity = qty
	it.UpdatedAt = r.tx.now()
	r.tx.st.cartItems[cartItemID] = it
	return nil
}

func (r cartItemRepo) DeleteByID(ctx context.Context, cartItemID int64) error {
	if _, ok := r.tx.st.cartItems[cartItemID]; !ok {
		return repo.ErrNotFound
	}
	delete(r.tx.st.cartItems, cartItemID)
	return nil
}

func (r cartItemRepo) FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error) {
	it, ok := r.tx.st.cartItems[cartItemID]
	if !ok {
		return model.CartItem{}, repo.ErrNotFound
	}
	return it, nil
}

func (r cartItemRepo) IsInActiveCartOf(ctx context.Context, cartItemID int64, userID int64) (bool, error) {
	it, ok := r.tx.st.cartItems[cartItemID]
	if !ok {
		return false, nil
	}
	c, ok := r.tx.st.carts[it.CartID]
	return ok && c.UserID == userID && c.IsOpen(), nil
}

type orderRepo struct{ tx *txRepos }

func (r orderRepo) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	o, ok := r.tx.st.orders[orderID]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (r orderRepo) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	var all []model.Order
	for _, o := range r.tx.st.orders {
		if o.UserID == userID {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	return paginate(all, page, limit), int64(len(all)), nil
}

func (r orderRepo) Create(ctx context.Context, order model.Order) (int64, error) {
	if err := r.tx.fault("orders.create"); err != nil {
		return 0, err
	}
	for _, o := range r.tx.st.orders {
		if o.PaymentReference == order.PaymentReference {
			return 0, repo.ErrConflict
		}
	}
	now := r.tx.now()
	order.ID = r.tx.st.nextID()
	order.CreatedAt, order.UpdatedAt = now, now
	r.tx.st.orders[order.ID] = order
	return order.ID, nil
}

func (r orderRepo) FindByPaymentReference(ctx context.Context, ref string) (model.Order, bool, error) {
	for _, o := range r.tx.st.orders {
		if o.PaymentReference == ref {
			return o, true, nil
		}
	}
	return model.Order{}, false, nil
}

type orderItemRepo struct{ tx *txRepos }

func (r orderItemRepo) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	if err := r.tx.fault("order_items.create"); err != nil {
		return err
	}
	now := r.tx.now()
	for _, it := range items {
		it.ID = r.tx.st.nextID()
		it.OrderID = orderID
		it.CreatedAt = now
		r.tx.st.orderItems[it.ID] = it
	}
	return nil
}

func (r orderItemRepo) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	out := []model.OrderItem{}
	for _, it := range r.tx.st.orderItems {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r orderItemRepo) ListByOrderIDs(ctx context.Context, orderIDs []int64) (map[int64][]model.OrderItem, error) {
	if err := r.tx.fault("order_items.list"); err != nil {
		return nil, err
	}
	out := make(map[int64][]model.OrderItem, len(orderIDs))
	for _, id := range orderIDs {
		items, _ := r.ListByOrderID(ctx, id)
		if len(items) > 0 {
			out[id] = items
		}
	}
	return out, nil
}

type checkoutRepo struct{ tx *txRepos }

func (r checkoutRepo) Create(ctx context.Context, a model.CheckoutAttempt) error {
	if err := r.tx.fault("checkouts.create"); err != nil {
		return err
	}
	for _, c := range r.tx.st.checkouts {
		if c.ID == a.ID || (c.UserID == a.UserID && c.IdempotencyKey == a.IdempotencyKey) {
			return repo.ErrConflict
		}
	}
	now := r.tx.now()
	a.CreatedAt, a.UpdatedAt = now, now
	a.Lines = append([]model.CheckoutLine(nil), a.Lines...)
	r.tx.st.checkouts[a.ID] = a
	return nil
}

func (r checkoutRepo) FindByID(ctx context.Context, id string) (model.CheckoutAttempt, error) {
	a, ok := r.tx.st.checkouts[id]
	if !ok {
		return model.CheckoutAttempt{}, repo.ErrNotFound
	}
	return a, nil
}

func (r checkoutRepo) LockByID(ctx context.Context, id string) (model.CheckoutAttempt, error) {
	return r.FindByID(ctx, id)
}

func (r checkoutRepo) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.CheckoutAttempt, bool, error) {
	for _, a := range r.tx.st.checkouts {
		if a.UserID == userID && a.IdempotencyKey == key {
			return a, true, nil
		}
	}
	return model.CheckoutAttempt{}, false, nil
}

func (r checkoutRepo) FindByPaymentReference(ctx context.Context, ref string) (model.CheckoutAttempt, bool, error) {
	for _, a := range r.tx.st.checkouts {
		if a.Reference() == ref && ref != "" {
			return a, true, nil
		}
	}
	return model.CheckoutAttempt{}, false, nil
}

func (r checkoutRepo) Update(ctx context.Context, a model.CheckoutAttempt) error {
	if err := r.tx.fault("checkouts.update"); err != nil {
		return err
	}
	if _, ok := r.tx.st.checkouts[a.ID]; !ok {
		return repo.ErrNotFound
	}
	if ref := a.Reference(); ref != "" {
		for _, c := range r.tx.st.checkouts {
			if c.ID != a.ID && c.Reference() == ref {
				return repo.ErrConflict
			}
		}
	}
	a.UpdatedAt = r.tx.now()
	r.tx.st.checkouts[a.ID] = a
	return nil
}

func (r checkoutRepo) FindHoldingCart(ctx context.Context, cartID int64) (model.CheckoutAttempt, bool, error) {
	var found model.CheckoutAttempt
	for _, a := range r.tx.st.checkouts {
		if a.CartID != cartID || !a.Status.HoldsCart() {
			continue
		}
		if found.ID == "" || a.CreatedAt.After(found.CreatedAt) {
			found = a
		}
	}
	return found, found.ID != "", nil
}

func (r checkoutRepo) ListStale(ctx context.Context, statuses []model.CheckoutStatus, before time.Time, limit int) ([]model.CheckoutAttempt, error) {
	var out []model.CheckoutAttempt
	for _, a := range r.tx.st.checkouts {
		if a.UpdatedAt.After(before) {
			continue
		}
		for _, s := range statuses {
			if a.Status == s {
				out = append(out, a)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type paymentEventRepo struct{ tx *txRepos }

func (r paymentEventRepo) Claim(ctx context.Context, ev model.PaymentEvent) (model.PaymentEvent, error) {
	if err := r.tx.fault("payment_events.claim"); err != nil {
		return model.PaymentEvent{}, err
	}
	if existing, ok := r.tx.st.paymentEvents[ev.GatewayEventID]; ok {
		return existing, nil
	}
	r.tx.st.paymentEvents[ev.GatewayEventID] = ev
	return ev, nil
}

func (r paymentEventRepo) MarkProcessed(ctx context.Context, gatewayEventID string, outcome string, at time.Time) error {
	ev, ok := r.tx.st.paymentEvents[gatewayEventID]
	if !ok {
		return repo.ErrNotFound
	}
	ev.Processed = true
	ev.ProcessedAt = &at
	ev.Outcome = outcome
	r.tx.st.paymentEvents[gatewayEventID] = ev
	return nil
}

type refundRepo struct{ tx *txRepos }

func (r refundRepo) Create(ctx context.Context, rf model.Refund) (model.Refund, error) {
	for _, existing := range r.tx.st.refunds {
		if existing.PaymentReference == rf.PaymentReference {
			return model.Refund{}, repo.ErrConflict
		}
	}
	now := r.tx.now()
	rf.ID = r.tx.st.nextID()
	rf.CreatedAt, rf.UpdatedAt = now, now
	r.tx.st.refunds[rf.ID] = rf
	return rf, nil
}

func (r refundRepo) FindByPaymentReference(ctx context.Context, ref string) (model.Refund, error) {
	for _, rf := range r.tx.st.refunds {
		if rf.PaymentReference == ref {
			return rf, nil
		}
	}
	return model.Refund{}, repo.ErrNotFound
}

func (r refundRepo) Update(ctx context.Context, rf model.Refund) error {
	if _, ok := r.tx.st.refunds[rf.ID]; !ok {
		return repo.ErrNotFound
	}
	rf.UpdatedAt = r.tx.now()
	r.tx.st.refunds[rf.ID] = rf
	return nil
}

func (r refundRepo) ListByStatus(ctx context.Context, status model.RefundStatus, before time.Time, limit int) ([]model.Refund, error) {
	var out []model.Refund
	for _, rf := range r.tx.st.refunds {
		if rf.Status == status && !rf.UpdatedAt.After(before) {
			out = append(out, rf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type outboxRepo struct{ tx *txRepos }

func (r outboxRepo) Create(ctx context.Context, e model.OutboxEvent) error {
	if err := r.tx.fault("outbox.create"); err != nil {
		return err
	}
	for _, existing := range r.tx.st.outbox {
		if existing.EventID == e.EventID {
			return repo.ErrConflict
		}
	}
	e.ID = r.tx.st.nextID()
	e.CreatedAt = r.tx.now()
	r.tx.st.outbox[e.ID] = e
	return nil
}

func (r outboxRepo) FetchPending(ctx context.Context, limit int, maxAttempts int) ([]model.OutboxEvent, error) {
	var out []model.OutboxEvent
	for _, e := range r.tx.st.outbox {
		if e.SentAt == nil && e.Attempts < maxAttempts {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r outboxRepo) MarkSent(ctx context.Context, id int64, at time.Time) error {
	e, ok := r.tx.st.outbox[id]
	if !ok {
		return repo.ErrNotFound
	}
	e.SentAt = &at
	e.Attempts++
	r.tx.st.outbox[id] = e
	return nil
}

func (r outboxRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	e, ok := r.tx.st.outbox[id]
	if !ok {
		return repo.ErrNotFound
	}
	e.Attempts++
	e.LastError = reason
	r.tx.st.outbox[id] = e
	return nil
}

// 範囲外は空スライス（nilにしない）
func paginate[T any](all []T, page, limit int) []T {
	start := (page - 1) * limit
	if start >= len(all) {
		return []T{}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}
