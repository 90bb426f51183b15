package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/rs-labo46/ec-checkout/internal/contracts"
	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	"github.com/rs-labo46/ec-checkout/internal/metrics"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"
)

type CommitInput struct {
	UserID           int64
	CheckoutID       string
	PaymentReference string
	Lines            []model.CheckoutLine
	Totals           Totals
	ShippingAddress  model.ShippingAddress
	ContactEmail     string
}

// 決済試行に凍結してある内容でコミットする
func CommitInputFromAttempt(a model.CheckoutAttempt, ref string) CommitInput {
	return CommitInput{
		UserID:           a.UserID,
		CheckoutID:       a.ID,
		PaymentReference: ref,
		Lines:            a.Lines,
		Totals: Totals{
			Subtotal:     a.Subtotal,
			ShippingCost: a.ShippingCost,
			Tax:          a.Tax,
			Total:        a.Total,
			Currency:     a.Currency,
		},
		ShippingAddress: a.ShippingAddress,
		ContactEmail:    a.ContactEmail,
	}
}

// ローカルDBだけのトランザクション境界。ゲートウェイは呼ばない
type OrderCommitter struct {
	tx      repo.TransactionManager
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewOrderCommitter(tx repo.TransactionManager, log *slog.Logger, m *metrics.Metrics) *OrderCommitter {
	if log == nil {
		log = slog.Default()
	}
	return &OrderCommitter{tx: tx, log: log, metrics: m, now: time.Now}
}

func (c *OrderCommitter) Commit(ctx context.Context, in CommitInput) (model.Order, error) {
	start := time.Now()
	var out model.Order
	err := c.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := c.CommitTx(ctx, r, in)
		out = o
		return err
	})
	c.metrics.ObserveCommit(time.Since(start))

	if errors.Is(err, repo.ErrConflict) {
		//同じ決済で別経路が先にコミットした
		var existing model.Order
		var found bool
		lookupErr := c.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			o, ok, err := r.Orders().FindByPaymentReference(ctx, in.PaymentReference)
			existing, found = o, ok
			return err
		})
		if lookupErr == nil && found {
			return existing, nil
		}
	}
	if err != nil {
		return model.Order{}, err
	}
	c.log.InfoContext(ctx, "order committed",
		"order_id", out.ID, "checkout_id", in.CheckoutID, "payment_reference", in.PaymentReference)
	return out, nil
}

// 呼び出し側のTxの中で実行する（Webhookのイベント記録と同じ単位にするため）
func (c *OrderCommitter) CommitTx(ctx context.Context, r repo.TxRepos, in CommitInput) (model.Order, error) {
	if in.PaymentReference == "" || in.CheckoutID == "" {
		return model.Order{}, errors.New("commit: payment reference and checkout id are required")
	}
	if len(in.Lines) == 0 {
		return model.Order{}, ErrInvalidCart
	}

	//1決済1注文
	existing, found, err := r.Orders().FindByPaymentReference(ctx, in.PaymentReference)
	if err != nil {
		return model.Order{}, err
	}
	if found {
		return existing, nil
	}

	attempt, err := r.Checkouts().LockByID(ctx, in.CheckoutID)
	if err != nil {
		return model.Order{}, fmt.Errorf("lock checkout %s: %w", in.CheckoutID, err)
	}
	if !attempt.Status.CanMoveTo(model.CheckoutStatusCompleted) {
		return model.Order{}, fmt.Errorf("%w: %s", ErrCheckoutClosed, attempt.Status)
	}

	// ロック順: 決済試行 → カート → 商品
	cart, err := lockAttemptCart(ctx, r, attempt)
	if err != nil {
		return model.Order{}, err
	}

	// ロックはid昇順
	lines := make([]CartLine, 0, len(in.Lines))
	for _, l := range in.Lines {
		lines = append(lines, CartLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	if err := validateLines(lines); err != nil {
		return model.Order{}, err
	}
	products, err := r.Products().LockByIDs(ctx, lineProductIDs(lines))
	if err != nil {
		return model.Order{}, err
	}
	byID := make(map[int64]model.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	//書き込む前に全行を確認する
	for _, l := range in.Lines {
		p, ok := byID[l.ProductID]
		if !ok || !p.IsActive {
			return model.Order{}, &ProductNotFoundError{ProductID: l.ProductID}
		}
		if p.Stock < l.Quantity {
			return model.Order{}, &InsufficientInventoryError{ProductID: p.ID, Requested: l.Quantity, Available: p.Stock}
		}
	}

	now := c.now()
	order := model.Order{
		UserID:           in.UserID,
		CheckoutID:       in.CheckoutID,
		Status:           model.OrderStatusPending,
		Subtotal:         in.Totals.Subtotal,
		ShippingCost:     in.Totals.ShippingCost,
		Tax:              in.Totals.Tax,
		Total:            in.Totals.Total,
		Currency:         in.Totals.Currency,
		ShippingAddress:  in.ShippingAddress,
		ContactEmail:     in.ContactEmail,
		PaymentReference: in.PaymentReference,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if !model.CanTransition(order.Status, model.OrderStatusConfirmed) {
		return model.Order{}, fmt.Errorf("order: cannot confirm from %s", order.Status)
	}
	order.Status = model.OrderStatusConfirmed

	orderID, err := r.Orders().Create(ctx, order)
	if err != nil {
		return model.Order{}, err
	}
	order.ID = orderID

	items := make([]model.OrderItem, 0, len(in.Lines))
	for _, l := range in.Lines {
		items = append(items, model.OrderItem{
			OrderID:             orderID,
			ProductID:           l.ProductID,
			ProductNameSnapshot: l.Name,
			UnitPriceSnapshot:   l.UnitPrice,
			Quantity:            l.Quantity,
			CreatedAt:           now,
		})
	}
	if err := r.OrderItems().CreateBulk(ctx, orderID, items); err != nil {
		return model.Order{}, err
	}

	var soldOut []int64
	for _, l := range in.Lines {
		remaining, ok, err := r.Inventory().Decrease(ctx, l.ProductID, l.Quantity)
		if err != nil {
			return model.Order{}, err
		}
		if !ok {
			// ロック済みなので普通は起きない
			return model.Order{}, &InsufficientInventoryError{ProductID: l.ProductID, Requested: l.Quantity}
		}
		if remaining == 0 {
			soldOut = append(soldOut, l.ProductID)
		}
	}

	if err := closeCart(ctx, r, cart, attempt, in.Lines); err != nil {
		return model.Order{}, err
	}

	attempt.Status = model.CheckoutStatusCompleted
	attempt.OrderID = &orderID
	ref := in.PaymentReference
	attempt.PaymentReference = &ref
	attempt.FailureReason = ""
	attempt.NextActionURL = ""
	if err := r.Checkouts().Update(ctx, attempt); err != nil {
		return model.Order{}, err
	}

	if err := enqueue(ctx, r, contracts.EventOrderConfirmed, strconv.FormatInt(orderID, 10), orderConfirmed(order, items, now)); err != nil {
		return model.Order{}, err
	}
	for _, id := range soldOut {
		ev := contracts.ProductSoldOut{ProductID: id, OrderID: orderID, SoldOutAt: now}
		if err := enqueue(ctx, r, contracts.EventProductSoldOut, strconv.FormatInt(id, 10), ev); err != nil {
			return model.Order{}, err
		}
	}
	return order, nil
}

// 試行が押さえたカート。別の試行で注文済みなら返金するしかない
func lockAttemptCart(ctx context.Context, r repo.TxRepos, a model.CheckoutAttempt) (model.Cart, error) {
	cart, err := r.Carts().LockByID(ctx, a.CartID)
	if err != nil {
		return model.Cart{}, fmt.Errorf("lock cart %d: %w", a.CartID, err)
	}
	if !cart.IsOpen() && (cart.CheckoutID == nil || *cart.CheckoutID != a.ID) {
		return model.Cart{}, fmt.Errorf("%w: cart %d", ErrCartConsumed, cart.ID)
	}
	return cart, nil
}

// 注文した数量だけを閉じるカートに残す。
// 決済待ちの間に増えた分は新しいACTIVEカートへ移す
func closeCart(ctx context.Context, r repo.TxRepos, cart model.Cart, a model.CheckoutAttempt, lines []model.CheckoutLine) error {
	if !cart.IsOpen() {
		return nil
	}
	ordered := make(map[int64]int64, len(lines))
	for _, l := range lines {
		ordered[l.ProductID] += l.Quantity
	}

	items, err := r.CartItems().ListByCartID(ctx, cart.ID)
	if err != nil {
		return err
	}
	var carry []CartLine
	for _, it := range items {
		extra := it.Quantity - ordered[it.ProductID]
		if extra <= 0 {
			continue
		}
		carry = append(carry, CartLine{ProductID: it.ProductID, Quantity: extra})
		if extra == it.Quantity {
			err = r.CartItems().DeleteByID(ctx, it.ID)
		} else {
			err = r.CartItems().UpdateQuantity(ctx, it.ID, ordered[it.ProductID])
		}
		if err != nil {
			return err
		}
	}

	if err := r.Carts().MarkCheckedOut(ctx, cart.ID, a.ID); err != nil {
		return err
	}
	if len(carry) == 0 {
		return nil
	}
	next, err := r.Carts().GetOrCreateActiveByUserID(ctx, a.UserID)
	if err != nil {
		return err
	}
	for _, l := range carry {
		if err := r.CartItems().UpsertByCartAndProduct(ctx, next.ID, l.ProductID, l.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func orderConfirmed(o model.Order, items []model.OrderItem, at time.Time) contracts.OrderConfirmed {
	lines := make([]contracts.OrderLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, contracts.OrderLine{
			ProductID: it.ProductID,
			Name:      it.ProductNameSnapshot,
			UnitPrice: it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
		})
	}
	return contracts.OrderConfirmed{
		OrderID:          o.ID,
		UserID:           o.UserID,
		CheckoutID:       o.CheckoutID,
		PaymentReference: o.PaymentReference,
		ContactEmail:     o.ContactEmail,
		Lines:            lines,
		Subtotal:         o.Subtotal,
		ShippingCost:     o.ShippingCost,
		Tax:              o.Tax,
		Total:            o.Total,
		Currency:         o.Currency,
		ConfirmedAt:      at,
	}
}
