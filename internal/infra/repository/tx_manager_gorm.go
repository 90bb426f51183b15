package repository

import (
	"context"

	repo "github.com/rs-labo46/ec-checkout/internal/repository"

	"gorm.io/gorm"
)

type txReposGorm struct {
	tx *gorm.DB
}

// repoはtxを持ったDBで作る
func (r *txReposGorm) Orders() repo.OrderRepository               { return NewOrderGormRepository(r.tx) }
func (r *txReposGorm) OrderItems() repo.OrderItemRepository       { return NewOrderItemGormRepository(r.tx) }
func (r *txReposGorm) Carts() repo.CartRepository                 { return NewCartGormRepository(r.tx) }
func (r *txReposGorm) CartItems() repo.CartItemRepository         { return NewCartItemGormRepository(r.tx) }
func (r *txReposGorm) Inventory() repo.InventoryRepository        { return NewInventoryGormRepository(r.tx) }
func (r *txReposGorm) Products() repo.ProductRepository           { return NewProductGormRepository(r.tx) }
func (r *txReposGorm) Addresses() repo.AddressRepository          { return NewAddressGormRepository(r.tx) }
func (r *txReposGorm) Checkouts() repo.CheckoutRepository         { return NewCheckoutGormRepository(r.tx) }
func (r *txReposGorm) PaymentEvents() repo.PaymentEventRepository { return NewPaymentEventGormRepository(r.tx) }
func (r *txReposGorm) Refunds() repo.RefundRepository             { return NewRefundGormRepository(r.tx) }
func (r *txReposGorm) Outbox() repo.OutboxRepository              { return NewOutboxGormRepository(r.tx) }

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&txReposGorm{tx: tx})
	})
}
