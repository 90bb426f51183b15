package repository

import "context"

// products.stockが在庫台帳
type InventoryRepository interface {
	// stock >= qty のときだけ減らして残数を返す。足りなければok=false
	Decrease(ctx context.Context, productID int64, qty int64) (remaining int64, ok bool, err error)
}
