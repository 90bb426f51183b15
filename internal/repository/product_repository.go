package repository

import (
	"context"
	"errors"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
)

var ErrNotFound = errors.New("not found")

// unique制約違反など
var ErrConflict = errors.New("conflict")

// GET /productsの検索条件
type ProductListQuery struct {
	Page     int
	Limit    int
	Q        string
	MinPrice *int64
	MaxPrice *int64
	Sort     string // "", "new", "price_asc", "price_desc"
}

// 商品の読み取り。価格と在庫はここから取る
type ProductRepository interface {
	// 公開中(is_active)のものだけ
	ListActive(ctx context.Context, q ProductListQuery) ([]model.Product, int64, error)
	FindByID(ctx context.Context, id int64) (model.Product, error)
	// 見つかったものだけ返す（順不同）
	FindByIDs(ctx context.Context, ids []int64) ([]model.Product, error)
	// Tx内専用。id昇順でFOR UPDATE
	LockByIDs(ctx context.Context, ids []int64) ([]model.Product, error)
}
