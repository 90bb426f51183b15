package usecase

import (
	"context"
	"net/http"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"
)

// CartUsecase は /cart の業務ロジックです。
// カートは数量だけ持ち、価格は毎回カタログから引きます。
type CartUsecase struct {
	tx      repo.TransactionManager
	pricing PricingPolicy
}

func NewCartUsecase(tx repo.TransactionManager, pricing PricingPolicy) *CartUsecase {
	return &CartUsecase{tx: tx, pricing: pricing}
}

// price は現在のカタログ価格（確定時の価格は決済時に凍結）
type CartItemResponse struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	InStock   bool   `json:"in_stock"`
}

type CartResponse struct {
	Items    []CartItemResponse `json:"items"`
	Subtotal int64              `json:"subtotal"`
	// 目安。確定額は決済時に計算する
	Estimate Totals `json:"estimate"`
}

type AddCartInput struct {
	ProductID int64
	Quantity  int64
}

type UpdateCartItemInput struct {
	Quantity int64
}

// GetCart はカート取得（無ければACTIVEを作って空を返す）。
func (u *CartUsecase) GetCart(ctx context.Context, userID int64) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	var out CartResponse
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cart, err := r.Carts().GetOrCreateActiveByUserID(ctx, userID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		out, err = u.buildCartResponse(ctx, r, cart.ID)
		return err
	})
	if err != nil {
		return CartResponse{}, err
	}
	return out, nil
}

// AddToCart はカートに追加（同一商品は数量加算）。
func (u *CartUsecase) AddToCart(ctx context.Context, userID int64, in AddCartInput) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if in.ProductID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}
	if in.Quantity < 1 {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}

	var out CartResponse
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cart, err := lockActiveCart(ctx, r, userID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		// 商品チェック（公開のみ）
		p, err := r.Products().FindByID(ctx, in.ProductID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusBadRequest, "invalid")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if !p.IsActive {
			return NewHTTPError(http.StatusBadRequest, "invalid")
		}

		items, err := r.CartItems().ListByCartID(ctx, cart.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		var existingQty int64 = 0
		for _, it := range items {
			if it.ProductID == in.ProductID {
				existingQty = it.Quantity
				break
			}
		}
		// 目安のチェック。確定時にロックして再確認する
		if existingQty+in.Quantity > p.Stock {
			return NewHTTPError(http.StatusBadRequest, "stock exceeded")
		}

		if err := r.CartItems().UpsertByCartAndProduct(ctx, cart.ID, in.ProductID, in.Quantity); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		out, err = u.buildCartResponse(ctx, r, cart.ID)
		return err
	})
	if err != nil {
		return CartResponse{}, err
	}
	return out, nil
}

// 数量変更（所有チェック＋在庫チェック）。
func (u *CartUsecase) UpdateCartItem(ctx context.Context, userID int64, cartItemID int64, in UpdateCartItemInput) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if cartItemID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if in.Quantity < 1 {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}

	var out CartResponse
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		owned, err := r.CartItems().IsInActiveCartOf(ctx, cartItemID, userID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if !owned {
			return NewHTTPError(http.StatusNotFound, "not found")
		}

		item, err := r.CartItems().FindByID(ctx, cartItemID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if err := lockEditableCart(ctx, r, item.CartID); err != nil {
			return err
		}

		p, err := r.Products().FindByID(ctx, item.ProductID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusBadRequest, "invalid")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if !p.IsActive {
			return NewHTTPError(http.StatusBadRequest, "invalid")
		}
		if in.Quantity > p.Stock {
			return NewHTTPError(http.StatusBadRequest, "stock exceeded")
		}

		if err := r.CartItems().UpdateQuantity(ctx, cartItemID, in.Quantity); err != nil {
			if err == repo.ErrNotFound {
				return NewHTTPError(http.StatusNotFound, "not found")
			}
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		out, err = u.buildCartResponse(ctx, r, item.CartID)
		return err
	})
	if err != nil {
		return CartResponse{}, err
	}
	return out, nil
}

// 明細削除
func (u *CartUsecase) DeleteCartItem(ctx context.Context, userID int64, cartItemID int64) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if cartItemID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out CartResponse
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		owned, err := r.CartItems().IsInActiveCartOf(ctx, cartItemID, userID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if !owned {
			return NewHTTPError(http.StatusNotFound, "not found")
		}

		item, err := r.CartItems().FindByID(ctx, cartItemID)
		if err != nil {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err := lockEditableCart(ctx, r, item.CartID); err != nil {
			return err
		}
		if err := r.CartItems().DeleteByID(ctx, cartItemID); err != nil {
			if err == repo.ErrNotFound {
				return NewHTTPError(http.StatusNotFound, "not found")
			}
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		out, err = u.buildCartResponse(ctx, r, item.CartID)
		return err
	})
	if err != nil {
		return CartResponse{}, err
	}
	return out, nil
}

// ACTIVEカートを行ロックして返す。ロック待ちの間に確定で閉じられたら次のカートを使う
func lockActiveCart(ctx context.Context, r repo.TxRepos, userID int64) (model.Cart, error) {
	cart, err := r.Carts().GetOrCreateActiveByUserID(ctx, userID)
	if err != nil {
		return model.Cart{}, err
	}
	locked, err := r.Carts().LockByID(ctx, cart.ID)
	if err != nil {
		return model.Cart{}, err
	}
	if locked.IsOpen() {
		return locked, nil
	}
	cart, err = r.Carts().GetOrCreateActiveByUserID(ctx, userID)
	if err != nil {
		return model.Cart{}, err
	}
	return r.Carts().LockByID(ctx, cart.ID)
}

// 確定済みのカートは編集させない
func lockEditableCart(ctx context.Context, r repo.TxRepos, cartID int64) error {
	cart, err := r.Carts().LockByID(ctx, cartID)
	if err == repo.ErrNotFound {
		return NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if !cart.IsOpen() {
		return NewHTTPError(http.StatusNotFound, "not found")
	}
	return nil
}

// cartIDの明細をまとめてCartResponseを作る。
func (u *CartUsecase) buildCartResponse(ctx context.Context, r repo.TxRepos, cartID int64) (CartResponse, error) {
	items, err := r.CartItems().ListByCartID(ctx, cartID)
	if err != nil {
		return CartResponse{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	products, err := r.Products().FindByIDs(ctx, cartProductIDs(items))
	if err != nil {
		return CartResponse{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	byID := make(map[int64]model.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	respItems := make([]CartItemResponse, 0, len(items))
	snaps := make([]ProductSnapshot, 0, len(items))
	for _, it := range items {
		p, ok := byID[it.ProductID]
		if !ok || !p.IsActive {
			continue
		}
		respItems = append(respItems, CartItemResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  it.Quantity,
			InStock:   p.Stock >= it.Quantity,
		})
		snaps = append(snaps, ProductSnapshot{
			ProductID:         p.ID,
			Name:              p.Name,
			UnitPrice:         p.Price,
			AvailableQuantity: p.Stock,
			RequestedQuantity: it.Quantity,
		})
	}

	est := Totals{Currency: u.pricing.Currency}
	if len(snaps) > 0 {
		est = PriceLines(snaps, u.pricing)
	}
	return CartResponse{Items: respItems, Subtotal: est.Subtotal, Estimate: est}, nil
}

func cartProductIDs(items []model.CartItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return ids
}
