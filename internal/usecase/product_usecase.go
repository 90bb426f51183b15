package usecase

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"
)

// 公開カタログ（読み取りのみ）
type ProductUsecase struct {
	tx repo.TransactionManager
}

func NewProductUsecase(tx repo.TransactionManager) *ProductUsecase {
	return &ProductUsecase{tx: tx}
}

// GET /productsの入力DTO
type ListProductsInput struct {
	Page     int
	Limit    int
	Q        string
	MinPrice *int64
	MaxPrice *int64
	Sort     string
}

type ProductListOutput struct {
	Items []model.Product `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

func (u *ProductUsecase) ListPublicProducts(ctx context.Context, in ListProductsInput) (ProductListOutput, error) {
	if in.Page < 1 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if in.Limit < 1 || in.Limit > 100 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	if len(in.Q) > 100 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "q too long")
	}
	if in.MinPrice != nil && *in.MinPrice < 0 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "min_price must be >= 0")
	}
	if in.MaxPrice != nil && *in.MaxPrice < 0 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "max_price must be >= 0")
	}
	if in.MinPrice != nil && in.MaxPrice != nil && *in.MinPrice > *in.MaxPrice {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "min_price must be <= max_price")
	}
	switch in.Sort {
	case "", "new", "price_asc", "price_desc":
	default:
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid sort")
	}

	out := ProductListOutput{Page: in.Page, Limit: in.Limit}
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		items, total, err := r.Products().ListActive(ctx, repo.ProductListQuery{
			Page:     in.Page,
			Limit:    in.Limit,
			Q:        strings.TrimSpace(in.Q),
			MinPrice: in.MinPrice,
			MaxPrice: in.MaxPrice,
			Sort:     in.Sort,
		})
		if err != nil {
			return WrapHTTPError(http.StatusInternalServerError, "db error", err)
		}
		out.Items, out.Total = items, total
		return nil
	})
	if err != nil {
		return ProductListOutput{}, err
	}
	if out.Items == nil {
		out.Items = []model.Product{}
	}
	return out, nil
}

// 非公開・削除済みは存在しない扱い
func (u *ProductUsecase) GetProductDetail(ctx context.Context, productID int64) (model.Product, error) {
	if productID <= 0 {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	var p model.Product
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		p, err = r.Products().FindByID(ctx, productID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return WrapHTTPError(http.StatusInternalServerError, "db error", err)
		}
		if !p.IsActive {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		return nil
	})
	if err != nil {
		return model.Product{}, err
	}
	return p, nil
}
