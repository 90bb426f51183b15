package usecase

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"
)

// カートの1行（価格は持たない）
type CartLine struct {
	ProductID int64
	Quantity  int64
}

// カタログから取った時点の価格と在庫
type ProductSnapshot struct {
	ProductID         int64
	Name              string
	UnitPrice         int64
	AvailableQuantity int64
	RequestedQuantity int64
}

func (s ProductSnapshot) LineTotal() int64 {
	return s.UnitPrice * s.RequestedQuantity
}

type PricingPolicy struct {
	Currency              string
	TaxRate               decimal.Decimal
	ShippingFlat          int64
	FreeShippingThreshold int64 // 0なら無料配送なし
}

type Totals struct {
	Subtotal     int64  `json:"subtotal"`
	ShippingCost int64  `json:"shipping_cost"`
	Tax          int64  `json:"tax"`
	Total        int64  `json:"total"`
	Currency     string `json:"currency"`
}

// 小計→送料→税（小計に対して）→合計
func PriceLines(snaps []ProductSnapshot, p PricingPolicy) Totals {
	var subtotal int64
	for _, s := range snaps {
		subtotal += s.LineTotal()
	}
	shipping := p.ShippingFlat
	if p.FreeShippingThreshold > 0 && subtotal >= p.FreeShippingThreshold {
		shipping = 0
	}
	tax := model.TaxOn(subtotal, p.TaxRate)
	return Totals{
		Subtotal:     subtotal,
		ShippingCost: shipping,
		Tax:          tax,
		Total:        subtotal + shipping + tax,
		Currency:     p.Currency,
	}
}

type Snapshotter struct {
	tx repo.TransactionManager
}

func NewSnapshotter(tx repo.TransactionManager) *Snapshotter {
	return &Snapshotter{tx: tx}
}

// 読み取りだけ。在庫は確定時にもう一度ロックして見る
func (s *Snapshotter) Snapshot(ctx context.Context, lines []CartLine) ([]ProductSnapshot, error) {
	var out []ProductSnapshot
	err := s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		snaps, err := snapshotLines(ctx, r, lines)
		out = snaps
		return err
	})
	return out, err
}

func snapshotLines(ctx context.Context, r repo.TxRepos, lines []CartLine) ([]ProductSnapshot, error) {
	if err := validateLines(lines); err != nil {
		return nil, err
	}
	products, err := r.Products().FindByIDs(ctx, lineProductIDs(lines))
	if err != nil {
		return nil, err
	}
	return SnapshotFrom(products, lines)
}

// 入力の行順のまま返す
func SnapshotFrom(products []model.Product, lines []CartLine) ([]ProductSnapshot, error) {
	if err := validateLines(lines); err != nil {
		return nil, err
	}
	byID := make(map[int64]model.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	out := make([]ProductSnapshot, 0, len(lines))
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok || !p.IsActive {
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		}
		if p.Stock < l.Quantity {
			return nil, &InsufficientInventoryError{ProductID: p.ID, Requested: l.Quantity, Available: p.Stock}
		}
		out = append(out, ProductSnapshot{
			ProductID:         p.ID,
			Name:              p.Name,
			UnitPrice:         p.Price,
			AvailableQuantity: p.Stock,
			RequestedQuantity: l.Quantity,
		})
	}
	return out, nil
}

func validateLines(lines []CartLine) error {
	if len(lines) == 0 {
		return ErrInvalidCart
	}
	seen := make(map[int64]struct{}, len(lines))
	for _, l := range lines {
		if l.ProductID <= 0 || l.Quantity <= 0 {
			return ErrInvalidCart
		}
		if _, dup := seen[l.ProductID]; dup {
			return ErrInvalidCart
		}
		seen[l.ProductID] = struct{}{}
	}
	return nil
}

// 昇順（ロック順をそろえる）
func lineProductIDs(lines []CartLine) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func toCheckoutLines(snaps []ProductSnapshot) []model.CheckoutLine {
	out := make([]model.CheckoutLine, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, model.CheckoutLine{
			ProductID: s.ProductID,
			Name:      s.Name,
			UnitPrice: s.UnitPrice,
			Quantity:  s.RequestedQuantity,
		})
	}
	return out
}

func toCartLines(items []model.CartItem) []CartLine {
	out := make([]CartLine, 0, len(items))
	for _, it := range items {
		out = append(out, CartLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}
