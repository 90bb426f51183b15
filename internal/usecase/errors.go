package usecase

import (
	"errors"
	"fmt"
)

// ハンドラーでそのままステータスに変換するエラー
type HTTPError struct {
	Status  int
	Message string
	Err     error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error { return e.Err }

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

// 原因を残したまま返す（errors.Isで判定できるように）
func WrapHTTPError(status int, message string, err error) error {
	return &HTTPError{
		Status:  status,
		Message: message,
		Err:     err,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

var (
	// 空カート・数量0以下・同じ商品の重複行
	ErrInvalidCart = errors.New("invalid cart")
	// 決済試行がもう注文を作れない状態
	ErrCheckoutClosed = errors.New("checkout attempt is closed")
	// 返金行はあるがゲートウェイの結果がまだ
	ErrRefundInProgress = errors.New("refund in progress")
	// 同じカートで別の決済試行が進行中
	ErrCheckoutInProgress = errors.New("another checkout is in progress for this cart")
	// カートが別の決済試行で注文済み
	ErrCartConsumed = errors.New("cart already checked out by another checkout")
	// 同じイベントを別ワーカーが処理中
	ErrEventInFlight = errors.New("webhook event is being processed")
)

type InsufficientInventoryError struct {
	ProductID int64
	Requested int64
	Available int64
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// 存在しない・非公開・削除済み
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// 返金が失敗した。人手対応が必要
type RefundFailedError struct {
	PaymentReference string
	Reason           string
}

func (e *RefundFailedError) Error() string {
	return fmt.Sprintf("refund for %s failed: %s", e.PaymentReference, e.Reason)
}

// 決済後のコミットで起きたら返金しかない失敗
func isUnfulfillable(err error) bool {
	var inv *InsufficientInventoryError
	var nf *ProductNotFoundError
	return errors.As(err, &inv) || errors.As(err, &nf) || errors.Is(err, ErrCartConsumed)
}

func refundReasonFor(err error) string {
	if errors.Is(err, ErrCartConsumed) {
		return RefundReasonCheckoutClosed
	}
	return RefundReasonInsufficientInventory
}
