package usecase

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"
)

// 住所帳。POST /checkoutのaddress_idはここで作ったもの
type AddressUsecase struct {
	tx repo.TransactionManager
}

func NewAddressUsecase(tx repo.TransactionManager) *AddressUsecase {
	return &AddressUsecase{tx: tx}
}

type AddressCreateInput struct {
	PostalCode string `json:"postal_code"`
	Prefecture string `json:"prefecture"`
	City       string `json:"city"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
}

func (u *AddressUsecase) List(ctx context.Context, userID int64) ([]model.Address, error) {
	if userID <= 0 {
		return nil, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	var out []model.Address
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		list, err := r.Addresses().ListByUserID(ctx, userID)
		if err != nil {
			return WrapHTTPError(http.StatusInternalServerError, "db error", err)
		}
		out = list
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (u *AddressUsecase) Create(ctx context.Context, userID int64, in AddressCreateInput) (model.Address, error) {
	if userID <= 0 {
		return model.Address{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	a := model.Address{
		UserID:     userID,
		PostalCode: strings.TrimSpace(in.PostalCode),
		Prefecture: strings.TrimSpace(in.Prefecture),
		City:       strings.TrimSpace(in.City),
		Line1:      strings.TrimSpace(in.Line1),
		Line2:      strings.TrimSpace(in.Line2),
		Name:       strings.TrimSpace(in.Name),
		Phone:      strings.TrimSpace(in.Phone),
	}
	//必須項目
	if a.PostalCode == "" || a.Prefecture == "" || a.City == "" || a.Line1 == "" || a.Name == "" {
		return model.Address{}, NewHTTPError(http.StatusBadRequest, "validation error")
	}

	var created model.Address
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		created, err = r.Addresses().Create(ctx, a)
		if err != nil {
			return WrapHTTPError(http.StatusInternalServerError, "db error", err)
		}
		return nil
	})
	if err != nil {
		return model.Address{}, err
	}
	return created, nil
}
