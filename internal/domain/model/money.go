package model

import "github.com/shopspring/decimal"

// 金額は最小通貨単位（セント）のint64で持つ

// 税額。端数は銀行丸め
func TaxOn(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).RoundBank(0).IntPart()
}

// 1000, "USD" -> "10.00 USD"
func FormatMinor(amount int64, currency string) string {
	return decimal.New(amount, -2).StringFixed(2) + " " + currency
}
