package fee

import (
	"fmt"
)

// VATRate ставка НДС, начисляется на базовую комиссию.
const VATRate = 0.075

// tier задаёт ступень комиссии: верхняя граница включительно и ставка.
type tier struct {
	upTo float64
	rate float64
}

// Ступени комиссии от подытога сделки. Последняя ступень без границы.
var tiers = []tier{
	{upTo: 1_000_000, rate: 0.10},
	{upTo: 5_000_000, rate: 0.05},
	{upTo: 50_000_000, rate: 0.04},
	{upTo: 200_000_000, rate: 0.03},
	{upTo: 1_000_000_000, rate: 0.02},
}

// rateAboveTiers ставка для сумм выше последней ступени.
const rateAboveTiers = 0.01

// Breakdown результат расчёта комиссии по сделке.
type Breakdown struct {
	Subtotal      float64 `json:"subtotal"`
	Rate          float64 `json:"rate"`
	BaseFee       float64 `json:"base_fee"`
	VAT           float64 `json:"vat"`
	TotalFee      float64 `json:"total_fee"`
	SplitPercent  int     `json:"split_percent"`
	BuyerPortion  float64 `json:"buyer_portion"`
	SellerPortion float64 `json:"seller_portion"`
}

// Calculate считает комиссию платформы, НДС и распределение между сторонами.
// Функция чистая и детерминированная; split задаёт долю покупателя в процентах.
func Calculate(subtotal float64, splitPercent int) (*Breakdown, error) {
	if subtotal <= 0 {
		return nil, fmt.Errorf("fee: подытог должен быть положительным")
	}
	if splitPercent < 0 || splitPercent > 100 {
		return nil, fmt.Errorf("fee: доля покупателя должна быть в диапазоне [0, 100]")
	}

	rate := rateFor(subtotal)
	base := subtotal * rate
	vat := base * VATRate
	total := base + vat
	buyer := total * float64(splitPercent) / 100
	seller := total - buyer

	return &Breakdown{
		Subtotal:      subtotal,
		Rate:          rate,
		BaseFee:       base,
		VAT:           vat,
		TotalFee:      total,
		SplitPercent:  splitPercent,
		BuyerPortion:  buyer,
		SellerPortion: seller,
	}, nil
}

// rateFor возвращает ставку для подытога. Границы ступеней включительные.
func rateFor(subtotal float64) float64 {
	for _, t := range tiers {
		if subtotal <= t.upTo {
			return t.rate
		}
	}
	return rateAboveTiers
}
