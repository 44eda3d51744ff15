package fee

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculate_TierBoundaries(t *testing.T) {
	cases := []struct {
		name     string
		subtotal float64
		rate     float64
	}{
		{"нижняя ступень", 500_000, 0.10},
		{"граница 1M включительно", 1_000_000, 0.10},
		{"сразу за 1M", 1_000_001, 0.05},
		{"граница 5M включительно", 5_000_000, 0.05},
		{"сразу за 5M", 5_000_001, 0.04},
		{"граница 50M включительно", 50_000_000, 0.04},
		{"граница 200M включительно", 200_000_000, 0.03},
		{"граница 1B включительно", 1_000_000_000, 0.02},
		{"сразу за 1B", 1_000_000_001, 0.01},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Calculate(tc.subtotal, 50)
			assert.NoError(t, err)
			assert.Equal(t, tc.rate, b.Rate)
			assert.InDelta(t, tc.subtotal*tc.rate, b.BaseFee, 0.0001)
		})
	}
}

func TestCalculate_VATIdentity(t *testing.T) {
	b, err := Calculate(1_300_000, 50)
	assert.NoError(t, err)
	assert.InDelta(t, b.BaseFee*VATRate, b.VAT, 0.0001)
	assert.InDelta(t, b.BaseFee+b.VAT, b.TotalFee, 0.0001)
}

func TestCalculate_SplitSumProperty(t *testing.T) {
	// Для любого split доли сторон складываются в полную комиссию.
	for split := 0; split <= 100; split++ {
		b, err := Calculate(7_500_000, split)
		assert.NoError(t, err)
		assert.InDelta(t, b.TotalFee, b.BuyerPortion+b.SellerPortion, 0.0001)
		assert.InDelta(t, b.TotalFee*float64(split)/100, b.BuyerPortion, 0.0001)
	}
}

func TestCalculate_SplitExtremes(t *testing.T) {
	b, err := Calculate(2_000_000, 0)
	assert.NoError(t, err)
	assert.Zero(t, b.BuyerPortion)
	assert.InDelta(t, b.TotalFee, b.SellerPortion, 0.0001)

	b, err = Calculate(2_000_000, 100)
	assert.NoError(t, err)
	assert.Zero(t, b.SellerPortion)
	assert.InDelta(t, b.TotalFee, b.BuyerPortion, 0.0001)
}

func TestCalculate_RejectsInvalidInput(t *testing.T) {
	_, err := Calculate(0, 50)
	assert.Error(t, err)

	_, err = Calculate(-1, 50)
	assert.Error(t, err)

	_, err = Calculate(1000, -1)
	assert.Error(t, err)

	_, err = Calculate(1000, 101)
	assert.Error(t, err)
}

func TestCalculate_SpecScenarioSubtotal(t *testing.T) {
	// Сделка 600 000 + 700 000 попадает во вторую ступень (5%).
	b, err := Calculate(1_300_000, 50)
	assert.NoError(t, err)
	assert.Equal(t, 0.05, b.Rate)
	assert.InDelta(t, 65_000, b.BaseFee, 0.0001)
	assert.InDelta(t, 4_875, b.VAT, 0.0001)
	assert.InDelta(t, 69_875, b.TotalFee, 0.0001)
}
