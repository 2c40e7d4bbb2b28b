package clob

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRestingOrderAmounts_Buy(t *testing.T) {
	rc := roundingConfigByTickSize["0.01"]
	// 12 shares at 0.42: maker = 5.04 USDC, taker = 12 shares.
	makerAmt, takerAmt, err := restingOrderAmounts(SideBuy, dec("0.42"), dec("12"), rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := makerAmt.String(), "5040000"; got != want {
		t.Fatalf("maker amount mismatch: got %s want %s", got, want)
	}
	if got, want := takerAmt.String(), "12000000"; got != want {
		t.Fatalf("taker amount mismatch: got %s want %s", got, want)
	}
}

func TestRestingOrderAmounts_Sell(t *testing.T) {
	rc := roundingConfigByTickSize["0.0001"]
	// 11.53 shares at 0.6123: maker = shares, taker = collateral.
	makerAmt, takerAmt, err := restingOrderAmounts(SideSell, dec("0.6123"), dec("11.53"), rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := makerAmt.String(), "11530000"; got != want {
		t.Fatalf("maker amount mismatch: got %s want %s", got, want)
	}
	// 11.53 * 0.6123 = 7.059819, within 6 decimals already.
	if got, want := takerAmt.String(), "7059819"; got != want {
		t.Fatalf("taker amount mismatch: got %s want %s", got, want)
	}
}

func TestRestingOrderAmounts_SellRoundsSizeDown(t *testing.T) {
	rc := roundingConfigByTickSize["0.01"]
	// Size is quantized to 2 decimals for this tick; 11.539 must not round up.
	makerAmt, _, err := restingOrderAmounts(SideSell, dec("0.61"), dec("11.539"), rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := makerAmt.String(), "11530000"; got != want {
		t.Fatalf("maker amount mismatch: got %s want %s", got, want)
	}
}

func TestRestingOrderAmounts_ZeroSize(t *testing.T) {
	rc := roundingConfigByTickSize["0.01"]
	if _, _, err := restingOrderAmounts(SideBuy, dec("0.42"), dec("0.001"), rc); err == nil {
		t.Fatalf("expected error for size below quantization")
	}
}

func TestValidatePriceRange(t *testing.T) {
	cases := []struct {
		price    string
		tickSize string
		ok       bool
	}{
		{"0.42", "0.01", true},
		{"0.01", "0.01", true},
		{"0.99", "0.01", true},
		{"0.995", "0.01", false},
		{"0.005", "0.01", false},
		{"1.00", "0.01", false},
		{"0.9999", "0.0001", true},
	}
	for _, tc := range cases {
		err := validatePriceRange(dec(tc.price), tc.tickSize)
		if tc.ok && err != nil {
			t.Fatalf("price %s tick %s: unexpected error: %v", tc.price, tc.tickSize, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("price %s tick %s: expected error", tc.price, tc.tickSize)
		}
	}
}
