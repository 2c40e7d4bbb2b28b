package maker

import (
	"errors"
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

func TestRoundUpDown(t *testing.T) {
	cases := []struct {
		in       string
		digits   int32
		wantUp   string
		wantDown string
	}{
		{"0.4211", 2, "0.43", "0.42"},
		{"0.42", 2, "0.42", "0.42"},
		{"11.53999", 2, "11.54", "11.53"},
		{"0.61239", 4, "0.6124", "0.6123"},
		{"5", 0, "5", "5"},
	}
	for _, tc := range cases {
		if got := RoundUp(dec(tc.in), tc.digits).String(); got != tc.wantUp {
			t.Fatalf("RoundUp(%s, %d) = %s, want %s", tc.in, tc.digits, got, tc.wantUp)
		}
		if got := RoundDown(dec(tc.in), tc.digits).String(); got != tc.wantDown {
			t.Fatalf("RoundDown(%s, %d) = %s, want %s", tc.in, tc.digits, got, tc.wantDown)
		}
	}
}

func TestTick(t *testing.T) {
	if got, want := Tick(2).String(), "0.01"; got != want {
		t.Fatalf("Tick(2) = %s, want %s", got, want)
	}
	if got, want := Tick(4).String(), "0.0001"; got != want {
		t.Fatalf("Tick(4) = %s, want %s", got, want)
	}
	if got, want := Tick(0).String(), "1"; got != want {
		t.Fatalf("Tick(0) = %s, want %s", got, want)
	}
}

func TestMinViableSize(t *testing.T) {
	// 1 USDC at 0.42 needs 2.381 shares, rounded up at 4dp.
	got, err := MinViableSize(dec("1"), dec("0.42"), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "2.381"; got.String() != want {
		t.Fatalf("MinViableSize = %s, want %s", got, want)
	}

	// An exact quotient must not round up a tick.
	got, err = MinViableSize(dec("1"), dec("0.5"), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "2"; got.String() != want {
		t.Fatalf("MinViableSize exact = %s, want %s", got, want)
	}
}

func TestMinViableSize_ZeroNotional(t *testing.T) {
	got, err := MinViableSize(decimal.Zero, dec("0.42"), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Sign() != 0 {
		t.Fatalf("expected zero size, got %s", got)
	}
}

func TestMinViableSize_InvalidPrice(t *testing.T) {
	if _, err := MinViableSize(dec("1"), decimal.Zero, 4); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	if _, err := MinViableSize(dec("1"), dec("-0.5"), 4); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for negative price, got %v", err)
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := DefaultPolicy().validate(); err != nil {
		t.Fatalf("default policy should validate: %v", err)
	}
	bad := Policy{BuyPriceDigits: 7}
	if err := bad.validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	neg := Policy{SellSizeDigits: -1}
	if err := neg.validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative digits, got %v", err)
	}
}
