package paper

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"poly-gomaker/internal/maker"
)

type fakeBook struct {
	bid decimal.Decimal
	ask decimal.Decimal
}

func (b *fakeBook) BestBid(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	return b.bid, nil
}

func (b *fakeBook) BestAsk(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	return b.ask, nil
}

func TestGateway_BuyFillsWhenAskCrosses(t *testing.T) {
	book := &fakeBook{bid: decimal.NewFromFloat(0.40), ask: decimal.NewFromFloat(0.45)}
	g := NewGateway(book)
	ctx := context.Background()

	id, err := g.PlaceResting(ctx, "100", maker.SideBuy, decimal.NewFromFloat(0.42), decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	st, err := g.Status(ctx, id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Open || st.Filled.Sign() != 0 {
		t.Fatalf("order should still rest: %+v", st)
	}

	book.ask = decimal.NewFromFloat(0.42)
	st, err = g.Status(ctx, id)
	if err != nil {
		t.Fatalf("status after cross: %v", err)
	}
	if st.Open {
		t.Fatalf("order should be closed after cross")
	}
	if got, want := st.Filled.String(), "10"; got != want {
		t.Fatalf("filled mismatch: got %s want %s", got, want)
	}
	if st.State != "MATCHED" {
		t.Fatalf("state mismatch: got %s", st.State)
	}
}

func TestGateway_SellFillsWhenBidCrosses(t *testing.T) {
	book := &fakeBook{bid: decimal.NewFromFloat(0.58), ask: decimal.NewFromFloat(0.62)}
	g := NewGateway(book)
	ctx := context.Background()

	id, err := g.PlaceResting(ctx, "100", maker.SideSell, decimal.NewFromFloat(0.61), decimal.NewFromFloat(7.5))
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	st, err := g.Status(ctx, id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Open {
		t.Fatalf("order should still rest")
	}

	book.bid = decimal.NewFromFloat(0.61)
	st, err = g.Status(ctx, id)
	if err != nil {
		t.Fatalf("status after cross: %v", err)
	}
	if st.Open || !st.Filled.Equal(decimal.NewFromFloat(7.5)) {
		t.Fatalf("expected full fill: %+v", st)
	}
}

func TestGateway_CancelAndAlreadyClosed(t *testing.T) {
	book := &fakeBook{bid: decimal.NewFromFloat(0.40), ask: decimal.NewFromFloat(0.60)}
	g := NewGateway(book)
	ctx := context.Background()

	id, err := g.PlaceResting(ctx, "100", maker.SideBuy, decimal.NewFromFloat(0.42), decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	res, err := g.Cancel(ctx, id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.AlreadyClosed {
		t.Fatalf("first cancel should not report already closed")
	}

	res, err = g.Cancel(ctx, id)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if !res.AlreadyClosed {
		t.Fatalf("second cancel should report already closed")
	}

	st, err := g.Status(ctx, id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Open || st.State != "CANCELED" {
		t.Fatalf("cancelled order state mismatch: %+v", st)
	}
}

func TestGateway_UnknownOrder(t *testing.T) {
	g := NewGateway(&fakeBook{})
	if _, err := g.Status(context.Background(), "nope"); err == nil {
		t.Fatalf("expected error for unknown order")
	}
	if _, err := g.Cancel(context.Background(), "nope"); err == nil {
		t.Fatalf("expected error for unknown cancel")
	}
}
