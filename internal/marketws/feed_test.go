package marketws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type staticBook struct {
	bid decimal.Decimal
	ask decimal.Decimal
}

func (s staticBook) BestBid(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	return s.bid, nil
}

func (s staticBook) BestAsk(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	return s.ask, nil
}

func aggMessage(t *testing.T, assetID string, bids, asks []bookLevel) Message {
	t.Helper()
	payload, err := json.Marshal(aggBookPayload{AssetID: assetID, Bids: bids, Asks: asks})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return Message{Topic: topicClobMarket, Type: typeAggOrderbook, Payload: payload}
}

func TestFeed_IngestServesTopOfBook(t *testing.T) {
	f := NewFeed("", []string{"100"}, nil, time.Minute, Options{})
	f.now = func() time.Time { return time.Unix(1000, 0) }

	f.ingest(aggMessage(t, "100",
		[]bookLevel{{Price: "0.38", Size: "10"}, {Price: "0.42", Size: "5"}},
		[]bookLevel{{Price: "0.61", Size: "7"}, {Price: "0.55", Size: "3"}},
	))

	bid, err := f.BestBid(context.Background(), "100")
	if err != nil {
		t.Fatalf("best bid: %v", err)
	}
	if got, want := bid.String(), "0.42"; got != want {
		t.Fatalf("best bid mismatch: got %s want %s", got, want)
	}
	ask, err := f.BestAsk(context.Background(), "100")
	if err != nil {
		t.Fatalf("best ask: %v", err)
	}
	if got, want := ask.String(), "0.55"; got != want {
		t.Fatalf("best ask mismatch: got %s want %s", got, want)
	}
}

func TestFeed_IgnoresOtherTopics(t *testing.T) {
	f := NewFeed("", []string{"100"}, nil, time.Minute, Options{})
	f.ingest(Message{Topic: "activity", Type: "trades", Payload: []byte(`{}`)})
	if _, err := f.BestBid(context.Background(), "100"); err == nil {
		t.Fatalf("expected error with empty cache and no fallback")
	}
}

func TestFeed_StaleCacheFallsBack(t *testing.T) {
	fallback := staticBook{bid: decimal.NewFromFloat(0.40), ask: decimal.NewFromFloat(0.60)}
	f := NewFeed("", []string{"100"}, fallback, 10*time.Second, Options{})

	clock := time.Unix(1000, 0)
	f.now = func() time.Time { return clock }

	f.ingest(aggMessage(t, "100",
		[]bookLevel{{Price: "0.42", Size: "5"}},
		[]bookLevel{{Price: "0.55", Size: "3"}},
	))

	// Fresh: served from the push cache.
	bid, err := f.BestBid(context.Background(), "100")
	if err != nil {
		t.Fatalf("best bid: %v", err)
	}
	if got, want := bid.String(), "0.42"; got != want {
		t.Fatalf("fresh bid mismatch: got %s want %s", got, want)
	}

	// Stale: served from the fallback.
	clock = clock.Add(time.Minute)
	bid, err = f.BestBid(context.Background(), "100")
	if err != nil {
		t.Fatalf("best bid after staleness: %v", err)
	}
	if got, want := bid.String(), "0.4"; got != want {
		t.Fatalf("stale bid mismatch: got %s want %s", got, want)
	}
}

func TestFeed_PartialUpdateKeepsOtherSide(t *testing.T) {
	f := NewFeed("", []string{"100"}, nil, time.Minute, Options{})
	f.now = func() time.Time { return time.Unix(1000, 0) }

	f.ingest(aggMessage(t, "100",
		[]bookLevel{{Price: "0.42", Size: "5"}},
		[]bookLevel{{Price: "0.55", Size: "3"}},
	))
	// A bid-only update must not wipe the cached ask.
	f.ingest(aggMessage(t, "100",
		[]bookLevel{{Price: "0.43", Size: "5"}},
		nil,
	))

	bid, err := f.BestBid(context.Background(), "100")
	if err != nil {
		t.Fatalf("best bid: %v", err)
	}
	if got, want := bid.String(), "0.43"; got != want {
		t.Fatalf("bid mismatch: got %s want %s", got, want)
	}
	ask, err := f.BestAsk(context.Background(), "100")
	if err != nil {
		t.Fatalf("best ask: %v", err)
	}
	if got, want := ask.String(), "0.55"; got != want {
		t.Fatalf("ask mismatch: got %s want %s", got, want)
	}
}

func TestBestLevel_SkipsZeroSize(t *testing.T) {
	levels := []bookLevel{
		{Price: "0.50", Size: "0"},
		{Price: "0.58", Size: "40"},
	}
	best, ok := bestLevel(levels, false)
	if !ok {
		t.Fatalf("expected a level")
	}
	if got, want := best.String(), "0.58"; got != want {
		t.Fatalf("best level mismatch: got %s want %s", got, want)
	}
	if _, ok := bestLevel(nil, true); ok {
		t.Fatalf("expected no level for empty side")
	}
}
