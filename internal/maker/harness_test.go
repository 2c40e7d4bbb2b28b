package maker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// stubBook and stubGate let each test script the market and the venue with
// plain closures.
type stubBook struct {
	bidFn func() (decimal.Decimal, error)
	askFn func() (decimal.Decimal, error)
}

func (b *stubBook) BestBid(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	if b.bidFn == nil {
		return decimal.Zero, errors.New("no bid feed")
	}
	return b.bidFn()
}

func (b *stubBook) BestAsk(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	if b.askFn == nil {
		return decimal.Zero, errors.New("no ask feed")
	}
	return b.askFn()
}

type placedOrder struct {
	id    string
	side  Side
	price string
	size  string
}

// stubGate records every interaction in an ordered event log so tests can
// assert sequencing (a cancel must land before the next post, and so on).
type stubGate struct {
	mu     sync.Mutex
	placed []placedOrder
	events []string

	placeFn  func(n int, side Side, price, size decimal.Decimal) (string, error)
	cancelFn func(orderID string, nthCancel int) (CancelResult, error)
	statusFn func(orderID string, nthPoll int) (OrderStatus, error)

	cancelCount map[string]int
	statusCount map[string]int
}

func newStubGate() *stubGate {
	return &stubGate{
		cancelCount: make(map[string]int),
		statusCount: make(map[string]int),
	}
}

func (g *stubGate) PlaceResting(ctx context.Context, tokenID string, side Side, price, size decimal.Decimal) (string, error) {
	g.mu.Lock()
	n := len(g.placed) + 1
	g.mu.Unlock()

	var id string
	var err error
	if g.placeFn != nil {
		id, err = g.placeFn(n, side, price, size)
	} else {
		id = fmt.Sprintf("o%d", n)
	}
	if err != nil {
		g.log("place-err")
		return "", err
	}

	g.mu.Lock()
	g.placed = append(g.placed, placedOrder{id: id, side: side, price: price.String(), size: size.String()})
	g.events = append(g.events, "place:"+id)
	g.mu.Unlock()
	return id, nil
}

func (g *stubGate) Cancel(ctx context.Context, orderID string) (CancelResult, error) {
	g.mu.Lock()
	g.cancelCount[orderID]++
	nth := g.cancelCount[orderID]
	g.mu.Unlock()

	if g.cancelFn != nil {
		res, err := g.cancelFn(orderID, nth)
		if err != nil {
			g.log("cancel-err:" + orderID)
			return res, err
		}
		g.log("cancel:" + orderID)
		return res, nil
	}
	g.log("cancel:" + orderID)
	return CancelResult{}, nil
}

func (g *stubGate) Status(ctx context.Context, orderID string) (OrderStatus, error) {
	g.mu.Lock()
	g.statusCount[orderID]++
	nth := g.statusCount[orderID]
	g.mu.Unlock()

	if g.statusFn == nil {
		return OrderStatus{Open: true, State: "LIVE"}, nil
	}
	return g.statusFn(orderID, nth)
}

func (g *stubGate) log(ev string) {
	g.mu.Lock()
	g.events = append(g.events, ev)
	g.mu.Unlock()
}

func (g *stubGate) eventIndex(ev string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, e := range g.events {
		if e == ev {
			return i
		}
	}
	return -1
}

// priceSeq returns successive values from vals, sticking at the last one.
// An empty string simulates a feed error.
func priceSeq(vals ...string) func() (decimal.Decimal, error) {
	i := 0
	return func() (decimal.Decimal, error) {
		v := vals[len(vals)-1]
		if i < len(vals) {
			v = vals[i]
			i++
		}
		if v == "" {
			return decimal.Zero, errors.New("book unavailable")
		}
		return dec(v), nil
	}
}

// instantSleep skips real waiting and cancels the run after limit ticks so
// a wrong transition can never hang the test.
func instantSleep(limit int, cancel context.CancelFunc) func(context.Context, time.Duration) error {
	n := 0
	return func(ctx context.Context, d time.Duration) error {
		n++
		if n > limit {
			cancel()
		}
		return ctx.Err()
	}
}
