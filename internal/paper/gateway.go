package paper

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"poly-gomaker/internal/maker"
)

// Gateway is a dry-run order gateway. Orders rest in memory and fill when
// the live book crosses them: a resting buy fills when the best ask drops
// to its price, a resting sell when the best bid rises to it. No request
// ever reaches the venue.
type Gateway struct {
	book maker.BookSource

	mu     sync.Mutex
	orders map[string]*paperOrder
}

type paperOrder struct {
	tokenID string
	side    maker.Side
	price   decimal.Decimal
	size    decimal.Decimal
	filled  decimal.Decimal
	open    bool
	state   string
}

func NewGateway(book maker.BookSource) *Gateway {
	return &Gateway{
		book:   book,
		orders: make(map[string]*paperOrder),
	}
}

func (g *Gateway) PlaceResting(ctx context.Context, tokenID string, side maker.Side, price, size decimal.Decimal) (string, error) {
	if price.Sign() <= 0 || size.Sign() <= 0 {
		return "", fmt.Errorf("paper: price and size must be > 0")
	}
	id := uuid.NewString()

	g.mu.Lock()
	g.orders[id] = &paperOrder{
		tokenID: tokenID,
		side:    side,
		price:   price,
		size:    size,
		open:    true,
		state:   "LIVE",
	}
	g.mu.Unlock()

	log.Printf("[paper] rest %s %s price=%s size=%s id=%s", side, tokenID, price, size, id)
	return id, nil
}

func (g *Gateway) Cancel(ctx context.Context, orderID string) (maker.CancelResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[orderID]
	if !ok {
		return maker.CancelResult{}, fmt.Errorf("paper: unknown order %s", orderID)
	}
	if !o.open {
		return maker.CancelResult{AlreadyClosed: true}, nil
	}
	o.open = false
	o.state = "CANCELED"
	return maker.CancelResult{}, nil
}

// Status re-checks the book each poll and crosses the order through when
// the market reaches its price.
func (g *Gateway) Status(ctx context.Context, orderID string) (maker.OrderStatus, error) {
	g.mu.Lock()
	o, ok := g.orders[orderID]
	g.mu.Unlock()
	if !ok {
		return maker.OrderStatus{}, fmt.Errorf("paper: unknown order %s", orderID)
	}

	if o.open {
		crossed, err := g.crossed(ctx, o)
		if err != nil {
			log.Printf("[paper] book read during status: %v", err)
		} else if crossed {
			g.mu.Lock()
			if o.open {
				o.filled = o.size
				o.open = false
				o.state = "MATCHED"
				log.Printf("[paper] fill %s %s price=%s size=%s id=%s", o.side, o.tokenID, o.price, o.size, orderID)
			}
			g.mu.Unlock()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return maker.OrderStatus{
		Filled:   o.filled,
		AvgPrice: o.price,
		Open:     o.open,
		State:    o.state,
	}, nil
}

func (g *Gateway) crossed(ctx context.Context, o *paperOrder) (bool, error) {
	switch o.side {
	case maker.SideBuy:
		ask, err := g.book.BestAsk(ctx, o.tokenID)
		if err != nil {
			return false, err
		}
		return ask.Sign() > 0 && ask.LessThanOrEqual(o.price), nil
	case maker.SideSell:
		bid, err := g.book.BestBid(ctx, o.tokenID)
		if err != nil {
			return false, err
		}
		return bid.Sign() > 0 && bid.GreaterThanOrEqual(o.price), nil
	default:
		return false, fmt.Errorf("paper: invalid side %q", o.side)
	}
}
