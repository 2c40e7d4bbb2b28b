package clob

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"poly-gomaker/internal/maker"
)

// Gateway adapts the CLOB client to the execution engine ports. It is also
// a BookSource, serving as the pull-based price feed or the fallback behind
// the websocket one.
type Gateway struct {
	client        *Client
	useServerTime bool
}

func NewGateway(c *Client, useServerTime bool) *Gateway {
	return &Gateway{client: c, useServerTime: useServerTime}
}

func (g *Gateway) PlaceResting(ctx context.Context, tokenID string, side maker.Side, price, size decimal.Decimal) (string, error) {
	var clobSide Side
	switch side {
	case maker.SideBuy:
		clobSide = SideBuy
	case maker.SideSell:
		clobSide = SideSell
	default:
		return "", fmt.Errorf("invalid side %q", side)
	}

	res, err := g.client.CreateSignedRestingOrder(ctx, tokenID, clobSide, price, size, nil)
	if err != nil {
		return "", err
	}
	return g.client.PostSignedOrder(ctx, res.SignedOrder, OrderTypeGTC, g.useServerTime)
}

func (g *Gateway) Cancel(ctx context.Context, orderID string) (maker.CancelResult, error) {
	alreadyClosed, err := g.client.CancelOrder(ctx, orderID, g.useServerTime)
	if err != nil {
		return maker.CancelResult{}, err
	}
	return maker.CancelResult{AlreadyClosed: alreadyClosed}, nil
}

func (g *Gateway) Status(ctx context.Context, orderID string) (maker.OrderStatus, error) {
	info, err := g.client.GetOrder(ctx, orderID, g.useServerTime)
	if err != nil {
		return maker.OrderStatus{}, err
	}
	return normalizeOrderStatus(info)
}

func (g *Gateway) BestBid(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	return g.client.BestBid(ctx, tokenID)
}

func (g *Gateway) BestAsk(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	return g.client.BestAsk(ctx, tokenID)
}

// normalizeOrderStatus maps a venue order record onto the engine's view.
// LIVE and DELAYED both count as open: a delayed order is still queued for
// the book and may fill.
func normalizeOrderStatus(info *OrderInfo) (maker.OrderStatus, error) {
	st := maker.OrderStatus{State: strings.ToUpper(strings.TrimSpace(info.Status))}
	switch st.State {
	case "LIVE", "DELAYED":
		st.Open = true
	}

	if m := strings.TrimSpace(info.SizeMatched); m != "" {
		filled, err := decimal.NewFromString(m)
		if err != nil {
			return maker.OrderStatus{}, fmt.Errorf("parse size_matched %q: %w", m, err)
		}
		st.Filled = filled
	}
	if p := strings.TrimSpace(info.Price); p != "" {
		price, err := decimal.NewFromString(p)
		if err != nil {
			return maker.OrderStatus{}, fmt.Errorf("parse price %q: %w", p, err)
		}
		st.AvgPrice = price
	}
	return st, nil
}
