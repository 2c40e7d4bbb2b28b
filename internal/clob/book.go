package clob

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

// OrderBookSummary mirrors the /book response payload.
type OrderBookSummary struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Timestamp string         `json:"timestamp"`
	Bids      []OrderSummary `json:"bids"`
	Asks      []OrderSummary `json:"asks"`
	MinOrder  string         `json:"min_order_size"`
	TickSize  string         `json:"tick_size"`
	NegRisk   bool           `json:"neg_risk"`
	Hash      string         `json:"hash"`
}

type OrderSummary struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*OrderBookSummary, error) {
	params := url.Values{"token_id": []string{tokenID}}
	var book OrderBookSummary
	if err := c.doJSON(ctx, http.MethodGet, "/book", params, nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// BestBid returns the highest bid on the book.
func (c *Client) BestBid(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return decimal.Zero, err
	}
	return bestOfSide(book.Bids, true)
}

// BestAsk returns the lowest ask on the book.
func (c *Client) BestAsk(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return decimal.Zero, err
	}
	return bestOfSide(book.Asks, false)
}

// bestOfSide scans every level rather than trusting feed ordering: the REST
// book lists levels worst-first, the websocket book is not guaranteed either.
func bestOfSide(levels []OrderSummary, highest bool) (decimal.Decimal, error) {
	if len(levels) == 0 {
		return decimal.Zero, fmt.Errorf("book side empty")
	}
	var best decimal.Decimal
	found := false
	for _, lvl := range levels {
		p, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse level price %q: %w", lvl.Price, err)
		}
		s, err := decimal.NewFromString(lvl.Size)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse level size %q: %w", lvl.Size, err)
		}
		if s.Sign() <= 0 {
			continue
		}
		if !found || (highest && p.GreaterThan(best)) || (!highest && p.LessThan(best)) {
			best = p
			found = true
		}
	}
	if !found {
		return decimal.Zero, fmt.Errorf("book side has no priced depth")
	}
	return best, nil
}
