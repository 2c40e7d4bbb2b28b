package marketws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"poly-gomaker/internal/maker"
)

const DefaultStaleAfter = 15 * time.Second

// Feed serves top-of-book prices from the aggregated-orderbook push stream,
// falling back to a pull source when the cache is empty or stale. The
// execution engines read it through the BookSource interface and never see
// which path served them.
type Feed struct {
	url        string
	tokenIDs   []string
	fallback   maker.BookSource
	staleAfter time.Duration
	opts       Options

	mu    sync.RWMutex
	books map[string]topBook

	// Test hook; nil means real time.
	now func() time.Time
}

type topBook struct {
	bid decimal.Decimal
	ask decimal.Decimal
	at  time.Time
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type aggBookPayload struct {
	AssetID string      `json:"asset_id"`
	Market  string      `json:"market"`
	Bids    []bookLevel `json:"bids"`
	Asks    []bookLevel `json:"asks"`
}

func NewFeed(url string, tokenIDs []string, fallback maker.BookSource, staleAfter time.Duration, opts Options) *Feed {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Feed{
		url:        url,
		tokenIDs:   tokenIDs,
		fallback:   fallback,
		staleAfter: staleAfter,
		opts:       opts,
		books:      make(map[string]topBook),
	}
}

// Run consumes the push stream until ctx is done. Stream errors are logged
// and survived; the subscription loop reconnects on its own.
func (f *Feed) Run(ctx context.Context) error {
	msgs, errs, err := start(ctx, f.url, f.tokenIDs, f.opts)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[marketws] stream: %v", err)
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			f.ingest(m)
		}
	}
}

func (f *Feed) ingest(m Message) {
	if m.Topic != topicClobMarket || m.Type != typeAggOrderbook {
		return
	}
	var p aggBookPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		log.Printf("[marketws] decode agg_orderbook: %v", err)
		return
	}
	if p.AssetID == "" {
		return
	}

	bid, bidOK := bestLevel(p.Bids, true)
	ask, askOK := bestLevel(p.Asks, false)
	if !bidOK && !askOK {
		return
	}

	nowFn := f.now
	if nowFn == nil {
		nowFn = time.Now
	}

	f.mu.Lock()
	entry := f.books[p.AssetID]
	if bidOK {
		entry.bid = bid
	}
	if askOK {
		entry.ask = ask
	}
	entry.at = nowFn()
	f.books[p.AssetID] = entry
	f.mu.Unlock()
}

// bestLevel returns the highest bid or lowest ask with nonzero size.
func bestLevel(levels []bookLevel, highest bool) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, lvl := range levels {
		p, err := decimal.NewFromString(lvl.Price)
		if err != nil || p.Sign() <= 0 {
			continue
		}
		s, err := decimal.NewFromString(lvl.Size)
		if err != nil || s.Sign() <= 0 {
			continue
		}
		if !found || (highest && p.GreaterThan(best)) || (!highest && p.LessThan(best)) {
			best = p
			found = true
		}
	}
	return best, found
}

func (f *Feed) BestBid(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	return f.top(ctx, tokenID, true)
}

func (f *Feed) BestAsk(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	return f.top(ctx, tokenID, false)
}

func (f *Feed) top(ctx context.Context, tokenID string, bid bool) (decimal.Decimal, error) {
	nowFn := f.now
	if nowFn == nil {
		nowFn = time.Now
	}

	f.mu.RLock()
	entry, ok := f.books[tokenID]
	f.mu.RUnlock()

	if ok && nowFn().Sub(entry.at) <= f.staleAfter {
		price := entry.bid
		if !bid {
			price = entry.ask
		}
		if price.Sign() > 0 {
			return price, nil
		}
	}

	if f.fallback == nil {
		return decimal.Zero, fmt.Errorf("no fresh book for token %s", tokenID)
	}
	if bid {
		return f.fallback.BestBid(ctx, tokenID)
	}
	return f.fallback.BestAsk(ctx, tokenID)
}
