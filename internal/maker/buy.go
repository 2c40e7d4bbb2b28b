package maker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"poly-gomaker/internal/jsonl"
)

// Acquirer builds a position by keeping a single resting GTC buy at the
// best bid, cancelling and reposting whenever the bid rises by at least one
// tick. It never chases the bid down: a falling bid leaves the resting
// order queued at its already-higher price.
type Acquirer struct {
	Book   BookSource
	Gate   OrderGateway
	Policy Policy

	// MinNotional is the venue's minimum quote amount per resting order.
	MinNotional decimal.Decimal
	// MinOrderSize is the venue's minimum resting size in shares.
	MinOrderSize decimal.Decimal

	PollInterval time.Duration
	Events       *jsonl.Writer

	// Test hook; nil means real time.
	sleep func(ctx context.Context, d time.Duration) error
}

type buyAction int

const (
	buyHold buyAction = iota
	buyFinish
	buyRepriceUp
	buyClear // order closed server-side; repost the remainder next tick
)

// buyObs is everything one poll tick observed. Fills have already been
// credited when it is built, so remaining reflects this tick's status.
type buyObs struct {
	remaining  decimal.Decimal
	minBuyable decimal.Decimal
	bid        decimal.Decimal
	bidOK      bool
	lastPrice  decimal.Decimal
	tick       decimal.Decimal
	orderOpen  bool
}

// decideBuy is the per-tick transition. Completion outranks repricing, and
// repricing only ever follows the bid upward.
func decideBuy(o buyObs) buyAction {
	if o.remaining.Sign() <= 0 {
		return buyFinish
	}
	if o.bidOK && o.minBuyable.Sign() > 0 && o.remaining.LessThan(o.minBuyable) {
		return buyFinish
	}
	if o.bidOK && o.bid.Cmp(o.lastPrice.Add(o.tick)) >= 0 {
		return buyRepriceUp
	}
	if !o.orderOpen {
		return buyClear
	}
	return buyHold
}

// Acquire runs the buy loop until targetSize is filled or the remainder is
// no longer viable. On context cancellation it cancels any open order
// before returning the partial summary alongside ctx.Err().
func (a *Acquirer) Acquire(ctx context.Context, tokenID string, targetSize decimal.Decimal) (FillSummary, error) {
	if targetSize.Sign() <= 0 {
		return FillSummary{Status: StatusNoFill}, fmt.Errorf("%w: target size %s", ErrInvalidInput, targetSize)
	}
	if a.PollInterval <= 0 {
		return FillSummary{Status: StatusNoFill}, fmt.Errorf("%w: poll interval %s", ErrInvalidInput, a.PollInterval)
	}
	if err := a.Policy.validate(); err != nil {
		return FillSummary{Status: StatusNoFill}, err
	}
	sleep := a.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	goal := RoundUp(targetSize, a.Policy.BuySizeDigits)
	minQty := decimal.Zero
	if a.MinOrderSize.Sign() > 0 {
		minQty = RoundUp(a.MinOrderSize, a.Policy.BuySizeDigits)
		if goal.LessThan(minQty) {
			goal = minQty
		}
	}

	prog := newProgress(goal)
	tick := Tick(a.Policy.BuyPriceDigits)
	var open *restingOrder
	cancelPending := false

	for {
		if ctx.Err() != nil {
			a.closeOut(open, prog, "stop")
			return a.finish(tokenID, prog), ctx.Err()
		}

		// An ambiguous cancel left the order possibly open: retry the
		// cancel before anything else so two orders can never rest at once.
		if cancelPending && open != nil {
			if !a.cancelOrder(ctx, open, "retry_cancel") {
				if err := sleep(ctx, a.PollInterval); err != nil {
					continue
				}
				continue
			}
			cancelPending = false
			a.reconcile(ctx, open, prog)
			open = nil
		}

		if open == nil {
			if prog.remaining().Sign() <= 0 || (minQty.Sign() > 0 && prog.remaining().LessThan(minQty)) {
				return a.finish(tokenID, prog), nil
			}

			bid, err := a.Book.BestBid(ctx, tokenID)
			if err != nil || bid.Sign() <= 0 {
				if err != nil {
					log.Printf("[maker][buy] best bid read failed: %v", err)
				}
				if err := sleep(ctx, a.PollInterval); err != nil {
					continue
				}
				continue
			}

			price := RoundUp(bid, a.Policy.BuyPriceDigits)
			minViable, err := MinViableSize(a.MinNotional, price, a.Policy.BuySizeDigits)
			if err != nil {
				return a.finish(tokenID, prog), err
			}
			qty := prog.remaining()
			if qty.LessThan(minViable) {
				qty = minViable
			}
			if qty.LessThan(minQty) {
				qty = minQty
			}
			qty = RoundUp(qty, a.Policy.BuySizeDigits)

			id, err := a.Gate.PlaceResting(ctx, tokenID, SideBuy, price, qty)
			if err != nil {
				log.Printf("[maker][buy] place failed price=%s size=%s: %v", price, qty, err)
				if err := sleep(ctx, a.PollInterval); err != nil {
					continue
				}
				continue
			}
			open = &restingOrder{id: id, price: price, size: qty}
			log.Printf("[maker][buy] post price=%s size=%s remaining=%s", price, qty, prog.remaining())
			logExecEvent(a.Events, execEvent{
				Event: "post", TokenID: tokenID, Side: string(SideBuy), OrderID: id,
				Price: price.String(), Size: qty.String(), Remaining: prog.remaining().String(),
				Reason: "initial_post",
			})
			continue
		}

		if err := sleep(ctx, a.PollInterval); err != nil {
			continue
		}

		st, err := a.Gate.Status(ctx, open.id)
		if err != nil {
			log.Printf("[maker][buy] status poll failed: %v", err)
			st = OrderStatus{Filled: prog.accountedFor(open.id), Open: true, State: "UNKNOWN"}
		}
		if delta := prog.account(open.id, st, open.price, open.size); delta.Sign() > 0 {
			log.Printf("[maker][buy] fill delta=%s filled=%s remaining=%s state=%s", delta, prog.filled, prog.remaining(), st.State)
			logExecEvent(a.Events, execEvent{
				Event: "fill", TokenID: tokenID, Side: string(SideBuy), OrderID: open.id,
				Size: delta.String(), Filled: prog.filled.String(), Remaining: prog.remaining().String(),
			})
		}

		bid, bidErr := a.Book.BestBid(ctx, tokenID)
		obs := buyObs{
			remaining: prog.remaining(),
			bidOK:     bidErr == nil && bid.Sign() > 0,
			bid:       bid,
			lastPrice: open.price,
			tick:      tick,
			orderOpen: st.Open,
		}
		if obs.bidOK {
			minBuyable, _ := MinViableSize(a.MinNotional, bid, a.Policy.BuySizeDigits)
			if minBuyable.LessThan(minQty) {
				minBuyable = minQty
			}
			obs.minBuyable = minBuyable
		}

		switch decideBuy(obs) {
		case buyFinish:
			a.closeOut(open, prog, "completion")
			return a.finish(tokenID, prog), nil
		case buyRepriceUp:
			log.Printf("[maker][buy] bid up, cancel and repost old=%s new=%s", open.price, bid)
			if a.cancelOrder(ctx, open, "reprice_up") {
				a.reconcile(ctx, open, prog)
				open = nil
			} else {
				cancelPending = true
			}
		case buyClear:
			log.Printf("[maker][buy] order closed state=%s; reposting remainder", st.State)
			open = nil
		case buyHold:
		}
	}
}

// cancelOrder sends one cancel and reports whether the order is known to be
// closed. AlreadyClosed is a race with a fill, not a failure.
func (a *Acquirer) cancelOrder(ctx context.Context, o *restingOrder, reason string) bool {
	res, err := a.Gate.Cancel(ctx, o.id)
	if err != nil {
		log.Printf("[maker][buy] cancel failed (%s): %v", reason, err)
		return false
	}
	if res.AlreadyClosed {
		log.Printf("[maker][buy] cancel raced a close (%s); order %s already done", reason, o.id)
	}
	logExecEvent(a.Events, execEvent{
		Event: "cancel", Side: string(SideBuy), OrderID: o.id,
		Price: o.price.String(), Size: o.size.String(), Reason: reason,
	})
	return true
}

// reconcile re-reads the order once after a cancel so a fill that landed
// between the cancel decision and the cancel itself is still credited.
func (a *Acquirer) reconcile(ctx context.Context, o *restingOrder, prog *progress) {
	st, err := a.Gate.Status(ctx, o.id)
	if err != nil {
		return
	}
	prog.account(o.id, st, o.price, o.size)
}

// closeOut best-effort cancels an open order at the end of a run. The
// run's own context may already be done, so it uses a short detached one.
func (a *Acquirer) closeOut(o *restingOrder, prog *progress, reason string) {
	if o == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for attempt := 1; attempt <= 3; attempt++ {
		if a.cancelOrder(ctx, o, reason) {
			a.reconcile(ctx, o, prog)
			return
		}
	}
	log.Printf("[maker][buy] giving up cancel of %s after retries", o.id)
}

func (a *Acquirer) finish(tokenID string, prog *progress) FillSummary {
	sum := prog.summary()
	log.Printf("[maker][buy] done status=%s filled=%s avg=%s remaining=%s", sum.Status, sum.Filled, sum.AvgPrice, sum.Remaining)
	logExecEvent(a.Events, execEvent{
		Event: "summary", TokenID: tokenID, Side: string(SideBuy),
		Status: string(sum.Status), Filled: sum.Filled.String(),
		AvgPrice: decStr(sum.AvgPrice), Remaining: sum.Remaining.String(),
	})
	return sum
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
