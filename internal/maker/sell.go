package maker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"poly-gomaker/internal/jsonl"
)

// DefaultDustThreshold is the smallest sell remainder worth posting; below
// it the position is treated as fully liquidated.
var DefaultDustThreshold = decimal.NewFromFloat(0.01)

// Liquidator unwinds a position by keeping a single resting GTC sell at
// max(best ask, floor), chasing the ask downward one tick at a time but
// never resting below the floor. While the market trades below the floor
// it holds no order at all and waits.
type Liquidator struct {
	Book   BookSource
	Gate   OrderGateway
	Policy Policy

	// MinOrderSize is the venue's minimum resting size in shares.
	MinOrderSize decimal.Decimal
	// DustThreshold is the remainder below which the run completes. Zero
	// means DefaultDustThreshold.
	DustThreshold decimal.Decimal

	// AggressiveStep, when positive, enables aggressive mode: an order left
	// unfilled for AggressiveTimeout is lowered by the step toward the
	// floor. Once the posted price reaches the floor it locks there.
	AggressiveStep    decimal.Decimal
	AggressiveTimeout time.Duration

	PollInterval time.Duration
	Events       *jsonl.Writer

	// Test hooks; nil means real time.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

type sellAction int

const (
	sellHold sellAction = iota
	sellFinish
	sellFloorWait
	sellChaseDown
	sellClear // order closed server-side; repost the remainder next tick
)

type sellObs struct {
	remainingQ decimal.Decimal // remaining, rounded down at sell size digits
	dust       decimal.Decimal
	ask        decimal.Decimal
	askOK      bool
	floor      decimal.Decimal
	lastPrice  decimal.Decimal
	tick       decimal.Decimal
	orderOpen  bool
}

// decideSell is the per-tick transition. The floor gate is unconditional:
// it outranks everything except completion, so no sell order ever rests
// while the market is below the floor. Chasing only tracks the ask down.
func decideSell(o sellObs) sellAction {
	if o.remainingQ.LessThan(o.dust) {
		return sellFinish
	}
	if o.askOK && o.ask.LessThan(o.floor) {
		return sellFloorWait
	}
	if o.askOK && o.ask.Cmp(o.lastPrice.Sub(o.tick)) <= 0 {
		return sellChaseDown
	}
	if !o.orderOpen {
		return sellClear
	}
	return sellHold
}

// aggressiveState tracks the unfilled-order timer and the floor lock.
type aggressiveState struct {
	timerStart   time.Time
	nextOverride decimal.Decimal // price for the next post after a step-down
	lockedPrice  decimal.Decimal // posted price pinned at/near the floor
	hasOverride  bool
	hasLock      bool
}

func (s *aggressiveState) reset() {
	s.timerStart = time.Time{}
	s.hasOverride = false
}

// Liquidate runs the sell loop until the position is gone (down to dust) or
// the remainder falls below the venue minimum. floorPrice is fixed for the
// whole run. On context cancellation it cancels any open order before
// returning the partial summary alongside ctx.Err().
func (l *Liquidator) Liquidate(ctx context.Context, tokenID string, positionSize, floorPrice decimal.Decimal) (FillSummary, error) {
	if positionSize.Sign() <= 0 {
		return FillSummary{Status: StatusNoFill}, fmt.Errorf("%w: position size %s", ErrInvalidInput, positionSize)
	}
	if floorPrice.Sign() <= 0 {
		return FillSummary{Status: StatusNoFill}, fmt.Errorf("%w: floor price %s", ErrInvalidInput, floorPrice)
	}
	if l.PollInterval <= 0 {
		return FillSummary{Status: StatusNoFill}, fmt.Errorf("%w: poll interval %s", ErrInvalidInput, l.PollInterval)
	}
	if err := l.Policy.validate(); err != nil {
		return FillSummary{Status: StatusNoFill}, err
	}
	sleep := l.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	now := l.now
	if now == nil {
		now = time.Now
	}
	dust := l.DustThreshold
	if dust.Sign() <= 0 {
		dust = DefaultDustThreshold
	}

	goal := RoundDown(positionSize, l.Policy.SellSizeDigits)
	if goal.LessThan(dust) {
		// Nothing actionable; no order is ever placed.
		log.Printf("[maker][sell] position %s below dust threshold %s; nothing to do", goal, dust)
		return FillSummary{Status: StatusNoFill, Remaining: goal}, nil
	}
	minQty := decimal.Zero
	if l.MinOrderSize.Sign() > 0 {
		minQty = RoundUp(l.MinOrderSize, l.Policy.SellSizeDigits)
	}

	prog := newProgress(goal)
	tick := Tick(l.Policy.SellPriceDigits)
	aggressive := l.AggressiveStep.Sign() > 0 && l.AggressiveTimeout > 0
	var agg aggressiveState
	var open *restingOrder
	cancelPending := false
	waitingForFloor := false

	for {
		if ctx.Err() != nil {
			l.closeOut(open, prog, "stop")
			return l.finish(tokenID, prog, dust), ctx.Err()
		}

		if cancelPending && open != nil {
			if !l.cancelOrder(ctx, open, "retry_cancel") {
				if err := sleep(ctx, l.PollInterval); err != nil {
					continue
				}
				continue
			}
			cancelPending = false
			l.reconcile(ctx, open, prog)
			open = nil
		}

		if minQty.Sign() > 0 && prog.remaining().LessThan(minQty) {
			l.closeOut(open, prog, "completion")
			return l.finish(tokenID, prog, dust), nil
		}

		ask, err := l.Book.BestAsk(ctx, tokenID)
		askOK := err == nil && ask.Sign() > 0
		if err != nil {
			log.Printf("[maker][sell] best ask read failed: %v", err)
		}

		// Floor gate: while the ask is unknown or below the floor, hold no
		// resting order at all. This outranks every other rule.
		if !askOK || ask.LessThan(floorPrice) {
			if !waitingForFloor {
				log.Printf("[maker][sell] ask below floor, waiting ask=%s floor=%s", ask, floorPrice)
				logExecEvent(l.Events, execEvent{
					Event: "floor_wait", TokenID: tokenID, Side: string(SideSell),
					Price: decStr(ask), Floor: floorPrice.String(), Reason: "floor_breach",
				})
			}
			if open != nil {
				if l.cancelOrder(ctx, open, "floor_breach") {
					l.reconcile(ctx, open, prog)
					open = nil
					agg.reset()
				} else {
					cancelPending = true
				}
			}
			waitingForFloor = true
			if err := sleep(ctx, l.PollInterval); err != nil {
				continue
			}
			continue
		}
		waitingForFloor = false

		if open == nil {
			price := RoundDown(ask, l.Policy.SellPriceDigits)
			if aggressive {
				if agg.hasOverride {
					price = RoundDown(agg.nextOverride, l.Policy.SellPriceDigits)
					agg.hasOverride = false
				} else if agg.hasLock {
					price = RoundDown(agg.lockedPrice, l.Policy.SellPriceDigits)
				}
			}
			if price.LessThan(floorPrice) {
				price = floorPrice
			}

			qty := RoundDown(prog.remaining(), l.Policy.SellSizeDigits)
			if qty.LessThan(dust) {
				return l.finish(tokenID, prog, dust), nil
			}
			if minQty.Sign() > 0 && qty.LessThan(minQty) {
				return l.finish(tokenID, prog, dust), nil
			}

			id, err := l.Gate.PlaceResting(ctx, tokenID, SideSell, price, qty)
			if err != nil {
				if IsInsufficientPosition(err) {
					shrunk := RoundDown(prog.remaining().Sub(Tick(l.Policy.SellSizeDigits)), l.Policy.SellSizeDigits)
					if shrunk.GreaterThanOrEqual(dust) && (minQty.Sign() == 0 || shrunk.GreaterThanOrEqual(minQty)) {
						log.Printf("[maker][sell] position short at venue; shrinking goal old=%s new=%s", qty, shrunk)
						prog.shrinkGoal(shrunk)
						continue
					}
					log.Printf("[maker][sell] position below minimum sellable; abandoning remainder")
					return l.finish(tokenID, prog, dust), nil
				}
				log.Printf("[maker][sell] place failed price=%s size=%s: %v", price, qty, err)
				if err := sleep(ctx, l.PollInterval); err != nil {
					continue
				}
				continue
			}
			open = &restingOrder{id: id, price: price, size: qty}
			if aggressive {
				if price.LessThanOrEqual(floorPrice) {
					agg.lockedPrice = price
					agg.hasLock = true
					agg.timerStart = time.Time{}
				} else if !agg.hasLock {
					agg.timerStart = now()
				}
			}
			log.Printf("[maker][sell] post price=%s size=%s remaining=%s floor=%s", price, qty, prog.remaining(), floorPrice)
			logExecEvent(l.Events, execEvent{
				Event: "post", TokenID: tokenID, Side: string(SideSell), OrderID: id,
				Price: price.String(), Size: qty.String(), Remaining: prog.remaining().String(),
				Floor: floorPrice.String(), Reason: "initial_post",
			})
			continue
		}

		if err := sleep(ctx, l.PollInterval); err != nil {
			continue
		}

		st, err := l.Gate.Status(ctx, open.id)
		if err != nil {
			log.Printf("[maker][sell] status poll failed: %v", err)
			st = OrderStatus{Filled: prog.accountedFor(open.id), Open: true, State: "UNKNOWN"}
		}
		if delta := prog.account(open.id, st, open.price, open.size); delta.Sign() > 0 {
			log.Printf("[maker][sell] fill delta=%s sold=%s remaining=%s state=%s", delta, prog.filled, prog.remaining(), st.State)
			logExecEvent(l.Events, execEvent{
				Event: "fill", TokenID: tokenID, Side: string(SideSell), OrderID: open.id,
				Size: delta.String(), Filled: prog.filled.String(), Remaining: prog.remaining().String(),
			})
		}

		ask2, askErr := l.Book.BestAsk(ctx, tokenID)
		obs := sellObs{
			remainingQ: RoundDown(prog.remaining(), l.Policy.SellSizeDigits),
			dust:       dust,
			askOK:      askErr == nil && ask2.Sign() > 0,
			ask:        ask2,
			floor:      floorPrice,
			lastPrice:  open.price,
			tick:       tick,
			orderOpen:  st.Open,
		}

		switch decideSell(obs) {
		case sellFinish:
			l.closeOut(open, prog, "completion")
			return l.finish(tokenID, prog, dust), nil
		case sellFloorWait:
			log.Printf("[maker][sell] ask dropped below floor, cancel and wait ask=%s floor=%s", ask2, floorPrice)
			logExecEvent(l.Events, execEvent{
				Event: "floor_wait", TokenID: tokenID, Side: string(SideSell),
				Price: ask2.String(), Floor: floorPrice.String(), Reason: "floor_breach",
			})
			if l.cancelOrder(ctx, open, "floor_breach") {
				l.reconcile(ctx, open, prog)
				open = nil
				agg.reset()
			} else {
				cancelPending = true
			}
			waitingForFloor = true
		case sellChaseDown:
			newPx := RoundDown(ask2, l.Policy.SellPriceDigits)
			if newPx.LessThan(floorPrice) {
				newPx = floorPrice
			}
			log.Printf("[maker][sell] ask down, cancel and repost old=%s new=%s", open.price, newPx)
			if l.cancelOrder(ctx, open, "chase_down") {
				l.reconcile(ctx, open, prog)
				open = nil
				agg.reset()
			} else {
				cancelPending = true
			}
		case sellClear:
			log.Printf("[maker][sell] order closed state=%s; reposting remainder", st.State)
			open = nil
			agg.reset()
		case sellHold:
			if aggressive && st.Open {
				if stepped := l.aggressiveStep(ctx, open, prog, &agg, floorPrice, now); stepped {
					open = nil
				}
			}
		}
	}
}

// aggressiveStep lowers an order that has sat unfilled past the timeout by
// one step toward the floor. Returns true when the order was cancelled and
// the next post price is queued.
func (l *Liquidator) aggressiveStep(ctx context.Context, open *restingOrder, prog *progress, agg *aggressiveState, floorPrice decimal.Decimal, now func() time.Time) bool {
	if open.price.LessThanOrEqual(floorPrice) {
		agg.lockedPrice = open.price
		agg.hasLock = true
		agg.timerStart = time.Time{}
		return false
	}
	if agg.hasLock {
		return false
	}
	if agg.timerStart.IsZero() {
		agg.timerStart = now()
		return false
	}
	if now().Sub(agg.timerStart) < l.AggressiveTimeout {
		return false
	}

	target := open.price.Sub(l.AggressiveStep)
	next := RoundDown(target, l.Policy.SellPriceDigits)
	if next.LessThan(floorPrice) {
		next = floorPrice
	}
	if next.GreaterThanOrEqual(open.price) {
		// Step too small to move at this precision; restart the clock.
		agg.timerStart = now()
		return false
	}

	log.Printf("[maker][sell] unfilled past %s; stepping down old=%s new=%s", l.AggressiveTimeout, open.price, next)
	logExecEvent(l.Events, execEvent{
		Event: "cancel", Side: string(SideSell), OrderID: open.id,
		Price: open.price.String(), Size: open.size.String(), Reason: "aggressive_step",
	})
	if _, err := l.Gate.Cancel(ctx, open.id); err != nil {
		log.Printf("[maker][sell] aggressive cancel failed: %v", err)
		return false
	}
	l.reconcile(ctx, open, prog)
	agg.nextOverride = next
	agg.hasOverride = true
	agg.timerStart = time.Time{}
	if next.LessThanOrEqual(floorPrice) {
		agg.lockedPrice = next
		agg.hasLock = true
	}
	return true
}

func (l *Liquidator) cancelOrder(ctx context.Context, o *restingOrder, reason string) bool {
	res, err := l.Gate.Cancel(ctx, o.id)
	if err != nil {
		log.Printf("[maker][sell] cancel failed (%s): %v", reason, err)
		return false
	}
	if res.AlreadyClosed {
		log.Printf("[maker][sell] cancel raced a close (%s); order %s already done", reason, o.id)
	}
	logExecEvent(l.Events, execEvent{
		Event: "cancel", Side: string(SideSell), OrderID: o.id,
		Price: o.price.String(), Size: o.size.String(), Reason: reason,
	})
	return true
}

func (l *Liquidator) reconcile(ctx context.Context, o *restingOrder, prog *progress) {
	st, err := l.Gate.Status(ctx, o.id)
	if err != nil {
		return
	}
	prog.account(o.id, st, o.price, o.size)
}

func (l *Liquidator) closeOut(o *restingOrder, prog *progress, reason string) {
	if o == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for attempt := 1; attempt <= 3; attempt++ {
		if l.cancelOrder(ctx, o, reason) {
			l.reconcile(ctx, o, prog)
			return
		}
	}
	log.Printf("[maker][sell] giving up cancel of %s after retries", o.id)
}

// finish freezes the run result. A remainder that rounds down below the
// dust threshold counts as fully liquidated, not truncated.
func (l *Liquidator) finish(tokenID string, prog *progress, dust decimal.Decimal) FillSummary {
	sum := prog.summary()
	if sum.Status == StatusFilledTruncated && RoundDown(prog.remaining(), l.Policy.SellSizeDigits).LessThan(dust) {
		sum.Status = StatusFilled
	}
	log.Printf("[maker][sell] done status=%s sold=%s avg=%s remaining=%s", sum.Status, sum.Filled, sum.AvgPrice, sum.Remaining)
	logExecEvent(l.Events, execEvent{
		Event: "summary", TokenID: tokenID, Side: string(SideSell),
		Status: string(sum.Status), Filled: sum.Filled.String(),
		AvgPrice: decStr(sum.AvgPrice), Remaining: sum.Remaining.String(),
	})
	return sum
}
