package maker

import (
	"strings"

	"github.com/shopspring/decimal"
)

// progress reconciles reported fills against what has already been
// accounted, per order. Venues report cumulative filled amounts; the delta
// since the last poll is what gets credited, clamped at zero so a glitching
// status feed can never un-fill an order.
type progress struct {
	goal      decimal.Decimal
	accounted map[string]decimal.Decimal
	filled    decimal.Decimal
	notional  decimal.Decimal // sum of fillPrice x fillSize
}

func newProgress(goal decimal.Decimal) *progress {
	return &progress{
		goal:      goal,
		accounted: make(map[string]decimal.Decimal),
	}
}

// terminalFillStates are venue states meaning "fully executed". Some report
// a zero filled amount alongside them; account credits the posted size in
// that case so the fill is not silently dropped.
func isTerminalFillState(state string) bool {
	switch strings.ToUpper(state) {
	case "FILLED", "MATCHED", "COMPLETED", "EXECUTED":
		return true
	}
	return false
}

func isClosedState(state string) bool {
	switch strings.ToUpper(state) {
	case "CANCELED", "CANCELLED", "REJECTED", "EXPIRED":
		return true
	}
	return isTerminalFillState(state)
}

// account credits any new fill on the order and returns the delta.
// postedPrice is the price hint used when the venue omits an average fill
// price; a maker order fills at its posted price.
func (p *progress) account(orderID string, st OrderStatus, postedPrice, postedSize decimal.Decimal) decimal.Decimal {
	filledAmt := st.Filled
	if filledAmt.Sign() <= 0 && !st.Open && isTerminalFillState(st.State) && postedSize.Sign() > 0 {
		filledAmt = postedSize
	}

	prev := p.accounted[orderID]
	delta := filledAmt.Sub(prev)
	if delta.Sign() <= 0 {
		return decimal.Zero
	}
	p.accounted[orderID] = filledAmt

	price := st.AvgPrice
	if price.Sign() <= 0 {
		price = postedPrice
	}
	p.filled = p.filled.Add(delta)
	p.notional = p.notional.Add(delta.Mul(price))
	return delta
}

func (p *progress) accountedFor(orderID string) decimal.Decimal {
	return p.accounted[orderID]
}

// remaining is goal minus filled, floored at zero.
func (p *progress) remaining() decimal.Decimal {
	rem := p.goal.Sub(p.filled)
	if rem.Sign() < 0 {
		return decimal.Zero
	}
	return rem
}

// shrinkGoal lowers the goal to filled+newRemaining (insufficient-position
// recovery on the sell side).
func (p *progress) shrinkGoal(newRemaining decimal.Decimal) {
	p.goal = p.filled.Add(newRemaining)
}

// summary freezes the run result. Filled is clamped at the goal: a single
// fill event may benignly overshoot (the posted size can exceed the
// remainder when the minimum viable size forces it up), and the overshoot
// is not part of the requested quantity. The average price still reflects
// every executed share.
func (p *progress) summary() FillSummary {
	filled := p.filled
	if filled.GreaterThan(p.goal) {
		filled = p.goal
	}
	s := FillSummary{
		Filled:    filled,
		Remaining: p.remaining(),
	}
	switch {
	case p.filled.Sign() <= 0:
		s.Status = StatusNoFill
	case p.remaining().Sign() == 0:
		s.Status = StatusFilled
	default:
		s.Status = StatusFilledTruncated
	}
	if p.filled.Sign() > 0 {
		s.AvgPrice = p.notional.Div(p.filled)
	}
	return s
}
