package maker

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Status classifies how an execution run ended.
type Status string

const (
	// StatusFilled means the full requested size was executed.
	StatusFilled Status = "FILLED"
	// StatusFilledTruncated means some quantity executed but the remainder
	// fell below the minimum viable/dust size and was abandoned.
	StatusFilledTruncated Status = "FILLED_TRUNCATED"
	// StatusNoFill means the run ended without executing anything.
	StatusNoFill Status = "NO_FILL"
)

// FillSummary is the immutable result of one execution run.
type FillSummary struct {
	Status    Status
	AvgPrice  decimal.Decimal // zero when Filled is zero
	Filled    decimal.Decimal
	Remaining decimal.Decimal
}

// OrderStatus is the normalized view of a resting order.
type OrderStatus struct {
	Filled   decimal.Decimal
	AvgPrice decimal.Decimal // zero when the venue does not report one
	Open     bool
	State    string // raw venue state, for logging and terminal-fill credit
}

// CancelResult reports the outcome of a cancel request that reached the venue.
type CancelResult struct {
	// AlreadyClosed is set when the order was filled or cancelled before the
	// request landed. That race is a completion signal, not an error.
	AlreadyClosed bool
}

// BookSource supplies top-of-book prices for a token. Implementations may
// serve from a push subscription with a pull fallback; the engines only see
// the price.
type BookSource interface {
	BestBid(ctx context.Context, tokenID string) (decimal.Decimal, error)
	BestAsk(ctx context.Context, tokenID string) (decimal.Decimal, error)
}

// OrderGateway places, cancels, and inspects resting GTC orders. Partial
// fills are allowed on every order it places.
type OrderGateway interface {
	PlaceResting(ctx context.Context, tokenID string, side Side, price, size decimal.Decimal) (string, error)
	Cancel(ctx context.Context, orderID string) (CancelResult, error)
	Status(ctx context.Context, orderID string) (OrderStatus, error)
}

var (
	// ErrInvalidInput marks non-positive sizes, prices, or intervals. It is
	// surfaced before any order is placed and never retried.
	ErrInvalidInput = errors.New("maker: invalid input")
	// ErrInvalidPrice marks a non-positive price fed to the quantizer.
	ErrInvalidPrice = errors.New("maker: invalid price")
)

// restingOrder is the single outstanding order of one engine run. At most
// one exists per engine at any instant; it is cancelled or confirmed closed
// before a replacement is posted.
type restingOrder struct {
	id    string
	price decimal.Decimal
	size  decimal.Decimal
}

// IsInsufficientPosition reports whether a place rejection indicates the
// venue thinks we hold less than the posted size. The engines respond by
// shrinking the goal rather than aborting.
func IsInsufficientPosition(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, keyword := range []string{"insufficient", "balance", "position"} {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}
