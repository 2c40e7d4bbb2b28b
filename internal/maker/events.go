package maker

import (
	"log"
	"time"

	"github.com/shopspring/decimal"

	"poly-gomaker/internal/jsonl"
)

// execEvent is one record in the JSONL execution audit log. Every order
// post and cancel carries the price, size, and triggering condition.
type execEvent struct {
	TsMs  int64  `json:"ts_ms"`
	Event string `json:"event"` // post | cancel | fill | floor_wait | summary

	TokenID string `json:"token_id,omitempty"`
	Side    string `json:"side,omitempty"`
	OrderID string `json:"order_id,omitempty"`

	Price     string `json:"price,omitempty"`
	Size      string `json:"size,omitempty"`
	Filled    string `json:"filled,omitempty"`
	Remaining string `json:"remaining,omitempty"`
	AvgPrice  string `json:"avg_price,omitempty"`
	Floor     string `json:"floor,omitempty"`

	// Reason tags the condition that triggered the event:
	// initial_post, reprice_up, chase_down, floor_breach, completion,
	// aggressive_step, stop, order_closed.
	Reason string `json:"reason,omitempty"`
	Status string `json:"status,omitempty"`

	Err string `json:"err,omitempty"`
}

func logExecEvent(w *jsonl.Writer, ev execEvent) {
	if w == nil {
		return
	}
	if ev.TsMs == 0 {
		ev.TsMs = time.Now().UnixMilli()
	}
	if err := w.Write(ev); err != nil {
		log.Printf("[warn] exec log write failed: %v", err)
	}
}

func decStr(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}
