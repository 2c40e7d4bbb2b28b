package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// OrderInfo mirrors the /data/order/<order_hash> response payload.
type OrderInfo struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Type         string `json:"type"`
	OrderType    string `json:"order_type"`
}

type orderInfoResp struct {
	Order *OrderInfo `json:"order"`
}

type cancelOrderReq struct {
	OrderID string `json:"orderID"`
}

type cancelOrderResp struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

// GetOrder fetches a single order by ID/hash.
func (c *Client) GetOrder(ctx context.Context, orderID string, useServerTime bool) (*OrderInfo, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("order id required")
	}
	if !c.HasApiCreds() {
		return nil, fmt.Errorf("api creds not configured")
	}

	path := "/data/order/" + orderID
	ts, err := c.timestampForAuth(ctx, useServerTime)
	if err != nil {
		return nil, err
	}
	headers, err := c.l2Headers(ts, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp orderInfoResp
	if err := c.doJSON(ctx, http.MethodGet, path, nil, headers, &resp); err != nil {
		return nil, err
	}
	if resp.Order == nil {
		return nil, fmt.Errorf("order missing in response")
	}
	return resp.Order, nil
}

// CancelOrder submits a cancel for a single order. alreadyClosed reports
// that the venue refused the cancel because the order was no longer open
// (filled or previously cancelled) - a race, not a failure.
func (c *Client) CancelOrder(ctx context.Context, orderID string, useServerTime bool) (alreadyClosed bool, err error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return false, fmt.Errorf("order id required")
	}
	if !c.HasApiCreds() {
		return false, fmt.Errorf("api creds not configured")
	}

	body, err := json.Marshal(cancelOrderReq{OrderID: orderID})
	if err != nil {
		return false, fmt.Errorf("marshal cancel order: %w", err)
	}

	path := "/order"
	ts, err := c.timestampForAuth(ctx, useServerTime)
	if err != nil {
		return false, err
	}
	headers, err := c.l2Headers(ts, http.MethodDelete, path, body)
	if err != nil {
		return false, err
	}

	var resp cancelOrderResp
	if err := c.doJSONBody(ctx, http.MethodDelete, path, nil, headers, body, &resp); err != nil {
		return false, err
	}
	return interpretCancel(orderID, resp)
}

func interpretCancel(orderID string, resp cancelOrderResp) (bool, error) {
	for _, id := range resp.Canceled {
		if id == orderID {
			return false, nil
		}
	}
	if reason, ok := resp.NotCanceled[orderID]; ok {
		if cancelRacedClose(reason) {
			return true, nil
		}
		return false, fmt.Errorf("cancel refused: %s", reason)
	}
	return false, fmt.Errorf("cancel response missing order %s", orderID)
}

// cancelRacedClose reports whether a not_canceled reason means the order was
// already out of the book when the cancel landed.
func cancelRacedClose(reason string) bool {
	r := strings.ToLower(reason)
	for _, kw := range []string{"already", "matched", "filled", "not found", "does not exist"} {
		if strings.Contains(r, kw) {
			return true
		}
	}
	return false
}
