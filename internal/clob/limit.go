package clob

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	orderbuilder "github.com/polymarket/go-order-utils/pkg/builder"
	ordermodel "github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"
)

const zeroAddressHex = "0x0000000000000000000000000000000000000000"

// On-chain amounts are 1e6 base units of the respective asset.
const tokenDecimals = 6

type roundConfig struct {
	price  int32 // decimals allowed on the limit price
	size   int32 // decimals allowed on the share quantity
	amount int32 // decimals allowed on the collateral amount
}

var roundingConfigByTickSize = map[string]roundConfig{
	"0.1":    {price: 1, size: 2, amount: 3},
	"0.01":   {price: 2, size: 2, amount: 4},
	"0.001":  {price: 3, size: 2, amount: 5},
	"0.0001": {price: 4, size: 2, amount: 6},
}

type signedOrderPayload struct {
	DeferExec bool      `json:"deferExec"`
	Order     orderJSON `json:"order"`
	Owner     string    `json:"owner"`
	OrderType OrderType `json:"orderType"`
}

type orderJSON struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          Side   `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// OrderResult is a built-and-signed resting order, ready to post.
type OrderResult struct {
	SignedOrder *ordermodel.SignedOrder
	Price       string
	TickSize    string
}

type postOrderResp struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

// restingOrderAmounts converts a decimal price and share size into on-chain
// maker/taker base units. BUY: maker = collateral spent, taker = shares.
// SELL: maker = shares, taker = collateral received. Amounts are quantized
// to the market's rounding config; shares round down so an order can never
// commit more than the caller holds.
func restingOrderAmounts(side Side, price, size decimal.Decimal, rc roundConfig) (makerAmt, takerAmt *big.Int, err error) {
	rawPrice := price.Round(rc.price)
	if rawPrice.Sign() <= 0 {
		return nil, nil, fmt.Errorf("price %s rounds to 0 at %d decimals", price, rc.price)
	}
	shares := size.RoundDown(rc.size)
	if shares.Sign() <= 0 {
		return nil, nil, fmt.Errorf("size %s rounds to 0 at %d decimals", size, rc.size)
	}

	collateral := shares.Mul(rawPrice)
	if !collateral.Equal(collateral.Truncate(rc.amount)) {
		// Same squeeze as the reference clients: round up at amount+4
		// first, fall back to rounding down at the hard limit.
		collateral = collateral.RoundUp(rc.amount + 4)
		if !collateral.Equal(collateral.Truncate(rc.amount)) {
			collateral = collateral.RoundDown(rc.amount)
		}
	}
	if collateral.Sign() <= 0 {
		return nil, nil, fmt.Errorf("collateral amount rounds to 0")
	}

	sharesUnits := shares.Shift(tokenDecimals).BigInt()
	collateralUnits := collateral.Shift(tokenDecimals).BigInt()
	switch side {
	case SideBuy:
		return collateralUnits, sharesUnits, nil
	case SideSell:
		return sharesUnits, collateralUnits, nil
	default:
		return nil, nil, fmt.Errorf("invalid side %q", side)
	}
}

// validatePriceRange enforces the CLOB's tradeable band: tick <= price <= 1-tick.
func validatePriceRange(price decimal.Decimal, tickSize string) error {
	tick, err := decimal.NewFromString(tickSize)
	if err != nil || tick.Sign() <= 0 {
		return fmt.Errorf("invalid tick size %q", tickSize)
	}
	max := decimal.NewFromInt(1).Sub(tick)
	if price.LessThan(tick) || price.GreaterThan(max) {
		return fmt.Errorf("price %s outside [%s, %s]", price, tick, max)
	}
	return nil
}

// CreateSignedRestingOrder builds and signs a GTC limit order at the given
// price for the given share size. The order is maker-intent: the caller is
// responsible for choosing a price that does not cross the book.
func (c *Client) CreateSignedRestingOrder(
	ctx context.Context,
	tokenID string,
	side Side,
	price, size decimal.Decimal,
	saltGenerator func() int64,
) (*OrderResult, error) {
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("price must be > 0")
	}
	if size.Sign() <= 0 {
		return nil, fmt.Errorf("size must be > 0")
	}

	tickSize, err := c.GetTickSize(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	rc, ok := roundingConfigByTickSize[tickSize]
	if !ok {
		return nil, fmt.Errorf("unsupported tick size %q", tickSize)
	}
	if err := validatePriceRange(price, tickSize); err != nil {
		return nil, err
	}

	makerAmt, takerAmt, err := restingOrderAmounts(side, price, size, rc)
	if err != nil {
		return nil, err
	}

	feeBps, err := c.GetFeeRateBps(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	negRisk, err := c.GetNegRisk(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	contract := ordermodel.CTFExchange
	if negRisk {
		contract = ordermodel.NegRiskCTFExchange
	}

	var sideEnum ordermodel.Side
	switch side {
	case SideBuy:
		sideEnum = ordermodel.BUY
	case SideSell:
		sideEnum = ordermodel.SELL
	default:
		return nil, fmt.Errorf("invalid side %q", side)
	}

	od := &ordermodel.OrderData{
		Maker:         c.funder.Hex(),
		Taker:         zeroAddressHex,
		TokenId:       tokenID,
		MakerAmount:   makerAmt.String(),
		TakerAmount:   takerAmt.String(),
		FeeRateBps:    strconv.Itoa(feeBps),
		Nonce:         "0",
		Signer:        c.signer.Hex(),
		Expiration:    "0",
		Side:          sideEnum,
		SignatureType: ordermodel.SignatureType(c.signatureTy),
	}

	if saltGenerator == nil {
		saltGenerator = defaultSalt
	}
	signed, err := signOrder(c.chainID, c.privateKey, od, contract, saltGenerator)
	if err != nil {
		return nil, err
	}
	return &OrderResult{SignedOrder: signed, Price: price.Round(rc.price).String(), TickSize: tickSize}, nil
}

func defaultSalt() int64 {
	return time.Now().UnixNano()
}

func signOrder(chainID int64, pk *ecdsa.PrivateKey, od *ordermodel.OrderData, contract ordermodel.VerifyingContract, saltGen func() int64) (*ordermodel.SignedOrder, error) {
	b := orderbuilder.NewExchangeOrderBuilderImpl(big.NewInt(chainID), saltGen)
	return b.BuildSignedOrder(pk, od, contract)
}

// PostSignedOrder submits a signed order and returns its order ID/hash.
func (c *Client) PostSignedOrder(
	ctx context.Context,
	order *ordermodel.SignedOrder,
	orderType OrderType,
	useServerTime bool,
) (string, error) {
	if order == nil {
		return "", fmt.Errorf("order required")
	}

	body, err := c.buildPostOrderBody(order, orderType)
	if err != nil {
		return "", err
	}

	ts, err := c.timestampForAuth(ctx, useServerTime)
	if err != nil {
		return "", err
	}
	headers, err := c.l2Headers(ts, http.MethodPost, "/order", body)
	if err != nil {
		return "", err
	}

	var resp postOrderResp
	if err := c.doJSONBody(ctx, http.MethodPost, "/order", nil, headers, body, &resp); err != nil {
		return "", err
	}
	if !resp.Success || resp.ErrorMsg != "" {
		return resp.OrderID, fmt.Errorf("order rejected: %s", resp.ErrorMsg)
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("order accepted but no order id returned")
	}
	return resp.OrderID, nil
}

func (c *Client) buildPostOrderBody(order *ordermodel.SignedOrder, orderType OrderType) ([]byte, error) {
	c.mu.RLock()
	creds := c.creds
	c.mu.RUnlock()

	owner := ""
	if creds != nil {
		owner = creds.Key
	}

	payload := signedOrderPayload{
		Owner:     owner,
		OrderType: orderType,
		Order: orderJSON{
			Salt:          order.Salt.Int64(),
			Maker:         order.Maker.Hex(),
			Signer:        order.Signer.Hex(),
			Taker:         order.Taker.Hex(),
			TokenID:       order.TokenId.String(),
			MakerAmount:   order.MakerAmount.String(),
			TakerAmount:   order.TakerAmount.String(),
			Expiration:    order.Expiration.String(),
			Nonce:         order.Nonce.String(),
			FeeRateBps:    order.FeeRateBps.String(),
			Side:          sideToString(order.Side),
			SignatureType: int(order.SignatureType.Int64()),
			Signature:     "0x" + fmt.Sprintf("%x", order.Signature),
		},
	}
	return json.Marshal(payload)
}

func sideToString(v *big.Int) Side {
	if v == nil {
		return SideBuy
	}
	if v.Int64() == int64(ordermodel.SELL) {
		return SideSell
	}
	return SideBuy
}
