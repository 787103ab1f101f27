package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"strings"

	"ibkr-copilot/internal/logger"
	"ibkr-copilot/internal/types"
)

var orderTypeAliases = map[string]string{
	"LIMIT":  "LMT",
	"MARKET": "MKT",
	"STOP":   "STP",
}

func normalizeOrderType(orderType string) string {
	t := strings.ToUpper(strings.TrimSpace(orderType))
	if t == "" {
		return "MKT"
	}
	if alias, ok := orderTypeAliases[t]; ok {
		return alias
	}
	return t
}

func defaultClientOrderID() string {
	return fmt.Sprintf("Exp-%d", 1000+rand.Intn(9000))
}

func needsLimitPrice(orderType string) bool {
	return orderType == "LMT" || orderType == "STOP_LIMIT" || orderType == "TRAILLMT"
}

func needsAuxPrice(orderType string) bool {
	return orderType == "STP" || orderType == "STOP_LIMIT" || orderType == "TRAILLMT"
}

func needsTrailing(orderType string) bool {
	return orderType == "TRAIL" || orderType == "TRAILLMT"
}

// applyPriceFields adds the price fields orderType requires, and the optional
// flags, to order.
func applyPriceFields(order map[string]any, orderType string, req types.OrderRequest) error {
	if needsLimitPrice(orderType) {
		if req.LimitPrice == nil {
			return invalid("limit_price", "limit price required for %s orders", orderType)
		}
		order["price"] = *req.LimitPrice
	}
	if needsAuxPrice(orderType) {
		if req.AuxPrice == nil {
			return invalid("aux_price", "stop price (aux_price) required for %s orders", orderType)
		}
		order["auxPrice"] = *req.AuxPrice
	}
	if needsTrailing(orderType) {
		if req.TrailingAmt == nil || req.TrailingType == "" {
			return invalid("trailing_amt", "trailing amount and type required for %s orders", orderType)
		}
		tt := strings.ToLower(req.TrailingType)
		if tt != "amt" && tt != "pct" {
			return invalid("trailing_type", "must be 'amt' or 'pct', got '%s'", req.TrailingType)
		}
		order["trailingAmt"] = *req.TrailingAmt
		order["trailingType"] = tt
	}
	if req.AllOrNone != nil {
		order["allOrNone"] = *req.AllOrNone
	}
	if req.OutsideRTH != nil {
		order["outsideRTH"] = *req.OutsideRTH
	}
	return nil
}

func validateOrder(req types.OrderRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return invalid("symbol", "is required")
	}
	side := strings.ToUpper(req.Side)
	if side != "BUY" && side != "SELL" {
		return invalid("side", "must be BUY or SELL, got '%s'", req.Side)
	}
	if req.Quantity <= 0 {
		return invalid("quantity", "must be positive")
	}
	if req.Quantity != math.Trunc(req.Quantity) {
		return invalid("quantity", "must be a whole number, got %v", req.Quantity)
	}
	return nil
}

// ValidateOrder checks req the way PlaceOrder does, without contacting the
// gateway.
func ValidateOrder(req types.OrderRequest) error {
	if err := validateOrder(req); err != nil {
		return err
	}
	return applyPriceFields(map[string]any{}, normalizeOrderType(req.OrderType), req)
}

// PlaceOrder resolves the account and contract, submits the order and answers
// up to maxConfirmReplies confirmation prompts.
func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	if err := validateOrder(req); err != nil {
		return nil, err
	}
	account, err := c.resolveAccount(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	contract, err := c.resolveContract(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	orderType := normalizeOrderType(req.OrderType)
	exchange := contract.Exchange
	if contract.SecType == "CASH" && exchange == "SMART" {
		exchange = "IDEALPRO"
	}

	order := map[string]any{
		"conid":           contract.Conid,
		"secType":         contract.SecType,
		"orderType":       orderType,
		"side":            strings.ToUpper(req.Side),
		"quantity":        req.Quantity,
		"tif":             "DAY",
		"cOID":            c.newClientOrderID(),
		"listingExchange": exchange,
		"totalQuantity":   int64(req.Quantity),
	}
	if err := applyPriceFields(order, orderType, req); err != nil {
		return nil, err
	}

	resp, err := c.http.POST(ctx, "/v1/api/iserver/account/"+url.PathEscape(account)+"/orders",
		map[string]any{"orders": []any{order}}, orderTimeout)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	result, err := unwrapOrderReply(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	result, err = c.confirm(ctx, result)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	c.cache.InvalidateAfterMutation()
	logger.Order(ctx, req.Symbol, strings.ToUpper(req.Side), req.Quantity, orderType, orderIDOf(result),
		"account", account, "conid", contract.Conid, "exchange", exchange)
	return result, nil
}

// confirm answers the gateway's yes/no prompts. A reply carrying both "id" and
// "messageIds" is a question; anything else is final.
func (c *Client) confirm(ctx context.Context, result types.OrderResult) (types.OrderResult, error) {
	for attempt := 0; isPrompt(result); attempt++ {
		replyID := fmt.Sprint(result["id"])
		if attempt >= c.maxConfirmReplies {
			return nil, &ConfirmationError{ReplyID: replyID, Attempts: attempt, Messages: promptMessages(result)}
		}

		logger.Info(ctx, "Confirming order prompt", "reply_id", replyID, "messages", promptMessages(result))
		resp, err := c.http.POST(ctx, "/v1/api/iserver/reply/"+url.PathEscape(replyID),
			map[string]any{"confirmed": true}, orderTimeout)
		if err != nil {
			return nil, fmt.Errorf("confirmation failed: %w", err)
		}
		if result, err = unwrapOrderReply(resp.Body); err != nil {
			return nil, fmt.Errorf("confirmation failed: %w", err)
		}
	}
	return result, nil
}

func isPrompt(r types.OrderResult) bool {
	_, hasID := r["id"]
	_, hasMessages := r["messageIds"]
	return hasID && hasMessages
}

func promptMessages(r types.OrderResult) []string {
	raw, _ := r["message"].([]any)
	out := make([]string, 0, len(raw))
	for _, m := range raw {
		out = append(out, fmt.Sprint(m))
	}
	return out
}

func orderIDOf(r types.OrderResult) string {
	for _, k := range []string{"order_id", "orderId", "id"} {
		if v, ok := r[k]; ok {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// unwrapOrderReply decodes an order reply, unwrapping a one-element array.
func unwrapOrderReply(body []byte) (types.OrderResult, error) {
	var list []types.OrderResult
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) == 0 {
			return types.OrderResult{}, nil
		}
		return list[0], nil
	}
	var single types.OrderResult
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("failed to parse order reply: %w", err)
	}
	return single, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID, account string) (json.RawMessage, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, invalid("order_id", "is required")
	}
	acct, err := c.resolveAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}

	resp, err := c.http.DELETE(ctx, "/v1/api/iserver/account/"+url.PathEscape(acct)+"/order/"+url.PathEscape(orderID), orderTimeout)
	if err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	c.cache.Invalidate(keyOrders)
	logger.Info(ctx, "Order cancelled", "order_id", orderID, "account", acct)
	return json.RawMessage(resp.Body), nil
}

// ModifyOrder replaces an open order. The contract is looked up again from the
// symbol; conids never change so this cannot target a different instrument.
func (c *Client) ModifyOrder(ctx context.Context, orderID string, req types.OrderRequest) (json.RawMessage, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, invalid("order_id", "is required")
	}
	if err := validateOrder(req); err != nil {
		return nil, err
	}
	acct, err := c.resolveAccount(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("modify order: %w", err)
	}
	contract, err := c.resolveContract(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("modify order: %w", err)
	}

	orderType := normalizeOrderType(req.OrderType)
	order := map[string]any{
		"conid":     contract.Conid,
		"secType":   contract.SecType,
		"orderType": orderType,
		"side":      strings.ToUpper(req.Side),
		"quantity":  req.Quantity,
		"tif":       "DAY",
	}
	if err := applyPriceFields(order, orderType, req); err != nil {
		return nil, err
	}

	resp, err := c.http.POST(ctx, "/v1/api/iserver/account/"+url.PathEscape(acct)+"/order/"+url.PathEscape(orderID), order, modifyTimeout)
	if err != nil {
		return nil, fmt.Errorf("modify order %s: %w", orderID, err)
	}

	c.cache.Invalidate(keyOrders)
	logger.Info(ctx, "Order modified", "order_id", orderID, "account", acct, "order_type", orderType)
	return json.RawMessage(resp.Body), nil
}
