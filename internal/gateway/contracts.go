package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"ibkr-copilot/internal/api"
	"ibkr-copilot/internal/types"
)

// SearchContract runs a live secdef search. The gateway answers with either a
// bare array or an object holding "contracts"; both come back as a slice.
func (c *Client) SearchContract(ctx context.Context, symbol string) ([]map[string]any, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, invalid("symbol", "is required")
	}

	req := api.NewRequest("GET", "/v1/api/iserver/secdef/search").
		WithContext(ctx).
		WithTimeout(searchTimeout).
		WithQuery("symbol", symbol)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search contract %s: %w", symbol, err)
	}
	return decodeContracts(resp.Body)
}

func decodeContracts(body []byte) ([]map[string]any, error) {
	var list []map[string]any
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Contracts []map[string]any `json:"contracts"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse contract search: %w", err)
	}
	return wrapped.Contracts, nil
}

// SearchContracts is SearchContract reduced to the fields agents care about.
func (c *Client) SearchContracts(ctx context.Context, symbol string) ([]types.Contract, error) {
	raw, err := c.SearchContract(ctx, symbol)
	if err != nil {
		return nil, err
	}
	out := make([]types.Contract, 0, len(raw))
	for _, item := range raw {
		out = append(out, types.Contract{
			Symbol:     stringField(item, symbol, "symbol"),
			Name:       stringField(item, "", "companyName", "description"),
			Conid:      conidString(item["conid"]),
			AssetClass: stringField(item, "STK", "assetClass", "secType"),
		})
	}
	return out, nil
}

type resolvedContract struct {
	Conid    int64
	SecType  string
	Exchange string
}

// resolveContract picks the contract an order for symbol should target. Pair
// symbols ("EUR/USD", "USD JPY") are searched again in dotted form and CASH
// contracts win, including CASH sections nested under a parent contract.
func (c *Client) resolveContract(ctx context.Context, symbol string) (resolvedContract, error) {
	contracts, err := c.SearchContract(ctx, symbol)
	if err != nil {
		return resolvedContract{}, err
	}
	if len(contracts) == 0 {
		return resolvedContract{}, invalid("symbol", "contract not found for symbol: %s", symbol)
	}

	if strings.ContainsAny(symbol, "/ ") {
		alt := strings.NewReplacer("/", ".", " ", ".").Replace(symbol)
		contracts, err = c.SearchContract(ctx, alt)
		if err != nil {
			return resolvedContract{}, err
		}
		if fx := cashContracts(contracts); len(fx) > 0 {
			contracts = fx
		}
	}
	if len(contracts) == 0 {
		return resolvedContract{}, invalid("symbol", "no valid contracts found for symbol: %s", symbol)
	}

	first := contracts[0]
	rawConid, ok := first["conid"]
	if !ok || rawConid == nil || rawConid == "" {
		return resolvedContract{}, invalid("conid", "could not resolve contract ID")
	}
	conid, err := toConid(rawConid)
	if err != nil {
		return resolvedContract{}, invalid("conid", "invalid conid format: %v", rawConid)
	}

	return resolvedContract{
		Conid:    conid,
		SecType:  stringField(first, "STK", "secType"),
		Exchange: stringField(first, "SMART", "exchange"),
	}, nil
}

func cashContracts(contracts []map[string]any) []map[string]any {
	var fx []map[string]any
	for _, c := range contracts {
		if c["secType"] == "CASH" {
			fx = append(fx, c)
			continue
		}
		sections, _ := c["sections"].([]any)
		for _, s := range sections {
			section, ok := s.(map[string]any)
			if !ok || section["secType"] != "CASH" {
				continue
			}
			lifted := make(map[string]any, len(c))
			for k, v := range c {
				lifted[k] = v
			}
			if id, ok := section["conid"]; ok && id != nil && id != "" {
				lifted["conid"] = id
			}
			lifted["secType"] = "CASH"
			fx = append(fx, lifted)
			break
		}
	}
	return fx
}

func toConid(v any) (int64, error) {
	switch id := v.(type) {
	case float64:
		if id != math.Trunc(id) {
			return 0, fmt.Errorf("non-integral conid %v", id)
		}
		return int64(id), nil
	case json.Number:
		return id.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	case int64:
		return id, nil
	case int:
		return int64(id), nil
	default:
		return 0, fmt.Errorf("unsupported conid type %T", v)
	}
}

func conidString(v any) string {
	if v == nil {
		return ""
	}
	if id, err := toConid(v); err == nil {
		return strconv.FormatInt(id, 10)
	}
	return fmt.Sprint(v)
}

// stringField returns the first non-empty string among keys, or def.
func stringField(m map[string]any, def string, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return def
}
