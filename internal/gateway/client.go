package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ibkr-copilot/internal/api"
	"ibkr-copilot/internal/logger"
	"ibkr-copilot/internal/store"
	"ibkr-copilot/internal/types"
)

const (
	availabilityTimeout = 5 * time.Second
	lookupTimeout       = 10 * time.Second
	searchTimeout       = 15 * time.Second
	portfolioTimeout    = 20 * time.Second
	modifyTimeout       = 15 * time.Second
	orderTimeout        = 30 * time.Second
)

// Client talks to the Client Portal Gateway REST surface. It is safe for
// concurrent use.
type Client struct {
	http              *api.Client
	cache             *Cache
	maxConfirmReplies int
	newClientOrderID  func() string
}

type Option func(*Client)

func WithCache(cache *Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithMaxConfirmReplies caps how many confirmation prompts are answered per order.
func WithMaxConfirmReplies(n int) Option {
	return func(c *Client) {
		c.maxConfirmReplies = n
	}
}

func WithClientOrderID(fn func() string) Option {
	return func(c *Client) {
		c.newClientOrderID = fn
	}
}

func New(httpClient *api.Client, opts ...Option) *Client {
	c := &Client{
		http:              httpClient,
		cache:             NewCache(256, 30*time.Second),
		maxConfirmReplies: 3,
		newClientOrderID:  defaultClientOrderID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig builds the HTTP transport and client from configuration.
func NewFromConfig(cfg *store.Config) *Client {
	httpClient := api.NewClient(
		api.WithBaseURL(cfg.Gateway.BaseURL),
		api.WithUserAgent(cfg.Gateway.UserAgent),
		api.WithInsecureTLS(cfg.Gateway.InsecureTLS),
		api.WithPoolSize(cfg.Gateway.PoolSize),
		api.WithTimeout(time.Duration(cfg.Gateway.TimeoutSeconds)*time.Second),
		api.WithLogging(true),
	)
	return New(httpClient,
		WithCache(NewCache(cfg.Gateway.CacheSize, cfg.CacheTTL())),
		WithMaxConfirmReplies(cfg.Gateway.MaxConfirmReplies),
	)
}

// Cache exposes the response cache, mainly for tests and diagnostics.
func (c *Client) Cache() *Cache {
	return c.cache
}

// IsAvailable reports whether the gateway is reachable and authenticated.
// It never returns an error; failures are logged and reported as false.
func (c *Client) IsAvailable(ctx context.Context) bool {
	resp, err := c.http.GET(ctx, "/v1/api/iserver/auth/status", availabilityTimeout)
	if err != nil {
		logger.Warn(ctx, "Gateway not available", "error", err)
		return false
	}
	var status types.AuthStatus
	if err := resp.ParseJSON(&status); err != nil {
		logger.Warn(ctx, "Gateway auth status unreadable", "error", err)
		return false
	}
	if !status.Authenticated {
		logger.Warn(ctx, "Gateway reachable but not authenticated")
		return false
	}
	return true
}

func (c *Client) AuthStatus(ctx context.Context) (types.AuthStatus, error) {
	var status types.AuthStatus
	resp, err := c.http.POST(ctx, "/v1/api/iserver/auth/status", map[string]any{}, lookupTimeout)
	if err != nil {
		return status, fmt.Errorf("auth status: %w", err)
	}
	if err := resp.ParseJSON(&status); err != nil {
		return status, fmt.Errorf("auth status: %w", err)
	}
	return status, nil
}

func (c *Client) GetAccounts(ctx context.Context) ([]string, error) {
	if v, ok := c.cache.Get(keyAccounts); ok {
		return v.([]string), nil
	}

	resp, err := c.http.GET(ctx, "/v1/api/portfolio/accounts", lookupTimeout)
	if err != nil {
		return nil, fmt.Errorf("get accounts: %w", err)
	}
	var raw []json.RawMessage
	if err := resp.ParseJSON(&raw); err != nil {
		return nil, fmt.Errorf("get accounts: %w", err)
	}

	accounts := make([]string, 0, len(raw))
	for _, item := range raw {
		var acct struct {
			ID        string `json:"id"`
			AccountID string `json:"accountId"`
		}
		var id string
		if err := json.Unmarshal(item, &acct); err == nil {
			id = acct.ID
			if id == "" {
				id = acct.AccountID
			}
		} else if err := json.Unmarshal(item, &id); err != nil {
			continue
		}
		if id != "" {
			accounts = append(accounts, id)
		}
	}

	c.cache.Set(keyAccounts, accounts)
	return accounts, nil
}

// resolveAccount returns account, or the first account when it is empty.
func (c *Client) resolveAccount(ctx context.Context, account string) (string, error) {
	if account != "" {
		return account, nil
	}
	accounts, err := c.GetAccounts(ctx)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", ErrNoAccounts
	}
	return accounts[0], nil
}

func (c *Client) GetPositions(ctx context.Context, account string) (types.Positions, error) {
	key := positionsKey(account)
	if v, ok := c.cache.Get(key); ok {
		return v.(types.Positions), nil
	}

	acct, err := c.resolveAccount(ctx, account)
	if err != nil {
		return types.Positions{}, fmt.Errorf("get positions: %w", err)
	}
	resp, err := c.http.GET(ctx, "/v1/api/portfolio/"+url.PathEscape(acct)+"/positions/0", portfolioTimeout)
	if err != nil {
		return types.Positions{}, fmt.Errorf("get positions: %w", err)
	}

	result := types.Positions{AccountID: acct, Positions: json.RawMessage(resp.Body)}
	c.cache.Set(key, result)
	return result, nil
}

func (c *Client) GetAccountSummary(ctx context.Context, account string) (types.AccountSummary, error) {
	key := summaryKey(account)
	if v, ok := c.cache.Get(key); ok {
		return v.(types.AccountSummary), nil
	}

	acct, err := c.resolveAccount(ctx, account)
	if err != nil {
		return types.AccountSummary{}, fmt.Errorf("get account summary: %w", err)
	}
	resp, err := c.http.GET(ctx, "/v1/api/portfolio/"+url.PathEscape(acct)+"/summary", portfolioTimeout)
	if err != nil {
		return types.AccountSummary{}, fmt.Errorf("get account summary: %w", err)
	}

	result := types.AccountSummary{AccountID: acct, Summary: json.RawMessage(resp.Body)}
	c.cache.Set(key, result)
	return result, nil
}

func (c *Client) GetOrders(ctx context.Context) (json.RawMessage, error) {
	if v, ok := c.cache.Get(keyOrders); ok {
		return v.(json.RawMessage), nil
	}

	resp, err := c.http.GET(ctx, "/v1/api/iserver/account/orders", portfolioTimeout)
	if err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}

	orders := json.RawMessage(resp.Body)
	c.cache.Set(keyOrders, orders)
	return orders, nil
}

func (c *Client) ContractInfo(ctx context.Context, conid int64) (json.RawMessage, error) {
	resp, err := c.http.GET(ctx, "/v1/api/iserver/contract/"+strconv.FormatInt(conid, 10)+"/info", lookupTimeout)
	if err != nil {
		return nil, fmt.Errorf("contract info %d: %w", conid, err)
	}
	return json.RawMessage(resp.Body), nil
}

func (c *Client) MarketDataSnapshot(ctx context.Context, conids []int64, fields []string) (json.RawMessage, error) {
	if len(conids) == 0 {
		return nil, invalid("conids", "at least one contract id is required")
	}
	ids := make([]string, len(conids))
	for i, id := range conids {
		ids[i] = strconv.FormatInt(id, 10)
	}

	req := api.NewRequest("GET", "/v1/api/iserver/marketdata/snapshot").
		WithContext(ctx).
		WithTimeout(lookupTimeout).
		WithQuery("conids", strings.Join(ids, ","))
	if len(fields) > 0 {
		req.WithQuery("fields", strings.Join(fields, ","))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("market data snapshot: %w", err)
	}
	return json.RawMessage(resp.Body), nil
}
