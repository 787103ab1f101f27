package store

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Gateway struct {
		BaseURL           string `yaml:"base_url"`
		InsecureTLS       bool   `yaml:"insecure_tls"`
		UserAgent         string `yaml:"user_agent"`
		PoolSize          int    `yaml:"pool_size"`
		TimeoutSeconds    int    `yaml:"timeout_seconds"`
		CacheTTLSeconds   int    `yaml:"cache_ttl_seconds"`
		CacheSize         int    `yaml:"cache_size"`
		MaxConfirmReplies int    `yaml:"max_confirm_replies"`
	} `yaml:"gateway"`
	MarketData struct {
		WSURL                    string            `yaml:"ws_url"`
		Fields                   []string          `yaml:"fields"`
		ReconnectDelaySeconds    int               `yaml:"reconnect_delay_seconds"`
		HeartbeatIntervalSeconds int               `yaml:"heartbeat_interval_seconds"`
		SubscriberQueueSize      int               `yaml:"subscriber_queue_size"`
		AutoConnect              bool              `yaml:"auto_connect"`
		Symbols                  map[string]int64  `yaml:"symbols"`
		Cookie                   string            `yaml:"cookie"`
		Headers                  map[string]string `yaml:"headers"`
	} `yaml:"market_data"`
	Server struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		CORSMaxAge     int      `yaml:"cors_max_age"`
	} `yaml:"server"`
	RPC struct {
		Workers          int `yaml:"workers"`
		SessionQueueSize int `yaml:"session_queue_size"`
		CallTimeoutSecs  int `yaml:"call_timeout_seconds"`
	} `yaml:"rpc"`
	Trades struct {
		ProposalTTLSeconds int `yaml:"proposal_ttl_seconds"`
	} `yaml:"trades"`
	LLM struct {
		Provider    string  `yaml:"provider"`
		BaseURL     string  `yaml:"base_url"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float32 `yaml:"temperature"`
		System      string  `yaml:"system"`
	} `yaml:"llm"`
	News struct {
		Disabled       bool              `yaml:"disabled"`
		Feeds          map[string]string `yaml:"feeds"`
		DefaultFeed    string            `yaml:"default_feed"`
		CacheMinutes   int               `yaml:"cache_minutes"`
		TimeoutSeconds int               `yaml:"timeout_seconds"`
		MaxItems       int               `yaml:"max_items"`
	} `yaml:"news"`
}

func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.Gateway.BaseURL); err != nil {
		return fmt.Errorf("invalid gateway.base_url '%s': %w", c.Gateway.BaseURL, err)
	}
	u, err := url.Parse(c.MarketData.WSURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("invalid market_data.ws_url '%s': must be ws:// or wss://", c.MarketData.WSURL)
	}
	if c.Gateway.MaxConfirmReplies < 1 {
		return fmt.Errorf("gateway.max_confirm_replies must be at least 1, got %d", c.Gateway.MaxConfirmReplies)
	}
	if c.MarketData.SubscriberQueueSize < 1 {
		return errors.New("market_data.subscriber_queue_size must be positive")
	}
	if c.RPC.Workers < 1 {
		return errors.New("rpc.workers must be positive")
	}
	switch strings.ToUpper(c.LLM.Provider) {
	case "", "NONE", "OPENAI", "GEMINI", "LOCAL":
	default:
		return fmt.Errorf("llm.provider must be 'OPENAI', 'GEMINI', 'LOCAL' or 'NONE', got '%s'", c.LLM.Provider)
	}
	return nil
}

// Default returns a configuration for a gateway on localhost:5000.
func Default() *Config {
	var c Config
	applyDefaults(&c)
	return &c
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	applyEnv(&c)
	applyDefaults(&c)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	c, err := LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		c = &Config{}
		applyEnv(c)
		applyDefaults(c)
		return c, c.Validate()
	}
	return c, err
}

func applyDefaults(c *Config) {
	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = "https://localhost:5000"
	}
	c.Gateway.BaseURL = strings.TrimRight(c.Gateway.BaseURL, "/")
	if c.Gateway.UserAgent == "" {
		c.Gateway.UserAgent = "FDC3-Copilot/1.0"
	}
	if c.Gateway.PoolSize == 0 {
		c.Gateway.PoolSize = 5
	}
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = 20
	}
	if c.Gateway.CacheTTLSeconds == 0 {
		c.Gateway.CacheTTLSeconds = 30
	}
	if c.Gateway.CacheSize == 0 {
		c.Gateway.CacheSize = 256
	}
	if c.Gateway.MaxConfirmReplies == 0 {
		c.Gateway.MaxConfirmReplies = 3
	}
	// The gateway ships a self-signed certificate.
	if strings.HasPrefix(c.Gateway.BaseURL, "https://localhost") {
		c.Gateway.InsecureTLS = true
	}

	if c.MarketData.WSURL == "" {
		c.MarketData.WSURL = strings.Replace(c.Gateway.BaseURL, "http", "ws", 1) + "/v1/api/ws"
	}
	if len(c.MarketData.Fields) == 0 {
		c.MarketData.Fields = []string{"31", "84", "86", "82"}
	}
	if c.MarketData.ReconnectDelaySeconds == 0 {
		c.MarketData.ReconnectDelaySeconds = 5
	}
	if c.MarketData.HeartbeatIntervalSeconds == 0 {
		c.MarketData.HeartbeatIntervalSeconds = 10
	}
	if c.MarketData.SubscriberQueueSize == 0 {
		c.MarketData.SubscriberQueueSize = 100
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}

	if c.RPC.Workers == 0 {
		c.RPC.Workers = 8
	}
	if c.RPC.SessionQueueSize == 0 {
		c.RPC.SessionQueueSize = 64
	}
	if c.RPC.CallTimeoutSecs == 0 {
		c.RPC.CallTimeoutSecs = 120
	}

	if c.Trades.ProposalTTLSeconds == 0 {
		c.Trades.ProposalTTLSeconds = 300
	}

	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.System == "" {
		c.LLM.System = "You are a trading desk analyst. Answer concisely using only the supplied context."
	}

	if len(c.News.Feeds) == 0 {
		c.News.Feeds = map[string]string{
			"reuters":     "https://www.reutersagency.com/feed/?taxonomy=best-topics&post_type=best",
			"cnbc":        "https://search.cnbc.com/rs/search/combinedcms/view.xml?partnerId=wrss01&id=100003114",
			"marketwatch": "http://feeds.marketwatch.com/marketwatch/topstories/",
			"ft":          "https://www.ft.com/?format=rss",
		}
	}
	if c.News.DefaultFeed == "" {
		c.News.DefaultFeed = "cnbc"
	}
	if c.News.CacheMinutes == 0 {
		c.News.CacheMinutes = 5
	}
	if c.News.TimeoutSeconds == 0 {
		c.News.TimeoutSeconds = 15
	}
	if c.News.MaxItems == 0 {
		c.News.MaxItems = 20
	}
}

func applyEnv(c *Config) {
	if v := os.Getenv("IBKR_GATEWAY_URL"); v != "" {
		c.Gateway.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("IBKR_WS_URL"); v != "" {
		c.MarketData.WSURL = v
	}
	if v := os.Getenv("IBKR_COOKIE"); v != "" {
		c.MarketData.Cookie = v
	}
	if v := os.Getenv("COPILOT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Gateway.CacheTTLSeconds) * time.Second
}

// ProposalTTL is zero (no expiry) when proposal_ttl_seconds is negative.
func (c *Config) ProposalTTL() time.Duration {
	if c.Trades.ProposalTTLSeconds < 0 {
		return 0
	}
	return time.Duration(c.Trades.ProposalTTLSeconds) * time.Second
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.MarketData.ReconnectDelaySeconds) * time.Second
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.MarketData.HeartbeatIntervalSeconds) * time.Second
}
