package news

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ibkr-copilot/internal/interfaces"
	"ibkr-copilot/internal/logger"
	"ibkr-copilot/internal/store"
	"ibkr-copilot/internal/types"
)

var (
	ErrUnknownFeed = errors.New("unknown news feed")
	ErrDisabled    = errors.New("news feeds are disabled")
)

// Service serves headlines per feed with a short-lived cache
type Service struct {
	scraper *Scraper
	cache   *headlineCache
	cfg     *ServiceConfig
	group   singleflight.Group
}

// Compile-time interface check
var _ interfaces.HeadlineSource = (*Service)(nil)

// ServiceConfig configures the headline service
type ServiceConfig struct {
	Feeds         map[string]string // feed name -> URL
	DefaultFeed   string
	MaxItems      int           // Maximum headlines kept per feed
	CacheDuration time.Duration // How long a fetched feed is served from cache
	Timeout       time.Duration // Timeout for one feed fetch
	Enabled       bool
}

// DefaultServiceConfig returns default configuration
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Feeds: map[string]string{
			"cnbc": "https://search.cnbc.com/rs/search/combinedcms/view.xml?partnerId=wrss01&id=100003114",
		},
		DefaultFeed:   "cnbc",
		MaxItems:      20,
		CacheDuration: 5 * time.Minute,
		Timeout:       15 * time.Second,
		Enabled:       true,
	}
}

// ServiceConfigFromStore maps the application config onto a ServiceConfig
func ServiceConfigFromStore(cfg *store.Config) *ServiceConfig {
	feeds := make(map[string]string, len(cfg.News.Feeds))
	for name, u := range cfg.News.Feeds {
		feeds[strings.ToLower(name)] = u
	}
	return &ServiceConfig{
		Feeds:         feeds,
		DefaultFeed:   strings.ToLower(cfg.News.DefaultFeed),
		MaxItems:      cfg.News.MaxItems,
		CacheDuration: time.Duration(cfg.News.CacheMinutes) * time.Minute,
		Timeout:       time.Duration(cfg.News.TimeoutSeconds) * time.Second,
		Enabled:       !cfg.News.Disabled,
	}
}

// headlineCache stores fetched feeds temporarily
type headlineCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
	ttl  time.Duration
	now  func() time.Time
}

type cacheEntry struct {
	headlines []types.Headline
	fetchedAt time.Time
}

func newHeadlineCache(ttl time.Duration) *headlineCache {
	return &headlineCache{
		data: make(map[string]cacheEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// get retrieves cached headlines if still fresh
func (c *headlineCache) get(feed string) ([]types.Headline, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.data[feed]
	if !exists || c.now().Sub(entry.fetchedAt) >= c.ttl {
		return nil, false
	}
	return entry.headlines, true
}

// set stores headlines and drops any expired entries
func (c *headlineCache) set(feed string, headlines []types.Headline) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for name, entry := range c.data {
		if now.Sub(entry.fetchedAt) >= c.ttl {
			delete(c.data, name)
		}
	}
	c.data[feed] = cacheEntry{headlines: headlines, fetchedAt: now}
}

func (c *headlineCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]cacheEntry)
}

// NewService creates a new headline service
func NewService(cfg *ServiceConfig) *Service {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 20
	}
	return &Service{
		scraper: NewScraper(cfg.Timeout),
		cache:   newHeadlineCache(cfg.CacheDuration),
		cfg:     cfg,
	}
}

// Feeds returns the configured feed names, sorted.
func (s *Service) Feeds() []string {
	names := make([]string, 0, len(s.cfg.Feeds))
	for name := range s.cfg.Feeds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Headlines returns up to limit headlines from feed (the default feed when
// empty). A limit outside 1..MaxItems means MaxItems.
func (s *Service) Headlines(ctx context.Context, feed string, limit int) ([]types.Headline, error) {
	if !s.cfg.Enabled {
		return nil, ErrDisabled
	}

	feed = strings.ToLower(strings.TrimSpace(feed))
	if feed == "" {
		feed = s.cfg.DefaultFeed
	}
	feedURL, ok := s.cfg.Feeds[feed]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownFeed, feed, strings.Join(s.Feeds(), ", "))
	}
	if limit <= 0 || limit > s.cfg.MaxItems {
		limit = s.cfg.MaxItems
	}

	headlines, ok := s.cache.get(feed)
	if ok {
		logger.Debug(ctx, "Using cached headlines", "feed", feed)
	} else {
		v, err, _ := s.group.Do(feed, func() (any, error) {
			logger.Info(ctx, "Fetching fresh headlines", "feed", feed)
			fresh, err := s.scraper.Fetch(ctx, feed, feedURL, s.cfg.MaxItems)
			if err != nil {
				return nil, err
			}
			s.cache.set(feed, fresh)
			return fresh, nil
		})
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to fetch headlines", err, "feed", feed)
			return nil, err
		}
		headlines = v.([]types.Headline)
	}

	if len(headlines) > limit {
		headlines = headlines[:limit]
	}
	out := make([]types.Headline, len(headlines))
	copy(out, headlines)
	return out, nil
}

// ClearCache drops every cached feed
func (s *Service) ClearCache() {
	s.cache.clear()
}
