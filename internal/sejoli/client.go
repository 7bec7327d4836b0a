package sejoli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"sejoli-sync/internal/cache"
	"sejoli-sync/internal/metrics"
)

const productCacheKey = "sejoli:products"

// Client provides read access to the Sejoli wp-json API.
type Client struct {
	logger     *slog.Logger
	baseURL    string
	username   string
	password   string
	pageSize   int
	pageDelay  time.Duration
	maxPages   int
	http       *http.Client
	metrics    *metrics.Metrics
	cache      *cache.Redis
	productTTL time.Duration
}

// Config holds Sejoli client configuration.
type Config struct {
	BaseURL    string
	Username   string
	Password   string
	Timeout    time.Duration
	PageSize   int
	PageDelay  time.Duration
	MaxPages   int
	ProductTTL time.Duration
}

// New creates a Sejoli API client. The redis cache is optional and may be
// nil.
func New(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics, redis *cache.Redis) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	pageDelay := cfg.PageDelay
	if pageDelay <= 0 {
		pageDelay = 300 * time.Millisecond
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 200
	}
	productTTL := cfg.ProductTTL
	if productTTL <= 0 {
		productTTL = 5 * time.Minute
	}
	return &Client{
		logger:     logger.With("component", "sejoli"),
		baseURL:    cfg.BaseURL,
		username:   cfg.Username,
		password:   cfg.Password,
		pageSize:   pageSize,
		pageDelay:  pageDelay,
		maxPages:   maxPages,
		http:       &http.Client{Timeout: timeout},
		metrics:    metricRegistry,
		cache:      redis,
		productTTL: productTTL,
	}
}

// Products retrieves the product catalog. The endpoint returns the complete
// catalog in a single call; the result is cached in Redis when a cache is
// configured.
func (c *Client) Products(ctx context.Context, forceRefresh bool) ([]Product, error) {
	if c.cache != nil && !forceRefresh {
		var cached []Product
		ok, err := c.cache.GetJSON(ctx, productCacheKey, &cached)
		if err != nil {
			c.logger.Warn("read product cache failed", "error", err)
		} else if ok {
			return cached, nil
		}
	}

	var products []Product
	if err := c.get(ctx, "/products", nil, &products); err != nil {
		return nil, fmt.Errorf("fetch products: %w", err)
	}

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, productCacheKey, products, c.productTTL); err != nil {
			c.logger.Warn("set product cache failed", "error", err)
		}
	}
	return products, nil
}

// salesEnvelope accepts both response shapes of the sales endpoint: the
// paginated variant wraps orders in "data", the non-paginated one in
// "orders".
type salesEnvelope struct {
	Data   []Order `json:"data"`
	Orders []Order `json:"orders"`
}

func (e salesEnvelope) orders() []Order {
	if len(e.Orders) > 0 {
		return e.Orders
	}
	return e.Data
}

// SalesPage fetches a single page of sales.
func (c *Client) SalesPage(ctx context.Context, page int) ([]Order, error) {
	params := url.Values{}
	params.Set("per_page", strconv.Itoa(c.pageSize))
	params.Set("page", strconv.Itoa(page))

	var env salesEnvelope
	if err := c.get(ctx, "/sales", params, &env); err != nil {
		return nil, fmt.Errorf("fetch sales page %d: %w", page, err)
	}
	return env.orders(), nil
}

// AllSales walks the paginated sales endpoint starting at page 1, pausing
// between pages to avoid rate limiting at the source. Pagination stops on
// a short or empty page. A page failure is treated as end of data: the
// partial result is returned with truncated=true and the caller decides
// whether the run is still useful. Re-running is always safe because the
// downstream ledger writes are idempotent.
func (c *Client) AllSales(ctx context.Context) (orders []Order, truncated bool) {
	for page := 1; page <= c.maxPages; page++ {
		batch, err := c.SalesPage(ctx, page)
		if err != nil {
			c.logger.Error("sales pagination aborted, treating as end of data",
				"page", page, "orders_so_far", len(orders), "error", err)
			if c.metrics != nil {
				c.metrics.Errors.WithLabelValues("sejoli").Inc()
			}
			return orders, true
		}
		if len(batch) == 0 {
			break
		}

		orders = append(orders, batch...)
		if c.metrics != nil {
			c.metrics.OrdersFetched.Add(float64(len(batch)))
		}
		c.logger.Debug("fetched sales page", "page", page, "count", len(batch), "total", len(orders))

		if len(batch) < c.pageSize {
			break
		}
		if page == c.maxPages {
			c.logger.Warn("reached sales page limit", "limit", c.maxPages)
			break
		}

		select {
		case <-ctx.Done():
			c.logger.Warn("sales pagination cancelled", "page", page)
			return orders, true
		case <-time.After(c.pageDelay):
		}
	}
	return orders, false
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, dest any) error {
	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "sejoli-sync/client")
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.SejoliRequests.WithLabelValues(endpoint, "error").Inc()
		}
		return fmt.Errorf("sejoli request: %w", err)
	}
	defer res.Body.Close()

	statusLabel := strconv.Itoa(res.StatusCode)
	if c.metrics != nil {
		c.metrics.SejoliRequests.WithLabelValues(endpoint, statusLabel).Inc()
		c.metrics.SejoliLatency.WithLabelValues(endpoint, statusLabel).Observe(time.Since(start).Seconds())
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode >= 400 {
		return fmt.Errorf("sejoli %s error: status=%d body=%s", endpoint, res.StatusCode, truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
