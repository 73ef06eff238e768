package elexon

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/time/rate"

	"battery-tracker/pkg/timeseries"
)

const (
	DefaultBaseURL         = "https://data.elexon.co.uk/bmrs/api/v1"
	defaultHTTPTimeout     = 30 * time.Second
	systemPricesPath       = "/balancing/settlement/system-prices/{date}"
	marketIndexPath        = "/datasets/MID"
	physicalNotifyPath     = "/balancing/physical"
	settlementDatePathSlot = "{date}"
)

// Endpoints locates each dataset on the upstream API. Paths are joined to
// BaseURL; SystemPrices must contain the {date} placeholder.
type Endpoints struct {
	BaseURL      string
	SystemPrices string
	MarketIndex  string
	Physical     string
}

// DefaultEndpoints returns the public BMRS endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		BaseURL:      DefaultBaseURL,
		SystemPrices: systemPricesPath,
		MarketIndex:  marketIndexPath,
		Physical:     physicalNotifyPath,
	}
}

func (e Endpoints) withDefaults() Endpoints {
	def := DefaultEndpoints()
	if strings.TrimSpace(e.BaseURL) == "" {
		e.BaseURL = def.BaseURL
	}
	if strings.TrimSpace(e.SystemPrices) == "" {
		e.SystemPrices = def.SystemPrices
	}
	if strings.TrimSpace(e.MarketIndex) == "" {
		e.MarketIndex = def.MarketIndex
	}
	if strings.TrimSpace(e.Physical) == "" {
		e.Physical = def.Physical
	}
	return e
}

func (e Endpoints) url(path string) string {
	return strings.TrimRight(e.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Client fetches BMRS datasets with validation and retries.
type Client struct {
	endpoints     Endpoints
	fetcher       Fetcher
	httpClient    *http.Client
	policy        RetryPolicy
	sleep         Sleeper
	timeout       time.Duration
	limiter       *rate.Limiter
	allowBareList bool
}

// Option configures a new Client.
type Option func(*Client)

// WithFetcher replaces the HTTP primitive.
func WithFetcher(f Fetcher) Option {
	return func(c *Client) {
		if f != nil {
			c.fetcher = f
		}
	}
}

// WithHTTPClient injects a custom http.Client into the default fetcher.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithEndpoints overrides the endpoint set; empty fields keep defaults.
func WithEndpoints(e Endpoints) Option {
	return func(c *Client) {
		c.endpoints = e.withDefaults()
	}
}

// WithBaseURL overrides only the base URL.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.endpoints.BaseURL = base
		}
	}
}

// WithRetryPolicy replaces the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithMaxAttempts adjusts the retry budget.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.policy.MaxAttempts = n
		}
	}
}

// WithSleeper replaces the backoff sleep, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleep = s
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit caps the request rate. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithAllowBareList accepts payloads that are a bare list of records.
func WithAllowBareList(allow bool) Option {
	return func(c *Client) {
		c.allowBareList = allow
	}
}

// NewClient constructs a BMRS client.
func NewClient(opts ...Option) *Client {
	client := &Client{
		endpoints: DefaultEndpoints(),
		policy:    DefaultRetryPolicy(),
		sleep:     SleepContext,
		timeout:   defaultHTTPTimeout,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.fetcher == nil {
		client.fetcher = NewRestyFetcher(client.httpClient)
	}
	return client
}

// Endpoints returns the resolved endpoint set.
func (c *Client) Endpoints() Endpoints { return c.endpoints }

// Get fetches path with params and returns the validated records.
func (c *Client) Get(ctx context.Context, path string, params url.Values) ([]timeseries.RawRecord, error) {
	target := c.endpoints.url(path)
	attempts := c.policy.attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		records, err := c.do(ctx, target, params)
		if err == nil {
			return records, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !c.policy.Retryable(err) {
			return nil, err
		}
		lastErr = err
		logx.WithContext(ctx).Errorf("elexon: attempt %d/%d failed: %v", attempt, attempts, err)
		if attempt == attempts {
			break
		}
		if err := c.sleep(ctx, c.policy.Delay(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, &UpstreamUnavailableError{URL: target, Attempts: attempts, Err: lastErr}
}

func (c *Client) do(ctx context.Context, target string, params url.Values) ([]timeseries.RawRecord, error) {
	resp, err := c.fetcher.Get(ctx, target, params, c.timeout)
	if err != nil {
		return nil, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, &StatusError{URL: target, Status: resp.Status, Body: truncateBody(resp.Body)}
	}
	return decodeRecords(target, resp.Body, c.allowBareList)
}

// SystemPricesForDate fetches SBP/SSP for every settlement period of date.
func (c *Client) SystemPricesForDate(ctx context.Context, date time.Time) ([]timeseries.RawRecord, error) {
	day := date.UTC().Format(time.DateOnly)
	path := strings.ReplaceAll(c.endpoints.SystemPrices, settlementDatePathSlot, day)
	records, err := c.Get(ctx, path, url.Values{"format": {"json"}})
	if err != nil {
		return nil, fmt.Errorf("elexon: system prices %s: %w", day, err)
	}
	return records, nil
}

// MarketIndex fetches MID records in window, optionally for one provider.
func (c *Client) MarketIndex(ctx context.Context, window timeseries.Window, provider string) ([]timeseries.RawRecord, error) {
	params := windowParams(window)
	if p := strings.TrimSpace(provider); p != "" {
		params.Set("dataProvider", p)
	}
	records, err := c.Get(ctx, c.endpoints.MarketIndex, params)
	if err != nil {
		return nil, fmt.Errorf("elexon: market index %s: %w", window, err)
	}
	return records, nil
}

// PhysicalNotifications fetches physical data for one BM unit in window.
func (c *Client) PhysicalNotifications(ctx context.Context, window timeseries.Window, bmUnit string) ([]timeseries.RawRecord, error) {
	unit := strings.TrimSpace(bmUnit)
	if unit == "" {
		return nil, fmt.Errorf("elexon: physical notifications: bm unit is required")
	}
	params := windowParams(window)
	params.Set("bmUnit", unit)
	records, err := c.Get(ctx, c.endpoints.Physical, params)
	if err != nil {
		return nil, fmt.Errorf("elexon: physical notifications %s %s: %w", unit, window, err)
	}
	return records, nil
}

func windowParams(w timeseries.Window) url.Values {
	return url.Values{
		"from": {timeseries.FormatUTC(w.Start)},
		"to":   {timeseries.FormatUTC(w.End)},
	}
}
