package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adamdenes/daytrader/internal/logger"
	"github.com/adamdenes/daytrader/internal/metrics"
	"github.com/adamdenes/daytrader/internal/models"
	"github.com/adamdenes/daytrader/internal/storage"
	"golang.org/x/time/rate"
)

const (
	DataEndpoint = "https://data-api.binance.vision/api/v3/"
	klineLimit   = 1000
	maxRetries   = 3
)

var ErrBackOff = errors.New("ErrBackOff")

var httpClient = &http.Client{
	Timeout: 30 * time.Second,
}

func BuildURI(base string, query ...string) string {
	var sb strings.Builder
	sb.WriteString(base)
	for _, q := range query {
		// Check if the query string starts with "symbol="
		if strings.HasPrefix(q, "symbol=") {
			parts := strings.Split(q, "&")
			part := strings.Split(parts[0], "=")
			part[1] = strings.ToUpper(part[1])
			parts[0] = strings.Join(part, "=")
			sb.WriteString(strings.Join(parts, "&"))
		} else {
			sb.WriteString(q)
		}
	}
	return sb.String()
}

/* IP Limits

   - Every request will contain X-MBX-USED-WEIGHT-(intervalNum)(intervalLetter) in the response headers which has the current used weight for the IP for all request rate limiters defined.
   - When a 429 is received, it's your obligation as an API to back off and not spam the API.
   - A Retry-After header is sent with a 418 or 429 responses and will give the number of seconds required to wait.
*/

// Query makes a GET request for the given url. A 429 or 418 answer comes
// back as a *models.RequestError wrapping ErrBackOff with the Retry-After
// duration in Timer. The caller decides whether to wait and retry.
func Query(ctx context.Context, qs string) ([]byte, error) {
	startTime := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, qs, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	metrics.RestRequestDuration.
		WithLabelValues(endpointLabel(qs), strconv.Itoa(resp.StatusCode)).
		Observe(time.Since(startTime).Seconds())

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot {
		logger.Debug.Printf("HTTP Status code: %v, X-Mbx-Used-Weight: %q, Retry-After: %q\n",
			resp.StatusCode,
			resp.Header.Get("X-Mbx-Used-Weight"),
			resp.Header.Get("Retry-After"),
		)
		timer, err := strconv.ParseInt(resp.Header.Get("Retry-After"), 10, 64)
		if err != nil {
			timer = 1
		}
		logger.Error.Printf("%v Retry-After received, backing off for: %ds\n", resp.StatusCode, timer)

		return nil, &models.RequestError{
			Err:    ErrBackOff,
			Timer:  time.Duration(timer) * time.Second,
			Status: resp.StatusCode,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &models.RequestError{
			Err:    fmt.Errorf("HTTP Status: %s, Response Body: %s", resp.Status, body),
			Status: resp.StatusCode,
		}
	}

	return body, nil
}

func endpointLabel(qs string) string {
	u, err := url.Parse(qs)
	if err != nil {
		return "unknown"
	}
	return u.Path
}

// Client reads market data from a Binance compatible REST endpoint.
type Client struct {
	endpoint string
	limiter  *rate.Limiter
}

func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DataEndpoint
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return &Client{
		endpoint: endpoint,
		limiter:  rate.NewLimiter(10, 20), // 10 req/sec, burst 20
	}
}

// query retries after the Retry-After delay when the exchange asks to back off.
func (c *Client) query(ctx context.Context, uri string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := Query(ctx, uri)
		var re *models.RequestError
		if err == nil || !errors.As(err, &re) || !errors.Is(err, ErrBackOff) || attempt >= maxRetries {
			return resp, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(re.Timer):
		}
	}
}

/*
GET /api/v3/klines

	Kline/candlestick bars for a symbol.
	Klines are uniquely identified by their open time.

	symbol 		STRING 	YES
	interval 	ENUM 	YES
	startTime 	LONG 	NO 	Timestamp in ms, INCLUSIVE.
	endTime 	LONG 	NO 	Timestamp in ms, INCLUSIVE.
	limit 		INT 	NO 	Default 500; max 1000.

	If startTime and endTime are not sent, the most recent klines are returned.
*/
func (c *Client) klines(ctx context.Context, q ...string) ([]*models.Candle, error) {
	resp, err := c.query(ctx, BuildURI(c.endpoint+"klines?", q...))
	if err != nil {
		return nil, err
	}
	return ParseKlines(resp)
}

// GetKlines downloads every candle opening in [start, end], paging through
// the 1000 bar request limit. The result is ascending by open time.
func (c *Client) GetKlines(
	ctx context.Context,
	symbol, interval string,
	start, end time.Time,
) ([]*models.Candle, error) {
	var (
		candles []*models.Candle
		from    = start.UnixMilli()
		to      = end.UnixMilli()
	)
	for from <= to {
		page, err := c.klines(ctx,
			fmt.Sprintf("symbol=%s", symbol),
			fmt.Sprintf("&interval=%s", interval),
			fmt.Sprintf("&startTime=%d", from),
			fmt.Sprintf("&endTime=%d", to),
			fmt.Sprintf("&limit=%d", klineLimit),
		)
		if err != nil {
			return nil, fmt.Errorf("error downloading %s %s klines from %d: %w", symbol, interval, from, err)
		}
		if len(page) == 0 {
			break
		}
		candles = append(candles, page...)
		logger.Debug.Printf("Downloaded %d %s %s klines, %d total\n", len(page), symbol, interval, len(candles))

		next := page[len(page)-1].OpenTime.UnixMilli() + 1
		if next <= from || len(page) < klineLimit {
			break
		}
		from = next
	}
	return candles, nil
}

// GetRecentKlines returns the newest limit candles, the last one may still
// be forming.
func (c *Client) GetRecentKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	return c.klines(ctx,
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("&interval=%s", interval),
		fmt.Sprintf("&limit=%d", min(limit, klineLimit)),
	)
}

// ParseKlines converts a raw /klines response into candles.
func ParseKlines(raw []byte) ([]*models.Candle, error) {
	var klines []models.Kline
	if err := json.Unmarshal(raw, &klines); err != nil {
		return nil, fmt.Errorf("failed to unmarshal klines: %w", err)
	}

	candles := make([]*models.Candle, 0, len(klines))
	for i := range klines {
		c, err := klines[i].Candle()
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// Get24hTickers returns the rolling 24h statistics of every symbol.
// GET /api/v3/ticker/24hr without a symbol has weight 80.
func (c *Client) Get24hTickers(ctx context.Context) ([]models.Ticker24h, error) {
	resp, err := c.query(ctx, BuildURI(c.endpoint+"ticker/24hr"))
	if err != nil {
		return nil, err
	}

	var tickers []models.Ticker24h
	if err := json.Unmarshal(resp, &tickers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tickers: %w", err)
	}
	return tickers, nil
}

/*
GET /api/v3/exchangeInfo

	Notes: If the value provided to symbol or symbols do not exist,
	the endpoint will throw an error saying the symbol is invalid.
*/
func (c *Client) NewSymbolCache(ctx context.Context) (map[string]struct{}, error) {
	resp, err := c.query(ctx, BuildURI(c.endpoint+"exchangeInfo"))
	if err != nil {
		return nil, err
	}

	var exchangeInfo struct {
		Symbols []struct {
			Symbol string `json:"symbol"`
			Status string `json:"status"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(resp, &exchangeInfo); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	cache := make(map[string]struct{}, len(exchangeInfo.Symbols))
	for _, s := range exchangeInfo.Symbols {
		if s.Status != "" && s.Status != "TRADING" {
			continue
		}
		cache[s.Symbol] = struct{}{}
	}
	return cache, nil
}

// LoadCandles returns the candles of [start, end] from the file cache,
// downloading and caching them first when the cache does not cover the
// range.
func (c *Client) LoadCandles(
	ctx context.Context,
	cache *storage.FileCache,
	symbol, interval string,
	start, end time.Time,
) ([]*models.Candle, error) {
	cached, err := cache.Load(symbol, interval)
	if err != nil {
		logger.Warn.Printf("Ignoring unreadable cache for %s %s: %v\n", symbol, interval, err)
		cached = nil
	}

	step, err := storage.IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	if covers(cached, start, end, step) {
		logger.Info.Printf("Using %d cached %s %s candles\n", len(cached), symbol, interval)
		return window(cached, start, end), nil
	}

	candles, err := c.GetKlines(ctx, symbol, interval, start, end)
	if err != nil {
		return nil, err
	}
	if err := cache.Save(symbol, interval, mergeCandles(cached, closed(candles, time.Now()), step)); err != nil {
		logger.Warn.Printf("Could not cache %s %s candles: %v\n", symbol, interval, err)
	}
	return candles, nil
}

// closed drops the trailing bars that are still forming at now.
func closed(candles []*models.Candle, now time.Time) []*models.Candle {
	n := len(candles)
	for n > 0 && candles[n-1].CloseTime.After(now) {
		n--
	}
	return candles[:n]
}

// mergeCandles joins fresh bars into the cached ones, fresh bars winning on
// equal open times. The cache must stay gapless for covers, so a fresh range
// that neither touches nor overlaps the cached one replaces it.
func mergeCandles(cached, fresh []*models.Candle, step time.Duration) []*models.Candle {
	if len(cached) == 0 || len(fresh) == 0 {
		return fresh
	}
	cFirst, cLast := cached[0].OpenTime, cached[len(cached)-1].OpenTime
	fFirst, fLast := fresh[0].OpenTime, fresh[len(fresh)-1].OpenTime
	if fFirst.After(cLast.Add(step)) || fLast.Add(step).Before(cFirst) {
		return fresh
	}

	byTime := make(map[int64]*models.Candle, len(cached)+len(fresh))
	for _, c := range cached {
		byTime[c.OpenTime.UnixMilli()] = c
	}
	for _, c := range fresh {
		byTime[c.OpenTime.UnixMilli()] = c
	}
	out := make([]*models.Candle, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out
}

func covers(candles []*models.Candle, start, end time.Time, step time.Duration) bool {
	if len(candles) == 0 {
		return false
	}
	first, last := candles[0].OpenTime, candles[len(candles)-1].OpenTime
	return !first.After(start) && !last.Add(step).Before(end)
}

func window(candles []*models.Candle, start, end time.Time) []*models.Candle {
	var out []*models.Candle
	for _, c := range candles {
		if c.OpenTime.Before(start) || c.OpenTime.After(end) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// CachedSource serves candles from the file cache, downloading what is
// missing. It satisfies the candle source of the HTTP server when no
// database is configured.
type CachedSource struct {
	Client *Client
	Cache  *storage.FileCache
}

func (cs *CachedSource) FetchData(
	ctx context.Context,
	symbol, interval string,
	start, end time.Time,
) ([]*models.Candle, error) {
	return cs.Client.LoadCandles(ctx, cs.Cache, symbol, interval, start, end)
}
