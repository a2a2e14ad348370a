// Package datasource pulls real market data for backtests. The only adapter
// is Tushare Pro, whose daily endpoint covers A-share OHLCV; generated data
// for everything else comes from internal/data.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/lyeka/agentic-bt/internal/infra"
	"github.com/lyeka/agentic-bt/pkg/models"
	"github.com/lyeka/agentic-bt/pkg/utils"
)

const (
	defaultBaseURL = "http://api.tushare.pro"
	defaultTimeout = 15 * time.Second
	defaultPerMin  = 480 // free tier allows ~500 calls/min

	dailyAPI    = "daily"
	dailyFields = "ts_code,trade_date,open,high,low,close,vol"
)

// Errors callers branch on.
var (
	ErrNoToken     = errors.New("datasource: Tushare token 未配置")
	ErrEmptyResult = errors.New("datasource: Tushare 未返回数据")
)

// Tushare is a daily-bar adapter over the Tushare Pro HTTP API. Requests
// pass a rate limiter and a circuit breaker; responses are cached by symbol
// and date range for the lifetime of the process.
type Tushare struct {
	client  *resty.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	cache   *infra.Cache
	token   string
	log     *slog.Logger
}

// Option configures a Tushare adapter.
type Option func(*Tushare)

// WithBaseURL points the adapter at a different endpoint (tests, mirrors).
func WithBaseURL(url string) Option {
	return func(t *Tushare) { t.client.SetBaseURL(url) }
}

// WithRateLimit sets the request budget in calls per minute.
func WithRateLimit(perMin float64) Option {
	return func(t *Tushare) {
		if perMin > 0 {
			t.limiter = rate.NewLimiter(rate.Limit(perMin/60.0), 1)
		}
	}
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(t *Tushare) {
		if d > 0 {
			t.client.SetTimeout(d)
		}
	}
}

// WithLogger routes adapter logs through the given logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tushare) {
		if l != nil {
			t.log = l
		}
	}
}

// NewTushare builds an adapter with the given API token.
func NewTushare(token string, opts ...Option) *Tushare {
	t := &Tushare{
		client: resty.New().
			SetBaseURL(defaultBaseURL).
			SetTimeout(defaultTimeout).
			SetHeader("Content-Type", "application/json"),
		limiter: rate.NewLimiter(rate.Limit(defaultPerMin/60.0), 1),
		cache:   infra.NewCache(time.Hour),
		token:   token,
		log:     slog.Default(),
	}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "tushare",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the data source name.
func (t *Tushare) Name() string { return "Tushare Pro" }

// --- Tushare wire types ---

type tushareRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

type tushareResponse struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data tushareData `json:"data"`
}

type tushareData struct {
	Fields []string `json:"fields"`
	Items  [][]any  `json:"items"`
}

// Daily fetches daily OHLCV bars for one ts_code (e.g. "600519.SH") between
// start and end dates in YYYYMMDD form. Bars come back ascending by date
// with Index restamped, the order the engine consumes.
func (t *Tushare) Daily(ctx context.Context, tsCode, startDate, endDate string) ([]models.Bar, error) {
	if t.token == "" {
		return nil, ErrNoToken
	}
	tsCode = utils.NormalizeTSCode(tsCode)

	cacheKey := fmt.Sprintf("%s:%s:%s:%s", dailyAPI, tsCode, startDate, endDate)
	if cached, ok := t.cache.Get(cacheKey); ok {
		return cached.([]models.Bar), nil
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("datasource: 限流等待被中断: %w", err)
	}

	body := tushareRequest{
		APIName: dailyAPI,
		Token:   t.token,
		Params: map[string]string{
			"ts_code":    tsCode,
			"start_date": startDate,
			"end_date":   endDate,
		},
		Fields: dailyFields,
	}

	result, err := t.breaker.Execute(func() (any, error) {
		var out tushareResponse
		resp, err := t.client.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&out).
			Post("/")
		if err != nil {
			return nil, fmt.Errorf("datasource: Tushare 请求失败: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("datasource: Tushare HTTP %d", resp.StatusCode())
		}
		if out.Code != 0 {
			return nil, fmt.Errorf("datasource: Tushare 返回错误: %s", out.Msg)
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}

	out := result.(*tushareResponse)
	bars, err := mapDaily(tsCode, out.Data)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s %s~%s", ErrEmptyResult, tsCode, startDate, endDate)
	}

	t.cache.Set(cacheKey, bars)
	t.log.Debug("datasource: Tushare daily 拉取完成", "ts_code", tsCode, "bars", len(bars))
	return bars, nil
}

// DailySet fetches several symbols concurrently and returns them keyed by
// ts_code. One failed symbol fails the set.
func (t *Tushare) DailySet(ctx context.Context, tsCodes []string, startDate, endDate string) (map[string][]models.Bar, error) {
	set := make(map[string][]models.Bar, len(tsCodes))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, code := range tsCodes {
		code := utils.NormalizeTSCode(code)
		g.Go(func() error {
			bars, err := t.Daily(gctx, code, startDate, endDate)
			if err != nil {
				return err
			}
			mu.Lock()
			set[code] = bars
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}

// mapDaily converts a Tushare field/items payload into bars. Tushare names
// columns trade_date and vol; the resolver below maps them onto the bar
// fields, tolerating reordered columns.
func mapDaily(tsCode string, data tushareData) ([]models.Bar, error) {
	col := make(map[string]int, len(data.Fields))
	for i, name := range data.Fields {
		col[name] = i
	}
	for _, required := range []string{"trade_date", "open", "high", "low", "close", "vol"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("datasource: Tushare 响应缺少字段: %s", required)
		}
	}

	bars := make([]models.Bar, 0, len(data.Items))
	for _, row := range data.Items {
		if len(row) < len(data.Fields) {
			continue
		}
		datetime, err := time.Parse("20060102", asString(row[col["trade_date"]]))
		if err != nil {
			return nil, fmt.Errorf("datasource: 无法解析 trade_date %v: %w", row[col["trade_date"]], err)
		}
		bars = append(bars, models.Bar{
			Symbol:   tsCode,
			Datetime: datetime,
			Open:     asFloat(row[col["open"]]),
			High:     asFloat(row[col["high"]]),
			Low:      asFloat(row[col["low"]]),
			Close:    asFloat(row[col["close"]]),
			Volume:   asFloat(row[col["vol"]]),
		})
	}

	// Tushare returns newest first; the engine steps oldest first.
	sort.Slice(bars, func(i, j int) bool { return bars[i].Datetime.Before(bars[j].Datetime) })
	for i := range bars {
		bars[i].Index = i
	}
	return bars, nil
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}
