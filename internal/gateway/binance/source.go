// Package binance 基于 go-binance 期货 REST 实现 market.Source。
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"sigtrack/internal/logger"
	"sigtrack/internal/market"
	symbolpkg "sigtrack/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Source 拉取 USDⓈ-M 期货历史 K 线。
type Source struct {
	cfg     Config
	client  *futures.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	statsMu sync.Mutex
	stats   market.SourceStats
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient

	limit := rate.Inf
	if final.RequestsPerSecond > 0 {
		limit = rate.Limit(final.RequestsPerSecond)
	}
	failures := uint32(final.BreakerFailures)
	st := gobreaker.Settings{
		Name:    "binance-klines",
		Timeout: final.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("binance breaker %s: %s -> %s", name, from, to)
		},
		// 调用方取消不算交易所故障
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return &Source{
		cfg:     final,
		client:  client,
		limiter: rate.NewLimiter(limit, final.Burst),
		breaker: gobreaker.NewCircuitBreaker(st),
	}, nil
}

// FetchRange 返回 [Start, End] 内按 open_time 升序的 K 线，最多 Limit 根。
func (s *Source) FetchRange(ctx context.Context, q market.RangeQuery) ([]market.Candle, error) {
	sym := symbolpkg.Normalize(q.Symbol)
	if sym == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval := strings.ToLower(strings.TrimSpace(q.Interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	limit := q.Limit
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if err := s.limiter.Wait(ctx); err != nil {
		s.record(err, true)
		return nil, err
	}
	res, err := s.breaker.Execute(func() (interface{}, error) {
		svc := s.client.NewKlinesService().Symbol(sym).Interval(interval).Limit(limit)
		if !q.Start.IsZero() {
			svc = svc.StartTime(q.Start.UnixMilli())
		}
		if !q.End.IsZero() {
			svc = svc.EndTime(q.End.UnixMilli())
		}
		return svc.Do(ctx)
	})
	if err != nil {
		s.record(err, errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests))
		return nil, fmt.Errorf("binance klines %s %s: %w", sym, interval, err)
	}
	s.record(nil, false)
	kls, _ := res.([]*futures.Kline)
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	return out, nil
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) Close() error { return nil }

func (s *Source) record(err error, throttled bool) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Requests++
	if err == nil {
		return
	}
	if throttled {
		s.stats.Throttled++
	} else {
		s.stats.Failures++
	}
	s.stats.LastError = err.Error()
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}
