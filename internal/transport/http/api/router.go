// Package api 是 sigtrack 的 HTTP 接口层。
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sigtrack/internal/logger"
	"sigtrack/internal/outcome"
	"sigtrack/internal/signal"
	"sigtrack/internal/stats"
	"sigtrack/internal/store"
	"sigtrack/internal/tracker"

	"github.com/gin-gonic/gin"
)

const (
	msgRejected       = "signal rejected - check levels"
	msgStatsDown      = "statistics temporarily unavailable"
	msgInProgress     = "evaluation already in progress"
	msgNotFound       = "signal not found"
	msgImmutable      = "signal already exists with different content"
	msgStoreDown      = "store temporarily unavailable"
	msgPriceDown      = "price data temporarily unavailable"
	msgInternal       = "internal error"
	maxPayloadBytes   = 1 << 20
	defaultListLimit  = 100
	maxListLimit      = 1000
	evaluationTimeout = 30 * time.Second
)

// Service 是 HTTP 层依赖的业务能力，由 tracker.Tracker 实现。
type Service interface {
	Submit(ctx context.Context, d signal.Draft) (signal.Signal, error)
	SubmitPayload(ctx context.Context, raw []byte, meta tracker.PayloadMeta) (signal.Signal, error)
	Evaluate(ctx context.Context, id string, now time.Time) (outcome.Outcome, error)
	Record(ctx context.Context, id string) (store.Record, error)
	Outcome(ctx context.Context, id string) (outcome.Outcome, error)
	Transitions(ctx context.Context, id string) ([]outcome.Transition, error)
	List(ctx context.Context, q store.Query) ([]store.Record, error)
	Stats(ctx context.Context, f stats.Filter) (stats.Report, error)
}

type Router struct {
	svc   Service
	nowFn func() time.Time
}

func NewRouter(svc Service) *Router {
	return &Router{svc: svc, nowFn: time.Now}
}

// Register 将路由挂载到 /api 分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/signals", r.handleSubmit)
	group.POST("/signals/payload", r.handleSubmitPayload)
	group.GET("/signals", r.handleList)
	group.GET("/signals/:id", r.handleGet)
	group.GET("/signals/:id/outcome", r.handleOutcome)
	group.GET("/signals/:id/transitions", r.handleTransitions)
	group.POST("/signals/:id/evaluate", r.handleEvaluate)
	group.GET("/stats", r.handleStats)
}

func (r *Router) handleSubmit(c *gin.Context) {
	var d signal.Draft
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgRejected})
		return
	}
	sig, err := r.svc.Submit(c.Request.Context(), d)
	if err != nil {
		writeError(c, "submit", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": sig.ID, "signal": sig})
}

func (r *Router) handleSubmitPayload(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgRejected})
		return
	}
	meta := tracker.PayloadMeta{Timeframe: c.Query("timeframe")}
	if v := strings.TrimSpace(c.Query("owner_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			badQuery(c, "owner_id")
			return
		}
		meta.OwnerID = id
	}
	sig, err := r.svc.SubmitPayload(c.Request.Context(), raw, meta)
	if err != nil {
		writeError(c, "submit payload", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": sig.ID, "signal": sig})
}

func (r *Router) handleList(c *gin.Context) {
	f, field, err := parseFilter(c)
	if err != nil {
		badQuery(c, field)
		return
	}
	q := store.Query{
		Symbol:    f.Symbol,
		Timeframe: f.Timeframe,
		OwnerID:   f.OwnerID,
		Since:     f.Since,
		Until:     f.Until,
		Limit:     defaultListLimit,
	}
	if f.limit > 0 {
		q.Limit = min(f.limit, maxListLimit)
	}
	for _, raw := range c.QueryArray("state") {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			st, err := outcome.ParseState(part)
			if err != nil {
				badQuery(c, "state")
				return
			}
			q.States = append(q.States, st)
		}
	}
	records, err := r.svc.List(c.Request.Context(), q)
	if err != nil {
		writeError(c, "list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": records, "count": len(records)})
}

func (r *Router) handleGet(c *gin.Context) {
	rec, err := r.svc.Record(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "get signal", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) handleOutcome(c *gin.Context) {
	out, err := r.svc.Outcome(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "get outcome", err)
		return
	}
	c.JSON(http.StatusOK, out.View())
}

func (r *Router) handleTransitions(c *gin.Context) {
	trs, err := r.svc.Transitions(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "list transitions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": trs})
}

func (r *Router) handleEvaluate(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), evaluationTimeout)
	defer cancel()
	out, err := r.svc.Evaluate(ctx, c.Param("id"), r.nowFn().UTC())
	if err != nil {
		writeError(c, "evaluate", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": out.View(), "detail": out})
}

func (r *Router) handleStats(c *gin.Context) {
	f, field, err := parseFilter(c)
	if err != nil {
		badQuery(c, field)
		return
	}
	rep, err := r.svc.Stats(c.Request.Context(), stats.Filter{Filter: f.Filter, Limit: f.limit})
	if err != nil {
		logger.Errorf("[api] stats failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": msgStatsDown})
		return
	}
	c.JSON(http.StatusOK, rep)
}

type queryFilter struct {
	store.Filter
	limit int
}

// parseFilter 读取 symbol/timeframe/owner_id/since/until/limit，失败时返回出错字段。
func parseFilter(c *gin.Context) (queryFilter, string, error) {
	f := queryFilter{Filter: store.Filter{
		Symbol:    strings.TrimSpace(c.Query("symbol")),
		Timeframe: strings.TrimSpace(c.Query("timeframe")),
	}}
	if v := strings.TrimSpace(c.Query("owner_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, "owner_id", err
		}
		f.OwnerID = id
	}
	for _, key := range []string{"since", "until"} {
		v := strings.TrimSpace(c.Query(key))
		if v == "" {
			continue
		}
		ts, err := parseTime(v)
		if err != nil {
			return f, key, err
		}
		if key == "since" {
			f.Since = &ts
		} else {
			f.Until = &ts
		}
	}
	if f.Since != nil && f.Until != nil && f.Until.Before(*f.Since) {
		return f, "until", fmt.Errorf("until before since")
	}
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, "limit", fmt.Errorf("invalid limit %q", v)
		}
		f.limit = n
	}
	return f, "", nil
}

// parseTime 接受 RFC3339、日期或 unix 秒/毫秒。
func parseTime(v string) (time.Time, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts.UTC(), nil
	}
	return time.Parse("2006-01-02", v)
}

func badQuery(c *gin.Context, field string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameter: " + field})
}

// writeError 把领域错误映射成对外消息，内部细节只写日志。
func writeError(c *gin.Context, op string, err error) {
	status, msg := http.StatusInternalServerError, msgInternal
	switch {
	case errors.Is(err, signal.ErrInvalidSignalShape):
		status, msg = http.StatusBadRequest, msgRejected
	case errors.Is(err, store.ErrNotFound):
		status, msg = http.StatusNotFound, msgNotFound
	case errors.Is(err, store.ErrConcurrentEvaluation):
		status, msg = http.StatusConflict, msgInProgress
	case errors.Is(err, store.ErrSignalImmutable):
		status, msg = http.StatusConflict, msgImmutable
	case errors.Is(err, store.ErrStoreUnavailable):
		status, msg = http.StatusServiceUnavailable, msgStoreDown
	case tracker.Retryable(err):
		status, msg = http.StatusServiceUnavailable, msgPriceDown
	}
	if status >= http.StatusInternalServerError {
		logger.Errorf("[api] %s failed ip=%s err=%v", op, c.ClientIP(), err)
	} else {
		logger.Debugf("[api] %s rejected ip=%s err=%v", op, c.ClientIP(), err)
	}
	c.JSON(status, gin.H{"error": msg})
}
