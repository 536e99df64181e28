package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sigtrack/internal/metrics"
	"sigtrack/internal/outcome"
	"sigtrack/internal/signal"
	"sigtrack/internal/stats"
	"sigtrack/internal/store"
	"sigtrack/internal/tracker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockService struct{ mock.Mock }

func (m *mockService) Submit(ctx context.Context, d signal.Draft) (signal.Signal, error) {
	args := m.Called(ctx, d)
	return args.Get(0).(signal.Signal), args.Error(1)
}

func (m *mockService) SubmitPayload(ctx context.Context, raw []byte, meta tracker.PayloadMeta) (signal.Signal, error) {
	args := m.Called(ctx, raw, meta)
	return args.Get(0).(signal.Signal), args.Error(1)
}

func (m *mockService) Evaluate(ctx context.Context, id string, now time.Time) (outcome.Outcome, error) {
	args := m.Called(ctx, id, now)
	return args.Get(0).(outcome.Outcome), args.Error(1)
}

func (m *mockService) Record(ctx context.Context, id string) (store.Record, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(store.Record), args.Error(1)
}

func (m *mockService) Outcome(ctx context.Context, id string) (outcome.Outcome, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(outcome.Outcome), args.Error(1)
}

func (m *mockService) Transitions(ctx context.Context, id string) ([]outcome.Transition, error) {
	args := m.Called(ctx, id)
	return args.Get(0).([]outcome.Transition), args.Error(1)
}

func (m *mockService) List(ctx context.Context, q store.Query) ([]store.Record, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]store.Record), args.Error(1)
}

func (m *mockService) Stats(ctx context.Context, f stats.Filter) (stats.Report, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(stats.Report), args.Error(1)
}

func newTestServer(t *testing.T, svc Service) http.Handler {
	t.Helper()
	srv, err := NewServer(ServerConfig{Service: svc, Metrics: metrics.New()})
	require.NoError(t, err)
	return srv.Handler()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	h.ServeHTTP(rec, req)
	return rec
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestSubmitReturnsID(t *testing.T) {
	svc := &mockService{}
	svc.On("Submit", mock.Anything, mock.MatchedBy(func(d signal.Draft) bool {
		return d.Symbol == "BTCUSDT" && d.Type == signal.TypeBuy && len(d.Entries) == 1
	})).Return(signal.Signal{ID: "sig-1"}, nil)

	body := `{"symbol":"BTCUSDT","timeframe":"1h","signal_type":"BUY","confidence":0.7,
		"entries":[{"price":100,"weight":1}],"take_profits":[{"price":105}],"stop_loss":96}`
	rec := do(newTestServer(t, svc), http.MethodPost, "/api/signals", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"sig-1"`)
	svc.AssertExpectations(t)
}

func TestSubmitRejectedHidesDetail(t *testing.T) {
	svc := &mockService{}
	svc.On("Submit", mock.Anything, mock.Anything).
		Return(signal.Signal{}, fmt.Errorf("%w: stop_loss 110 在入场价上方", signal.ErrInvalidSignalShape))
	rec := do(newTestServer(t, svc), http.MethodPost, "/api/signals", `{"symbol":"BTCUSDT"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgRejected, errorOf(t, rec))

	rec = do(newTestServer(t, svc), http.MethodPost, "/api/signals", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitPayloadPassesMeta(t *testing.T) {
	svc := &mockService{}
	svc.On("SubmitPayload", mock.Anything, []byte(`{"symbol":"ETHUSDT"}`), tracker.PayloadMeta{OwnerID: 9, Timeframe: "4h"}).
		Return(signal.Signal{ID: "sig-2"}, nil)
	rec := do(newTestServer(t, svc), http.MethodPost, "/api/signals/payload?owner_id=9&timeframe=4h", `{"symbol":"ETHUSDT"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	svc.AssertExpectations(t)

	rec = do(newTestServer(t, svc), http.MethodPost, "/api/signals/payload?owner_id=abc", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOutcomeView(t *testing.T) {
	ret := 0.03
	resolved := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	svc := &mockService{}
	svc.On("Outcome", mock.Anything, "sig-1").Return(outcome.Outcome{
		SignalID: "sig-1", State: outcome.StateWon, FilledWeight: 0.6, RealizedReturn: &ret, ResolvedAt: &resolved, Version: 3,
	}, nil)
	svc.On("Outcome", mock.Anything, "nope").Return(outcome.Outcome{}, fmt.Errorf("%w: nope", store.ErrNotFound))

	h := newTestServer(t, svc)
	rec := do(h, http.MethodGet, "/api/signals/sig-1/outcome", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "WON", view["state"])
	assert.Equal(t, 0.03, view["realized_return"])
	assert.NotContains(t, view, "version")

	rec = do(h, http.MethodGet, "/api/signals/nope/outcome", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvaluateConflict(t *testing.T) {
	svc := &mockService{}
	svc.On("Evaluate", mock.Anything, "sig-1", mock.Anything).
		Return(outcome.Outcome{}, fmt.Errorf("%w: sig-1 in flight", store.ErrConcurrentEvaluation))
	rec := do(newTestServer(t, svc), http.MethodPost, "/api/signals/sig-1/evaluate", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, msgInProgress, errorOf(t, rec))
}

func TestStatsUnavailable(t *testing.T) {
	svc := &mockService{}
	svc.On("Stats", mock.Anything, mock.Anything).
		Return(stats.Report{}, store.Unavailable("list resolved", errors.New("database is locked")))
	rec := do(newTestServer(t, svc), http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, msgStatsDown, errorOf(t, rec))
	assert.NotContains(t, rec.Body.String(), "locked")
}

func TestStatsFilter(t *testing.T) {
	svc := &mockService{}
	svc.On("Stats", mock.Anything, mock.MatchedBy(func(f stats.Filter) bool {
		return f.Symbol == "BTCUSDT" && f.OwnerID == 5 && f.Limit == 3 &&
			f.Since != nil && f.Since.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) && f.Until == nil
	})).Return(stats.Report{Summary: stats.Summary{Total: 10, Wins: 6}}, nil)

	h := newTestServer(t, svc)
	rec := do(h, http.MethodGet, "/api/stats?symbol=BTCUSDT&owner_id=5&limit=3&since=2024-06-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":10`)
	svc.AssertExpectations(t)

	rec = do(h, http.MethodGet, "/api/stats?since=2024-06-02&until=2024-06-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListParsesStates(t *testing.T) {
	svc := &mockService{}
	svc.On("List", mock.Anything, mock.MatchedBy(func(q store.Query) bool {
		return len(q.States) == 2 && q.States[0] == outcome.StatePending && q.Limit == defaultListLimit
	})).Return([]store.Record{}, nil)
	h := newTestServer(t, svc)
	rec := do(h, http.MethodGet, "/api/signals?state=pending,entry_filled", "")
	require.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)

	rec = do(h, http.MethodGet, "/api/signals?state=moon", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, err := NewServer(ServerConfig{
		Service: &mockService{},
		Metrics: metrics.New(),
		Health:  func(context.Context) error { return errors.New("down") },
	})
	require.NoError(t, err)
	rec := do(srv.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(srv.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
