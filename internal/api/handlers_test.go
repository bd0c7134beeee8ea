package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trading-journal/config"
	"trading-journal/internal/auth"
	"trading-journal/internal/cache"
	"trading-journal/internal/dayclock"
	"trading-journal/internal/discipline"
	"trading-journal/internal/events"
	"trading-journal/internal/realtime"
	"trading-journal/internal/rewards"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser = "local"
	testTZ   = "America/New_York"
)

type testEnv struct {
	server *Server
	svc    *discipline.Service
	clock  *dayclock.FixedClock
	broker *realtime.LocalBroker
	bus    *events.EventBus
	ledger *rewards.Ledger
	jwt    *auth.JWTManager
}

func testConfig() *config.Config {
	return &config.Config{
		ServerConfig: config.ServerConfig{GinMode: "test", AllowedOrigins: "*"},
		AuthConfig:   config.AuthConfig{DevUserID: testUser},
		DisciplineConfig: config.DisciplineConfig{
			OverrideHold:      3 * time.Second,
			SessionStaleAfter: time.Minute,
		},
	}
}

// newTestEnv wires a server over the memory store. With withJWT the server
// requires tokens; otherwise every request runs as testUser.
func newTestEnv(t *testing.T, withJWT bool) *testEnv {
	t.Helper()

	// 10:00 in New York
	clock := dayclock.NewFixedClock(time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC))
	resolver := dayclock.NewResolver(dayclock.WithClock(clock))
	broker := realtime.NewLocalBroker(0)
	bus := events.NewEventBus()

	ledger := rewards.NewLedger(rewards.NewMemoryStore(), rewards.DefaultConfig(), bus, zerolog.Nop())
	ledger.Attach(bus)

	opts := []discipline.Option{discipline.WithPublisher(broker), discipline.WithEventBus(bus)}
	var jwtManager *auth.JWTManager
	if withJWT {
		jwtManager = auth.NewJWTManager("test-secret", time.Hour)
		opts = append(opts, discipline.WithDefaultMax(auth.DefaultMaxFromContext))
	}
	svc := discipline.NewService(discipline.NewMemoryStore(), resolver, zerolog.Nop(), opts...)

	server := NewServer(testConfig(), Deps{
		Service: svc,
		Rewards: ledger,
		Feed:    broker,
		Bus:     bus,
		JWT:     jwtManager,
		Logger:  zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go server.Hub().Run(ctx)
	t.Cleanup(cancel)

	return &testEnv{server: server, svc: svc, clock: clock, broker: broker, bus: bus, ledger: ledger, jwt: jwtManager}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) (int, apiResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TimezoneHeader, testTZ)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)

	var resp apiResponse
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w.Code, resp
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	env.server.checks = map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	}

	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	env.server.checks["redis"] = func(context.Context) error { return assert.AnError }
	w = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"unhealthy"`)
}

func TestHealthEndpoint_ReportsCacheStats(t *testing.T) {
	cs, err := cache.NewCacheService(config.RedisConfig{Enabled: true, Address: "127.0.0.1:1", PoolSize: 2}, zerolog.Nop())
	require.NoError(t, err, "an unreachable Redis runs degraded")
	defer cs.Close()

	env := newTestEnv(t, false)
	env.server.stats = map[string]func() interface{}{
		"redis": func() interface{} { return cs.GetStats() },
	}

	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var health struct {
		Stats map[string]cache.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	require.Contains(t, health.Stats, "redis")
	assert.False(t, health.Stats["redis"].Healthy)
	assert.Equal(t, "127.0.0.1:1", health.Stats["redis"].Address)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t, false)
	req := httptest.NewRequest(http.MethodOptions, "/api/discipline/today", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestDisciplineFlow(t *testing.T) {
	env := newTestEnv(t, false)

	code, resp := env.do(t, http.MethodPut, "/api/discipline/settings", body{"enabled": true, "default_max": 2}, "")
	require.Equal(t, http.StatusOK, code, resp.Message)
	settings := decode[discipline.Settings](t, resp.Data)
	assert.True(t, settings.Enabled)
	assert.Equal(t, 2, settings.DefaultMax)

	code, resp = env.do(t, http.MethodGet, "/api/discipline/today", nil, "")
	require.Equal(t, http.StatusOK, code)
	view := decode[dayView](t, resp.Data)
	assert.Equal(t, "2026-10-15", view.Date)
	assert.Nil(t, view.Record)

	code, resp = env.do(t, http.MethodPost, "/api/discipline/check-in", body{"max_trades": 2}, "")
	require.Equal(t, http.StatusOK, code, resp.Message)

	for i := 1; i <= 2; i++ {
		code, resp = env.do(t, http.MethodPost, "/api/discipline/quick-log", nil, "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, i, decode[discipline.DayRecord](t, resp.Data).UsedTrades)
	}

	code, resp = env.do(t, http.MethodPost, "/api/discipline/quick-log", nil, "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "MAX_REACHED", resp.Error)

	code, resp = env.do(t, http.MethodPost, "/api/discipline/eod", body{"actual_trades": 2, "respected_limit": true}, "")
	require.Equal(t, http.StatusOK, code, resp.Message)
	rec := decode[discipline.DayRecord](t, resp.Data)
	assert.Equal(t, discipline.StatusCompleted, rec.Status)

	code, resp = env.do(t, http.MethodGet, "/api/discipline/days/2026-10-15", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, discipline.StatusCompleted, decode[discipline.DayRecord](t, resp.Data).Status)

	code, resp = env.do(t, http.MethodGet, "/api/discipline/week", nil, "")
	require.Equal(t, http.StatusOK, code)
	review := decode[discipline.WeeklyReview](t, resp.Data)
	assert.Len(t, review.Days, 7)
	assert.Equal(t, 1, review.Completed)

	require.Eventually(t, func() bool {
		_, resp := env.do(t, http.MethodGet, "/api/rewards", nil, "")
		return decode[rewards.State](t, resp.Data).CurrentStreak == 1
	}, time.Second, 10*time.Millisecond)
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"enable without max", http.MethodPut, "/api/discipline/settings", body{"enabled": true}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing enabled", http.MethodPut, "/api/discipline/settings", body{}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"max out of range", http.MethodPost, "/api/discipline/check-in", body{"max_trades": 11}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad zone", http.MethodPut, "/api/discipline/timezone", body{"timezone": "Mars/Base"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad date", http.MethodGet, "/api/discipline/days/15-10-2026", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"absent day", http.MethodGet, "/api/discipline/days/2026-10-14", nil, http.StatusNotFound, "NOT_FOUND"},
		{"eod without body", http.MethodPost, "/api/discipline/eod", body{}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown route", http.MethodGet, "/api/nope", nil, http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := env.do(t, tt.method, tt.path, tt.body, "")
			assert.Equal(t, tt.status, code)
			assert.Equal(t, tt.code, resp.Error)
		})
	}
}

func TestOverrideCancel(t *testing.T) {
	env := newTestEnv(t, false)
	reason := "Setup met every rule on my plan, taking one more."
	_, _ = env.do(t, http.MethodPost, "/api/discipline/check-in", body{"max_trades": 1}, "")

	code, _ := env.do(t, http.MethodPost, "/api/discipline/override/arm", nil, "")
	require.Equal(t, http.StatusOK, code)

	code, resp := env.do(t, http.MethodDelete, "/api/discipline/override/arm", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"armed":false}`, string(resp.Data))

	env.clock.Advance(3 * time.Second)
	code, resp = env.do(t, http.MethodPost, "/api/discipline/override", body{"reason": reason}, "")
	assert.Equal(t, http.StatusBadRequest, code, "cancelled override cannot be confirmed")
	assert.Equal(t, "VALIDATION_ERROR", resp.Error)

	rec, err := env.svc.Today(context.Background(), testUser, testTZ)
	require.NoError(t, err)
	assert.False(t, rec.Overridden)
}

func TestLogout_EndsSessionsAndOverrideGate(t *testing.T) {
	env := newTestEnv(t, false)
	reason := "Setup met every rule on my plan, taking one more."
	_, _ = env.do(t, http.MethodPost, "/api/discipline/check-in", body{"max_trades": 1}, "")

	conn := dialWS(t, env, "")
	next(t, conn, FrameConnected)
	require.Eventually(t, func() bool {
		return env.server.Hub().GetUserClientCount(testUser) == 1
	}, time.Second, 10*time.Millisecond)

	code, _ := env.do(t, http.MethodPost, "/api/discipline/override/arm", nil, "")
	require.Equal(t, http.StatusOK, code)

	code, resp := env.do(t, http.MethodPost, "/api/auth/logout", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"signed_out":true}`, string(resp.Data))

	require.Eventually(t, func() bool {
		return env.server.Hub().GetUserClientCount(testUser) == 0
	}, time.Second, 10*time.Millisecond)

	// The armed gate went with the session.
	env.clock.Advance(3 * time.Second)
	code, resp = env.do(t, http.MethodPost, "/api/discipline/override", body{"reason": reason}, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error)
}

func TestLogout_RequiresToken(t *testing.T) {
	env := newTestEnv(t, true)
	code, _ := env.do(t, http.MethodPost, "/api/auth/logout", nil, "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestOverrideRequiresHold(t *testing.T) {
	env := newTestEnv(t, false)
	reason := "Setup met every rule on my plan, taking one more."

	_, _ = env.do(t, http.MethodPost, "/api/discipline/check-in", body{"max_trades": 1}, "")
	_, _ = env.do(t, http.MethodPost, "/api/discipline/quick-log", nil, "")

	code, resp := env.do(t, http.MethodPost, "/api/discipline/override", body{"reason": reason}, "")
	assert.Equal(t, http.StatusBadRequest, code, "confirm without arm")
	assert.Equal(t, "VALIDATION_ERROR", resp.Error)

	code, _ = env.do(t, http.MethodPost, "/api/discipline/override/arm", nil, "")
	require.Equal(t, http.StatusOK, code)

	code, _ = env.do(t, http.MethodPost, "/api/discipline/override", body{"reason": reason}, "")
	assert.Equal(t, http.StatusBadRequest, code, "hold not elapsed")

	env.clock.Advance(3 * time.Second)

	code, resp = env.do(t, http.MethodPost, "/api/discipline/override", body{"reason": "too short"}, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error)

	code, resp = env.do(t, http.MethodPost, "/api/discipline/override", body{"reason": reason}, "")
	require.Equal(t, http.StatusOK, code, resp.Message)
	rec := decode[discipline.DayRecord](t, resp.Data)
	assert.True(t, rec.Overridden)
	assert.Equal(t, discipline.StatusBroken, rec.Status)

	code, resp = env.do(t, http.MethodPost, "/api/discipline/quick-log", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, decode[discipline.DayRecord](t, resp.Data).UsedTrades)
}

func TestAuthRequiredAndTierDefaults(t *testing.T) {
	env := newTestEnv(t, true)

	code, resp := env.do(t, http.MethodGet, "/api/discipline/today", nil, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHENTICATED", resp.Error)

	token, err := env.jwt.GenerateAccessToken(auth.UserClaims{UserID: "pro-user", SubscriptionTier: "pro"})
	require.NoError(t, err)

	code, resp = env.do(t, http.MethodPut, "/api/discipline/settings", body{"enabled": true, "default_max": 4}, token)
	require.Equal(t, http.StatusOK, code)

	// Quick-log without check-in uses the stored default.
	code, resp = env.do(t, http.MethodPost, "/api/discipline/quick-log", nil, token)
	require.Equal(t, http.StatusOK, code, resp.Message)
	assert.Equal(t, 4, decode[discipline.DayRecord](t, resp.Data).MaxTrades)
}

func TestHistoryGate(t *testing.T) {
	env := newTestEnv(t, true)
	token, err := env.jwt.GenerateAccessToken(auth.UserClaims{UserID: "free-user", SubscriptionTier: "free"})
	require.NoError(t, err)

	code, resp := env.do(t, http.MethodGet, "/api/discipline/days/2026-01-02", nil, token)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", resp.Error)

	code, _ = env.do(t, http.MethodGet, "/api/discipline/days/2026-10-01", nil, token)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2)
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	assert.Nil(t, NewRateLimiter(0))
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 0, daysBetween("2026-10-15", "2026-10-15"))
	assert.Equal(t, 0, daysBetween("2026-10-16", "2026-10-15"))
	assert.Equal(t, 31, daysBetween("2026-09-14", "2026-10-15"))
}

type body = map[string]interface{}
