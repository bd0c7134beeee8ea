package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trading-journal/internal/auth"
	"trading-journal/internal/discipline"
	"trading-journal/internal/events"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsFrame struct {
	Type    string          `json:"type"`
	Name    string          `json:"name"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func dialWS(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?tz=" + testTZ + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads frames until one of the wanted type arrives.
func next(t *testing.T, conn *websocket.Conn, frameType string) wsFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var f wsFrame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", frameType)
		if f.Type == frameType {
			return f
		}
	}
}

func checkIn(t *testing.T, env *testEnv, maxTrades int) {
	t.Helper()
	code, resp := env.do(t, "POST", "/api/discipline/check-in", body{"max_trades": maxTrades}, "")
	require.Equal(t, 200, code, resp.Message)
}

func TestWebSocket_ConnectSendsToday(t *testing.T) {
	env := newTestEnv(t, false)
	checkIn(t, env, 3)

	conn := dialWS(t, env, "")
	f := next(t, conn, FrameConnected)
	assert.Contains(t, string(f.Data), testUser)

	f = next(t, conn, FrameDayUpdate)
	rec := decode[discipline.DayRecord](t, f.Data)
	assert.Equal(t, 3, rec.MaxTrades)

	require.Eventually(t, func() bool {
		return env.server.Hub().GetUserClientCount(testUser) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWebSocket_CommandAndHotkeyShareQuickLog(t *testing.T) {
	env := newTestEnv(t, false)
	checkIn(t, env, 2)
	conn := dialWS(t, env, "")
	next(t, conn, FrameDayUpdate)

	require.NoError(t, conn.WriteJSON(body{"type": "command", "name": "quick_log"}))
	f := next(t, conn, FrameCommandResult)
	assert.Equal(t, 1, decode[discipline.DayRecord](t, f.Data).UsedTrades)

	// Typing in a field does not log.
	require.NoError(t, conn.WriteJSON(body{"type": "hotkey", "key": "l", "editing": true}))
	require.NoError(t, conn.WriteJSON(body{"type": "hotkey", "key": "l"}))
	f = next(t, conn, FrameCommandResult)
	assert.Equal(t, 2, decode[discipline.DayRecord](t, f.Data).UsedTrades)

	require.NoError(t, conn.WriteJSON(body{"type": "hotkey", "key": "L"}))
	f = next(t, conn, FrameError)
	assert.Equal(t, "MAX_REACHED", f.Error)

	rec, err := env.svc.Today(context.Background(), testUser, testTZ)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.UsedTrades)
}

func TestWebSocket_PushFromOtherWriter(t *testing.T) {
	env := newTestEnv(t, false)
	checkIn(t, env, 5)
	conn := dialWS(t, env, "")
	next(t, conn, FrameDayUpdate)

	// Wait for the session's subscription before writing elsewhere.
	date := env.svc.Clock().Today(testTZ)
	require.Eventually(t, func() bool {
		return env.broker.Subscribers(testUser, date) == 1
	}, time.Second, 10*time.Millisecond)

	_, err := env.svc.QuickLogTrade(context.Background(), testUser, testTZ)
	require.NoError(t, err)

	for {
		f := next(t, conn, FrameDayUpdate)
		if decode[discipline.DayRecord](t, f.Data).UsedTrades == 1 {
			break
		}
	}
}

func TestWebSocket_OverrideHold(t *testing.T) {
	env := newTestEnv(t, false)
	checkIn(t, env, 1)
	conn := dialWS(t, env, "")
	next(t, conn, FrameDayUpdate)

	reason := "News catalyst matches my written A+ setup exactly."
	require.NoError(t, conn.WriteJSON(body{"type": "override_arm"}))
	next(t, conn, FrameOverrideArmed)

	require.NoError(t, conn.WriteJSON(body{"type": "override_confirm", "reason": reason}))
	f := next(t, conn, FrameError)
	assert.Equal(t, "VALIDATION_ERROR", f.Error)

	env.clock.Advance(3 * time.Second)
	require.NoError(t, conn.WriteJSON(body{"type": "override_confirm", "reason": reason}))
	f = next(t, conn, FrameCommandResult)
	rec := decode[discipline.DayRecord](t, f.Data)
	assert.True(t, rec.Overridden)
}

func TestWebSocket_OverrideCancel(t *testing.T) {
	env := newTestEnv(t, false)
	checkIn(t, env, 1)
	conn := dialWS(t, env, "")
	next(t, conn, FrameDayUpdate)

	require.NoError(t, conn.WriteJSON(body{"type": "override_arm"}))
	next(t, conn, FrameOverrideArmed)
	require.NoError(t, conn.WriteJSON(body{"type": "override_cancel"}))
	next(t, conn, FrameOverrideCancelled)

	env.clock.Advance(3 * time.Second)
	require.NoError(t, conn.WriteJSON(body{"type": "override_confirm", "reason": "News catalyst matches my written A+ setup exactly."}))
	f := next(t, conn, FrameError)
	assert.Equal(t, "VALIDATION_ERROR", f.Error)
}

func TestWebSocket_MalformedAndUnknownFrames(t *testing.T) {
	env := newTestEnv(t, false)
	conn := dialWS(t, env, "")
	next(t, conn, FrameConnected)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	assert.Equal(t, "VALIDATION_ERROR", next(t, conn, FrameError).Error)

	require.NoError(t, conn.WriteJSON(body{"type": "command", "name": "delete_everything"}))
	assert.Equal(t, "VALIDATION_ERROR", next(t, conn, FrameError).Error)

	require.NoError(t, conn.WriteJSON(body{"type": "dance"}))
	assert.Contains(t, next(t, conn, FrameError).Message, "unknown frame type")
}

func TestWebSocket_BusEventsReachUser(t *testing.T) {
	env := newTestEnv(t, false)
	conn := dialWS(t, env, "")
	next(t, conn, FrameConnected)
	require.Eventually(t, func() bool {
		return env.server.Hub().GetUserClientCount(testUser) == 1
	}, time.Second, 10*time.Millisecond)

	env.bus.Publish(events.Event{
		Type: events.EventRewardsUpdated,
		Data: map[string]interface{}{"user_id": testUser, "xp": 10},
	})

	f := next(t, conn, string(events.EventRewardsUpdated))
	assert.Contains(t, string(f.Data), `"xp":10`)
}

func TestWebSocket_LogoutClosesSession(t *testing.T) {
	env := newTestEnv(t, false)
	conn := dialWS(t, env, "")
	next(t, conn, FrameConnected)
	require.Eventually(t, func() bool {
		return env.server.Hub().GetUserClientCount(testUser) == 1
	}, time.Second, 10*time.Millisecond)

	env.bus.PublishUserLogout(testUser)

	require.Eventually(t, func() bool {
		return env.server.Hub().GetUserClientCount(testUser) == 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestWebSocket_QueryTokenAuth(t *testing.T) {
	env := newTestEnv(t, true)
	token, err := env.jwt.GenerateAccessToken(auth.UserClaims{UserID: "ws-user", SubscriptionTier: "trader"})
	require.NoError(t, err)

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(base+"?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	f := next(t, conn, FrameConnected)
	assert.Contains(t, string(f.Data), "ws-user")
}

func TestUserWSHub_BroadcastWithoutClients(t *testing.T) {
	env := newTestEnv(t, false)
	hub := env.server.Hub()

	// No connections: nothing to deliver, nothing to panic on.
	hub.BroadcastToUser("nobody", events.Event{Type: events.EventRewardsUpdated})
	hub.DisconnectUser("nobody")
	assert.Equal(t, 0, hub.GetTotalClientCount())
	assert.Empty(t, hub.GetConnectedUsers())
}
