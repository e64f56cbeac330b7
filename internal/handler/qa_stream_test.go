package handler

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, env *testEnv, tok string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/qa/ws?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestStream_ChunksThenCompletion(t *testing.T) {
	env := newTestEnv()
	env.qa.chunks = []string{"Theo ", "hợp đồng"}
	conn := dialWS(t, env, env.token(t, "alice", ""))

	require.NoError(t, conn.WriteJSON(map[string]string{"question": "hạn thanh toán?"}))

	assert.Equal(t, map[string]interface{}{"type": "chunk", "content": "Theo "}, readFrame(t, conn))
	assert.Equal(t, map[string]interface{}{"type": "chunk", "content": "hợp đồng"}, readFrame(t, conn))
	done := readFrame(t, conn)
	assert.Equal(t, "completion", done["type"])
	assert.Equal(t, "finished", done["status"])
	assert.Equal(t, "s-1", done["sessionId"])
	citations, ok := done["citations"].([]interface{})
	require.True(t, ok)
	assert.Len(t, citations, 1)

	env.qa.mu.Lock()
	defer env.qa.mu.Unlock()
	require.Len(t, env.qa.asked, 1)
	assert.Equal(t, "alice", env.qa.asked[0].OwnerID)
}

func TestStream_Errors(t *testing.T) {
	env := newTestEnv()
	conn := dialWS(t, env, env.token(t, "alice", ""))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, "error", readFrame(t, conn)["type"])

	env.qa.mu.Lock()
	env.qa.err = errors.New("redis down")
	env.qa.mu.Unlock()
	require.NoError(t, conn.WriteJSON(map[string]string{"question": "q"}))
	errFrame := readFrame(t, conn)
	assert.Equal(t, "error", errFrame["type"])
	assert.NotContains(t, errFrame["message"], "redis")
	done := readFrame(t, conn)
	assert.Equal(t, "completion", done["type"])
	assert.Equal(t, "error", done["status"])
}

func TestStream_RejectsMissingToken(t *testing.T) {
	env := newTestEnv()
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/qa/ws", nil)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}
