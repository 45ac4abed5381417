package handlers

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, env *testEnv, header http.Header) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, srv
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestWebSocketSession(t *testing.T) {
	env := newTestEnv(t, 0)
	conn, _ := dialWS(t, env, nil)

	welcome := readFrame(t, conn)
	assert.Equal(t, "welcome", welcome["type"])
	assert.Equal(t, APIVersion, welcome["version"])
	commands := welcome["commands"].(map[string]interface{})
	for _, name := range []string{"predict", "emotions", "model_info", "health"} {
		assert.Contains(t, commands, name)
	}

	img := base64.StdEncoding.EncodeToString(pngImage(t, 50, 50))
	require.NoError(t, conn.WriteJSON(map[string]string{"command": "predict", "image": img}))
	frame := readFrame(t, conn)
	require.Equal(t, "prediction", frame["type"], frame)
	assert.Equal(t, "success", frame["status"])
	assert.Equal(t, "happy", frame["emotion_name"])
	assert.Equal(t, 0.8765, frame["confidence"])
	assert.Equal(t, "v1.0.0", frame["model_version_tag"])
	assert.NotEmpty(t, frame["timestamp"])
	assert.True(t, env.predictor.lastIdentity().Anonymous())

	// invalid input keeps the connection usable
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "invalid JSON", frame["message"])

	require.NoError(t, conn.WriteJSON(map[string]string{"command": "dance"}))
	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "unknown command: dance", frame["message"])

	require.NoError(t, conn.WriteJSON(map[string]string{"command": "predict", "image": "%%%"}))
	frame = readFrame(t, conn)
	assert.Equal(t, "invalid base64 image", frame["message"])

	require.NoError(t, conn.WriteJSON(map[string]string{"command": "predict", "image": base64.StdEncoding.EncodeToString([]byte("not an image"))}))
	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["message"], "invalid image")

	require.NoError(t, conn.WriteJSON(map[string]string{"command": "emotions"}))
	frame = readFrame(t, conn)
	assert.Equal(t, "emotions", frame["type"])
	assert.Len(t, frame["emotions"], 7)

	require.NoError(t, conn.WriteJSON(map[string]string{"command": "model_info"}))
	frame = readFrame(t, conn)
	assert.Equal(t, "model_info", frame["type"])
	assert.Equal(t, "loaded", frame["info"].(map[string]interface{})["status"])

	require.NoError(t, conn.WriteJSON(map[string]string{"command": "health"}))
	frame = readFrame(t, conn)
	assert.Equal(t, "health", frame["type"])
	assert.Equal(t, "healthy", frame["status"])
	assert.Equal(t, 1.0, frame["clients_connected"])

	n, err := env.store.CountPredictions(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestWebSocketPredictWithToken(t *testing.T) {
	env := newTestEnv(t, 0)
	tok := env.token(t, "frank", "secret123")
	conn, _ := dialWS(t, env, nil)
	readFrame(t, conn)

	img := base64.StdEncoding.EncodeToString(pngImage(t, 20, 20))
	require.NoError(t, conn.WriteJSON(map[string]string{"image": img, "token": tok}))
	frame := readFrame(t, conn)
	require.Equal(t, "prediction", frame["type"], frame)

	id := env.predictor.lastIdentity()
	assert.Equal(t, "frank", id.Username)

	require.NoError(t, conn.WriteJSON(map[string]string{"image": img, "token": "bogus"}))
	frame = readFrame(t, conn)
	require.Equal(t, "prediction", frame["type"], frame)
	assert.True(t, env.predictor.lastIdentity().Anonymous())
}

func TestWebSocketHandshakeIdentity(t *testing.T) {
	env := newTestEnv(t, 0)
	tok := env.token(t, "grace", "secret123")
	conn, _ := dialWS(t, env, http.Header{"Authorization": []string{"Bearer " + tok}})
	readFrame(t, conn)

	img := base64.StdEncoding.EncodeToString(pngImage(t, 20, 20))
	require.NoError(t, conn.WriteJSON(map[string]string{"command": "predict", "image": img}))
	frame := readFrame(t, conn)
	require.Equal(t, "prediction", frame["type"], frame)
	assert.Equal(t, "grace", env.predictor.lastIdentity().Username)
}

func TestWebSocketClientTracking(t *testing.T) {
	env := newTestEnv(t, 0)
	conn, _ := dialWS(t, env, nil)
	readFrame(t, conn)

	assert.Equal(t, 1, env.handler.ClientCount())

	env.handler.CloseWebSockets()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err)

	assert.Eventually(t, func() bool { return env.handler.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, 0)
	env.handler.upgrader.CheckOrigin = originChecker([]string{"https://app.example.com"})
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDecodeCommand(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	std := base64.StdEncoding.EncodeToString(png)
	raw := base64.RawStdEncoding.EncodeToString(png)

	tests := []struct {
		name    string
		in      string
		want    Command
		wantErr string
	}{
		{name: "missing command predicts", in: `{"image":"` + std + `"}`, want: PredictCommand{Image: png}},
		{name: "unpadded base64", in: `{"command":"predict","image":"` + raw + `"}`, want: PredictCommand{Image: png}},
		{name: "data url", in: `{"image":"data:image/png;base64,` + std + `","token":" t "}`, want: PredictCommand{Image: png, Token: "t"}},
		{name: "emotions", in: `{"command":"emotions"}`, want: EmotionsCommand{}},
		{name: "model info", in: `{"command":"model_info"}`, want: ModelInfoCommand{}},
		{name: "health", in: `{"command":"health"}`, want: HealthCommand{}},
		{name: "missing image", in: `{"command":"predict"}`, wantErr: "field 'image' is required"},
		{name: "blank image", in: `{"image":"  "}`, wantErr: "field 'image' is required"},
		{name: "empty after decode", in: `{"image":"="}`, wantErr: "the image is empty"},
		{name: "bad base64", in: `{"image":"%%%"}`, wantErr: "invalid base64 image"},
		{name: "bad json", in: `[1,2`, wantErr: "invalid JSON"},
		{name: "unknown", in: `{"command":"shutdown"}`, wantErr: "unknown command: shutdown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCommand([]byte(tt.in))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
