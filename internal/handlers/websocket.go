package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Brownie44l1/visionai-api/internal/auth"
	"github.com/Brownie44l1/visionai-api/internal/prediction"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// Command is one decoded WebSocket message. The concrete type selects the
// reply.
type Command interface {
	Name() string
}

type PredictCommand struct {
	Image []byte
	Token string
}

type EmotionsCommand struct{}

type ModelInfoCommand struct{}

type HealthCommand struct{}

func (PredictCommand) Name() string   { return "predict" }
func (EmotionsCommand) Name() string  { return "emotions" }
func (ModelInfoCommand) Name() string { return "model_info" }
func (HealthCommand) Name() string    { return "health" }

var commandHelp = map[string]string{
	"predict":    "send {\"command\": \"predict\", \"image\": \"<base64>\"} to classify an image",
	"emotions":   "send {\"command\": \"emotions\"} to list the available emotions",
	"model_info": "send {\"command\": \"model_info\"} to describe the loaded model",
	"health":     "send {\"command\": \"health\"} to check the service",
}

type wireCommand struct {
	Command *string `json:"command"`
	Image   *string `json:"image"`
	Token   string  `json:"token"`
}

// DecodeCommand parses a text frame into its Command. A frame without a
// command is a predict request. The returned error text is safe to send back
// to the client.
func DecodeCommand(raw []byte) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, errors.New("invalid JSON")
	}

	name := "predict"
	if w.Command != nil {
		name = strings.TrimSpace(*w.Command)
	}

	switch name {
	case "predict":
		if w.Image == nil || strings.TrimSpace(*w.Image) == "" {
			return nil, errors.New("field 'image' is required")
		}
		data, err := decodeImage(*w.Image)
		if err != nil {
			return nil, errors.New("invalid base64 image")
		}
		if len(data) == 0 {
			return nil, errors.New("the image is empty")
		}
		return PredictCommand{Image: data, Token: strings.TrimSpace(w.Token)}, nil
	case "emotions":
		return EmotionsCommand{}, nil
	case "model_info":
		return ModelInfoCommand{}, nil
	case "health":
		return HealthCommand{}, nil
	default:
		return nil, fmt.Errorf("unknown command: %s", name)
	}
}

// decodeImage accepts standard or unpadded base64, with or without a
// data: URL prefix.
func decodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

type welcomeFrame struct {
	Type     string            `json:"type"`
	Message  string            `json:"message"`
	Version  string            `json:"version"`
	Commands map[string]string `json:"commands"`
}

type predictionFrame struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	prediction.Result
	Timestamp string `json:"timestamp"`
}

type emotionsFrame struct {
	Type     string            `json:"type"`
	Status   string            `json:"status"`
	Emotions []emotionResponse `json:"emotions"`
}

type modelInfoFrame struct {
	Type   string      `json:"type"`
	Status string      `json:"status"`
	Info   interface{} `json:"info"`
}

type healthFrame struct {
	Type             string `json:"type"`
	Status           string `json:"status"`
	Service          string `json:"service"`
	Timestamp        string `json:"timestamp"`
	ClientsConnected int    `json:"clients_connected"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WebSocket upgrades the request and serves commands until the client goes
// away. Messages on one connection are handled in order.
func (h *Handler) WebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err, "client_ip", c.ClientIP())
		return
	}

	h.addClient(conn)
	defer h.removeClient(conn)

	ctx := c.Request.Context()
	base, _ := auth.IdentityFromContext(ctx)
	clientIP := c.ClientIP()
	h.log.Info("websocket client connected", "client_ip", clientIP, "clients", h.ClientCount())

	conn.SetReadLimit(h.maxUploadBytes*4/3 + 64<<10)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go h.keepAlive(conn, done)

	if err := h.writeFrame(conn, welcomeFrame{
		Type:     "welcome",
		Message:  "connected to " + ServiceName,
		Version:  APIVersion,
		Commands: commandHelp,
	}); err != nil {
		return
	}

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.log.Warn("websocket read failed", "error", err, "client_ip", clientIP)
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		reply := h.handleMessage(ctx, raw, clientIP, base)
		if err := h.writeFrame(conn, reply); err != nil {
			h.log.Warn("websocket write failed", "error", err, "client_ip", clientIP)
			return
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, raw []byte, clientIP string, base auth.Identity) interface{} {
	cmd, err := DecodeCommand(raw)
	if err != nil {
		h.metrics.WebSocketMessage("invalid")
		return errorFrame{Type: "error", Message: err.Error()}
	}
	h.metrics.WebSocketMessage(cmd.Name())

	switch cmd := cmd.(type) {
	case PredictCommand:
		return h.wsPredict(ctx, cmd, clientIP, base)
	case EmotionsCommand:
		emotions, err := h.listEmotions(ctx)
		if err != nil {
			h.log.Error("failed to list emotions", "error", err)
			return errorFrame{Type: "error", Message: "failed to list emotions"}
		}
		return emotionsFrame{Type: "emotions", Status: "success", Emotions: emotions}
	case ModelInfoCommand:
		return modelInfoFrame{Type: "model_info", Status: "success", Info: h.model.Info()}
	case HealthCommand:
		status := "healthy"
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := h.store.Ping(pingCtx); err != nil {
			status = "unhealthy"
		}
		return healthFrame{
			Type:             "health",
			Status:           status,
			Service:          ServiceName,
			Timestamp:        h.now().UTC().Format(time.RFC3339),
			ClientsConnected: h.ClientCount(),
		}
	}
	return errorFrame{Type: "error", Message: "unknown command"}
}

func (h *Handler) wsPredict(ctx context.Context, cmd PredictCommand, clientIP string, base auth.Identity) interface{} {
	id := base
	if cmd.Token != "" && h.auth != nil {
		if resolved, err := h.auth.Resolve(ctx, cmd.Token); err == nil {
			id = resolved
		}
	}

	start := h.now()
	res, err := h.predictor.Predict(ctx, cmd.Image, clientIP, id)
	if err != nil {
		if errors.Is(err, prediction.ErrValidation) {
			h.metrics.PredictionFailed("websocket", "validation")
			return errorFrame{Type: "error", Message: err.Error()}
		}
		h.metrics.PredictionFailed("websocket", "internal")
		h.log.Error("websocket prediction failed", "error", err, "client_ip", clientIP)
		return errorFrame{Type: "error", Message: "internal error while processing the image"}
	}
	h.metrics.ObservePrediction("websocket", res.EmotionName, h.now().Sub(start))

	return predictionFrame{
		Type:      "prediction",
		Status:    "success",
		Result:    res,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
}

func (h *Handler) writeFrame(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}

// keepAlive pings the client until done closes. WriteControl is safe to call
// alongside the reader's writes.
func (h *Handler) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) addClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	h.clients[conn] = struct{}{}
	h.clientsMu.Unlock()
	h.metrics.WebSocketConnected()
}

func (h *Handler) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.clientsMu.Unlock()
	if ok {
		h.metrics.WebSocketDisconnected()
	}
	_ = conn.Close()
}

// ClientCount reports the number of open WebSocket connections.
func (h *Handler) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// CloseWebSockets sends a going-away close frame to every client. It is
// registered as an http.Server shutdown hook since hijacked connections are
// not tracked by Shutdown.
func (h *Handler) CloseWebSockets() {
	h.clientsMu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clientsMu.RUnlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}
}
