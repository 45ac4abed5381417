// Package handlers exposes prediction, auth and dashboard operations over
// HTTP (gin) and WebSocket.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Brownie44l1/visionai-api/internal/auth"
	"github.com/Brownie44l1/visionai-api/internal/logger"
	"github.com/Brownie44l1/visionai-api/internal/metrics"
	"github.com/Brownie44l1/visionai-api/internal/model"
	"github.com/Brownie44l1/visionai-api/internal/prediction"
	"github.com/Brownie44l1/visionai-api/internal/store"
)

const (
	ServiceName = "VisionAI Backend"
	APIVersion  = "2.0.0"

	// DefaultMaxUploadBytes caps a single image upload.
	DefaultMaxUploadBytes = 5 << 20
)

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
}

type Predictor interface {
	Predict(ctx context.Context, image []byte, sourceIP string, id auth.Identity) (prediction.Result, error)
}

type ModelService interface {
	Info() model.Info
	Reload() error
}

// DataStore is the read side of the store used by the HTTP surface.
type DataStore interface {
	Ping(ctx context.Context) error
	ListEmotions(ctx context.Context) ([]store.EmotionClass, error)
	Stats(ctx context.Context) (store.Stats, error)
	Recent(ctx context.Context, limit int) ([]store.RecentPrediction, error)
	Timeline(ctx context.Context, since time.Time) ([]store.DayCount, error)
	EmotionStats(ctx context.Context, name string) (store.EmotionStats, error)
}

type Options struct {
	Predictor      Predictor
	Model          ModelService
	Store          DataStore
	Auth           *auth.Service
	Metrics        *metrics.Metrics
	Logger         *logger.Logger
	MaxUploadBytes int64
	AllowedOrigins []string
}

type Handler struct {
	predictor      Predictor
	model          ModelService
	store          DataStore
	auth           *auth.Service
	metrics        *metrics.Metrics
	log            *logger.Logger
	maxUploadBytes int64
	now            func() time.Time

	upgrader  websocket.Upgrader
	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]struct{}
}

func NewHandler(opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &Handler{
		predictor:      opts.Predictor,
		model:          opts.Model,
		store:          opts.Store,
		auth:           opts.Auth,
		metrics:        opts.Metrics,
		log:            log.With("component", "handlers"),
		maxUploadBytes: maxUpload,
		now:            time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Detail: msg})
}

// Predict accepts a multipart image under "file" (or "image") and returns the
// detected emotion.
func (h *Handler) Predict(c *gin.Context) {
	// room for multipart framing on top of the image itself
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+64<<10)

	fh, err := uploadedFile(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.rejectPrediction(c, h.tooLargeMessage())
			return
		}
		h.rejectPrediction(c, "no file provided, use 'file' as the form field name")
		return
	}

	contentType := partContentType(fh)
	if !allowedContentTypes[contentType] {
		h.log.Warn("rejected upload type", "content_type", contentType)
		h.rejectPrediction(c, fmt.Sprintf("unsupported file type: %s, use JPEG, PNG or WEBP", contentType))
		return
	}
	if fh.Size > h.maxUploadBytes {
		h.rejectPrediction(c, h.tooLargeMessage())
		return
	}

	data, err := readPart(fh, h.maxUploadBytes)
	if err != nil {
		h.rejectPrediction(c, "failed to read uploaded file")
		return
	}
	if len(data) == 0 {
		h.rejectPrediction(c, "the file is empty")
		return
	}

	h.log.Debug("processing upload", "filename", fh.Filename, "content_type", contentType, "bytes", len(data))

	id, _ := auth.IdentityFromContext(c.Request.Context())
	start := h.now()
	res, err := h.predictor.Predict(c.Request.Context(), data, c.ClientIP(), id)
	if err != nil {
		if errors.Is(err, prediction.ErrValidation) {
			h.rejectPrediction(c, err.Error())
			return
		}
		h.metrics.PredictionFailed("http", "internal")
		h.log.Error("prediction failed", "error", err, "request_id", c.GetString(requestIDKey))
		respondError(c, http.StatusInternalServerError, "internal error while processing the image")
		return
	}
	h.metrics.ObservePrediction("http", res.EmotionName, h.now().Sub(start))

	c.JSON(http.StatusOK, res)
}

func (h *Handler) rejectPrediction(c *gin.Context, msg string) {
	h.metrics.PredictionFailed("http", "validation")
	respondError(c, http.StatusBadRequest, msg)
}

func (h *Handler) tooLargeMessage() string {
	return fmt.Sprintf("file exceeds the %d byte upload limit", h.maxUploadBytes)
}

func uploadedFile(c *gin.Context) (*multipart.FileHeader, error) {
	fh, err := c.FormFile("file")
	if err == nil {
		return fh, nil
	}
	if errors.Is(err, http.ErrMissingFile) {
		return c.FormFile("image")
	}
	return nil, err
}

func partContentType(fh *multipart.FileHeader) string {
	raw := fh.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return mediaType
}

func readPart(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit+1))
}

type emotionResponse struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func toEmotionResponses(rows []store.EmotionClass) []emotionResponse {
	out := make([]emotionResponse, 0, len(rows))
	for _, e := range rows {
		out = append(out, emotionResponse{ID: e.ID, Name: e.Name, Description: e.Description})
	}
	return out
}

// listEmotions serves the built-in taxonomy when the table is empty.
func (h *Handler) listEmotions(ctx context.Context) ([]emotionResponse, error) {
	rows, err := h.store.ListEmotions(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		rows = store.DefaultEmotions
	}
	return toEmotionResponses(rows), nil
}

func (h *Handler) Emotions(c *gin.Context) {
	emotions, err := h.listEmotions(c.Request.Context())
	if err != nil {
		h.log.Error("failed to list emotions", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to list emotions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"emotions": emotions})
}

func (h *Handler) ModelInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.model.Info())
}

// ReloadModel swaps in a fresh inference session built from the model file.
func (h *Handler) ReloadModel(c *gin.Context) {
	id, _ := auth.IdentityFromContext(c.Request.Context())
	if err := h.model.Reload(); err != nil {
		h.log.Error("model reload failed", "error", err, "username", id.Username)
		respondError(c, http.StatusInternalServerError, "failed to reload model")
		return
	}
	h.log.Info("model reloaded", "username", id.Username)
	c.JSON(http.StatusOK, gin.H{"status": "reloaded", "model": h.model.Info()})
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": ServiceName,
			"error":   "database unavailable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": ServiceName,
		"components": gin.H{
			"api":      "running",
			"model":    h.model.Info().Status,
			"database": "connected",
		},
	})
}

func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "running",
		"version": APIVersion,
		"apis": gin.H{
			"rest":      "active",
			"websocket": "active",
		},
		"model":             h.model.Info(),
		"clients_connected": h.ClientCount(),
	})
}
