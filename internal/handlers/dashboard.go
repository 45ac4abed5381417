package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/visionai-api/internal/store"
)

type mostCommonResponse struct {
	Name  *string `json:"name"`
	Count int64   `json:"count"`
}

type statsResponse struct {
	TotalPredictions     int64              `json:"total_predictions"`
	MostCommonEmotion    mostCommonResponse `json:"most_common_emotion"`
	AverageConfidence    float64            `json:"average_confidence"`
	PredictionsByEmotion map[string]int64   `json:"predictions_by_emotion"`
}

type recentEntry struct {
	ID         int64   `json:"id"`
	Timestamp  string  `json:"timestamp"`
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
	SourceIP   *string `json:"source_ip"`
}

type timelineEntry struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

func (h *Handler) DashboardStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.log.Error("dashboard stats failed", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to load statistics")
		return
	}

	resp := statsResponse{
		TotalPredictions:     stats.Total,
		AverageConfidence:    stats.AverageConfidence,
		PredictionsByEmotion: stats.ByEmotion,
	}
	if stats.MostCommon != nil {
		name := stats.MostCommon.Name
		resp.MostCommonEmotion = mostCommonResponse{Name: &name, Count: stats.MostCommon.Count}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) DashboardRecent(c *gin.Context) {
	limit, ok := boundedQuery(c, "limit", 10, 1, 100)
	if !ok {
		return
	}

	rows, err := h.store.Recent(c.Request.Context(), limit)
	if err != nil {
		h.log.Error("recent predictions failed", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to load recent predictions")
		return
	}

	entries := make([]recentEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, recentEntry{
			ID:         r.ID,
			Timestamp:  r.Timestamp.UTC().Format(time.RFC3339),
			Emotion:    r.Emotion,
			Confidence: r.Confidence,
			SourceIP:   r.SourceIP,
		})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "predictions": entries})
}

func (h *Handler) DashboardTimeline(c *gin.Context) {
	days, ok := boundedQuery(c, "days", 7, 1, 30)
	if !ok {
		return
	}

	since := h.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	rows, err := h.store.Timeline(c.Request.Context(), since)
	if err != nil {
		h.log.Error("timeline failed", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to load timeline")
		return
	}

	entries := make([]timelineEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, timelineEntry{Date: r.Date, Count: r.Count})
	}
	c.JSON(http.StatusOK, gin.H{"period_days": days, "timeline": entries})
}

func (h *Handler) DashboardEmotion(c *gin.Context) {
	name := c.Param("name")
	stats, err := h.store.EmotionStats(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, fmt.Sprintf("emotion '%s' not found", name))
			return
		}
		h.log.Error("emotion stats failed", "error", err, "emotion", name)
		respondError(c, http.StatusInternalServerError, "failed to load emotion statistics")
		return
	}

	var last *string
	if stats.LastPrediction != nil {
		ts := stats.LastPrediction.UTC().Format(time.RFC3339)
		last = &ts
	}
	c.JSON(http.StatusOK, gin.H{
		"emotion": emotionResponse{
			ID:          stats.Emotion.ID,
			Name:        stats.Emotion.Name,
			Description: stats.Emotion.Description,
		},
		"statistics": gin.H{
			"total_predictions":  stats.Total,
			"average_confidence": stats.AverageConfidence,
			"last_prediction":    last,
		},
	})
}

// boundedQuery reads an integer query parameter, answering 400 itself when
// the value is malformed or out of range.
func boundedQuery(c *gin.Context, key string, def, lo, hi int) (int, bool) {
	raw, present := c.GetQuery(key)
	if !present || raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("%s must be an integer between %d and %d", key, lo, hi))
		return 0, false
	}
	return v, true
}
