package store

import (
	"context"
	"fmt"
	"sort"
	"time"
)

type EmotionCount struct {
	Name  string `gorm:"column:name"`
	Count int64  `gorm:"column:count"`
}

// Stats is the system-wide prediction summary.
type Stats struct {
	Total             int64
	MostCommon        *EmotionCount // nil when the log is empty
	AverageConfidence float64
	ByEmotion         map[string]int64
}

type RecentPrediction struct {
	ID         int64     `gorm:"column:id"`
	Timestamp  time.Time `gorm:"column:ts"`
	Emotion    string    `gorm:"column:emotion"`
	Confidence float64   `gorm:"column:confidence"`
	SourceIP   *string   `gorm:"column:source_ip"`
}

// DayCount is the number of predictions logged on one UTC calendar day.
type DayCount struct {
	Date  string `gorm:"column:day"`
	Count int64  `gorm:"column:count"`
}

type EmotionStats struct {
	Emotion           EmotionClass
	Total             int64
	AverageConfidence float64
	LastPrediction    *time.Time
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	db := s.db.WithContext(ctx)
	out := Stats{ByEmotion: map[string]int64{}}

	if err := db.Model(&PredictionLog{}).Count(&out.Total).Error; err != nil {
		return Stats{}, fmt.Errorf("count predictions: %w", err)
	}
	if err := db.Model(&PredictionLog{}).
		Select("COALESCE(AVG(confidence), 0)").
		Row().Scan(&out.AverageConfidence); err != nil {
		return Stats{}, fmt.Errorf("average confidence: %w", err)
	}

	var counts []EmotionCount
	err := db.Table("predictions_log AS p").
		Select("e.emotion_name AS name, COUNT(p.predic_id) AS count").
		Joins("JOIN emotion_class AS e ON e.emotion_id = p.emotion_id").
		Group("e.emotion_name").
		Scan(&counts).Error
	if err != nil {
		return Stats{}, fmt.Errorf("predictions by emotion: %w", err)
	}

	// ties resolve alphabetically so the answer is stable
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Name < counts[j].Name
	})
	for _, c := range counts {
		out.ByEmotion[c.Name] = c.Count
	}
	if len(counts) > 0 {
		top := counts[0]
		out.MostCommon = &top
	}
	return out, nil
}

// Recent returns the newest limit predictions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]RecentPrediction, error) {
	var rows []RecentPrediction
	err := s.db.WithContext(ctx).Table("predictions_log AS p").
		Select(`p.predic_id AS id, p."timestamp" AS ts, e.emotion_name AS emotion, p.confidence AS confidence, p.source_ip AS source_ip`).
		Joins("JOIN emotion_class AS e ON e.emotion_id = p.emotion_id").
		Order(`p."timestamp" DESC, p.predic_id DESC`).
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent predictions: %w", err)
	}
	return rows, nil
}

// Timeline counts predictions per UTC day from since onwards, oldest day
// first. Days without predictions are omitted.
func (s *Store) Timeline(ctx context.Context, since time.Time) ([]DayCount, error) {
	day := `strftime('%Y-%m-%d', "timestamp")`
	if s.dialect == DialectPostgres {
		day = `to_char("timestamp" AT TIME ZONE 'UTC', 'YYYY-MM-DD')`
	}

	var rows []DayCount
	err := s.db.WithContext(ctx).Model(&PredictionLog{}).
		Select(day+" AS day, COUNT(predic_id) AS count").
		Where(`"timestamp" >= ?`, since.UTC()).
		Group("day").
		Order("day ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("prediction timeline: %w", err)
	}
	return rows, nil
}

// EmotionStats summarises predictions for a single label. Unknown labels
// return ErrNotFound.
func (s *Store) EmotionStats(ctx context.Context, name string) (EmotionStats, error) {
	var emotion EmotionClass
	if err := s.db.WithContext(ctx).Where("emotion_name = ?", name).First(&emotion).Error; err != nil {
		return EmotionStats{}, notFound(err)
	}

	db := s.db.WithContext(ctx)
	out := EmotionStats{Emotion: emotion}
	if err := db.Model(&PredictionLog{}).
		Where("emotion_id = ?", emotion.ID).
		Count(&out.Total).Error; err != nil {
		return EmotionStats{}, err
	}
	if err := db.Model(&PredictionLog{}).
		Select("COALESCE(AVG(confidence), 0)").
		Where("emotion_id = ?", emotion.ID).
		Row().Scan(&out.AverageConfidence); err != nil {
		return EmotionStats{}, err
	}

	var last []PredictionLog
	if err := db.Where("emotion_id = ?", emotion.ID).
		Order(`"timestamp" DESC`).
		Limit(1).
		Find(&last).Error; err != nil {
		return EmotionStats{}, err
	}
	if len(last) == 1 {
		ts := last[0].Timestamp.UTC()
		out.LastPrediction = &ts
	}
	return out, nil
}
