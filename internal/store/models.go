package store

import "time"

// ModelStatusActive marks the model_version row currently serving.
const ModelStatusActive = "01"

type EmotionClass struct {
	ID          int    `gorm:"column:emotion_id;primaryKey"`
	Name        string `gorm:"column:emotion_name"`
	Description string `gorm:"column:emotion_desc"`
}

func (EmotionClass) TableName() string { return "emotion_class" }

type ModelVersion struct {
	ID           int       `gorm:"column:model_id;primaryKey"`
	Tag          string    `gorm:"column:model_version_tag"`
	Filename     string    `gorm:"column:model_filename"`
	Status       string    `gorm:"column:model_status"`
	CreationDate time.Time `gorm:"column:creation_date;autoCreateTime"`
}

func (ModelVersion) TableName() string { return "model_version" }

type User struct {
	ID             int       `gorm:"column:user_id;primaryKey"`
	Username       string    `gorm:"column:username"`
	HashedPassword string    `gorm:"column:hashed_password"`
	IsActive       bool      `gorm:"column:is_active"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (User) TableName() string { return "users" }

// PredictionLog is one row per successful prediction. Rows are only ever
// inserted.
type PredictionLog struct {
	ID               int64     `gorm:"column:predic_id;primaryKey"`
	EmotionID        int       `gorm:"column:emotion_id"`
	Confidence       float64   `gorm:"column:confidence"`
	ModelID          int       `gorm:"column:model_id"`
	ProcessingTimeMS int       `gorm:"column:processing_time_ms"`
	SourceIP         *string   `gorm:"column:source_ip"`
	UserID           *int      `gorm:"column:user_id"`
	Timestamp        time.Time `gorm:"column:timestamp"`
}

func (PredictionLog) TableName() string { return "predictions_log" }

// DefaultEmotions mirrors the taxonomy seeded by the first migration. It is
// served when the table cannot be read.
var DefaultEmotions = []EmotionClass{
	{ID: 1, Name: "angry", Description: "Enojo o ira"},
	{ID: 2, Name: "disgust", Description: "Disgusto o asco"},
	{ID: 3, Name: "fear", Description: "Miedo o temor"},
	{ID: 4, Name: "happy", Description: "Felicidad o alegría"},
	{ID: 5, Name: "neutral", Description: "Neutral o sin emoción aparente"},
	{ID: 6, Name: "sad", Description: "Tristeza"},
	{ID: 7, Name: "surprise", Description: "Sorpresa"},
}
