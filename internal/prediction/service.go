// Package prediction runs an image through normalization, inference and the
// prediction log, and produces the result every transport returns.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Brownie44l1/visionai-api/internal/auth"
	"github.com/Brownie44l1/visionai-api/internal/logger"
	"github.com/Brownie44l1/visionai-api/internal/metrics"
	"github.com/Brownie44l1/visionai-api/internal/model"
	"github.com/Brownie44l1/visionai-api/internal/store"
)

// ErrValidation wraps every failure caused by the submitted image itself.
var ErrValidation = errors.New("invalid image")

// Model version reported when no active model_version row can be read.
const (
	DefaultModelTag = "v1.0.0"
	DefaultModelID  = 1
)

type Normalizer interface {
	Normalize(data []byte) (model.Tensor, error)
}

type Classifier interface {
	Classify(t model.Tensor) (*model.Classification, error)
}

type Store interface {
	ActiveModel(ctx context.Context) (store.ModelVersion, error)
	EmotionIDByName(ctx context.Context, name string) (int, error)
	CreatePrediction(ctx context.Context, p *store.PredictionLog) error
}

type Result struct {
	EmotionName      string  `json:"emotion_name"`
	Confidence       float64 `json:"confidence"`
	ModelVersionTag  string  `json:"model_version_tag"`
	ProcessingTimeMS int     `json:"processing_time_ms"`
}

type Service struct {
	normalizer Normalizer
	classifier Classifier
	store      Store
	metrics    *metrics.Metrics
	log        *logger.Logger
	now        func() time.Time
}

func NewService(n Normalizer, c Classifier, s Store, m *metrics.Metrics, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		normalizer: n,
		classifier: c,
		store:      s,
		metrics:    m,
		log:        log.With("service", "PredictionService"),
		now:        time.Now,
	}
}

// Predict classifies image and appends one row to the prediction log. A
// failed log write is logged and counted but never fails the call.
func (s *Service) Predict(ctx context.Context, image []byte, sourceIP string, id auth.Identity) (Result, error) {
	start := s.now()
	if len(image) == 0 {
		return Result{}, fmt.Errorf("%w: empty image", ErrValidation)
	}

	tensor, err := s.normalizer.Normalize(image)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	cls, err := s.classifier.Classify(tensor)
	if err != nil {
		if errors.Is(err, model.ErrShapeMismatch) {
			return Result{}, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return Result{}, fmt.Errorf("classify: %w", err)
	}

	mv := s.activeModel(ctx)
	emotionID, err := s.emotionID(ctx, cls.Label)
	if err != nil {
		return Result{}, err
	}

	elapsed := int(s.now().Sub(start).Milliseconds())
	if elapsed < 1 {
		elapsed = 1
	}
	res := Result{
		EmotionName:      cls.Label,
		Confidence:       round4(float64(cls.Confidence)),
		ModelVersionTag:  mv.Tag,
		ProcessingTimeMS: elapsed,
	}

	row := &store.PredictionLog{
		EmotionID:        emotionID,
		Confidence:       res.Confidence,
		ModelID:          mv.ID,
		ProcessingTimeMS: elapsed,
		Timestamp:        s.now().UTC(),
	}
	if sourceIP != "" {
		row.SourceIP = &sourceIP
	}
	if !id.Anonymous() {
		userID := id.UserID
		row.UserID = &userID
	}
	s.persist(ctx, row)

	s.log.Info("prediction completed",
		"emotion", res.EmotionName,
		"confidence", res.Confidence,
		"processing_time_ms", res.ProcessingTimeMS,
		"user_id", id.UserID,
	)
	return res, nil
}

func (s *Service) persist(ctx context.Context, row *store.PredictionLog) {
	if s.store == nil {
		return
	}
	// the response is already decided, a client hang-up should not drop the row
	if err := s.store.CreatePrediction(context.WithoutCancel(ctx), row); err != nil {
		s.metrics.PersistenceFailed()
		s.log.Error("failed to write prediction log", "error", err, "emotion_id", row.EmotionID)
	}
}

func (s *Service) activeModel(ctx context.Context) store.ModelVersion {
	fallback := store.ModelVersion{ID: DefaultModelID, Tag: DefaultModelTag}
	if s.store == nil {
		return fallback
	}
	mv, err := s.store.ActiveModel(ctx)
	if err != nil {
		s.log.Warn("no active model version, using default", "error", err, "tag", DefaultModelTag)
		return fallback
	}
	return mv
}

func (s *Service) emotionID(ctx context.Context, label string) (int, error) {
	if s.store != nil {
		id, err := s.store.EmotionIDByName(ctx, label)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, store.ErrNotFound) {
			s.log.Warn("label missing from stored taxonomy, using built-in table", "label", label)
		} else {
			s.log.Warn("taxonomy lookup failed, using built-in table", "error", err)
		}
	}
	for _, e := range store.DefaultEmotions {
		if e.Name == label {
			return e.ID, nil
		}
	}
	return 0, fmt.Errorf("label %q is not in the emotion taxonomy", label)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
