package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"
)

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("record already exists")

// ListEmotions returns the taxonomy ordered by id. The result is cached since
// the table only changes through migrations.
func (s *Store) ListEmotions(ctx context.Context) ([]EmotionClass, error) {
	if cached, ok := s.cache.Get(taxonomyCacheKey); ok {
		return cached.([]EmotionClass), nil
	}

	var rows []EmotionClass
	if err := s.db.WithContext(ctx).Order("emotion_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list emotions: %w", err)
	}
	if len(rows) > 0 {
		s.cache.Set(taxonomyCacheKey, rows, cache.DefaultExpiration)
	}
	return rows, nil
}

// EmotionByName resolves a label against the taxonomy.
func (s *Store) EmotionByName(ctx context.Context, name string) (EmotionClass, error) {
	rows, err := s.ListEmotions(ctx)
	if err != nil {
		return EmotionClass{}, err
	}
	for _, e := range rows {
		if e.Name == name {
			return e, nil
		}
	}
	return EmotionClass{}, fmt.Errorf("emotion %q: %w", name, ErrNotFound)
}

func (s *Store) EmotionIDByName(ctx context.Context, name string) (int, error) {
	e, err := s.EmotionByName(ctx, name)
	if err != nil {
		return 0, err
	}
	return e.ID, nil
}

// ActiveModel returns the newest model_version row flagged active.
func (s *Store) ActiveModel(ctx context.Context) (ModelVersion, error) {
	var mv ModelVersion
	err := s.db.WithContext(ctx).
		Where("model_status = ?", ModelStatusActive).
		Order("model_id DESC").
		First(&mv).Error
	if err != nil {
		return ModelVersion{}, notFound(err)
	}
	return mv, nil
}

// RegisterModelVersion inserts a model version. Activating it clears the
// flag on every other row so exactly one stays active.
func (s *Store) RegisterModelVersion(ctx context.Context, tag, filename string, active bool) (ModelVersion, error) {
	status := "00"
	if active {
		status = ModelStatusActive
	}
	mv := ModelVersion{Tag: tag, Filename: filename, Status: status}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if active {
			if err := tx.Model(&ModelVersion{}).
				Where("model_status = ?", ModelStatusActive).
				Update("model_status", "00").Error; err != nil {
				return err
			}
		}
		return tx.Create(&mv).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ModelVersion{}, ErrDuplicate
		}
		return ModelVersion{}, fmt.Errorf("register model version: %w", err)
	}
	return mv, nil
}

func (s *Store) CreateUser(ctx context.Context, username, hashedPassword string) (User, error) {
	now := time.Now().UTC()
	u := User{
		Username:       username,
		HashedPassword: hashedPassword,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, ErrDuplicate
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Store) UserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return User{}, notFound(err)
	}
	return u, nil
}

func (s *Store) UserByID(ctx context.Context, id int) (User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, "user_id = ?", id).Error; err != nil {
		return User{}, notFound(err)
	}
	return u, nil
}

// SetUserActive toggles whether a user may log in.
func (s *Store) SetUserActive(ctx context.Context, id int, active bool) error {
	res := s.db.WithContext(ctx).Model(&User{}).
		Where("user_id = ?", id).
		Updates(map[string]any{
			"is_active":  active,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePrediction appends one row to the prediction log. There is no update
// or delete counterpart.
func (s *Store) CreatePrediction(ctx context.Context, p *PredictionLog) error {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	} else {
		p.Timestamp = p.Timestamp.UTC()
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create prediction log: %w", err)
	}
	return nil
}

func (s *Store) CountPredictions(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&PredictionLog{}).Count(&n).Error
	return n, err
}
