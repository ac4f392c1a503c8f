package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/cadence/internal/program"
	"github.com/MarcoPoloResearchLab/cadence/internal/workout"
)

// sqliteStore is the structured primary backend, built on GORM over the pure
// Go SQLite driver.
type sqliteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&workout.Session{},
		&workout.LogEntry{},
		&program.Template{},
		&program.Exercise{},
		&OutboundItem{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	logger.Info("structured store initialized", zap.String("path", path))

	return &sqliteStore{db: db, logger: logger}, nil
}

func (s *sqliteStore) PutSession(ctx context.Context, session *workout.Session) error {
	return s.db.WithContext(ctx).Save(session).Error
}

func (s *sqliteStore) SessionByID(ctx context.Context, sessionID string) (*workout.Session, error) {
	var session workout.Session
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *sqliteStore) ActiveSession(ctx context.Context) (*workout.Session, error) {
	var session workout.Session
	err := s.db.WithContext(ctx).
		Where("status = ?", workout.SessionStatusActive).
		Order("started_at_s DESC").
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *sqliteStore) AppendLogEntry(ctx context.Context, entry *workout.LogEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry).Error
}

func (s *sqliteStore) LogEntries(ctx context.Context, sessionID string) ([]workout.LogEntry, error) {
	var entries []workout.LogEntry
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at_s ASC, entry_id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *sqliteStore) UpsertTemplate(ctx context.Context, template *program.Template, exercises []program.Exercise) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(template).Error; err != nil {
			return err
		}
		for index := range exercises {
			if err := tx.Save(&exercises[index]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) UpsertExercise(ctx context.Context, exercise *program.Exercise) error {
	return s.db.WithContext(ctx).Save(exercise).Error
}

func (s *sqliteStore) TemplateByID(ctx context.Context, templateID string) (*program.Template, error) {
	var template program.Template
	err := s.db.WithContext(ctx).
		Where("template_id = ?", templateID).
		Take(&template).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &template, nil
}

func (s *sqliteStore) Templates(ctx context.Context) ([]program.Template, error) {
	var templates []program.Template
	err := s.db.WithContext(ctx).
		Order("name ASC, template_id ASC").
		Find(&templates).Error
	if err != nil {
		return nil, err
	}
	return templates, nil
}

func (s *sqliteStore) TemplateExercises(ctx context.Context, templateID string) ([]program.Exercise, error) {
	var exercises []program.Exercise
	err := s.db.WithContext(ctx).
		Where("template_id = ?", templateID).
		Order("order_index ASC, exercise_id ASC").
		Find(&exercises).Error
	if err != nil {
		return nil, err
	}
	return exercises, nil
}

func (s *sqliteStore) EnqueueOutbound(ctx context.Context, item *OutboundItem) error {
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *sqliteStore) PendingOutbound(ctx context.Context) ([]OutboundItem, error) {
	var items []OutboundItem
	err := s.db.WithContext(ctx).
		Order("seq ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *sqliteStore) MarkOutboundAttempt(ctx context.Context, seq uint64, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&OutboundItem{}).
		Where("seq = ?", seq).
		Update("last_attempt_s", at.UTC().Unix()).Error
}

func (s *sqliteStore) DeleteOutbound(ctx context.Context, seq uint64) error {
	return s.db.WithContext(ctx).
		Where("seq = ?", seq).
		Delete(&OutboundItem{}).Error
}

func (s *sqliteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
