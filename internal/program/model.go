package program

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidTemplate indicates that a program template is missing required fields.
	ErrInvalidTemplate = errors.New("program: invalid template")
	// ErrInvalidExercise indicates that a template exercise is missing required fields.
	ErrInvalidExercise = errors.New("program: invalid template exercise")
)

// Template models a named workout program owned by the primary device and
// propagated to the companion as a read-mostly cache. Identity is globally
// stable, which is what makes repeated merge application idempotent.
type Template struct {
	TemplateID       string `gorm:"column:template_id;primaryKey;size:190;not null"`
	OwnerID          string `gorm:"column:owner_id;size:190;not null;index:idx_templates_owner"`
	Name             string `gorm:"column:name;size:190;not null"`
	DayOfWeek        *int   `gorm:"column:day_of_week"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Template) TableName() string {
	return "program_templates"
}

// Validate checks the fields the merge engine requires before upserting.
func (t Template) Validate() error {
	if err := validIdentifier(t.TemplateID); err != nil {
		return fmt.Errorf("%w: template id %v", ErrInvalidTemplate, err)
	}
	if err := validIdentifier(t.OwnerID); err != nil {
		return fmt.Errorf("%w: owner id %v", ErrInvalidTemplate, err)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTemplate)
	}
	if t.DayOfWeek != nil && (*t.DayOfWeek < 1 || *t.DayOfWeek > 7) {
		return fmt.Errorf("%w: day of week out of range", ErrInvalidTemplate)
	}
	return nil
}

// Exercise models one exercise slot inside a template, with the targets the
// companion needs to drive a workout offline.
type Exercise struct {
	ExerciseID      string  `gorm:"column:exercise_id;primaryKey;size:190;not null"`
	TemplateID      string  `gorm:"column:template_id;size:190;not null;index:idx_exercises_template"`
	OrderIndex      int     `gorm:"column:order_index;not null"`
	Name            string  `gorm:"column:name;size:190;not null"`
	TargetSets      int     `gorm:"column:target_sets;not null"`
	TargetReps      int     `gorm:"column:target_reps;not null"`
	TargetWeightKg  float64 `gorm:"column:target_weight_kg;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Exercise) TableName() string {
	return "template_exercises"
}

// Validate checks the fields the merge engine requires before upserting.
func (e Exercise) Validate() error {
	if err := validIdentifier(e.ExerciseID); err != nil {
		return fmt.Errorf("%w: exercise id %v", ErrInvalidExercise, err)
	}
	if err := validIdentifier(e.TemplateID); err != nil {
		return fmt.Errorf("%w: template id %v", ErrInvalidExercise, err)
	}
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidExercise)
	}
	if e.OrderIndex < 0 {
		return fmt.Errorf("%w: negative order index", ErrInvalidExercise)
	}
	if e.TargetSets < 1 {
		return fmt.Errorf("%w: target sets must be positive", ErrInvalidExercise)
	}
	return nil
}

func validIdentifier(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return errors.New("empty")
	}
	if len(trimmed) > maxIdentifierLength {
		return fmt.Errorf("exceeds %d characters", maxIdentifierLength)
	}
	return nil
}
