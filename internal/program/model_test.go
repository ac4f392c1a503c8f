package program

import (
	"errors"
	"testing"
)

func validTemplate() Template {
	day := 3
	return Template{
		TemplateID: "tpl-1",
		OwnerID:    "user-1",
		Name:       "Push Day",
		DayOfWeek:  &day,
	}
}

func validExercise() Exercise {
	return Exercise{
		ExerciseID: "ex-1",
		TemplateID: "tpl-1",
		OrderIndex: 0,
		Name:       "Bench Press",
		TargetSets: 3,
		TargetReps: 8,
	}
}

func TestTemplateValidate(t *testing.T) {
	if err := validTemplate().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(tpl *Template)
	}{
		{name: "missing-id", mutate: func(tpl *Template) { tpl.TemplateID = "" }},
		{name: "missing-owner", mutate: func(tpl *Template) { tpl.OwnerID = " " }},
		{name: "missing-name", mutate: func(tpl *Template) { tpl.Name = "" }},
		{name: "day-out-of-range", mutate: func(tpl *Template) { day := 9; tpl.DayOfWeek = &day }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := validTemplate()
			tt.mutate(&tpl)
			if err := tpl.Validate(); !errors.Is(err, ErrInvalidTemplate) {
				t.Fatalf("expected ErrInvalidTemplate, got %v", err)
			}
		})
	}
}

func TestExerciseValidate(t *testing.T) {
	if err := validExercise().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(ex *Exercise)
	}{
		{name: "missing-id", mutate: func(ex *Exercise) { ex.ExerciseID = "" }},
		{name: "missing-template", mutate: func(ex *Exercise) { ex.TemplateID = "" }},
		{name: "missing-name", mutate: func(ex *Exercise) { ex.Name = " " }},
		{name: "negative-order", mutate: func(ex *Exercise) { ex.OrderIndex = -1 }},
		{name: "zero-target-sets", mutate: func(ex *Exercise) { ex.TargetSets = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := validExercise()
			tt.mutate(&ex)
			if err := ex.Validate(); !errors.Is(err, ErrInvalidExercise) {
				t.Fatalf("expected ErrInvalidExercise, got %v", err)
			}
		})
	}
}
