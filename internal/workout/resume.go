package workout

import (
	"sort"

	"github.com/MarcoPoloResearchLab/cadence/internal/program"
)

// ResumePoint is the position a user should continue a workout from, derived
// purely from historical log entries. ExerciseIndex addresses the session's
// ordered exercise list; SetIndex is the last set number already logged for
// that exercise, so the next set to perform is SetIndex+1. Done reports that
// every exercise has been fully logged and the session is completable.
type ResumePoint struct {
	ExerciseIndex int
	SetIndex      int
	Done          bool
}

// Resume replays the append-only set log for a session and derives the resume
// point. It is intentionally free of I/O and clock access: the log alone must
// be enough to survive app kill, device reboot, or prolonged unreachability.
// Exercises must be the session's ordered exercise list.
func Resume(exercises []program.Exercise, entries []LogEntry) ResumePoint {
	if len(exercises) == 0 {
		return ResumePoint{Done: true}
	}
	if len(entries) == 0 {
		return ResumePoint{ExerciseIndex: 0, SetIndex: 0}
	}

	ordered := make([]LogEntry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAtSeconds != ordered[j].CreatedAtSeconds {
			return ordered[i].CreatedAtSeconds < ordered[j].CreatedAtSeconds
		}
		return ordered[i].EntryID < ordered[j].EntryID
	})

	last := ordered[len(ordered)-1]
	point := ResumePoint{ExerciseIndex: last.ExerciseIndex, SetIndex: last.SetNumber}
	if point.ExerciseIndex >= len(exercises) || point.ExerciseIndex < 0 {
		return ResumePoint{ExerciseIndex: point.ExerciseIndex, SetIndex: point.SetIndex, Done: true}
	}
	if last.SetNumber >= exercises[point.ExerciseIndex].TargetSets {
		point = ResumePoint{ExerciseIndex: point.ExerciseIndex + 1, SetIndex: 0}
	}
	if point.ExerciseIndex >= len(exercises) {
		point.Done = true
	}
	return point
}
