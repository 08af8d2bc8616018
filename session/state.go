package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/casegate/casestore"
)

// ErrInvalidTransition is returned when a transition's invariant does not hold.
var ErrInvalidTransition = errors.New("invalid session transition")

// Stage is the derived position of a session in its workflow.
type Stage string

const (
	StageNoTask     Stage = "no_task"
	StageTaskLoaded Stage = "task_loaded"
	StageVerified   Stage = "verified"
	StageResolved   Stage = "resolved"
)

// Resolution is the subject's terminal decision.
type Resolution string

const (
	ResolutionUnset     Resolution = ""
	ResolutionConfirmed Resolution = "confirmed"
	ResolutionDenied    Resolution = "denied"
)

// ResolutionFromBool maps a yes/no answer to a Resolution.
func ResolutionFromBool(confirmed bool) Resolution {
	if confirmed {
		return ResolutionConfirmed
	}
	return ResolutionDenied
}

// State is the in-memory progress of one conversation.
// The zero value is a fresh session with no task loaded.
type State struct {
	task       *casestore.Record
	verified   bool
	resolution Resolution
	complete   bool
	attempts   int
	loadedAt   time.Time
}

// Task returns a copy of the loaded record, or nil.
func (s *State) Task() *casestore.Record {
	return s.task.Clone()
}

// HasTask reports whether a task is loaded.
func (s *State) HasTask() bool { return s.task != nil }

// TaskID returns the loaded record's id, or "".
func (s *State) TaskID() string {
	if s.task == nil {
		return ""
	}
	return s.task.ID
}

// Verified reports whether the subject passed the challenge for the loaded task.
func (s *State) Verified() bool { return s.verified }

// Resolution returns the recorded decision.
func (s *State) Resolution() Resolution { return s.resolution }

// Complete reports whether the session reached its terminal stage.
func (s *State) Complete() bool { return s.complete }

// Attempts returns the number of failed verification attempts for the loaded task.
func (s *State) Attempts() int { return s.attempts }

// Stage derives the workflow stage.
func (s *State) Stage() Stage {
	switch {
	case s.complete || s.resolution != ResolutionUnset:
		return StageResolved
	case s.verified:
		return StageVerified
	case s.task != nil:
		return StageTaskLoaded
	default:
		return StageNoTask
	}
}

// SetTask loads a private copy of rec and resets trust.
// Refused once the session is complete.
func (s *State) SetTask(rec *casestore.Record, now time.Time) error {
	if s.complete {
		return fmt.Errorf("%w: session is complete", ErrInvalidTransition)
	}
	if rec == nil {
		return fmt.Errorf("%w: nil task", ErrInvalidTransition)
	}
	s.task = rec.Clone()
	s.verified = false
	s.resolution = ResolutionUnset
	s.complete = false
	s.attempts = 0
	s.loadedAt = now
	return nil
}

// MarkVerified flips verified to true. It never goes back within a task.
func (s *State) MarkVerified() error {
	if s.complete {
		return fmt.Errorf("%w: session is complete", ErrInvalidTransition)
	}
	if s.task == nil {
		return fmt.Errorf("%w: no task loaded", ErrInvalidTransition)
	}
	s.verified = true
	return nil
}

// RecordMismatch counts a failed verification attempt and returns the new total.
func (s *State) RecordMismatch() (int, error) {
	if s.complete {
		return s.attempts, fmt.Errorf("%w: session is complete", ErrInvalidTransition)
	}
	if s.task == nil {
		return s.attempts, fmt.Errorf("%w: no task loaded", ErrInvalidTransition)
	}
	s.attempts++
	return s.attempts, nil
}

// Resolve records the decision and completes the session.
// Requires a loaded, verified task and no prior resolution.
func (s *State) Resolve(r Resolution) error {
	switch {
	case s.complete:
		return fmt.Errorf("%w: session is complete", ErrInvalidTransition)
	case s.task == nil:
		return fmt.Errorf("%w: no task loaded", ErrInvalidTransition)
	case !s.verified:
		return fmt.Errorf("%w: identity not verified", ErrInvalidTransition)
	case r != ResolutionConfirmed && r != ResolutionDenied:
		return fmt.Errorf("%w: unknown resolution %q", ErrInvalidTransition, r)
	}
	s.resolution = r
	s.complete = true
	return nil
}

// Snapshot is a read-only view of a State safe to hand to callers.
// It never carries the expected answer.
type Snapshot struct {
	Stage       Stage      `json:"stage"`
	TaskID      string     `json:"task_id,omitempty"`
	IdentityKey string     `json:"identity_key,omitempty"`
	Verified    bool       `json:"verified"`
	Resolution  Resolution `json:"resolution,omitempty"`
	Complete    bool       `json:"complete"`
	Attempts    int        `json:"failed_attempts"`
	LoadedAt    *time.Time `json:"loaded_at,omitempty"`
}

// Snapshot returns a read-only view of the state.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Stage:      s.Stage(),
		Verified:   s.verified,
		Resolution: s.resolution,
		Complete:   s.complete,
		Attempts:   s.attempts,
	}
	if s.task != nil {
		snap.TaskID = s.task.ID
		snap.IdentityKey = s.task.IdentityKey
		loaded := s.loadedAt
		snap.LoadedAt = &loaded
	}
	return snap
}
