package entities

import "time"

// BuildStats is what the build pipeline reports when a cycle finishes
type BuildStats struct {
	// Cycle is the number returned by OnInvalidated for this build. Zero marks
	// an initial build that was never announced.
	Cycle          uint64
	Hash           string
	Errors         []string
	Warnings       []string
	ChangedModules []string
	Duration       time.Duration
	// Failure is set when the pipeline itself broke rather than the code it built.
	Failure error
}

// HasErrors reports whether the build resolves to an errors message
func (s BuildStats) HasErrors() bool {
	return len(s.Errors) > 0 || s.Failure != nil
}

// Messages translates the stats into hash + exactly one terminal message
func (s BuildStats) Messages() []Message {
	hash := NewHashMessage(s.Hash)

	switch {
	case s.HasErrors():
		errs := append([]string(nil), s.Errors...)
		if s.Failure != nil {
			errs = append(errs, (&BuildPipelineError{Cycle: s.Cycle, Err: s.Failure}).Error())
		}
		return []Message{hash, NewErrorsMessage(errs, s.Warnings)}
	case len(s.Warnings) > 0:
		return []Message{hash, NewWarningsMessage(s.Warnings, len(s.ChangedModules) > 0)}
	case len(s.ChangedModules) == 0:
		return []Message{hash, NewStillOKMessage()}
	default:
		return []Message{hash, NewOKMessage()}
	}
}

// BuildCycle tracks one invalidate → terminal status lifecycle
type BuildCycle struct {
	Seq        uint64
	StartedAt  time.Time
	Resolved   bool
	Superseded bool
	Terminal   MessageType
}
