package domain

import "fmt"

// Stage identifies one step of a run: text extraction or one of the three
// completion requests.
type Stage string

const (
	StageExtract    Stage = "extract"
	StageDraft      Stage = "draft"
	StageModules    Stage = "modules"
	StageAssessment Stage = "assessment"
)

// Phase returns the pipeline phase a stage runs under. Draft and module
// structuring share GeneratingModules.
func (s Stage) Phase() Phase {
	switch s {
	case StageExtract:
		return PhaseExtractingText
	case StageDraft, StageModules:
		return PhaseGeneratingModules
	case StageAssessment:
		return PhaseGeneratingAssessment
	default:
		return ""
	}
}

// StageObserver is notified right before a stage begins.
type StageObserver func(stage Stage)

// Phase is the coarse position of a run.
type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseExtractingText       Phase = "extracting_text"
	PhaseGeneratingModules    Phase = "generating_modules"
	PhaseGeneratingAssessment Phase = "generating_assessment"
	PhaseSucceeded            Phase = "succeeded"
	PhaseFailed               Phase = "failed"
)

// Describe returns a lower-case human label for in-flight phases.
func (p Phase) Describe() string {
	switch p {
	case PhaseExtractingText:
		return "extracting text"
	case PhaseGeneratingModules:
		return "generating modules"
	case PhaseGeneratingAssessment:
		return "generating assessment"
	default:
		return string(p)
	}
}

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// transitions lists the legal successors of every phase. Runs are strictly
// linear; a terminal phase can only be left by starting a fresh run.
var transitions = map[Phase][]Phase{
	PhaseIdle:                 {PhaseExtractingText},
	PhaseExtractingText:       {PhaseGeneratingModules, PhaseFailed},
	PhaseGeneratingModules:    {PhaseGeneratingAssessment, PhaseFailed},
	PhaseGeneratingAssessment: {PhaseSucceeded, PhaseFailed},
	PhaseSucceeded:            {PhaseExtractingText, PhaseIdle},
	PhaseFailed:               {PhaseExtractingText, PhaseIdle},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PipelineState is the state machine value owned by the process controller.
// Reason is only set in PhaseFailed.
type PipelineState struct {
	Phase  Phase     `json:"phase"`
	Reason ErrorType `json:"reason,omitempty"`
}

// IdleState is the state before any run.
func IdleState() PipelineState {
	return PipelineState{Phase: PhaseIdle}
}

// To returns the state after moving to next, or an error if the move would
// regress or skip a phase.
func (s PipelineState) To(next Phase) (PipelineState, error) {
	if next == PhaseFailed {
		return PipelineState{}, fmt.Errorf("use Fail to enter %s", PhaseFailed)
	}
	if !CanTransition(s.Phase, next) {
		return s, fmt.Errorf("illegal transition %s -> %s", s.Phase, next)
	}
	return PipelineState{Phase: next}, nil
}

// Fail moves an in-flight state to PhaseFailed with the given reason.
func (s PipelineState) Fail(reason ErrorType) (PipelineState, error) {
	if !CanTransition(s.Phase, PhaseFailed) {
		return s, fmt.Errorf("illegal transition %s -> %s", s.Phase, PhaseFailed)
	}
	return PipelineState{Phase: PhaseFailed, Reason: reason}, nil
}

// Running reports whether a run is in flight.
func (s PipelineState) Running() bool {
	switch s.Phase {
	case PhaseExtractingText, PhaseGeneratingModules, PhaseGeneratingAssessment:
		return true
	}
	return false
}

// Progress holds the per-stage loading flags shown by the presentation
// layer. At most one flag is ever true.
type Progress struct {
	ExtractingText     bool `json:"extractingText"`
	CreatingModules    bool `json:"creatingModules"`
	CreatingAssessment bool `json:"creatingAssessment"`
}

// Progress derives the loading flags from the phase.
func (s PipelineState) Progress() Progress {
	return Progress{
		ExtractingText:     s.Phase == PhaseExtractingText,
		CreatingModules:    s.Phase == PhaseGeneratingModules,
		CreatingAssessment: s.Phase == PhaseGeneratingAssessment,
	}
}

func (s PipelineState) String() string {
	if s.Phase == PhaseFailed && s.Reason != "" {
		return fmt.Sprintf("%s(%s)", s.Phase, s.Reason)
	}
	return string(s.Phase)
}
