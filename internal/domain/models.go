package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SourceDocument is the file handed in by the user. Data is owned by the
// caller and only read while the run holds it.
type SourceDocument struct {
	Name      string
	MediaType string
	Data      []byte
}

// Size returns the document size in bytes.
func (d *SourceDocument) Size() int64 {
	if d == nil {
		return 0
	}
	return int64(len(d.Data))
}

// FlexString is a scalar that may arrive as a JSON string, number, boolean
// or null. Completion output often writes ids and durations as bare numbers
// even when the schema asks for strings. The text is what callers compare;
// tokens other than strings are kept verbatim and written back unchanged.
type FlexString struct {
	text string
	raw  string
}

// Text returns a FlexString that encodes as the JSON string s.
func Text(s string) FlexString {
	return FlexString{text: s}
}

func (s FlexString) String() string { return s.text }

func (s FlexString) MarshalJSON() ([]byte, error) {
	if s.raw != "" {
		return []byte(s.raw), nil
	}
	return json.Marshal(s.text)
}

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0:
		*s = FlexString{}
		return nil
	case bytes.Equal(b, []byte("null")):
		*s = FlexString{raw: "null"}
		return nil
	case b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString{text: v}
		return nil
	case bytes.Equal(b, []byte("true")) || bytes.Equal(b, []byte("false")):
		*s = FlexString{text: string(b), raw: string(b)}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", truncate(string(b), 40))
	}
	*s = FlexString{text: n.String(), raw: string(b)}
	return nil
}

// ModuleSet is the structured output of Stage B.
type ModuleSet struct {
	MachineName FlexString `json:"machineName"`
	Modules     []Module   `json:"modules"`
}

// Module is one training module.
type Module struct {
	ID                     FlexString      `json:"id"`
	ModuleName             FlexString      `json:"moduleName"`
	EstimatedTime          FlexString      `json:"estimatedTime"`
	TotalTopics            FlexString      `json:"totalTopics"`
	ShortModuleDescription FlexString      `json:"shortModuleDescription"`
	ModuleContent          []ModuleContent `json:"ModuleContent"`
}

// ModuleContent is one topic of a module. Content should run to about 200
// words but that is not enforced.
type ModuleContent struct {
	ID               FlexString `json:"id"`
	Title            FlexString `json:"title"`
	TitleDescription FlexString `json:"titleDescription"`
	Image            FlexString `json:"image"`
	Video            FlexString `json:"video"`
	Content          FlexString `json:"content"`
}

// Validate checks the shape required before a module set is accepted.
func (m *ModuleSet) Validate() error {
	if m == nil {
		return fmt.Errorf("module set is empty")
	}
	if len(m.Modules) == 0 {
		return fmt.Errorf("module set has no modules")
	}
	for i, mod := range m.Modules {
		if strings.TrimSpace(mod.ModuleName.String()) == "" {
			return fmt.Errorf("module %d has no moduleName", i+1)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (m *ModuleSet) Clone() *ModuleSet {
	if m == nil {
		return nil
	}
	out := &ModuleSet{MachineName: m.MachineName}
	if m.Modules != nil {
		out.Modules = make([]Module, len(m.Modules))
		for i, mod := range m.Modules {
			out.Modules[i] = mod
			if mod.ModuleContent != nil {
				out.Modules[i].ModuleContent = append([]ModuleContent(nil), mod.ModuleContent...)
			}
		}
	}
	return out
}

// Difficulty of an assessment question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func (d *Difficulty) UnmarshalJSON(b []byte) error {
	var s FlexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	*d = Difficulty(strings.ToLower(strings.TrimSpace(s.String())))
	return nil
}

// Valid reports whether d is one of easy, medium, hard.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// OptionsPerQuestion is the fixed number of choices per question.
const OptionsPerQuestion = 4

// Assessment is the structured output of Stage C.
type Assessment struct {
	Details AssessmentDetails `json:"assessment"`
}

// AssessmentDetails is the body of an assessment.
type AssessmentDetails struct {
	ModuleName    FlexString `json:"moduleName"`
	EstimatedTime FlexString `json:"estimatedTime"`
	Questions     []Question `json:"questions"`
}

// Question is a multiple-choice question. Answer holds the id of the
// correct option.
type Question struct {
	ID         FlexString `json:"id"`
	Question   FlexString `json:"question"`
	Difficulty Difficulty `json:"difficulty"`
	Info       FlexString `json:"info"`
	Options    []Option   `json:"options"`
	Answer     FlexString `json:"answer"`
}

// Option is one answer choice.
type Option struct {
	ID     FlexString `json:"id"`
	Option FlexString `json:"option"`
}

// Validate checks the shape required before an assessment is accepted.
func (a *Assessment) Validate() error {
	if a == nil {
		return fmt.Errorf("assessment is empty")
	}
	if len(a.Details.Questions) == 0 {
		return fmt.Errorf("assessment has no questions")
	}
	for i, q := range a.Details.Questions {
		if err := q.validate(); err != nil {
			return fmt.Errorf("question %d: %w", i+1, err)
		}
	}
	return nil
}

func (q Question) validate() error {
	if strings.TrimSpace(q.Question.String()) == "" {
		return fmt.Errorf("missing question text")
	}
	if !q.Difficulty.Valid() {
		return fmt.Errorf("difficulty %q is not easy, medium or hard", q.Difficulty)
	}
	if len(q.Options) != OptionsPerQuestion {
		return fmt.Errorf("expected %d options, got %d", OptionsPerQuestion, len(q.Options))
	}
	// Ids compare by text so an answer of "3" matches an option id of 3.
	seen := make(map[string]bool, len(q.Options))
	for _, opt := range q.Options {
		id := opt.ID.String()
		if id == "" {
			return fmt.Errorf("option without id")
		}
		if seen[id] {
			return fmt.Errorf("duplicate option id %q", id)
		}
		seen[id] = true
	}
	if !seen[q.Answer.String()] {
		return fmt.Errorf("answer %q does not match any option id", q.Answer.String())
	}
	return nil
}

// Clone returns a deep copy.
func (a *Assessment) Clone() *Assessment {
	if a == nil {
		return nil
	}
	out := &Assessment{Details: a.Details}
	if a.Details.Questions != nil {
		out.Details.Questions = make([]Question, len(a.Details.Questions))
		for i, q := range a.Details.Questions {
			out.Details.Questions[i] = q
			if q.Options != nil {
				out.Details.Questions[i].Options = append([]Option(nil), q.Options...)
			}
		}
	}
	return out
}

// EventType represents the type of progress event
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventStateChanged EventType = "state_changed"
	EventRunSucceeded EventType = "run_succeeded"
	EventRunFailed    EventType = "run_failed"
)

// ProgressEvent is emitted by the process controller on every state change.
type ProgressEvent struct {
	Type      EventType     `json:"type"`
	RunID     string        `json:"runId"`
	State     PipelineState `json:"state"`
	Progress  Progress      `json:"progress"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
