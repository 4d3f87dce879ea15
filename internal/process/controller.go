// Package process owns a document run from upload to generated artifacts
// and exposes its progress to the presentation layer.
package process

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/module-creator/internal/domain"
	"github.com/spherical/module-creator/internal/observability"
	"github.com/spherical/module-creator/internal/pdf"
)

// publishTimeout bounds how long a single progress event may take to publish.
const publishTimeout = 5 * time.Second

// ErrClosed is returned for runs requested after Close.
var ErrClosed = errors.New("process controller is closed")

// Snapshot is a read-only copy of the controller's state and results.
type Snapshot struct {
	RunID         string               `json:"runId,omitempty"`
	State         domain.PipelineState `json:"state"`
	Progress      domain.Progress      `json:"progress"`
	Document      *DocumentInfo        `json:"document,omitempty"`
	ExtractedText *string              `json:"extractedText,omitempty"`
	Modules       *domain.ModuleSet    `json:"modules,omitempty"`
	Assessment    *domain.Assessment   `json:"assessment,omitempty"`
	Error         string               `json:"error,omitempty"`
	ErrorStage    domain.Stage         `json:"errorStage,omitempty"`
}

// Controller runs one document at a time through extraction and generation.
// It is the only writer of the pipeline state and the three result slots.
type Controller struct {
	extractor domain.TextExtractor
	generator domain.Generator
	validator *pdf.Validator
	publisher domain.Publisher
	log       *observability.Logger

	previewDir string
	newID      func() string
	now        func() time.Time

	// pubMu orders event publication without holding mu during I/O.
	pubMu sync.Mutex

	mu         sync.Mutex
	state      domain.PipelineState
	runID      string
	text       *string
	modules    *domain.ModuleSet
	assessment *domain.Assessment
	lastErr    error
	preview    *previewFile
	closed     bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithPublisher sets where progress events go.
func WithPublisher(p domain.Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithValidator replaces the default document validator.
func WithValidator(v *pdf.Validator) Option {
	return func(c *Controller) { c.validator = v }
}

// WithPreviewDir sets the directory preview copies are written to.
func WithPreviewDir(dir string) Option {
	return func(c *Controller) { c.previewDir = dir }
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) { c.newID = fn }
}

// NewController creates a controller in the idle state.
func NewController(extractor domain.TextExtractor, generator domain.Generator, opts ...Option) *Controller {
	c := &Controller{
		extractor: extractor,
		generator: generator,
		validator: pdf.NewValidator(),
		log:       observability.Nop(),
		newID:     uuid.NewString,
		now:       time.Now,
		state:     domain.IdleState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithComponent("controller")
	return c
}

// Run processes doc and blocks until the run ends. Rejected documents and
// busy or closed controllers return an error without touching any state.
// Otherwise the returned snapshot holds the final state, and the error is
// the run failure, if any.
func (c *Controller) Run(ctx context.Context, doc *domain.SourceDocument) (Snapshot, error) {
	runID, err := c.begin(ctx, doc)
	if err != nil {
		return c.Snapshot(), err
	}
	err = c.execute(ctx, runID, doc)
	return c.Snapshot(), err
}

// Start performs the same checks as Run, then continues the run in the
// background. done is closed once the run reaches a terminal state.
func (c *Controller) Start(ctx context.Context, doc *domain.SourceDocument) (string, <-chan struct{}, error) {
	runID, err := c.begin(ctx, doc)
	if err != nil {
		return "", nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.execute(ctx, runID, doc)
	}()
	return runID, done, nil
}

// Snapshot returns a deep copy of the current state and results.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		RunID:      c.runID,
		State:      c.state,
		Progress:   c.state.Progress(),
		Modules:    c.modules.Clone(),
		Assessment: c.assessment.Clone(),
	}
	if c.text != nil {
		text := *c.text
		s.ExtractedText = &text
	}
	if c.preview != nil {
		info := c.preview.info
		s.Document = &info
	}
	if c.lastErr != nil {
		s.Error = domain.UserMessage(c.lastErr)
		s.ErrorStage = domain.StageOf(c.lastErr)
	}
	return s
}

// LastError returns the failure of the most recent run, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Close releases the preview document. Later runs fail with ErrClosed.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	err := c.preview.release()
	c.preview = nil
	return err
}

// begin validates the request and, if accepted, resets the result slots
// and moves to ExtractingText.
func (c *Controller) begin(ctx context.Context, doc *domain.SourceDocument) (string, error) {
	if err := c.validator.ValidateDocument(doc); err != nil {
		c.log.Info().Err(err).Msg("document rejected")
		return "", err
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if c.state.Running() {
		current := c.runID
		c.mu.Unlock()
		c.log.Info().Str("active_run", current).Msg("run rejected, another run is in flight")
		return "", domain.BusyError("a run is already in progress")
	}

	next, err := c.state.To(domain.PhaseExtractingText)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}

	runID := c.newID()
	c.runID = runID
	c.state = next
	c.text = nil
	c.modules = nil
	c.assessment = nil
	c.lastErr = nil
	c.replacePreviewLocked(doc.Name, doc.MediaType, doc.Data, runID)
	started := c.eventLocked(domain.EventRunStarted)
	changed := c.eventLocked(domain.EventStateChanged)
	c.mu.Unlock()

	c.log.WithRun(runID).Info().
		Str("document", doc.Name).
		Int64("size", doc.Size()).
		Msg("run started")
	c.publish(ctx, started)
	c.publish(ctx, changed)
	return runID, nil
}

func (c *Controller) execute(ctx context.Context, runID string, doc *domain.SourceDocument) error {
	log := c.log.WithRun(runID)
	start := c.now()

	text, err := c.extractor.Extract(ctx, doc)
	if err != nil {
		if domain.TypeOf(err) == "" {
			err = domain.ExtractionError("text extraction failed", err)
		}
		return c.fail(ctx, runID, err)
	}

	c.mu.Lock()
	c.text = &text
	c.mu.Unlock()
	log.Info().Int("chars", len(text)).Msg("text extracted")

	c.advance(ctx, runID, domain.PhaseGeneratingModules)

	modules, assessment, err := c.generator.Generate(ctx, text, func(stage domain.Stage) {
		log.Debug().Str("stage", string(stage)).Msg("stage starting")
		c.advance(ctx, runID, stage.Phase())
	})
	if err != nil {
		return c.fail(ctx, runID, err)
	}
	if modules == nil || assessment == nil {
		return c.fail(ctx, runID, domain.MalformedResponseError("generator returned no artifacts", nil))
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	next, err := c.state.To(domain.PhaseSucceeded)
	if err != nil {
		c.mu.Unlock()
		log.Error().Err(err).Msg("cannot complete run")
		return err
	}
	c.state = next
	c.modules = modules
	c.assessment = assessment
	ev := c.eventLocked(domain.EventRunSucceeded)
	c.mu.Unlock()

	log.Info().
		Int("modules", len(modules.Modules)).
		Int("questions", len(assessment.Details.Questions)).
		Dur("elapsed", c.now().Sub(start)).
		Msg("run succeeded")
	c.publish(ctx, ev)
	return nil
}

// advance moves the run forward to phase. Repeated notifications for the
// current phase are ignored.
func (c *Controller) advance(ctx context.Context, runID string, phase domain.Phase) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	if c.runID != runID || c.state.Phase == phase || phase == "" {
		c.mu.Unlock()
		return
	}
	next, err := c.state.To(phase)
	if err != nil {
		c.mu.Unlock()
		c.log.WithRun(runID).Error().Err(err).Msg("ignoring illegal transition")
		return
	}
	c.state = next
	ev := c.eventLocked(domain.EventStateChanged)
	c.mu.Unlock()

	c.publish(ctx, ev)
}

// fail records err as the run failure and discards generated artifacts.
// Extracted text is kept.
func (c *Controller) fail(ctx context.Context, runID string, err error) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	reason := domain.TypeOf(err)
	if reason == "" {
		reason = domain.ErrorTypeUpstream
	}

	c.mu.Lock()
	phase := c.state.Phase
	next, ferr := c.state.Fail(reason)
	if ferr != nil {
		c.mu.Unlock()
		c.log.WithRun(runID).Error().Err(ferr).Msg("cannot fail run")
		return err
	}
	c.state = next
	c.modules = nil
	c.assessment = nil
	c.lastErr = err
	ev := c.eventLocked(domain.EventRunFailed)
	c.mu.Unlock()

	c.log.WithRun(runID).Error().
		Err(err).
		Str("phase", string(phase)).
		Str("stage", string(domain.StageOf(err))).
		Str("reason", string(reason)).
		Msg("run failed")
	c.publish(ctx, ev)
	return err
}

func (c *Controller) eventLocked(t domain.EventType) domain.ProgressEvent {
	ev := domain.ProgressEvent{
		Type:      t,
		RunID:     c.runID,
		State:     c.state,
		Progress:  c.state.Progress(),
		Timestamp: c.now(),
	}
	if c.lastErr != nil {
		ev.Message = domain.UserMessage(c.lastErr)
	}
	return ev
}

// publish sends ev outside the state lock. Callers hold pubMu so events
// leave in the order the state changed.
func (c *Controller) publish(ctx context.Context, ev domain.ProgressEvent) {
	if c.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := c.publisher.Publish(pctx, ev); err != nil {
		c.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("failed to publish progress event")
	}
}
