package process

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/module-creator/internal/domain"
	"github.com/spherical/module-creator/internal/llm"
)

type fakeExtractor struct {
	text  string
	err   error
	gate  chan struct{}
	calls int32
}

func (f *fakeExtractor) Extract(ctx context.Context, doc *domain.SourceDocument) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", domain.ExtractionError("cancelled", ctx.Err())
		}
	}
	return f.text, f.err
}

// fakeGenerator walks the stages like the real pipeline, failing at
// failAt if set.
type fakeGenerator struct {
	failAt domain.Stage
	err    error
	gate   chan struct{}
	calls  int32
	gotIn  string
}

func (f *fakeGenerator) Generate(ctx context.Context, text string, observe domain.StageObserver) (*domain.ModuleSet, *domain.Assessment, error) {
	atomic.AddInt32(&f.calls, 1)
	f.gotIn = text
	for _, stage := range []domain.Stage{domain.StageDraft, domain.StageModules, domain.StageAssessment} {
		observe(stage)
		if f.gate != nil && stage == domain.StageModules {
			<-f.gate
		}
		if stage == f.failAt {
			return nil, nil, domain.WithStage(f.err, stage)
		}
	}
	return sampleModules(), sampleAssessment(), nil
}

func sampleModules() *domain.ModuleSet {
	return &domain.ModuleSet{
		MachineName: domain.Text("Valve X"),
		Modules:     []domain.Module{{ID: domain.Text("1"), ModuleName: domain.Text("Safety"), ModuleContent: []domain.ModuleContent{{ID: domain.Text("1"), Title: domain.Text("Gloves")}}}},
	}
}

func sampleAssessment() *domain.Assessment {
	return &domain.Assessment{Details: domain.AssessmentDetails{
		ModuleName: domain.Text("Safety"),
		Questions: []domain.Question{{
			ID: domain.Text("1"), Question: domain.Text("What should you wear?"), Difficulty: domain.DifficultyEasy,
			Options: []domain.Option{{ID: domain.Text("a"), Option: domain.Text("Gloves")}, {ID: domain.Text("b"), Option: domain.Text("Sandals")}, {ID: domain.Text("c"), Option: domain.Text("Hat")}, {ID: domain.Text("d"), Option: domain.Text("None")}},
			Answer:  domain.Text("a"),
		}},
	}}
}

type recorder struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (r *recorder) Publish(_ context.Context, ev domain.ProgressEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []domain.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ProgressEvent(nil), r.events...)
}

func pdfDoc(name string) *domain.SourceDocument {
	return &domain.SourceDocument{Name: name, MediaType: "application/pdf", Data: []byte("%PDF-1.4 " + name)}
}

func newTestController(t *testing.T, ex domain.TextExtractor, gen domain.Generator, pub domain.Publisher) (*Controller, string) {
	t.Helper()
	dir := t.TempDir()
	var n int32
	c := NewController(ex, gen,
		WithPublisher(pub),
		WithPreviewDir(dir),
		WithIDGenerator(func() string { return "run-" + string(rune('0'+atomic.AddInt32(&n, 1))) }),
	)
	t.Cleanup(func() { _ = c.Close() })
	return c, dir
}

func previewFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "module-creator-*.pdf"))
	require.NoError(t, err)
	return matches
}

func TestRunSucceeds(t *testing.T) {
	ex := &fakeExtractor{text: "Safety procedure: wear gloves. Inspect valve X."}
	gen := &fakeGenerator{}
	rec := &recorder{}
	c, _ := newTestController(t, ex, gen, rec)

	snap, err := c.Run(context.Background(), pdfDoc("manual.pdf"))
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseSucceeded, snap.State.Phase)
	assert.Equal(t, domain.Progress{}, snap.Progress)
	require.NotNil(t, snap.ExtractedText)
	assert.Equal(t, ex.text, *snap.ExtractedText)
	assert.Equal(t, ex.text, gen.gotIn)
	require.NotNil(t, snap.Modules)
	assert.Equal(t, "Valve X", snap.Modules.MachineName.String())
	require.NotNil(t, snap.Assessment)
	assert.Empty(t, snap.Error)
	assert.Equal(t, "run-1", snap.RunID)

	events := rec.all()
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventRunStarted, events[0].Type)
	assert.Equal(t, domain.EventRunSucceeded, events[len(events)-1].Type)
}

func TestRunRejectsNonPDF(t *testing.T) {
	for _, doc := range []*domain.SourceDocument{
		nil,
		{Name: "notes.txt", MediaType: "text/plain", Data: []byte("hello")},
		{Name: "scan.png", MediaType: "image/png", Data: []byte("\x89PNG")},
	} {
		ex := &fakeExtractor{}
		rec := &recorder{}
		c, dir := newTestController(t, ex, &fakeGenerator{}, rec)

		snap, err := c.Run(context.Background(), doc)
		require.Error(t, err)
		assert.Equal(t, domain.ErrorTypeInvalidInput, domain.TypeOf(err))
		assert.Equal(t, domain.MessageInvalidDocument, domain.UserMessage(err))
		assert.Equal(t, domain.PhaseIdle, snap.State.Phase)
		assert.Equal(t, int32(0), atomic.LoadInt32(&ex.calls), "extractor must not be invoked")
		assert.Empty(t, rec.all())
		assert.Empty(t, previewFiles(t, dir))
	}
}

func TestRunRejectionKeepsPreviousResult(t *testing.T) {
	c, _ := newTestController(t, &fakeExtractor{text: "t"}, &fakeGenerator{}, nil)
	_, err := c.Run(context.Background(), pdfDoc("manual.pdf"))
	require.NoError(t, err)

	snap, err := c.Run(context.Background(), &domain.SourceDocument{MediaType: "text/plain"})
	require.Error(t, err)
	assert.Equal(t, domain.PhaseSucceeded, snap.State.Phase)
	assert.NotNil(t, snap.Modules)
}

func TestRunModulesMalformedLeavesAssessmentUnset(t *testing.T) {
	gen := &fakeGenerator{failAt: domain.StageModules, err: domain.MalformedResponseError("bad json", nil)}
	c, _ := newTestController(t, &fakeExtractor{text: "text"}, gen, nil)

	snap, err := c.Run(context.Background(), pdfDoc("manual.pdf"))
	require.Error(t, err)
	assert.Equal(t, domain.PipelineState{Phase: domain.PhaseFailed, Reason: domain.ErrorTypeMalformedResponse}, snap.State)
	assert.Nil(t, snap.Assessment)
	assert.Nil(t, snap.Modules)
	assert.Equal(t, domain.StageModules, snap.ErrorStage)
	assert.Equal(t, domain.MessageRunFailed+" (failed while generating modules)", snap.Error)
}

func TestRunDraftUpstreamFailureKeepsText(t *testing.T) {
	cause := domain.UpstreamError("API returned status 500", &llm.StatusError{StatusCode: http.StatusInternalServerError, Body: "secret"})
	gen := &fakeGenerator{failAt: domain.StageDraft, err: cause}
	c, _ := newTestController(t, &fakeExtractor{text: "Safety procedure"}, gen, nil)

	snap, err := c.Run(context.Background(), pdfDoc("manual.pdf"))
	require.Error(t, err)
	assert.Equal(t, domain.PhaseFailed, snap.State.Phase)
	assert.Equal(t, domain.ErrorTypeUpstream, snap.State.Reason)
	require.NotNil(t, snap.ExtractedText)
	assert.Equal(t, "Safety procedure", *snap.ExtractedText)
	assert.Nil(t, snap.Modules)
	assert.Nil(t, snap.Assessment)
	assert.NotContains(t, snap.Error, "secret")
	assert.NotContains(t, snap.Error, "500")
}

func TestRunExtractionFailure(t *testing.T) {
	gen := &fakeGenerator{}
	c, _ := newTestController(t, &fakeExtractor{err: errors.New("encrypted")}, gen, nil)

	snap, err := c.Run(context.Background(), pdfDoc("manual.pdf"))
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeExtraction, snap.State.Reason)
	assert.Nil(t, snap.ExtractedText)
	assert.Equal(t, int32(0), atomic.LoadInt32(&gen.calls))
	assert.Equal(t, domain.MessageRunFailed+" (failed while extracting text)", snap.Error)
}

func TestProgressFlagsOverRun(t *testing.T) {
	cases := map[string]*fakeGenerator{
		"success":           {},
		"draft failure":     {failAt: domain.StageDraft, err: domain.UpstreamError("x", nil)},
		"assessment failed": {failAt: domain.StageAssessment, err: domain.MalformedResponseError("x", nil)},
	}
	for name, gen := range cases {
		t.Run(name, func(t *testing.T) {
			rec := &recorder{}
			c, _ := newTestController(t, &fakeExtractor{text: "t"}, gen, rec)
			_, _ = c.Run(context.Background(), pdfDoc("manual.pdf"))

			events := rec.all()
			require.NotEmpty(t, events)
			order := map[domain.Phase]int{
				domain.PhaseExtractingText: 1, domain.PhaseGeneratingModules: 2,
				domain.PhaseGeneratingAssessment: 3, domain.PhaseSucceeded: 4, domain.PhaseFailed: 4,
			}
			last := 0
			for _, ev := range events {
				p := ev.Progress
				set := 0
				for _, f := range []bool{p.ExtractingText, p.CreatingModules, p.CreatingAssessment} {
					if f {
						set++
					}
				}
				assert.LessOrEqual(t, set, 1)
				assert.GreaterOrEqual(t, order[ev.State.Phase], last, "state regressed at %s", ev.State)
				last = order[ev.State.Phase]
			}
			final := events[len(events)-1]
			assert.True(t, final.State.Phase.Terminal())
			assert.Equal(t, domain.Progress{}, final.Progress)
		})
	}
}

func TestConcurrentRunIsBusy(t *testing.T) {
	gate := make(chan struct{})
	ex := &fakeExtractor{text: "t", gate: gate}
	c, _ := newTestController(t, ex, &fakeGenerator{}, nil)

	runID, done, err := c.Start(context.Background(), pdfDoc("first.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)

	before := c.Snapshot()
	_, err = c.Run(context.Background(), pdfDoc("second.pdf"))
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeBusy, domain.TypeOf(err))

	after := c.Snapshot()
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, "run-1", after.RunID)
	assert.Equal(t, "first.pdf", after.Document.Name)

	close(gate)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	assert.Equal(t, domain.PhaseSucceeded, c.Snapshot().State.Phase)

	_, err = c.Run(context.Background(), pdfDoc("third.pdf"))
	assert.NoError(t, err, "a fresh run is allowed after a terminal state")
}

func TestSnapshotIsACopy(t *testing.T) {
	c, _ := newTestController(t, &fakeExtractor{text: "t"}, &fakeGenerator{}, nil)
	_, err := c.Run(context.Background(), pdfDoc("manual.pdf"))
	require.NoError(t, err)

	snap := c.Snapshot()
	snap.Modules.Modules[0].ModuleName = domain.Text("tampered")
	snap.Assessment.Details.Questions[0].Answer = domain.Text("z")
	*snap.ExtractedText = "tampered"

	fresh := c.Snapshot()
	assert.Equal(t, "Safety", fresh.Modules.Modules[0].ModuleName.String())
	assert.Equal(t, "a", fresh.Assessment.Details.Questions[0].Answer.String())
	assert.Equal(t, "t", *fresh.ExtractedText)
}

func TestNewRunResetsResults(t *testing.T) {
	gate := make(chan struct{})
	ex := &fakeExtractor{text: "t"}
	c, _ := newTestController(t, ex, &fakeGenerator{}, nil)
	_, err := c.Run(context.Background(), pdfDoc("first.pdf"))
	require.NoError(t, err)

	ex.gate = gate
	_, done, err := c.Start(context.Background(), pdfDoc("second.pdf"))
	require.NoError(t, err)

	mid := c.Snapshot()
	assert.Equal(t, domain.PhaseExtractingText, mid.State.Phase)
	assert.True(t, mid.Progress.ExtractingText)
	assert.Nil(t, mid.ExtractedText)
	assert.Nil(t, mid.Modules)
	assert.Nil(t, mid.Assessment)

	close(gate)
	<-done
}

func TestPreviewLifecycle(t *testing.T) {
	c, dir := newTestController(t, &fakeExtractor{text: "t"}, &fakeGenerator{}, nil)

	_, _, err := c.OpenDocument()
	assert.ErrorIs(t, err, ErrNoDocument)

	_, err = c.Run(context.Background(), pdfDoc("first.pdf"))
	require.NoError(t, err)
	files := previewFiles(t, dir)
	require.Len(t, files, 1)
	first := files[0]

	r, info, err := c.OpenDocument()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "%PDF-1.4 first.pdf", string(data))
	assert.Equal(t, "first.pdf", info.Name)

	// A failed run still replaces the preview.
	c.generator = &fakeGenerator{failAt: domain.StageDraft, err: domain.UpstreamError("x", nil)}
	_, err = c.Run(context.Background(), pdfDoc("second.pdf"))
	require.Error(t, err)
	files = previewFiles(t, dir)
	require.Len(t, files, 1)
	assert.NotEqual(t, first, files[0])
	_, statErr := os.Stat(first)
	assert.True(t, os.IsNotExist(statErr), "superseded preview must be released")

	require.NoError(t, c.Close())
	assert.Empty(t, previewFiles(t, dir))
	_, _, err = c.OpenDocument()
	assert.ErrorIs(t, err, ErrNoDocument)

	_, err = c.Run(context.Background(), pdfDoc("third.pdf"))
	assert.ErrorIs(t, err, ErrClosed)
}
