// Package generate turns extracted document text into training modules and
// an assessment through three completion requests.
package generate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical/module-creator/internal/domain"
	"github.com/spherical/module-creator/internal/llm"
	"github.com/spherical/module-creator/internal/observability"
)

// Completer sends one prompt to a completion service.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// Options configures a Pipeline.
type Options struct {
	// StageTimeout bounds each completion request. Zero means no limit.
	StageTimeout time.Duration
	// Parallel runs module and assessment structuring concurrently.
	Parallel bool
	// JSONMode requests constrained JSON output for the assessment stage.
	JSONMode bool
	Logger   *observability.Logger
}

// Pipeline implements domain.Generator.
//
// Stage A drafts modules from the text. Stages B and C both consume that
// draft: B structures it into a ModuleSet, C writes an Assessment from it.
// The first failure aborts the run and no artifact is returned.
type Pipeline struct {
	completer Completer
	opts      Options
	log       *observability.Logger
}

// NewPipeline creates a generation pipeline
func NewPipeline(completer Completer, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = observability.Nop()
	}
	return &Pipeline{
		completer: completer,
		opts:      opts,
		log:       opts.Logger.WithComponent("pipeline"),
	}
}

// Generate runs stages A, B and C. observe, if not nil, is called right
// before each stage starts, always in the order draft, modules, assessment.
func (p *Pipeline) Generate(ctx context.Context, text string, observe domain.StageObserver) (*domain.ModuleSet, *domain.Assessment, error) {
	if observe == nil {
		observe = func(domain.Stage) {}
	}
	log := p.log.WithContext(ctx)

	observe(domain.StageDraft)
	draft, err := p.complete(ctx, domain.StageDraft, llm.CompletionRequest{Prompt: draftPrompt(text)})
	if err != nil {
		return nil, nil, err
	}
	if draft == "" {
		log.Warn().Msg("draft stage returned empty content")
	}

	if p.opts.Parallel {
		return p.structureParallel(ctx, draft, observe)
	}

	observe(domain.StageModules)
	modules, err := p.structureModules(ctx, draft)
	if err != nil {
		return nil, nil, err
	}

	observe(domain.StageAssessment)
	assessment, err := p.structureAssessment(ctx, draft)
	if err != nil {
		return nil, nil, err
	}

	return modules, assessment, nil
}

// structureParallel runs B and C together. The assessment stage is only
// reported once modules are done so progress never moves backwards.
func (p *Pipeline) structureParallel(ctx context.Context, draft string, observe domain.StageObserver) (*domain.ModuleSet, *domain.Assessment, error) {
	var (
		modules    *domain.ModuleSet
		assessment *domain.Assessment
	)

	observe(domain.StageModules)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := p.structureModules(gctx, draft)
		if err != nil {
			return err
		}
		modules = m
		observe(domain.StageAssessment)
		return nil
	})
	g.Go(func() error {
		a, err := p.structureAssessment(gctx, draft)
		if err != nil {
			return err
		}
		assessment = a
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return modules, assessment, nil
}

func (p *Pipeline) structureModules(ctx context.Context, draft string) (*domain.ModuleSet, error) {
	content, err := p.complete(ctx, domain.StageModules, llm.CompletionRequest{Prompt: modulePrompt(draft)})
	if err != nil {
		return nil, err
	}
	modules, err := parseModuleSet(content)
	if err != nil {
		return nil, p.failed(domain.StageModules, err)
	}
	return modules, nil
}

func (p *Pipeline) structureAssessment(ctx context.Context, draft string) (*domain.Assessment, error) {
	content, err := p.complete(ctx, domain.StageAssessment, llm.CompletionRequest{
		Prompt:   assessmentPrompt(draft),
		JSONMode: p.opts.JSONMode,
	})
	if err != nil {
		return nil, err
	}
	assessment, err := parseAssessment(content)
	if err != nil {
		return nil, p.failed(domain.StageAssessment, err)
	}
	return assessment, nil
}

// complete sends one stage request under the stage timeout. Every error
// comes back tagged with the stage.
func (p *Pipeline) complete(ctx context.Context, stage domain.Stage, req llm.CompletionRequest) (string, error) {
	stageCtx := ctx
	if p.opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, p.opts.StageTimeout)
		defer cancel()
	}

	start := time.Now()
	content, err := p.completer.Complete(stageCtx, req)
	if err != nil {
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = domain.UpstreamError(fmt.Sprintf("%s stage timed out after %s", stage, p.opts.StageTimeout), err)
		}
		return "", p.failed(stage, err)
	}

	p.log.Debug().
		Str("stage", string(stage)).
		Int("chars", len(content)).
		Dur("elapsed", time.Since(start)).
		Msg("stage complete")
	return content, nil
}

func (p *Pipeline) failed(stage domain.Stage, err error) error {
	err = domain.WithStage(err, stage)
	p.log.Error().Err(err).Str("stage", string(stage)).Msg("stage failed")
	return err
}
