package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineStateHappyPath(t *testing.T) {
	s := IdleState()
	var err error
	for _, next := range []Phase{PhaseExtractingText, PhaseGeneratingModules, PhaseGeneratingAssessment, PhaseSucceeded} {
		s, err = s.To(next)
		require.NoError(t, err)
		assert.Equal(t, next, s.Phase)
	}
	assert.True(t, s.Phase.Terminal())
	assert.False(t, s.Running())
}

func TestPipelineStateNeverRegresses(t *testing.T) {
	s := PipelineState{Phase: PhaseGeneratingAssessment}

	_, err := s.To(PhaseExtractingText)
	assert.Error(t, err)

	_, err = s.To(PhaseGeneratingModules)
	assert.Error(t, err)

	_, err = s.To(PhaseIdle)
	assert.Error(t, err)
}

func TestPipelineStateCannotSkip(t *testing.T) {
	_, err := IdleState().To(PhaseGeneratingModules)
	assert.Error(t, err)

	_, err = PipelineState{Phase: PhaseExtractingText}.To(PhaseSucceeded)
	assert.Error(t, err)
}

func TestPipelineStateFreshRunFromTerminal(t *testing.T) {
	for _, terminal := range []PipelineState{{Phase: PhaseSucceeded}, {Phase: PhaseFailed, Reason: ErrorTypeUpstream}} {
		next, err := terminal.To(PhaseExtractingText)
		require.NoError(t, err)
		assert.Equal(t, PhaseExtractingText, next.Phase)
		assert.Empty(t, next.Reason)
	}
}

func TestPipelineStateFail(t *testing.T) {
	s := PipelineState{Phase: PhaseGeneratingModules}
	failed, err := s.Fail(ErrorTypeMalformedResponse)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, failed.Phase)
	assert.Equal(t, ErrorTypeMalformedResponse, failed.Reason)
	assert.Equal(t, "failed(malformed_response)", failed.String())

	_, err = IdleState().Fail(ErrorTypeUpstream)
	assert.Error(t, err, "idle cannot fail without a run")

	_, err = s.To(PhaseFailed)
	assert.Error(t, err, "failure must go through Fail")
}

func TestProgressFlagsMutuallyExclusive(t *testing.T) {
	phases := []Phase{
		PhaseIdle, PhaseExtractingText, PhaseGeneratingModules,
		PhaseGeneratingAssessment, PhaseSucceeded, PhaseFailed,
	}
	for _, p := range phases {
		t.Run(string(p), func(t *testing.T) {
			flags := PipelineState{Phase: p}.Progress()
			count := 0
			for _, f := range []bool{flags.ExtractingText, flags.CreatingModules, flags.CreatingAssessment} {
				if f {
					count++
				}
			}
			assert.LessOrEqual(t, count, 1)
			if p.Terminal() || p == PhaseIdle {
				assert.Equal(t, Progress{}, flags)
			}
		})
	}
}

func TestStagePhase(t *testing.T) {
	assert.Equal(t, PhaseExtractingText, StageExtract.Phase())
	assert.Equal(t, PhaseGeneratingModules, StageDraft.Phase())
	assert.Equal(t, PhaseGeneratingModules, StageModules.Phase())
	assert.Equal(t, PhaseGeneratingAssessment, StageAssessment.Phase())
	assert.Equal(t, Phase(""), Stage("unknown").Phase())
}
