package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/module-creator/internal/domain"
	"github.com/spherical/module-creator/pkg/creator"
)

func TestWriteResultsAfterModulesFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	text := "Valve manual"

	written, err := writeResults(dir, creator.Snapshot{ExtractedText: &text})
	require.NoError(t, err)
	assert.Equal(t, []string{"extracted.txt"}, written)

	got, err := os.ReadFile(filepath.Join(dir, "extracted.txt"))
	require.NoError(t, err)
	assert.Equal(t, text, string(got))
	assert.NoFileExists(t, filepath.Join(dir, "modules.json"))
	assert.NoFileExists(t, filepath.Join(dir, "assessment.json"))
}

func TestWriteResultsAll(t *testing.T) {
	dir := t.TempDir()
	text := "Valve manual"
	snap := creator.Snapshot{
		ExtractedText: &text,
		Modules:       &domain.ModuleSet{MachineName: domain.Text("Valve")},
		Assessment:    &domain.Assessment{Details: domain.AssessmentDetails{ModuleName: domain.Text("Valve")}},
	}

	written, err := writeResults(dir, snap)
	require.NoError(t, err)
	assert.Equal(t, []string{"extracted.txt", "modules.json", "assessment.json"}, written)

	data, err := os.ReadFile(filepath.Join(dir, "assessment.json"))
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "assessment")
}

func TestWriteResultsNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	written, err := writeResults(dir, creator.Snapshot{})
	require.NoError(t, err)
	assert.Empty(t, written)
	assert.NoDirExists(t, dir)
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "module-creator version "+Version)
}

func TestProcessRequiresArgument(t *testing.T) {
	rootCmd.SetArgs([]string{"process"})
	rootCmd.SetErr(&bytes.Buffer{})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetErr(nil)
	})

	assert.Error(t, rootCmd.Execute())
}

func TestOutputDirForEachInput(t *testing.T) {
	assert.Equal(t, filepath.Join("docs", "lathe-modules"), outputDirFor(filepath.Join("docs", "lathe.pdf"), ""))
	assert.Equal(t, filepath.Join("docs", "valve-modules"), outputDirFor(filepath.Join("docs", "valve.pdf"), ""))
	assert.Equal(t, "out", outputDirFor(filepath.Join("docs", "valve.pdf"), "out"))
	assert.Empty(t, processOutputDir, "default must not stick to the flag")
}
