package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/module-creator/cmd/module-creator/ui"
	"github.com/spherical/module-creator/internal/observability"
	"github.com/spherical/module-creator/pkg/creator"
)

var processOutputDir string

var processCmd = &cobra.Command{
	Use:   "process <file.pdf>",
	Short: "Generate modules and an assessment from a PDF",
	Long: `Extract the text of a PDF and generate training modules and an assessment.

Results are written to the output directory as extracted.txt, modules.json
and assessment.json. Files for stages that did not complete are not written.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&processOutputDir, "output", "o", "", "output directory (default: <input-name>-modules)")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	pdfPath := args[0]
	out := ui.New(noColor)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Log lines would interleave with the spinner unless asked for.
	logger := observability.Nop()
	if verbose {
		logger = newLogger(cfg)
	}

	outputDir := outputDirFor(pdfPath, processOutputDir)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := creator.NewClientWithConfig(cfg, creator.WithLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	out.Section("Module creation")
	out.KeyValue("document", pdfPath)
	out.KeyValue("model", cfg.LLM.Model)
	out.KeyValue("output", outputDir)
	out.Newline()

	events, unsubscribe := client.Subscribe()
	defer unsubscribe()

	spin := ui.NewSpinner("Starting...")
	spin.Start()
	go func() {
		for ev := range events {
			spin.UpdateMessage(ev.State.String())
		}
	}()

	start := time.Now()
	snap, runErr := client.ProcessFile(ctx, pdfPath)
	spin.Stop()

	if written, err := writeResults(outputDir, snap); err != nil {
		out.Error("failed to write results: %v", err)
	} else {
		for _, name := range written {
			out.Success("wrote %s", filepath.Join(outputDir, name))
		}
	}

	if runErr != nil {
		out.Error("%s", creator.UserMessage(runErr))
		return fmt.Errorf("processing %s: %w", pdfPath, runErr)
	}

	out.Success("%d modules and %d questions in %s",
		len(snap.Modules.Modules), len(snap.Assessment.Details.Questions), ui.FormatDuration(time.Since(start)))
	return nil
}

// writeResults writes every artifact present in snap and returns the file
// names written.
func writeResults(dir string, snap creator.Snapshot) ([]string, error) {
	if snap.ExtractedText == nil && snap.Modules == nil && snap.Assessment == nil {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var written []string
	if snap.ExtractedText != nil {
		if err := os.WriteFile(filepath.Join(dir, "extracted.txt"), []byte(*snap.ExtractedText), 0o644); err != nil {
			return written, err
		}
		written = append(written, "extracted.txt")
	}
	if snap.Modules != nil {
		if err := writeJSON(filepath.Join(dir, "modules.json"), snap.Modules); err != nil {
			return written, err
		}
		written = append(written, "modules.json")
	}
	if snap.Assessment != nil {
		if err := writeJSON(filepath.Join(dir, "assessment.json"), snap.Assessment); err != nil {
			return written, err
		}
		written = append(written, "assessment.json")
	}
	return written, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// outputDirFor returns the --output value, or <input-name>-modules next to
// the input when the flag is empty.
func outputDirFor(pdfPath, flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	base := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	return filepath.Join(filepath.Dir(pdfPath), base+"-modules")
}
