package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/spherical/module-creator/internal/domain"
	"github.com/spherical/module-creator/internal/observability"
)

// Backend names.
const (
	BackendFitz   = "fitz"
	BackendPDFCPU = "pdfcpu"
)

// pageSource is an opened document that yields text page by page.
// *fitz.Document satisfies it.
type pageSource interface {
	NumPage() int
	Text(pageNumber int) (string, error)
	Close() error
}

type opener func(data []byte) (pageSource, error)

// Extractor implements domain.TextExtractor.
type Extractor struct {
	backend string
	open    opener
	// precheck runs a structural validation before the backend opens the
	// document. Nil skips it.
	precheck func(data []byte) error
	log      *observability.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithStructureCheck validates the document with pdfcpu before handing it
// to the backend.
func WithStructureCheck() Option {
	return func(e *Extractor) { e.precheck = validateStructure }
}

// WithLogger sets the logger.
func WithLogger(log *observability.Logger) Option {
	return func(e *Extractor) { e.log = log }
}

// NewExtractor creates an extractor for the named backend.
func NewExtractor(backend string, opts ...Option) (*Extractor, error) {
	e := &Extractor{backend: backend, log: observability.Nop()}
	switch backend {
	case BackendFitz, "":
		e.backend = BackendFitz
		e.open = openFitz
	case BackendPDFCPU:
		e.open = openPDFCPU
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown extractor backend %q", backend), nil)
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithComponent("extractor")
	return e, nil
}

// Backend returns the backend name.
func (e *Extractor) Backend() string {
	return e.backend
}

// Extract returns the text of every page in document order. Runs of text
// within a page are separated by a single space and pages are concatenated
// without a marker. Any failure aborts the whole extraction.
func (e *Extractor) Extract(ctx context.Context, doc *domain.SourceDocument) (string, error) {
	if doc == nil {
		return "", domain.InvalidInputError("no document selected", nil)
	}
	if err := ctx.Err(); err != nil {
		return "", domain.ExtractionError("extraction cancelled", err)
	}
	if !HasPDFHeader(doc.Data) {
		return "", domain.ExtractionError("document content is not PDF", nil)
	}

	start := time.Now()

	if e.precheck != nil {
		if err := e.precheck(doc.Data); err != nil {
			return "", domain.ExtractionError("PDF failed structural validation", err)
		}
	}

	src, err := e.open(doc.Data)
	if err != nil {
		return "", domain.ExtractionError("failed to open PDF", err)
	}
	defer src.Close()

	var out strings.Builder
	pages := src.NumPage()
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", domain.ExtractionError("extraction cancelled", err)
		}
		text, err := src.Text(i)
		if err != nil {
			return "", domain.ExtractionError(fmt.Sprintf("failed to read page %d", i+1), err)
		}
		out.WriteString(joinRuns(text))
	}

	e.log.Debug().
		Str("backend", e.backend).
		Str("document", doc.Name).
		Int("pages", pages).
		Int("chars", out.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("text extracted")

	return out.String(), nil
}

// joinRuns collapses the whitespace between text runs to single spaces.
func joinRuns(page string) string {
	return strings.Join(strings.Fields(page), " ")
}

func openFitz(data []byte) (pageSource, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func pdfcpuConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func validateStructure(data []byte) error {
	_, err := api.ReadValidateAndOptimize(bytes.NewReader(data), pdfcpuConfig())
	return err
}
