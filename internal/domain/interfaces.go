package domain

import "context"

// TextExtractor turns a PDF document into plain text.
type TextExtractor interface {
	// Extract returns the text of every page in document order. Any parse
	// failure is an ExtractionError and no partial text is returned.
	Extract(ctx context.Context, doc *SourceDocument) (string, error)
}

// Generator produces the module set and assessment from extracted text.
type Generator interface {
	// Generate runs all completion stages, calling observe before each one.
	// On failure neither artifact is returned.
	Generate(ctx context.Context, text string, observe StageObserver) (*ModuleSet, *Assessment, error)
}

// Publisher receives progress events from the process controller.
type Publisher interface {
	Publish(ctx context.Context, event ProgressEvent) error
}
