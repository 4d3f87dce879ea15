package pdf

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/module-creator/internal/domain"
)

// MediaType is the only media type accepted for processing.
const MediaType = "application/pdf"

// maxScan bounds how far into a file the %PDF- header is searched for.
const maxScan = 1024

var magic = []byte("%PDF-")

// Validator provides input validation for PDF documents
type Validator struct {
	// MaxSize rejects files larger than this many bytes. Zero disables the check.
	MaxSize int64
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateMediaType accepts application/pdf, with or without parameters.
func (v *Validator) ValidateMediaType(mediaType string) error {
	if strings.TrimSpace(mediaType) == "" {
		return domain.InvalidInputError("no media type declared", nil)
	}
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return domain.InvalidInputError(fmt.Sprintf("unparseable media type %q", mediaType), err)
	}
	if mt != MediaType {
		return domain.InvalidInputError(fmt.Sprintf("media type %s is not %s", mt, MediaType), nil)
	}
	return nil
}

// ValidateDocument checks a document before a run starts. Only the declared
// media type and size are checked here; content problems surface later as
// extraction failures.
func (v *Validator) ValidateDocument(doc *domain.SourceDocument) error {
	if doc == nil {
		return domain.InvalidInputError("no document selected", nil)
	}
	if err := v.ValidateMediaType(doc.MediaType); err != nil {
		return err
	}
	if v.MaxSize > 0 && doc.Size() > v.MaxSize {
		return domain.InvalidInputError(fmt.Sprintf("document is %d bytes, limit is %d", doc.Size(), v.MaxSize), nil)
	}
	return nil
}

// ValidatePDFPath validates that a file path is valid and points to a PDF
func (v *Validator) ValidatePDFPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.InvalidInputError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.InvalidInputError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.InvalidInputError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return domain.InvalidInputError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pdf" {
		return domain.InvalidInputError(fmt.Sprintf("file is not a PDF (has extension %s)", ext), nil)
	}

	if v.MaxSize > 0 && info.Size() > v.MaxSize {
		return domain.InvalidInputError(fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), v.MaxSize), nil)
	}

	return nil
}

// LoadDocument reads a file from disk into a SourceDocument. The media type
// comes from the extension, falling back to content sniffing.
func (v *Validator) LoadDocument(path string) (*domain.SourceDocument, error) {
	if err := v.ValidatePDFPath(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.InvalidInputError(fmt.Sprintf("cannot read file: %s", path), err)
	}
	return &domain.SourceDocument{
		Name:      filepath.Base(path),
		MediaType: DetectMediaType(path, data),
		Data:      data,
	}, nil
}

// DetectMediaType guesses the media type of a file from its name and content.
func DetectMediaType(name string, data []byte) string {
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); mt != "" {
		return mt
	}
	return http.DetectContentType(data)
}

// HasPDFHeader reports whether data carries a %PDF- header near its start.
func HasPDFHeader(data []byte) bool {
	head := data
	if len(head) > maxScan {
		head = head[:maxScan]
	}
	return bytes.Contains(head, magic)
}
