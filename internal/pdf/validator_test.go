package pdf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/module-creator/internal/domain"
)

func TestValidateMediaType(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateMediaType("application/pdf"))
	assert.NoError(t, v.ValidateMediaType("Application/PDF"))
	assert.NoError(t, v.ValidateMediaType("application/pdf; name=manual.pdf"))

	for _, mt := range []string{"", "text/plain", "image/png", "application/x-pdf-ish", ";;"} {
		err := v.ValidateMediaType(mt)
		require.Error(t, err, mt)
		assert.Equal(t, domain.ErrorTypeInvalidInput, domain.TypeOf(err), mt)
	}
}

func TestValidateDocument(t *testing.T) {
	v := &Validator{MaxSize: 10}

	assert.Equal(t, domain.ErrorTypeInvalidInput, domain.TypeOf(v.ValidateDocument(nil)))
	assert.NoError(t, v.ValidateDocument(&domain.SourceDocument{MediaType: MediaType, Data: []byte("%PDF-")}))

	big := &domain.SourceDocument{MediaType: MediaType, Data: make([]byte, 11)}
	assert.Equal(t, domain.ErrorTypeInvalidInput, domain.TypeOf(v.ValidateDocument(big)))
}

func TestValidatePDFPath(t *testing.T) {
	dir := t.TempDir()
	v := NewValidator()

	pdfPath := filepath.Join(dir, "manual.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4"), 0o644))
	txtPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("hi"), 0o644))

	assert.NoError(t, v.ValidatePDFPath(pdfPath))
	assert.Error(t, v.ValidatePDFPath(""))
	assert.Error(t, v.ValidatePDFPath(filepath.Join(dir, "missing.pdf")))
	assert.Error(t, v.ValidatePDFPath(dir))
	assert.Error(t, v.ValidatePDFPath(txtPath))
}

func TestLoadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manual.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 body"), 0o644))

	doc, err := NewValidator().LoadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "manual.pdf", doc.Name)
	assert.Equal(t, MediaType, doc.MediaType)
	assert.Equal(t, int64(13), doc.Size())
}

func TestHasPDFHeader(t *testing.T) {
	assert.True(t, HasPDFHeader([]byte("%PDF-1.7")))
	assert.True(t, HasPDFHeader([]byte("\xef\xbb\xbf%PDF-1.7")))
	assert.False(t, HasPDFHeader([]byte("hello")))
	assert.False(t, HasPDFHeader(nil))
}
