package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNoDocument is returned by OpenDocument when nothing is loaded.
var ErrNoDocument = errors.New("no document loaded")

// DocumentInfo describes the document currently held for preview.
type DocumentInfo struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	Size      int64  `json:"size"`
}

// previewFile is a temporary copy of the current document served to the
// viewer. It lives until a new document replaces it or the controller
// closes.
type previewFile struct {
	path string
	info DocumentInfo
}

func (p *previewFile) release() error {
	if p == nil {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove preview %s: %w", p.path, err)
	}
	return nil
}

func writePreview(dir string, name, mediaType string, data []byte) (*previewFile, error) {
	f, err := os.CreateTemp(dir, "module-creator-*.pdf")
	if err != nil {
		return nil, err
	}
	p := &previewFile{
		path: f.Name(),
		info: DocumentInfo{Name: name, MediaType: mediaType, Size: int64(len(data))},
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = p.release()
		return nil, err
	}
	if err := f.Close(); err != nil {
		_ = p.release()
		return nil, err
	}
	return p, nil
}

// OpenDocument opens the current preview document for reading. The caller
// must close the reader. A reader stays valid even if the document is
// replaced while it is open.
func (c *Controller) OpenDocument() (io.ReadCloser, DocumentInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.preview == nil {
		return nil, DocumentInfo{}, ErrNoDocument
	}
	f, err := os.Open(c.preview.path)
	if err != nil {
		return nil, DocumentInfo{}, fmt.Errorf("open preview: %w", err)
	}
	return f, c.preview.info, nil
}

// replacePreviewLocked swaps in a preview copy of the new document and
// releases the previous one. A failed copy leaves no preview; the run
// itself does not depend on it.
func (c *Controller) replacePreviewLocked(name, mediaType string, data []byte, runID string) {
	if err := c.preview.release(); err != nil {
		c.log.WithRun(runID).Warn().Err(err).Msg("failed to release previous preview")
	}
	c.preview = nil

	p, err := writePreview(c.previewDir, name, mediaType, data)
	if err != nil {
		c.log.WithRun(runID).Warn().Err(err).Msg("failed to write preview copy")
		return
	}
	c.preview = p
}
