package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/spherical/module-creator/internal/domain"
	"github.com/spherical/module-creator/internal/pdf"
	"github.com/spherical/module-creator/internal/process"
)

// RunDTO is the response to a run request.
type RunDTO struct {
	RunID string               `json:"runId"`
	State domain.PipelineState `json:"state"`
}

// ErrorDTO is the body of every error response. Message is always the
// user-facing notice, never transport or parse detail.
type ErrorDTO struct {
	Error string           `json:"error"`
	Type  domain.ErrorType `json:"type,omitempty"`
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "module-creator"})
}

// CreateRun handles POST /api/v1/runs. The document is sent as the
// multipart field "file". With ?wait=true the response is the final
// snapshot; otherwise the run continues in the background and 202 is
// returned.
func (s *Server) CreateRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	doc, err := readUpload(r, s.cfg.MaxUploadBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, domain.InvalidInputError("upload too large", err))
			return
		}
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	runID, done, err := s.ctrl.Start(s.cfg.RunContext, doc)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.log.WithContext(r.Context()).Info().
		Str("run_id", runID).
		Str("document", doc.Name).
		Msg("run accepted")

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		select {
		case <-done:
			s.writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
		case <-r.Context().Done():
		}
		return
	}

	snap := s.ctrl.Snapshot()
	s.writeJSON(w, http.StatusAccepted, RunDTO{RunID: runID, State: snap.State})
}

// readUpload pulls the "file" part out of a multipart request. The declared
// part type is trusted the way a browser file picker reports it; content is
// only sniffed when no type was declared.
func readUpload(r *http.Request, maxBytes int64) (*domain.SourceDocument, error) {
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, domain.InvalidInputError("expected multipart form with a file field", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, domain.InvalidInputError("no document selected", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, domain.InvalidInputError("failed to read upload", err)
	}

	mediaType := header.Header.Get("Content-Type")
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = pdf.DetectMediaType(header.Filename, data)
	}

	return &domain.SourceDocument{Name: header.Filename, MediaType: mediaType, Data: data}, nil
}

// State handles GET /api/v1/state.
func (s *Server) State(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

// Events handles GET /api/v1/events as a server-sent event stream. The
// first event is a snapshot of the current state.
func (s *Server) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	ch, unsubscribe := s.broker.Subscribe(0)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, "snapshot", s.ctrl.Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSE(w, string(ev.Type), ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// Document handles GET /api/v1/document, serving the current document for
// the viewer.
func (s *Server) Document(w http.ResponseWriter, r *http.Request) {
	rc, info, err := s.ctrl.OpenDocument()
	if errors.Is(err, process.ErrNoDocument) {
		s.writeJSON(w, http.StatusNotFound, ErrorDTO{Error: "no document loaded"})
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", pdf.MediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", info.Name))

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, info.Name, time.Time{}, rs)
		return
	}
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	_, _ = io.Copy(w, rc)
}

// statusFor maps controller errors to HTTP statuses.
func statusFor(err error) int {
	if errors.Is(err, process.ErrClosed) {
		return http.StatusServiceUnavailable
	}
	switch domain.TypeOf(err) {
	case domain.ErrorTypeInvalidInput:
		return http.StatusUnsupportedMediaType
	case domain.ErrorTypeBusy:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	s.writeJSON(w, status, ErrorDTO{Error: domain.UserMessage(err), Type: domain.TypeOf(err)})
}
