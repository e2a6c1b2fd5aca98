package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/helixir/literature-console/internal/conversion"
	"github.com/helixir/literature-console/internal/domain"
)

// maxRequestBodySize limits JSON request bodies. Documents are bounded by
// the import limit instead.
const maxRequestBodySize = 1 << 20

// classifyText handles POST /classifier/classifications.
func (s *Server) classifyText(w http.ResponseWriter, r *http.Request) {
	var req classifyTextRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	ticket, err := s.classifier.ClassifyText(r.Context(), req.Text)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ticketToResponse(ticket, "classification requested"))
}

// classifyDocument handles POST /classifier/documents. The body is the
// JSON document to classify.
func (s *Server) classifyDocument(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	ticket, err := s.classifier.ClassifyJSON(r.Context(), r.Body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ticketToResponse(ticket, "classification requested"))
}

// classifyDatasetRecord handles POST /classifier/datasets/records. The body
// is one bibliographic record with a DOI.
func (s *Server) classifyDatasetRecord(w http.ResponseWriter, r *http.Request) {
	record, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	ticket, err := s.classifier.ClassifyDataset(r.Context(), record)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ticketToResponse(ticket, "classification requested"))
}

// classifierState handles GET /classifier/state.
func (s *Server) classifierState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.classifier.State())
}

// decodeAndValidate reads a JSON body into v and validates its struct tags,
// writing a 400 response on failure.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if !decodeJSONBody(w, r, v) {
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

// decodeJSONBody reads a bounded JSON body into v.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if len(body) > maxRequestBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", maxRequestBodySize))
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

// decodeRecord reads a bibliographic record from the body.
func decodeRecord(w http.ResponseWriter, r *http.Request) (domain.Record, bool) {
	var record domain.Record
	if !decodeJSONBody(w, r, &record) {
		return nil, false
	}
	if len(record) == 0 {
		writeError(w, http.StatusBadRequest, "record is required")
		return nil, false
	}
	return record, true
}

// writeAttachment sends an artifact as a file download.
func writeAttachment(w http.ResponseWriter, a conversion.Artifact) {
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}

// writeValidationError reports the first failed struct tag of a request.
func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: failed %s validation", fe.Field(), fe.Tag()))
		return
	}
	writeError(w, http.StatusBadRequest, "invalid input")
}

// jsonTagName makes validation errors use JSON field names.
func jsonTagName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// writeDomainError maps domain errors to appropriate HTTP status codes
// and writes a JSON error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrRequestInFlight):
		writeError(w, http.StatusConflict, "a request is already in flight")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrSessionClosed),
		errors.Is(err, domain.ErrSendQueueFull),
		errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
