package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/literature-console/internal/domain"
	"github.com/helixir/literature-console/internal/panel"
)

const classificationsPath = "/api/v1/classifier/classifications"

// ---------------------------------------------------------------------------
// Tests: classifier
// ---------------------------------------------------------------------------

func TestClassifyText_Success(t *testing.T) {
	env := newTestHTTPServer(t)

	rr := postJSON(t, env.server, classificationsPath, map[string]string{"text": "graphene membranes"})

	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var resp requestAcceptedResponse
	decodeJSON(t, rr, &resp)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, panel.OperationClassifyText, resp.Operation)
	assert.False(t, resp.StartedAt.IsZero())

	sent := env.classifier.events()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.EventTextClassification, sent[0].event)
	assert.Equal(t, "graphene membranes", sent[0].payload)
}

func TestClassifyText_InFlightConflict(t *testing.T) {
	env := newTestHTTPServer(t)

	rr := postJSON(t, env.server, classificationsPath, map[string]string{"text": "first"})
	require.Equal(t, http.StatusAccepted, rr.Code)

	rr = postJSON(t, env.server, classificationsPath, map[string]string{"text": "second"})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Len(t, env.classifier.events(), 1)
}

func TestClassifyText_Validation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"missing text", `{}`, http.StatusBadRequest, "text: failed required validation"},
		{"invalid JSON", `{"text":`, http.StatusBadRequest, "invalid JSON request body"},
		{"blank text", `{"text":"   "}`, http.StatusBadRequest, "validation error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestHTTPServer(t)

			rr := postJSON(t, env.server, classificationsPath, tt.body)

			assert.Equal(t, tt.wantCode, rr.Code)
			var body map[string]string
			decodeJSON(t, rr, &body)
			assert.Contains(t, body["error"], tt.wantErr)
			assert.Empty(t, env.classifier.events())
		})
	}
}

func TestClassifyText_BodyTooLarge(t *testing.T) {
	env := newTestHTTPServer(t)

	body := `{"text":"` + strings.Repeat("a", maxRequestBodySize) + `"}`
	rr := postJSON(t, env.server, classificationsPath, body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestClassifyText_SessionUnavailable(t *testing.T) {
	env := newTestHTTPServer(t)
	env.classifier.sendErr = domain.ErrSendQueueFull

	rr := postJSON(t, env.server, classificationsPath, map[string]string{"text": "graphene"})

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestClassifyDocument(t *testing.T) {
	env := newTestHTTPServer(t)

	rr := postJSON(t, env.server, "/api/v1/classifier/documents", `{"title": "Graphene", "abstract": "membranes"}`)

	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	sent := env.classifier.events()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.EventJSONClassification, sent[0].event)
	assert.Equal(t, `{"title":"Graphene","abstract":"membranes"}`, sent[0].payload)
}

func TestClassifyDocument_Malformed(t *testing.T) {
	env := newTestHTTPServer(t)

	rr := postJSON(t, env.server, "/api/v1/classifier/documents", `{"title": `)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, env.classifier.events())

	rr = serveHTTP(env.server, httptest.NewRequest(http.MethodGet, "/api/v1/classifier/state", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var state panel.ClassifierState
	decodeJSON(t, rr, &state)
	assert.Equal(t, domain.OutcomeFailure, state.Outcome)
	assert.Equal(t, "JSON is invalid.", state.Error)
	assert.False(t, state.Loading)
}

func TestClassifyDatasetRecord(t *testing.T) {
	env := newTestHTTPServer(t)

	rr := postJSON(t, env.server, "/api/v1/classifier/datasets/records", `{"DOI": "10.1/g", "title": ["Graphene"]}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	sent := env.classifier.events()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.EventDatasetClassification, sent[0].event)

	env.classifier.deliver(domain.EventDatasetClassificationResults, `{
		"DOI": "10.1/g", "challenges": [], "themes": ["Materials"], "scientificThemes": [],
		"mobilityTypes": [], "axes": [], "usages": []
	}`)

	rr = serveHTTP(env.server, httptest.NewRequest(http.MethodGet, "/api/v1/classifier/state", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var state panel.ClassifierState
	decodeJSON(t, rr, &state)
	assert.Equal(t, domain.OutcomeSuccess, state.Outcome)
	assert.Equal(t, "10.1/g", state.DOI)
}

func TestClassifyDatasetRecord_MissingDOI(t *testing.T) {
	env := newTestHTTPServer(t)

	rr := postJSON(t, env.server, "/api/v1/classifier/datasets/records", `{"title": ["Graphene"]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "DOI")
	assert.Empty(t, env.classifier.events())

	rr = postJSON(t, env.server, "/api/v1/classifier/datasets/records", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestClassifierState_AfterResult(t *testing.T) {
	env := newTestHTTPServer(t)

	rr := postJSON(t, env.server, classificationsPath, map[string]string{"text": "graphene"})
	require.Equal(t, http.StatusAccepted, rr.Code)

	env.classifier.deliver(domain.EventTextClassificationResults, `{
		"challenges": "[]", "themes": "[\"Materials\"]", "scientificThemes": "[]",
		"mobilityTypes": "[]", "axes": "[]", "usages": "[]"
	}`)

	rr = serveHTTP(env.server, httptest.NewRequest(http.MethodGet, "/api/v1/classifier/state", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var state panel.ClassifierState
	decodeJSON(t, rr, &state)
	assert.Equal(t, domain.OutcomeSuccess, state.Outcome)
	assert.False(t, state.Loading)
	require.Len(t, state.Categories, 6)
	assert.Equal(t, "themes", state.Categories[1].Key)
	assert.Equal(t, []string{"Materials"}, state.Categories[1].Values)
}

// ---------------------------------------------------------------------------
// Tests: writeDomainError
// ---------------------------------------------------------------------------

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound, "resource not found"},
		{"artifact not found", domain.ErrArtifactNotFound, http.StatusNotFound, "resource not found"},
		{"validation", domain.NewValidationError("page", "must be between 1 and 5"), http.StatusBadRequest, "validation error: page: must be between 1 and 5"},
		{"bare invalid input", domain.ErrInvalidInput, http.StatusBadRequest, "invalid input"},
		{"in flight", domain.ErrRequestInFlight, http.StatusConflict, "a request is already in flight"},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests, "rate limited"},
		{"session closed", fmt.Errorf("send search_query: %w", domain.ErrSessionClosed), http.StatusServiceUnavailable, "service unavailable"},
		{"queue full", domain.ErrSendQueueFull, http.StatusServiceUnavailable, "service unavailable"},
		{"internal", errors.New("pq: connection refused at 10.0.0.3"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeDomainError(rr, tt.err)

			assert.Equal(t, tt.wantCode, rr.Code)
			var body map[string]string
			decodeJSON(t, rr, &body)
			assert.Equal(t, tt.wantMsg, body["error"])
			assert.NotContains(t, rr.Body.String(), "10.0.0.3")
		})
	}
}

func TestWriteDomainError_Nil(t *testing.T) {
	rr := httptest.NewRecorder()
	writeDomainError(rr, nil)
	assert.Equal(t, 0, rr.Body.Len())
}
