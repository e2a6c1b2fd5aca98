package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/literature-console/internal/conversion"
	"github.com/helixir/literature-console/internal/domain"
	"github.com/helixir/literature-console/internal/panel"
)

// search handles POST /retriever/searches.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	ticket, err := s.retriever.Search(r.Context(), panel.SearchRequest{
		Query:  req.Query,
		Sort:   req.Sort,
		Offset: req.Offset,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ticketToResponse(ticket, "search requested"))
}

// selectPage handles POST /retriever/pages/{page}.
func (s *Server) selectPage(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}

	ticket, err := s.retriever.SelectPage(r.Context(), page)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ticketToResponse(ticket, "page requested"))
}

// filterByTitle handles POST /retriever/filters/title. The body is the
// record whose title refines the search.
func (s *Server) filterByTitle(w http.ResponseWriter, r *http.Request) {
	record, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	ticket, err := s.retriever.FilterByTitle(r.Context(), record)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ticketToResponse(ticket, "search requested"))
}

// importOpenAlex handles POST /retriever/imports/openalex.
func (s *Server) importOpenAlex(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	ticket, err := s.retriever.ImportOpenAlex(r.Context(), r.Body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ticketToResponse(ticket, "import requested"))
}

// importRIS handles POST /retriever/imports/ris.
func (s *Server) importRIS(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	ticket, err := s.retriever.ImportRIS(r.Context(), r.Body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ticketToResponse(ticket, "import requested"))
}

// exportRIS handles POST /retriever/exports/ris. The converted file is
// released later through the artifacts endpoint.
func (s *Server) exportRIS(w http.ResponseWriter, r *http.Request) {
	record, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	if err := s.retriever.ExportRIS(r.Context(), record); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exportAcceptedResponse{
		Artifact: conversion.RISFilename,
		Message:  "export requested",
	})
}

// exportJSON handles POST /retriever/exports/json.
func (s *Server) exportJSON(w http.ResponseWriter, r *http.Request) {
	record, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	artifact, err := s.retriever.ExportJSON(record)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeAttachment(w, artifact)
}

// downloadArtifact handles GET /retriever/artifacts/{name}. An artifact
// can be downloaded once.
func (s *Server) downloadArtifact(w http.ResponseWriter, r *http.Request) {
	if s.artifacts == nil {
		writeDomainError(w, domain.ErrArtifactNotFound)
		return
	}

	artifact, err := s.artifacts.Take(chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeAttachment(w, artifact)
}

// retrieverState handles GET /retriever/state.
func (s *Server) retrieverState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.retriever.State())
}
