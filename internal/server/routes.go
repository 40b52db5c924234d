package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/lazypower/fade/internal/engine"
	"github.com/lazypower/fade/internal/store"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// writeError maps engine errors onto status codes. category labels upstream failures.
func writeError(w http.ResponseWriter, category string, err error) {
	var verr *engine.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Message})
	case errors.Is(err, engine.ErrNoEmbedder), errors.Is(err, engine.ErrEmbedderUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: category, Details: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: category, Details: err.Error()})
	}
}

func (s *Server) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	var req engine.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Details: err.Error()})
		return
	}

	res, err := s.svc.Ingest(r.Context(), req)
	if err != nil {
		log.Printf("ingest: %v", err)
		writeError(w, "Failed to add memory", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":            res.ID,
		"message":       "Memory added successfully",
		"initial_score": res.InitialScore,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query     string `json:"query"`
		TopK      *int   `json:"top_k"`
		RetrieveN *int   `json:"retrieve_n"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Details: err.Error()})
		return
	}

	search := engine.SearchRequest{
		Query:     req.Query,
		TopK:      engine.DefaultTopK,
		RetrieveN: engine.DefaultRetrieveN,
	}
	if req.TopK != nil {
		search.TopK = *req.TopK
	}
	if req.RetrieveN != nil {
		search.RetrieveN = *req.RetrieveN
	}

	res, err := s.svc.Retrieve(r.Context(), search)
	if err != nil {
		log.Printf("search: %v", err)
		writeError(w, "Failed to search memories", err)
		return
	}

	results := res.Results
	if results == nil {
		results = []store.ScoredPoint{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleTrim(w http.ResponseWriter, r *http.Request) {
	if s.trimmer == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "trimming not configured"})
		return
	}

	res := s.trimmer.Run(r.Context())
	if errors.Is(res.Err, engine.ErrTrimInProgress) {
		writeJSON(w, http.StatusConflict, errorBody{Error: res.Err.Error()})
		return
	}

	body := map[string]any{
		"scanned": res.Scanned,
		"deleted": res.Deleted,
	}
	if res.Err != nil {
		body["error"] = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}
