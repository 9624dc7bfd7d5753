package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
)

type discoverRequest struct {
	Sources []string `json:"sources"`
}

type productRequest struct {
	ProductID string `json:"productId"`
	Force     bool   `json:"force"`
}

type renderRequest struct {
	ProductID string          `json:"productId"`
	Format    pipeline.Format `json:"format"`
}

type distributeRequest struct {
	VideoID   string              `json:"videoId"`
	Platforms []pipeline.Platform `json:"platforms"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type discoverStats struct {
	Found     int `json:"found"`
	New       int `json:"new"`
	Duplicate int `json:"duplicate"`
}

type discoverResponse struct {
	RunID      string        `json:"runId"`
	ProductIDs []string      `json:"productIds"`
	Stats      discoverStats `json:"stats"`
	Sources    any           `json:"sources"`
}

type distributeResponse struct {
	VideoID        string                 `json:"videoId"`
	VideoStatus    pipeline.VideoStatus   `json:"videoStatus"`
	ProductStatus  pipeline.ProductStatus `json:"productStatus"`
	PublicationIDs []string               `json:"publicationIds"`
	Publications   []pipeline.Publication `json:"publications"`
}

// decodeBody reads a JSON body into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	report, err := s.deps.Discoverer.Discover(r.Context(), req.Sources)
	if err != nil {
		s.writeStageError(w, r, err)
		return
	}
	productIDs := report.ProductIDs
	if productIDs == nil {
		productIDs = []string{}
	}
	writeData(w, http.StatusOK, discoverResponse{
		RunID:      report.RunID,
		ProductIDs: productIDs,
		Stats:      discoverStats{Found: report.Found, New: report.New, Duplicate: report.Duplicate},
		Sources:    report.Sources,
	})
}

// readProductRequest decodes and validates a body naming a product.
func readProductRequest(w http.ResponseWriter, r *http.Request) (productRequest, bool) {
	var req productRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return req, false
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "productId required")
		return req, false
	}
	return req, true
}

func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	req, ok := readProductRequest(w, r)
	if !ok {
		return
	}
	result, err := s.deps.Stages.Enrich(r.Context(), req.ProductID)
	if err != nil {
		s.writeStageError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) summarize(w http.ResponseWriter, r *http.Request) {
	req, ok := readProductRequest(w, r)
	if !ok {
		return
	}
	result, err := s.deps.Stages.Summarize(r.Context(), req.ProductID, req.Force)
	if err != nil {
		s.writeStageError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) score(w http.ResponseWriter, r *http.Request) {
	req, ok := readProductRequest(w, r)
	if !ok {
		return
	}
	result, err := s.deps.Stages.Score(r.Context(), req.ProductID, req.Force)
	if err != nil {
		s.writeStageError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) renderVideo(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		writeError(w, http.StatusBadRequest, "productId required")
		return
	}
	result, err := s.deps.Stages.RenderVideo(r.Context(), strings.TrimSpace(req.ProductID), req.Format)
	if err != nil {
		s.writeStageError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) distribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.VideoID) == "" {
		writeError(w, http.StatusBadRequest, "videoId required")
		return
	}
	result, err := s.deps.Stages.Distribute(r.Context(), strings.TrimSpace(req.VideoID), req.Platforms)
	if err != nil {
		s.writeStageError(w, r, err)
		return
	}
	publications := result.Publications
	if publications == nil {
		publications = []pipeline.Publication{}
	}
	writeData(w, http.StatusOK, distributeResponse{
		VideoID:        result.VideoID,
		VideoStatus:    result.VideoStatus,
		ProductStatus:  result.ProductStatus,
		PublicationIDs: result.PublicationIDs(),
		Publications:   publications,
	})
}

func (s *Server) approveVideo(w http.ResponseWriter, r *http.Request) {
	video, err := s.deps.Stages.ApproveVideo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStageError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, video)
}

func (s *Server) rejectVideo(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	video, err := s.deps.Stages.RejectVideo(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		s.writeStageError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, video)
}
