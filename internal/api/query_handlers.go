package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
)

const (
	defaultProductLimit = 50
	maxProductLimit     = 500
	recentRuns          = 5
)

// listProducts handles GET /v1/products?limit=, newest first.
func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultProductLimit, maxProductLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	products, err := s.deps.Store.ListProducts(r.Context(), limit)
	if err != nil {
		s.logger.Error("list products failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	if products == nil {
		products = []pipeline.Product{}
	}
	writeData(w, http.StatusOK, products)
}

// getProduct handles GET /v1/products/{id}. Missing summary or score are null.
func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	product, err := s.deps.Store.GetProduct(ctx, id)
	if errors.Is(err, pipeline.ErrNotFound) {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		s.logger.Error("get product failed", zap.String("product_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}

	detail := pipeline.ProductDetail{Product: product, Screenshots: []pipeline.Screenshot{}, Videos: []pipeline.Video{}}
	shots, err := s.deps.Store.ListScreenshots(ctx, id)
	if err != nil {
		s.logger.Error("list screenshots failed", zap.String("product_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	if shots != nil {
		detail.Screenshots = shots
	}
	if summary, err := s.deps.Store.GetSummary(ctx, id); err == nil {
		detail.Summary = &summary
	} else if !errors.Is(err, pipeline.ErrNotFound) {
		s.logger.Warn("get summary failed", zap.String("product_id", id), zap.Error(err))
	}
	if score, err := s.deps.Store.GetScore(ctx, id); err == nil {
		detail.Score = &score
	} else if !errors.Is(err, pipeline.ErrNotFound) {
		s.logger.Warn("get score failed", zap.String("product_id", id), zap.Error(err))
	}
	videos, err := s.deps.Store.ListVideos(ctx, pipeline.VideoFilter{ProductID: id})
	if err != nil {
		s.logger.Warn("list product videos failed", zap.String("product_id", id), zap.Error(err))
	}
	for _, v := range videos {
		detail.Videos = append(detail.Videos, v.Video)
	}
	writeData(w, http.StatusOK, detail)
}

// listVideos handles GET /v1/videos?status=.
func (s *Server) listVideos(w http.ResponseWriter, r *http.Request) {
	var filter pipeline.VideoFilter
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		filter.Status = pipeline.VideoStatus(strings.ToLower(raw))
		if !filter.Status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}
	videos, err := s.deps.Store.ListVideos(r.Context(), filter)
	if err != nil {
		s.logger.Error("list videos failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list videos")
		return
	}
	if videos == nil {
		videos = []pipeline.VideoListing{}
	}
	writeData(w, http.StatusOK, videos)
}

// stats handles GET /v1/stats.
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.Stats(r.Context(), recentRuns)
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeData(w, http.StatusOK, stats)
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}
