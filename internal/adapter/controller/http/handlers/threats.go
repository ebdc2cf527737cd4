package handlers

import (
	"context"
	"net/http"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/adapter/external/threatintel"
	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// ThreatService is the reputation facade behind the handlers
type ThreatService interface {
	Check(ctx context.Context, raw string) (*entity.AggregatedResult, error)
	ClearCache(ctx context.Context) error
	Invalidate(ctx context.Context, raw string) (entity.NormalizedQuery, error)
	CacheStats() threatintel.CacheStats
	Providers() []threatintel.ProviderStatus
}

// ThreatsHandler handles reputation HTTP requests
type ThreatsHandler struct {
	service ThreatService
}

// NewThreatsHandler creates a new threats handler
func NewThreatsHandler(service ThreatService) *ThreatsHandler {
	return &ThreatsHandler{service: service}
}

// CheckRequest is the body of a reputation check
type CheckRequest struct {
	Query string `json:"query"`
}

// Check returns the reputation of an IP address or domain
// POST /api/check
func (h *ThreatsHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	result, err := h.service.Check(r.Context(), req.Query)
	if err != nil {
		ErrorResponse(w, statusFor(err), err.Error())
		return
	}

	JSONResponse(w, http.StatusOK, result)
}

// Providers lists the registered providers
// GET /api/providers
func (h *ThreatsHandler) Providers(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, http.StatusOK, map[string]any{
		"providers": h.service.Providers(),
	})
}

// CacheStats returns result cache statistics
// GET /api/cache/stats
func (h *ThreatsHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, http.StatusOK, h.service.CacheStats())
}

// ClearCache drops every cached result
// POST /api/cache/clear
func (h *ThreatsHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearCache(r.Context()); err != nil {
		ErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSONResponse(w, http.StatusOK, map[string]any{"cleared": true})
}

// Invalidate drops the cached result of one query
// POST /api/cache/invalidate
func (h *ThreatsHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	q, err := h.service.Invalidate(r.Context(), req.Query)
	if err != nil {
		ErrorResponse(w, statusFor(err), err.Error())
		return
	}
	JSONResponse(w, http.StatusOK, map[string]any{"invalidated": q})
}
