// Package api exposes the review workflow over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crm-approvals/internal/filter"
	"crm-approvals/internal/logging"
	"crm-approvals/internal/review"
	"crm-approvals/internal/schemamap"
)

// DefaultRequestTimeout bounds the platform work of one request.
const DefaultRequestTimeout = 3 * time.Minute

const maxBodyBytes = 4 << 20

// Reviewer is the workflow the handlers call.
type Reviewer interface {
	List(ctx context.Context, req review.ListRequest) (*review.ListResult, error)
	Summary(ctx context.Context, spec filter.Spec) (*review.SummaryResult, error)
	FilterOptions(ctx context.Context) (*review.FilterOptions, error)
	Approve(ctx context.Context, ids []string) (*review.ApproveResult, error)
	Reject(ctx context.Context, ids []string, reason string) (*review.RejectResult, error)
	Schema(ctx context.Context) (*schemamap.SchemaMap, error)
}

// SchemaInvalidator drops the cached schema map.
type SchemaInvalidator interface {
	Invalidate(ctx context.Context) error
}

// HandlerConfig wires the handlers.
type HandlerConfig struct {
	Reviewer       Reviewer
	Schema         SchemaInvalidator
	RequestTimeout time.Duration
}

// Handler implements the API handlers.
type Handler struct {
	reviewer Reviewer
	schema   SchemaInvalidator
	timeout  time.Duration
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Reviewer == nil {
		return nil, fmt.Errorf("api: reviewer is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Handler{reviewer: cfg.Reviewer, schema: cfg.Schema, timeout: cfg.RequestTimeout}, nil
}

type idsRequest struct {
	IDs    []string `json:"ids"`
	Reason string   `json:"reason,omitempty"`
}

type invalidateResponse struct {
	Invalidated bool `json:"invalidated"`
}

// List handles GET /api/v1/approvals
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error(), false)
		return
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error(), false)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	res, err := h.reviewer.List(ctx, review.ListRequest{
		Filter:    filterSpec(r),
		Offset:    offset,
		Limit:     limit,
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	})
	if err != nil {
		h.fail(w, r, "list approvals", err)
		return
	}
	writeJSON(w, r, res)
}

// Summary handles GET /api/v1/approvals/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	res, err := h.reviewer.Summary(ctx, filterSpec(r))
	if err != nil {
		h.fail(w, r, "summarize approvals", err)
		return
	}
	writeJSON(w, r, res)
}

// FilterOptions handles GET /api/v1/approvals/filter-options
func (h *Handler) FilterOptions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	res, err := h.reviewer.FilterOptions(ctx)
	if err != nil {
		h.fail(w, r, "load filter options", err)
		return
	}
	writeJSON(w, r, res)
}

// Schema handles GET /api/v1/approvals/schema
func (h *Handler) Schema(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	res, err := h.reviewer.Schema(ctx)
	if err != nil {
		h.fail(w, r, "load schema", err)
		return
	}
	writeJSON(w, r, res)
}

// Approve handles POST /api/v1/approvals/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	res, err := h.reviewer.Approve(ctx, req.IDs)
	if err != nil {
		h.fail(w, r, "approve records", err)
		return
	}
	writeJSON(w, r, res)
}

// Reject handles POST /api/v1/approvals/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	res, err := h.reviewer.Reject(ctx, req.IDs, req.Reason)
	if err != nil {
		h.fail(w, r, "reject records", err)
		return
	}
	writeJSON(w, r, res)
}

// InvalidateSchema handles POST /admin/schema/invalidate
func (h *Handler) InvalidateSchema(w http.ResponseWriter, r *http.Request) {
	if h.schema == nil {
		WriteProblem(w, r, http.StatusNotFound, "Schema cache is not configured", false)
		return
	}
	if err := h.schema.Invalidate(r.Context()); err != nil {
		h.fail(w, r, "invalidate schema", err)
		return
	}
	logging.FromContext(r.Context()).Info("schema cache invalidated by admin request")
	writeJSON(w, r, invalidateResponse{Invalidated: true})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	logging.FromContext(r.Context()).Warn(op+" failed", slog.String("error", err.Error()))
	MapError(w, r, err)
}

func filterSpec(r *http.Request) filter.Spec {
	q := r.URL.Query()
	return filter.Spec{LogicalField: q.Get("filterField"), RawValue: q.Get("filterValue")}
}

func intParam(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return v, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()), false)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("failed to encode response", "error", err)
	}
}
