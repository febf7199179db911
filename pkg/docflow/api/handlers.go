package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/randalmurphal/docflow/pkg/docflow"
	"github.com/randalmurphal/docflow/pkg/docflow/orchestrator"
	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/store"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// StartRequest is the POST /runs body.
type StartRequest struct {
	ExperimentID string `json:"experiment_id"`
	UserID       string `json:"user_id,omitempty"`
	// ReviewRequired defaults to true.
	ReviewRequired *bool `json:"review_required,omitempty"`
}

// StartResponse is the POST /runs response.
type StartResponse struct {
	RunID string `json:"run_id"`
}

// DecisionRequest is the POST /runs/{id}/decision body.
type DecisionRequest struct {
	Approved         *bool        `json:"approved"`
	ModifiedStrategy run.Strategy `json:"modified_strategy,omitempty"`
	ReviewNotes      string       `json:"review_notes,omitempty"`
	Reviewer         string       `json:"reviewer,omitempty"`
}

// DecisionResponse is the POST /runs/{id}/decision response.
type DecisionResponse struct {
	RunID  string     `json:"run_id"`
	Status run.Status `json:"status"`
}

// AbandonRequest is the optional POST /runs/{id}/abandon body.
type AbandonRequest struct {
	Reason string `json:"reason"`
}

// Start creates a run and returns 202 with its id.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decode(r, &req, false); err != nil {
		h.fail(w, err)
		return
	}

	review := true
	if req.ReviewRequired != nil {
		review = *req.ReviewRequired
	}
	id, err := h.svc.Start(r.Context(), req.ExperimentID, orchestrator.StartOptions{
		UserID:         req.UserID,
		ReviewRequired: review,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Location", "/runs/"+id)
	RespondJSON(w, http.StatusAccepted, StartResponse{RunID: id})
}

// List returns status views for runs matching the query filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := h.filterFromQuery(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	runs, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	views := make([]run.StatusView, 0, len(runs))
	for _, rr := range runs {
		views = append(views, rr.StatusView())
	}
	RespondJSON(w, http.StatusOK, views)
}

// Status returns the status view of one run.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	rr, err := h.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, rr.StatusView())
}

// SubmitDecision applies the review decision.
func (h *Handler) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := decode(r, &req, false); err != nil {
		h.fail(w, err)
		return
	}
	if req.Approved == nil {
		h.fail(w, &docflow.ValidationError{Field: "approved", Message: "is required"})
		return
	}

	rr, err := h.svc.SubmitDecision(r.Context(), chi.URLParam(r, "id"), run.Decision{
		Approved:         *req.Approved,
		ModifiedStrategy: req.ModifiedStrategy,
		ReviewNotes:      req.ReviewNotes,
		Reviewer:         req.Reviewer,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, DecisionResponse{RunID: rr.ID, Status: rr.Status})
}

// Result returns the result view of one run.
func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	rr, err := h.svc.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, rr.ResultView())
}

// Provenance returns the provenance graph of one run.
func (h *Handler) Provenance(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.ExportProvenance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, g)
}

// Abandon fails a non-terminal run. The body is optional.
func (h *Handler) Abandon(w http.ResponseWriter, r *http.Request) {
	var req AbandonRequest
	if err := decode(r, &req, true); err != nil {
		h.fail(w, err)
		return
	}
	rr, err := h.svc.Abandon(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, rr.StatusView())
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	RespondError(w, h.logger, StatusCode(err), err)
}

func (h *Handler) filterFromQuery(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	filter := store.Filter{ExperimentID: q.Get("experiment_id"), Limit: h.maxList}

	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := run.Status(strings.TrimSpace(s))
			if !st.Valid() {
				return store.Filter{}, &docflow.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", s)}
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return store.Filter{}, &docflow.ValidationError{Field: "limit", Message: "must be a positive integer"}
		}
		filter.Limit = min(n, h.maxList)
	}
	return filter, nil
}

// decode reads a JSON body into v. Malformed bodies are validation errors.
func decode(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return &docflow.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}
