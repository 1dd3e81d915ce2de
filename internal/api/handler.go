package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/log"
	"github.com/venue-app/pricingservice/internal/pricing"
	"github.com/venue-app/pricingservice/internal/surge"
)

// Quoter prices bookings
type Quoter interface {
	Quote(ctx context.Context, req pricing.QuoteRequest) (*domain.Quote, error)
}

// RuleApprover moves rules through the approval workflow
type RuleApprover interface {
	Submit(ctx context.Context, ruleID, actor, comment string) (domain.PricingRule, error)
	Approve(ctx context.Context, ruleID, actor, comment string) (domain.PricingRule, error)
	Reject(ctx context.Context, ruleID, actor, comment string) (domain.PricingRule, error)
}

// SurgeMaterializer turns surge configs into draft rules
type SurgeMaterializer interface {
	Materialize(ctx context.Context, req surge.Request) (*surge.Outcome, error)
}

// Handler holds dependencies for API handlers.
type Handler struct {
	quoter       Quoter
	approvals    RuleApprover
	materializer SurgeMaterializer
}

// NewHandler creates a new API handler.
func NewHandler(quoter Quoter, approvals RuleApprover, materializer SurgeMaterializer) *Handler {
	return &Handler{
		quoter:       quoter,
		approvals:    approvals,
		materializer: materializer,
	}
}

// TransitionRequest is the body of the rule workflow endpoints.
type TransitionRequest struct {
	Actor   string `json:"actor"`
	Comment string `json:"comment,omitempty"`
}

// MaterializeRequest is the body of POST /v1/surge-configs/{id}/materialize.
type MaterializeRequest struct {
	Mode      surge.Mode `json:"mode,omitempty"`
	HourStart time.Time  `json:"hourStart,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// Quote handles POST /v1/pricing/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req pricing.QuoteRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	quote, err := h.quoter.Quote(log.WithSubLocationID(r.Context(), req.SubLocationID), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// SubmitRule handles POST /v1/rules/{id}/submit.
func (h *Handler) SubmitRule(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.approvals.Submit)
}

// ApproveRule handles POST /v1/rules/{id}/approve.
func (h *Handler) ApproveRule(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.approvals.Approve)
}

// RejectRule handles POST /v1/rules/{id}/reject.
func (h *Handler) RejectRule(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.approvals.Reject)
}

type transitionFunc func(ctx context.Context, ruleID, actor, comment string) (domain.PricingRule, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, apply transitionFunc) {
	var req TransitionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Actor == "" {
		writeError(w, r, domain.NewInvalidInputError("actor is required", ""))
		return
	}

	rule, err := apply(r.Context(), chi.URLParam(r, "id"), req.Actor, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// Materialize handles POST /v1/surge-configs/{id}/materialize. An empty
// body materializes the current hour in predictive mode.
func (h *Handler) Materialize(w http.ResponseWriter, r *http.Request) {
	var req MaterializeRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}

	outcome, err := h.materializer.Materialize(r.Context(), surge.Request{
		ConfigID:  chi.URLParam(r, "id"),
		Mode:      req.Mode,
		HourStart: req.HourStart,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, outcome)
}

func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return nil
	}
	return domain.NewInvalidInputError("invalid JSON request body", err.Error())
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := domain.HTTPStatus(err)
	body := errorBody{Code: domain.ErrCodeInternal, Message: "internal server error"}
	if de := domain.GetDomainError(err); de != nil && status != http.StatusInternalServerError {
		body = errorBody{Code: de.Code, Message: de.Message, Details: de.Details}
	}
	if status >= http.StatusInternalServerError {
		log.Error(r.Context(), "Request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: body})
}

// writeJSON encodes before writing the header so an unencodable value
// becomes a 500 instead of a success status with an empty body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Logger().Error("Failed to encode response", zap.Int("status", status), zap.Error(err))
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorResponse{Error: errorBody{
			Code:    domain.ErrCodeInternal,
			Message: "internal server error",
		}})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}
