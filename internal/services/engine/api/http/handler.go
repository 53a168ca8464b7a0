// Package httpapi exposes the inbound change-notification endpoint.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/torquehq/engine/internal/services/engine/domain"
)

const tracerName = "github.com/torquehq/engine/internal/services/engine/api/http"

// ResourceResolver resolves the parent resource an inbound notification is
// addressed to. A nil context with a nil error means the resource is
// unknown.
type ResourceResolver func(ctx context.Context, kind string, id int64) (domain.Context, error)

// Handler serves POST /events/{kind}/{id} change notifications.
type Handler struct {
	service    *domain.Service
	dispatcher *domain.Dispatcher
	resolve    ResourceResolver
	apiKey     string
	tracer     trace.Tracer
	mux        *http.ServeMux
}

// NewHandler builds the notification endpoint. An empty apiKey disables
// shared-key auth.
func NewHandler(service *domain.Service, dispatcher *domain.Dispatcher, resolve ResourceResolver, apiKey string) (*Handler, error) {
	if service == nil {
		return nil, errors.New("ledger service is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if resolve == nil {
		return nil, errors.New("resource resolver is required")
	}

	handler := &Handler{
		service:    service,
		dispatcher: dispatcher,
		resolve:    resolve,
		apiKey:     strings.TrimSpace(apiKey),
		tracer:     otel.Tracer(tracerName),
		mux:        http.NewServeMux(),
	}
	handler.mux.HandleFunc("POST /events/{kind}/{id}", handler.handleChanged)
	return handler, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (h *Handler) handleChanged(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)

	if !h.authorized(r) {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid api key")
		return
	}

	kind := strings.TrimSpace(r.PathValue("kind"))
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("id")), 10, 64)
	if kind == "" || err != nil || id <= 0 {
		writeJSONError(w, http.StatusNotFound, "not_found", "unknown resource")
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "engine.changed",
		trace.WithAttributes(
			attribute.String("engine.parent_kind", kind),
			attribute.Int64("engine.parent_id", id),
			attribute.String("engine.request_id", requestID),
		),
	)
	defer span.End()

	resource, err := h.resolve(ctx, kind, id)
	if err != nil {
		span.SetStatus(codes.Error, "resolve resource")
		log.Printf("resolve resource %s/%d: %v", kind, id, err)
		writeJSONError(w, http.StatusInternalServerError, "internal", "resource resolution failed")
		return
	}
	if resource == nil {
		writeJSONError(w, http.StatusNotFound, "not_found", "unknown resource")
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "malformed json body")
		return
	}
	request := &domain.Request{Body: body}

	event, err := h.service.ResolveActivityEvent(ctx, request, resource)
	if err != nil {
		span.SetStatus(codes.Error, "resolve activity event")
		log.Printf("resolve activity event for %s/%d: %v", kind, id, err)
		writeJSONError(w, http.StatusInternalServerError, "internal", "event resolution failed")
		return
	}

	result, err := h.dispatcher.Dispatch(domain.Invocation{
		Request: request,
		Context: resource,
		Event:   event,
	})
	if err != nil {
		span.SetStatus(codes.Error, "dispatch")
		log.Printf("dispatch for %s/%d: %v", kind, id, err)
		writeJSONError(w, http.StatusInternalServerError, "internal", "handler dispatch failed")
		return
	}
	span.SetAttributes(attribute.Int("engine.handler_results", len(result.Handlers)))

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.apiKey == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	key, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(key)), []byte(h.apiKey)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}
