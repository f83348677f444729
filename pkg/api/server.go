// Package api exposes the privileged action pipeline over HTTP: one
// execution endpoint, a rate-limit status probe, and a compliance query
// surface over the audit trail.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/shiftworks/gatekeeper/pkg/action"
	"github.com/shiftworks/gatekeeper/pkg/apierr"
	"github.com/shiftworks/gatekeeper/pkg/audit"
	"github.com/shiftworks/gatekeeper/pkg/authz"
	"github.com/shiftworks/gatekeeper/pkg/httputil"
	"github.com/shiftworks/gatekeeper/pkg/observability"
	"github.com/shiftworks/gatekeeper/pkg/ratelimit"
)

// PermissionAuditView gates the audit query endpoint.
const PermissionAuditView = "audit.view"

// Server is the HTTP front of the action pipeline.
type Server struct {
	router     *mux.Router
	dispatcher *action.Dispatcher
	limiter    *ratelimit.Limiter
	authorizer action.Authorizer
	auditStore audit.Store
	logger     *observability.Logger
}

// NewServer wires the routes and middleware chain. metrics may be nil in
// tests, which disables HTTP instrumentation.
func NewServer(dispatcher *action.Dispatcher, limiter *ratelimit.Limiter,
	authorizer action.Authorizer, auditStore audit.Store, verifier Verifier,
	logger *observability.Logger, metrics *observability.Metrics) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		dispatcher: dispatcher,
		limiter:    limiter,
		authorizer: authorizer,
		auditStore: auditStore,
		logger:     logger,
	}

	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(observability.PanicRecoveryMiddleware(logger))
	if metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	s.router.Use(AuthMiddleware(verifier, logger))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/v1/actions/execute", s.executeAction).Methods("POST")
	s.router.HandleFunc("/v1/ratelimits/{actionID}", s.rateLimitStatus).Methods("GET")
	s.router.HandleFunc("/v1/audit/events", s.searchAuditEvents).Methods("GET")
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// executeAction runs one privileged action through the dispatch pipeline.
func (s *Server) executeAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req action.Request
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, s.logger, err)
		return
	}
	if req.ActionID == "" {
		httputil.WriteError(w, s.logger,
			apierr.New(apierr.KindInvalidArgument, "action_id is required"))
		return
	}

	env := action.Envelope{
		PrincipalID: observability.GetPrincipalID(ctx),
		IPAddress:   httputil.ClientIP(r),
		UserAgent:   r.UserAgent(),
	}

	resp, err := s.dispatcher.Dispatch(ctx, req, env)
	if err != nil {
		httputil.WriteError(w, s.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// rateLimitStatus reports the caller's remaining budget for one action
// without consuming any of it.
func (s *Server) rateLimitStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actionID := mux.Vars(r)["actionID"]

	status, err := s.limiter.Status(ctx, observability.GetPrincipalID(ctx), actionID)
	if err != nil {
		httputil.WriteError(w, s.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// auditSearchResponse is the wire shape of an audit query result.
type auditSearchResponse struct {
	Events []*audit.Event `json:"events"`
	Count  int            `json:"count"`
}

// searchAuditEvents serves compliance queries over the audit trail. Requires
// the audit.view permission; the denial itself lands in the trail.
func (s *Server) searchAuditEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	meta := authz.RequestMeta{
		Action:    "audit.search",
		IPAddress: httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
	if _, err := s.authorizer.Authorize(ctx, observability.GetPrincipalID(ctx), meta, PermissionAuditView); err != nil {
		httputil.WriteError(w, s.logger, err)
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		httputil.WriteError(w, s.logger, err)
		return
	}

	events, err := s.auditStore.Search(ctx, filter)
	if err != nil {
		httputil.WriteError(w, s.logger,
			apierr.Wrap(err, apierr.KindInternal, "audit search failed"))
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}

	httputil.WriteJSON(w, http.StatusOK, auditSearchResponse{Events: events, Count: len(events)})
}

func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	query := r.URL.Query()
	filter := audit.Filter{UserID: query.Get("user_id")}

	for _, raw := range query["event_type"] {
		eventType := audit.EventType(raw)
		if !audit.ValidEventTypes[eventType] {
			return filter, apierr.Newf(apierr.KindInvalidArgument, "unknown event type %q", raw)
		}
		filter.EventTypes = append(filter.EventTypes, eventType)
	}

	if raw := query.Get("success"); raw != "" {
		success, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, apierr.New(apierr.KindInvalidArgument, "success must be true or false")
		}
		filter.Success = &success
	}

	var err error
	if filter.From, err = parseTimeParam(query.Get("from")); err != nil {
		return filter, err
	}
	if filter.To, err = parseTimeParam(query.Get("to")); err != nil {
		return filter, err
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, apierr.New(apierr.KindInvalidArgument, "limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, apierr.New(apierr.KindInvalidArgument, "offset must be a non-negative integer")
		}
		filter.Offset = offset
	}

	return filter, nil
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apierr.Newf(apierr.KindInvalidArgument,
			"timestamps must be RFC 3339, got %q", raw)
	}
	return t, nil
}
