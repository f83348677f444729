package action

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shiftworks/gatekeeper/pkg/apierr"
	"github.com/shiftworks/gatekeeper/pkg/audit"
	"github.com/shiftworks/gatekeeper/pkg/authz"
	"github.com/shiftworks/gatekeeper/pkg/observability"
)

// Authorizer is the permission-check dependency of the dispatcher.
// *authz.Resolver implements it.
type Authorizer interface {
	Authorize(ctx context.Context, principalID string, meta authz.RequestMeta, required ...string) (*authz.Authorization, error)
}

// Limiter is the admission-control dependency of the dispatcher.
// *ratelimit.Limiter implements it.
type Limiter interface {
	Check(ctx context.Context, principalID, actionID string) error
}

// Request is one action invocation.
type Request struct {
	ActionID ID              `json:"action_id"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// Envelope carries the caller identity and request context captured at the
// edge.
type Envelope struct {
	PrincipalID string
	IPAddress   string
	UserAgent   string
}

// Response is a successful action result.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// Dispatcher orchestrates the authorization and execution pipeline for
// every privileged action.
type Dispatcher struct {
	registry   *Registry
	authorizer Authorizer
	limiter    Limiter
	recorder   *audit.Recorder
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewDispatcher wires the pipeline. metrics may be nil in tests.
func NewDispatcher(registry *Registry, authorizer Authorizer, limiter Limiter,
	recorder *audit.Recorder, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		authorizer: authorizer,
		limiter:    limiter,
		recorder:   recorder,
		logger:     logger,
		metrics:    metrics,
	}
}

// Dispatch runs one invocation through the pipeline. An action that reaches
// the handler produces exactly one action.start event and exactly one
// terminal event (action.success or action.error), in that order.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, env Envelope) (resp *Response, err error) {
	started := time.Now()
	actionID := string(req.ActionID)

	defer func() {
		if d.metrics != nil {
			d.metrics.DispatchDuration.WithLabelValues(actionID).Observe(time.Since(started).Seconds())
			d.metrics.DispatchTotal.WithLabelValues(actionID, outcomeLabel(err)).Inc()
		}
	}()

	// Unknown actions are rejected before anything else happens; there is
	// no caller-attributable activity to audit yet.
	desc, ok := d.registry.Lookup(req.ActionID)
	if !ok {
		return nil, apierr.Newf(apierr.KindNotFound, "unknown action %q", actionID)
	}

	meta := authz.RequestMeta{Action: actionID, IPAddress: env.IPAddress, UserAgent: env.UserAgent}
	resource := audit.ActionResource(actionID)

	// The resolver records its own access.denied event on failure; the
	// dispatcher must not log the denial a second time.
	auth, err := d.authorizer.Authorize(ctx, env.PrincipalID, meta, desc.RequiredPermissions...)
	if err != nil {
		return nil, err
	}

	if err = d.limiter.Check(ctx, env.PrincipalID, actionID); err != nil {
		d.recorder.Record(ctx, &audit.Event{
			EventType:    audit.EventTypeLimiterRejected,
			UserID:       env.PrincipalID,
			Action:       actionID,
			Resource:     resource,
			Details:      apierr.DetailsOf(err),
			Metadata:     audit.Metadata{IPAddress: env.IPAddress, UserAgent: env.UserAgent},
			Success:      false,
			ErrorMessage: err.Error(),
		})
		return nil, err
	}

	startDetails := map[string]interface{}{"risk_level": string(desc.RiskLevel)}
	if len(req.Input) > 0 {
		startDetails["input"] = req.Input
	}
	d.recorder.Record(ctx, &audit.Event{
		EventType: audit.EventTypeActionStart,
		UserID:    env.PrincipalID,
		Action:    actionID,
		Resource:  resource,
		Details:   startDetails,
		Metadata:  audit.Metadata{IPAddress: env.IPAddress, UserAgent: env.UserAgent},
		Success:   true,
	})

	actx := &Context{
		PrincipalID: env.PrincipalID,
		Principal:   auth.Principal,
		Permissions: auth.Permissions,
		SuperAdmin:  auth.SuperAdmin,
		IPAddress:   env.IPAddress,
	}

	result, err := d.execute(ctx, desc, req.Input, actx)
	if err != nil {
		err = apierr.Wrap(err, apierr.KindInternal, "action "+actionID+" failed")
		d.recorder.Record(ctx, &audit.Event{
			EventType:    audit.EventTypeActionError,
			UserID:       env.PrincipalID,
			Action:       actionID,
			Resource:     resource,
			Details:      map[string]interface{}{"risk_level": string(desc.RiskLevel)},
			Metadata:     audit.Metadata{IPAddress: env.IPAddress, UserAgent: env.UserAgent},
			Success:      false,
			ErrorMessage: err.Error(),
		})
		d.logger.WithError(err).WithFields(map[string]interface{}{
			"action":       actionID,
			"principal_id": env.PrincipalID,
		}).Error("Action execution failed")
		return nil, err
	}

	successEvent := &audit.Event{
		EventType: audit.EventTypeActionSuccess,
		UserID:    env.PrincipalID,
		Action:    actionID,
		Resource:  resource,
		Details:   map[string]interface{}{"risk_level": string(desc.RiskLevel)},
		Metadata:  audit.Metadata{IPAddress: env.IPAddress, UserAgent: env.UserAgent},
		Success:   true,
	}
	// Handlers that touched a concrete entity report it in place of the
	// generic action resource.
	if auditable, ok := result.(Auditable); ok {
		successEvent.Resource = auditable.AuditResource()
	}
	d.recorder.Record(ctx, successEvent)

	return &Response{Success: true, Data: result}, nil
}

// execute invokes the handler with panic containment, so a panicking
// handler still gets its terminal audit event instead of unwinding past the
// pipeline.
func (d *Dispatcher) execute(ctx context.Context, desc Descriptor, input json.RawMessage, actx *Context) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = apierr.Newf(apierr.KindInternal, "action %s panicked: %v", desc.ID, rec)
		}
	}()
	return desc.Handler(ctx, input, actx)
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	switch apierr.KindOf(err) {
	case apierr.KindUnauthenticated:
		return "unauthenticated"
	case apierr.KindPermissionDenied:
		return "denied"
	case apierr.KindResourceExhausted:
		return "throttled"
	case apierr.KindNotFound:
		return "not_found"
	case apierr.KindInvalidArgument:
		return "invalid"
	case apierr.KindFailedPrecondition:
		return "precondition"
	default:
		return "error"
	}
}
