package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/venue-app/pricingservice/internal/log"
)

// Result values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Event represents an audit event
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Actor      string                 `json:"actor"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resource_id"`
	Details    map[string]interface{} `json:"details"`
	RequestID  string                 `json:"request_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Result     string                 `json:"result"`
	Error      string                 `json:"error,omitempty"`
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event) error
}

// ZapAuditLogger implements audit logging using zap
type ZapAuditLogger struct {
	logger *zap.Logger
}

// NewZapAuditLogger creates a new zap-based audit logger
func NewZapAuditLogger(logger *zap.Logger) *ZapAuditLogger {
	return &ZapAuditLogger{
		logger: logger.Named("audit"),
	}
}

// Log logs an audit event
func (l *ZapAuditLogger) Log(ctx context.Context, event Event) error {
	fields := []zap.Field{
		zap.String("audit_id", event.ID),
		zap.String("audit_type", event.Type),
		zap.String("audit_action", event.Action),
		zap.String("audit_resource", event.Resource),
		zap.String("audit_resource_id", event.ResourceID),
		zap.String("audit_result", event.Result),
		zap.Time("audit_timestamp", event.Timestamp),
	}

	if event.Actor != "" {
		fields = append(fields, zap.String("audit_actor", event.Actor))
	}

	if event.RequestID != "" {
		fields = append(fields, zap.String("request_id", event.RequestID))
	}

	if event.Error != "" {
		fields = append(fields, zap.String("audit_error", event.Error))
	}

	if len(event.Details) > 0 {
		detailsJSON, _ := json.Marshal(event.Details)
		fields = append(fields, zap.String("audit_details", string(detailsJSON)))
	}

	if event.Result == ResultSuccess {
		l.logger.Info("Audit event", fields...)
	} else {
		l.logger.Warn("Audit event", fields...)
	}

	return nil
}

// Manager builds audit events for pricing rule lifecycle changes
type Manager struct {
	logger Logger
	now    func() time.Time
}

// NewManager creates a new audit manager
func NewManager(logger Logger) *Manager {
	return &Manager{
		logger: logger,
		now:    time.Now,
	}
}

// LogRuleTransition logs an approval state change attempt. A non-nil cause
// records a rejected transition.
func (m *Manager) LogRuleTransition(ctx context.Context, actor, ruleID, action, from, to, comment string, cause error) error {
	event := m.newEvent(ctx, "pricing_rule", action, ruleID, actor)
	event.Details = map[string]interface{}{
		"from": from,
		"to":   to,
	}
	if comment != "" {
		event.Details["comment"] = comment
	}
	if cause != nil {
		event.Result = ResultFailure
		event.Error = cause.Error()
	}
	return m.logger.Log(ctx, event)
}

// LogMaterialization logs a surge rule produced from a surge config
func (m *Manager) LogMaterialization(ctx context.Context, configID, ruleID string, factor float64, superseded []string) error {
	event := m.newEvent(ctx, "surge_config", "materialize", configID, "surge-materializer")
	event.Details = map[string]interface{}{
		"rule_id":      ruleID,
		"surge_factor": factor,
		"superseded":   superseded,
	}
	return m.logger.Log(ctx, event)
}

func (m *Manager) newEvent(ctx context.Context, resource, action, resourceID, actor string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       resource,
		Actor:      actor,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		RequestID:  log.RequestID(ctx),
		Timestamp:  m.now().UTC(),
		Result:     ResultSuccess,
	}
}
