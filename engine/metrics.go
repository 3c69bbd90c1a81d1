package engine

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"boardsync/domain"
)

const (
	moveTracerName  = "boardsync/engine"
	moveSpanName    = "board.move"
	moveEventName   = "boardsync.move.settled"
	moveEventDomain = "boardsync"

	moveStageSubmit  = "submit"
	moveStageRefetch = "refetch"

	moveOutcomeCommitted  = "committed"
	moveOutcomeRolledBack = "rolled-back"
)

// moveMetrics collects per-dispatch timings and emits one observability
// event (logrus record plus span event) when the move settles.
type moveMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	projectID  string
	itemKind   domain.ItemKind
	taskID     string
	toGroupID  string
	toIndex    int
	queueDepth int

	submitDuration  time.Duration
	refetchDuration time.Duration
	errorStage      string
}

func newMoveMetrics(ctx context.Context, logger *log.Logger) (*moveMetrics, context.Context) {
	spanCtx, span := otel.Tracer(moveTracerName).Start(ctx, moveSpanName)
	return &moveMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}, spanCtx
}

func (m *moveMetrics) SetMove(projectID string, move domain.Move) {
	m.projectID = projectID
	m.itemKind = move.Kind
	m.taskID = move.TaskID
	m.toGroupID = move.ToGroupID
	m.toIndex = move.ToIndex
}

func (m *moveMetrics) SetQueueDepth(depth int) {
	if depth < 0 {
		depth = 0
	}
	m.queueDepth = depth
}

func (m *moveMetrics) ObserveSubmit(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.submitDuration = duration
}

func (m *moveMetrics) ObserveRefetch(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.refetchDuration = duration
}

func (m *moveMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log finishes the span and writes the observability event. It must be
// called exactly once per dispatched move.
func (m *moveMetrics) Log(outcome string, err error) {
	if m == nil || m.logger == nil {
		return
	}

	attrs := map[string]any{
		"board.project_id":       m.projectID,
		"board.move.item_kind":   string(m.itemKind),
		"board.move.task_id":     m.taskID,
		"board.move.to_group":    m.toGroupID,
		"board.move.to_index":    m.toIndex,
		"board.move.queue_depth": m.queueDepth,
		"board.move.outcome":     outcome,
		"board.move.total_ms":    durationToMillis(time.Since(m.start)),
	}
	if m.submitDuration > 0 {
		attrs["board.move.submit_ms"] = durationToMillis(m.submitDuration)
	}
	if m.refetchDuration > 0 {
		attrs["board.move.refetch_ms"] = durationToMillis(m.refetchDuration)
	}
	if m.errorStage != "" {
		attrs["board.move.error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}

	severityText, severityNumber := severityForOutcome(outcome, err)

	spanAttrs := make([]attribute.KeyValue, 0, len(attrs)+4)
	for key, value := range attrs {
		spanAttrs = append(spanAttrs, anyAttribute(key, value))
	}
	m.span.SetAttributes(spanAttrs...)

	eventAttrs := append(spanAttrs,
		attribute.String("event.name", moveEventName),
		attribute.String("event.domain", moveEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	)
	m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
	if err != nil {
		m.span.SetStatus(codes.Error, err.Error())
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	fields := log.Fields{
		"event.name":      moveEventName,
		"event.domain":    moveEventDomain,
		"attributes":      attrs,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	m.logger.WithFields(fields).Info("observability.event")
}

func severityForOutcome(outcome string, err error) (string, int) {
	if err != nil {
		return "ERROR", 17
	}
	if outcome == moveOutcomeCommitted {
		return "INFO", 9
	}
	return "WARN", 13
}

func anyAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
