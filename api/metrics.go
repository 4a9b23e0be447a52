package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "scout-tdl/api"
	itemsRoute       = "/api/items"
	itemsSpanName    = "tdl.items.list"
	itemsEventName   = "tdl.items.list"
	itemsEventDomain = "tdl"
)

// itemsRequestMetrics instruments the board fetch: one span per request plus
// an observability.event log record carrying the same attributes.
type itemsRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	authDuration   time.Duration
	loadDuration   time.Duration
	encodeDuration time.Duration
	itemsReturned  int
	statusFilter   string
	errorStage     string
}

func newItemsRequestMetrics(ctx context.Context, logger *log.Logger) (*itemsRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, itemsSpanName)
	return &itemsRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}, spanCtx
}

func (m *itemsRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *itemsRequestMetrics) ObserveLoad(d time.Duration) {
	if d > 0 {
		m.loadDuration = d
	}
}

func (m *itemsRequestMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encodeDuration = d
	}
}

func (m *itemsRequestMetrics) SetItemsReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.itemsReturned = count
}

func (m *itemsRequestMetrics) SetStatusFilter(status string) {
	m.statusFilter = status
}

func (m *itemsRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log closes the span and emits the observability.event record. Call exactly
// once per request.
func (m *itemsRequestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	severityText, severityNumber := severityForStatus(status, err)

	attrs := []attribute.KeyValue{
		attribute.String("http.route", itemsRoute),
		attribute.Int("http.status_code", status),
		attribute.Float64("tdl.items.total_ms", durationToMillis(time.Since(m.start))),
		attribute.Int("tdl.items.items_returned", m.itemsReturned),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("tdl.items.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.loadDuration > 0 {
		attrs = append(attrs, attribute.Float64("tdl.items.load_ms", durationToMillis(m.loadDuration)))
	}
	if m.encodeDuration > 0 {
		attrs = append(attrs, attribute.Float64("tdl.items.encode_ms", durationToMillis(m.encodeDuration)))
	}
	if m.statusFilter != "" {
		attrs = append(attrs, attribute.String("tdl.items.status_filter", m.statusFilter))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("tdl.items.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", itemsEventName),
			attribute.String("event.domain", itemsEventDomain),
			attribute.String("severity_text", severityText),
		}, attrs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
		if err != nil {
			m.span.SetStatus(codes.Error, err.Error())
		} else if status >= http.StatusInternalServerError {
			m.span.SetStatus(codes.Error, http.StatusText(status))
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	attrFields := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attrFields[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      itemsEventName,
		"event.domain":    itemsEventDomain,
		"attributes":      attrFields,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}

	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error("observability.event")
	case "WARN":
		entry.Warn("observability.event")
	default:
		entry.Info("observability.event")
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
