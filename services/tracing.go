package services

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ClinicQueue/apperr"
	"ClinicQueue/models"
)

var tracer = otel.Tracer("clinicqueue/services")

func dayAttrs(key models.DayKey) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.Int64("clinic.id", key.ClinicID),
		attribute.String("day.variant", string(key.Variant)),
		attribute.String("day.date", key.Date),
	)
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("error.kind", string(apperr.KindOf(err))))
		span.SetStatus(codes.Error, apperr.Message(err))
	}
	span.End()
}

// resultLabel turns an operation outcome into a metric label.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.KindOf(err))
}
