package speech

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-listen/speech"

type sessionMetrics struct {
	attempts metric.Int64Counter
	errors   metric.Int64Counter
	results  metric.Int64Counter
}

func newSessionMetrics() (*sessionMetrics, error) {
	meter := otel.Meter(instrumentationName)
	attempts, err := meter.Int64Counter("loqa.listen.attempts", metric.WithDescription("Recognition attempts started"))
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64Counter("loqa.listen.errors", metric.WithDescription("Recognition errors surfaced to the user"))
	if err != nil {
		return nil, err
	}
	results, err := meter.Int64Counter("loqa.listen.results", metric.WithDescription("Final results with at least one candidate"))
	if err != nil {
		return nil, err
	}
	return &sessionMetrics{attempts: attempts, errors: errs, results: results}, nil
}

func (m *sessionMetrics) attempt(ctx context.Context, language string) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("language", language)))
}

func (m *sessionMetrics) error(ctx context.Context, code string) {
	if m == nil {
		return
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

func (m *sessionMetrics) errorCode(ctx context.Context, code int) {
	m.error(ctx, strconv.Itoa(code))
}

func (m *sessionMetrics) result(ctx context.Context) {
	if m == nil {
		return
	}
	m.results.Add(ctx, 1)
}
