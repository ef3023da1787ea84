package metrics

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
// All record methods are safe on a nil receiver so tests can pass nil.
type AppMetrics struct {
	SessionsStartedTotal      metric.Int64Counter
	MessagesProcessedTotal    metric.Int64Counter
	StageTransitionsTotal     metric.Int64Counter
	RecommendationOutcomes    metric.Int64Counter
	ExtractionFallbacksTotal  metric.Int64Counter
	TransitFallbacksTotal     metric.Int64Counter
	ResolutionDurationSeconds metric.Float64Histogram
	DbQueryDurationSeconds    metric.Float64Histogram
	DbQueryErrorsTotal        metric.Int64Counter
	ItinerariesCompiledTotal  metric.Int64Counter
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics creates the instruments once, from the global MeterProvider.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("HaruPlanner")
		m := &AppMetrics{}

		m.SessionsStartedTotal = int64Counter(meter, "sessions_started_total", "Total number of conversation sessions started", "{session}")
		m.MessagesProcessedTotal = int64Counter(meter, "messages_processed_total", "Total number of user messages processed", "{message}")
		m.StageTransitionsTotal = int64Counter(meter, "stage_transitions_total", "Conversation stage transitions by target stage", "{transition}")
		m.RecommendationOutcomes = int64Counter(meter, "recommendation_outcomes_total", "Resolved category targets by outcome", "{target}")
		m.ExtractionFallbacksTotal = int64Counter(meter, "tag_extraction_fallbacks_total", "Tag backend failures that fell through", "{failure}")
		m.TransitFallbacksTotal = int64Counter(meter, "transit_fallbacks_total", "Transit estimates replaced by the default", "{leg}")
		m.DbQueryErrorsTotal = int64Counter(meter, "db_query_errors_total", "Total number of database query errors", "{error}")
		m.ItinerariesCompiledTotal = int64Counter(meter, "itineraries_compiled_total", "Total number of itineraries compiled", "{itinerary}")
		m.ResolutionDurationSeconds = float64Histogram(meter, "resolution_duration_seconds", "Duration of retrieval plus ranking for one target")
		m.DbQueryDurationSeconds = float64Histogram(meter, "db_query_duration_seconds", "Duration of database queries in seconds")

		log.Println("Application metrics instruments initialized.")
		appMetrics = m
	})
}

func int64Counter(meter metric.Meter, name, description, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		log.Fatalf("Metrics: Failed to create %s: %v", name, err)
	}
	return c
}

func float64Histogram(meter metric.Meter, name, description string) metric.Float64Histogram {
	h, err := meter.Float64Histogram(name, metric.WithDescription(description), metric.WithUnit("s"))
	if err != nil {
		log.Fatalf("Metrics: Failed to create %s: %v", name, err)
	}
	return h
}

// Get returns the globally initialized AppMetrics instance.
// Panics if InitAppMetrics was not called first.
func Get() *AppMetrics {
	if appMetrics == nil {
		panic("metrics instruments not initialized. Call metrics.InitAppMetrics() first.")
	}
	return appMetrics
}

func (m *AppMetrics) RecordSessionStarted(ctx context.Context, categories int) {
	if m == nil {
		return
	}
	m.SessionsStartedTotal.Add(ctx, 1, metric.WithAttributes(attribute.Int("categories", categories)))
}

func (m *AppMetrics) RecordMessage(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.MessagesProcessedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *AppMetrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.StageTransitionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("from", from), attribute.String("to", to)))
}

func (m *AppMetrics) RecordOutcome(ctx context.Context, category, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("category", category), attribute.String("outcome", outcome))
	m.RecommendationOutcomes.Add(ctx, 1, attrs)
	m.ResolutionDurationSeconds.Record(ctx, took.Seconds(), attrs)
}

func (m *AppMetrics) RecordExtractionFallback(ctx context.Context, backend string) {
	if m == nil {
		return
	}
	m.ExtractionFallbacksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

func (m *AppMetrics) RecordTransitFallback(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.TransitFallbacksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

func (m *AppMetrics) RecordItinerary(ctx context.Context, stops int, approximate bool) {
	if m == nil {
		return
	}
	m.ItinerariesCompiledTotal.Add(ctx, 1, metric.WithAttributes(attribute.Int("stops", stops), attribute.Bool("approximate", approximate)))
}

// RecordQuery records a database query duration and, when err is set, an error.
func (m *AppMetrics) RecordQuery(ctx context.Context, operation string, took time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	m.DbQueryDurationSeconds.Record(ctx, took.Seconds(), attrs)
	if err != nil {
		m.DbQueryErrorsTotal.Add(ctx, 1, attrs)
	}
}
