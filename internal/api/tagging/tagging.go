package tagging

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/haru-planner/app/observability/metrics"
)

const (
	DefaultMaxTags     = 10
	DefaultMaxTagRunes = 50
)

var _ Extractor = (*ServiceImpl)(nil)

// Request is what a backend needs to pull tags out of one utterance.
type Request struct {
	Utterance string
	Category  string
	PartySize int
}

// Extraction is the normalized result of one call. NoSignal is set when no
// tag came out; Unavailable additionally marks that every backend failed.
type Extraction struct {
	Tags        []string `json:"tags"`
	NoSignal    bool     `json:"no_signal"`
	Unavailable bool     `json:"unavailable,omitempty"`
	Backend     string   `json:"backend,omitempty"`
}

// Backend turns free text into raw tags. It may be non-deterministic.
type Backend interface {
	Name() string
	ExtractTags(ctx context.Context, req Request) ([]string, error)
}

// Extractor never fails; backend failures turn into an empty, low-confidence
// extraction.
type Extractor interface {
	Extract(ctx context.Context, req Request) Extraction
}

type Limits struct {
	MaxTags     int
	MaxTagRunes int
}

func (l Limits) withDefaults() Limits {
	if l.MaxTags <= 0 {
		l.MaxTags = DefaultMaxTags
	}
	if l.MaxTagRunes <= 0 {
		l.MaxTagRunes = DefaultMaxTagRunes
	}
	return l
}

type ServiceImpl struct {
	backends []Backend
	limits   Limits
	logger   *slog.Logger
	metrics  *metrics.AppMetrics
}

// NewService tries the backends in order; the first one that answers wins,
// even if it answers with no tags.
func NewService(logger *slog.Logger, appMetrics *metrics.AppMetrics, limits Limits, backends ...Backend) *ServiceImpl {
	return &ServiceImpl{
		backends: backends,
		limits:   limits.withDefaults(),
		logger:   logger,
		metrics:  appMetrics,
	}
}

func (s *ServiceImpl) Extract(ctx context.Context, req Request) Extraction {
	ctx, span := otel.Tracer("TagExtractor").Start(ctx, "Extract", trace.WithAttributes(
		attribute.String("category", req.Category),
		attribute.Int("utterance.length", utf8.RuneCountInString(req.Utterance)),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "Extract"), slog.String("category", req.Category))

	if strings.TrimSpace(req.Utterance) == "" {
		return Extraction{Tags: []string{}, NoSignal: true}
	}

	for _, b := range s.backends {
		raw, err := b.ExtractTags(ctx, req)
		if err != nil {
			l.WarnContext(ctx, "Tag backend failed, trying next", slog.String("backend", b.Name()), slog.Any("error", err))
			span.RecordError(err)
			s.metrics.RecordExtractionFallback(ctx, b.Name())
			continue
		}
		tags := Normalize(raw, s.limits)
		span.SetAttributes(attribute.Int("tags.count", len(tags)), attribute.String("backend", b.Name()))
		span.SetStatus(codes.Ok, "Tags extracted")
		l.DebugContext(ctx, "Tags extracted", slog.String("backend", b.Name()), slog.Any("tags", tags))
		return Extraction{Tags: tags, NoSignal: len(tags) == 0, Backend: b.Name()}
	}

	l.WarnContext(ctx, "No tag backend available")
	span.SetStatus(codes.Error, "No tag backend available")
	return Extraction{Tags: []string{}, NoSignal: true, Unavailable: true}
}

// Normalize lower-cases, trims and collapses whitespace, strips surrounding
// punctuation, bounds rune length and count, and removes duplicates.
func Normalize(tags []string, limits Limits) []string {
	limits = limits.withDefaults()
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		t := strings.Join(strings.Fields(strings.ToLower(tag)), " ")
		t = strings.Trim(t, "\"'`.,;:!?#*-·•()[]{}")
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if utf8.RuneCountInString(t) > limits.MaxTagRunes {
			t = strings.TrimSpace(string([]rune(t)[:limits.MaxTagRunes]))
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == limits.MaxTags {
			break
		}
	}
	return out
}
