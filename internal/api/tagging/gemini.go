package tagging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/FACorreiaa/haru-planner/internal/types"
)

var _ Backend = (*GeminiBackend)(nil)

// ContentGenerator is satisfied by generativeAI.AIClient.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error)
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

// minUsefulTags triggers one retry when the model answers too tersely.
const minUsefulTags = 3

type GeminiBackend struct {
	generator ContentGenerator
	logger    *slog.Logger
}

func NewGeminiBackend(generator ContentGenerator, logger *slog.Logger) *GeminiBackend {
	return &GeminiBackend{generator: generator, logger: logger}
}

func (g *GeminiBackend) Name() string { return "gemini" }

func (g *GeminiBackend) ExtractTags(ctx context.Context, req Request) ([]string, error) {
	ctx, span := otel.Tracer("TagExtractor").Start(ctx, "GeminiExtractTags", trace.WithAttributes(
		attribute.String("category", req.Category),
	))
	defer span.End()

	prompt := BuildTagPrompt(req)
	config := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0.1)}

	var tags []string
	for attempt := 0; attempt < 2; attempt++ {
		text, err := g.generator.GenerateContent(ctx, prompt, config)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Generation failed")
			return nil, fmt.Errorf("gemini tag extraction: %w", err)
		}
		tags = SplitTags(text)
		if len(tags) >= minUsefulTags {
			break
		}
		g.logger.DebugContext(ctx, "Model returned few tags", slog.Int("attempt", attempt+1), slog.Int("count", len(tags)))
	}

	span.SetAttributes(attribute.Int("tags.count", len(tags)))
	span.SetStatus(codes.Ok, "Tags generated")
	return tags, nil
}

var categoryFocus = map[string]string{
	"cafe":       "mood, interior, drinks, desserts and suitability for working or chatting",
	"restaurant": "cuisine, signature dishes, price range and atmosphere",
	"attraction": "kind of activity, indoor or outdoor, and who it suits",
}

// BuildTagPrompt asks for short comma-separated tags only.
func BuildTagPrompt(req Request) string {
	category := types.CanonicalCategory(req.Category)
	focus, ok := categoryFocus[category]
	if !ok {
		focus = "the most distinctive preferences"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "A user is looking for a %s", req.Category)
	if req.PartySize > 0 {
		fmt.Fprintf(&b, " for %d people", req.PartySize)
	}
	fmt.Fprintf(&b, " and said: %q\n", req.Utterance)
	fmt.Fprintf(&b, "Extract at most %d short search tags that describe %s.\n", DefaultMaxTags, focus)
	b.WriteString("Keep the user's language. Answer with the tags separated by commas and nothing else.")
	return b.String()
}

// SplitTags parses a comma or newline separated model answer, dropping list
// markers.
func SplitTags(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '\n' || r == '、' || r == '，'
	})
	tags := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(listMarker.ReplaceAllString(f, ""))
		if f != "" {
			tags = append(tags, f)
		}
	}
	return tags
}
