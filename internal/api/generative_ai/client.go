package generativeAI

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
)

const (
	DefaultModel          = "gemini-2.0-flash"
	DefaultEmbeddingModel = "text-embedding-004"
	apiKeyEnv             = "GOOGLE_GEMINI_API_KEY"
)

var ErrMissingAPIKey = errors.New(apiKeyEnv + " environment variable is not set")

type Config struct {
	APIKey              string
	Model               string
	EmbeddingModel      string
	EmbeddingDimensions int
}

// AIClient wraps one Gemini client for both text generation and embeddings.
type AIClient struct {
	client         *genai.Client
	model          string
	embeddingModel string
	dimensions     int32
}

func NewAIClient(ctx context.Context, cfg Config) (*AIClient, error) {
	ctx, span := otel.Tracer("GenerativeAI").Start(ctx, "NewAIClient")
	defer span.End()

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(apiKeyEnv)
	}
	if apiKey == "" {
		span.RecordError(ErrMissingAPIKey)
		span.SetStatus(codes.Error, "API key not set")
		return nil, ErrMissingAPIKey
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create Gemini client")
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	ai := &AIClient{
		client:         client,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     int32(cfg.EmbeddingDimensions),
	}
	if ai.model == "" {
		ai.model = DefaultModel
	}
	if ai.embeddingModel == "" {
		ai.embeddingModel = DefaultEmbeddingModel
	}

	span.SetStatus(codes.Ok, "AI client created successfully")
	return ai, nil
}

func (ai *AIClient) GenerateContent(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error) {
	ctx, span := otel.Tracer("GenerativeAI").Start(ctx, "GenerateContent", trace.WithAttributes(
		attribute.Int("prompt.length", len(prompt)),
		attribute.String("model", ai.model),
	))
	defer span.End()

	result, err := ai.client.Models.GenerateContent(ctx, ai.model, genai.Text(prompt), config)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to generate content")
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	responseText := result.Text()
	span.SetAttributes(attribute.Int("response.length", len(responseText)))
	span.SetStatus(codes.Ok, "Content generated successfully")
	return responseText, nil
}

// EmbedText returns the embedding vector of a single query text.
func (ai *AIClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return ai.embed(ctx, text, "RETRIEVAL_QUERY")
}

// EmbedDocument embeds text that will be searched against, such as a place.
func (ai *AIClient) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return ai.embed(ctx, text, "RETRIEVAL_DOCUMENT")
}

func (ai *AIClient) embed(ctx context.Context, text, taskType string) ([]float32, error) {
	ctx, span := otel.Tracer("GenerativeAI").Start(ctx, "EmbedContent", trace.WithAttributes(
		attribute.Int("text.length", len(text)),
		attribute.String("model", ai.embeddingModel),
		attribute.String("task_type", taskType),
	))
	defer span.End()

	if strings.TrimSpace(text) == "" {
		err := errors.New("cannot embed empty text")
		span.RecordError(err)
		span.SetStatus(codes.Error, "Empty text")
		return nil, err
	}

	config := &genai.EmbedContentConfig{TaskType: taskType}
	if ai.dimensions > 0 {
		config.OutputDimensionality = genai.Ptr(ai.dimensions)
	}

	resp, err := ai.client.Models.EmbedContent(ctx, ai.embeddingModel, genai.Text(text), config)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to embed content")
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		err := errors.New("embedding response is empty")
		span.RecordError(err)
		span.SetStatus(codes.Error, "Empty embedding")
		return nil, err
	}

	values := resp.Embeddings[0].Values
	span.SetAttributes(attribute.Int("embedding.dimensions", len(values)))
	span.SetStatus(codes.Ok, "Embedding generated")
	return values, nil
}
