package services

import (
	"context"
	"fmt"
	"time"

	"github.com/seoulchess/backend/internal/config"
	"github.com/seoulchess/backend/internal/metrics"
	"google.golang.org/genai"
)

// ChatTurn is one message of a prior conversation. Role is "user" or
// "assistant".
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TextGenerator produces a reply from a system instruction, prior turns and
// the new prompt.
type TextGenerator interface {
	Generate(ctx context.Context, system string, history []ChatTurn, prompt string) (string, error)
}

// EmbedTask tells the embedding model how the vectors will be used.
type EmbedTask string

const (
	EmbedDocument EmbedTask = "RETRIEVAL_DOCUMENT"
	EmbedQuery    EmbedTask = "RETRIEVAL_QUERY"
)

// Embedder turns texts into vectors, one per input. Stored chunks use
// EmbedDocument, search queries EmbedQuery.
type Embedder interface {
	Embed(ctx context.Context, texts []string, task EmbedTask) ([][]float32, error)
}

// GeminiClient implements TextGenerator and Embedder on the Gemini API.
type GeminiClient struct {
	client     *genai.Client
	model      string
	embedModel string
}

func NewGeminiClient(ctx context.Context, cfg *config.Config) (*GeminiClient, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.GeminiAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{
		client:     client,
		model:      cfg.GeminiModel,
		embedModel: cfg.GeminiEmbedModel,
	}, nil
}

func (g *GeminiClient) Generate(ctx context.Context, system string, history []ChatTurn, prompt string) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		role := genai.Role(genai.RoleUser)
		if turn.Role == "assistant" || turn.Role == "model" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(prompt, genai.RoleUser))

	var cfg *genai.GenerateContentConfig
	if system != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		}
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	metrics.ObserveExternal("gemini", "generate", start)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	return resp.Text(), nil
}

func (g *GeminiClient) Embed(ctx context.Context, texts []string, task EmbedTask) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	start := time.Now()
	result, err := g.client.Models.EmbedContent(ctx, g.embedModel, contents, &genai.EmbedContentConfig{
		TaskType: string(task),
	})
	metrics.ObserveExternal("gemini", "embed", start)
	if err != nil {
		return nil, fmt.Errorf("GenAI batch embed failed: %w", err)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = emb.Values
	}
	return embeddings, nil
}
