package services

import (
	"context"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/seoulchess/backend/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultTopK = 3

// KnowledgeService stores the chatbot knowledge base as embedded sections
// and retrieves the sections closest to a query.
type KnowledgeService struct {
	db       *gorm.DB
	embedder Embedder
	objects  ObjectReader
}

func NewKnowledgeService(db *gorm.DB, embedder Embedder) *KnowledgeService {
	return &KnowledgeService{db: db, embedder: embedder}
}

// WithObjectReader lets LoadFile read s3://bucket/key sources.
func (s *KnowledgeService) WithObjectReader(objects ObjectReader) *KnowledgeService {
	s.objects = objects
	return s
}

// SplitSections splits a knowledge file on level-two headings and drops
// blank sections.
func SplitSections(content string) []string {
	var sections []string
	for _, part := range strings.Split(content, "\n##") {
		if s := strings.TrimSpace(part); s != "" {
			sections = append(sections, s)
		}
	}
	return sections
}

// LoadFile reads path, a local file or an s3://bucket/key URL, and
// replaces the chunks stored for it.
func (s *KnowledgeService) LoadFile(ctx context.Context, path string) (int, error) {
	data, err := s.read(ctx, path)
	if err != nil {
		return 0, err
	}
	return s.Load(ctx, path, string(data))
}

func (s *KnowledgeService) read(ctx context.Context, path string) ([]byte, error) {
	bucket, key, ok := ParseS3URL(path)
	if !ok {
		return os.ReadFile(path)
	}
	if s.objects == nil {
		return nil, ErrStorageUnavailable
	}
	data, err := s.objects.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, upstreamError("Failed to fetch knowledge base", err)
	}
	return data, nil
}

// Load embeds every section of content and replaces all chunks of source
// in one transaction. It returns the number of stored chunks.
func (s *KnowledgeService) Load(ctx context.Context, source, content string) (int, error) {
	if s.embedder == nil {
		return 0, ErrChatUnavailable
	}

	sections := SplitSections(content)
	if len(sections) == 0 {
		return 0, invalidError("knowledge base is empty")
	}

	vectors, err := s.embedder.Embed(ctx, sections, EmbedDocument)
	if err != nil {
		return 0, upstreamError("Failed to embed knowledge base", err)
	}
	if len(vectors) != len(sections) {
		return 0, upstreamError("Embedding count mismatch", nil)
	}

	chunks := make([]models.KnowledgeChunk, len(sections))
	for i, section := range sections {
		chunks[i] = models.KnowledgeChunk{
			Source:    source,
			Section:   i,
			Content:   section,
			Embedding: vectors[i],
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source = ?", source).Delete(&models.KnowledgeChunk{}).Error; err != nil {
			return err
		}
		return tx.Create(&chunks).Error
	})
	if err != nil {
		return 0, internalError(err)
	}

	zap.L().Info("Knowledge base loaded", zap.String("source", source), zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// Search returns the contents of the k chunks most similar to query. A
// failed search yields no context rather than an error.
func (s *KnowledgeService) Search(ctx context.Context, query string, k int) []string {
	if s.embedder == nil {
		return nil
	}
	if k <= 0 {
		k = defaultTopK
	}

	vectors, err := s.embedder.Embed(ctx, []string{query}, EmbedQuery)
	if err != nil || len(vectors) == 0 {
		zap.L().Warn("Knowledge search embedding failed", zap.Error(err))
		return nil
	}

	var chunks []models.KnowledgeChunk
	if err := s.db.WithContext(ctx).Find(&chunks).Error; err != nil {
		zap.L().Error("Failed to load knowledge chunks", zap.Error(err))
		return nil
	}

	type scored struct {
		content string
		score   float64
	}
	ranked := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		ranked = append(ranked, scored{content: c.Content, score: cosine(vectors[0], c.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.content
	}
	return out
}

// Count reports the number of stored chunks.
func (s *KnowledgeService) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.KnowledgeChunk{}).Count(&n).Error
	return n, err
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
