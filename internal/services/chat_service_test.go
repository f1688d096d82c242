package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/seoulchess/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder embeds a text as keyword occurrence counts.
type keywordEmbedder struct {
	keywords []string
	err      error
	calls    int
	tasks    []EmbedTask
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string, task EmbedTask) ([][]float32, error) {
	e.calls++
	e.tasks = append(e.tasks, task)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(e.keywords))
		for j, kw := range e.keywords {
			vec[j] = float32(strings.Count(strings.ToLower(text), kw))
		}
		out[i] = vec
	}
	return out, nil
}

type fakeGenerator struct {
	reply   string
	err     error
	system  string
	prompt  string
	history []ChatTurn
}

func (g *fakeGenerator) Generate(_ context.Context, system string, history []ChatTurn, prompt string) (string, error) {
	g.system = system
	g.history = history
	g.prompt = prompt
	return g.reply, g.err
}

const testKnowledge = `# Seoul Chess Club
## Location
We meet at the cafe near Gangnam station. Location details are sent by SMS.
## Schedule
Meetings are held every Saturday evening. The schedule is posted weekly.
## Fees
There is no membership fee. Fees for tournaments are announced separately.
`

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{keywords: []string{"location", "schedule", "fee"}}
}

func TestSplitSections(t *testing.T) {
	sections := SplitSections(testKnowledge)
	require.Len(t, sections, 4)
	assert.Equal(t, "# Seoul Chess Club", sections[0])
	assert.True(t, strings.HasPrefix(sections[1], " Location") || strings.HasPrefix(sections[1], "Location"))

	assert.Empty(t, SplitSections("  \n## \n"))
}

func TestKnowledgeLoadReplacesSource(t *testing.T) {
	db := setupTestDB(t)
	ks := NewKnowledgeService(db, newKeywordEmbedder())
	ctx := context.Background()

	n, err := ks.Load(ctx, "kb.txt", testKnowledge)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = ks.Load(ctx, "kb.txt", "## Only one section")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := ks.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var chunk models.KnowledgeChunk
	require.NoError(t, db.First(&chunk).Error)
	assert.Equal(t, "kb.txt", chunk.Source)
	assert.Len(t, chunk.Embedding, 3)
}

func TestKnowledgeLoadErrors(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := NewKnowledgeService(db, nil).Load(ctx, "kb.txt", testKnowledge)
	assert.ErrorIs(t, err, ErrChatUnavailable)

	ks := NewKnowledgeService(db, newKeywordEmbedder())
	_, err = ks.Load(ctx, "kb.txt", "   ")
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, KindInvalid, svcErr.Kind)

	failing := &keywordEmbedder{err: errors.New("quota exceeded")}
	_, err = NewKnowledgeService(db, failing).Load(ctx, "kb.txt", testKnowledge)
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, KindUpstream, svcErr.Kind)
}

func TestKnowledgeSearchRanksBySimilarity(t *testing.T) {
	db := setupTestDB(t)
	ks := NewKnowledgeService(db, newKeywordEmbedder())
	ctx := context.Background()

	_, err := ks.Load(ctx, "kb.txt", testKnowledge)
	require.NoError(t, err)

	docs := ks.Search(ctx, "what is the schedule?", 1)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0], "Saturday")

	docs = ks.Search(ctx, "fee", 0)
	require.Len(t, docs, 3)
	assert.Contains(t, docs[0], "membership fee")
}

func TestKnowledgeEmbedTasks(t *testing.T) {
	db := setupTestDB(t)
	embedder := newKeywordEmbedder()
	ks := NewKnowledgeService(db, embedder)
	ctx := context.Background()

	_, err := ks.Load(ctx, "kb.txt", testKnowledge)
	require.NoError(t, err)
	ks.Search(ctx, "location", 1)

	assert.Equal(t, []EmbedTask{EmbedDocument, EmbedQuery}, embedder.tasks)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 2}))
}

func TestChatUnavailable(t *testing.T) {
	svc := NewChatService(nil, nil)
	_, err := svc.Chat(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, ErrChatUnavailable)

	_, err = svc.ParseCS(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrChatUnavailable)
}

func TestChatUsesKnowledgeAndHistoryWindow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ks := NewKnowledgeService(db, newKeywordEmbedder())
	_, err := ks.Load(ctx, "kb.txt", testKnowledge)
	require.NoError(t, err)

	gen := &fakeGenerator{reply: "토요일 저녁에 만나요 ♟️"}
	svc := NewChatService(gen, ks)

	history := make([]ChatTurn, 8)
	for i := range history {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history[i] = ChatTurn{Role: role, Content: string(rune('a' + i))}
	}

	reply, err := svc.Chat(ctx, "When is the schedule?", history)
	require.NoError(t, err)
	assert.Equal(t, "토요일 저녁에 만나요 ♟️", reply)

	require.Len(t, gen.history, 5)
	assert.Equal(t, "d", gen.history[0].Content)
	assert.Equal(t, "h", gen.history[4].Content)
	assert.Contains(t, gen.system, "Saturday")
	assert.Contains(t, gen.prompt, "When is the schedule?")
}

func TestChatWithoutKnowledge(t *testing.T) {
	gen := &fakeGenerator{reply: "확실하지 않지만..."}
	svc := NewChatService(gen, nil)

	_, err := svc.Chat(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Contains(t, gen.system, noContext)
}

func TestChatErrors(t *testing.T) {
	svc := NewChatService(&fakeGenerator{err: errors.New("boom")}, nil)
	_, err := svc.Chat(context.Background(), "hello", nil)
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, KindUpstream, svcErr.Kind)

	_, err = svc.Chat(context.Background(), "   ", nil)
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, KindInvalid, svcErr.Kind)

	_, err = NewChatService(&fakeGenerator{reply: " "}, nil).Chat(context.Background(), "hello", nil)
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, KindUpstream, svcErr.Kind)
}

func TestParseCS(t *testing.T) {
	clock := newFakeClock()

	tests := []struct {
		name       string
		reply      string
		intent     string
		confidence float64
		entities   int
		original   string
	}{
		{
			name:       "fenced json",
			reply:      "```json\n{\"intent\": \"COMPLAINT\", \"entities\": [{\"type\": \"place\", \"value\": \"cafe\"}], \"confidence\": 0.8}\n```",
			intent:     "COMPLAINT",
			confidence: 0.8,
			entities:   1,
			original:   "the cafe was loud",
		},
		{
			name:       "bare fence",
			reply:      "```\n{\"intent\": \"THANK_YOU\", \"original_text\": \"thanks!\"}\n```",
			intent:     "THANK_YOU",
			confidence: 0.5,
			original:   "thanks!",
		},
		{
			name:       "missing fields default",
			reply:      "{}",
			intent:     "OTHER",
			confidence: 0.5,
			original:   "the cafe was loud",
		},
		{
			name:       "unknown intent",
			reply:      `{"intent": "SHOUTING", "confidence": 0.99}`,
			intent:     "OTHER",
			confidence: 0.99,
			original:   "the cafe was loud",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewChatService(&fakeGenerator{reply: tt.reply}, nil)
			svc.now = clock.Now

			got, err := svc.ParseCS(context.Background(), "the cafe was loud")
			require.NoError(t, err)
			assert.Equal(t, tt.intent, got.Intent)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
			assert.Len(t, got.Entities, tt.entities)
			assert.Equal(t, tt.original, got.OriginalText)
			assert.Equal(t, "2025-03-01T10:00:00.000000", got.ProcessedAt)
		})
	}
}

func TestParseCSInvalidJSON(t *testing.T) {
	svc := NewChatService(&fakeGenerator{reply: "I think it is a greeting"}, nil)
	_, err := svc.ParseCS(context.Background(), "hello")
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, KindUpstream, svcErr.Kind)
}
