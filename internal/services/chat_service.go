package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var errEmptyReply = errors.New("empty reply")

const (
	historyWindow = 5
	noContext     = "정보가 없습니다."
)

// CSIntents are the intents a parsed customer-support text may carry.
var CSIntents = []string{
	"GREETING", "QUESTION", "COMPLAINT", "REQUEST", "COMPLIMENT",
	"APOLOGY", "THANK_YOU", "GOODBYE", "OTHER",
}

type CSParseResult struct {
	Intent       string                   `json:"intent"`
	Entities     []map[string]interface{} `json:"entities"`
	Confidence   float64                  `json:"confidence"`
	OriginalText string                   `json:"original_text"`
	ProcessedAt  string                   `json:"processed_at"`
}

// ChatService answers club questions from the knowledge base and parses
// customer-support texts. A nil generator means the chatbot is not
// configured.
type ChatService struct {
	generator TextGenerator
	knowledge *KnowledgeService
	now       func() time.Time
}

func NewChatService(generator TextGenerator, knowledge *KnowledgeService) *ChatService {
	return &ChatService{
		generator: generator,
		knowledge: knowledge,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *ChatService) Available() bool {
	return s != nil && s.generator != nil
}

// Chat retrieves context for message and asks the generator with at most
// the last five turns of history.
func (s *ChatService) Chat(ctx context.Context, message string, history []ChatTurn) (string, error) {
	if !s.Available() {
		return "", ErrChatUnavailable
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return "", invalidError("message is required")
	}

	var docs []string
	if s.knowledge != nil {
		docs = s.knowledge.Search(ctx, message, defaultTopK)
	}
	kb := noContext
	if len(docs) > 0 {
		kb = strings.Join(docs, "\n\n")
	}

	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	reply, err := s.generator.Generate(ctx, systemPrompt(kb), history, "사용자 질문: "+message)
	if err != nil {
		zap.L().Error("Chat generation failed", zap.Error(err))
		return "", upstreamError("Chatbot failed to respond", err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", upstreamError("Chatbot failed to respond", errEmptyReply)
	}
	return reply, nil
}

// ParseCS classifies a customer-support text into an intent with entities.
func (s *ChatService) ParseCS(ctx context.Context, text string) (*CSParseResult, error) {
	if !s.Available() {
		return nil, ErrChatUnavailable
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalidError("text is required")
	}

	processedAt := s.now().Format("2006-01-02T15:04:05.000000")
	reply, err := s.generator.Generate(ctx, "", nil, csPrompt(text, processedAt))
	if err != nil {
		zap.L().Error("CS parse generation failed", zap.Error(err))
		return nil, upstreamError("Failed to process CS text", err)
	}

	var raw struct {
		Intent       *string                  `json:"intent"`
		Entities     []map[string]interface{} `json:"entities"`
		Confidence   *float64                 `json:"confidence"`
		OriginalText *string                  `json:"original_text"`
		ProcessedAt  *string                  `json:"processed_at"`
	}
	if err := json.Unmarshal([]byte(extractJSON(reply)), &raw); err != nil {
		return nil, upstreamError("Failed to parse model response as JSON", err)
	}

	result := &CSParseResult{
		Intent:       "OTHER",
		Entities:     raw.Entities,
		Confidence:   0.5,
		OriginalText: text,
		ProcessedAt:  processedAt,
	}
	if raw.Intent != nil && isCSIntent(*raw.Intent) {
		result.Intent = *raw.Intent
	}
	if raw.Confidence != nil {
		result.Confidence = *raw.Confidence
	}
	if raw.OriginalText != nil {
		result.OriginalText = *raw.OriginalText
	}
	if raw.ProcessedAt != nil {
		result.ProcessedAt = *raw.ProcessedAt
	}
	if result.Entities == nil {
		result.Entities = []map[string]interface{}{}
	}
	return result, nil
}

// extractJSON strips a ```json or ``` fence around a model reply.
func extractJSON(reply string) string {
	reply = strings.TrimSpace(reply)
	for _, fence := range []string{"```json", "```"} {
		start := strings.Index(reply, fence)
		if start < 0 {
			continue
		}
		start += len(fence)
		end := strings.Index(reply[start:], "```")
		if end < 0 {
			return strings.TrimSpace(reply[start:])
		}
		return strings.TrimSpace(reply[start : start+end])
	}
	return reply
}

func isCSIntent(intent string) bool {
	for _, i := range CSIntents {
		if i == intent {
			return true
		}
	}
	return false
}

func systemPrompt(kb string) string {
	return fmt.Sprintf(`당신은 Seoul Chess Club (SCC)의 친절한 고객 지원 챗봇입니다.
아래의 지식 베이스를 참고하여 사용자의 질문에 답변해주세요.

지식 베이스:
%s

답변 가이드라인:
- 친근하고 따뜻한 톤으로 답변하세요
- 지식 베이스에 있는 정보를 바탕으로 답변하세요
- 모르는 정보는 솔직하게 "확실하지 않지만..." 이라고 시작하세요
- 이모지를 적절히 사용하세요 (♟️, ✨, 🎉 등)
- 간결하게 2-3문장으로 답변하세요
`, kb)
}

func csPrompt(text, processedAt string) string {
	return fmt.Sprintf(`다음 고객 서비스 텍스트를 분석해주세요: %q

다음 JSON 형식으로 응답해주세요:
{
    "intent": "GREETING",
    "entities": [],
    "confidence": 0.9,
    "original_text": %q,
    "processed_at": %q
}

intent는 다음 중 하나여야 합니다: %s
`, text, text, processedAt, strings.Join(CSIntents, ", "))
}
