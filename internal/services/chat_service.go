package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbforge/internal/core"
	"github.com/markdave123-py/kbforge/internal/models"
)

// ErrNoLLM is returned by Ask when no generation model is configured.
var ErrNoLLM = errors.New("no language model configured")

const systemPrompt = "You are a helpful assistant for a business. Answer using only the provided knowledge-base excerpts. " +
	"If the excerpts do not contain the answer, say you don't know."

const ungroundedPrompt = "You are a helpful assistant for a business. The knowledge base is unavailable right now, " +
	"so answer briefly from general knowledge and say that you could not check the business's documents."

// Retriever is the part of retrieval.Retriever the chat flow needs.
type Retriever interface {
	Retrieve(ctx context.Context, q models.RetrievalQuery) ([]models.RetrievalResult, error)
}

// ChatAnswer is a generated reply plus the chunks it was grounded on.
type ChatAnswer struct {
	Answer   string                   `json:"answer"`
	Grounded bool                     `json:"grounded"`
	Sources  []models.RetrievalResult `json:"sources"`
}

type ChatService struct {
	retriever Retriever
	llm       core.LLMProvider
	threshold float64
	limit     int
	logger    *zap.Logger
}

func NewChatService(r Retriever, llm core.LLMProvider, threshold float64, limit int, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{retriever: r, llm: llm, threshold: threshold, limit: limit, logger: logger}
}

// Ask answers question for chatbotID. A retrieval failure does not fail the
// request: the answer is generated without excerpts and Grounded is false.
func (s *ChatService) Ask(ctx context.Context, chatbotID, question string) (*ChatAnswer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", core.ErrInvalidInput)
	}
	if s.llm == nil {
		return nil, ErrNoLLM
	}

	results, err := s.retriever.Retrieve(ctx, models.RetrievalQuery{
		ChatbotID: chatbotID,
		Text:      question,
		Threshold: s.threshold,
		Limit:     s.limit,
	})
	grounded := true
	if err != nil {
		if errors.Is(err, core.ErrInvalidInput) {
			return nil, err
		}
		s.logger.Warn("retrieval failed; answering without knowledge base",
			zap.String("chatbot_id", chatbotID), zap.Error(err))
		grounded = false
		results = nil
	}

	sys, user := systemPrompt, buildPrompt(question, results)
	if !grounded {
		sys, user = ungroundedPrompt, question
	}
	answer, err := s.llm.Generate(ctx, sys, user)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	if results == nil {
		results = []models.RetrievalResult{}
	}
	return &ChatAnswer{Answer: answer, Grounded: grounded, Sources: results}, nil
}

func buildPrompt(question string, results []models.RetrievalResult) string {
	var sb strings.Builder
	sb.WriteString("Context:\n")
	if len(results) == 0 {
		sb.WriteString("(no matching excerpts)\n")
	}
	for _, r := range results {
		fmt.Fprintf(&sb, "[%s #%d]\n%s\n---\n", r.FileName, r.ChunkIndex, r.Text)
	}
	fmt.Fprintf(&sb, "\nQuestion: %s", question)
	return sb.String()
}
