package ai

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"catalog-rag/internal/model"
)

const (
	defaultMaxContextRunes = 60000
	systemPrompt           = "You are a product catalog assistant. Answer the user's question based only on the following context. " +
		"When the question asks for a count or a list, go through every excerpt and be exhaustive. " +
		"If the context does not contain enough information, say so. Do not make up facts. " +
		"Answer in the language of the question."
)

// ChatGenerator turns retrieved chunks into an answer through the chat API.
type ChatGenerator struct {
	client          *OpenAICompatibleClient
	cfg             ChatConfig
	maxContextRunes int
}

func NewChatGenerator(client *OpenAICompatibleClient, cfg ChatConfig, maxContextRunes int) *ChatGenerator {
	if maxContextRunes <= 0 {
		maxContextRunes = defaultMaxContextRunes
	}
	return &ChatGenerator{client: client, cfg: cfg, maxContextRunes: maxContextRunes}
}

func (g *ChatGenerator) Generate(ctx context.Context, question string, chunks []model.ScoredChunk) (string, error) {
	messages := []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Context:" + buildContext(chunks, g.maxContextRunes) + "\n\nQuestion: " + question + "\n\nAnswer:"},
	}
	answer, err := g.client.Complete(ctx, g.cfg, messages)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// buildContext renders chunks in retrieval order, each labelled with its
// source document, stopping before the rune budget is exceeded.
func buildContext(chunks []model.ScoredChunk, budget int) string {
	var b strings.Builder
	used := 0
	for _, c := range chunks {
		block := fmt.Sprintf("\n---\n[%s #%d]\n%s", c.DocumentName, c.ChunkIndex, c.Content)
		n := utf8.RuneCountInString(block)
		if used+n > budget && used > 0 {
			break
		}
		b.WriteString(block)
		used += n
	}
	if used > 0 {
		b.WriteString("\n---")
	}
	return b.String()
}
