// Package knowledge extracts business-relevant facts from messages and
// attachment summaries. Extraction is best-effort and confidence-gated:
// facts at or above the configured auto-apply threshold become approved
// knowledge immediately, the rest queue for human review.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"mailroom/internal/models"
)

// maxInputChars caps how much message text goes into the prompt.
const maxInputChars = 6000

// Fact is one extracted knowledge candidate.
type Fact struct {
	Category   string `json:"category"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Confidence int    `json:"confidence"`
}

// Extractor calls the LLM to pull facts out of message content.
type Extractor struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewExtractor creates an extractor using the OpenAI API.
func NewExtractor(apiKey string, timeout time.Duration, logger zerolog.Logger) *Extractor {
	return &Extractor{
		client:  openai.NewClient(apiKey),
		model:   string(openai.GPT4oMini),
		timeout: timeout,
		logger:  logger,
	}
}

const extractorPrompt = `You extract durable business facts from emails between a company and its contacts.
Look for facts worth remembering: the contact's role or company, preferences, commitments, deadlines, pricing, and relationship details.
Skip pleasantries and one-off logistics.
Respond with only a JSON array: [{"category": "contact|business", "title": "...", "content": "...", "confidence": 0-100}].
Return [] when there is nothing worth keeping.`

// ExtractFacts inspects a message (and any attachment summaries) for
// facts. Provider failures and malformed output yield an empty result.
func (e *Extractor) ExtractFacts(ctx context.Context, from, subject, body string, attachmentSummaries []string) []Fact {
	input := buildExtractionInput(from, subject, body, attachmentSummaries)
	if strings.TrimSpace(input) == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractorPrompt},
			{Role: openai.ChatMessageRoleUser, Content: input},
		},
		MaxTokens:   700,
		Temperature: 0,
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("Knowledge extraction call failed, producing no facts")
		return nil
	}
	if len(resp.Choices) == 0 {
		return nil
	}

	facts, err := ParseFacts(resp.Choices[0].Message.Content)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Knowledge extraction returned malformed JSON, producing no facts")
		return nil
	}
	return facts
}

// SummarizeAttachment produces a short content summary of an inline
// attachment for downstream extraction. Returns "" on any failure.
func (e *Extractor) SummarizeAttachment(ctx context.Context, filename, content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	if len(content) > maxInputChars {
		content = content[:maxInputChars]
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "Summarize the attached document in 2-3 sentences, keeping concrete names, numbers, and dates.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Attachment %q:\n\n%s", filename, content),
			},
		},
		MaxTokens:   200,
		Temperature: 0,
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("filename", filename).Msg("Attachment summarization failed")
		return ""
	}
	if len(resp.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content)
}

// ParseFacts decodes the extractor's JSON array, tolerating markdown
// code fences.
func ParseFacts(content string) ([]Fact, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	var facts []Fact
	if err := json.Unmarshal([]byte(content), &facts); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}

	var out []Fact
	for _, f := range facts {
		if strings.TrimSpace(f.Content) != "" {
			out = append(out, f)
		}
	}
	return out, nil
}

// Gate decides the approval state for a fact: auto-approved at or above
// the threshold, queued for review below it.
func Gate(confidence, autoApplyThreshold int) string {
	if confidence >= autoApplyThreshold {
		return models.KnowledgeStatusApproved
	}
	return models.KnowledgeStatusPending
}

// buildExtractionInput renders the message and attachment summaries.
func buildExtractionInput(from, subject, body string, attachmentSummaries []string) string {
	if len(body) > maxInputChars {
		body = body[:maxInputChars]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\nSubject: %s\n\n%s", from, subject, body)
	for _, summary := range attachmentSummaries {
		if summary == "" {
			continue
		}
		b.WriteString("\n\nAttachment summary: ")
		b.WriteString(summary)
	}
	return b.String()
}
