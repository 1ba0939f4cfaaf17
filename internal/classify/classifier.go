// Package classify proposes labels for an incoming message based on the
// active labeling rules, via an external LLM classifier. All calls are
// best-effort: provider failures and malformed responses collapse to
// "no labels", never to an error that could block ingestion.
package classify

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

// The two confidence gates are distinct on purpose: the classifier
// filters its own output at MinConfidence, and only proposals at or
// above ApplyThreshold are persisted as labels.
const (
	MinConfidence  = 50
	ApplyThreshold = 70
)

// maxBodyChars caps how much of a message body goes into the prompt.
const maxBodyChars = 4000

// Proposal is one (label, confidence) pair returned by the classifier.
type Proposal struct {
	LabelID    string `json:"labelId"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason,omitempty"`
}

// Classifier calls the LLM with the rule set and parses its verdicts.
type Classifier struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewClassifier creates a classifier using the OpenAI API.
func NewClassifier(apiKey string, timeout time.Duration, logger zerolog.Logger) *Classifier {
	return &Classifier{
		client:  openai.NewClient(apiKey),
		model:   string(openai.GPT4oMini),
		timeout: timeout,
		logger:  logger,
	}
}

// ProposeLabels asks the classifier which rules apply to the message.
// The returned proposals are already filtered at MinConfidence. An
// empty rule set short-circuits without a provider call.
func (c *Classifier) ProposeLabels(ctx context.Context, from, subject, body string, rules []models.LabelRule) []Proposal {
	if len(rules) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: buildClassifierPrompt(rules),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildMessageText(from, subject, body),
			},
		},
		MaxTokens:   500,
		Temperature: 0,
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("Classifier call failed, applying no labels")
		return nil
	}
	if len(resp.Choices) == 0 {
		c.logger.Warn().Msg("Classifier returned no choices, applying no labels")
		return nil
	}

	proposals, err := ParseProposals(resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Classifier returned malformed JSON, applying no labels")
		return nil
	}

	return FilterProposals(proposals, MinConfidence)
}

// ParseProposals decodes the classifier's JSON array, tolerating
// markdown code fences around it.
func ParseProposals(content string) ([]Proposal, error) {
	content = stripCodeFence(content)

	var proposals []Proposal
	if err := json.Unmarshal([]byte(content), &proposals); err != nil {
		return nil, fmt.Errorf("failed to parse classifier response: %w", err)
	}
	return proposals, nil
}

// FilterProposals keeps proposals at or above the given confidence.
func FilterProposals(proposals []Proposal, minConfidence int) []Proposal {
	var out []Proposal
	for _, p := range proposals {
		if p.LabelID != "" && p.Confidence >= minConfidence {
			out = append(out, p)
		}
	}
	return out
}

// buildClassifierPrompt renders the active rules into the system prompt.
func buildClassifierPrompt(rules []models.LabelRule) string {
	var b strings.Builder
	b.WriteString("You are an email labeling assistant. Decide which of the following labels apply to the email.\n")
	b.WriteString("Rules:\n")

	for _, rule := range rules {
		fmt.Fprintf(&b, "- labelId %q: %s\n", rule.LabelID, rule.Description)
		if len(rule.Examples) > 0 {
			fmt.Fprintf(&b, "  Example phrases: %s\n", strings.Join(rule.Examples, "; "))
		}
		if len(rule.Keywords) > 0 {
			fmt.Fprintf(&b, "  Keywords: %s\n", strings.Join(rule.Keywords, ", "))
		}
		if len(rule.SenderPatterns) > 0 {
			fmt.Fprintf(&b, "  Sender patterns: %s\n", strings.Join(rule.SenderPatterns, ", "))
		}
	}

	b.WriteString("\nRespond with only a JSON array of objects: ")
	b.WriteString(`[{"labelId": "...", "confidence": 0-100, "reason": "..."}]. `)
	b.WriteString("Include only labels you are at least moderately confident about. ")
	b.WriteString("Return [] when no label applies.")
	return b.String()
}

// buildMessageText renders the message for the user turn.
func buildMessageText(from, subject, body string) string {
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}
	return fmt.Sprintf("From: %s\nSubject: %s\n\n%s", from, subject, body)
}

// stripCodeFence unwraps ```json ... ``` style fencing if present.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}
