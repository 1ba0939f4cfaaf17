package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom/internal/models"
)

func TestParseProposals(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected []Proposal
		wantErr  bool
	}{
		{
			name:    "plain json array",
			content: `[{"labelId":"l1","confidence":85,"reason":"invoice attached"}]`,
			expected: []Proposal{
				{LabelID: "l1", Confidence: 85, Reason: "invoice attached"},
			},
		},
		{
			name:    "fenced json",
			content: "```json\n[{\"labelId\":\"l2\",\"confidence\":60}]\n```",
			expected: []Proposal{
				{LabelID: "l2", Confidence: 60},
			},
		},
		{
			name:    "fence without language tag",
			content: "```\n[]\n```",
		},
		{
			name:    "empty array",
			content: `[]`,
		},
		{
			name:    "prose instead of json",
			content: "I think this is an invoice.",
			wantErr: true,
		},
		{
			name:    "object instead of array",
			content: `{"labelId":"l1"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProposals(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFilterProposals(t *testing.T) {
	proposals := []Proposal{
		{LabelID: "l1", Confidence: 90},
		{LabelID: "l2", Confidence: 65},
		{LabelID: "l3", Confidence: 70},
		{LabelID: "", Confidence: 95},
		{LabelID: "l4", Confidence: 49},
	}

	// The classifier's own floor keeps moderately confident proposals.
	atMin := FilterProposals(proposals, MinConfidence)
	require.Len(t, atMin, 3)
	assert.Equal(t, "l1", atMin[0].LabelID)
	assert.Equal(t, "l2", atMin[1].LabelID)
	assert.Equal(t, "l3", atMin[2].LabelID)

	// The persistence gate is stricter: a 65 survives the classifier but
	// must not be applied as a label.
	applied := FilterProposals(atMin, ApplyThreshold)
	require.Len(t, applied, 2)
	assert.Equal(t, "l1", applied[0].LabelID)
	assert.Equal(t, "l3", applied[1].LabelID)
}

func TestFilterProposals_Empty(t *testing.T) {
	assert.Nil(t, FilterProposals(nil, MinConfidence))
	assert.Nil(t, FilterProposals([]Proposal{{LabelID: "l1", Confidence: 10}}, MinConfidence))
}

func TestBuildClassifierPrompt(t *testing.T) {
	rules := []models.LabelRule{
		{
			LabelID:        "invoices",
			Description:    "Billing documents and payment requests",
			Keywords:       []string{"invoice", "payment due"},
			Examples:       []string{"please find attached invoice"},
			SenderPatterns: []string{"billing@"},
		},
		{
			LabelID:     "newsletters",
			Description: "Bulk marketing mail",
		},
	}

	prompt := buildClassifierPrompt(rules)
	assert.Contains(t, prompt, `labelId "invoices"`)
	assert.Contains(t, prompt, "Billing documents and payment requests")
	assert.Contains(t, prompt, "invoice, payment due")
	assert.Contains(t, prompt, "please find attached invoice")
	assert.Contains(t, prompt, "billing@")
	assert.Contains(t, prompt, `labelId "newsletters"`)
	assert.Contains(t, prompt, "JSON array")
}

func TestBuildMessageText_TruncatesBody(t *testing.T) {
	body := strings.Repeat("x", maxBodyChars+100)

	text := buildMessageText("a@x.com", "Hi", body)
	assert.Contains(t, text, "From: a@x.com")
	assert.LessOrEqual(t, len(text), maxBodyChars+len("From: a@x.com\nSubject: Hi\n\n"))
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `[]`, stripCodeFence("```json\n[]\n```"))
	assert.Equal(t, `[]`, stripCodeFence("```\n[]\n```"))
	assert.Equal(t, `[]`, stripCodeFence("[]"))
	assert.Equal(t, `[{"a":1}]`, stripCodeFence("  [{\"a\":1}]  "))
}
