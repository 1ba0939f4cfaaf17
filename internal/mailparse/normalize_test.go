package mailparse

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mailroom/internal/models"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantAddr string
		wantName string
	}{
		{
			name:     "display name syntax",
			raw:      `"Jane Doe" <Jane.Doe@Example.COM>`,
			wantAddr: "jane.doe@example.com",
			wantName: "Jane Doe",
		},
		{
			name:     "bare address derives name from local part",
			raw:      "jane.doe@example.com",
			wantAddr: "jane.doe@example.com",
			wantName: "Jane Doe",
		},
		{
			name:     "underscores and plus tags in local part",
			raw:      "max_mustermann+newsletter@example.de",
			wantAddr: "max_mustermann+newsletter@example.de",
			wantName: "Max Mustermann",
		},
		{
			name:     "angle brackets without name",
			raw:      "<Bob@Example.com>",
			wantAddr: "bob@example.com",
			wantName: "Bob",
		},
		{
			name:     "empty input",
			raw:      "",
			wantAddr: "",
			wantName: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, name := ParseAddress(tt.raw)
			assert.Equal(t, tt.wantAddr, addr)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		expected string
	}{
		{name: "plain subject untouched", subject: "Project X", expected: "Project X"},
		{name: "single reply prefix", subject: "Re: Project X", expected: "Project X"},
		{name: "doubled prefixes", subject: "Re: Re: Aw: Project X", expected: "Project X"},
		{name: "german forward prefix", subject: "WG: Angebot", expected: "Angebot"},
		{name: "mixed case forward", subject: "FWD: fw: Update", expected: "Update"},
		{name: "prefix mid-subject preserved", subject: "Care: instructions", expected: "Care: instructions"},
		{name: "whitespace trimmed", subject: "  Re:   Hello  ", expected: "Hello"},
		{name: "empty subject", subject: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeSubject(tt.subject))
		})
	}
}

func TestCleanMessageID(t *testing.T) {
	assert.Equal(t, "abc@mail.example.com", CleanMessageID("<abc@mail.example.com>"))
	assert.Equal(t, "abc@mail.example.com", CleanMessageID(" abc@mail.example.com "))
	assert.Equal(t, "", CleanMessageID(""))
}

func TestNormalize(t *testing.T) {
	in := models.InboundEmail{
		From:    `"Alice" <Alice@X.com>`,
		To:      []string{"Bob@X.com", "bob@x.com", "carol@y.com"},
		Cc:      []string{"Dave@Z.org"},
		Subject: "Re: Re: Quarterly Report",
		Headers: []models.InboundHeader{
			{Name: "message-id", Value: "<m3@x.com>"},
			{Name: "In-Reply-To", Value: "<m2@x.com>"},
			{Name: "REFERENCES", Value: "<m1@x.com> <m2@x.com>"},
		},
	}

	env := Normalize(in)

	assert.Equal(t, "alice@x.com", env.From)
	assert.Equal(t, "Alice", env.FromName)
	assert.Equal(t, []string{"bob@x.com", "carol@y.com"}, env.To)
	assert.Equal(t, []string{"dave@z.org"}, env.Cc)
	assert.Equal(t, "Re: Re: Quarterly Report", env.Subject)
	assert.Equal(t, "Quarterly Report", env.CleanSubject)
	assert.Equal(t, "m3@x.com", env.MessageID)
	assert.Equal(t, "m2@x.com", env.InReplyTo)
	assert.Equal(t, []string{"m1@x.com", "m2@x.com"}, env.References)
	assert.ElementsMatch(t, []string{"alice@x.com", "bob@x.com", "carol@y.com", "dave@z.org"}, env.Participants)
}

func TestNormalize_TopLevelMessageIDWins(t *testing.T) {
	in := models.InboundEmail{
		From:      "a@x.com",
		To:        []string{"b@x.com"},
		MessageID: "<top@x.com>",
		Headers: []models.InboundHeader{
			{Name: "Message-ID", Value: "<header@x.com>"},
		},
	}

	env := Normalize(in)
	assert.Equal(t, "top@x.com", env.MessageID)
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		max      int
		expected string
	}{
		{
			name:     "short body unchanged",
			body:     "Hello there",
			max:      150,
			expected: "Hello there",
		},
		{
			name:     "whitespace collapsed",
			body:     "Hello\n\n  there\tworld",
			max:      150,
			expected: "Hello there world",
		},
		{
			name:     "truncated at limit",
			body:     "abcdefghij",
			max:      5,
			expected: "abcde",
		},
		{
			name:     "empty body",
			body:     "",
			max:      150,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Snippet(tt.body, tt.max))
		})
	}
}
