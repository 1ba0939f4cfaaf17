// Package mailparse turns raw provider envelope fields into canonical
// addresses, display names, and normalized threading references.
package mailparse

import (
	"net/mail"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"mailroom/internal/models"
)

// replyPrefixPattern matches English and German reply/forward prefixes
// at the start of a subject, case-insensitively.
var replyPrefixPattern = regexp.MustCompile(`(?i)^\s*(re|fwd|fw|aw|wg)\s*:\s*`)

var whitespacePattern = regexp.MustCompile(`\s+`)

var titleCaser = cases.Title(language.English)

// Envelope is the normalized view of an inbound message used by thread
// resolution and persistence.
type Envelope struct {
	From         string   // canonical lowercase sender address
	FromName     string   // display name, derived from the local part when absent
	To           []string // canonical lowercase recipients
	Cc           []string
	Bcc          []string
	ReplyTo      string
	Subject      string // original subject, untouched
	CleanSubject string // subject with reply/forward prefixes stripped
	MessageID    string
	InReplyTo    string
	References   []string
	Participants []string // deduplicated union of from/to/cc/bcc
}

// Normalize canonicalizes the raw provider payload.
func Normalize(in models.InboundEmail) Envelope {
	from, fromName := ParseAddress(in.From)

	env := Envelope{
		From:         from,
		FromName:     fromName,
		To:           canonicalList(in.To),
		Cc:           canonicalList(in.Cc),
		Bcc:          canonicalList(in.Bcc),
		Subject:      in.Subject,
		CleanSubject: NormalizeSubject(in.Subject),
		MessageID:    CleanMessageID(in.MessageID),
	}

	if in.ReplyTo != "" {
		replyTo, _ := ParseAddress(in.ReplyTo)
		env.ReplyTo = replyTo
	}

	if env.MessageID == "" {
		env.MessageID = CleanMessageID(headerValue(in.Headers, "Message-ID"))
	}
	env.InReplyTo = CleanMessageID(headerValue(in.Headers, "In-Reply-To"))
	env.References = splitReferences(headerValue(in.Headers, "References"))

	env.Participants = participantSet(env)

	return env
}

// ParseAddress extracts a canonical lowercase address and a display name
// from "Name <addr>" syntax. When the envelope carries no name, one is
// derived from the address local part ("jane.doe" becomes "Jane Doe").
func ParseAddress(raw string) (addr, name string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}

	parsed, err := mail.ParseAddress(raw)
	if err != nil {
		// Bare or malformed input: strip any angle brackets and lowercase.
		addr = strings.Trim(raw, "<> ")
		addr = strings.ToLower(addr)
	} else {
		addr = strings.ToLower(parsed.Address)
		name = strings.TrimSpace(parsed.Name)
	}

	if name == "" {
		name = displayNameFromAddress(addr)
	}

	return addr, name
}

// NormalizeSubject strips repeated reply/forward prefixes (en: re/fwd/fw,
// de: aw/wg) until stable, so stacked prefixes like "Re: Re: Aw: ..."
// collapse fully, then trims whitespace.
func NormalizeSubject(subject string) string {
	for {
		stripped := replyPrefixPattern.ReplaceAllString(subject, "")
		if stripped == subject {
			break
		}
		subject = stripped
	}
	return strings.TrimSpace(subject)
}

// CleanMessageID removes surrounding angle brackets and whitespace from
// a Message-ID style identifier.
func CleanMessageID(msgID string) string {
	msgID = strings.TrimSpace(msgID)
	msgID = strings.TrimPrefix(msgID, "<")
	msgID = strings.TrimSuffix(msgID, ">")
	return msgID
}

// headerValue does a case-insensitive lookup in the flattened header list.
func headerValue(headers []models.InboundHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// splitReferences parses a References header by whitespace-splitting and
// cleaning each identifier.
func splitReferences(refs string) []string {
	fields := strings.Fields(refs)
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if id := CleanMessageID(f); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// canonicalList lowercases and deduplicates a raw address list.
func canonicalList(raw []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range raw {
		addr, _ := ParseAddress(r)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

// participantSet collects every address touching the message, deduplicated.
func participantSet(env Envelope) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(addr string) {
		if addr == "" || seen[addr] {
			return
		}
		seen[addr] = true
		out = append(out, addr)
	}

	add(env.From)
	for _, a := range env.To {
		add(a)
	}
	for _, a := range env.Cc {
		add(a)
	}
	for _, a := range env.Bcc {
		add(a)
	}
	return out
}

// displayNameFromAddress builds a readable name from an address local
// part, splitting on dots, underscores, and plus tags.
func displayNameFromAddress(addr string) string {
	local, _, found := strings.Cut(addr, "@")
	if !found || local == "" {
		return addr
	}

	// Drop plus tags like "jane+newsletters".
	local, _, _ = strings.Cut(local, "+")

	local = strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(local)
	local = whitespacePattern.ReplaceAllString(strings.TrimSpace(local), " ")
	if local == "" {
		return addr
	}
	return titleCaser.String(local)
}

// Snippet collapses whitespace in a body and truncates to maxRunes for
// thread previews.
func Snippet(body string, maxRunes int) string {
	collapsed := whitespacePattern.ReplaceAllString(strings.TrimSpace(body), " ")
	runes := []rune(collapsed)
	if len(runes) <= maxRunes {
		return collapsed
	}
	return strings.TrimSpace(string(runes[:maxRunes]))
}
