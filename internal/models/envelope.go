package models

// InboundEvent is the JSON envelope delivered by the upstream mail
// provider's webhook. Only "email.received" events are processed.
type InboundEvent struct {
	Type string       `json:"type"`
	Data InboundEmail `json:"data"`
}

// EventTypeEmailReceived is the only webhook event type that triggers
// the ingestion pipeline.
const EventTypeEmailReceived = "email.received"

// InboundEmail is the provider's representation of one received message.
// Text and HTML may be empty; the pipeline then fetches the full content
// by EmailID from the provider API.
type InboundEmail struct {
	EmailID     string              `json:"email_id"`
	From        string              `json:"from"`
	To          []string            `json:"to"`
	Cc          []string            `json:"cc,omitempty"`
	Bcc         []string            `json:"bcc,omitempty"`
	ReplyTo     string              `json:"reply_to,omitempty"`
	Subject     string              `json:"subject"`
	Text        string              `json:"text,omitempty"`
	HTML        string              `json:"html,omitempty"`
	MessageID   string              `json:"message_id,omitempty"`
	Attachments []InboundAttachment `json:"attachments,omitempty"`
	Headers     []InboundHeader     `json:"headers,omitempty"`
}

// InboundHeader is one flattened header pair from the provider payload.
type InboundHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// InboundAttachment is an attachment reference from the provider payload.
// Content is only populated for small inline attachments.
type InboundAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content,omitempty"`
}
