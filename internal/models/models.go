package models

import (
	"time"

	"github.com/lib/pq"
)

// Message direction values
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Label application sources
const (
	AppliedBySystem = "system"
	AppliedByUser   = "user"
	AppliedByAI     = "ai"
)

// Knowledge item sources and states
const (
	KnowledgeSourceManual      = "manual"
	KnowledgeSourceAIExtracted = "ai_extracted"

	KnowledgeStatusApproved = "approved"
	KnowledgeStatusPending  = "pending"
	KnowledgeStatusRejected = "rejected"
)

// Thread represents a conversation grouping one or more emails.
// Participants only ever grows and LastMessageAt never moves backwards
// as messages are appended.
type Thread struct {
	ID            string         `db:"id" json:"id"`
	Subject       string         `db:"subject" json:"subject"`
	Snippet       string         `db:"snippet" json:"snippet"`
	Participants  pq.StringArray `db:"participants" json:"participants"`
	LastMessageAt time.Time      `db:"last_message_at" json:"last_message_at"`
	IsRead        bool           `db:"is_read" json:"is_read"`
	IsStarred     bool           `db:"is_starred" json:"is_starred"`
	IsArchived    bool           `db:"is_archived" json:"is_archived"`
	IsTrashed     bool           `db:"is_trashed" json:"is_trashed"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// Email represents one delivered or sent message. The thread binding is
// set at creation and never changes afterwards.
type Email struct {
	ID                string         `db:"id" json:"id"`
	ThreadID          string         `db:"thread_id" json:"thread_id"`
	Direction         string         `db:"direction" json:"direction"`
	ProviderMessageID *string        `db:"provider_message_id" json:"provider_message_id,omitempty"`
	InReplyTo         *string        `db:"in_reply_to" json:"in_reply_to,omitempty"`
	References        pq.StringArray `db:"refs" json:"references,omitempty"`
	FromAddr          string         `db:"from_addr" json:"from"`
	FromName          string         `db:"from_name" json:"from_name,omitempty"`
	ToAddrs           pq.StringArray `db:"to_addrs" json:"to"`
	CcAddrs           pq.StringArray `db:"cc_addrs" json:"cc,omitempty"`
	BccAddrs          pq.StringArray `db:"bcc_addrs" json:"bcc,omitempty"`
	Subject           string         `db:"subject" json:"subject"`
	TextBody          string         `db:"text_body" json:"text_body,omitempty"`
	HTMLBody          string         `db:"html_body" json:"html_body,omitempty"`
	RawHeaders        string         `db:"raw_headers" json:"raw_headers,omitempty"`
	SentAt            time.Time      `db:"sent_at" json:"sent_at"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
}

// Label is a tag applied to threads, either system-defined or user-defined.
type Label struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Kind      string    `db:"kind" json:"kind"` // "system" or "user"
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ThreadLabel is the thread<->label join. A (thread, label) pair is unique;
// re-applying is a no-op. Confidence is only set for AI-applied labels.
type ThreadLabel struct {
	ThreadID   string    `db:"thread_id" json:"thread_id"`
	LabelID    string    `db:"label_id" json:"label_id"`
	AppliedBy  string    `db:"applied_by" json:"applied_by"`
	Confidence *int      `db:"confidence" json:"confidence,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Contact is a deduplicated record per lowercase email address with
// interaction counters and AI-derived knowledge.
type Contact struct {
	ID               string     `db:"id" json:"id"`
	Email            string     `db:"email" json:"email"`
	DisplayName      string     `db:"display_name" json:"display_name"`
	Company          string     `db:"company" json:"company,omitempty"`
	Role             string     `db:"role" json:"role,omitempty"`
	EmailCount       int        `db:"email_count" json:"email_count"`
	InboundCount     int        `db:"inbound_count" json:"inbound_count"`
	OutboundCount    int        `db:"outbound_count" json:"outbound_count"`
	FirstContactedAt time.Time  `db:"first_contacted_at" json:"first_contacted_at"`
	LastContactedAt  time.Time  `db:"last_contacted_at" json:"last_contacted_at"`
	Summary          string     `db:"summary" json:"summary,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt        *time.Time `db:"deleted_at" json:"-"`
}

// KnowledgeItem is an extracted fact about a contact or the business.
// Items at or above the auto-apply threshold are created approved; the
// rest wait in the pending review queue.
type KnowledgeItem struct {
	ID         string    `db:"id" json:"id"`
	ContactID  *string   `db:"contact_id" json:"contact_id,omitempty"`
	Category   string    `db:"category" json:"category"`
	Title      string    `db:"title" json:"title"`
	Content    string    `db:"content" json:"content"`
	Source     string    `db:"source" json:"source"`
	Confidence int       `db:"confidence" json:"confidence"`
	Status     string    `db:"status" json:"status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// LabelRule describes one active labeling rule fed to the classifier.
type LabelRule struct {
	ID             string         `db:"id" json:"id"`
	LabelID        string         `db:"label_id" json:"label_id"`
	Description    string         `db:"description" json:"description"`
	Examples       pq.StringArray `db:"examples" json:"examples,omitempty"`
	Keywords       pq.StringArray `db:"keywords" json:"keywords,omitempty"`
	SenderPatterns pq.StringArray `db:"sender_patterns" json:"sender_patterns,omitempty"`
	IsActive       bool           `db:"is_active" json:"is_active"`
}
