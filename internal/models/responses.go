package models

import "time"

// HealthResponse represents a basic health check response
// @Description Health check response
type HealthResponse struct {
	Status    string    `json:"status" example:"healthy"`                 // Health status
	Timestamp time.Time `json:"timestamp" example:"2023-01-01T00:00:00Z"` // Timestamp of the check
	Version   string    `json:"version" example:"1.0.0"`                  // Application version
}

// DBHealthResponse represents a database health check response
// @Description Database health check response
type DBHealthResponse struct {
	Status    string        `json:"status" example:"healthy"`                   // Health status
	Timestamp time.Time     `json:"timestamp" example:"2023-01-01T00:00:00Z"`   // Timestamp of the check
	Connected bool          `json:"connected" example:"true"`                   // Database connection status
	Latency   time.Duration `json:"latency" swaggertype:"string" example:"1ms"` // Database ping latency
	Error     string        `json:"error,omitempty" example:""`                 // Error message if any
}

// WebhookResponse acknowledges an inbound delivery
// @Description Inbound webhook acknowledgement
type WebhookResponse struct {
	Received bool   `json:"received" example:"true"`    // Whether the delivery was accepted
	ThreadID string `json:"thread_id,omitempty"`        // Thread the message was routed to
	EmailID  string `json:"email_id,omitempty"`         // Stored email identifier
	Error    string `json:"error,omitempty" example:""` // Error message if any
}

// ThreadFlagsRequest carries partial flag updates for a thread
// @Description Thread flag update payload
type ThreadFlagsRequest struct {
	IsRead     *bool `json:"is_read,omitempty"`
	IsStarred  *bool `json:"is_starred,omitempty"`
	IsArchived *bool `json:"is_archived,omitempty"`
	IsTrashed  *bool `json:"is_trashed,omitempty"`
}

// ThreadDetailResponse bundles a thread with its messages
// @Description Thread with messages
type ThreadDetailResponse struct {
	Thread Thread  `json:"thread"`
	Emails []Email `json:"emails"`
}

// ReplyRequest is the payload for sending an outbound reply on a thread
// @Description Outbound reply payload
type ReplyRequest struct {
	To       []string `json:"to"`
	Cc       []string `json:"cc,omitempty"`
	Subject  string   `json:"subject,omitempty"` // Defaults to "Re: <thread subject>"
	TextBody string   `json:"text_body"`
}

// ApplyLabelRequest is the payload for manually applying a label
// @Description Manual label application payload
type ApplyLabelRequest struct {
	LabelID string `json:"label_id"`
}

// KnowledgeReviewRequest carries an optional edit applied on approval
// @Description Knowledge review payload
type KnowledgeReviewRequest struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
}

// ErrorResponse is the generic JSON error envelope
// @Description Generic error response
type ErrorResponse struct {
	Error string `json:"error" example:"something went wrong"` // Error message
}
