package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mailroom/internal/models"
)

// Store wraps all reads and writes the ingestion pipeline and API
// handlers need. Queries use the PostgreSQL dialect; the unique indexes
// on contacts.email and emails.provider_message_id carry the
// idempotency guarantees.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a store over an open connection.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Migrate creates the tables and the unique indexes the pipeline
// depends on.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL DEFAULT '',
			snippet TEXT NOT NULL DEFAULT '',
			participants TEXT[] NOT NULL DEFAULT '{}',
			last_message_at TIMESTAMPTZ NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			is_starred BOOLEAN NOT NULL DEFAULT FALSE,
			is_archived BOOLEAN NOT NULL DEFAULT FALSE,
			is_trashed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS emails (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL REFERENCES threads(id),
			direction TEXT NOT NULL,
			provider_message_id TEXT,
			in_reply_to TEXT,
			refs TEXT[] NOT NULL DEFAULT '{}',
			from_addr TEXT NOT NULL,
			from_name TEXT NOT NULL DEFAULT '',
			to_addrs TEXT[] NOT NULL DEFAULT '{}',
			cc_addrs TEXT[] NOT NULL DEFAULT '{}',
			bcc_addrs TEXT[] NOT NULL DEFAULT '{}',
			subject TEXT NOT NULL DEFAULT '',
			text_body TEXT NOT NULL DEFAULT '',
			html_body TEXT NOT NULL DEFAULT '',
			raw_headers TEXT NOT NULL DEFAULT '',
			sent_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS emails_provider_message_id_key
			ON emails (provider_message_id) WHERE provider_message_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS labels (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'user',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS thread_labels (
			thread_id TEXT NOT NULL REFERENCES threads(id),
			label_id TEXT NOT NULL REFERENCES labels(id),
			applied_by TEXT NOT NULL,
			confidence INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (thread_id, label_id)
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			company TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			email_count INTEGER NOT NULL DEFAULT 0,
			inbound_count INTEGER NOT NULL DEFAULT 0,
			outbound_count INTEGER NOT NULL DEFAULT 0,
			first_contacted_at TIMESTAMPTZ NOT NULL,
			last_contacted_at TIMESTAMPTZ NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_items (
			id TEXT PRIMARY KEY,
			contact_id TEXT REFERENCES contacts(id),
			category TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			source TEXT NOT NULL,
			confidence INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS label_rules (
			id TEXT PRIMARY KEY,
			label_id TEXT NOT NULL REFERENCES labels(id),
			description TEXT NOT NULL,
			examples TEXT[] NOT NULL DEFAULT '{}',
			keywords TEXT[] NOT NULL DEFAULT '{}',
			sender_patterns TEXT[] NOT NULL DEFAULT '{}',
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// GetEmailByProviderMessageID looks up a prior message by its provider
// message identifier. Returns nil without error when absent.
func (s *Store) GetEmailByProviderMessageID(ctx context.Context, msgID string) (*models.Email, error) {
	var email models.Email
	err := s.db.GetContext(ctx, &email,
		`SELECT * FROM emails WHERE provider_message_id = $1 LIMIT 1`, msgID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up email by message id: %w", err)
	}
	return &email, nil
}

// GetThreadIDByProviderMessageIDs returns the thread of any prior
// message whose provider message id appears in ids. Empty string when
// none match.
func (s *Store) GetThreadIDByProviderMessageIDs(ctx context.Context, ids []string) (string, error) {
	if len(ids) == 0 {
		return "", nil
	}
	var threadID string
	err := s.db.GetContext(ctx, &threadID,
		`SELECT thread_id FROM emails WHERE provider_message_id = ANY($1) ORDER BY sent_at DESC LIMIT 1`,
		pq.Array(ids))
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up thread by references: %w", err)
	}
	return threadID, nil
}

// RecentThreadsBySubject returns the most recently active threads whose
// subject contains the given normalized subject, capped to limit.
func (s *Store) RecentThreadsBySubject(ctx context.Context, subject string, limit int) ([]models.Thread, error) {
	var threads []models.Thread
	err := s.db.SelectContext(ctx, &threads,
		`SELECT * FROM threads
		 WHERE subject ILIKE '%' || $1 || '%' AND NOT is_trashed
		 ORDER BY last_message_at DESC
		 LIMIT $2`, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate threads: %w", err)
	}
	return threads, nil
}

// CreateThread inserts a new thread row.
func (s *Store) CreateThread(ctx context.Context, t *models.Thread) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, subject, snippet, participants, last_message_at, is_read)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Subject, t.Snippet, pq.Array(t.Participants), t.LastMessageAt, t.IsRead)
	if err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}
	return nil
}

// InsertEmail stores a message bound to its resolved thread. Duplicate
// provider message ids hit the partial unique index and report
// inserted=false instead of an error, making redelivery idempotent.
func (s *Store) InsertEmail(ctx context.Context, e *models.Email) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO emails (id, thread_id, direction, provider_message_id, in_reply_to, refs,
			from_addr, from_name, to_addrs, cc_addrs, bcc_addrs,
			subject, text_body, html_body, raw_headers, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (provider_message_id) WHERE provider_message_id IS NOT NULL DO NOTHING`,
		e.ID, e.ThreadID, e.Direction, e.ProviderMessageID, e.InReplyTo, pq.Array(e.References),
		e.FromAddr, e.FromName, pq.Array(e.ToAddrs), pq.Array(e.CcAddrs), pq.Array(e.BccAddrs),
		e.Subject, e.TextBody, e.HTMLBody, e.RawHeaders, e.SentAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert email: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return rows > 0, nil
}

// UpdateThreadOnMessage applies the thread-side effects of a new
// message: snippet refresh, participant union (the set never shrinks),
// monotonic last_message_at, and optional unread reset. The union runs
// in SQL so concurrent deliveries cannot clobber each other's adds.
func (s *Store) UpdateThreadOnMessage(ctx context.Context, threadID, snippet string, participants []string, sentAt time.Time, markUnread bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE threads SET
			snippet = $2,
			participants = ARRAY(SELECT DISTINCT p FROM unnest(participants || $3::text[]) AS p),
			last_message_at = GREATEST(last_message_at, $4),
			is_read = CASE WHEN $5 THEN FALSE ELSE is_read END,
			updated_at = NOW()
		 WHERE id = $1`,
		threadID, snippet, pq.Array(participants), sentAt, markUnread)
	if err != nil {
		return fmt.Errorf("failed to update thread: %w", err)
	}
	return nil
}

// UpsertContact creates or increments the contact row for an address.
// The conflict target on the unique email key makes concurrent upserts
// for the same address collapse into one row with correct counters.
func (s *Store) UpsertContact(ctx context.Context, id, email, displayName, direction string, at time.Time) error {
	inbound := 0
	outbound := 0
	switch direction {
	case models.DirectionInbound:
		inbound = 1
	case models.DirectionOutbound:
		outbound = 1
	default:
		return fmt.Errorf("unknown message direction %q", direction)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, email, display_name, email_count, inbound_count, outbound_count,
			first_contacted_at, last_contacted_at)
		 VALUES ($1, $2, $3, 1, $4, $5, $6, $6)
		 ON CONFLICT (email) DO UPDATE SET
			email_count = contacts.email_count + 1,
			inbound_count = contacts.inbound_count + EXCLUDED.inbound_count,
			outbound_count = contacts.outbound_count + EXCLUDED.outbound_count,
			last_contacted_at = GREATEST(contacts.last_contacted_at, EXCLUDED.last_contacted_at),
			display_name = CASE WHEN contacts.display_name = '' THEN EXCLUDED.display_name ELSE contacts.display_name END,
			updated_at = NOW()`,
		id, email, displayName, inbound, outbound, at)
	if err != nil {
		return fmt.Errorf("failed to upsert contact %s: %w", email, err)
	}
	return nil
}

// GetThread fetches a single thread by id.
func (s *Store) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	var t models.Thread
	err := s.db.GetContext(ctx, &t, `SELECT * FROM threads WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch thread: %w", err)
	}
	return &t, nil
}

// ListThreads returns recent non-trashed threads.
func (s *Store) ListThreads(ctx context.Context, limit int) ([]models.Thread, error) {
	var threads []models.Thread
	err := s.db.SelectContext(ctx, &threads,
		`SELECT * FROM threads WHERE NOT is_trashed ORDER BY last_message_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return threads, nil
}

// ListEmailsByThread returns a thread's messages oldest first.
func (s *Store) ListEmailsByThread(ctx context.Context, threadID string) ([]models.Email, error) {
	var emails []models.Email
	err := s.db.SelectContext(ctx, &emails,
		`SELECT * FROM emails WHERE thread_id = $1 ORDER BY sent_at ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread emails: %w", err)
	}
	return emails, nil
}

// UpdateThreadFlags applies a partial flag update. Nil fields are left
// untouched.
func (s *Store) UpdateThreadFlags(ctx context.Context, id string, flags models.ThreadFlagsRequest) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET
			is_read = COALESCE($2, is_read),
			is_starred = COALESCE($3, is_starred),
			is_archived = COALESCE($4, is_archived),
			is_trashed = COALESCE($5, is_trashed),
			updated_at = NOW()
		 WHERE id = $1`,
		id, flags.IsRead, flags.IsStarred, flags.IsArchived, flags.IsTrashed)
	if err != nil {
		return fmt.Errorf("failed to update thread flags: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read flag update result: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ApplyLabel records a (thread, label) pair. Duplicate application is a
// no-op reported as applied=false.
func (s *Store) ApplyLabel(ctx context.Context, threadID, labelID, appliedBy string, confidence *int) (applied bool, err error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO thread_labels (thread_id, label_id, applied_by, confidence)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (thread_id, label_id) DO NOTHING`,
		threadID, labelID, appliedBy, confidence)
	if err != nil {
		return false, fmt.Errorf("failed to apply label: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read label insert result: %w", err)
	}
	return rows > 0, nil
}

// RemoveLabel deletes a (thread, label) pair.
func (s *Store) RemoveLabel(ctx context.Context, threadID, labelID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM thread_labels WHERE thread_id = $1 AND label_id = $2`, threadID, labelID)
	if err != nil {
		return fmt.Errorf("failed to remove label: %w", err)
	}
	return nil
}

// ActiveLabelRules returns the rule set fed to the classifier.
func (s *Store) ActiveLabelRules(ctx context.Context) ([]models.LabelRule, error) {
	var rules []models.LabelRule
	err := s.db.SelectContext(ctx, &rules,
		`SELECT * FROM label_rules WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load label rules: %w", err)
	}
	return rules, nil
}

// InsertKnowledgeItem stores an extracted fact in whatever state the
// confidence gate decided.
func (s *Store) InsertKnowledgeItem(ctx context.Context, item *models.KnowledgeItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_items (id, contact_id, category, title, content, source, confidence, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.ContactID, item.Category, item.Title, item.Content,
		item.Source, item.Confidence, item.Status)
	if err != nil {
		return fmt.Errorf("failed to insert knowledge item: %w", err)
	}
	return nil
}

// PendingKnowledge returns items waiting for human review, oldest first.
func (s *Store) PendingKnowledge(ctx context.Context) ([]models.KnowledgeItem, error) {
	var items []models.KnowledgeItem
	err := s.db.SelectContext(ctx, &items,
		`SELECT * FROM knowledge_items WHERE status = $1 ORDER BY created_at ASC`,
		models.KnowledgeStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending knowledge: %w", err)
	}
	return items, nil
}

// ReviewKnowledge resolves a pending item. Non-empty title/content
// overwrite the stored fact (edit-then-approve).
func (s *Store) ReviewKnowledge(ctx context.Context, id, status, title, content string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_items SET
			status = $2,
			title = CASE WHEN $3 <> '' THEN $3 ELSE title END,
			content = CASE WHEN $4 <> '' THEN $4 ELSE content END,
			updated_at = NOW()
		 WHERE id = $1 AND status = $5`,
		id, status, title, content, models.KnowledgeStatusPending)
	if err != nil {
		return fmt.Errorf("failed to review knowledge item: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read review result: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetContactByEmail fetches a contact by its unique lowercase address.
func (s *Store) GetContactByEmail(ctx context.Context, email string) (*models.Contact, error) {
	var c models.Contact
	err := s.db.GetContext(ctx, &c, `SELECT * FROM contacts WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contact: %w", err)
	}
	return &c, nil
}

// ListContacts returns contacts ordered by most recent interaction.
func (s *Store) ListContacts(ctx context.Context, limit int) ([]models.Contact, error) {
	var contacts []models.Contact
	err := s.db.SelectContext(ctx, &contacts,
		`SELECT * FROM contacts WHERE deleted_at IS NULL ORDER BY last_contacted_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, nil
}
