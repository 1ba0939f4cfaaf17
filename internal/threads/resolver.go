// Package threads decides which conversation an incoming message
// belongs to. Header-based matching is exact and authoritative; the
// subject+participant stage is a heuristic fallback that deliberately
// favors grouping over fragmentation.
package threads

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailroom/internal/mailparse"
	"mailroom/internal/models"
)

// fuzzyCandidateLimit caps the subject match to the most recently
// active threads.
const fuzzyCandidateLimit = 10

// Directory is the slice of storage the resolver needs.
type Directory interface {
	GetEmailByProviderMessageID(ctx context.Context, msgID string) (*models.Email, error)
	GetThreadIDByProviderMessageIDs(ctx context.Context, ids []string) (string, error)
	RecentThreadsBySubject(ctx context.Context, subject string, limit int) ([]models.Thread, error)
	CreateThread(ctx context.Context, t *models.Thread) error
}

// Resolution reports where a message was routed and whether the thread
// is new.
type Resolution struct {
	ThreadID string
	Created  bool
	Strategy string
}

// Resolver runs the matching cascade. Strategies are tried in order and
// the first hit wins; the final create strategy is unconditional, so
// resolution always produces a thread.
type Resolver struct {
	dir    Directory
	logger zerolog.Logger
}

// NewResolver creates a resolver over the given directory.
func NewResolver(dir Directory, logger zerolog.Logger) *Resolver {
	return &Resolver{dir: dir, logger: logger}
}

// matcher is one stage of the cascade. It returns an empty thread id
// when the stage has no opinion.
type matcher struct {
	name  string
	match func(ctx context.Context, env mailparse.Envelope) (string, error)
}

// Resolve routes a normalized envelope to an existing thread or creates
// a new one.
func (r *Resolver) Resolve(ctx context.Context, env mailparse.Envelope, now time.Time) (Resolution, error) {
	cascade := []matcher{
		{name: "in_reply_to", match: r.matchInReplyTo},
		{name: "references", match: r.matchReferences},
		{name: "subject_participants", match: r.matchSubjectParticipants},
	}

	for _, m := range cascade {
		threadID, err := m.match(ctx, env)
		if err != nil {
			return Resolution{}, fmt.Errorf("thread matching failed at %s: %w", m.name, err)
		}
		if threadID != "" {
			r.logger.Debug().
				Str("strategy", m.name).
				Str("thread_id", threadID).
				Msg("Matched existing thread")
			return Resolution{ThreadID: threadID, Strategy: m.name}, nil
		}
	}

	threadID, err := r.createThread(ctx, env, now)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{ThreadID: threadID, Created: true, Strategy: "create"}, nil
}

// matchInReplyTo finds the thread of the message the incoming one
// directly replies to.
func (r *Resolver) matchInReplyTo(ctx context.Context, env mailparse.Envelope) (string, error) {
	if env.InReplyTo == "" {
		return "", nil
	}
	prior, err := r.dir.GetEmailByProviderMessageID(ctx, env.InReplyTo)
	if err != nil {
		return "", err
	}
	if prior == nil {
		return "", nil
	}
	return prior.ThreadID, nil
}

// matchReferences finds a thread via any identifier in the References
// chain.
func (r *Resolver) matchReferences(ctx context.Context, env mailparse.Envelope) (string, error) {
	if len(env.References) == 0 {
		return "", nil
	}
	return r.dir.GetThreadIDByProviderMessageIDs(ctx, env.References)
}

// matchSubjectParticipants scans the most recent threads whose subject
// contains the normalized subject and picks the first one sharing at
// least one participant. Recency order decides ties; there is no
// scoring beyond the overlap check.
func (r *Resolver) matchSubjectParticipants(ctx context.Context, env mailparse.Envelope) (string, error) {
	if env.CleanSubject == "" {
		return "", nil
	}

	candidates, err := r.dir.RecentThreadsBySubject(ctx, env.CleanSubject, fuzzyCandidateLimit)
	if err != nil {
		return "", err
	}

	for _, candidate := range candidates {
		if sharesParticipant(candidate.Participants, env.Participants) {
			return candidate.ID, nil
		}
	}
	return "", nil
}

// createThread is the unconditional final stage.
func (r *Resolver) createThread(ctx context.Context, env mailparse.Envelope, now time.Time) (string, error) {
	thread := &models.Thread{
		ID:            uuid.NewString(),
		Subject:       env.Subject,
		Participants:  env.Participants,
		LastMessageAt: now,
	}
	if err := r.dir.CreateThread(ctx, thread); err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}

	r.logger.Debug().Str("thread_id", thread.ID).Msg("Created new thread")
	return thread.ID, nil
}

// sharesParticipant reports whether the two address sets overlap,
// case-insensitively.
func sharesParticipant(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, addr := range a {
		set[strings.ToLower(addr)] = true
	}
	for _, addr := range b {
		if set[strings.ToLower(addr)] {
			return true
		}
	}
	return false
}
