package threads

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom/internal/mailparse"
	"mailroom/internal/models"
)

// fakeDirectory is an in-memory Directory for resolver tests.
type fakeDirectory struct {
	emailsByMessageID map[string]*models.Email
	candidates        []models.Thread
	created           []*models.Thread

	subjectQueries []string
	limits         []int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{emailsByMessageID: make(map[string]*models.Email)}
}

func (f *fakeDirectory) GetEmailByProviderMessageID(_ context.Context, msgID string) (*models.Email, error) {
	return f.emailsByMessageID[msgID], nil
}

func (f *fakeDirectory) GetThreadIDByProviderMessageIDs(_ context.Context, ids []string) (string, error) {
	for _, id := range ids {
		if email, ok := f.emailsByMessageID[id]; ok {
			return email.ThreadID, nil
		}
	}
	return "", nil
}

func (f *fakeDirectory) RecentThreadsBySubject(_ context.Context, subject string, limit int) ([]models.Thread, error) {
	f.subjectQueries = append(f.subjectQueries, subject)
	f.limits = append(f.limits, limit)
	if len(f.candidates) > limit {
		return f.candidates[:limit], nil
	}
	return f.candidates, nil
}

func (f *fakeDirectory) CreateThread(_ context.Context, t *models.Thread) error {
	f.created = append(f.created, t)
	return nil
}

func envelope(inReplyTo string, references []string, cleanSubject string, participants ...string) mailparse.Envelope {
	return mailparse.Envelope{
		InReplyTo:    inReplyTo,
		References:   references,
		Subject:      "Re: " + cleanSubject,
		CleanSubject: cleanSubject,
		Participants: participants,
	}
}

func TestResolve_InReplyToWins(t *testing.T) {
	dir := newFakeDirectory()
	dir.emailsByMessageID["m1@x.com"] = &models.Email{ID: "e1", ThreadID: "thread-1"}
	// A fuzzy candidate also exists; stage 1 must win before it is consulted.
	dir.candidates = []models.Thread{{ID: "thread-9", Participants: []string{"a@x.com"}}}

	r := NewResolver(dir, zerolog.Nop())
	res, err := r.Resolve(context.Background(), envelope("m1@x.com", nil, "Hello", "a@x.com"), time.Now())

	require.NoError(t, err)
	assert.Equal(t, "thread-1", res.ThreadID)
	assert.False(t, res.Created)
	assert.Equal(t, "in_reply_to", res.Strategy)
	assert.Empty(t, dir.subjectQueries, "fuzzy stage must not run after a header match")
}

func TestResolve_ReferencesMatch(t *testing.T) {
	dir := newFakeDirectory()
	dir.emailsByMessageID["m2@x.com"] = &models.Email{ID: "e2", ThreadID: "thread-2"}

	r := NewResolver(dir, zerolog.Nop())
	res, err := r.Resolve(context.Background(),
		envelope("unknown@x.com", []string{"m9@x.com", "m2@x.com"}, "Hello", "a@x.com"), time.Now())

	require.NoError(t, err)
	assert.Equal(t, "thread-2", res.ThreadID)
	assert.Equal(t, "references", res.Strategy)
}

func TestResolve_SubjectParticipantFallback(t *testing.T) {
	dir := newFakeDirectory()
	dir.candidates = []models.Thread{
		{ID: "thread-recent", Subject: "Project X", Participants: []string{"x@z.com", "y@z.com"}},
		{ID: "thread-shared", Subject: "Project X", Participants: []string{"A@X.com", "b@x.com"}},
	}

	r := NewResolver(dir, zerolog.Nop())
	res, err := r.Resolve(context.Background(), envelope("", nil, "Project X", "a@x.com"), time.Now())

	require.NoError(t, err)
	// First candidate in recency order with >=1 shared participant wins;
	// the overlap check is case-insensitive.
	assert.Equal(t, "thread-shared", res.ThreadID)
	assert.Equal(t, "subject_participants", res.Strategy)
	assert.Equal(t, []int{fuzzyCandidateLimit}, dir.limits)
}

func TestResolve_FirstOverlapWinsInRecencyOrder(t *testing.T) {
	dir := newFakeDirectory()
	dir.candidates = []models.Thread{
		{ID: "thread-newer", Participants: []string{"a@x.com", "c@x.com"}},
		{ID: "thread-older", Participants: []string{"a@x.com", "b@x.com"}},
	}

	r := NewResolver(dir, zerolog.Nop())
	res, err := r.Resolve(context.Background(), envelope("", nil, "Question", "a@x.com"), time.Now())

	require.NoError(t, err)
	assert.Equal(t, "thread-newer", res.ThreadID)
}

func TestResolve_CreatesNewThread(t *testing.T) {
	dir := newFakeDirectory()
	dir.candidates = []models.Thread{
		{ID: "thread-1", Subject: "Hello", Participants: []string{"other@x.com"}},
	}
	now := time.Now()

	r := NewResolver(dir, zerolog.Nop())
	env := envelope("", nil, "Hello", "a@x.com", "b@x.com")
	res, err := r.Resolve(context.Background(), env, now)

	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "create", res.Strategy)
	require.Len(t, dir.created, 1)

	created := dir.created[0]
	assert.Equal(t, res.ThreadID, created.ID)
	assert.NotEmpty(t, created.ID)
	// The new thread keeps the original, non-normalized subject.
	assert.Equal(t, "Re: Hello", created.Subject)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, []string(created.Participants))
	assert.Equal(t, now, created.LastMessageAt)
}

func TestResolve_EmptySubjectSkipsFuzzyStage(t *testing.T) {
	dir := newFakeDirectory()
	dir.candidates = []models.Thread{{ID: "thread-1", Participants: []string{"a@x.com"}}}

	r := NewResolver(dir, zerolog.Nop())
	res, err := r.Resolve(context.Background(), envelope("", nil, "", "a@x.com"), time.Now())

	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Empty(t, dir.subjectQueries)
}
