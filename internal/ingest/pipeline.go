// Package ingest orchestrates the inbound message pipeline: content
// fetch, normalization, thread resolution, persistence, best-effort
// AI enrichment, and fan-out.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailroom/internal/classify"
	"mailroom/internal/events"
	"mailroom/internal/knowledge"
	"mailroom/internal/mailparse"
	"mailroom/internal/models"
	"mailroom/internal/provider"
	"mailroom/internal/threads"
)

// snippetLength is the thread preview size in runes.
const snippetLength = 150

// Store is the slice of storage the pipeline needs.
type Store interface {
	GetEmailByProviderMessageID(ctx context.Context, msgID string) (*models.Email, error)
	InsertEmail(ctx context.Context, e *models.Email) (bool, error)
	UpdateThreadOnMessage(ctx context.Context, threadID, snippet string, participants []string, sentAt time.Time, markUnread bool) error
	UpsertContact(ctx context.Context, id, email, displayName, direction string, at time.Time) error
	ActiveLabelRules(ctx context.Context) ([]models.LabelRule, error)
	ApplyLabel(ctx context.Context, threadID, labelID, appliedBy string, confidence *int) (bool, error)
	InsertKnowledgeItem(ctx context.Context, item *models.KnowledgeItem) error
	GetContactByEmail(ctx context.Context, email string) (*models.Contact, error)
}

// Resolver routes an envelope to a thread.
type Resolver interface {
	Resolve(ctx context.Context, env mailparse.Envelope, now time.Time) (threads.Resolution, error)
}

// ContentFetcher retrieves full message content from the provider.
type ContentFetcher interface {
	GetEmail(ctx context.Context, emailID string) (*provider.FullEmail, error)
}

// Labeler proposes labels for a message.
type Labeler interface {
	ProposeLabels(ctx context.Context, from, subject, body string, rules []models.LabelRule) []classify.Proposal
}

// FactExtractor pulls knowledge out of message content.
type FactExtractor interface {
	ExtractFacts(ctx context.Context, from, subject, body string, attachmentSummaries []string) []knowledge.Fact
	SummarizeAttachment(ctx context.Context, filename, content string) string
}

// Notifier fans events out to connected clients.
type Notifier interface {
	Broadcast(event events.Event)
}

// Result reports what an inbound delivery did.
type Result struct {
	ThreadID      string
	EmailID       string
	ThreadCreated bool
	Duplicate     bool
}

// Pipeline runs the ingestion steps for one delivery. Persistence is
// sequential and must succeed; enrichment runs afterwards in the
// background and its failures are logged and dropped, never retried.
type Pipeline struct {
	store              Store
	resolver           Resolver
	fetcher            ContentFetcher
	classifier         Labeler
	extractor          FactExtractor
	notifier           Notifier
	logger             zerolog.Logger
	autoApplyThreshold int
	enrichmentEnabled  bool

	wg sync.WaitGroup
}

// New creates a pipeline. fetcher, classifier, and extractor may be nil,
// disabling the corresponding best-effort step.
func New(store Store, resolver Resolver, fetcher ContentFetcher, classifier Labeler, extractor FactExtractor, notifier Notifier, autoApplyThreshold int, enrichmentEnabled bool, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:              store,
		resolver:           resolver,
		fetcher:            fetcher,
		classifier:         classifier,
		extractor:          extractor,
		notifier:           notifier,
		logger:             logger,
		autoApplyThreshold: autoApplyThreshold,
		enrichmentEnabled:  enrichmentEnabled,
	}
}

// ProcessInbound ingests one verified inbound delivery.
func (p *Pipeline) ProcessInbound(ctx context.Context, in models.InboundEmail, now time.Time) (Result, error) {
	// The webhook payload may omit the body; fetch the full content
	// before normalization and degrade to whatever is available.
	if in.Text == "" && in.HTML == "" && in.EmailID != "" && p.fetcher != nil {
		full, err := p.fetcher.GetEmail(ctx, in.EmailID)
		if err != nil {
			p.logger.Warn().Err(err).Str("email_id", in.EmailID).
				Msg("Full content fetch failed, continuing with empty body")
		} else {
			in.Text = full.Text
			in.HTML = full.HTML
		}
	}

	env := mailparse.Normalize(in)

	// Redelivery of an already-stored provider message id is answered
	// with the existing state, without re-running side effects.
	if env.MessageID != "" {
		prior, err := p.store.GetEmailByProviderMessageID(ctx, env.MessageID)
		if err != nil {
			return Result{}, err
		}
		if prior != nil {
			p.logger.Info().Str("message_id", env.MessageID).Str("thread_id", prior.ThreadID).
				Msg("Duplicate delivery, already processed")
			return Result{ThreadID: prior.ThreadID, EmailID: prior.ID, Duplicate: true}, nil
		}
	}

	resolution, err := p.resolver.Resolve(ctx, env, now)
	if err != nil {
		return Result{}, err
	}

	email := &models.Email{
		ID:         uuid.NewString(),
		ThreadID:   resolution.ThreadID,
		Direction:  models.DirectionInbound,
		FromAddr:   env.From,
		FromName:   env.FromName,
		ToAddrs:    env.To,
		CcAddrs:    env.Cc,
		BccAddrs:   env.Bcc,
		Subject:    env.Subject,
		TextBody:   in.Text,
		HTMLBody:   in.HTML,
		References: env.References,
		RawHeaders: encodeHeaders(in.Headers),
		SentAt:     now,
	}
	if env.MessageID != "" {
		email.ProviderMessageID = &env.MessageID
	}
	if env.InReplyTo != "" {
		email.InReplyTo = &env.InReplyTo
	}

	inserted, err := p.store.InsertEmail(ctx, email)
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		// A concurrent delivery with the same provider message id won
		// the insert race; treat this one as already processed.
		p.logger.Info().Str("message_id", env.MessageID).Msg("Duplicate delivery lost insert race")
		return Result{ThreadID: resolution.ThreadID, Duplicate: true}, nil
	}

	body := in.Text
	if body == "" {
		body = in.HTML
	}
	snippet := mailparse.Snippet(body, snippetLength)

	if err := p.store.UpdateThreadOnMessage(ctx, resolution.ThreadID, snippet, env.Participants, now, true); err != nil {
		return Result{}, err
	}

	if err := p.store.UpsertContact(ctx, uuid.NewString(), env.From, env.FromName, models.DirectionInbound, now); err != nil {
		return Result{}, err
	}

	p.spawnEnrichment(resolution.ThreadID, email.ID, env.From, env.Subject, body, in.Attachments)

	p.notifier.Broadcast(events.Event{
		Type: events.TypeNewEmail,
		Data: &events.EventData{ThreadID: resolution.ThreadID, EmailID: email.ID},
	})

	return Result{
		ThreadID:      resolution.ThreadID,
		EmailID:       email.ID,
		ThreadCreated: resolution.Created,
	}, nil
}

// ProcessOutbound records a sent reply through the same state-mutation
// path: message insert, thread update (no unread reset), and outbound
// contact counters for every recipient.
func (p *Pipeline) ProcessOutbound(ctx context.Context, threadID, fromAddr string, to, cc []string, subject, textBody string, now time.Time) (Result, error) {
	var toAddrs, ccAddrs, participants []string
	seen := make(map[string]bool)
	collect := func(raw []string, dest *[]string) {
		for _, r := range raw {
			addr, _ := mailparse.ParseAddress(r)
			if addr == "" {
				continue
			}
			*dest = append(*dest, addr)
			if !seen[addr] {
				seen[addr] = true
				participants = append(participants, addr)
			}
		}
	}
	collect(to, &toAddrs)
	collect(cc, &ccAddrs)

	from, fromName := mailparse.ParseAddress(fromAddr)
	if from != "" && !seen[from] {
		participants = append(participants, from)
	}

	email := &models.Email{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Direction: models.DirectionOutbound,
		FromAddr:  from,
		FromName:  fromName,
		ToAddrs:   toAddrs,
		CcAddrs:   ccAddrs,
		Subject:   subject,
		TextBody:  textBody,
		SentAt:    now,
	}

	if _, err := p.store.InsertEmail(ctx, email); err != nil {
		return Result{}, err
	}

	snippet := mailparse.Snippet(textBody, snippetLength)
	if err := p.store.UpdateThreadOnMessage(ctx, threadID, snippet, participants, now, false); err != nil {
		return Result{}, err
	}

	for _, addr := range toAddrs {
		if err := p.store.UpsertContact(ctx, uuid.NewString(), addr, "", models.DirectionOutbound, now); err != nil {
			return Result{}, err
		}
	}

	p.notifier.Broadcast(events.Event{
		Type: events.TypeNewEmail,
		Data: &events.EventData{ThreadID: threadID, EmailID: email.ID},
	})

	return Result{ThreadID: threadID, EmailID: email.ID}, nil
}

// spawnEnrichment submits the classification/extraction task with no
// return channel: at-most-once, best-effort, failures only logged.
func (p *Pipeline) spawnEnrichment(threadID, emailID, from, subject, body string, attachments []models.InboundAttachment) {
	if !p.enrichmentEnabled || (p.classifier == nil && p.extractor == nil) {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error().Interface("panic", r).Msg("Enrichment task panicked")
			}
		}()

		// Detached from the request: the webhook response has usually
		// been written by the time this runs.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		p.enrich(ctx, threadID, emailID, from, subject, body, attachments)
	}()
}

// Wait blocks until all in-flight enrichment tasks finish.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// enrich runs classification and knowledge extraction for a persisted
// message.
func (p *Pipeline) enrich(ctx context.Context, threadID, emailID, from, subject, body string, attachments []models.InboundAttachment) {
	if p.classifier != nil {
		p.classifyAndLabel(ctx, threadID, from, subject, body)
	}
	if p.extractor != nil {
		p.extractKnowledge(ctx, from, subject, body, attachments)
	}
	p.logger.Debug().Str("email_id", emailID).Msg("Enrichment finished")
}

// classifyAndLabel applies classifier proposals that clear the
// persistence threshold. Duplicate application is a silent no-op.
func (p *Pipeline) classifyAndLabel(ctx context.Context, threadID, from, subject, body string) {
	rules, err := p.store.ActiveLabelRules(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to load label rules, skipping classification")
		return
	}

	proposals := p.classifier.ProposeLabels(ctx, from, subject, body, rules)
	for _, proposal := range proposals {
		if proposal.Confidence < classify.ApplyThreshold {
			continue
		}

		confidence := proposal.Confidence
		applied, err := p.store.ApplyLabel(ctx, threadID, proposal.LabelID, models.AppliedByAI, &confidence)
		if err != nil {
			p.logger.Warn().Err(err).Str("label_id", proposal.LabelID).Msg("Failed to apply label")
			continue
		}
		if applied {
			p.notifier.Broadcast(events.Event{
				Type: events.TypeLabelChanged,
				Data: &events.EventData{ThreadID: threadID, LabelID: proposal.LabelID},
			})
		}
	}
}

// extractKnowledge gates extracted facts into approved knowledge or the
// pending review queue.
func (p *Pipeline) extractKnowledge(ctx context.Context, from, subject, body string, attachments []models.InboundAttachment) {
	var summaries []string
	for _, att := range attachments {
		if att.Content == "" {
			continue
		}
		if summary := p.extractor.SummarizeAttachment(ctx, att.Filename, att.Content); summary != "" {
			summaries = append(summaries, summary)
		}
	}

	facts := p.extractor.ExtractFacts(ctx, from, subject, body, summaries)
	if len(facts) == 0 {
		return
	}

	var contactID *string
	if contact, err := p.store.GetContactByEmail(ctx, from); err != nil {
		p.logger.Warn().Err(err).Str("email", from).Msg("Failed to look up contact for knowledge")
	} else if contact != nil {
		contactID = &contact.ID
	}

	for _, fact := range facts {
		item := &models.KnowledgeItem{
			ID:         uuid.NewString(),
			ContactID:  contactID,
			Category:   fact.Category,
			Title:      fact.Title,
			Content:    fact.Content,
			Source:     models.KnowledgeSourceAIExtracted,
			Confidence: fact.Confidence,
			Status:     knowledge.Gate(fact.Confidence, p.autoApplyThreshold),
		}
		if err := p.store.InsertKnowledgeItem(ctx, item); err != nil {
			p.logger.Warn().Err(err).Str("title", fact.Title).Msg("Failed to store knowledge item")
		}
	}
}

// encodeHeaders flattens the provider header list to JSON for storage.
func encodeHeaders(headers []models.InboundHeader) string {
	if len(headers) == 0 {
		return ""
	}
	raw := make(map[string]string, len(headers))
	for _, h := range headers {
		raw[h.Name] = h.Value
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprintf("%v", raw)
	}
	return string(encoded)
}
