package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom/internal/events"
	"mailroom/internal/ingest"
	"mailroom/internal/mailparse"
	"mailroom/internal/models"
	"mailroom/internal/threads"
	"mailroom/internal/webhook"
)

const testSigningKey = "test-signing-key"

// stubStore satisfies the pipeline's storage interface with in-memory
// state; only the ingestion path is exercised here.
type stubStore struct {
	insertedEmails []*models.Email
	threadUpdates  int
}

func (s *stubStore) GetEmailByProviderMessageID(context.Context, string) (*models.Email, error) {
	return nil, nil
}

func (s *stubStore) InsertEmail(_ context.Context, e *models.Email) (bool, error) {
	s.insertedEmails = append(s.insertedEmails, e)
	return true, nil
}

func (s *stubStore) UpdateThreadOnMessage(context.Context, string, string, []string, time.Time, bool) error {
	s.threadUpdates++
	return nil
}

func (s *stubStore) UpsertContact(context.Context, string, string, string, string, time.Time) error {
	return nil
}

func (s *stubStore) ActiveLabelRules(context.Context) ([]models.LabelRule, error) {
	return nil, nil
}

func (s *stubStore) ApplyLabel(context.Context, string, string, string, *int) (bool, error) {
	return false, nil
}

func (s *stubStore) InsertKnowledgeItem(context.Context, *models.KnowledgeItem) error {
	return nil
}

func (s *stubStore) GetContactByEmail(context.Context, string) (*models.Contact, error) {
	return nil, nil
}

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, _ mailparse.Envelope, _ time.Time) (threads.Resolution, error) {
	return threads.Resolution{ThreadID: "t1", Created: true, Strategy: "create"}, nil
}

func newWebhookHandler(t *testing.T, store *stubStore) (echo.HandlerFunc, *events.Hub) {
	t.Helper()
	secret := "whsec_" + base64.StdEncoding.EncodeToString([]byte(testSigningKey))
	verifier, err := webhook.NewVerifier(secret, 5*time.Minute)
	require.NoError(t, err)

	hub := events.NewHub(8, zerolog.Nop())
	pipeline := ingest.New(store, stubResolver{}, nil, nil, nil, hub, 80, false, zerolog.Nop())
	return InboundWebhookHandler(verifier, pipeline, zerolog.Nop()), hub
}

// signPayload produces the provider's signature header for a payload.
func signPayload(msgID, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testSigningKey))
	fmt.Fprintf(mac, "%s.%s.", msgID, timestamp)
	mac.Write(payload)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedRequest(payload []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/inbound", strings.NewReader(string(payload)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	req.Header.Set(webhook.HeaderID, "msg_1")
	req.Header.Set(webhook.HeaderTimestamp, timestamp)
	req.Header.Set(webhook.HeaderSignature, signPayload("msg_1", timestamp, payload))
	return req
}

func inboundPayload(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal(models.InboundEvent{
		Type: models.EventTypeEmailReceived,
		Data: models.InboundEmail{
			From:    "alice@x.com",
			To:      []string{"bob@x.com"},
			Subject: "Hello",
			Text:    "Hi Bob",
			Headers: []models.InboundHeader{{Name: "Message-ID", Value: "<m1@x.com>"}},
		},
	})
	require.NoError(t, err)
	return payload
}

func TestInboundWebhookHandler_Success(t *testing.T) {
	store := &stubStore{}
	handler, hub := newWebhookHandler(t, store)
	client := hub.Subscribe()

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(signedRequest(inboundPayload(t)), rec)

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp models.WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Received)
	assert.Equal(t, "t1", resp.ThreadID)
	assert.NotEmpty(t, resp.EmailID)

	require.Len(t, store.insertedEmails, 1)
	assert.Equal(t, 1, store.threadUpdates)

	select {
	case event := <-client.C:
		assert.Equal(t, events.TypeNewEmail, event.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a new_email broadcast")
	}
}

func TestInboundWebhookHandler_InvalidSignature(t *testing.T) {
	store := &stubStore{}
	handler, _ := newWebhookHandler(t, store)

	payload := inboundPayload(t)
	req := signedRequest(payload)
	req.Header.Set(webhook.HeaderSignature, "v1,bm90LXZhbGlk")

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	// A rejected delivery must have no side effects.
	assert.Empty(t, store.insertedEmails)
}

func TestInboundWebhookHandler_MalformedPayload(t *testing.T) {
	handler, _ := newWebhookHandler(t, &stubStore{})

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(signedRequest([]byte("{not json")), rec)

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInboundWebhookHandler_IgnoresOtherEventTypes(t *testing.T) {
	store := &stubStore{}
	handler, _ := newWebhookHandler(t, store)

	payload, err := json.Marshal(models.InboundEvent{Type: "email.bounced"})
	require.NoError(t, err)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(signedRequest(payload), rec)

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp models.WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Received)
	assert.Empty(t, store.insertedEmails)
}

func TestInboundWebhookHandler_MissingEnvelopeFields(t *testing.T) {
	handler, _ := newWebhookHandler(t, &stubStore{})

	payload, err := json.Marshal(models.InboundEvent{
		Type: models.EventTypeEmailReceived,
		Data: models.InboundEmail{Subject: "no sender"},
	})
	require.NoError(t, err)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(signedRequest(payload), rec)

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
