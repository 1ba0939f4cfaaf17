// Package webhook verifies inbound delivery signatures before any
// processing happens. A delivery that fails verification is rejected
// outright and leaves no side effects.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Signature header names used by the upstream provider.
const (
	HeaderID        = "webhook-id"
	HeaderTimestamp = "webhook-timestamp"
	HeaderSignature = "webhook-signature"
)

// secretPrefix marks a base64-encoded signing secret.
const secretPrefix = "whsec_"

// Verifier checks provider webhook signatures. The scheme is
// HMAC-SHA256 over "id.timestamp.payload", base64-encoded, delivered as
// a space-separated list of "v1,<sig>" entries.
type Verifier struct {
	key       []byte
	tolerance time.Duration
}

// NewVerifier creates a verifier from the configured signing secret.
// Secrets prefixed with "whsec_" are base64-decoded; anything else is
// used as raw key bytes.
func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook signing secret not configured")
	}

	key := []byte(secret)
	if strings.HasPrefix(secret, secretPrefix) {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
		if err != nil {
			return nil, fmt.Errorf("invalid webhook signing secret: %w", err)
		}
		key = decoded
	}

	return &Verifier{key: key, tolerance: tolerance}, nil
}

// Verify checks the three signature headers against the raw request body.
// A missing header is a rejection, never a skip.
func (v *Verifier) Verify(payload []byte, msgID, timestamp, signatures string, now time.Time) error {
	if msgID == "" || timestamp == "" || signatures == "" {
		return fmt.Errorf("missing signature headers")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid signature timestamp: %w", err)
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > v.tolerance || age < -v.tolerance {
		return fmt.Errorf("signature timestamp outside tolerance window")
	}

	expected := v.sign(msgID, timestamp, payload)

	// The header may carry several versioned signatures; any valid v1
	// entry accepts the delivery.
	for _, entry := range strings.Fields(signatures) {
		version, sig, found := strings.Cut(entry, ",")
		if !found || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}

	return fmt.Errorf("no matching signature")
}

// sign computes the base64 HMAC-SHA256 signature for a delivery.
func (v *Verifier) sign(msgID, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(msgID))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
