// Package mailer sends outbound replies via SendGrid. Transport is a
// black box here: the service hands the message off and records it;
// provider-side delivery guarantees are out of scope.
package mailer

import (
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Mailer sends outbound mail through SendGrid.
type Mailer struct {
	apiKey    string
	fromEmail string
	fromName  string
}

// New creates a mailer with the configured sender identity.
func New(apiKey, fromEmail string) *Mailer {
	return &Mailer{
		apiKey:    apiKey,
		fromEmail: fromEmail,
		fromName:  "Mailroom",
	}
}

// Send delivers a plain-text reply to the given recipients.
func (m *Mailer) Send(to []string, cc []string, subject, textBody string) error {
	if m.apiKey == "" {
		return fmt.Errorf("SendGrid API key not configured")
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	from := mail.NewEmail(m.fromName, m.fromEmail)
	first := mail.NewEmail("", to[0])
	message := mail.NewSingleEmail(from, subject, first, textBody, textBody)

	if len(message.Personalizations) > 0 {
		p := message.Personalizations[0]
		for _, addr := range to[1:] {
			p.AddTos(mail.NewEmail("", addr))
		}
		for _, addr := range cc {
			p.AddCCs(mail.NewEmail("", addr))
		}
	}

	client := sendgrid.NewSendClient(m.apiKey)
	response, err := client.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("SendGrid API error: status %d, body: %s", response.StatusCode, response.Body)
	}
	return nil
}
