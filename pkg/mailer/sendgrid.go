package mailer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

type sendFunc func(ctx context.Context, msg *sgmail.SGMailV3) (*rest.Response, error)

// SendGridMailer delivers mail through the SendGrid v3 API.
type SendGridMailer struct {
	from *sgmail.Email
	send sendFunc
}

// NewSendGridMailer builds a mailer authenticated with apiKey.
func NewSendGridMailer(apiKey, fromName, fromEmail string) *SendGridMailer {
	client := sendgrid.NewSendClient(apiKey)
	return &SendGridMailer{
		from: sgmail.NewEmail(fromName, fromEmail),
		send: client.SendWithContext,
	}
}

// SendCredentials implements Mailer.
func (m *SendGridMailer) SendCredentials(ctx context.Context, creds Credentials) error {
	body, err := renderCredentials(creds)
	if err != nil {
		return err
	}
	msg := sgmail.NewSingleEmail(m.from, credentialsSubject, sgmail.NewEmail(creds.Name, creds.Email), body, "")
	res, err := m.send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid send: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}
