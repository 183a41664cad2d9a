// Package mailer delivers account credential e-mails.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
)

// Credentials describes a freshly provisioned account.
type Credentials struct {
	Email    string
	Name     string
	Role     string
	Password string
	LoginURL string
}

// Mailer sends credential notifications.
type Mailer interface {
	SendCredentials(ctx context.Context, creds Credentials) error
}

const credentialsSubject = "Your school account"

var credentialsTemplate = template.Must(template.New("credentials").Parse(`Hello {{.Name}},

An account with the role {{.Role}} has been created for you.

Email: {{.Email}}
Password: {{.Password}}

Sign in at {{.LoginURL}} and change this password after your first login.
`))

func renderCredentials(creds Credentials) (string, error) {
	buf := &bytes.Buffer{}
	if err := credentialsTemplate.Execute(buf, creds); err != nil {
		return "", fmt.Errorf("render credentials mail: %w", err)
	}
	return buf.String(), nil
}
