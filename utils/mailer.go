package utils

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Email is one outgoing message handed to a Transport.
type Email struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Transport delivers campaign email. Implementations provide at-least-once
// semantics: the caller retries on error, so duplicates are possible when a
// crash lands between delivery and state commit. Send must honor ctx so a
// hung relay cannot stall the caller past its deadline.
type Transport interface {
	Send(ctx context.Context, email Email) (messageID string, err error)
}

// SMTPTransport sends mail through a configured SMTP relay.
type SMTPTransport struct {
	dialer    *gomail.Dialer
	fromEmail string
	fromName  string
}

func NewSMTPTransport(host string, port int, username, password, fromEmail, fromName string) *SMTPTransport {
	return &SMTPTransport{
		dialer:    gomail.NewDialer(host, port, username, password),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (t *SMTPTransport) Send(ctx context.Context, email Email) (string, error) {
	from := email.From
	if from == "" {
		from = fmt.Sprintf("%s <%s>", t.fromName, t.fromEmail)
	}

	messageID := fmt.Sprintf("<%s@outreachly>", uuid.New().String())

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", email.To)
	m.SetHeader("Subject", email.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/html", email.Body)

	// gomail has no context support, so the dial-and-send runs in its own
	// goroutine and the deadline is enforced here.
	errCh := make(chan error, 1)
	go func() {
		errCh <- t.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("smtp send aborted: %w", ctx.Err())
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("smtp send failed: %w", err)
		}
	}
	return messageID, nil
}

// ConsoleTransport logs mail instead of sending it. Used in development
// when no SMTP relay is configured.
type ConsoleTransport struct{}

func NewConsoleTransport() *ConsoleTransport {
	return &ConsoleTransport{}
}

func (t *ConsoleTransport) Send(ctx context.Context, email Email) (string, error) {
	logrus.WithFields(logrus.Fields{
		"to":      email.To,
		"subject": email.Subject,
	}).Info("console transport: email logged, not sent")
	return uuid.New().String(), nil
}
