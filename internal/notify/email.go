// Package notify delivers the emails the account core triggers:
// address verification, password reset, and contact-form forwarding.
package notify

import (
	"context"
	"fmt"
	"strings"

	"log/slog"

	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	FromEmail string
	// ContactEmail receives contact-form submissions.
	ContactEmail string
	// WebBaseURL is the site the verification links point at.
	WebBaseURL string
}

type ContactMessage struct {
	Name    string
	Email   string
	Subject string
	Comment string
}

type EmailNotifier struct {
	cfg    SMTPConfig
	logger *slog.Logger
	send   func(m *gomail.Message) error
}

func NewEmailNotifier(cfg SMTPConfig, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{cfg: cfg, logger: logger}
	n.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
		return d.DialAndSend(m)
	}
	return n
}

func (n *EmailNotifier) SendEmailVerification(ctx context.Context, email, token string) error {
	body := fmt.Sprintf(
		"Thanks for registering.\n\nVisit %s/user/verification?token=%s to verify your account.\n\nIf you did not register, ignore this email.\n",
		n.cfg.WebBaseURL, token)
	return n.deliver(email, "Welcome! Please verify your account", body)
}

func (n *EmailNotifier) SendPasswordReset(ctx context.Context, email, token string) error {
	body := fmt.Sprintf(
		"A password reset was requested for your account.\n\nVisit %s/user/password-reset?token=%s to choose a new password.\n\nIf you did not request this, ignore this email.\n",
		n.cfg.WebBaseURL, token)
	return n.deliver(email, "Password reset requested", body)
}

func (n *EmailNotifier) SendContact(ctx context.Context, msg ContactMessage) error {
	body := fmt.Sprintf("From: %s <%s>\n\n%s\n", msg.Name, msg.Email, msg.Comment)
	return n.deliver(n.cfg.ContactEmail, "[Contact] "+msg.Subject, body)
}

func (n *EmailNotifier) deliver(to, subject, body string) error {
	if n.cfg.Host == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("smtp config missing, skipping email", "subject", subject)
		return nil
	}
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("empty recipient")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := n.send(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("email sent", slog.String("to", to), slog.String("subject", subject))
	return nil
}
