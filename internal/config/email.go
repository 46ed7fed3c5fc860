package config

import (
	"context"
	"fmt"

	"OpportunityFinder/pkg/logger"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// EmailSender delivers a single HTML email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, html string) error
}

// NewEmailSender picks SMTP when SMTP_HOST is set, then Resend when RESEND_API_KEY is set.
// With neither configured, mail is logged and dropped.
func NewEmailSender(cfg *Config) EmailSender {
	switch {
	case cfg.SMTPHost != "":
		logger.L().Info("Email delivery via SMTP", zap.String("host", cfg.SMTPHost), zap.Int("port", cfg.SMTPPort))
		return NewSMTPSender(cfg)
	case cfg.ResendAPIKey != "":
		logger.L().Info("Email delivery via Resend")
		return NewResendSender(resend.NewClient(cfg.ResendAPIKey), cfg.FromEmail)
	default:
		logger.L().Warn("No email provider configured, emails will be dropped")
		return NoopSender{}
	}
}

type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(client *resend.Client, from string) *ResendSender {
	return &ResendSender{client: client, from: from}
}

func (s *ResendSender) SendEmail(ctx context.Context, to, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sent, err := s.client.Emails.Send(&resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    html,
	})
	if err != nil {
		return fmt.Errorf("failed to send email via resend: %w", err)
	}
	logger.L().Debug("Email sent", zap.String("to", to), zap.String("id", sent.Id))
	return nil
}

type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(cfg *Config) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword),
		from:   cfg.FromEmail,
	}
}

func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", html)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email via smtp: %w", err)
	}
	logger.L().Debug("Email sent", zap.String("to", to))
	return nil
}

type NoopSender struct{}

func (NoopSender) SendEmail(_ context.Context, to, subject, _ string) error {
	logger.L().Debug("Email dropped, no provider configured", zap.String("to", to), zap.String("subject", subject))
	return nil
}
