package service

import (
	"context"
	"fmt"
	"html"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rs/zerolog"
)

// Mailer sends the account emails the auth flow needs.
type Mailer interface {
	IsEnabled() bool
	SendPasswordResetEmail(ctx context.Context, toEmail, toName, resetToken string) error
	SendWelcomeEmail(ctx context.Context, toEmail, toName string) error
}

type sesSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailService handles sending emails via Amazon SES
type EmailService struct {
	client     sesSender
	fromEmail  string
	fromName   string
	appBaseURL string
	enabled    bool
	log        zerolog.Logger
}

// EmailConfig configures the SES sender. An empty From disables sending.
type EmailConfig struct {
	Region     string
	From       string
	FromName   string
	AppBaseURL string
	Debug      bool
}

// NewEmailService creates a new email service
func NewEmailService(ctx context.Context, cfg EmailConfig, logger zerolog.Logger) (*EmailService, error) {
	log := logger.With().Str("component", "email").Logger()
	if cfg.Debug {
		log = log.Level(zerolog.DebugLevel)
	}

	if cfg.From == "" {
		log.Info().Msg("email service disabled: EMAIL_FROM not configured")
		return &EmailService{log: log, appBaseURL: cfg.AppBaseURL}, nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info().Str("from", cfg.From).Str("region", cfg.Region).Msg("email service enabled")
	return newEmailServiceWithClient(sesv2.NewFromConfig(awsCfg), cfg, log), nil
}

func newEmailServiceWithClient(client sesSender, cfg EmailConfig, log zerolog.Logger) *EmailService {
	return &EmailService{
		client:     client,
		fromEmail:  cfg.From,
		fromName:   cfg.FromName,
		appBaseURL: cfg.AppBaseURL,
		enabled:    client != nil && cfg.From != "",
		log:        log,
	}
}

// IsEnabled returns whether the email service is enabled
func (s *EmailService) IsEnabled() bool {
	return s.enabled
}

// SendPasswordResetEmail sends a password reset email with a reset link
func (s *EmailService) SendPasswordResetEmail(ctx context.Context, toEmail, toName, resetToken string) error {
	if !s.enabled {
		s.log.Info().Str("to", toEmail).Msg("skipping password reset email (service disabled)")
		return nil
	}

	resetLink := fmt.Sprintf("%s/reset-password?token=%s", s.appBaseURL, url.QueryEscape(resetToken))
	name := html.EscapeString(toName)

	subject := "Reset your CareLog password"
	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
	<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
		<h1 style="color: #2563eb;">Password reset</h1>
		<p>Hi %s,</p>
		<p>We received a request to reset the password of your CareLog account.</p>
		<p><a href="%s" style="display: inline-block; padding: 12px 30px; background-color: #2563eb; color: white; text-decoration: none; border-radius: 5px;">Reset password</a></p>
		<p style="word-break: break-all; font-size: 12px; color: #666;">%s</p>
		<p><strong>This link expires in 1 hour.</strong> If you did not ask for it, ignore this email.</p>
	</div>
</body>
</html>
`, name, resetLink, resetLink)

	textBody := fmt.Sprintf(`Hi %s,

We received a request to reset the password of your CareLog account.

Reset it here:
%s

This link expires in 1 hour. If you did not ask for it, ignore this email.
`, toName, resetLink)

	return s.sendEmail(ctx, toEmail, subject, htmlBody, textBody)
}

// SendWelcomeEmail sends a welcome email to new users
func (s *EmailService) SendWelcomeEmail(ctx context.Context, toEmail, toName string) error {
	if !s.enabled {
		s.log.Debug().Str("to", toEmail).Msg("skipping welcome email (service disabled)")
		return nil
	}

	subject := "Welcome to CareLog"
	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
	<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
		<h1 style="color: #2563eb;">Welcome to CareLog</h1>
		<p>Hi %s,</p>
		<p>Your account is ready. Add the children you support, invite their care team and start logging daily observations.</p>
		<p><a href="%s/login">Sign in</a></p>
	</div>
</body>
</html>
`, html.EscapeString(toName), s.appBaseURL)

	textBody := fmt.Sprintf(`Hi %s,

Your account is ready. Add the children you support, invite their care team and start logging daily observations.

Sign in: %s/login
`, toName, s.appBaseURL)

	return s.sendEmail(ctx, toEmail, subject, htmlBody, textBody)
}

// sendEmail sends an email using Amazon SES
func (s *EmailService) sendEmail(ctx context.Context, toEmail, subject, htmlBody, textBody string) error {
	fromAddress := s.fromEmail
	if s.fromName != "" {
		fromAddress = fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{toEmail},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(htmlBody),
						Charset: aws.String("UTF-8"),
					},
					Text: &types.Content{
						Data:    aws.String(textBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", toEmail, err)
	}

	ev := s.log.Info().Str("to", toEmail).Str("subject", subject)
	if result != nil && result.MessageId != nil {
		ev = ev.Str("message_id", *result.MessageId)
	}
	ev.Msg("email sent")
	return nil
}
