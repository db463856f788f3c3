package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailDirectory resolves a user id to a deliverable address. The directory
// platform owns account contact data; sentinel only reads it.
type EmailDirectory interface {
	EmailForUser(ctx context.Context, userID string) (string, error)
}

// NotificationService delivers security emails. Both the SES and the noop
// implementations satisfy it.
type NotificationService interface {
	NotifyAccountLocked(ctx context.Context, userID string, lockedUntil time.Time) error
	SendUnlockCode(ctx context.Context, userID, code string, expiresAt time.Time) error
	NotifySecurityTeam(ctx context.Context, subject, body string) error
}

// AWSSESNotificationService delivers security notifications using AWS SES
type AWSSESNotificationService struct {
	sesClient    *ses.Client
	fromAddress  string
	securityTeam string
	directory    EmailDirectory
	logger       *slog.Logger
}

// NewAWSSESNotificationService creates a new AWS SES notification service
func NewAWSSESNotificationService(region, fromAddress, securityTeam string, directory EmailDirectory, logger *slog.Logger) (*AWSSESNotificationService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESNotificationService{
		sesClient:    ses.NewFromConfig(cfg),
		fromAddress:  fromAddress,
		securityTeam: securityTeam,
		directory:    directory,
		logger:       logger,
	}, nil
}

// NotifyAccountLocked tells the account owner their account was locked
func (s *AWSSESNotificationService) NotifyAccountLocked(ctx context.Context, userID string, lockedUntil time.Time) error {
	email, err := s.directory.EmailForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve user email: %w", err)
	}

	textBody := fmt.Sprintf(`Your account has been temporarily locked

We detected repeated failed sign-in attempts on your account and locked it as a precaution.

The lock lifts automatically at %s. If this was you, simply wait and try again. If you did not attempt to sign in, we recommend resetting your password once the lock lifts.

This is an automated security message. Please do not reply to this email.
`, lockedUntil.UTC().Format(time.RFC1123))

	return s.send(ctx, email, "Your account has been temporarily locked", textBody)
}

// SendUnlockCode delivers a verification unlock code to the account owner
func (s *AWSSESNotificationService) SendUnlockCode(ctx context.Context, userID, code string, expiresAt time.Time) error {
	email, err := s.directory.EmailForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve user email: %w", err)
	}

	textBody := fmt.Sprintf(`Account unlock code

Use this code to unlock your account:

    %s

The code expires at %s and can be used once.

If you did not request an unlock, ignore this email; your account stays locked.
`, code, expiresAt.UTC().Format(time.RFC1123))

	return s.send(ctx, email, "Your account unlock code", textBody)
}

// NotifySecurityTeam escalates to the security-team address
func (s *AWSSESNotificationService) NotifySecurityTeam(ctx context.Context, subject, body string) error {
	if s.securityTeam == "" {
		s.logger.Warn("security team address not configured, dropping notification",
			slog.String("subject", subject))
		return nil
	}
	return s.send(ctx, s.securityTeam, subject, body)
}

func (s *AWSSESNotificationService) send(ctx context.Context, to, subject, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send notification via SES",
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("notification sent",
		slog.String("subject", subject),
		slog.String("message_id", *result.MessageId))

	return nil
}

// NoopNotificationService drops every notification. Used when email delivery
// is disabled by configuration.
type NoopNotificationService struct {
	logger *slog.Logger
}

// NewNoopNotificationService creates a notifier that only logs
func NewNoopNotificationService(logger *slog.Logger) *NoopNotificationService {
	return &NoopNotificationService{logger: logger}
}

func (s *NoopNotificationService) NotifyAccountLocked(ctx context.Context, userID string, lockedUntil time.Time) error {
	s.logger.Info("email disabled, skipping lockout notification", slog.String("user_id", userID))
	return nil
}

func (s *NoopNotificationService) SendUnlockCode(ctx context.Context, userID, code string, expiresAt time.Time) error {
	s.logger.Info("email disabled, skipping unlock code delivery", slog.String("user_id", userID))
	return nil
}

func (s *NoopNotificationService) NotifySecurityTeam(ctx context.Context, subject, body string) error {
	s.logger.Info("email disabled, skipping security team notification", slog.String("subject", subject))
	return nil
}
