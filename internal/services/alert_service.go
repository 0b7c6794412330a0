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

// AWSSESAlertService emails the security inbox when an account is newly
// locked, using AWS SES.
type AWSSESAlertService struct {
	sesClient     *ses.Client
	fromAddress   string
	securityInbox string
	logger        *slog.Logger
}

// NewAWSSESAlertService creates a new AWS SES alert service
func NewAWSSESAlertService(region, fromAddress, securityInbox string, logger *slog.Logger) (*AWSSESAlertService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESAlertService{
		sesClient:     ses.NewFromConfig(cfg),
		fromAddress:   fromAddress,
		securityInbox: securityInbox,
		logger:        logger,
	}, nil
}

// SendLockAlert notifies the security inbox that an account was locked.
func (s *AWSSESAlertService) SendLockAlert(ctx context.Context, subject, email string, failureCount int) error {
	lockedAt := time.Now().UTC().Format(time.RFC3339)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8d7da; padding: 20px; text-align: center; border-radius: 4px; }
        .content { padding: 20px 0; }
        .detail { background-color: #f8f9fa; padding: 10px; border-left: 4px solid #dc3545; margin: 10px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Account Locked</h1>
        </div>
        <div class="content">
            <p>An account was automatically locked after repeated authentication failures.</p>
            <div class="detail">
                <p><strong>Subject:</strong> %s<br>
                <strong>Email:</strong> %s<br>
                <strong>Failures in window:</strong> %d<br>
                <strong>Locked at:</strong> %s</p>
            </div>
            <p>The lock was mirrored to the identity provider. Unlocking requires an explicit administrative action.</p>
        </div>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, subject, email, failureCount, lockedAt)

	textBody := fmt.Sprintf(`Account Locked

An account was automatically locked after repeated authentication failures.

Subject: %s
Email: %s
Failures in window: %d
Locked at: %s

The lock was mirrored to the identity provider. Unlocking requires an explicit administrative action.

This is an automated message. Please do not reply to this email.
`, subject, email, failureCount, lockedAt)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{s.securityInbox},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(fmt.Sprintf("Account locked: %s", subject)),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	if _, err := s.sesClient.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send lock alert email: %w", err)
	}

	s.logger.Info("lock alert sent",
		slog.String("subject", subject),
		slog.String("inbox", s.securityInbox))

	return nil
}
