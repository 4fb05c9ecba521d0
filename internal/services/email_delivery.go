package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESDelivery delivers one-time codes by email using AWS SES
type SESDelivery struct {
	sesClient   *ses.Client
	fromAddress string
	vault       *codeVault
	logger      *slog.Logger
}

// NewSESDelivery creates a SES-backed delivery channel
func NewSESDelivery(region, fromAddress string, logger *slog.Logger) (*SESDelivery, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESDelivery{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		vault:       newCodeVault(),
		logger:      logger,
	}, nil
}

// Send issues a code, emails it to destination and returns the delivery id
func (d *SESDelivery) Send(ctx context.Context, destination string) (string, error) {
	deliveryID, code, err := d.vault.issue()
	if err != nil {
		return "", err
	}

	textBody := fmt.Sprintf(`Your sign-in verification code is:

    %s

The code expires in 5 minutes. If you did not request it, ignore this message
and consider changing your password.
`, code)

	input := &ses.SendEmailInput{
		Source: aws.String(d.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{destination},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Your verification code"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	if _, err := d.sesClient.SendEmail(ctx, input); err != nil {
		return "", fmt.Errorf("failed to send verification email: %w", err)
	}

	d.logger.Info("verification code sent",
		slog.String("delivery_id", deliveryID))

	return deliveryID, nil
}

// Verify checks a response against the issued code
func (d *SESDelivery) Verify(ctx context.Context, deliveryID, code string) (bool, error) {
	return d.vault.check(deliveryID, code), nil
}
