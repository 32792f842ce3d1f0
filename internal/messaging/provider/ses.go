package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESSender sends mail through Amazon SES v2 with static credentials taken
// from the provider config.
type SESSender struct {
	logger *slog.Logger
	client *sesv2.Client
	region string
}

func NewSESSender(logger *slog.Logger, region, accessKey, secretKey string) *SESSender {
	client := sesv2.New(sesv2.Options{
		Region:      region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	})
	return &SESSender{
		logger: logger.With("provider", "ses"),
		client: client,
		region: region,
	}
}

func (s *SESSender) Name() string { return "ses" }

func (s *SESSender) Send(ctx context.Context, envelope Envelope) (*SendResult, error) {
	from := envelope.From.Email
	if envelope.From.Name != "" {
		from = fmt.Sprintf("%s <%s>", envelope.From.Name, envelope.From.Email)
	}

	to := make([]string, 0, len(envelope.To))
	for _, rcpt := range envelope.To {
		to = append(to, rcpt.Email)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: to},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(envelope.Subject)},
				Body:    &types.Body{Html: &types.Content{Data: aws.String(envelope.HTML)}},
			},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.ErrorContext(ctx, "SES submission failed", "region", s.region, "error", err, "internal_message_id", envelope.InternalMessageID)
		return nil, fmt.Errorf("SES API error: %v", err)
	}

	providerMsgID := aws.ToString(out.MessageId)
	s.logger.InfoContext(ctx, "Message submitted to SES", "provider_message_id", providerMsgID, "internal_message_id", envelope.InternalMessageID)
	return &SendResult{ProviderMessageID: providerMsgID, ProviderStatus: "SENT_SES"}, nil
}

// TestConnection fetches the SES account, validating credentials and region
// without sending mail.
func (s *SESSender) TestConnection(ctx context.Context) error {
	if _, err := s.client.GetAccount(ctx, &sesv2.GetAccountInput{}); err != nil {
		return fmt.Errorf("SES account check failed: %v", err)
	}
	return nil
}
