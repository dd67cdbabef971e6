// Package ses delivers email through Amazon SES.
package ses

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/acme/outbound-survey/internal/config"
	"github.com/acme/outbound-survey/internal/email"
	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

// Sender sends via the SES v2 API.
type Sender struct {
	client   *sesv2.Client
	from     string
	fromName string
}

// NewSender constructs the SES sender from config.
func NewSender(ctx context.Context, cfg config.EmailConfig) (*Sender, error) {
	if cfg.From == "" {
		return nil, fmt.Errorf("%w: email from address is required", apperrors.ErrConfiguration)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", apperrors.ErrConfiguration, err)
	}

	return &Sender{
		client:   sesv2.NewFromConfig(awsCfg),
		from:     cfg.From,
		fromName: cfg.FromName,
	}, nil
}

// Send delivers one message and returns the SES message id.
func (s *Sender) Send(ctx context.Context, msg email.OutboundEmail) (string, error) {
	from := s.from
	if s.fromName != "" {
		from = fmt.Sprintf("%s <%s>", s.fromName, s.from)
	}

	body := &types.Body{}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTMLBody)}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(msg.TextBody)}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body:    body,
			},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("%w: ses send: %v", apperrors.ErrUnavailable, err)
	}
	return aws.ToString(out.MessageId), nil
}
