package provider

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/sgunadhya/oxidesk/internal/domain"
)

// SES delivers through Amazon SES v2 using raw content, preserving the
// threading headers verbatim.
type SES struct {
	client *sesv2.Client
}

// NewSES loads AWS credentials from the default chain.
func NewSES(ctx context.Context, region string) (*SES, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &SES{client: sesv2.NewFromConfig(cfg)}, nil
}

// NewSESFromClient wraps an existing client.
func NewSESFromClient(c *sesv2.Client) *SES {
	return &SES{client: c}
}

func (p *SES) Send(ctx context.Context, e *OutboundEmail) (string, error) {
	raw, _, err := Compose(e)
	if err != nil {
		return "", domain.WrapError(domain.KindFatal, err, "compose email")
	}
	out, err := p.client.SendEmail(ctx, &sesv2.SendEmailInput{
		Content: &sestypes.EmailContent{
			Raw: &sestypes.RawMessage{Data: raw},
		},
	})
	if err != nil {
		var bad *sestypes.BadRequestException
		var blocked *sestypes.AccountSuspendedException
		if errors.As(err, &bad) || errors.As(err, &blocked) {
			return "", domain.WrapError(domain.KindFatal, err, "ses rejected the message")
		}
		return "", domain.WrapError(domain.KindTransient, err, "ses send failed")
	}
	if out.MessageId == nil {
		return "", nil
	}
	return *out.MessageId, nil
}
