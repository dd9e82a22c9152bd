package provider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pinpointsmsvoicev2"
	"github.com/aws/aws-sdk-go-v2/service/pinpointsmsvoicev2/types"
)

type pinpointAPI interface {
	SendTextMessage(ctx context.Context, in *pinpointsmsvoicev2.SendTextMessageInput, optFns ...func(*pinpointsmsvoicev2.Options)) (*pinpointsmsvoicev2.SendTextMessageOutput, error)
}

// Pinpoint sends SMS through AWS End User Messaging (Pinpoint SMS v2).
type Pinpoint struct {
	client           pinpointAPI
	poolID           string
	configurationSet string
}

func NewPinpoint(awsCfg aws.Config, poolID, configurationSet string) *Pinpoint {
	return &Pinpoint{client: pinpointsmsvoicev2.NewFromConfig(awsCfg), poolID: poolID, configurationSet: configurationSet}
}

func (p *Pinpoint) Name() string {
	return "pinpoint"
}

func (p *Pinpoint) Send(ctx context.Context, recipient string, content Content) (string, error) {
	in := &pinpointsmsvoicev2.SendTextMessageInput{
		DestinationPhoneNumber: aws.String(recipient),
		MessageBody:            aws.String(content.Body),
		MessageType:            types.MessageTypeTransactional,
	}
	if p.poolID != "" {
		in.OriginationIdentity = aws.String(p.poolID)
	}
	if p.configurationSet != "" {
		in.ConfigurationSetName = aws.String(p.configurationSet)
	}

	out, err := p.client.SendTextMessage(ctx, in)
	if err != nil {
		return "", fmt.Errorf("pinpoint send text message: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
