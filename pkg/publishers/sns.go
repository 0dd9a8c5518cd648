package publishers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// snsClient defines the subset of the SNS client used by snsPublisher.
type snsClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// snsPublisher implements the Publisher interface for AWS SNS topics.
type snsPublisher struct {
	id       string
	topicARN string
	client   snsClient
	log      Logger
}

func newSNSPublisher(ctx context.Context, cfg PublisherConfig, log Logger) (Publisher, error) {
	if cfg.SNS == nil {
		return nil, fmt.Errorf("publisher %q missing sns configuration", cfg.ID)
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.SNS.AWSConnection)
	if err != nil {
		return nil, err
	}

	endpoint := endpointOrNil(cfg.SNS.Endpoint)
	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})

	return &snsPublisher{
		id:       cfg.ID,
		topicARN: cfg.SNS.TopicARN,
		client:   client,
		log:      ensureLogger(log),
	}, nil
}

func (s *snsPublisher) ID() string   { return s.id }
func (s *snsPublisher) Type() string { return TypeSNS }

// Publish sends the event to the configured SNS topic.
func (s *snsPublisher) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	attrs := make(map[string]types.MessageAttributeValue)
	for k, v := range evt.attributes() {
		attrs[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(s.topicARN),
		Message:           aws.String(string(payload)),
		MessageAttributes: attrs,
	})
	if err != nil {
		s.log.ErrorObj("sns publisher send failed", "publisher_sns_error", map[string]any{
			"publisher_id": s.id,
			"error":        err.Error(),
		})
		return fmt.Errorf("publish to sns: %w", err)
	}
	s.log.DebugObj("sns publisher delivered event", "publisher_sns_delivery", map[string]any{
		"publisher_id": s.id,
		"message_id":   aws.ToString(out.MessageId),
	})
	return nil
}
