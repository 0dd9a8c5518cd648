package publishers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// sqsClient defines the minimal subset of the SQS client used by sqsPublisher.
type sqsClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// sqsPublisher implements the Publisher interface for AWS SQS.
type sqsPublisher struct {
	id       string
	queueURL string
	client   sqsClient
	log      Logger
}

// newSQSPublisher creates a new SQS publisher with the given configuration.
func newSQSPublisher(ctx context.Context, cfg PublisherConfig, log Logger) (Publisher, error) {
	if cfg.SQS == nil {
		return nil, fmt.Errorf("publisher %q missing sqs configuration", cfg.ID)
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.SQS.AWSConnection)
	if err != nil {
		return nil, err
	}

	endpoint := endpointOrNil(cfg.SQS.Endpoint)
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})

	return &sqsPublisher{
		id:       cfg.ID,
		queueURL: cfg.SQS.QueueURL,
		client:   client,
		log:      ensureLogger(log),
	}, nil
}

func (s *sqsPublisher) ID() string   { return s.id }
func (s *sqsPublisher) Type() string { return TypeSQS }

// Publish sends the event to the configured SQS queue.
func (s *sqsPublisher) Publish(ctx context.Context, evt Event) error {
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

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(s.queueURL),
		MessageBody:       aws.String(string(payload)),
		MessageAttributes: attrs,
	}

	if _, err := s.client.SendMessage(ctx, input); err != nil {
		s.log.ErrorObj("sqs publisher send failed", "publisher_sqs_error", map[string]any{
			"publisher_id": s.id,
			"error":        err.Error(),
		})
		return fmt.Errorf("send message to sqs: %w", err)
	}
	s.log.DebugObj("sqs publisher delivered event", "publisher_sqs_delivery", map[string]any{
		"publisher_id": s.id,
		"item_id":      evt.ItemID,
	})
	return nil
}
