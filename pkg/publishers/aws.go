package publishers

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// loadAWSConfig resolves AWS settings for a publisher. Static keys, when
// configured, take precedence over the default credential chain.
func loadAWSConfig(ctx context.Context, c AWSConnection) (aws.Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	opts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(c.Region)}
	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken),
		))
	}

	cfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

func endpointOrNil(endpoint string) *string {
	if endpoint == "" {
		return nil
	}
	return aws.String(endpoint)
}
