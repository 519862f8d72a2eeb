package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// AWSSecrets implements SecretFetcher on top of AWS Secrets Manager.
type AWSSecrets struct {
	client *secretsmanager.Client
}

// NewAWSSecrets wraps an already-configured Secrets Manager client.
func NewAWSSecrets(client *secretsmanager.Client) *AWSSecrets {
	return &AWSSecrets{client: client}
}

// GetSecret returns the SecretString for name.
//
// Errors:
//   - missing secret, auth failure etc. propagate from the service
//   - a secret with no SecretString (binary-only) is an error; the pipeline
//     stores the Snowflake password as a plain string secret
func (a *AWSSecrets) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("secretsmanager get %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secretsmanager get %s: secret has no string value", name)
	}
	return *out.SecretString, nil
}

var _ SecretFetcher = (*AWSSecrets)(nil)
