// Package s3 implements storage.ObjectStore on AWS S3.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hughy603/aws-entityresolution/internal/storage"
)

// Store is an ObjectStore bound to one bucket.
type Store struct {
	client *awss3.Client
	bucket string
}

// New wraps an already-configured S3 client. The bucket is fixed per Store;
// the pipeline never crosses buckets within a run.
func New(client *awss3.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// List performs a delimiter-grouped ListObjectsV2 call and paginates until the
// listing is complete.
func (s *Store) List(ctx context.Context, prefix, delimiter string) (storage.Listing, error) {
	var out storage.Listing

	input := &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	if delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}

	p := awss3.NewListObjectsV2Paginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return storage.Listing{}, fmt.Errorf("s3 list %s: %w", prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			out.Prefixes = append(out.Prefixes, aws.ToString(cp.Prefix))
		}
		for _, obj := range page.Contents {
			out.Files = append(out.Files, aws.ToString(obj.Key))
		}
	}

	return out, nil
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", key, err)
	}
	return data, nil
}

func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

func (s *Store) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

var _ storage.ObjectStore = (*Store)(nil)
