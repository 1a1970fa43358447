// Package s3backup implements the Blob data model's optional
// "external-backup" attribute (spec.md §3): after a blob lands in the
// local content-addressed store, it can optionally be mirrored to an S3
// bucket for off-site durability. Grounded on SharedCode/sop's
// red_s3/s3.S3Bucket (manager.Uploader usage) and in_red_cs3/s3.blobStore.
package s3backup

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vm-wylbur/ntt/internal/nthash"
)

const largeObjectMinSize = 10 * 1024 * 1024

// Uploader mirrors blob bytes into an S3 bucket, keyed by content hash.
type Uploader interface {
	Upload(ctx context.Context, hash nthash.Hash, data []byte) error
}

type uploader struct {
	client *s3.Client
	bucket string
}

// New constructs an Uploader against bucket using the host's default AWS
// SDK configuration (environment/role credentials), exactly the way
// red_s3/s3.NewBucketAsStore loads its client.
func New(ctx context.Context, bucket string) (Uploader, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3backup: load AWS config: %w", err)
	}
	return &uploader{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (u *uploader) Upload(ctx context.Context, hash nthash.Hash, data []byte) error {
	key := hash.String()
	if len(data) >= largeObjectMinSize {
		up := manager.NewUploader(u.client, func(o *manager.Uploader) {
			o.PartSize = largeObjectMinSize
		})
		_, err := up.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(u.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return fmt.Errorf("s3backup: multipart upload %s: %w", key, err)
		}
		return nil
	}
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3backup: put %s: %w", key, err)
	}
	return nil
}
