package s3blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// multipartThreshold is the payload size above which uploads go through the
// multipart manager instead of a single PutObject.
const multipartThreshold = 8 * 1024 * 1024

// Archiver writes raw order payloads under a fixed key prefix.
type Archiver struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewArchiver creates an Archiver on the given client. prefix is prepended to
// every key, e.g. "raw-orders".
func NewArchiver(c *Client, prefix string) *Archiver {
	return &Archiver{
		client:   c.S3(),
		uploader: manager.NewUploader(c.S3()),
		bucket:   c.Bucket(),
		prefix:   prefix,
	}
}

// Archive stores one payload. Keys are deterministic, so re-archiving the
// same payload overwrites with identical content and stays idempotent.
func (a *Archiver) Archive(ctx context.Context, key string, payload []byte) error {
	full := key
	if a.prefix != "" {
		full = a.prefix + "/" + key
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(full),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	}

	if len(payload) > multipartThreshold {
		if _, err := a.uploader.Upload(ctx, input); err != nil {
			return fmt.Errorf("s3blob: multipart upload %s: %w", full, err)
		}
		return nil
	}
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", full, err)
	}
	return nil
}
