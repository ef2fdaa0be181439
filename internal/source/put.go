package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/stacdex/stacdex/internal/errors"
)

// Putter is the optional write capability a Source may offer. The index
// writer needs it for the manifest; the query path never writes.
type Putter interface {
	PutString(ctx context.Context, uri, body string) error
}

// PutString dispatches PutString to the matching source, failing when the
// scheme is read-only.
func (r *Registry) PutString(ctx context.Context, uri, body string) error {
	s, err := r.ForURI(uri)
	if err != nil {
		return err
	}
	p, ok := s.(Putter)
	if !ok {
		return errors.Newf(errors.KindSourceUnavailable, "source for %s is read-only", uri)
	}
	return p.PutString(ctx, uri, body)
}

// PutString writes body to a local file, creating parent directories.
func (l *LocalSource) PutString(ctx context.Context, uri, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := localPath(uri)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewSourceUnavailable(uri, err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return errors.NewSourceUnavailable(uri, err)
	}
	return nil
}

// PutString writes body to an S3 object.
func (s *S3Source) PutString(ctx context.Context, uri, body string) error {
	bucket, key, err := splitS3URI(uri)
	if err != nil {
		return errors.NewSourceUnavailable(uri, err)
	}
	client, err := s.client(ctx, bucket)
	if err != nil {
		return errors.NewSourceUnavailable(uri, err)
	}
	return s.retryWithBackoff(ctx, func() error {
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   strings.NewReader(body),
		})
		return err
	})
}
