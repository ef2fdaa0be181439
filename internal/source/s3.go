package source

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/stacdex/stacdex/internal/errors"
)

// S3Config holds configuration for S3-compatible object storage.
type S3Config struct {
	// Region is the AWS region.
	Region string
	// Endpoint is an optional custom endpoint (for MinIO, LocalStack, etc.).
	Endpoint string
	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool
}

// S3Source reads STAC documents from S3-compatible object storage.
// Clients are cached per bucket and shared across goroutines.
type S3Source struct {
	cfg        S3Config
	mu         sync.Mutex
	clients    map[string]*s3.Client
	newClient  func(ctx context.Context, bucket string) (*s3.Client, error)
	maxRetries int
}

// NewS3Source creates an S3 source.
func NewS3Source(cfg S3Config) *S3Source {
	s := &S3Source{
		cfg:        cfg,
		clients:    make(map[string]*s3.Client),
		maxRetries: 3,
	}
	s.newClient = s.defaultNewClient
	return s
}

// NewS3SourceWithClient creates an S3 source that serves every bucket with
// the given pre-configured client. Used by tests.
func NewS3SourceWithClient(client *s3.Client) *S3Source {
	s := &S3Source{
		clients:    make(map[string]*s3.Client),
		maxRetries: 3,
	}
	s.newClient = func(context.Context, string) (*s3.Client, error) { return client, nil }
	return s
}

// CanHandle reports whether uri is an s3 URI.
func (s *S3Source) CanHandle(uri string) bool {
	return Scheme(uri) == "s3"
}

// splitS3URI splits s3://bucket/key into bucket and key.
func splitS3URI(uri string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	i := strings.Index(trimmed, "/")
	if i <= 0 {
		return "", "", fmt.Errorf("malformed s3 uri: %s", uri)
	}
	return trimmed[:i], trimmed[i+1:], nil
}

func (s *S3Source) defaultNewClient(ctx context.Context, bucket string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if s.cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(s.cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if s.cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(s.cfg.Endpoint)
		})
	}
	if s.cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// client returns the cached client for bucket, creating it on first use.
func (s *S3Source) client(ctx context.Context, bucket string) (*s3.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[bucket]; ok {
		return c, nil
	}
	c, err := s.newClient(ctx, bucket)
	if err != nil {
		return nil, err
	}
	s.clients[bucket] = c
	return c, nil
}

func isNoSuchKey(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return stderrors.As(err, &noSuchKey) || stderrors.As(err, &notFound)
}

func (s *S3Source) getObject(ctx context.Context, uri string) (*s3.GetObjectOutput, error) {
	bucket, key, err := splitS3URI(uri)
	if err != nil {
		return nil, errors.NewSourceUnavailable(uri, err)
	}
	client, err := s.client(ctx, bucket)
	if err != nil {
		return nil, errors.NewSourceUnavailable(uri, err)
	}

	var resp *s3.GetObjectOutput
	err = s.retryWithBackoff(ctx, func() error {
		var getErr error
		resp, getErr = client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if getErr != nil && isNoSuchKey(getErr) {
			return errors.NewUriNotFound(uri)
		}
		return getErr
	})
	if err != nil {
		if errors.IsKind(err, errors.KindUriNotFound) {
			return nil, err
		}
		return nil, errors.NewSourceUnavailable(uri, err)
	}
	return resp, nil
}

// GetAsString fetches the full object body at uri.
func (s *S3Source) GetAsString(ctx context.Context, uri string) (string, error) {
	resp, err := s.getObject(ctx, uri)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.NewSourceUnavailable(uri, err)
	}
	return string(data), nil
}

// GetToFile streams the object at uri into the local file at path.
func (s *S3Source) GetToFile(ctx context.Context, uri, path string) error {
	resp, err := s.getObject(ctx, uri)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewSourceUnavailable(uri, err)
	}
	dst, err := os.Create(path)
	if err != nil {
		return errors.NewSourceUnavailable(uri, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return errors.NewSourceUnavailable(uri, err)
	}
	return nil
}

// ListItems lists the object URIs directly under a prefix URI.
func (s *S3Source) ListItems(ctx context.Context, uri string, limit int) ([]string, []string, error) {
	bucket, prefix, err := splitS3URI(uri)
	if err != nil {
		return nil, nil, errors.NewSourceUnavailable(uri, err)
	}
	client, err := s.client(ctx, bucket)
	if err != nil {
		return nil, nil, errors.NewSourceUnavailable(uri, err)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var uris []string
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, nil, errors.NewSourceUnavailable(uri, err)
		}
		for _, obj := range page.Contents {
			if limit > 0 && len(uris) >= limit {
				return uris, nil, nil
			}
			uris = append(uris, "s3://"+bucket+"/"+aws.ToString(obj.Key))
		}
	}
	return uris, nil, nil
}

// LastModified stats the object at uri.
func (s *S3Source) LastModified(ctx context.Context, uri string) (time.Time, error) {
	bucket, key, err := splitS3URI(uri)
	if err != nil {
		return time.Time{}, errors.NewSourceUnavailable(uri, err)
	}
	client, err := s.client(ctx, bucket)
	if err != nil {
		return time.Time{}, errors.NewSourceUnavailable(uri, err)
	}

	resp, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return time.Time{}, errors.NewUriNotFound(uri)
		}
		return time.Time{}, errors.NewSourceUnavailable(uri, err)
	}
	return aws.ToTime(resp.LastModified), nil
}

// ListDirs lists the immediate child prefixes under a prefix URI.
func (s *S3Source) ListDirs(ctx context.Context, uri string) ([]string, error) {
	bucket, prefix, err := splitS3URI(uri)
	if err != nil {
		return nil, errors.NewSourceUnavailable(uri, err)
	}
	client, err := s.client(ctx, bucket)
	if err != nil {
		return nil, errors.NewSourceUnavailable(uri, err)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var dirs []string
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.NewSourceUnavailable(uri, err)
		}
		for _, cp := range page.CommonPrefixes {
			dirs = append(dirs, "s3://"+bucket+"/"+aws.ToString(cp.Prefix))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// DeletePrefix removes every object under a prefix URI.
func (s *S3Source) DeletePrefix(ctx context.Context, uri string) error {
	bucket, prefix, err := splitS3URI(uri)
	if err != nil {
		return errors.NewSourceUnavailable(uri, err)
	}
	client, err := s.client(ctx, bucket)
	if err != nil {
		return errors.NewSourceUnavailable(uri, err)
	}

	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return errors.NewSourceUnavailable(uri, err)
		}
		for _, obj := range page.Contents {
			_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return errors.NewSourceUnavailable(uri, err)
			}
		}
	}
	return nil
}

// retryWithBackoff executes the operation with exponential backoff retry.
func (s *S3Source) retryWithBackoff(ctx context.Context, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if errors.IsKind(lastErr, errors.KindUriNotFound) {
			return lastErr
		}

		if attempt < s.maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}
