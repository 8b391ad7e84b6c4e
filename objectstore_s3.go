package archivist

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config is the subset of connection settings archivist needs to
// reach a bucket; mirrors the shape of manifold's config.S3Config
// without carrying over its SSE/workspace-specific fields.
type S3Config struct {
	Bucket                string
	Prefix                string
	Region                string
	Endpoint              string
	AccessKey             string
	SecretKey             string
	UsePathStyle          bool
	TLSInsecureSkipVerify bool
}

// S3ObjectStore implements ObjectStore against AWS S3 or an
// S3-compatible service (MinIO), including version history for the
// rollback scenario. Adapted from
// intelligencedev-manifold/internal/objectstore/s3.go: same client
// construction, same not-found/access-denied error mapping, extended
// with ListObjectVersions/GetObject-by-VersionId since manifold's
// S3Store didn't need versioning and archivist's rollback tool does.
type S3ObjectStore struct {
	client *s3.Client
	bucket string
	prefix string
}

type s3Options struct {
	httpClient *http.Client
}

type S3Option func(*s3Options)

func WithS3HTTPClient(c *http.Client) S3Option {
	return func(o *s3Options) { o.httpClient = c }
}

func NewS3ObjectStore(ctx context.Context, cfg S3Config, opts ...S3Option) (*S3ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archivist: s3 bucket is required")
	}

	o := &s3Options{}
	for _, opt := range opts {
		opt(o)
	}

	awsOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	if cfg.TLSInsecureSkipVerify || o.httpClient != nil {
		httpClient := o.httpClient
		if httpClient == nil {
			httpClient = &http.Client{}
		}
		if cfg.TLSInsecureSkipVerify {
			httpClient = &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}}
		}
		awsOpts = append(awsOpts, awsconfig.WithHTTPClient(httpClient))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("archivist: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return &S3ObjectStore{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: strings.TrimSuffix(cfg.Prefix, "/"),
	}, nil
}

func (s *S3ObjectStore) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3ObjectStore) stripPrefix(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.prefix+"/")
}

func (s *S3ObjectStore) Read(ctx context.Context, path string) (*MemoryFile, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(path)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("archivist: s3 read: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("archivist: s3 read: %w", err)
	}
	return &MemoryFile{
		Path:      path,
		Content:   string(data),
		UpdatedAt: aws.ToTime(out.LastModified),
		Size:      len(data),
		VersionID: aws.ToString(out.VersionId),
	}, nil
}

func (s *S3ObjectStore) Write(ctx context.Context, path string, content string) (WriteResult, error) {
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.fullKey(path)),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return WriteResult{}, fmt.Errorf("archivist: s3 write: %w", err)
	}
	return WriteResult{VersionID: aws.ToString(out.VersionId)}, nil
}

func (s *S3ObjectStore) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(path)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil
		}
		return fmt.Errorf("archivist: s3 delete: %w", err)
	}
	return nil
}

func (s *S3ObjectStore) List(ctx context.Context, prefix string, recursive bool) ([]ObjectEntry, error) {
	fullPrefix := s.fullKey(prefix)
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	}
	if !recursive {
		input.Delimiter = aws.String("/")
	}

	var entries []ObjectEntry
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("archivist: s3 list: %w", err)
		}
		for _, obj := range page.Contents {
			entries = append(entries, ObjectEntry{
				Path:      s.stripPrefix(aws.ToString(obj.Key)),
				Size:      int(aws.ToInt64(obj.Size)),
				UpdatedAt: aws.ToTime(obj.LastModified),
			})
		}
		for _, p := range page.CommonPrefixes {
			entries = append(entries, ObjectEntry{Path: s.stripPrefix(aws.ToString(p.Prefix))})
		}
	}
	return entries, nil
}

func (s *S3ObjectStore) GetVersions(ctx context.Context, path string, limit int) ([]ObjectVersion, error) {
	input := &s3.ListObjectVersionsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.fullKey(path)),
	}
	if limit > 0 {
		input.MaxKeys = aws.Int32(int32(limit))
	}

	out, err := s.client.ListObjectVersions(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("archivist: s3 list versions: %w", err)
	}

	var versions []ObjectVersion
	for _, v := range out.Versions {
		if aws.ToString(v.Key) != s.fullKey(path) {
			continue
		}
		versions = append(versions, ObjectVersion{
			VersionID: aws.ToString(v.VersionId),
			Timestamp: aws.ToTime(v.LastModified),
			Size:      int(aws.ToInt64(v.Size)),
		})
		if limit > 0 && len(versions) >= limit {
			break
		}
	}
	return versions, nil
}

func (s *S3ObjectStore) GetVersion(ctx context.Context, path string, versionID string) (string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket:    aws.String(s.bucket),
		Key:       aws.String(s.fullKey(path)),
		VersionId: aws.String(versionID),
	})
	if err != nil {
		if isNotFoundError(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("archivist: s3 get version: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("archivist: s3 get version: %w", err)
	}
	return string(data), nil
}

func (s *S3ObjectStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("archivist: s3 ping: %w", err)
	}
	return nil
}

func isNotFoundError(err error) bool {
	var notFound *s3types.NotFound
	var noSuchKey *s3types.NoSuchKey
	var noSuchBucket *s3types.NoSuchBucket
	return errors.As(err, &notFound) ||
		errors.As(err, &noSuchKey) ||
		errors.As(err, &noSuchBucket) ||
		strings.Contains(err.Error(), "NotFound") ||
		strings.Contains(err.Error(), "NoSuchKey")
}
