package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Options configures an S3Backend.
type S3Options struct {
	Bucket       string
	Region       string
	Endpoint     string // custom endpoint for MinIO and other S3-compatible services
	AccessKey    string
	SecretKey    string
	PublicURL    string // CDN or custom domain serving the bucket
	UsePathStyle bool
	PresignTTL   time.Duration
}

// S3API is the subset of the S3 client used by S3Backend.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Backend stores objects under <kind>/ in one bucket.
type S3Backend struct {
	client  S3API
	presign *s3.PresignClient
	opts    S3Options
	kind    Kind
}

// NewS3Backend builds a client from static credentials when given, or the
// default AWS credential chain otherwise.
func NewS3Backend(ctx context.Context, opts S3Options, kind Kind) (*S3Backend, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = time.Hour
	}

	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return &S3Backend{
		client:  client,
		presign: s3.NewPresignClient(client),
		opts:    opts,
		kind:    kind,
	}, nil
}

func (b *S3Backend) key(name string) (string, string, error) {
	cleaned, err := cleanName(name)
	if err != nil {
		return "", "", err
	}
	return cleaned, path.Join(string(b.kind), cleaned), nil
}

func (b *S3Backend) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	cleaned, _, err := b.key(name)
	if err != nil {
		return "", err
	}
	if !b.kind.Overwrite() {
		if cleaned, err = availableName(ctx, b, cleaned); err != nil {
			return "", err
		}
	}
	_, key, _ := b.key(cleaned)

	// The SDK needs a seekable body to sign plain-HTTP uploads (MinIO in
	// development), so uploads are buffered. Avatars are capped at 5 MB.
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(cleaned)),
	}
	if b.kind.Public() {
		input.ACL = types.ObjectCannedACLPublicRead
	} else {
		input.ACL = types.ObjectCannedACLPrivate
	}
	if b.kind == KindStatic {
		input.CacheControl = aws.String("public, max-age=31536000")
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return cleaned, nil
}

func (b *S3Backend) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	_, key, err := b.key(name)
	if err != nil {
		return nil, err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return out.Body, nil
}

func (b *S3Backend) Delete(ctx context.Context, name string) error {
	_, key, err := b.key(name)
	if err != nil {
		return err
	}
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (b *S3Backend) head(ctx context.Context, name string) (*s3.HeadObjectOutput, error) {
	_, key, err := b.key(name)
	if err != nil {
		return nil, err
	}
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("head %s: %w", key, err)
	}
	return out, nil
}

func (b *S3Backend) Exists(ctx context.Context, name string) (bool, error) {
	_, err := b.head(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (b *S3Backend) Size(ctx context.Context, name string) (int64, error) {
	out, err := b.head(ctx, name)
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}

// URL returns a presigned GET URL for private files and a public URL
// otherwise, preferring the configured custom domain.
func (b *S3Backend) URL(ctx context.Context, name string) (string, error) {
	_, key, err := b.key(name)
	if err != nil {
		return "", err
	}

	if !b.kind.Public() {
		if b.presign == nil {
			return "", errors.New("presigning is not configured")
		}
		req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.opts.Bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(b.opts.PresignTTL))
		if err != nil {
			return "", fmt.Errorf("presign %s: %w", key, err)
		}
		return req.URL, nil
	}

	return b.publicURL(key), nil
}

func (b *S3Backend) publicURL(key string) string {
	escaped := escapeKey(key)
	switch {
	case b.opts.PublicURL != "":
		base := b.opts.PublicURL
		if !strings.Contains(base, "://") {
			base = "https://" + base
		}
		return strings.TrimRight(base, "/") + "/" + escaped
	case b.opts.Endpoint != "":
		base := strings.TrimRight(b.opts.Endpoint, "/")
		if b.opts.UsePathStyle {
			return base + "/" + b.opts.Bucket + "/" + escaped
		}
		if u, err := url.Parse(base); err == nil && u.Host != "" {
			u.Host = b.opts.Bucket + "." + u.Host
			return strings.TrimRight(u.String(), "/") + "/" + escaped
		}
		return base + "/" + b.opts.Bucket + "/" + escaped
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.opts.Bucket, b.opts.Region, escaped)
	}
}

// Walk lists every object under the kind prefix.
func (b *S3Backend) Walk(ctx context.Context, fn func(name string) error) error {
	prefix := string(b.kind) + "/"
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.opts.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if err := fn(strings.TrimPrefix(aws.ToString(obj.Key), prefix)); err != nil {
				return err
			}
		}
	}
	return nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
