// internal/blob/store.go
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrObjectNotFound means the key does not exist in the bucket. The
// worker treats it as permanent: retrying never recreates a deleted
// upload.
var ErrObjectNotFound = errors.New("object not found")

const (
	// Processed assets are immutable once written; originals are short
	// lived and awaiting processing.
	cacheControlImmutable = "public, max-age=31536000, immutable"
	cacheControlShort     = "private, max-age=300"
)

// Config holds the bucket coordinates. Endpoint is optional and covers
// S3-compatible stores (R2, minio).
type Config struct {
	Bucket        string
	Region        string
	AccessKeyID   string
	SecretKey     string
	Endpoint      string
	PublicBaseURL string
}

// Stored is what callers get back from a write: the final key and its
// public URL projection.
type Stored struct {
	Key string
	URL string
}

// PutInput describes one payload write.
type PutInput struct {
	Data        []byte
	ContentType string
	Cacheable   bool
	Key         string
}

type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      Config
}

func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretKey, "",
		)),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		cfg:      cfg,
	}, nil
}

// Put writes the payload under key. Any transport failure is retryable
// from the caller's point of view.
func (s *Store) Put(ctx context.Context, in PutInput) (Stored, error) {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.cfg.Bucket),
		Key:          aws.String(in.Key),
		Body:         bytes.NewReader(in.Data),
		ContentType:  aws.String(in.ContentType),
		CacheControl: aws.String(CacheControl(in.Cacheable)),
	})
	if err != nil {
		return Stored{}, fmt.Errorf("store write %q: %w", in.Key, err)
	}
	return Stored{Key: in.Key, URL: s.PublicURL(in.Key)}, nil
}

// Get reads the payload stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("store read %q: %w", key, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("store read body %q: %w", key, err)
	}
	return buf.Bytes(), nil
}

// Delete removes the object under key. Best-effort only; callers wrap it
// in non-propagating cleanup attempts.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("store delete %q: %w", key, err)
	}
	return nil
}

// PublicURL projects a key onto its publicly served address.
func (s *Store) PublicURL(key string) string {
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + strings.TrimLeft(key, "/")
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

// CacheControl maps the cacheability flag onto a header value.
func CacheControl(cacheable bool) string {
	if cacheable {
		return cacheControlImmutable
	}
	return cacheControlShort
}

// SwapExt derives a destination key from a source key by replacing the
// extension. Image transforms change format ("a/b.jpg" -> "a/b.webp");
// document transforms keep the extension so the public reference never
// changes type.
func SwapExt(key, ext string) string {
	old := path.Ext(key)
	return key[:len(key)-len(old)] + ext
}
