package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"

	"github.com/shuttlehq/shuttle/pkg/types"
)

const backendObjectStore = "object-store"

// Object metadata keys.
const (
	metaKeySHA256  = "sha256"
	metaKeyCreated = "created-at"
)

// S3Config configures the object-store backend.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for S3-compatible stores
	Prefix   string // optional key namespace
}

// S3Store keeps blob bytes in an S3-compatible object store. The SHA-256
// digest rides along as object metadata, so Metadata and FindByHash work
// without a side table.
type S3Store struct {
	client *s3.Client
	cfg    S3Config
}

// NewS3Store builds the object-store backend from ambient AWS configuration.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", ErrConfig)
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, cfg: cfg}, nil
}

func (s *S3Store) Backend() string { return backendObjectStore }

func (s *S3Store) key(id string) string {
	if s.cfg.Prefix == "" {
		return id
	}
	return path.Join(s.cfg.Prefix, id)
}

func (s *S3Store) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	return s.PutWithPrefix(ctx, "", data, contentType)
}

func (s *S3Store) PutWithPrefix(ctx context.Context, prefix string, data []byte, contentType string) (string, error) {
	id := ulid.Make().String()
	if prefix != "" {
		id = prefix + "-" + id
	}

	sum := sha256.Sum256(data)
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(id)),
		Body:   bytes.NewReader(data),
		Metadata: map[string]string{
			metaKeySHA256:  hex.EncodeToString(sum[:]),
			metaKeyCreated: time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to store blob in object store: %w", err)
	}
	return id, nil
}

func (s *S3Store) Get(ctx context.Context, id string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to fetch blob %s: %w", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", id, err)
	}
	return data, nil
}

func (s *S3Store) Size(ctx context.Context, id string) (int64, error) {
	meta, err := s.Metadata(ctx, id)
	if err != nil {
		return 0, err
	}
	return meta.Size, nil
}

func (s *S3Store) Delete(ctx context.Context, id string) error {
	if _, err := s.Metadata(ctx, id); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", id, err)
	}
	return nil
}

func (s *S3Store) Metadata(ctx context.Context, id string) (*types.BlobMeta, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to head blob %s: %w", id, err)
	}

	meta := &types.BlobMeta{
		ID:      id,
		Size:    aws.ToInt64(out.ContentLength),
		SHA256:  out.Metadata[metaKeySHA256],
		Backend: backendObjectStore,
	}
	if out.ContentType != nil {
		meta.ContentType = *out.ContentType
	}
	if raw, ok := out.Metadata[metaKeyCreated]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			meta.CreatedAt = ts
		}
	}
	return meta, nil
}

// FindByHash lists the namespace and heads objects until one matches. Linear,
// but the object-store backend is expected to sit behind the coordinator's
// embedded hash index in deployments that dedup heavily.
func (s *S3Store) FindByHash(ctx context.Context, sha256Hex string) (string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.cfg.Prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list blobs: %w", err)
		}
		for _, obj := range page.Contents {
			id := path.Base(aws.ToString(obj.Key))
			meta, err := s.Metadata(ctx, id)
			if err != nil {
				continue
			}
			if meta.SHA256 == sha256Hex {
				return id, nil
			}
		}
	}
	return "", nil
}

func (s *S3Store) BatchGetText(ctx context.Context, ids []string) (map[string]string, error) {
	return batchGetText(ctx, s, ids)
}

func isNotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	// HeadObject surfaces bare 404s without a modeled type.
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}
	return false
}
