package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// projectTag is the URL-encoded S3 object tagging string for cost allocation.
const projectTag = "Project=galeria-video-quality-tool"

// S3Store implements ObjectStore against AWS S3.
type S3Store struct {
	client *s3.Client
}

// Compile-time interface check.
var _ ObjectStore = (*S3Store)(nil)

// NewS3Store creates an S3Store using the given client.
// The client should be initialized from the shared AWS config.
func NewS3Store(client *s3.Client) *S3Store {
	return &S3Store{client: client}
}

// mapS3Err translates the SDK's missing-object error types into
// ErrObjectNotFound.
func mapS3Err(err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}

func (s *S3Store) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: &bucket,
	}
	if prefix != "" {
		input.Prefix = &prefix
	}

	var objects []Object

	// S3 returns keys in lexicographic order, up to 1000 per page.
	for {
		result, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("ListObjectsV2 %s/%s: %w", bucket, prefix, err)
		}

		for _, obj := range result.Contents {
			if obj.Key == nil {
				continue
			}
			o := Object{Key: *obj.Key}
			if obj.Size != nil {
				o.Size = *obj.Size
			}
			objects = append(objects, o)
		}

		if result.IsTruncated == nil || !*result.IsTruncated {
			break
		}
		input.ContinuationToken = result.NextContinuationToken
	}

	log.Debug().Str("bucket", bucket).Str("prefix", prefix).Int("count", len(objects)).Msg("Listed objects")
	return objects, nil
}

func (s *S3Store) Get(ctx context.Context, ref Ref) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &ref.Bucket,
		Key:    &ref.Key,
	})
	if err != nil {
		return nil, fmt.Errorf("GetObject %s: %w", ref.URI(), mapS3Err(err))
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref.URI(), err)
	}
	return data, nil
}

func (s *S3Store) Put(ctx context.Context, ref Ref, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:  &ref.Bucket,
		Key:     &ref.Key,
		Body:    bytes.NewReader(data),
		Tagging: aws.String(projectTag),
	}
	if contentType != "" {
		input.ContentType = &contentType
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("PutObject %s: %w", ref.URI(), err)
	}

	log.Debug().Str("uri", ref.URI()).Int("bytes", len(data)).Msg("Object uploaded")
	return nil
}

func (s *S3Store) Copy(ctx context.Context, src, dst Ref) error {
	// Keys in this system are GTIN/category/filename segments, so the raw
	// bucket/key form is a valid copy source without extra escaping.
	source := src.Bucket + "/" + src.Key
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &dst.Bucket,
		Key:        &dst.Key,
		CopySource: aws.String(source),
	})
	if err != nil {
		return fmt.Errorf("CopyObject %s -> %s: %w", src.URI(), dst.URI(), mapS3Err(err))
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, ref Ref) error {
	// S3 DeleteObject succeeds for missing keys, matching the interface
	// contract.
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &ref.Bucket,
		Key:    &ref.Key,
	})
	if err != nil {
		return fmt.Errorf("DeleteObject %s: %w", ref.URI(), err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, ref Ref) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &ref.Bucket,
		Key:    &ref.Key,
	})
	if err != nil {
		if errors.Is(mapS3Err(err), ErrObjectNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("HeadObject %s: %w", ref.URI(), err)
	}
	return true, nil
}
