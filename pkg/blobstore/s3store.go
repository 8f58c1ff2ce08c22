package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// S3Store keeps blobs as S3 objects at {prefix}{sha256(semanticId)}/{uuid}.json.
type S3Store struct {
	bucket    string
	keyPrefix string
	s3Client  *s3.Client
}

var (
	_ Store        = (*S3Store)(nil)
	_ LegacyReader = (*S3Store)(nil)
)

// NewS3StoreWithClient creates the store with an existing S3 client.
func NewS3StoreWithClient(client *s3.Client, bucket, keyPrefix string) *S3Store {
	return &S3Store{s3Client: client, bucket: bucket, keyPrefix: keyPrefix}
}

// NewS3Store creates the store from an AWS config.
func NewS3Store(cfg aws.Config, bucket, keyPrefix string) *S3Store {
	return NewS3StoreWithClient(s3.NewFromConfig(cfg), bucket, keyPrefix)
}

func (s *S3Store) Read(ctx context.Context, semanticID string, submodelID uuid.UUID) (any, error) {
	return s.readKey(ctx, LegacyPath(semanticID, submodelID))
}

func (s *S3Store) Write(ctx context.Context, semanticID string, submodelID uuid.UUID, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return types.WrapFailure(types.FailureInvalidArgument, err, "encoding payload")
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.keyPrefix + LegacyPath(semanticID, submodelID)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return types.WrapFailure(types.FailureUnavailable, err, "writing blob to s3: %s", err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, semanticID string, submodelID uuid.UUID) error {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyPrefix + LegacyPath(semanticID, submodelID)),
	})
	if err != nil {
		return types.WrapFailure(types.FailureUnavailable, err, "deleting blob from s3: %s", err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, semanticID string, submodelID uuid.UUID) (bool, error) {
	_, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyPrefix + LegacyPath(semanticID, submodelID)),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
			return false, nil
		}
		return false, types.WrapFailure(types.FailureUnavailable, err, "checking blob in s3: %s", err)
	}
	return true, nil
}

// ReadPath reads a blob by its legacy path, which equals the object key
// minus the prefix.
func (s *S3Store) ReadPath(ctx context.Context, path string) (any, error) {
	if _, _, err := parseLegacyPath(path); err != nil {
		return nil, err
	}
	return s.readKey(ctx, path)
}

func (s *S3Store) readKey(ctx context.Context, key string) (any, error) {
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyPrefix + key),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, types.WrapFailure(types.FailureNotFound, err, "blob %s not found", key)
		}
		return nil, types.WrapFailure(types.FailureUnavailable, err, "reading blob from s3: %s", err)
	}
	defer out.Body.Close()

	var payload any
	if err := json.NewDecoder(out.Body).Decode(&payload); err != nil {
		return nil, types.WrapFailure(types.FailureInternal, err, "decoding blob")
	}
	return payload, nil
}
