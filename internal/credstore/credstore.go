// Package credstore provides the S3-backed stores the bridge depends on:
// the shared credential store holding the device identity artifacts, and
// the output store holding converted documents.
package credstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// ErrNotFound signals a missing artifact. Callers treat it as "continue
// without this artifact", not as a failure.
var ErrNotFound = errors.New("artifact not found")

// Store is a key-blob store over a small fixed set of named identity
// artifacts. Operations on individual artifacts are independent; there is
// no multi-artifact transaction, so callers must treat "all artifacts
// present" as the completeness check.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
	logger *logrus.Entry
}

// NewStore creates a credential store over the given bucket and key prefix.
func NewStore(ctx context.Context, bucket, prefix, region string, logger *logrus.Entry) (*Store, error) {
	client, err := newS3Client(ctx, region)
	if err != nil {
		return nil, err
	}
	return &Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}, nil
}

func newS3Client(ctx context.Context, region string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

// Get fetches one artifact by name. Returns ErrNotFound for missing keys.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get artifact %s: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", name, err)
	}
	return data, nil
}

// Put stores one artifact by name. The write is visible to other callers
// as soon as Put returns.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to put artifact %s: %w", name, err)
	}
	return nil
}

// Delete removes one artifact by name. A missing key is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete artifact %s: %w", name, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *s3types.NotFound
	return errors.As(err, &notFound)
}

// OutputStore uploads converted documents and produces presigned download
// URLs for them.
type OutputStore struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	prefix    string
	expiry    time.Duration
	logger    *logrus.Entry
}

// NewOutputStore creates an output store over the given bucket and prefix.
func NewOutputStore(ctx context.Context, bucket, prefix, region string, expiry time.Duration, logger *logrus.Entry) (*OutputStore, error) {
	client, err := newS3Client(ctx, region)
	if err != nil {
		return nil, err
	}
	return &OutputStore{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
		prefix:    prefix,
		expiry:    expiry,
		logger:    logger,
	}, nil
}

// Publish uploads a local file under the output prefix and returns the
// object key, its size, and a presigned download URL.
func (o *OutputStore) Publish(ctx context.Context, localPath, filename string) (key string, size int64, downloadURL string, err error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to stat output file: %w", err)
	}

	file, err := os.Open(localPath)
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to open output file: %w", err)
	}
	defer file.Close()

	key = o.prefix + filename
	_, err = o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to upload %s: %w", filename, err)
	}

	presigned, err := o.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(o.expiry))
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to presign %s: %w", key, err)
	}

	o.logger.WithFields(logrus.Fields{
		"key":        key,
		"size_bytes": info.Size(),
	}).Info("Output file published")

	return key, info.Size(), presigned.URL, nil
}
