package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
)

type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Mirror copies release assets into an S3 compatible bucket.
type Mirror struct {
	log     *logrus.Logger
	storage S3API
	bucket  string
	prefix  string
}

func NewMirror(log *logrus.Logger, storage S3API, bucket, prefix string) *Mirror {
	return &Mirror{
		log:     log,
		storage: storage,
		bucket:  bucket,
		prefix:  prefix,
	}
}

func (m *Mirror) Key(channel, fileName string) string {
	return path.Join(m.prefix, channel, fileName)
}

// Upload stores asset under <prefix>/<channel>/<name>. Objects that already
// carry the same checksum are skipped; the returned bool reports whether
// an upload happened.
func (m *Mirror) Upload(ctx context.Context, channel string, asset Asset, checksum string) (bool, error) {
	key := m.Key(channel, asset.Name)
	headRes, err := m.storage.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err == nil && checksum != "" && headRes.Metadata["checksum"] == checksum {
		m.log.Infof("mirror already has %s", key)
		return false, nil
	}
	if err != nil {
		var apiErr smithy.APIError
		if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "NotFound" {
			return false, fmt.Errorf("could not check if %s exists: %w", key, err)
		}
	}

	f, err := os.Open(asset.Path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	m.log.Infof("uploading %s to mirror", key)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(asset.contentType()),
	}
	if checksum != "" {
		input.Metadata = map[string]string{"checksum": checksum}
	}
	if _, err := m.storage.PutObject(ctx, input); err != nil {
		return false, fmt.Errorf("could not upload %s: %w", key, err)
	}
	return true, nil
}
