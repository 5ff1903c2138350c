package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nhle/mailarchive/internal/model"
)

// S3API is the subset of *s3.Client the disk needs.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Disk stores blobs as objects in a bucket.
type S3Disk struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Disk builds a disk from the default AWS credential chain. A custom
// endpoint switches to path-style addressing for S3-compatible stores.
func NewS3Disk(ctx context.Context, cfg model.S3Config) (*S3Disk, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrStorage)
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: loading aws config: %v", ErrStorage, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3DiskClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3DiskClient wraps an existing client.
func NewS3DiskClient(client S3API, bucket, prefix string) *S3Disk {
	return &S3Disk{client: client, bucket: bucket, prefix: prefix}
}

// Name implements Disk.
func (d *S3Disk) Name() string { return "s3" }

func (d *S3Disk) key(p string) (string, error) {
	p, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	if d.prefix == "" {
		return p, nil
	}
	return path.Join(d.prefix, p), nil
}

// Put implements Disk.
func (d *S3Disk) Put(ctx context.Context, p string, data []byte) error {
	key, err := d.key(p)
	if err != nil {
		return err
	}
	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return storageErr("writing", key, err)
	}
	return nil
}

// Get implements Disk.
func (d *S3Disk) Get(ctx context.Context, p string) ([]byte, error) {
	key, err := d.key(p)
	if err != nil {
		return nil, err
	}
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, storageErr("reading", key, ErrNotExist)
		}
		return nil, storageErr("reading", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, storageErr("reading", key, err)
	}
	return data, nil
}

// Delete implements Disk.
func (d *S3Disk) Delete(ctx context.Context, p string) error {
	key, err := d.key(p)
	if err != nil {
		return err
	}
	_, err = d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return storageErr("deleting", key, err)
	}
	return nil
}

// Exists implements Disk.
func (d *S3Disk) Exists(ctx context.Context, p string) (bool, error) {
	key, err := d.key(p)
	if err != nil {
		return false, err
	}
	_, err = d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, storageErr("checking", key, err)
	}
	return true, nil
}
