// Package storage copies finished report directories to S3-compatible object
// storage such as Backblaze B2.
package storage

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ppiankov/drivespectre/pkg/config"
)

// PutObjectAPI is the subset of the S3 client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Location is a bucket and key prefix parsed from s3://bucket/prefix.
type Location struct {
	Bucket string
	Prefix string
}

// ParseS3URL splits an s3:// URL into bucket and prefix.
func ParseS3URL(raw string) (Location, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Location{}, fmt.Errorf("invalid upload URL %q: %w", raw, err)
	}
	if u.Scheme != "s3" {
		return Location{}, fmt.Errorf("invalid upload URL %q: scheme must be s3", raw)
	}
	if u.Host == "" {
		return Location{}, fmt.Errorf("invalid upload URL %q: bucket is required", raw)
	}
	return Location{
		Bucket: u.Host,
		Prefix: strings.Trim(u.Path, "/"),
	}, nil
}

// Key joins the prefix and a slash-separated relative path.
func (l Location) Key(rel string) string {
	if l.Prefix == "" {
		return rel
	}
	return path.Join(l.Prefix, rel)
}

// S3Uploader uploads report files under one location.
type S3Uploader struct {
	client   PutObjectAPI
	location Location
}

// NewS3Uploader builds an uploader from the default AWS credential chain.
// AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY, when both are set, are used as
// static credentials so B2 application keys work without a shared config file.
func NewS3Uploader(ctx context.Context, cfg config.UploadConfig) (*S3Uploader, error) {
	location, err := ParseS3URL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	keyID, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
	if keyID != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(keyID, secret, os.Getenv("AWS_SESSION_TOKEN")),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return NewS3UploaderWithClient(client, location), nil
}

// NewS3UploaderWithClient wraps an existing client.
func NewS3UploaderWithClient(client PutObjectAPI, location Location) *S3Uploader {
	return &S3Uploader{client: client, location: location}
}

// UploadDir uploads every regular file under dir and returns the object keys
// in upload order.
func (u *S3Uploader) UploadDir(ctx context.Context, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list report files: %w", err)
	}
	sort.Strings(files)

	keys := make([]string, 0, len(files))
	for _, file := range files {
		rel, err := filepath.Rel(dir, file)
		if err != nil {
			return keys, err
		}
		key := u.location.Key(filepath.ToSlash(rel))
		if err := u.uploadFile(ctx, file, key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}

	slog.Debug("uploaded report",
		slog.String("bucket", u.location.Bucket),
		slog.String("prefix", u.location.Prefix),
		slog.Int("objects", len(keys)),
	)
	return keys, nil
}

func (u *S3Uploader) uploadFile(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer func() { _ = f.Close() }()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.location.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(file)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", u.location.Bucket, key, err)
	}
	return nil
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".html":
		return "text/html; charset=utf-8"
	}
	if t := mime.TypeByExtension(filepath.Ext(file)); t != "" {
		return t
	}
	return "application/octet-stream"
}
