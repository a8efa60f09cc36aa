// Package archive copies uploaded corpus files into long-term storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter is the subset of the S3 client used by the archive.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures the S3 archive. Endpoint is only set for
// S3-compatible stores such as MinIO.
type S3Config struct {
	Bucket   string
	Prefix   string
	Endpoint string
	Logger   *slog.Logger
}

// S3 stores PDFs under {prefix}/pdfs/{fingerprint}/{name}.
type S3 struct {
	client        ObjectPutter
	bucket        string
	prefix        string
	forceSeekable bool
	logger        *slog.Logger
}

// NewS3 loads AWS credentials from the default chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	forceSeekable := false
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
			// Plain HTTP endpoints need a seekable body for checksums.
			if strings.HasPrefix(cfg.Endpoint, "http://") {
				forceSeekable = true
			}
		}
	})
	a := NewS3WithClient(client, cfg)
	a.forceSeekable = forceSeekable
	return a, nil
}

func NewS3WithClient(client ObjectPutter, cfg S3Config) *S3 {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &S3{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: cfg.Logger,
	}
}

// Key returns the object key for a file.
func (a *S3) Key(fingerprint, name string) string {
	k := path.Join("pdfs", fingerprint, filepath.Base(name))
	if a.prefix != "" {
		k = a.prefix + "/" + k
	}
	return k
}

// Store uploads the local file. The key is content-addressed, so storing the
// same document twice overwrites one object.
func (a *S3) Store(ctx context.Context, localPath, name, fingerprint string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	var body io.Reader = f
	if a.forceSeekable {
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, f); err != nil {
			return fmt.Errorf("read %s: %w", localPath, err)
		}
		body = bytes.NewReader(buf.Bytes())
	}

	key := a.Key(fingerprint, name)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        body,
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return fmt.Errorf("store %s in s3: %w", key, err)
	}
	a.logger.Info("archived", "bucket", a.bucket, "key", key)
	return nil
}
