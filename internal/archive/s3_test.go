package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	key, bucket, contentType string
	body                     []byte
	err                      error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.key = aws.ToString(in.Key)
	f.bucket = aws.ToString(in.Bucket)
	f.contentType = aws.ToString(in.ContentType)
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func writePDF(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "manual.pdf")
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4 body"), 0o644))
	return p
}

func TestS3_Store(t *testing.T) {
	put := &fakePutter{}
	a := NewS3WithClient(put, S3Config{Bucket: "docs", Prefix: "/relay/"})

	require.NoError(t, a.Store(context.Background(), writePDF(t), "manual.pdf", "abc123"))
	assert.Equal(t, "docs", put.bucket)
	assert.Equal(t, "relay/pdfs/abc123/manual.pdf", put.key)
	assert.Equal(t, "application/pdf", put.contentType)
	assert.Equal(t, "%PDF-1.4 body", string(put.body))
}

func TestS3_KeyWithoutPrefixStripsDirectories(t *testing.T) {
	a := NewS3WithClient(&fakePutter{}, S3Config{Bucket: "docs"})
	assert.Equal(t, "pdfs/f00/x.pdf", a.Key("f00", "../../x.pdf"))
}

func TestS3_StoreErrors(t *testing.T) {
	a := NewS3WithClient(&fakePutter{err: errors.New("access denied")}, S3Config{Bucket: "docs"})
	err := a.Store(context.Background(), writePDF(t), "manual.pdf", "abc")
	assert.ErrorContains(t, err, "access denied")

	err = a.Store(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"), "missing.pdf", "abc")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestS3_ForceSeekableBuffersBody(t *testing.T) {
	put := &fakePutter{}
	a := NewS3WithClient(put, S3Config{Bucket: "docs"})
	a.forceSeekable = true
	require.NoError(t, a.Store(context.Background(), writePDF(t), "manual.pdf", "abc"))
	assert.Equal(t, "%PDF-1.4 body", string(put.body))
}
