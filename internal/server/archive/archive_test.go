package archive

import (
	"context"
	"errors"
	"io"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fermentstation/internal/common"
)

type fakeObjects struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

type fakePresign struct {
	err error
}

func (f *fakePresign) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &v4.PresignedHTTPRequest{URL: "https://s3.local/" + *in.Bucket + "/" + *in.Key}, nil
}

func TestPut(t *testing.T) {
	objs := &fakeObjects{}
	s := &S3Store{objects: objs, presign: &fakePresign{}, bucket: "docs"}

	err := s.Put(context.Background(), "harvest/a.pdf", []byte("%PDF-1.3"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "docs", *objs.in.Bucket)
	assert.Equal(t, "harvest/a.pdf", *objs.in.Key)
	assert.Equal(t, "application/pdf", *objs.in.ContentType)
	assert.Equal(t, int64(8), *objs.in.ContentLength)
	assert.Equal(t, []byte("%PDF-1.3"), objs.body)
}

func TestPut_Error(t *testing.T) {
	s := &S3Store{objects: &fakeObjects{err: errors.New("connection refused")}, bucket: "docs"}
	err := s.Put(context.Background(), "k", nil, "application/pdf")
	assert.ErrorIs(t, err, common.ErrExternalService)
}

func TestPresignGet(t *testing.T) {
	s := &S3Store{presign: &fakePresign{}, bucket: "docs"}
	u, err := s.PresignGet(context.Background(), "harvest/a.pdf", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.local/docs/harvest/a.pdf", u)

	s.presign = &fakePresign{err: errors.New("boom")}
	_, err = s.PresignGet(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, common.ErrExternalService)
}

// Presigning is computed locally, so the real client can be exercised
// without a server.
func TestNewS3Store_PresignsPathStyle(t *testing.T) {
	s, err := NewS3Store(context.Background(), Config{
		User:         "admin",
		Password:     "secretpassword",
		Bucket:       "fermentstation",
		Region:       "us-east-1",
		BaseEndpoint: "http://127.0.0.1:9000",
	})
	require.NoError(t, err)

	raw, err := s.PresignGet(context.Background(), "harvest/t1/2026-04-02/x.pdf", 5*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", u.Host)
	assert.Equal(t, "/fermentstation/harvest/t1/2026-04-02/x.pdf", u.Path)
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
	assert.True(t, strings.HasPrefix(u.Query().Get("X-Amz-Credential"), "admin/"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestHarvestKey(t *testing.T) {
	id := NewDocumentID()
	k := HarvestKey("tenant-1", time.Date(2026, 4, 2, 15, 0, 0, 0, time.UTC), id, "pdf")
	assert.Regexp(t, regexp.MustCompile(`^harvest/tenant-1/2026-04-02/[0-9a-f-]{36}\.pdf$`), k)
	assert.NotEqual(t, id, NewDocumentID())
}
