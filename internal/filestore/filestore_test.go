package filestore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/eventhorizon/server/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLocalBackendMediaNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir(), "/files/", KindMedia)
	require.NoError(t, err)

	first, err := b.Save(ctx, "avatars/me.jpg", strings.NewReader("one"))
	require.NoError(t, err)
	require.Equal(t, "avatars/me.jpg", first)

	second, err := b.Save(ctx, "avatars/me.jpg", strings.NewReader("two"))
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.Regexp(t, `^avatars/me_[0-9a-f]{7}\.jpg$`, second)

	r, err := b.Open(ctx, first)
	require.NoError(t, err)
	data, _ := io.ReadAll(r)
	_ = r.Close()
	require.Equal(t, "one", string(data))

	size, err := b.Size(ctx, second)
	require.NoError(t, err)
	require.EqualValues(t, 3, size)

	url, err := b.URL(ctx, first)
	require.NoError(t, err)
	require.Equal(t, "/files/media/avatars/me.jpg", url)
}

func TestLocalBackendStaticOverwrites(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir(), "/files", KindStatic)
	require.NoError(t, err)

	_, err = b.Save(ctx, "css/site.css", strings.NewReader("a"))
	require.NoError(t, err)
	name, err := b.Save(ctx, "css/site.css", strings.NewReader("bb"))
	require.NoError(t, err)
	require.Equal(t, "css/site.css", name)

	size, err := b.Size(ctx, name)
	require.NoError(t, err)
	require.EqualValues(t, 2, size)
}

func TestLocalBackendDeleteAndMissing(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir(), "/files", KindMedia)
	require.NoError(t, err)

	_, err = b.Save(ctx, "x.txt", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, b.Delete(ctx, "x.txt"))
	require.NoError(t, b.Delete(ctx, "x.txt"))

	exists, err := b.Exists(ctx, "x.txt")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = b.Open(ctx, "x.txt")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = b.Size(ctx, "x.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalBackendRejectsEscapes(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir(), "/files", KindMedia)
	require.NoError(t, err)

	for _, name := range []string{"", "   ", "/", "../"} {
		_, err := b.Save(ctx, name, strings.NewReader("x"))
		require.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}

	tests := map[string]string{
		"/a/./b/../c.txt": "a/c.txt",
		"../secret":       "secret",
		"a/../../b":       "b",
		`win\dir\f.txt`:   "win/dir/f.txt",
	}
	for in, want := range tests {
		stored, err := b.Save(ctx, in, strings.NewReader("x"))
		require.NoError(t, err)
		require.Equal(t, want, stored)
	}
}

func TestLocalBackendWalk(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir(), "/files", KindMedia)
	require.NoError(t, err)
	for _, name := range []string{"a.jpg", "avatars/users/1/b.png"} {
		_, err := b.Save(ctx, name, strings.NewReader("x"))
		require.NoError(t, err)
	}

	var names []string
	require.NoError(t, b.Walk(ctx, func(name string) error {
		names = append(names, name)
		return nil
	}))
	sort.Strings(names)

	require.Equal(t, []string{"a.jpg", "avatars/users/1/b.png"}, names)
}

func TestHelpers(t *testing.T) {
	require.Equal(t, "0.00 B", FormatFileSize(0))
	require.Equal(t, "1.00 KB", FormatFileSize(1024))
	require.Equal(t, "1.00 MB", FormatFileSize(1048576))
	require.Equal(t, "1.50 GB", FormatFileSize(1536*1024*1024))

	require.True(t, ValidateImageExtension("Photo.JPG", nil))
	require.True(t, ValidateImageExtension("logo.svg", nil))
	require.False(t, ValidateImageExtension("doc.pdf", nil))
	require.False(t, ValidateImageExtension("noext", nil))
	require.True(t, ValidateImageExtension("doc.pdf", []string{".pdf"}))

	require.Regexp(t, `^avatars/[0-9a-f]{8}-photo\.jpg$`, UniqueFilename("photo.jpg", "avatars"))
	require.Regexp(t, `^[0-9a-f]{8}-photo\.jpg$`, UniqueFilename("photo.jpg", ""))
	require.Regexp(t, `^avatars/users/42/[0-9a-f]{32}\.png$`, AvatarPath("42", "Me.PNG"))
}

func TestNewSelectsBackend(t *testing.T) {
	ctx := context.Background()
	cfg := config.StorageConfig{Backend: "local", LocalRoot: t.TempDir(), LocalBaseURL: "/files"}

	b, err := New(ctx, cfg, KindMedia)
	require.NoError(t, err)
	require.IsType(t, &LocalBackend{}, b)

	_, err = New(ctx, cfg, Kind("tmp"))
	require.ErrorContains(t, err, "unknown storage type")

	cfg.Backend = "ftp"
	_, err = New(ctx, cfg, KindMedia)
	require.ErrorContains(t, err, "unknown storage backend")

	cfg.Backend = "s3"
	_, err = New(ctx, cfg, KindMedia)
	require.ErrorContains(t, err, "bucket is required")
}

// fakeS3 is an in-memory S3API.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	acl     map[string]types.ObjectCannedACL
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, acl: map[string]types.ObjectCannedACL{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.acl[aws.ToString(in.Key)] = in.ACL
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
		}
	}
	return out, nil
}

func TestS3BackendPrefixesAndACL(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	media := &S3Backend{client: fake, opts: S3Options{Bucket: "eh", Region: "eu-west-1"}, kind: KindMedia}

	first, err := media.Save(ctx, "avatars/a.jpg", strings.NewReader("a"))
	require.NoError(t, err)
	require.Equal(t, "avatars/a.jpg", first)
	require.Contains(t, fake.objects, "media/avatars/a.jpg")
	require.Equal(t, types.ObjectCannedACLPublicRead, fake.acl["media/avatars/a.jpg"])

	second, err := media.Save(ctx, "avatars/a.jpg", strings.NewReader("b"))
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	size, err := media.Size(ctx, first)
	require.NoError(t, err)
	require.EqualValues(t, 1, size)

	var walked []string
	require.NoError(t, media.Walk(ctx, func(name string) error {
		walked = append(walked, name)
		return nil
	}))
	require.Len(t, walked, 2)

	require.NoError(t, media.Delete(ctx, first))
	_, err = media.Open(ctx, first)
	require.ErrorIs(t, err, ErrNotFound)

	private := &S3Backend{client: fake, opts: S3Options{Bucket: "eh"}, kind: KindPrivate}
	_, err = private.Save(ctx, "invoice.pdf", strings.NewReader("pdf"))
	require.NoError(t, err)
	require.Equal(t, types.ObjectCannedACLPrivate, fake.acl["private/invoice.pdf"])
}

func TestS3BackendPublicURL(t *testing.T) {
	tests := []struct {
		name string
		opts S3Options
		want string
	}{
		{"aws", S3Options{Bucket: "eh", Region: "eu-west-1"}, "https://eh.s3.eu-west-1.amazonaws.com/media/a%20b.jpg"},
		{"custom domain", S3Options{Bucket: "eh", PublicURL: "cdn.example.com"}, "https://cdn.example.com/media/a%20b.jpg"},
		{"minio path style", S3Options{Bucket: "eh", Endpoint: "http://localhost:9000", UsePathStyle: true}, "http://localhost:9000/eh/media/a%20b.jpg"},
		{"virtual host endpoint", S3Options{Bucket: "eh", Endpoint: "https://nyc3.digitaloceanspaces.com"}, "https://eh.nyc3.digitaloceanspaces.com/media/a%20b.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &S3Backend{opts: tt.opts, kind: KindMedia}
			got, err := b.URL(context.Background(), "a b.jpg")
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestS3BackendPresignsPrivate(t *testing.T) {
	ctx := context.Background()
	b, err := NewS3Backend(ctx, S3Options{
		Bucket:       "eh",
		Region:       "us-east-1",
		Endpoint:     "http://localhost:9000",
		AccessKey:    "minio",
		SecretKey:    "minio123",
		UsePathStyle: true,
	}, KindPrivate)
	require.NoError(t, err)

	url, err := b.URL(ctx, "reports/roster.csv")

	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://localhost:9000/eh/private/reports/roster.csv?"), url)
	require.Contains(t, url, "X-Amz-Expires=3600")
	require.Contains(t, url, "X-Amz-Signature=")
}

func TestCopyFile(t *testing.T) {
	ctx := context.Background()
	src, err := NewLocalBackend(t.TempDir(), "/files", KindMedia)
	require.NoError(t, err)
	dst := &S3Backend{client: newFakeS3(), opts: S3Options{Bucket: "eh"}, kind: KindMedia}

	_, err = src.Save(ctx, "a.jpg", strings.NewReader("img"))
	require.NoError(t, err)

	copied, err := CopyFile(ctx, dst, src, "a.jpg", CopyOptions{DryRun: true})
	require.NoError(t, err)
	require.True(t, copied)
	exists, _ := dst.Exists(ctx, "a.jpg")
	require.False(t, exists)

	copied, err = CopyFile(ctx, dst, src, "a.jpg", CopyOptions{DeleteSource: true})
	require.NoError(t, err)
	require.True(t, copied)
	exists, _ = src.Exists(ctx, "a.jpg")
	require.False(t, exists)

	copied, err = CopyFile(ctx, dst, src, "a.jpg", CopyOptions{})
	require.NoError(t, err)
	require.False(t, copied)
}
