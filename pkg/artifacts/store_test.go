package artifacts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/mismo/pkg/canonicalize"
)

func testStore(t *testing.T, s Store) {
	ctx := context.Background()
	data := []byte("<MESSAGE/>")

	hash, err := s.Store(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, canonicalize.ContentHash(data), hash)

	again, err := s.Store(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	ok, err := s.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, s.Delete(ctx, hash))
	require.NoError(t, s.Delete(ctx, hash))

	ok, err = s.Exists(ctx, hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, hash)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, bad := range []string{"", "abc", "sha256:zz", "md5:" + strings.Repeat("a", 64), "../../etc/passwd"} {
		_, err := s.Get(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidHash, bad)
		_, err = s.Exists(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidHash, bad)
		assert.ErrorIs(t, s.Delete(ctx, bad), ErrInvalidHash, bad)
	}
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	testStore(t, s)
}

func TestFileStore_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	_, err = s.Store(context.Background(), []byte("a"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".blob"))
}

func TestFileStore_CancelledContext(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Store(ctx, []byte("a"))
	assert.ErrorIs(t, err, context.Canceled)
}

// fakeS3 is an in-memory s3API.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	failGet error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Bucket+"/"+*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = data
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	testStore(t, newS3Store(newFakeS3(), "bucket", "mismo/"))
}

func TestS3Store_KeysAndIdempotency(t *testing.T) {
	fake := newFakeS3()
	s := newS3Store(fake, "bucket", "mismo/")
	hash, err := s.Store(context.Background(), []byte("x"))
	require.NoError(t, err)
	_, err = s.Store(context.Background(), []byte("x"))
	require.NoError(t, err)

	assert.Equal(t, 1, fake.puts)
	_, ok := fake.objects["bucket/mismo/"+strings.TrimPrefix(hash, "sha256:")+".blob"]
	assert.True(t, ok)
}

func TestS3Store_BackendError(t *testing.T) {
	fake := newFakeS3()
	fake.failGet = errors.New("throttled")
	s := newS3Store(fake, "bucket", "")
	_, err := s.Get(context.Background(), canonicalize.ContentHash([]byte("x")))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewStore(ctx, Config{DataDir: dir})
	require.NoError(t, err)
	fs, ok := s.(*FileStore)
	require.True(t, ok, "expected *FileStore, got %T", s)
	assert.Equal(t, filepath.Join(dir, "artifacts"), fs.baseDir)

	_, err = NewStore(ctx, Config{Type: StoreTypeS3})
	assert.ErrorContains(t, err, "ARTIFACT_S3_BUCKET is required")

	_, err = NewStore(ctx, Config{Type: StoreTypeGCS})
	assert.ErrorContains(t, err, "ARTIFACT_GCS_BUCKET is required")

	_, err = NewStore(ctx, Config{Type: "ftp"})
	assert.ErrorContains(t, err, "unsupported artifact storage type")
}
