package r2s3

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	mu       sync.Mutex
	failures int
	objects  map[string]string
	types    map[string]string
	calls    int
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("503 slow down")
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects, f.types = map[string]string{}, map[string]string{}
	}
	f.objects[*in.Key] = string(b)
	f.types[*in.Key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func noBackoff(int) time.Duration { return 0 }

func TestMirror_UploadsUnderPrefix(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "snapshots", "100.snap.zst")
	journal := filepath.Join(dir, "edits", "edits-2026-01-02-03.jsonl.zst")
	writeFile(t, snap, "snap")
	writeFile(t, journal, "edits")

	api := &fakePutter{}
	m := NewMirror(NewWithAPI(api, "bucket"), dir, Options{Prefix: "/prod/", Backoff: noBackoff})
	m.Enqueue(snap)
	m.Enqueue(journal)
	m.Close()

	require.Equal(t, map[string]string{
		"prod/snapshots/100.snap.zst":              "snap",
		"prod/edits/edits-2026-01-02-03.jsonl.zst": "edits",
	}, api.objects)
	require.Equal(t, "application/zstd", api.types["prod/snapshots/100.snap.zst"])
	st := m.Stats()
	require.EqualValues(t, 2, st.Uploaded)
	require.False(t, st.LastSuccess.IsZero())
}

func TestMirror_RetriesThenGivesUp(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.snap.zst")
	writeFile(t, p, "x")

	api := &fakePutter{failures: 2}
	m := NewMirror(NewWithAPI(api, "b"), dir, Options{Workers: 1, MaxAttempts: 3, Backoff: noBackoff})
	m.Enqueue(p)
	m.Close()
	require.EqualValues(t, 1, m.Stats().Uploaded)
	require.Equal(t, 3, api.calls)

	api = &fakePutter{failures: 10}
	m = NewMirror(NewWithAPI(api, "b"), dir, Options{Workers: 1, MaxAttempts: 2, Backoff: noBackoff})
	m.Enqueue(p)
	m.Close()
	require.EqualValues(t, 1, m.Stats().Failed)
	require.Equal(t, 2, api.calls)
}

func TestMirror_RejectsOutsideDataDir(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "x.snap.zst")
	writeFile(t, outside, "x")

	api := &fakePutter{}
	m := NewMirror(NewWithAPI(api, "b"), dir, Options{Backoff: noBackoff})
	m.Enqueue(outside)
	m.Close()
	require.Zero(t, api.calls)
	require.EqualValues(t, 1, m.Stats().Failed)
}

func TestMirror_EnqueueAfterCloseIsNoop(t *testing.T) {
	m := NewMirror(NewWithAPI(&fakePutter{}, "b"), t.TempDir(), Options{})
	m.Close()
	m.Close()
	m.Enqueue("whatever")
	require.Zero(t, m.Stats().Enqueued)
}

func TestNormalizeObjectKey(t *testing.T) {
	for in, want := range map[string]string{
		"/a/b":          "a/b",
		`a\b\c`:         "a/b/c",
		"a/./b/../c":    "a/c",
		"../escape":     "",
		"   ":           "",
		"snap.snap.zst": "snap.snap.zst",
	} {
		require.Equal(t, want, normalizeObjectKey(in), in)
	}
}

func TestNew_RequiresEndpointAndBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Bucket: "b"})
	require.Error(t, err)
	_, err = New(context.Background(), Config{Endpoint: "https://acct.r2.example.com"})
	require.Error(t, err)
}
