/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/friendsincode/grimnir_playback/internal/config"
)

type recordingListener struct {
	mu         sync.Mutex
	downloaded int64
	ended      int
	lastErr    error
}

func (l *recordingListener) BytesDownloaded(n int64) {
	l.mu.Lock()
	l.downloaded += n
	l.mu.Unlock()
}

func (l *recordingListener) DownloadEnded(err error) {
	l.mu.Lock()
	l.ended++
	l.lastErr = err
	l.mu.Unlock()
}

func (l *recordingListener) snapshot() (int64, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.downloaded, l.ended, l.lastErr
}

func pattern(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i * 7)
	}
	return out
}

func TestFileResource(t *testing.T) {
	data := pattern(4096)
	path := filepath.Join(t.TempDir(), "a.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	res, err := OpenFile(path, zerolog.Nop())
	require.NoError(t, err)

	require.Equal(t, int64(4096), res.Length())
	require.True(t, res.Seekable())
	require.Equal(t, []ByteRange{{Start: 0, End: 4096}}, res.CachedRanges())
	require.True(t, strings.HasPrefix(res.URI(), "file://"))

	buf := make([]byte, 100)
	n, err := res.ReadAt(buf, 1000)
	require.NoError(t, err)
	require.Equal(t, 100, n)
	require.Equal(t, data[1000:1100], buf)

	l := &recordingListener{}
	res.SetListener(l)
	downloaded, ended, lastErr := l.snapshot()
	require.Equal(t, int64(4096), downloaded)
	require.Equal(t, 1, ended)
	require.NoError(t, lastErr)

	require.NoError(t, res.Close())
	require.NoError(t, res.Close())
	_, err = res.ReadAt(buf, 0)
	require.ErrorIs(t, err, ErrResourceClosed)
}

func TestOpenFileRejectsDirectory(t *testing.T) {
	_, err := OpenFile(t.TempDir(), zerolog.Nop())
	require.Error(t, err)
}

func TestServiceOpen(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "track.wav"), []byte("RIFF"), 0o644))
	svc := NewService(&config.Config{MediaRoot: dir, HTTPFetchTimeout: time.Second}, zerolog.Nop())
	ctx := context.Background()

	t.Run("relative path resolves under media root", func(t *testing.T) {
		res, err := svc.Open(ctx, "track.wav")
		require.NoError(t, err)
		defer res.Close()
		require.Equal(t, int64(4), res.Length())
	})

	t.Run("file uri", func(t *testing.T) {
		res, err := svc.Open(ctx, "file://"+filepath.Join(dir, "track.wav"))
		require.NoError(t, err)
		defer res.Close()
		require.Equal(t, int64(4), res.Length())
	})

	t.Run("missing file", func(t *testing.T) {
		res, err := svc.Open(ctx, "nope.wav")
		require.Nil(t, res)
		require.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("empty uri", func(t *testing.T) {
		_, err := svc.Open(ctx, "  ")
		require.Error(t, err)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := svc.Open(ctx, "ftp://example.com/a.wav")
		require.ErrorContains(t, err, "unsupported scheme")
	})
}

// rangeServer serves data with byte-range support and counts GETs.
func rangeServer(t *testing.T, data []byte, ranged bool) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var gets atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		if ranged {
			http.ServeContent(w, r, "media.bin", time.Time{}, bytes.NewReader(data))
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv, &gets
}

func TestHTTPResourceRanged(t *testing.T) {
	data := pattern(defaultBlockSize*2 + 1000)
	srv, gets := rangeServer(t, data, true)

	res, err := OpenHTTP(context.Background(), srv.URL+"/media.bin", srv.Client(), zerolog.Nop())
	require.NoError(t, err)
	defer res.Close()

	require.Equal(t, int64(len(data)), res.Length())
	require.True(t, res.Seekable())

	l := &recordingListener{}
	res.(Notifier).SetListener(l)

	// Straddle the first block boundary.
	buf := make([]byte, 200)
	n, err := res.ReadAt(buf, defaultBlockSize-100)
	require.NoError(t, err)
	require.Equal(t, 200, n)
	require.Equal(t, data[defaultBlockSize-100:defaultBlockSize+100], buf)

	// The tail is short and ends the download.
	tail := make([]byte, 2000)
	n, err = res.ReadAt(tail, int64(len(data)-1000))
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 1000, n)
	require.Equal(t, data[len(data)-1000:], tail[:n])

	require.Eventually(t, func() bool {
		_, ended, _ := l.snapshot()
		return ended == 1
	}, time.Second, 5*time.Millisecond)
	_, _, lastErr := l.snapshot()
	require.NoError(t, lastErr)

	require.Equal(t, []ByteRange{{Start: 0, End: int64(len(data))}}, res.CachedRanges())

	// Cached blocks are not fetched again.
	before := gets.Load()
	_, err = res.ReadAt(buf, 10)
	require.NoError(t, err)
	require.Equal(t, before, gets.Load())
}

func TestHTTPResourceWithoutRanges(t *testing.T) {
	data := pattern(5000)
	srv, _ := rangeServer(t, data, false)

	res, err := OpenHTTP(context.Background(), srv.URL, srv.Client(), zerolog.Nop())
	require.NoError(t, err)
	defer res.Close()

	require.False(t, res.Seekable())
	buf := make([]byte, 10)
	n, err := res.ReadAt(buf, 4000)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, data[4000:4010], buf)
}

func TestHTTPResourceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	res, err := OpenHTTP(context.Background(), srv.URL, srv.Client(), zerolog.Nop())
	require.Nil(t, res)
	require.ErrorContains(t, err, "404")
}

type fakeS3 struct {
	data  []byte
	heads atomic.Int64
	gets  atomic.Int64
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.heads.Add(1)
	if aws.ToString(in.Key) != "shows/a.wav" {
		return nil, errors.New("NotFound")
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(f.data)))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gets.Add(1)
	var start, end int64
	if _, err := fmt.Sscanf(aws.ToString(in.Range), "bytes=%d-%d", &start, &end); err != nil {
		return nil, err
	}
	end = min(end+1, int64(len(f.data)))
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.data[start:end]))}, nil
}

func TestS3Resource(t *testing.T) {
	fake := &fakeS3{data: pattern(defaultBlockSize + 500)}
	svc := NewService(&config.Config{}, zerolog.Nop())
	svc.SetS3Client(fake)

	res, err := svc.Open(context.Background(), "s3://bucket/shows/a.wav")
	require.NoError(t, err)
	defer res.Close()

	require.Equal(t, int64(len(fake.data)), res.Length())
	require.True(t, res.Seekable())

	buf := make([]byte, 300)
	n, err := res.ReadAt(buf, defaultBlockSize+100)
	require.NoError(t, err)
	require.Equal(t, 300, n)
	require.Equal(t, fake.data[defaultBlockSize+100:defaultBlockSize+400], buf)

	_, err = svc.Open(context.Background(), "s3://bucket/missing.wav")
	require.ErrorContains(t, err, "head object")
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		key     string
		wantErr bool
	}{
		{uri: "s3://media/shows/ep1.flac", bucket: "media", key: "shows/ep1.flac"},
		{uri: "s3://media/", wantErr: true},
		{uri: "s3:///key", wantErr: true},
		{uri: "http://media/key", wantErr: true},
	}
	for _, tt := range tests {
		bucket, key, err := ParseS3URI(tt.uri)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseS3URI(%q) expected error", tt.uri)
			}
			continue
		}
		if err != nil || bucket != tt.bucket || key != tt.key {
			t.Errorf("ParseS3URI(%q) = %q, %q, %v", tt.uri, bucket, key, err)
		}
	}
}

func TestRemoteResourceClosed(t *testing.T) {
	srv, _ := rangeServer(t, pattern(100), true)
	res, err := OpenHTTP(context.Background(), srv.URL, srv.Client(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, res.Close())
	require.NoError(t, res.Close())
	_, err = res.ReadAt(make([]byte, 10), 0)
	require.ErrorIs(t, err, ErrResourceClosed)
}
