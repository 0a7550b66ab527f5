/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// FileResource serves a local file. The whole file counts as downloaded.
type FileResource struct {
	path   string
	size   int64
	logger zerolog.Logger

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// OpenFile opens a local file resource.
func OpenFile(path string, logger zerolog.Logger) (*FileResource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("open file: %s is a directory", abs)
	}

	logger.Debug().Str("path", abs).Int64("size", info.Size()).Msg("file resource opened")

	return &FileResource{
		path:   abs,
		size:   info.Size(),
		file:   f,
		logger: logger,
	}, nil
}

// ReadAt reads len(p) bytes at off.
func (r *FileResource) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	f := r.file
	closed := r.closed
	r.mu.Unlock()

	if closed {
		return 0, ErrResourceClosed
	}
	return f.ReadAt(p, off)
}

// URI returns the file:// URI of the resource.
func (r *FileResource) URI() string {
	return (&url.URL{Scheme: "file", Path: r.path}).String()
}

// Path returns the absolute file path.
func (r *FileResource) Path() string {
	return r.path
}

// Length returns the file size.
func (r *FileResource) Length() int64 {
	return r.size
}

// Seekable is always true for local files.
func (r *FileResource) Seekable() bool {
	return true
}

// CachedRanges reports the whole file.
func (r *FileResource) CachedRanges() []ByteRange {
	return []ByteRange{{Start: 0, End: r.size}}
}

// SetListener reports the file as fully downloaded.
func (r *FileResource) SetListener(l ResourceListener) {
	if l == nil {
		return
	}
	l.BytesDownloaded(r.size)
	l.DownloadEnded(nil)
}

// Close releases the file handle. It is safe to call more than once.
func (r *FileResource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.logger.Debug().Str("path", r.path).Msg("file resource closed")
	return r.file.Close()
}
