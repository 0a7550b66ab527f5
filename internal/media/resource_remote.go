/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

const (
	defaultBlockSize = 256 * 1024
	defaultMaxBlocks = 32
)

// rangeFetcher retrieves byte ranges from a remote object.
type rangeFetcher interface {
	// Stat returns the object length (-1 when unknown) and whether ranged reads work.
	Stat(ctx context.Context) (int64, bool, error)
	// Fetch returns up to n bytes starting at off. A short result means end of object.
	Fetch(ctx context.Context, off, n int64) ([]byte, error)
}

// remoteResource adapts a rangeFetcher into a Resource with a block cache and
// one-block read-ahead.
type remoteResource struct {
	uri       string
	fetcher   rangeFetcher
	length    int64
	seekable  bool
	blockSize int64
	maxBlocks int
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	blocks     map[int64][]byte
	order      []int64
	inflight   map[int64]chan struct{}
	listener   ResourceListener
	downloaded int64
	ended      bool
	suspended  bool
	closed     bool
}

func newRemoteResource(ctx context.Context, uri string, fetcher rangeFetcher, logger zerolog.Logger) (*remoteResource, error) {
	length, seekable, err := fetcher.Stat(ctx)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", uri, err)
	}

	rctx, cancel := context.WithCancel(context.Background())
	r := &remoteResource{
		uri:       uri,
		fetcher:   fetcher,
		length:    length,
		seekable:  seekable,
		blockSize: defaultBlockSize,
		maxBlocks: defaultMaxBlocks,
		logger:    logger,
		ctx:       rctx,
		cancel:    cancel,
		blocks:    make(map[int64][]byte),
		inflight:  make(map[int64]chan struct{}),
	}

	logger.Debug().
		Str("uri", uri).
		Int64("length", length).
		Bool("seekable", seekable).
		Msg("remote resource opened")

	return r, nil
}

// ReadAt reads len(p) bytes at off, fetching blocks as needed.
func (r *remoteResource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at negative offset %d", off)
	}

	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if r.length >= 0 && pos >= r.length {
			return n, io.EOF
		}

		idx := pos / r.blockSize
		blk, err := r.block(idx)
		if err != nil {
			return n, err
		}

		within := pos - idx*r.blockSize
		if within >= int64(len(blk)) {
			return n, io.EOF
		}
		n += copy(p[n:], blk[within:])
	}

	r.prefetch(off + int64(n))
	return n, nil
}

func (r *remoteResource) block(idx int64) ([]byte, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrResourceClosed
		}
		if blk, ok := r.blocks[idx]; ok {
			r.touchLocked(idx)
			r.mu.Unlock()
			return blk, nil
		}
		if wait, ok := r.inflight[idx]; ok {
			r.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-r.ctx.Done():
				return nil, ErrResourceClosed
			}
		}
		done := make(chan struct{})
		r.inflight[idx] = done
		r.mu.Unlock()

		blk, err := r.fetcher.Fetch(r.ctx, idx*r.blockSize, r.blockSize)

		r.mu.Lock()
		delete(r.inflight, idx)
		close(done)
		if err != nil {
			closed := r.closed
			listener := r.listener
			r.mu.Unlock()
			if closed || errors.Is(err, context.Canceled) {
				return nil, ErrResourceClosed
			}
			if listener != nil {
				listener.DownloadEnded(err)
			}
			return nil, fmt.Errorf("fetch block %d: %w", idx, err)
		}

		r.blocks[idx] = blk
		r.touchLocked(idx)
		r.evictLocked()
		r.downloaded += int64(len(blk))
		atEnd := int64(len(blk)) < r.blockSize || (r.length >= 0 && (idx+1)*r.blockSize >= r.length)
		notifyEnd := atEnd && !r.ended
		if notifyEnd {
			r.ended = true
		}
		listener := r.listener
		r.mu.Unlock()

		if listener != nil {
			listener.BytesDownloaded(int64(len(blk)))
			if notifyEnd {
				listener.DownloadEnded(nil)
			}
		}
		return blk, nil
	}
}

// prefetch warms the block containing off unless suspended.
func (r *remoteResource) prefetch(off int64) {
	if r.length >= 0 && off >= r.length {
		return
	}
	idx := off / r.blockSize

	r.mu.Lock()
	_, cached := r.blocks[idx]
	_, busy := r.inflight[idx]
	skip := r.closed || r.suspended || cached || busy
	if !skip {
		r.wg.Add(1)
	}
	r.mu.Unlock()

	if skip {
		return
	}
	go func() {
		defer r.wg.Done()
		if _, err := r.block(idx); err != nil && !errors.Is(err, ErrResourceClosed) {
			r.logger.Debug().Err(err).Str("uri", r.uri).Int64("block", idx).Msg("prefetch failed")
		}
	}()
}

func (r *remoteResource) touchLocked(idx int64) {
	for i, v := range r.order {
		if v == idx {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.order = append(r.order, idx)
}

func (r *remoteResource) evictLocked() {
	for len(r.order) > r.maxBlocks {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.blocks, oldest)
	}
}

func (r *remoteResource) URI() string {
	return r.uri
}

func (r *remoteResource) Length() int64 {
	return r.length
}

func (r *remoteResource) Seekable() bool {
	return r.seekable
}

// CachedRanges returns the cached blocks merged into contiguous ranges.
func (r *remoteResource) CachedRanges() []ByteRange {
	r.mu.Lock()
	ranges := make([]ByteRange, 0, len(r.blocks))
	for idx, blk := range r.blocks {
		start := idx * r.blockSize
		ranges = append(ranges, ByteRange{Start: start, End: start + int64(len(blk))})
	}
	r.mu.Unlock()

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })

	merged := ranges[:0]
	for _, br := range ranges {
		if n := len(merged); n > 0 && merged[n-1].End >= br.Start {
			if br.End > merged[n-1].End {
				merged[n-1].End = br.End
			}
			continue
		}
		merged = append(merged, br)
	}
	return merged
}

func (r *remoteResource) SetListener(l ResourceListener) {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
}

// Suspend stops read-ahead until Resume.
func (r *remoteResource) Suspend() {
	r.mu.Lock()
	r.suspended = true
	r.mu.Unlock()
}

func (r *remoteResource) Resume() {
	r.mu.Lock()
	r.suspended = false
	r.mu.Unlock()
}

// Close cancels in-flight fetches and waits for read-ahead to stop.
func (r *remoteResource) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.blocks = make(map[int64][]byte)
	r.order = nil
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	r.logger.Debug().Str("uri", r.uri).Msg("remote resource closed")
	return nil
}
