/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/friendsincode/grimnir_playback/internal/media"
)

// WAV errors.
var (
	ErrNotWAV            = errors.New("wav: not a RIFF/WAVE stream")
	ErrUnsupportedFormat = errors.New("wav: unsupported sample format")
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// WAVBackend decodes RIFF/WAVE PCM (16/24-bit integer, 32-bit float)
// directly from the resource without a subprocess.
type WAVBackend struct {
	chunkFrames int
}

// NewWAVBackend creates a WAV backend delivering chunkFrames sample frames
// per decoded Frame (1024 when zero).
func NewWAVBackend(chunkFrames int) *WAVBackend {
	if chunkFrames <= 0 {
		chunkFrames = 1024
	}
	return &WAVBackend{chunkFrames: chunkFrames}
}

func (b *WAVBackend) Name() string { return "wav" }

func (b *WAVBackend) NewReader(res media.Resource) (media.Reader, error) {
	if res == nil {
		return nil, errors.New("wav: nil resource")
	}
	return &wavReader{res: res, chunkFrames: b.chunkFrames}, nil
}

type wavFormat struct {
	format     uint16
	channels   int
	rate       int
	blockAlign int
	bits       int
}

type wavReader struct {
	res         media.Resource
	chunkFrames int

	parsed    bool
	fmt       wavFormat
	dataStart int64
	dataEnd   int64 // -1 when the data chunk runs to the end of an unsized stream
	pos       int64 // bytes consumed from dataStart
	buf       []byte
}

func (r *wavReader) ReadMetadata(ctx context.Context) (media.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return media.Metadata{}, err
	}
	if err := r.parseHeader(); err != nil {
		return media.Metadata{}, err
	}

	md := media.Metadata{
		Channels: r.fmt.channels,
		Rate:     r.fmt.rate,
		HasAudio: true,
		Duration: -1,
		Tags:     map[string]string{"codec": r.codec()},
	}
	if r.dataEnd >= 0 {
		frames := (r.dataEnd - r.dataStart) / int64(r.fmt.blockAlign)
		md.Duration = float64(frames) / float64(r.fmt.rate)
	}
	return md, nil
}

func (r *wavReader) codec() string {
	if r.fmt.format == wavFormatFloat {
		return "pcm_f32le"
	}
	return fmt.Sprintf("pcm_s%dle", r.fmt.bits)
}

func (r *wavReader) parseHeader() error {
	if r.parsed {
		return nil
	}

	var riff [12]byte
	if err := readFullAt(r.res, riff[:], 0); err != nil {
		return fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return ErrNotWAV
	}

	off := int64(12)
	haveFmt := false
	for {
		var hdr [8]byte
		if err := readFullAt(r.res, hdr[:], off); err != nil {
			return fmt.Errorf("wav: reading chunk header at %d: %w", off, err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		body := off + 8

		switch id {
		case "fmt ":
			if err := r.parseFmt(body, size); err != nil {
				return err
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return fmt.Errorf("%w: data chunk before fmt", ErrNotWAV)
			}
			r.dataStart = body
			r.dataEnd = body + size
			// Streaming writers leave the size unset or too large.
			if length := r.res.Length(); size == math.MaxUint32 || (length >= 0 && r.dataEnd > length) {
				if length >= 0 {
					r.dataEnd = length
				} else {
					r.dataEnd = -1
				}
			}
			if r.dataEnd >= 0 {
				// Drop a trailing partial block.
				r.dataEnd -= (r.dataEnd - r.dataStart) % int64(r.fmt.blockAlign)
			}
			r.parsed = true
			return nil
		}

		off = body + size + size%2
	}
}

func (r *wavReader) parseFmt(off, size int64) error {
	if size < 16 {
		return fmt.Errorf("%w: fmt chunk too short", ErrNotWAV)
	}
	n := min(size, 40)
	raw := make([]byte, n)
	if err := readFullAt(r.res, raw, off); err != nil {
		return fmt.Errorf("wav: reading fmt chunk: %w", err)
	}

	f := wavFormat{
		format:     binary.LittleEndian.Uint16(raw[0:2]),
		channels:   int(binary.LittleEndian.Uint16(raw[2:4])),
		rate:       int(binary.LittleEndian.Uint32(raw[4:8])),
		blockAlign: int(binary.LittleEndian.Uint16(raw[12:14])),
		bits:       int(binary.LittleEndian.Uint16(raw[14:16])),
	}
	if f.format == wavFormatExtensible {
		if n < 26 {
			return fmt.Errorf("%w: truncated extensible fmt", ErrNotWAV)
		}
		f.format = binary.LittleEndian.Uint16(raw[24:26])
	}

	switch {
	case f.channels <= 0 || f.rate <= 0 || f.blockAlign <= 0:
		return fmt.Errorf("%w: %d ch @ %d Hz", ErrUnsupportedFormat, f.channels, f.rate)
	case f.format == wavFormatPCM && (f.bits == 16 || f.bits == 24):
	case f.format == wavFormatFloat && f.bits == 32:
	default:
		return fmt.Errorf("%w: format %d, %d bits", ErrUnsupportedFormat, f.format, f.bits)
	}
	if f.blockAlign != f.channels*f.bits/8 {
		return fmt.Errorf("%w: block align %d", ErrUnsupportedFormat, f.blockAlign)
	}
	r.fmt = f
	return nil
}

func (r *wavReader) DecodeNext(ctx context.Context) (*media.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.parseHeader(); err != nil {
		return nil, err
	}

	want := int64(r.chunkFrames * r.fmt.blockAlign)
	start := r.dataStart + r.pos
	if r.dataEnd >= 0 {
		if start >= r.dataEnd {
			return nil, io.EOF
		}
		want = min(want, r.dataEnd-start)
	}

	if int64(cap(r.buf)) < want {
		r.buf = make([]byte, want)
	}
	buf := r.buf[:want]
	n, err := r.res.ReadAt(buf, start)
	n -= n % r.fmt.blockAlign
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wav: read at %d: %w", start, err)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("wav: read at %d: %w", start, err)
	}

	var samples []float32
	switch {
	case r.fmt.format == wavFormatFloat:
		samples = f32leToFloat(nil, buf[:n])
	case r.fmt.bits == 24:
		samples = s24leToFloat(nil, buf[:n])
	default:
		samples = s16leToFloat(nil, buf[:n])
	}

	firstFrame := r.pos / int64(r.fmt.blockAlign)
	frames := int64(n / r.fmt.blockAlign)
	r.pos += int64(n)

	rate := float64(r.fmt.rate)
	return &media.Frame{
		Kind:    media.FrameAudio,
		Time:    float64(firstFrame) / rate,
		EndTime: float64(firstFrame+frames) / rate,
		Offset:  start,
		Samples: samples,
	}, nil
}

// Seek moves to the sample frame containing target.
func (r *wavReader) Seek(ctx context.Context, target float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.parseHeader(); err != nil {
		return err
	}
	if target < 0 || math.IsNaN(target) {
		target = 0
	}

	frame := int64(math.Floor(target * float64(r.fmt.rate)))
	pos := frame * int64(r.fmt.blockAlign)
	if r.dataEnd >= 0 {
		pos = min(pos, r.dataEnd-r.dataStart)
	}
	r.pos = pos
	return nil
}

func (r *wavReader) Position() int64 {
	return r.dataStart + r.pos
}

func (r *wavReader) Close() error { return nil }

// readFullAt fills p or reports why it could not.
func readFullAt(ra io.ReaderAt, p []byte, off int64) error {
	n, err := ra.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return err
}
