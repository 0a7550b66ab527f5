/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestGStreamerProcess_Close_Nil(t *testing.T) {
	var p *gstProcess
	if err := p.Close(); err != nil {
		t.Errorf("Close() on nil process returned error: %v", err)
	}
	if got := p.Stderr(); got != "" {
		t.Errorf("Stderr() on nil process = %q, want empty", got)
	}
}

func TestGStreamerProcess_Stderr_Content(t *testing.T) {
	buf := &lockedBuffer{}
	_, _ = buf.Write([]byte("  WARNING: from element decodebin0  \n"))
	p := &gstProcess{stderrBuf: buf}
	if got := p.Stderr(); got != "WARNING: from element decodebin0" {
		t.Errorf("Stderr() = %q", got)
	}
}

func TestStartProcess_InvalidBinary(t *testing.T) {
	_, err := startProcess(context.Background(), "/nonexistent/gst-launch-1.0", "fakesrc ! fakesink", zerolog.Nop())
	if err == nil {
		t.Fatal("expected start error for missing binary")
	}
}

func TestGStreamerBackendDefaults(t *testing.T) {
	b := NewGStreamerBackend(GStreamerOptions{}, zerolog.Nop())
	if b.opts.SampleRate != 44100 || b.opts.Channels != 2 || b.opts.ChunkFrames != 1024 {
		t.Fatalf("unexpected defaults: %+v", b.opts)
	}
	if !strings.Contains(b.pipeline(), "rate=44100,channels=2") {
		t.Fatalf("pipeline missing caps: %s", b.pipeline())
	}
}

func TestGStreamerReaderMissingBinary(t *testing.T) {
	b := NewGStreamerBackend(GStreamerOptions{
		LaunchBin:     "/nonexistent/gst-launch-1.0",
		DiscovererBin: "/nonexistent/gst-discoverer-1.0",
	}, zerolog.Nop())

	r, err := b.NewReader(newMemResource("song.mp3", []byte("ID3")))
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	defer r.Close()

	if _, err := r.ReadMetadata(context.Background()); err == nil {
		t.Fatal("expected ReadMetadata to fail without gst-launch")
	}
	if _, err := r.DecodeNext(context.Background()); err == nil {
		t.Fatal("expected DecodeNext to fail without gst-launch")
	}
}

func TestGStreamerDecodesWAV(t *testing.T) {
	if _, err := exec.LookPath("gst-launch-1.0"); err != nil {
		t.Skip("gst-launch-1.0 not installed")
	}

	data := buildWAV(2, 44100, ramp(2*44100/2), 0)
	b := NewGStreamerBackend(GStreamerOptions{}, zerolog.Nop())
	r, err := b.NewReader(newMemResource("/nonexistent/tone.wav", data))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ctx := context.Background()
	if err := r.Seek(ctx, 0.25); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}

	var first, last float64 = -1, 0
	for {
		f, err := r.DecodeNext(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("DecodeNext() error = %v", err)
		}
		if first < 0 {
			first = f.Time
		}
		last = f.EndTime
	}

	if first > 0.25 || last < 0.45 {
		t.Fatalf("decoded span [%v, %v], want it to cover [0.25, 0.5)", first, last)
	}
}

func TestGStreamerSinkRequiresOpen(t *testing.T) {
	s := NewGStreamerSink("/nonexistent/gst-launch-1.0", zerolog.Nop())
	if err := s.Write([]float32{0, 0}); !errors.Is(err, ErrSinkNotOpen) {
		t.Fatalf("Write() before Open error = %v, want ErrSinkNotOpen", err)
	}
	if err := s.Open(0, 44100); err == nil {
		t.Fatal("expected invalid format to be rejected")
	}
	if err := s.Open(2, 44100); err == nil {
		t.Fatal("expected Open to fail without gst-launch")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestGStreamerSinkVolumeClamped(t *testing.T) {
	s := NewGStreamerSink("", zerolog.Nop())
	s.SetVolume(4)
	if s.gain != 1 {
		t.Fatalf("gain = %v, want 1", s.gain)
	}
	s.SetVolume(-1)
	if s.gain != 0 {
		t.Fatalf("gain = %v, want 0", s.gain)
	}
}
