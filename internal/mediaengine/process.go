/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mediaengine provides decode backends and audio sinks for the
// playback engine: a GStreamer subprocess backend, a native WAV backend and
// a GStreamer audio output.
package mediaengine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// gstProcess wraps a gst-launch subprocess wired to stdin/stdout pipes.
type gstProcess struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	cancel    context.CancelFunc
	stderrBuf *lockedBuffer

	closeOnce sync.Once
	waitErr   error
}

// startProcess launches bin with the given pipeline description. The
// process is killed when ctx is canceled or Close is called.
func startProcess(ctx context.Context, bin, pipeline string, logger zerolog.Logger) (*gstProcess, error) {
	cmdCtx, cancel := context.WithCancel(ctx)
	args := append([]string{"-q", "-e"}, strings.Fields(pipeline)...)
	cmd := exec.CommandContext(cmdCtx, bin, args...)

	stderrBuf := &lockedBuffer{}
	cmd.Stderr = stderrBuf

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("gstreamer stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("gstreamer stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start gstreamer: %w", err)
	}

	logger.Debug().
		Int("pid", cmd.Process.Pid).
		Str("pipeline", pipeline).
		Msg("gstreamer process started")

	return &gstProcess{
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		cancel:    cancel,
		stderrBuf: stderrBuf,
	}, nil
}

// Stderr returns any accumulated stderr output from the process.
func (p *gstProcess) Stderr() string {
	if p == nil || p.stderrBuf == nil {
		return ""
	}
	return strings.TrimSpace(p.stderrBuf.String())
}

// CloseInput signals end of input so the pipeline can drain.
func (p *gstProcess) CloseInput() error {
	if p == nil || p.stdin == nil {
		return nil
	}
	return p.stdin.Close()
}

// Wait reaps the process. Safe to call more than once.
func (p *gstProcess) Wait() error {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	p.closeOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// Close terminates the process.
func (p *gstProcess) Close() error {
	if p == nil {
		return nil
	}
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.Wait()
	}
	return nil
}

// lockedBuffer is a bytes.Buffer safe for the exec copier goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
