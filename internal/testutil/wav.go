/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// WAVRate is the sample rate of fixtures written by WriteWAV.
const WAVRate = 8000

// EncodeWAV returns a RIFF/WAVE file holding mono 16-bit PCM.
func EncodeWAV(samples []int16) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian
	n := len(samples)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, le, uint32(36+2*n))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, le, uint32(16))
	_ = binary.Write(&buf, le, uint16(1)) // PCM
	_ = binary.Write(&buf, le, uint16(1))
	_ = binary.Write(&buf, le, uint32(WAVRate))
	_ = binary.Write(&buf, le, uint32(WAVRate*2))
	_ = binary.Write(&buf, le, uint16(2))
	_ = binary.Write(&buf, le, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, le, uint32(2*n))
	_ = binary.Write(&buf, le, samples)
	return buf.Bytes()
}

// WriteWAV writes seconds of a low sawtooth to dir/name and returns the path.
func WriteWAV(t testing.TB, dir, name string, seconds float64) string {
	t.Helper()
	samples := make([]int16, int(seconds*WAVRate))
	for i := range samples {
		samples[i] = int16(i % 512)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, EncodeWAV(samples), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
