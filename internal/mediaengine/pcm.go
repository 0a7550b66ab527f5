/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"encoding/binary"
	"math"
)

// s16leToFloat converts little-endian signed 16-bit PCM to float samples.
func s16leToFloat(dst []float32, src []byte) []float32 {
	n := len(src) / 2
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range n {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(src[2*i:]))) / 32768
	}
	return dst
}

// s24leToFloat converts packed little-endian signed 24-bit PCM.
func s24leToFloat(dst []float32, src []byte) []float32 {
	n := len(src) / 3
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range n {
		b := src[3*i:]
		v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
		dst[i] = float32(v) / 8388608
	}
	return dst
}

// f32leToFloat decodes little-endian IEEE float samples.
func f32leToFloat(dst []float32, src []byte) []float32 {
	n := len(src) / 4
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range n {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[4*i:]))
	}
	return dst
}

// floatToF32le encodes samples scaled by gain as little-endian floats.
func floatToF32le(dst []byte, src []float32, gain float32) []byte {
	n := len(src) * 4
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i, s := range src {
		binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(s*gain))
	}
	return dst
}
