// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wav reads and writes the minimal subset of the RIFF/WAVE
// container the bit-engine adapter and the channel router need: canonical
// PCM ("fmt " chunk code 1, 16/24/32-bit integer samples) and IEEE float
// (code 3, 32-bit float samples), single "data" chunk. Samples are exposed
// as interleaved float32 in [-1, 1] regardless of the file's on-disk
// sample format.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	fmtPCM   = 1
	fmtFloat = 3
)

// Format describes a decoded or to-be-encoded PCM stream.
type Format struct {
	SampleRate int
	Channels   int
	// BitsPerSample controls the on-disk sample width when encoding.
	// Decode always reports the width found in the file. 16, 24, and 32
	// are supported for integer PCM; Float implies 32.
	BitsPerSample int
	// Float selects IEEE-float encoding (fmt code 3) instead of integer
	// PCM (fmt code 1).
	Float bool
}

// chunkHeader is the 8-byte id+size prefix shared by every RIFF chunk.
type chunkHeader struct {
	ID   [4]byte
	Size uint32
}

// Decode parses a RIFF/WAVE stream into interleaved float32 samples.
func Decode(r io.Reader) ([]float32, Format, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Format{}, fmt.Errorf("wav: read: %w", err)
	}
	return DecodeBytes(data)
}

// DecodeBytes is Decode over an in-memory buffer.
func DecodeBytes(data []byte) ([]float32, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("wav: not a RIFF/WAVE stream")
	}

	var (
		format     Format
		audioCode  uint16
		sampleData []byte
		sawFmt     bool
		sawData    bool
	)

	pos := 12
	for pos+8 <= len(data) {
		var hdr chunkHeader
		copy(hdr.ID[:], data[pos:pos+4])
		hdr.Size = binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8
		end := body + int(hdr.Size)
		if end > len(data) {
			end = len(data)
		}

		switch string(hdr.ID[:]) {
		case "fmt ":
			if end-body < 16 {
				return nil, Format{}, fmt.Errorf("wav: truncated fmt chunk")
			}
			audioCode = binary.LittleEndian.Uint16(data[body : body+2])
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			format.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			sawFmt = true
		case "data":
			sampleData = data[body:end]
			sawData = true
		}

		// Chunks are word-aligned: a chunk with an odd size has one pad byte.
		pos = end
		if hdr.Size%2 == 1 {
			pos++
		}
	}

	if !sawFmt || !sawData {
		return nil, Format{}, fmt.Errorf("wav: missing fmt or data chunk")
	}
	if format.Channels == 0 {
		return nil, Format{}, fmt.Errorf("wav: zero channels")
	}

	format.Float = audioCode == fmtFloat
	if audioCode != fmtPCM && audioCode != fmtFloat {
		return nil, Format{}, fmt.Errorf("wav: unsupported audio format code %d", audioCode)
	}

	samples, err := decodeSamples(sampleData, format)
	if err != nil {
		return nil, Format{}, err
	}
	return samples, format, nil
}

func decodeSamples(raw []byte, format Format) ([]float32, error) {
	bytesPerSample := format.BitsPerSample / 8
	if bytesPerSample == 0 {
		return nil, fmt.Errorf("wav: invalid bits per sample %d", format.BitsPerSample)
	}

	n := len(raw) / bytesPerSample
	out := make([]float32, n)

	if format.Float {
		if format.BitsPerSample != 32 {
			return nil, fmt.Errorf("wav: unsupported float bit depth %d", format.BitsPerSample)
		}
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
			out[i] = math.Float32frombits(bits)
		}
		return out, nil
	}

	switch format.BitsPerSample {
	case 16:
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
			out[i] = float32(v) / 32768.0
		}
	case 24:
		for i := 0; i < n; i++ {
			b := raw[i*3 : i*3+3]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= ^int32(0xFFFFFF)
			}
			out[i] = float32(v) / 8388608.0
		}
	case 32:
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(raw[i*4 : i*4+4]))
			out[i] = float32(float64(v) / 2147483648.0)
		}
	default:
		return nil, fmt.Errorf("wav: unsupported integer bit depth %d", format.BitsPerSample)
	}
	return out, nil
}

// Encode writes samples as a canonical RIFF/WAVE stream in the given
// format.
func Encode(w io.Writer, samples []float32, format Format) error {
	if format.Channels <= 0 {
		return fmt.Errorf("wav: channels must be positive")
	}

	bitsPerSample := format.BitsPerSample
	audioCode := uint16(fmtPCM)
	if format.Float {
		bitsPerSample = 32
		audioCode = fmtFloat
	}
	if bitsPerSample == 0 {
		bitsPerSample = 16
	}

	bytesPerSample := bitsPerSample / 8
	blockAlign := bytesPerSample * format.Channels
	byteRate := format.SampleRate * blockAlign
	dataSize := len(samples) * bytesPerSample

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	writeU32(&buf, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	writeU32(&buf, 16)
	writeU16(&buf, audioCode)
	writeU16(&buf, uint16(format.Channels))
	writeU32(&buf, uint32(format.SampleRate))
	writeU32(&buf, uint32(byteRate))
	writeU16(&buf, uint16(blockAlign))
	writeU16(&buf, uint16(bitsPerSample))

	buf.WriteString("data")
	writeU32(&buf, uint32(dataSize))

	if err := encodeSamples(&buf, samples, format.Float, bitsPerSample); err != nil {
		return err
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func encodeSamples(buf *bytes.Buffer, samples []float32, float bool, bitsPerSample int) error {
	if float {
		for _, s := range samples {
			writeU32(buf, math.Float32bits(s))
		}
		return nil
	}

	switch bitsPerSample {
	case 16:
		for _, s := range samples {
			writeU16(buf, uint16(int16(clamp(s)*32767)))
		}
	case 24:
		for _, s := range samples {
			v := int32(clamp(s) * 8388607)
			buf.WriteByte(byte(v))
			buf.WriteByte(byte(v >> 8))
			buf.WriteByte(byte(v >> 16))
		}
	case 32:
		for _, s := range samples {
			writeU32(buf, uint32(int32(float64(clamp(s))*2147483647.0)))
		}
	default:
		return fmt.Errorf("wav: unsupported integer bit depth %d", bitsPerSample)
	}
	return nil
}

func clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}
