// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awmkit/awmkit/internal/awmerr"
)

// writeFakeEngine writes a tiny shell script standing in for the bit
// engine binary: it understands "embed"/"detect" and the pipe vs. file
// argv conventions this adapter emits, and its behavior is driven by the
// envvar FAKE_ENGINE_BEHAVIOR so each test can pick success/no-watermark/
// hang without needing a new script.
func writeFakeEngine(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-engine.sh")

	script := `#!/bin/sh
case "$FAKE_ENGINE_BEHAVIOR" in
  hang)
    sleep 5
    exit 0
    ;;
  not_found)
    exit 127
    ;;
  no_watermark)
    case "$1" in
      detect)
        echo "NO_WATERMARK"
        ;;
    esac
    exit 0
    ;;
esac

case "$1" in
  embed)
    shift
    outfile=""
    infile=""
    while [ $# -gt 0 ]; do
      case "$1" in
        --out) outfile="$2"; shift 2 ;;
        --in) infile="$2"; shift 2 ;;
        *) shift ;;
      esac
    done
    if [ -n "$outfile" ]; then
      cat "$infile" > "$outfile"
    else
      cat
    fi
    ;;
  detect)
    shift
    infile=""
    while [ $# -gt 0 ]; do
      case "$1" in
        --in) infile="$2"; shift 2 ;;
        *) shift ;;
      esac
    done
    if [ -n "$infile" ]; then
      cat "$infile"
    else
      cat
    fi
    ;;
esac
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))
	return path
}

func fakeStereoWAV() []byte {
	out := make([]byte, 64)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}

func TestEmbedPipeModeRoundTrips(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeEngine(t, dir)

	a := New(Config{BinaryPath: bin, Mode: Pipe})
	in := fakeStereoWAV()

	out, err := a.Embed(context.Background(), in, "aabbccddeeff00112233445566778899", 10)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEmbedFileModeRoundTrips(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeEngine(t, dir)

	a := New(Config{BinaryPath: bin, Mode: File, TempDir: dir})
	in := fakeStereoWAV()

	out, err := a.Embed(context.Background(), in, "aabbccddeeff00112233445566778899", 10)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDetectNoWatermarkFound(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeEngine(t, dir)
	t.Setenv("FAKE_ENGINE_BEHAVIOR", "no_watermark")

	a := New(Config{BinaryPath: bin, Mode: Pipe})
	_, err := a.Detect(context.Background(), fakeStereoWAV())
	assert.True(t, awmerr.Is(err, awmerr.NoWatermarkFound))
}

func TestEngineNotFound(t *testing.T) {
	a := New(Config{BinaryPath: filepath.Join(t.TempDir(), "does-not-exist"), Mode: Pipe})
	_, err := a.Embed(context.Background(), fakeStereoWAV(), "00", 10)
	assert.True(t, awmerr.Is(err, awmerr.EngineNotFound))
}

func TestEngineTimeout(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeEngine(t, dir)
	t.Setenv("FAKE_ENGINE_BEHAVIOR", "hang")

	a := New(Config{BinaryPath: bin, Mode: Pipe, Timeout: 50 * time.Millisecond})
	_, err := a.Embed(context.Background(), fakeStereoWAV(), "00", 10)
	assert.True(t, awmerr.Is(err, awmerr.EngineTimeout))
}

func TestEngineRespectsCallerCancellation(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeEngine(t, dir)
	t.Setenv("FAKE_ENGINE_BEHAVIOR", "hang")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	a := New(Config{BinaryPath: bin, Mode: Pipe})
	_, err := a.Embed(ctx, fakeStereoWAV(), "00", 10)
	assert.Error(t, err)
}

func TestThrottleLimitsSpawnRate(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeEngine(t, dir)

	a := New(Config{BinaryPath: bin, Mode: Pipe, SpawnsPerSecond: 1000})
	in := fakeStereoWAV()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := a.Embed(context.Background(), in, "00", 10)
		require.NoError(t, err)
	}
	// Sanity: throttling at 1000/s over 3 calls should not meaningfully
	// slow the test down.
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDefaultStrengthAppliedWhenZero(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeEngine(t, dir)

	a := New(Config{BinaryPath: bin, Mode: Pipe})
	_, err := a.Embed(context.Background(), fakeStereoWAV(), "00", 0)
	require.NoError(t, err)
}
