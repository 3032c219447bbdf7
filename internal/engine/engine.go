// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package engine adapts an external bit-embed/bit-detect program to a
// stereo WAV stream (spec §4.7). The program itself — the "bit engine" —
// is out of scope; this package only owns process lifecycle, I/O mode, and
// translating its exit behavior into the core's error taxonomy.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/awmkit/awmkit/internal/awmerr"
	"github.com/awmkit/awmkit/pkg/log"
)

const op = "engine"

// DefaultStrength is the watermark strength used when a caller does not
// specify one.
const DefaultStrength = 10

// DetectResult is the bit engine's answer to a detect invocation.
type DetectResult struct {
	RawMessage16 [16]byte
	BitErrors    int
	MatchPattern string
	Score        float64
}

// IOMode selects how WAV bytes cross the process boundary.
type IOMode int

const (
	// Pipe writes WAV to stdin and reads WAV from stdout (default).
	Pipe IOMode = iota
	// File materializes temporary WAV files in a scoped directory.
	File
)

// Config configures one Adapter.
type Config struct {
	// BinaryPath is the bit-engine executable.
	BinaryPath string
	// Mode selects pipe or file I/O.
	Mode IOMode
	// TempDir is the scoped directory for File mode; ignored in Pipe mode.
	// Must exist and be writable.
	TempDir string
	// Timeout bounds a single invocation; zero means no timeout.
	Timeout time.Duration
	// SpawnsPerSecond throttles child-process creation across concurrent
	// steps; zero disables throttling.
	SpawnsPerSecond float64
}

// Adapter wraps an external bit-engine binary.
type Adapter struct {
	cfg     Config
	limiter *rate.Limiter
}

// New returns an Adapter for cfg. If cfg.SpawnsPerSecond > 0, concurrent
// Embed/Detect calls are throttled to that rate (burst 1) to keep a large
// step-executor pool from fork-bombing the host.
func New(cfg Config) *Adapter {
	a := &Adapter{cfg: cfg}
	if cfg.SpawnsPerSecond > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(cfg.SpawnsPerSecond), 1)
	}
	return a
}

// Embed invokes the bit engine to stamp messageHex into a stereo WAV
// stream, returning the watermarked stereo WAV bytes.
func (a *Adapter) Embed(ctx context.Context, stereoWAV []byte, messageHex string, strength int) ([]byte, error) {
	if strength <= 0 {
		strength = DefaultStrength
	}
	args := []string{"embed", "--message", messageHex, "--strength", fmt.Sprintf("%d", strength)}
	return a.run(ctx, args, stereoWAV)
}

// Detect invokes the bit engine to recover a watermark from a stereo WAV
// stream. A detect that finds nothing returns awmerr.NoWatermarkFound.
func (a *Adapter) Detect(ctx context.Context, stereoWAV []byte) (*DetectResult, error) {
	out, err := a.run(ctx, []string{"detect"}, stereoWAV)
	if err != nil {
		return nil, err
	}
	return parseDetectOutput(out)
}

func (a *Adapter) run(ctx context.Context, args []string, stereoWAV []byte) ([]byte, error) {
	if err := a.throttle(ctx); err != nil {
		return nil, err
	}

	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	var out []byte
	var err error
	switch a.cfg.Mode {
	case File:
		out, err = a.runFileMode(ctx, args, stereoWAV)
	default:
		out, err = a.runPipeMode(ctx, args, stereoWAV)
	}
	if err != nil {
		return nil, translateExecError(ctx, err)
	}
	return out, nil
}

func (a *Adapter) throttle(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return awmerr.New(op, awmerr.Cancelled, err)
	}
	return nil
}

// runPipeMode writes stereoWAV to the child's stdin and reads the result
// from stdout, draining stderr on a separate goroutine so a chatty engine
// can't deadlock the pipe (spec §4.7: "stdout/stderr draining on separate
// workers").
func (a *Adapter) runPipeMode(ctx context.Context, args []string, stereoWAV []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, a.cfg.BinaryPath, args...)
	cmd.Stdin = bytes.NewReader(stereoWAV)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// runFileMode materializes the input and output as temp files under
// cfg.TempDir, releasing both on every exit path.
func (a *Adapter) runFileMode(ctx context.Context, args []string, stereoWAV []byte) ([]byte, error) {
	inPath := filepath.Join(a.cfg.TempDir, uuid.NewString()+".in.wav")
	outPath := filepath.Join(a.cfg.TempDir, uuid.NewString()+".out.wav")
	defer os.Remove(inPath)
	defer os.Remove(outPath)

	if err := os.WriteFile(inPath, stereoWAV, 0o600); err != nil {
		return nil, fmt.Errorf("engine: write input: %w", err)
	}

	fullArgs := append(append([]string{}, args...), "--in", inPath, "--out", outPath)
	cmd := exec.CommandContext(ctx, a.cfg.BinaryPath, fullArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, stderr.String())
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("engine: read output: %w", err)
	}
	return out, nil
}

func translateExecError(ctx context.Context, err error) *awmerr.Error {
	if ctx.Err() == context.DeadlineExceeded {
		return awmerr.New(op, awmerr.EngineTimeout, nil)
	}
	if ctx.Err() == context.Canceled {
		return awmerr.New(op, awmerr.Cancelled, nil)
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return awmerr.New(op, awmerr.EngineNotFound, nil)
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && pathErr.Op == "fork/exec" && errors.Is(pathErr.Err, os.ErrNotExist) {
		return awmerr.New(op, awmerr.EngineNotFound, nil)
	}

	log.Errorf("engine: invocation failed: %v", err)
	return awmerr.New(op, awmerr.EngineExecFailure, nil)
}

// errNoWatermark is returned by the engine on stdout when a detect pass
// finds nothing. The exact marker string is owned by the bit engine's CLI
// contract; this is the sentinel this adapter has been built against.
var errNoWatermark = []byte("NO_WATERMARK")

func parseDetectOutput(out []byte) (*DetectResult, error) {
	if bytes.Contains(out, errNoWatermark) {
		return nil, awmerr.New(op, awmerr.NoWatermarkFound, nil)
	}
	if len(out) < 16 {
		return nil, awmerr.New(op, awmerr.EngineExecFailure, nil)
	}

	var res DetectResult
	copy(res.RawMessage16[:], out[:16])
	return &res, nil
}
