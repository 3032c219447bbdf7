// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package runtime wires the core components together into the two
// operations callers actually invoke: embedding a watermark into an audio
// file and detecting/classifying one already embedded (spec §3 data flow).
// It owns no business rules of its own beyond sequencing.
package runtime

import (
	"bytes"
	"context"
	"encoding/hex"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/awmkit/awmkit/internal/awmerr"
	"github.com/awmkit/awmkit/internal/charset"
	"github.com/awmkit/awmkit/internal/clone"
	"github.com/awmkit/awmkit/internal/codec"
	"github.com/awmkit/awmkit/internal/config"
	"github.com/awmkit/awmkit/internal/engine"
	"github.com/awmkit/awmkit/internal/evidence"
	"github.com/awmkit/awmkit/internal/executor"
	"github.com/awmkit/awmkit/internal/keystore"
	"github.com/awmkit/awmkit/internal/recorder"
	"github.com/awmkit/awmkit/internal/router"
	"github.com/awmkit/awmkit/internal/wav"
)

const op = "runtime"

// Runtime is a single, explicitly-owned value wiring the config, key-slot
// store, evidence database, bit engine, and an optional fingerprint
// collaborator together. It carries no package-level state: callers
// construct one at process start and pass it down (see DESIGN.md on why
// this deliberately departs from the teacher's package-singleton DB).
type Runtime struct {
	Config   config.Config
	Keys     *keystore.Store
	Evidence *evidence.DB
	Engine   *engine.Adapter
	FP       recorder.Fingerprinter
}

// New builds a Runtime from its already-constructed collaborators.
func New(cfg config.Config, keys *keystore.Store, db *evidence.DB, eng *engine.Adapter, fp recorder.Fingerprinter) *Runtime {
	return &Runtime{Config: cfg, Keys: keys, Evidence: db, Engine: eng, FP: fp}
}

// EmbedRequest describes one embed invocation.
type EmbedRequest struct {
	Identity    string
	KeySlot     int
	Strength    int
	ForcedEmbed bool
	Input       []byte // a WAV file's raw bytes
	OutputPath  string // recorded in evidence; not written by Runtime itself
}

// EmbedResponse is what Embed returns to the caller.
type EmbedResponse struct {
	Output     []byte // watermarked WAV bytes
	MessageHex string
	Recorder   recorder.Result
}

// Embed implements the embed path: plan → per-pair bit-engine invocation →
// merge → hash/fingerprint/SNR → evidence insert (spec §3 data flow,
// embed path).
func (rt *Runtime) Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error) {
	samples, format, err := wav.DecodeBytes(req.Input)
	if err != nil {
		return nil, awmerr.New(op, awmerr.UnsupportedMetadata, err)
	}

	plan, err := rt.buildPlan(format.Channels)
	if err != nil {
		return nil, err
	}

	tag, err := charset.FromIdentity(req.Identity)
	if err != nil {
		return nil, err
	}

	key, ok := rt.Keys.KeyLookup(req.KeySlot)
	if !ok {
		return nil, awmerr.New(op, awmerr.KeyMissing, nil)
	}

	timestampMinutes := uint32(time.Now().UTC().Unix() / 60)
	wire, err := codec.Encode(codec.VersionCurrent, tag, key, req.KeySlot, timestampMinutes)
	if err != nil {
		return nil, err
	}
	messageHex := hex.EncodeToString(wire[:])

	strength := req.Strength
	if strength <= 0 {
		strength = engine.DefaultStrength
	}

	process := func(ctx context.Context, step router.Step, in []float32) ([]float32, error) {
		return rt.embedStep(ctx, step, in, format.SampleRate, messageHex, strength)
	}

	results, err := executor.Execute(ctx, plan, sliceStep(samples, format.Channels), process, rt.Config.MaxWorkers)
	if err != nil {
		return nil, err
	}

	merged := mergeOutput(samples, format.Channels, plan, results)

	var outBuf bytes.Buffer
	if err := wav.Encode(&outBuf, merged, format); err != nil {
		return nil, awmerr.New(op, awmerr.UnsupportedMetadata, err)
	}

	keyID := keystore.KeyID(keystore.Fingerprint(key))
	meta := recorder.RecordMeta{
		FilePath:         req.OutputPath,
		Tag:              string(tag),
		Identity:         tag.Identity(),
		Version:          codec.VersionCurrent,
		KeySlot:          req.KeySlot,
		TimestampMinutes: timestampMinutes,
		MessageHex:       messageHex,
		KeyID:            keyID,
		IsForcedEmbed:    req.ForcedEmbed,
	}

	inputPCM := recorder.PCM{Samples: samples, SampleRate: format.SampleRate, Channels: format.Channels}
	outputPCM := recorder.PCM{Samples: merged, SampleRate: format.SampleRate, Channels: format.Channels}
	rec := recorder.Record(rt.Evidence, rt.FP, meta, inputPCM, outputPCM)

	return &EmbedResponse{Output: outBuf.Bytes(), MessageHex: messageHex, Recorder: rec}, nil
}

// DetectResponse is what Detect returns.
type DetectResponse struct {
	Message  *codec.Message
	KeyID    string
	CloneRes clone.Result
}

// Detect implements the detect path: plan → parallel per-pair bit-engine
// detect → merge-best → MAC verify → clone classification (spec §3 data
// flow, detect path).
func (rt *Runtime) Detect(ctx context.Context, input []byte) (*DetectResponse, error) {
	samples, format, err := wav.DecodeBytes(input)
	if err != nil {
		return nil, awmerr.New(op, awmerr.UnsupportedMetadata, err)
	}

	plan, err := rt.buildPlan(format.Channels)
	if err != nil {
		return nil, err
	}

	best, err := rt.detectAll(ctx, plan, samples, format)
	if err != nil {
		return nil, err
	}
	if best == nil {
		return nil, awmerr.New(op, awmerr.NoWatermarkFound, nil)
	}

	msg, err := codec.Decode(best.RawMessage16, rt.Keys.KeyLookup)
	if err != nil {
		return nil, err
	}

	candidateKey, _ := rt.Keys.Load(msg.Slot)
	keyID := keystore.KeyID(keystore.Fingerprint(candidateKey))
	candidate := clone.Candidate{
		Identity: msg.Identity(),
		KeySlot:  msg.Slot,
		KeyID:    keyID,
		PCM:      recorder.PCM{Samples: samples, SampleRate: format.SampleRate, Channels: format.Channels},
	}
	cloneRes := clone.Check(rt.Evidence, rt.FP, candidate, rt.Config.Thresholds())

	return &DetectResponse{Message: &msg, KeyID: keyID, CloneRes: cloneRes}, nil
}

func (rt *Runtime) buildPlan(channels int) (*router.Plan, error) {
	layout, ok := router.DetectLayout(channels)
	if !ok {
		layout = router.Auto
	}
	return router.BuildPlan(channels, layout, rt.Config.Policy())
}

// embedStep wraps in (one step's source channels, interleaved) as a
// stereo WAV, invokes the bit engine, and reduces the stereo result back
// to the step's original channel count.
func (rt *Runtime) embedStep(ctx context.Context, step router.Step, in []float32, sampleRate int, messageHex string, strength int) ([]float32, error) {
	stereo := toStereo(in, step.Kind)

	var buf bytes.Buffer
	if err := wav.Encode(&buf, stereo, wav.Format{SampleRate: sampleRate, Channels: 2, Float: true}); err != nil {
		return nil, awmerr.New(op, awmerr.UnsupportedMetadata, err)
	}

	out, err := rt.Engine.Embed(ctx, buf.Bytes(), messageHex, strength)
	if err != nil {
		return nil, err
	}

	outSamples, _, err := wav.DecodeBytes(out)
	if err != nil {
		return nil, awmerr.New(op, awmerr.EngineExecFailure, err)
	}

	return fromStereo(outSamples, step.Kind), nil
}

// detectAll runs Detect on every step in plan, bounded by the configured
// worker count, and returns the highest-scoring non-nil result (spec:
// "merge best result"). A step reporting NoWatermarkFound does not fail
// the whole detect; it simply contributes no candidate.
func (rt *Runtime) detectAll(ctx context.Context, plan *router.Plan, samples []float32, format wav.Format) (*engine.DetectResult, error) {
	results := make([]*engine.DetectResult, plan.StepCount)

	g, gctx := errgroup.WithContext(ctx)
	workers := rt.Config.MaxWorkers
	if workers <= 0 {
		workers = executor.MaxWorkers()
	}
	g.SetLimit(workers)

	for _, step := range plan.Steps {
		step := step
		g.Go(func() error {
			in := extractStep(samples, format.Channels, step)
			stereo := toStereo(in, step.Kind)

			var buf bytes.Buffer
			if err := wav.Encode(&buf, stereo, wav.Format{SampleRate: format.SampleRate, Channels: 2, Float: true}); err != nil {
				return awmerr.New(op, awmerr.UnsupportedMetadata, err)
			}

			res, err := rt.Engine.Detect(gctx, buf.Bytes())
			if err != nil {
				if kind, ok := awmerr.Of(err); ok && kind == awmerr.NoWatermarkFound {
					return nil
				}
				return err
			}
			results[step.OutputSlot] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var best *engine.DetectResult
	for _, r := range results {
		if r == nil {
			continue
		}
		if best == nil || r.Score > best.Score {
			best = r
		}
	}
	return best, nil
}

// sliceStep adapts extractStep to executor.Execute's ProcessStep-slicing
// signature.
func sliceStep(samples []float32, channels int) func(router.Step) []float32 {
	return func(step router.Step) []float32 {
		return extractStep(samples, channels, step)
	}
}

// extractStep pulls one step's source channels out of an interleaved
// multichannel buffer, itself interleaved in SourceIndices order.
func extractStep(samples []float32, channels int, step router.Step) []float32 {
	frames := len(samples) / channels
	out := make([]float32, frames*len(step.SourceIndices))
	for f := 0; f < frames; f++ {
		for j, ch := range step.SourceIndices {
			out[f*len(step.SourceIndices)+j] = samples[f*channels+ch]
		}
	}
	return out
}

// toStereo expands a step's extracted samples into interleaved stereo,
// dual-wrapping a mono step's single channel into both stereo channels
// (spec §4.5: "duplicated into both stereo channels").
func toStereo(in []float32, kind router.StepKind) []float32 {
	if kind == router.Pair {
		return in
	}
	out := make([]float32, len(in)*2)
	for i, s := range in {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// fromStereo reduces the bit engine's stereo result back to a step's
// original channel count: a pair step passes through unchanged, a mono
// step is reduced by averaging L and R (spec §4.5: "reduced back").
func fromStereo(stereo []float32, kind router.StepKind) []float32 {
	if kind == router.Pair {
		return stereo
	}
	frames := len(stereo) / 2
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		out[f] = (stereo[f*2] + stereo[f*2+1]) / 2
	}
	return out
}

// mergeOutput reassembles per-step results into a full interleaved
// multichannel buffer the same shape as input. Channels that no step
// touched (LFE, and any channel omitted by an unusual plan) pass through
// from the original samples unchanged.
func mergeOutput(samples []float32, channels int, plan *router.Plan, results [][]float32) []float32 {
	frames := len(samples) / channels
	out := make([]float32, len(samples))
	copy(out, samples)

	for _, step := range plan.Steps {
		stepOut := results[step.OutputSlot]
		for f := 0; f < frames; f++ {
			for j, ch := range step.SourceIndices {
				out[f*channels+ch] = stepOut[f*len(step.SourceIndices)+j]
			}
		}
	}
	return out
}
