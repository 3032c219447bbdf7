// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package router plans how a multichannel PCM stream is split into stereo
// pairs (and mono dual-wraps) for the external bit engine, and how the
// per-step results are re-interleaved deterministically (spec §4.5).
//
// The plan is pure data: no channel samples, no I/O. Execution lives in
// internal/executor.
package router

import (
	"sort"

	"github.com/awmkit/awmkit/internal/awmerr"
	"github.com/awmkit/awmkit/pkg/log"
)

const op = "router"

// Channel is one of the named speaker positions a layout can carry.
type Channel string

const (
	FL  Channel = "FL"
	FR  Channel = "FR"
	FC  Channel = "FC"
	LFE Channel = "LFE"
	BL  Channel = "BL"
	BR  Channel = "BR"
	SL  Channel = "SL"
	SR  Channel = "SR"
	TFL Channel = "TFL"
	TFR Channel = "TFR"
	TBL Channel = "TBL"
	TBR Channel = "TBR"
	FLC Channel = "FLC"
	FRC Channel = "FRC"
	TSL Channel = "TSL"
	TSR Channel = "TSR"
)

// Layout names a fixed, ordered channel arrangement.
type Layout string

const (
	Stereo       Layout = "stereo"
	FivePointOne Layout = "5.1"
	FivePointOneTwo Layout = "5.1.2"
	SevenPointOne   Layout = "7.1"
	SevenPointOneFour Layout = "7.1.4"
	NinePointOneSix   Layout = "9.1.6"
	Auto              Layout = "auto"
)

// layoutChannels gives each named layout's fixed, ordered channel list.
// 9.1.6's exact channel-index table is not specified upstream; this order
// (front, center, LFE, back, side, front-center-pair, then top
// front/side/back) is the
// one this implementation fixes and documents — see DESIGN.md.
var layoutChannels = map[Layout][]Channel{
	Stereo:            {FL, FR},
	FivePointOne:      {FL, FR, FC, LFE, BL, BR},
	FivePointOneTwo:   {FL, FR, FC, LFE, BL, BR, TFL, TFR},
	SevenPointOne:     {FL, FR, FC, LFE, BL, BR, SL, SR},
	SevenPointOneFour: {FL, FR, FC, LFE, BL, BR, SL, SR, TFL, TFR, TBL, TBR},
	NinePointOneSix:   {FL, FR, FC, LFE, BL, BR, SL, SR, FLC, FRC, TFL, TFR, TSL, TSR, TBL, TBR},
}

// layoutByCount is the default named layout picked for a given channel
// count, applied when the caller does not pass an explicit layout.
var layoutByCount = map[int]Layout{
	2:  Stereo,
	6:  FivePointOne,
	8:  SevenPointOne,
	12: SevenPointOneFour,
	16: NinePointOneSix,
}

type pairTemplate struct {
	a, b Channel
}

// orderedPairs lists, in front→side→back→top priority, the channel pairs
// the smart policy looks for. FC and LFE never appear here: FC becomes its
// own mono step and LFE is skipped entirely.
var orderedPairs = []pairTemplate{
	{FL, FR},
	{FLC, FRC},
	{SL, SR},
	{BL, BR},
	{TFL, TFR},
	{TSL, TSR},
	{TBL, TBR},
}

// Policy selects how remaining (non-FC, non-LFE) channels are grouped into
// steps.
type Policy string

const (
	// Smart skips LFE, mono-wraps FC, and pairs the rest in
	// front/side/back/top order.
	Smart Policy = "smart"
	// Sequential pairs channels 0-1, 2-3, ... with a trailing mono step
	// if the count is odd. Used for unknown layouts.
	Sequential Policy = "sequential"
)

// StepKind distinguishes a stereo-pair step from a mono dual-mono step.
type StepKind int

const (
	Pair StepKind = iota
	Mono
)

// Step is one unit of route work: a stereo pair or a mono channel,
// expressed as indices into the source channel stream.
type Step struct {
	Kind          StepKind
	SourceIndices []int
	OutputSlot    int
	Label         string
}

// Plan is an ordered, pure-data route plan: the step list plus its count.
type Plan struct {
	StepCount int
	Steps     []Step
}

// DetectLayout returns the named layout conventionally associated with
// channels, or ok=false if no known layout has that channel count (callers
// should fall back to an explicit Sequential plan in that case).
func DetectLayout(channels int) (Layout, bool) {
	l, ok := layoutByCount[channels]
	return l, ok
}

// BuildPlan builds a route plan for a source with the given channel count. If
// layout is Auto (or empty), the layout is inferred from channels via
// DetectLayout; if no named layout matches, the plan falls back to
// Sequential regardless of the requested policy, and a warning is logged.
func BuildPlan(channels int, layout Layout, policy Policy) (*Plan, error) {
	if channels <= 0 {
		return nil, awmerr.New(op, awmerr.InvalidCharset, nil)
	}
	if policy == "" {
		policy = Smart
	}

	if layout == "" || layout == Auto {
		detected, ok := DetectLayout(channels)
		if !ok {
			log.Warnf("router: no named layout for %d channels, falling back to sequential", channels)
			return sequentialPlan(channels), nil
		}
		layout = detected
	}

	labels, ok := layoutChannels[layout]
	if !ok {
		log.Warnf("router: unknown layout %q, falling back to sequential", layout)
		return sequentialPlan(channels), nil
	}
	if len(labels) != channels {
		return nil, awmerr.New(op, awmerr.InvalidCharset, nil)
	}

	switch policy {
	case Sequential:
		return sequentialPlan(channels), nil
	case Smart:
		return smartPlan(labels), nil
	default:
		return nil, awmerr.New(op, awmerr.InvalidCharset, nil)
	}
}

func smartPlan(labels []Channel) *Plan {
	indexOf := make(map[Channel]int, len(labels))
	for i, c := range labels {
		indexOf[c] = i
	}

	used := make(map[int]bool, len(labels))
	var steps []Step

	if fcIdx, ok := indexOf[FC]; ok {
		steps = append(steps, Step{
			Kind:          Mono,
			SourceIndices: []int{fcIdx},
			Label:         string(FC),
		})
		used[fcIdx] = true
	}
	if lfeIdx, ok := indexOf[LFE]; ok {
		used[lfeIdx] = true
	}

	for _, tmpl := range orderedPairs {
		aIdx, aOK := indexOf[tmpl.a]
		bIdx, bOK := indexOf[tmpl.b]
		if !aOK || !bOK || used[aIdx] || used[bIdx] {
			continue
		}
		steps = append(steps, Step{
			Kind:          Pair,
			SourceIndices: []int{aIdx, bIdx},
			Label:         string(tmpl.a) + "-" + string(tmpl.b),
		})
		used[aIdx] = true
		used[bIdx] = true
	}

	// Any channel the layout carries that isn't FC, LFE, or a known pair
	// member (shouldn't happen for the fixed layouts above, but keeps the
	// plan total if a layout table is extended later) becomes its own
	// mono step.
	for i, c := range labels {
		if used[i] {
			continue
		}
		steps = append(steps, Step{
			Kind:          Mono,
			SourceIndices: []int{i},
			Label:         string(c),
		})
		used[i] = true
	}

	return finalizePlan(steps)
}

func sequentialPlan(channels int) *Plan {
	var steps []Step
	i := 0
	for ; i+1 < channels; i += 2 {
		steps = append(steps, Step{
			Kind:          Pair,
			SourceIndices: []int{i, i + 1},
			Label:         "seq",
		})
	}
	if i < channels {
		steps = append(steps, Step{
			Kind:          Mono,
			SourceIndices: []int{i},
			Label:         "seq",
		})
	}
	return finalizePlan(steps)
}

// finalizePlan assigns each step a zero-based OutputSlot by sorting on the
// step's lowest source channel index, so merge can re-interleave by
// OutputSlot regardless of dispatch or completion order.
func finalizePlan(steps []Step) *Plan {
	sortStepsByMinSourceIndex(steps)
	for i := range steps {
		steps[i].OutputSlot = i
	}
	return &Plan{StepCount: len(steps), Steps: steps}
}

func minIndex(s []int) int {
	m := s[0]
	for _, v := range s[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func sortStepsByMinSourceIndex(steps []Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		return minIndex(steps[i].SourceIndices) < minIndex(steps[j].SourceIndices)
	})
}
