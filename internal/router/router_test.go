// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLayoutKnownCounts(t *testing.T) {
	cases := map[int]Layout{
		2:  Stereo,
		6:  FivePointOne,
		8:  SevenPointOne,
		12: SevenPointOneFour,
		16: NinePointOneSix,
	}
	for count, want := range cases {
		got, ok := DetectLayout(count)
		assert.True(t, ok, "count %d", count)
		assert.Equal(t, want, got, "count %d", count)
	}

	_, ok := DetectLayout(3)
	assert.False(t, ok)
}

func TestBuildPlanStereoSmart(t *testing.T) {
	plan, err := BuildPlan(2, Auto, Smart)
	require.NoError(t, err)
	require.Equal(t, 1, plan.StepCount)
	assert.Equal(t, Pair, plan.Steps[0].Kind)
	assert.Equal(t, []int{0, 1}, plan.Steps[0].SourceIndices)
	assert.Equal(t, 0, plan.Steps[0].OutputSlot)
}

func TestBuildPlanFivePointOneSmartSkipsLFEAndMonoWrapsFC(t *testing.T) {
	// FL FR FC LFE BL BR
	plan, err := BuildPlan(6, Auto, Smart)
	require.NoError(t, err)
	require.Equal(t, 3, plan.StepCount)

	var sawLFE bool
	for _, s := range plan.Steps {
		for _, idx := range s.SourceIndices {
			if idx == 3 { // LFE index in 5.1
				sawLFE = true
			}
		}
	}
	assert.False(t, sawLFE, "LFE must never appear in a step")

	// Step order must be ascending OutputSlot, matching source order:
	// FC (idx 2) < FL-FR (idx 0-1)? No: lowest source index wins, so
	// FL-FR (min 0) comes before FC (min 2) comes before BL-BR (min 4).
	assert.Equal(t, Pair, plan.Steps[0].Kind)
	assert.Equal(t, []int{0, 1}, plan.Steps[0].SourceIndices)
	assert.Equal(t, Mono, plan.Steps[1].Kind)
	assert.Equal(t, []int{2}, plan.Steps[1].SourceIndices)
	assert.Equal(t, Pair, plan.Steps[2].Kind)
	assert.Equal(t, []int{4, 5}, plan.Steps[2].SourceIndices)

	for i, s := range plan.Steps {
		assert.Equal(t, i, s.OutputSlot)
	}
}

func TestBuildPlanSevenPointOneSmartStepKinds(t *testing.T) {
	// FL FR FC LFE BL BR SL SR
	plan, err := BuildPlan(8, Auto, Smart)
	require.NoError(t, err)
	require.Equal(t, 4, plan.StepCount)

	kinds := make([]StepKind, len(plan.Steps))
	for i, s := range plan.Steps {
		kinds[i] = s.Kind
	}
	assert.Equal(t, []StepKind{Pair, Mono, Pair, Pair}, kinds)
}

func TestBuildPlanEightChannelsOverrideToFivePointOneTwo(t *testing.T) {
	plan, err := BuildPlan(8, FivePointOneTwo, Smart)
	require.NoError(t, err)
	require.Equal(t, 4, plan.StepCount) // FL-FR, FC, BL-BR, TFL-TFR
}

func TestBuildPlanExplicitLayoutChannelMismatchErrors(t *testing.T) {
	plan, err := BuildPlan(5, Stereo, Sequential)
	// Stereo's channel table has length 2, mismatched with channels=5 -> error.
	assert.Error(t, err)
	assert.Nil(t, plan)
}

func TestBuildPlanSequentialUnknownLayoutFallsBack(t *testing.T) {
	plan, err := BuildPlan(5, Auto, Smart)
	require.NoError(t, err)
	require.Equal(t, 3, plan.StepCount)
	assert.Equal(t, Pair, plan.Steps[0].Kind)
	assert.Equal(t, []int{0, 1}, plan.Steps[0].SourceIndices)
	assert.Equal(t, Pair, plan.Steps[1].Kind)
	assert.Equal(t, []int{2, 3}, plan.Steps[1].SourceIndices)
	assert.Equal(t, Mono, plan.Steps[2].Kind)
	assert.Equal(t, []int{4}, plan.Steps[2].SourceIndices)
}

func TestBuildPlanOutputSlotsAreDenseAndAscending(t *testing.T) {
	plan, err := BuildPlan(12, Auto, Smart)
	require.NoError(t, err)
	for i, s := range plan.Steps {
		assert.Equal(t, i, s.OutputSlot)
	}
}

func TestBuildPlanRejectsMismatchedChannelCountForExplicitLayout(t *testing.T) {
	_, err := BuildPlan(4, FivePointOne, Smart)
	assert.Error(t, err)
}

func TestBuildPlanZeroChannelsIsError(t *testing.T) {
	_, err := BuildPlan(0, Auto, Smart)
	assert.Error(t, err)
}

func TestBuildPlanNinePointOneSixSmartCoversAllNonLFEChannels(t *testing.T) {
	plan, err := BuildPlan(16, Auto, Smart)
	require.NoError(t, err)

	covered := map[int]bool{}
	for _, s := range plan.Steps {
		for _, idx := range s.SourceIndices {
			covered[idx] = true
		}
	}
	// 16 channels, 1 LFE skipped -> 15 channels covered by steps.
	assert.Len(t, covered, 15)
}
