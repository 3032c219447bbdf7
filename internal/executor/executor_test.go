// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awmkit/awmkit/internal/awmerr"
	"github.com/awmkit/awmkit/internal/router"
)

func stereoPlan(steps int) *router.Plan {
	p := &router.Plan{StepCount: steps}
	for i := 0; i < steps; i++ {
		p.Steps = append(p.Steps, router.Step{
			Kind:          router.Pair,
			SourceIndices: []int{i * 2, i*2 + 1},
			OutputSlot:    i,
		})
	}
	return p
}

// doubleEachSample is a deterministic stand-in for the bit-engine
// collaborator: output[i] = input[i] * 2, optionally delayed to scramble
// completion order across runs.
func doubleEachSample(delays map[int]time.Duration) ProcessStep {
	return func(ctx context.Context, step router.Step, in []float32) ([]float32, error) {
		if d, ok := delays[step.OutputSlot]; ok {
			time.Sleep(d)
		}
		out := make([]float32, len(in))
		for i, v := range in {
			out[i] = v * 2
		}
		return out, nil
	}
}

func sliceByStep(source []float32) func(router.Step) []float32 {
	return func(s router.Step) []float32 {
		out := make([]float32, 0, len(s.SourceIndices))
		for _, idx := range s.SourceIndices {
			out = append(out, source[idx])
		}
		return out
	}
}

func TestExecuteMergesByOutputSlotRegardlessOfCompletionOrder(t *testing.T) {
	plan := stereoPlan(4)
	source := []float32{0, 1, 2, 3, 4, 5, 6, 7}

	// Slot 3 finishes first, slot 0 finishes last: completion order is the
	// reverse of submission order.
	delays := map[int]time.Duration{
		0: 30 * time.Millisecond,
		1: 20 * time.Millisecond,
		2: 10 * time.Millisecond,
		3: 0,
	}

	results, err := Execute(context.Background(), plan, sliceByStep(source), doubleEachSample(delays), 4)
	require.NoError(t, err)

	require.Len(t, results, 4)
	for i, res := range results {
		want := []float32{source[i*2] * 2, source[i*2+1] * 2}
		assert.Equal(t, want, res, "output slot %d", i)
	}
}

func TestExecuteIsDeterministicAcrossWorkerCounts(t *testing.T) {
	plan := stereoPlan(8)
	source := make([]float32, 16)
	for i := range source {
		source[i] = float32(i)
	}

	for _, workers := range []int{1, 4, 8} {
		results, err := Execute(context.Background(), plan, sliceByStep(source), doubleEachSample(nil), workers)
		require.NoError(t, err)

		for i, res := range results {
			want := []float32{source[i*2] * 2, source[i*2+1] * 2}
			assert.Equal(t, want, res, "workers=%d slot=%d", workers, i)
		}
	}
}

func TestExecuteFirstErrorWinsAndCarriesOutputSlot(t *testing.T) {
	plan := stereoPlan(4)
	source := make([]float32, 8)

	failing := func(ctx context.Context, step router.Step, in []float32) ([]float32, error) {
		if step.OutputSlot == 2 {
			return nil, awmerr.New("engine", awmerr.EngineExecFailure, nil)
		}
		return in, nil
	}

	_, err := Execute(context.Background(), plan, sliceByStep(source), failing, 4)
	require.Error(t, err)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, 2, stepErr.OutputSlot)
	assert.Equal(t, router.Pair, stepErr.Kind)
	assert.True(t, awmerr.Is(err, awmerr.EngineExecFailure))
}

func TestExecuteCancellationBeforeDispatchReturnsCancelled(t *testing.T) {
	plan := stereoPlan(4)
	source := make([]float32, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	counting := func(ctx context.Context, step router.Step, in []float32) ([]float32, error) {
		atomic.AddInt32(&calls, 1)
		return in, nil
	}

	_, err := Execute(ctx, plan, sliceByStep(source), counting, 4)
	require.Error(t, err)
	assert.True(t, awmerr.Is(err, awmerr.Cancelled))
}

func TestExecuteDefaultsWorkerCountWhenUnset(t *testing.T) {
	plan := stereoPlan(2)
	source := make([]float32, 4)

	results, err := Execute(context.Background(), plan, sliceByStep(source), doubleEachSample(nil), 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
