// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package executor runs a router.Plan's steps against a bit-engine
// collaborator with a bounded worker pool, and merges the per-step results
// back into output-slot order deterministically (spec §4.6).
package executor

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/awmkit/awmkit/internal/awmerr"
	"github.com/awmkit/awmkit/internal/router"
	"github.com/awmkit/awmkit/pkg/log"
)

const op = "executor"

// ProcessStep is the bit-engine collaborator: it consumes one step's input
// samples (already sliced into a stereo or dual-mono pair by the caller)
// and returns the processed samples for that step.
type ProcessStep func(ctx context.Context, step router.Step, in []float32) ([]float32, error)

// StepError reports which step of a plan failed, so the caller can log or
// surface the failing output slot and step kind without string-parsing.
type StepError struct {
	OutputSlot int
	Kind       router.StepKind
	Err        error
}

func (e *StepError) Error() string { return e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

// MaxWorkers returns the default worker pool size: the detected core count.
func MaxWorkers() int {
	if n := runtime.GOMAXPROCS(0); n > 0 {
		return n
	}
	return 1
}

// Execute runs plan's steps against process, using a worker pool bounded by
// min(plan.StepCount, maxWorkers). Steps are submitted in ascending
// OutputSlot order; the pool drains in whatever order the workers finish,
// but results are always merged back into OutputSlot order (spec property
// #6: "merge determinism").
//
// Any step error aborts the whole plan: Execute cancels the shared context,
// waits for already-dispatched steps to return (in-flight external
// invocations finish rather than being killed outright, per §4.6), and
// returns the first error wrapped in *StepError.
func Execute(ctx context.Context, plan *router.Plan, sliceInput func(router.Step) []float32, process ProcessStep, maxWorkers int) ([][]float32, error) {
	if maxWorkers <= 0 {
		maxWorkers = MaxWorkers()
	}
	if maxWorkers > plan.StepCount {
		maxWorkers = plan.StepCount
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	results := make([][]float32, plan.StepCount)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for _, step := range plan.Steps {
		step := step
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return awmerr.New(op, awmerr.Cancelled, gctx.Err())
			default:
			}

			in := sliceInput(step)
			out, err := process(gctx, step, in)
			if err != nil {
				return &StepError{OutputSlot: step.OutputSlot, Kind: step.Kind, Err: err}
			}

			select {
			case <-gctx.Done():
				return awmerr.New(op, awmerr.Cancelled, gctx.Err())
			default:
			}

			results[step.OutputSlot] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Errorf("executor: plan aborted: %v", err)
		return nil, err
	}

	return results, nil
}
