// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package maintenance runs scheduled evidence-database upkeep: WAL
// checkpointing and retention pruning, both gated on explicit operator
// configuration (spec supplement: no silent data loss, matching the
// slot-deletion invariant in spec §3).
package maintenance

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/awmkit/awmkit/internal/evidence"
	"github.com/awmkit/awmkit/pkg/log"
)

// Config controls which jobs Scheduler registers.
type Config struct {
	// RetentionDays prunes audio_evidence rows older than this many days.
	// Zero disables retention pruning.
	RetentionDays int
	// CheckpointInterval runs a WAL checkpoint on this cadence. Zero
	// disables checkpointing.
	CheckpointInterval time.Duration
}

// Scheduler owns one gocron scheduler wired to a single evidence.DB. It is
// caller-constructed and -owned, not a package singleton (spec §9).
type Scheduler struct {
	sched gocron.Scheduler
	db    *evidence.DB
}

// New builds a Scheduler and registers cfg's jobs, but does not start
// them; call Start to begin running.
func New(db *evidence.DB, cfg Config) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	s := &Scheduler{sched: sched, db: db}

	if cfg.RetentionDays > 0 {
		if _, err := sched.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(4, 0, 0))),
			gocron.NewTask(func() { s.runRetention(cfg.RetentionDays) }),
		); err != nil {
			return nil, err
		}
	}

	if cfg.CheckpointInterval > 0 {
		if _, err := sched.NewJob(
			gocron.DurationJob(cfg.CheckpointInterval),
			gocron.NewTask(s.runCheckpoint),
		); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Scheduler) runRetention(days int) {
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := s.db.PruneBefore(cutoff)
	if err != nil {
		log.Errorf("maintenance: retention prune failed: %v", err)
		return
	}
	log.Infof("maintenance: retention pruned %d evidence rows older than %s", n, cutoff.Format(time.RFC3339))
}

func (s *Scheduler) runCheckpoint() {
	if err := s.db.Checkpoint(); err != nil {
		log.Errorf("maintenance: wal checkpoint failed: %v", err)
		return
	}
	log.Debugf("maintenance: wal checkpoint complete")
}

// Start begins running registered jobs.
func (s *Scheduler) Start() {
	s.sched.Start()
}

// Shutdown stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
