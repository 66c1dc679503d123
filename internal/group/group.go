// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具
//
// Package group clusters raw segments into contiguous recording sessions.

package group

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/ZSC714725/footagemanager/internal/segment"
)

// State of a ClipGroup
type State string

const (
	StatePending State = "pending"
	StateMerging State = "merging"
	StateMerged  State = "merged"
	StateFailed  State = "failed"
)

func (s State) String() string { return string(s) }

// ClipGroup is the ordered set of segments that reconstruct one continuous
// recording. Segments are ordered by sequence index; only the orchestrator
// mutates the state.
type ClipGroup struct {
	Key      string
	Segments []segment.RawSegment

	state struct {
		state   State
		time    time.Time
		err     string
		skipped bool
		lock    sync.Mutex
	}

	stab struct {
		output string
		err    string
		done   bool
		lock   sync.Mutex
	}

	outputPath string
}

// New creates a pending group. Segments must already be in index order.
func New(key string, segments []segment.RawSegment) *ClipGroup {
	g := &ClipGroup{Key: key, Segments: segments}
	g.state.state = StatePending
	g.state.time = time.Now()
	return g
}

// SetState 校验并执行状态迁移
func (g *ClipGroup) SetState(state State) error {
	g.state.lock.Lock()
	defer g.state.lock.Unlock()

	failed := false
	switch g.state.state {
	case StatePending:
		// pending -> merged covers the idempotent skip of existing output
		if state != StateMerging && state != StateMerged && state != StateFailed {
			failed = true
		}
	case StateMerging:
		if state != StateMerged && state != StateFailed {
			failed = true
		}
	default:
		// merged and failed are terminal within a run
		failed = true
	}

	if failed {
		return fmt.Errorf("can't change group %s from %s to %s", g.Key, g.state.state, state)
	}

	g.state.state = state
	g.state.time = time.Now()
	return nil
}

// State returns the current state.
func (g *ClipGroup) State() State {
	g.state.lock.Lock()
	defer g.state.lock.Unlock()
	return g.state.state
}

// StateTime returns when the current state was entered.
func (g *ClipGroup) StateTime() time.Time {
	g.state.lock.Lock()
	defer g.state.lock.Unlock()
	return g.state.time
}

// Fail moves the group to failed and records the error detail. A group
// already in a terminal state keeps its state and original detail.
func (g *ClipGroup) Fail(detail string) {
	if g.SetState(StateFailed) != nil {
		return
	}
	g.state.lock.Lock()
	g.state.err = detail
	g.state.lock.Unlock()
}

// Err returns the failure detail, empty unless failed.
func (g *ClipGroup) Err() string {
	g.state.lock.Lock()
	defer g.state.lock.Unlock()
	return g.state.err
}

// MarkSkipped 记录本组因输出已存在而未重新合并
func (g *ClipGroup) MarkSkipped() {
	g.state.lock.Lock()
	g.state.skipped = true
	g.state.lock.Unlock()
}

// Skipped reports whether the merge was skipped on re-run.
func (g *ClipGroup) Skipped() bool {
	g.state.lock.Lock()
	defer g.state.lock.Unlock()
	return g.state.skipped
}

// SetOutputPath records the merge destination.
func (g *ClipGroup) SetOutputPath(path string) { g.outputPath = path }

// OutputPath returns the merge destination.
func (g *ClipGroup) OutputPath() string { return g.outputPath }

// SetStabilized records the stabilization stage result.
func (g *ClipGroup) SetStabilized(output, errDetail string) {
	g.stab.lock.Lock()
	g.stab.done = true
	g.stab.output = output
	g.stab.err = errDetail
	g.stab.lock.Unlock()
}

// Stabilized returns the stabilization result; done is false when the stage
// has not run for this group.
func (g *ClipGroup) Stabilized() (output, errDetail string, done bool) {
	g.stab.lock.Lock()
	defer g.stab.lock.Unlock()
	return g.stab.output, g.stab.err, g.stab.done
}

// TotalSize is the byte sum of all segments.
func (g *ClipGroup) TotalSize() int64 {
	return lo.SumBy(g.Segments, func(s segment.RawSegment) int64 { return s.Size })
}

// Ext returns the extension of the first segment, original case preserved.
func (g *ClipGroup) Ext() string {
	if len(g.Segments) == 0 {
		return ""
	}
	return filepath.Ext(g.Segments[0].Path)
}

// Paths returns the segment paths in recording order.
func (g *ClipGroup) Paths() []string {
	return lo.Map(g.Segments, func(s segment.RawSegment, _ int) string { return s.Path })
}
