// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具
//
// Package pipeline drives the merge tool per clip group and tracks the run.

package pipeline

import (
	"os"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/ZSC714725/footagemanager/internal/group"
	"github.com/ZSC714725/footagemanager/internal/process"
)

// RunStatus 整体运行状态
type RunStatus string

const (
	StatusRunning             RunStatus = "running"
	StatusCompleted           RunStatus = "completed"
	StatusCompletedWithErrors RunStatus = "completed_with_errors"
	StatusCrashed             RunStatus = "crashed"
	StatusAborted             RunStatus = "aborted"
)

// Run is one execution of the pipeline. It is an explicit value handed to the
// orchestrator, not ambient state, so runs can be tested in isolation.
type Run struct {
	ID        string
	StartedAt time.Time
	PID       int
	LogPath   string

	status struct {
		status RunStatus
		lock   sync.RWMutex
	}
	active struct {
		key  string
		proc process.Process
		lock sync.RWMutex
	}
	store Store
}

// NewRun creates a running Run for this process.
func NewRun(logPath string) *Run {
	r := &Run{
		ID:        shortuuid.New(),
		StartedAt: time.Now(),
		PID:       os.Getpid(),
		LogPath:   logPath,
		store:     NewStore(),
	}
	r.status.status = StatusRunning
	return r
}

// Status returns the overall status.
func (r *Run) Status() RunStatus {
	r.status.lock.RLock()
	defer r.status.lock.RUnlock()
	return r.status.status
}

func (r *Run) setStatus(s RunStatus) {
	r.status.lock.Lock()
	r.status.status = s
	r.status.lock.Unlock()
}

// SetActive publishes the in-flight tool invocation so the status API can
// report its state and resource usage.
func (r *Run) SetActive(key string, proc process.Process) {
	r.active.lock.Lock()
	r.active.key = key
	r.active.proc = proc
	r.active.lock.Unlock()
}

// ClearActive marks the run as between tool invocations.
func (r *Run) ClearActive() {
	r.SetActive("", nil)
}

// Active returns the group key and process of the running tool invocation,
// nil when none is in flight.
func (r *Run) Active() (string, process.Process) {
	r.active.lock.RLock()
	defer r.active.lock.RUnlock()
	return r.active.key, r.active.proc
}

// AddGroup registers a clip group with the run.
func (r *Run) AddGroup(g *group.ClipGroup) error {
	return r.store.Add(g)
}

// Groups returns the run's clip groups in processing order.
func (r *Run) Groups() []*group.ClipGroup {
	return r.store.List()
}

// Group looks up one clip group by key.
func (r *Run) Group(key string) (*group.ClipGroup, error) {
	return r.store.Get(key)
}

// Store manages the run's groups in memory
type Store interface {
	Add(g *group.ClipGroup) error
	Get(key string) (*group.ClipGroup, error)
	List() []*group.ClipGroup
}

type store struct {
	groups map[string]*group.ClipGroup
	order  []string
	mu     sync.RWMutex
}

// NewStore creates a group store
func NewStore() Store {
	return &store{groups: make(map[string]*group.ClipGroup)}
}

func (s *store) Add(g *group.ClipGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[g.Key]; exists {
		return ErrGroupExists
	}
	s.groups[g.Key] = g
	s.order = append(s.order, g.Key)
	return nil
}

func (s *store) Get(key string) (*group.ClipGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[key]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return g, nil
}

func (s *store) List() []*group.ClipGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*group.ClipGroup, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.groups[key])
	}
	return out
}
