// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具

package api

import (
	"time"

	"github.com/samber/lo"

	"github.com/ZSC714725/footagemanager/internal/group"
	"github.com/ZSC714725/footagemanager/internal/pipeline"
	"github.com/ZSC714725/footagemanager/internal/segment"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// RunStatus is the run-level status payload.
type RunStatus struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	PID       int         `json:"pid"`
	StartedAt time.Time   `json:"started_at"`
	LogPath   string      `json:"log_path"`
	Groups    GroupCounts `json:"groups"`
	Tool      *ToolStatus `json:"tool,omitempty"`
}

// ToolStatus 当前在跑的外部工具进程，空闲时省略
type ToolStatus struct {
	GroupKey        string  `json:"group_key"`
	State           string  `json:"state"`
	DurationSeconds float64 `json:"duration_seconds"`
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryBytes     uint64  `json:"memory_bytes"`
}

// GroupCounts 各状态分组数
type GroupCounts struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Merging int `json:"merging"`
	Merged  int `json:"merged"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Group is the per-group payload.
type Group struct {
	Key        string     `json:"key"`
	State      string     `json:"state"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	Skipped    bool       `json:"skipped"`
	TotalSize  int64      `json:"total_size_bytes"`
	Segments   []Segment  `json:"segments"`
	Stabilized *Stabilize `json:"stabilized,omitempty"`
}

// Segment is one raw segment of a group.
type Segment struct {
	Path    string    `json:"path"`
	Index   int       `json:"index"`
	Size    int64     `json:"size_bytes"`
	ModTime time.Time `json:"mod_time"`
}

// Stabilize is the stabilization stage result for a group.
type Stabilize struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

func runToStatus(run *pipeline.Run) RunStatus {
	groups := run.Groups()

	counts := GroupCounts{Total: len(groups)}
	for _, g := range groups {
		switch g.State() {
		case group.StatePending:
			counts.Pending++
		case group.StateMerging:
			counts.Merging++
		case group.StateMerged:
			counts.Merged++
		case group.StateFailed:
			counts.Failed++
		}
		if g.Skipped() {
			counts.Skipped++
		}
	}

	status := RunStatus{
		ID:        run.ID,
		Status:    string(run.Status()),
		PID:       run.PID,
		StartedAt: run.StartedAt,
		LogPath:   run.LogPath,
		Groups:    counts,
	}

	if key, proc := run.Active(); proc != nil {
		s := proc.Status()
		status.Tool = &ToolStatus{
			GroupKey:        key,
			State:           s.State,
			DurationSeconds: s.Duration.Seconds(),
			CPUPercent:      s.CPU,
			MemoryBytes:     s.Memory,
		}
	}
	return status
}

func groupToGroup(g *group.ClipGroup) Group {
	out := Group{
		Key:       g.Key,
		State:     g.State().String(),
		Output:    g.OutputPath(),
		Error:     g.Err(),
		Skipped:   g.Skipped(),
		TotalSize: g.TotalSize(),
		Segments: lo.Map(g.Segments, func(s segment.RawSegment, _ int) Segment {
			return Segment{Path: s.Path, Index: s.Index, Size: s.Size, ModTime: s.ModTime}
		}),
	}

	if output, errDetail, done := g.Stabilized(); done {
		out.Stabilized = &Stabilize{Output: output, Error: errDetail}
	}
	return out
}
