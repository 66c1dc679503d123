// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具

package group

import (
	"fmt"
	"sort"
	"time"

	"github.com/ZSC714725/footagemanager/internal/logger"
	"github.com/ZSC714725/footagemanager/internal/segment"
)

// Builder partitions scanned segments into ClipGroups.
type Builder struct {
	maxGap time.Duration
	logger logger.Logger
}

// NewBuilder creates a Builder. maxGap 0 disables the time-gap split.
func NewBuilder(maxGap time.Duration, log logger.Logger) *Builder {
	if log == nil {
		log = logger.New("group ")
	}
	return &Builder{maxGap: maxGap, logger: log}
}

// Build 按（前缀，序号）排序后切分分组。分组边界：前缀变化、序号不连续、
// 时间间隔超限或时间倒退（设备重置编号开新录制）。
// Discovery order does not matter; output order inside a group is by index.
func (b *Builder) Build(segments []segment.RawSegment) []*ClipGroup {
	if len(segments) == 0 {
		return nil
	}

	sorted := make([]segment.RawSegment, len(segments))
	copy(sorted, segments)

	// Larger duplicate first so dedupe below keeps it.
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Prefix != sorted[j].Prefix {
			return sorted[i].Prefix < sorted[j].Prefix
		}
		if sorted[i].Index != sorted[j].Index {
			return sorted[i].Index < sorted[j].Index
		}
		return sorted[i].Size > sorted[j].Size
	})

	deduped := sorted[:0]
	for i, s := range sorted {
		if i > 0 {
			prev := deduped[len(deduped)-1]
			if s.Prefix == prev.Prefix && s.Index == prev.Index {
				b.logger.Error("duplicate segment %s_%d: keeping %s (%d bytes), dropping %s (%d bytes)",
					s.Prefix, s.Index, prev.Path, prev.Size, s.Path, s.Size)
				continue
			}
		}
		deduped = append(deduped, s)
	}

	var groups []*ClipGroup
	var current []segment.RawSegment

	seen := make(map[string]bool)
	flush := func() {
		if len(current) == 0 {
			return
		}
		key := current[0].Prefix
		if seen[key] {
			// Same prefix restarted numbering in a new session; disambiguate
			// the key with the first sequence index.
			key = fmt.Sprintf("%s_%04d", current[0].Prefix, current[0].Index)
		}
		seen[key] = true
		groups = append(groups, New(key, current))
		current = nil
	}

	for _, s := range deduped {
		if len(current) > 0 {
			prev := current[len(current)-1]
			split := s.Prefix != prev.Prefix ||
				s.Index != prev.Index+1 ||
				s.ModTime.Before(prev.ModTime)
			if !split && b.maxGap > 0 && s.ModTime.Sub(prev.ModTime) > b.maxGap {
				split = true
			}
			if split {
				flush()
			}
		}
		current = append(current, s)
	}
	flush()

	b.logger.Info("built %d groups from %d segments", len(groups), len(deduped))
	return groups
}
