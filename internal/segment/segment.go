// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具
//
// Package segment discovers raw device segments under a footage directory.

package segment

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// RawSegment is one device-produced fragment of a continuous recording.
// Immutable once scanned.
type RawSegment struct {
	Path    string    `json:"path"`
	Prefix  string    `json:"prefix"`
	Index   int       `json:"index"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size_bytes"`
}

// ScanError reports an unreadable scan root. It is fatal to the whole run.
type ScanError struct {
	Root string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Root, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Pattern matches segment base names and extracts the filename prefix and
// the device-assigned sequence index.
type Pattern interface {
	Match(name string) (prefix string, index int, ok bool)
}

type pattern struct {
	re        *regexp.Regexp
	prefixIdx int
	indexIdx  int
}

// NewPattern compiles a segment name expression. The expression needs either
// named subgroups (?P<prefix>...) and (?P<index>...) or at least two capture
// groups, prefix first.
func NewPattern(expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid segment pattern '%s': %w", expr, err)
	}

	p := &pattern{re: re, prefixIdx: re.SubexpIndex("prefix"), indexIdx: re.SubexpIndex("index")}
	if p.prefixIdx < 0 || p.indexIdx < 0 {
		if re.NumSubexp() < 2 {
			return nil, fmt.Errorf("segment pattern '%s' needs prefix and index subgroups", expr)
		}
		p.prefixIdx = 1
		p.indexIdx = 2
	}
	return p, nil
}

func (p *pattern) Match(name string) (string, int, bool) {
	m := p.re.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	index, err := strconv.Atoi(m[p.indexIdx])
	if err != nil {
		return "", 0, false
	}
	return m[p.prefixIdx], index, true
}
