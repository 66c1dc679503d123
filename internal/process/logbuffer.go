// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具

package process

import (
	"container/ring"
	"strings"
	"sync"
	"time"
)

// lineBuffer 保留工具输出的最后 N 行，合并失败时用于错误详情。
// The tool's output format is opaque, so no field parsing happens here.
type lineBuffer struct {
	log      *ring.Ring
	logLines int
	lock     sync.RWMutex
}

// NewLineBuffer creates a Parser keeping the last logLines lines.
func NewLineBuffer(logLines int) Parser {
	if logLines <= 0 {
		logLines = 100
	}
	return &lineBuffer{
		log:      ring.New(logLines),
		logLines: logLines,
	}
}

func (p *lineBuffer) Parse(line string) uint64 {
	p.lock.Lock()
	p.log.Value = Line{Timestamp: time.Now(), Data: line}
	p.log = p.log.Next()
	p.lock.Unlock()
	return 1
}

func (p *lineBuffer) ResetLog() {
	p.lock.Lock()
	p.log = ring.New(p.logLines)
	p.lock.Unlock()
}

func (p *lineBuffer) Log() []Line {
	var out []Line
	p.lock.RLock()
	p.log.Do(func(v interface{}) {
		if v != nil {
			out = append(out, v.(Line))
		}
	})
	p.lock.RUnlock()
	return out
}

// Tail joins the last n log lines into one error detail string.
func Tail(lines []Line, n int) string {
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, l.Data)
	}
	return strings.Join(parts, "\n")
}
