// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具
//
// Package lifecycle owns the marker (PID) file. Marker presence plus a
// liveness check is the sole mutual exclusion between runs and the crash
// detection for the previous run.

package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	gopsutilprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/ZSC714725/footagemanager/internal/config"
	"github.com/ZSC714725/footagemanager/internal/logger"
)

var (
	// ErrAlreadyRunning 已有存活的运行进程持有标记文件
	ErrAlreadyRunning = errors.New("a pipeline run is already in progress")
	ErrNotRunning     = errors.New("no pipeline run in progress")
)

// State 由标记文件和存活检查推断出的整体状态
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateCrashed State = "crashed"
)

// Marker is the persisted record of the running pipeline process.
type Marker struct {
	PID       int
	StartedAt time.Time
}

// Manager inspects and owns the marker file.
type Manager struct {
	markerPath string
	logPath    string
	logger     logger.Logger
}

// NewManager creates a Manager from run config.
func NewManager(cfg config.RunConfig, log logger.Logger) *Manager {
	if log == nil {
		log = logger.New("lifecycle ")
	}
	return &Manager{markerPath: cfg.Marker, logPath: cfg.Log, logger: log}
}

// MarkerPath returns the marker file location.
func (m *Manager) MarkerPath() string { return m.markerPath }

// LogPath returns the run log location.
func (m *Manager) LogPath() string { return m.logPath }

// ReadMarker parses the marker file. os.IsNotExist passes through.
func (m *Manager) ReadMarker() (*Marker, error) {
	data, err := os.ReadFile(m.markerPath)
	if err != nil {
		return nil, err
	}

	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, fmt.Errorf("corrupt marker %s: %w", m.markerPath, err)
	}

	marker := &Marker{PID: pid}
	if len(lines) > 1 {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[1])); err == nil {
			marker.StartedAt = t
		}
	}
	return marker, nil
}

// Check 在新的启动前检查标记文件：进程仍存活返回 ErrAlreadyRunning；
// 进程已死视为上次运行崩溃，清除过期标记并返回其 PID；无标记返回 0。
func (m *Manager) Check() (stalePID int, err error) {
	marker, err := m.ReadMarker()
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	if Alive(marker.PID) {
		return 0, fmt.Errorf("%w (pid %d since %s)", ErrAlreadyRunning, marker.PID, marker.StartedAt.Format(time.RFC3339))
	}

	m.logger.Error("previous run (pid %d) crashed, stale marker removed", marker.PID)
	if err := os.Remove(m.markerPath); err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return marker.PID, nil
}

// Acquire records this process in the marker after the conflict check.
// Called by the run process itself.
func (m *Manager) Acquire() error {
	if _, err := m.Check(); err != nil {
		return err
	}

	data := fmt.Sprintf("%d\n%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	return os.WriteFile(m.markerPath, []byte(data), 0644)
}

// Release removes the marker on normal completion. A crash leaves it behind
// for the next start to detect.
func (m *Manager) Release() error {
	if err := os.Remove(m.markerPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Stop signals the recorded process. A stale marker is left in place so the
// next start logs the crash.
func (m *Manager) Stop() (int, error) {
	marker, err := m.ReadMarker()
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, err
	}

	proc, err := gopsutilprocess.NewProcess(int32(marker.PID))
	if err != nil {
		return marker.PID, fmt.Errorf("%w (stale marker for pid %d)", ErrNotRunning, marker.PID)
	}

	if err := proc.Terminate(); err != nil {
		return marker.PID, err
	}
	return marker.PID, nil
}

// Status reports the lifecycle state by inspecting the marker.
func (m *Manager) Status() (State, *Marker, error) {
	marker, err := m.ReadMarker()
	if err != nil {
		if os.IsNotExist(err) {
			return StateIdle, nil, nil
		}
		return StateIdle, nil, err
	}

	if Alive(marker.PID) {
		return StateRunning, marker, nil
	}
	return StateCrashed, marker, nil
}

// LogTail returns the last n lines of the run log.
func (m *Manager) LogTail(n int) ([]string, error) {
	data, err := os.ReadFile(m.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	ok, err := gopsutilprocess.PidExists(int32(pid))
	return err == nil && ok
}
