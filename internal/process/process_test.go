// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具

package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProcessExitZero(t *testing.T) {
	p, err := New(Config{Binary: "/bin/sh", Args: []string{"-c", "exit 0"}})
	require.NoError(t, err)

	require.NoError(t, p.Start())
	require.NoError(t, p.Wait())
	require.Equal(t, "finished", p.Status().State)
	require.False(t, p.IsRunning())
}

func TestProcessExitNonZero(t *testing.T) {
	p, err := New(Config{Binary: "/bin/sh", Args: []string{"-c", "echo boom >&2; exit 3"}})
	require.NoError(t, err)

	require.NoError(t, p.Start())

	err = p.Wait()
	require.Error(t, err)
	require.Contains(t, err.Error(), "exit status 3")
	require.Equal(t, "failed", p.Status().State)

	lines := p.Log()
	require.NotEmpty(t, lines)
	require.Contains(t, Tail(lines, 10), "boom")
}

func TestProcessTimeout(t *testing.T) {
	p, err := New(Config{
		Binary:  "/bin/sh",
		Args:    []string{"-c", "sleep 10"},
		Timeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, p.Start())

	err = p.Wait()
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestProcessTimeoutKillsDescendants(t *testing.T) {
	// worker children inherit the stderr pipe; if only the shell died they
	// would hold it open for the full 10s and block Wait
	p, err := New(Config{
		Binary:  "/bin/sh",
		Args:    []string{"-c", "sleep 10 & sleep 10 & wait"},
		Timeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, p.Start())

	err = p.Wait()
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestProcessStopTerminatesProcessGroup(t *testing.T) {
	p, err := New(Config{Binary: "/bin/sh", Args: []string{"-c", "sleep 10 & wait"}})
	require.NoError(t, err)
	require.NoError(t, p.Start())

	start := time.Now()
	require.NoError(t, p.Stop(true))
	require.Less(t, time.Since(start), 5*time.Second)

	require.Error(t, p.Wait())
	require.Equal(t, "killed", p.Status().State)
}

func TestProcessNoBinary(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestProcessStartFailureUnblocksWait(t *testing.T) {
	p, err := New(Config{Binary: "/does/not/exist"})
	require.NoError(t, err)

	require.Error(t, p.Start())
	require.Error(t, p.Wait())
}

func TestLineBuffer(t *testing.T) {
	buf := NewLineBuffer(3)

	for _, line := range []string{"one", "two", "three", "four"} {
		buf.Parse(line)
	}

	lines := buf.Log()
	require.Len(t, lines, 3)
	require.Equal(t, "two", lines[0].Data)
	require.Equal(t, "four", lines[2].Data)
	require.Equal(t, "two\nthree\nfour", Tail(lines, 10))
	require.Equal(t, "three\nfour", Tail(lines, 2))

	buf.ResetLog()
	require.Empty(t, buf.Log())
}
