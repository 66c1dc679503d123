// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ZSC714725/footagemanager/internal/config"
	"github.com/ZSC714725/footagemanager/internal/group"
	"github.com/ZSC714725/footagemanager/internal/mergetool"
	"github.com/ZSC714725/footagemanager/internal/process"
	"github.com/ZSC714725/footagemanager/internal/stabilize"
)

// testConfig points all folders into a fresh temp tree.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Folders.Source = filepath.Join(root, "source")
	cfg.Folders.Merged = filepath.Join(root, "merged")
	cfg.Folders.Stabilized = filepath.Join(root, "stabilized")
	cfg.Merge.SizeToleranceBytes = 0
	require.NoError(t, os.MkdirAll(cfg.Folders.Source, 0755))
	return cfg
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
	return path
}

// fakeMergeTool concatenates every input into the --out target and records
// each invocation's argv as one line in argsFile.
func fakeMergeTool(t *testing.T, argsFile string) string {
	t.Helper()
	return writeScript(t, fmt.Sprintf(`#!/bin/sh
echo "$@" >> %q
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--out" ]; then out="$a"; fi
  prev="$a"
done
: > "$out"
for a in "$@"; do
  if [ "$a" = "--out" ]; then break; fi
  cat "$a" >> "$out"
done
`, argsFile))
}

func newTool(t *testing.T, binary string, timeout time.Duration) mergetool.Tool {
	t.Helper()
	tool, err := mergetool.New(mergetool.Config{Binary: binary, Timeout: timeout})
	require.NoError(t, err)
	return tool
}

func writeSegment(t *testing.T, dir, name string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(name), 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func invocations(t *testing.T, argsFile string) []string {
	t.Helper()
	data, err := os.ReadFile(argsFile)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func execute(t *testing.T, cfg *config.Config, tool mergetool.Tool, stab stabilize.Tool) (*Run, error) {
	t.Helper()
	orch, err := NewOrchestrator(cfg, tool, stab, nil)
	require.NoError(t, err)
	run := NewRun(cfg.Run.Log)
	return run, orch.Execute(context.Background(), run)
}

func TestExecuteMergesSegmentsInRecordingOrder(t *testing.T) {
	cfg := testConfig(t)
	base := time.Now().Add(-time.Hour)
	writeSegment(t, cfg.Folders.Source, "DJI_0003.MP4", base.Add(20*time.Second))
	writeSegment(t, cfg.Folders.Source, "DJI_0001.MP4", base)
	writeSegment(t, cfg.Folders.Source, "DJI_0002.MP4", base.Add(10*time.Second))

	argsFile := filepath.Join(t.TempDir(), "args")
	tool := newTool(t, fakeMergeTool(t, argsFile), 0)

	run, err := execute(t, cfg, tool, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status())

	groups := run.Groups()
	require.Len(t, groups, 1)
	require.Equal(t, "DJI", groups[0].Key)
	require.Equal(t, group.StateMerged, groups[0].State())

	output := filepath.Join(cfg.Folders.Merged, "DJI_merged.MP4")
	require.Equal(t, output, groups[0].OutputPath())

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	require.Equal(t, "DJI_0001.MP4DJI_0002.MP4DJI_0003.MP4", string(data))

	calls := invocations(t, argsFile)
	require.Len(t, calls, 1)

	// input paths in sequence order, output last
	i1 := strings.Index(calls[0], "DJI_0001.MP4")
	i2 := strings.Index(calls[0], "DJI_0002.MP4")
	i3 := strings.Index(calls[0], "DJI_0003.MP4")
	iOut := strings.Index(calls[0], "--out")
	require.True(t, i1 >= 0 && i1 < i2 && i2 < i3 && i3 < iOut)

	// no tool invocation left published after the run
	key, proc := run.Active()
	require.Empty(t, key)
	require.Nil(t, proc)
}

func TestRunActiveTool(t *testing.T) {
	run := NewRun("/tmp/footagemanager.log")

	key, proc := run.Active()
	require.Empty(t, key)
	require.Nil(t, proc)

	p, err := process.New(process.Config{Binary: "/bin/sh", Args: []string{"-c", "exit 0"}})
	require.NoError(t, err)

	run.SetActive("DJI", p)
	key, proc = run.Active()
	require.Equal(t, "DJI", key)
	require.Same(t, p, proc)

	run.ClearActive()
	_, proc = run.Active()
	require.Nil(t, proc)
}

func TestMergeErrorDetail(t *testing.T) {
	err := &MergeError{Key: "DJI", Detail: "exit status 1: corrupt mdat box"}
	require.EqualError(t, err, "merge DJI: exit status 1: corrupt mdat box")
}

func TestExecuteIdempotentRerun(t *testing.T) {
	cfg := testConfig(t)
	base := time.Now().Add(-time.Hour)
	writeSegment(t, cfg.Folders.Source, "DJI_0001.MP4", base)
	writeSegment(t, cfg.Folders.Source, "DJI_0002.MP4", base.Add(10*time.Second))

	argsFile := filepath.Join(t.TempDir(), "args")
	tool := newTool(t, fakeMergeTool(t, argsFile), 0)

	_, err := execute(t, cfg, tool, nil)
	require.NoError(t, err)
	require.Len(t, invocations(t, argsFile), 1)

	// A second run finds the completed output and never invokes the tool.
	run, err := execute(t, cfg, tool, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status())
	require.Len(t, invocations(t, argsFile), 1)

	groups := run.Groups()
	require.Len(t, groups, 1)
	require.Equal(t, group.StateMerged, groups[0].State())
	require.True(t, groups[0].Skipped())
}

func TestExecuteStalePartialOutputRedone(t *testing.T) {
	cfg := testConfig(t)
	base := time.Now().Add(-time.Hour)
	writeSegment(t, cfg.Folders.Source, "DJI_0001.MP4", base)
	writeSegment(t, cfg.Folders.Source, "DJI_0002.MP4", base.Add(time.Second))

	// zero-byte leftover from a crashed merge
	require.NoError(t, os.MkdirAll(cfg.Folders.Merged, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Folders.Merged, "DJI_merged.MP4"), nil, 0644))

	argsFile := filepath.Join(t.TempDir(), "args")
	tool := newTool(t, fakeMergeTool(t, argsFile), 0)

	run, err := execute(t, cfg, tool, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status())
	require.Len(t, invocations(t, argsFile), 1)
	require.False(t, run.Groups()[0].Skipped())
}

func TestExecuteFailureIsolatedPerGroup(t *testing.T) {
	cfg := testConfig(t)
	base := time.Now().Add(-time.Hour)
	writeSegment(t, cfg.Folders.Source, "AAA_0001.MP4", base)
	writeSegment(t, cfg.Folders.Source, "AAA_0002.MP4", base.Add(time.Second))
	writeSegment(t, cfg.Folders.Source, "BBB_0001.MP4", base.Add(2*time.Second))
	writeSegment(t, cfg.Folders.Source, "BBB_0002.MP4", base.Add(3*time.Second))

	argsFile := filepath.Join(t.TempDir(), "args")
	script := writeScript(t, fmt.Sprintf(`#!/bin/sh
echo "$@" >> %q
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--out" ]; then out="$a"; fi
  prev="$a"
done
case "$out" in
  *AAA*) echo "corrupt mdat box" >&2; exit 1;;
esac
: > "$out"
for a in "$@"; do
  if [ "$a" = "--out" ]; then break; fi
  cat "$a" >> "$out"
done
`, argsFile))

	run, err := execute(t, cfg, newTool(t, script, 0), nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompletedWithErrors, run.Status())

	aaa, err := run.Group("AAA")
	require.NoError(t, err)
	require.Equal(t, group.StateFailed, aaa.State())
	require.Contains(t, aaa.Err(), "exit status 1")
	require.Contains(t, aaa.Err(), "corrupt mdat box")

	// the failure did not block the next group
	bbb, err := run.Group("BBB")
	require.NoError(t, err)
	require.Equal(t, group.StateMerged, bbb.State())
	require.Len(t, invocations(t, argsFile), 2)
}

func TestExecuteSizeSanityDowngradesToFailed(t *testing.T) {
	cfg := testConfig(t)
	base := time.Now().Add(-time.Hour)
	writeSegment(t, cfg.Folders.Source, "DJI_0001.MP4", base)
	writeSegment(t, cfg.Folders.Source, "DJI_0002.MP4", base.Add(time.Second))

	// exits 0 but writes a single byte
	script := writeScript(t, `#!/bin/sh
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--out" ]; then out="$a"; fi
  prev="$a"
done
printf x > "$out"
`)

	run, err := execute(t, cfg, newTool(t, script, 0), nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompletedWithErrors, run.Status())

	g := run.Groups()[0]
	require.Equal(t, group.StateFailed, g.State())
	require.Contains(t, g.Err(), "output size")
}

func TestExecuteTimeoutFailsGroup(t *testing.T) {
	cfg := testConfig(t)
	base := time.Now().Add(-time.Hour)
	writeSegment(t, cfg.Folders.Source, "DJI_0001.MP4", base)
	writeSegment(t, cfg.Folders.Source, "DJI_0002.MP4", base.Add(time.Second))

	script := writeScript(t, "#!/bin/sh\nsleep 10\n")

	run, err := execute(t, cfg, newTool(t, script, 300*time.Millisecond), nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompletedWithErrors, run.Status())

	g := run.Groups()[0]
	require.Equal(t, group.StateFailed, g.State())
	require.Contains(t, g.Err(), "timed out")
}

func TestExecuteSingleSegmentCopied(t *testing.T) {
	cfg := testConfig(t)
	writeSegment(t, cfg.Folders.Source, "DJI_0001.MP4", time.Now().Add(-time.Hour))

	argsFile := filepath.Join(t.TempDir(), "args")
	tool := newTool(t, fakeMergeTool(t, argsFile), 0)

	run, err := execute(t, cfg, tool, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status())
	require.Empty(t, invocations(t, argsFile))

	data, err := os.ReadFile(filepath.Join(cfg.Folders.Merged, "DJI_merged.MP4"))
	require.NoError(t, err)
	require.Equal(t, "DJI_0001.MP4", string(data))
}

func TestExecuteScanErrorAborts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Folders.Source = filepath.Join(cfg.Folders.Source, "missing")

	argsFile := filepath.Join(t.TempDir(), "args")
	tool := newTool(t, fakeMergeTool(t, argsFile), 0)

	run, err := execute(t, cfg, tool, nil)
	require.Error(t, err)
	require.Equal(t, StatusAborted, run.Status())
	require.Empty(t, invocations(t, argsFile))
}

func TestExecuteStabilizeStage(t *testing.T) {
	cfg := testConfig(t)
	base := time.Now().Add(-time.Hour)
	writeSegment(t, cfg.Folders.Source, "DJI_0001.MP4", base)
	writeSegment(t, cfg.Folders.Source, "DJI_0002.MP4", base.Add(time.Second))

	argsFile := filepath.Join(t.TempDir(), "args")
	tool := newTool(t, fakeMergeTool(t, argsFile), 0)

	// fake gyroflow: copies its input into the stabilized folder
	stabScript := writeScript(t, fmt.Sprintf(`#!/bin/sh
cp "$1" %q/"$(basename "$1")"
`, cfg.Folders.Stabilized))

	stab, err := stabilize.New(stabilize.Config{
		Binary: stabScript,
		Params: stabilize.Params{ZoomLimitPercent: 120, HorizonLockPercent: 80},
	})
	require.NoError(t, err)

	run, err := execute(t, cfg, tool, stab)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status())

	g := run.Groups()[0]
	output, errDetail, done := g.Stabilized()
	require.True(t, done)
	require.Empty(t, errDetail)
	require.Equal(t, filepath.Join(cfg.Folders.Stabilized, "DJI_merged.MP4"), output)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	require.Equal(t, "DJI_0001.MP4DJI_0002.MP4", string(data))
}

func TestStoreAddGetList(t *testing.T) {
	s := NewStore()

	a := group.New("AAA", nil)
	b := group.New("BBB", nil)
	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))
	require.ErrorIs(t, s.Add(group.New("AAA", nil)), ErrGroupExists)

	got, err := s.Get("BBB")
	require.NoError(t, err)
	require.Same(t, b, got)

	_, err = s.Get("CCC")
	require.ErrorIs(t, err, ErrGroupNotFound)

	list := s.List()
	require.Len(t, list, 2)
	require.Same(t, a, list[0])
	require.Same(t, b, list[1])
}
