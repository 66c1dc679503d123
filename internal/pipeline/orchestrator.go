// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具

package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/ZSC714725/footagemanager/internal/config"
	"github.com/ZSC714725/footagemanager/internal/group"
	"github.com/ZSC714725/footagemanager/internal/logger"
	"github.com/ZSC714725/footagemanager/internal/mergetool"
	"github.com/ZSC714725/footagemanager/internal/process"
	"github.com/ZSC714725/footagemanager/internal/segment"
	"github.com/ZSC714725/footagemanager/internal/stabilize"
)

const errTailLines = 10

// Orchestrator runs the scan -> build -> merge -> stabilize pipeline for one
// Run. Groups are processed strictly sequentially, one tool invocation at a
// time, so concurrent large-file merges never fight over disk I/O.
type Orchestrator struct {
	cfg     *config.Config
	scanner *segment.Scanner
	builder *group.Builder
	tool    mergetool.Tool
	stab    stabilize.Tool
	logger  logger.Logger
}

// NewOrchestrator wires the pipeline. stab may be nil when the stabilization
// stage is disabled.
func NewOrchestrator(cfg *config.Config, tool mergetool.Tool, stab stabilize.Tool, log logger.Logger) (*Orchestrator, error) {
	if log == nil {
		log = logger.New("pipeline ")
	}

	scanner, err := segment.NewScanner(cfg.Scan, log)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:     cfg,
		scanner: scanner,
		builder: group.NewBuilder(time.Duration(cfg.Scan.MaxGapSeconds)*time.Second, log),
		tool:    tool,
		stab:    stab,
		logger:  log,
	}, nil
}

// Execute 执行一次完整流水线。*segment.ScanError 为致命错误，在任何分组
// 处理前中止；单组合并失败只记录在该组上，继续处理后续分组。
func (o *Orchestrator) Execute(ctx context.Context, run *Run) error {
	o.logger.Info("run %s started (pid %d)", run.ID, run.PID)

	segments, err := o.scanner.Scan(o.cfg.Folders.Source)
	if err != nil {
		run.setStatus(StatusAborted)
		o.logger.Error("run %s aborted: %v", run.ID, err)
		return err
	}

	groups := o.builder.Build(segments)
	for _, g := range groups {
		if err := run.AddGroup(g); err != nil {
			o.logger.Error("group %s: %v", g.Key, err)
		}
	}

	if len(groups) == 0 {
		run.setStatus(StatusCompleted)
		o.logger.Info("run %s completed: nothing to merge", run.ID)
		return nil
	}

	if err := os.MkdirAll(o.cfg.Folders.Merged, 0755); err != nil {
		run.setStatus(StatusAborted)
		o.logger.Error("run %s aborted: create %s: %v", run.ID, o.cfg.Folders.Merged, err)
		return err
	}

	merges := 0
	for i, g := range groups {
		if ctx.Err() != nil {
			run.setStatus(StatusAborted)
			o.logger.Error("run %s interrupted before group %s", run.ID, g.Key)
			return ctx.Err()
		}

		o.logger.Info("-- %d/%d %s (%d segments, %d bytes)", i+1, len(groups), g.Key, len(g.Segments), g.TotalSize())
		if o.mergeGroup(ctx, run, g) {
			merges++
		}
	}

	if o.stab != nil && ctx.Err() == nil {
		o.stabilizeGroups(ctx, run)
	}

	if ctx.Err() != nil {
		run.setStatus(StatusAborted)
		return ctx.Err()
	}

	failed := lo.FilterMap(groups, func(g *group.ClipGroup, _ int) (string, bool) {
		return g.Key, g.State() == group.StateFailed
	})

	if len(failed) == 0 {
		run.setStatus(StatusCompleted)
		o.logger.Info("run %s completed: %d groups, %d new merges", run.ID, len(groups), merges)
	} else {
		run.setStatus(StatusCompletedWithErrors)
		o.logger.Error("run %s completed with errors: failed groups: %s", run.ID, strings.Join(failed, ", "))
	}
	return nil
}

// mergeGroup processes one pending group. Returns true when the merge tool
// actually ran (or a single segment was copied), false on skip and failure.
func (o *Orchestrator) mergeGroup(ctx context.Context, run *Run, g *group.ClipGroup) bool {
	output := filepath.Join(o.cfg.Folders.Merged, g.Key+"_merged"+g.Ext())
	g.SetOutputPath(output)

	// 输出已存在且通过体积校验时视为已合并，保证崩溃后重跑的幂等性
	if fi, err := os.Stat(output); err == nil {
		if o.sizeOK(fi.Size(), g) {
			g.MarkSkipped()
			o.transition(g, group.StateMerged)
			o.logger.Info("group %s skip (exists): %s", g.Key, output)
			return false
		}
		o.logger.Error("group %s stale partial output (%d bytes), redoing: %s", g.Key, fi.Size(), output)
		os.Remove(output)
	}

	o.transition(g, group.StateMerging)

	if len(g.Segments) == 1 {
		if err := copyFile(g.Segments[0].Path, output); err != nil {
			o.fail(g, fmt.Sprintf("copy single segment: %v", err))
			return false
		}
		o.logger.Info("group %s single segment, copied to %s", g.Key, output)
	} else {
		parser := process.NewLineBuffer(100)
		proc, err := o.tool.New(mergetool.ProcessConfig{
			Inputs: g.Paths(),
			Output: output,
			Parser: parser,
			Logger: o.logger,
		})
		if err != nil {
			o.fail(g, err.Error())
			return false
		}

		run.SetActive(g.Key, proc)
		err = o.runTool(ctx, proc)
		run.ClearActive()

		if err != nil {
			if _, ok := err.(*process.TimeoutError); ok {
				o.fail(g, err.Error())
			} else {
				o.fail(g, fmt.Sprintf("%v: %s", err, process.Tail(parser.Log(), errTailLines)))
			}
			os.Remove(output)
			return false
		}
	}

	fi, err := os.Stat(output)
	if err != nil || fi.Size() == 0 {
		o.fail(g, fmt.Sprintf("tool exited 0 but output is missing or empty: %s", output))
		return false
	}
	if !o.sizeOK(fi.Size(), g) {
		o.fail(g, fmt.Sprintf("output size %d below input total %d minus tolerance", fi.Size(), g.TotalSize()))
		return false
	}

	o.transition(g, group.StateMerged)
	o.logger.Info("group %s merged to %s (%d bytes)", g.Key, output, fi.Size())
	return true
}

// stabilizeGroups 对已合并输出执行 Gyroflow 防抖，失败同样按组隔离
func (o *Orchestrator) stabilizeGroups(ctx context.Context, run *Run) {
	if err := os.MkdirAll(o.cfg.Folders.Stabilized, 0755); err != nil {
		o.logger.Error("stabilize: create %s: %v", o.cfg.Folders.Stabilized, err)
		return
	}

	for _, g := range run.Groups() {
		if g.State() != group.StateMerged {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		output := filepath.Join(o.cfg.Folders.Stabilized, filepath.Base(g.OutputPath()))

		if fi, err := os.Stat(output); err == nil && fi.Size() > 0 {
			g.SetStabilized(output, "")
			o.logger.Info("group %s skip stabilize (exists): %s", g.Key, output)
			continue
		}

		// Gyroflow renames a .tmp on success; a failed encode can leave an
		// empty .tmp behind.
		if fi, err := os.Stat(output + ".tmp"); err == nil && fi.Size() == 0 {
			os.Remove(output + ".tmp")
		}

		o.logger.Info("group %s stabilizing %s", g.Key, g.OutputPath())

		parser := process.NewLineBuffer(100)
		proc, err := o.stab.New(stabilize.ProcessConfig{
			Input:     g.OutputPath(),
			TargetDir: o.cfg.Folders.Stabilized,
			Parser:    parser,
			Logger:    o.logger,
		})
		if err != nil {
			g.SetStabilized("", err.Error())
			o.logger.Error("group %s stabilize: %v", g.Key, err)
			continue
		}

		run.SetActive(g.Key, proc)
		err = o.runTool(ctx, proc)
		run.ClearActive()

		if err != nil {
			detail := fmt.Sprintf("%v: %s", err, process.Tail(parser.Log(), errTailLines))
			g.SetStabilized("", detail)
			o.logger.Error("group %s stabilize failed: %s", g.Key, detail)
			continue
		}

		if fi, err := os.Stat(output); err != nil || fi.Size() == 0 {
			g.SetStabilized("", fmt.Sprintf("no valid output: %s", output))
			o.logger.Error("group %s stabilize produced no valid output: %s", g.Key, output)
			continue
		}

		g.SetStabilized(output, "")
		o.logger.Info("group %s stabilized to %s", g.Key, output)
	}
}

// runTool starts the tool and blocks until exit; a cancelled context kills
// the in-flight invocation.
func (o *Orchestrator) runTool(ctx context.Context, proc process.Process) error {
	if err := proc.Start(); err != nil {
		return err
	}

	waited := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			proc.Stop(false)
		case <-waited:
		}
	}()

	err := proc.Wait()
	close(waited)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (o *Orchestrator) transition(g *group.ClipGroup, to group.State) {
	from := g.State()
	if err := g.SetState(to); err != nil {
		o.logger.Error("%v", err)
		return
	}
	o.logger.Info("group %s %s -> %s", g.Key, from, to)
}

func (o *Orchestrator) fail(g *group.ClipGroup, detail string) {
	from := g.State()
	err := &MergeError{Key: g.Key, Detail: detail}
	g.Fail(err.Detail)
	o.logger.Error("%s -> %s: %v", from, group.StateFailed, err)
}

func (o *Orchestrator) sizeOK(outputSize int64, g *group.ClipGroup) bool {
	min := g.TotalSize() - o.cfg.Merge.SizeToleranceBytes
	if min < 1 {
		min = 1
	}
	return outputSize >= min
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
