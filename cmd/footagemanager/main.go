// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZSC714725/footagemanager/internal/api"
	"github.com/ZSC714725/footagemanager/internal/config"
	"github.com/ZSC714725/footagemanager/internal/lifecycle"
	"github.com/ZSC714725/footagemanager/internal/logger"
	"github.com/ZSC714725/footagemanager/internal/mergetool"
	"github.com/ZSC714725/footagemanager/internal/pipeline"
	"github.com/ZSC714725/footagemanager/internal/stabilize"
)

const logTailLines = 10

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	mergeBin := flag.String("merge-tool", "", "Merge tool binary path (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Load config: %v", err)
		}
	}
	if *mergeBin != "" {
		cfg.Merge.Tool = *mergeBin
	}

	switch flag.Arg(0) {
	case "start":
		cmdStart(cfg, *configPath)
	case "run":
		cmdRun(cfg)
	case "stop":
		cmdStop(cfg)
	case "status":
		cmdStatus(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Usage: %s [-config file] <start|run|stop|status>\n", os.Args[0])
		os.Exit(2)
	}
}

// runLogger 返回写入运行日志的 Logger。后台子进程的标准输出已经重定向到
// 日志文件，避免重复行，此时不再回显到控制台。
func runLogger(cfg *config.Config) (logger.Logger, *os.File, error) {
	f, err := logger.OpenFile(cfg.Run.Log)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = f
	if os.Getenv(lifecycle.DetachedEnv) == "" {
		w = io.MultiWriter(os.Stdout, f)
	}
	return logger.NewWriter("footagemanager ", w), f, nil
}

// cmdStart refuses when a live run holds the marker, logs a crashed-run
// notice for a stale one, then spawns a detached run process.
func cmdStart(cfg *config.Config, configPath string) {
	logg, f, err := runLogger(cfg)
	if err != nil {
		log.Fatalf("Open log %s: %v", cfg.Run.Log, err)
	}
	defer f.Close()

	mgr := lifecycle.NewManager(cfg.Run, logg)

	if _, err := mgr.Check(); err != nil {
		fmt.Fprintf(os.Stderr, "Refusing to start: %v\n", err)
		os.Exit(1)
	}

	pid, err := mgr.Detach(configPath)
	if err != nil {
		logg.Error("start failed: %v", err)
		os.Exit(1)
	}

	logg.Info("started pipeline process pid %d", pid)
	fmt.Printf("Started (pid %d), log: %s\n", pid, cfg.Run.Log)
}

// cmdRun executes the pipeline in the current process. SIGINT/SIGTERM kills
// the in-flight tool invocation and leaves the marker for crash detection.
func cmdRun(cfg *config.Config) {
	logg, f, err := runLogger(cfg)
	if err != nil {
		log.Fatalf("Open log %s: %v", cfg.Run.Log, err)
	}
	defer f.Close()

	mgr := lifecycle.NewManager(cfg.Run, logg)
	if err := mgr.Acquire(); err != nil {
		logg.Error("refusing to run: %v", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tool, err := mergetool.New(mergetool.Config{
		Binary:  cfg.Merge.Tool,
		Timeout: time.Duration(cfg.Merge.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		logg.Error("%v", err)
		mgr.Release()
		os.Exit(1)
	}

	var stab stabilize.Tool
	if cfg.Stabilize.Enabled {
		stab, err = stabilize.New(stabilize.Config{
			Binary: cfg.Stabilize.Tool,
			Params: stabilize.Params{
				ZoomLimitPercent:   cfg.Stabilize.ZoomLimitPercent,
				HorizonLockPercent: cfg.Stabilize.HorizonLockPercent,
			},
			Timeout: time.Duration(cfg.Stabilize.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			logg.Error("%v", err)
			mgr.Release()
			os.Exit(1)
		}
	}

	orch, err := pipeline.NewOrchestrator(cfg, tool, stab, logg)
	if err != nil {
		logg.Error("%v", err)
		mgr.Release()
		os.Exit(1)
	}

	run := pipeline.NewRun(cfg.Run.Log)

	if cfg.Server.Bind != "" {
		go func() {
			r := api.Router(run)
			logg.Info("status API listening on %s", cfg.Server.Bind)
			if err := r.Run(cfg.Server.Bind); err != nil {
				logg.Error("status API: %v", err)
			}
		}()
	}

	err = orch.Execute(ctx, run)

	if ctx.Err() != nil {
		// 标记文件保留，下次启动据此判定本次运行为 crashed
		logg.Error("run %s terminated by signal, marker left in place", run.ID)
		os.Exit(1)
	}

	mgr.Release()
	if err != nil || run.Status() != pipeline.StatusCompleted {
		os.Exit(1)
	}
}

func cmdStop(cfg *config.Config) {
	mgr := lifecycle.NewManager(cfg.Run, logger.New("lifecycle "))

	pid, err := mgr.Stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Stop: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sent SIGTERM to pid %d\n", pid)
}

func cmdStatus(cfg *config.Config) {
	mgr := lifecycle.NewManager(cfg.Run, logger.New("lifecycle "))

	state, marker, err := mgr.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status: %v\n", err)
		os.Exit(1)
	}

	switch state {
	case lifecycle.StateRunning:
		fmt.Printf("Running (pid %d since %s)\n", marker.PID, marker.StartedAt.Format(time.RFC3339))
	case lifecycle.StateCrashed:
		fmt.Printf("Crashed (stale marker for pid %d)\n", marker.PID)
	default:
		fmt.Println("Not running")
	}

	tail, err := mgr.LogTail(logTailLines)
	if err == nil && len(tail) > 0 {
		fmt.Printf("\nLog tail (%s):\n", cfg.Run.Log)
		for _, line := range tail {
			fmt.Printf("  %s\n", line)
		}
	}
}
