// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具

package lifecycle

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/ZSC714725/footagemanager/internal/logger"
)

// DetachedEnv marks a run process spawned by Detach so it logs to the run
// log only, never to its (redirected) stdout.
const DetachedEnv = "FOOTAGEMANAGER_DETACHED"

// Detach 以新会话启动 "<self> run"，输出重定向到追加日志后立即返回子进程
// PID。子进程自己写标记文件并在正常结束时清除。
func (m *Manager) Detach(configPath string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	f, err := logger.OpenFile(m.logPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var args []string
	if configPath != "" {
		args = append(args, "-config", configPath)
	}
	args = append(args, "run")

	cmd := exec.Command(exe, args...)
	cmd.Stdout = f
	cmd.Stderr = f
	cmd.Env = append(os.Environ(), DetachedEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	pid := cmd.Process.Pid
	cmd.Process.Release()
	return pid, nil
}
