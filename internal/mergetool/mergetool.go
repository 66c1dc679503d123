// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具
//
// Package mergetool wraps the external mp4-merge binary.

package mergetool

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ZSC714725/footagemanager/internal/logger"
	"github.com/ZSC714725/footagemanager/internal/process"
)

// Tool manages the merge binary
type Tool interface {
	New(config ProcessConfig) (process.Process, error)
	Path() string
}

// ProcessConfig for one merge invocation
type ProcessConfig struct {
	Inputs        []string
	Output        string
	Parser        process.Parser
	Logger        logger.Logger
	OnStateChange func(from, to string)
}

// Config for the tool
type Config struct {
	Binary      string
	Timeout     time.Duration
	MaxLogLines int
}

type tool struct {
	binary   string
	timeout  time.Duration
	logLines int
}

// New resolves the merge binary and creates the Tool.
func New(config Config) (Tool, error) {
	binary, err := resolveBinary(config.Binary)
	if err != nil {
		return nil, err
	}

	t := &tool{
		binary:   binary,
		timeout:  config.Timeout,
		logLines: config.MaxLogLines,
	}
	if t.logLines <= 0 {
		t.logLines = 100
	}
	return t, nil
}

// resolveBinary 在 PATH 中查找合并工具，找不到时回退到 cargo 安装目录
func resolveBinary(name string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		for _, candidate := range []string{"mp4-merge", "mp4_merge"} {
			path := filepath.Join(home, ".cargo", "bin", candidate)
			if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("merge tool '%s' not found, install from https://github.com/gyroflow/mp4-merge", name)
}

// Command builds the tool argv: ordered inputs followed by --out <output>.
func Command(inputs []string, output string) []string {
	args := make([]string, 0, len(inputs)+2)
	args = append(args, inputs...)
	return append(args, "--out", output)
}

func (t *tool) New(config ProcessConfig) (process.Process, error) {
	parser := config.Parser
	if parser == nil {
		parser = process.NewLineBuffer(t.logLines)
	}

	return process.New(process.Config{
		Binary:        t.binary,
		Args:          Command(config.Inputs, config.Output),
		Timeout:       t.timeout,
		Parser:        parser,
		Logger:        wrapLogger(config.Logger),
		OnStateChange: config.OnStateChange,
	})
}

func (t *tool) Path() string {
	return t.binary
}

func wrapLogger(l logger.Logger) process.Logger {
	if l == nil {
		return nil
	}
	return &loggerWrapper{logger: l}
}

type loggerWrapper struct {
	logger logger.Logger
}

func (w *loggerWrapper) Info(format string, args ...interface{}) {
	w.logger.Info(format, args...)
}

func (w *loggerWrapper) Error(format string, args ...interface{}) {
	w.logger.Error(format, args...)
}

func (w *loggerWrapper) Debug(format string, args ...interface{}) {
	w.logger.Debug(format, args...)
}
