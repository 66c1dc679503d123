// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具
//
// Package stabilize wraps the external Gyroflow binary as a second,
// independent pipeline stage over merged outputs.

package stabilize

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ZSC714725/footagemanager/internal/logger"
	"github.com/ZSC714725/footagemanager/internal/process"
)

// Params 防抖参数
type Params struct {
	ZoomLimitPercent   float64
	HorizonLockPercent float64
}

// Tool manages the Gyroflow binary
type Tool interface {
	New(config ProcessConfig) (process.Process, error)
	Path() string
}

// ProcessConfig for one stabilization invocation
type ProcessConfig struct {
	Input         string
	TargetDir     string
	Parser        process.Parser
	Logger        logger.Logger
	OnStateChange func(from, to string)
}

// Config for the tool
type Config struct {
	Binary  string
	Params  Params
	Timeout time.Duration
}

type tool struct {
	binary  string
	params  Params
	timeout time.Duration
}

// New resolves the Gyroflow binary: a bundled ./Gyroflow/gyroflow next to the
// executable wins over PATH.
func New(config Config) (Tool, error) {
	binary, err := resolveBinary(config.Binary)
	if err != nil {
		return nil, err
	}
	return &tool{binary: binary, params: config.Params, timeout: config.Timeout}, nil
}

func resolveBinary(name string) (string, error) {
	if self, err := os.Executable(); err == nil {
		bundled := filepath.Join(filepath.Dir(self), "Gyroflow", "gyroflow")
		if fi, err := os.Stat(bundled); err == nil && !fi.IsDir() && fi.Mode()&0111 != 0 {
			return bundled, nil
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("gyroflow binary '%s' not found on PATH and no bundled copy", name)
}

// buildPreset Gyroflow 预设：max_zoom 为百分数，horizon_lock_amount 为 0..1
func buildPreset(params Params) string {
	preset := map[string]interface{}{
		"stabilization": map[string]interface{}{
			"max_zoom":            params.ZoomLimitPercent,
			"horizon_lock_amount": params.HorizonLockPercent / 100.0,
		},
	}
	data, _ := json.Marshal(preset)
	return string(data)
}

// buildOutParams 输出参数。GPU 关闭并用保守编码默认值，避免无头主机上
// NVENC/VDPAU 失败产生空文件。
func buildOutParams(targetDir, outputName string) string {
	out := map[string]interface{}{
		"output_folder":   fileURI(targetDir),
		"output_filename": outputName,
		"use_gpu":         false,
		"codec":           "H.264/AVC",
		"pixel_format":    "YUV420P",
	}
	data, _ := json.Marshal(out)
	return string(data)
}

// fileURI converts a folder path to the trailing-slash file:// form Gyroflow
// stores in its projects.
func fileURI(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return "file://" + filepath.ToSlash(abs) + "/"
}

// Command builds the Gyroflow argv for one input file.
func (t *tool) Command(input, targetDir string) []string {
	return []string{
		input,
		"--preset", buildPreset(t.params),
		"--out-params", buildOutParams(targetDir, filepath.Base(input)),
		"--parallel-renders", "1",
		"--no-gpu-decoding",
	}
}

func (t *tool) New(config ProcessConfig) (process.Process, error) {
	return process.New(process.Config{
		Binary:        t.binary,
		Args:          t.Command(config.Input, config.TargetDir),
		Timeout:       t.timeout,
		Parser:        config.Parser,
		Logger:        wrapLogger(config.Logger),
		OnStateChange: config.OnStateChange,
	})
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

func (t *tool) Path() string {
	return t.binary
}
