// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具

package logger

import (
	"io"
	"log"
	"os"
)

// Logger provides a simple logging interface
type Logger interface {
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
	Debug(format string, args ...interface{})
}

type defaultLogger struct {
	prefix string
	out    *log.Logger
}

func New(prefix string) Logger {
	return &defaultLogger{prefix: prefix, out: log.Default()}
}

// NewWriter 创建写入指定目标的 Logger（追加写运行日志）
func NewWriter(prefix string, w io.Writer) Logger {
	return &defaultLogger{
		prefix: prefix,
		out:    log.New(w, "", log.LstdFlags),
	}
}

// OpenFile opens the append-only run log for use with NewWriter.
func OpenFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

func (l *defaultLogger) Info(format string, args ...interface{}) {
	l.out.Printf("[INFO] "+l.prefix+format, args...)
}

func (l *defaultLogger) Error(format string, args ...interface{}) {
	l.out.Printf("[ERROR] "+l.prefix+format, args...)
}

func (l *defaultLogger) Debug(format string, args ...interface{}) {
	l.out.Printf("[DEBUG] "+l.prefix+format, args...)
}
