// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具

package segment

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/ZSC714725/footagemanager/internal/config"
	"github.com/ZSC714725/footagemanager/internal/logger"
)

// Scanner walks a footage root and produces RawSegment records.
type Scanner struct {
	pattern Pattern
	exts    map[string]bool
	logger  logger.Logger
}

// NewScanner creates a Scanner from scan config.
func NewScanner(cfg config.ScanConfig, log logger.Logger) (*Scanner, error) {
	p, err := NewPattern(cfg.Pattern)
	if err != nil {
		return nil, err
	}

	exts := make(map[string]bool)
	for _, e := range cfg.Extensions {
		exts[strings.ToLower(e)] = true
	}

	if log == nil {
		log = logger.New("segment ")
	}

	return &Scanner{pattern: p, exts: exts, logger: log}, nil
}

// Scan 递归扫描 root，返回识别出的分段。root 不可读时返回 *ScanError，
// 单个文件的读取错误只告警并跳过。
func (s *Scanner) Scan(root string) ([]RawSegment, error) {
	var segments []RawSegment

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			s.logger.Error("skip %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		if !s.exts[strings.ToLower(filepath.Ext(name))] {
			return nil
		}

		prefix, index, ok := s.pattern.Match(name)
		if !ok {
			s.logger.Debug("no segment match: %s", name)
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			s.logger.Error("skip %s: %v", path, err)
			return nil
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}

		segments = append(segments, RawSegment{
			Path:    abs,
			Prefix:  prefix,
			Index:   index,
			ModTime: fi.ModTime(),
			Size:    fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}

	s.logger.Info("found %d segments under %s", len(segments), root)
	return segments, nil
}
