// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具

package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Folders   FoldersConfig   `yaml:"folders"`
	Scan      ScanConfig      `yaml:"scan"`
	Merge     MergeConfig     `yaml:"merge"`
	Stabilize StabilizeConfig `yaml:"stabilize"`
	Run       RunConfig       `yaml:"run"`
	Server    ServerConfig    `yaml:"server"`
}

// FoldersConfig 素材目录配置
type FoldersConfig struct {
	Source     string `yaml:"source"`
	Merged     string `yaml:"merged"`
	Stabilized string `yaml:"stabilized"`
}

// ScanConfig 分段扫描配置
type ScanConfig struct {
	// Extensions 识别的分段文件扩展名（小写，带点）
	Extensions []string `yaml:"extensions"`
	// Pattern matches a segment base name; needs a prefix and an index subgroup.
	Pattern string `yaml:"pattern"`
	// MaxGapSeconds 相邻分段的最大时间间隔，超过则视为新的录制
	MaxGapSeconds uint64 `yaml:"max_gap_seconds"`
}

// MergeConfig 合并工具配置
type MergeConfig struct {
	Tool string `yaml:"tool"`
	// TimeoutSeconds 0 表示不限时
	TimeoutSeconds uint64 `yaml:"timeout_seconds"`
	// SizeToleranceBytes 合并输出允许比输入总和小的字节数（容器开销）
	SizeToleranceBytes int64 `yaml:"size_tolerance_bytes"`
}

// StabilizeConfig Gyroflow 防抖配置
type StabilizeConfig struct {
	Enabled            bool    `yaml:"enabled"`
	Tool               string  `yaml:"tool"`
	ZoomLimitPercent   float64 `yaml:"zoom_limit_percent"`
	HorizonLockPercent float64 `yaml:"horizon_lock_percent"`
	TimeoutSeconds     uint64  `yaml:"timeout_seconds"`
}

// RunConfig 后台运行配置
type RunConfig struct {
	Marker string `yaml:"marker"`
	Log    string `yaml:"log"`
}

// ServerConfig 状态接口配置，Bind 为空时不启动
type ServerConfig struct {
	Bind string `yaml:"bind"`
}

// DefaultPattern matches DJI-style names: DJI_20251230055808_0001_D.MP4
// and the short form DJI_0001.MP4. Prefix is everything before the final
// numeric sequence, the trailing single-letter tag is ignored.
const DefaultPattern = `^(?P<prefix>.+)_(?P<index>\d+)(?:_[A-Za-z])?\.[^.]+$`

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Folders: FoldersConfig{
			Source:     "/srv/storage/_",
			Merged:     "/srv/storage/_/merged_footage",
			Stabilized: "/srv/storage/drone_footage",
		},
		Scan: ScanConfig{
			Extensions:    []string{".mp4"},
			Pattern:       DefaultPattern,
			MaxGapSeconds: 300,
		},
		Merge: MergeConfig{
			Tool:               "mp4-merge",
			SizeToleranceBytes: 64 << 20,
		},
		Stabilize: StabilizeConfig{
			Tool:               "gyroflow",
			ZoomLimitPercent:   120.0,
			HorizonLockPercent: 80.0,
		},
		Run: RunConfig{
			Marker: "/tmp/footagemanager.pid",
			Log:    "/tmp/footagemanager.log",
		},
	}
}

// Load 从 YAML 文件加载配置
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// 填充空值
	if len(cfg.Scan.Extensions) == 0 {
		cfg.Scan.Extensions = []string{".mp4"}
	}
	if cfg.Scan.Pattern == "" {
		cfg.Scan.Pattern = DefaultPattern
	}
	if cfg.Merge.Tool == "" {
		cfg.Merge.Tool = "mp4-merge"
	}
	if cfg.Merge.SizeToleranceBytes == 0 {
		cfg.Merge.SizeToleranceBytes = 64 << 20
	}
	if cfg.Stabilize.Tool == "" {
		cfg.Stabilize.Tool = "gyroflow"
	}
	if cfg.Stabilize.ZoomLimitPercent == 0 {
		cfg.Stabilize.ZoomLimitPercent = 120.0
	}
	if cfg.Stabilize.HorizonLockPercent == 0 {
		cfg.Stabilize.HorizonLockPercent = 80.0
	}
	if cfg.Run.Marker == "" {
		cfg.Run.Marker = "/tmp/footagemanager.pid"
	}
	if cfg.Run.Log == "" {
		cfg.Run.Log = "/tmp/footagemanager.log"
	}

	return cfg, nil
}
