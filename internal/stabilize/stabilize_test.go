// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具

package stabilize

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPreset(t *testing.T) {
	raw := buildPreset(Params{ZoomLimitPercent: 120, HorizonLockPercent: 80})

	var preset struct {
		Stabilization struct {
			MaxZoom           float64 `json:"max_zoom"`
			HorizonLockAmount float64 `json:"horizon_lock_amount"`
		} `json:"stabilization"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &preset))

	// max_zoom stays a percentage, horizon lock is scaled to 0..1
	require.Equal(t, 120.0, preset.Stabilization.MaxZoom)
	require.Equal(t, 0.8, preset.Stabilization.HorizonLockAmount)
}

func TestBuildOutParams(t *testing.T) {
	raw := buildOutParams("/srv/storage/drone_footage", "DJI_merged.MP4")

	var out struct {
		OutputFolder   string `json:"output_folder"`
		OutputFilename string `json:"output_filename"`
		UseGPU         bool   `json:"use_gpu"`
		Codec          string `json:"codec"`
		PixelFormat    string `json:"pixel_format"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &out))

	require.Equal(t, "file:///srv/storage/drone_footage/", out.OutputFolder)
	require.Equal(t, "DJI_merged.MP4", out.OutputFilename)
	require.False(t, out.UseGPU)
	require.Equal(t, "H.264/AVC", out.Codec)
	require.Equal(t, "YUV420P", out.PixelFormat)
}

func TestFileURI(t *testing.T) {
	require.Equal(t, "file:///a/b/", fileURI("/a/b"))
	require.Equal(t, "file:///a/b/", fileURI("/a/b/"))
}

func TestCommand(t *testing.T) {
	tl := &tool{
		binary: "/usr/bin/gyroflow",
		params: Params{ZoomLimitPercent: 130, HorizonLockPercent: 50},
	}

	args := tl.Command("/merged/DJI_merged.MP4", "/stabilized")
	require.Equal(t, "/merged/DJI_merged.MP4", args[0])
	require.Equal(t, "--preset", args[1])
	require.Contains(t, args[2], `"max_zoom":130`)
	require.Equal(t, "--out-params", args[3])
	require.Contains(t, args[4], `"output_filename":"DJI_merged.MP4"`)
	require.Equal(t, []string{"--parallel-renders", "1", "--no-gpu-decoding"}, args[5:])
}

func TestNewMissingBinary(t *testing.T) {
	_, err := New(Config{Binary: "definitely-not-gyroflow-xyz"})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "not found"))
}
