// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具

package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrGroupNotFound = errors.New("group not found")
	ErrGroupExists   = errors.New("group already exists")
)

// MergeError is a per-group merge failure: tool exit failure, missing or
// empty output, or a size-sanity failure. It never aborts the run.
type MergeError struct {
	Key    string
	Detail string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge %s: %s", e.Key, e.Detail)
}
