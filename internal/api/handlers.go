// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具
//
// Package api exposes a read-only JSON view of the running pipeline.

package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ZSC714725/footagemanager/internal/pipeline"
)

// Handler holds dependencies
type Handler struct {
	run *pipeline.Run
}

// NewHandler creates API handler for one run
func NewHandler(run *pipeline.Run) *Handler {
	return &Handler{run: run}
}

// Router builds the gin engine with all routes registered.
func Router(run *pipeline.Run) *gin.Engine {
	handler := NewHandler(run)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), cors.Default())

	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", handler.Status)
		v1.GET("/groups", handler.ListGroups)
		v1.GET("/groups/:key", handler.GetGroup)
	}
	return r
}

func errResp(c *gin.Context, code int, msg, detail string) {
	c.JSON(code, ErrorResponse{Code: code, Message: msg, Detail: detail})
}

// Status GET /api/v1/status
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, runToStatus(h.run))
}

// ListGroups GET /api/v1/groups
func (h *Handler) ListGroups(c *gin.Context) {
	state := c.DefaultQuery("state", "")

	groups := h.run.Groups()
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		if state != "" && g.State().String() != state {
			continue
		}
		out = append(out, groupToGroup(g))
	}

	c.JSON(http.StatusOK, out)
}

// GetGroup GET /api/v1/groups/:key
func (h *Handler) GetGroup(c *gin.Context) {
	key := c.Param("key")

	g, err := h.run.Group(key)
	if err != nil {
		errResp(c, http.StatusNotFound, "Unknown group key", err.Error())
		return
	}

	c.JSON(http.StatusOK, groupToGroup(g))
}
