package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vm-wylbur/ntt/internal/catalog"
	"github.com/vm-wylbur/ntt/internal/nthash"
)

type statusAPI struct {
	catalog *catalog.Session
}

func newStatusAPI(cat *catalog.Session) *statusAPI {
	return &statusAPI{catalog: cat}
}

type mediumStatusResponse struct {
	Hash     string               `json:"hash"`
	Label    string               `json:"label"`
	Health   string               `json:"health"`
	EnumDone bool                 `json:"enum_done"`
	CopyDone bool                 `json:"copy_done"`
	Counts   catalog.StatusCounts `json:"inode_status_counts"`
}

// GetMediumStatus godoc
// @Summary Fetch a medium's status
// @Description returns a medium's health, stage completion flags, and per-status inode counts
// @Tags media
// @Produce json
// @Param hash path string true "medium hash"
// @Success 200 {object} mediumStatusResponse
// @Failure 404 {object} map[string]any
// @Router /media/{hash} [get]
func (a *statusAPI) GetMediumStatus(c *gin.Context) {
	hash, err := nthash.Parse(c.Param("hash"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "malformed medium hash"})
		return
	}

	medium, err := a.catalog.GetMedium(c.Request.Context(), hash)
	if err != nil {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "medium not found"})
		return
	}

	counts, err := a.catalog.CountByStatus(c.Request.Context(), hash)
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"message": "counting inode status failed"})
		return
	}

	c.IndentedJSON(http.StatusOK, mediumStatusResponse{
		Hash:     hash.String(),
		Label:    medium.Label,
		Health:   string(medium.Health),
		EnumDone: medium.EnumDone != nil,
		CopyDone: medium.CopyDone != nil,
		Counts:   counts,
	})
}

// GetMediumProblems godoc
// @Summary Fetch a medium's recorded problems
// @Description returns the medium's accumulated duplicate-path and diagnostic-event findings
// @Tags media
// @Produce json
// @Param hash path string true "medium hash"
// @Success 200 {object} catalog.Problems
// @Failure 404 {object} map[string]any
// @Router /media/{hash}/problems [get]
func (a *statusAPI) GetMediumProblems(c *gin.Context) {
	hash, err := nthash.Parse(c.Param("hash"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "malformed medium hash"})
		return
	}

	medium, err := a.catalog.GetMedium(c.Request.Context(), hash)
	if err != nil {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "medium not found"})
		return
	}

	c.IndentedJSON(http.StatusOK, medium.Problems)
}

// Healthz godoc
// @Summary Liveness and catalog connectivity probe
// @Description reports whether the catalog connection is reachable
// @Tags health
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /healthz [get]
func (a *statusAPI) Healthz(c *gin.Context) {
	if err := a.catalog.Ping(c.Request.Context()); err != nil {
		c.IndentedJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"status": "ok"})
}
