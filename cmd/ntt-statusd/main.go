// Command ntt-statusd serves a read-only HTTP status surface over a
// medium's catalog state: health, stage completion, per-status inode
// counts, and recorded problems. It carries no auth middleware — unlike
// the teacher's okta-gated REST API, this is an internal read-only
// surface with no mutating endpoints, so bearer-token verification has
// nothing to protect.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/vm-wylbur/ntt/cmd/ntt-statusd/docs"
	"github.com/vm-wylbur/ntt/internal/catalog"
	"github.com/vm-wylbur/ntt/internal/config"
	"github.com/vm-wylbur/ntt/internal/ntlog"
)

func main() {
	ntlog.Configure()

	configPath := flag.String("config", "ntt.config.json", "path to configuration file")
	listen := flag.String("listen", "localhost:8080", "address to listen on")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("ntt-statusd: load config failed", "error", err)
		os.Exit(1)
	}

	cat, err := catalog.Open(context.Background(), cfg.Catalog)
	if err != nil {
		slog.Error("ntt-statusd: open catalog failed", "error", err)
		os.Exit(1)
	}
	defer cat.Close()

	api := newStatusAPI(cat)

	router := gin.Default()

	v1 := router.Group("/api/v1")
	{
		v1.GET("/media/:hash", api.GetMediumStatus)
		v1.GET("/media/:hash/problems", api.GetMediumProblems)
	}
	router.GET("/healthz", api.Healthz)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	slog.Info("ntt-statusd: listening", "address", *listen)
	if err := router.Run(*listen); err != nil {
		slog.Error("ntt-statusd: server exited", "error", err)
		os.Exit(1)
	}
}
