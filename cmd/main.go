package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"siplink/internal/config"
	"siplink/pkg/logger"
	"siplink/pkg/server"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	gin.SetMode(gin.ReleaseMode)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog := logger.New(&cfg.Log)
	defer zlog.Sync()

	srv := server.NewServer(cfg, zlog)

	r := gin.New()
	r.Use(gin.Recovery())
	srv.RegisterRoutes(r)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		zlog.Info("shutting down, ending active calls")
		srv.Shutdown()
		os.Exit(0)
	}()

	zlog.Info("siplink started", zap.Int("http_port", cfg.Server.HTTPPort))
	if err := r.Run(fmt.Sprintf(":%d", cfg.Server.HTTPPort)); err != nil {
		zlog.Fatal("http server failed", zap.Error(err))
	}
}
