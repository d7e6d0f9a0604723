package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/sukryu/gorm-oso/internal/config"
	"github.com/sukryu/gorm-oso/internal/devserver"
	"github.com/sukryu/gorm-oso/pkg/apis/policy/v1alpha1"
)

func main() {
	configPath := flag.String("config", "", "path to an oso.yaml config file")
	flag.Parse()

	// 설정 로드
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	policy, err := v1alpha1.LoadPolicyFile(cfg.Server.PolicyFile)
	if err != nil {
		logger.Error("failed to load policy", "path", cfg.Server.PolicyFile, "error", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	srv, err := devserver.New(devserver.Options{
		Policy:     policy,
		APIKeyHash: cfg.Server.APIKeyHash,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to build server", "error", err)
		os.Exit(1)
	}

	// 서버 시작
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("server starting", "addr", addr, "policy", policy.Name, "rules", len(policy.Rules))
	if err := srv.Run(addr); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
