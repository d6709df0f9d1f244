package main

// @title TaskPilot API
// @version 1.0
// @description AI Agent 业务自动化核心：执行追踪、评估门禁、人工审批与自优化
// @BasePath /
// @schemes http https

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"backend/api"
	"backend/internal/agent"
	"backend/internal/approval"
	"backend/internal/config"
	"backend/internal/eval"
	"backend/internal/infra"
	"backend/internal/logger"
	"backend/internal/optimize"
	"backend/internal/trace"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	loadEnvFile()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载配置
	cfg, err := config.Load(env, "")
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
	)

	// 3. 初始化数据库
	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer infra.CloseDatabase()

	// 4. 执行数据库迁移（根据配置）
	if cfg.Database.AutoMigrate {
		if err := runMigrations(db); err != nil {
			logger.Fatal("数据库迁移失败", zap.Error(err))
		}
	} else {
		logger.Info("跳过自动迁移（配置已禁用）")
	}

	// 5. 初始化 Redis（报告缓存与任务队列）
	rdb, err := infra.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Fatal("初始化 Redis 失败", zap.Error(err))
	}
	defer infra.CloseRedis()

	// 6. 装配容器与路由
	router, container, err := api.SetupRouter(cfg, db, rdb)
	if err != nil {
		logger.Fatal("装配服务失败", zap.Error(err))
	}
	defer container.Close()

	// 7. 启动审批过期清扫
	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	container.Gateway.StartSweeper(sweeperCtx)

	// 8. 创建 HTTP 服务器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器启动",
			zap.Int("port", cfg.Server.Port),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	// 启动 Worker 服务器 (goroutine)
	go func() {
		if err := container.Worker.Run(); err != nil {
			logger.Fatal("Worker 服务器启动失败", zap.Error(err))
		}
	}()

	// 9. 优雅关闭
	gracefulShutdown(server, container, stopSweeper)
}

// loadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func loadEnvFile() {
	if path := resolveEnvPath(); path != "" {
		if err := godotenv.Load(path); err != nil {
			fmt.Printf("加载环境变量文件 %s 失败: %v\n", path, err)
		} else {
			fmt.Printf("已加载环境变量文件: %s\n", path)
		}
	} else {
		fmt.Println("未找到 .env 文件，将仅使用系统环境变量和 config/* 配置")
	}
}

// resolveEnvPath 尝试从当前工作目录、可执行文件目录向上查找根目录 .env
func resolveEnvPath() string {
	candidates := collectEnvCandidates()
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func collectEnvCandidates() []string {
	seen := make(map[string]struct{})
	var candidates []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		candidates = append(candidates, path)
	}

	traverse := func(start string) {
		dir := filepath.Clean(start)
		for i := 0; i < 8; i++ {
			if dir == "" || dir == string(filepath.Separator) || dir == "." {
				break
			}
			add(filepath.Join(dir, ".env"))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if wd, err := os.Getwd(); err == nil {
		traverse(wd)
	}
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		traverse(exeDir)
	}

	return candidates
}

// runMigrations 执行数据库迁移
func runMigrations(db *gorm.DB) error {
	return infra.AutoMigrate(db,
		&agent.AgentConfig{},
		&trace.Trace{},
		&trace.TraceStep{},
		&trace.LLMCall{},
		&trace.ToolCall{},
		&eval.EvalResult{},
		&approval.Request{},
		&optimize.Proposal{},
		&optimize.ABTest{},
	)
}

// gracefulShutdown 优雅关闭
func gracefulShutdown(server *http.Server, container *api.AppContainer, stopSweeper context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	stopSweeper()
	container.Worker.Shutdown()

	if err := infra.CloseDatabase(); err != nil {
		logger.Error("数据库关闭异常", zap.Error(err))
	}

	logger.Info("服务器已安全关闭")
}
