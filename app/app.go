// Package app 组装各个服务并管理 HTTP 服务的生命周期
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/KodaTao/gemini-chat-relay/auth"
	"github.com/KodaTao/gemini-chat-relay/chat"
	"github.com/KodaTao/gemini-chat-relay/config"
	"github.com/KodaTao/gemini-chat-relay/gemini"
	"github.com/KodaTao/gemini-chat-relay/handler"
	"github.com/KodaTao/gemini-chat-relay/metrics"
	"github.com/KodaTao/gemini-chat-relay/model"
	"github.com/KodaTao/gemini-chat-relay/relay"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
	hub    *handler.Hub
	server *http.Server
}

// New 按配置创建全部依赖，gen 为 nil 时按配置创建生成客户端
func New(cfg *config.Config, logger *zap.Logger, gen gemini.Client) (*App, error) {
	gin.SetMode(cfg.Server.Mode)

	db, err := model.InitDB(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	store := model.NewStore(db)

	if gen == nil {
		gen, err = gemini.NewClient(cfg.Gemini, logger)
		if err != nil {
			closeDB(db)
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
	}

	tokens := auth.NewJWT(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
	authSvc := auth.NewService(store, tokens, cfg.Auth.BcryptCost, logger)
	chatSvc := chat.NewService(store, gen, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	rl := relay.New(chatSvc, gen, logger, m)
	hub := handler.NewHub(&cfg.WebSocket, authSvc, rl, logger, m, cfg.Server.CORSOrigins)

	router := handler.NewRouter(handler.Deps{
		Auth:    authSvc,
		Chat:    chatSvc,
		Relay:   rl,
		Hub:     hub,
		Metrics: reg,
		Logger:  logger,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	})

	return &App{
		cfg:    cfg,
		logger: logger,
		db:     db,
		hub:    hub,
		server: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:     corsHandler.Handler(router),
			ReadTimeout: 15 * time.Second,
			// 流式响应不设写超时
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

// Run 在 ln 上提供服务，ctx 取消后优雅关闭：先关 ws 连接并等待进行中的生成落库，再关 HTTP
func (a *App) Run(ctx context.Context, ln net.Listener) error {
	defer closeDB(a.db)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("server starting", zap.String("addr", ln.Addr().String()))
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.hub.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("websocket shutdown incomplete", zap.Error(err))
		}
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// ListenAndRun 监听配置的端口
func (a *App) ListenAndRun(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		closeDB(a.db)
		return err
	}
	return a.Run(ctx, ln)
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
