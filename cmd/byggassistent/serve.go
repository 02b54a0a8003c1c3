package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"byggassistent/internal/config"
	"byggassistent/internal/handler"
	"byggassistent/pkg/log"
	"byggassistent/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(config.Conf)
		},
	}
}

func serve(cfg config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()
	a.runBackground(ctx)

	var jwtManager *token.JWTManager
	if cfg.JWT.Secret != "" {
		jwtManager = token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.SessionTokenExpireHours)
	}

	gin.SetMode(cfg.Server.Mode)
	h := handler.Handlers{
		Search:  handler.NewSearchHandler(a.search),
		Session: handler.NewSessionHandler(a.conversations, jwtManager, a.archive),
		Health:  handler.NewHealthHandler(a.store),
	}
	if a.chat != nil {
		h.Chat = handler.NewChatHandler(a.chat, jwtManager)
	}
	r := handler.NewRouter(h, jwtManager)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("HTTP 服务监听失败: %w", err)
	case <-quit:
	}
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP 服务器关闭失败: %w", err)
	}
	cancel()
	log.Info("服务已优雅关闭")
	return nil
}
