package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hewenyu/relay-fleet/internal/config"
	"github.com/hewenyu/relay-fleet/internal/health"
	"github.com/hewenyu/relay-fleet/internal/strategy"
	"github.com/hewenyu/relay-fleet/pkg/registry"
)

// CustomValidator 接入validator/v10的echo验证器
type CustomValidator struct {
	validator *validator.Validate
}

// Validate 实现echo.Validator接口
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// RegistryStore 管理API需要的注册表读写能力
type RegistryStore interface {
	registry.Registry
	registry.RegistryWriter
}

// Server 管理API服务：健康/性能查询、节点选择和注册表管理
type Server struct {
	e      *echo.Echo
	cfg    *config.Config
	logger config.Logger
}

// NewServer 创建管理API服务
func NewServer(
	cfg *config.Config,
	logger config.Logger,
	store RegistryStore,
	aggregator *health.Aggregator,
	engine *strategy.Engine,
	tracker ConnectionTracker,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	perfHandler := NewPerformanceHandler(aggregator, engine, logger).WithTracker(tracker)
	perfHandler.RegisterRoutes(e)

	groupHandler := NewGroupHandler(store, logger)
	groupHandler.RegisterRoutes(e)

	hostHandler := NewHostHandler(store, logger)
	hostHandler.RegisterRoutes(e)

	// 健康检查与指标端点
	e.GET("/health", healthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return &Server{
		e:      e,
		cfg:    cfg,
		logger: logger,
	}
}

// Start 启动服务（非阻塞）
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.API.Management.ListenAddress, s.cfg.API.Management.Port)
	s.logger.Info("启动管理API服务", zap.String("address", addr))

	go func() {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.Error("管理API服务启动失败", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown 优雅关闭服务
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("正在关闭管理API服务...")
	return s.e.Shutdown(ctx)
}

// healthHandler 服务自身的存活检查
func healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "relay-fleet-management-api",
	})
}
