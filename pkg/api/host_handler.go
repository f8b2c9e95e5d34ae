package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hewenyu/relay-fleet/internal/config"
	"github.com/hewenyu/relay-fleet/pkg/model"
)

// HostHandler 处理负载均衡主机的管理请求
type HostHandler struct {
	store  RegistryStore
	logger config.Logger
}

// NewHostHandler 创建负载均衡主机处理器
func NewHostHandler(store RegistryStore, logger config.Logger) *HostHandler {
	return &HostHandler{
		store:  store,
		logger: logger,
	}
}

// RegisterRoutes 注册负载均衡主机管理路由
func (h *HostHandler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api")
	api.POST("/load-balancer-hosts", h.CreateHost)
	api.GET("/load-balancer-hosts", h.ListHosts)
	api.GET("/load-balancer-hosts/:id", h.GetHost)
	api.PUT("/load-balancer-hosts/:id", h.UpdateHost)
	api.DELETE("/load-balancer-hosts/:id", h.DeleteHost)
}

// HostRequest 负载均衡主机创建/更新请求。
// sni/host/alpn等展示属性只做透传存储。
type HostRequest struct {
	Name            string `json:"name" validate:"required"`
	GroupID         int    `json:"group_id" validate:"required"`
	Strategy        string `json:"strategy,omitempty"`
	SNI             string `json:"sni,omitempty"`
	Host            string `json:"host,omitempty"`
	ALPN            string `json:"alpn,omitempty"`
	Fingerprint     string `json:"fingerprint,omitempty"`
	RandomUserAgent bool   `json:"random_user_agent,omitempty"`
}

// validateHostRequest 校验请求并解析服务端策略。
// 绑定的组必须存在（400），未识别的策略按round_robin处理并记录日志。
func (h *HostHandler) validateHostRequest(c echo.Context, req *HostRequest) (model.HostStrategy, int, string) {
	if _, err := h.store.GetGroup(c.Request().Context(), req.GroupID); err != nil {
		return "", http.StatusBadRequest, "绑定的节点组不存在: " + strconv.Itoa(req.GroupID)
	}

	if req.Strategy == "" {
		return model.StrategyRoundRobin, 0, ""
	}

	strategy, ok := model.ParseHostStrategy(req.Strategy)
	if !ok {
		h.logger.Warn("未识别的主机策略，按轮询处理", zap.String("strategy", req.Strategy))
		return model.StrategyRoundRobin, 0, ""
	}

	return strategy, 0, ""
}

// nextHostID 分配下一个主机ID
func (h *HostHandler) nextHostID(c echo.Context) (int, error) {
	hosts, err := h.store.ListHosts(c.Request().Context())
	if err != nil {
		return 0, err
	}
	maxID := 0
	for _, host := range hosts {
		if host.ID > maxID {
			maxID = host.ID
		}
	}
	return maxID + 1, nil
}

// CreateHost 创建负载均衡主机，域名在主机之间必须唯一
func (h *HostHandler) CreateHost(c echo.Context) error {
	req := new(HostRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, ApiResponse{
			Code:    http.StatusBadRequest,
			Message: "请求格式错误: " + err.Error(),
		})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, ApiResponse{
			Code:    http.StatusBadRequest,
			Message: "请求参数无效: " + err.Error(),
		})
	}

	strategy, status, message := h.validateHostRequest(c, req)
	if status != 0 {
		return c.JSON(status, ApiResponse{Code: status, Message: message})
	}

	id, err := h.nextHostID(c)
	if err != nil {
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}

	host := &model.LoadBalancerHost{
		ID:                id,
		Name:              req.Name,
		GroupID:           req.GroupID,
		Strategy:          strategy,
		SNI:               req.SNI,
		Host:              req.Host,
		ALPN:              req.ALPN,
		Fingerprint:       req.Fingerprint,
		RandomUserAgent:   req.RandomUserAgent,
		SubscriptionToken: uuid.NewString(),
	}

	// 域名重复由注册表返回已存在错误，映射为409
	if err := h.store.PutHost(c.Request().Context(), host); err != nil {
		h.logger.Error("创建负载均衡主机失败", zap.String("name", req.Name), zap.Error(err))
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}

	h.logger.Info("负载均衡主机创建成功", zap.Int("host_id", host.ID), zap.String("name", host.Name))
	return c.JSON(http.StatusCreated, ApiResponse{
		Code:    http.StatusCreated,
		Message: "负载均衡主机创建成功",
		Data:    host,
	})
}

// ListHosts 获取所有负载均衡主机
func (h *HostHandler) ListHosts(c echo.Context) error {
	hosts, err := h.store.ListHosts(c.Request().Context())
	if err != nil {
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}

	return c.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "success",
		Data:    hosts,
	})
}

// GetHost 获取指定负载均衡主机
func (h *HostHandler) GetHost(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ApiResponse{
			Code:    http.StatusBadRequest,
			Message: "主机ID必须是整数",
		})
	}

	hosts, err := h.store.ListHosts(c.Request().Context())
	if err != nil {
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}

	for _, host := range hosts {
		if host.ID == id {
			return c.JSON(http.StatusOK, ApiResponse{
				Code:    http.StatusOK,
				Message: "success",
				Data:    host,
			})
		}
	}

	return c.JSON(http.StatusNotFound, ApiResponse{
		Code:    http.StatusNotFound,
		Message: "负载均衡主机不存在: " + strconv.Itoa(id),
	})
}

// UpdateHost 更新负载均衡主机，保留原有的订阅令牌
func (h *HostHandler) UpdateHost(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ApiResponse{
			Code:    http.StatusBadRequest,
			Message: "主机ID必须是整数",
		})
	}

	hosts, err := h.store.ListHosts(c.Request().Context())
	if err != nil {
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}

	var existing *model.LoadBalancerHost
	for _, host := range hosts {
		if host.ID == id {
			existing = host
			break
		}
	}
	if existing == nil {
		return c.JSON(http.StatusNotFound, ApiResponse{
			Code:    http.StatusNotFound,
			Message: "负载均衡主机不存在: " + strconv.Itoa(id),
		})
	}

	req := new(HostRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, ApiResponse{
			Code:    http.StatusBadRequest,
			Message: "请求格式错误: " + err.Error(),
		})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, ApiResponse{
			Code:    http.StatusBadRequest,
			Message: "请求参数无效: " + err.Error(),
		})
	}

	strategy, status, message := h.validateHostRequest(c, req)
	if status != 0 {
		return c.JSON(status, ApiResponse{Code: status, Message: message})
	}

	host := &model.LoadBalancerHost{
		ID:                id,
		Name:              req.Name,
		GroupID:           req.GroupID,
		Strategy:          strategy,
		SNI:               req.SNI,
		Host:              req.Host,
		ALPN:              req.ALPN,
		Fingerprint:       req.Fingerprint,
		RandomUserAgent:   req.RandomUserAgent,
		SubscriptionToken: existing.SubscriptionToken,
		CreatedAt:         existing.CreatedAt,
	}

	if err := h.store.PutHost(c.Request().Context(), host); err != nil {
		h.logger.Error("更新负载均衡主机失败", zap.Int("host_id", id), zap.Error(err))
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}

	return c.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "负载均衡主机更新成功",
		Data:    host,
	})
}

// DeleteHost 删除负载均衡主机
func (h *HostHandler) DeleteHost(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ApiResponse{
			Code:    http.StatusBadRequest,
			Message: "主机ID必须是整数",
		})
	}

	if err := h.store.DeleteHost(c.Request().Context(), id); err != nil {
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}

	h.logger.Info("负载均衡主机删除成功", zap.Int("host_id", id))
	return c.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "负载均衡主机删除成功",
	})
}
