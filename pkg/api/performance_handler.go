package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hewenyu/relay-fleet/internal/config"
	"github.com/hewenyu/relay-fleet/internal/health"
	"github.com/hewenyu/relay-fleet/internal/strategy"
)

// ConnectionTracker 记录选择结果产生的连接
type ConnectionTracker interface {
	Track(nodeID int)
}

// PerformanceHandler 处理健康/性能查询和节点选择请求
type PerformanceHandler struct {
	aggregator *health.Aggregator
	engine     *strategy.Engine
	tracker    ConnectionTracker
	logger     config.Logger
}

// NewPerformanceHandler 创建性能处理器
func NewPerformanceHandler(aggregator *health.Aggregator, engine *strategy.Engine, logger config.Logger) *PerformanceHandler {
	return &PerformanceHandler{
		aggregator: aggregator,
		engine:     engine,
		logger:     logger,
	}
}

// WithTracker 设置连接跟踪，选择成功后记一笔连接
func (h *PerformanceHandler) WithTracker(tracker ConnectionTracker) *PerformanceHandler {
	h.tracker = tracker
	return h
}

// RegisterRoutes 注册性能查询相关的路由
func (h *PerformanceHandler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api")
	api.GET("/overview", h.GetOverview)
	api.GET("/node-performance", h.GetNodePerformance)
	api.POST("/groups/:id/select", h.SelectNode)
}

// GetOverview 获取全局健康概览
func (h *PerformanceHandler) GetOverview(c echo.Context) error {
	overview, err := h.aggregator.Overview(c.Request().Context())
	if err != nil {
		h.logger.Error("获取全局概览失败", zap.Error(err))
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}

	return c.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "success",
		Data:    overview,
	})
}

// GetNodePerformance 获取所有组或指定组的节点性能视图。
// group_id查询参数可选，缺省时返回所有组。
func (h *PerformanceHandler) GetNodePerformance(c echo.Context) error {
	var groupID *int
	if raw := c.QueryParam("group_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ApiResponse{
				Code:    http.StatusBadRequest,
				Message: "group_id必须是整数",
			})
		}
		groupID = &id
	}

	groups, err := h.aggregator.ListGroupPerformance(c.Request().Context(), groupID)
	if err != nil {
		h.logger.Error("获取节点性能视图失败", zap.Error(err))
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}

	return c.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "success",
		Data:    groups,
	})
}

// SelectNodeRequest 节点选择请求
type SelectNodeRequest struct {
	// ClientContext 客户端标识，client-default策略下用于稳定选择
	ClientContext string `json:"client_context,omitempty"`
}

// SelectNodeResponse 节点选择结果
type SelectNodeResponse struct {
	NodeID  int    `json:"node_id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// SelectNode 按组的策略提示选出一个节点。
// 组内没有可解析成员时返回422，这是选择路径上唯一的业务错误。
func (h *PerformanceHandler) SelectNode(c echo.Context) error {
	groupID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ApiResponse{
			Code:    http.StatusBadRequest,
			Message: "组ID必须是整数",
		})
	}

	req := new(SelectNodeRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, ApiResponse{
			Code:    http.StatusBadRequest,
			Message: "请求格式错误: " + err.Error(),
		})
	}

	node, err := h.engine.SelectNode(c.Request().Context(), groupID, req.ClientContext)
	if err != nil {
		var emptyErr *strategy.EmptyGroupError
		if errors.As(err, &emptyErr) {
			return c.JSON(http.StatusUnprocessableEntity, ApiResponse{
				Code:    http.StatusUnprocessableEntity,
				Message: err.Error(),
			})
		}
		h.logger.Error("节点选择失败", zap.Int("group_id", groupID), zap.Error(err))
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}

	if h.tracker != nil {
		h.tracker.Track(node.ID)
	}

	return c.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "success",
		Data: SelectNodeResponse{
			NodeID:  node.ID,
			Name:    node.Name,
			Address: node.Address,
		},
	})
}
