package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hewenyu/relay-fleet/internal/config"
	"github.com/hewenyu/relay-fleet/pkg/model"
)

// GroupHandler 处理弹性节点组的管理请求
type GroupHandler struct {
	store  RegistryStore
	logger config.Logger
}

// NewGroupHandler 创建节点组处理器
func NewGroupHandler(store RegistryStore, logger config.Logger) *GroupHandler {
	return &GroupHandler{
		store:  store,
		logger: logger,
	}
}

// RegisterRoutes 注册节点组管理路由
func (h *GroupHandler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api")
	api.POST("/resilient-node-groups", h.CreateGroup)
	api.GET("/resilient-node-groups", h.ListGroups)
	api.GET("/resilient-node-groups/:id", h.GetGroup)
	api.PUT("/resilient-node-groups/:id", h.UpdateGroup)
	api.DELETE("/resilient-node-groups/:id", h.DeleteGroup)
}

// GroupRequest 节点组创建/更新请求
type GroupRequest struct {
	Name               string `json:"name" validate:"required"`
	NodeIDs            []int  `json:"node_ids"`
	ClientStrategyHint string `json:"client_strategy_hint,omitempty"`
}

// validateGroupRequest 校验请求并解析策略提示。
// 成员列表不能为空（422），引用的节点必须存在（400），
// 未识别的策略提示按unset处理并记录数据质量日志。
func (h *GroupHandler) validateGroupRequest(c echo.Context, req *GroupRequest) (model.ClientStrategyHint, int, string) {
	if len(req.NodeIDs) == 0 {
		return model.HintUnset, http.StatusUnprocessableEntity, "节点组至少需要一个成员节点"
	}

	seen := make(map[int]struct{}, len(req.NodeIDs))
	for _, nodeID := range req.NodeIDs {
		if _, dup := seen[nodeID]; dup {
			return model.HintUnset, http.StatusBadRequest, "成员节点重复: " + strconv.Itoa(nodeID)
		}
		seen[nodeID] = struct{}{}

		if _, err := h.store.GetNode(c.Request().Context(), nodeID); err != nil {
			return model.HintUnset, http.StatusBadRequest, "成员节点不存在: " + strconv.Itoa(nodeID)
		}
	}

	hint, ok := model.ParseClientStrategyHint(req.ClientStrategyHint)
	if !ok {
		h.logger.Warn("未识别的客户端策略提示，按未设置处理",
			zap.String("hint", req.ClientStrategyHint))
	}

	return hint, 0, ""
}

// nameTaken 检查组名是否已被其他组占用
func (h *GroupHandler) nameTaken(c echo.Context, name string, excludeID int) (bool, error) {
	groups, err := h.store.ListGroups(c.Request().Context())
	if err != nil {
		return false, err
	}
	for _, group := range groups {
		if group.ID != excludeID && group.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// nextGroupID 分配下一个组ID
func (h *GroupHandler) nextGroupID(c echo.Context) (int, error) {
	groups, err := h.store.ListGroups(c.Request().Context())
	if err != nil {
		return 0, err
	}
	maxID := 0
	for _, group := range groups {
		if group.ID > maxID {
			maxID = group.ID
		}
	}
	return maxID + 1, nil
}

// CreateGroup 创建弹性节点组
func (h *GroupHandler) CreateGroup(c echo.Context) error {
	req := new(GroupRequest)
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

	hint, status, message := h.validateGroupRequest(c, req)
	if status != 0 {
		return c.JSON(status, ApiResponse{Code: status, Message: message})
	}

	taken, err := h.nameTaken(c, req.Name, 0)
	if err != nil {
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}
	if taken {
		return c.JSON(http.StatusConflict, ApiResponse{
			Code:    http.StatusConflict,
			Message: "节点组名称已存在: " + req.Name,
		})
	}

	id, err := h.nextGroupID(c)
	if err != nil {
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}

	group := &model.ResilientNodeGroup{
		ID:                 id,
		Name:               req.Name,
		NodeIDs:            req.NodeIDs,
		ClientStrategyHint: hint,
	}

	if err := h.store.PutGroup(c.Request().Context(), group); err != nil {
		h.logger.Error("创建节点组失败", zap.String("name", req.Name), zap.Error(err))
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}

	h.logger.Info("节点组创建成功", zap.Int("group_id", group.ID), zap.String("name", group.Name))
	return c.JSON(http.StatusCreated, ApiResponse{
		Code:    http.StatusCreated,
		Message: "节点组创建成功",
		Data:    group,
	})
}

// ListGroups 获取所有弹性节点组
func (h *GroupHandler) ListGroups(c echo.Context) error {
	groups, err := h.store.ListGroups(c.Request().Context())
	if err != nil {
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}

	return c.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "success",
		Data:    groups,
	})
}

// GetGroup 获取指定弹性节点组
func (h *GroupHandler) GetGroup(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ApiResponse{
			Code:    http.StatusBadRequest,
			Message: "组ID必须是整数",
		})
	}

	group, err := h.store.GetGroup(c.Request().Context(), id)
	if err != nil {
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}

	return c.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "success",
		Data:    group,
	})
}

// UpdateGroup 更新弹性节点组
func (h *GroupHandler) UpdateGroup(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ApiResponse{
			Code:    http.StatusBadRequest,
			Message: "组ID必须是整数",
		})
	}

	existing, err := h.store.GetGroup(c.Request().Context(), id)
	if err != nil {
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}

	req := new(GroupRequest)
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

	hint, status, message := h.validateGroupRequest(c, req)
	if status != 0 {
		return c.JSON(status, ApiResponse{Code: status, Message: message})
	}

	taken, err := h.nameTaken(c, req.Name, id)
	if err != nil {
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}
	if taken {
		return c.JSON(http.StatusConflict, ApiResponse{
			Code:    http.StatusConflict,
			Message: "节点组名称已存在: " + req.Name,
		})
	}

	group := &model.ResilientNodeGroup{
		ID:                 id,
		Name:               req.Name,
		NodeIDs:            req.NodeIDs,
		ClientStrategyHint: hint,
		CreatedAt:          existing.CreatedAt,
	}

	if err := h.store.PutGroup(c.Request().Context(), group); err != nil {
		h.logger.Error("更新节点组失败", zap.Int("group_id", id), zap.Error(err))
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}

	return c.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "节点组更新成功",
		Data:    group,
	})
}

// DeleteGroup 删除弹性节点组
func (h *GroupHandler) DeleteGroup(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ApiResponse{
			Code:    http.StatusBadRequest,
			Message: "组ID必须是整数",
		})
	}

	if err := h.store.DeleteGroup(c.Request().Context(), id); err != nil {
		status, resp := errorResponse(err)
		return c.JSON(status, resp)
	}

	h.logger.Info("节点组删除成功", zap.Int("group_id", id))
	return c.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "节点组删除成功",
	})
}
