package registry

import (
	"context"

	"github.com/hewenyu/relay-fleet/pkg/model"
)

// Registry 定义节点/组/主机注册表的只读接口。
// 注册表由外部管理界面维护，引擎只通过该接口读取。
type Registry interface {
	// ListNodes 获取所有节点
	ListNodes(ctx context.Context) ([]*model.Node, error)

	// GetNode 获取指定节点
	GetNode(ctx context.Context, nodeID int) (*model.Node, error)

	// ListConnectableNodes 获取当前处于可探测生命周期状态的节点
	ListConnectableNodes(ctx context.Context) ([]*model.Node, error)

	// ListGroups 获取所有弹性节点组
	ListGroups(ctx context.Context) ([]*model.ResilientNodeGroup, error)

	// GetGroup 获取指定弹性节点组
	GetGroup(ctx context.Context, groupID int) (*model.ResilientNodeGroup, error)

	// ListHosts 获取所有负载均衡主机
	ListHosts(ctx context.Context) ([]*model.LoadBalancerHost, error)

	// GetHostByName 按域名获取负载均衡主机
	GetHostByName(ctx context.Context, name string) (*model.LoadBalancerHost, error)
}

// RegistryWriter 定义注册表的写接口，供管理API使用
type RegistryWriter interface {
	// PutNode 创建或更新节点
	PutNode(ctx context.Context, node *model.Node) error

	// DeleteNode 删除节点
	DeleteNode(ctx context.Context, nodeID int) error

	// PutGroup 创建或更新弹性节点组
	PutGroup(ctx context.Context, group *model.ResilientNodeGroup) error

	// DeleteGroup 删除弹性节点组
	DeleteGroup(ctx context.Context, groupID int) error

	// PutHost 创建或更新负载均衡主机
	PutHost(ctx context.Context, host *model.LoadBalancerHost) error

	// DeleteHost 删除负载均衡主机
	DeleteHost(ctx context.Context, hostID int) error
}

// ConnectionAccounting 定义连接计数协作方的只读接口。
// 活跃连接数由外部连接跟踪维护，引擎只读取。
type ConnectionAccounting interface {
	// ActiveConnections 获取节点当前活跃连接数
	ActiveConnections(nodeID int) int

	// TotalConnections 获取节点累计连接数
	TotalConnections(nodeID int) int64
}

// RegistryError 定义注册表操作可能返回的错误类型
type RegistryError struct {
	Code    int
	Message string
}

// Error 实现error接口
func (e *RegistryError) Error() string {
	return e.Message
}

// 定义错误代码
const (
	// ErrNotFound 资源不存在
	ErrNotFound = iota + 1
	// ErrAlreadyExists 资源已存在
	ErrAlreadyExists
	// ErrInvalidArgument 参数无效
	ErrInvalidArgument
	// ErrInternal 内部错误
	ErrInternal
)

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) *RegistryError {
	return &RegistryError{
		Code:    ErrNotFound,
		Message: message,
	}
}

// NewAlreadyExistsError 创建资源已存在错误
func NewAlreadyExistsError(message string) *RegistryError {
	return &RegistryError{
		Code:    ErrAlreadyExists,
		Message: message,
	}
}

// NewInvalidArgumentError 创建参数无效错误
func NewInvalidArgumentError(message string) *RegistryError {
	return &RegistryError{
		Code:    ErrInvalidArgument,
		Message: message,
	}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *RegistryError {
	return &RegistryError{
		Code:    ErrInternal,
		Message: message,
	}
}
