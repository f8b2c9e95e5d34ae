package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hewenyu/relay-fleet/pkg/model"
	"github.com/hewenyu/relay-fleet/pkg/registry"
)

// MemoryRegistry 是基于内存的注册表实现，用于单机部署和测试
type MemoryRegistry struct {
	nodes  map[int]*model.Node
	groups map[int]*model.ResilientNodeGroup
	hosts  map[int]*model.LoadBalancerHost
	mutex  sync.RWMutex
}

// NewMemoryRegistry 创建新的内存注册表
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		nodes:  make(map[int]*model.Node),
		groups: make(map[int]*model.ResilientNodeGroup),
		hosts:  make(map[int]*model.LoadBalancerHost),
	}
}

// ListNodes 获取所有节点
func (m *MemoryRegistry) ListNodes(ctx context.Context) ([]*model.Node, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	nodes := make([]*model.Node, 0, len(m.nodes))
	for _, node := range m.nodes {
		nodes = append(nodes, node)
	}

	return nodes, nil
}

// GetNode 获取指定节点
func (m *MemoryRegistry) GetNode(ctx context.Context, nodeID int) (*model.Node, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	node, exists := m.nodes[nodeID]
	if !exists {
		return nil, registry.NewNotFoundError(fmt.Sprintf("节点不存在: %d", nodeID))
	}

	return node, nil
}

// ListConnectableNodes 获取当前处于可探测生命周期状态的节点
func (m *MemoryRegistry) ListConnectableNodes(ctx context.Context) ([]*model.Node, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var nodes []*model.Node
	for _, node := range m.nodes {
		if node.Status.Connectable() {
			nodes = append(nodes, node)
		}
	}

	return nodes, nil
}

// ListGroups 获取所有弹性节点组
func (m *MemoryRegistry) ListGroups(ctx context.Context) ([]*model.ResilientNodeGroup, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	groups := make([]*model.ResilientNodeGroup, 0, len(m.groups))
	for _, group := range m.groups {
		groups = append(groups, group)
	}

	return groups, nil
}

// GetGroup 获取指定弹性节点组
func (m *MemoryRegistry) GetGroup(ctx context.Context, groupID int) (*model.ResilientNodeGroup, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	group, exists := m.groups[groupID]
	if !exists {
		return nil, registry.NewNotFoundError(fmt.Sprintf("弹性节点组不存在: %d", groupID))
	}

	return group, nil
}

// ListHosts 获取所有负载均衡主机
func (m *MemoryRegistry) ListHosts(ctx context.Context) ([]*model.LoadBalancerHost, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	hosts := make([]*model.LoadBalancerHost, 0, len(m.hosts))
	for _, host := range m.hosts {
		hosts = append(hosts, host)
	}

	return hosts, nil
}

// GetHostByName 按域名获取负载均衡主机
func (m *MemoryRegistry) GetHostByName(ctx context.Context, name string) (*model.LoadBalancerHost, error) {
	if name == "" {
		return nil, registry.NewInvalidArgumentError("主机域名不能为空")
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, host := range m.hosts {
		if host.Name == name {
			return host, nil
		}
	}

	return nil, registry.NewNotFoundError("负载均衡主机不存在: " + name)
}

// PutNode 创建或更新节点
func (m *MemoryRegistry) PutNode(ctx context.Context, node *model.Node) error {
	if node == nil || node.ID <= 0 || node.Address == "" {
		return registry.NewInvalidArgumentError("节点ID和地址不能为空")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	node.UpdatedAt = now

	m.nodes[node.ID] = node
	return nil
}

// DeleteNode 删除节点
func (m *MemoryRegistry) DeleteNode(ctx context.Context, nodeID int) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.nodes[nodeID]; !exists {
		return registry.NewNotFoundError(fmt.Sprintf("节点不存在: %d", nodeID))
	}

	delete(m.nodes, nodeID)
	return nil
}

// PutGroup 创建或更新弹性节点组
func (m *MemoryRegistry) PutGroup(ctx context.Context, group *model.ResilientNodeGroup) error {
	if group == nil || group.ID <= 0 || group.Name == "" {
		return registry.NewInvalidArgumentError("组ID和名称不能为空")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now

	m.groups[group.ID] = group
	return nil
}

// DeleteGroup 删除弹性节点组
func (m *MemoryRegistry) DeleteGroup(ctx context.Context, groupID int) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.groups[groupID]; !exists {
		return registry.NewNotFoundError(fmt.Sprintf("弹性节点组不存在: %d", groupID))
	}

	delete(m.groups, groupID)
	return nil
}

// PutHost 创建或更新负载均衡主机
func (m *MemoryRegistry) PutHost(ctx context.Context, host *model.LoadBalancerHost) error {
	if host == nil || host.ID <= 0 || host.Name == "" {
		return registry.NewInvalidArgumentError("主机ID和域名不能为空")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	// 域名在主机之间必须唯一
	for id, existing := range m.hosts {
		if id != host.ID && existing.Name == host.Name {
			return registry.NewAlreadyExistsError("主机域名已存在: " + host.Name)
		}
	}

	now := time.Now()
	if host.CreatedAt.IsZero() {
		host.CreatedAt = now
	}
	host.UpdatedAt = now

	m.hosts[host.ID] = host
	return nil
}

// DeleteHost 删除负载均衡主机
func (m *MemoryRegistry) DeleteHost(ctx context.Context, hostID int) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.hosts[hostID]; !exists {
		return registry.NewNotFoundError(fmt.Sprintf("负载均衡主机不存在: %d", hostID))
	}

	delete(m.hosts, hostID)
	return nil
}
