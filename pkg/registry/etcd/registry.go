package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/hewenyu/relay-fleet/internal/config"
	"github.com/hewenyu/relay-fleet/pkg/model"
	"github.com/hewenyu/relay-fleet/pkg/registry"
)

// etcd操作的默认超时时间
const etcdTimeout = 5 * time.Second

// 注册表在etcd中的键前缀
const (
	nodePrefix  = "/relay-fleet/nodes/"
	groupPrefix = "/relay-fleet/groups/"
	hostPrefix  = "/relay-fleet/hosts/"
)

// EtcdRegistry 是基于etcd的注册表实现，供多实例部署共享注册数据
type EtcdRegistry struct {
	client *clientv3.Client
	logger config.Logger
}

// NewEtcdRegistry 创建并连接etcd注册表
func NewEtcdRegistry(cfg *config.Config, logger config.Logger) (*EtcdRegistry, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Etcd.Endpoints,
		Username:    cfg.Etcd.Username,
		Password:    cfg.Etcd.Password,
		DialTimeout: etcdTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("创建etcd客户端失败: %w", err)
	}

	return &EtcdRegistry{
		client: client,
		logger: logger,
	}, nil
}

// Ping 检查etcd连接状态
func (e *EtcdRegistry) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, etcdTimeout)
	defer cancel()

	_, err := e.client.Get(ctx, nodePrefix, clientv3.WithKeysOnly(), clientv3.WithLimit(1))
	if err != nil {
		return fmt.Errorf("etcd健康检查失败: %w", err)
	}

	return nil
}

// Close 关闭etcd客户端连接
func (e *EtcdRegistry) Close() error {
	return e.client.Close()
}

// ListNodes 获取所有节点
func (e *EtcdRegistry) ListNodes(ctx context.Context) ([]*model.Node, error) {
	ctx, cancel := context.WithTimeout(ctx, etcdTimeout)
	defer cancel()

	resp, err := e.client.Get(ctx, nodePrefix, clientv3.WithPrefix())
	if err != nil {
		e.logger.Error("获取节点列表失败", zap.Error(err))
		return nil, registry.NewInternalError("获取节点列表失败: " + err.Error())
	}

	nodes := make([]*model.Node, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var node model.Node
		if err := json.Unmarshal(kv.Value, &node); err != nil {
			e.logger.Warn("解析节点数据失败",
				zap.String("key", string(kv.Key)),
				zap.Error(err))
			continue
		}
		nodes = append(nodes, &node)
	}

	return nodes, nil
}

// GetNode 获取指定节点
func (e *EtcdRegistry) GetNode(ctx context.Context, nodeID int) (*model.Node, error) {
	ctx, cancel := context.WithTimeout(ctx, etcdTimeout)
	defer cancel()

	key := nodeKey(nodeID)
	resp, err := e.client.Get(ctx, key)
	if err != nil {
		e.logger.Error("获取节点失败", zap.Int("node_id", nodeID), zap.Error(err))
		return nil, registry.NewInternalError("获取节点失败: " + err.Error())
	}

	if len(resp.Kvs) == 0 {
		return nil, registry.NewNotFoundError(fmt.Sprintf("节点不存在: %d", nodeID))
	}

	var node model.Node
	if err := json.Unmarshal(resp.Kvs[0].Value, &node); err != nil {
		return nil, registry.NewInternalError("解析节点数据失败: " + err.Error())
	}

	return &node, nil
}

// ListConnectableNodes 获取当前处于可探测生命周期状态的节点
func (e *EtcdRegistry) ListConnectableNodes(ctx context.Context) ([]*model.Node, error) {
	nodes, err := e.ListNodes(ctx)
	if err != nil {
		return nil, err
	}

	connectable := make([]*model.Node, 0, len(nodes))
	for _, node := range nodes {
		if node.Status.Connectable() {
			connectable = append(connectable, node)
		}
	}

	return connectable, nil
}

// ListGroups 获取所有弹性节点组
func (e *EtcdRegistry) ListGroups(ctx context.Context) ([]*model.ResilientNodeGroup, error) {
	ctx, cancel := context.WithTimeout(ctx, etcdTimeout)
	defer cancel()

	resp, err := e.client.Get(ctx, groupPrefix, clientv3.WithPrefix())
	if err != nil {
		e.logger.Error("获取弹性节点组列表失败", zap.Error(err))
		return nil, registry.NewInternalError("获取弹性节点组列表失败: " + err.Error())
	}

	groups := make([]*model.ResilientNodeGroup, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var group model.ResilientNodeGroup
		if err := json.Unmarshal(kv.Value, &group); err != nil {
			e.logger.Warn("解析弹性节点组数据失败",
				zap.String("key", string(kv.Key)),
				zap.Error(err))
			continue
		}
		groups = append(groups, &group)
	}

	return groups, nil
}

// GetGroup 获取指定弹性节点组
func (e *EtcdRegistry) GetGroup(ctx context.Context, groupID int) (*model.ResilientNodeGroup, error) {
	ctx, cancel := context.WithTimeout(ctx, etcdTimeout)
	defer cancel()

	resp, err := e.client.Get(ctx, groupKey(groupID))
	if err != nil {
		e.logger.Error("获取弹性节点组失败", zap.Int("group_id", groupID), zap.Error(err))
		return nil, registry.NewInternalError("获取弹性节点组失败: " + err.Error())
	}

	if len(resp.Kvs) == 0 {
		return nil, registry.NewNotFoundError(fmt.Sprintf("弹性节点组不存在: %d", groupID))
	}

	var group model.ResilientNodeGroup
	if err := json.Unmarshal(resp.Kvs[0].Value, &group); err != nil {
		return nil, registry.NewInternalError("解析弹性节点组数据失败: " + err.Error())
	}

	return &group, nil
}

// ListHosts 获取所有负载均衡主机
func (e *EtcdRegistry) ListHosts(ctx context.Context) ([]*model.LoadBalancerHost, error) {
	ctx, cancel := context.WithTimeout(ctx, etcdTimeout)
	defer cancel()

	resp, err := e.client.Get(ctx, hostPrefix, clientv3.WithPrefix())
	if err != nil {
		e.logger.Error("获取负载均衡主机列表失败", zap.Error(err))
		return nil, registry.NewInternalError("获取负载均衡主机列表失败: " + err.Error())
	}

	hosts := make([]*model.LoadBalancerHost, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var host model.LoadBalancerHost
		if err := json.Unmarshal(kv.Value, &host); err != nil {
			e.logger.Warn("解析负载均衡主机数据失败",
				zap.String("key", string(kv.Key)),
				zap.Error(err))
			continue
		}
		hosts = append(hosts, &host)
	}

	return hosts, nil
}

// GetHostByName 按域名获取负载均衡主机
func (e *EtcdRegistry) GetHostByName(ctx context.Context, name string) (*model.LoadBalancerHost, error) {
	if name == "" {
		return nil, registry.NewInvalidArgumentError("主机域名不能为空")
	}

	hosts, err := e.ListHosts(ctx)
	if err != nil {
		return nil, err
	}

	for _, host := range hosts {
		if host.Name == name {
			return host, nil
		}
	}

	return nil, registry.NewNotFoundError("负载均衡主机不存在: " + name)
}

// PutNode 创建或更新节点
func (e *EtcdRegistry) PutNode(ctx context.Context, node *model.Node) error {
	if node == nil || node.ID <= 0 || node.Address == "" {
		return registry.NewInvalidArgumentError("节点ID和地址不能为空")
	}

	now := time.Now()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	node.UpdatedAt = now

	return e.putJSON(ctx, nodeKey(node.ID), node, "节点")
}

// DeleteNode 删除节点
func (e *EtcdRegistry) DeleteNode(ctx context.Context, nodeID int) error {
	return e.deleteKey(ctx, nodeKey(nodeID), fmt.Sprintf("节点不存在: %d", nodeID))
}

// PutGroup 创建或更新弹性节点组
func (e *EtcdRegistry) PutGroup(ctx context.Context, group *model.ResilientNodeGroup) error {
	if group == nil || group.ID <= 0 || group.Name == "" {
		return registry.NewInvalidArgumentError("组ID和名称不能为空")
	}

	now := time.Now()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now

	return e.putJSON(ctx, groupKey(group.ID), group, "弹性节点组")
}

// DeleteGroup 删除弹性节点组
func (e *EtcdRegistry) DeleteGroup(ctx context.Context, groupID int) error {
	return e.deleteKey(ctx, groupKey(groupID), fmt.Sprintf("弹性节点组不存在: %d", groupID))
}

// PutHost 创建或更新负载均衡主机
func (e *EtcdRegistry) PutHost(ctx context.Context, host *model.LoadBalancerHost) error {
	if host == nil || host.ID <= 0 || host.Name == "" {
		return registry.NewInvalidArgumentError("主机ID和域名不能为空")
	}

	// 域名在主机之间必须唯一
	existing, err := e.GetHostByName(ctx, host.Name)
	if err == nil && existing.ID != host.ID {
		return registry.NewAlreadyExistsError("主机域名已存在: " + host.Name)
	}

	now := time.Now()
	if host.CreatedAt.IsZero() {
		host.CreatedAt = now
	}
	host.UpdatedAt = now

	return e.putJSON(ctx, hostKey(host.ID), host, "负载均衡主机")
}

// DeleteHost 删除负载均衡主机
func (e *EtcdRegistry) DeleteHost(ctx context.Context, hostID int) error {
	return e.deleteKey(ctx, hostKey(hostID), fmt.Sprintf("负载均衡主机不存在: %d", hostID))
}

// putJSON 序列化对象并写入etcd
func (e *EtcdRegistry) putJSON(ctx context.Context, key string, value any, kind string) error {
	data, err := json.Marshal(value)
	if err != nil {
		e.logger.Error("序列化"+kind+"失败", zap.String("key", key), zap.Error(err))
		return registry.NewInternalError("序列化" + kind + "失败: " + err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, etcdTimeout)
	defer cancel()

	if _, err := e.client.Put(ctx, key, string(data)); err != nil {
		e.logger.Error("写入"+kind+"失败", zap.String("key", key), zap.Error(err))
		return registry.NewInternalError("写入" + kind + "失败: " + err.Error())
	}

	return nil
}

// deleteKey 删除etcd键，键不存在时返回NotFound
func (e *EtcdRegistry) deleteKey(ctx context.Context, key, notFoundMsg string) error {
	ctx, cancel := context.WithTimeout(ctx, etcdTimeout)
	defer cancel()

	resp, err := e.client.Delete(ctx, key)
	if err != nil {
		e.logger.Error("删除键失败", zap.String("key", key), zap.Error(err))
		return registry.NewInternalError("删除失败: " + err.Error())
	}

	if resp.Deleted == 0 {
		return registry.NewNotFoundError(notFoundMsg)
	}

	return nil
}

// nodeKey 生成节点在etcd中的键
func nodeKey(nodeID int) string {
	return fmt.Sprintf("%s%d", nodePrefix, nodeID)
}

// groupKey 生成弹性节点组在etcd中的键
func groupKey(groupID int) string {
	return fmt.Sprintf("%s%d", groupPrefix, groupID)
}

// hostKey 生成负载均衡主机在etcd中的键
func hostKey(hostID int) string {
	return fmt.Sprintf("%s%d", hostPrefix, hostID)
}
