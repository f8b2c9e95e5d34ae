package model

import "time"

// NodeStatus 节点生命周期状态
type NodeStatus string

const (
	// NodeStatusConnecting 节点正在建立连接
	NodeStatusConnecting NodeStatus = "connecting"
	// NodeStatusConnected 节点已连接，可承载流量
	NodeStatusConnected NodeStatus = "connected"
	// NodeStatusError 节点连接出错
	NodeStatusError NodeStatus = "error"
	// NodeStatusDisabled 节点被管理员禁用
	NodeStatusDisabled NodeStatus = "disabled"
)

// Connectable 判断节点当前是否处于可探测的生命周期状态
func (s NodeStatus) Connectable() bool {
	return s == NodeStatusConnected
}

// HealthTier 节点健康等级，由滚动窗口聚合结果派生，不单独存储
type HealthTier string

const (
	// TierHealthy 健康
	TierHealthy HealthTier = "healthy"
	// TierWarning 告警
	TierWarning HealthTier = "warning"
	// TierCritical 严重
	TierCritical HealthTier = "critical"
	// TierOffline 离线
	TierOffline HealthTier = "offline"
	// TierNoData 窗口内无样本
	TierNoData HealthTier = "no_data"
)

// Node 表示一个代理中继节点
type Node struct {
	ID      int        `json:"id"`
	Name    string     `json:"name"`
	Address string     `json:"address"`  // 节点网络地址
	APIPort int        `json:"api_port"` // 健康探测端口
	// UsageCoefficient 节点声明的容量权重
	UsageCoefficient float64    `json:"usage_coefficient"`
	Status           NodeStatus `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
