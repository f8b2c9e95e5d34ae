package model

import "time"

// MetricSample 一次节点健康探测的结果，记录后不可变。
// 同一节点同一时间戳最多只允许一条样本。
type MetricSample struct {
	NodeID    int       `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
	// ResponseTime 响应时间，毫秒
	ResponseTime float64 `json:"response_time"`
	Success      bool    `json:"success"`
	// Error 探测失败时的错误描述
	Error string `json:"error_message,omitempty"`
}

// RollingAggregate 单个节点在回看窗口内的聚合统计。
// 窗口内无样本时SampleCount为0、其余字段为null，属于正常结果而非错误。
type RollingAggregate struct {
	NodeID int `json:"node_id"`
	// AvgResponseTime 窗口内成功样本的平均响应时间（毫秒），无成功样本时为null
	AvgResponseTime *float64 `json:"avg_response_time"`
	// SuccessRate 窗口内成功样本占比，取值[0,1]，窗口为空时为null
	SuccessRate *float64 `json:"success_rate"`
	SampleCount int      `json:"sample_count"`
	// LastCheck 窗口内最后一次探测时间
	LastCheck *time.Time `json:"last_check"`
}

// RecentCheck 最近一次探测的简要记录，用于展示层
type RecentCheck struct {
	Timestamp    time.Time `json:"timestamp"`
	Success      bool      `json:"success"`
	ResponseTime float64   `json:"response_time"`
}

// PerformanceTrend 节点性能变化趋势
type PerformanceTrend string

const (
	// TrendImproving 性能在改善
	TrendImproving PerformanceTrend = "improving"
	// TrendStable 性能稳定
	TrendStable PerformanceTrend = "stable"
	// TrendDegrading 性能在恶化
	TrendDegrading PerformanceTrend = "degrading"
	// TrendUnknown 样本不足，无法判断
	TrendUnknown PerformanceTrend = "unknown"
)

// NodePerformance 单节点性能视图，供监控与报表层消费
type NodePerformance struct {
	NodeID            int              `json:"node_id"`
	NodeName          string           `json:"node_name"`
	Status            NodeStatus       `json:"status"`
	Tier              HealthTier       `json:"tier"`
	AvgResponseTime   *float64         `json:"avg_response_time"`
	SuccessRate       *float64         `json:"success_rate"`
	ActiveConnections int              `json:"active_connections"`
	TotalConnections  int64            `json:"total_connections"`
	LastCheck         *time.Time       `json:"last_check"`
	RecentChecks      []RecentCheck    `json:"recent_checks"`
	PerformanceTrend  PerformanceTrend `json:"performance_trend"`
}

// GroupPerformance 节点组性能视图
type GroupPerformance struct {
	GroupID   int                `json:"group_id"`
	GroupName string             `json:"group_name"`
	Strategy  ClientStrategyHint `json:"strategy"`
	Nodes     []NodePerformance  `json:"nodes"`
}

// GroupHealthSummary 节点组健康摘要，每次查询实时重算，不跨采样周期缓存
type GroupHealthSummary struct {
	GroupID        int `json:"group_id"`
	TotalNodes     int `json:"total_nodes"`
	ConnectedNodes int `json:"connected_nodes"`
	// HealthyNodes 已连接成员中等级为healthy或no_data的数量。
	// 新加入尚无探测历史的节点不按不健康计，避免惩罚新节点。
	HealthyNodes           int      `json:"healthy_nodes"`
	TotalActiveConnections int      `json:"total_active_connections"`
	AvgResponseTime        *float64 `json:"avg_response_time"`
	AvgSuccessRate         *float64 `json:"avg_success_rate"`
}

// FleetOverview 全局概览，空集群时返回全零/null而不是报错
type FleetOverview struct {
	TotalGroups            int      `json:"total_groups"`
	TotalNodes             int      `json:"total_nodes"`
	ConnectedNodes         int      `json:"connected_nodes"`
	NodesInGroups          int      `json:"nodes_in_groups"`
	HealthyNodes           int      `json:"healthy_nodes"`
	TotalActiveConnections int      `json:"total_active_connections"`
	AvgResponseTime        *float64 `json:"avg_response_time"`
	AvgSuccessRate         *float64 `json:"avg_success_rate"`
}
