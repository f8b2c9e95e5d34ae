package health

import (
	"context"

	"go.uber.org/zap"

	"github.com/hewenyu/relay-fleet/internal/config"
	"github.com/hewenyu/relay-fleet/internal/window"
	"github.com/hewenyu/relay-fleet/pkg/model"
	"github.com/hewenyu/relay-fleet/pkg/registry"
)

// recentCheckCount 性能视图中附带的最近探测条数
const recentCheckCount = 10

// trendMinSamples 判断性能趋势所需的最少样本数
const trendMinSamples = 4

// Aggregator 组合节点等级与连接计数，产出组级和全局健康视图。
// 所有方法都是无副作用的同步读取，每次调用从滚动窗口实时重算，
// 不跨采样周期缓存结果。
type Aggregator struct {
	registry   registry.Registry
	store      *window.Store
	classifier *Classifier
	conns      registry.ConnectionAccounting
	logger     config.Logger
}

// NewAggregator 创建聚合器
func NewAggregator(
	reg registry.Registry,
	store *window.Store,
	classifier *Classifier,
	conns registry.ConnectionAccounting,
	logger config.Logger,
) *Aggregator {
	return &Aggregator{
		registry:   reg,
		store:      store,
		classifier: classifier,
		conns:      conns,
		logger:     logger,
	}
}

// NodePerformance 产出单个节点的性能视图
func (a *Aggregator) NodePerformance(node *model.Node) model.NodePerformance {
	agg := a.store.Aggregate(node.ID)
	recent := a.store.Recent(node.ID, recentCheckCount)

	return model.NodePerformance{
		NodeID:            node.ID,
		NodeName:          node.Name,
		Status:            node.Status,
		Tier:              a.classifier.Classify(agg),
		AvgResponseTime:   agg.AvgResponseTime,
		SuccessRate:       agg.SuccessRate,
		ActiveConnections: a.conns.ActiveConnections(node.ID),
		TotalConnections:  a.conns.TotalConnections(node.ID),
		LastCheck:         agg.LastCheck,
		RecentChecks:      recent,
		PerformanceTrend:  trendOf(recent),
	}
}

// Summarize 产出节点组健康摘要。
// 组内引用了注册表中已不存在的节点时按offline计并记录不一致日志。
func (a *Aggregator) Summarize(ctx context.Context, group *model.ResilientNodeGroup) model.GroupHealthSummary {
	summary := model.GroupHealthSummary{
		GroupID:    group.ID,
		TotalNodes: len(group.NodeIDs),
	}

	var (
		sumResponse  float64
		numResponse  int
		sumRate      float64
		numRate      int
	)

	for _, nodeID := range group.NodeIDs {
		summary.TotalActiveConnections += a.conns.ActiveConnections(nodeID)

		node, err := a.registry.GetNode(ctx, nodeID)
		if err != nil {
			// 注册表不一致：成员已不存在，按offline处理
			a.logger.Warn("组内引用了不存在的节点",
				zap.Int("group_id", group.ID),
				zap.Int("node_id", nodeID),
				zap.Error(err))
			continue
		}

		if node.Status != model.NodeStatusConnected {
			continue
		}
		summary.ConnectedNodes++

		agg := a.store.Aggregate(nodeID)
		tier := a.classifier.Classify(agg)

		// 尚无探测历史的新节点不按不健康计
		if tier == model.TierHealthy || tier == model.TierNoData {
			summary.HealthyNodes++
		}

		if agg.AvgResponseTime != nil {
			sumResponse += *agg.AvgResponseTime
			numResponse++
		}
		if agg.SuccessRate != nil {
			sumRate += *agg.SuccessRate
			numRate++
		}
	}

	if numResponse > 0 {
		avg := sumResponse / float64(numResponse)
		summary.AvgResponseTime = &avg
	}
	if numRate > 0 {
		avg := sumRate / float64(numRate)
		summary.AvgSuccessRate = &avg
	}

	return summary
}

// GroupPerformance 产出节点组的完整性能视图
func (a *Aggregator) GroupPerformance(ctx context.Context, group *model.ResilientNodeGroup) model.GroupPerformance {
	perf := model.GroupPerformance{
		GroupID:   group.ID,
		GroupName: group.Name,
		Strategy:  group.ClientStrategyHint,
		Nodes:     make([]model.NodePerformance, 0, len(group.NodeIDs)),
	}

	for _, nodeID := range group.NodeIDs {
		node, err := a.registry.GetNode(ctx, nodeID)
		if err != nil {
			a.logger.Warn("组内引用了不存在的节点",
				zap.Int("group_id", group.ID),
				zap.Int("node_id", nodeID),
				zap.Error(err))
			continue
		}
		perf.Nodes = append(perf.Nodes, a.NodePerformance(node))
	}

	return perf
}

// ListGroupPerformance 产出所有组（或指定组）的性能视图
func (a *Aggregator) ListGroupPerformance(ctx context.Context, groupID *int) ([]model.GroupPerformance, error) {
	if groupID != nil {
		group, err := a.registry.GetGroup(ctx, *groupID)
		if err != nil {
			return nil, err
		}
		return []model.GroupPerformance{a.GroupPerformance(ctx, group)}, nil
	}

	groups, err := a.registry.ListGroups(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]model.GroupPerformance, 0, len(groups))
	for _, group := range groups {
		result = append(result, a.GroupPerformance(ctx, group))
	}

	return result, nil
}

// Overview 产出全局概览。空集群返回全零/null字段而不是错误。
func (a *Aggregator) Overview(ctx context.Context) (model.FleetOverview, error) {
	overview := model.FleetOverview{}

	groups, err := a.registry.ListGroups(ctx)
	if err != nil {
		return overview, err
	}
	overview.TotalGroups = len(groups)

	// 统计出现在任意组中的节点（允许一个节点属于多个组）
	inGroups := make(map[int]struct{})
	for _, group := range groups {
		for _, nodeID := range group.NodeIDs {
			inGroups[nodeID] = struct{}{}
		}
	}
	overview.NodesInGroups = len(inGroups)

	nodes, err := a.registry.ListNodes(ctx)
	if err != nil {
		return overview, err
	}
	overview.TotalNodes = len(nodes)

	var (
		sumResponse float64
		numResponse int
		sumRate     float64
		numRate     int
	)

	for _, node := range nodes {
		overview.TotalActiveConnections += a.conns.ActiveConnections(node.ID)

		if node.Status != model.NodeStatusConnected {
			continue
		}
		overview.ConnectedNodes++

		agg := a.store.Aggregate(node.ID)
		tier := a.classifier.Classify(agg)
		if tier == model.TierHealthy || tier == model.TierNoData {
			overview.HealthyNodes++
		}

		if agg.AvgResponseTime != nil {
			sumResponse += *agg.AvgResponseTime
			numResponse++
		}
		if agg.SuccessRate != nil {
			sumRate += *agg.SuccessRate
			numRate++
		}
	}

	if numResponse > 0 {
		avg := sumResponse / float64(numResponse)
		overview.AvgResponseTime = &avg
	}
	if numRate > 0 {
		avg := sumRate / float64(numRate)
		overview.AvgSuccessRate = &avg
	}

	return overview, nil
}

// trendOf 根据最近的探测记录判断性能趋势。
// recent按时间从新到旧排列；样本不足时返回unknown。
func trendOf(recent []model.RecentCheck) model.PerformanceTrend {
	if len(recent) < trendMinSamples {
		return model.TrendUnknown
	}

	half := len(recent) / 2
	newer := recent[:half]
	older := recent[half:]

	newerRate, newerResp := halfStats(newer)
	olderRate, olderResp := halfStats(older)

	// 成功率变化优先于延迟变化
	switch {
	case newerRate > olderRate+0.1:
		return model.TrendImproving
	case newerRate < olderRate-0.1:
		return model.TrendDegrading
	}

	if newerResp > 0 && olderResp > 0 {
		switch {
		case newerResp < olderResp*0.8:
			return model.TrendImproving
		case newerResp > olderResp*1.25:
			return model.TrendDegrading
		}
	}

	return model.TrendStable
}

// halfStats 计算一半样本的成功率和成功样本平均响应时间
func halfStats(checks []model.RecentCheck) (rate float64, avgResponse float64) {
	if len(checks) == 0 {
		return 0, 0
	}

	var successes int
	var sumResponse float64
	for _, check := range checks {
		if check.Success {
			successes++
			sumResponse += check.ResponseTime
		}
	}

	rate = float64(successes) / float64(len(checks))
	if successes > 0 {
		avgResponse = sumResponse / float64(successes)
	}
	return rate, avgResponse
}
