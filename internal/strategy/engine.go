package strategy

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hewenyu/relay-fleet/internal/config"
	"github.com/hewenyu/relay-fleet/internal/observability"
	"github.com/hewenyu/relay-fleet/pkg/model"
	"github.com/hewenyu/relay-fleet/pkg/registry"
)

// EmptyGroupError 组内没有任何可解析的成员，无法给出选择。
// 这是选择路径上唯一向调用方暴露的错误。
type EmptyGroupError struct {
	GroupID int
}

// Error 实现error接口
func (e *EmptyGroupError) Error() string {
	return fmt.Sprintf("弹性节点组%d没有可选择的成员", e.GroupID)
}

// url-test评分使用的缺省值，与性能数据缺失的节点对齐
const (
	defaultResponseTime = 1000.0 // 毫秒
	defaultSuccessRate  = 0.5
)

// clientDefault策略过滤掉成功率低于该值的节点
const clientDefaultMinRate = 0.30

// fallback策略中主节点保持首选所需的最低成功率
const fallbackPrimaryMinRate = 0.80

// HealthSource 提供节点的滚动窗口聚合
type HealthSource interface {
	Aggregate(nodeID int) model.RollingAggregate
}

// TierClassifier 把聚合映射为健康等级
type TierClassifier interface {
	Classify(agg model.RollingAggregate) model.HealthTier
}

// Engine 策略引擎：根据组的策略提示或主机的服务端策略，
// 结合成员健康等级与负载选出节点。相同输入（成员集合+等级）
// 下选择结果可复现：随机源由外部注入种子。
type Engine struct {
	registry   registry.Registry
	health     HealthSource
	classifier TierClassifier
	conns      registry.ConnectionAccounting
	logger     config.Logger
	metrics    *observability.Metrics

	mu      sync.Mutex
	rng     *rand.Rand
	cursors map[string]int
}

// NewEngine 创建策略引擎。seed为随机选择的种子。
func NewEngine(
	reg registry.Registry,
	health HealthSource,
	classifier TierClassifier,
	conns registry.ConnectionAccounting,
	logger config.Logger,
	metrics *observability.Metrics,
	seed int64,
) *Engine {
	return &Engine{
		registry:   reg,
		health:     health,
		classifier: classifier,
		conns:      conns,
		logger:     logger,
		metrics:    metrics,
		rng:        rand.New(rand.NewSource(seed)),
		cursors:    make(map[string]int),
	}
}

// member 参与选择的候选节点及其派生状态
type member struct {
	node *model.Node
	agg  model.RollingAggregate
	tier model.HealthTier
}

// SelectForHost 按负载均衡主机的服务端策略选出一个节点。
// 跳过offline成员；所有成员都offline时回退到完整成员列表
// （失败开放：必须继续引流，只记录降级事件）。
func (e *Engine) SelectForHost(ctx context.Context, host *model.LoadBalancerHost) (*model.Node, error) {
	group, err := e.registry.GetGroup(ctx, host.GroupID)
	if err != nil {
		return nil, err
	}

	members, err := e.resolveMembers(ctx, group)
	if err != nil {
		return nil, err
	}

	candidates := e.eligible(members)
	if len(candidates) == 0 {
		// 失败开放：全部成员offline时仍从完整成员列表中选择
		e.metrics.RecordDegradedSelection()
		e.logger.Warn("所有成员均不可用，降级为全量选择",
			zap.Int("host_id", host.ID),
			zap.Int("group_id", group.ID))
		candidates = members
	}

	var picked *model.Node
	switch host.Strategy {
	case model.StrategyRandom:
		picked = candidates[e.randIntn(len(candidates))].node
	default:
		// round_robin，同时也是未知策略的兜底
		picked = candidates[e.nextCursor(hostCursorKey(host.ID), len(candidates))].node
	}

	e.metrics.RecordSelection(string(host.Strategy))
	return picked, nil
}

// SelectNode 按组的客户端策略提示选出一个节点。
// 提示本身是建议性质，这里实现服务端的对应语义；
// 未设置提示时默认随机。clientContext用于client-default
// 策略下的稳定选择，可为空。
func (e *Engine) SelectNode(ctx context.Context, groupID int, clientContext string) (*model.Node, error) {
	group, err := e.registry.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	members, err := e.resolveMembers(ctx, group)
	if err != nil {
		return nil, err
	}

	candidates := e.eligible(members)
	if len(candidates) == 0 {
		e.metrics.RecordDegradedSelection()
		e.logger.Warn("所有成员均不可用，降级为全量选择",
			zap.Int("group_id", group.ID))
		candidates = members
	}

	var picked *model.Node
	switch group.ClientStrategyHint {
	case model.HintURLTest:
		picked = selectBestScore(candidates)
	case model.HintFallback:
		picked = selectFallback(candidates)
	case model.HintLoadBalance:
		picked = e.selectLeastLoaded(candidates)
	case model.HintClientDefault:
		picked = e.selectConsistent(candidates, clientContext)
	default:
		picked = candidates[e.randIntn(len(candidates))].node
	}

	e.metrics.RecordSelection(string(group.ClientStrategyHint))
	return picked, nil
}

// resolveMembers 把组的成员ID解析为节点。
// 注册表中已不存在的成员按offline处理并记录不一致日志；
// 没有任何可解析成员时返回EmptyGroupError。
func (e *Engine) resolveMembers(ctx context.Context, group *model.ResilientNodeGroup) ([]member, error) {
	members := make([]member, 0, len(group.NodeIDs))
	for _, nodeID := range group.NodeIDs {
		node, err := e.registry.GetNode(ctx, nodeID)
		if err != nil {
			e.logger.Warn("组内引用了不存在的节点",
				zap.Int("group_id", group.ID),
				zap.Int("node_id", nodeID),
				zap.Error(err))
			continue
		}

		agg := e.health.Aggregate(nodeID)
		members = append(members, member{
			node: node,
			agg:  agg,
			tier: e.classifier.Classify(agg),
		})
	}

	if len(members) == 0 {
		return nil, &EmptyGroupError{GroupID: group.ID}
	}

	return members, nil
}

// eligible 过滤出已连接且未offline的成员，保持原有顺序
func (e *Engine) eligible(members []member) []member {
	candidates := make([]member, 0, len(members))
	for _, m := range members {
		if m.node.Status != model.NodeStatusConnected {
			continue
		}
		if m.tier == model.TierOffline {
			continue
		}
		candidates = append(candidates, m)
	}
	return candidates
}

// selectBestScore url-test语义：综合成功率与延迟评分取最优。
// 无性能数据的节点使用缺省值参与评分。
func selectBestScore(candidates []member) *model.Node {
	best := candidates[0]
	bestScore := performanceScore(best.agg)
	for _, m := range candidates[1:] {
		if score := performanceScore(m.agg); score > bestScore {
			best = m
			bestScore = score
		}
	}
	return best.node
}

// performanceScore 计算节点的综合性能评分，越高越好
func performanceScore(agg model.RollingAggregate) float64 {
	responseTime := defaultResponseTime
	if agg.AvgResponseTime != nil {
		responseTime = *agg.AvgResponseTime
	}
	successRate := defaultSuccessRate
	if agg.SuccessRate != nil {
		successRate = *agg.SuccessRate
	}

	timeScore := 100 - responseTime/10
	if timeScore < 0 {
		timeScore = 0
	}

	return successRate*100*0.7 + timeScore*0.3
}

// selectFallback fallback语义：成员顺序即主备顺序。
// 主节点成功率未知或不低于阈值时保持首选，否则切换到
// 成功率最高的备用节点。
func selectFallback(candidates []member) *model.Node {
	primary := candidates[0]
	if primary.agg.SuccessRate == nil || *primary.agg.SuccessRate >= fallbackPrimaryMinRate {
		return primary.node
	}

	if len(candidates) == 1 {
		return primary.node
	}

	best := candidates[1]
	for _, m := range candidates[2:] {
		if rateOf(m.agg) > rateOf(best.agg) {
			best = m
		}
	}
	return best.node
}

// selectLeastLoaded load-balance语义：活跃连接数加性能惩罚最低者优先
func (e *Engine) selectLeastLoaded(candidates []member) *model.Node {
	best := candidates[0]
	bestLoad := e.loadScore(best)
	for _, m := range candidates[1:] {
		if load := e.loadScore(m); load < bestLoad {
			best = m
			bestLoad = load
		}
	}
	return best.node
}

// loadScore 计算节点的负载评分，越低越好
func (e *Engine) loadScore(m member) float64 {
	load := float64(e.conns.ActiveConnections(m.node.ID))

	// 响应时间超过100ms的部分按比例计入惩罚
	if m.agg.AvgResponseTime != nil && *m.agg.AvgResponseTime > 100 {
		load += (*m.agg.AvgResponseTime - 100) / 100
	}

	// 成功率低于90%的部分同样计入惩罚
	if m.agg.SuccessRate != nil && *m.agg.SuccessRate < 0.9 {
		load += (0.9 - *m.agg.SuccessRate) * 100
	}

	return load
}

// selectConsistent client-default语义：过滤掉成功率过低的成员后，
// 按clientContext哈希做稳定选择，让同一客户端尽量命中同一节点
func (e *Engine) selectConsistent(candidates []member, clientContext string) *model.Node {
	filtered := make([]member, 0, len(candidates))
	for _, m := range candidates {
		if m.agg.SuccessRate != nil && *m.agg.SuccessRate < clientDefaultMinRate {
			continue
		}
		filtered = append(filtered, m)
	}
	if len(filtered) == 0 {
		filtered = candidates
	}

	if clientContext == "" {
		return filtered[e.randIntn(len(filtered))].node
	}

	// 按节点ID排序后取哈希桶，成员顺序变化不影响命中
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].node.ID < filtered[j].node.ID
	})

	h := fnv.New32a()
	h.Write([]byte(clientContext))
	return filtered[int(h.Sum32())%len(filtered)].node
}

// rateOf 读取成功率，缺失时按0处理
func rateOf(agg model.RollingAggregate) float64 {
	if agg.SuccessRate == nil {
		return 0
	}
	return *agg.SuccessRate
}

// nextCursor 推进并返回指定键的轮询游标
func (e *Engine) nextCursor(key string, size int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos := e.cursors[key] % size
	e.cursors[key] = pos + 1
	return pos
}

// randIntn 从注入种子的随机源取值
func (e *Engine) randIntn(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Intn(n)
}

// hostCursorKey 生成主机轮询游标的键
func hostCursorKey(hostID int) string {
	return fmt.Sprintf("host:%d", hostID)
}
