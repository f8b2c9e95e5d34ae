package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/hewenyu/relay-fleet/internal/health"
	"github.com/hewenyu/relay-fleet/pkg/model"
	"github.com/hewenyu/relay-fleet/pkg/registry/memory"
)

// nopLogger 测试用空日志实现
type nopLogger struct{}

func (nopLogger) Debug(string, ...zapcore.Field) {}
func (nopLogger) Info(string, ...zapcore.Field)  {}
func (nopLogger) Warn(string, ...zapcore.Field)  {}
func (nopLogger) Error(string, ...zapcore.Field) {}
func (nopLogger) Fatal(string, ...zapcore.Field) {}

// fakeHealth 测试用健康数据源，按节点返回预设聚合
type fakeHealth struct {
	aggs map[int]model.RollingAggregate
}

func (f *fakeHealth) Aggregate(nodeID int) model.RollingAggregate {
	agg, ok := f.aggs[nodeID]
	if !ok {
		return model.RollingAggregate{NodeID: nodeID}
	}
	return agg
}

// fakeConns 测试用连接计数，按节点返回预设活跃数
type fakeConns struct {
	active map[int]int
}

func (f *fakeConns) ActiveConnections(nodeID int) int  { return f.active[nodeID] }
func (f *fakeConns) TotalConnections(nodeID int) int64 { return int64(f.active[nodeID]) }

func aggWith(rate float64, responseTime float64, count int) model.RollingAggregate {
	return model.RollingAggregate{
		SampleCount:     count,
		SuccessRate:     &rate,
		AvgResponseTime: &responseTime,
	}
}

func newTestEngine(t *testing.T, reg *memory.MemoryRegistry, healthSrc *fakeHealth, conns *fakeConns, seed int64) *Engine {
	t.Helper()
	if healthSrc == nil {
		healthSrc = &fakeHealth{aggs: map[int]model.RollingAggregate{}}
	}
	if conns == nil {
		conns = &fakeConns{active: map[int]int{}}
	}
	classifier := health.NewClassifier(health.DefaultThresholds())
	return NewEngine(reg, healthSrc, classifier, conns, nopLogger{}, nil, seed)
}

func putNode(t *testing.T, reg *memory.MemoryRegistry, id int, status model.NodeStatus) {
	t.Helper()
	require.NoError(t, reg.PutNode(context.Background(), &model.Node{
		ID:      id,
		Name:    "node",
		Address: "10.0.0.1",
		APIPort: 62050,
		Status:  status,
	}))
}

func putGroup(t *testing.T, reg *memory.MemoryRegistry, id int, hint model.ClientStrategyHint, nodeIDs ...int) {
	t.Helper()
	require.NoError(t, reg.PutGroup(context.Background(), &model.ResilientNodeGroup{
		ID:                 id,
		Name:               "group",
		NodeIDs:            nodeIDs,
		ClientStrategyHint: hint,
	}))
}

func TestRoundRobinSkipsOfflineNodes(t *testing.T) {
	reg := memory.NewMemoryRegistry()
	putNode(t, reg, 1, model.NodeStatusConnected)
	putNode(t, reg, 2, model.NodeStatusConnected)
	putNode(t, reg, 3, model.NodeStatusConnected)
	putGroup(t, reg, 10, model.HintUnset, 1, 2, 3)

	healthSrc := &fakeHealth{aggs: map[int]model.RollingAggregate{
		1: aggWith(1.0, 50, 10),
		2: aggWith(0.9, 60, 10),
		3: aggWith(0.0, 0, 10), // offline
	}}
	e := newTestEngine(t, reg, healthSrc, nil, 1)

	host := &model.LoadBalancerHost{ID: 7, GroupID: 10, Strategy: model.StrategyRoundRobin}

	seen := make(map[int]int)
	for i := 0; i < 100; i++ {
		node, err := e.SelectForHost(context.Background(), host)
		require.NoError(t, err)
		seen[node.ID]++
	}

	assert.Equal(t, 0, seen[3], "offline节点不应被选中")
	assert.Equal(t, 50, seen[1])
	assert.Equal(t, 50, seen[2])
}

func TestSelectForHostFailsOpenWhenAllOffline(t *testing.T) {
	reg := memory.NewMemoryRegistry()
	putNode(t, reg, 1, model.NodeStatusConnected)
	putNode(t, reg, 2, model.NodeStatusConnected)
	putGroup(t, reg, 10, model.HintUnset, 1, 2)

	healthSrc := &fakeHealth{aggs: map[int]model.RollingAggregate{
		1: aggWith(0.0, 0, 10),
		2: aggWith(0.0, 0, 10),
	}}
	e := newTestEngine(t, reg, healthSrc, nil, 1)

	host := &model.LoadBalancerHost{ID: 7, GroupID: 10, Strategy: model.StrategyRoundRobin}

	// 全部offline时仍须返回有效成员而不是失败
	node, err := e.SelectForHost(context.Background(), host)
	require.NoError(t, err)
	assert.Contains(t, []int{1, 2}, node.ID)
}

func TestSelectForHostEmptyGroup(t *testing.T) {
	reg := memory.NewMemoryRegistry()
	putGroup(t, reg, 10, model.HintUnset)

	e := newTestEngine(t, reg, nil, nil, 1)
	host := &model.LoadBalancerHost{ID: 7, GroupID: 10, Strategy: model.StrategyRoundRobin}

	_, err := e.SelectForHost(context.Background(), host)
	var emptyErr *EmptyGroupError
	require.ErrorAs(t, err, &emptyErr)
	assert.Equal(t, 10, emptyErr.GroupID)
}

func TestSelectForHostSkipsDanglingMember(t *testing.T) {
	reg := memory.NewMemoryRegistry()
	putNode(t, reg, 1, model.NodeStatusConnected)
	// 组引用了不存在的节点99
	putGroup(t, reg, 10, model.HintUnset, 99, 1)

	e := newTestEngine(t, reg, nil, nil, 1)
	host := &model.LoadBalancerHost{ID: 7, GroupID: 10, Strategy: model.StrategyRoundRobin}

	node, err := e.SelectForHost(context.Background(), host)
	require.NoError(t, err)
	assert.Equal(t, 1, node.ID)
}

func TestRandomSelectionIsDeterministicWithSeed(t *testing.T) {
	buildEngine := func() (*Engine, *model.LoadBalancerHost) {
		reg := memory.NewMemoryRegistry()
		putNode(t, reg, 1, model.NodeStatusConnected)
		putNode(t, reg, 2, model.NodeStatusConnected)
		putNode(t, reg, 3, model.NodeStatusConnected)
		putGroup(t, reg, 10, model.HintUnset, 1, 2, 3)
		e := newTestEngine(t, reg, nil, nil, 42)
		return e, &model.LoadBalancerHost{ID: 7, GroupID: 10, Strategy: model.StrategyRandom}
	}

	e1, host1 := buildEngine()
	e2, host2 := buildEngine()

	for i := 0; i < 20; i++ {
		n1, err := e1.SelectForHost(context.Background(), host1)
		require.NoError(t, err)
		n2, err := e2.SelectForHost(context.Background(), host2)
		require.NoError(t, err)
		assert.Equal(t, n1.ID, n2.ID, "相同种子应产生相同的选择序列")
	}
}

func TestURLTestPrefersFasterHealthyNode(t *testing.T) {
	reg := memory.NewMemoryRegistry()
	putNode(t, reg, 1, model.NodeStatusConnected)
	putNode(t, reg, 2, model.NodeStatusConnected)
	putGroup(t, reg, 10, model.HintURLTest, 1, 2)

	healthSrc := &fakeHealth{aggs: map[int]model.RollingAggregate{
		1: aggWith(0.95, 500, 10),
		2: aggWith(0.95, 30, 10),
	}}
	e := newTestEngine(t, reg, healthSrc, nil, 1)

	node, err := e.SelectNode(context.Background(), 10, "")
	require.NoError(t, err)
	assert.Equal(t, 2, node.ID, "成功率相同时应偏向低延迟节点")
}

func TestFallbackKeepsHealthyPrimary(t *testing.T) {
	reg := memory.NewMemoryRegistry()
	putNode(t, reg, 1, model.NodeStatusConnected)
	putNode(t, reg, 2, model.NodeStatusConnected)
	putGroup(t, reg, 10, model.HintFallback, 1, 2)

	healthSrc := &fakeHealth{aggs: map[int]model.RollingAggregate{
		1: aggWith(0.85, 200, 10),
		2: aggWith(1.0, 10, 10),
	}}
	e := newTestEngine(t, reg, healthSrc, nil, 1)

	node, err := e.SelectNode(context.Background(), 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, node.ID, "主节点成功率达标时应保持首选")
}

func TestFallbackSwitchesToBestBackup(t *testing.T) {
	reg := memory.NewMemoryRegistry()
	putNode(t, reg, 1, model.NodeStatusConnected)
	putNode(t, reg, 2, model.NodeStatusConnected)
	putNode(t, reg, 3, model.NodeStatusConnected)
	putGroup(t, reg, 10, model.HintFallback, 1, 2, 3)

	healthSrc := &fakeHealth{aggs: map[int]model.RollingAggregate{
		1: aggWith(0.5, 200, 10),
		2: aggWith(0.7, 100, 10),
		3: aggWith(0.9, 150, 10),
	}}
	e := newTestEngine(t, reg, healthSrc, nil, 1)

	node, err := e.SelectNode(context.Background(), 10, "")
	require.NoError(t, err)
	assert.Equal(t, 3, node.ID, "主节点劣化时应切换到成功率最高的备用节点")
}

func TestLoadBalancePrefersLessLoadedNode(t *testing.T) {
	reg := memory.NewMemoryRegistry()
	putNode(t, reg, 1, model.NodeStatusConnected)
	putNode(t, reg, 2, model.NodeStatusConnected)
	putGroup(t, reg, 10, model.HintLoadBalance, 1, 2)

	healthSrc := &fakeHealth{aggs: map[int]model.RollingAggregate{
		1: aggWith(0.95, 50, 10),
		2: aggWith(0.95, 50, 10),
	}}
	conns := &fakeConns{active: map[int]int{1: 40, 2: 3}}
	e := newTestEngine(t, reg, healthSrc, conns, 1)

	node, err := e.SelectNode(context.Background(), 10, "")
	require.NoError(t, err)
	assert.Equal(t, 2, node.ID)
}

func TestClientDefaultIsStablePerClient(t *testing.T) {
	reg := memory.NewMemoryRegistry()
	putNode(t, reg, 1, model.NodeStatusConnected)
	putNode(t, reg, 2, model.NodeStatusConnected)
	putNode(t, reg, 3, model.NodeStatusConnected)
	putGroup(t, reg, 10, model.HintClientDefault, 1, 2, 3)

	healthSrc := &fakeHealth{aggs: map[int]model.RollingAggregate{
		1: aggWith(0.9, 50, 10),
		2: aggWith(0.9, 50, 10),
		3: aggWith(0.2, 50, 10), // 低于过滤阈值
	}}
	e := newTestEngine(t, reg, healthSrc, nil, 1)

	first, err := e.SelectNode(context.Background(), 10, "client-abc")
	require.NoError(t, err)
	assert.NotEqual(t, 3, first.ID, "成功率过低的节点应被过滤")

	// 同一客户端上下文必须稳定命中同一节点
	for i := 0; i < 10; i++ {
		node, err := e.SelectNode(context.Background(), 10, "client-abc")
		require.NoError(t, err)
		assert.Equal(t, first.ID, node.ID)
	}
}

func TestSelectNodeUnknownGroup(t *testing.T) {
	reg := memory.NewMemoryRegistry()
	e := newTestEngine(t, reg, nil, nil, 1)

	_, err := e.SelectNode(context.Background(), 404, "")
	require.Error(t, err)

	var emptyErr *EmptyGroupError
	assert.False(t, errors.As(err, &emptyErr), "组不存在应返回注册表错误而不是空组错误")
}
