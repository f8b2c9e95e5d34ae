package sampler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hewenyu/relay-fleet/internal/config"
	"github.com/hewenyu/relay-fleet/internal/observability"
	"github.com/hewenyu/relay-fleet/internal/window"
	"github.com/hewenyu/relay-fleet/pkg/model"
	"github.com/hewenyu/relay-fleet/pkg/registry"
)

// Sampler 按固定周期对可连接节点执行健康探测，结果写入滚动窗口。
// 不同节点的探测互不阻塞；同一节点上个周期的探测未结束时，
// 新周期直接跳过该节点以限制资源占用。采样路径上的任何错误
// 都不会中止采样循环。
type Sampler struct {
	registry registry.Registry
	store    *window.Store
	prober   Prober
	logger   config.Logger
	metrics  *observability.Metrics

	interval     time.Duration
	probeTimeout time.Duration
	maxInflight  int

	// inflight 记录正在探测中的节点，用于跳过重叠周期
	inflightMu sync.Mutex
	inflight   map[int]struct{}

	// probeWg 跟踪所有未完成的探测，Stop时等待收尾
	probeWg sync.WaitGroup

	startMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSampler 创建采样器
func NewSampler(
	reg registry.Registry,
	store *window.Store,
	prober Prober,
	cfg *config.Config,
	logger config.Logger,
	metrics *observability.Metrics,
) *Sampler {
	return &Sampler{
		registry:     reg,
		store:        store,
		prober:       prober,
		logger:       logger,
		metrics:      metrics,
		interval:     cfg.Sampler.Interval,
		probeTimeout: cfg.Sampler.ProbeTimeout,
		maxInflight:  cfg.Sampler.MaxInflight,
		inflight:     make(map[int]struct{}),
	}
}

// Start 启动采样循环，重复调用只生效一次
func (s *Sampler) Start(ctx context.Context) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("节点采样器已启动",
		zap.Duration("interval", s.interval),
		zap.Duration("probe_timeout", s.probeTimeout),
		zap.Int("max_inflight", s.maxInflight))

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		// 启动后立即执行第一个采样周期
		s.runCycle(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()
}

// Stop 停止采样循环并等待当前周期结束
func (s *Sampler) Stop() {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.cancel == nil {
		return
	}

	s.cancel()
	<-s.done
	s.probeWg.Wait()
	s.cancel = nil

	s.logger.Info("节点采样器已停止")
}

// runCycle 触发一个采样周期：并发探测所有可连接节点，
// 并发量由maxInflight限制。周期本身不等待探测收尾，
// 超过采样间隔仍未结束的探测由下个周期的inflight跳过兜底。
func (s *Sampler) runCycle(ctx context.Context) {
	cycleID := uuid.New().String()

	nodes, err := s.registry.ListConnectableNodes(ctx)
	if err != nil {
		s.logger.Error("获取可连接节点列表失败",
			zap.String("cycle_id", cycleID),
			zap.Error(err))
		return
	}

	s.metrics.UpdateNodesConnected(len(nodes))

	if len(nodes) == 0 {
		return
	}

	s.logger.Debug("开始采样周期",
		zap.String("cycle_id", cycleID),
		zap.Int("nodes", len(nodes)))

	sem := make(chan struct{}, s.maxInflight)

	for _, node := range nodes {
		// 上个周期的探测还未结束的节点直接跳过
		if !s.acquire(node.ID) {
			s.logger.Debug("节点探测仍在进行，跳过本周期",
				zap.String("cycle_id", cycleID),
				zap.Int("node_id", node.ID))
			continue
		}

		s.probeWg.Add(1)
		go func(node *model.Node) {
			defer s.probeWg.Done()
			defer s.release(node.ID)

			sem <- struct{}{}
			defer func() { <-sem }()

			s.probeNode(ctx, cycleID, node)
		}(node)
	}
}

// probeNode 探测单个节点并把结果写入滚动窗口。
// 探测失败只产生一条success=false的样本，不在周期内重试；
// 节点的瞬时抖动由滚动窗口吸收。
func (s *Sampler) probeNode(ctx context.Context, cycleID string, node *model.Node) {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	result := s.prober.Probe(probeCtx, node)

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	s.metrics.RecordProbe(outcome, result.ResponseTime/1000)

	sample := model.MetricSample{
		NodeID:       node.ID,
		Timestamp:    time.Now(),
		ResponseTime: result.ResponseTime,
		Success:      result.Success,
		Error:        result.Error,
	}

	if err := s.store.Record(sample); err != nil {
		// 写入失败不中止采样周期
		var dup *window.DuplicateSampleError
		if errors.As(err, &dup) {
			s.metrics.RecordSampleDropped()
			s.logger.Warn("样本时间戳重复，已丢弃",
				zap.String("cycle_id", cycleID),
				zap.Int("node_id", node.ID),
				zap.Time("timestamp", dup.Timestamp))
		} else {
			s.logger.Error("写入样本失败",
				zap.String("cycle_id", cycleID),
				zap.Int("node_id", node.ID),
				zap.Error(err))
		}
		return
	}

	s.logger.Debug("节点探测完成",
		zap.String("cycle_id", cycleID),
		zap.Int("node_id", node.ID),
		zap.Bool("success", result.Success),
		zap.Float64("response_time_ms", result.ResponseTime))
}

// acquire 标记节点进入探测中状态，已在探测中时返回false
func (s *Sampler) acquire(nodeID int) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	if _, busy := s.inflight[nodeID]; busy {
		return false
	}
	s.inflight[nodeID] = struct{}{}
	return true
}

// release 解除节点的探测中标记
func (s *Sampler) release(nodeID int) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, nodeID)
}
