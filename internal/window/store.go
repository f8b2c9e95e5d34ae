package window

import (
	"fmt"
	"sync"
	"time"

	"github.com/hewenyu/relay-fleet/pkg/model"
)

// DuplicateSampleError 同一节点同一时间戳的样本已存在。
// 采样路径把它当作非致命错误：记录日志后丢弃样本。
type DuplicateSampleError struct {
	NodeID    int
	Timestamp time.Time
}

// Error 实现error接口
func (e *DuplicateSampleError) Error() string {
	return fmt.Sprintf("节点%d在%s已存在样本", e.NodeID, e.Timestamp.Format(time.RFC3339Nano))
}

// Store 滚动窗口存储：按节点维护固定容量的环形样本缓冲。
// 覆盖顺序严格为最旧优先；聚合为纯读取，每次查询从窗口实时重算，
// 不维护任何可失效的缓存。
type Store struct {
	size   int
	maxAge time.Duration

	mu    sync.RWMutex
	rings map[int]*nodeRing
}

// nodeRing 单个节点的环形缓冲，写入互不阻塞其他节点
type nodeRing struct {
	mu      sync.Mutex
	samples []model.MetricSample
	next    int
	count   int
}

// NewStore 创建滚动窗口存储。
// size为每节点窗口的样本容量；maxAge为聚合时的最大回看时长，
// 0表示不按时间过滤。
func NewStore(size int, maxAge time.Duration) *Store {
	if size <= 0 {
		size = 1
	}
	return &Store{
		size:   size,
		maxAge: maxAge,
		rings:  make(map[int]*nodeRing),
	}
}

// Record 追加一条样本，违反同节点同时间戳唯一性时返回DuplicateSampleError
func (s *Store) Record(sample model.MetricSample) error {
	ring := s.ringFor(sample.NodeID)

	ring.mu.Lock()
	defer ring.mu.Unlock()

	// 唯一性约束只需检查窗口内仍然存活的样本
	for i := 0; i < ring.count; i++ {
		if ring.samples[i].Timestamp.Equal(sample.Timestamp) {
			return &DuplicateSampleError{
				NodeID:    sample.NodeID,
				Timestamp: sample.Timestamp,
			}
		}
	}

	ring.samples[ring.next] = sample
	ring.next = (ring.next + 1) % s.size
	if ring.count < s.size {
		ring.count++
	}

	return nil
}

// Aggregate 计算节点在窗口内的聚合统计。
// 节点没有任何在窗口内的样本时返回"无数据"聚合（SampleCount=0、
// 其余字段为null），这是正常结果而不是错误。
func (s *Store) Aggregate(nodeID int) model.RollingAggregate {
	agg := model.RollingAggregate{NodeID: nodeID}

	ring := s.lookupRing(nodeID)
	if ring == nil {
		return agg
	}

	ring.mu.Lock()
	defer ring.mu.Unlock()

	var cutoff time.Time
	if s.maxAge > 0 {
		cutoff = time.Now().Add(-s.maxAge)
	}

	var (
		total       int
		successes   int
		sumResponse float64
		lastCheck   time.Time
	)

	for i := 0; i < ring.count; i++ {
		sample := ring.samples[i]
		if !cutoff.IsZero() && sample.Timestamp.Before(cutoff) {
			continue
		}

		total++
		if sample.Success {
			successes++
			sumResponse += sample.ResponseTime
		}
		if sample.Timestamp.After(lastCheck) {
			lastCheck = sample.Timestamp
		}
	}

	if total == 0 {
		return agg
	}

	agg.SampleCount = total
	rate := float64(successes) / float64(total)
	agg.SuccessRate = &rate
	agg.LastCheck = &lastCheck
	if successes > 0 {
		avg := sumResponse / float64(successes)
		agg.AvgResponseTime = &avg
	}

	return agg
}

// Recent 返回节点最近的n条样本，按时间从新到旧排列
func (s *Store) Recent(nodeID int, n int) []model.RecentCheck {
	ring := s.lookupRing(nodeID)
	if ring == nil || n <= 0 {
		return nil
	}

	ring.mu.Lock()
	defer ring.mu.Unlock()

	if n > ring.count {
		n = ring.count
	}

	checks := make([]model.RecentCheck, 0, n)
	// 从最新写入位置向前回溯
	idx := ring.next - 1
	for i := 0; i < n; i++ {
		if idx < 0 {
			idx += s.size
		}
		sample := ring.samples[idx]
		checks = append(checks, model.RecentCheck{
			Timestamp:    sample.Timestamp,
			Success:      sample.Success,
			ResponseTime: sample.ResponseTime,
		})
		idx--
	}

	return checks
}

// ringFor 获取或创建节点的环形缓冲
func (s *Store) ringFor(nodeID int) *nodeRing {
	s.mu.RLock()
	ring, exists := s.rings[nodeID]
	s.mu.RUnlock()
	if exists {
		return ring
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ring, exists = s.rings[nodeID]; exists {
		return ring
	}

	ring = &nodeRing{samples: make([]model.MetricSample, s.size)}
	s.rings[nodeID] = ring
	return ring
}

// lookupRing 查找节点的环形缓冲，不存在时返回nil
func (s *Store) lookupRing(nodeID int) *nodeRing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rings[nodeID]
}
