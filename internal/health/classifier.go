package health

import (
	"github.com/hewenyu/relay-fleet/internal/config"
	"github.com/hewenyu/relay-fleet/pkg/model"
)

// Thresholds 健康分级的成功率阈值，取值[0,1]
type Thresholds struct {
	// Healthy 成功率达到该值（含）分级为healthy
	Healthy float64
	// Warning 成功率达到该值（含）但低于Healthy时分级为warning
	Warning float64
}

// DefaultThresholds 返回默认分级阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		Healthy: 0.80,
		Warning: 0.60,
	}
}

// ThresholdsFromConfig 从配置读取分级阈值
func ThresholdsFromConfig(cfg *config.Config) Thresholds {
	return Thresholds{
		Healthy: cfg.Health.HealthyThreshold,
		Warning: cfg.Health.WarningThreshold,
	}
}

// Classifier 把滚动窗口聚合映射为离散健康等级的纯函数
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier 创建健康分级器
func NewClassifier(thresholds Thresholds) *Classifier {
	return &Classifier{thresholds: thresholds}
}

// Classify 根据聚合统计分级。
// 边界值归入更健康的一级（比较使用≥而不是>）。
func (c *Classifier) Classify(agg model.RollingAggregate) model.HealthTier {
	if agg.SampleCount == 0 || agg.SuccessRate == nil {
		return model.TierNoData
	}

	rate := *agg.SuccessRate
	switch {
	case rate == 0:
		return model.TierOffline
	case rate >= c.thresholds.Healthy:
		return model.TierHealthy
	case rate >= c.thresholds.Warning:
		return model.TierWarning
	default:
		return model.TierCritical
	}
}
