package model

import "time"

// ClientStrategyHint 弹性节点组的客户端选择策略提示。
// 提示来源于外部管理界面，属于建议性质：引擎对外暴露每个节点的
// 健康等级与延迟，由消费方（客户端/代理软件）决定是否遵循。
type ClientStrategyHint string

const (
	// HintURLTest 客户端按延迟测速选择
	HintURLTest ClientStrategyHint = "url-test"
	// HintFallback 客户端按主备顺序故障转移
	HintFallback ClientStrategyHint = "fallback"
	// HintLoadBalance 客户端做负载均衡
	HintLoadBalance ClientStrategyHint = "load-balance"
	// HintClientDefault 使用客户端默认行为
	HintClientDefault ClientStrategyHint = "client-default"
	// HintUnset 无偏好，消费方默认随机选择
	HintUnset ClientStrategyHint = ""
)

// ParseClientStrategyHint 解析外部来源的策略提示字符串。
// 未识别的取值按HintUnset处理并返回false，由调用方记录数据质量日志，
// 而不是报错中断。
func ParseClientStrategyHint(s string) (ClientStrategyHint, bool) {
	switch ClientStrategyHint(s) {
	case HintURLTest, HintFallback, HintLoadBalance, HintClientDefault, HintUnset:
		return ClientStrategyHint(s), true
	default:
		return HintUnset, false
	}
}

// ResilientNodeGroup 弹性节点组：一组有序的成员节点及其策略提示。
// 成员允许重复出现在多个组中；组的创建、编辑、删除由外部管理界面负责，
// 引擎只读取成员列表和策略提示。
type ResilientNodeGroup struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	// NodeIDs 成员节点ID，保持管理界面提交的顺序
	NodeIDs            []int              `json:"node_ids"`
	ClientStrategyHint ClientStrategyHint `json:"client_strategy_hint"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}
