package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// 从默认位置加载配置
	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载默认配置")
	require.NotNil(t, config, "配置不应为nil")

	// 验证默认值
	assert.Equal(t, "memory", config.Registry.Backend, "注册表后端应为memory")
	assert.Equal(t, 8080, config.API.Management.Port, "管理API端口应为8080")
	assert.Equal(t, 53, config.DNS.Port, "DNS端口应为53")
	assert.Equal(t, "both", config.DNS.Protocol, "DNS协议应为both")
	assert.Equal(t, 30*time.Second, config.Sampler.Interval, "采样周期应为30s")
	assert.Equal(t, 5*time.Second, config.Sampler.ProbeTimeout, "探测超时应为5s")
	assert.Equal(t, 20, config.Sampler.WindowSize, "窗口容量应为20")
	assert.Equal(t, 0.80, config.Health.HealthyThreshold, "healthy阈值应为0.80")
	assert.Equal(t, 0.60, config.Health.WarningThreshold, "warning阈值应为0.60")
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	// 设置环境变量
	os.Setenv("RELAY_FLEET_MANAGEMENT_API_PORT", "9090")
	os.Setenv("RELAY_FLEET_SAMPLER_INTERVAL", "10s")
	defer func() {
		os.Unsetenv("RELAY_FLEET_MANAGEMENT_API_PORT")
		os.Unsetenv("RELAY_FLEET_SAMPLER_INTERVAL")
	}()

	// 加载配置
	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载配置")
	require.NotNil(t, config, "配置不应为nil")

	// 验证环境变量覆盖
	assert.Equal(t, 9090, config.API.Management.Port, "环境变量应正确覆盖管理API端口")
	assert.Equal(t, 10*time.Second, config.Sampler.Interval, "环境变量应正确覆盖采样周期")

	// 确认其他值不受影响
	assert.Equal(t, 53, config.DNS.Port, "DNS端口不应被环境变量影响")
}

func TestLoadConfigWithMissingFile(t *testing.T) {
	// 尝试从不存在的文件加载配置
	config, err := LoadConfig("non_existent_file.yaml")

	// 应该返回错误
	assert.Error(t, err, "从不存在的文件加载配置应该失败")

	// 不应该返回配置对象
	assert.Nil(t, config, "加载不存在的配置文件应该返回nil配置")
}

func TestLoadConfigRejectsInvalidThresholds(t *testing.T) {
	// warning阈值高于healthy阈值应被拒绝
	os.Setenv("RELAY_FLEET_HEALTH_WARNING_THRESHOLD", "0.95")
	defer os.Unsetenv("RELAY_FLEET_HEALTH_WARNING_THRESHOLD")

	config, err := LoadConfig("")
	assert.Error(t, err, "warning阈值高于healthy阈值时应该失败")
	assert.Nil(t, config)
}
