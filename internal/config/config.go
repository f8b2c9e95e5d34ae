package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构
type Config struct {
	// 注册表后端配置，backend为"etcd"或"memory"
	Registry struct {
		Backend string `mapstructure:"backend"`
	} `mapstructure:"registry"`

	// etcd配置
	Etcd struct {
		Endpoints []string `mapstructure:"endpoints"`
		Username  string   `mapstructure:"username"`
		Password  string   `mapstructure:"password"`
	} `mapstructure:"etcd"`

	// 管理API配置
	API struct {
		Management struct {
			ListenAddress string `mapstructure:"listen_address"`
			Port          int    `mapstructure:"port"`
		} `mapstructure:"management"`
	} `mapstructure:"api"`

	// DNS服务配置
	DNS struct {
		Enabled       bool   `mapstructure:"enabled"`
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
		Protocol      string `mapstructure:"protocol"` // "udp", "tcp", 或 "both"
	} `mapstructure:"dns"`

	// 采样器配置
	Sampler struct {
		// Interval 采样周期
		Interval time.Duration `mapstructure:"interval"`
		// ProbeTimeout 单次探测超时
		ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
		// MaxInflight 单周期内并发探测上限
		MaxInflight int `mapstructure:"max_inflight"`
		// WindowSize 每节点滚动窗口的样本容量
		WindowSize int `mapstructure:"window_size"`
		// MaxSampleAge 聚合时样本的最大回看时长
		MaxSampleAge time.Duration `mapstructure:"max_sample_age"`
	} `mapstructure:"sampler"`

	// 健康分级阈值配置，成功率取值[0,1]
	Health struct {
		HealthyThreshold float64 `mapstructure:"healthy_threshold"`
		WarningThreshold float64 `mapstructure:"warning_threshold"`
	} `mapstructure:"health"`

	// 策略引擎配置
	Strategy struct {
		// Seed 随机选择的种子，0表示按时间播种
		Seed int64 `mapstructure:"seed"`
	} `mapstructure:"strategy"`

	// 日志配置
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// LoadConfig 从文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 如果指定了配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 设置配置文件名和路径
		v.SetConfigName("config")             // 配置文件名（无扩展名）
		v.AddConfigPath(".")                  // 当前目录
		v.AddConfigPath("./configs")          // configs目录
		v.AddConfigPath("$HOME/.relay-fleet") // 用户目录
		v.AddConfigPath("/etc/relay-fleet")   // 系统目录
	}

	// 配置文件格式
	v.SetConfigType("yaml")

	// 尝试从配置文件加载
	if err := v.ReadInConfig(); err != nil {
		// 如果找不到配置文件，仅记录警告；其他错误则返回
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	// 绑定环境变量
	v.SetEnvPrefix("RELAY_FLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 从环境变量覆盖
	bindEnvVariables(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 注册表默认配置
	v.SetDefault("registry.backend", "memory")

	// etcd默认配置
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.username", "")
	v.SetDefault("etcd.password", "")

	// 管理API默认配置
	v.SetDefault("api.management.listen_address", "0.0.0.0")
	v.SetDefault("api.management.port", 8080)

	// DNS服务默认配置
	v.SetDefault("dns.enabled", true)
	v.SetDefault("dns.listen_address", "0.0.0.0")
	v.SetDefault("dns.port", 53)
	v.SetDefault("dns.protocol", "both")

	// 采样器默认配置
	v.SetDefault("sampler.interval", "30s")
	v.SetDefault("sampler.probe_timeout", "5s")
	v.SetDefault("sampler.max_inflight", 32)
	v.SetDefault("sampler.window_size", 20)
	v.SetDefault("sampler.max_sample_age", "10m")

	// 健康分级默认阈值
	v.SetDefault("health.healthy_threshold", 0.80)
	v.SetDefault("health.warning_threshold", 0.60)

	// 策略引擎默认配置
	v.SetDefault("strategy.seed", 0)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
}

// bindEnvVariables 绑定特定的环境变量
func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("registry.backend", "RELAY_FLEET_REGISTRY_BACKEND")
	v.BindEnv("etcd.endpoints", "RELAY_FLEET_ETCD_ENDPOINTS")
	v.BindEnv("api.management.port", "RELAY_FLEET_MANAGEMENT_API_PORT")
	v.BindEnv("dns.port", "RELAY_FLEET_DNS_PORT")
	v.BindEnv("sampler.interval", "RELAY_FLEET_SAMPLER_INTERVAL")
}

// validate 校验配置取值的合法性
func validate(c *Config) error {
	if c.Sampler.Interval <= 0 {
		return fmt.Errorf("采样周期必须大于0: %s", c.Sampler.Interval)
	}
	if c.Sampler.ProbeTimeout <= 0 {
		return fmt.Errorf("探测超时必须大于0: %s", c.Sampler.ProbeTimeout)
	}
	if c.Sampler.MaxInflight <= 0 {
		return fmt.Errorf("并发探测上限必须大于0: %d", c.Sampler.MaxInflight)
	}
	if c.Sampler.WindowSize <= 0 {
		return fmt.Errorf("窗口容量必须大于0: %d", c.Sampler.WindowSize)
	}
	if c.Health.HealthyThreshold < 0 || c.Health.HealthyThreshold > 1 {
		return fmt.Errorf("healthy阈值必须在[0,1]内: %f", c.Health.HealthyThreshold)
	}
	if c.Health.WarningThreshold < 0 || c.Health.WarningThreshold > c.Health.HealthyThreshold {
		return fmt.Errorf("warning阈值必须在[0,healthy阈值]内: %f", c.Health.WarningThreshold)
	}
	return nil
}

// GetDefaultConfigPath 返回默认配置文件路径
func GetDefaultConfigPath() string {
	// 按顺序检查不同位置的配置文件
	paths := []string{
		"./config.yaml",
		"./configs/config.yaml",
		os.Getenv("HOME") + "/.relay-fleet/config.yaml",
		"/etc/relay-fleet/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
