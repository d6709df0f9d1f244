package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	AI       AIConfig       `mapstructure:"ai"`
	Eval     EvalConfig     `mapstructure:"eval"`
	Optimize OptimizeConfig `mapstructure:"optimize"`
	Swarm    SwarmConfig    `mapstructure:"swarm"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
}

// RedisConfig Redis 配置（asynq 队列与分析报告缓存共用）
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	PoolSize     int `mapstructure:"pool_size"`      // 连接池大小
	MinIdleConns int `mapstructure:"min_idle_conns"` // 最小空闲连接数
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AIConfig AI 模型配置
type AIConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig OpenAI 配置（L3 评审与提示词改写共用）
type OpenAIConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	OrgID      string `mapstructure:"org_id"`
	MaxRetries int    `mapstructure:"max_retries"`
	JudgeModel string `mapstructure:"judge_model"` // L3 评审使用的模型
}

// EvalConfig 评估门禁配置
type EvalConfig struct {
	// AutoSendThreshold L2 总分达到该阈值才可能自动执行（0-100）
	AutoSendThreshold float64 `mapstructure:"auto_send_threshold"`
	// MinConfidence 自动执行要求的最低置信度
	MinConfidence float64 `mapstructure:"min_confidence"`
	// JudgeMinConfidence L3 fail 裁决生效所需的最低置信度
	JudgeMinConfidence float64 `mapstructure:"judge_min_confidence"`
	// JudgeTimeoutSeconds L3 评审调用超时（秒）
	JudgeTimeoutSeconds int `mapstructure:"judge_timeout_seconds"`
	// RulePackPath 评估规则包（YAML）目录，空则仅用内置规则
	RulePackPath string `mapstructure:"rule_pack_path"`
}

// OptimizeConfig 自优化流水线配置
type OptimizeConfig struct {
	// WindowDays 性能分析的滑动窗口天数
	WindowDays int `mapstructure:"window_days"`
	// FailureModeFloor 失败模式进入排名的最低占比
	FailureModeFloor float64 `mapstructure:"failure_mode_floor"`
	// SatisfactionRefineBelow 低于该满意度触发提示词改写
	SatisfactionRefineBelow float64 `mapstructure:"satisfaction_refine_below"`
	// SatisfactionHealthy 高于该满意度视为健康
	SatisfactionHealthy float64 `mapstructure:"satisfaction_healthy"`
	// CompletionRateHealthy 完成率达到该值视为健康
	CompletionRateHealthy float64 `mapstructure:"completion_rate_healthy"`
	// HallucinationRateFloor 幻觉率达到该值视为异常，触发检索增强提案
	HallucinationRateFloor float64 `mapstructure:"hallucination_rate_floor"`
	// CostThreshold 平均成本超过该值考虑降级模型
	CostThreshold float64 `mapstructure:"cost_threshold"`
	// ToolUsageFloor 工具使用率低于该值考虑移除
	ToolUsageFloor float64 `mapstructure:"tool_usage_floor"`
	// TemperatureTriggerAbove 温度高于该值才考虑下调
	TemperatureTriggerAbove float64 `mapstructure:"temperature_trigger_above"`
	// TemperatureFloor 温度下调的下限
	TemperatureFloor float64 `mapstructure:"temperature_floor"`
	// PromptWordBudget 改写后系统提示词的最大词数
	PromptWordBudget int `mapstructure:"prompt_word_budget"`
	// ABMinSamples A/B 实验判定胜者前每个变体的最小样本数
	ABMinSamples int64 `mapstructure:"ab_min_samples"`
}

// SwarmConfig 批量并发执行配置
type SwarmConfig struct {
	// BatchWidth 每批并发执行的子任务数
	BatchWidth int `mapstructure:"batch_width"`
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件名和路径
	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP") // 环境变量前缀：APP_
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：APP_DATABASE_HOST

	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// setDefaults 策略常量的默认值（可被配置覆盖，不是硬编码铁律）
func setDefaults(v *viper.Viper) {
	v.SetDefault("eval.auto_send_threshold", 80.0)
	v.SetDefault("eval.min_confidence", 0.7)
	v.SetDefault("eval.judge_min_confidence", 0.7)
	v.SetDefault("eval.judge_timeout_seconds", 30)

	v.SetDefault("optimize.window_days", 30)
	v.SetDefault("optimize.failure_mode_floor", 0.10)
	v.SetDefault("optimize.satisfaction_refine_below", 3.5)
	v.SetDefault("optimize.satisfaction_healthy", 4.0)
	v.SetDefault("optimize.completion_rate_healthy", 0.8)
	v.SetDefault("optimize.hallucination_rate_floor", 0.1)
	v.SetDefault("optimize.cost_threshold", 0.5)
	v.SetDefault("optimize.tool_usage_floor", 0.05)
	v.SetDefault("optimize.temperature_trigger_above", 0.5)
	v.SetDefault("optimize.temperature_floor", 0.3)
	v.SetDefault("optimize.prompt_word_budget", 300)
	v.SetDefault("optimize.ab_min_samples", 50)

	v.SetDefault("swarm.batch_width", 10)
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
