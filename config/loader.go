// =============================================================================
// 📦 docqa 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("DOCQA").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 docqa 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Redis 答案缓存后端配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Cache 答案缓存策略配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// LLM 大语言模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Rerank 重排序服务配置
	Rerank RerankConfig `yaml:"rerank" env:"RERANK"`

	// Retrieval 检索管线配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Conversation 会话记忆配置
	Conversation ConversationConfig `yaml:"conversation" env:"CONVERSATION"`

	// Metrics 检索质量遥测存储配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// CacheConfig 答案缓存策略配置
type CacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 条目过期时间（自创建起计算，命中不续期）
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 语义相似度命中阈值
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
	// 语义索引最大条目数
	SemanticIndexSize int `yaml:"semantic_index_size" env:"SEMANTIC_INDEX_SIZE"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// 基础 URL（OpenAI 兼容端点）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 补全模型
	Model string `yaml:"model" env:"MODEL"`
	// 嵌入模型
	EmbedModel string `yaml:"embed_model" env:"EMBED_MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 每秒请求数限制（0 表示不限制）
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
}

// RerankConfig 重排序服务配置
type RerankConfig struct {
	// 是否启用（禁用时直接走融合分数回退）
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RetrievalConfig 检索管线配置
type RetrievalConfig struct {
	// 查询变体数量
	VariantCount int `yaml:"variant_count" env:"VARIANT_COUNT"`
	// RRF 常数 k
	RRFConstant int `yaml:"rrf_constant" env:"RRF_CONSTANT"`
	// 融合后送入重排的候选上限
	FusionLimit int `yaml:"fusion_limit" env:"FUSION_LIMIT"`
	// 重排序返回数量
	RerankTopN int `yaml:"rerank_top_n" env:"RERANK_TOP_N"`
	// 黄金上下文大小
	GoldenSize int `yaml:"golden_size" env:"GOLDEN_SIZE"`
	// 上下文扩展 token 预算
	TokenBudget int `yaml:"token_budget" env:"TOKEN_BUDGET"`
	// 单主题匹配加权
	TopicBoostSingle float64 `yaml:"topic_boost_single" env:"TOPIC_BOOST_SINGLE"`
	// 多主题匹配加权
	TopicBoostMulti float64 `yaml:"topic_boost_multi" env:"TOPIC_BOOST_MULTI"`
	// 单一来源占比阈值（低于此值且多来源时要求澄清）
	DominanceThreshold float64 `yaml:"dominance_threshold" env:"DOMINANCE_THRESHOLD"`
	// 页码/时间戳跨度软警告阈值
	SpanWidthThreshold float64 `yaml:"span_width_threshold" env:"SPAN_WIDTH_THRESHOLD"`
	// 结构化章节数软警告阈值
	SectionSpreadLimit int `yaml:"section_spread_limit" env:"SECTION_SPREAD_LIMIT"`
	// 多跳子问题上限
	MaxSubQuestions int `yaml:"max_sub_questions" env:"MAX_SUB_QUESTIONS"`
	// 每个子问题的检索数量
	ResultsPerSubQuestion int `yaml:"results_per_sub_question" env:"RESULTS_PER_SUB_QUESTION"`
	// 验证置信度阈值（低于该值附加免责声明）
	ConfidenceThreshold float64 `yaml:"confidence_threshold" env:"CONFIDENCE_THRESHOLD"`
	// Tokenizer 模型（tiktoken 编码选择）
	TokenizerModel string `yaml:"tokenizer_model" env:"TOKENIZER_MODEL"`
}

// ConversationConfig 会话记忆配置
type ConversationConfig struct {
	// 逐字保留的最近消息数
	WindowSize int `yaml:"window_size" env:"WINDOW_SIZE"`
	// 历史摘要最大 token 数
	SummaryMaxTokens int `yaml:"summary_max_tokens" env:"SUMMARY_MAX_TOKENS"`
}

// MetricsConfig 检索质量遥测存储配置
type MetricsConfig struct {
	// 是否启用持久化
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// SQLite 数据库路径
	Path string `yaml:"path" env:"PATH"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "DOCQA",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
