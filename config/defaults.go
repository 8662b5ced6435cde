// =============================================================================
// 📦 docqa 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Redis:        DefaultRedisConfig(),
		Cache:        DefaultCacheConfig(),
		LLM:          DefaultLLMConfig(),
		Rerank:       DefaultRerankConfig(),
		Retrieval:    DefaultRetrievalConfig(),
		Conversation: DefaultConversationConfig(),
		Metrics:      DefaultMetricsConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultCacheConfig 返回默认答案缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:             true,
		TTL:                 24 * time.Hour,
		SimilarityThreshold: 0.92,
		SemanticIndexSize:   4096,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		BaseURL:    "https://api.openai.com/v1",
		Model:      "gpt-4o-mini",
		EmbedModel: "text-embedding-3-small",
		Timeout:    60 * time.Second,
		RateLimit:  10,
	}
}

// DefaultRerankConfig 返回默认重排序配置
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		Enabled: true,
		BaseURL: "https://api.cohere.ai",
		Model:   "rerank-v3.5",
		Timeout: 30 * time.Second,
	}
}

// DefaultRetrievalConfig 返回默认检索管线配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		VariantCount:          5,
		RRFConstant:           60,
		FusionLimit:           50,
		RerankTopN:            15,
		GoldenSize:            10,
		TokenBudget:           6000,
		TopicBoostSingle:      1.3,
		TopicBoostMulti:       1.5,
		DominanceThreshold:    0.7,
		SpanWidthThreshold:    50,
		SectionSpreadLimit:    8,
		MaxSubQuestions:       3,
		ResultsPerSubQuestion: 3,
		ConfidenceThreshold:   0.85,
		TokenizerModel:        "gpt-4o",
	}
}

// DefaultConversationConfig 返回默认会话记忆配置
func DefaultConversationConfig() ConversationConfig {
	return ConversationConfig{
		WindowSize:       4,
		SummaryMaxTokens: 300,
	}
}

// DefaultMetricsConfig 返回默认遥测存储配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: true,
		Path:    "docqa_metrics.db",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "docqa",
		SampleRate:   1.0,
	}
}
