// =============================================================================
// DocQA 主入口
// =============================================================================
// 文档问答服务入口点，包含 HTTP 服务、健康检查、Prometheus 指标
//
// 使用方法:
//
//	docqa serve                       # 启动服务
//	docqa serve --config config.yaml  # 指定配置文件
//	docqa serve --corpus corpus.json  # 加载语料快照
//	docqa version                     # 显示版本信息
//	docqa health                      # 健康检查
// =============================================================================

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/docqa/cache"
	"github.com/BaSui01/docqa/config"
	"github.com/BaSui01/docqa/conversation"
	"github.com/BaSui01/docqa/corpus"
	"github.com/BaSui01/docqa/internal/metrics"
	"github.com/BaSui01/docqa/internal/metricstore"
	"github.com/BaSui01/docqa/internal/telemetry"
	"github.com/BaSui01/docqa/llm"
	"github.com/BaSui01/docqa/llm/tokenizer"
	"github.com/BaSui01/docqa/pipeline"
	"github.com/BaSui01/docqa/rerank"

	"github.com/redis/go-redis/v9"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	// 解析命令行参数
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	corpusPath := fs.String("corpus", "", "Path to corpus snapshot (JSON)")
	fs.Parse(args)

	// 加载配置
	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting DocQA",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// Initialize OpenTelemetry
	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	// 组装管线
	p, collector, cleanup, err := buildPipeline(cfg, *corpusPath, logger)
	if err != nil {
		logger.Fatal("Failed to build pipeline", zap.Error(err))
	}
	defer cleanup()

	// 启动服务器
	server := NewServer(cfg, p, collector, logger, otelProviders)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	server.WaitForShutdown()

	logger.Info("DocQA stopped")
}

// buildPipeline 按配置组装管线及其依赖，返回指标收集器与关闭回调。
func buildPipeline(cfg *config.Config, corpusPath string, logger *zap.Logger) (*pipeline.Pipeline, *metrics.Collector, func(), error) {
	collector := metrics.NewCollector("docqa", logger)

	// 所有模型调用都经过指标包装
	provider := llm.NewInstrumentedProvider(llm.NewOpenAIProvider(llm.OpenAIConfig{
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		EmbedModel: cfg.LLM.EmbedModel,
		Timeout:    cfg.LLM.Timeout,
		RateLimit:  cfg.LLM.RateLimit,
	}, logger), collector)

	// 语料：内存实现，从快照文件加载
	store := corpus.NewMemoryStore(corpus.MemoryStoreConfig{
		BM25K1:           1.5,
		BM25B:            0.75,
		TopicBoostSingle: cfg.Retrieval.TopicBoostSingle,
		TopicBoostMulti:  cfg.Retrieval.TopicBoostMulti,
	}, logger)
	if corpusPath != "" {
		if err := loadCorpus(store, corpusPath); err != nil {
			return nil, nil, nil, fmt.Errorf("load corpus: %w", err)
		}
	}

	counter := tokenizer.NewSafeCounter(
		tokenizer.NewTiktokenTokenizer(cfg.Retrieval.TokenizerModel), logger)

	var rerankProvider rerank.Provider
	if cfg.Rerank.Enabled {
		rerankProvider = rerank.NewCohereProvider(rerank.CohereConfig{
			BaseURL: cfg.Rerank.BaseURL,
			APIKey:  cfg.Rerank.APIKey,
			Model:   cfg.Rerank.Model,
			Timeout: cfg.Rerank.Timeout,
		})
	}

	opts := pipeline.Options{
		Sessions: conversation.NewManager(conversation.Config{
			WindowSize:       cfg.Conversation.WindowSize,
			SummaryMaxTokens: cfg.Conversation.SummaryMaxTokens,
		}, provider, logger),
		Collector: collector,
	}

	var cleanups []func()
	cleanups = append(cleanups, func() { opts.Sessions.Close() })

	if cfg.Cache.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		opts.Cache = cache.NewStore(rdb, cache.Config{
			TTL:                 cfg.Cache.TTL,
			SimilarityThreshold: cfg.Cache.SimilarityThreshold,
			SemanticIndexSize:   cfg.Cache.SemanticIndexSize,
		}, logger)
		cleanups = append(cleanups, func() { rdb.Close() })
	}

	if cfg.Metrics.Enabled {
		ms, err := metricstore.Open(cfg.Metrics.Path, logger)
		if err != nil {
			logger.Warn("metric store unavailable, persistence disabled", zap.Error(err))
		} else {
			opts.MetricStore = ms
			cleanups = append(cleanups, func() { ms.Close() })
		}
	}

	p := pipeline.New(
		pipeline.NewAnalyzer(pipeline.DefaultAnalyzerConfig(), logger),
		pipeline.NewQueryExpander(pipeline.ExpanderConfig{
			VariantCount: cfg.Retrieval.VariantCount,
			Temperature:  0.4,
		}, provider, logger),
		pipeline.NewParallelRetriever(pipeline.FusionConfig{
			RRFConstant:             cfg.Retrieval.RRFConstant,
			FusionLimit:             cfg.Retrieval.FusionLimit,
			OverfetchFactor:         2,
			TechnicalSemanticWeight: 0.4,
			DefaultSemanticWeight:   0.7,
		}, store, provider, logger),
		pipeline.NewReranker(rerankProvider, cfg.Retrieval.RerankTopN, logger),
		pipeline.NewContextValidator(pipeline.ValidatorConfig{
			GoldenSize:         cfg.Retrieval.GoldenSize,
			DominanceThreshold: cfg.Retrieval.DominanceThreshold,
			SpanWidthThreshold: cfg.Retrieval.SpanWidthThreshold,
			SectionSpreadLimit: cfg.Retrieval.SectionSpreadLimit,
		}, logger),
		pipeline.NewContextExpander(pipeline.ContextExpanderConfig{
			TokenBudget: cfg.Retrieval.TokenBudget,
		}, store, counter, logger),
		pipeline.NewMultiHopRetriever(pipeline.MultiHopConfig{
			MaxSubQuestions:       cfg.Retrieval.MaxSubQuestions,
			ResultsPerSubQuestion: cfg.Retrieval.ResultsPerSubQuestion,
			Temperature:           0.2,
		}, store, provider, logger),
		pipeline.NewGenerator(pipeline.DefaultGeneratorConfig(), provider, logger),
		pipeline.NewVerifier(pipeline.VerifierConfig{
			ConfidenceThreshold: cfg.Retrieval.ConfidenceThreshold,
		}, provider, logger),
		provider,
		opts,
		logger,
	)

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return p, collector, cleanup, nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("DocQA %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`DocQA - Grounded Document Question Answering

Usage:
  docqa <command> [options]

Commands:
  serve     Start the DocQA server
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)
  --corpus <path>   Path to corpus snapshot (JSON)

Examples:
  docqa serve
  docqa serve --config /etc/docqa/config.yaml --corpus corpus.json
  docqa health --addr http://localhost:8080
  docqa version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if zapCfg.Encoding == "" {
		zapCfg.Encoding = "json"
	}
	if len(zapCfg.OutputPaths) == 0 {
		zapCfg.OutputPaths = []string{"stdout"}
	}

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
