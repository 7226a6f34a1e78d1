package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"learn-agent-go/internal/agent"
	"learn-agent-go/internal/api/handler"
	"learn-agent-go/internal/api/router"
	"learn-agent-go/internal/config"
	"learn-agent-go/internal/constants"
	"learn-agent-go/internal/logger"
	"learn-agent-go/internal/orchestrator"
	"learn-agent-go/internal/parser"
	"learn-agent-go/internal/storage"
	"learn-agent-go/internal/tracing"
	"learn-agent-go/pkg/ratelimit"

	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"
)

// @title Learn Agent API
// @version 1.0
// @description 简历+职位描述 → 学习计划的Agent编排服务
// @BasePath /api/v1
func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("加载配置失败")
	}

	initLogger(cfg)
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// OpenTelemetry导出
	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitTracerProvider(ctx, constants.ServiceName, constants.ServiceVersion, cfg.Tracing.OTLPEndpoint)
		if err != nil {
			logger.Fatal().Err(err).Msg("初始化TracerProvider失败")
		}
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("关闭TracerProvider失败")
			}
		}()
		glog.Info("TracerProvider初始化成功")
	}

	// 存储管理器
	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化存储失败")
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	// 三个Agent阶段，各自可配置专用模型
	analyzerRunner, err := newTaskRunner(cfg, "analyzer")
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化Analyzer失败")
	}
	curatorRunner, err := newTaskRunner(cfg, "curator")
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化Curator失败")
	}
	judgeRunner, err := newTaskRunner(cfg, "judge")
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化Judge失败")
	}

	analyzer := agent.NewAnalyzer(analyzerRunner)
	curator := agent.NewCurator(curatorRunner)
	judge := agent.NewJudge(judgeRunner)
	glog.Info("Agent阶段初始化成功")

	// 编排器及其可选依赖
	var orchOpts []orchestrator.Option
	if storageManager.Redis != nil {
		orchOpts = append(orchOpts,
			orchestrator.WithCache(storageManager.Redis),
			orchestrator.WithCacheLocker(storageManager.Redis),
			orchestrator.WithStatusReporter(storageManager.Redis),
		)
	}
	if cfg.Orchestrator.EnableSemanticCache && storageManager.Qdrant != nil {
		embedder, err := parser.NewOpenAIEmbedder(cfg.AgentService.APIKey, cfg.AgentService.Embedding)
		if err != nil {
			logger.Fatal().Err(err).Msg("初始化Embedder失败")
		}
		semanticCache := orchestrator.NewSemanticCache(embedder, storageManager.Qdrant,
			cfg.Orchestrator.SimilarityThreshold, cfg.Qdrant.DefaultSearchLimit)
		orchOpts = append(orchOpts, orchestrator.WithSemanticCache(semanticCache))
		glog.Info("语义缓存已启用")
	}

	orch := orchestrator.NewOrchestrator(analyzer, curator, judge, cfg.Orchestrator, orchOpts...)
	glog.Info("编排器初始化成功")

	// PDF解析器
	pdfExtractor, err := parser.NewPDFTextExtractor(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("创建PDF提取器失败")
	}

	analysisHandler := handler.NewAnalysisHandler(cfg, storageManager, orch, pdfExtractor)
	glog.Info("分析处理器初始化成功")

	// 异步分析消费者
	if storageManager.RabbitMQ != nil {
		if _, err := analysisHandler.StartAnalysisConsumer(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("启动分析消费者失败")
		}
		glog.Info("异步分析消费者已启动")
	}

	// HTTP服务器
	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))

	router.RegisterRoutes(h, analysisHandler, cfg.Server.APIKeys)
	glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)

	go func() {
		if err := h.Run(); err != nil {
			logger.Fatal().Err(err).Msg("启动HTTP服务器失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("服务器关闭失败")
	}
	glog.Info("优雅退出完成")
}

// newTaskRunner 为一个Agent任务构建限流后的调用链路
func newTaskRunner(cfg *config.Config, task string) (agent.TaskRunner, error) {
	modelName := cfg.GetModelForTask(task)

	chatModel, err := agent.NewCompatChatModel(
		cfg.AgentService.APIKey,
		modelName,
		cfg.AgentService.APIURL,
		agent.WithMaxTokens(cfg.AgentService.MaxTokens),
		agent.WithTemperature(cfg.AgentService.Temperature),
	)
	if err != nil {
		return nil, err
	}

	limited := ratelimit.NewLLMWithRateLimit(
		chatModel,
		modelName,
		cfg.ModelQPMLimits,
		cfg.AgentService.QPM,
		cfg.AgentService.MaxRetries,
		time.Duration(cfg.AgentService.RetryWaitSeconds)*time.Second,
	)

	callTimeout := config.GetDuration(cfg.AgentService.CallTimeout, constants.DefaultAgentCallTimeout)
	return agent.NewClient(limited, callTimeout), nil
}

// 初始化日志系统
func initLogger(cfg *config.Config) {
	logConfig := logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	}
	logger.Init(logConfig)

	logger.Logger = logger.Logger.With().
		Str("app", constants.ServiceName).
		Str("version", constants.ServiceVersion).
		Logger()

	// Hertz框架日志走同一个zerolog实例
	glog.SetLogger(hertzadapter.From(logger.Logger))
}
