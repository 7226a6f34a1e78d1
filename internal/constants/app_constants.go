package constants

import "time"

const (
	// 服务名，用于tracing资源标识和日志
	ServiceName    = "learn-agent-go"
	ServiceVersion = "1.0.0"

	// 默认缓存TTL，可被配置覆盖
	DefaultCacheTTL = 7 * 24 * time.Hour

	// 分析请求的默认端到端截止时间
	DefaultRequestDeadline = 30 * time.Second

	// Curator/Judge扇出的默认并发上限
	DefaultMaxConcurrentAgents = 5

	// 单次Agent调用的默认超时
	DefaultAgentCallTimeout = 60 * time.Second
)
