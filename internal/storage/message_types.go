package storage

import (
	"time"

	"learn-agent-go/internal/types"
)

// AnalysisTaskMessage 异步分析任务消息，经RabbitMQ投递给消费者
type AnalysisTaskMessage struct {
	JobID       string                `json:"job_id"`
	Fingerprint string                `json:"fingerprint"`
	Request     types.AnalysisRequest `json:"request"`
	SubmittedAt time.Time             `json:"submitted_at"`
}
