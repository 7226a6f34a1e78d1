package agent

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"learn-agent-go/internal/logger"
	"learn-agent-go/internal/tracing"
)

// TaskRunner 对外部Agent服务发起一次任务并等待结构化结果
type TaskRunner interface {
	RunTask(ctx context.Context, task string, systemPrompt string, userPrompt string) (string, error)
}

// Client 外部Agent服务的调用封装。
// 每次调用相互独立，重试和限流由底层模型代理负责，
// 这里只负责超时控制和失败分类。
type Client struct {
	chatModel   model.ToolCallingChatModel
	callTimeout time.Duration
	logger      zerolog.Logger
}

// NewClient 创建一个Agent客户端。
// chatModel 通常是经过限流代理包装的模型实例。
func NewClient(chatModel model.ToolCallingChatModel, callTimeout time.Duration) *Client {
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	return &Client{
		chatModel:   chatModel,
		callTimeout: callTimeout,
		logger:      logger.Logger.With().Str("component", "agent_client").Logger(),
	}
}

// RunTask 发起一次Agent任务调用，返回模型的文本输出。
// 失败时返回分类后的 *Error。
func (c *Client) RunTask(ctx context.Context, task string, systemPrompt string, userPrompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt),
	}

	start := time.Now()
	resp, err := c.chatModel.Generate(callCtx, messages)
	elapsed := time.Since(start)

	if err != nil {
		classified := ClassifyCallError(task, err)
		c.logger.Warn().
			Str("task", task).
			Str("reason", string(classified.Reason)).
			Dur("elapsed", elapsed).
			Str("prompt", tracing.SafePrompt(userPrompt)).
			Err(err).
			Msg("Agent任务调用失败")
		return "", classified
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		classified := NewError(task, FailureInvalidOutput, nil)
		c.logger.Warn().
			Str("task", task).
			Dur("elapsed", elapsed).
			Msg("Agent返回空内容")
		return "", classified
	}

	c.logger.Debug().
		Str("task", task).
		Dur("elapsed", elapsed).
		Int("content_len", len(content)).
		Str("prompt", tracing.SafePrompt(userPrompt)).
		Msg("Agent任务调用成功")

	return content, nil
}

var _ TaskRunner = (*Client)(nil)

// ExtractJSON 从模型输出中提取JSON片段。
// 模型偶尔会在JSON外包裹markdown代码块或说明文字，
// 这里取第一个 '{' 或 '[' 到与之配对的末尾字符之间的内容。
func ExtractJSON(content string) string {
	s := strings.TrimSpace(content)

	// 去掉markdown代码块包裹
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	objStart := strings.IndexByte(s, '{')
	arrStart := strings.IndexByte(s, '[')

	start := objStart
	var closer byte = '}'
	if start < 0 || (arrStart >= 0 && arrStart < start) {
		start = arrStart
		closer = ']'
	}
	if start < 0 {
		return s
	}

	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return s
	}
	return s[start : end+1]
}
