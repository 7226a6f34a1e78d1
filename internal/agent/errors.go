package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FailureReason Agent调用失败的原因分类
type FailureReason string

const (
	// FailureTimeout 调用超时，不自动重试
	FailureTimeout FailureReason = "timeout"
	// FailureRateLimited 被外部服务限流，可重试
	FailureRateLimited FailureReason = "rate_limited"
	// FailureToolError Agent内部工具执行失败，瞬时故障可重试
	FailureToolError FailureReason = "tool_error"
	// FailureInvalidOutput Agent返回内容无法解析为预期结构，不自动重试
	FailureInvalidOutput FailureReason = "invalid_output"
)

// Error 一次Agent调用的失败结果，携带任务名和原因分类
type Error struct {
	Task      string        // 任务标识: analyzer / curator / judge
	Reason    FailureReason // 失败原因
	Transient bool          // 仅对 tool_error 有意义，标记是否为瞬时故障
	Err       error         // 底层错误
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent任务 %s 失败 (%s): %v", e.Task, e.Reason, e.Err)
	}
	return fmt.Sprintf("agent任务 %s 失败 (%s)", e.Task, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable 实现重试分类接口。
// 只有限流和瞬时的工具故障值得重试，超时和无效输出直接上抛。
func (e *Error) Retryable() bool {
	switch e.Reason {
	case FailureRateLimited:
		return true
	case FailureToolError:
		return e.Transient
	default:
		return false
	}
}

// NewError 构造一个分类后的Agent错误
func NewError(task string, reason FailureReason, err error) *Error {
	return &Error{Task: task, Reason: reason, Err: err}
}

// ClassifyHTTPStatus 根据HTTP状态码对失败进行分类
func ClassifyHTTPStatus(task string, statusCode int, err error) *Error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return &Error{Task: task, Reason: FailureRateLimited, Err: err}
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return &Error{Task: task, Reason: FailureTimeout, Err: err}
	case statusCode >= 500:
		// 服务端故障视为瞬时工具错误
		return &Error{Task: task, Reason: FailureToolError, Transient: true, Err: err}
	default:
		return &Error{Task: task, Reason: FailureToolError, Transient: false, Err: err}
	}
}

// ClassifyCallError 对传输层错误进行分类。
// 已分类的错误原样返回，上下文超时归为timeout，网络故障归为瞬时工具错误。
func ClassifyCallError(task string, err error) *Error {
	if err == nil {
		return nil
	}

	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Task: task, Reason: FailureTimeout, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Task: task, Reason: FailureTimeout, Err: err}
		}
		return &Error{Task: task, Reason: FailureToolError, Transient: true, Err: err}
	}

	return &Error{Task: task, Reason: FailureToolError, Transient: false, Err: err}
}

// ReasonOf 提取错误的失败原因，未分类错误返回tool_error
func ReasonOf(err error) FailureReason {
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr.Reason
	}
	return FailureToolError
}
