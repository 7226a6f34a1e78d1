package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// classifiedError 测试用的可分类错误
type classifiedError struct {
	msg       string
	retryable bool
}

func (e *classifiedError) Error() string   { return e.msg }
func (e *classifiedError) Retryable() bool { return e.retryable }

// 测试令牌桶的基本限流行为
func TestTokenBucketAllow(t *testing.T) {
	// 容量为2，初始应允许2个请求
	tb := NewTokenBucket(60, 2)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	// 令牌耗尽，立即再请求应被拒绝
	assert.False(t, tb.Allow())
}

// 测试Wait在令牌耗尽后会阻塞到补充为止
func TestTokenBucketWait(t *testing.T) {
	// 600 QPM = 每秒10个令牌
	tb := NewTokenBucket(600, 1)
	require.True(t, tb.Allow())

	start := time.Now()
	err := tb.Wait(context.Background())
	require.NoError(t, err)
	// 补充一个令牌大约需要100ms
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

// 测试Wait尊重上下文取消
func TestTokenBucketWaitCancelled(t *testing.T) {
	tb := NewTokenBucket(1, 1) // 每分钟1个令牌，补充极慢
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// 测试可分类错误的重试决策
func TestRetryWithBackoffClassifiedError(t *testing.T) {
	tb := NewTokenBucket(6000, 100).WithRetryPolicy(time.Millisecond, 2)

	// 可重试错误：应重试到成功
	attempts := 0
	err := tb.RetryWithBackoff(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return &classifiedError{msg: "rate limited", retryable: true}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	// 不可重试错误：应立即返回，不重试
	attempts = 0
	err = tb.RetryWithBackoff(context.Background(), func() error {
		attempts++
		return &classifiedError{msg: "invalid output", retryable: false}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

// 测试未分类错误按消息内容判断
func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(errors.New("429 Too Many Requests")))
	assert.True(t, isRetryableError(errors.New("dial tcp: connection refused")))
	assert.False(t, isRetryableError(errors.New("解析JSON失败")))
	assert.False(t, isRetryableError(fmt.Errorf("调用失败: %w", context.DeadlineExceeded)))
	assert.False(t, isRetryableError(nil))
}

// 测试重试次数耗尽后返回最后一次错误
func TestRetryWithBackoffExhausted(t *testing.T) {
	tb := NewTokenBucket(6000, 100).WithRetryPolicy(time.Millisecond, 2)

	attempts := 0
	wantErr := &classifiedError{msg: "still limited", retryable: true}
	err := tb.RetryWithBackoff(context.Background(), func() error {
		attempts++
		return wantErr
	})
	require.Error(t, err)
	// 初始尝试 + 2次重试
	assert.Equal(t, 3, attempts)
	assert.ErrorContains(t, err, "still limited")
}
