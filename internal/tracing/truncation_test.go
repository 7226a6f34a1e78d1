package tracing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateString(t *testing.T) {
	// 未超长时原样返回
	assert.Equal(t, "short", TruncateString("short", 10))

	// 超长时保留首尾并用省略号连接
	long := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	got := TruncateString(long, 21)
	assert.LessOrEqual(t, len([]rune(got)), 21)
	assert.Contains(t, got, "...")
	assert.True(t, strings.HasPrefix(got, "aaa"))
	assert.True(t, strings.HasSuffix(got, "bbb"))
}

func TestSafePrompt(t *testing.T) {
	short := "分析这份简历的技能差距"
	assert.Equal(t, short, SafePrompt(short))

	long := strings.Repeat("目标岗位要求React和Kubernetes。", 100)
	got := SafePrompt(long)
	assert.LessOrEqual(t, len([]rune(got)), MaxPromptLength)
	assert.Contains(t, got, "...")
}

func TestMaskPII(t *testing.T) {
	assert.Equal(t, "", MaskPII(""))
	assert.Equal(t, "*", MaskPII("a"))
	assert.Equal(t, "a*", MaskPII("ab"))
	assert.Equal(t, "a**d", MaskPII("abcd"))
	assert.Equal(t, "us************om", MaskPII("user@example.com"))
}

func TestSafeAttributeValue(t *testing.T) {
	// 敏感字段名触发掩码
	masked := SafeAttributeValue("user_email", "user@example.com", DefaultMaxLength)
	assert.NotContains(t, masked, "example")

	// 普通字段按长度截断
	long := strings.Repeat("x", DefaultMaxLength*2)
	got := SafeAttributeValue("description", long, DefaultMaxLength)
	assert.LessOrEqual(t, len([]rune(got)), DefaultMaxLength)
}
