package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"learn-agent-go/internal/logger"
	"learn-agent-go/internal/types"
)

const judgeTask = "judge"

const judgeSystemPrompt = `你是一名学习资源质量审查员。你可以使用网页抓取来访问资源链接，必要时可以执行代码验证示例。
针对给定的一条学习资源，判断它是否真实存在、内容与目标技能相关、且质量合格。

要求:
1. 实际访问该URL确认可达。
2. 确认资源内容确实覆盖目标技能。
3. 只输出JSON，结构: {"approved": true, "reason": "..."}，不要输出任何其他文字。`

// Judge 资源校验阶段，每条候选资源发起一次Agent调用
type Judge struct {
	runner TaskRunner
	logger zerolog.Logger
}

// NewJudge 创建Judge阶段
func NewJudge(runner TaskRunner) *Judge {
	return &Judge{
		runner: runner,
		logger: logger.Logger.With().Str("component", "judge").Logger(),
	}
}

// judgeRawVerdict Agent输出的审查结论
type judgeRawVerdict struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// ValidateResource 校验单条资源。
// 返回true表示资源通过审查，可以置位validated标记；
// 返回false表示资源被审查否决，应从结果中丢弃。
func (j *Judge) ValidateResource(ctx context.Context, skillName string, res types.Resource) (bool, error) {
	userPrompt := fmt.Sprintf(`目标技能: %s

待审查资源:
- URL: %s
- 标题: %s
- 提供方: %s
- 类型: %s
- 简介: %s

请输出JSON: {"approved": true/false, "reason": "..."}`,
		skillName, res.URL, res.Title, res.Provider, res.ResourceType, res.Description)

	content, err := j.runner.RunTask(ctx, judgeTask, judgeSystemPrompt, userPrompt)
	if err != nil {
		return false, err
	}

	var verdict judgeRawVerdict
	if err := json.Unmarshal([]byte(ExtractJSON(content)), &verdict); err != nil {
		return false, NewError(judgeTask, FailureInvalidOutput, fmt.Errorf("解析审查结论JSON失败: %w", err))
	}

	j.logger.Debug().
		Str("skill", skillName).
		Str("url", res.URL).
		Bool("approved", verdict.Approved).
		Str("reason", verdict.Reason).
		Msg("资源审查完成")

	return verdict.Approved, nil
}
