package agent

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learn-agent-go/internal/types"
)

// stubRunner 测试用的TaskRunner桩实现，按任务名返回预设输出
type stubRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (s *stubRunner) RunTask(ctx context.Context, task string, systemPrompt string, userPrompt string) (string, error) {
	s.calls = append(s.calls, task)
	if err, ok := s.errs[task]; ok {
		return "", err
	}
	return s.outputs[task], nil
}

// 测试Analyzer解析带markdown包裹的输出并归一化枚举
func TestAnalyzerParsesWrappedOutput(t *testing.T) {
	runner := &stubRunner{outputs: map[string]string{
		analyzerTask: "分析结果如下:\n```json\n" + `{
  "existing_skills": [
    {"skill_name": "Python", "proficiency_level": "Advanced", "years_experience": 5},
    {"skill_name": "Flask", "proficiency_level": "proficient", "years_experience": 3}
  ],
  "skill_gaps": [
    {"skill_name": "React", "required_level": "intermediate", "priority": "critical", "recommended_starting_level": "beginner"},
    {"skill_name": "Kubernetes", "required_level": "advanced", "priority": "important", "recommended_starting_level": "beginner"},
    {"skill_name": "python", "required_level": "expert", "priority": "low", "recommended_starting_level": "advanced"}
  ],
  "market_insights": {"demand_level": "high", "key_findings": ["需求旺盛"]}
}` + "\n```",
	}}

	analyzer := NewAnalyzer(runner)
	result, err := analyzer.Analyze(context.Background(), &types.AnalysisRequest{
		ResumeText:     "Python, Flask",
		JobDescription: "Needs React, Kubernetes",
		TargetJobTitle: "Senior Full Stack Engineer",
	})
	require.NoError(t, err)

	require.Len(t, result.ExistingSkills, 2)
	assert.Equal(t, types.ProficiencyAdvanced, result.ExistingSkills[0].ProficiencyLevel)

	// "python" 与已有技能重复(大小写不敏感)，应被丢弃
	require.Len(t, result.SkillGaps, 2)
	assert.Equal(t, "React", result.SkillGaps[0].SkillName)
	assert.Equal(t, types.PriorityHigh, result.SkillGaps[0].Priority)
	assert.Equal(t, types.PriorityMedium, result.SkillGaps[1].Priority)

	require.NotNil(t, result.MarketInsights)
	assert.Equal(t, "high", result.MarketInsights.DemandLevel)
}

// 测试Analyzer对无法解析的输出返回invalid_output
func TestAnalyzerInvalidOutput(t *testing.T) {
	runner := &stubRunner{outputs: map[string]string{
		analyzerTask: "抱歉，我无法完成这个任务。",
	}}

	analyzer := NewAnalyzer(runner)
	_, err := analyzer.Analyze(context.Background(), &types.AnalysisRequest{
		ResumeText:     "r",
		JobDescription: "j",
		TargetJobTitle: "t",
	})
	require.Error(t, err)

	var agentErr *Error
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, FailureInvalidOutput, agentErr.Reason)
	assert.False(t, agentErr.Retryable())
}

// 测试Curator按筛选条件过滤并保持顺序
func TestCuratorFiltersAndOrder(t *testing.T) {
	runner := &stubRunner{outputs: map[string]string{
		curatorTask: `[
  {"url": "https://a.example.com", "title": "A", "provider": "P1", "resource_type": "course", "duration_hours": 10, "is_free": true},
  {"url": "https://b.example.com", "title": "B", "provider": "P2", "resource_type": "video", "duration_hours": 2, "is_free": false},
  {"url": "https://c.example.com", "title": "C", "provider": "P3", "resource_type": "documentation", "duration_hours": 1, "is_free": true},
  {"url": "https://d.example.com", "title": "D", "provider": "P4", "resource_type": "course", "duration_hours": 200, "is_free": true}
]`,
	}}

	curator := NewCurator(runner)
	gap := types.SkillGap{SkillName: "React", RequiredLevel: types.ProficiencyIntermediate, Priority: types.PriorityHigh}
	filters := types.ResourceFilters{
		FreeOnly:         true,
		MaxDurationHours: 100,
		ResourceTypes:    []types.ResourceType{types.ResourceCourse, types.ResourceTutorial},
	}

	resources, err := curator.CurateSkill(context.Background(), gap, filters)
	require.NoError(t, err)

	// B收费被过滤，D超时长被过滤；C的documentation归一化为tutorial后保留
	require.Len(t, resources, 2)
	assert.Equal(t, "https://a.example.com", resources[0].URL)
	assert.Equal(t, "https://c.example.com", resources[1].URL)
	assert.Equal(t, types.ResourceTutorial, resources[1].ResourceType)
	// Judge审查前validated必须为false
	assert.False(t, resources[0].Validated)
}

// 测试Judge解析审查结论
func TestJudgeVerdict(t *testing.T) {
	runner := &stubRunner{outputs: map[string]string{
		judgeTask: `{"approved": true, "reason": "内容相关且可访问"}`,
	}}

	judge := NewJudge(runner)
	approved, err := judge.ValidateResource(context.Background(), "React", types.Resource{URL: "https://a.example.com"})
	require.NoError(t, err)
	assert.True(t, approved)

	runner.outputs[judgeTask] = `{"approved": false, "reason": "链接404"}`
	approved, err = judge.ValidateResource(context.Background(), "React", types.Resource{URL: "https://dead.example.com"})
	require.NoError(t, err)
	assert.False(t, approved)
}

// 测试错误分类和重试决策
func TestErrorClassification(t *testing.T) {
	// 上下文超时归为timeout，不重试
	err := ClassifyCallError("curator", context.DeadlineExceeded)
	assert.Equal(t, FailureTimeout, err.Reason)
	assert.False(t, err.Retryable())

	// 网络故障归为瞬时tool_error，可重试
	netErr := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	err = ClassifyCallError("judge", netErr)
	assert.Equal(t, FailureToolError, err.Reason)
	assert.True(t, err.Retryable())

	// 限流可重试
	err = ClassifyHTTPStatus("analyzer", 429, errors.New("too many requests"))
	assert.Equal(t, FailureRateLimited, err.Reason)
	assert.True(t, err.Retryable())

	// 服务端5xx为瞬时tool_error
	err = ClassifyHTTPStatus("analyzer", 502, errors.New("bad gateway"))
	assert.Equal(t, FailureToolError, err.Reason)
	assert.True(t, err.Retryable())

	// 客户端4xx不重试
	err = ClassifyHTTPStatus("analyzer", 400, errors.New("bad request"))
	assert.False(t, err.Retryable())

	// 已分类错误原样透传
	orig := NewError("analyzer", FailureInvalidOutput, nil)
	assert.Same(t, orig, ClassifyCallError("analyzer", orig))
}

// 测试JSON片段提取
func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `[1,2]`, ExtractJSON("结果: [1,2] 完毕"))
	assert.Equal(t, `{"a":[1]}`, ExtractJSON(`前缀 {"a":[1]} 后缀`))
	assert.Equal(t, "plain", ExtractJSON("plain"))
}
