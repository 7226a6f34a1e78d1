package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"learn-agent-go/internal/logger"
	"learn-agent-go/internal/types"
)

const analyzerTask = "analyzer"

const analyzerSystemPrompt = `你是一名资深的技术招聘分析师。你可以使用联网搜索来了解目标岗位的市场需求。
你的任务是对比候选人简历和目标岗位描述，产出结构化的技能差距分析。

要求:
1. existing_skills 列出简历中已具备的技能，估计熟练度(beginner/intermediate/advanced/expert)和使用年限。
2. skill_gaps 列出岗位要求但候选人缺失或不足的技能，标注优先级(high/medium/low)、岗位要求的熟练度和建议的起步水平。
3. 一个技能不能同时出现在 existing_skills 和 skill_gaps 中。
4. market_insights 给出该岗位的市场需求概况(可用联网搜索佐证)。
5. 只输出JSON，不要输出任何其他文字。`

// Analyzer 技能差距分析阶段，对整个请求发起一次Agent调用
type Analyzer struct {
	runner TaskRunner
	logger zerolog.Logger
}

// NewAnalyzer 创建Analyzer阶段
func NewAnalyzer(runner TaskRunner) *Analyzer {
	return &Analyzer{
		runner: runner,
		logger: logger.Logger.With().Str("component", "analyzer").Logger(),
	}
}

// analyzerRawOutput Agent输出的宽松结构，枚举字段先按字符串接收再归一化
type analyzerRawOutput struct {
	ExistingSkills []struct {
		SkillName        string  `json:"skill_name"`
		ProficiencyLevel string  `json:"proficiency_level"`
		YearsExperience  float64 `json:"years_experience"`
	} `json:"existing_skills"`
	SkillGaps []struct {
		SkillName                string `json:"skill_name"`
		RequiredLevel            string `json:"required_level"`
		Priority                 string `json:"priority"`
		RecommendedStartingLevel string `json:"recommended_starting_level"`
	} `json:"skill_gaps"`
	TechStack      []string `json:"tech_stack"`
	MarketInsights *struct {
		DemandLevel string   `json:"demand_level"`
		KeyFindings []string `json:"key_findings"`
		DataSources []string `json:"data_sources"`
	} `json:"market_insights"`
}

// Analyze 分析简历与岗位描述的技能差距。
// 该阶段是整个流程的必经阶段，失败将导致请求终止。
func (a *Analyzer) Analyze(ctx context.Context, req *types.AnalysisRequest) (*types.AnalysisResult, error) {
	userPrompt := fmt.Sprintf(`目标岗位: %s

岗位描述:
%s

候选人简历:
%s

请输出JSON，结构如下:
{
  "existing_skills": [{"skill_name": "...", "proficiency_level": "...", "years_experience": 0}],
  "skill_gaps": [{"skill_name": "...", "required_level": "...", "priority": "...", "recommended_starting_level": "..."}],
  "tech_stack": ["..."],
  "market_insights": {"demand_level": "...", "key_findings": ["..."], "data_sources": ["..."]}
}`, req.TargetJobTitle, req.JobDescription, req.ResumeText)

	content, err := a.runner.RunTask(ctx, analyzerTask, analyzerSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var raw analyzerRawOutput
	if err := json.Unmarshal([]byte(ExtractJSON(content)), &raw); err != nil {
		return nil, NewError(analyzerTask, FailureInvalidOutput, fmt.Errorf("解析分析结果JSON失败: %w", err))
	}

	result := &types.AnalysisResult{
		ExistingSkills: make([]types.SkillRecord, 0, len(raw.ExistingSkills)),
		SkillGaps:      make([]types.SkillGap, 0, len(raw.SkillGaps)),
		TechStack:      raw.TechStack,
	}

	// 已具备技能集合，用于保证差距列表与已有技能不相交
	existingNames := make(map[string]bool, len(raw.ExistingSkills))

	for _, s := range raw.ExistingSkills {
		name := strings.TrimSpace(s.SkillName)
		if name == "" {
			continue
		}
		existingNames[strings.ToLower(name)] = true
		result.ExistingSkills = append(result.ExistingSkills, types.SkillRecord{
			SkillName:        name,
			ProficiencyLevel: types.NormalizeProficiency(s.ProficiencyLevel),
			YearsExperience:  s.YearsExperience,
		})
	}

	for _, g := range raw.SkillGaps {
		name := strings.TrimSpace(g.SkillName)
		if name == "" {
			continue
		}
		if existingNames[strings.ToLower(name)] {
			// Agent偶尔会把已有技能也列进差距，丢弃以维持两个列表互斥
			a.logger.Debug().Str("skill", name).Msg("差距技能与已有技能重复，已丢弃")
			continue
		}
		result.SkillGaps = append(result.SkillGaps, types.SkillGap{
			SkillName:                name,
			RequiredLevel:            types.NormalizeProficiency(g.RequiredLevel),
			Priority:                 types.NormalizePriority(g.Priority),
			RecommendedStartingLevel: strings.TrimSpace(g.RecommendedStartingLevel),
		})
	}

	if raw.MarketInsights != nil {
		result.MarketInsights = &types.MarketInsights{
			DemandLevel: raw.MarketInsights.DemandLevel,
			KeyFindings: raw.MarketInsights.KeyFindings,
			DataSources: raw.MarketInsights.DataSources,
		}
	}

	a.logger.Info().
		Int("existing_skills", len(result.ExistingSkills)).
		Int("skill_gaps", len(result.SkillGaps)).
		Msg("技能差距分析完成")

	return result, nil
}
