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

const curatorTask = "curator"

const curatorSystemPrompt = `你是一名学习资源策展专家。你可以使用联网搜索和网页抓取来查找真实存在的学习资源。
针对给定的一个技能差距，找出3-5个高质量的学习资源。

要求:
1. 资源必须是真实可访问的URL，不要编造。
2. 按推荐程度从高到低排列。
3. resource_type 取值: course / tutorial / video / article。
4. 尽量满足用户给出的筛选条件。
5. 只输出JSON数组，不要输出任何其他文字。`

// Curator 资源策展阶段，每个技能差距发起一次Agent调用
type Curator struct {
	runner TaskRunner
	logger zerolog.Logger
}

// NewCurator 创建Curator阶段
func NewCurator(runner TaskRunner) *Curator {
	return &Curator{
		runner: runner,
		logger: logger.Logger.With().Str("component", "curator").Logger(),
	}
}

// curatorRawResource Agent输出的宽松资源结构
type curatorRawResource struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Provider      string   `json:"provider"`
	ResourceType  string   `json:"resource_type"`
	DurationHours float64  `json:"duration_hours"`
	IsFree        bool     `json:"is_free"`
	Rating        *float64 `json:"rating"`
	Description   string   `json:"description"`
}

// CurateSkill 为单个技能差距查找候选学习资源。
// 返回的资源保持Agent产出的推荐顺序，并已按筛选条件过滤。
func (c *Curator) CurateSkill(ctx context.Context, gap types.SkillGap, filters types.ResourceFilters) ([]types.Resource, error) {
	var filterDesc strings.Builder
	if filters.FreeOnly {
		filterDesc.WriteString("- 只要免费资源\n")
	}
	if filters.MaxDurationHours > 0 {
		fmt.Fprintf(&filterDesc, "- 时长不超过%.0f小时\n", filters.MaxDurationHours)
	}
	if len(filters.ResourceTypes) > 0 {
		rts := make([]string, 0, len(filters.ResourceTypes))
		for _, rt := range filters.ResourceTypes {
			rts = append(rts, string(rt))
		}
		fmt.Fprintf(&filterDesc, "- 资源类型限定: %s\n", strings.Join(rts, ", "))
	}

	userPrompt := fmt.Sprintf(`技能: %s
岗位要求水平: %s
建议起步水平: %s
优先级: %s

筛选条件:
%s
请输出JSON数组，每个元素结构如下:
{"url": "...", "title": "...", "provider": "...", "resource_type": "...", "duration_hours": 0, "is_free": true, "rating": 4.5, "description": "..."}`,
		gap.SkillName, gap.RequiredLevel, gap.RecommendedStartingLevel, gap.Priority, filterDesc.String())

	content, err := c.runner.RunTask(ctx, curatorTask, curatorSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var raw []curatorRawResource
	if err := json.Unmarshal([]byte(ExtractJSON(content)), &raw); err != nil {
		return nil, NewError(curatorTask, FailureInvalidOutput, fmt.Errorf("解析资源列表JSON失败: %w", err))
	}

	resources := make([]types.Resource, 0, len(raw))
	for _, r := range raw {
		url := strings.TrimSpace(r.URL)
		if url == "" {
			continue
		}
		res := types.Resource{
			URL:           url,
			Title:         strings.TrimSpace(r.Title),
			Provider:      strings.TrimSpace(r.Provider),
			ResourceType:  types.NormalizeResourceType(r.ResourceType),
			DurationHours: r.DurationHours,
			IsFree:        r.IsFree,
			Rating:        r.Rating,
			Description:   strings.TrimSpace(r.Description),
			Validated:     false,
		}
		if !matchesFilters(res, filters) {
			c.logger.Debug().
				Str("skill", gap.SkillName).
				Str("url", res.URL).
				Msg("资源不满足筛选条件，已丢弃")
			continue
		}
		resources = append(resources, res)
	}

	c.logger.Info().
		Str("skill", gap.SkillName).
		Int("resource_count", len(resources)).
		Msg("技能资源策展完成")

	return resources, nil
}

// matchesFilters 本地复核Agent返回的资源是否满足筛选条件
func matchesFilters(res types.Resource, filters types.ResourceFilters) bool {
	if filters.FreeOnly && !res.IsFree {
		return false
	}
	if filters.MaxDurationHours > 0 && res.DurationHours > filters.MaxDurationHours {
		return false
	}
	if len(filters.ResourceTypes) > 0 {
		found := false
		for _, rt := range filters.ResourceTypes {
			if res.ResourceType == rt {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
