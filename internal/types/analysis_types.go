package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ProficiencyLevel 技能熟练度等级
type ProficiencyLevel string

const (
	ProficiencyBeginner     ProficiencyLevel = "beginner"
	ProficiencyIntermediate ProficiencyLevel = "intermediate"
	ProficiencyAdvanced     ProficiencyLevel = "advanced"
	ProficiencyExpert       ProficiencyLevel = "expert"
)

// NormalizeProficiency 归一化熟练度写法，无法识别时按初学者处理
func NormalizeProficiency(raw string) ProficiencyLevel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "expert", "master":
		return ProficiencyExpert
	case "advanced", "proficient":
		return ProficiencyAdvanced
	case "intermediate", "moderate":
		return ProficiencyIntermediate
	default:
		return ProficiencyBeginner
	}
}

// GapPriority 技能差距优先级
type GapPriority string

const (
	PriorityLow    GapPriority = "low"
	PriorityMedium GapPriority = "medium"
	PriorityHigh   GapPriority = "high"
)

// NormalizePriority 将Agent输出的各种优先级写法归一化为标准枚举。
// 外部Agent服务历史上使用过 critical/important/nice_to_have 等写法。
func NormalizePriority(raw string) GapPriority {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "high", "critical", "urgent":
		return PriorityHigh
	case "medium", "important", "moderate":
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// ResourceType 学习资源类型
type ResourceType string

const (
	ResourceCourse   ResourceType = "course"
	ResourceTutorial ResourceType = "tutorial"
	ResourceVideo    ResourceType = "video"
	ResourceArticle  ResourceType = "article"
)

// NormalizeResourceType 归一化资源类型，未知类型一律按文章处理
func NormalizeResourceType(raw string) ResourceType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "course":
		return ResourceCourse
	case "tutorial", "documentation", "docs":
		return ResourceTutorial
	case "video":
		return ResourceVideo
	default:
		return ResourceArticle
	}
}

// AnalysisStatus 分析任务的总体状态
type AnalysisStatus string

const (
	StatusQueued     AnalysisStatus = "queued"
	StatusInProgress AnalysisStatus = "in_progress"
	StatusCompleted  AnalysisStatus = "completed"
	StatusPartial    AnalysisStatus = "partial"
	StatusFailed     AnalysisStatus = "failed"
)

// ResourceFilters 资源筛选条件，参与指纹计算
type ResourceFilters struct {
	FreeOnly         bool           `json:"free_only" yaml:"free_only"`
	MaxDurationHours float64        `json:"max_duration_hours" yaml:"max_duration_hours"`
	ResourceTypes    []ResourceType `json:"resource_types" yaml:"resource_types"`
}

// DefaultResourceFilters 返回默认筛选条件
func DefaultResourceFilters() ResourceFilters {
	return ResourceFilters{
		FreeOnly:         true,
		MaxDurationHours: 100,
		ResourceTypes:    []ResourceType{ResourceCourse, ResourceTutorial, ResourceVideo},
	}
}

// AnalysisRequest 一次技能差距分析请求，提交后不可变
type AnalysisRequest struct {
	ResumeText     string          `json:"resume_text"`
	JobDescription string          `json:"job_description"`
	TargetJobTitle string          `json:"target_job_title"`
	Filters        ResourceFilters `json:"filters"`
}

// Validate 校验请求的必填字段
func (r *AnalysisRequest) Validate() error {
	if strings.TrimSpace(r.ResumeText) == "" {
		return fmt.Errorf("resume_text 不能为空")
	}
	if strings.TrimSpace(r.JobDescription) == "" {
		return fmt.Errorf("job_description 不能为空")
	}
	if strings.TrimSpace(r.TargetJobTitle) == "" {
		return fmt.Errorf("target_job_title 不能为空")
	}
	return nil
}

// Fingerprint 计算请求内容的确定性指纹，作为缓存键。
// 对 (resume, jd, title, filters) 做规范化序列化后取 sha256，
// 相同请求必然得到相同指纹。
func (r *AnalysisRequest) Fingerprint() string {
	// 资源类型排序后再参与哈希，避免传入顺序影响指纹
	rts := make([]string, 0, len(r.Filters.ResourceTypes))
	for _, rt := range r.Filters.ResourceTypes {
		rts = append(rts, string(rt))
	}
	sort.Strings(rts)

	h := sha256.New()
	// 使用长度前缀分隔各字段，避免字段拼接歧义
	for _, part := range []string{
		r.ResumeText,
		r.JobDescription,
		r.TargetJobTitle,
		fmt.Sprintf("free_only=%t", r.Filters.FreeOnly),
		fmt.Sprintf("max_duration=%g", r.Filters.MaxDurationHours),
		strings.Join(rts, ","),
	} {
		fmt.Fprintf(h, "%d:%s|", len(part), part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SkillRecord 简历中已具备的技能
type SkillRecord struct {
	SkillName        string           `json:"skill_name"`
	ProficiencyLevel ProficiencyLevel `json:"proficiency_level"`
	YearsExperience  float64          `json:"years_experience"`
}

// SkillGap 目标岗位要求但候选人缺失或不足的技能
type SkillGap struct {
	SkillName                string           `json:"skill_name"`
	RequiredLevel            ProficiencyLevel `json:"required_level"`
	Priority                 GapPriority      `json:"priority"`
	RecommendedStartingLevel string           `json:"recommended_starting_level"`
}

// MarketInsights Analyzer通过联网搜索得到的市场情报
type MarketInsights struct {
	DemandLevel string   `json:"demand_level"`
	KeyFindings []string `json:"key_findings,omitempty"`
	DataSources []string `json:"data_sources,omitempty"`
}

// AnalysisResult Analyzer阶段的结构化输出
type AnalysisResult struct {
	ExistingSkills []SkillRecord   `json:"existing_skills"`
	SkillGaps      []SkillGap      `json:"skill_gaps"`
	TechStack      []string        `json:"tech_stack,omitempty"`
	MarketInsights *MarketInsights `json:"market_insights,omitempty"`
}

// Resource 一条学习资源，Judge校验通过后 Validated 才会置位
type Resource struct {
	URL           string       `json:"url"`
	Title         string       `json:"title"`
	Provider      string       `json:"provider"`
	ResourceType  ResourceType `json:"resource_type"`
	DurationHours float64      `json:"duration_hours"`
	IsFree        bool         `json:"is_free"`
	Rating        *float64     `json:"rating,omitempty"`
	Description   string       `json:"description,omitempty"`
	Validated     bool         `json:"validated"`
}

// SkillResources 一个技能差距对应的资源列表，保持Curator产出顺序
type SkillResources struct {
	SkillName string     `json:"skill_name"`
	Resources []Resource `json:"resources"`
}

// AnalysisResponse 编排器最终返回给调用方的聚合结果。
// CuratedResources 的顺序与 AnalysisResult.SkillGaps 一致。
type AnalysisResponse struct {
	JobID            string           `json:"job_id"`
	Status           AnalysisStatus   `json:"status"`
	AnalysisResult   *AnalysisResult  `json:"analysis_result,omitempty"`
	CuratedResources []SkillResources `json:"curated_resources,omitempty"`
	// DegradedSkills 列出因Curator/Judge调用失败导致资源为空的技能
	DegradedSkills []string `json:"degraded_skills,omitempty"`
	ErrorMessage   string   `json:"error_message,omitempty"`
	ElapsedMS      int64    `json:"elapsed_ms,omitempty"`
}

// CacheEntry Redis中缓存的分析快照
type CacheEntry struct {
	Fingerprint      string           `json:"fingerprint"`
	Status           AnalysisStatus   `json:"status"`
	AnalysisResult   *AnalysisResult  `json:"analysis_result"`
	CuratedResources []SkillResources `json:"curated_resources"`
	DegradedSkills   []string         `json:"degraded_skills,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// FeedbackRecord 用户对某条资源的评分反馈
type FeedbackRecord struct {
	JobID       string `json:"job_id"`
	SkillName   string `json:"skill_name"`
	ResourceURL string `json:"resource_url"`
	Rating      int    `json:"rating"`
	Comments    string `json:"comments,omitempty"`
}
