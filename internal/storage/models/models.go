package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// AnalysisJob 分析任务历史表，记录每一次分析请求的生命周期和结果快照
type AnalysisJob struct {
	JobID          string `gorm:"type:char(36);primaryKey"`
	Fingerprint    string `gorm:"type:char(64);not null;index:idx_aj_fingerprint"`
	TargetJobTitle string `gorm:"type:varchar(255);not null"`
	// 原始输入，便于回溯和问题排查
	ResumeText     string         `gorm:"type:text;not null"`
	JobDescription string         `gorm:"type:text;not null"`
	FiltersJSON    datatypes.JSON `gorm:"type:json"`
	// 任务状态: queued / in_progress / completed / partial / failed
	Status       string `gorm:"type:varchar(20);not null;default:'queued';index:idx_aj_status"`
	ErrorMessage string `gorm:"type:text"`
	// 结果快照
	AnalysisResultJSON   datatypes.JSON `gorm:"type:json"`
	CuratedResourcesJSON datatypes.JSON `gorm:"type:json"`
	DegradedSkillsJSON   datatypes.JSON `gorm:"type:json"`
	CacheHit             bool           `gorm:"default:false"`
	ElapsedMS            int64          `gorm:"type:bigint"`
	// 上传简历时的原始文件存档位置 (MinIO对象键，可空)
	ResumeObjectKey *string    `gorm:"type:varchar(1024)"`
	CompletedAt     *time.Time `gorm:"type:datetime(6)"`
	CreatedAt       time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_aj_created_at"`
	UpdatedAt       time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (AnalysisJob) TableName() string {
	return "analysis_jobs"
}

// ResourceFeedback 用户对资源的评分反馈表
type ResourceFeedback struct {
	FeedbackID  uint64    `gorm:"primaryKey;autoIncrement"`
	JobID       string    `gorm:"type:char(36);not null;index:idx_rf_job_id"`
	SkillName   string    `gorm:"type:varchar(255);not null;index:idx_rf_skill_name"`
	ResourceURL string    `gorm:"type:varchar(1024);not null"`
	Rating      int       `gorm:"type:int;not null"`
	Comments    string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`

	AnalysisJob *AnalysisJob `gorm:"foreignKey:JobID;references:JobID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (ResourceFeedback) TableName() string {
	return "resource_feedbacks"
}

// StringToJSON 将字符串转换为 datatypes.JSON
func StringToJSON(s string) datatypes.JSON {
	return datatypes.JSON(s)
}

// MarshalToJSON 将任意值序列化为 datatypes.JSON
func MarshalToJSON(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}
