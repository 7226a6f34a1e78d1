package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"learn-agent-go/internal/config"
	"learn-agent-go/internal/logger"
	"learn-agent-go/internal/orchestrator"
	"learn-agent-go/internal/parser"
	"learn-agent-go/internal/storage"
	"learn-agent-go/internal/storage/models"
	"learn-agent-go/internal/types"

	"github.com/gofrs/uuid/v5"
)

// AnalysisHandler 协调分析请求的接收、执行与结果查询
type AnalysisHandler struct {
	cfg          *config.Config
	storage      *storage.Storage
	orch         *orchestrator.Orchestrator
	pdfExtractor *parser.PDFTextExtractor // 可为nil，简历上传接口会拒绝PDF
}

// NewAnalysisHandler 创建分析处理器
func NewAnalysisHandler(cfg *config.Config, storageManager *storage.Storage, orch *orchestrator.Orchestrator, pdfExtractor *parser.PDFTextExtractor) *AnalysisHandler {
	return &AnalysisHandler{
		cfg:          cfg,
		storage:      storageManager,
		orch:         orch,
		pdfExtractor: pdfExtractor,
	}
}

// newJobID 生成时间有序的任务标识
func newJobID() (string, error) {
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("生成JobID失败: %w", err)
	}
	return uuidV7.String(), nil
}

// recordJobStart 在MySQL中落一条任务记录，历史库故障不阻断分析
func (h *AnalysisHandler) recordJobStart(ctx context.Context, jobID string, req *types.AnalysisRequest, status types.AnalysisStatus) {
	if h.storage == nil || h.storage.MySQL == nil {
		return
	}
	filtersJSON, err := models.MarshalToJSON(req.Filters)
	if err != nil {
		logger.Warn().Err(err).Msg("序列化筛选条件失败")
	}
	job := &models.AnalysisJob{
		JobID:          jobID,
		Fingerprint:    req.Fingerprint(),
		TargetJobTitle: req.TargetJobTitle,
		ResumeText:     req.ResumeText,
		JobDescription: req.JobDescription,
		FiltersJSON:    filtersJSON,
		Status:         string(status),
	}
	if err := h.storage.MySQL.CreateAnalysisJob(ctx, job); err != nil {
		logger.Warn().Err(err).Str("job_id", jobID).Msg("写入任务历史记录失败")
	}
}

// recordJobFinish 回填任务终态
func (h *AnalysisHandler) recordJobFinish(ctx context.Context, resp *types.AnalysisResponse, cacheHit bool) {
	if h.storage == nil || h.storage.MySQL == nil {
		return
	}
	if err := h.storage.MySQL.FinishAnalysisJob(ctx, resp.JobID, resp, cacheHit); err != nil {
		logger.Warn().Err(err).Str("job_id", resp.JobID).Msg("回填任务终态失败")
	}
}

// HandleAnalyze 同步执行一次完整分析
func (h *AnalysisHandler) HandleAnalyze(ctx context.Context, req *types.AnalysisRequest) (*types.AnalysisResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	jobID, err := newJobID()
	if err != nil {
		return nil, err
	}

	h.recordJobStart(ctx, jobID, req, types.StatusInProgress)

	before := h.orch.Metrics().CacheHits.Load() + h.orch.Metrics().SemanticCacheHits.Load()
	resp := h.orch.Analyze(ctx, jobID, req)
	cacheHit := h.orch.Metrics().CacheHits.Load()+h.orch.Metrics().SemanticCacheHits.Load() > before

	h.recordJobFinish(ctx, resp, cacheHit)
	return resp, nil
}

// HandleAnalyzeAsync 把分析任务投递到消息队列，立即返回任务标识
func (h *AnalysisHandler) HandleAnalyzeAsync(ctx context.Context, req *types.AnalysisRequest) (*types.AnalysisResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if h.storage == nil || h.storage.RabbitMQ == nil {
		return nil, fmt.Errorf("消息队列未配置, 异步分析不可用")
	}

	jobID, err := newJobID()
	if err != nil {
		return nil, err
	}

	h.recordJobStart(ctx, jobID, req, types.StatusQueued)

	queued := &types.AnalysisResponse{JobID: jobID, Status: types.StatusQueued}
	if h.storage.Redis != nil {
		if err := h.storage.Redis.SetJobStatus(ctx, jobID, queued, 24*time.Hour); err != nil {
			logger.Warn().Err(err).Str("job_id", jobID).Msg("写入排队状态失败")
		}
	}

	message := storage.AnalysisTaskMessage{
		JobID:       jobID,
		Fingerprint: req.Fingerprint(),
		Request:     *req,
		SubmittedAt: time.Now(),
	}
	if err := h.storage.RabbitMQ.PublishJSON(ctx, h.cfg.RabbitMQ.AnalysisExchange, h.cfg.RabbitMQ.AnalysisRoutingKey, message, true); err != nil {
		return nil, fmt.Errorf("投递分析任务失败: %w", err)
	}

	logger.Info().Str("job_id", jobID).Msg("分析任务已入队")
	return queued, nil
}

// StartAnalysisConsumer 启动异步分析消费者
func (h *AnalysisHandler) StartAnalysisConsumer(ctx context.Context) (<-chan struct{}, error) {
	if h.storage == nil || h.storage.RabbitMQ == nil {
		return nil, fmt.Errorf("消息队列未配置")
	}

	if err := h.storage.RabbitMQ.SetupAnalysisTopology(); err != nil {
		return nil, err
	}

	prefetch := h.cfg.RabbitMQ.PrefetchCount
	if prefetch <= 0 {
		prefetch = 10
	}

	return h.storage.RabbitMQ.StartConsumer(h.cfg.RabbitMQ.AnalysisQueue, prefetch, func(data []byte) bool {
		var message storage.AnalysisTaskMessage
		if err := json.Unmarshal(data, &message); err != nil {
			logger.Error().Err(err).Msg("解析分析任务消息失败")
			// 消息格式损坏，重新入队没有意义
			return true
		}

		if h.storage.MySQL != nil {
			if err := h.storage.MySQL.UpdateAnalysisJobStatus(ctx, message.JobID, types.StatusInProgress, ""); err != nil {
				logger.Warn().Err(err).Str("job_id", message.JobID).Msg("更新任务状态失败")
			}
		}

		resp := h.orch.Analyze(ctx, message.JobID, &message.Request)
		h.recordJobFinish(ctx, resp, false)

		logger.Info().
			Str("job_id", message.JobID).
			Str("status", string(resp.Status)).
			Int64("elapsed_ms", resp.ElapsedMS).
			Msg("异步分析任务完成")
		return true
	})
}

// HandleGetJob 查询任务状态。优先读Redis状态镜像，回退到MySQL历史记录。
func (h *AnalysisHandler) HandleGetJob(ctx context.Context, jobID string) (*types.AnalysisResponse, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("job_id 不能为空")
	}

	if h.storage != nil && h.storage.Redis != nil {
		resp, err := h.storage.Redis.GetJobStatus(ctx, jobID)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Err(err).Str("job_id", jobID).Msg("读取任务状态镜像失败, 回退到历史库")
		}
	}

	if h.storage != nil && h.storage.MySQL != nil {
		job, err := h.storage.MySQL.GetAnalysisJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("任务不存在: %s", jobID)
		}
		return jobToResponse(job), nil
	}

	return nil, fmt.Errorf("任务不存在: %s", jobID)
}

// jobToResponse 把历史记录还原为响应结构
func jobToResponse(job *models.AnalysisJob) *types.AnalysisResponse {
	resp := &types.AnalysisResponse{
		JobID:        job.JobID,
		Status:       types.AnalysisStatus(job.Status),
		ErrorMessage: job.ErrorMessage,
		ElapsedMS:    job.ElapsedMS,
	}
	if len(job.AnalysisResultJSON) > 0 {
		var result types.AnalysisResult
		if err := json.Unmarshal(job.AnalysisResultJSON, &result); err == nil {
			resp.AnalysisResult = &result
		}
	}
	if len(job.CuratedResourcesJSON) > 0 {
		var curated []types.SkillResources
		if err := json.Unmarshal(job.CuratedResourcesJSON, &curated); err == nil {
			resp.CuratedResources = curated
		}
	}
	if len(job.DegradedSkillsJSON) > 0 {
		var degraded []string
		if err := json.Unmarshal(job.DegradedSkillsJSON, &degraded); err == nil {
			resp.DegradedSkills = degraded
		}
	}
	return resp
}

// HandleFeedback 记录用户对资源的评分反馈
func (h *AnalysisHandler) HandleFeedback(ctx context.Context, fb *types.FeedbackRecord) error {
	if fb.JobID == "" || fb.SkillName == "" || fb.ResourceURL == "" {
		return fmt.Errorf("job_id、skill_name、resource_url 均不能为空")
	}
	if fb.Rating < 1 || fb.Rating > 5 {
		return fmt.Errorf("rating 必须在1到5之间")
	}
	if h.storage == nil || h.storage.MySQL == nil {
		return fmt.Errorf("历史库未配置, 反馈不可用")
	}

	return h.storage.MySQL.SaveResourceFeedback(ctx, &models.ResourceFeedback{
		JobID:       fb.JobID,
		SkillName:   fb.SkillName,
		ResourceURL: fb.ResourceURL,
		Rating:      fb.Rating,
		Comments:    fb.Comments,
	})
}

// HandleListFeedback 查询某技能的历史反馈记录
func (h *AnalysisHandler) HandleListFeedback(ctx context.Context, skillName string, limit int) ([]types.FeedbackRecord, error) {
	if strings.TrimSpace(skillName) == "" {
		return nil, fmt.Errorf("skill_name 不能为空")
	}
	if h.storage == nil || h.storage.MySQL == nil {
		return nil, fmt.Errorf("历史库未配置, 反馈查询不可用")
	}

	records, err := h.storage.MySQL.ListFeedbackBySkill(ctx, skillName, limit)
	if err != nil {
		return nil, err
	}

	out := make([]types.FeedbackRecord, 0, len(records))
	for _, r := range records {
		out = append(out, types.FeedbackRecord{
			JobID:       r.JobID,
			SkillName:   r.SkillName,
			ResourceURL: r.ResourceURL,
			Rating:      r.Rating,
			Comments:    r.Comments,
		})
	}
	return out, nil
}

// resumeObjectKey 查询任务对应的简历存档位置
func (h *AnalysisHandler) resumeObjectKey(ctx context.Context, jobID string) (string, error) {
	if h.storage == nil || h.storage.MySQL == nil || h.storage.MinIO == nil {
		return "", fmt.Errorf("简历存档不可用")
	}
	job, err := h.storage.MySQL.GetAnalysisJob(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("任务不存在: %s", jobID)
	}
	if job.ResumeObjectKey == nil || *job.ResumeObjectKey == "" {
		return "", fmt.Errorf("任务没有简历存档: %s", jobID)
	}
	return *job.ResumeObjectKey, nil
}

// HandleResumeArchiveDownload 取回归档的简历原件
func (h *AnalysisHandler) HandleResumeArchiveDownload(ctx context.Context, jobID string) ([]byte, string, error) {
	objectKey, err := h.resumeObjectKey(ctx, jobID)
	if err != nil {
		return nil, "", err
	}
	data, err := h.storage.MinIO.GetResumeFile(ctx, objectKey)
	if err != nil {
		return nil, "", fmt.Errorf("读取简历存档失败: %w", err)
	}
	return data, objectKey, nil
}

// HandleResumeArchiveURL 生成简历存档的临时下载链接
func (h *AnalysisHandler) HandleResumeArchiveURL(ctx context.Context, jobID string) (string, error) {
	objectKey, err := h.resumeObjectKey(ctx, jobID)
	if err != nil {
		return "", err
	}
	return h.storage.MinIO.GetPresignedURL(ctx, objectKey, time.Hour)
}

// HandleResumeArchiveDelete 删除归档的简历原件
func (h *AnalysisHandler) HandleResumeArchiveDelete(ctx context.Context, jobID string) error {
	objectKey, err := h.resumeObjectKey(ctx, jobID)
	if err != nil {
		return err
	}
	if err := h.storage.MinIO.DeleteResumeFile(ctx, objectKey); err != nil {
		return fmt.Errorf("删除简历存档失败: %w", err)
	}
	logger.Info().Str("job_id", jobID).Str("object_key", objectKey).Msg("简历存档已删除")
	return nil
}

// ResumeAnalyzeRequest 简历文件分析请求的表单字段
type ResumeAnalyzeRequest struct {
	JobDescription string
	TargetJobTitle string
	Filters        types.ResourceFilters
}

// HandleResumeFileAnalyze 接收PDF简历文件：提取文本、存档原件、同步执行分析
func (h *AnalysisHandler) HandleResumeFileAnalyze(ctx context.Context, fileBytes []byte, filename string, params ResumeAnalyzeRequest) (*types.AnalysisResponse, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".pdf"
	}

	var resumeText string
	switch ext {
	case ".pdf":
		if h.pdfExtractor == nil {
			return nil, fmt.Errorf("PDF解析器未初始化")
		}
		text, err := h.pdfExtractor.ExtractTextFromBytes(ctx, fileBytes, filename)
		if err != nil {
			return nil, fmt.Errorf("提取简历文本失败: %w", err)
		}
		resumeText = text
	case ".txt", ".md":
		resumeText = string(fileBytes)
	default:
		return nil, fmt.Errorf("不支持的简历格式: %s", ext)
	}

	req := &types.AnalysisRequest{
		ResumeText:     resumeText,
		JobDescription: params.JobDescription,
		TargetJobTitle: params.TargetJobTitle,
		Filters:        params.Filters,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	jobID, err := newJobID()
	if err != nil {
		return nil, err
	}

	h.recordJobStart(ctx, jobID, req, types.StatusInProgress)

	// 原件存档失败不阻断分析
	if h.storage != nil && h.storage.MinIO != nil {
		objectKey, _, err := h.storage.MinIO.UploadResumeFile(ctx, jobID, ext, bytes.NewReader(fileBytes), int64(len(fileBytes)))
		if err != nil {
			logger.Warn().Err(err).Str("job_id", jobID).Msg("简历原件存档失败")
		} else if h.storage.MySQL != nil {
			if err := h.storage.MySQL.SetResumeObjectKey(ctx, jobID, objectKey); err != nil {
				logger.Warn().Err(err).Str("job_id", jobID).Msg("记录简历存档位置失败")
			}
		}
	}

	resp := h.orch.Analyze(ctx, jobID, req)
	h.recordJobFinish(ctx, resp, false)
	return resp, nil
}

// HandleMetrics 返回编排器运行计数
func (h *AnalysisHandler) HandleMetrics() map[string]int64 {
	return h.orch.Metrics().Snapshot()
}

// HandleHealth 对已配置的存储组件做尽力而为的连通性检查
func (h *AnalysisHandler) HandleHealth(ctx context.Context) map[string]string {
	components := map[string]string{"service": "ok"}
	if h.storage == nil {
		return components
	}

	if h.storage.Redis != nil {
		if err := h.storage.Redis.Ping(ctx); err != nil {
			components["redis"] = err.Error()
		} else {
			components["redis"] = "ok"
		}
	}
	if h.storage.MySQL != nil {
		if err := h.storage.MySQL.Ping(ctx); err != nil {
			components["mysql"] = err.Error()
		} else {
			components["mysql"] = "ok"
		}
	}
	return components
}
