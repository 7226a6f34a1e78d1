package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"learn-agent-go/internal/agent"
	"learn-agent-go/internal/config"
	"learn-agent-go/internal/constants"
	"learn-agent-go/internal/logger"
	"learn-agent-go/internal/storage"
	"learn-agent-go/internal/tracing"
	"learn-agent-go/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var orchestratorTracer = otel.Tracer("learn-agent-go/orchestrator")

// AnalyzerStage 技能差距分析阶段
type AnalyzerStage interface {
	Analyze(ctx context.Context, req *types.AnalysisRequest) (*types.AnalysisResult, error)
}

// CuratorStage 资源搜集阶段，每个技能差距调用一次
type CuratorStage interface {
	CurateSkill(ctx context.Context, gap types.SkillGap, filters types.ResourceFilters) ([]types.Resource, error)
}

// JudgeStage 资源校验阶段，每条候选资源调用一次
type JudgeStage interface {
	ValidateResource(ctx context.Context, skillName string, res types.Resource) (bool, error)
}

// AnalysisCache 按指纹存取分析快照的缓存抽象
type AnalysisCache interface {
	GetCacheEntry(ctx context.Context, fingerprint string) (*types.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry *types.CacheEntry, ttl time.Duration) error
	GetCacheTTL() time.Duration
}

// CacheLocker 可选的分布式锁，用于抑制同一指纹的并发重复计算
type CacheLocker interface {
	AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error)
}

// StatusReporter 任务状态镜像，异步查询接口从这里读进度
type StatusReporter interface {
	SetJobStatus(ctx context.Context, jobID string, resp *types.AnalysisResponse, ttl time.Duration) error
}

// Metrics 编排器运行计数器
type Metrics struct {
	CacheHits         atomic.Int64
	SemanticCacheHits atomic.Int64
	CacheMisses       atomic.Int64
	Completed         atomic.Int64
	Partial           atomic.Int64
	Failed            atomic.Int64
}

// Snapshot 返回计数器的当前快照
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"cache_hits":          m.CacheHits.Load(),
		"semantic_cache_hits": m.SemanticCacheHits.Load(),
		"cache_misses":        m.CacheMisses.Load(),
		"completed":           m.Completed.Load(),
		"partial":             m.Partial.Load(),
		"failed":              m.Failed.Load(),
	}
}

// Orchestrator 串联 Analyzer → Curator → Judge 三个阶段，
// 管理缓存与部分失败聚合，返回统一的分析响应。
type Orchestrator struct {
	analyzer AnalyzerStage
	curator  CuratorStage
	judge    JudgeStage

	cache    AnalysisCache  // nil时禁用缓存
	locker   CacheLocker    // nil时不加锁
	semantic *SemanticCache // nil时禁用语义缓存
	status   StatusReporter // nil时不写状态镜像

	cfg     config.OrchestratorConfig
	metrics Metrics
}

// Option 编排器可选依赖
type Option func(*Orchestrator)

// WithCache 启用按指纹的精确缓存
func WithCache(cache AnalysisCache) Option {
	return func(o *Orchestrator) { o.cache = cache }
}

// WithCacheLocker 启用计算去重锁
func WithCacheLocker(locker CacheLocker) Option {
	return func(o *Orchestrator) { o.locker = locker }
}

// WithSemanticCache 启用语义相似缓存
func WithSemanticCache(sc *SemanticCache) Option {
	return func(o *Orchestrator) { o.semantic = sc }
}

// WithStatusReporter 启用任务状态镜像
func WithStatusReporter(sr StatusReporter) Option {
	return func(o *Orchestrator) { o.status = sr }
}

// NewOrchestrator 创建编排器
func NewOrchestrator(analyzer AnalyzerStage, curator CuratorStage, judge JudgeStage, cfg config.OrchestratorConfig, opts ...Option) *Orchestrator {
	if cfg.MaxConcurrentAgents <= 0 {
		cfg.MaxConcurrentAgents = constants.DefaultMaxConcurrentAgents
	}
	if cfg.RequestDeadlineSeconds <= 0 {
		cfg.RequestDeadlineSeconds = int(constants.DefaultRequestDeadline / time.Second)
	}

	o := &Orchestrator{
		analyzer: analyzer,
		curator:  curator,
		judge:    judge,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Metrics 返回计数器
func (o *Orchestrator) Metrics() *Metrics {
	return &o.metrics
}

// Analyze 执行一次完整的分析流程。
// 返回的响应总是非nil，失败时 Status=failed 且携带 ErrorMessage。
func (o *Orchestrator) Analyze(ctx context.Context, jobID string, req *types.AnalysisRequest) *types.AnalysisResponse {
	startTime := time.Now()

	resp := &types.AnalysisResponse{
		JobID:  jobID,
		Status: types.StatusInProgress,
	}

	if err := req.Validate(); err != nil {
		resp.Status = types.StatusFailed
		resp.ErrorMessage = err.Error()
		o.metrics.Failed.Add(1)
		return o.finish(ctx, resp, startTime)
	}

	fingerprint := req.Fingerprint()

	ctx, span := orchestratorTracer.Start(ctx, "Orchestrator.Analyze",
		trace.WithAttributes(
			attribute.String("analysis.job_id", jobID),
			attribute.String("analysis.fingerprint", fingerprint),
			attribute.String("analysis.target_job_title", req.TargetJobTitle),
		))
	defer span.End()

	// 端到端截止时间，覆盖所有阶段
	deadline := time.Duration(o.cfg.RequestDeadlineSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// 精确缓存查询，命中直接返回
	if entry, ok := o.lookupCache(ctx, fingerprint); ok {
		span.SetAttributes(attribute.Bool("analysis.cache_hit", true))
		o.metrics.CacheHits.Add(1)
		resp.Status = entry.Status
		resp.AnalysisResult = entry.AnalysisResult
		resp.CuratedResources = entry.CuratedResources
		resp.DegradedSkills = entry.DegradedSkills
		return o.finish(ctx, resp, startTime)
	}

	// 语义缓存查询：找到足够相似的历史请求后按其指纹取精确条目
	if o.semantic != nil && o.cfg.EnableSemanticCache && o.cache != nil {
		if similarFP, ok := o.semantic.Lookup(ctx, req); ok && similarFP != fingerprint {
			if entry, ok := o.lookupCache(ctx, similarFP); ok {
				span.SetAttributes(attribute.Bool("analysis.semantic_cache_hit", true))
				o.metrics.SemanticCacheHits.Add(1)
				resp.Status = entry.Status
				resp.AnalysisResult = entry.AnalysisResult
				resp.CuratedResources = entry.CuratedResources
				resp.DegradedSkills = entry.DegradedSkills
				return o.finish(ctx, resp, startTime)
			}
		}
	}

	o.metrics.CacheMisses.Add(1)

	// 去重锁：抢不到锁也继续计算，条目不可变，后写覆盖先写无害
	if o.locker != nil && o.cfg.EnableCache {
		lockKey := fmt.Sprintf(constants.KeyAnalysisLock, fingerprint)
		if lockValue, err := o.locker.AcquireLock(ctx, lockKey, deadline); err == nil && lockValue != "" {
			defer func() {
				if _, err := o.locker.ReleaseLock(context.WithoutCancel(ctx), lockKey, lockValue); err != nil {
					logger.Warn().Err(err).Str("fingerprint", fingerprint).Msg("释放分析锁失败")
				}
			}()
		} else if err != nil {
			logger.Warn().Err(err).Msg("获取分析锁失败, 继续执行")
		}
	}

	o.reportStatus(ctx, resp)

	// 阶段一: Analyzer。失败即终态，没有技能差距就没有后续工作。
	result, err := o.runAnalyzer(ctx, req)
	if err != nil {
		reason := agent.ReasonOf(err)
		tracing.RecordAgentError(span, err, "analyzer", string(reason))
		logger.Error().Err(err).Str("job_id", jobID).Str("reason", string(reason)).Msg("Analyzer阶段失败")
		resp.Status = types.StatusFailed
		resp.ErrorMessage = fmt.Sprintf("analyzer失败 (%s): %v", reason, err)
		o.metrics.Failed.Add(1)
		return o.finish(ctx, resp, startTime)
	}
	resp.AnalysisResult = result
	o.reportStatus(ctx, resp)

	// 阶段二: Curator扇出，每个技能差距一次调用
	curated, degraded := o.runCurators(ctx, span, result.SkillGaps, req.Filters)

	// 阶段三: Judge扇出，每条资源一次调用
	if o.judge != nil && o.cfg.EnableJudge {
		curated, degraded = o.runJudges(ctx, span, curated, degraded)
	}

	resp.CuratedResources = curated
	resp.DegradedSkills = degraded
	if len(degraded) > 0 {
		resp.Status = types.StatusPartial
		o.metrics.Partial.Add(1)
	} else {
		resp.Status = types.StatusCompleted
		o.metrics.Completed.Add(1)
	}

	// completed和partial都写缓存，failed不写
	o.storeCache(ctx, fingerprint, resp)
	if o.semantic != nil && o.cfg.EnableSemanticCache {
		o.semantic.Store(ctx, req, fingerprint)
	}

	span.SetAttributes(
		attribute.String("analysis.status", string(resp.Status)),
		attribute.Int("analysis.skill_gaps", len(result.SkillGaps)),
		attribute.Int("analysis.degraded_skills", len(degraded)),
	)

	totalResources := 0
	for _, sr := range curated {
		totalResources += len(sr.Resources)
	}
	logger.Info().
		Str("job_id", jobID).
		Str("status", string(resp.Status)).
		Int("skill_gaps", len(result.SkillGaps)).
		Int("resources", totalResources).
		Int("degraded_skills", len(degraded)).
		Msg("分析流程结束")

	return o.finish(ctx, resp, startTime)
}

// finish 补全耗时并刷新状态镜像
func (o *Orchestrator) finish(ctx context.Context, resp *types.AnalysisResponse, startTime time.Time) *types.AnalysisResponse {
	resp.ElapsedMS = time.Since(startTime).Milliseconds()
	o.reportStatus(ctx, resp)
	return resp
}

// reportStatus 写入任务状态镜像，失败只记日志
func (o *Orchestrator) reportStatus(ctx context.Context, resp *types.AnalysisResponse) {
	if o.status == nil || resp.JobID == "" {
		return
	}
	// 终态可能发生在截止时间之后，用未取消的上下文写镜像
	if err := o.status.SetJobStatus(context.WithoutCancel(ctx), resp.JobID, resp, 24*time.Hour); err != nil {
		logger.Warn().Err(err).Str("job_id", resp.JobID).Msg("写入任务状态镜像失败")
	}
}

// lookupCache 精确缓存查询，任何缓存故障一律按未命中处理
func (o *Orchestrator) lookupCache(ctx context.Context, fingerprint string) (*types.CacheEntry, bool) {
	if o.cache == nil || !o.cfg.EnableCache {
		return nil, false
	}
	entry, err := o.cache.GetCacheEntry(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Err(err).Str("fingerprint", fingerprint).Msg("缓存读取失败, 按未命中处理")
		}
		return nil, false
	}
	return entry, true
}

// storeCache 写入缓存快照，失败只记日志
func (o *Orchestrator) storeCache(ctx context.Context, fingerprint string, resp *types.AnalysisResponse) {
	if o.cache == nil || !o.cfg.EnableCache {
		return
	}
	entry := &types.CacheEntry{
		Fingerprint:      fingerprint,
		Status:           resp.Status,
		AnalysisResult:   resp.AnalysisResult,
		CuratedResources: resp.CuratedResources,
		DegradedSkills:   resp.DegradedSkills,
		CreatedAt:        time.Now(),
	}
	if err := o.cache.PutCacheEntry(context.WithoutCancel(ctx), entry, o.cache.GetCacheTTL()); err != nil {
		logger.Warn().Err(err).Str("fingerprint", fingerprint).Msg("缓存写入失败")
	}
}

// runAnalyzer 执行Analyzer阶段
func (o *Orchestrator) runAnalyzer(ctx context.Context, req *types.AnalysisRequest) (*types.AnalysisResult, error) {
	ctx, span := orchestratorTracer.Start(ctx, "Orchestrator.Analyzing")
	defer span.End()
	return o.analyzer.Analyze(ctx, req)
}

// runCurators 对每个技能差距并发执行Curator调用。
// 结果按原始下标合并，与完成顺序无关。失败或零结果的技能进入降级列表。
func (o *Orchestrator) runCurators(ctx context.Context, parent trace.Span, gaps []types.SkillGap, filters types.ResourceFilters) ([]types.SkillResources, []string) {
	ctx, span := orchestratorTracer.Start(ctx, "Orchestrator.Curating",
		trace.WithAttributes(attribute.Int("analysis.fan_out", len(gaps))))
	defer span.End()

	results := make([][]types.Resource, len(gaps))
	errs := make([]error, len(gaps))

	sem := make(chan struct{}, o.cfg.MaxConcurrentAgents)
	var wg sync.WaitGroup
	for i := range gaps {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errs[idx] = ctx.Err()
				return
			}
			results[idx], errs[idx] = o.curator.CurateSkill(ctx, gaps[idx], filters)
		}(i)
	}
	wg.Wait()

	curated := make([]types.SkillResources, len(gaps))
	var degraded []string
	for i, gap := range gaps {
		curated[i] = types.SkillResources{
			SkillName: gap.SkillName,
			Resources: results[i],
		}
		if errs[i] != nil {
			curated[i].Resources = nil
			degraded = append(degraded, gap.SkillName)
			tracing.RecordAgentError(parent, errs[i], "curator", string(agent.ReasonOf(errs[i])))
			logger.Warn().Err(errs[i]).Str("skill", gap.SkillName).Msg("Curator调用失败, 技能降级")
		} else if len(results[i]) == 0 {
			degraded = append(degraded, gap.SkillName)
			logger.Warn().Str("skill", gap.SkillName).Msg("Curator未返回任何资源, 技能降级")
		} else if len(results[i]) < o.cfg.MinQualityResources {
			logger.Debug().Str("skill", gap.SkillName).
				Int("count", len(results[i])).
				Int("expected", o.cfg.MinQualityResources).
				Msg("Curator返回资源数低于期望值")
		}
	}
	return curated, degraded
}

// judgeVerdict 一条资源的校验结果
type judgeVerdict struct {
	approved bool
	err      error
}

// runJudges 对每条候选资源并发执行Judge调用。
// 校验失败或未通过的资源被丢弃；某技能的资源因调用失败而全部丢弃时该技能降级。
func (o *Orchestrator) runJudges(ctx context.Context, parent trace.Span, curated []types.SkillResources, degraded []string) ([]types.SkillResources, []string) {
	total := 0
	for _, sr := range curated {
		total += len(sr.Resources)
	}
	if total == 0 {
		return curated, degraded
	}

	ctx, span := orchestratorTracer.Start(ctx, "Orchestrator.Judging",
		trace.WithAttributes(attribute.Int("analysis.fan_out", total)))
	defer span.End()

	verdicts := make([][]judgeVerdict, len(curated))
	for i := range curated {
		verdicts[i] = make([]judgeVerdict, len(curated[i].Resources))
	}

	sem := make(chan struct{}, o.cfg.MaxConcurrentAgents)
	var wg sync.WaitGroup
	for i := range curated {
		for j := range curated[i].Resources {
			wg.Add(1)
			go func(si, ri int) {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					verdicts[si][ri].err = ctx.Err()
					return
				}
				approved, err := o.judge.ValidateResource(ctx, curated[si].SkillName, curated[si].Resources[ri])
				verdicts[si][ri] = judgeVerdict{approved: approved, err: err}
			}(i, j)
		}
	}
	wg.Wait()

	degradedSet := make(map[string]bool, len(degraded))
	for _, name := range degraded {
		degradedSet[name] = true
	}

	out := make([]types.SkillResources, len(curated))
	for i, sr := range curated {
		kept := make([]types.Resource, 0, len(sr.Resources))
		hadJudgeError := false
		for j, res := range sr.Resources {
			v := verdicts[i][j]
			if v.err != nil {
				hadJudgeError = true
				tracing.RecordAgentError(parent, v.err, "judge", string(agent.ReasonOf(v.err)))
				logger.Warn().Err(v.err).Str("skill", sr.SkillName).Str("url", res.URL).Msg("Judge调用失败, 资源丢弃")
				continue
			}
			if !v.approved {
				continue
			}
			res.Validated = true
			kept = append(kept, res)
		}
		out[i] = types.SkillResources{SkillName: sr.SkillName, Resources: kept}

		// 原本有候选资源、因调用失败全部丢失的技能降级
		if len(sr.Resources) > 0 && len(kept) == 0 && hadJudgeError && !degradedSet[sr.SkillName] {
			degradedSet[sr.SkillName] = true
			degraded = append(degraded, sr.SkillName)
		}
	}
	return out, degraded
}
