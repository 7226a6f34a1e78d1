package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"learn-agent-go/internal/agent"
	"learn-agent-go/internal/config"
	"learn-agent-go/internal/storage"
	"learn-agent-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalyzer struct {
	result *types.AnalysisResult
	err    error
	calls  atomic.Int64
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req *types.AnalysisRequest) (*types.AnalysisResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeCurator struct {
	mu        sync.Mutex
	resources map[string][]types.Resource
	errs      map[string]error
	delay     func() time.Duration
	calls     atomic.Int64

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (f *fakeCurator) CurateSkill(ctx context.Context, gap types.SkillGap, filters types.ResourceFilters) ([]types.Resource, error) {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	if f.delay != nil {
		select {
		case <-time.After(f.delay()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[gap.SkillName]; ok {
		return nil, err
	}
	return f.resources[gap.SkillName], nil
}

type fakeJudge struct {
	verdicts map[string]bool  // key: resource URL
	errs     map[string]error // key: resource URL
	calls    atomic.Int64
}

func (f *fakeJudge) ValidateResource(ctx context.Context, skillName string, res types.Resource) (bool, error) {
	f.calls.Add(1)
	if err, ok := f.errs[res.URL]; ok {
		return false, err
	}
	if v, ok := f.verdicts[res.URL]; ok {
		return v, nil
	}
	return true, nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*types.CacheEntry
	getErr  error
	putErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*types.CacheEntry)}
}

func (f *fakeCache) GetCacheEntry(ctx context.Context, fingerprint string) (*types.CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	entry, ok := f.entries[fingerprint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return entry, nil
}

func (f *fakeCache) PutCacheEntry(ctx context.Context, entry *types.CacheEntry, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.entries[entry.Fingerprint] = entry
	return nil
}

func (f *fakeCache) GetCacheTTL() time.Duration {
	return time.Hour
}

func testRequest() *types.AnalysisRequest {
	return &types.AnalysisRequest{
		ResumeText:     "Python, Flask, PostgreSQL",
		JobDescription: "Needs React, Kubernetes, TypeScript",
		TargetJobTitle: "Senior Full Stack Engineer",
		Filters:        types.DefaultResourceFilters(),
	}
}

func testGaps() []types.SkillGap {
	return []types.SkillGap{
		{SkillName: "React", RequiredLevel: types.ProficiencyAdvanced, Priority: types.PriorityHigh},
		{SkillName: "Kubernetes", RequiredLevel: types.ProficiencyIntermediate, Priority: types.PriorityMedium},
		{SkillName: "TypeScript", RequiredLevel: types.ProficiencyAdvanced, Priority: types.PriorityHigh},
	}
}

func testResource(url string) types.Resource {
	return types.Resource{
		URL:          url,
		Title:        "资源 " + url,
		Provider:     "example",
		ResourceType: types.ResourceCourse,
		IsFree:       true,
	}
}

func testConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		MaxConcurrentAgents:    3,
		RequestDeadlineSeconds: 30,
		EnableCache:            true,
		EnableJudge:            true,
	}
}

func TestCacheHitSkipsAgentCalls(t *testing.T) {
	analyzer := &fakeAnalyzer{result: &types.AnalysisResult{SkillGaps: testGaps()}}
	curator := &fakeCurator{resources: map[string][]types.Resource{
		"React":      {testResource("https://a")},
		"Kubernetes": {testResource("https://b")},
		"TypeScript": {testResource("https://c")},
	}}
	judge := &fakeJudge{}
	cache := newFakeCache()

	o := NewOrchestrator(analyzer, curator, judge, testConfig(), WithCache(cache))

	first := o.Analyze(context.Background(), "job-1", testRequest())
	require.Equal(t, types.StatusCompleted, first.Status)
	require.Equal(t, int64(1), analyzer.calls.Load())

	second := o.Analyze(context.Background(), "job-2", testRequest())
	assert.Equal(t, types.StatusCompleted, second.Status)
	assert.Equal(t, first.AnalysisResult, second.AnalysisResult)
	assert.Equal(t, first.CuratedResources, second.CuratedResources)
	// 第二次调用完全来自缓存，不触达任何Agent
	assert.Equal(t, int64(1), analyzer.calls.Load())
	assert.Equal(t, int64(3), curator.calls.Load())
	assert.Equal(t, int64(1), o.Metrics().CacheHits.Load())
}

func TestOrderPreservedUnderRandomLatency(t *testing.T) {
	gaps := make([]types.SkillGap, 8)
	resources := make(map[string][]types.Resource, len(gaps))
	for i := range gaps {
		name := fmt.Sprintf("skill-%d", i)
		gaps[i] = types.SkillGap{SkillName: name, Priority: types.PriorityMedium}
		resources[name] = []types.Resource{testResource("https://res/" + name)}
	}

	analyzer := &fakeAnalyzer{result: &types.AnalysisResult{SkillGaps: gaps}}
	curator := &fakeCurator{
		resources: resources,
		delay:     func() time.Duration { return time.Duration(rand.Intn(30)) * time.Millisecond },
	}

	o := NewOrchestrator(analyzer, curator, &fakeJudge{}, testConfig())

	resp := o.Analyze(context.Background(), "job-order", testRequest())
	require.Equal(t, types.StatusCompleted, resp.Status)
	require.Len(t, resp.CuratedResources, len(gaps))
	for i, sr := range resp.CuratedResources {
		assert.Equal(t, gaps[i].SkillName, sr.SkillName, "输出顺序必须与Analyzer产出顺序一致")
	}
}

func TestPartialFailureContainment(t *testing.T) {
	analyzer := &fakeAnalyzer{result: &types.AnalysisResult{SkillGaps: testGaps()}}
	curator := &fakeCurator{
		resources: map[string][]types.Resource{
			"React":      {testResource("https://a")},
			"TypeScript": {testResource("https://c")},
		},
		errs: map[string]error{
			"Kubernetes": agent.NewError("curator", agent.FailureToolError, fmt.Errorf("upstream 503")),
		},
	}
	cache := newFakeCache()

	o := NewOrchestrator(analyzer, curator, &fakeJudge{}, testConfig(), WithCache(cache))

	resp := o.Analyze(context.Background(), "job-partial", testRequest())
	require.Equal(t, types.StatusPartial, resp.Status)
	require.Len(t, resp.CuratedResources, 3)
	assert.NotEmpty(t, resp.CuratedResources[0].Resources)
	assert.Empty(t, resp.CuratedResources[1].Resources)
	assert.NotEmpty(t, resp.CuratedResources[2].Resources)
	assert.Equal(t, []string{"Kubernetes"}, resp.DegradedSkills)

	// partial结果同样写入缓存
	assert.Len(t, cache.entries, 1)
}

func TestAnalyzerFailureIsFatal(t *testing.T) {
	analyzer := &fakeAnalyzer{err: agent.NewError("analyzer", agent.FailureInvalidOutput, fmt.Errorf("无法解析输出"))}
	curator := &fakeCurator{}
	cache := newFakeCache()

	o := NewOrchestrator(analyzer, curator, &fakeJudge{}, testConfig(), WithCache(cache))

	resp := o.Analyze(context.Background(), "job-fail", testRequest())
	assert.Equal(t, types.StatusFailed, resp.Status)
	assert.Nil(t, resp.AnalysisResult)
	assert.NotEmpty(t, resp.ErrorMessage)
	assert.Equal(t, int64(0), curator.calls.Load())
	// failed不写缓存
	assert.Empty(t, cache.entries)
}

func TestFingerprintSensitivityProducesIndependentEntries(t *testing.T) {
	reqA := testRequest()
	reqB := testRequest()
	reqB.TargetJobTitle = "Staff Engineer"
	require.NotEqual(t, reqA.Fingerprint(), reqB.Fingerprint())

	analyzer := &fakeAnalyzer{result: &types.AnalysisResult{SkillGaps: testGaps()[:1]}}
	curator := &fakeCurator{resources: map[string][]types.Resource{
		"React": {testResource("https://a")},
	}}
	cache := newFakeCache()

	o := NewOrchestrator(analyzer, curator, &fakeJudge{}, testConfig(), WithCache(cache))

	o.Analyze(context.Background(), "job-a", reqA)
	o.Analyze(context.Background(), "job-b", reqB)

	assert.Equal(t, int64(2), analyzer.calls.Load(), "不同指纹不能互相命中缓存")
	assert.Len(t, cache.entries, 2)
}

func TestDeadlineCancellation(t *testing.T) {
	analyzer := &fakeAnalyzer{result: &types.AnalysisResult{SkillGaps: testGaps()}}
	curator := &fakeCurator{
		delay: func() time.Duration { return 10 * time.Second },
	}

	cfg := testConfig()
	cfg.RequestDeadlineSeconds = 1
	o := NewOrchestrator(analyzer, curator, &fakeJudge{}, cfg)

	start := time.Now()
	resp := o.Analyze(context.Background(), "job-deadline", testRequest())
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 3*time.Second, "编排器必须在截止时间加有界开销内返回")
	// 所有Curator调用都被取消，按部分失败策略降级
	assert.Equal(t, types.StatusPartial, resp.Status)
	assert.Len(t, resp.DegradedSkills, 3)
}

func TestJudgeFiltersAndDegrades(t *testing.T) {
	analyzer := &fakeAnalyzer{result: &types.AnalysisResult{SkillGaps: testGaps()[:2]}}
	curator := &fakeCurator{resources: map[string][]types.Resource{
		"React": {
			testResource("https://keep"),
			testResource("https://reject"),
			testResource("https://error"),
		},
		"Kubernetes": {
			testResource("https://all-fail"),
		},
	}}
	judge := &fakeJudge{
		verdicts: map[string]bool{
			"https://keep":   true,
			"https://reject": false,
		},
		errs: map[string]error{
			"https://error":    agent.NewError("judge", agent.FailureTimeout, context.DeadlineExceeded),
			"https://all-fail": agent.NewError("judge", agent.FailureToolError, fmt.Errorf("fetch failed")),
		},
	}

	o := NewOrchestrator(analyzer, curator, judge, testConfig())

	resp := o.Analyze(context.Background(), "job-judge", testRequest())
	require.Equal(t, types.StatusPartial, resp.Status)

	// 通过校验的资源保留且置位validated，被拒绝和失败的丢弃
	require.Len(t, resp.CuratedResources[0].Resources, 1)
	assert.Equal(t, "https://keep", resp.CuratedResources[0].Resources[0].URL)
	assert.True(t, resp.CuratedResources[0].Resources[0].Validated)

	// 资源因Judge失败全部丢弃的技能降级
	assert.Empty(t, resp.CuratedResources[1].Resources)
	assert.Equal(t, []string{"Kubernetes"}, resp.DegradedSkills)
}

func TestFanOutRespectsConcurrencyCap(t *testing.T) {
	gaps := make([]types.SkillGap, 12)
	resources := make(map[string][]types.Resource, len(gaps))
	for i := range gaps {
		name := fmt.Sprintf("skill-%d", i)
		gaps[i] = types.SkillGap{SkillName: name}
		resources[name] = []types.Resource{testResource("https://res/" + name)}
	}

	analyzer := &fakeAnalyzer{result: &types.AnalysisResult{SkillGaps: gaps}}
	curator := &fakeCurator{
		resources: resources,
		delay:     func() time.Duration { return 20 * time.Millisecond },
	}

	cfg := testConfig()
	cfg.MaxConcurrentAgents = 3
	o := NewOrchestrator(analyzer, curator, &fakeJudge{}, cfg)

	resp := o.Analyze(context.Background(), "job-cap", testRequest())
	require.Equal(t, types.StatusCompleted, resp.Status)
	assert.LessOrEqual(t, curator.maxInFlight.Load(), int64(3))
}

func TestCacheFaultDegradesToMiss(t *testing.T) {
	analyzer := &fakeAnalyzer{result: &types.AnalysisResult{SkillGaps: testGaps()[:1]}}
	curator := &fakeCurator{resources: map[string][]types.Resource{
		"React": {testResource("https://a")},
	}}
	cache := newFakeCache()
	cache.getErr = fmt.Errorf("connection refused")
	cache.putErr = fmt.Errorf("connection refused")

	o := NewOrchestrator(analyzer, curator, &fakeJudge{}, testConfig(), WithCache(cache))

	resp := o.Analyze(context.Background(), "job-cache-fault", testRequest())
	// 缓存故障绝不中断主流程
	assert.Equal(t, types.StatusCompleted, resp.Status)
	assert.Equal(t, int64(1), analyzer.calls.Load())
}
