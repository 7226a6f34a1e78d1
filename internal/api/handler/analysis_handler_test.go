package handler_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"learn-agent-go/internal/api/handler"
	"learn-agent-go/internal/api/router"
	"learn-agent-go/internal/config"
	"learn-agent-go/internal/orchestrator"
	"learn-agent-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAnalyzer struct {
	result *types.AnalysisResult
}

func (s *stubAnalyzer) Analyze(ctx context.Context, req *types.AnalysisRequest) (*types.AnalysisResult, error) {
	return s.result, nil
}

type stubCurator struct {
	resources map[string][]types.Resource
}

func (s *stubCurator) CurateSkill(ctx context.Context, gap types.SkillGap, filters types.ResourceFilters) ([]types.Resource, error) {
	return s.resources[gap.SkillName], nil
}

type stubJudge struct{}

func (s *stubJudge) ValidateResource(ctx context.Context, skillName string, res types.Resource) (bool, error) {
	return true, nil
}

func newTestHandler() *handler.AnalysisHandler {
	orch := orchestrator.NewOrchestrator(
		&stubAnalyzer{result: &types.AnalysisResult{
			SkillGaps: []types.SkillGap{
				{SkillName: "React", Priority: types.PriorityHigh},
				{SkillName: "Kubernetes", Priority: types.PriorityMedium},
			},
		}},
		&stubCurator{resources: map[string][]types.Resource{
			"React": {{
				URL:          "https://react.dev/learn",
				Title:        "React官方教程",
				ResourceType: types.ResourceTutorial,
				IsFree:       true,
			}},
			"Kubernetes": {{
				URL:          "https://kubernetes.io/docs/tutorials/",
				Title:        "Kubernetes官方教程",
				ResourceType: types.ResourceTutorial,
				IsFree:       true,
			}},
		}},
		&stubJudge{},
		config.OrchestratorConfig{
			MaxConcurrentAgents:    3,
			RequestDeadlineSeconds: 30,
			EnableJudge:            true,
		},
	)

	cfg := &config.Config{}
	return handler.NewAnalysisHandler(cfg, nil, orch, nil)
}

func newTestEngine(t *testing.T, apiKeys []string) *server.Hertz {
	t.Helper()
	h := server.New(server.WithHostPorts("127.0.0.1:0"))
	router.RegisterRoutes(h, newTestHandler(), apiKeys)
	return h
}

func analyzeBody() string {
	return `{
		"resume_text": "Python, Flask, PostgreSQL",
		"job_description": "Needs React, Kubernetes",
		"target_job_title": "Senior Full Stack Engineer",
		"filters": {"free_only": true, "max_duration_hours": 100, "resource_types": ["course", "tutorial"]}
	}`
}

func TestAnalyzeEndpoint(t *testing.T) {
	engine := newTestEngine(t, nil)

	body := analyzeBody()
	resp := ut.PerformRequest(engine.Engine, "POST", "/api/v1/analyze",
		&ut.Body{Body: strings.NewReader(body), Len: len(body)},
		ut.Header{Key: "Content-Type", Value: "application/json"},
	)
	require.Equal(t, 200, resp.Code)

	var result types.AnalysisResponse
	require.NoError(t, json.Unmarshal(resp.Result().Body(), &result))
	assert.Equal(t, types.StatusCompleted, result.Status)
	assert.NotEmpty(t, result.JobID)
	require.Len(t, result.CuratedResources, 2)
	assert.Equal(t, "React", result.CuratedResources[0].SkillName)
	assert.Equal(t, "Kubernetes", result.CuratedResources[1].SkillName)
	assert.True(t, result.CuratedResources[0].Resources[0].Validated)
}

func TestAnalyzeEndpointRejectsInvalidRequest(t *testing.T) {
	engine := newTestEngine(t, nil)

	body := `{"resume_text": "", "job_description": "jd", "target_job_title": "title"}`
	resp := ut.PerformRequest(engine.Engine, "POST", "/api/v1/analyze",
		&ut.Body{Body: strings.NewReader(body), Len: len(body)},
		ut.Header{Key: "Content-Type", Value: "application/json"},
	)
	assert.Equal(t, 400, resp.Code)
}

func TestAnalyzeEndpointWithAPIKey(t *testing.T) {
	engine := newTestEngine(t, []string{"secret-key"})

	body := analyzeBody()

	// 无API Key被拒绝
	resp := ut.PerformRequest(engine.Engine, "POST", "/api/v1/analyze",
		&ut.Body{Body: strings.NewReader(body), Len: len(body)},
		ut.Header{Key: "Content-Type", Value: "application/json"},
	)
	assert.NotEqual(t, 200, resp.Code)

	// 携带正确API Key放行
	resp = ut.PerformRequest(engine.Engine, "POST", "/api/v1/analyze",
		&ut.Body{Body: strings.NewReader(body), Len: len(body)},
		ut.Header{Key: "Content-Type", Value: "application/json"},
		ut.Header{Key: "X-API-Key", Value: "secret-key"},
	)
	assert.Equal(t, 200, resp.Code)

	// 健康检查不受鉴权影响
	resp = ut.PerformRequest(engine.Engine, "GET", "/health", nil)
	assert.Equal(t, 200, resp.Code)
}

func TestFeedbackEndpointValidation(t *testing.T) {
	engine := newTestEngine(t, nil)

	// rating超出范围
	body := `{"job_id": "j1", "skill_name": "React", "resource_url": "https://a", "rating": 9}`
	resp := ut.PerformRequest(engine.Engine, "POST", "/api/v1/feedback",
		&ut.Body{Body: strings.NewReader(body), Len: len(body)},
		ut.Header{Key: "Content-Type", Value: "application/json"},
	)
	assert.Equal(t, 400, resp.Code)
}

func TestJobQueryNotFound(t *testing.T) {
	engine := newTestEngine(t, nil)

	resp := ut.PerformRequest(engine.Engine, "GET", "/api/v1/jobs/nonexistent", nil)
	assert.Equal(t, 404, resp.Code)
}

func TestFeedbackListUnavailableWithoutHistoryDB(t *testing.T) {
	engine := newTestEngine(t, nil)

	resp := ut.PerformRequest(engine.Engine, "GET", "/api/v1/feedback/React", nil)
	assert.Equal(t, 400, resp.Code)
}

func TestResumeArchiveUnavailableWithoutStorage(t *testing.T) {
	engine := newTestEngine(t, nil)

	resp := ut.PerformRequest(engine.Engine, "GET", "/api/v1/jobs/j1/resume", nil)
	assert.Equal(t, 404, resp.Code)

	resp = ut.PerformRequest(engine.Engine, "GET", "/api/v1/jobs/j1/resume?presign=true", nil)
	assert.Equal(t, 404, resp.Code)

	resp = ut.PerformRequest(engine.Engine, "DELETE", "/api/v1/jobs/j1/resume", nil)
	assert.Equal(t, 404, resp.Code)
}
