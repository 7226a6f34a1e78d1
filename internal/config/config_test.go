package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 测试从YAML文件加载配置
func TestLoadConfigFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configContent := `
agent_service:
  api_key: "file_api_key"
  api_url: "https://example.com/v1/chat/completions"
  model: "qwen-max"
  task_models:
    analyzer: "qwen-max"
    curator: "qwen-plus"
  call_timeout: "45s"
  max_retries: 2
  qpm: 120

redis:
  address: "redis.example.com:6379"
  db: 3
  pool_size: 20
  cache_ttl_days: 14

orchestrator:
  max_concurrent_agents: 8
  request_deadline_seconds: 25
  similarity_threshold: 0.9
  enable_cache: true
  enable_judge: true

server:
  address: ":9090"
  api_keys:
    - "k1"
    - "k2"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfigFromFileOnly(configPath)
	require.NoError(t, err)

	assert.Equal(t, "file_api_key", cfg.AgentService.APIKey)
	assert.Equal(t, "qwen-max", cfg.AgentService.Model)
	assert.Equal(t, "45s", cfg.AgentService.CallTimeout)
	assert.Equal(t, 2, cfg.AgentService.MaxRetries)
	assert.Equal(t, 120, cfg.AgentService.QPM)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Address)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 14, cfg.Redis.CacheTTLDays)

	assert.Equal(t, 8, cfg.Orchestrator.MaxConcurrentAgents)
	assert.Equal(t, 25, cfg.Orchestrator.RequestDeadlineSeconds)
	assert.InDelta(t, 0.9, cfg.Orchestrator.SimilarityThreshold, 1e-9)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Len(t, cfg.Server.APIKeys, 2)
}

// 测试环境变量覆盖配置文件中的值
func TestLoadConfigEnvOverride(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configContent := `
agent_service:
  api_key: "file_api_key"
  model: "qwen-plus"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv("AGENT_SERVICE_API_KEY", "env_api_key")
	t.Setenv("AGENT_SERVICE_MODEL", "qwen-max")

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	// 环境变量应覆盖文件中的值
	assert.Equal(t, "env_api_key", cfg.AgentService.APIKey)
	assert.Equal(t, "qwen-max", cfg.AgentService.Model)
}

// 测试缺省字段的默认值填充
func TestApplyDefaults(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	// 最小配置，绝大多数字段缺省
	err := os.WriteFile(configPath, []byte("agent_service:\n  api_key: \"k\"\n"), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfigFromFileOnly(configPath)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "60s", cfg.AgentService.CallTimeout)
	assert.Equal(t, 3, cfg.AgentService.MaxRetries)
	assert.Equal(t, 5, cfg.Orchestrator.MaxConcurrentAgents)
	assert.Equal(t, 30, cfg.Orchestrator.RequestDeadlineSeconds)
	assert.Equal(t, 7, cfg.Redis.CacheTTLDays)
	assert.Equal(t, 1024, cfg.AgentService.Embedding.Dimensions)
}

// 测试任务专用模型的选择逻辑
func TestGetModelForTask(t *testing.T) {
	cfg := createDefaultConfig()
	cfg.AgentService.Model = "qwen-plus"
	cfg.AgentService.TaskModels = map[string]string{
		"analyzer": "qwen-max",
		"judge":    "",
	}

	assert.Equal(t, "qwen-max", cfg.GetModelForTask("analyzer"))
	// 空字符串视为未配置，回退到默认模型
	assert.Equal(t, "qwen-plus", cfg.GetModelForTask("judge"))
	assert.Equal(t, "qwen-plus", cfg.GetModelForTask("curator"))
}

// 测试时长解析工具函数
func TestGetDuration(t *testing.T) {
	assert.Equal(t, 45*time.Second, GetDuration("45s", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("not-a-duration", time.Minute))
}

// 测试不存在的配置文件
func TestLoadConfigFromFileOnlyMissing(t *testing.T) {
	_, err := LoadConfigFromFileOnly("/nonexistent/config.yaml")
	assert.Error(t, err)
}
