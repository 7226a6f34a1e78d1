package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"learn-agent-go/internal/logger"
)

const (
	// 默认的OpenAI兼容接口地址 (DashScope)
	defaultCompatAPIURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	defaultModelName    = "qwen-plus"
)

// --- OpenAI 兼容结构 ---

type openAIToolFunctionParams struct {
	Type       string                 `json:"type"` // 通常为 "object"
	Properties map[string]interface{} `json:"properties"`
	Required   []string               `json:"required,omitempty"`
}

type openAIFunction struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Parameters  openAIToolFunctionParams `json:"parameters"`
}

type openAITool struct {
	Type     string         `json:"type"` // 必须为 "function"
	Function openAIFunction `json:"function"`
}

type openAIChatCompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []*schema.Message `json:"messages"` // eino的schema.Message与OpenAI消息结构兼容
	Tools       []openAITool      `json:"tools,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role      string               `json:"role"`
	Content   *string              `json:"content"` // 存在tool_calls时content可能为null
	ToolCalls []openAIToolCallData `json:"tool_calls,omitempty"`
}

type openAIToolCallData struct {
	Id       string `json:"id"`
	Type     string `json:"type"` // 应为 "function"
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"` // 参数的JSON字符串
	} `json:"function"`
}

type openAIChatChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAICompletionResponse struct {
	Id      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []openAIChatChoice `json:"choices"`
}

// CompatChatModel 通过OpenAI兼容接口访问外部自治Agent服务，
// 实现 model.ToolCallingChatModel 接口。
// Agent服务自带联网搜索、网页抓取和代码执行能力，对本服务是黑盒。
type CompatChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	maxTokens   int
	temperature *float64
	httpClient  *http.Client
	boundTools  []openAITool
}

// CompatChatModelOption CompatChatModel的配置选项
type CompatChatModelOption func(*CompatChatModel)

// WithMaxTokens 设置单次生成的最大token数
func WithMaxTokens(n int) CompatChatModelOption {
	return func(m *CompatChatModel) {
		m.maxTokens = n
	}
}

// WithTemperature 设置采样温度
func WithTemperature(t float64) CompatChatModelOption {
	return func(m *CompatChatModel) {
		m.temperature = &t
	}
}

// WithHTTPClient 替换默认的HTTP客户端
func WithHTTPClient(c *http.Client) CompatChatModelOption {
	return func(m *CompatChatModel) {
		m.httpClient = c
	}
}

// NewCompatChatModel 创建一个新的OpenAI兼容模型客户端
func NewCompatChatModel(apiKey, modelName, apiURL string, opts ...CompatChatModelOption) (*CompatChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}

	mn := modelName
	if strings.TrimSpace(mn) == "" {
		mn = defaultModelName
	}

	url := apiURL
	if strings.TrimSpace(url) == "" {
		url = defaultCompatAPIURL
	}

	m := &CompatChatModel{
		apiKey:     apiKey,
		modelName:  mn,
		apiURL:     url,
		httpClient: &http.Client{},
		boundTools: make([]openAITool, 0),
	}
	for _, opt := range opts {
		opt(m)
	}

	logger.Info().
		Str("api_url", url).
		Str("model", mn).
		Msg("初始化OpenAI兼容Agent模型客户端")

	return m, nil
}

// Generate 实现 model.ChatModel 接口，发起一次同步补全调用
func (m *CompatChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	reqPayload := openAIChatCompletionRequest{
		Model:       m.modelName,
		Messages:    messages,
		MaxTokens:   m.maxTokens,
		Temperature: m.temperature,
	}

	if len(m.boundTools) > 0 {
		reqPayload.Tools = m.boundTools
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	logger.Debug().
		Str("api_url", m.apiURL).
		Str("model", m.modelName).
		Int("message_count", len(messages)).
		Msg("发送Agent补全请求")

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("API请求失败，状态 %s: %s", httpResp.Status, string(bodyBytes))
		return nil, ClassifyHTTPStatus("", httpResp.StatusCode, apiErr)
	}

	var openAIResp openAICompletionResponse
	if err := json.Unmarshal(bodyBytes, &openAIResp); err != nil {
		return nil, fmt.Errorf("反序列化API响应失败: %w", err)
	}

	if len(openAIResp.Choices) == 0 {
		return nil, fmt.Errorf("API返回空选项")
	}

	apiMessage := openAIResp.Choices[0].Message
	responseContent := ""
	if apiMessage.Content != nil {
		responseContent = *apiMessage.Content
	}

	resultMessage := &schema.Message{
		Role:    schema.RoleType(apiMessage.Role),
		Content: responseContent,
	}

	if len(apiMessage.ToolCalls) > 0 {
		resultMessage.ToolCalls = make([]schema.ToolCall, len(apiMessage.ToolCalls))
		for i, tc := range apiMessage.ToolCalls {
			resultMessage.ToolCalls[i] = schema.ToolCall{
				ID: tc.Id,
				Function: schema.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			}
		}
	}

	if resultMessage.Role == "" {
		resultMessage.Role = schema.RoleType("assistant")
	}

	return resultMessage, nil
}

// Stream 实现 model.ChatModel 接口。
// 编排流程只消费完整的结构化输出，流式接口未启用。
func (m *CompatChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("CompatChatModel 的 Stream 方法未实现")
}

// BindTools 实现 model.ChatModel 接口。
// 外部Agent服务的工具（搜索、抓取、代码执行）由服务端自管，
// 这里仅透传工具名称和描述，参数schema统一为空对象。
func (m *CompatChatModel) BindTools(tools []*schema.ToolInfo) error {
	m.boundTools = make([]openAITool, 0, len(tools))
	for _, toolInfo := range tools {
		if toolInfo == nil {
			continue
		}

		m.boundTools = append(m.boundTools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        toolInfo.Name,
				Description: toolInfo.Desc,
				Parameters: openAIToolFunctionParams{
					Type:       "object",
					Properties: map[string]interface{}{},
				},
			},
		})
	}

	logger.Debug().Int("tool_count", len(m.boundTools)).Msg("已绑定工具")
	return nil
}

// WithTools 实现 model.ToolCallingChatModel 接口
func (m *CompatChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	clone := *m
	clone.boundTools = nil
	if err := clone.BindTools(tools); err != nil {
		return nil, err
	}
	return &clone, nil
}

var _ model.ChatModel = (*CompatChatModel)(nil)
var _ model.ToolCallingChatModel = (*CompatChatModel)(nil)
