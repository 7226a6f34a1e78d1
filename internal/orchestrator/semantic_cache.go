package orchestrator

import (
	"context"
	"time"

	"learn-agent-go/internal/logger"
	"learn-agent-go/internal/storage"
	"learn-agent-go/internal/types"

	"github.com/cloudwego/eino/components/embedding"
)

// SemanticCache 基于请求向量相似度的缓存查找。
// 只负责把相似请求映射回指纹，实际条目仍从精确缓存读取，
// 因此任何故障都只是少了一次命中机会，不影响主流程。
type SemanticCache struct {
	embedder    embedding.Embedder
	vectors     storage.VectorDatabase
	threshold   float64
	searchLimit int
}

// NewSemanticCache 创建语义缓存
func NewSemanticCache(embedder embedding.Embedder, vectors storage.VectorDatabase, threshold float64, searchLimit int) *SemanticCache {
	if threshold <= 0 {
		threshold = 0.85
	}
	if searchLimit <= 0 {
		searchLimit = 5
	}
	return &SemanticCache{
		embedder:    embedder,
		vectors:     vectors,
		threshold:   threshold,
		searchLimit: searchLimit,
	}
}

// embeddingInput 请求参与向量化的文本表示
func embeddingInput(req *types.AnalysisRequest) string {
	return req.TargetJobTitle + "\n" + req.ResumeText + "\n" + req.JobDescription
}

// Lookup 查找与请求足够相似的历史请求，返回其指纹。
// 向量化或检索失败一律按未命中处理。
func (s *SemanticCache) Lookup(ctx context.Context, req *types.AnalysisRequest) (string, bool) {
	embeddings, err := s.embedder.EmbedStrings(ctx, []string{embeddingInput(req)})
	if err != nil || len(embeddings) == 0 {
		logger.Warn().Err(err).Msg("语义缓存向量化失败, 按未命中处理")
		return "", false
	}

	results, err := s.vectors.SearchSimilarRequests(ctx, embeddings[0], s.searchLimit, s.threshold)
	if err != nil {
		logger.Warn().Err(err).Msg("语义缓存检索失败, 按未命中处理")
		return "", false
	}

	for _, r := range results {
		if fp, ok := r.Payload["fingerprint"].(string); ok && fp != "" {
			logger.Debug().Str("fingerprint", fp).Float32("score", r.Score).Msg("语义缓存命中候选")
			return fp, true
		}
	}
	return "", false
}

// Store 把本次请求的向量写入索引，供后续相似查找。
// 写入失败只记日志。
func (s *SemanticCache) Store(ctx context.Context, req *types.AnalysisRequest, fingerprint string) {
	ctx = context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	embeddings, err := s.embedder.EmbedStrings(ctx, []string{embeddingInput(req)})
	if err != nil || len(embeddings) == 0 {
		logger.Warn().Err(err).Msg("语义缓存向量化失败, 跳过写入")
		return
	}

	payload := map[string]interface{}{
		"target_job_title": req.TargetJobTitle,
	}
	if _, err := s.vectors.StoreRequestVector(ctx, fingerprint, embeddings[0], payload); err != nil {
		logger.Warn().Err(err).Str("fingerprint", fingerprint).Msg("语义缓存写入失败")
	}
}
