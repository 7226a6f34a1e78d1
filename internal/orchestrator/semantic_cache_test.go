package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"learn-agent-go/internal/storage"
	"learn-agent-go/internal/types"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vector []float64
	err    error
	calls  int
}

func (f *fakeEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

type fakeVectorDB struct {
	results   []storage.SearchResult
	searchErr error
	storeErr  error
	stored    map[string][]float64
}

func newFakeVectorDB() *fakeVectorDB {
	return &fakeVectorDB{stored: make(map[string][]float64)}
}

func (f *fakeVectorDB) StoreRequestVector(ctx context.Context, fingerprint string, vector []float64, payload map[string]interface{}) (string, error) {
	if f.storeErr != nil {
		return "", f.storeErr
	}
	f.stored[fingerprint] = vector
	return fingerprint, nil
}

func (f *fakeVectorDB) SearchSimilarRequests(ctx context.Context, queryVector []float64, limit int, scoreThreshold float64) ([]storage.SearchResult, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func TestSemanticCacheLookupReturnsFingerprint(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float64{0.1, 0.2, 0.3}}
	vectors := newFakeVectorDB()
	vectors.results = []storage.SearchResult{
		{ID: "p1", Score: 0.93, Payload: map[string]interface{}{"fingerprint": "fp-similar"}},
	}

	sc := NewSemanticCache(embedder, vectors, 0.85, 5)

	fp, ok := sc.Lookup(context.Background(), testRequest())
	require.True(t, ok)
	assert.Equal(t, "fp-similar", fp)
}

func TestSemanticCacheLookupAbsorbsFaults(t *testing.T) {
	// 向量化失败按未命中处理
	embedder := &fakeEmbedder{err: fmt.Errorf("embedding服务不可用")}
	sc := NewSemanticCache(embedder, newFakeVectorDB(), 0.85, 5)
	_, ok := sc.Lookup(context.Background(), testRequest())
	assert.False(t, ok)

	// 检索失败同样按未命中处理
	embedder = &fakeEmbedder{vector: []float64{0.1}}
	vectors := newFakeVectorDB()
	vectors.searchErr = fmt.Errorf("connection refused")
	sc = NewSemanticCache(embedder, vectors, 0.85, 5)
	_, ok = sc.Lookup(context.Background(), testRequest())
	assert.False(t, ok)

	// 结果缺少指纹载荷时不命中
	vectors = newFakeVectorDB()
	vectors.results = []storage.SearchResult{{ID: "p1", Score: 0.9, Payload: map[string]interface{}{}}}
	sc = NewSemanticCache(embedder, vectors, 0.85, 5)
	_, ok = sc.Lookup(context.Background(), testRequest())
	assert.False(t, ok)
}

func TestSemanticCacheStore(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float64{0.5, 0.5}}
	vectors := newFakeVectorDB()

	sc := NewSemanticCache(embedder, vectors, 0.85, 5)
	sc.Store(context.Background(), testRequest(), "fp-1")
	assert.Contains(t, vectors.stored, "fp-1")

	// 写入失败只记日志，不影响调用方
	vectors.storeErr = fmt.Errorf("qdrant写入失败")
	sc.Store(context.Background(), testRequest(), "fp-2")
	assert.NotContains(t, vectors.stored, "fp-2")
}

func TestSemanticCacheHitServesExactEntry(t *testing.T) {
	// 语义命中映射到的指纹必须仍能在精确缓存中取到条目
	reqA := testRequest()
	reqB := testRequest()
	reqB.ResumeText = reqA.ResumeText + " (updated)"
	require.NotEqual(t, reqA.Fingerprint(), reqB.Fingerprint())

	analyzer := &fakeAnalyzer{result: &types.AnalysisResult{SkillGaps: testGaps()[:1]}}
	curator := &fakeCurator{resources: map[string][]types.Resource{
		"React": {testResource("https://a")},
	}}
	cache := newFakeCache()

	embedder := &fakeEmbedder{vector: []float64{0.1, 0.2}}
	vectors := newFakeVectorDB()

	cfg := testConfig()
	cfg.EnableSemanticCache = true
	o := NewOrchestrator(analyzer, curator, &fakeJudge{}, cfg,
		WithCache(cache),
		WithSemanticCache(NewSemanticCache(embedder, vectors, 0.85, 5)))

	first := o.Analyze(context.Background(), "job-a", reqA)
	require.Equal(t, types.StatusCompleted, first.Status)

	// 第二个请求指纹不同，但语义检索指回第一个请求的指纹
	vectors.results = []storage.SearchResult{
		{ID: "p1", Score: 0.91, Payload: map[string]interface{}{"fingerprint": reqA.Fingerprint()}},
	}
	second := o.Analyze(context.Background(), "job-b", reqB)
	assert.Equal(t, types.StatusCompleted, second.Status)
	assert.Equal(t, first.CuratedResources, second.CuratedResources)
	assert.Equal(t, int64(1), analyzer.calls.Load(), "语义命中不应触发新的Analyzer调用")
	assert.Equal(t, int64(1), o.Metrics().SemanticCacheHits.Load())
}
