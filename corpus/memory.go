package corpus

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// MemoryStoreConfig 配置内存语料存储。
type MemoryStoreConfig struct {
	// BM25 参数
	BM25K1 float64 `json:"bm25_k1"` // 1.2-2.0
	BM25B  float64 `json:"bm25_b"`  // 0.75

	// 渐进主题加权乘数
	TopicBoostSingle float64 `json:"topic_boost_single"` // 匹配 1 个主题
	TopicBoostMulti  float64 `json:"topic_boost_multi"`  // 匹配 2+ 个主题
}

// DefaultMemoryStoreConfig 返回默认配置。
func DefaultMemoryStoreConfig() MemoryStoreConfig {
	return MemoryStoreConfig{
		BM25K1:           1.5,
		BM25B:            0.75,
		TopicBoostSingle: 1.3,
		TopicBoostMulti:  1.5,
	}
}

// MemoryStore 内存语料存储，同时实现 Searcher 和 Hierarchy。
// 关键词侧使用 BM25，语义侧使用余弦相似度，两路 Min-Max 归一后加权合并，
// 最后按渐进主题乘数加权。适用于测试与本地开发。
type MemoryStore struct {
	cfg    MemoryStoreConfig
	logger *zap.Logger

	mu        sync.RWMutex
	fragments []Fragment
	assets    []Asset

	// BM25 统计
	avgDocLen float64
	docLens   []int
	idf       map[string]float64
}

// NewMemoryStore 创建内存语料存储。
func NewMemoryStore(cfg MemoryStoreConfig, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		cfg:    cfg,
		idf:    make(map[string]float64),
		logger: logger.With(zap.String("component", "corpus_memory")),
	}
}

// Index 索引片段并重建 BM25 统计。
func (s *MemoryStore) Index(fragments []Fragment, assets []Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fragments = fragments
	s.assets = assets
	s.computeBM25Stats()

	s.logger.Info("fragments indexed",
		zap.Int("fragments", len(fragments)),
		zap.Int("assets", len(assets)))
}

// HybridSearch 执行混合检索。
func (s *MemoryStore) HybridSearch(ctx context.Context, q HybridQuery) ([]SearchCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keywordScores := s.bm25Scores(q.Text)
	semanticScores := s.cosineScores(q.Embedding)

	keywordNorm := normalizeScores(keywordScores)
	semanticNorm := normalizeScores(semanticScores)

	candidates := make([]SearchCandidate, 0, len(s.fragments))
	for i := range s.fragments {
		frag := &s.fragments[i]

		// 范围过滤
		if q.Scope != "" && frag.SourceID != q.Scope {
			continue
		}
		// 显式主题排除是唯一的硬过滤
		if matchesAny(frag.Topics, q.ExcludeTopics) {
			continue
		}

		kw := keywordNorm[frag.ID]
		sem := semanticNorm[frag.ID]
		base := kw*q.KeywordWeight + sem*q.SemanticWeight
		if base <= 0 {
			continue
		}

		boost := s.topicBoost(frag.Topics, q.IncludeTopics)

		candidates = append(candidates, SearchCandidate{
			Fragment:      *frag,
			SemanticScore: sem,
			KeywordScore:  kw,
			TopicBoost:    boost,
			Score:         base * boost,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if q.TopK > 0 && len(candidates) > q.TopK {
		candidates = candidates[:q.TopK]
	}

	return candidates, nil
}

// SiblingsAndParent 返回片段的前后兄弟与父章节片段。
// 兄弟关系按同一 SourceID 内的索引顺序近似。
func (s *MemoryStore) SiblingsAndParent(ctx context.Context, fragmentID string, window int) ([]Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// 收集同一来源的片段，保持索引顺序
	var sourceID string
	pos := -1
	var siblings []Fragment
	for i := range s.fragments {
		if s.fragments[i].ID == fragmentID {
			sourceID = s.fragments[i].SourceID
			break
		}
	}
	if sourceID == "" {
		return nil, nil
	}
	for i := range s.fragments {
		if s.fragments[i].SourceID != sourceID {
			continue
		}
		if s.fragments[i].ID == fragmentID {
			pos = len(siblings)
		}
		siblings = append(siblings, s.fragments[i])
	}
	if pos < 0 {
		return nil, nil
	}

	result := make([]Fragment, 0, window*2+1)
	for i := pos - window; i <= pos+window; i++ {
		if i < 0 || i >= len(siblings) || i == pos {
			continue
		}
		result = append(result, siblings[i])
	}

	// 父章节：章节路径去掉最后一级后的首个片段
	parentPath := parentSectionPath(siblings[pos].Position.SectionPath)
	if parentPath != "" {
		for i := range siblings {
			if siblings[i].Position.SectionPath == parentPath {
				result = append(result, siblings[i])
				break
			}
		}
	}

	return result, nil
}

// AttachedAssets 返回落在章节内的图片与表格。
func (s *MemoryStore) AttachedAssets(ctx context.Context, sectionPath string) ([]Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Asset
	for _, a := range s.assets {
		if a.SectionPath == sectionPath || strings.HasPrefix(a.SectionPath, sectionPath+"/") {
			result = append(result, a)
		}
	}
	return result, nil
}

// =============================================================================
// BM25 与相似度
// =============================================================================

// computeBM25Stats 计算 BM25 统计信息。调用方持有写锁。
func (s *MemoryStore) computeBM25Stats() {
	totalLen := 0
	s.docLens = make([]int, len(s.fragments))
	s.idf = make(map[string]float64)
	termDocCount := make(map[string]int)

	for i, frag := range s.fragments {
		terms := tokenize(frag.Content)
		s.docLens[i] = len(terms)
		totalLen += len(terms)

		seen := make(map[string]bool)
		for _, term := range terms {
			if !seen[term] {
				termDocCount[term]++
				seen[term] = true
			}
		}
	}

	if len(s.fragments) > 0 {
		s.avgDocLen = float64(totalLen) / float64(len(s.fragments))
	}

	n := float64(len(s.fragments))
	for term, df := range termDocCount {
		s.idf[term] = math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1.0)
	}
}

// bm25Scores 计算查询对每个片段的 BM25 分数。
func (s *MemoryStore) bm25Scores(query string) map[string]float64 {
	queryTerms := tokenize(query)
	scores := make(map[string]float64)

	for i, frag := range s.fragments {
		docTerms := tokenize(frag.Content)
		termFreq := make(map[string]int)
		for _, term := range docTerms {
			termFreq[term]++
		}

		score := 0.0
		docLen := float64(s.docLens[i])

		for _, qTerm := range queryTerms {
			tf, ok := termFreq[qTerm]
			if !ok {
				continue
			}
			idf := s.idf[qTerm]
			numerator := float64(tf) * (s.cfg.BM25K1 + 1.0)
			denominator := float64(tf) + s.cfg.BM25K1*(1.0-s.cfg.BM25B+s.cfg.BM25B*(docLen/s.avgDocLen))
			score += idf * (numerator / denominator)
		}

		if score > 0 {
			scores[frag.ID] = score
		}
	}

	return scores
}

// cosineScores 计算查询嵌入对每个片段的余弦相似度。
func (s *MemoryStore) cosineScores(queryEmbedding []float64) map[string]float64 {
	scores := make(map[string]float64)
	if len(queryEmbedding) == 0 {
		return scores
	}

	for _, frag := range s.fragments {
		if len(frag.Embedding) == 0 {
			continue
		}
		if sim := CosineSimilarity(queryEmbedding, frag.Embedding); sim > 0 {
			scores[frag.ID] = sim
		}
	}

	return scores
}

// topicBoost 返回渐进主题加权乘数。
func (s *MemoryStore) topicBoost(fragTopics, queryTopics []string) float64 {
	matches := 0
	for _, qt := range queryTopics {
		for _, ft := range fragTopics {
			if strings.EqualFold(qt, ft) {
				matches++
				break
			}
		}
	}

	switch {
	case matches >= 2:
		return s.cfg.TopicBoostMulti
	case matches == 1:
		return s.cfg.TopicBoostSingle
	default:
		return 1.0
	}
}

// CosineSimilarity 计算两个向量的余弦相似度。
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// normalizeScores Min-Max 归一化。
func normalizeScores(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return scores
	}

	minScore := math.MaxFloat64
	maxScore := -math.MaxFloat64
	for _, score := range scores {
		if score < minScore {
			minScore = score
		}
		if score > maxScore {
			maxScore = score
		}
	}

	normalized := make(map[string]float64, len(scores))
	scoreRange := maxScore - minScore

	if scoreRange == 0 {
		// 所有分数相同
		for id := range scores {
			normalized[id] = 1.0
		}
		return normalized
	}

	for id, score := range scores {
		normalized[id] = (score - minScore) / scoreRange
	}
	return normalized
}

// matchesAny 判断 topics 是否包含 excluded 中任一主题。
func matchesAny(topics, excluded []string) bool {
	for _, e := range excluded {
		for _, t := range topics {
			if strings.EqualFold(e, t) {
				return true
			}
		}
	}
	return false
}

// parentSectionPath 返回章节路径去掉最后一级的结果。
func parentSectionPath(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}

// tokenize 分词：转小写并按空白分割。
func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
