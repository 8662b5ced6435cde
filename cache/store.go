// Package cache 实现两级答案缓存：精确键命中走 Redis，
// 未命中且有问题嵌入时回退到进程内语义索引的最近邻匹配。
// 条目严格按创建时间过期，命中不续期。
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/docqa/corpus"
	"github.com/BaSui01/docqa/types"
)

// ErrCacheMiss 缓存未命中。
var ErrCacheMiss = errors.New("cache miss")

// ScopeGlobal 全局范围条目可以命中任意范围的查询。
const ScopeGlobal = "global"

// HitKind 命中类型。
type HitKind string

const (
	HitExact    HitKind = "exact"
	HitSemantic HitKind = "semantic"
)

// Entry 缓存条目。
type Entry struct {
	Key        string        `json:"key"`
	Question   string        `json:"question"`
	Scope      string        `json:"scope"`
	Answer     types.Answer  `json:"answer"`
	Model      string        `json:"model,omitempty"`
	Embedding  []float64     `json:"embedding,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	LastAccess time.Time     `json:"last_access"`
	HitCount   int           `json:"hit_count"`
}

// Config 缓存策略配置。
type Config struct {
	// TTL 自创建起的过期时间，命中不续期
	TTL time.Duration `json:"ttl"`
	// SimilarityThreshold 语义命中所需的最小余弦相似度
	SimilarityThreshold float64 `json:"similarity_threshold"`
	// SemanticIndexSize 语义索引最大条目数
	SemanticIndexSize int `json:"semantic_index_size"`
}

// DefaultConfig 返回默认缓存配置。
func DefaultConfig() Config {
	return Config{
		TTL:                 24 * time.Hour,
		SimilarityThreshold: 0.92,
		SemanticIndexSize:   4096,
	}
}

// semanticEntry 语义索引中的一条记录。
type semanticEntry struct {
	key       string
	scope     string
	embedding []float64
	createdAt time.Time
}

// Store 两级答案缓存。
type Store struct {
	redis  *redis.Client
	cfg    Config
	logger *zap.Logger

	mu    sync.RWMutex
	index []semanticEntry
}

// NewStore 创建答案缓存。
func NewStore(rdb *redis.Client, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL == 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.92
	}
	if cfg.SemanticIndexSize == 0 {
		cfg.SemanticIndexSize = 4096
	}

	return &Store{
		redis:  rdb,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "answer_cache")),
	}
}

// Key 生成确定性缓存键：规范化问题文本 + 文档范围的 sha256。
func Key(question, scope string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(question))), " ")
	sum := sha256.Sum256([]byte(normalized + "|" + scope))
	return "docqa:answer:" + hex.EncodeToString(sum[:16])
}

// Lookup 查找缓存。先做精确键匹配，未命中且有嵌入时做语义最近邻。
// 命中时递增计数并更新最后访问时间，但不延长过期时间。
func (s *Store) Lookup(ctx context.Context, question, scope string, embedding []float64) (*Entry, HitKind, error) {
	entry, err := s.LookupExact(ctx, question, scope)
	if err == nil {
		return entry, HitExact, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return nil, "", err
	}

	// 语义回退
	if entry, err := s.LookupSemantic(ctx, scope, embedding); err == nil {
		return entry, HitSemantic, nil
	}

	return nil, "", ErrCacheMiss
}

// LookupExact 仅做精确键匹配。不需要问题嵌入，调用方可以先走这条
// 廉价路径，未命中再去生成嵌入。
func (s *Store) LookupExact(ctx context.Context, question, scope string) (*Entry, error) {
	entry, err := s.getEntry(ctx, Key(question, scope))
	if err != nil {
		return nil, err
	}
	s.touch(ctx, entry)
	return entry, nil
}

// LookupSemantic 仅做语义最近邻匹配。嵌入为空时直接未命中。
func (s *Store) LookupSemantic(ctx context.Context, scope string, embedding []float64) (*Entry, error) {
	if len(embedding) == 0 {
		return nil, ErrCacheMiss
	}
	entry := s.semanticLookup(ctx, scope, embedding)
	if entry == nil {
		return nil, ErrCacheMiss
	}
	s.touch(ctx, entry)
	return entry, nil
}

// Put 写入缓存条目并登记语义索引。
func (s *Store) Put(ctx context.Context, question, scope, model string, answer types.Answer, embedding []float64) error {
	now := time.Now()
	entry := &Entry{
		Key:        Key(question, scope),
		Question:   question,
		Scope:      scope,
		Answer:     answer,
		Model:      model,
		Embedding:  embedding,
		CreatedAt:  now,
		LastAccess: now,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, entry.Key, data, s.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}

	if len(embedding) > 0 {
		s.addToIndex(semanticEntry{
			key:       entry.Key,
			scope:     scope,
			embedding: embedding,
			createdAt: now,
		})
	}

	s.logger.Debug("answer cached",
		zap.String("key", entry.Key),
		zap.String("scope", scope))

	return nil
}

// getEntry 按键读取条目。
func (s *Store) getEntry(ctx context.Context, key string) (*Entry, error) {
	data, err := s.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get failed: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &entry, nil
}

// semanticLookup 在语义索引中找范围兼容的最近邻。
// 范围隔离不变量：非 global 条目只能命中创建时的同一范围。
func (s *Store) semanticLookup(ctx context.Context, scope string, embedding []float64) *Entry {
	s.mu.RLock()
	var bestKey string
	bestSim := 0.0
	now := time.Now()
	for i := range s.index {
		ie := &s.index[i]
		if ie.scope != scope && ie.scope != ScopeGlobal {
			continue
		}
		if now.Sub(ie.createdAt) > s.cfg.TTL {
			continue
		}
		sim := corpus.CosineSimilarity(embedding, ie.embedding)
		if sim >= s.cfg.SimilarityThreshold && sim > bestSim {
			bestSim = sim
			bestKey = ie.key
		}
	}
	s.mu.RUnlock()

	if bestKey == "" {
		return nil
	}

	entry, err := s.getEntry(ctx, bestKey)
	if err != nil {
		// Redis 侧已过期或丢失，索引条目留给淘汰处理
		return nil
	}

	// 双重检查：索引可能落后于实际条目
	if entry.Scope != scope && entry.Scope != ScopeGlobal {
		return nil
	}

	s.logger.Debug("semantic cache hit",
		zap.String("key", bestKey),
		zap.Float64("similarity", bestSim))

	return entry
}

// touch 命中后更新统计。保留原 TTL（KeepTTL），确保严格按创建时间过期。
func (s *Store) touch(ctx context.Context, entry *Entry) {
	entry.HitCount++
	entry.LastAccess = time.Now()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, entry.Key, data, redis.KeepTTL).Err(); err != nil {
		s.logger.Warn("cache touch failed", zap.Error(err))
	}
}

// addToIndex 登记语义索引，超出容量时淘汰最老条目。
func (s *Store) addToIndex(e semanticEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index = append(s.index, e)
	if len(s.index) > s.cfg.SemanticIndexSize {
		s.index = s.index[len(s.index)-s.cfg.SemanticIndexSize:]
	}
}

// IsMiss 判断是否为缓存未命中错误。
func IsMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
