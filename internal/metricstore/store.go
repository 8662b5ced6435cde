// Package metricstore persists per-query retrieval metrics for offline
// quality analysis. This package is internal and should not be imported
// by external projects.
package metricstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 🗄️ 检索质量指标存储
// =============================================================================

// Record 一次查询的检索质量快照，只追加不更新。
type Record struct {
	ID        uint      `gorm:"primaryKey"`
	RequestID string    `gorm:"size:64;index"`
	CreatedAt time.Time `gorm:"index"`

	Complexity string `gorm:"size:16"`
	QueryType  string `gorm:"size:16"`
	Strategy   string `gorm:"size:16"`

	VariantsSucceeded int
	CandidatesFused   int
	TopScore          float64
	AvgScore          float64
	// TopicCoverage 查询主题被候选覆盖的比例
	TopicCoverage float64
	// TopicDiversity 金集中的不同主题数
	TopicDiversity int
	Confidence     float64
	CacheHit       string `gorm:"size:16"`
	// Topics 逗号连接的查询主题
	Topics string `gorm:"size:256"`
}

// TableName 指定表名。
func (Record) TableName() string {
	return "retrieval_metrics"
}

// Store 指标存储。
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open 打开（或创建）SQLite 指标库并迁移表结构。
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open metric store: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate metric store: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "metricstore")),
	}, nil
}

// NewWithDB 用现成的 GORM 连接创建存储，测试用。
func NewWithDB(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate metric store: %w", err)
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "metricstore"))}, nil
}

// Append 追加一条记录。写入失败只记日志——指标落库绝不影响请求。
func (s *Store) Append(ctx context.Context, rec Record) {
	rec.ID = 0
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		s.logger.Warn("metric record write failed",
			zap.String("request_id", rec.RequestID),
			zap.Error(err))
	}
}

// Recent 返回最近 n 条记录，新的在前。
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	var records []Record
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(n).
		Find(&records).Error
	return records, err
}

// JoinTopics 把主题列表编码为存储格式。
func JoinTopics(topics []string) string {
	return strings.Join(topics, ",")
}

// Close 关闭底层连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
