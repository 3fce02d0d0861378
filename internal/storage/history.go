package storage

import (
	"context"
	"time"

	ilog "multireq/internal/logger"
	"multireq/pkg/engine"
	"multireq/pkg/traffic"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type runIDKey struct{}

// WithRunID 在上下文中附加批次ID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom 从上下文读取批次ID
func RunIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// TransferRecord 一次已完成传输的元数据，不包含响应头与响应体
type TransferRecord struct {
	ID           uint   `gorm:"primaryKey"`
	RequestID    string `gorm:"size:36;index"`
	RunID        string `gorm:"size:36;index"`
	Method       string `gorm:"size:16"`
	URL          string
	StatusCode   int
	ErrorCode    int
	ErrorMessage string
	Hops         int
	BodySize     int
	TotalTimeMS  float64
	CreatedAt    time.Time
}

// History 基于 sqlite 的传输历史
type History struct {
	db    *gorm.DB
	runID string
}

// Options 历史存储配置
type Options struct {
	Dsn    string
	Prefix string
	Logger ilog.Logger
}

// OpenHistory 打开（必要时创建）历史库
func OpenHistory(opts Options) (*History, error) {
	l := opts.Logger
	if l == nil {
		l = ilog.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(opts.Dsn), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: opts.Prefix},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open history %s", opts.Dsn)
	}
	if err := db.AutoMigrate(&TransferRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate history")
	}
	return &History{db: db}, nil
}

// ForRun 返回写入时附带批次ID的历史视图
func (h *History) ForRun(runID string) *History {
	return &History{db: h.db, runID: runID}
}

// Record 记录一个已完成的请求
func (h *History) Record(ctx context.Context, req *traffic.Request) error {
	resp := req.Response()
	runID := h.runID
	if runID == "" {
		runID = RunIDFrom(ctx)
	}
	rec := &TransferRecord{
		RequestID:    req.ID,
		RunID:        runID,
		Method:       req.Method,
		URL:          req.URL,
		StatusCode:   resp.StatusCode,
		ErrorCode:    int(resp.ErrorCode),
		ErrorMessage: resp.ErrorMessage,
		Hops:         len(resp.Headers),
		BodySize:     len(resp.Content),
	}
	if secs, ok := req.Transfer().Info(engine.InfoTotalTime).(float64); ok {
		rec.TotalTimeMS = secs * 1000
	}
	if err := h.db.WithContext(WithRunID(ctx, runID)).Create(rec).Error; err != nil {
		return errors.Wrapf(err, "record request %s", req.ID)
	}
	return nil
}

// ListRun 按写入顺序返回某批次的记录
func (h *History) ListRun(ctx context.Context, runID string) ([]TransferRecord, error) {
	var out []TransferRecord
	err := h.db.WithContext(WithRunID(ctx, runID)).
		Where("run_id = ?", runID).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list run %s", runID)
	}
	return out, nil
}

// Close 关闭底层连接
func (h *History) Close() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return errors.Wrap(err, "history db handle")
	}
	return sqlDB.Close()
}
