// Package runner 将批量文件中的请求提交给调度器并汇总结果
package runner

import (
	"context"
	"time"

	"multireq/internal/adapter/batch"
	"multireq/internal/logger"
	"multireq/internal/manager"
	"multireq/internal/rules"
	"multireq/internal/storage"
	"multireq/pkg/engine"
	"multireq/pkg/model"
	"multireq/pkg/traffic"

	"github.com/google/uuid"
)

// Config 配置选项
type Config struct {
	ParallelLimit  int // 批量文件未指定 parallel 时使用
	DefaultTimeout int // 批量文件与请求都未指定超时时使用
	Logger         logger.Logger
	History        *storage.History
	// NewEngine 为空时由调度器创建默认引擎
	NewEngine func() manager.Engine
}

// Runner 批量执行器
type Runner struct {
	cfg Config
	log logger.Logger
}

// New 创建批量执行器
func New(cfg Config) *Runner {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Runner{cfg: cfg, log: l}
}

// Run 执行一个批次并等待全部请求结束
func (r *Runner) Run(ctx context.Context, b *model.Batch) (*model.RunSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := r.log.With("runID", runID)

	mcfg := manager.Config{ParallelLimit: b.Parallel, Logger: log}
	if mcfg.ParallelLimit == 0 {
		mcfg.ParallelLimit = r.cfg.ParallelLimit
	}
	if r.cfg.History != nil {
		mcfg.Recorder = r.cfg.History.ForRun(runID)
	}
	if r.cfg.NewEngine != nil {
		mcfg.Engine = r.cfg.NewEngine()
	}
	m := manager.New(mcfg)
	defer m.Close()

	timeout := b.Timeout
	if timeout == 0 {
		timeout = r.cfg.DefaultTimeout
	}

	ruleEngine := rules.New(b.Rules)
	matched := make(map[string]model.RuleID, len(b.Requests))
	completed := make(map[string]bool, len(b.Requests))
	reqs := make([]*traffic.Request, 0, len(b.Requests))
	defer func() {
		for _, req := range reqs {
			_ = req.Close()
		}
	}()
	for _, spec := range b.Requests {
		req := batch.ToRequest(spec, timeout)
		if rule := ruleEngine.Apply(req); rule != nil {
			matched[req.ID] = rule.ID
			log.Debug("请求命中规则", "url", req.URL, "ruleID", string(rule.ID))
		}
		req.OnComplete = func(req *traffic.Request) {
			completed[req.ID] = true
			resp := req.Response()
			if resp.Succeeded() {
				log.Info("请求完成", "url", req.URL, "statusCode", resp.StatusCode)
			} else {
				log.Warn("请求失败", "url", req.URL, "errorCode", int(resp.ErrorCode),
					"error", resp.ErrorMessage)
			}
		}
		reqs = append(reqs, req)
	}

	log.Info("开始执行批次", "requests", len(reqs), "parallel", m.ParallelLimit())
	start := time.Now()
	for _, req := range reqs {
		m.AddRequest(req)
	}
	m.WaitForAllRequests()

	summary := &model.RunSummary{
		RunID:     model.RunID(runID),
		Total:     len(reqs),
		ElapsedMS: float64(time.Since(start).Microseconds()) / 1e3,
		Results:   make([]model.RequestResult, 0, len(reqs)),
	}
	for i, req := range reqs {
		res := resultOf(b.Requests[i].Name, req, completed[req.ID])
		res.Rule = string(matched[req.ID])
		if res.Completed && res.ErrorCode == int(engine.CodeOK) {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		summary.Results = append(summary.Results, res)
	}
	stats := ruleEngine.Stats()
	log.Info("批次执行结束", "succeeded", summary.Succeeded, "failed", summary.Failed,
		"ruleMatched", stats.Matched, "elapsedMS", summary.ElapsedMS)
	return summary, nil
}

func resultOf(name string, req *traffic.Request, completed bool) model.RequestResult {
	resp := req.Response()
	res := model.RequestResult{
		Name:         name,
		RequestID:    req.ID,
		Completed:    completed,
		Method:       req.Method,
		URL:          req.URL,
		StatusCode:   resp.StatusCode,
		ErrorCode:    int(resp.ErrorCode),
		ErrorMessage: resp.ErrorMessage,
		Hops:         len(resp.Headers),
		BodySize:     len(resp.Content),
	}
	if !completed && res.ErrorMessage == "" {
		res.ErrorMessage = "request did not complete"
	}
	if secs, ok := req.Transfer().Info(engine.InfoTotalTime).(float64); ok {
		res.TotalTimeMS = secs * 1000
	}
	return res
}
